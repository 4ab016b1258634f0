package protocol

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sswcorp/flowcore/pkg/transport"
)

func pipeLayer(t *testing.T, data []byte) transport.Layer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	acceptedCh := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		acceptedCh <- c
	}()
	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	server := <-acceptedCh
	t.Cleanup(func() { server.Close() })

	if len(data) > 0 {
		_, err = client.Write(data)
		require.NoError(t, err)
	}
	return transport.NewStreamLayer(server)
}

func TestDetectOctetCountedDigit(t *testing.T) {
	layer := pipeLayer(t, []byte("42 <34>1 2026..."))
	d, err := Detect(layer)
	require.NoError(t, err)
	assert.Equal(t, StateFramed, d.Next)
}

func TestDetectNonTransparentSyslog(t *testing.T) {
	layer := pipeLayer(t, []byte("<34>Jan 1 00:00:00 host app: hi\n"))
	d, err := Detect(layer)
	require.NoError(t, err)
	assert.Equal(t, StateText, d.Next)
}

func TestDetectTLSClientHello(t *testing.T) {
	clientHello := []byte{
		0x16, 0x03, 0x01, 0x00, 0x05, // TLS record header, length=5
		0x01, 0x00, 0x00, 0x01, 0xff, // handshake type=1 (ClientHello), length=1
	}
	layer := pipeLayer(t, clientHello)
	d, err := Detect(layer)
	require.NoError(t, err)
	assert.Equal(t, StateTLSHandshake, d.Next)
}

func TestDetectTLSAlertIsError(t *testing.T) {
	layer := pipeLayer(t, []byte{0x15, 0x03, 0x01, 0x00, 0x02, 0x02, 0x28})
	d, err := Detect(layer)
	require.NoError(t, err)
	assert.Equal(t, StateError, d.Next)
}

func TestDetectRejectsNonPrintableLeadByte(t *testing.T) {
	layer := pipeLayer(t, []byte{0x01, 0x02, 0x03})
	d, err := Detect(layer)
	require.NoError(t, err)
	assert.Equal(t, StateError, d.Next)
}

func TestDetectDefaultsToTextForPrintableNonMatch(t *testing.T) {
	layer := pipeLayer(t, []byte("hello world, no framing markers"))
	d, err := Detect(layer)
	require.NoError(t, err)
	assert.Equal(t, StateText, d.Next)
}

func TestDetectDoesNotConsumeBytes(t *testing.T) {
	layer := pipeLayer(t, []byte("<34>rest"))
	_, err := Detect(layer)
	require.NoError(t, err)

	buf := make([]byte, 8)
	n, _, err := layer.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "<34>rest", string(buf[:n]))
}
