package protocol

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sswcorp/flowcore/pkg/event"
	"github.com/sswcorp/flowcore/pkg/handle"
	"github.com/sswcorp/flowcore/pkg/transport"
)

func TestConnRunServesTextFrames(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	acceptedCh := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		acceptedCh <- c
	}()
	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()
	server := <-acceptedCh
	defer server.Close()

	_, err = client.Write([]byte("<34>Oct 11 22:14:15 host1 app: first\n<35>Oct 11 22:14:16 host1 app: second\n"))
	require.NoError(t, err)
	client.Close()

	registry := handle.NewRegistry()
	tagRegistry := event.NewTagRegistry()
	conn := NewConn(transport.NewStreamLayer(server), nil, registry, tagRegistry)

	var got []string
	err = conn.Run(func(ev *event.Event) error {
		v, _ := ev.GetValue(handle.HMessage)
		got = append(got, v.AsString())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, got)
	assert.Equal(t, StateClosed, conn.State())
}

func TestConnRunServesOctetCountedFrames(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	acceptedCh := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		acceptedCh <- c
	}()
	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()
	server := <-acceptedCh
	defer server.Close()

	msg := "<34>Oct 11 22:14:15 host1 app: framed"
	frame := []byte(strconvItoa(len(msg)) + " " + msg)
	_, err = client.Write(frame)
	require.NoError(t, err)
	client.Close()

	registry := handle.NewRegistry()
	tagRegistry := event.NewTagRegistry()
	conn := NewConn(transport.NewStreamLayer(server), nil, registry, tagRegistry)

	var got []string
	err = conn.Run(func(ev *event.Event) error {
		v, _ := ev.GetValue(handle.HMessage)
		got = append(got, v.AsString())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"framed"}, got)
}

func strconvItoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func TestConnRunErrorsOnRejectedLeadByte(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	acceptedCh := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		acceptedCh <- c
	}()
	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()
	server := <-acceptedCh
	defer server.Close()

	_, err = client.Write([]byte{0x01, 0x02, 0x03})
	require.NoError(t, err)

	registry := handle.NewRegistry()
	tagRegistry := event.NewTagRegistry()
	conn := NewConn(transport.NewStreamLayer(server), nil, registry, tagRegistry)
	conn.detectTimeout = 200 * time.Millisecond

	err = conn.Run(func(ev *event.Event) error { return nil })
	assert.Error(t, err)
	assert.Equal(t, StateError, conn.State())
}
