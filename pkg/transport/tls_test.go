package transport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func selfSignedCert(t *testing.T) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "127.0.0.1"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

func TestTLSLayerHandshakeAndRoundTrip(t *testing.T) {
	cert := selfSignedCert(t)
	client, server := loopbackPair(t)
	defer client.Close()

	serverDone := make(chan error, 1)
	go func() {
		layer := NewTLSServerLayer(NewStreamLayer(server), &tls.Config{Certificates: []tls.Certificate{cert}})
		if err := layer.Handshake(); err != nil {
			serverDone <- err
			return
		}
		buf := make([]byte, 5)
		n, _, err := layer.Read(buf)
		if err != nil {
			serverDone <- err
			return
		}
		if string(buf[:n]) != "hello" {
			serverDone <- assertErr("unexpected payload")
			return
		}
		_, _, err = layer.Write([]byte("world"))
		serverDone <- err
	}()

	clientConn := tls.Client(client, &tls.Config{InsecureSkipVerify: true})
	require.NoError(t, clientConn.Handshake())
	_, err := clientConn.Write([]byte("hello"))
	require.NoError(t, err)

	reply := make([]byte, 5)
	_, err = clientConn.Read(reply)
	require.NoError(t, err)
	assert.Equal(t, "world", string(reply))

	require.NoError(t, <-serverDone)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
