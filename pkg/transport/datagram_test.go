package transport

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatagramLayerReadReturnsWholePacketThenReplies(t *testing.T) {
	serverConn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer serverConn.Close()

	clientConn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer clientConn.Close()

	_, err = clientConn.WriteTo([]byte("ping"), serverConn.LocalAddr())
	require.NoError(t, err)

	layer := NewDatagramLayer(serverConn)
	buf := make([]byte, 16)
	n, cond, err := layer.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, CondNormal, cond)
	assert.Equal(t, "ping", string(buf[:n]))
	assert.Equal(t, clientConn.LocalAddr().String(), layer.LastPeer().String())

	_, _, err = layer.Write([]byte("pong"))
	require.NoError(t, err)

	reply := make([]byte, 16)
	n2, _, err := clientConn.ReadFrom(reply)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(reply[:n2]))
}
