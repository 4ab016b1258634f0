package transport

import (
	"errors"
	"net"
	"time"
)

// StreamLayer is the bottom-most transport layer for connection-oriented
// sockets (TCP, Unix stream), grounded on contextReader's wrap-a-net.Conn
// shape (pkg/docker/context_reader.go), generalized from "check ctx
// before blocking" to "stage bytes for read_ahead before consuming".
type StreamLayer struct {
	conn net.Conn
	peek peekBuffer
}

// NewStreamLayer wraps an already-accepted or dialed net.Conn.
func NewStreamLayer(conn net.Conn) *StreamLayer {
	return &StreamLayer{conn: conn}
}

func (l *StreamLayer) Read(buf []byte) (int, Cond, error) {
	n, err := l.peek.read(l.conn, buf)
	return classifyReadResult(n, err)
}

func (l *StreamLayer) Write(buf []byte) (int, Cond, error) {
	n, err := l.conn.Write(buf)
	return classifyWriteResult(n, err)
}

func (l *StreamLayer) ReadAhead(buf []byte, forward bool) (int, bool, error) {
	return l.peek.peek(l.conn, buf, forward)
}

func (l *StreamLayer) PollPrepare(timeout time.Duration) (Action, error) {
	if len(l.peek.staged) > 0 {
		return ActionForceScheduleFetch, nil
	}
	if timeout > 0 {
		if err := l.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return ActionPollIO, err
		}
	}
	return ActionPollIO, nil
}

func (l *StreamLayer) Close() error { return l.conn.Close() }

// Conn exposes the underlying net.Conn, used by NewTLSServerLayer to
// re-wrap it in TLS.
func (l *StreamLayer) Conn() net.Conn { return l.conn }

func classifyReadResult(n int, err error) (int, Cond, error) {
	if err == nil {
		return n, CondNormal, nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return n, CondWouldBlock, nil
	}
	return n, CondClosed, err
}

func classifyWriteResult(n int, err error) (int, Cond, error) {
	if err == nil {
		return n, CondNormal, nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return n, CondWouldBlock, nil
	}
	return n, CondClosed, err
}
