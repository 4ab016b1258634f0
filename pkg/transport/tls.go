package transport

import (
	"crypto/tls"
	"time"
)

// TLSLayer wraps a StreamLayer's connection in TLS once the detection
// layer above has recognized a ClientHello and transitioned to the
// handshake state. No pack dependency offers an alternative to
// crypto/tls for this: it is the standard, and only, way to terminate
// TLS in Go, so this is the one layer that legitimately stays on the
// standard library rather than a third-party package.
type TLSLayer struct {
	conn       *tls.Conn
	peek       peekBuffer
	handshaken bool
}

// NewTLSServerLayer wraps the raw connection owned by under in a server-
// side TLS connection using cfg. The handshake is not performed until
// Handshake is called (or lazily on first Read/Write), matching
// tls.Conn's own deferred-handshake behavior.
func NewTLSServerLayer(under *StreamLayer, cfg *tls.Config) *TLSLayer {
	return &TLSLayer{conn: tls.Server(under.Conn(), cfg)}
}

// Handshake drives the TLS handshake to completion (or failure). The
// detection state machine calls this explicitly while in
// TLS_HANDSHAKE state before re-entering DETECT on the decrypted
// stream.
func (l *TLSLayer) Handshake() error {
	err := l.conn.Handshake()
	if err == nil {
		l.handshaken = true
	}
	return err
}

func (l *TLSLayer) Read(buf []byte) (int, Cond, error) {
	n, err := l.peek.read(l.conn, buf)
	return classifyReadResult(n, err)
}

func (l *TLSLayer) Write(buf []byte) (int, Cond, error) {
	n, err := l.conn.Write(buf)
	return classifyWriteResult(n, err)
}

func (l *TLSLayer) ReadAhead(buf []byte, forward bool) (int, bool, error) {
	return l.peek.peek(l.conn, buf, forward)
}

func (l *TLSLayer) PollPrepare(timeout time.Duration) (Action, error) {
	if len(l.peek.staged) > 0 {
		return ActionForceScheduleFetch, nil
	}
	if !l.handshaken {
		return ActionForceScheduleFetch, nil
	}
	if timeout > 0 {
		if err := l.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return ActionPollIO, err
		}
	}
	return ActionPollIO, nil
}

func (l *TLSLayer) Close() error { return l.conn.Close() }

// ConnectionState exposes the negotiated TLS parameters. Nothing in the
// module calls it.
func (l *TLSLayer) ConnectionState() tls.ConnectionState { return l.conn.ConnectionState() }
