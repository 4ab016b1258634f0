package transport

import "time"

// Stack is a transport stack with one active layer at a time; detection
// above it can Swap the active layer (e.g. raw stream -> TLS once a
// ClientHello is recognized) without the caller needing to know the
// concrete type underneath.
type Stack struct {
	active Layer
}

// NewStack creates a stack with initial as its first active layer
// (typically a StreamLayer or DatagramLayer fresh off net.Listener's
// Accept).
func NewStack(initial Layer) *Stack {
	return &Stack{active: initial}
}

// Active returns the currently active layer.
func (s *Stack) Active() Layer { return s.active }

// Swap replaces the active layer, e.g. promoting a StreamLayer to a
// TLSLayer wrapping the same underlying connection, or a raw layer to
// a ProxyProtoLayer wrapping it.
func (s *Stack) Swap(next Layer) { s.active = next }

func (s *Stack) Read(buf []byte) (int, Cond, error) { return s.active.Read(buf) }

func (s *Stack) Write(buf []byte) (int, Cond, error) { return s.active.Write(buf) }

func (s *Stack) ReadAhead(buf []byte, forward bool) (int, bool, error) {
	return s.active.ReadAhead(buf, forward)
}

func (s *Stack) PollPrepare(timeout time.Duration) (Action, error) {
	return s.active.PollPrepare(timeout)
}

func (s *Stack) Close() error { return s.active.Close() }

var _ Layer = (*StreamLayer)(nil)
var _ Layer = (*DatagramLayer)(nil)
var _ Layer = (*TLSLayer)(nil)
var _ Layer = (*ProxyProtoLayer)(nil)
var _ Layer = (*Stack)(nil)
