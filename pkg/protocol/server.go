package protocol

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"io"
	"time"

	"github.com/sswcorp/flowcore/pkg/event"
	"github.com/sswcorp/flowcore/pkg/handle"
	"github.com/sswcorp/flowcore/pkg/transport"
)

// Conn drives one accepted connection through the detection/framing
// state machine, handing decoded events to a caller-supplied sink. The
// TCP source runs one Conn on each accepted connection's goroutine.
type Conn struct {
	stack       *transport.Stack
	tlsConfig   *tls.Config
	registry    *handle.Registry
	tagRegistry *event.TagRegistry

	state         State
	detectTimeout time.Duration

	proxy *transport.ProxyProtoLayer
}

// NewConn wraps an accepted transport layer (already past any
// HAProxy proxy-protocol preamble) ready to begin DETECT.
func NewConn(layer transport.Layer, tlsConfig *tls.Config, registry *handle.Registry, tagRegistry *event.TagRegistry) *Conn {
	return &Conn{
		stack:         transport.NewStack(layer),
		tlsConfig:     tlsConfig,
		registry:      registry,
		tagRegistry:   tagRegistry,
		state:         StateDetect,
		detectTimeout: 10 * time.Second,
	}
}

// State returns the connection's current state.
func (c *Conn) State() State { return c.state }

// Run drives the connection to FRAMED or TEXT state, performing TLS
// detection/handshake along the way, then hands off to serveFrames.
// Any proxy-protocol preamble must already have been consumed by the
// caller. It returns when the connection reaches CLOSED or ERROR.
func (c *Conn) Run(emit func(*event.Event) error) error {
	for {
		switch c.state {
		case StateDetect:
			decision, err := Detect(c.stack.Active())
			if err != nil {
				c.state = StateError
				return fmt.Errorf("protocol: detect: %w", err)
			}
			c.state = decision.Next

		case StateTLSHandshake:
			stream, ok := c.stack.Active().(*transport.StreamLayer)
			if !ok {
				c.state = StateError
				return fmt.Errorf("protocol: TLS handshake requested on non-stream layer")
			}
			if c.tlsConfig == nil {
				c.state = StateError
				return fmt.Errorf("protocol: TLS ClientHello seen but no TLS config configured")
			}
			tlsLayer := transport.NewTLSServerLayer(stream, c.tlsConfig)
			if err := tlsLayer.Handshake(); err != nil {
				c.state = StateError
				return fmt.Errorf("protocol: TLS handshake: %w", err)
			}
			c.stack.Swap(tlsLayer)
			c.state = StateDetect // re-enter DETECT on the decrypted stream

		case StateFramed, StateText:
			return c.serveFrames(emit)

		case StateError:
			return fmt.Errorf("protocol: connection closed in ERROR state")

		case StateClosed:
			return nil
		}
	}
}

// connReader adapts transport.Layer's Read to io.Reader for bufio,
// translating CondWouldBlock into a retry-after-deadline loop so
// bufio.Reader's blocking contract is satisfied atop the transport
// layer's would-block signaling.
type connReader struct {
	layer   transport.Layer
	timeout time.Duration
}

func (r connReader) Read(buf []byte) (int, error) {
	for {
		if _, err := r.layer.PollPrepare(r.timeout); err != nil {
			return 0, err
		}
		n, cond, err := r.layer.Read(buf)
		if err != nil {
			return n, err
		}
		switch cond {
		case transport.CondNormal:
			if n > 0 {
				return n, nil
			}
		case transport.CondWouldBlock:
			continue
		}
	}
}

func (c *Conn) serveFrames(emit func(*event.Event) error) error {
	proto := event.ProtoSyslogFramed
	if c.state == StateText {
		proto = event.ProtoSyslogText
	}

	r := bufio.NewReader(connReader{layer: c.stack.Active(), timeout: c.detectTimeout})
	for {
		var (
			raw []byte
			err error
		)
		if c.state == StateFramed {
			raw, err = ReadOctetCounted(r)
		} else {
			raw, err = ReadNonTransparentFramed(r)
		}
		if err != nil {
			if err == io.EOF {
				c.state = StateClosed
				return nil
			}
			c.state = StateError
			return fmt.Errorf("protocol: frame read: %w", err)
		}

		ev, perr := ParseSyslog(raw, c.registry, c.tagRegistry, proto)
		if perr != nil {
			c.state = StateError
			return fmt.Errorf("protocol: parse: %w", perr)
		}
		if err := emit(ev); err != nil {
			return err
		}
	}
}
