// Package protocol implements the auto-detecting server state machine
// sitting on top of a pkg/transport Stack: DETECT sniffs a handful of
// bytes to decide between TLS, octet-counted framing, or
// non-transparent (newline-terminated) syslog text, then hands decoded
// payloads to a parser that builds *event.Event values.
package protocol

import "fmt"

// State is one node of the per-connection detection/framing state
// machine.
type State int

const (
	StateDetect State = iota
	StateTLSHandshake
	StateFramed
	StateText
	StateError
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDetect:
		return "DETECT"
	case StateTLSHandshake:
		return "TLS_HANDSHAKE"
	case StateFramed:
		return "FRAMED"
	case StateText:
		return "TEXT"
	case StateError:
		return "ERROR"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("STATE(%d)", int(s))
	}
}
