package protocol

import (
	"fmt"
	"unicode"

	"github.com/sswcorp/flowcore/pkg/transport"
)

// detectWindow is the maximum number of bytes the decision table peeks
// at via read_ahead.
const detectWindow = 16

// Decision is the outcome of Detect: the next state to transition to,
// plus a human-readable reason for the choice.
type Decision struct {
	Next   State
	Reason string
}

// Detect peeks up to detectWindow bytes from layer without consuming
// them and applies an ordered decision table. The caller
// re-peeks (and, on a framed/text verdict, re-reads non-destructively
// via its own framing reader) since Detect never forwards the peek.
func Detect(layer transport.Layer) (Decision, error) {
	buf := make([]byte, detectWindow)
	n, _, err := layer.ReadAhead(buf, false)
	if err != nil && n == 0 {
		return Decision{Next: StateError, Reason: err.Error()}, err
	}
	buf = buf[:n]
	if n == 0 {
		return Decision{Next: StateError, Reason: "no bytes available to detect"}, nil
	}

	b0 := buf[0]
	switch {
	case b0 == 0x16 && looksLikeClientHello(buf):
		return Decision{Next: StateTLSHandshake, Reason: "TLS ClientHello record header"}, nil
	case b0 == 0x15:
		return Decision{Next: StateError, Reason: fmt.Sprintf("TLS alert byte 0x15, level=%d desc=%d", peekByte(buf, 5), peekByte(buf, 6))}, nil
	case b0 >= '0' && b0 <= '9':
		return Decision{Next: StateFramed, Reason: "leading digit: octet-counted framing"}, nil
	case b0 == '<':
		return Decision{Next: StateText, Reason: "leading '<': non-transparent framed syslog text"}, nil
	case isRejectByte(b0):
		return Decision{Next: StateError, Reason: "non-printable, non-whitespace lead byte"}, nil
	default:
		return Decision{Next: StateText, Reason: "default to best-effort TEXT"}, nil
	}
}

// looksLikeClientHello checks the record header: byte[0]==0x16 (already
// known true by the caller), handshake type byte[5]==0x01, and a sane
// 24-bit handshake length at bytes[6:9] that is at most 4 more than the
// TLS record's own declared length at bytes[3:5]. With fewer than 9
// bytes available, the 0x16 lead byte alone is accepted.
func looksLikeClientHello(buf []byte) bool {
	if len(buf) < 9 {
		return len(buf) >= 1 && buf[0] == 0x16
	}
	recordLen := int(buf[3])<<8 | int(buf[4])
	handshakeType := buf[5]
	handshakeLen := int(buf[6])<<16 | int(buf[7])<<8 | int(buf[8])
	return handshakeType == 0x01 && handshakeLen <= recordLen+4
}

func peekByte(buf []byte, idx int) byte {
	if idx < len(buf) {
		return buf[idx]
	}
	return 0
}

// isRejectByte reports whether b is neither whitespace nor printable
// when read as a Latin-1 code point (unicode.IsPrint), so bytes such as
// 0xC3 are accepted.
func isRejectByte(b byte) bool {
	if b == ' ' || b == '\t' || b == '\r' || b == '\n' {
		return false
	}
	return !unicode.IsPrint(rune(b))
}
