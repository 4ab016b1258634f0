package protocol

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

// ReadOctetCounted reads one "DIGITS ' ' PAYLOAD{len}" frame: a decimal
// length, a single space, then exactly that many payload bytes. It
// returns io.EOF if r is exhausted before any digit is read.
func ReadOctetCounted(r *bufio.Reader) ([]byte, error) {
	lenBuf := make([]byte, 0, 10)
	for {
		b, err := r.ReadByte()
		if err != nil {
			if len(lenBuf) == 0 {
				return nil, err
			}
			return nil, fmt.Errorf("protocol: octet-counted frame truncated in length: %w", err)
		}
		if b == ' ' {
			break
		}
		if b < '0' || b > '9' {
			return nil, fmt.Errorf("protocol: octet-counted frame: unexpected byte %q in length", b)
		}
		lenBuf = append(lenBuf, b)
		if len(lenBuf) > 10 {
			return nil, fmt.Errorf("protocol: octet-counted frame: length field too long")
		}
	}
	length := 0
	for _, d := range lenBuf {
		length = length*10 + int(d-'0')
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("protocol: octet-counted frame: short payload: %w", err)
	}
	return payload, nil
}

// ReadNonTransparentFramed reads up to the next '\n', with a restart
// rule: if a '\n' is encountered but the bytes following it do not
// begin a new syslog header ('<' then at least one PRI digit), the
// newline is treated as embedded in structured data and the read
// continues, tolerating embedded newlines inside SD-PARAM values.
func ReadNonTransparentFramed(r *bufio.Reader) ([]byte, error) {
	var line []byte
	for {
		chunk, err := r.ReadBytes('\n')
		line = append(line, chunk...)
		if err != nil {
			if len(line) == 0 {
				return nil, err
			}
			return bytes.TrimRight(line, "\r\n"), nil
		}
		peeked, peekErr := r.Peek(2)
		if peekErr != nil || looksLikeNewMessageStart(peeked) {
			return bytes.TrimRight(line, "\r\n"), nil
		}
		// Not a new header: the newline was embedded, keep reading.
	}
}

func looksLikeNewMessageStart(peeked []byte) bool {
	if len(peeked) < 2 {
		return false
	}
	return peeked[0] == '<' && peeked[1] >= '0' && peeked[1] <= '9'
}
