// Package template implements a compiled format template engine:
// literal chunks and element references compiled once from template
// text, evaluated many times against an Event to produce a
// destination's wire-format string.
//
// The scratch-buffer pool is grounded on the sync.Pool use for
// per-algorithm compressor reuse in pkg/compression/http_compressor.go:
// the same "don't allocate per call" shape, applied to template
// evaluation's output buffer instead of a compressor.
package template

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/sswcorp/flowcore/pkg/event"
	"github.com/sswcorp/flowcore/pkg/handle"
	"github.com/sswcorp/flowcore/pkg/value"
)

// TimestampFormat selects the textual layout a DATE-family macro renders in.
type TimestampFormat int

const (
	FormatBSD TimestampFormat = iota
	FormatISO
	FormatFull
	FormatUnix
)

// TZScope selects which timezone a template's timestamps render in.
type TZScope int

const (
	// TZLocal renders in the engine process's local timezone.
	TZLocal TZScope = iota
	// TZSend renders using the timezone recorded on the event itself.
	TZSend
)

// EvalOptions carries the per-evaluation context a template needs
// beyond the event itself.
type EvalOptions struct {
	Zone          TZScope
	SeqNum        uint32
	ContextID     string
	PreferredType value.Type
	Format        TimestampFormat
	FracDigits    int // 0..6
	Escape        bool
}

// DefaultEvalOptions returns BSD-formatted, unescaped, send-zone options.
func DefaultEvalOptions() EvalOptions {
	return EvalOptions{Zone: TZSend, Format: FormatBSD}
}

type elemKind int

const (
	elemLiteral elemKind = iota
	elemMacro
	elemHandle
	elemMatch
)

type element struct {
	kind    elemKind
	literal string
	macro   string
	scope   event.TimestampKind
	h       handle.Handle
	matchID int
}

// Template is a compiled sequence of literal chunks and element
// references, ready for repeated Eval calls.
type Template struct {
	elems []element
}

var bufferPool = sync.Pool{
	New: func() interface{} { return new(bytes.Buffer) },
}

// AcquireBuffer returns an empty scratch buffer from the shared pool.
func AcquireBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// ReleaseBuffer returns buf to the shared pool.
func ReleaseBuffer(buf *bytes.Buffer) {
	bufferPool.Put(buf)
}

// Compile parses template text into a Template. `$NAME` and `${NAME}`
// reference a macro, a handle-registered field name, or (for an integer
// 0-255) a match capture; everything else is literal text. `$$`
// escapes a literal dollar sign.
func Compile(text string, registry *handle.Registry) (*Template, error) {
	t := &Template{}
	var lit strings.Builder

	flushLiteral := func() {
		if lit.Len() > 0 {
			t.elems = append(t.elems, element{kind: elemLiteral, literal: lit.String()})
			lit.Reset()
		}
	}

	i := 0
	for i < len(text) {
		c := text[i]
		if c != '$' {
			lit.WriteByte(c)
			i++
			continue
		}
		if i+1 < len(text) && text[i+1] == '$' {
			lit.WriteByte('$')
			i += 2
			continue
		}

		var name string
		if i+1 < len(text) && text[i+1] == '{' {
			end := strings.IndexByte(text[i+2:], '}')
			if end < 0 {
				return nil, fmt.Errorf("template: unterminated ${ at offset %d", i)
			}
			name = text[i+2 : i+2+end]
			i = i + 2 + end + 1
		} else {
			j := i + 1
			for j < len(text) && isNameByte(text[j]) {
				j++
			}
			if j == i+1 {
				return nil, fmt.Errorf("template: bare $ at offset %d", i)
			}
			name = text[i+1 : j]
			i = j
		}

		flushLiteral()
		el, err := resolveElement(name, registry)
		if err != nil {
			return nil, err
		}
		t.elems = append(t.elems, el)
	}
	flushLiteral()
	return t, nil
}

func isNameByte(c byte) bool {
	return c == '_' || c == '@' || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}

func resolveElement(name string, registry *handle.Registry) (element, error) {
	if idx, err := strconv.Atoi(name); err == nil && idx >= 0 && idx < 256 {
		return element{kind: elemMatch, matchID: idx}, nil
	}

	macroName, scope, hasScope := stripScopePrefix(name)
	if _, ok := macroTable[strings.ToUpper(macroName)]; ok {
		s := event.TSMessage
		if hasScope {
			s = scope
		}
		return element{kind: elemMacro, macro: strings.ToUpper(macroName), scope: s}, nil
	}

	return element{kind: elemHandle, h: registry.GetHandle(name)}, nil
}

// stripScopePrefix recognizes the R_/S_/C_/P_ timestamp-scope prefixes
// attached to every DATE-family macro.
func stripScopePrefix(name string) (bare string, scope event.TimestampKind, ok bool) {
	if len(name) < 3 || name[1] != '_' {
		return name, 0, false
	}
	switch name[0] {
	case 'R', 'r':
		return name[2:], event.TSReceived, true
	case 'S', 's':
		return name[2:], event.TSMessage, true
	case 'P', 'p':
		return name[2:], event.TSProcessed, true
	case 'C', 'c':
		return name[2:], event.TSReceived, true // "current time" macros use TSReceived as their scope clock
	default:
		return name, 0, false
	}
}

// Eval renders the template for ev into buf, appending (not resetting) buf's contents.
func (t *Template) Eval(ev *event.Event, eo EvalOptions, buf *bytes.Buffer) error {
	for _, el := range t.elems {
		switch el.kind {
		case elemLiteral:
			buf.WriteString(el.literal)
		case elemHandle:
			v, ok := ev.GetValue(el.h)
			if ok {
				writeValue(buf, v, eo)
			}
		case elemMatch:
			v, ok := ev.GetValue(handle.MatchHandle(el.matchID))
			if ok {
				writeValue(buf, v, eo)
			}
		case elemMacro:
			fn, ok := macroTable[el.macro]
			if !ok {
				return fmt.Errorf("template: unknown macro %q", el.macro)
			}
			s := fn(ev, eo, ev.Timestamp(el.scope))
			if eo.Escape {
				s = Escape(s)
			}
			buf.WriteString(s)
		}
	}
	return nil
}

// EvalString is a convenience wrapper around Eval using a pooled buffer.
func (t *Template) EvalString(ev *event.Event, eo EvalOptions) (string, error) {
	buf := AcquireBuffer()
	defer ReleaseBuffer(buf)
	if err := t.Eval(ev, eo, buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func writeValue(buf *bytes.Buffer, v value.Value, eo EvalOptions) {
	s := v.AsString()
	if eo.Escape {
		s = Escape(s)
	}
	buf.WriteString(s)
}

// Escape rewrites ', ", \, and control bytes to \NNN octal, an
// optional escape hook a template can opt into per-value.
func Escape(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\'' || c == '"' || c == '\\':
			fmt.Fprintf(&b, "\\%03o", c)
		case c < 0x20:
			fmt.Fprintf(&b, "\\%03o", c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
