package pipeline

import (
	"fmt"

	"github.com/sswcorp/flowcore/pkg/event"
)

// Predicate evaluates a boolean condition against an event, used by
// filters and junction branches.
type Predicate func(ev *event.Event) bool

// FilterNode forwards ev downstream only if Predicate matches;
// otherwise it absorbs the event and acks it PROCESSED immediately,
// since a dropped event still needs its pending ack resolved.
type FilterNode struct {
	Base
	Predicate Predicate
}

// NewFilterNode builds a ready-to-use filter node around pred.
func NewFilterNode(pred Predicate) *FilterNode {
	return &FilterNode{Predicate: pred}
}

func (n *FilterNode) Init(cfg Config) error { return nil }
func (n *FilterNode) Deinit() error         { return nil }

func (n *FilterNode) Queue(ev *event.Event, po event.PathOptions) error {
	matched := n.Predicate(ev)
	if po.Matched != nil {
		*po.Matched = matched
	}
	if matched {
		return n.forward(ev, po)
	}
	ev.Ack(po, event.Processed)
	return nil
}

func (n *FilterNode) Clone() Node {
	return &FilterNode{Base: n.Base, Predicate: n.Predicate}
}

// RewriteFunc mutates a writable event view in place.
type RewriteFunc func(ev *event.Event) error

// RewriteNode calls MakeWritable and applies RewriteFunc, then forwards
// the (possibly cloned) writable view downstream.
type RewriteNode struct {
	Base
	Rewrite RewriteFunc
}

// NewRewriteNode builds a ready-to-use rewrite node around fn.
func NewRewriteNode(fn RewriteFunc) *RewriteNode {
	return &RewriteNode{Rewrite: fn}
}

func (n *RewriteNode) Init(cfg Config) error { return nil }
func (n *RewriteNode) Deinit() error         { return nil }

func (n *RewriteNode) Queue(ev *event.Event, po event.PathOptions) error {
	w := ev.MakeWritable()
	if err := n.Rewrite(w); err != nil {
		w.Ack(po, event.Aborted)
		return fmt.Errorf("pipeline: rewrite at %s:%d: %w", n.Location().File, n.Location().Line, err)
	}
	return n.forward(w, po)
}

func (n *RewriteNode) Clone() Node {
	return &RewriteNode{Base: n.Base, Rewrite: n.Rewrite}
}

// ParseFunc attempts to parse additional fields out of ev, reporting
// whether it recognized the input.
type ParseFunc func(ev *event.Event) (ok bool, err error)

// ParserNode runs ParseFunc against a writable view of ev. On success
// (or on failure with ForwardOnFailure set) it forwards the event;
// otherwise it drops the event, acking PROCESSED.
type ParserNode struct {
	Base
	Parse            ParseFunc
	ForwardOnFailure bool
}

// NewParserNode builds a ready-to-use parser node around fn.
func NewParserNode(fn ParseFunc, forwardOnFailure bool) *ParserNode {
	return &ParserNode{Parse: fn, ForwardOnFailure: forwardOnFailure}
}

func (n *ParserNode) Init(cfg Config) error { return nil }
func (n *ParserNode) Deinit() error         { return nil }

func (n *ParserNode) Queue(ev *event.Event, po event.PathOptions) error {
	w := ev.MakeWritable()
	ok, err := n.Parse(w)
	if err != nil {
		return fmt.Errorf("pipeline: parser at %s:%d: %w", n.Location().File, n.Location().Line, err)
	}
	if ok || n.ForwardOnFailure {
		return n.forward(w, po)
	}
	w.Ack(po, event.Processed)
	return nil
}

func (n *ParserNode) Clone() Node {
	return &ParserNode{Base: n.Base, Parse: n.Parse, ForwardOnFailure: n.ForwardOnFailure}
}
