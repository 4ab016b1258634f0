package pipeline

import (
	"github.com/sswcorp/flowcore/pkg/event"
)

// ForkNode fans one event out to every branch. For each branch it calls
// CloneCow (so the branches' acks aggregate back to the original),
// queues the clone on that branch, then releases its own pending-ack
// slot: the original is never forwarded anywhere itself, only its
// clones are.
type ForkNode struct {
	Base
	Branches []Node
}

// NewForkNode builds a fork node fanning out to branches.
func NewForkNode(branches ...Node) *ForkNode {
	return &ForkNode{Branches: branches}
}

func (n *ForkNode) Init(cfg Config) error { return nil }
func (n *ForkNode) Deinit() error         { return nil }

func (n *ForkNode) Queue(ev *event.Event, po event.PathOptions) error {
	var firstErr error
	for _, branch := range n.Branches {
		clone := ev.CloneCow(po)
		if err := branch.Queue(clone, po); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	ev.Ack(po, event.Processed)
	return firstErr
}

func (n *ForkNode) Clone() Node {
	branches := make([]Node, len(n.Branches))
	for i, b := range n.Branches {
		branches[i] = b.Clone()
	}
	return &ForkNode{Base: n.Base, Branches: branches}
}

// JunctionBranch pairs a predicate with the node that handles matching events.
type JunctionBranch struct {
	Predicate Predicate
	Node      Node
}

// JunctionNode evaluates branches in declaration order; the first whose
// predicate matches consumes the event. If none match, Fallback (if
// set) consumes it. With FlagFinal, an unmatched, fallback-less event
// is absorbed (acked) rather than passed through to the junction's own
// next hop.
type JunctionNode struct {
	Base
	Branches []JunctionBranch
	Fallback Node
}

// NewJunctionNode builds a junction node over branches with an optional
// fallback.
func NewJunctionNode(fallback Node, branches ...JunctionBranch) *JunctionNode {
	return &JunctionNode{Branches: branches, Fallback: fallback}
}

func (n *JunctionNode) Init(cfg Config) error { return nil }
func (n *JunctionNode) Deinit() error         { return nil }

func (n *JunctionNode) Queue(ev *event.Event, po event.PathOptions) error {
	for _, b := range n.Branches {
		if b.Predicate(ev) {
			if po.Matched != nil {
				*po.Matched = true
			}
			return b.Node.Queue(ev, po)
		}
	}
	if po.Matched != nil {
		*po.Matched = false
	}
	if n.Fallback != nil {
		return n.Fallback.Queue(ev, po)
	}
	if n.Flags()&FlagFinal != 0 {
		ev.Ack(po, event.Processed)
		return nil
	}
	return n.forward(ev, po)
}

func (n *JunctionNode) Clone() Node {
	branches := make([]JunctionBranch, len(n.Branches))
	for i, b := range n.Branches {
		branches[i] = JunctionBranch{Predicate: b.Predicate, Node: b.Node.Clone()}
	}
	var fb Node
	if n.Fallback != nil {
		fb = n.Fallback.Clone()
	}
	return &JunctionNode{Base: n.Base, Branches: branches, Fallback: fb}
}
