// Package pipeline implements the uniform pipeline node contract: every
// stage — filter, rewrite, parser, fork, junction — implements the
// same init/deinit/queue/clone shape and composes into a DAG.
//
// The shape is grounded on the compiled-step pipeline of
// internal/processing/log_processor.go: a StepProcessor interface
// with Process(ctx, entry) plus a CompiledStep wrapper, generalized
// here from a single linear chain into a DAG with forking and
// first-match junctions, and carrying the traversal forward itself
// (queue) rather than returning a value for the caller to forward.
package pipeline

import (
	"fmt"
	"sync"

	"github.com/sswcorp/flowcore/pkg/event"
)

// Flags is the small per-node flag word controlling traversal behavior.
type Flags uint32

const (
	// FlagBreakpoint marks a node as a debug breakpoint. No node in this
	// package reads it.
	FlagBreakpoint Flags = 1 << iota
	// FlagMatchAck is not read by any node in this package: FilterNode
	// acks every filtered-out event with Processed whether or not it is
	// set.
	FlagMatchAck
	// FlagFallback marks a catch-all node. JunctionNode takes its
	// catch-all from its Fallback field and does not read this flag.
	FlagFallback
	// FlagFinal makes a junction absorb the event regardless of whether
	// any branch predicate matched.
	FlagFinal
)

// Location is the node's source position, carried for diagnostics.
type Location struct {
	File string
	Line int
}

// Config is a node's raw, not-yet-validated configuration, mirroring
// ProcessingStep.Config map[string]interface{}.
type Config map[string]interface{}

// Node is the uniform capability every pipeline element implements.
// Queue takes ownership of one reference to ev: it must either forward
// ev (or a clone of it) exactly once per live branch, or ack and drop
// it. A Node must not retain ev past the Queue call that is not still
// owned by a branch it created.
type Node interface {
	Init(cfg Config) error
	Deinit() error
	Queue(ev *event.Event, po event.PathOptions) error
	Clone() Node
	Flags() Flags
	Location() Location
}

// Base is embedded by concrete node implementations to provide the
// common next-hop linkage, flag word, and source location bookkeeping
// every node needs, matching CompiledStep's composition (a plain
// struct wrapping the variable part).
type Base struct {
	mu    sync.Mutex
	next  Node
	flags Flags
	loc   Location
}

// SetNext wires this node's single downstream hop.
func (b *Base) SetNext(n Node) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next = n
}

// Next returns the downstream hop, or nil at the end of a chain.
func (b *Base) Next() Node {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.next
}

// Flags returns the node's flag word.
func (b *Base) Flags() Flags { return b.flags }

// SetFlags overwrites the node's flag word (set at compile time).
func (b *Base) SetFlags(f Flags) { b.flags = f }

// Location returns the node's source position.
func (b *Base) Location() Location { return b.loc }

// SetLocation records the node's source position (set at compile time).
func (b *Base) SetLocation(loc Location) { b.loc = loc }

// forward hands ev to the next hop if one is wired, otherwise acks it
// with Processed (reaching the end of a chain with nothing further to
// do is success, not an error).
func (b *Base) forward(ev *event.Event, po event.PathOptions) error {
	next := b.Next()
	if next == nil {
		ev.Ack(po, event.Processed)
		return nil
	}
	return next.Queue(ev, po)
}

// Factory builds a Node from its raw configuration.
type Factory func(cfg Config) (Node, error)

// Registry maps node type names ("filter", "rewrite", "kafka-parser",
// ...) to factories, exactly like StepProcessor's dispatch-by-Type
// string in compilePipeline.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty node-type registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory, 16)}
}

// Register adds a factory under name. Re-registering the same name
// overwrites the previous factory (used by plugins/tests).
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Build instantiates and initializes a node of the given type.
func (r *Registry) Build(nodeType string, cfg Config) (Node, error) {
	r.mu.RLock()
	f, ok := r.factories[nodeType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("pipeline: no node type registered for %q", nodeType)
	}
	n, err := f(cfg)
	if err != nil {
		return nil, fmt.Errorf("pipeline: building node %q: %w", nodeType, err)
	}
	if err := n.Init(cfg); err != nil {
		return nil, fmt.Errorf("pipeline: initializing node %q: %w", nodeType, err)
	}
	return n, nil
}
