package pipeline

import (
	"fmt"

	"github.com/sswcorp/flowcore/pkg/event"
)

// NodeSpec is one step in a pipeline's declarative definition, mirroring
// ProcessingStep (internal/processing/log_processor.go): a type name
// plus a free-form config map, compiled into a concrete Node by a
// Registry.
type NodeSpec struct {
	Name   string `yaml:"name"`
	Type   string `yaml:"type"`
	Config Config `yaml:"config"`
}

// Pipeline is a compiled, linear chain of nodes with a name, matching
// the compiled Pipeline/CompiledStep shape generalized to the
// DAG-capable Node contract (a step's Config may itself describe a fork
// or junction, so the chain here is linear at the top level but each
// node may internally fan out).
type Pipeline struct {
	Name  string
	head  Node
	nodes []Node
}

// Compile builds a Pipeline by instantiating and chaining specs in
// order via registry.
func Compile(name string, registry *Registry, specs []NodeSpec) (*Pipeline, error) {
	p := &Pipeline{Name: name}
	var prev Node
	for i, spec := range specs {
		n, err := registry.Build(spec.Type, spec.Config)
		if err != nil {
			return nil, fmt.Errorf("pipeline %q: step %d (%s): %w", name, i, spec.Name, err)
		}
		if b, ok := n.(interface{ SetLocation(Location) }); ok {
			b.SetLocation(Location{File: name, Line: i})
		}
		if prev != nil {
			if setter, ok := prev.(interface{ SetNext(Node) }); ok {
				setter.SetNext(n)
			}
		} else {
			p.head = n
		}
		p.nodes = append(p.nodes, n)
		prev = n
	}
	return p, nil
}

// Queue runs ev through the compiled chain starting at the first node.
// An empty pipeline simply acks the event PROCESSED.
func (p *Pipeline) Queue(ev *event.Event, po event.PathOptions) error {
	if p.head == nil {
		ev.Ack(po, event.Processed)
		return nil
	}
	return p.head.Queue(ev, po)
}

// Deinit calls Deinit on every compiled node, in reverse build order,
// matching typical teardown ordering (last-initialized, first-torn-down).
func (p *Pipeline) Deinit() error {
	var firstErr error
	for i := len(p.nodes) - 1; i >= 0; i-- {
		if err := p.nodes[i].Deinit(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Nodes returns the compiled node chain, in declaration order.
func (p *Pipeline) Nodes() []Node { return p.nodes }
