package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sswcorp/flowcore/pkg/event"
	"github.com/sswcorp/flowcore/pkg/handle"
	"github.com/sswcorp/flowcore/pkg/value"
)

func newTestEvent(t *testing.T) (*handle.Registry, *event.Event) {
	t.Helper()
	r := handle.NewRegistry()
	tr := event.NewTagRegistry()
	return r, event.NewEmpty(r, tr)
}

func TestFilterNodeForwardsOnMatch(t *testing.T) {
	_, ev := newTestEvent(t)
	var forwarded bool
	sink := NewRewriteNode(func(e *event.Event) error { forwarded = true; return nil })
	f := NewFilterNode(func(e *event.Event) bool { return true })
	f.SetNext(sink)

	require.NoError(t, f.Queue(ev, event.DefaultPathOptions()))
	assert.True(t, forwarded)
}

func TestFilterNodeAbsorbsOnMismatch(t *testing.T) {
	_, ev := newTestEvent(t)
	called := 0
	ev.SetAckCallback(func(e *event.Event, outcome event.Outcome) { called++ }, nil)

	sink := NewRewriteNode(func(e *event.Event) error { t.Fatal("must not forward"); return nil })
	f := NewFilterNode(func(e *event.Event) bool { return false })
	f.SetNext(sink)

	po := event.DefaultPathOptions().WithAckNeeded(true)
	require.NoError(t, f.Queue(ev, po))
	assert.Equal(t, 1, called)
}

func TestRewriteNodeMutatesAndForwards(t *testing.T) {
	r, ev := newTestEvent(t)
	h := r.GetHandle("field")

	rw := NewRewriteNode(func(e *event.Event) error {
		return e.SetValue(h, value.NewString("rewritten"))
	})
	var seen string
	sink := NewRewriteNode(func(e *event.Event) error {
		v, _ := e.GetValue(h)
		seen = v.AsString()
		return nil
	})
	rw.SetNext(sink)

	require.NoError(t, rw.Queue(ev, event.DefaultPathOptions()))
	assert.Equal(t, "rewritten", seen)
}

func TestRewriteNodeErrorAbortsAndPropagates(t *testing.T) {
	_, ev := newTestEvent(t)
	var outcome event.Outcome
	ev.SetAckCallback(func(e *event.Event, o event.Outcome) { outcome = o }, nil)

	rw := NewRewriteNode(func(e *event.Event) error { return errors.New("boom") })

	po := event.DefaultPathOptions().WithAckNeeded(true)
	err := rw.Queue(ev, po)
	assert.Error(t, err)
	assert.Equal(t, event.Aborted, outcome)
}

func TestParserNodeDropsOnFailureByDefault(t *testing.T) {
	_, ev := newTestEvent(t)
	called := 0
	ev.SetAckCallback(func(e *event.Event, outcome event.Outcome) { called++ }, nil)

	p := NewParserNode(func(e *event.Event) (bool, error) { return false, nil }, false)
	p.SetNext(NewRewriteNode(func(e *event.Event) error { t.Fatal("must not forward"); return nil }))

	po := event.DefaultPathOptions().WithAckNeeded(true)
	require.NoError(t, p.Queue(ev, po))
	assert.Equal(t, 1, called)
}

func TestParserNodeForwardsOnFailureWhenConfigured(t *testing.T) {
	_, ev := newTestEvent(t)
	var forwarded bool
	p := NewParserNode(func(e *event.Event) (bool, error) { return false, nil }, true)
	p.SetNext(NewRewriteNode(func(e *event.Event) error { forwarded = true; return nil }))

	require.NoError(t, p.Queue(ev, event.DefaultPathOptions()))
	assert.True(t, forwarded)
}

func TestForkNodeFansOutAndAggregatesAck(t *testing.T) {
	_, ev := newTestEvent(t)
	called := 0
	var outcome event.Outcome
	ev.SetAckCallback(func(e *event.Event, o event.Outcome) { called++; outcome = o }, nil)

	var branchASeen, branchBSeen bool
	branchA := NewRewriteNode(func(e *event.Event) error {
		branchASeen = true
		e.Ack(event.DefaultPathOptions().WithAckNeeded(true), event.Processed)
		return nil
	})
	branchB := NewRewriteNode(func(e *event.Event) error {
		branchBSeen = true
		e.Ack(event.DefaultPathOptions().WithAckNeeded(true), event.Processed)
		return nil
	})
	fork := NewForkNode(branchA, branchB)

	po := event.DefaultPathOptions().WithAckNeeded(true)
	require.NoError(t, fork.Queue(ev, po))

	assert.True(t, branchASeen)
	assert.True(t, branchBSeen)
	assert.Equal(t, 1, called, "source callback must fire exactly once")
	assert.Equal(t, event.Processed, outcome)
}

func TestForkNodeBranchAbortIsStickyAtRoot(t *testing.T) {
	_, ev := newTestEvent(t)
	var outcome event.Outcome
	ev.SetAckCallback(func(e *event.Event, o event.Outcome) { outcome = o }, nil)

	branchA := NewRewriteNode(func(e *event.Event) error {
		e.Ack(event.DefaultPathOptions().WithAckNeeded(true), event.Aborted)
		return nil
	})
	branchB := NewRewriteNode(func(e *event.Event) error {
		e.Ack(event.DefaultPathOptions().WithAckNeeded(true), event.Processed)
		return nil
	})
	fork := NewForkNode(branchA, branchB)

	po := event.DefaultPathOptions().WithAckNeeded(true)
	require.NoError(t, fork.Queue(ev, po))
	assert.Equal(t, event.Aborted, outcome)
}

func TestJunctionNodeFirstMatchWins(t *testing.T) {
	_, ev := newTestEvent(t)
	var firstCalled, secondCalled bool
	first := JunctionBranch{
		Predicate: func(e *event.Event) bool { return true },
		Node:      NewRewriteNode(func(e *event.Event) error { firstCalled = true; return nil }),
	}
	second := JunctionBranch{
		Predicate: func(e *event.Event) bool { return true },
		Node:      NewRewriteNode(func(e *event.Event) error { secondCalled = true; return nil }),
	}
	j := NewJunctionNode(nil, first, second)

	require.NoError(t, j.Queue(ev, event.DefaultPathOptions()))
	assert.True(t, firstCalled)
	assert.False(t, secondCalled)
}

func TestJunctionNodeUsesFallbackWhenNoBranchMatches(t *testing.T) {
	_, ev := newTestEvent(t)
	var fallbackCalled bool
	branch := JunctionBranch{
		Predicate: func(e *event.Event) bool { return false },
		Node:      NewRewriteNode(func(e *event.Event) error { t.Fatal("must not run"); return nil }),
	}
	fallback := NewRewriteNode(func(e *event.Event) error { fallbackCalled = true; return nil })
	j := NewJunctionNode(fallback, branch)

	require.NoError(t, j.Queue(ev, event.DefaultPathOptions()))
	assert.True(t, fallbackCalled)
}

func TestJunctionNodeFinalAbsorbsUnmatchedWithNoFallback(t *testing.T) {
	_, ev := newTestEvent(t)
	called := 0
	ev.SetAckCallback(func(e *event.Event, o event.Outcome) { called++ }, nil)

	branch := JunctionBranch{Predicate: func(e *event.Event) bool { return false }, Node: nil}
	j := NewJunctionNode(nil, branch)
	j.SetFlags(FlagFinal)

	po := event.DefaultPathOptions().WithAckNeeded(true)
	require.NoError(t, j.Queue(ev, po))
	assert.Equal(t, 1, called)
}

func TestCompilePipelineWiresStepsInOrder(t *testing.T) {
	_, ev := newTestEvent(t)
	registry := NewRegistry()
	var order []string
	registry.Register("mark", func(cfg Config) (Node, error) {
		name, _ := cfg["name"].(string)
		return NewRewriteNode(func(e *event.Event) error {
			order = append(order, name)
			return nil
		}), nil
	})

	specs := []NodeSpec{
		{Name: "one", Type: "mark", Config: Config{"name": "one"}},
		{Name: "two", Type: "mark", Config: Config{"name": "two"}},
	}
	p, err := Compile("test", registry, specs)
	require.NoError(t, err)

	require.NoError(t, p.Queue(ev, event.DefaultPathOptions()))
	assert.Equal(t, []string{"one", "two"}, order)
}

func TestCompileUnknownNodeTypeFails(t *testing.T) {
	registry := NewRegistry()
	_, err := Compile("test", registry, []NodeSpec{{Type: "nonexistent"}})
	assert.Error(t, err)
}
