package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sswcorp/flowcore/pkg/event"
	"github.com/sswcorp/flowcore/pkg/handle"
	"github.com/sswcorp/flowcore/pkg/value"
)

func newSized(t *testing.T, text string) *event.Event {
	t.Helper()
	r := handle.NewRegistry()
	tr := event.NewTagRegistry()
	ev := event.NewEmpty(r, tr)
	require.NoError(t, ev.SetValue(handle.HMessage, value.NewString(text)))
	return ev
}

func TestSegmentFIFOOrder(t *testing.T) {
	var s segment
	a, b, c := newSized(t, "a"), newSized(t, "b"), newSized(t, "c")
	s.pushTail(a, event.PathOptions{})
	s.pushTail(b, event.PathOptions{})
	s.pushTail(c, event.PathOptions{})

	assert.Equal(t, 3, s.len())
	assert.Same(t, a, s.popHead().ev)
	assert.Same(t, b, s.popHead().ev)
	assert.Same(t, c, s.popHead().ev)
	assert.Nil(t, s.popHead())
	assert.Equal(t, 0, s.len())
}

func TestSegmentLinkHeadPrepends(t *testing.T) {
	var s segment
	a, b := newSized(t, "a"), newSized(t, "b")
	s.pushTail(a, event.PathOptions{})
	n := &node{ev: b}
	s.linkHead(n)

	assert.Same(t, b, s.popHead().ev)
	assert.Same(t, a, s.popHead().ev)
}

func TestSegmentPopTailRemovesNewest(t *testing.T) {
	var s segment
	a, b, c := newSized(t, "a"), newSized(t, "b"), newSized(t, "c")
	s.pushTail(a, event.PathOptions{})
	s.pushTail(b, event.PathOptions{})
	s.pushTail(c, event.PathOptions{})

	assert.Same(t, c, s.popTail().ev)
	assert.Equal(t, 2, s.len())
	assert.Same(t, a, s.popHead().ev)
	assert.Same(t, b, s.popHead().ev)
}

func TestSegmentMemoryBytesTracksPushAndPop(t *testing.T) {
	var s segment
	ev := newSized(t, "payload")
	s.pushTail(ev, event.PathOptions{})
	assert.True(t, s.memoryBytes() > 0)
	s.popHead()
	assert.Equal(t, int64(0), s.memoryBytes())
}
