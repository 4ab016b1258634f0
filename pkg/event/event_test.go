package event

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sswcorp/flowcore/pkg/handle"
	"github.com/sswcorp/flowcore/pkg/value"
)

func newTestEvent() (*handle.Registry, *TagRegistry, *Event) {
	r := handle.NewRegistry()
	tr := NewTagRegistry()
	return r, tr, NewEmpty(r, tr)
}

func TestSetGetValueRoundTrip(t *testing.T) {
	r, _, e := newTestEvent()
	h := r.GetHandle("app_name")
	require.NoError(t, e.SetValue(h, value.NewString("myapp")))

	got, ok := e.GetValue(h)
	require.True(t, ok)
	assert.Equal(t, "myapp", got.AsString())
}

func TestMutatingWriteProtectedEventFails(t *testing.T) {
	_, _, e := newTestEvent()
	e.WriteProtect()

	err := e.SetValue(handle.HMessage, value.NewString("x"))
	assert.Error(t, err)
}

func TestCloneCowIsolatesMutationFromParent(t *testing.T) {
	r, _, e := newTestEvent()
	h := r.GetHandle("field")
	require.NoError(t, e.SetValue(h, value.NewString("original")))

	child := e.CloneCow(DefaultPathOptions())
	assert.True(t, e.IsWriteProtected(), "clone_cow write-protects the parent")

	require.NoError(t, child.SetValue(h, value.NewString("mutated")))

	parentVal, _ := e.GetValue(h)
	childVal, _ := child.GetValue(h)
	assert.Equal(t, "original", parentVal.AsString())
	assert.Equal(t, "mutated", childVal.AsString())
}

func TestCloneCowSharesTagsUntilFirstWrite(t *testing.T) {
	_, tr, e := newTestEvent()
	tag := tr.GetTagID("seen")
	require.NoError(t, e.SetTag(tag))

	child := e.CloneCow(DefaultPathOptions())
	assert.True(t, child.HasTag(tag), "clone observes parent's tags by default")

	newTag := tr.GetTagID("child-only")
	require.NoError(t, child.SetTag(newTag))

	assert.False(t, e.HasTag(newTag), "tagging the clone must not leak back to the parent")
	assert.True(t, child.HasTag(tag), "clone's own first write must not drop inherited tags")
}

func TestAckFiresExactlyOnceWithNoForking(t *testing.T) {
	_, _, e := newTestEvent()

	var gotOutcome Outcome
	calls := 0
	e.SetAckCallback(func(ev *Event, outcome Outcome) {
		calls++
		gotOutcome = outcome
	}, nil)

	po := DefaultPathOptions().WithAckNeeded(true)
	e.Ack(po, Processed)

	assert.Equal(t, 1, calls)
	assert.Equal(t, Processed, gotOutcome)
}

func TestForkedAckAggregatesAndFiresOnceWhenBothBranchesAck(t *testing.T) {
	// Scenario: one source, two destinations.
	// Push an event with ack_needed=true; each destination acks its own
	// clone independently; the source callback must fire exactly once,
	// only after both have acked, with the aggregated outcome.
	_, _, e := newTestEvent()

	calls := 0
	var gotOutcome Outcome
	e.SetAckCallback(func(ev *Event, outcome Outcome) {
		calls++
		gotOutcome = outcome
	}, nil)

	po := DefaultPathOptions().WithAckNeeded(true)

	branchA := e.CloneCow(po)
	branchB := e.CloneCow(po)
	// The fork node has fully delegated its own pending ack to the two
	// clones; it releases its own slot immediately.
	e.Ack(po, Processed)

	assert.Equal(t, 0, calls, "must not fire until both branches ack")

	branchA.Ack(po, Processed)
	assert.Equal(t, 0, calls, "must not fire after only one of two branches acks")

	branchB.Ack(po, Processed)
	assert.Equal(t, 1, calls, "must fire exactly once once both branches ack")
	assert.Equal(t, Processed, gotOutcome)
}

func TestForkedAckAggregatesAbortStickily(t *testing.T) {
	// A child's ABORT outcome must always be visible as ABORT at the
	// root, even if other children reported PROCESSED.
	_, _, e := newTestEvent()

	var gotOutcome Outcome
	e.SetAckCallback(func(ev *Event, outcome Outcome) {
		gotOutcome = outcome
	}, nil)

	po := DefaultPathOptions().WithAckNeeded(true)
	branchA := e.CloneCow(po)
	branchB := e.CloneCow(po)
	e.Ack(po, Processed)

	branchA.Ack(po, Aborted)
	branchB.Ack(po, Processed)

	assert.Equal(t, Aborted, gotOutcome)
}

func TestAckWithoutAckNeededIsANoop(t *testing.T) {
	_, _, e := newTestEvent()
	calls := 0
	e.SetAckCallback(func(ev *Event, outcome Outcome) { calls++ }, nil)

	e.Ack(DefaultPathOptions(), Processed)
	assert.Equal(t, 0, calls)
}

func TestRefUnrefTracksLiveCount(t *testing.T) {
	_, _, e := newTestEvent()
	assert.Equal(t, uint32(1), e.RefCount())

	e.Ref()
	assert.Equal(t, uint32(2), e.RefCount())

	becameZero := e.Unref()
	assert.False(t, becameZero)
	assert.Equal(t, uint32(1), e.RefCount())

	becameZero = e.Unref()
	assert.True(t, becameZero)
	assert.Equal(t, uint32(0), e.RefCount())
}

func TestSettingProgramInvalidatesLegacyMsgHdr(t *testing.T) {
	_, _, e := newTestEvent()
	require.NoError(t, e.SetValue(handle.HLegacyMsgHdr, value.NewString("<13>Jan  1 00:00:00 ")))
	require.NoError(t, e.SetValue(handle.HProgram, value.NewString("sshd")))

	_, ok := e.GetValue(handle.HLegacyMsgHdr)
	assert.False(t, ok, "PROGRAM changes must invalidate the cached legacy header")
}

func TestStructuredDataIndexIsSortedByBlock(t *testing.T) {
	r, _, e := newTestEvent()
	hB := r.GetHandle(".SDATA.zblock.1.key")
	hA := r.GetHandle(".SDATA.ablock.1.key")

	require.NoError(t, e.SetValue(hB, value.NewString("b")))
	require.NoError(t, e.SetValue(hA, value.NewString("a")))

	var order []string
	e.SDataForeach(func(h handle.Handle) {
		order = append(order, r.Name(h))
	})
	require.Len(t, order, 2)
	assert.Equal(t, ".SDATA.ablock.1.key", order[0])
	assert.Equal(t, ".SDATA.zblock.1.key", order[1])
}

func TestStructuredDataIndexIsCopyOnWrite(t *testing.T) {
	r, _, e := newTestEvent()
	h1 := r.GetHandle(".SDATA.ablock.1.key")
	require.NoError(t, e.SetValue(h1, value.NewString("v1")))

	child := e.CloneCow(DefaultPathOptions())
	h2 := r.GetHandle(".SDATA.bblock.1.key")
	require.NoError(t, child.SetValue(h2, value.NewString("v2")))

	var parentNames, childNames []string
	e.SDataForeach(func(h handle.Handle) { parentNames = append(parentNames, r.Name(h)) })
	child.SDataForeach(func(h handle.Handle) { childNames = append(childNames, r.Name(h)) })

	assert.Len(t, parentNames, 1, "parent's SD index must not see the clone's addition")
	assert.Len(t, childNames, 2)
}

func TestAddressesAreCopyOnWrite(t *testing.T) {
	_, _, e := newTestEvent()
	addr1 := &net.TCPAddr{IP: net.ParseIP("10.0.0.1"), Port: 514}
	require.NoError(t, e.SetSourceAddr(addr1))

	child := e.CloneCow(DefaultPathOptions())
	assert.Equal(t, addr1.String(), child.SourceAddr().String())

	addr2 := &net.TCPAddr{IP: net.ParseIP("10.0.0.2"), Port: 514}
	require.NoError(t, child.SetSourceAddr(addr2))

	assert.Equal(t, addr1.String(), e.SourceAddr().String())
	assert.Equal(t, addr2.String(), child.SourceAddr().String())
}

func TestMatchCaptureUsesMatchHandleRange(t *testing.T) {
	_, _, e := newTestEvent()
	require.NoError(t, e.SetMatch(1, value.NewString("hello")))

	got, ok := e.GetValue(handle.MatchHandle(1))
	require.True(t, ok)
	assert.Equal(t, "hello", got.AsString())
}

func TestMakeWritableReturnsSelfWhenNotProtected(t *testing.T) {
	_, _, e := newTestEvent()
	assert.Same(t, e, e.MakeWritable())
}

func TestMakeWritableClonesWhenProtected(t *testing.T) {
	r, _, e := newTestEvent()
	h := r.GetHandle("field")
	require.NoError(t, e.SetValue(h, value.NewString("v1")))
	e.WriteProtect()

	w := e.MakeWritable()
	assert.NotSame(t, e, w)
	require.NoError(t, w.SetValue(h, value.NewString("v2")))

	orig, _ := e.GetValue(h)
	mutated, _ := w.GetValue(h)
	assert.Equal(t, "v1", orig.AsString())
	assert.Equal(t, "v2", mutated.AsString())
}

func TestGenerationIncrementsOnMutation(t *testing.T) {
	_, _, e := newTestEvent()
	g0 := e.Generation()
	require.NoError(t, e.SetValue(handle.HMessage, value.NewString("hi")))
	assert.Greater(t, e.Generation(), g0)
}

func TestNewInternalSetsFlagAndMessage(t *testing.T) {
	r, tr, _ := newTestEvent()
	e := NewInternal(r, tr, 6, "engine starting")
	assert.True(t, e.HasFlag(FlagInternal))
	got, ok := e.GetValue(handle.HMessage)
	require.True(t, ok)
	assert.Equal(t, "engine starting", got.AsString())
}
