// Package event implements the Event Record: a reference-counted,
// copy-on-write wrapper over an NVTable, plus tags, structured-data
// indexing, multi-layer timestamps, addresses, and acknowledgement
// propagation.
//
// The copy-on-write discipline generalizes LabelsCOW
// (pkg/types/labels_cow.go): instead of one map, an Event owns an
// NVTable plus three more "shared until written" sub-resources (tags,
// the structured-data index, and the source/destination addresses),
// each gated by its own ownership bit so a clone that only rewrites
// one field doesn't pay to deep-copy the others.
package event

import (
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sswcorp/flowcore/pkg/handle"
	"github.com/sswcorp/flowcore/pkg/nvtable"
	"github.com/sswcorp/flowcore/pkg/value"
)

// Flags is the event-level flag word.
type Flags uint32

const (
	FlagLocal Flags = 1 << iota
	FlagInternal
	FlagMark
	FlagUTF8
	flagWriteProtected
	flagTraceEnabled
)

// Proto enumerates the transport-level protocol an event arrived over.
type Proto uint8

const (
	ProtoUnknown Proto = iota
	ProtoSyslogFramed
	ProtoSyslogText
	ProtoInternal
)

// TimestampKind selects one of the three timestamps an Event carries.
type TimestampKind int

const (
	// TSReceived is when the local process accepted the bytes.
	TSReceived TimestampKind = iota
	// TSMessage is the timestamp claimed by the sender (parsed out of
	// the message text itself).
	TSMessage
	// TSProcessed is set when the event is handed to a destination for
	// delivery.
	TSProcessed
	tsCount
)

// Address wraps a net.Addr; the owning Event tracks copy-on-write
// ownership of it in ownSrcAddr/ownDstAddr.
type Address struct {
	Addr net.Addr
}

// Event is the core in-memory unit holding one parsed log/event record.
type Event struct {
	registry    *handle.Registry
	tagRegistry *TagRegistry

	mu sync.Mutex // guards flags/ownership/table-pointer swaps below

	table       *nvtable.NVTable
	tableShared bool

	flags Flags
	pri   int
	proto Proto

	tags    tagSet
	ownTags bool

	sdIndex []handle.Handle // handles of .SDATA.block.id.key entries, sorted by block
	ownSD   bool

	timestamps [tsCount]value.DateTime

	srcAddr    *Address
	dstAddr    *Address
	ownSrcAddr bool
	ownDstAddr bool

	hostID  uint32
	rcptID  uint64
	seqNum  uint32

	parent      *Event
	ackCallback AckCallback
	ackUserdata interface{}

	composite  *composite
	generation atomic.Uint64
}

// newBase allocates an Event with a fresh table bound to registry/tagRegistry.
func newBase(registry *handle.Registry, tagRegistry *TagRegistry) *Event {
	return &Event{
		registry:    registry,
		tagRegistry: tagRegistry,
		table:       nvtable.New(registry),
		composite:   newComposite(1),
	}
}

// NewEmpty creates a fresh Event with no fields set.
func NewEmpty(registry *handle.Registry, tagRegistry *TagRegistry) *Event {
	return newBase(registry, tagRegistry)
}

// NewInternal creates an internally-generated diagnostic event (the
// engine's own log messages), flagged FlagInternal, with MESSAGE set to
// text and PRI set to prio.
func NewInternal(registry *handle.Registry, tagRegistry *TagRegistry, prio int, text string) *Event {
	e := newBase(registry, tagRegistry)
	e.flags |= FlagInternal
	e.pri = prio
	_ = e.SetValue(handle.HMessage, value.NewString(text))
	return e
}

// NewMark creates a MARK event (a heartbeat with no payload, flagged
// FlagMark), used by sources that emit periodic liveness markers.
func NewMark(registry *handle.Registry, tagRegistry *TagRegistry) *Event {
	e := newBase(registry, tagRegistry)
	e.flags |= FlagMark
	return e
}

// NewLocal creates an event originating from the local host (flagged
// FlagLocal), as opposed to one received over a network transport.
func NewLocal(registry *handle.Registry, tagRegistry *TagRegistry) *Event {
	e := newBase(registry, tagRegistry)
	e.flags |= FlagLocal
	return e
}

// NewSized creates an event with MESSAGE pre-populated from payload. No
// extra NVTable headroom is reserved beyond what storing MESSAGE takes.
func NewSized(registry *handle.Registry, tagRegistry *TagRegistry, payload []byte) *Event {
	e := newBase(registry, tagRegistry)
	_ = e.SetValue(handle.HMessage, value.NewString(string(payload)))
	return e
}

// Ref increments the reference count.
func (e *Event) Ref() { e.composite.ref() }

// Unref decrements the reference count and reports whether it reached
// zero. By the time ref_cnt reaches zero, no ack should still be
// pending; callers in debug builds may choose to assert that.
func (e *Event) Unref() bool { return e.composite.unref() }

// RefCount returns the current reference count.
func (e *Event) RefCount() uint32 { return e.composite.refCount() }

// WriteProtect marks the event read-only. Any subsequent mutation
// attempt on a write-protected event without first going through
// MakeWritable is an invariant violation.
func (e *Event) WriteProtect() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.flags |= flagWriteProtected
}

// IsWriteProtected reports whether the event is frozen against direct mutation.
func (e *Event) IsWriteProtected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flags&flagWriteProtected != 0
}

// Generation returns the NVTable mutation counter: it increments on
// every successful mutating call.
func (e *Event) Generation() uint64 { return e.generation.Load() }

// Parent returns the event this one was cloned from, or nil if it is an
// original (non-cloned) event.
func (e *Event) Parent() *Event { return e.parent }

// CloneCow creates a writable child sharing this event's NVTable, tags,
// structured-data index, and addresses by reference until each is
// first mutated. If po.AckNeeded, this event's pending-ack count is
// incremented by one: the caller (typically a fork node) is expected to
// eventually balance that increment either by the child acking, or — if
// it decides not to forward the child — acking it directly.
//
// This is the forking mechanism: for each downstream branch the fork
// node calls CloneCow so acks aggregate correctly across branches.
func (e *Event) CloneCow(po PathOptions) *Event {
	e.mu.Lock()
	e.flags |= flagWriteProtected
	child := &Event{
		registry:    e.registry,
		tagRegistry: e.tagRegistry,
		table:       e.table,
		tableShared: true,
		flags:       e.flags &^ flagWriteProtected,
		pri:         e.pri,
		proto:       e.proto,
		tags:        e.tags, // shared struct copy; ownTags stays false below
		sdIndex:     e.sdIndex,
		timestamps:  e.timestamps,
		srcAddr:     e.srcAddr,
		dstAddr:     e.dstAddr,
		hostID:      e.hostID,
		rcptID:      e.rcptID,
		seqNum:      e.seqNum,
		parent:      e,
		composite:   newComposite(1),
	}
	e.mu.Unlock()

	if po.AckNeeded {
		e.composite.addAck(1)
	}
	return child
}

// Ack resolves one pending consumer's outcome for this event. If this
// is the last outstanding ack (ack_cnt reaches zero), it invokes the
// event's own AckCallback if one was registered (true only for an
// original, source-created event), otherwise it propagates the
// aggregated outcome to its parent, continuing up the clone chain
// until it reaches the original, whose callback fires exactly once. A
// child ABORT always implies the parent sees ABORT, via the sticky
// abort bit in the composite word.
func (e *Event) Ack(po PathOptions, outcome Outcome) {
	if !po.AckNeeded {
		return
	}
	zero, aggregated := e.composite.resolveOne(outcome)
	if !zero {
		return
	}
	if e.ackCallback != nil {
		e.ackCallback(e, aggregated)
		return
	}
	if e.parent != nil {
		e.parent.Ack(PathOptions{AckNeeded: true}, aggregated)
	}
}

// SetAckCallback registers the callback invoked when this (necessarily
// original, source-created) event's ack count reaches zero.
func (e *Event) SetAckCallback(cb AckCallback, userdata interface{}) {
	e.ackCallback = cb
	e.ackUserdata = userdata
}

// AckUserdata returns the userdata passed to SetAckCallback.
func (e *Event) AckUserdata() interface{} { return e.ackUserdata }

// MakeWritable returns a mutable view of the event: itself if it is not
// write-protected, otherwise a fresh CloneCow with no ack obligation.
// This is the gate pipeline rewrite nodes call before mutating a
// field: rewrites call MakeWritable and then mutate the event.
func (e *Event) MakeWritable() *Event {
	if !e.IsWriteProtected() {
		return e
	}
	return e.CloneCow(PathOptions{})
}

// ensureOwnTable clones the NVTable if it is currently shared with
// another Event (the lazy half of copy-on-write: sharing costs nothing
// until the first write). Must be called with e.mu held.
func (e *Event) ensureOwnTable() {
	if e.tableShared {
		e.table = e.table.Clone(4)
		e.tableShared = false
	}
}

func (e *Event) mutateGuard() error {
	if e.IsWriteProtected() {
		return fmt.Errorf("event: attempted mutation of a write-protected event; call CloneCow first")
	}
	return nil
}

// SetValue writes a direct field value, invalidating LEGACY_MSGHDR when
// PROGRAM or PID changes and maintaining the structured-data index when
// the handle is a ".SDATA." field. This SD tracking is done at the
// Event layer since the index itself lives here, not in the NVTable.
func (e *Event) SetValue(h handle.Handle, v value.Value) error {
	if err := e.mutateGuard(); err != nil {
		return err
	}
	e.mu.Lock()
	e.ensureOwnTable()
	tbl := e.table
	e.mu.Unlock()

	if _, err := tbl.Set(h, v); err != nil {
		return err
	}
	e.generation.Add(1)

	if h == handle.HProgram || h == handle.HPid {
		tbl.Unset(handle.HLegacyMsgHdr)
	}
	if e.registry.IsSData(h) {
		e.indexSData(h)
	}
	return nil
}

// SetValueIndirect stores an alias into another handle's bytes (see
// nvtable.SetIndirect) through the same copy-on-write gate as SetValue.
func (e *Event) SetValueIndirect(h, refHandle handle.Handle, ofs, length int, declType value.Type) error {
	if err := e.mutateGuard(); err != nil {
		return err
	}
	e.mu.Lock()
	e.ensureOwnTable()
	tbl := e.table
	e.mu.Unlock()

	if err := tbl.SetIndirect(h, refHandle, ofs, length, declType); err != nil {
		return err
	}
	e.generation.Add(1)
	if e.registry.IsSData(h) {
		e.indexSData(h)
	}
	return nil
}

// GetValue reads a field value. Safe to call on a write-protected event.
func (e *Event) GetValue(h handle.Handle) (value.Value, bool) {
	e.mu.Lock()
	tbl := e.table
	e.mu.Unlock()
	return tbl.Get(h)
}

// UnsetValue removes a field value.
func (e *Event) UnsetValue(h handle.Handle) error {
	if err := e.mutateGuard(); err != nil {
		return err
	}
	e.mu.Lock()
	e.ensureOwnTable()
	tbl := e.table
	e.mu.Unlock()
	tbl.Unset(h)
	e.generation.Add(1)
	return nil
}

// SetMatch writes match-group capture $idx through SetValue. Other
// captures are left as they are.
func (e *Event) SetMatch(idx int, v value.Value) error {
	h := handle.MatchHandle(idx)
	return e.SetValue(h, v)
}

// Table exposes the underlying NVTable for read-only iteration (e.g. by
// the template engine). Mutating it directly bypasses the copy-on-write
// and invariant-maintenance logic above and must not be done outside
// this package.
func (e *Event) Table() *nvtable.NVTable {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.table
}

// Registry returns the handle registry this event is bound to.
func (e *Event) Registry() *handle.Registry { return e.registry }

// --- Tags -------------------------------------------------------------

// SetTag marks tag id present on this event.
func (e *Event) SetTag(id TagID) error {
	if err := e.mutateGuard(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.ownTags {
		e.tags = e.tags.clone()
		e.ownTags = true
	}
	e.tags.set(id)
	return nil
}

// SetTagName is a convenience wrapper resolving a tag name to an id.
func (e *Event) SetTagName(name string) error {
	return e.SetTag(e.tagRegistry.GetTagID(name))
}

// ClearTag removes tag id from this event.
func (e *Event) ClearTag(id TagID) error {
	if err := e.mutateGuard(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.ownTags {
		e.tags = e.tags.clone()
		e.ownTags = true
	}
	e.tags.clear(id)
	return nil
}

// HasTag reports whether tag id is set.
func (e *Event) HasTag(id TagID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tags.has(id)
}

// TagsString renders the event's tags as a comma-separated, sorted list
// of names, for the template engine's TAGS macro.
func (e *Event) TagsString() string {
	var ids []TagID
	e.TagsForeach(func(id TagID) { ids = append(ids, id) })
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = e.tagRegistry.Name(id)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

// TagsForeach calls f for every tag id set on this event.
func (e *Event) TagsForeach(f func(id TagID)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tags.foreach(f)
}

// --- Structured data ---------------------------------------------------

// indexSData inserts h into the sorted-by-block structured-data index,
// cloning the slice first if it is currently shared with a parent/sibling.
func (e *Event) indexSData(h handle.Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.ownSD {
		e.sdIndex = append([]handle.Handle(nil), e.sdIndex...)
		e.ownSD = true
	}
	for _, existing := range e.sdIndex {
		if existing == h {
			return
		}
	}
	name := e.registry.Name(h)
	block := sdataBlock(name)
	pos := sort.Search(len(e.sdIndex), func(i int) bool {
		return sdataBlock(e.registry.Name(e.sdIndex[i])) >= block
	})
	e.sdIndex = append(e.sdIndex, 0)
	copy(e.sdIndex[pos+1:], e.sdIndex[pos:])
	e.sdIndex[pos] = h
}

func sdataBlock(name string) string {
	const prefix = ".SDATA."
	rest := strings.TrimPrefix(name, prefix)
	parts := strings.SplitN(rest, ".", 3)
	if len(parts) < 2 {
		return rest
	}
	return parts[0] + "." + parts[1]
}

// SDataForeach calls f for every structured-data handle, in
// block-contiguous order, ready for serialization.
func (e *Event) SDataForeach(f func(h handle.Handle)) {
	e.mu.Lock()
	idx := e.sdIndex
	e.mu.Unlock()
	for _, h := range idx {
		f(h)
	}
}

// --- Timestamps, addresses, misc fields --------------------------------

// SetTimestamp records one of the three timestamp layers.
func (e *Event) SetTimestamp(kind TimestampKind, dt value.DateTime) error {
	if err := e.mutateGuard(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.timestamps[kind] = dt
	return nil
}

// Timestamp reads one of the three timestamp layers.
func (e *Event) Timestamp(kind TimestampKind) value.DateTime {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timestamps[kind]
}

// SetSourceAddr sets the source network address, copy-on-write.
func (e *Event) SetSourceAddr(addr net.Addr) error {
	if err := e.mutateGuard(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.srcAddr = &Address{Addr: addr}
	e.ownSrcAddr = true
	return nil
}

// SourceAddr returns the source network address, or nil if unset.
func (e *Event) SourceAddr() net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.srcAddr == nil {
		return nil
	}
	return e.srcAddr.Addr
}

// SetDestAddr sets the destination network address, copy-on-write.
func (e *Event) SetDestAddr(addr net.Addr) error {
	if err := e.mutateGuard(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dstAddr = &Address{Addr: addr}
	e.ownDstAddr = true
	return nil
}

// DestAddr returns the destination network address, or nil if unset.
func (e *Event) DestAddr() net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dstAddr == nil {
		return nil
	}
	return e.dstAddr.Addr
}

// SetPri sets the syslog priority.
func (e *Event) SetPri(pri int) { e.mu.Lock(); e.pri = pri; e.mu.Unlock() }

// Pri returns the syslog priority.
func (e *Event) Pri() int { e.mu.Lock(); defer e.mu.Unlock(); return e.pri }

// SetProto sets the transport-level protocol enum.
func (e *Event) SetProto(p Proto) { e.mu.Lock(); e.proto = p; e.mu.Unlock() }

// Proto returns the transport-level protocol enum.
func (e *Event) Proto() Proto { e.mu.Lock(); defer e.mu.Unlock(); return e.proto }

// SetHostID sets the per-host identifier used in rcpt_id accounting.
func (e *Event) SetHostID(id uint32) { e.mu.Lock(); e.hostID = id; e.mu.Unlock() }

// HostID returns the per-host identifier.
func (e *Event) HostID() uint32 { e.mu.Lock(); defer e.mu.Unlock(); return e.hostID }

// SetRcptID sets the monotonic per-host receipt id.
func (e *Event) SetRcptID(id uint64) { e.mu.Lock(); e.rcptID = id; e.mu.Unlock() }

// RcptID returns the monotonic per-host receipt id.
func (e *Event) RcptID() uint64 { e.mu.Lock(); defer e.mu.Unlock(); return e.rcptID }

// SetSeqNum sets the sequence number.
func (e *Event) SetSeqNum(n uint32) { e.mu.Lock(); e.seqNum = n; e.mu.Unlock() }

// SeqNum returns the sequence number.
func (e *Event) SeqNum() uint32 { e.mu.Lock(); defer e.mu.Unlock(); return e.seqNum }

// HasFlag reports whether an event-level flag bit is set.
func (e *Event) HasFlag(f Flags) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flags&f != 0
}

// SetFlag sets an event-level flag bit (not gated by write-protection:
// flags like trace-state bits are allowed to change on shared events).
func (e *Event) SetFlag(f Flags) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.flags |= f
}

// AllocatedBytes sums this event's own NVTable arena usage, feeding the
// process-wide memory usage counter.
func (e *Event) AllocatedBytes() int {
	e.mu.Lock()
	tbl := e.table
	e.mu.Unlock()
	return tbl.AllocatedBytes()
}
