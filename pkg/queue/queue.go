package queue

import (
	"github.com/sswcorp/flowcore/pkg/event"
)

// Queue is the unified contract both the reliable and non-reliable
// durable-queue variants implement, sitting in front of a pipeline
// node's next hop.
type Queue interface {
	// Start opens or creates the on-disk file at path and makes any
	// queued records available again, preserving order (the reliable
	// queue loads them into its pending segment; the non-reliable queue
	// reads them from disk as they are popped). recovered reports whether
	// an existing file was found and loaded.
	Start(path string) (recovered bool, err error)

	// PushTail appends ev. It returns false when the event was dropped
	// for lack of space, the back-pressure signal to the caller.
	PushTail(ev *event.Event, po event.PathOptions) (accepted bool, err error)

	// PopHead returns the oldest queued event, atomically moving it to
	// the backlog for potential rewind. ok is false when the queue is
	// empty.
	PopHead(po event.PathOptions) (ev *event.Event, ok bool, err error)

	// PeekHead reads the oldest queued event without consuming it. For an
	// event still on disk, the non-reliable queue returns a freshly
	// decoded copy.
	PeekHead() (ev *event.Event, ok bool)

	// AckBacklog releases the oldest n backlog entries, propagating
	// their acks, and is a no-op past the current backlog length.
	AckBacklog(n int) error

	// RewindBacklog moves the newest n backlog entries back to the
	// head for re-delivery, in the same order pop_head originally
	// returned them.
	RewindBacklog(n int) error

	// Length returns the total number of events currently queued
	// (excluding the backlog, which is consumed but not yet acked).
	Length() int

	// Dropped returns the cumulative count of push_tail calls that
	// returned "not accepted".
	Dropped() uint64

	// MemoryUsageBytes sums every in-RAM copy currently held: front
	// cache, overflow window, and backlog.
	MemoryUsageBytes() int64

	// Stop flushes in-flight state back to the on-disk file for
	// graceful shutdown and reports whether anything was persisted. The
	// non-reliable queue syncs only its disk tier: events held in its
	// front_cache, flow_control_window or backlog are not written out.
	Stop() (persisted bool, err error)
}

var (
	_ Queue = (*ReliableQueue)(nil)
	_ Queue = (*NonReliableQueue)(nil)
)
