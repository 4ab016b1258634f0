// Package queue implements the memory queue segment and durable queue:
// a FIFO of queued events sitting in front of a pipeline node's next
// hop, with a reliable variant that persists before push_tail returns
// and a non-reliable variant that trades durability for a bounded,
// droppable overflow window.
//
// The embedded-linkage FIFO here is grounded on the append/drain
// discipline in pkg/buffer/disk_buffer.go, generalized from a
// byte-oriented ring to a doubly-linked node list so that rewind_backlog
// can splice a run of nodes back onto the head without copying.
package queue

import (
	"github.com/sswcorp/flowcore/pkg/event"
)

// node is one FIFO entry. The linkage lives on the node itself (not in
// a wrapping container/list.Element) so a segment can splice nodes
// between its own list and the backlog list without reallocating.
type node struct {
	ev   *event.Event
	po   event.PathOptions
	prev *node
	next *node

	// onDisk, diskOfs and diskNextOfs describe this node's on-disk
	// record, when it has one (reliable queue nodes always have one;
	// non-reliable queue nodes never do, since that queue advances the
	// disk head as soon as it pops a disk record). They let the reliable
	// queue's ack_backlog advance the QDisk head offset past fully-acked
	// records before explicit compaction truncates them.
	onDisk     bool
	diskOfs    uint64
	diskNextOfs uint64
}

// segment is an intrusive doubly-linked FIFO of queued events. It is
// not safe for concurrent use; callers (ReliableQueue / NonReliableQueue)
// serialize access with their own mutex.
type segment struct {
	head   *node // oldest (next to pop)
	tail   *node // newest (most recently pushed)
	length int
	bytes  int64
}

// pushTail appends ev at the newest end and returns the new node so the
// caller may record disk-residency info on it.
func (s *segment) pushTail(ev *event.Event, po event.PathOptions) *node {
	n := &node{ev: ev, po: po}
	s.linkTail(n)
	return n
}

func (s *segment) linkTail(n *node) {
	n.prev = s.tail
	n.next = nil
	if s.tail != nil {
		s.tail.next = n
	} else {
		s.head = n
	}
	s.tail = n
	s.length++
	s.bytes += int64(n.ev.AllocatedBytes())
}

// linkHead re-inserts n at the oldest end, used by rewind_backlog to
// put backlog entries back in front of anything pushed meanwhile.
func (s *segment) linkHead(n *node) {
	n.next = s.head
	n.prev = nil
	if s.head != nil {
		s.head.prev = n
	} else {
		s.tail = n
	}
	s.head = n
	s.length++
	s.bytes += int64(n.ev.AllocatedBytes())
}

// popHead removes and returns the oldest node, or nil if empty.
func (s *segment) popHead() *node {
	n := s.head
	if n == nil {
		return nil
	}
	s.unlink(n)
	return n
}

// popTail removes and returns the newest node, or nil if empty. Used by
// ack_backlog's sibling rewind_backlog to pull the newest n entries of
// the backlog back onto the live queue's head.
func (s *segment) popTail() *node {
	n := s.tail
	if n == nil {
		return nil
	}
	s.unlink(n)
	return n
}

func (s *segment) unlink(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		s.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		s.tail = n.prev
	}
	n.prev, n.next = nil, nil
	s.length--
	s.bytes -= int64(n.ev.AllocatedBytes())
}

func (s *segment) peekHead() *node { return s.head }

func (s *segment) len() int { return s.length }

func (s *segment) memoryBytes() int64 { return s.bytes }
