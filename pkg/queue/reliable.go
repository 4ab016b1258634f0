package queue

import (
	"fmt"
	"sync"

	"github.com/sswcorp/flowcore/pkg/event"
	"github.com/sswcorp/flowcore/pkg/handle"
)

// ReliableQueue persists every accepted event to disk before PushTail
// returns: the in-memory pending segment is a cache for consumption,
// and backlog is a cache for rewind after transport failure. On crash,
// accepted events are not lost modulo the last fsync window (SyncFreq
// records between forced fsyncs).
type ReliableQueue struct {
	registry    *handle.Registry
	tagRegistry *event.TagRegistry
	syncFreq    int

	mu      sync.Mutex
	disk    *diskStore
	pending segment // not yet popped, in delivery order
	backlog segment // popped, awaiting ack or rewind
}

// NewReliableQueue creates a reliable queue bound to registry/tagRegistry
// for encode/decode, fsyncing every syncFreq appended records.
// syncFreq <= 0 means fsync on every append.
func NewReliableQueue(registry *handle.Registry, tagRegistry *event.TagRegistry, syncFreq int) *ReliableQueue {
	return &ReliableQueue{registry: registry, tagRegistry: tagRegistry, syncFreq: syncFreq}
}

func (q *ReliableQueue) Start(path string) (bool, error) {
	disk, recovered, err := openDiskStore(path, true, q.syncFreq)
	if err != nil {
		return false, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.disk = disk

	if recovered {
		// Walk every record between head_ofs and tail_ofs, rebuilding
		// the pending segment in order with each node's disk offsets
		// intact for future ack-driven compaction.
		off := disk.header.headOfs
		for off < disk.header.tailOfs {
			ev, next, err := disk.readRecord(off, q.registry, q.tagRegistry)
			if err != nil {
				return false, fmt.Errorf("queue: replay %s at offset %d: %w", path, off, err)
			}
			n := q.pending.pushTail(ev, event.PathOptions{})
			n.onDisk = true
			n.diskOfs = off
			n.diskNextOfs = next
			off = next
		}
	}
	return recovered, nil
}

func (q *ReliableQueue) PushTail(ev *event.Event, po event.PathOptions) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ofs, next, err := q.disk.appendRecord(ev, q.registry)
	if err != nil {
		return false, fmt.Errorf("queue: persist event: %w", err)
	}
	n := q.pending.pushTail(ev, po)
	n.onDisk = true
	n.diskOfs = ofs
	n.diskNextOfs = next
	return true, nil
}

func (q *ReliableQueue) PopHead(po event.PathOptions) (*event.Event, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.pending.popHead()
	if n == nil {
		return nil, false, nil
	}
	n.po = po
	q.backlog.linkTail(n)
	return n.ev, true, nil
}

func (q *ReliableQueue) PeekHead() (*event.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.pending.peekHead()
	if n == nil {
		return nil, false
	}
	return n.ev, true
}

// AckBacklog releases the oldest n backlog entries, acking each (their
// acks propagate to the originating source up the ack chain), then
// advances the on-disk head offset past the highest acked record so a
// future replay never redelivers them.
func (q *ReliableQueue) AckBacklog(n int) error {
	q.mu.Lock()
	var newHead uint64
	var advance bool
	var acked []*node
	for i := 0; i < n; i++ {
		nd := q.backlog.popHead()
		if nd == nil {
			break
		}
		acked = append(acked, nd)
		if nd.onDisk {
			newHead = nd.diskNextOfs
			advance = true
		}
	}
	q.mu.Unlock()

	for _, nd := range acked {
		nd.ev.Ack(nd.po, event.Processed)
	}
	if advance {
		if err := q.disk.advanceHead(newHead); err != nil {
			return err
		}
		if _, err := q.disk.compactIfFullyDrained(); err != nil {
			return err
		}
	}
	return nil
}

// RewindBacklog moves the newest n backlog entries back to the head of
// the pending segment, in their original relative order, for
// re-delivery after a transport failure.
func (q *ReliableQueue) RewindBacklog(n int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	var rewound []*node
	for i := 0; i < n; i++ {
		nd := q.backlog.popTail()
		if nd == nil {
			break
		}
		rewound = append(rewound, nd)
	}
	// rewound is newest-first; linking each at the head in that order
	// leaves the oldest at the front, restoring the original order.
	for _, nd := range rewound {
		q.pending.linkHead(nd)
	}
	return nil
}

func (q *ReliableQueue) Length() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.len()
}

func (q *ReliableQueue) Dropped() uint64 {
	return q.disk.dropped()
}

func (q *ReliableQueue) MemoryUsageBytes() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.memoryBytes() + q.backlog.memoryBytes()
}

func (q *ReliableQueue) Stop() (bool, error) {
	persisted := q.disk.length() > 0
	if err := q.disk.sync(); err != nil {
		return persisted, err
	}
	return persisted, q.disk.close()
}
