package queue

import (
	"sync"

	"github.com/sswcorp/flowcore/pkg/event"
	"github.com/sswcorp/flowcore/pkg/handle"
)

// NonReliableQueue implements a three-tier structure: front_cache
// (head, memory) preferred while room remains and disk is empty, disk
// (middle) once front_cache would overflow or anything is already on
// disk, and flow_control_window (overflow, memory) used only when the
// producer asked for flow control; otherwise events are dropped with a
// counter. front_cache and disk accept pushes only while the
// flow_control_window is empty. Because a push always lands in exactly
// one tier and never goes back to an earlier tier while a later one
// holds events, front_cache items are always older than disk items,
// which are always older than flow_control_window items, so popping
// front, then disk, then flow_control_window in turn preserves FIFO
// order without needing a separate global sequence index.
type NonReliableQueue struct {
	registry    *handle.Registry
	tagRegistry *event.TagRegistry

	frontCapacity int
	diskCapacity  int
	flowCapacity  int

	mu           sync.Mutex
	disk         *diskStore
	front        segment
	flow         segment
	backlog      segment
	diskReadCur  uint64
	diskResident int
	droppedCount uint64
}

// NonReliableConfig sizes each tier.
type NonReliableConfig struct {
	FrontCacheCapacity int // events
	DiskCapacity       int // events
	FlowWindowCapacity int // events
}

// NewNonReliableQueue creates a non-reliable queue with the given tier
// capacities.
func NewNonReliableQueue(registry *handle.Registry, tagRegistry *event.TagRegistry, cfg NonReliableConfig) *NonReliableQueue {
	return &NonReliableQueue{
		registry:      registry,
		tagRegistry:   tagRegistry,
		frontCapacity: cfg.FrontCacheCapacity,
		diskCapacity:  cfg.DiskCapacity,
		flowCapacity:  cfg.FlowWindowCapacity,
	}
}

func (q *NonReliableQueue) Start(path string) (bool, error) {
	disk, recovered, err := openDiskStore(path, false, 1)
	if err != nil {
		return false, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.disk = disk
	q.diskReadCur = disk.header.headOfs
	if recovered {
		off := disk.header.headOfs
		for off < disk.header.tailOfs {
			_, next, err := disk.readRecord(off, q.registry, q.tagRegistry)
			if err != nil {
				return false, err
			}
			q.diskResident++
			off = next
		}
	}
	return recovered, nil
}

func (q *NonReliableQueue) PushTail(ev *event.Event, po event.PathOptions) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.front.len() < q.frontCapacity && q.diskResident == 0 && q.flow.len() == 0 {
		q.front.pushTail(ev, po)
		return true, nil
	}
	if q.diskResident < q.diskCapacity && q.flow.len() == 0 {
		if _, _, err := q.disk.appendRecord(ev, q.registry); err != nil {
			return false, err
		}
		q.diskResident++
		return true, nil
	}
	if po.FlowControlRequested && q.flow.len() < q.flowCapacity {
		q.flow.pushTail(ev, po)
		return true, nil
	}
	q.droppedCount++
	if err := q.disk.incDropped(); err != nil {
		return false, err
	}
	return false, nil
}

func (q *NonReliableQueue) PopHead(po event.PathOptions) (*event.Event, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n := q.front.popHead(); n != nil {
		n.po = po
		q.backlog.linkTail(n)
		return n.ev, true, nil
	}

	if q.diskResident > 0 {
		ev, next, err := q.disk.readRecord(q.diskReadCur, q.registry, q.tagRegistry)
		if err != nil {
			return nil, false, err
		}
		q.diskReadCur = next
		q.diskResident--
		if err := q.disk.advanceHead(next); err != nil {
			return nil, false, err
		}
		if compacted, err := q.disk.compactIfFullyDrained(); err != nil {
			return nil, false, err
		} else if compacted {
			q.diskReadCur = headerSize
		}
		n := &node{ev: ev, po: po}
		q.backlog.linkTail(n)
		return ev, true, nil
	}

	if n := q.flow.popHead(); n != nil {
		n.po = po
		q.backlog.linkTail(n)
		return n.ev, true, nil
	}
	return nil, false, nil
}

func (q *NonReliableQueue) PeekHead() (*event.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n := q.front.peekHead(); n != nil {
		return n.ev, true
	}
	if q.diskResident > 0 {
		ev, _, err := q.disk.readRecord(q.diskReadCur, q.registry, q.tagRegistry)
		if err != nil {
			return nil, false
		}
		return ev, true
	}
	if n := q.flow.peekHead(); n != nil {
		return n.ev, true
	}
	return nil, false
}

func (q *NonReliableQueue) AckBacklog(n int) error {
	q.mu.Lock()
	var acked []*node
	for i := 0; i < n; i++ {
		nd := q.backlog.popHead()
		if nd == nil {
			break
		}
		acked = append(acked, nd)
	}
	q.mu.Unlock()

	for _, nd := range acked {
		nd.ev.Ack(nd.po, event.Processed)
	}
	return nil
}

// RewindBacklog moves the newest n backlog entries back to the head of
// the front_cache tier for re-delivery. It never touches the disk
// tier: by the time an event is in the backlog it has already been
// read into memory.
func (q *NonReliableQueue) RewindBacklog(n int) error {
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
	for _, nd := range rewound {
		q.front.linkHead(nd)
	}
	return nil
}

func (q *NonReliableQueue) Length() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.front.len() + q.diskResident + q.flow.len()
}

func (q *NonReliableQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.droppedCount
}

func (q *NonReliableQueue) MemoryUsageBytes() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.front.memoryBytes() + q.flow.memoryBytes() + q.backlog.memoryBytes()
}

func (q *NonReliableQueue) Stop() (bool, error) {
	persisted := q.disk.length() > 0
	if err := q.disk.sync(); err != nil {
		return persisted, err
	}
	return persisted, q.disk.close()
}
