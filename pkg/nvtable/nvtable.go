// Package nvtable implements a packed name-value arena. An NVTable
// holds typed (handle -> value) pairs, some stored directly and some as
// indirect slice references into another entry's bytes, with bounded
// reallocation and a dense index for O(1) lookup.
//
// Go's GC and slice/map primitives stand in for a byte-arena-with-
// offsets design meant for a systems language: instead of packing names
// and values back-to-front in one allocation, NVTable keeps a map of
// entries and tracks a simulated "allocated bytes" counter so the
// doubling-until-max growth discipline and the allocated-bytes
// accounting still hold. This mirrors how LogEntry.Labels is
// represented as a Go map rather than a C struct with manual offsets
// (pkg/types/labels_cow.go) while keeping the same copy-on-write
// contract.
package nvtable

import (
	"fmt"
	"sync"

	"github.com/sswcorp/flowcore/pkg/handle"
	"github.com/sswcorp/flowcore/pkg/value"
)

// DefaultMaxArenaBytes caps a single NVTable's simulated arena size, a
// stand-in for a wire-format-sized ceiling, at a size that is sane for
// a Go process's working set.
const DefaultMaxArenaBytes = 64 * 1024 * 1024

// entryOverheadBytes approximates the per-entry bookkeeping cost (handle,
// type tag, offsets) charged against the arena budget alongside the
// value's own byte length.
const entryOverheadBytes = 24

// nvEntry is one slot in the table: either a direct value or an
// indirect slice reference into another handle's direct value.
type nvEntry struct {
	indirect bool
	dead     bool

	// direct form
	val value.Value

	// indirect form: a (handle, ofs, len) slice into refHandle's raw bytes,
	// reinterpreted as declType.
	refHandle handle.Handle
	ofs, len  int
	declType  value.Type
}

// NVTable is a packed arena of (handle -> typed value) entries.
type NVTable struct {
	mu       sync.RWMutex
	registry *handle.Registry
	entries  map[handle.Handle]*nvEntry
	order    []handle.Handle // insertion order, for deterministic Foreach

	arenaBytes    int
	capacity      int // simulated allocation, doubles on growth up to maxArenaBytes
	maxArenaBytes int
}

// New creates an empty NVTable bound to registry for indirect-reference
// validation.
func New(registry *handle.Registry) *NVTable {
	return NewWithCapacity(registry, 0)
}

// NewWithCapacity creates an empty NVTable with headroom reserved for
// extraCapacity additional entries, used by Clone to avoid repeated
// growth immediately after a copy-on-write.
func NewWithCapacity(registry *handle.Registry, extraCapacity int) *NVTable {
	return &NVTable{
		registry:      registry,
		entries:       make(map[handle.Handle]*nvEntry, 8+extraCapacity),
		capacity:      4096,
		maxArenaBytes: DefaultMaxArenaBytes,
	}
}

// SetMaxArenaBytes overrides the default arena ceiling. Intended for
// tests and for configuration-driven tuning of tight-memory deployments.
func (t *NVTable) SetMaxArenaBytes(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maxArenaBytes = n
}

// InsertResult reports whether Set created a brand-new entry or
// overwrote an existing one, per the table_set contract.
type InsertResult struct {
	InsertedNew bool
}

// Set writes a direct (handle -> value) entry. An existing entry for the
// handle, live or unset, is overwritten in place and the arena budget is
// charged only the difference from its previous size.
//
// Growth doubles the simulated arena ceiling, capped at maxArenaBytes;
// once capped, a Set that still doesn't fit fails gracefully: the
// specific write is dropped and insertedNew is false, but the table
// remains usable for other entries.
func (t *NVTable) Set(h handle.Handle, v value.Value) (InsertResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	size := len(v.Raw) + entryOverheadBytes
	existing, exists := t.entries[h]

	var delta int
	if exists {
		delta = size - (len(existing.val.Raw) + entryOverheadBytes)
	} else {
		delta = size
	}

	if !t.reserve(delta) {
		return InsertResult{}, fmt.Errorf("nvtable: arena exhausted, dropping write for handle %d", h)
	}

	t.arenaBytes += delta
	if exists {
		wasDead := existing.dead
		existing.indirect = false
		existing.dead = false
		existing.val = v
		if wasDead {
			t.order = append(t.order, h)
		}
		return InsertResult{InsertedNew: false}, nil
	}

	t.entries[h] = &nvEntry{val: v}
	t.order = append(t.order, h)
	return InsertResult{InsertedNew: true}, nil
}

// SetIndirect stores a slice reference: handle's value becomes the
// [ofs:ofs+len) slice of refHandle's current direct bytes, reinterpreted
// as declType. handle must not itself be a built-in (built-ins occupy a
// reserved direct slot) and refHandle must be a kind permitted to be
// aliased: not a macro, not a match capture.
func (t *NVTable) SetIndirect(h, refHandle handle.Handle, ofs, length int, declType value.Type) error {
	if t.registry.IsBuiltin(h) {
		return fmt.Errorf("nvtable: handle %d is built-in, not settable as indirect", h)
	}
	if !t.registry.CanAliasAs(refHandle) {
		return fmt.Errorf("nvtable: handle %d (macro or match) cannot be referenced indirectly", refHandle)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	ref, ok := t.entries[refHandle]
	if !ok || ref.dead || ref.indirect {
		return fmt.Errorf("nvtable: ref handle %d has no direct value to alias", refHandle)
	}
	if ofs < 0 || length < 0 || ofs+length > len(ref.val.Raw) {
		return fmt.Errorf("nvtable: indirect range [%d:%d) out of bounds for handle %d (len %d)",
			ofs, ofs+length, refHandle, len(ref.val.Raw))
	}

	size := entryOverheadBytes
	existing, exists := t.entries[h]
	var delta int
	if exists {
		delta = size - (len(existing.val.Raw) + entryOverheadBytes)
	} else {
		delta = size
	}
	if !t.reserve(delta) {
		return fmt.Errorf("nvtable: arena exhausted, dropping indirect write for handle %d", h)
	}
	t.arenaBytes += delta

	if exists {
		wasDead := existing.dead
		existing.indirect = true
		existing.dead = false
		existing.refHandle = refHandle
		existing.ofs = ofs
		existing.len = length
		existing.declType = declType
		existing.val = value.Value{}
		if wasDead {
			t.order = append(t.order, h)
		}
		return nil
	}

	t.entries[h] = &nvEntry{indirect: true, refHandle: refHandle, ofs: ofs, len: length, declType: declType}
	t.order = append(t.order, h)
	return nil
}

// Get returns the value stored at h, resolving indirect references
// against the current bytes of the referenced handle. Returns
// (value.None(), false) if unset.
func (t *NVTable) Get(h handle.Handle) (value.Value, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.getLocked(h)
}

func (t *NVTable) getLocked(h handle.Handle) (value.Value, bool) {
	e, ok := t.entries[h]
	if !ok || e.dead {
		return value.None(), false
	}
	if !e.indirect {
		return e.val, true
	}
	ref, ok := t.entries[e.refHandle]
	if !ok || ref.dead || ref.indirect {
		return value.None(), false
	}
	if e.ofs+e.len > len(ref.val.Raw) {
		// The referenced entry shrank after the alias was created; the
		// alias no longer has a meaningful value. Mutating the ref breaks
		// the alias's meaning, it does not corrupt memory.
		return value.None(), false
	}
	return value.Value{Type: e.declType, Raw: ref.val.Raw[e.ofs : e.ofs+e.len]}, true
}

// Unset marks an entry absent. Capacity for the entry may remain
// reserved: the arena budget is only reclaimed on the next Set that
// reuses the slot.
func (t *NVTable) Unset(h handle.Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[h]; ok {
		e.dead = true
		for i, oh := range t.order {
			if oh == h {
				t.order = append(t.order[:i], t.order[i+1:]...)
				break
			}
		}
	}
}

// Foreach calls f for every live entry, direct or indirect, in
// insertion order. f receives the resolved value exactly as Get would.
func (t *NVTable) Foreach(f func(h handle.Handle, v value.Value)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, h := range t.order {
		e := t.entries[h]
		if e == nil || e.dead {
			continue
		}
		v, ok := t.getLocked(h)
		if ok {
			f(h, v)
		}
	}
}

// Clone deep-copies the table with extraCapacity headroom reserved.
// Indirect entries are copied as indirect entries (still pointing at
// the *original* ref handle's identity; since Clone copies all entries
// together this keeps aliasing relationships intact within the clone).
func (t *NVTable) Clone(extraCapacity int) *NVTable {
	t.mu.RLock()
	defer t.mu.RUnlock()

	clone := NewWithCapacity(t.registry, extraCapacity)
	clone.maxArenaBytes = t.maxArenaBytes
	clone.arenaBytes = t.arenaBytes
	clone.capacity = t.capacity
	clone.order = append([]handle.Handle(nil), t.order...)
	for h, e := range t.entries {
		cp := *e
		if !e.indirect {
			raw := make([]byte, len(e.val.Raw))
			copy(raw, e.val.Raw)
			cp.val = value.Value{Type: e.val.Type, Raw: raw}
		}
		clone.entries[h] = &cp
	}
	return clone
}

// AllocatedBytes returns the simulated arena size currently in use,
// feeding the process-wide allocated_bytes counter from §5.
func (t *NVTable) AllocatedBytes() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.arenaBytes
}

// Len returns the number of live entries.
func (t *NVTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, e := range t.entries {
		if !e.dead {
			n++
		}
	}
	return n
}

// reserve grows the simulated allocation (doubling, capped at
// maxArenaBytes) to fit an additional delta bytes, retrying the
// doubling until it fits or the cap is reached. Must be called with
// t.mu held.
func (t *NVTable) reserve(delta int) bool {
	if delta <= 0 {
		return true
	}
	needed := t.arenaBytes + delta
	if needed > t.maxArenaBytes {
		return false
	}
	for t.capacity < needed {
		if t.capacity == 0 {
			t.capacity = 4096
		} else {
			t.capacity *= 2
		}
		if t.capacity > t.maxArenaBytes {
			t.capacity = t.maxArenaBytes
		}
	}
	return true
}
