// Package handle implements a global name->handle registry with
// process-lifetime handle allocation.
//
// A Handle is a stable, process-lifetime integer identifier for a field
// name. The registry partitions the handle space into built-in fields
// (fixed, assigned at init), match-group captures ($0..$255, also
// fixed), and dynamically registered fields (assigned on first use).
// Registration is rare after startup, so the registry favors a simple
// RWMutex over a lock-free structure, grounded on the read-mostly
// concurrency style of pkg/types/labels_cow.go rather than a
// hand-rolled RCU, since Go's sync.RWMutex already gives writes a
// short critical section.
package handle

import (
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Handle is an opaque, stable integer identifier for a field name.
type Handle uint32

// Invalid is never returned by GetHandle; it marks the absence of a handle.
const Invalid Handle = 0

// Kind flag bits, OR'd into an entry's Flags word.
const (
	FlagMacro Flags = 1 << iota
	FlagSData
	FlagMatch
	FlagBuiltin
)

// Flags is the 16-bit flag word associated with each handle.
type Flags uint16

// Built-in field handles. These are assigned during package init so
// they are stable constants usable without a registry lookup.
const (
	HHost Handle = iota + 1
	HMessage
	HProgram
	HPid
	HMsgID
	HSource
	HLegacyMsgHdr
	HFacility
	HPriority
	HHostFrom
	HSourceIP
	HDestIP
)

var builtinNames = map[Handle]string{
	HHost:         "HOST",
	HMessage:      "MESSAGE",
	HProgram:      "PROGRAM",
	HPid:          "PID",
	HMsgID:        "MSGID",
	HSource:       "SOURCE",
	HLegacyMsgHdr: "LEGACY_MSGHDR",
	HFacility:     "FACILITY",
	HPriority:     "PRIORITY",
	HHostFrom:     "HOST_FROM",
	HSourceIP:     "SOURCE_IP",
	HDestIP:       "DEST_IP",
}

// matchBase is the first handle in the $0..$255 match-capture range.
const matchBase Handle = 1000
const matchCount Handle = 256

// dynamicBase is the first handle assigned to a dynamically registered name.
const dynamicBase Handle = matchBase + matchCount

// entry holds the registry's metadata about one allocated handle.
type entry struct {
	name  string
	flags Flags
	aux   byte // macro id, match index, or SD-id length depending on flags
}

// Registry is the process-wide name<->handle mapping.
type Registry struct {
	mu        sync.RWMutex
	byName    map[string]Handle
	byHandle  map[Handle]*entry
	nextHandle Handle
}

// NewRegistry creates a Registry pre-populated with built-in fields and
// the 256 match-capture handles.
func NewRegistry() *Registry {
	r := &Registry{
		byName:     make(map[string]Handle, 512),
		byHandle:   make(map[Handle]*entry, 512),
		nextHandle: dynamicBase,
	}
	for h, name := range builtinNames {
		r.byHandle[h] = &entry{name: name, flags: FlagBuiltin}
		r.byName[name] = h
	}
	for i := Handle(0); i < matchCount; i++ {
		h := matchBase + i
		name := strconv.FormatUint(uint64(i), 10)
		r.byHandle[h] = &entry{name: name, flags: FlagMatch, aux: byte(i)}
		r.byName[name] = h
	}
	return r
}

// GetHandle returns the handle for name, registering it if this is the
// first time it has been seen. Names starting with ".SDATA." and
// containing at least 2 dots after the prefix (block.id.key) are
// tagged FlagSData.
// Digit-only names "0".."255" resolve to the pre-registered match-group
// handles. Registration is idempotent.
func (r *Registry) GetHandle(name string) Handle {
	r.mu.RLock()
	if h, ok := r.byName[name]; ok {
		r.mu.RUnlock()
		return h
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	// Re-check under the write lock: another writer may have registered
	// this name between our RUnlock and Lock.
	if h, ok := r.byName[name]; ok {
		return h
	}

	var flags Flags
	var aux byte
	if isSData(name) {
		flags |= FlagSData
		aux = sdataIDLen(name)
	}

	h := r.nextHandle
	r.nextHandle++
	r.byHandle[h] = &entry{name: name, flags: flags, aux: aux}
	r.byName[name] = h
	return h
}

// LookupHandle returns the handle for name without registering it.
func (r *Registry) LookupHandle(name string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byName[name]
	return h, ok
}

// Name returns the registered name for a handle, or "" if unknown.
func (r *Registry) Name(h Handle) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.byHandle[h]; ok {
		return e.name
	}
	return ""
}

// HandleFlags returns the flag word associated with a handle.
func (r *Registry) HandleFlags(h Handle) Flags {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.byHandle[h]; ok {
		return e.flags
	}
	return 0
}

// IsMacro reports whether h was registered as a macro handle.
func (r *Registry) IsMacro(h Handle) bool { return r.HandleFlags(h)&FlagMacro != 0 }

// IsSData reports whether h is a structured-data field (".SDATA.block.id.key").
func (r *Registry) IsSData(h Handle) bool { return r.HandleFlags(h)&FlagSData != 0 }

// IsMatch reports whether h is one of the $0..$255 match-capture handles.
func (r *Registry) IsMatch(h Handle) bool { return r.HandleFlags(h)&FlagMatch != 0 }

// IsBuiltin reports whether h is one of the fixed built-in field handles.
func (r *Registry) IsBuiltin(h Handle) bool { return r.HandleFlags(h)&FlagBuiltin != 0 }

// CanAliasAs reports whether h is a legal target for an indirect
// reference: built-ins and dynamic fields may be aliased, macros and
// match captures may not (they are synthesized on read, not stored
// values).
func (r *Registry) CanAliasAs(h Handle) bool {
	flags := r.HandleFlags(h)
	return flags&(FlagMacro|FlagMatch) == 0
}

// RegisterMacro registers a named macro handle with the given macro id
// stashed in the handle's aux byte. Used once at init by the template
// engine's macro table.
func (r *Registry) RegisterMacro(name string, macroID byte) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.byName[name]; ok {
		return h
	}
	h := r.nextHandle
	r.nextHandle++
	r.byHandle[h] = &entry{name: name, flags: FlagMacro, aux: macroID}
	r.byName[name] = h
	return h
}

// MacroID returns the macro id stashed in a macro handle's aux byte.
func (r *Registry) MacroID(h Handle) byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.byHandle[h]; ok && e.flags&FlagMacro != 0 {
		return e.aux
	}
	return 0
}

// MatchIndex returns the capture-group index ($0..$255) for a match handle.
func (r *Registry) MatchIndex(h Handle) int {
	if h < matchBase || h >= dynamicBase {
		return -1
	}
	return int(h - matchBase)
}

// MatchHandle returns the pre-registered handle for capture group idx.
func MatchHandle(idx int) Handle {
	return matchBase + Handle(idx)
}

func isSData(name string) bool {
	const prefix = ".SDATA."
	if !strings.HasPrefix(name, prefix) {
		return false
	}
	rest := name[len(prefix):]
	return strings.Count(rest, ".") >= 2
}

// sdataIDLen returns the byte length of the "block.id" component of a
// ".SDATA.block.id.key" name, used as the aux byte so the owning event
// can find a handle's SD block without re-parsing the name string.
func sdataIDLen(name string) byte {
	const prefix = ".SDATA."
	rest := name[len(prefix):]
	parts := strings.SplitN(rest, ".", 3)
	if len(parts) < 2 {
		return 0
	}
	l := len(parts[0]) + 1 + len(parts[1])
	if l > 255 {
		l = 255
	}
	return byte(l)
}

// FastHash computes a process-stable 64-bit xxhash of a name. Nothing in
// this module calls it; the NVTable looks entries up in a map keyed by
// Handle.
func FastHash(name string) uint64 {
	return xxhash.Sum64String(name)
}
