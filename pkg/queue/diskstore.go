package queue

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sswcorp/flowcore/pkg/event"
	"github.com/sswcorp/flowcore/pkg/handle"
)

// headerSize is the fixed QDisk header length.
const headerSize = 1024

var (
	magicNonReliable = [4]byte{'S', 'L', 'Q', 'F'}
	magicReliable    = [4]byte{'S', 'L', 'Q', 'R'}
)

const diskFormatVersion = 1

const (
	headerFlagBigEndian     = 1 << 0
	headerFlagSupportsUnset = 1 << 1
)

// diskHeader mirrors the fixed 1024-byte QDisk header exactly: magic,
// version, flags, head/tail offsets, length, dropped, backlog head,
// with the remainder reserved/zeroed.
type diskHeader struct {
	magic       [4]byte
	version     byte
	flags       byte
	headOfs     uint64
	tailOfs     uint64
	length      uint64
	dropped     uint64
	backlogHead uint64
}

func (h *diskHeader) encode() []byte {
	b := make([]byte, headerSize)
	copy(b[0:4], h.magic[:])
	b[4] = h.version
	b[5] = h.flags
	binary.LittleEndian.PutUint64(b[6:14], h.headOfs)
	binary.LittleEndian.PutUint64(b[14:22], h.tailOfs)
	binary.LittleEndian.PutUint64(b[22:30], h.length)
	binary.LittleEndian.PutUint64(b[30:38], h.dropped)
	binary.LittleEndian.PutUint64(b[38:46], h.backlogHead)
	return b
}

func decodeHeader(b []byte) (*diskHeader, error) {
	if len(b) < headerSize {
		return nil, fmt.Errorf("queue: short header (%d bytes)", len(b))
	}
	h := &diskHeader{
		version: b[4],
		flags:   b[5],
	}
	copy(h.magic[:], b[0:4])
	if h.magic != magicReliable && h.magic != magicNonReliable {
		return nil, fmt.Errorf("queue: bad magic %q", h.magic)
	}
	h.headOfs = binary.LittleEndian.Uint64(b[6:14])
	h.tailOfs = binary.LittleEndian.Uint64(b[14:22])
	h.length = binary.LittleEndian.Uint64(b[22:30])
	h.dropped = binary.LittleEndian.Uint64(b[30:38])
	h.backlogHead = binary.LittleEndian.Uint64(b[38:46])
	return h, nil
}

// diskStore is the append-only, length-prefixed on-disk log backing a
// durable queue (QDisk layout). Its append/rotate/recover shape is
// grounded on pkg/buffer/disk_buffer.go, adapted from disk_buffer's
// JSON+checksum BufferEntry framing to an exact binary record format
// (u32 length, u8 version, u8 flags, payload bytes) with no per-record
// checksum: it relies on length-prefix self-description and an
// explicit compaction step instead of per-record hashing.
type diskStore struct {
	mu       sync.Mutex
	file     *os.File
	w        *bufio.Writer
	header   diskHeader
	unsynced int
	syncFreq int // records between forced Sync calls; <=0 means sync every append
}

// openDiskStore opens or creates the file at path, reading and
// validating any existing header. It returns recovered=false on
// irrecoverable corruption so the caller can start fresh.
func openDiskStore(path string, reliable bool, syncFreq int) (ds *diskStore, recovered bool, err error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o640)
	if err != nil {
		return nil, false, fmt.Errorf("queue: open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, false, err
	}

	ds = &diskStore{file: f, syncFreq: syncFreq}
	if info.Size() >= headerSize {
		buf := make([]byte, headerSize)
		if _, err := io.ReadFull(f, buf); err != nil {
			f.Close()
			return nil, false, fmt.Errorf("queue: read header: %w", err)
		}
		hdr, err := decodeHeader(buf)
		if err != nil {
			// Irrecoverable corruption: caller may mark the file
			// corrupted and start fresh.
			f.Close()
			return nil, false, err
		}
		ds.header = *hdr
		recovered = true
	} else {
		magic := magicNonReliable
		if reliable {
			magic = magicReliable
		}
		ds.header = diskHeader{
			magic:   magic,
			version: diskFormatVersion,
			headOfs: headerSize,
			tailOfs: headerSize,
		}
		if err := ds.writeHeaderLocked(); err != nil {
			f.Close()
			return nil, false, err
		}
	}

	ds.w = bufio.NewWriter(f)
	return ds, recovered, nil
}

func (ds *diskStore) writeHeaderLocked() error {
	if _, err := ds.file.WriteAt(ds.header.encode(), 0); err != nil {
		return fmt.Errorf("queue: write header: %w", err)
	}
	return nil
}

// appendRecord writes ev at the current tail offset and advances it,
// returning the offset the record was written at. It fsyncs the file
// once syncFreq records have been appended since the last sync (on
// every append when syncFreq <= 0). The non-reliable queue opens its
// store with syncFreq 1, so it fsyncs on every append.
func (ds *diskStore) appendRecord(ev *event.Event, registry *handle.Registry) (offset uint64, nextOffset uint64, err error) {
	payload, err := encodeEvent(ev, registry)
	if err != nil {
		return 0, 0, err
	}

	ds.mu.Lock()
	defer ds.mu.Unlock()

	offset = ds.header.tailOfs
	if _, err := ds.file.Seek(int64(offset), io.SeekStart); err != nil {
		return 0, 0, err
	}
	ds.w.Reset(ds.file)

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := ds.w.Write(lenBuf[:]); err != nil {
		return 0, 0, err
	}
	if err := ds.w.WriteByte(recordVersion); err != nil {
		return 0, 0, err
	}
	if err := ds.w.WriteByte(byte(recordFlagNone)); err != nil {
		return 0, 0, err
	}
	if _, err := ds.w.Write(payload); err != nil {
		return 0, 0, err
	}
	if err := ds.w.Flush(); err != nil {
		return 0, 0, err
	}

	nextOffset = offset + recordHeaderLen + uint64(len(payload))
	ds.header.tailOfs = nextOffset
	ds.header.length++
	ds.unsynced++
	if ds.syncFreq <= 0 || ds.unsynced >= ds.syncFreq {
		if err := ds.file.Sync(); err != nil {
			return 0, 0, err
		}
		ds.unsynced = 0
	}
	if err := ds.writeHeaderLocked(); err != nil {
		return 0, 0, err
	}
	return offset, nextOffset, nil
}

const recordHeaderLen = 4 + 1 + 1 // length u32, version u8, flags u8

// readRecord reads the record at offset, returning the decoded event
// and the offset immediately following it.
func (ds *diskStore) readRecord(offset uint64, registry *handle.Registry, tagRegistry *event.TagRegistry) (*event.Event, uint64, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	hdr := make([]byte, recordHeaderLen)
	if _, err := ds.file.ReadAt(hdr, int64(offset)); err != nil {
		return nil, 0, err
	}
	length := binary.LittleEndian.Uint32(hdr[0:4])
	payload := make([]byte, length)
	if _, err := ds.file.ReadAt(payload, int64(offset)+recordHeaderLen); err != nil {
		return nil, 0, err
	}
	ev, err := decodeEvent(payload, registry, tagRegistry)
	if err != nil {
		return nil, 0, err
	}
	return ev, offset + recordHeaderLen + uint64(length), nil
}

// advanceHead moves head_ofs to off, used when consumed records are
// compacted away from the logical front of the ring.
func (ds *diskStore) advanceHead(off uint64) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.header.headOfs = off
	return ds.writeHeaderLocked()
}

func (ds *diskStore) incDropped() error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.header.dropped++
	return ds.writeHeaderLocked()
}

// compactIfFullyDrained resets the file to its empty state once
// head_ofs has caught up to tail_ofs (every written record has been
// consumed), bounding steady-state file growth via truncation on
// explicit compaction rather than full ring-buffer wraparound. It
// reports whether compaction happened.
func (ds *diskStore) compactIfFullyDrained() (bool, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.header.headOfs != ds.header.tailOfs {
		return false, nil
	}
	if ds.header.headOfs == headerSize {
		return false, nil // already compact
	}
	ds.header.headOfs = headerSize
	ds.header.tailOfs = headerSize
	ds.header.length = 0
	if err := ds.file.Truncate(headerSize); err != nil {
		return false, err
	}
	return true, ds.writeHeaderLocked()
}

func (ds *diskStore) dropped() uint64 {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.header.dropped
}

func (ds *diskStore) length() uint64 {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.header.length
}

// sync flushes any buffered writer state and fsyncs the file, used by
// stop() to guarantee durability on graceful shutdown.
func (ds *diskStore) sync() error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if err := ds.w.Flush(); err != nil {
		return err
	}
	return ds.file.Sync()
}

func (ds *diskStore) close() error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.w != nil {
		ds.w.Flush()
	}
	return ds.file.Close()
}
