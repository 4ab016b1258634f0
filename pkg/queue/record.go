package queue

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/sswcorp/flowcore/pkg/event"
	"github.com/sswcorp/flowcore/pkg/handle"
	"github.com/sswcorp/flowcore/pkg/value"
)

// recordVersion is the payload encoding version written into every
// record (u32 length, u8 version, u8 flags, payload bytes); bumping it
// lets a future loader detect and migrate older on-disk payloads
// instead of misreading them.
const recordVersion = 1

// recordFlags bits live in the record header's flag byte.
type recordFlags uint8

const (
	recordFlagNone recordFlags = 0
)

// encodeEvent serializes ev into a self-describing payload: tags, then
// sd-handles (by name, for remap-on-load), then the three timestamps,
// pri/proto/host_id/rcpt_id/seq_num, then the NVTable itself as (name,
// type, raw-bytes) triples so a reload on a process with a freshly-built
// handle registry still resolves every field by name.
func encodeEvent(ev *event.Event, registry *handle.Registry) ([]byte, error) {
	var buf bytes.Buffer

	var tagNames []string
	if tagsText := ev.TagsString(); tagsText != "" {
		tagNames = splitCSV(tagsText)
	}
	writeUint32(&buf, uint32(len(tagNames)))
	for _, name := range tagNames {
		writeString(&buf, name)
	}

	var sdNames []string
	ev.SDataForeach(func(h handle.Handle) {
		sdNames = append(sdNames, registry.Name(h))
	})
	writeUint32(&buf, uint32(len(sdNames)))
	for _, name := range sdNames {
		writeString(&buf, name)
	}

	for _, kind := range []event.TimestampKind{event.TSReceived, event.TSMessage, event.TSProcessed} {
		ts := ev.Timestamp(kind)
		writeUint64(&buf, uint64(ts.Sec))
		writeUint32(&buf, uint32(ts.Usec))
		writeInt32(&buf, ts.GMTOff)
	}

	writeUint16(&buf, uint16(ev.Pri()))
	buf.WriteByte(byte(ev.Proto()))
	writeUint32(&buf, ev.HostID())
	writeUint64(&buf, ev.RcptID())
	writeUint32(&buf, ev.SeqNum())

	type fieldRec struct {
		name string
		v    value.Value
	}
	var fields []fieldRec
	ev.Table().Foreach(func(h handle.Handle, v value.Value) {
		fields = append(fields, fieldRec{name: registry.Name(h), v: v})
	})
	writeUint32(&buf, uint32(len(fields)))
	for _, f := range fields {
		writeString(&buf, f.name)
		buf.WriteByte(byte(f.v.Type))
		writeUint32(&buf, uint32(len(f.v.Raw)))
		buf.Write(f.v.Raw)
	}

	return buf.Bytes(), nil
}

// decodeEvent rebuilds an Event from a payload produced by encodeEvent,
// re-registering every name against the process's current registries:
// handles are re-mapped via the current process's name registry.
func decodeEvent(payload []byte, registry *handle.Registry, tagRegistry *event.TagRegistry) (*event.Event, error) {
	r := bytes.NewReader(payload)
	ev := event.NewEmpty(registry, tagRegistry)

	nTags, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("queue: decode tags count: %w", err)
	}
	for i := uint32(0); i < nTags; i++ {
		name, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("queue: decode tag %d: %w", i, err)
		}
		if err := ev.SetTagName(name); err != nil {
			return nil, err
		}
	}

	nSD, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("queue: decode sd count: %w", err)
	}
	sdNames := make([]string, nSD)
	for i := range sdNames {
		name, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("queue: decode sd name %d: %w", i, err)
		}
		sdNames[i] = name
	}

	for _, kind := range []event.TimestampKind{event.TSReceived, event.TSMessage, event.TSProcessed} {
		sec, err := readUint64(r)
		if err != nil {
			return nil, fmt.Errorf("queue: decode timestamp sec: %w", err)
		}
		usec, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("queue: decode timestamp usec: %w", err)
		}
		gmtoff, err := readInt32(r)
		if err != nil {
			return nil, fmt.Errorf("queue: decode timestamp gmtoff: %w", err)
		}
		if err := ev.SetTimestamp(kind, value.DateTime{Sec: int64(sec), Usec: int32(usec), GMTOff: gmtoff}); err != nil {
			return nil, err
		}
	}

	pri, err := readUint16(r)
	if err != nil {
		return nil, fmt.Errorf("queue: decode pri: %w", err)
	}
	ev.SetPri(int(pri))

	protoByte, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("queue: decode proto: %w", err)
	}
	ev.SetProto(event.Proto(protoByte))

	hostID, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("queue: decode host_id: %w", err)
	}
	ev.SetHostID(hostID)

	rcptID, err := readUint64(r)
	if err != nil {
		return nil, fmt.Errorf("queue: decode rcpt_id: %w", err)
	}
	ev.SetRcptID(rcptID)

	seqNum, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("queue: decode seq_num: %w", err)
	}
	ev.SetSeqNum(seqNum)

	nFields, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("queue: decode field count: %w", err)
	}
	for i := uint32(0); i < nFields; i++ {
		name, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("queue: decode field name %d: %w", i, err)
		}
		typByte, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("queue: decode field type %d: %w", i, err)
		}
		raw, err := readBytes(r)
		if err != nil {
			return nil, fmt.Errorf("queue: decode field value %d: %w", i, err)
		}
		h := registry.GetHandle(name)
		v := value.Value{Type: value.Type(typByte), Raw: raw}
		if err := ev.SetValue(h, v); err != nil {
			return nil, err
		}
	}

	return ev, nil
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeInt32(buf *bytes.Buffer, v int32) { writeUint32(buf, uint32(v)) }

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeString(buf *bytes.Buffer, s string) {
	writeUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func readUint16(r *bytes.Reader) (uint16, error) {
	var b [2]byte
	if _, err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readInt32(r *bytes.Reader) (int32, error) {
	v, err := readUint32(r)
	return int32(v), err
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func readString(r *bytes.Reader) (string, error) {
	b, err := readBytes(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := readFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func readFull(r *bytes.Reader, b []byte) (int, error) {
	n := 0
	for n < len(b) {
		m, err := r.Read(b[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
