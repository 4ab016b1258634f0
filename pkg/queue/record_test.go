package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sswcorp/flowcore/pkg/event"
	"github.com/sswcorp/flowcore/pkg/handle"
	"github.com/sswcorp/flowcore/pkg/value"
)

func TestEncodeDecodeEventRoundTrip(t *testing.T) {
	r := handle.NewRegistry()
	tr := event.NewTagRegistry()
	ev := event.NewEmpty(r, tr)
	require.NoError(t, ev.SetValue(handle.HHost, value.NewString("web-01")))
	require.NoError(t, ev.SetValue(handle.HMessage, value.NewString("disk is 90% full")))
	require.NoError(t, ev.SetValue(r.GetHandle(".SDATA.meta.seq@1.id"), value.NewString("42")))
	require.NoError(t, ev.SetTagName("syslog.rfc5424_missing_hostname"))
	require.NoError(t, ev.SetTagName("parsed"))
	require.NoError(t, ev.SetTimestamp(event.TSMessage, value.DateTime{Sec: 1700000000, Usec: 500, GMTOff: -18000}))
	ev.SetPri(13)
	ev.SetProto(event.ProtoSyslogText)
	ev.SetHostID(7)
	ev.SetRcptID(99)
	ev.SetSeqNum(1001)

	payload, err := encodeEvent(ev, r)
	require.NoError(t, err)

	r2 := handle.NewRegistry()
	tr2 := event.NewTagRegistry()
	got, err := decodeEvent(payload, r2, tr2)
	require.NoError(t, err)

	v, ok := got.GetValue(handle.HHost)
	require.True(t, ok)
	assert.Equal(t, "web-01", v.AsString())

	v, ok = got.GetValue(handle.HMessage)
	require.True(t, ok)
	assert.Equal(t, "disk is 90% full", v.AsString())

	v, ok = got.GetValue(r2.GetHandle(".SDATA.meta.seq@1.id"))
	require.True(t, ok)
	assert.Equal(t, "42", v.AsString())

	assert.True(t, got.HasTag(tr2.GetTagID("parsed")))
	assert.True(t, got.HasTag(tr2.GetTagID("syslog.rfc5424_missing_hostname")))

	ts := got.Timestamp(event.TSMessage)
	assert.Equal(t, int64(1700000000), ts.Sec)
	assert.Equal(t, int32(500), ts.Usec)
	assert.Equal(t, int32(-18000), ts.GMTOff)

	assert.Equal(t, 13, got.Pri())
	assert.Equal(t, event.ProtoSyslogText, got.Proto())
	assert.Equal(t, uint32(7), got.HostID())
	assert.Equal(t, uint64(99), got.RcptID())
	assert.Equal(t, uint32(1001), got.SeqNum())

	var sdNames []string
	got.SDataForeach(func(h handle.Handle) { sdNames = append(sdNames, r2.Name(h)) })
	assert.Equal(t, []string{".SDATA.meta.seq@1.id"}, sdNames)
}
