package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sswcorp/flowcore/pkg/event"
	"github.com/sswcorp/flowcore/pkg/handle"
)

func TestParseSyslogRFC5424(t *testing.T) {
	r := handle.NewRegistry()
	tr := event.NewTagRegistry()
	raw := []byte(`<165>1 2026-07-30T12:00:00.000Z web-01 myapp 4321 ID47 [meta@32473 seq="1"] disk almost full`)

	ev, err := ParseSyslog(raw, r, tr, event.ProtoSyslogFramed)
	require.NoError(t, err)

	assert.Equal(t, 165, ev.Pri())
	v, _ := ev.GetValue(handle.HHost)
	assert.Equal(t, "web-01", v.AsString())
	v, _ = ev.GetValue(handle.HProgram)
	assert.Equal(t, "myapp", v.AsString())
	v, _ = ev.GetValue(handle.HPid)
	assert.Equal(t, "4321", v.AsString())
	v, _ = ev.GetValue(handle.HMsgID)
	assert.Equal(t, "ID47", v.AsString())
	v, _ = ev.GetValue(r.GetHandle(".SDATA.meta@32473.seq"))
	assert.Equal(t, "1", v.AsString())
	v, _ = ev.GetValue(handle.HMessage)
	assert.Equal(t, "disk almost full", v.AsString())
}

func TestParseSyslogRFC5424MissingHostnameTags(t *testing.T) {
	r := handle.NewRegistry()
	tr := event.NewTagRegistry()
	raw := []byte(`<13>1 - - - - - - no hostname here`)

	ev, err := ParseSyslog(raw, r, tr, event.ProtoSyslogText)
	require.NoError(t, err)
	assert.True(t, ev.HasTag(tr.GetTagID("syslog.rfc5424_missing_hostname")))
}

func TestParseSyslogRFC3164(t *testing.T) {
	r := handle.NewRegistry()
	tr := event.NewTagRegistry()
	raw := []byte(`<34>Oct 11 22:14:15 mymachine su[12345]: 'su root' failed`)

	ev, err := ParseSyslog(raw, r, tr, event.ProtoSyslogText)
	require.NoError(t, err)
	assert.Equal(t, 34, ev.Pri())
	v, _ := ev.GetValue(handle.HHost)
	assert.Equal(t, "mymachine", v.AsString())
	v, _ = ev.GetValue(handle.HProgram)
	assert.Equal(t, "su", v.AsString())
	v, _ = ev.GetValue(handle.HPid)
	assert.Equal(t, "12345", v.AsString())
	v, _ = ev.GetValue(handle.HMessage)
	assert.Equal(t, "'su root' failed", v.AsString())
}

func TestParseSyslogMissingPriTagged(t *testing.T) {
	r := handle.NewRegistry()
	tr := event.NewTagRegistry()
	ev, err := ParseSyslog([]byte("no leading pri here"), r, tr, event.ProtoSyslogText)
	require.NoError(t, err)
	assert.True(t, ev.HasTag(tr.GetTagID("syslog.missing_pri")))
}
