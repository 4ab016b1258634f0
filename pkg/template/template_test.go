package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sswcorp/flowcore/pkg/event"
	"github.com/sswcorp/flowcore/pkg/handle"
	"github.com/sswcorp/flowcore/pkg/value"
)

func newTestEvent(t *testing.T) (*handle.Registry, *event.Event) {
	t.Helper()
	r := handle.NewRegistry()
	tr := event.NewTagRegistry()
	e := event.NewEmpty(r, tr)
	require.NoError(t, e.SetValue(handle.HHost, value.NewString("web-01")))
	require.NoError(t, e.SetValue(handle.HProgram, value.NewString("sshd")))
	require.NoError(t, e.SetValue(handle.HPid, value.NewString("4242")))
	require.NoError(t, e.SetValue(handle.HMessage, value.NewString("accepted password")))
	require.NoError(t, e.SetMatch(1, value.NewString("10.0.0.5")))
	require.NoError(t, e.SetTimestamp(event.TSMessage, value.DateTime{Sec: 1700000000, Usec: 123456, GMTOff: 3600}))
	return r, e
}

func TestLiteralOnlyTemplate(t *testing.T) {
	r, e := newTestEvent(t)
	tpl, err := Compile("a plain string", r)
	require.NoError(t, err)

	out, err := tpl.EvalString(e, DefaultEvalOptions())
	require.NoError(t, err)
	assert.Equal(t, "a plain string", out)
}

func TestHandleLookupAndDollarDollarEscape(t *testing.T) {
	r, e := newTestEvent(t)
	tpl, err := Compile("${HOST} costs $$5", r)
	require.NoError(t, err)

	out, err := tpl.EvalString(e, DefaultEvalOptions())
	require.NoError(t, err)
	assert.Equal(t, "web-01 costs $5", out)
}

func TestMatchCaptureByIndex(t *testing.T) {
	r, e := newTestEvent(t)
	tpl, err := Compile("src=$1", r)
	require.NoError(t, err)

	out, err := tpl.EvalString(e, DefaultEvalOptions())
	require.NoError(t, err)
	assert.Equal(t, "src=10.0.0.5", out)
}

func TestMacrosProduceExpectedFields(t *testing.T) {
	r, e := newTestEvent(t)
	tpl, err := Compile("${PROGRAM}[${PID}]: ${MESSAGE}", r)
	require.NoError(t, err)

	out, err := tpl.EvalString(e, DefaultEvalOptions())
	require.NoError(t, err)
	assert.Equal(t, "sshd[4242]: accepted password", out)
}

func TestISODATEIgnoresTemplateDefaultFormat(t *testing.T) {
	r, e := newTestEvent(t)
	tpl, err := Compile("${ISODATE}", r)
	require.NoError(t, err)

	eo := DefaultEvalOptions()
	eo.Format = FormatUnix // should have no effect on ISODATE, which is a fixed-format macro
	out, err := tpl.EvalString(e, eo)
	require.NoError(t, err)
	assert.Contains(t, out, "T")
	assert.Contains(t, out, "+0100")
}

func TestTagsMacroListsSortedTagNames(t *testing.T) {
	r := handle.NewRegistry()
	tr := event.NewTagRegistry()
	e := event.NewEmpty(r, tr)
	require.NoError(t, e.SetTagName("zzz"))
	require.NoError(t, e.SetTagName("aaa"))

	tpl, err := Compile("${TAGS}", r)
	require.NoError(t, err)
	out, err := tpl.EvalString(e, DefaultEvalOptions())
	require.NoError(t, err)
	assert.Equal(t, "aaa,zzz", out)
}

func TestEscapeRewritesQuotesAndControlBytes(t *testing.T) {
	got := Escape("a\"b'c\\d\x01e")
	assert.Equal(t, `a\042b\047c\134d\001e`, got)
}

func TestEscapeOptionAppliesToHandleValues(t *testing.T) {
	r := handle.NewRegistry()
	tr := event.NewTagRegistry()
	e := event.NewEmpty(r, tr)
	require.NoError(t, e.SetValue(handle.HMessage, value.NewString(`say "hi"`)))

	tpl, err := Compile("${MESSAGE}", r)
	require.NoError(t, err)
	eo := DefaultEvalOptions()
	eo.Escape = true
	out, err := tpl.EvalString(e, eo)
	require.NoError(t, err)
	assert.Equal(t, `say \042hi\042`, out)
}

func TestUnterminatedBraceIsAnError(t *testing.T) {
	r := handle.NewRegistry()
	_, err := Compile("${HOST", r)
	assert.Error(t, err)
}

func TestBareDollarIsAnError(t *testing.T) {
	r := handle.NewRegistry()
	_, err := Compile("cost: $", r)
	assert.Error(t, err)
}

func TestUnsetHandleRendersEmpty(t *testing.T) {
	r := handle.NewRegistry()
	tr := event.NewTagRegistry()
	e := event.NewEmpty(r, tr)

	tpl, err := Compile("[${custom_field}]", r)
	require.NoError(t, err)
	out, err := tpl.EvalString(e, DefaultEvalOptions())
	require.NoError(t, err)
	assert.Equal(t, "[]", out)
}

func TestBufferPoolRoundTrip(t *testing.T) {
	buf := AcquireBuffer()
	buf.WriteString("leftover")
	ReleaseBuffer(buf)

	buf2 := AcquireBuffer()
	assert.Equal(t, 0, buf2.Len(), "Acquire must hand back a reset buffer")
	ReleaseBuffer(buf2)
}
