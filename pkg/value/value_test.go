package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntRoundTrip(t *testing.T) {
	v := NewInt(-42)
	i, err := v.AsInt()
	require.NoError(t, err)
	assert.EqualValues(t, -42, i)
}

func TestDoubleRoundTrip(t *testing.T) {
	v := NewDouble(3.14159)
	f, err := v.AsDouble()
	require.NoError(t, err)
	assert.InDelta(t, 3.14159, f, 1e-9)
}

func TestBoolRoundTrip(t *testing.T) {
	v := NewBool(true)
	b, err := v.AsBool()
	require.NoError(t, err)
	assert.True(t, b)
}

func TestDateTimeRoundTrip(t *testing.T) {
	dt := DateTime{Sec: 1710074096, Usec: 789000, GMTOff: -3600}
	v := NewDateTime(dt)
	out, err := v.AsDateTime()
	require.NoError(t, err)
	assert.Equal(t, dt, out)
}

func TestDateTimePositiveOffsetRoundTrip(t *testing.T) {
	dt := DateTime{Sec: 1710074096, Usec: 0, GMTOff: 19800} // +05:30
	v := NewDateTime(dt)
	out, err := v.AsDateTime()
	require.NoError(t, err)
	assert.Equal(t, dt, out)
}

func TestListRoundTripWithEscaping(t *testing.T) {
	items := []string{"a,b", "c\\d", "plain"}
	v := NewList(items)
	out, err := v.AsList()
	require.NoError(t, err)
	assert.Equal(t, items, out)
}

func TestBytesRoundTrip(t *testing.T) {
	payload := []byte{0x00, 0xFF, 0x10, 0xAB}
	v := NewBytes(payload)
	out, err := v.AsBytes()
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestWrongAccessorReturnsError(t *testing.T) {
	v := NewString("hello")
	_, err := v.AsInt()
	assert.Error(t, err)
}

func TestNoneAndNullAreDistinct(t *testing.T) {
	assert.NotEqual(t, None().Type, Null().Type)
	assert.False(t, None().IsSet())
	assert.True(t, Null().IsSet())
}
