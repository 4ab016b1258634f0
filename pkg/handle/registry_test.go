package handle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetHandleIsIdempotent(t *testing.T) {
	r := NewRegistry()
	h1 := r.GetHandle("APPNAME")
	h2 := r.GetHandle("APPNAME")
	assert.Equal(t, h1, h2)
	assert.Equal(t, "APPNAME", r.Name(h1))
}

func TestBuiltinHandlesPreregistered(t *testing.T) {
	r := NewRegistry()
	h, ok := r.LookupHandle("HOST")
	assert.True(t, ok)
	assert.Equal(t, HHost, h)
	assert.True(t, r.IsBuiltin(h))
}

func TestSDataNamesAreTagged(t *testing.T) {
	r := NewRegistry()
	h := r.GetHandle(".SDATA.meta.seq@1.value")
	assert.True(t, r.IsSData(h))

	// Fewer than 2 dots after the prefix is not legal SDATA.
	h2 := r.GetHandle(".SDATA.meta.value")
	assert.False(t, r.IsSData(h2))
}

func TestMatchHandlesPreregisteredAndIndexable(t *testing.T) {
	r := NewRegistry()
	h, ok := r.LookupHandle("3")
	assert.True(t, ok)
	assert.True(t, r.IsMatch(h))
	assert.Equal(t, 3, r.MatchIndex(h))
	assert.Equal(t, h, MatchHandle(3))
}

func TestCanAliasAsExcludesMacroAndMatch(t *testing.T) {
	r := NewRegistry()
	macroH := r.RegisterMacro("DATE", 1)
	assert.False(t, r.CanAliasAs(macroH))

	matchH, _ := r.LookupHandle("0")
	assert.False(t, r.CanAliasAs(matchH))

	dynH := r.GetHandle("custom_field")
	assert.True(t, r.CanAliasAs(dynH))
}

func TestConcurrentGetHandleSameName(t *testing.T) {
	r := NewRegistry()
	const n = 64
	results := make(chan Handle, n)
	for i := 0; i < n; i++ {
		go func() { results <- r.GetHandle("concurrent_field") }()
	}
	first := <-results
	for i := 1; i < n; i++ {
		assert.Equal(t, first, <-results)
	}
}
