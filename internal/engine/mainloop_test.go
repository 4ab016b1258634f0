package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMainLoopRunMainTaskRuns(t *testing.T) {
	pool := NewPool(PoolConfig{Workers: 2, QueueSize: 4}, testLogger())
	wheel := NewTimerWheel(16, 10*time.Millisecond, testLogger())
	m := NewMainLoop(pool, wheel, nil, testLogger())

	var ran bool
	m.runMainTask(MainTask{Name: "probe", Run: func(ctx context.Context) error {
		ran = true
		return nil
	}})
	assert.True(t, ran)
}

func TestMainLoopDoReloadAppliesNewConfig(t *testing.T) {
	pool := NewPool(PoolConfig{Workers: 2, QueueSize: 4}, testLogger())
	wheel := NewTimerWheel(16, 10*time.Millisecond, testLogger())
	require.NoError(t, pool.Start())
	defer pool.Stop()

	var reloaded bool
	m := NewMainLoop(pool, wheel, func(ctx context.Context) error {
		reloaded = true
		return nil
	}, testLogger())

	m.doReload()
	assert.True(t, reloaded)
}

func TestMainLoopDoReloadRejectionKeepsRunning(t *testing.T) {
	pool := NewPool(PoolConfig{Workers: 2, QueueSize: 4}, testLogger())
	wheel := NewTimerWheel(16, 10*time.Millisecond, testLogger())
	require.NoError(t, pool.Start())
	defer pool.Stop()

	m := NewMainLoop(pool, wheel, func(ctx context.Context) error {
		return assert.AnError
	}, testLogger())

	// Must not panic; the pool must still accept work afterward.
	m.doReload()
	err := pool.Submit(Job{ID: "still-alive", Run: func(ctx context.Context) error { return nil }})
	assert.NoError(t, err)
}

func TestMainLoopDoReloadNoopWhenNilReload(t *testing.T) {
	pool := NewPool(PoolConfig{Workers: 1, QueueSize: 1}, testLogger())
	wheel := NewTimerWheel(8, 10*time.Millisecond, testLogger())
	require.NoError(t, pool.Start())
	defer pool.Stop()

	m := NewMainLoop(pool, wheel, nil, testLogger())
	m.doReload() // should be a no-op, not panic
}
