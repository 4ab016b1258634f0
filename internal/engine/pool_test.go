package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func TestPoolRunsSubmittedJobs(t *testing.T) {
	p := NewPool(PoolConfig{Workers: 4, QueueSize: 16}, testLogger())
	require.NoError(t, p.Start())
	defer p.Stop()

	var count int64
	for i := 0; i < 20; i++ {
		err := p.Submit(Job{ID: "job", Run: func(ctx context.Context) error {
			atomic.AddInt64(&count, 1)
			return nil
		}})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&count) == 20
	}, 2*time.Second, 10*time.Millisecond)

	stats := p.Stats()
	assert.Equal(t, int64(20), stats.CompletedJobs)
	assert.Equal(t, int64(0), stats.FailedJobs)
}

func TestPoolSubmitBeforeStartFails(t *testing.T) {
	p := NewPool(PoolConfig{Workers: 2}, testLogger())
	err := p.Submit(Job{ID: "x", Run: func(ctx context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrPoolNotRunning)
}

func TestPoolQueueFullReturnsError(t *testing.T) {
	p := NewPool(PoolConfig{Workers: 1, QueueSize: 1}, testLogger())
	require.NoError(t, p.Start())
	defer p.Stop()

	block := make(chan struct{})
	// Occupy the single worker with a blocking job so the queue backs up.
	require.NoError(t, p.Submit(Job{ID: "blocker", Run: func(ctx context.Context) error {
		<-block
		return nil
	}}), "first submit should be picked up by the idle worker")

	// Fill the queue capacity (1) and the worker's single-slot channel (1).
	require.Eventually(t, func() bool {
		return p.Submit(Job{ID: "filler", Run: func(ctx context.Context) error { return nil }}) == nil
	}, time.Second, time.Millisecond)

	var sawFull bool
	for i := 0; i < 100; i++ {
		if err := p.Submit(Job{ID: "overflow", Run: func(ctx context.Context) error { return nil }}); err == ErrQueueFull {
			sawFull = true
			break
		}
	}
	close(block)
	assert.True(t, sawFull, "expected ErrQueueFull once queue and worker slots are saturated")
}

func TestPoolFailedJobIncrementsFailedCounter(t *testing.T) {
	p := NewPool(PoolConfig{Workers: 1, QueueSize: 4}, testLogger())
	require.NoError(t, p.Start())
	defer p.Stop()

	require.NoError(t, p.Submit(Job{ID: "fails", Run: func(ctx context.Context) error {
		return assert.AnError
	}}))

	require.Eventually(t, func() bool {
		return p.Stats().FailedJobs == 1
	}, time.Second, 10*time.Millisecond)
}

func TestPoolSyncCallQuiescesWorkers(t *testing.T) {
	p := NewPool(PoolConfig{Workers: 3, QueueSize: 8}, testLogger())
	require.NoError(t, p.Start())
	defer p.Stop()

	var inCriticalSection int32
	var sawConcurrentJob int32

	done := make(chan struct{})
	go func() {
		defer close(done)
		err := p.SyncCall(context.Background(), func() error {
			atomic.StoreInt32(&inCriticalSection, 1)
			time.Sleep(50 * time.Millisecond)
			atomic.StoreInt32(&inCriticalSection, 0)
			return nil
		})
		assert.NoError(t, err)
	}()

	// Give SyncCall a moment to actually engage the barrier before probing.
	time.Sleep(10 * time.Millisecond)
	if err := p.Submit(Job{ID: "probe", Run: func(ctx context.Context) error {
		if atomic.LoadInt32(&inCriticalSection) == 1 {
			atomic.StoreInt32(&sawConcurrentJob, 1)
		}
		return nil
	}}); err != nil {
		t.Logf("probe submit returned %v (acceptable if barrier already engaged)", err)
	}

	<-done
	assert.Equal(t, int32(0), atomic.LoadInt32(&sawConcurrentJob), "no job should run while the barrier's critical section is active")
}
