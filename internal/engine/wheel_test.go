package engine

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerWheelFiresOneShot(t *testing.T) {
	w := NewTimerWheel(32, 10*time.Millisecond, testLogger())
	w.Start()
	defer w.Stop()

	fired := make(chan struct{})
	w.Schedule(30*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestTimerWheelFiresPeriodic(t *testing.T) {
	w := NewTimerWheel(16, 5*time.Millisecond, testLogger())
	w.Start()
	defer w.Stop()

	var count int32
	w.SchedulePeriodic(10*time.Millisecond, func() {
		atomic.AddInt32(&count, 1)
	})

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&count) >= 3
	}, time.Second, 5*time.Millisecond)
}

func TestTimerWheelCancelPreventsFiring(t *testing.T) {
	w := NewTimerWheel(32, 10*time.Millisecond, testLogger())
	w.Start()
	defer w.Stop()

	var fired int32
	id := w.Schedule(50*time.Millisecond, func() {
		atomic.AddInt32(&fired, 1)
	})
	w.Cancel(id)

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fired))
}
