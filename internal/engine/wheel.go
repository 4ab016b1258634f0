package engine

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// timerEntry is one scheduled timeout: a deadline and the function the
// wheel's ticking goroutine runs once that deadline elapses.
type timerEntry struct {
	id       uint64
	deadline time.Time
	period   time.Duration // 0 for one-shot
	fire     func()
}

// TimerWheel is a hashed timer wheel ticking on the main thread: every
// tick advances one bucket and fires the entries in it whose deadline
// has elapsed. Grounded on
// the single-timer reset pattern of pkg/batching/adaptive_batcher.go's
// resetFlushTimer and pkg/hotreload/config_reloader.go's debounce
// timer, generalized from one timer per component to many timers
// bucketed by deadline so the main thread advances scheduled
// pattern-DB/correlation timeouts with one ticker instead of one
// goroutine per timeout.
type TimerWheel struct {
	mu        sync.Mutex
	tick      time.Duration
	buckets   [][]*timerEntry
	cursor    int
	nextID    uint64
	logger    *logrus.Logger
	ticker    *time.Ticker
	stop      chan struct{}
	stopped   chan struct{}
}

// NewTimerWheel creates a wheel with slots buckets, each advanced every
// tick. A 64-slot, 100ms wheel covers schedules up to 6.4s per full
// revolution; an entry with a longer deadline stays in its bucket and is
// skipped on each visit until its deadline has passed. Entries carry
// their true deadline and are only fired once the wheel's cursor AND
// the entry's wall-clock deadline agree.
func NewTimerWheel(slots int, tick time.Duration, logger *logrus.Logger) *TimerWheel {
	if slots <= 0 {
		slots = 512
	}
	if tick <= 0 {
		tick = 100 * time.Millisecond
	}
	return &TimerWheel{
		tick:    tick,
		buckets: make([][]*timerEntry, slots),
		logger:  logger,
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start runs the wheel's ticking goroutine. Must be called from (or
// synchronized with) the main thread, which owns all scheduled
// timeouts; firing callbacks run on the ticking goroutine itself.
func (w *TimerWheel) Start() {
	w.ticker = time.NewTicker(w.tick)
	go w.run()
}

// Stop halts the ticking goroutine and waits for it to exit.
func (w *TimerWheel) Stop() {
	close(w.stop)
	<-w.stopped
	w.ticker.Stop()
}

// Schedule arms a one-shot timeout that invokes fire once after delay.
// It returns an id usable with Cancel.
func (w *TimerWheel) Schedule(delay time.Duration, fire func()) uint64 {
	return w.insert(delay, 0, fire)
}

// SchedulePeriodic arms a recurring timeout invoked every period,
// starting after the first period elapses, until Cancel is called.
func (w *TimerWheel) SchedulePeriodic(period time.Duration, fire func()) uint64 {
	return w.insert(period, period, fire)
}

func (w *TimerWheel) insert(delay, period time.Duration, fire func()) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.nextID++
	id := w.nextID
	slot := w.slotFor(delay)
	w.buckets[slot] = append(w.buckets[slot], &timerEntry{
		id:       id,
		deadline: time.Now().Add(delay),
		period:   period,
		fire:     fire,
	})
	return id
}

// Cancel removes a scheduled timeout by id if it hasn't fired yet.
func (w *TimerWheel) Cancel(id uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for slot, entries := range w.buckets {
		for i, e := range entries {
			if e.id == id {
				w.buckets[slot] = append(entries[:i], entries[i+1:]...)
				return
			}
		}
	}
}

func (w *TimerWheel) slotFor(delay time.Duration) int {
	n := len(w.buckets)
	advance := int(delay/w.tick) + 1
	return (w.cursor + advance) % n
}

func (w *TimerWheel) run() {
	defer close(w.stopped)
	for {
		select {
		case <-w.ticker.C:
			w.advance()
		case <-w.stop:
			return
		}
	}
}

// advance moves the cursor one slot and fires every entry there whose
// wall-clock deadline has actually elapsed (a slot can be visited
// before an entry's nominal delay if it wrapped the wheel, so the
// deadline check — not just slot membership — decides firing).
func (w *TimerWheel) advance() {
	w.mu.Lock()
	w.cursor = (w.cursor + 1) % len(w.buckets)
	slot := w.cursor
	due := w.buckets[slot][:0:0]
	remaining := w.buckets[slot][:0:0]
	now := time.Now()
	for _, e := range w.buckets[slot] {
		if !now.Before(e.deadline) {
			due = append(due, e)
		} else {
			remaining = append(remaining, e)
		}
	}
	w.buckets[slot] = remaining
	for _, e := range due {
		if e.period > 0 {
			e.deadline = now.Add(e.period)
			nextSlot := w.slotFor(e.period)
			w.buckets[nextSlot] = append(w.buckets[nextSlot], e)
		}
	}
	w.mu.Unlock()

	for _, e := range due {
		func() {
			defer func() {
				if r := recover(); r != nil && w.logger != nil {
					w.logger.WithField("panic", r).Error("timer wheel callback panicked")
				}
			}()
			e.fire()
		}()
	}
}
