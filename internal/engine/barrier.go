package engine

import (
	"context"
	"sync"
)

// parkRound is one instance of a worker_sync_call: every worker that
// receives a round acks it (so the caller knows all workers are
// parked) then blocks until release is closed.
type parkRound struct {
	ack     chan struct{}
	release chan struct{}
}

// syncBarrier implements the worker_sync_call primitive: quiesce every
// worker, run a critical section on the caller's goroutine, release.
// Rounds are delivered over a fixed channel rather than a mutated
// shared field so workers never read barrier state without a
// synchronizing channel operation.
type syncBarrier struct {
	pool     *Pool
	mu       sync.Mutex
	requests chan *parkRound
}

func newSyncBarrier(p *Pool) *syncBarrier {
	return &syncBarrier{pool: p, requests: make(chan *parkRound)}
}

// call quiesces all workers, runs fn, then releases them. Only one
// call runs at a time; concurrent callers serialize on mu, the same
// way pkg/workerpool.WorkerPool.mutex serializes Start/Stop.
func (b *syncBarrier) call(ctx context.Context, fn func() error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.pool.workers)
	if n == 0 {
		return fn()
	}
	round := &parkRound{ack: make(chan struct{}, n), release: make(chan struct{})}

	go func() {
		for i := 0; i < n; i++ {
			select {
			case b.requests <- round:
			case <-b.pool.ctx.Done():
				return
			}
		}
	}()

	for i := 0; i < n; i++ {
		select {
		case <-round.ack:
		case <-ctx.Done():
			close(round.release)
			return ctx.Err()
		case <-b.pool.ctx.Done():
			close(round.release)
			return b.pool.ctx.Err()
		}
	}

	err := fn()
	close(round.release)
	return err
}

// wait is called by a worker goroutine that received a round: it acks
// (unblocking the barrier's quiescence wait) then parks until release.
func (round *parkRound) wait() {
	round.ack <- struct{}{}
	<-round.release
}
