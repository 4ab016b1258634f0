// Package engine implements the main loop and worker pool: a single
// main goroutine owns configuration, reload, signal handling, the
// control socket, and a hashed timer wheel; a fixed pool of worker
// goroutines each run a cooperative I/O reactor driving pipeline
// traversal, with no pipeline node allowed to block a worker other
// than through the reactor itself.
package engine

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Job is one unit of cooperative work a worker runs to completion
// before returning to its reactor loop. No pipeline node may block the
// worker thread other than via the reactor itself.
type Job struct {
	ID      string
	Run     func(ctx context.Context) error
	Created time.Time
}

// PoolConfig configures the worker pool.
type PoolConfig struct {
	Workers         int           `yaml:"workers"`
	QueueSize       int           `yaml:"queue_size"`
	JobTimeout      time.Duration `yaml:"job_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

func (c *PoolConfig) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.QueueSize <= 0 {
		c.QueueSize = c.Workers * 64
	}
	if c.JobTimeout == 0 {
		c.JobTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
}

// Stats reports the pool's current load, exposed through the HTTP
// status API's /stats endpoint.
type Stats struct {
	Workers        int
	ActiveWorkers  int
	QueuedJobs     int
	QueueCapacity  int
	TotalJobs      int64
	CompletedJobs  int64
	FailedJobs     int64
	DroppedJobs    int64
	Running        bool
}

// worker is one reactor-driven worker goroutine: a dedicated input
// channel plus a quit signal, matching the per-worker taskChan/quit
// pair of pkg/workerpool/worker_pool.go's Worker type.
type worker struct {
	id       int
	pool     *Pool
	jobChan  chan Job
	quit     chan struct{}
	active   int64
}

// Pool is a fixed worker pool: each job is dispatched to the first
// worker (in index order) whose input slot is free, each worker running its assigned jobs to completion before
// selecting its next input. The cooperative reactor here is the
// select loop itself — suspension points are explicit channel
// receives, not an OS-level epoll.
type Pool struct {
	cfg     PoolConfig
	logger  *logrus.Logger
	workers []*worker
	jobs    chan Job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	barrier *syncBarrier

	totalJobs     int64
	completedJobs int64
	failedJobs    int64
	droppedJobs   int64

	mu      sync.RWMutex
	running bool
}

// NewPool constructs a worker pool from cfg, filling unset fields with
// the same style of size-aware defaults as pkg/workerpool.NewWorkerPool.
func NewPool(cfg PoolConfig, logger *logrus.Logger) *Pool {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	p := &Pool{
		cfg:     cfg,
		logger:  logger,
		jobs:    make(chan Job, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
		workers: make([]*worker, 0, cfg.Workers),
	}
	p.barrier = newSyncBarrier(p)

	for i := 0; i < cfg.Workers; i++ {
		p.workers = append(p.workers, &worker{
			id:      i,
			pool:    p,
			jobChan: make(chan Job, 1),
			quit:    make(chan struct{}),
		})
	}
	return p
}

// Start launches every worker goroutine plus the dispatcher.
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}

	p.logger.WithFields(logrus.Fields{
		"workers":    p.cfg.Workers,
		"queue_size": p.cfg.QueueSize,
	}).Info("starting worker pool")

	for _, w := range p.workers {
		p.wg.Add(1)
		go w.run()
	}
	p.wg.Add(1)
	go p.dispatch()

	p.running = true
	return nil
}

// Stop cancels all outstanding work and waits (up to ShutdownTimeout)
// for every worker goroutine to exit.
func (p *Pool) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return nil
	}
	p.logger.Info("stopping worker pool")

	p.cancel()
	for _, w := range p.workers {
		close(w.quit)
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-time.After(p.cfg.ShutdownTimeout):
		p.logger.Warn("worker pool shutdown timed out")
	}

	p.running = false
	return nil
}

// Submit enqueues a job for dispatch. It returns ErrQueueFull rather
// than blocking — a full-queue suspension point belongs to the
// durable queue upstream of the pool, not here.
func (p *Pool) Submit(job Job) error {
	p.mu.RLock()
	running := p.running
	p.mu.RUnlock()
	if !running {
		return ErrPoolNotRunning
	}

	job.Created = time.Now()
	atomic.AddInt64(&p.totalJobs, 1)

	select {
	case p.jobs <- job:
		return nil
	case <-p.ctx.Done():
		return p.ctx.Err()
	default:
		atomic.AddInt64(&p.droppedJobs, 1)
		return ErrQueueFull
	}
}

// SyncCall quiesces every worker (drains in-flight jobs, parks them)
// and runs fn in that critical section before releasing the workers.
// MainLoop's reload path is the consumer here: configuration is
// swapped inside the critical section.
func (p *Pool) SyncCall(ctx context.Context, fn func() error) error {
	return p.barrier.call(ctx, fn)
}

// Stats returns a point-in-time snapshot of pool load.
func (p *Pool) Stats() Stats {
	p.mu.RLock()
	running := p.running
	p.mu.RUnlock()

	active := 0
	for _, w := range p.workers {
		if atomic.LoadInt64(&w.active) > 0 {
			active++
		}
	}
	return Stats{
		Workers:       len(p.workers),
		ActiveWorkers: active,
		QueuedJobs:    len(p.jobs),
		QueueCapacity: cap(p.jobs),
		TotalJobs:     atomic.LoadInt64(&p.totalJobs),
		CompletedJobs: atomic.LoadInt64(&p.completedJobs),
		FailedJobs:    atomic.LoadInt64(&p.failedJobs),
		DroppedJobs:   atomic.LoadInt64(&p.droppedJobs),
		Running:       running,
	}
}

// dispatch assigns queued jobs to the first worker with a free input
// slot, falling back
// to the first worker (blocking) once every worker's single-slot
// channel is full, exactly like pkg/workerpool's assignTaskToWorker.
func (p *Pool) dispatch() {
	defer p.wg.Done()
	for {
		select {
		case job := <-p.jobs:
			p.assign(job)
		case <-p.ctx.Done():
			p.logger.Debug("pool dispatcher stopping")
			return
		}
	}
}

func (p *Pool) assign(job Job) {
	for _, w := range p.workers {
		select {
		case w.jobChan <- job:
			return
		default:
		}
	}
	select {
	case p.workers[0].jobChan <- job:
	case <-p.ctx.Done():
		atomic.AddInt64(&p.droppedJobs, 1)
	}
}

func (w *worker) run() {
	defer w.pool.wg.Done()
	w.pool.logger.WithField("worker_id", w.id).Debug("worker started")

	for {
		select {
		case job := <-w.jobChan:
			w.execute(job)
		case round := <-w.pool.barrier.requests:
			round.wait()
		case <-w.quit:
			w.pool.logger.WithField("worker_id", w.id).Debug("worker stopping")
			return
		case <-w.pool.ctx.Done():
			return
		}
	}
}

func (w *worker) execute(job Job) {
	atomic.StoreInt64(&w.active, 1)
	defer atomic.StoreInt64(&w.active, 0)

	start := time.Now()
	ctx, cancel := context.WithTimeout(w.pool.ctx, w.pool.cfg.JobTimeout)
	defer cancel()

	err := job.Run(ctx)
	dur := time.Since(start)

	if err != nil {
		atomic.AddInt64(&w.pool.failedJobs, 1)
		w.pool.logger.WithFields(logrus.Fields{
			"worker_id": w.id, "job_id": job.ID, "duration": dur, "error": err,
		}).Error("job failed")
		return
	}
	atomic.AddInt64(&w.pool.completedJobs, 1)
	w.pool.logger.WithFields(logrus.Fields{
		"worker_id": w.id, "job_id": job.ID, "duration": dur,
	}).Debug("job completed")
}

var (
	// ErrPoolNotRunning is returned by Submit before Start or after Stop.
	ErrPoolNotRunning = fmt.Errorf("engine: worker pool is not running")
	// ErrQueueFull is returned by Submit when the dispatch queue's
	// buffer is exhausted and the pool isn't shutting down.
	ErrQueueFull = fmt.Errorf("engine: job queue is full")
)
