package engine

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// MainTask is work that must run on the main goroutine rather than a
// pool worker: a single-consumer task queue for "run this on the main
// thread" work (reload application, control-socket command handling,
// debugger attach).
type MainTask struct {
	Name string
	Run  func(ctx context.Context) error
}

// ReloadFunc applies a newly parsed configuration. It returns an error
// to reject the reload: a configuration error rejects the reload and
// keeps the previous configuration running.
type ReloadFunc func(ctx context.Context) error

// MainLoop is the single main thread: it owns the worker pool, the
// timer wheel, signal handling, and a task queue for main-thread-only
// work, mirroring the App.Run/Start/Stop shape of internal/app/app.go,
// generalized from one fixed lifecycle to an explicit queue so
// control-socket commands can also schedule main-thread work.
type MainLoop struct {
	Pool   *Pool
	Timers *TimerWheel
	logger *logrus.Logger

	tasks  chan MainTask
	reload ReloadFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMainLoop wires a worker pool and timer wheel together. reload may
// be nil if the caller drives reconfiguration itself.
func NewMainLoop(pool *Pool, timers *TimerWheel, reload ReloadFunc, logger *logrus.Logger) *MainLoop {
	ctx, cancel := context.WithCancel(context.Background())
	return &MainLoop{
		Pool:   pool,
		Timers: timers,
		logger: logger,
		tasks:  make(chan MainTask, 64),
		reload: reload,
		ctx:    ctx,
		cancel: cancel,
	}
}

// PostMainTask enqueues work for the main goroutine, for callers that
// need a critical section run outside any worker. Posted tasks run on
// the goroutine blocked in Start.
func (m *MainLoop) PostMainTask(task MainTask) error {
	select {
	case m.tasks <- task:
		return nil
	case <-m.ctx.Done():
		return m.ctx.Err()
	}
}

// Start launches the worker pool and timer wheel, then runs the
// main-thread task loop until Stop is called or a terminal signal
// arrives. It blocks, the same way internal/app/app.go's App.Run does.
func (m *MainLoop) Start() error {
	if err := m.Pool.Start(); err != nil {
		return fmt.Errorf("engine: starting worker pool: %w", err)
	}
	m.Timers.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		select {
		case task := <-m.tasks:
			m.runMainTask(task)
		case sig := <-sigChan:
			switch sig {
			case syscall.SIGHUP:
				m.logger.Info("SIGHUP received, reloading configuration")
				m.doReload()
			default:
				m.logger.WithField("signal", sig).Info("shutdown signal received")
				return m.Stop()
			}
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m *MainLoop) runMainTask(task MainTask) {
	ctx, cancel := context.WithTimeout(m.ctx, 30*time.Second)
	defer cancel()
	if err := task.Run(ctx); err != nil {
		m.logger.WithFields(logrus.Fields{"task": task.Name, "error": err}).Error("main task failed")
	}
}

func (m *MainLoop) doReload() {
	if m.reload == nil {
		return
	}
	ctx, cancel := context.WithTimeout(m.ctx, 30*time.Second)
	defer cancel()
	// worker_sync_call: quiesce workers while the new configuration is
	// installed so no in-flight event straddles old and new pipelines.
	err := m.Pool.SyncCall(ctx, func() error {
		return m.reload(ctx)
	})
	if err != nil {
		m.logger.WithError(err).Error("configuration reload rejected, previous configuration stays active")
	}
}

// Reload runs doReload synchronously, giving external drivers (the
// config-file watcher, the control socket's RELOAD command) the same
// worker-sync-barrier reconfiguration path SIGHUP takes.
func (m *MainLoop) Reload() {
	m.doReload()
}

// Stop tears down the timer wheel and worker pool.
func (m *MainLoop) Stop() error {
	m.cancel()
	m.Timers.Stop()
	return m.Pool.Stop()
}
