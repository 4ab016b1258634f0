// Package resource implements the background goroutine/memory sampler
// that feeds the process-wide allocated_bytes aggregate and the
// goroutine-growth leak heuristic.
//
// Monitor ticks on an interval, sampling runtime.NumGoroutine() and
// runtime.ReadMemStats plus an OS-level RSS reading via
// github.com/shirou/gopsutil/v3, publishing samples and raising a log
// warning on sustained monotonic goroutine growth.
package resource

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/sirupsen/logrus"

	"github.com/sswcorp/flowcore/pkg/metrics"
)

// Config controls sampling cadence and the leak heuristic's sensitivity.
type Config struct {
	CheckInterval      time.Duration
	GoroutineThreshold int
	// GrowthSamples is how many consecutive samples must show
	// monotonically increasing goroutine counts before a leak warning
	// fires.
	GrowthSamples int
}

func (c *Config) applyDefaults() {
	if c.CheckInterval == 0 {
		c.CheckInterval = 30 * time.Second
	}
	if c.GoroutineThreshold <= 0 {
		c.GoroutineThreshold = 10000
	}
	if c.GrowthSamples <= 0 {
		c.GrowthSamples = 5
	}
}

// AllocatedBytesFunc returns the process-wide sum of live Event NVTable
// arena allocations. The App supplies it as the sum of its destination
// queues' MemoryUsageBytes; events in flight outside a queue are not
// counted.
type AllocatedBytesFunc func() int64

// Sample is one point-in-time resource reading.
type Sample struct {
	Timestamp      time.Time
	Goroutines     int
	HeapAllocBytes uint64
	RSSBytes       uint64
	AllocatedBytes int64
}

// Monitor periodically samples process resource usage.
type Monitor struct {
	cfg            Config
	logger         *logrus.Logger
	metrics        *metrics.Registry
	allocatedBytes AllocatedBytesFunc
	proc           *process.Process

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu              sync.Mutex
	lastGoroutines  int
	growthStreak    int
}

// New builds a Monitor. metricsReg and allocatedBytes may be nil/absent
// to run with sampling-only logging.
func New(cfg Config, logger *logrus.Logger, metricsReg *metrics.Registry, allocatedBytes AllocatedBytesFunc) *Monitor {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.WithError(err).Warn("resource monitor: could not open self process handle, RSS sampling disabled")
		proc = nil
	}

	return &Monitor{
		cfg:            cfg,
		logger:         logger,
		metrics:        metricsReg,
		allocatedBytes: allocatedBytes,
		proc:           proc,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Start launches the sampling goroutine.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.run()
}

// Stop cancels sampling and waits for the goroutine to exit.
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

func (m *Monitor) run() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sample()
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Monitor) sample() Sample {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	s := Sample{
		Timestamp:      time.Now(),
		Goroutines:     runtime.NumGoroutine(),
		HeapAllocBytes: ms.HeapAlloc,
	}
	if m.proc != nil {
		if info, err := m.proc.MemoryInfo(); err == nil && info != nil {
			s.RSSBytes = info.RSS
		}
	}
	if m.allocatedBytes != nil {
		s.AllocatedBytes = m.allocatedBytes()
	}

	if m.metrics != nil {
		m.metrics.ObserveResourceSample(s.Goroutines, s.AllocatedBytes)
	}

	m.checkGoroutineGrowth(s.Goroutines)

	if s.Goroutines > m.cfg.GoroutineThreshold {
		m.logger.WithFields(logrus.Fields{
			"goroutines": s.Goroutines,
			"threshold":  m.cfg.GoroutineThreshold,
		}).Warn("resource monitor: goroutine count above threshold")
	}

	m.logger.WithFields(logrus.Fields{
		"goroutines":  s.Goroutines,
		"heap_alloc":  s.HeapAllocBytes,
		"rss":         s.RSSBytes,
		"alloc_bytes": s.AllocatedBytes,
	}).Debug("resource monitor: sample")

	return s
}

// checkGoroutineGrowth implements the monotonic-growth leak heuristic:
// GrowthSamples consecutive samples each strictly greater than the
// last trips a warning.
func (m *Monitor) checkGoroutineGrowth(current int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current > m.lastGoroutines {
		m.growthStreak++
	} else {
		m.growthStreak = 0
	}
	m.lastGoroutines = current

	if m.growthStreak >= m.cfg.GrowthSamples {
		m.logger.WithFields(logrus.Fields{
			"goroutines":     current,
			"growth_samples": m.growthStreak,
		}).Warn("resource monitor: goroutine count grew monotonically, possible leak")
	}
}
