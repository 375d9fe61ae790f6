// Package janitor schedules the cache's background maintenance sweep: a
// periodic pass removing expired entries, orphaned files and stale temp
// artifacts independent of lookup traffic.
package janitor

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultInterval is how often a sweep runs when none is configured.
const DefaultInterval = 24 * time.Hour

// Sweeper performs one maintenance pass over the cache.
type Sweeper interface {
	Sweep(ctx context.Context) (SweepResult, error)
}

// SweepResult reports what one pass examined and freed.
type SweepResult struct {
	Scanned    int // records examined
	Expired    int // entries removed because their TTL elapsed
	Orphans    int // entry files on disk with no record
	StaleTemps int // abandoned temp files removed
	Failures   int // per-item errors; the next sweep retries
	BytesFreed int64
	Duration   time.Duration
}

// Config holds sweep scheduling configuration.
type Config struct {
	// Interval is how often the sweep runs. Default is 24 hours.
	Interval time.Duration

	// Logger for sweep events.
	Logger *slog.Logger
}

// Manager runs a Sweeper on a fixed interval, starting with an immediate
// pass so a process coming back after a long idle period cleans up before
// serving. A stopped Manager cannot be restarted.
type Manager struct {
	config  Config
	sweeper Sweeper
	logger  *slog.Logger

	mu      sync.Mutex
	running bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewManager creates a manager driving s on cfg.Interval.
func NewManager(s Sweeper, cfg Config) *Manager {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Manager{
		config:  cfg,
		sweeper: s,
		logger:  cfg.Logger,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start launches the background sweep loop. Calling Start again, or after
// Stop, is a no-op.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped || m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = true
	m.mu.Unlock()

	go m.run(ctx)
	return nil
}

// Stop signals the loop to exit and waits for an in-flight sweep to
// finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running || m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()

	close(m.stopCh)
	<-m.doneCh
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	m.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.runOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep outside the schedule.
func (m *Manager) RunOnce(ctx context.Context) SweepResult {
	return m.runOnce(ctx)
}

func (m *Manager) runOnce(ctx context.Context) SweepResult {
	m.logger.Debug("starting sweep")

	res, err := m.sweeper.Sweep(ctx)
	if err != nil {
		m.logger.Error("sweep failed", "error", err)
		return res
	}

	if res.Expired > 0 || res.Orphans > 0 || res.StaleTemps > 0 || res.Failures > 0 {
		m.logger.Info("sweep complete",
			"scanned", res.Scanned,
			"expired", res.Expired,
			"orphans", res.Orphans,
			"stale_temps", res.StaleTemps,
			"failures", res.Failures,
			"bytes_freed", res.BytesFreed,
			"duration", res.Duration,
		)
	} else {
		m.logger.Debug("sweep complete, nothing to remove")
	}

	return res
}
