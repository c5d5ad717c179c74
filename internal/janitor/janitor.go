// Package janitor implements background maintenance of the KV Storage
// engine: periodic eviction back down to its configured size and count
// limits, and periodic reconciliation of the index against the blob
// directory. It runs independently of the coordinator's request path so
// that maintenance cadence is not coupled to read/write latency.
package janitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tandemkv/tandem/internal/domain"
)

// Store abstracts the storage-engine operations the Janitor drives. A
// zero SizeLimit or CountLimit disables the corresponding eviction pass.
type Store interface {
	// RemoveToFitSize evicts least-recently-used entries until total blob
	// size is at most maxBytes, or the store is empty. Returns false on
	// failure.
	RemoveToFitSize(maxBytes int64) bool
	// RemoveToFitCount evicts least-recently-used entries until item count
	// is at most maxItems, or the store is empty. Returns false on failure.
	RemoveToFitCount(maxItems int64) bool
	// Reconcile re-scans for orphan rows, orphan blobs, and lingering
	// trash directories.
	Reconcile(ctx context.Context) error
}

// Config holds tunables for the Janitor.
type Config struct {
	Interval  time.Duration // how often a cycle begins
	SizeLimit int64         // disk size budget in bytes; 0 disables
	CountLimit int64        // disk item-count budget; 0 disables
	Logger    *slog.Logger  // optional logger (defaults to slog.Default())
}

// Metrics accumulates counters (in-memory) for operational insight.
type Metrics struct {
	mu                  sync.Mutex
	Cycles              uint64
	EvictionCycles      uint64
	ReconcileErrors      uint64
	CycleLastDurationMS int64
}

// MetricsView is a read-only snapshot safe to copy.
type MetricsView struct {
	Cycles              uint64
	EvictionCycles      uint64
	ReconcileErrors     uint64
	CycleLastDurationMS int64
}

func (m *Metrics) recordCycle(d time.Duration, evicted bool, reconcileFailed bool) {
	m.mu.Lock()
	m.Cycles++
	if evicted {
		m.EvictionCycles++
	}
	if reconcileFailed {
		m.ReconcileErrors++
	}
	m.CycleLastDurationMS = d.Milliseconds()
	m.mu.Unlock()
}

// Janitor encapsulates the background maintenance loop.
type Janitor struct {
	store   Store
	cfg     Config
	metrics *Metrics

	ticker *time.Ticker
	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// New constructs but does not start a Janitor.
func New(store Store, cfg Config) *Janitor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Janitor{
		store:   store,
		cfg:     cfg,
		metrics: &Metrics{},
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start launches the janitor loop in a new goroutine.
func (j *Janitor) Start(ctx context.Context) {
	if j.ticker != nil {
		return
	}
	j.ticker = time.NewTicker(j.cfg.Interval)
	go j.loop(ctx)
}

// Stop signals the loop to exit and waits for completion.
func (j *Janitor) Stop() {
	j.once.Do(func() { close(j.stopCh) })
	<-j.doneCh
}

// MetricsSnapshot returns a copy of current metrics.
func (j *Janitor) MetricsSnapshot() MetricsView {
	j.metrics.mu.Lock()
	defer j.metrics.mu.Unlock()
	return MetricsView{
		Cycles:              j.metrics.Cycles,
		EvictionCycles:      j.metrics.EvictionCycles,
		ReconcileErrors:     j.metrics.ReconcileErrors,
		CycleLastDurationMS: j.metrics.CycleLastDurationMS,
	}
}

func (j *Janitor) loop(ctx context.Context) {
	log := j.cfg.Logger.With("domain", "janitor")
	defer func() {
		if j.ticker != nil {
			j.ticker.Stop()
		}
		close(j.doneCh)
	}()
	for {
		select {
		case <-ctx.Done():
			log.Info("janitor stop", "reason", "context_cancel")
			return
		case <-j.stopCh:
			log.Info("janitor stop", "reason", "stop_signal")
			return
		case <-j.ticker.C:
			j.runCycle(ctx)
		}
	}
}

// EvictToLimits runs a single eviction pass against the configured size
// and count budgets. Exported so callers can force an off-cycle pass
// (e.g. immediately after a bulk write) without waiting for the ticker.
func (j *Janitor) EvictToLimits() bool {
	ok := true
	if j.cfg.SizeLimit > 0 {
		ok = j.store.RemoveToFitSize(j.cfg.SizeLimit) && ok
	}
	if j.cfg.CountLimit > 0 {
		ok = j.store.RemoveToFitCount(j.cfg.CountLimit) && ok
	}
	return ok
}

// runCycle performs one eviction + reconciliation cycle.
func (j *Janitor) runCycle(ctx context.Context) {
	start := time.Now()
	log := j.cfg.Logger.With("domain", "janitor", "action", "cycle")

	attemptedEviction := j.cfg.SizeLimit > 0 || j.cfg.CountLimit > 0
	if attemptedEviction && !j.EvictToLimits() {
		log.Error("evict_to_limits failed")
	}

	reconcileFailed := false
	if err := j.store.Reconcile(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, domain.ErrFailedState) {
		log.Error("reconcile", "error", err)
		reconcileFailed = true
	}

	j.metrics.recordCycle(time.Since(start), attemptedEviction, reconcileFailed)
	log.Info("cycle complete", "ms", time.Since(start).Milliseconds())
}
