// Package stats implements the diagnostics hook described in spec §7: a
// channel-based event aggregator that counts cache hits, misses, and
// evictions per tier, and optionally logs internal error detail that the
// coordinator's boolean/absent return values otherwise discard.
//
// It is a direct simplification of the teacher's internal/metrics.Manager:
// the same single-goroutine, buffered-channel event loop, with the SQLite
// persistence and HTTP exposition removed since neither has a home outside
// the CLI/network surface this module excludes.
package stats

import (
	"log/slog"
	"sync"
	"time"
)

// Counter names recorded by the coordinator.
const (
	CounterMemoryHits     = "memory_hits_total"
	CounterMemoryMisses   = "memory_misses_total"
	CounterStorageHits    = "storage_hits_total"
	CounterStorageMisses  = "storage_misses_total"
	CounterEvictions      = "evictions_total"
	CounterWipes          = "wipes_total"
	CounterDecodeFailures = "decode_failures_total"
)

// Config controls the Manager's internal buffering and logging.
type Config struct {
	// ErrorLogsEnabled routes internal errors reported via LogError to the
	// logger; otherwise they are dropped, consistent with the "diagnostics
	// hook is the only channel for detail" propagation policy.
	ErrorLogsEnabled bool
	Logger           *slog.Logger
}

type eventKind int

const (
	eventInc eventKind = iota + 1
	eventErr
)

type event struct {
	kind eventKind
	name string
	v    int64
	err  error
}

// Manager aggregates counters behind a single event loop so the hot read
// path never blocks on a mutex it doesn't already hold.
type Manager struct {
	cfg     Config
	events  chan event
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	started bool

	mu       sync.Mutex
	counters map[string]int64
}

// New constructs a Manager. Call Start to begin the background loop.
func New(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		cfg:      cfg,
		events:   make(chan event, 1024),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		counters: make(map[string]int64),
	}
}

// Start launches the aggregation loop. Safe to call once; subsequent
// calls are no-ops.
func (m *Manager) Start() {
	if m.started {
		return
	}
	m.started = true
	go m.loop()
}

// Stop signals the loop to exit and waits for it to return. Events still
// buffered at that point are not applied to the counters.
func (m *Manager) Stop() {
	if !m.started {
		return
	}
	m.once.Do(func() { close(m.stop) })
	<-m.done
}

// Inc increments a counter by delta. Non-blocking: under sustained
// overload the increment is dropped rather than stalling the caller.
func (m *Manager) Inc(name string, delta int64) {
	if delta == 0 {
		return
	}
	select {
	case m.events <- event{kind: eventInc, name: name, v: delta}:
	default:
	}
}

// Hit increments name by 1; a small convenience over Inc for the common
// case.
func (m *Manager) Hit(name string) { m.Inc(name, 1) }

// LogError reports an internal error for the optional diagnostics log,
// independent of counters. Dropped entirely when ErrorLogsEnabled is
// false.
func (m *Manager) LogError(op string, err error) {
	if err == nil || !m.cfg.ErrorLogsEnabled {
		return
	}
	select {
	case m.events <- event{kind: eventErr, name: op, err: err}:
	default:
	}
}

// Snapshot returns a copy of the current counters.
func (m *Manager) Snapshot() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.counters))
	for k, v := range m.counters {
		out[k] = v
	}
	return out
}

func (m *Manager) loop() {
	log := m.cfg.Logger.With("domain", "stats")
	defer close(m.done)
	for {
		select {
		case <-m.stop:
			return
		case ev := <-m.events:
			switch ev.kind {
			case eventInc:
				m.mu.Lock()
				m.counters[ev.name] += ev.v
				m.mu.Unlock()
			case eventErr:
				log.Error("internal error", "op", ev.name, "error", ev.err, "at", time.Now().UTC())
			}
		}
	}
}
