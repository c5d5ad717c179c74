package janitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type fakeStore struct {
	mu sync.Mutex

	fitSizeArg  int64
	fitCountArg int64
	fitSizeOK   bool
	fitCountOK  bool
	reconcileErr error

	callsFitSize   int
	callsFitCount  int
	callsReconcile int
}

func newFakeStore() *fakeStore {
	return &fakeStore{fitSizeOK: true, fitCountOK: true}
}

func (fs *fakeStore) RemoveToFitSize(maxBytes int64) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.callsFitSize++
	fs.fitSizeArg = maxBytes
	return fs.fitSizeOK
}

func (fs *fakeStore) RemoveToFitCount(maxItems int64) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.callsFitCount++
	fs.fitCountArg = maxItems
	return fs.fitCountOK
}

func (fs *fakeStore) Reconcile(ctx context.Context) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.callsReconcile++
	return fs.reconcileErr
}

func (fs *fakeStore) snapshot() (fitSize, fitCount, reconcile int) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.callsFitSize, fs.callsFitCount, fs.callsReconcile
}

func TestRunCycleEvictsBothLimitsAndReconciles(t *testing.T) {
	fs := newFakeStore()
	j := New(fs, Config{Interval: time.Hour, SizeLimit: 1000, CountLimit: 10, Logger: slog.Default()})
	j.runCycle(context.Background())

	fitSize, fitCount, reconcile := fs.snapshot()
	if fitSize != 1 || fitCount != 1 || reconcile != 1 {
		t.Fatalf("expected one call each, got fitSize=%d fitCount=%d reconcile=%d", fitSize, fitCount, reconcile)
	}
	if fs.fitSizeArg != 1000 || fs.fitCountArg != 10 {
		t.Fatalf("expected limits passed through, got size=%d count=%d", fs.fitSizeArg, fs.fitCountArg)
	}
	mv := j.MetricsSnapshot()
	if mv.Cycles != 1 || mv.EvictionCycles != 1 || mv.ReconcileErrors != 0 {
		t.Fatalf("unexpected metrics %+v", mv)
	}
}

func TestRunCycleSkipsEvictionWhenLimitsUnset(t *testing.T) {
	fs := newFakeStore()
	j := New(fs, Config{Interval: time.Hour, Logger: slog.Default()})
	j.runCycle(context.Background())

	fitSize, fitCount, reconcile := fs.snapshot()
	if fitSize != 0 || fitCount != 0 {
		t.Fatalf("expected no eviction calls, got fitSize=%d fitCount=%d", fitSize, fitCount)
	}
	if reconcile != 1 {
		t.Fatalf("expected reconcile still called, got %d", reconcile)
	}
	mv := j.MetricsSnapshot()
	if mv.EvictionCycles != 0 {
		t.Fatalf("expected no eviction cycles recorded")
	}
}

func TestRunCycleRecordsReconcileError(t *testing.T) {
	fs := newFakeStore()
	fs.reconcileErr = errors.New("boom")
	j := New(fs, Config{Interval: time.Hour, Logger: slog.Default()})
	j.runCycle(context.Background())

	mv := j.MetricsSnapshot()
	if mv.ReconcileErrors != 1 {
		t.Fatalf("expected reconcile error recorded, got %+v", mv)
	}
}

func TestEvictToLimitsOnlyCallsConfiguredLimits(t *testing.T) {
	fs := newFakeStore()
	j := New(fs, Config{Interval: time.Hour, SizeLimit: 500, Logger: slog.Default()})
	if ok := j.EvictToLimits(); !ok {
		t.Fatalf("expected success")
	}
	fitSize, fitCount, _ := fs.snapshot()
	if fitSize != 1 || fitCount != 0 {
		t.Fatalf("expected only size limit evicted, got fitSize=%d fitCount=%d", fitSize, fitCount)
	}
}

func TestStartAndStopRunsCyclesOnTicker(t *testing.T) {
	fs := newFakeStore()
	j := New(fs, Config{Interval: 10 * time.Millisecond, SizeLimit: 1, Logger: slog.Default()})
	j.Start(context.Background())
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if _, _, reconcile := fs.snapshot(); reconcile >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	j.Stop()
	if _, _, reconcile := fs.snapshot(); reconcile < 2 {
		t.Fatalf("expected at least two cycles to run, got %d", reconcile)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	fs := newFakeStore()
	j := New(fs, Config{Interval: time.Hour, Logger: slog.Default()})
	j.Start(context.Background())
	j.Stop()
	j.Stop()
}
