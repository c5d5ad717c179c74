package stats

import (
	"errors"
	"testing"
	"time"
)

func waitForCounter(t *testing.T, m *Manager, name string, want int64) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if got := m.Snapshot()[name]; got == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("counter %q never reached %d, got %d", name, want, m.Snapshot()[name])
}

func TestIncAggregatesAcrossCalls(t *testing.T) {
	m := New(Config{})
	m.Start()
	defer m.Stop()

	m.Hit(CounterMemoryHits)
	m.Hit(CounterMemoryHits)
	m.Inc(CounterStorageMisses, 3)

	waitForCounter(t, m, CounterMemoryHits, 2)
	waitForCounter(t, m, CounterStorageMisses, 3)
}

func TestIncZeroDeltaIsNoop(t *testing.T) {
	m := New(Config{})
	m.Start()
	defer m.Stop()
	m.Inc(CounterEvictions, 0)
	time.Sleep(10 * time.Millisecond)
	if got := m.Snapshot()[CounterEvictions]; got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	m := New(Config{})
	m.Start()
	defer m.Stop()
	m.Hit(CounterWipes)
	waitForCounter(t, m, CounterWipes, 1)
	snap := m.Snapshot()
	snap[CounterWipes] = 100
	if got := m.Snapshot()[CounterWipes]; got != 1 {
		t.Fatalf("expected snapshot mutation not to leak back, got %d", got)
	}
}

func TestLogErrorDroppedWhenDisabled(t *testing.T) {
	m := New(Config{ErrorLogsEnabled: false})
	m.Start()
	defer m.Stop()
	// Should not panic or block; nothing observable to assert beyond that.
	m.LogError("get", errors.New("boom"))
	time.Sleep(10 * time.Millisecond)
}

func TestStopWithoutStartIsNoop(t *testing.T) {
	m := New(Config{})
	m.Stop()
}

func TestStopIsIdempotent(t *testing.T) {
	m := New(Config{})
	m.Start()
	m.Stop()
	m.Stop()
}
