package memcache

import (
	"sync/atomic"
	"testing"
	"time"
)

func newTestCache(opts ...Option) *Cache {
	return New(append([]Option{WithTrimInterval(0)}, opts...)...)
}

func TestSetGetRoundTrip(t *testing.T) {
	c := newTestCache()
	defer c.Close()
	c.Set("k", "v", 1)
	got, ok := c.Get("k")
	if !ok || got != "v" {
		t.Fatalf("expected v true, got %v %v", got, ok)
	}
}

func TestContainsDoesNotPromote(t *testing.T) {
	c := newTestCache(WithCountLimit(2))
	defer c.Close()
	c.Set("a", 1, 0)
	c.Set("b", 2, 0)
	if !c.Contains("a") {
		t.Fatalf("expected contains a")
	}
	c.Set("c", 3, 0)
	if c.Contains("a") {
		t.Fatalf("expected a evicted as least recently used; Contains must not promote it")
	}
}

func TestGetMissReturnsFalse(t *testing.T) {
	c := newTestCache()
	defer c.Close()
	if _, ok := c.Get("absent"); ok {
		t.Fatalf("expected miss")
	}
}

func TestCountLimitEvictsLRU(t *testing.T) {
	c := newTestCache(WithCountLimit(2))
	defer c.Close()
	c.Set("a", 1, 0)
	c.Set("b", 2, 0)
	c.Set("c", 3, 0)
	if c.Contains("a") {
		t.Fatalf("expected a evicted as least recently used")
	}
	if !c.Contains("b") || !c.Contains("c") {
		t.Fatalf("expected b and c to remain")
	}
}

func TestGetPromotesOutOfEviction(t *testing.T) {
	c := newTestCache(WithCountLimit(2))
	defer c.Close()
	c.Set("a", 1, 0)
	c.Set("b", 2, 0)
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("expected a present")
	}
	c.Set("c", 3, 0)
	if c.Contains("b") {
		t.Fatalf("expected b evicted instead of recently-read a")
	}
	if !c.Contains("a") {
		t.Fatalf("expected a to remain after promotion")
	}
}

func TestCostLimitEvicts(t *testing.T) {
	c := newTestCache(WithCostLimit(10))
	defer c.Close()
	c.Set("a", "x", 6)
	c.Set("b", "y", 6)
	if c.Contains("a") {
		t.Fatalf("expected a evicted to satisfy cost limit")
	}
	if c.TotalCost() > 10 {
		t.Fatalf("expected total cost <= 10, got %d", c.TotalCost())
	}
}

func TestSetReplaceUpdatesCost(t *testing.T) {
	c := newTestCache(WithCostLimit(10))
	defer c.Close()
	c.Set("a", "x", 4)
	c.Set("a", "x2", 8)
	if c.TotalCost() != 8 {
		t.Fatalf("expected total cost 8 after replace, got %d", c.TotalCost())
	}
}

func TestRemove(t *testing.T) {
	c := newTestCache()
	defer c.Close()
	c.Set("a", 1, 0)
	if !c.Remove("a") {
		t.Fatalf("expected remove to report true")
	}
	if c.Remove("a") {
		t.Fatalf("expected second remove to report false")
	}
	if c.Contains("a") {
		t.Fatalf("expected a gone")
	}
}

func TestRemoveAll(t *testing.T) {
	c := newTestCache()
	defer c.Close()
	c.Set("a", 1, 0)
	c.Set("b", 2, 0)
	c.RemoveAll()
	if c.Len() != 0 {
		t.Fatalf("expected empty cache, got len=%d", c.Len())
	}
}

func TestTrimToAgeEvictsOnlyStaleTail(t *testing.T) {
	now := time.Unix(1000, 0)
	clk := func() time.Time { return now }
	c := newTestCache(WithClock(clk))
	defer c.Close()
	c.Set("old", 1, 0)
	now = now.Add(10 * time.Second)
	c.Set("new", 2, 0)
	c.TrimToAge(5 * time.Second)
	if c.Contains("old") {
		t.Fatalf("expected old entry trimmed")
	}
	if !c.Contains("new") {
		t.Fatalf("expected new entry retained")
	}
}

func TestAgeLimitEnforcedBySet(t *testing.T) {
	now := time.Unix(1000, 0)
	clk := func() time.Time { return now }
	c := newTestCache(WithClock(clk), WithAgeLimit(5*time.Second))
	defer c.Close()
	c.Set("old", 1, 0)
	now = now.Add(10 * time.Second)
	c.Set("new", 2, 0)
	if c.Contains("old") {
		t.Fatalf("expected old entry evicted by age limit on subsequent set")
	}
}

func TestEvictCallbackFiresOutsideLock(t *testing.T) {
	var evicted []string
	lockHeld := false
	var c *Cache
	c = newTestCache(WithCountLimit(1), WithEvictCallback(func(key string, _ any) {
		if c.mu.TryLock() {
			c.mu.Unlock()
		} else {
			lockHeld = true
		}
		evicted = append(evicted, key)
	}))
	defer c.Close()
	c.Set("a", 1, 0)
	c.Set("b", 2, 0)
	if len(evicted) != 1 || evicted[0] != "a" {
		t.Fatalf("expected eviction callback for a, got %v", evicted)
	}
	if lockHeld {
		t.Fatalf("expected eviction callback to run with the cache lock released")
	}
}

func TestBackgroundTrimLoopEvictsOverLimit(t *testing.T) {
	// Only the age limit can be exceeded without a Set (which evicts on its
	// own), so advancing the clock leaves the eviction to the trim loop.
	var now atomic.Int64
	now.Store(1000)
	clk := func() time.Time { return time.Unix(now.Load(), 0) }
	c := New(WithClock(clk), WithAgeLimit(5*time.Second), WithTrimInterval(10*time.Millisecond))
	defer c.Close()
	c.Set("a", 1, 0)
	now.Store(1010)
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if c.Len() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected background trim to enforce age limit, len=%d", c.Len())
}
