// Package coordinator implements the Cache Coordinator of spec §4.3: the
// keyed, typed front end that composes the Memory Cache (L1) over the KV
// Storage engine (L2), serializing all disk access on a single worker and
// exposing both blocking and callback-based asynchronous forms.
package coordinator

import (
	"context"
	"time"

	"github.com/tandemkv/tandem/internal/domain"
	"github.com/tandemkv/tandem/internal/janitor"
	"github.com/tandemkv/tandem/internal/memcache"
	"github.com/tandemkv/tandem/internal/stats"
	"github.com/tandemkv/tandem/internal/store"
)

// Options configures a Coordinator. Zero values fall back to the spec §6
// defaults noted per field.
type Options struct {
	// InlineThreshold is the byte length at or under which a Mixed-type
	// value is inlined rather than routed to an external blob. Default
	// 20480 (20 KiB).
	InlineThreshold int64

	MemoryCountLimit   int64
	MemoryCostLimit    int64
	MemoryAgeLimit     time.Duration
	MemoryTrimInterval time.Duration // default 5s

	DiskSizeLimit    int64
	DiskCountLimit   int64
	DiskTrimInterval time.Duration // default 60s

	ErrorLogsEnabled bool
}

func (o Options) inlineThreshold() int64 {
	if o.InlineThreshold > 0 {
		return o.InlineThreshold
	}
	return 20480
}

func (o Options) memoryTrimInterval() time.Duration {
	if o.MemoryTrimInterval <= 0 {
		return 5 * time.Second
	}
	return domain.ClampInterval(o.MemoryTrimInterval, 100*time.Millisecond, time.Hour)
}

func (o Options) diskTrimInterval() time.Duration {
	if o.DiskTrimInterval <= 0 {
		return 60 * time.Second
	}
	return domain.ClampInterval(o.DiskTrimInterval, time.Second, 24*time.Hour)
}

// validate checks the negative-limit preconditions spec §7 calls
// PreconditionViolated; a zero limit legitimately means "unlimited" or
// "use the default interval" and is left to the two helpers above.
func (o Options) validate() error {
	for _, n := range []int64{o.InlineThreshold, o.MemoryCountLimit, o.MemoryCostLimit, o.DiskSizeLimit, o.DiskCountLimit} {
		if err := domain.ValidateLimit(n); err != nil {
			return err
		}
	}
	if err := domain.ValidateLimit(int64(o.MemoryAgeLimit)); err != nil {
		return err
	}
	if err := domain.ValidateLimit(int64(o.MemoryTrimInterval)); err != nil {
		return err
	}
	return domain.ValidateLimit(int64(o.DiskTrimInterval))
}

// Coordinator composes the Memory Cache over the Storage engine.
type Coordinator struct {
	mem   *memcache.Cache
	disk  *store.Store
	jan   *janitor.Janitor
	work  *worker
	stats *stats.Manager
	codec Codec

	storageType     domain.StorageType
	inlineThreshold int64
}

// New opens the storage engine at diskRoot and wires a memory tier, worker,
// janitor, and diagnostics manager around it.
func New(diskRoot string, storageType domain.StorageType, codec Codec, opts Options) (*Coordinator, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	disk, err := store.Open(diskRoot, storageType)
	if err != nil {
		return nil, err
	}

	st := stats.New(stats.Config{ErrorLogsEnabled: opts.ErrorLogsEnabled})
	st.Start()

	mem := memcache.New(
		memcache.WithCountLimit(opts.MemoryCountLimit),
		memcache.WithCostLimit(opts.MemoryCostLimit),
		memcache.WithAgeLimit(opts.MemoryAgeLimit),
		memcache.WithTrimInterval(opts.memoryTrimInterval()),
		memcache.WithEvictCallback(func(string, any) { st.Hit(stats.CounterEvictions) }),
	)

	w := newWorker()
	w.start()

	jan := janitor.New(disk, janitor.Config{
		Interval:   opts.diskTrimInterval(),
		SizeLimit:  opts.DiskSizeLimit,
		CountLimit: opts.DiskCountLimit,
	})
	jan.Start(context.Background())

	return &Coordinator{
		mem:             mem,
		disk:            disk,
		jan:             jan,
		work:            w,
		stats:           st,
		codec:           codec,
		storageType:     storageType,
		inlineThreshold: opts.inlineThreshold(),
	}, nil
}

// Close stops the janitor, the worker, and the memory tier's background
// trimmer, then releases the storage engine. There is no broader shutdown
// contract beyond this (spec §3 "destroyed by dropping the instance").
func (c *Coordinator) Close() error {
	c.jan.Stop()
	c.work.stopAndWait()
	c.mem.Close()
	c.stats.Stop()
	return c.disk.Close()
}

// Stats returns a snapshot of the diagnostics counters.
func (c *Coordinator) Stats() map[string]int64 { return c.stats.Snapshot() }

func (c *Coordinator) routeFilename(key string, size int64) string {
	switch c.storageType {
	case domain.StorageFile:
		return domain.BlobName(key)
	case domain.StorageInline:
		return ""
	default: // Mixed
		if size > c.inlineThreshold {
			return domain.BlobName(key)
		}
		return ""
	}
}

// ---- contains ----

// Contains reports whether key is present in either tier.
func (c *Coordinator) Contains(key string) bool {
	if c.mem.Contains(key) {
		return true
	}
	done := make(chan bool, 1)
	c.work.submit(func() { done <- c.disk.Exists(key) })
	return <-done
}

// ContainsAsync is Contains's non-blocking form; cb runs on the worker.
func (c *Coordinator) ContainsAsync(key string, cb func(bool)) {
	if c.mem.Contains(key) {
		c.work.submit(func() { cb(true) })
		return
	}
	c.work.submit(func() { cb(c.disk.Exists(key)) })
}

// ---- get ----

// Get consults L1, then on miss falls through to L2 on the worker,
// decoding and promoting the value into L1 on success.
func (c *Coordinator) Get(key string) (any, bool) {
	if v, ok := c.mem.Get(key); ok {
		c.stats.Hit(stats.CounterMemoryHits)
		return v, true
	}
	c.stats.Hit(stats.CounterMemoryMisses)

	type result struct {
		value any
		ok    bool
	}
	done := make(chan result, 1)
	c.work.submit(func() {
		v, ok := c.diskGet(key)
		done <- result{v, ok}
	})
	r := <-done
	return r.value, r.ok
}

// GetAsync is Get's non-blocking form; cb runs on the worker, on an L1
// hit as well as after the L2 read of an L1 miss.
func (c *Coordinator) GetAsync(key string, cb func(any, bool)) {
	if v, ok := c.mem.Get(key); ok {
		c.stats.Hit(stats.CounterMemoryHits)
		c.work.submit(func() { cb(v, true) })
		return
	}
	c.stats.Hit(stats.CounterMemoryMisses)
	c.work.submit(func() {
		v, ok := c.diskGet(key)
		cb(v, ok)
	})
}

// diskGet runs on the worker: read L2, decode, and promote into L1 on
// success; on decode failure, delete the L2 row and report a miss.
func (c *Coordinator) diskGet(key string) (any, bool) {
	raw, ok := c.disk.GetValue(key)
	if !ok {
		c.stats.Hit(stats.CounterStorageMisses)
		return nil, false
	}
	c.stats.Hit(stats.CounterStorageHits)

	value, err := c.codec.Decode(raw)
	if err != nil {
		c.stats.Inc(stats.CounterDecodeFailures, 1)
		c.stats.LogError("decode", err)
		c.disk.Remove(key)
		return nil, false
	}
	c.mem.Set(key, value, int64(len(raw)))
	return value, true
}

// ---- set ----

// Set encodes value, writes it through to L1 immediately, and schedules
// an L2 upsert on the worker. The blocking form waits for the L2 write.
func (c *Coordinator) Set(key string, value any, cost int64) bool {
	raw, ok := c.encode(key, value, cost)
	if !ok {
		return false
	}
	done := make(chan bool, 1)
	c.work.submit(func() { done <- c.diskSave(key, raw) })
	return <-done
}

// SetAsync returns after the L1 write; the L2 upsert runs on the worker
// and cb reports its outcome.
func (c *Coordinator) SetAsync(key string, value any, cost int64, cb func(bool)) {
	raw, ok := c.encode(key, value, cost)
	if !ok {
		cb(false)
		return
	}
	c.work.submit(func() { cb(c.diskSave(key, raw)) })
}

// encode converts value to bytes and writes it through to L1. Returns the
// encoded bytes for the caller to hand to the worker for the L2 half.
func (c *Coordinator) encode(key string, value any, cost int64) ([]byte, bool) {
	raw, err := c.codec.Encode(value)
	if err != nil {
		c.stats.LogError("encode", err)
		return nil, false
	}
	l1Cost := cost
	if l1Cost <= 0 {
		l1Cost = int64(len(raw))
	}
	c.mem.Set(key, value, l1Cost)
	return raw, true
}

func (c *Coordinator) diskSave(key string, raw []byte) bool {
	item := domain.Item{
		Key:      key,
		Value:    raw,
		Filename: c.routeFilename(key, int64(len(raw))),
	}
	return c.disk.Save(item)
}

// ---- remove ----

// Remove drops key from L1 immediately and from L2 on the worker.
func (c *Coordinator) Remove(key string) bool {
	c.mem.Remove(key)
	done := make(chan bool, 1)
	c.work.submit(func() { done <- c.disk.Remove(key) })
	return <-done
}

// RemoveAsync is Remove's non-blocking form.
func (c *Coordinator) RemoveAsync(key string, cb func(bool)) {
	c.mem.Remove(key)
	c.work.submit(func() { cb(c.disk.Remove(key)) })
}

// ---- remove all ----

// RemoveAll clears L1 immediately and fast-wipes L2 on the worker.
func (c *Coordinator) RemoveAll() bool {
	c.mem.RemoveAll()
	done := make(chan bool, 1)
	c.work.submit(func() {
		ok := c.disk.RemoveAll()
		if ok {
			c.stats.Hit(stats.CounterWipes)
		}
		done <- ok
	})
	return <-done
}

// RemoveAllAsync is RemoveAll's non-blocking form.
func (c *Coordinator) RemoveAllAsync(cb func(bool)) {
	c.mem.RemoveAll()
	c.work.submit(func() {
		ok := c.disk.RemoveAll()
		if ok {
			c.stats.Hit(stats.CounterWipes)
		}
		cb(ok)
	})
}

// RemoveAllWithProgress clears L1 immediately, then drives L2's slow,
// observable wipe on the worker, invoking progress after each batch and
// end exactly once.
func (c *Coordinator) RemoveAllWithProgress(progress func(removed, total int), end func(error)) bool {
	c.mem.RemoveAll()
	done := make(chan error, 1)
	c.work.submit(func() {
		var reported error
		c.disk.RemoveAllWithProgress(progress, func(err error) {
			reported = err
			end(err)
		})
		done <- reported
	})
	return <-done == nil
}
