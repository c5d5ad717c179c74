package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/tandemkv/tandem/internal/domain"
	"github.com/tandemkv/tandem/internal/store/blob"
	"github.com/tandemkv/tandem/internal/store/sqlite"
)

// Compile-time checks that the concrete SQLite index and filesystem blob
// store satisfy this package's ports.
var (
	_ Index       = (*sqlite.Index)(nil)
	_ BlobStorage = (*blob.Store)(nil)
)

// batchSize bounds the number of rows touched by a single eviction
// transaction (spec §4.1 "in batches (e.g., 16 items)").
const batchSize = 16

// State describes the storage engine's lifecycle per spec §4.1.
type State int

const (
	// StateOpen is the normal operating state.
	StateOpen State = iota
	// StateFailed means an unrecoverable index error occurred; all
	// subsequent operations return failure without attempting I/O.
	StateFailed
)

// Store is the KV Storage engine of spec §4.1: a hybrid persistent store
// combining a relational index with an on-disk blob directory. All
// operations are not thread-safe; the caller (the coordinator's single
// worker) serializes access.
type Store struct {
	root        string
	storageType domain.StorageType
	index       Index
	blobs       BlobStorage
	trash       *trash
	clock       Clock

	state atomic.Int32 // State
}

// Open opens (creating on first use) a storage engine rooted at dir, with
// the given storage type fixed for the lifetime of the directory.
func Open(dir string, storageType domain.StorageType) (*Store, error) {
	return open(dir, storageType, SystemClock{})
}

// OpenWithClock is Open with an injectable clock, for deterministic tests.
func OpenWithClock(dir string, storageType domain.StorageType, clock Clock) (*Store, error) {
	return open(dir, storageType, clock)
}

func open(dir string, storageType domain.StorageType, clock Clock) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: empty root path", domain.ErrPreconditionViolated)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: create root: %v", domain.ErrIOFailed, err)
	}
	if err := checkOrWriteTypeMarker(dir, storageType); err != nil {
		return nil, err
	}

	manifestPath := filepath.Join(dir, "manifest.sqlite")
	idx, err := openIndex(manifestPath)
	if err != nil {
		return nil, err
	}

	blobDir := filepath.Join(dir, "data")
	blobs, err := openBlobs(blobDir)
	if err != nil {
		idx.Close()
		return nil, err
	}

	tr, err := newTrash(dir)
	if err != nil {
		idx.Close()
		return nil, err
	}

	s := &Store{root: dir, storageType: storageType, index: idx, blobs: blobs, trash: tr, clock: clock}

	if err := s.reconcile(context.Background()); err != nil {
		idx.Close()
		return nil, err
	}

	return s, nil
}

// failed reports whether the store is in the Failed state.
func (s *Store) failed() bool { return State(s.state.Load()) == StateFailed }

func (s *Store) fail() { s.state.Store(int32(StateFailed)) }

// Close releases the underlying index handle. There is no broader shutdown
// contract (spec §3: "destroyed by dropping the instance").
func (s *Store) Close() error {
	if s.index == nil {
		return nil
	}
	return s.index.Close()
}

// now returns the current wall-clock second, the time resolution spec §9
// documents as deliberate.
func (s *Store) now() int64 { return s.clock.Now().Unix() }

// ---- reconciliation (spec §4.1 "Startup reconciliation") ----

// Reconcile re-runs orphan-row, orphan-blob, and lingering-trash cleanup.
// Besides the mandatory run at Open, a caller (the janitor) may invoke it
// periodically to catch drift from crashes or out-of-band filesystem edits.
func (s *Store) Reconcile(ctx context.Context) error {
	if s.failed() {
		return domain.ErrFailedState
	}
	return s.reconcile(ctx)
}

func (s *Store) reconcile(ctx context.Context) error {
	blobNames, err := s.blobs.List()
	if err != nil {
		return err
	}
	onDisk := make(map[string]struct{}, len(blobNames))
	for _, n := range blobNames {
		onDisk[n] = struct{}{}
	}

	indexed, err := s.index.AllFilenames(ctx)
	if err != nil {
		return err
	}
	indexedSet := make(map[string]struct{}, len(indexed))
	for _, n := range indexed {
		indexedSet[n] = struct{}{}
	}

	// (a) orphan rows: referenced filename missing on disk.
	var missingOnDisk []string
	for _, n := range indexed {
		if _, ok := onDisk[n]; !ok {
			missingOnDisk = append(missingOnDisk, n)
		}
	}
	if len(missingOnDisk) > 0 {
		if _, err := s.index.RemoveOrphanRows(ctx, missingOnDisk); err != nil {
			return err
		}
	}

	// (b) orphan blobs: file present but not referenced by any row.
	for _, n := range blobNames {
		if _, ok := indexedSet[n]; !ok {
			_ = s.blobs.Delete(n) // best-effort
		}
	}

	// (c) resume deletion of any lingering trash/* directories.
	return s.trash.resumeLingering()
}

// ---- save ----

// Save persists item, routing its value to inline or external storage
// according to the configured storage type and the filename the caller
// supplied. Returns false on any precondition violation or I/O failure.
func (s *Store) Save(item domain.Item) bool {
	if s.failed() {
		return false
	}
	if item.Key == "" || len(item.Value) == 0 {
		return false
	}

	filename := item.Filename
	switch s.storageType {
	case domain.StorageInline:
		filename = ""
	case domain.StorageFile:
		if filename == "" {
			return false
		}
	}

	now := s.now()
	toSave := domain.Item{
		Key:          item.Key,
		Filename:     filename,
		Size:         int64(len(item.Value)),
		ModTime:      now,
		AccessTime:   now,
		ExtendedData: item.ExtendedData,
	}
	if filename == "" {
		toSave.Value = item.Value
	}

	if filename != "" {
		if err := s.blobs.Write(filename, item.Value); err != nil {
			return false
		}
	}

	prevFilename, hadPrev, err := s.index.Upsert(context.Background(), toSave)
	if err != nil {
		if filename != "" {
			_ = s.blobs.Delete(filename)
		}
		s.maybeFail(err)
		return false
	}

	if hadPrev && prevFilename != "" {
		_ = s.blobs.Delete(prevFilename) // best-effort; orphan reclaimed at next open
	}
	return true
}

// SaveValue is an inline convenience save; it fails if the storage type is
// File-only (every value must be external).
func (s *Store) SaveValue(key string, value []byte) bool {
	if s.storageType == domain.StorageFile {
		return false
	}
	return s.Save(domain.Item{Key: key, Value: value})
}

// maybeFail marks the store Failed when the error indicates the index
// itself is unusable, rather than a transient per-call failure.
func (s *Store) maybeFail(err error) {
	if errors.Is(err, domain.ErrCorrupted) {
		s.fail()
	}
}

// ---- reads ----

// Get loads the full item (including value bytes) and bumps its access
// time. Returns false if the key is absent.
func (s *Store) Get(key string) (domain.Item, bool) {
	if s.failed() || key == "" {
		return domain.Item{}, false
	}
	it, ok, err := s.index.Get(context.Background(), key, s.now())
	if err != nil {
		s.maybeFail(err)
		return domain.Item{}, false
	}
	if !ok {
		return domain.Item{}, false
	}
	if it.Filename != "" {
		value, rerr := s.blobs.Read(it.Filename)
		if rerr != nil {
			// Missing external blob for a known row: delete the row and
			// return absent (spec §4.1 failure semantics).
			_, _, _ = s.index.Remove(context.Background(), key)
			return domain.Item{}, false
		}
		it.Value = value
	}
	return it, true
}

// GetInfo returns item metadata without the value payload and without
// touching access time.
func (s *Store) GetInfo(key string) (domain.Item, bool) {
	if s.failed() || key == "" {
		return domain.Item{}, false
	}
	it, ok, err := s.index.GetInfo(context.Background(), key)
	if err != nil {
		s.maybeFail(err)
		return domain.Item{}, false
	}
	it.Value = nil
	return it, ok
}

// GetValue returns only the value bytes, updating access time.
func (s *Store) GetValue(key string) ([]byte, bool) {
	it, ok := s.Get(key)
	if !ok {
		return nil, false
	}
	return it.Value, true
}

// GetMulti returns items for the requested keys, in the requested order,
// skipping keys that are absent.
func (s *Store) GetMulti(keys []string) []domain.Item {
	out := make([]domain.Item, 0, len(keys))
	for _, k := range keys {
		if it, ok := s.Get(k); ok {
			out = append(out, it)
		}
	}
	return out
}

// GetInfoMulti is the no-value, no-touch bulk variant of GetMulti.
func (s *Store) GetInfoMulti(keys []string) []domain.Item {
	out := make([]domain.Item, 0, len(keys))
	for _, k := range keys {
		if it, ok := s.GetInfo(k); ok {
			out = append(out, it)
		}
	}
	return out
}

// Exists reports whether key is present without updating access time.
func (s *Store) Exists(key string) bool {
	if s.failed() || key == "" {
		return false
	}
	ok, err := s.index.Exists(context.Background(), key)
	if err != nil {
		s.maybeFail(err)
		return false
	}
	return ok
}

// Count returns the number of items, or -1 on error.
func (s *Store) Count() int64 {
	if s.failed() {
		return -1
	}
	n, err := s.index.Count(context.Background())
	if err != nil {
		s.maybeFail(err)
		return -1
	}
	return n
}

// TotalSize returns the sum of item sizes, or -1 on error.
func (s *Store) TotalSize() int64 {
	if s.failed() {
		return -1
	}
	n, err := s.index.TotalSize(context.Background())
	if err != nil {
		s.maybeFail(err)
		return -1
	}
	return n
}

// ---- targeted removal ----

// Remove deletes key's row and blob (if any). A missing key is a
// successful no-op.
func (s *Store) Remove(key string) bool {
	if s.failed() {
		return false
	}
	it, ok, err := s.index.Remove(context.Background(), key)
	if err != nil {
		s.maybeFail(err)
		return false
	}
	if ok && it.Filename != "" {
		_ = s.blobs.Delete(it.Filename)
	}
	return true
}

// RemoveKeys deletes each of keys; missing keys are skipped.
func (s *Store) RemoveKeys(keys []string) bool {
	ok := true
	for _, k := range keys {
		if !s.Remove(k) {
			ok = false
		}
	}
	return ok
}

// RemoveLargerThan deletes every item whose size exceeds max, blobs first
// then rows.
func (s *Store) RemoveLargerThan(max int64) bool {
	if s.failed() {
		return false
	}
	items, err := s.index.RemoveLargerThan(context.Background(), max)
	if err != nil {
		s.maybeFail(err)
		return false
	}
	s.deleteBlobsOf(items)
	return true
}

// RemoveEarlierThan deletes every item whose access time precedes t.
func (s *Store) RemoveEarlierThan(t int64) bool {
	if s.failed() {
		return false
	}
	items, err := s.index.RemoveEarlierThan(context.Background(), t)
	if err != nil {
		s.maybeFail(err)
		return false
	}
	s.deleteBlobsOf(items)
	return true
}

func (s *Store) deleteBlobsOf(items []domain.Item) {
	for _, it := range items {
		if it.Filename != "" {
			_ = s.blobs.Delete(it.Filename)
		}
	}
}

// ---- LRU eviction ----

// RemoveToFitSize evicts least-recently-used items, in batches, until
// total size is at or below maxBytes (or the store is empty).
func (s *Store) RemoveToFitSize(maxBytes int64) bool {
	return s.evictUntil(maxBytes, func(it domain.Item) int64 { return it.Size }, func() (int64, error) {
		total, err := s.index.TotalSize(context.Background())
		return total, err
	})
}

// RemoveToFitCount evicts least-recently-used items, in batches, until
// count is at or below maxItems (or the store is empty).
func (s *Store) RemoveToFitCount(maxItems int64) bool {
	return s.evictUntil(maxItems, func(domain.Item) int64 { return 1 }, func() (int64, error) {
		n, err := s.index.Count(context.Background())
		return n, err
	})
}

// evictUntil repeatedly selects the oldest-accessed batch of items and
// deletes, from its oldest end, only as many as it takes for measure to
// reach limit, until it does or the store is empty. A single pass always
// makes progress toward the target when items remain.
func (s *Store) evictUntil(limit int64, weight func(domain.Item) int64, measure func() (int64, error)) bool {
	if s.failed() {
		return false
	}
	for {
		current, err := measure()
		if err != nil {
			s.maybeFail(err)
			return false
		}
		if current <= limit {
			return true
		}
		batch, err := s.index.SelectLRUBatch(context.Background(), batchSize)
		if err != nil {
			s.maybeFail(err)
			return false
		}
		if len(batch) == 0 {
			return true // store is empty; target unreachable but that's success per spec
		}
		n := 0
		for ; n < len(batch) && current > limit; n++ {
			current -= weight(batch[n])
		}
		batch = batch[:n]
		keys := make([]string, len(batch))
		for i, it := range batch {
			keys[i] = it.Key
		}
		if err := s.index.RemoveKeys(context.Background(), keys); err != nil {
			s.maybeFail(err)
			return false
		}
		s.deleteBlobsOf(batch)
	}
}

// ---- bulk removal ----

// RemoveAll is the fast-wipe path: rename data/ and the index file into a
// fresh trash/<uuid> subdirectory, recreate them empty, and dispatch
// deletion of the trash subdirectory to a background goroutine. Returns as
// soon as the rename completes.
func (s *Store) RemoveAll() bool {
	if s.failed() {
		return false
	}

	manifestPath := filepath.Join(s.root, "manifest.sqlite")
	blobDir := s.blobs.Root()

	if ckpt, ok := s.index.(interface{ Checkpoint(context.Context) error }); ok {
		_ = ckpt.Checkpoint(context.Background())
	}
	if err := s.index.Close(); err != nil {
		s.fail()
		return false
	}

	staging, err := s.trash.newStagingDir()
	if err != nil {
		// Reopen the index we just closed so the store stays usable.
		s.reopenIndexOrFail(manifestPath)
		return false
	}

	if err := s.trash.moveInto(blobDir, staging, "data"); err != nil {
		// Cross-device or other rename failure: fall back to the slow
		// wipe path (spec §9 open question) rather than losing data.
		s.reopenIndexOrFail(manifestPath)
		return s.removeAllSlow()
	}
	if err := s.trash.moveInto(manifestPath, staging, "manifest.sqlite"); err != nil {
		// Put the blob dir back so state stays consistent, then fall back.
		_ = os.Rename(filepath.Join(staging, "data"), blobDir)
		s.reopenIndexOrFail(manifestPath)
		return s.removeAllSlow()
	}
	for _, ext := range []string{"-wal", "-shm"} {
		_ = os.Remove(manifestPath + ext)
	}

	if !s.reopenIndexOrFail(manifestPath) {
		return false
	}
	blobs, err := openBlobs(blobDir)
	if err != nil {
		s.fail()
		return false
	}
	s.blobs = blobs

	s.trash.dispatchDeletion(staging)
	return true
}

func (s *Store) reopenIndexOrFail(manifestPath string) bool {
	idx, err := openIndex(manifestPath)
	if err != nil {
		s.fail()
		return false
	}
	s.index = idx
	return true
}

// removeAllSlow enumerates and deletes every key in chunks, used as the
// fallback when the fast wipe's directory rename cannot complete (e.g.
// trash lives on a different filesystem than the store root).
func (s *Store) removeAllSlow() bool {
	return s.RemoveAllWithProgress(func(removed, total int) {}, func(error) {})
}

// RemoveAllWithProgress is the slow, observable wipe: enumerate keys,
// delete in batches, invoke progress after each batch, invoke end once.
func (s *Store) RemoveAllWithProgress(progress func(removed, total int), end func(error)) bool {
	if s.failed() {
		end(domain.ErrFailedState)
		return false
	}
	keys, err := s.index.AllKeys(context.Background())
	if err != nil {
		s.maybeFail(err)
		end(err)
		return false
	}
	total := len(keys)
	removed := 0
	for len(keys) > 0 {
		n := batchSize
		if n > len(keys) {
			n = len(keys)
		}
		chunk := keys[:n]
		keys = keys[n:]
		for _, k := range chunk {
			s.Remove(k)
		}
		removed += n
		progress(removed, total)
	}
	end(nil)
	return true
}

func openIndex(manifestPath string) (Index, error) {
	idx, err := sqlite.Open(manifestPath)
	if err != nil {
		return nil, err
	}
	return idx, nil
}

func openBlobs(dir string) (BlobStorage, error) {
	b, err := blob.Open(dir)
	if err != nil {
		return nil, err
	}
	return b, nil
}
