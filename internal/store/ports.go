// Package store implements the KV Storage engine of spec §4.1: a hybrid
// persistent store combining a relational metadata index with an on-disk
// blob directory, an LRU eviction index, crash recovery, and a trash-based
// fast wipe. All operations are not thread-safe; callers (the coordinator's
// single worker) serialize access.
package store

import (
	"context"
	"time"

	"github.com/tandemkv/tandem/internal/domain"
)

// Index abstracts the metadata/index operations backed by the relational
// store (SQLite). It isolates the concrete manifest.sqlite implementation so
// it can be tested and swapped independently of the blob directory.
type Index interface {
	// Upsert inserts or replaces the row for item.Key. When replacing, the
	// caller learns the previous filename (if any, and if different from
	// the new one) so the old blob can be deleted.
	Upsert(ctx context.Context, item domain.Item) (prevFilename string, hadPrev bool, err error)

	// Get returns the full row, including inline value bytes (an external
	// value is loaded separately by the caller), and bumps last_access_time
	// to now.
	Get(ctx context.Context, key string, now int64) (domain.Item, bool, error)
	// GetInfo returns the row without touching last_access_time.
	GetInfo(ctx context.Context, key string) (domain.Item, bool, error)
	// TouchAccess bumps last_access_time for key to now.
	TouchAccess(ctx context.Context, key string, now int64) error

	Exists(ctx context.Context, key string) (bool, error)
	Count(ctx context.Context) (int64, error)
	TotalSize(ctx context.Context) (int64, error)

	Remove(ctx context.Context, key string) (domain.Item, bool, error)
	RemoveLargerThan(ctx context.Context, size int64) ([]domain.Item, error)
	RemoveEarlierThan(ctx context.Context, accessTime int64) ([]domain.Item, error)

	// SelectLRUBatch returns up to n rows ordered by access_time ascending,
	// rowid ascending, for eviction batching.
	SelectLRUBatch(ctx context.Context, n int) ([]domain.Item, error)
	// RemoveKeys deletes the given keys' rows in one transaction.
	RemoveKeys(ctx context.Context, keys []string) error

	// AllKeys returns every key currently indexed, for slow wipe and
	// reconciliation.
	AllKeys(ctx context.Context) ([]string, error)
	// AllFilenames returns every non-empty filename referenced by a row.
	AllFilenames(ctx context.Context) ([]string, error)
	// RemoveOrphanRows deletes rows whose filename is in missing and
	// returns how many were removed.
	RemoveOrphanRows(ctx context.Context, missing []string) (int, error)

	// RemoveAllRows truncates the table. The fast wipe does not use it: it
	// relocates the database file into trash and opens a fresh one.
	RemoveAllRows(ctx context.Context) error

	Close() error
}

// BlobStorage abstracts external value persistence (the filesystem). Values
// are addressed by filename, not by key, so the same blob can be replaced or
// orphaned independently of index rows.
type BlobStorage interface {
	// Write atomically writes data to filename: write to a temp name, sync,
	// then rename into place.
	Write(filename string, data []byte) error
	Read(filename string) ([]byte, error)
	Delete(filename string) error
	Exists(filename string) bool
	// List returns all blob filenames currently present on disk.
	List() ([]string, error)

	// Root returns the directory blobs live under (used to relocate the
	// whole directory into trash during a fast wipe).
	Root() string
}

// Clock abstracts time for deterministic testing.
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock using time.Now.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }
