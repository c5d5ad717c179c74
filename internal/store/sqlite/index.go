// Package sqlite implements the store.Index port backed by a SQLite
// database file (manifest.sqlite). It holds item metadata and, for inlined
// items, the value bytes themselves; external items keep only a filename
// reference here while the bytes live under the blob directory.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	// Import SQLite3 driver for database/sql.
	_ "github.com/mattn/go-sqlite3"

	"github.com/tandemkv/tandem/internal/domain"
)

// Index implements the store.Index port using SQLite. The interface itself
// lives in the parent store package; this package deliberately does not
// import it back, to avoid a dependency cycle.
type Index struct {
	db *sql.DB
}

// Open opens (creating if needed) a manifest.sqlite index at path with the
// pragmas the teacher's store uses: WAL journaling, foreign keys, and a
// busy timeout so concurrent readers inside the same process don't error
// out while the single worker holds a write lock.
func Open(path string) (*Index, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %v", domain.ErrIOFailed, err)
	}
	ix := &Index{db: db}
	if err := ix.init(); err != nil {
		db.Close()
		return nil, err
	}
	return ix, nil
}

// New wraps an already-configured *sql.DB (used by tests that want a
// shared in-memory or temp-file database).
func New(db *sql.DB) (*Index, error) {
	ix := &Index{db: db}
	if err := ix.init(); err != nil {
		return nil, err
	}
	return ix, nil
}

func (i *Index) init() error {
	const schema = `CREATE TABLE IF NOT EXISTS items (
key TEXT PRIMARY KEY,
filename TEXT NOT NULL DEFAULT '',
size INTEGER NOT NULL,
inline_data BLOB,
modification_time INTEGER NOT NULL,
last_access_time INTEGER NOT NULL,
extended_data BLOB
);
CREATE INDEX IF NOT EXISTS idx_items_last_access_time ON items(last_access_time);
CREATE INDEX IF NOT EXISTS idx_items_size ON items(size);`
	if _, err := i.db.Exec(schema); err != nil {
		return fmt.Errorf("%w: init schema: %v", domain.ErrCorrupted, err)
	}
	return nil
}

// Close releases the underlying database handle.
func (i *Index) Close() error { return i.db.Close() }

// Checkpoint folds the WAL file back into the main database file. Called
// before relocating the database file during a fast wipe so no pending WAL
// frames are left referencing a file that is about to move.
func (i *Index) Checkpoint(ctx context.Context) error {
	if _, err := i.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return fmt.Errorf("%w: checkpoint: %v", domain.ErrIOFailed, err)
	}
	return nil
}

// Upsert implements store.Index.Upsert.
func (i *Index) Upsert(ctx context.Context, item domain.Item) (prevFilename string, hadPrev bool, err error) {
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("%w: begin upsert: %v", domain.ErrIOFailed, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	row := tx.QueryRowContext(ctx, `SELECT filename FROM items WHERE key = ?`, item.Key)
	var existing string
	switch scanErr := row.Scan(&existing); {
	case scanErr == nil:
		hadPrev = true
		prevFilename = existing
	case errors.Is(scanErr, sql.ErrNoRows):
		// no previous row
	default:
		return "", false, fmt.Errorf("%w: lookup previous row: %v", domain.ErrIOFailed, scanErr)
	}

	const q = `INSERT INTO items (key, filename, size, inline_data, modification_time, last_access_time, extended_data)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
  filename = excluded.filename,
  size = excluded.size,
  inline_data = excluded.inline_data,
  modification_time = excluded.modification_time,
  last_access_time = excluded.last_access_time,
  extended_data = excluded.extended_data`
	if _, err = tx.ExecContext(ctx, q, item.Key, item.Filename, item.Size, item.Value, item.ModTime, item.AccessTime, item.ExtendedData); err != nil {
		return "", false, fmt.Errorf("%w: upsert row: %v", domain.ErrIOFailed, err)
	}
	if err = tx.Commit(); err != nil {
		return "", false, fmt.Errorf("%w: commit upsert: %v", domain.ErrIOFailed, err)
	}
	if hadPrev && prevFilename == item.Filename {
		hadPrev = false // same blob retained, nothing to delete
	}
	return prevFilename, hadPrev, nil
}

const selectCols = `key, filename, size, inline_data, modification_time, last_access_time, extended_data`

func scanItem(row interface{ Scan(...any) error }) (domain.Item, error) {
	var it domain.Item
	if err := row.Scan(&it.Key, &it.Filename, &it.Size, &it.Value, &it.ModTime, &it.AccessTime, &it.ExtendedData); err != nil {
		return domain.Item{}, err
	}
	return it, nil
}

// Get implements store.Index.Get: loads the row and bumps last_access_time.
func (i *Index) Get(ctx context.Context, key string, now int64) (domain.Item, bool, error) {
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Item{}, false, fmt.Errorf("%w: begin get: %v", domain.ErrIOFailed, err)
	}
	defer tx.Rollback() //nolint:errcheck

	row := tx.QueryRowContext(ctx, `SELECT `+selectCols+` FROM items WHERE key = ?`, key)
	it, scanErr := scanItem(row)
	if errors.Is(scanErr, sql.ErrNoRows) {
		return domain.Item{}, false, nil
	}
	if scanErr != nil {
		return domain.Item{}, false, fmt.Errorf("%w: scan get: %v", domain.ErrIOFailed, scanErr)
	}
	if _, err = tx.ExecContext(ctx, `UPDATE items SET last_access_time = ? WHERE key = ?`, now, key); err != nil {
		return domain.Item{}, false, fmt.Errorf("%w: touch access: %v", domain.ErrIOFailed, err)
	}
	if err = tx.Commit(); err != nil {
		return domain.Item{}, false, fmt.Errorf("%w: commit get: %v", domain.ErrIOFailed, err)
	}
	it.AccessTime = now
	return it, true, nil
}

// GetInfo implements store.Index.GetInfo: no access-time mutation.
func (i *Index) GetInfo(ctx context.Context, key string) (domain.Item, bool, error) {
	row := i.db.QueryRowContext(ctx, `SELECT `+selectCols+` FROM items WHERE key = ?`, key)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Item{}, false, nil
	}
	if err != nil {
		return domain.Item{}, false, fmt.Errorf("%w: scan getinfo: %v", domain.ErrIOFailed, err)
	}
	return it, true, nil
}

// TouchAccess implements store.Index.TouchAccess.
func (i *Index) TouchAccess(ctx context.Context, key string, now int64) error {
	if _, err := i.db.ExecContext(ctx, `UPDATE items SET last_access_time = ? WHERE key = ?`, now, key); err != nil {
		return fmt.Errorf("%w: touch access: %v", domain.ErrIOFailed, err)
	}
	return nil
}

// Exists implements store.Index.Exists.
func (i *Index) Exists(ctx context.Context, key string) (bool, error) {
	var one int
	err := i.db.QueryRowContext(ctx, `SELECT 1 FROM items WHERE key = ?`, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: exists: %v", domain.ErrIOFailed, err)
	}
	return true, nil
}

// Count implements store.Index.Count.
func (i *Index) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := i.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&n); err != nil {
		return -1, fmt.Errorf("%w: count: %v", domain.ErrIOFailed, err)
	}
	return n, nil
}

// TotalSize implements store.Index.TotalSize.
func (i *Index) TotalSize(ctx context.Context) (int64, error) {
	var n sql.NullInt64
	if err := i.db.QueryRowContext(ctx, `SELECT SUM(size) FROM items`).Scan(&n); err != nil {
		return -1, fmt.Errorf("%w: total size: %v", domain.ErrIOFailed, err)
	}
	return n.Int64, nil
}

// Remove implements store.Index.Remove.
func (i *Index) Remove(ctx context.Context, key string) (domain.Item, bool, error) {
	it, ok, err := i.GetInfo(ctx, key)
	if err != nil || !ok {
		return it, ok, err
	}
	if _, err := i.db.ExecContext(ctx, `DELETE FROM items WHERE key = ?`, key); err != nil {
		return domain.Item{}, false, fmt.Errorf("%w: remove: %v", domain.ErrIOFailed, err)
	}
	return it, true, nil
}

func (i *Index) queryAndDelete(ctx context.Context, whereClause string, arg any) ([]domain.Item, error) {
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin batch remove: %v", domain.ErrIOFailed, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	rows, qerr := tx.QueryContext(ctx, `SELECT `+selectCols+` FROM items WHERE `+whereClause, arg)
	if qerr != nil {
		err = qerr
		return nil, fmt.Errorf("%w: select batch: %v", domain.ErrIOFailed, err)
	}
	var items []domain.Item
	for rows.Next() {
		it, serr := scanItem(rows)
		if serr != nil {
			rows.Close()
			err = serr
			return nil, fmt.Errorf("%w: scan batch: %v", domain.ErrIOFailed, err)
		}
		items = append(items, it)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate batch: %v", domain.ErrIOFailed, err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM items WHERE `+whereClause, arg); err != nil {
		return nil, fmt.Errorf("%w: delete batch: %v", domain.ErrIOFailed, err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit batch: %v", domain.ErrIOFailed, err)
	}
	return items, nil
}

// RemoveLargerThan implements store.Index.RemoveLargerThan.
func (i *Index) RemoveLargerThan(ctx context.Context, size int64) ([]domain.Item, error) {
	return i.queryAndDelete(ctx, `size > ?`, size)
}

// RemoveEarlierThan implements store.Index.RemoveEarlierThan.
func (i *Index) RemoveEarlierThan(ctx context.Context, accessTime int64) ([]domain.Item, error) {
	return i.queryAndDelete(ctx, `last_access_time < ?`, accessTime)
}

// SelectLRUBatch implements store.Index.SelectLRUBatch: ascending
// last_access_time, ties broken by rowid ascending (insertion order).
func (i *Index) SelectLRUBatch(ctx context.Context, n int) ([]domain.Item, error) {
	rows, err := i.db.QueryContext(ctx, `SELECT `+selectCols+` FROM items ORDER BY last_access_time ASC, rowid ASC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("%w: select lru batch: %v", domain.ErrIOFailed, err)
	}
	defer rows.Close()
	var items []domain.Item
	for rows.Next() {
		it, serr := scanItem(rows)
		if serr != nil {
			return nil, fmt.Errorf("%w: scan lru batch: %v", domain.ErrIOFailed, serr)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate lru batch: %v", domain.ErrIOFailed, err)
	}
	return items, nil
}

// RemoveKeys implements store.Index.RemoveKeys: deletes all given keys in a
// single transaction to bound per-call fsync cost.
func (i *Index) RemoveKeys(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin remove keys: %v", domain.ErrIOFailed, err)
	}
	stmt, err := tx.PrepareContext(ctx, `DELETE FROM items WHERE key = ?`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("%w: prepare remove keys: %v", domain.ErrIOFailed, err)
	}
	defer stmt.Close()
	for _, k := range keys {
		if _, err = stmt.ExecContext(ctx, k); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%w: exec remove key: %v", domain.ErrIOFailed, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit remove keys: %v", domain.ErrIOFailed, err)
	}
	return nil
}

// AllKeys implements store.Index.AllKeys.
func (i *Index) AllKeys(ctx context.Context) ([]string, error) {
	rows, err := i.db.QueryContext(ctx, `SELECT key FROM items`)
	if err != nil {
		return nil, fmt.Errorf("%w: all keys: %v", domain.ErrIOFailed, err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("%w: scan key: %v", domain.ErrIOFailed, err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// AllFilenames implements store.Index.AllFilenames.
func (i *Index) AllFilenames(ctx context.Context) ([]string, error) {
	rows, err := i.db.QueryContext(ctx, `SELECT filename FROM items WHERE filename != ''`)
	if err != nil {
		return nil, fmt.Errorf("%w: all filenames: %v", domain.ErrIOFailed, err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("%w: scan filename: %v", domain.ErrIOFailed, err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// RemoveOrphanRows implements store.Index.RemoveOrphanRows: deletes rows
// whose filename is in missing (blob no longer present on disk).
func (i *Index) RemoveOrphanRows(ctx context.Context, missing []string) (int, error) {
	if len(missing) == 0 {
		return 0, nil
	}
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin orphan removal: %v", domain.ErrIOFailed, err)
	}
	stmt, err := tx.PrepareContext(ctx, `DELETE FROM items WHERE filename = ?`)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("%w: prepare orphan removal: %v", domain.ErrIOFailed, err)
	}
	defer stmt.Close()
	var total int64
	for _, name := range missing {
		res, execErr := stmt.ExecContext(ctx, name)
		if execErr != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("%w: exec orphan removal: %v", domain.ErrIOFailed, execErr)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit orphan removal: %v", domain.ErrIOFailed, err)
	}
	return int(total), nil
}

// RemoveAllRows implements store.Index.RemoveAllRows.
func (i *Index) RemoveAllRows(ctx context.Context) error {
	if _, err := i.db.ExecContext(ctx, `DELETE FROM items`); err != nil {
		return fmt.Errorf("%w: remove all rows: %v", domain.ErrIOFailed, err)
	}
	return nil
}
