// Package tandem is the public entry point for the two-tier key-value
// cache described by this module: a bounded in-memory LRU (L1) write
// through and read through to a persistent hybrid store (L2) combining a
// SQLite index with an on-disk blob directory. See internal/coordinator,
// internal/memcache, and internal/store for the three components spec §2
// assigns this budget to.
package tandem

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tandemkv/tandem/internal/coordinator"
	"github.com/tandemkv/tandem/internal/domain"
)

// ErrInvalidPath covers the ways a cache location can be rejected at
// construction: an empty name, an empty or relative path, failure to
// resolve the platform cache directory for the name-based constructor,
// and, in NewFromEnv, an unresolvable data_dir or unrecognized
// storage_type (spec §6 "Two construction errors: invalid path, and type
// mismatch...").
var ErrInvalidPath = errors.New("tandem: invalid path")

// ErrTypeMismatch is returned when opening an existing store directory
// with a StorageType different from the one it was created with.
var ErrTypeMismatch = errors.New("tandem: storage type mismatch with existing store")

// Cache is the Cache Coordinator of spec §4.3, the keyed, typed front end
// composing the memory tier over the storage engine.
type Cache struct {
	*coordinator.Coordinator
}

// New opens (creating on first use) a cache named name, rooted under the
// platform-specific user cache directory (os.UserCacheDir()).
func New(name string, opts Options) (*Cache, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidPath)
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return nil, fmt.Errorf("%w: resolve platform cache dir: %v", ErrInvalidPath, err)
	}
	return NewAtPath(filepath.Join(base, name), opts)
}

// NewAtPath opens (creating on first use) a cache rooted at an absolute
// path, bypassing the platform cache directory.
func NewAtPath(path string, opts Options) (*Cache, error) {
	if path == "" || !filepath.IsAbs(path) {
		return nil, fmt.Errorf("%w: path must be absolute, got %q", ErrInvalidPath, path)
	}

	co, err := coordinator.New(path, opts.StorageType, opts.codec(), opts.coordinatorOptions())
	if err != nil {
		if errors.Is(err, domain.ErrTypeMismatch) {
			return nil, fmt.Errorf("%w: %v", ErrTypeMismatch, err)
		}
		return nil, err
	}
	return &Cache{co}, nil
}
