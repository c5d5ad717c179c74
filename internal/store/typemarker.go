package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tandemkv/tandem/internal/domain"
)

// typeMarkerFile records the StorageType a root directory was first opened
// with, so a later Open with a different type is rejected (spec §6 "type
// mismatch with an existing store at the path") instead of silently
// corrupting the store (e.g. a File-only store opened as Inline would
// start ignoring filenames already on disk).
const typeMarkerFile = "storage.type"

// checkOrWriteTypeMarker enforces that dir's recorded storage type, if any,
// matches storageType. On first open it records storageType for future
// opens to check against.
func checkOrWriteTypeMarker(dir string, storageType domain.StorageType) error {
	path := filepath.Join(dir, typeMarkerFile)
	existing, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("%w: read type marker: %v", domain.ErrIOFailed, err)
		}
		if werr := os.WriteFile(path, []byte(storageType.String()), 0o600); werr != nil {
			return fmt.Errorf("%w: write type marker: %v", domain.ErrIOFailed, werr)
		}
		return nil
	}
	if string(existing) != storageType.String() {
		return fmt.Errorf("%w: store at %s was created as %q, cannot open as %q",
			domain.ErrTypeMismatch, dir, string(existing), storageType.String())
	}
	return nil
}
