package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/tandemkv/tandem/internal/domain"
)

// trash manages the `trash/` subdirectory used by the fast wipe path: whole
// directories are renamed here and deleted asynchronously so removeAll can
// return as soon as the rename completes (spec §4.1).
type trash struct {
	root string
}

func newTrash(storeRoot string) (*trash, error) {
	root := filepath.Join(storeRoot, "trash")
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("%w: create trash dir: %v", domain.ErrIOFailed, err)
	}
	return &trash{root: root}, nil
}

// newStagingDir creates a fresh trash/<uuid> directory that the fast wipe
// path moves the data directory and index file into before recreating them
// empty at their original locations.
func (t *trash) newStagingDir() (string, error) {
	dir := filepath.Join(t.root, uuid.NewString())
	if err := os.Mkdir(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

// moveInto renames src to <stagingDir>/<name>. Both paths must live on the
// same filesystem (trash is a subdirectory of the store root) for the
// rename to be atomic; a cross-device error is returned unchanged so the
// caller can fall back to the slow wipe path (spec §9 open question).
func (t *trash) moveInto(src, stagingDir, name string) error {
	return os.Rename(src, filepath.Join(stagingDir, name))
}

// dispatchDeletion deletes dir on a detached background goroutine. It
// shares no state with the caller after moveInto returns, matching §5's
// "shares no state with callers after the rename".
func (t *trash) dispatchDeletion(dir string) {
	go func() {
		_ = os.RemoveAll(dir)
	}()
}

// resumeLingering resumes deletion of any trash/* directories left over
// from a previous process (e.g. after a crash between rename and delete).
// Called at open time and again on every Store.Reconcile.
func (t *trash) resumeLingering() error {
	entries, err := os.ReadDir(t.root)
	if err != nil {
		return fmt.Errorf("%w: list trash: %v", domain.ErrIOFailed, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		t.dispatchDeletion(filepath.Join(t.root, e.Name()))
	}
	return nil
}
