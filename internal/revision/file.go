package revision

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileTracker keeps the pointer in a single text file holding nothing else.
type FileTracker struct {
	path string
}

var _ Tracker = (*FileTracker)(nil)

// NewFileTracker returns a tracker backed by path. The parent directory is
// created on first write.
func NewFileTracker(path string) (*FileTracker, error) {
	if path == "" {
		return nil, errors.New("revision file path is required")
	}
	return &FileTracker{path: filepath.Clean(path)}, nil
}

// Path returns the backing file path.
func (t *FileTracker) Path() string { return t.path }

// Read returns the stored pointer. A missing or blank file reads as absent.
func (t *FileTracker) Read(ctx context.Context) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(t.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, &StorageError{Op: "read", Path: t.path, Err: err}
	}
	p := strings.TrimSpace(string(data))
	if p == "" {
		return "", false, nil
	}
	return p, true, nil
}

// Write replaces the pointer by writing a temp file in the same directory,
// syncing it, and renaming it over the target.
func (t *FileTracker) Write(ctx context.Context, pointer string) error {
	p, err := normalize(pointer)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(t.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &StorageError{Op: "write", Path: t.path, Err: err}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(t.path)+".*.tmp")
	if err != nil {
		return &StorageError{Op: "write", Path: t.path, Err: err}
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.WriteString(p + "\n"); err != nil {
		tmp.Close()
		return &StorageError{Op: "write", Path: t.path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return &StorageError{Op: "write", Path: t.path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &StorageError{Op: "write", Path: t.path, Err: err}
	}
	if err := os.Rename(tmpName, t.path); err != nil {
		return &StorageError{Op: "write", Path: t.path, Err: fmt.Errorf("rename: %w", err)}
	}
	committed = true

	// Persist the rename itself. Not all platforms support syncing a directory.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}

// Delete removes the pointer file, returning the tracker to the absent state.
func (t *FileTracker) Delete(ctx context.Context) error {
	if err := os.Remove(t.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &StorageError{Op: "delete", Path: t.path, Err: err}
	}
	return nil
}

// Close is a no-op.
func (t *FileTracker) Close() error { return nil }
