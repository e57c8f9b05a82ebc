// Package revision persists the last fully indexed revision of the tracked
// branch.
//
// A Tracker stores exactly one opaque pointer. Absence is a normal state
// (fresh installation) and is reported through the ok return, never as an
// error. Write replaces the previous value atomically: readers observe
// either the old pointer or the new one, never a torn value.
package revision

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/commitdelta/internal/config"
)

// ErrEmptyPointer is returned when Write is called with a blank pointer.
var ErrEmptyPointer = errors.New("revision pointer cannot be empty")

// Tracker reads and writes the revision pointer.
type Tracker interface {
	// Read returns the committed pointer. ok is false when none was ever written.
	Read(ctx context.Context) (pointer string, ok bool, err error)

	// Write durably replaces the pointer. Failures are *StorageError.
	Write(ctx context.Context, pointer string) error

	// Close releases underlying resources.
	Close() error
}

// Deleter is implemented by trackers that can forget their pointer.
type Deleter interface {
	Delete(ctx context.Context) error
}

// Open builds the tracker selected by cfg. ref keys the pointer in backends
// that hold more than one.
func Open(ctx context.Context, cfg config.StateConfig, ref string) (Tracker, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileTracker(cfg.Path)
	case "sqlite":
		return NewSQLiteTracker(ctx, cfg.Path, ref)
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.Backend)
	}
}

// StorageError reports an I/O failure of the tracker's backing store.
// It is fatal for the sync cycle that hit it.
type StorageError struct {
	Op   string // read or write
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("revision %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsStorageError reports whether err wraps a *StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

func normalize(pointer string) (string, error) {
	p := strings.TrimSpace(pointer)
	if p == "" {
		return "", ErrEmptyPointer
	}
	if strings.ContainsAny(p, "\r\n") {
		return "", fmt.Errorf("revision pointer %q contains a newline", p)
	}
	return p, nil
}
