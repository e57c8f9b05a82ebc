package syncer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// ErrLocked is returned when another process holds the lockfile.
var ErrLocked = errors.New("state is locked by another process")

// cycleLock serializes cycles within one process without blocking.
type cycleLock struct {
	state atomic.Int32 // 0 = unlocked, 1 = locked
}

// TryAcquire returns false when a cycle is already running.
func (l *cycleLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release must only be called after a successful TryAcquire.
func (l *cycleLock) Release() {
	l.state.Store(0)
}

// FileLock is an exclusive lockfile shared by every process that syncs the
// same revision pointer. The file holds the owner's pid.
type FileLock struct {
	path string
	info os.FileInfo
}

// AcquireFileLock creates path exclusively. A lockfile older than staleAfter
// is assumed to belong to a crashed process and is replaced; staleAfter <= 0
// never breaks an existing lock.
func AcquireFileLock(path string, staleAfter time.Duration) (*FileLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
		if err == nil {
			return writeLock(f, path)
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("creating lockfile %s: %w", path, err)
		}

		info, statErr := os.Stat(path)
		if statErr != nil {
			if errors.Is(statErr, os.ErrNotExist) {
				continue // released between open and stat
			}
			return nil, fmt.Errorf("inspecting lockfile %s: %w", path, statErr)
		}
		if staleAfter <= 0 || time.Since(info.ModTime()) < staleAfter {
			return nil, fmt.Errorf("%w (lockfile %s, pid %s)", ErrLocked, path, lockOwner(path))
		}
		broken, err := breakStale(path, info)
		if err != nil {
			return nil, err
		}
		if !broken {
			return nil, fmt.Errorf("%w (lockfile %s, pid %s)", ErrLocked, path, lockOwner(path))
		}
	}
	return nil, fmt.Errorf("%w (lockfile %s)", ErrLocked, path)
}

func writeLock(f *os.File, path string) (*FileLock, error) {
	_, werr := f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	info, serr := f.Stat()
	cerr := f.Close()
	if err := errors.Join(werr, serr, cerr); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("writing lockfile %s: %w", path, err)
	}
	return &FileLock{path: path, info: info}, nil
}

// breakStale moves the lockfile described by seen out of the way. The
// rename is atomic, so of several processes breaking the same stale lock
// only one moves it. If the file moved is not the one that was judged stale,
// a new owner created it in the meantime; it is linked back and breakStale
// reports false.
func breakStale(path string, seen os.FileInfo) (bool, error) {
	tomb := fmt.Sprintf("%s.stale.%d.%d", path, os.Getpid(), time.Now().UnixNano())
	if err := os.Rename(path, tomb); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return true, nil
		}
		return false, fmt.Errorf("breaking stale lockfile %s: %w", path, err)
	}
	defer os.Remove(tomb)

	moved, err := os.Stat(tomb)
	if err != nil {
		return false, fmt.Errorf("inspecting stale lockfile %s: %w", tomb, err)
	}
	if !os.SameFile(seen, moved) {
		_ = os.Link(tomb, path)
		return false, nil
	}
	return true, nil
}

func lockOwner(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(b))
}

// Path returns the lockfile location.
func (l *FileLock) Path() string { return l.path }

// Release removes the lockfile unless another process has replaced it after
// judging it stale.
func (l *FileLock) Release() error {
	cur, err := os.Stat(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("inspecting lockfile %s: %w", l.path, err)
	}
	if l.info != nil && !os.SameFile(l.info, cur) {
		return fmt.Errorf("lockfile %s was taken over by pid %s", l.path, lockOwner(l.path))
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing lockfile %s: %w", l.path, err)
	}
	return nil
}
