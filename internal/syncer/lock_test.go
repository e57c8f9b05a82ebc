package syncer

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCycleLock(t *testing.T) {
	var l cycleLock
	require.True(t, l.TryAcquire())
	assert.False(t, l.TryAcquire())
	l.Release()
	assert.True(t, l.TryAcquire())
}

func TestCycleLock_Concurrent(t *testing.T) {
	var (
		l        cycleLock
		wg       sync.WaitGroup
		mu       sync.Mutex
		acquired int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.TryAcquire() {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, acquired)
}

func TestFileLock_Exclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "sync.lock")

	lock, err := AcquireFileLock(path, time.Hour)
	require.NoError(t, err)

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), strings.TrimSpace(string(body)))

	_, err = AcquireFileLock(path, time.Hour)
	require.ErrorIs(t, err, ErrLocked)
	assert.Contains(t, err.Error(), strconv.Itoa(os.Getpid()))

	require.NoError(t, lock.Release())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	again, err := AcquireFileLock(path, time.Hour)
	require.NoError(t, err)
	require.NoError(t, again.Release())
}

func TestFileLock_BreaksStaleLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.lock")
	require.NoError(t, os.WriteFile(path, []byte("99999\n"), 0600))
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	_, err := AcquireFileLock(path, 0)
	require.ErrorIs(t, err, ErrLocked, "zero staleAfter never breaks a lock")

	lock, err := AcquireFileLock(path, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, path, lock.Path())
	require.NoError(t, lock.Release())
}

func TestFileLock_ReleaseIsIdempotent(t *testing.T) {
	lock, err := AcquireFileLock(filepath.Join(t.TempDir(), "sync.lock"), time.Minute)
	require.NoError(t, err)
	require.NoError(t, lock.Release())
	require.NoError(t, lock.Release())
}

func TestFileLock_BreakStaleKeepsFreshLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.lock")
	require.NoError(t, os.WriteFile(path, []byte("99999\n"), 0600))
	stale, err := os.Stat(path)
	require.NoError(t, err)

	// Another process broke the stale lock and took it before us. The old
	// file is kept so its inode cannot be reused.
	require.NoError(t, os.Rename(path, filepath.Join(t.TempDir(), "old.lock")))
	fresh, err := AcquireFileLock(path, time.Hour)
	require.NoError(t, err)

	broken, err := breakStale(path, stale)
	require.NoError(t, err)
	assert.False(t, broken)
	assert.Equal(t, strconv.Itoa(os.Getpid()), lockOwner(path))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no tombstone is left behind")

	require.NoError(t, fresh.Release())
}

func TestFileLock_ReleaseKeepsForeignLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.lock")
	lock, err := AcquireFileLock(path, time.Hour)
	require.NoError(t, err)

	require.NoError(t, os.Rename(path, filepath.Join(t.TempDir(), "old.lock")))
	require.NoError(t, os.WriteFile(path, []byte("4242\n"), 0600))

	err = lock.Release()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "4242")
	_, err = os.Stat(path)
	assert.NoError(t, err, "the new owner's lockfile stays")
}
