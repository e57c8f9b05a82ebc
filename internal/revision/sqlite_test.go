package revision

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/fyrsmithlabs/commitdelta/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteTracker_Lifecycle(t *testing.T) {
	ctx := context.Background()
	tr, err := NewSQLiteTracker(ctx, filepath.Join(t.TempDir(), "state.db"), "acme/widgets@main")
	require.NoError(t, err)
	defer tr.Close()

	_, ok, err := tr.Read(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, tr.Write(ctx, "aaa111"))
	require.NoError(t, tr.Write(ctx, "bbb222"))

	p, ok, err := tr.Read(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "bbb222", p)

	require.NoError(t, tr.Delete(ctx))
	_, ok, err = tr.Read(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteTracker_RefsAreIndependent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	a, err := NewSQLiteTracker(ctx, path, "acme/a@main")
	require.NoError(t, err)
	require.NoError(t, a.Write(ctx, "aaa111"))
	require.NoError(t, a.Close())

	b, err := NewSQLiteTracker(ctx, path, "acme/b@main")
	require.NoError(t, err)
	defer b.Close()

	_, ok, err := b.Read(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteTracker_PersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	tr, err := NewSQLiteTracker(ctx, path, "acme/widgets@main")
	require.NoError(t, err)
	require.NoError(t, tr.Write(ctx, "ccc333"))
	require.NoError(t, tr.Close())

	tr, err = NewSQLiteTracker(ctx, path, "acme/widgets@main")
	require.NoError(t, err)
	defer tr.Close()

	p, ok, err := tr.Read(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ccc333", p)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	tr, err := Open(ctx, config.StateConfig{Backend: "file", Path: filepath.Join(dir, "rev")}, "ref")
	require.NoError(t, err)
	assert.IsType(t, &FileTracker{}, tr)

	tr, err = Open(ctx, config.StateConfig{Backend: "sqlite", Path: filepath.Join(dir, "state.db")}, "ref")
	require.NoError(t, err)
	assert.IsType(t, &SQLiteTracker{}, tr)
	require.NoError(t, tr.Close())

	_, err = Open(ctx, config.StateConfig{Backend: "etcd"}, "ref")
	require.Error(t, err)
}
