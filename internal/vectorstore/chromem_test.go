package vectorstore

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/commitdelta/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChromem(t *testing.T, path string) *ChromemSink {
	t.Helper()
	s, err := NewChromemSink(ChromemConfig{Path: path, VectorSize: 3}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestChromemSink_UpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestChromem(t, "")

	u := testUnit("bbb222", "x.py")
	require.NoError(t, s.Upsert(ctx, u))
	require.NoError(t, s.Upsert(ctx, u))
	assert.Equal(t, 1, s.Count())

	u.Text = "File: x.py (re-rendered)"
	require.NoError(t, s.Upsert(ctx, u))
	assert.Equal(t, 1, s.Count())

	got, err := s.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "File: x.py (re-rendered)", got.Text)
	assert.Equal(t, u.Metadata, got.Metadata)
}

func TestChromemSink_QueryOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	s := newTestChromem(t, "")

	require.NoError(t, s.Upsert(ctx, testUnit("r1", "a.go", 1, 0, 0)))
	require.NoError(t, s.Upsert(ctx, testUnit("r1", "b.go", 0.7, 0.7, 0)))
	require.NoError(t, s.Upsert(ctx, testUnit("r1", "c.go", 0, 0, 1)))

	matches, err := s.Query(ctx, []float32{1, 0.1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "r1_a.go", matches[0].ID)
	assert.Equal(t, "r1_b.go", matches[1].ID)
	assert.GreaterOrEqual(t, matches[0].Score, matches[1].Score)
	assert.Equal(t, "a.go", matches[0].Metadata.Filename)

	// topK beyond the collection size is capped.
	matches, err = s.Query(ctx, []float32{0, 0, 1}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, "r1_c.go", matches[0].ID)
}

func TestChromemSink_QueryEmptyCollection(t *testing.T) {
	s := newTestChromem(t, "")
	matches, err := s.Query(context.Background(), []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, matches)

	_, err = s.Query(context.Background(), []float32{1, 0, 0}, 0)
	assert.Error(t, err)
	_, err = s.Query(context.Background(), []float32{1, 0}, 1)
	assert.Error(t, err)
}

func TestChromemSink_RejectsInvalidUnit(t *testing.T) {
	s := newTestChromem(t, "")
	u := testUnit("bbb222", "x.py", 1, 2)
	err := s.Upsert(context.Background(), u)
	assert.True(t, IsSchemaError(err))
	assert.Zero(t, s.Count())
}

func TestChromemSink_Persistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s := newTestChromem(t, dir)
	require.NoError(t, s.Upsert(ctx, testUnit("bbb222", "x.py")))
	require.NoError(t, s.Upsert(ctx, testUnit("bbb222", "y.py", 0, 1, 0)))
	require.NoError(t, s.Close())

	reopened := newTestChromem(t, dir)
	assert.Equal(t, 2, reopened.Count())
	got, err := reopened.Get(ctx, "bbb222_y.py")
	require.NoError(t, err)
	assert.Equal(t, "y.py", got.Metadata.Filename)
}

func TestNewChromemSink_Validation(t *testing.T) {
	_, err := NewChromemSink(ChromemConfig{}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewChromemSink(ChromemConfig{VectorSize: 3, Collection: "Bad-Name"}, nil)
	assert.ErrorIs(t, err, ErrInvalidCollectionName)
}

func TestNewSink(t *testing.T) {
	cfg := config.Default().VectorStore
	cfg.Path = t.TempDir()

	sink, err := NewSink(context.Background(), cfg, 3, nil)
	require.NoError(t, err)
	assert.IsType(t, &ChromemSink{}, sink)
	require.NoError(t, sink.Close())

	cfg.Provider = "pinecone"
	_, err = NewSink(context.Background(), cfg, 3, nil)
	assert.Error(t, err)
}
