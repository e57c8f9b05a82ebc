package embeddings

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	dim   int
	calls atomic.Int32
	fn    func(call int32) ([]float32, error)
}

func (f *fakeProvider) Embed(_ context.Context, _ string) ([]float32, error) {
	return f.fn(f.calls.Add(1))
}
func (f *fakeProvider) Dimension() int { return f.dim }
func (f *fakeProvider) Close() error   { return nil }

func fastLimits() LimitConfig {
	return LimitConfig{Model: "fake", MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestLimited_RetriesTransientFailures(t *testing.T) {
	p := &fakeProvider{dim: 2, fn: func(call int32) ([]float32, error) {
		if call < 3 {
			return nil, &EmbeddingError{Op: "embed", StatusCode: 503, Err: ErrEmbeddingFailed}
		}
		return []float32{1, 2}, nil
	}}
	l := NewLimited(p, fastLimits(), nil)

	vec, err := l.Embed(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, vec)
	assert.EqualValues(t, 3, p.calls.Load())
}

func TestLimited_GivesUpAfterMaxRetries(t *testing.T) {
	p := &fakeProvider{dim: 2, fn: func(int32) ([]float32, error) {
		return nil, errors.New("connection reset")
	}}
	l := NewLimited(p, fastLimits(), nil)

	_, err := l.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.True(t, IsEmbeddingError(err))
	assert.EqualValues(t, 4, p.calls.Load())
}

func TestLimited_DoesNotRetryClientErrors(t *testing.T) {
	p := &fakeProvider{dim: 2, fn: func(int32) ([]float32, error) {
		return nil, &EmbeddingError{Op: "embed", StatusCode: 400, Err: ErrEmbeddingFailed}
	}}
	l := NewLimited(p, fastLimits(), nil)

	_, err := l.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.EqualValues(t, 1, p.calls.Load())
}

func TestLimited_DimensionMismatch(t *testing.T) {
	p := &fakeProvider{dim: 3, fn: func(int32) ([]float32, error) {
		return []float32{1, 2}, nil
	}}
	l := NewLimited(p, fastLimits(), nil)

	_, err := l.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.True(t, IsEmbeddingError(err))
	assert.EqualValues(t, 1, p.calls.Load())
}

func TestLimited_EmptyInput(t *testing.T) {
	p := &fakeProvider{dim: 2, fn: func(int32) ([]float32, error) { return []float32{1, 2}, nil }}
	_, err := NewLimited(p, fastLimits(), nil).Embed(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
	assert.Zero(t, p.calls.Load())
}

func TestLimited_CancelledContext(t *testing.T) {
	p := &fakeProvider{dim: 2, fn: func(int32) ([]float32, error) { return []float32{1, 2}, nil }}
	cfg := fastLimits()
	cfg.RateLimit = 0.001
	cfg.Burst = 1
	l := NewLimited(p, cfg, nil)

	_, err := l.Embed(context.Background(), "first")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Embed(ctx, "second")
	require.Error(t, err)
	assert.True(t, IsEmbeddingError(err))
	assert.EqualValues(t, 1, p.calls.Load())
}

func TestLimited_PerAttemptTimeout(t *testing.T) {
	p := &slowProvider{}
	cfg := fastLimits()
	cfg.Timeout = 10 * time.Millisecond
	cfg.MaxRetries = 1
	l := NewLimited(p, cfg, nil)

	_, err := l.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.EqualValues(t, 2, p.calls.Load())
}

type slowProvider struct{ calls atomic.Int32 }

func (s *slowProvider) Embed(ctx context.Context, _ string) ([]float32, error) {
	s.calls.Add(1)
	<-ctx.Done()
	return nil, ctx.Err()
}
func (s *slowProvider) Dimension() int { return 2 }
func (s *slowProvider) Close() error   { return nil }
