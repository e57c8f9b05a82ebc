package embeddings

import (
	"context"
	"testing"
	"time"

	"github.com/fyrsmithlabs/commitdelta/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func TestNewProvider(t *testing.T) {
	cfg := config.Default().Embeddings

	p, err := NewProvider(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, 384, p.Dimension())
	assert.NoError(t, p.Close())

	cfg.Provider = "pinecone"
	_, err = NewProvider(context.Background(), cfg, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewProvider_ConfiguredDimension(t *testing.T) {
	cfg := config.Default().Embeddings
	cfg.Provider = "openai"
	cfg.APIKey = "sk-test"
	cfg.Model = "text-embedding-3-large"
	cfg.Dimension = 3072

	p, err := NewProvider(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, 3072, p.Dimension())

	cfg.Provider = "tei"
	cfg.Model = "BAAI/bge-small-en-v1.5"
	cfg.Dimension = 384
	cfg.Timeout = time.Second
	p, err = NewProvider(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, 384, p.Dimension())
}

func TestDetectDimension(t *testing.T) {
	assert.Equal(t, 384, DetectDimension("BAAI/bge-small-en-v1.5"))
	assert.Equal(t, 1536, DetectDimension("text-embedding-3-small"))
	assert.Equal(t, 1024, DetectDimension("intfloat/e5-large"))
	assert.Equal(t, 384, DetectDimension("unknown"))
}

func TestMetrics_RecordEmbed(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	m := newMetrics(mp.Meter(embeddingsInstrumentationName), zap.NewNop())

	ctx := context.Background()
	m.RecordEmbed(ctx, "bge", 50*time.Millisecond, 1, nil)
	m.RecordEmbed(ctx, "bge", 2*time.Second, 4, assert.AnError)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.NotEmpty(t, rm.ScopeMetrics)

	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			names[md.Name] = true
		}
	}
	assert.True(t, names["deltasync.embedding.duration_seconds"])
	assert.True(t, names["deltasync.embedding.attempts"])
	assert.True(t, names["deltasync.embedding.errors_total"])
}
