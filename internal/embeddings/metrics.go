package embeddings

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const embeddingsInstrumentationName = "github.com/fyrsmithlabs/commitdelta/internal/embeddings"

// Metrics holds all embedding-related metrics.
type Metrics struct {
	meter    metric.Meter
	logger   *zap.Logger
	duration metric.Float64Histogram
	attempts metric.Int64Histogram
	errors   metric.Int64Counter
}

// NewMetrics creates a new Metrics instance for embeddings.
func NewMetrics(logger *zap.Logger) *Metrics {
	return newMetrics(otel.Meter(embeddingsInstrumentationName), logger)
}

func newMetrics(meter metric.Meter, logger *zap.Logger) *Metrics {
	m := &Metrics{meter: meter, logger: logger}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.duration, err = m.meter.Float64Histogram(
		"deltasync.embedding.duration_seconds",
		metric.WithDescription("Duration of one embedding call including retries, labeled by model and outcome"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.attempts, err = m.meter.Int64Histogram(
		"deltasync.embedding.attempts",
		metric.WithDescription("Attempts needed per embedding call. Values above 1 indicate retried transient failures."),
		metric.WithUnit("{attempt}"),
		metric.WithExplicitBucketBoundaries(1, 2, 3, 4, 5, 8),
	)
	if err != nil {
		m.logger.Warn("failed to create attempts histogram", zap.Error(err))
	}

	m.errors, err = m.meter.Int64Counter(
		"deltasync.embedding.errors_total",
		metric.WithDescription("Embedding calls that failed after all retries"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		m.logger.Warn("failed to create errors counter", zap.Error(err))
	}
}

// RecordEmbed records the outcome of one Limited.Embed call.
func (m *Metrics) RecordEmbed(ctx context.Context, model string, duration time.Duration, attempts int, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("outcome", outcome),
	)

	if m.duration != nil {
		m.duration.Record(ctx, duration.Seconds(), attrs)
	}
	if attempts > 0 && m.attempts != nil {
		m.attempts.Record(ctx, int64(attempts), attrs)
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, attrs)
	}
}
