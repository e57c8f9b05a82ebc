package http

import (
	"context"
	"errors"
	"time"

	"github.com/fyrsmithlabs/commitdelta/internal/logging"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/commitdelta/internal/http"

// WebhookEventsTotal counts webhook deliveries.
// Labels: event (push, ping, ...), result (queued, coalesced, ignored, rejected, rate_limited)
var WebhookEventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "deltasync",
		Subsystem: "webhook",
		Name:      "events_total",
		Help:      "Total number of GitHub webhook deliveries by event and result",
	},
	[]string{"event", "result"},
)

var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// HTTPMetrics records per-route request counts, latency and in-flight
// requests through OpenTelemetry. Instruments that fail to register stay
// nil and are skipped.
type HTTPMetrics struct {
	requests metric.Int64Counter
	latency  metric.Float64Histogram
	inflight metric.Int64UpDownCounter
}

// NewHTTPMetrics registers the instruments on mp, or on the global meter
// provider when mp is nil.
func NewHTTPMetrics(mp metric.MeterProvider, logger *logging.Logger) *HTTPMetrics {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(httpInstrumentationName)

	var m HTTPMetrics
	var errs, err error
	m.requests, err = meter.Int64Counter("deltasync.http.requests_total",
		metric.WithDescription("HTTP requests by method, route and status"),
		metric.WithUnit("{request}"))
	errs = errors.Join(errs, err)

	m.latency, err = meter.Float64Histogram("deltasync.http.request_duration_seconds",
		metric.WithDescription("HTTP request latency by method, route and status"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...))
	errs = errors.Join(errs, err)

	m.inflight, err = meter.Int64UpDownCounter("deltasync.http.active_requests",
		metric.WithDescription("HTTP requests in flight"),
		metric.WithUnit("{request}"))
	errs = errors.Join(errs, err)

	if errs != nil && logger != nil {
		logger.Warn(context.Background(), "http metrics partially unavailable", zap.Error(errs))
	}
	return &m
}

// MetricsMiddleware returns an Echo middleware that records HTTP metrics.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := req.Context()
			start := time.Now()

			if m.inflight != nil {
				m.inflight.Add(ctx, 1)
				defer m.inflight.Add(ctx, -1)
			}

			err := next(c)

			// Echo writes the status for returned errors after the
			// middleware chain unwinds.
			status := c.Response().Status
			var he *echo.HTTPError
			if errors.As(err, &he) {
				status = he.Code
			}

			attrs := metric.WithAttributes(
				attribute.String("method", req.Method),
				attribute.String("endpoint", routePath(c.Path())),
				attribute.Int("status", status),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.latency != nil {
				m.latency.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			return err
		}
	}
}

// routePath labels requests by their registered route. Unmatched requests
// share one label so scanners cannot inflate cardinality.
func routePath(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}
