package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fyrsmithlabs/commitdelta/internal/logging"
	"github.com/fyrsmithlabs/commitdelta/internal/telemetry"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func findMetric(rm metricdata.ResourceMetrics, name string) (metricdata.Metrics, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

func TestMetricsMiddleware_RecordsPerRoute(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	e := echo.New()
	e.Use(NewHTTPMetrics(tel.MeterProvider, logging.NewNop()).MetricsMiddleware())
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.POST("/api/v1/sync", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusTooManyRequests, "slow down")
	})

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/sync", nil))
	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/wp-admin/setup.php", nil))

	rm, err := tel.Collect(context.Background())
	require.NoError(t, err)

	requests, ok := findMetric(rm, "deltasync.http.requests_total")
	require.True(t, ok, "requests counter not exported")
	sum, ok := requests.Data.(metricdata.Sum[int64])
	require.True(t, ok, "unexpected data type %T", requests.Data)

	byRoute := map[string]int64{}
	for _, dp := range sum.DataPoints {
		endpoint, _ := dp.Attributes.Value("endpoint")
		byRoute[endpoint.AsString()] += dp.Value
		if endpoint.AsString() == "/api/v1/sync" {
			status, _ := dp.Attributes.Value("status")
			assert.Equal(t, int64(http.StatusTooManyRequests), status.AsInt64())
		}
	}
	assert.Equal(t, int64(1), byRoute["/health"])
	assert.Equal(t, int64(1), byRoute["/api/v1/sync"])

	latency, ok := findMetric(rm, "deltasync.http.request_duration_seconds")
	require.True(t, ok, "latency histogram not exported")
	hist, ok := latency.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(3), count)
}

func TestRoutePath(t *testing.T) {
	assert.Equal(t, "unmatched", routePath(""))
	for _, p := range []string{"/health", "/webhook/github", "/api/v1/status"} {
		assert.Equal(t, p, routePath(p))
	}
}
