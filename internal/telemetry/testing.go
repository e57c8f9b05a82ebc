package telemetry

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestTelemetry records spans and metrics in memory. Its providers are not
// installed as globals, so pass Tracer or MeterProvider explicitly.
type TestTelemetry struct {
	*Telemetry

	Recorder      *tracetest.SpanRecorder
	Reader        *sdkmetric.ManualReader
	MeterProvider *sdkmetric.MeterProvider
}

// NewTestTelemetry creates telemetry backed by a span recorder and a manual
// metric reader.
func NewTestTelemetry() *TestTelemetry {
	recorder := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	return &TestTelemetry{
		Telemetry: &Telemetry{
			cfg:            &Config{Enabled: true, ServiceName: "deltasync-test"},
			tracerProvider: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)),
			meterProvider:  mp,
		},
		Recorder:      recorder,
		Reader:        reader,
		MeterProvider: mp,
	}
}

// SpanNames lists ended spans in end order.
func (t *TestTelemetry) SpanNames() []string {
	var names []string
	for _, s := range t.Recorder.Ended() {
		names = append(names, s.Name())
	}
	return names
}

func (t *TestTelemetry) span(name string) sdktrace.ReadOnlySpan {
	for _, s := range t.Recorder.Ended() {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

// AssertSpanExists fails tb unless a span called name has ended.
func (t *TestTelemetry) AssertSpanExists(tb testing.TB, name string) {
	tb.Helper()
	if t.span(name) == nil {
		tb.Errorf("span %q not recorded, have %v", name, t.SpanNames())
	}
}

// AssertSpanAttribute fails tb unless the first span called name carries
// key with the expected value. Integers compare as int64.
func (t *TestTelemetry) AssertSpanAttribute(tb testing.TB, name, key string, expected any) {
	tb.Helper()
	s := t.span(name)
	if s == nil {
		tb.Fatalf("span %q not recorded, have %v", name, t.SpanNames())
	}
	for _, kv := range s.Attributes() {
		if string(kv.Key) != key {
			continue
		}
		if got := kv.Value.AsInterface(); got != expected {
			tb.Errorf("span %q attribute %q = %v (%s), want %v", name, key, got, kv.Value.Type(), expected)
		}
		return
	}
	tb.Errorf("span %q has no attribute %q", name, key)
}

// Collect reads the current metric state.
func (t *TestTelemetry) Collect(ctx context.Context) (metricdata.ResourceMetrics, error) {
	var rm metricdata.ResourceMetrics
	err := t.Reader.Collect(ctx, &rm)
	return rm, err
}
