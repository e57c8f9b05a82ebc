package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/fyrsmithlabs/commitdelta/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), FromSettings(config.TelemetryConfig{}, "1.0.0"))
	require.NoError(t, err)

	assert.NoError(t, tel.Degraded())
	assert.Nil(t, tel.LoggerProvider())
	assert.NotNil(t, tel.Tracer("test"))
	require.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := FromSettings(config.TelemetryConfig{Enabled: true, Endpoint: ""}, "1.0.0")
	_, err := New(context.Background(), cfg)
	require.Error(t, err)
}

func TestFromSettings(t *testing.T) {
	cfg := FromSettings(config.TelemetryConfig{
		Enabled:     true,
		Endpoint:    "127.0.0.1:4318",
		Protocol:    "http/protobuf",
		Insecure:    true,
		ServiceName: "deltasync-test",
		SampleRate:  0.5,
	}, "1.2.3", attribute.String("deltasync.ref", "acme/widgets@main"))

	assert.True(t, cfg.Enabled)
	assert.Equal(t, ProtocolHTTP, cfg.Protocol)
	assert.Equal(t, "deltasync-test", cfg.ServiceName)
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
	assert.InDelta(t, 0.5, cfg.SampleRate, 1e-9)
	assert.Equal(t, 15*time.Second, cfg.MetricInterval)
	require.Len(t, cfg.Attributes, 1)
	require.NoError(t, cfg.Validate())

	res := newResource(cfg)
	v, ok := res.Set().Value("deltasync.ref")
	require.True(t, ok)
	assert.Equal(t, "acme/widgets@main", v.AsString())
}

func TestFromSettings_Defaults(t *testing.T) {
	cfg := FromSettings(config.TelemetryConfig{}, "")
	assert.Equal(t, ProtocolGRPC, cfg.Protocol)
	assert.Equal(t, "deltasync", cfg.ServiceName)
	assert.Equal(t, "dev", cfg.ServiceVersion)
}

func TestConfig_Validate(t *testing.T) {
	base := func() *Config {
		return FromSettings(config.TelemetryConfig{
			Enabled: true, Endpoint: "localhost:4317", Insecure: true, SampleRate: 1,
		}, "1.0.0")
	}
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"local insecure", func(c *Config) {}, false},
		{"disabled skips checks", func(c *Config) { c.Enabled = false; c.Endpoint = "" }, false},
		{"remote insecure rejected", func(c *Config) { c.Endpoint = "otel.example.com:4317" }, true},
		{"remote tls", func(c *Config) { c.Endpoint = "otel.example.com:4317"; c.Insecure = false }, false},
		{"ipv6 loopback", func(c *Config) { c.Endpoint = "[::1]:4317" }, false},
		{"loopback url", func(c *Config) { c.Endpoint = "http://127.0.0.2:4318"; c.Protocol = ProtocolHTTP }, false},
		{"bad protocol", func(c *Config) { c.Protocol = "udp" }, true},
		{"bad sample rate", func(c *Config) { c.SampleRate = 2 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestIsLoopback(t *testing.T) {
	assert.True(t, isLoopback("localhost:4317"))
	assert.True(t, isLoopback("LOCALHOST"))
	assert.True(t, isLoopback("127.0.0.1"))
	assert.True(t, isLoopback("https://[::1]:4318/v1/traces"))
	assert.False(t, isLoopback("collector.internal:4317"))
	assert.False(t, isLoopback("10.0.0.5:4317"))
}

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "collector:4318", stripScheme("https://collector:4318"))
	assert.Equal(t, "collector:4318", stripScheme("http://collector:4318"))
	assert.Equal(t, "collector:4318", stripScheme("collector:4318"))
}

func TestSampler(t *testing.T) {
	assert.Contains(t, sampler(1).Description(), "AlwaysOnSampler")
	assert.Contains(t, sampler(0).Description(), "AlwaysOffSampler")
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased")
}

func TestTestTelemetry_RecordsSpans(t *testing.T) {
	tt := NewTestTelemetry()
	_, span := tt.Tracer("syncer").Start(context.Background(), "sync.cycle")
	span.SetAttributes(attribute.String("state", "UP_TO_DATE"), attribute.Int("attempted", 0))
	span.End()

	tt.AssertSpanExists(t, "sync.cycle")
	tt.AssertSpanAttribute(t, "sync.cycle", "state", "UP_TO_DATE")
	tt.AssertSpanAttribute(t, "sync.cycle", "attempted", int64(0))
	assert.Equal(t, []string{"sync.cycle"}, tt.SpanNames())
}

func TestTestTelemetry_Collect(t *testing.T) {
	tt := NewTestTelemetry()
	counter, err := tt.MeterProvider.Meter("test").Int64Counter("deltasync.test.count")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	rm, err := tt.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, rm.ScopeMetrics, 1)
	assert.Equal(t, "deltasync.test.count", rm.ScopeMetrics[0].Metrics[0].Name)
}
