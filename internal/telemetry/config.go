package telemetry

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/fyrsmithlabs/commitdelta/internal/config"
	"go.opentelemetry.io/otel/attribute"
)

const (
	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http/protobuf"

	defaultMetricInterval  = 15 * time.Second
	defaultShutdownTimeout = 5 * time.Second
)

// Config controls the OTLP exporters.
type Config struct {
	Enabled        bool
	Endpoint       string
	Protocol       string
	Insecure       bool // plaintext; loopback endpoints only
	ServiceName    string
	ServiceVersion string

	// SampleRate is the head sampling ratio in [0, 1]. Child spans follow
	// their parent's decision.
	SampleRate float64

	// MetricInterval is the OTLP metric push period.
	MetricInterval time.Duration

	ShutdownTimeout time.Duration

	// Attributes are attached to the resource of every span and metric.
	Attributes []attribute.KeyValue
}

// FromSettings maps the telemetry section of the application config.
// attrs are added to the exported resource, typically the tracked ref.
func FromSettings(s config.TelemetryConfig, version string, attrs ...attribute.KeyValue) *Config {
	cfg := &Config{
		Enabled:         s.Enabled,
		Endpoint:        s.Endpoint,
		Protocol:        s.Protocol,
		Insecure:        s.Insecure,
		ServiceName:     s.ServiceName,
		ServiceVersion:  version,
		SampleRate:      s.SampleRate,
		MetricInterval:  s.MetricInterval,
		ShutdownTimeout: defaultShutdownTimeout,
		Attributes:      attrs,
	}
	if cfg.Protocol == "" {
		cfg.Protocol = ProtocolGRPC
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "deltasync"
	}
	if cfg.ServiceVersion == "" {
		cfg.ServiceVersion = "dev"
	}
	if cfg.MetricInterval <= 0 {
		cfg.MetricInterval = defaultMetricInterval
	}
	return cfg
}

// Validate checks an enabled configuration. A disabled one is always valid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Endpoint == "" {
		return errors.New("telemetry endpoint is required when telemetry is enabled")
	}
	if c.ServiceName == "" {
		return errors.New("telemetry service name is required when telemetry is enabled")
	}
	switch c.Protocol {
	case ProtocolGRPC, ProtocolHTTP:
	default:
		return fmt.Errorf("telemetry protocol must be %s or %s, got %q", ProtocolGRPC, ProtocolHTTP, c.Protocol)
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("telemetry sample rate must be between 0 and 1, got %v", c.SampleRate)
	}
	if c.Insecure && !isLoopback(c.Endpoint) {
		return fmt.Errorf("insecure telemetry export to %s is not allowed; use TLS or a loopback collector", c.Endpoint)
	}
	return nil
}

// isLoopback reports whether endpoint (host, host:port or a URL) names the
// local machine.
func isLoopback(endpoint string) bool {
	host := hostOnly(endpoint)
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func hostOnly(endpoint string) string {
	hostport := stripScheme(endpoint)
	if i := strings.IndexByte(hostport, '/'); i >= 0 {
		hostport = hostport[:i]
	}
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return host
	}
	return strings.Trim(hostport, "[]")
}

// stripScheme reduces a collector URL to host:port, the form the OTLP
// HTTP exporters expect.
func stripScheme(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	return strings.TrimPrefix(endpoint, "http://")
}
