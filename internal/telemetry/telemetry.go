package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry owns the tracer and meter providers of one process.
type Telemetry struct {
	cfg *Config

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider

	// degraded holds the exporter errors New swallowed.
	degraded error
}

// New installs OTLP tracer and meter providers as the otel globals.
//
// An invalid config is an error. Exporter setup failures are not: the
// failing provider is skipped, the globals stay no-op and Degraded reports
// why. A sync run never fails because the collector is unreachable.
func New(ctx context.Context, cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}
	t := &Telemetry{cfg: cfg}
	if !cfg.Enabled {
		return t, nil
	}

	res := newResource(cfg)
	var errs []error

	if tp, err := newTracerProvider(ctx, cfg, res); err != nil {
		errs = append(errs, err)
	} else {
		t.tracerProvider = tp
		otel.SetTracerProvider(tp)
	}

	if mp, err := newMeterProvider(ctx, cfg, res); err != nil {
		errs = append(errs, err)
	} else {
		t.meterProvider = mp
		otel.SetMeterProvider(mp)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	t.degraded = errors.Join(errs...)
	return t, nil
}

// Degraded returns the provider setup errors, or nil.
func (t *Telemetry) Degraded() error {
	if t == nil {
		return nil
	}
	return t.degraded
}

// Tracer returns a tracer from the installed provider, or the global one
// when telemetry is off.
func (t *Telemetry) Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	if t == nil || t.tracerProvider == nil {
		return otel.Tracer(name, opts...)
	}
	return t.tracerProvider.Tracer(name, opts...)
}

// LoggerProvider feeds the otelzap bridge. It is nil when telemetry is off
// so the logger skips the bridge core entirely.
func (t *Telemetry) LoggerProvider() log.LoggerProvider {
	if t == nil || !t.cfg.Enabled {
		return nil
	}
	return global.GetLoggerProvider()
}

// Shutdown flushes and stops the providers. Without a deadline on ctx it
// waits at most the configured shutdown timeout.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok && t.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.ShutdownTimeout)
		defer cancel()
	}

	var errs []error
	if t.tracerProvider != nil {
		if err := t.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider: %w", err))
		}
	}
	if t.meterProvider != nil {
		if err := t.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}
