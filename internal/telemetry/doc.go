// Package telemetry wires OpenTelemetry tracing and metrics for deltasync.
//
// New installs OTLP tracer and meter providers (gRPC or HTTP/protobuf) as
// the otel globals. Disabled telemetry, or a provider that fails to start,
// leaves the no-op globals in place:
//
//	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version,
//	    attribute.String("deltasync.ref", cfg.TrackedRef())))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Prometheus metrics are separate and always on; see the syncer and
// vectorstore packages.
package telemetry
