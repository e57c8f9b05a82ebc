package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 5)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if cycleID := CycleIDFromContext(ctx); cycleID != "" {
		fields = append(fields, zap.String("cycle.id", cycleID))
	}
	if rev := RevisionFromContext(ctx); rev != "" {
		fields = append(fields, zap.String("cycle.head", rev))
	}
	if trigger := TriggerFromContext(ctx); trigger != "" {
		fields = append(fields, zap.String("cycle.trigger", trigger))
	}

	return fields
}

type cycleCtxKey struct{}
type revisionCtxKey struct{}
type triggerCtxKey struct{}

// WithCycleID tags the context with the id of the running sync cycle.
func WithCycleID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, cycleCtxKey{}, id)
}

// CycleIDFromContext returns the sync cycle id, or "".
func CycleIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(cycleCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithRevision tags the context with the head revision being indexed.
func WithRevision(ctx context.Context, rev string) context.Context {
	return context.WithValue(ctx, revisionCtxKey{}, rev)
}

// RevisionFromContext returns the head revision, or "".
func RevisionFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(revisionCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithTrigger records what started the cycle (cli, schedule, webhook).
func WithTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, triggerCtxKey{}, trigger)
}

// TriggerFromContext returns the cycle trigger, or "".
func TriggerFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(triggerCtxKey{}).(string); ok {
		return s
	}
	return ""
}
