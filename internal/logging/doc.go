// Package logging provides structured logging for deltasync.
//
// Logger wraps zap. Every method takes a context and prepends the trace and
// sync cycle fields found in it (trace_id, span_id, cycle.id, cycle.head,
// cycle.trigger). Entries go to stdout through a redacting encoder and,
// when telemetry supplies a log provider, to OpenTelemetry via otelzap.
//
//	cfg, err := logging.FromSettings("debug", "console")
//	if err != nil {
//	    return err
//	}
//	logger, err := logging.NewLogger(cfg, tel.LoggerProvider())
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithCycleID(ctx, id)
//	logger.Warn(ctx, "skipped entry", zap.String("filename", name))
//
// Tests use NewTestLogger.
package logging
