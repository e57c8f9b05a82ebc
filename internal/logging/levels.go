package logging

import (
	"go.uber.org/zap/zapcore"
)

// TraceLevel sits one below Debug. `--log-level trace` enables it; nothing
// in a normal run logs at it.
const TraceLevel = zapcore.DebugLevel - 1

// LevelFromString parses zap level names plus "trace".
func LevelFromString(s string) (zapcore.Level, error) {
	if s == "trace" {
		return TraceLevel, nil
	}
	l, err := zapcore.ParseLevel(s)
	if err != nil {
		return zapcore.InfoLevel, err
	}
	return l, nil
}
