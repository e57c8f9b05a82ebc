package logging

import (
	"go.uber.org/zap/zapcore"
)

// sampleBelowError samples Warn and below with zap's sampler and passes
// Error and above untouched.
func sampleBelowError(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	loud := &levelRange{Core: core, min: zapcore.ErrorLevel, max: zapcore.InvalidLevel}
	rest := &levelRange{Core: core, min: TraceLevel, max: zapcore.WarnLevel}
	return zapcore.NewTee(loud, zapcore.NewSamplerWithOptions(rest, cfg.Tick, cfg.Initial, cfg.Thereafter))
}

// levelRange passes entries with min <= level <= max.
type levelRange struct {
	zapcore.Core
	min, max zapcore.Level
}

func (c *levelRange) Enabled(lvl zapcore.Level) bool {
	return lvl >= c.min && lvl <= c.max && c.Core.Enabled(lvl)
}

func (c *levelRange) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c *levelRange) With(fields []zapcore.Field) zapcore.Core {
	return &levelRange{Core: c.Core.With(fields), min: c.min, max: c.max}
}
