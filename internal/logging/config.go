package logging

import (
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap/zapcore"
)

// Config controls the stdout encoder, sampling and redaction.
type Config struct {
	Level  zapcore.Level
	Format string // json or console

	// Sampling applies to Warn and below; errors always pass.
	Sampling SamplingConfig

	// Redaction rewrites sensitive fields before they are encoded.
	Redaction RedactionConfig

	// Fields are attached to every entry.
	Fields map[string]string
}

// SamplingConfig is zap's per-tick sampling: the first Initial entries with
// the same message per Tick are logged, then every Thereafter-th.
type SamplingConfig struct {
	Enabled    bool
	Tick       time.Duration
	Initial    int
	Thereafter int
}

// RedactionConfig lists field keys (case-insensitive) and string value
// patterns that must never reach the output.
type RedactionConfig struct {
	Keys     []string
	Patterns []string
}

// maxPatternLen bounds redaction patterns; they run against every string
// field.
const maxPatternLen = 200

// NewDefaultConfig returns the production defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  zapcore.InfoLevel,
		Format: "json",
		Sampling: SamplingConfig{
			Enabled:    true,
			Tick:       time.Second,
			Initial:    100,
			Thereafter: 10,
		},
		Redaction: RedactionConfig{
			Keys: []string{
				"token", "api_key", "authorization", "password", "secret",
				"webhook_secret", "private_key", "credential",
			},
			Patterns: []string{
				`(?i)bearer\s+\S+`,
				`gh[pousr]_[A-Za-z0-9]{36,}`,
				`github_pat_[A-Za-z0-9_]{22,}`,
			},
		},
		Fields: map[string]string{"service": "deltasync"},
	}
}

// FromSettings applies the logging.level and logging.format config keys
// to the defaults.
func FromSettings(level, format string) (*Config, error) {
	cfg := NewDefaultConfig()
	if level != "" {
		l, err := LevelFromString(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		cfg.Level = l
	}
	if format != "" {
		cfg.Format = format
	}
	return cfg, cfg.Validate()
}

// Validate checks c.
func (c *Config) Validate() error {
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("log format must be json or console, got %q", c.Format)
	}
	if c.Sampling.Enabled && c.Sampling.Tick <= 0 {
		return fmt.Errorf("sampling tick must be positive, got %s", c.Sampling.Tick)
	}
	for _, p := range c.Redaction.Patterns {
		if len(p) > maxPatternLen {
			return fmt.Errorf("redaction pattern longer than %d chars: %q", maxPatternLen, p)
		}
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
	}
	for k, v := range c.Fields {
		if k == "" || v == "" {
			return fmt.Errorf("constant log field %q=%q must have a key and a value", k, v)
		}
	}
	return nil
}
