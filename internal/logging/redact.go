package logging

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

const (
	redacted        = "[REDACTED]"
	redactedPattern = "[REDACTED:pattern]"
)

// redactor decides what a field may show.
type redactor struct {
	keys     map[string]struct{}
	patterns []*regexp.Regexp
}

func newRedactor(cfg RedactionConfig) (*redactor, error) {
	r := &redactor{keys: make(map[string]struct{}, len(cfg.Keys))}
	for _, k := range cfg.Keys {
		r.keys[strings.ToLower(k)] = struct{}{}
	}
	for _, p := range cfg.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		r.patterns = append(r.patterns, re)
	}
	return r, nil
}

func (r *redactor) empty() bool {
	return len(r.keys) == 0 && len(r.patterns) == 0
}

func (r *redactor) sensitiveKey(key string) bool {
	_, ok := r.keys[strings.ToLower(key)]
	return ok
}

// replacement returns the text that stands in for val under key, or false
// when val may be logged as is.
func (r *redactor) replacement(key, val string) (string, bool) {
	if r.sensitiveKey(key) {
		return redacted, true
	}
	for _, re := range r.patterns {
		if re.MatchString(val) {
			return redactedPattern, true
		}
	}
	return "", false
}

// RedactingEncoder wraps an encoder and rewrites sensitive fields. Keys
// listed in RedactionConfig.Keys are replaced whatever their type; string
// values matching a pattern are replaced under any key.
type RedactingEncoder struct {
	zapcore.Encoder
	r *redactor
}

// NewRedactingEncoder wraps base.
func NewRedactingEncoder(base zapcore.Encoder, cfg RedactionConfig) (*RedactingEncoder, error) {
	r, err := newRedactor(cfg)
	if err != nil {
		return nil, err
	}
	return &RedactingEncoder{Encoder: base, r: r}, nil
}

// EncodeEntry rewrites the per-entry fields, which the base encoder would
// otherwise add to its own clone without going through this wrapper.
func (e *RedactingEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	if e.r.empty() {
		return e.Encoder.EncodeEntry(ent, fields)
	}
	out := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		out[i] = e.field(f)
	}
	return e.Encoder.EncodeEntry(ent, out)
}

func (e *RedactingEncoder) field(f zapcore.Field) zapcore.Field {
	if e.r.sensitiveKey(f.Key) {
		return zap.String(f.Key, redacted)
	}
	if f.Type == zapcore.StringType {
		if s, ok := e.r.replacement(f.Key, f.String); ok {
			return zap.String(f.Key, s)
		}
	}
	if f.Type == zapcore.ErrorType {
		if err, ok := f.Interface.(error); ok {
			if s, ok := e.r.replacement(f.Key, err.Error()); ok {
				return zap.String(f.Key, s)
			}
		}
	}
	return f
}

// AddString covers fields added through With.
func (e *RedactingEncoder) AddString(key, val string) {
	if s, ok := e.r.replacement(key, val); ok {
		val = s
	}
	e.Encoder.AddString(key, val)
}

func (e *RedactingEncoder) AddByteString(key string, val []byte) {
	if s, ok := e.r.replacement(key, string(val)); ok {
		val = []byte(s)
	}
	e.Encoder.AddByteString(key, val)
}

func (e *RedactingEncoder) AddBinary(key string, val []byte) {
	if e.r.sensitiveKey(key) {
		e.Encoder.AddString(key, redacted)
		return
	}
	e.Encoder.AddBinary(key, val)
}

func (e *RedactingEncoder) AddReflected(key string, val any) error {
	if e.r.sensitiveKey(key) {
		e.Encoder.AddString(key, redacted)
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

func (e *RedactingEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if e.r.sensitiveKey(key) {
		e.Encoder.AddString(key, redacted)
		return nil
	}
	return e.Encoder.AddObject(key, obj)
}

func (e *RedactingEncoder) AddArray(key string, arr zapcore.ArrayMarshaler) error {
	if e.r.sensitiveKey(key) {
		e.Encoder.AddString(key, redacted)
		return nil
	}
	return e.Encoder.AddArray(key, arr)
}

func (e *RedactingEncoder) Clone() zapcore.Encoder {
	return &RedactingEncoder{Encoder: e.Encoder.Clone(), r: e.r}
}
