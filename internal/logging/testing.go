package logging

import (
	"fmt"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger records every entry, down to TraceLevel, in memory.
type TestLogger struct {
	*Logger
	observed *observer.ObservedLogs
}

// NewTestLogger returns a recording logger. Redaction is not applied.
func NewTestLogger() *TestLogger {
	core, observed := observer.New(TraceLevel)
	return &TestLogger{Logger: &Logger{zap: zap.New(core)}, observed: observed}
}

// All returns the recorded entries.
func (t *TestLogger) All() []observer.LoggedEntry {
	return t.observed.All()
}

// FilterMessage returns the entries whose message is exactly msg.
func (t *TestLogger) FilterMessage(msg string) *observer.ObservedLogs {
	return t.observed.FilterMessage(msg)
}

// AssertLogged fails tb unless an entry at level contains msgContains.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, msgContains string) {
	tb.Helper()
	for _, e := range t.observed.All() {
		if e.Level == level && strings.Contains(e.Message, msgContains) {
			return
		}
	}
	tb.Errorf("no %s entry containing %q; have %s", level, msgContains, t.summary())
}

// AssertNotLogged fails tb if an entry at level contains msgContains.
func (t *TestLogger) AssertNotLogged(tb testing.TB, level zapcore.Level, msgContains string) {
	tb.Helper()
	for _, e := range t.observed.All() {
		if e.Level == level && strings.Contains(e.Message, msgContains) {
			tb.Errorf("unexpected %s entry %q", level, e.Message)
		}
	}
}

// AssertField fails tb unless an entry with message msg carries key with
// the expected value. Values are compared through ContextMap, so integers
// are int64 and durations time.Duration.
func (t *TestLogger) AssertField(tb testing.TB, msg, key string, expected any) {
	tb.Helper()
	entries := t.observed.FilterMessage(msg).All()
	for _, e := range entries {
		if got, ok := e.ContextMap()[key]; ok && fmt.Sprint(got) == fmt.Sprint(expected) {
			return
		}
	}
	tb.Errorf("no entry %q with %s=%v among %d entries", msg, key, expected, len(entries))
}

func (t *TestLogger) summary() string {
	var b strings.Builder
	for i, e := range t.observed.All() {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s:%q", e.Level, e.Message)
	}
	return "[" + b.String() + "]"
}
