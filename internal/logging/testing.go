// internal/logging/testing.go
package logging

import (
	"reflect"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/corrlog/internal/sanitize"
)

// TestLogger wraps Logger with test observation capabilities.
type TestLogger struct {
	*Logger
	observed *observer.ObservedLogs
}

// NewTestLogger creates a logger for testing with full observation.
// Records pass through the same redaction as a real logger.
func NewTestLogger() *TestLogger {
	cfg := NewDefaultConfig()
	cfg.Environment = "test"
	cfg.Level = TraceLevel

	r, _ := newRedaction(cfg.Redaction)
	core, observed := observer.New(TraceLevel)
	return &TestLogger{
		Logger: &Logger{
			zap:       zap.New(newRedactingCore(core, r)).With(constantFields(cfg)...),
			config:    cfg,
			redaction: r,
			res:       &resources{},
		},
		observed: observed,
	}
}

// All returns all logged entries.
func (t *TestLogger) All() []observer.LoggedEntry {
	return t.observed.All()
}

// FilterMessage returns entries matching message substring.
func (t *TestLogger) FilterMessage(msg string) *observer.ObservedLogs {
	return t.observed.FilterMessageSnippet(msg)
}

// Fields returns the fields of the last entry whose message contains msg.
func (t *TestLogger) Fields(msg string) map[string]any {
	entries := t.FilterMessage(msg).All()
	if len(entries) == 0 {
		return nil
	}
	return entries[len(entries)-1].ContextMap()
}

// Reset clears all logged entries.
func (t *TestLogger) Reset() {
	t.observed.TakeAll()
}

// AssertLogged verifies a log at level containing message was logged.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, msgContains string) {
	tb.Helper()
	for _, entry := range t.observed.All() {
		if entry.Level == level && strings.Contains(entry.Message, msgContains) {
			return
		}
	}
	tb.Errorf("expected log at %v containing %q, logs: %+v", level, msgContains, t.observed.All())
}

// AssertNotLogged verifies no log at level containing message was logged.
func (t *TestLogger) AssertNotLogged(tb testing.TB, level zapcore.Level, msgContains string) {
	tb.Helper()
	for _, entry := range t.observed.All() {
		if entry.Level == level && strings.Contains(entry.Message, msgContains) {
			tb.Errorf("unexpected log at %v containing %q", level, msgContains)
		}
	}
}

// AssertField verifies a field with key and value exists in message.
func (t *TestLogger) AssertField(tb testing.TB, msg, key string, expected any) {
	tb.Helper()
	for _, entry := range t.FilterMessage(msg).All() {
		if got, ok := entry.ContextMap()[key]; ok && reflect.DeepEqual(got, expected) {
			return
		}
	}
	tb.Errorf("field %q=%v not found in message %q", key, expected, msg)
}

// AssertNoSecrets verifies every sensitive key, at any depth, carries the
// redaction marker and no string value matches a redaction pattern.
func (t *TestLogger) AssertNoSecrets(tb testing.TB) {
	tb.Helper()
	for _, entry := range t.observed.All() {
		if t.redaction.matchesValue(entry.Message) {
			tb.Errorf("sensitive pattern in message: %q", entry.Message)
		}
		for key, value := range entry.ContextMap() {
			t.checkSecrets(tb, entry.Message, key, value)
		}
	}
}

func (t *TestLogger) checkSecrets(tb testing.TB, msg, key string, value any) {
	tb.Helper()
	if t.redaction.redactor.Sensitive(key) {
		if value != sanitize.Redacted {
			tb.Errorf("sensitive field %q not redacted in %q: %v", key, msg, value)
		}
		return
	}
	switch v := value.(type) {
	case string:
		if t.redaction.matchesValue(v) {
			tb.Errorf("sensitive pattern in field %q of %q: %q", key, msg, v)
		}
	case map[string]any:
		for k, nested := range v {
			t.checkSecrets(tb, msg, k, nested)
		}
	case []any:
		for _, nested := range v {
			t.checkSecrets(tb, msg, key, nested)
		}
	}
}

// AssertTraceCorrelation verifies trace_id present in message.
func (t *TestLogger) AssertTraceCorrelation(tb testing.TB, msg string) {
	tb.Helper()
	for _, entry := range t.FilterMessage(msg).All() {
		if _, ok := entry.ContextMap()[KeyTraceID]; ok {
			return
		}
	}
	tb.Errorf("message %q missing trace_id", msg)
}
