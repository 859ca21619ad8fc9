// internal/logging/context.go
package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corrlog/internal/correlation"
)

// Trace correlation keys.
const (
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"
)

// ContextMetadata returns the fields every record carries for ctx: the
// active correlation id (fresh outside a scope), the user id when set, and
// the trace and span ids of an active OpenTelemetry span.
func ContextMetadata(ctx context.Context) Metadata {
	if ctx == nil {
		ctx = context.Background()
	}

	meta := Metadata{
		correlation.KeyCorrelationID: correlation.CorrelationID(ctx),
	}
	if userID, ok := correlation.UserID(ctx); ok {
		meta[correlation.KeyUserID] = userID
	}

	// Trace correlation (from OpenTelemetry)
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		meta[KeyTraceID] = sc.TraceID().String()
		meta[KeySpanID] = sc.SpanID().String()
	}

	return meta
}

// loggerCtxKey is the context key for Logger.
type loggerCtxKey struct{}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return newNop()
}

func newNop() *Logger {
	r, _ := newRedaction(RedactionConfig{})
	return &Logger{
		zap:       zap.NewNop(),
		config:    NewDefaultConfig(),
		redaction: r,
		res:       &resources{},
	}
}
