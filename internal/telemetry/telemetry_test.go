package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)

	assert.False(t, tel.IsEnabled())
	assert.Nil(t, tel.LoggerProvider())
	assert.NotNil(t, tel.Tracer("noop"))
	assert.Equal(t, HealthStatus{Healthy: true}, tel.Health())
	assert.NoError(t, tel.ForceFlush(context.Background()))
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Endpoint = ""

	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid telemetry config")
}

func TestNew_EnabledWithInjectedExporters(t *testing.T) {
	spans := tracetest.NewInMemoryExporter()
	logs := &MemoryLogExporter{}
	cfg := NewDefaultConfig()
	cfg.Enabled = true

	tel, err := New(context.Background(), cfg, WithTraceExporter(spans), WithLogExporter(logs))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	assert.True(t, tel.IsEnabled())
	require.NotNil(t, tel.LoggerProvider())

	_, span := tel.Tracer("test").Start(context.Background(), "work")
	span.End()

	var rec log.Record
	rec.SetBody(log.StringValue("exported"))
	tel.LoggerProvider().Logger("test").Emit(context.Background(), rec)

	require.NoError(t, tel.ForceFlush(context.Background()))
	assert.Len(t, spans.GetSpans(), 1)
	assert.Equal(t, []string{"exported"}, logs.Bodies())
}

func TestShutdown_MarksUnhealthy(t *testing.T) {
	tel := NewTestTelemetry()
	require.NoError(t, tel.Shutdown(context.Background()))

	assert.False(t, tel.Health().Healthy)
	assert.False(t, tel.IsEnabled())
}

func TestNilTelemetry(t *testing.T) {
	var tel *Telemetry

	assert.False(t, tel.IsEnabled())
	assert.Nil(t, tel.LoggerProvider())
	assert.NotNil(t, tel.Tracer("x"))
	assert.Equal(t, HealthStatus{Degraded: true}, tel.Health())
	assert.NoError(t, tel.Shutdown(context.Background()))
	assert.NoError(t, tel.ForceFlush(context.Background()))
}

func TestSetDegraded(t *testing.T) {
	tel := &Telemetry{}
	tel.healthy.Store(true)

	tel.setDegraded("tracer provider failed: %v", "boom")

	h := tel.Health()
	assert.True(t, h.Healthy)
	assert.True(t, h.Degraded)
	assert.Equal(t, []string{"tracer provider failed: boom"}, h.Failures)
}

func TestTestTelemetry(t *testing.T) {
	tel := NewTestTelemetry()

	_, span := tel.Tracer("test").Start(context.Background(), "request")
	span.SetAttributes(attribute.String("http.method", "GET"), attribute.Int64("http.status", 200))
	span.End()

	tel.AssertSpanExists(t, "request")
	tel.AssertSpanAttribute(t, "request", "http.method", "GET")
	tel.AssertSpanAttribute(t, "request", "http.status", int64(200))
	assert.Nil(t, tel.SpanByName("missing"))

	var rec log.Record
	rec.SetBody(log.StringValue("synchronous"))
	tel.LoggerProvider().Logger("test").Emit(context.Background(), rec)
	assert.Equal(t, []string{"synchronous"}, tel.LogExporter.Bodies())
}
