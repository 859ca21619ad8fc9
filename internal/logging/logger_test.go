package logging

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/corrlog/internal/correlation"
)

var fixedTime = time.Date(2026, 10, 17, 10, 15, 30, 123_000_000, time.UTC)

func fixedClock() time.Time { return fixedTime }

func newBufferedLogger(t *testing.T, cfg *Config, opts ...Option) (*Logger, *zaptest.Buffer) {
	t.Helper()
	buf := &zaptest.Buffer{}
	opts = append([]Option{
		WithConsole(buf),
		WithErrorOutput(&zaptest.Buffer{}),
		WithRegisterer(prometheus.NewRegistry()),
		WithClock(fixedClock),
	}, opts...)

	logger, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = logger.Close(context.Background()) })
	return logger, buf
}

func productionConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.Environment = "production"
	cfg.Service = "reports"
	return cfg
}

func decodeLines(t *testing.T, data []byte) []map[string]any {
	t.Helper()
	var records []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rec map[string]any
		require.NoError(t, gojson.Unmarshal([]byte(line), &rec), "line is not JSON: %s", line)
		records = append(records, rec)
	}
	require.NoError(t, sc.Err())
	return records
}

func TestNew(t *testing.T) {
	cfg := NewDefaultConfig()

	logger, _ := newBufferedLogger(t, cfg)
	require.NotNil(t, logger)

	assert.NotNil(t, logger.zap)
	assert.Equal(t, cfg, logger.Config())
	assert.Nil(t, logger.File())
}

func TestNew_NilConfigUsesDefaults(t *testing.T) {
	logger, _ := newBufferedLogger(t, nil)
	assert.Equal(t, NewDefaultConfig().Service, logger.Config().Service)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Service = ""

	_, err := New(cfg, WithRegisterer(prometheus.NewRegistry()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestLogger_EndToEndProduction(t *testing.T) {
	logger, buf := newBufferedLogger(t, productionConfig())

	err := correlation.Do(context.Background(), func(ctx context.Context) error {
		logger.Info(ctx, "User logged in", Metadata{"userId": "abc", "password": "secret123"})
		return nil
	}, "req-1")
	require.NoError(t, err)

	records := decodeLines(t, buf.Bytes())
	require.Len(t, records, 1)
	rec := records[0]

	assert.Equal(t, "2026-10-17T10:15:30.123Z", rec[KeyTimestamp])
	assert.Equal(t, "info", rec[KeyLevel])
	assert.Equal(t, "User logged in", rec[KeyMessage])
	assert.Equal(t, "req-1", rec["correlationId"])
	assert.Equal(t, "abc", rec["userId"])
	assert.Equal(t, "[REDACTED]", rec["password"])
	assert.Equal(t, "production", rec[KeyEnvironment])
	assert.Equal(t, "reports", rec[KeyService])
	assert.NotContains(t, buf.String(), "secret123")
}

func TestLogger_TimestampCarriesOffset(t *testing.T) {
	zone := time.FixedZone("UTC+2", 2*60*60)
	logger, buf := newBufferedLogger(t, productionConfig(),
		WithClock(func() time.Time { return fixedTime.In(zone) }))

	logger.Info(context.Background(), "tick", nil)

	records := decodeLines(t, buf.Bytes())
	require.Len(t, records, 1)
	assert.Equal(t, "2026-10-17T12:15:30.123+02:00", records[0][KeyTimestamp])
}

func TestLogger_ScopeFieldsAndCallerPrecedence(t *testing.T) {
	logger, buf := newBufferedLogger(t, productionConfig())

	_ = correlation.Do(context.Background(), func(ctx context.Context) error {
		correlation.SetUserID(ctx, "scope-user")
		logger.Info(ctx, "from scope", nil)
		logger.Info(ctx, "caller wins", Metadata{"correlationId": "override", "userId": "meta-user"})
		return nil
	}, "req-7")

	records := decodeLines(t, buf.Bytes())
	require.Len(t, records, 2)

	assert.Equal(t, "req-7", records[0]["correlationId"])
	assert.Equal(t, "scope-user", records[0]["userId"])

	assert.Equal(t, "override", records[1]["correlationId"])
	assert.Equal(t, "meta-user", records[1]["userId"])
}

func TestLogger_OutsideScope(t *testing.T) {
	logger, buf := newBufferedLogger(t, productionConfig())

	logger.Info(context.Background(), "no scope", nil)

	records := decodeLines(t, buf.Bytes())
	require.Len(t, records, 1)
	assert.NotEmpty(t, records[0]["correlationId"])
	assert.NotContains(t, records[0], "userId")
}

func TestLogger_ErrorField(t *testing.T) {
	logger, buf := newBufferedLogger(t, productionConfig())

	logger.Error(context.Background(), "payment failed", errors.New("card declined"),
		Metadata{"orderId": "o-1", "cardNumber": "4111111111111111"})

	records := decodeLines(t, buf.Bytes())
	require.Len(t, records, 1)
	rec := records[0]

	assert.Equal(t, "error", rec[KeyLevel])
	assert.Equal(t, "o-1", rec["orderId"])
	assert.Equal(t, "[REDACTED]", rec["cardNumber"])

	errField, ok := rec[KeyError].(map[string]any)
	require.True(t, ok, "error field must be an object: %v", rec[KeyError])
	assert.Equal(t, "errors.errorString", errField["name"])
	assert.Equal(t, "card declined", errField["message"])
	assert.NotEmpty(t, errField["stack"])
}

func TestLogger_ErrorWithoutErr(t *testing.T) {
	logger, buf := newBufferedLogger(t, productionConfig())

	logger.Error(context.Background(), "no cause", nil, nil)

	records := decodeLines(t, buf.Bytes())
	require.Len(t, records, 1)
	assert.NotContains(t, records[0], KeyError)
}

func TestLogger_LevelFiltering(t *testing.T) {
	cfg := productionConfig()
	cfg.Level = zapcore.WarnLevel
	logger, buf := newBufferedLogger(t, cfg)
	ctx := context.Background()

	logger.Trace(ctx, "trace", nil)
	logger.Debug(ctx, "debug", nil)
	logger.Info(ctx, "info", nil)
	logger.Warn(ctx, "warn", nil)
	logger.Error(ctx, "error", nil, nil)

	records := decodeLines(t, buf.Bytes())
	require.Len(t, records, 2)
	assert.Equal(t, "warn", records[0][KeyLevel])
	assert.Equal(t, "error", records[1][KeyLevel])

	assert.False(t, logger.Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Enabled(zapcore.WarnLevel))
}

func TestLogger_TraceLevelName(t *testing.T) {
	cfg := productionConfig()
	cfg.Level = TraceLevel
	logger, buf := newBufferedLogger(t, cfg)

	logger.Trace(context.Background(), "deep", nil)
	logger.Log(context.Background(), zapcore.WarnLevel, "via log", nil)

	records := decodeLines(t, buf.Bytes())
	require.Len(t, records, 2)
	assert.Equal(t, "trace", records[0][KeyLevel])
	assert.Equal(t, "warn", records[1][KeyLevel])
}

func TestLogger_NestedMetadata(t *testing.T) {
	logger, buf := newBufferedLogger(t, productionConfig())

	logger.Info(context.Background(), "nested", Metadata{
		"user": map[string]any{
			"name":        "bob",
			"credentials": map[string]any{"apiKey": "k-123", "region": "eu"},
		},
		"items": []any{map[string]any{"token": "t-1", "sku": "A"}},
	})

	records := decodeLines(t, buf.Bytes())
	require.Len(t, records, 1)
	user := records[0]["user"].(map[string]any)
	assert.Equal(t, "bob", user["name"])
	creds := user["credentials"].(map[string]any)
	assert.Equal(t, "[REDACTED]", creds["apiKey"])
	assert.Equal(t, "eu", creds["region"])

	items := records[0]["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "[REDACTED]", items[0].(map[string]any)["token"])
	assert.Equal(t, "A", items[0].(map[string]any)["sku"])
	assert.NotContains(t, buf.String(), "k-123")
	assert.NotContains(t, buf.String(), "t-1")
}

func TestLogger_ConstantFields(t *testing.T) {
	cfg := productionConfig()
	cfg.Fields = map[string]string{"version": "1.2.3"}
	logger, buf := newBufferedLogger(t, cfg)

	logger.Info(context.Background(), "hello", nil)

	records := decodeLines(t, buf.Bytes())
	require.Len(t, records, 1)
	assert.Equal(t, "1.2.3", records[0]["version"])
}

func TestLogger_CallerKeysDoNotRepeatRecordKeys(t *testing.T) {
	cfg := productionConfig()
	cfg.Fields = map[string]string{"version": "1.2.3"}
	logger, buf := newBufferedLogger(t, cfg)

	child := logger.With(Metadata{"environment": "staging"}).Named("worker")
	child.Info(context.Background(), "hello", Metadata{
		"service":   "billing",
		"level":     "x",
		"message":   "m2",
		"timestamp": "yesterday",
		"version":   "9",
		"logger":    "mine",
	})

	line := strings.TrimSpace(buf.String())
	for _, key := range []string{"timestamp", "level", "message", "environment", "service", "version", "logger"} {
		assert.Equal(t, 1, strings.Count(line, `"`+key+`":`), "key %q in %s", key, line)
	}

	records := decodeLines(t, buf.Bytes())
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, "info", rec["level"])
	assert.Equal(t, "hello", rec["message"])
	assert.Equal(t, "production", rec["environment"])
	assert.Equal(t, "reports", rec["service"])
	assert.Equal(t, "1.2.3", rec["version"])
	assert.Equal(t, "worker", rec["logger"])
	assert.Equal(t, "x", rec["meta.level"])
	assert.Equal(t, "m2", rec["meta.message"])
	assert.Equal(t, "billing", rec["meta.service"])
	assert.Equal(t, "staging", rec["meta.environment"])
	assert.Equal(t, "yesterday", rec["meta.timestamp"])
	assert.Equal(t, "9", rec["meta.version"])
	assert.Equal(t, "mine", rec["meta.logger"])
}

func TestLogger_WithAndNamed(t *testing.T) {
	logger, buf := newBufferedLogger(t, productionConfig())

	child := logger.With(Metadata{"component": "billing", "secretKey": "s"}).Named("worker")
	child.Info(context.Background(), "child record", nil)

	records := decodeLines(t, buf.Bytes())
	require.Len(t, records, 1)
	assert.Equal(t, "billing", records[0]["component"])
	assert.Equal(t, "[REDACTED]", records[0]["secretKey"])
	assert.Equal(t, "worker", records[0]["logger"])

	// Children share transports with the parent.
	assert.Same(t, logger.res, child.res)
}

func TestLogger_UnderlyingIsRedacted(t *testing.T) {
	logger, buf := newBufferedLogger(t, productionConfig())

	logger.Underlying().Info("raw zap",
		zap.String("password", "hunter2"),
		zap.String("header", "Bearer abc.def"),
		zap.String("plain", "ok"),
	)

	records := decodeLines(t, buf.Bytes())
	require.Len(t, records, 1)
	assert.Equal(t, "[REDACTED]", records[0]["password"])
	assert.Equal(t, "[REDACTED]", records[0]["header"])
	assert.Equal(t, "ok", records[0]["plain"])
}

func TestLogger_DevConsoleFormat(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Console.Color = ColorNever
	logger, buf := newBufferedLogger(t, cfg)

	_ = correlation.Do(context.Background(), func(ctx context.Context) error {
		logger.Info(ctx, "hello", Metadata{"password": "p"})
		return nil
	}, "req-2")

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "2026-10-17T10:15:30.123Z [info]: hello {"), out)
	assert.Contains(t, out, "\n  \"correlationId\": \"req-2\"")
	assert.Contains(t, out, "\"password\": \"[REDACTED]\"")
	assert.NotContains(t, out, "\x1b[")
}

func TestLogger_DevConsoleColor(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Console.Color = ColorAlways
	logger, buf := newBufferedLogger(t, cfg)

	logger.Warn(context.Background(), "colored", nil)

	assert.Contains(t, buf.String(), "\x1b[")
	assert.Contains(t, buf.String(), "warn")
}

type failingSyncer struct{}

func (failingSyncer) Write([]byte) (int, error) { return 0, errors.New("disk full") }
func (failingSyncer) Sync() error               { return nil }

func TestLogger_SinkFailureIsSwallowed(t *testing.T) {
	reg := prometheus.NewRegistry()
	errOut := &zaptest.Buffer{}
	logger, err := New(productionConfig(),
		WithConsole(failingSyncer{}),
		WithErrorOutput(errOut),
		WithRegisterer(reg),
	)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		logger.Info(context.Background(), "lost", nil)
	})
	assert.Contains(t, errOut.String(), "write error")
	assert.Contains(t, errOut.String(), "disk full")

	expected := `
# HELP corrlog_log_sink_failures_total Failed writes to a log transport, by sink.
# TYPE corrlog_log_sink_failures_total counter
corrlog_log_sink_failures_total{sink="console"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "corrlog_log_sink_failures_total"))
}

func TestLogger_RecordsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	logger, _ := newBufferedLogger(t, productionConfig(), WithRegisterer(reg))

	logger.Info(context.Background(), "one", nil)
	logger.Info(context.Background(), "two", nil)
	logger.Warn(context.Background(), "three", nil)

	expected := `
# HELP corrlog_log_records_total Log records accepted by the logger, by level.
# TYPE corrlog_log_records_total counter
corrlog_log_records_total{level="info"} 2
corrlog_log_records_total{level="warn"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "corrlog_log_records_total"))
}

func TestNewMetrics_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := newMetrics(reg)
	second := newMetrics(reg)

	assert.Same(t, first.records, second.records)
	assert.Same(t, first.sinkFailures, second.sinkFailures)
}

// blockingSyncer blocks Sync until released.
type blockingSyncer struct {
	zaptest.Buffer
	release chan struct{}
}

func (b *blockingSyncer) Sync() error {
	<-b.release
	return nil
}

func TestLogger_CloseTimeout(t *testing.T) {
	cfg := productionConfig()
	cfg.CloseTimeout = 0
	console := &blockingSyncer{release: make(chan struct{})}
	defer close(console.release)

	logger, err := New(cfg, WithConsole(console), WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = logger.Close(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestLogger_CloseIsIdempotent(t *testing.T) {
	cfg := productionConfig()
	cfg.Dir = t.TempDir()
	logger, _ := newBufferedLogger(t, cfg)

	logger.Info(context.Background(), "before close", nil)
	require.NoError(t, logger.Close(context.Background()))
	require.NoError(t, logger.Close(context.Background()))
	assert.True(t, logger.File().Closed())

	assert.NotPanics(t, func() {
		logger.Info(context.Background(), "after close", nil)
	})
}

func TestLogger_ConcurrentScopes(t *testing.T) {
	logger, buf := newBufferedLogger(t, productionConfig())

	var wg sync.WaitGroup
	for _, id := range []string{"A", "B", "C", "D"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = correlation.Do(context.Background(), func(ctx context.Context) error {
				correlation.SetUserID(ctx, "user-"+id)
				for i := 0; i < 20; i++ {
					logger.Info(ctx, "work", Metadata{"scope": id})
				}
				return nil
			}, id)
		}()
	}
	wg.Wait()

	records := decodeLines(t, buf.Bytes())
	require.Len(t, records, 80)
	for _, rec := range records {
		scope := rec["scope"].(string)
		assert.Equal(t, scope, rec["correlationId"])
		assert.Equal(t, "user-"+scope, rec["userId"])
	}
}
