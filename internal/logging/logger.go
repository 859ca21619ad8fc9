// internal/logging/logger.go
package logging

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

// Metadata is the set of fields attached to one log call.
type Metadata map[string]any

// Logger wraps Zap with context-aware, redacting methods.
type Logger struct {
	zap       *zap.Logger
	config    *Config
	redaction *redaction
	res       *resources
}

// resources is shared by a logger and its children.
type resources struct {
	closeOnce sync.Once
	closeErr  error
	file      *RotatingFile
}

// Option customizes New.
type Option func(*options)

type options struct {
	clock        func() time.Time
	otelProvider log.LoggerProvider
	registerer   prometheus.Registerer
	console      zapcore.WriteSyncer
	errorOutput  zapcore.WriteSyncer
}

// WithClock sets the time source for timestamps and day rotation.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// WithOTELProvider sends records to an OpenTelemetry LoggerProvider when
// Output.OTEL is set.
func WithOTELProvider(p log.LoggerProvider) Option {
	return func(o *options) { o.otelProvider = p }
}

// WithRegisterer registers the logger's counters with reg instead of the
// default Prometheus registerer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithConsole replaces stdout as the console destination.
func WithConsole(ws zapcore.WriteSyncer) Option {
	return func(o *options) { o.console = ws }
}

// WithErrorOutput replaces stderr as the destination for transport failures.
func WithErrorOutput(ws zapcore.WriteSyncer) Option {
	return func(o *options) { o.errorOutput = ws }
}

// clockFunc adapts a time source to zapcore.Clock.
type clockFunc func() time.Time

func (f clockFunc) Now() time.Time                          { return f() }
func (f clockFunc) NewTicker(d time.Duration) *time.Ticker { return time.NewTicker(d) }

// New creates a logger from config. A nil config uses NewDefaultConfig.
//
// A log directory that cannot be created disables the file transport; the
// failure is logged to the console and New still succeeds.
func New(cfg *Config, opts ...Option) (*Logger, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	o := &options{
		clock:       time.Now,
		registerer:  prometheus.DefaultRegisterer,
		console:     defaultConsole(),
		errorOutput: zapcore.Lock(os.Stderr),
	}
	for _, opt := range opts {
		opt(o)
	}

	r, err := newRedaction(cfg.Redaction)
	if err != nil {
		return nil, fmt.Errorf("failed to create redaction: %w", err)
	}
	m := newMetrics(o.registerer)

	// Transport diagnostics go to the console only; the file reports while
	// holding its own lock.
	console := newConsoleCore(cfg, o, m, r)
	diag := zap.New(console, zap.WithClock(clockFunc(o.clock))).With(constantFields(cfg)...)

	var file *RotatingFile
	var fileErr error
	if cfg.Dir != "" {
		file, fileErr = OpenRotatingFile(FileConfig{
			Dir:           cfg.Dir,
			MaxSizeMB:     cfg.MaxSizeMB,
			RetentionDays: cfg.RetentionDays,
			Now:           o.clock,
			OnError: func(err error) {
				diag.Warn("log file maintenance failed", zap.Error(err))
			},
			OnPrune: func(removed []string) {
				diag.Info("pruned expired log files", zap.Strings("files", removed))
			},
		})
	}

	core := newCore(cfg, o, m, r, console, file)
	zapLogger := zap.New(core,
		zap.ErrorOutput(o.errorOutput),
		zap.WithClock(clockFunc(o.clock)),
		zap.Hooks(m.hook),
	).With(constantFields(cfg)...)

	l := &Logger{
		zap:       zapLogger,
		config:    cfg,
		redaction: r,
		res:       &resources{file: file},
	}

	if fileErr != nil {
		l.Error(context.Background(), "log directory unavailable, file transport disabled", fileErr,
			Metadata{"dir": cfg.Dir})
	}
	return l, nil
}

// entryKeys are written by the encoder or as constant fields on every record.
var entryKeys = []string{KeyTimestamp, KeyLevel, KeyMessage, KeyLogger, KeyStacktrace, KeyEnvironment, KeyService}

func constantFields(cfg *Config) []zap.Field {
	fields := []zap.Field{
		zap.String(KeyEnvironment, cfg.Environment),
		zap.String(KeyService, cfg.Service),
	}
	for _, k := range slices.Sorted(maps.Keys(cfg.Fields)) {
		fields = append(fields, zap.String(k, cfg.Fields[k]))
	}
	return fields
}

// Context-aware logging methods

// Trace logs below debug.
func (l *Logger) Trace(ctx context.Context, msg string, meta Metadata) {
	l.log(ctx, TraceLevel, msg, nil, meta)
}

func (l *Logger) Debug(ctx context.Context, msg string, meta Metadata) {
	l.log(ctx, zapcore.DebugLevel, msg, nil, meta)
}

func (l *Logger) Info(ctx context.Context, msg string, meta Metadata) {
	l.log(ctx, zapcore.InfoLevel, msg, nil, meta)
}

func (l *Logger) Warn(ctx context.Context, msg string, meta Metadata) {
	l.log(ctx, zapcore.WarnLevel, msg, nil, meta)
}

// Error logs at error level. A non-nil err is rendered under "error" as
// {name, message, stack}.
func (l *Logger) Error(ctx context.Context, msg string, err error, meta Metadata) {
	l.log(ctx, zapcore.ErrorLevel, msg, err, meta)
}

// Log logs at an arbitrary level.
func (l *Logger) Log(ctx context.Context, level zapcore.Level, msg string, meta Metadata) {
	l.log(ctx, level, msg, nil, meta)
}

func (l *Logger) log(ctx context.Context, level zapcore.Level, msg string, err error, meta Metadata) {
	ce := l.zap.Check(level, msg)
	if ce == nil {
		return
	}
	ce.Write(l.fields(ctx, err, meta)...)
}

// fields merges the correlation scope with meta (meta wins), sanitizes the
// result and returns it as key-sorted zap fields.
func (l *Logger) fields(ctx context.Context, err error, meta Metadata) []zap.Field {
	enriched := ContextMetadata(ctx)
	maps.Copy(enriched, meta)
	if err != nil {
		enriched[KeyError] = err
	}
	return toFields(l.shelter(l.redaction.redactor.Map(enriched)))
}

// shelter renames caller keys that would repeat a record key, so every JSON
// line carries each key once: {"level":"x"} is written as "meta.level".
func (l *Logger) shelter(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if l.reserved(k) {
			k = MetaPrefix + k
		}
		out[k] = v
	}
	return out
}

func (l *Logger) reserved(key string) bool {
	if slices.Contains(entryKeys, key) {
		return true
	}
	_, ok := l.config.Fields[key]
	return ok
}

func toFields(m map[string]any) []zap.Field {
	fields := make([]zap.Field, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		fields = append(fields, zap.Any(k, m[k]))
	}
	return fields
}

// Child logger creation

// With returns a child logger that adds meta, sanitized, to every record.
func (l *Logger) With(meta Metadata) *Logger {
	return &Logger{
		zap:       l.zap.With(toFields(l.shelter(l.redaction.redactor.Map(meta)))...),
		config:    l.config,
		redaction: l.redaction,
		res:       l.res,
	}
}

func (l *Logger) Named(name string) *Logger {
	return &Logger{
		zap:       l.zap.Named(name),
		config:    l.config,
		redaction: l.redaction,
		res:       l.res,
	}
}

// Enabled returns true if the given level is enabled.
func (l *Logger) Enabled(level zapcore.Level) bool {
	return l.zap.Core().Enabled(level)
}

// Config returns the configuration the logger was built from.
func (l *Logger) Config() *Config {
	return l.config
}

// File returns the rotating file transport, or nil when it is disabled.
func (l *Logger) File() *RotatingFile {
	return l.res.file
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error {
	err := l.zap.Sync()
	// Ignore sync errors on stdout/stderr (common on Linux)
	if err != nil && isStdoutSyncError(err) {
		return nil
	}
	return err
}

// Close flushes and closes every transport. It returns once they are closed
// or when the close timeout or ctx expires, whichever is first. Close is
// idempotent and closes resources shared with child loggers.
func (l *Logger) Close(ctx context.Context) error {
	l.res.closeOnce.Do(func() {
		l.res.closeErr = l.close(ctx)
	})
	return l.res.closeErr
}

func (l *Logger) close(ctx context.Context) error {
	if timeout := l.config.CloseTimeout.Duration(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		var g errgroup.Group
		g.Go(l.Sync)
		if l.res.file != nil {
			g.Go(l.res.file.Close)
		}
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("close logger: %w", ctx.Err())
	}
}

// Underlying returns the underlying zap.Logger.
// Useful when integrating with libraries that require a *zap.Logger.
// Fields logged through it are still redacted by key and value pattern.
func (l *Logger) Underlying() *zap.Logger {
	return l.zap
}

// isStdoutSyncError checks if error is harmless stdout/stderr sync error.
// On Linux, syncing stdout/stderr returns EINVAL or ENOTTY which are safe to ignore.
func isStdoutSyncError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EINVAL || errno == syscall.ENOTTY
	}
	return false
}
