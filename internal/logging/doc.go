// Package logging provides structured, correlated, redacted logging.
//
// # Overview
//
// Logging package wraps Zap with:
//   - Correlation id and user id injected from the active correlation scope
//   - Recursive redaction of sensitive metadata (see internal/sanitize)
//   - Console output: human-readable in dev/test, compact JSON in production
//   - Optional rotating JSON files (size or calendar day, whichever first)
//   - Retention pruning driven by an audit file in the log directory
//   - Optional OpenTelemetry log bridge
//
// # Usage
//
// Create the logger once at startup and pass it down:
//
//	cfg := logging.NewDefaultConfig()
//	cfg.Dir = "/var/log/reports"
//	logger, err := logging.New(cfg)
//	if err != nil {
//	    return err
//	}
//	defer logger.Close(context.Background())
//
// Log inside a correlation scope:
//
//	_ = correlation.Do(ctx, func(ctx context.Context) error {
//	    correlation.SetUserID(ctx, "user_123")
//	    logger.Info(ctx, "report viewed", logging.Metadata{"reportId": "r-9"})
//	    return nil
//	}, requestID)
//
// Output (production):
//
//	{"timestamp":"2026-10-17T10:15:30.123+00:00","level":"info","message":"report viewed",
//	 "environment":"production","service":"reports","correlationId":"…","userId":"user_123",
//	 "reportId":"r-9"}
//
// Instance and ResetInstance provide a process-wide singleton for code that
// cannot receive the logger by injection; ResetInstance exists for tests.
//
// # Failure Semantics
//
// Logging calls never return errors and never panic on sink failures. Write
// errors are reported on the error output (stderr by default) and counted in
// corrlog_log_sink_failures_total.
//
// # Testing
//
// Use TestLogger for test assertions:
//
//	tl := logging.NewTestLogger()
//	tl.Info(ctx, "test message", logging.Metadata{"key": "value"})
//	tl.AssertLogged(t, zapcore.InfoLevel, "test message")
//	tl.AssertField(t, "test message", "key", "value")
//	tl.AssertNoSecrets(t)
package logging
