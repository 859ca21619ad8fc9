// Package telemetry provides OpenTelemetry tracing and log export for corrlog.
//
// # Overview
//
// A Telemetry value owns a TracerProvider and, when log export is enabled, a
// LoggerProvider that the logging package bridges zap records into. Both
// export over OTLP (gRPC or HTTP/protobuf) to a collector.
//
// # Usage
//
//	tel, err := telemetry.New(ctx, telemetry.ConfigFrom(appCfg))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
//	logger, err := logging.New(logCfg, logging.WithOTELProvider(tel.LoggerProvider()))
//
// Spans started from tel.Tracer put trace and span ids on the context, and
// the logger copies them onto every record emitted with that context.
//
// # Degradation
//
// Exporter construction failures never fail New. The instance is marked
// degraded and Health reports the cause; the global no-op providers take over.
//
// # Testing
//
// NewTestTelemetry returns an instance backed by a span recorder and an
// in-memory log exporter.
package telemetry
