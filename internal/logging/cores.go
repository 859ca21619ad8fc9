// internal/logging/cores.go
package logging

import (
	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.uber.org/zap/zapcore"
)

// newConsoleCore builds the always-on console output.
func newConsoleCore(cfg *Config, o *options, m *metrics, r *redaction) zapcore.Core {
	out := zapcore.Lock(m.countFailures("console", o.console))
	color := consoleColor(cfg.Console.Color, o.console)
	return newRedactingCore(zapcore.NewCore(newConsoleEncoder(cfg, color), out, cfg.Level), r)
}

// newCore combines console, file and OTEL outputs into one core.
// Every leaf is redacted individually and gated by the configured level.
func newCore(cfg *Config, o *options, m *metrics, r *redaction, console zapcore.Core, file *RotatingFile) zapcore.Core {
	cores := []zapcore.Core{console}

	if file != nil {
		fileOut := m.countFailures("file", file)
		fileCore := zapcore.NewCore(newJSONEncoder(), fileOut, cfg.Level)
		open := newLevelFilterCore(fileCore, func(zapcore.Level) bool { return !file.Closed() })
		cores = append(cores, newRedactingCore(open, r))
	}

	if cfg.Output.OTEL && o.otelProvider != nil {
		otelCore := otelzap.NewCore(cfg.Service,
			otelzap.WithLoggerProvider(o.otelProvider),
		)
		gated := newLevelFilterCore(otelCore, cfg.Level.Enabled)
		cores = append(cores, newRedactingCore(gated, r))
	}

	var core zapcore.Core
	if len(cores) == 1 {
		core = cores[0]
	} else {
		core = zapcore.NewTee(cores...)
	}

	// Wrap with sampling if enabled
	return newSampledCore(core, cfg.Sampling)
}
