// internal/logging/sampling.go
package logging

import (
	"go.uber.org/zap/zapcore"
)

// newSampledCore wraps core with level-aware sampling.
// Error and above are never sampled. Levels without a sampling entry pass
// through unsampled.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled {
		return core
	}

	cores := []zapcore.Core{
		// Errors and above always pass through
		newLevelFilterCore(core, func(l zapcore.Level) bool { return l >= zapcore.ErrorLevel }),
	}

	for lvl := TraceLevel; lvl < zapcore.ErrorLevel; lvl++ {
		only := newLevelFilterCore(core, exactly(lvl))
		sc, ok := cfg.Levels[lvl]
		if !ok {
			cores = append(cores, only)
			continue
		}
		cores = append(cores, zapcore.NewSamplerWithOptions(
			only,
			cfg.Tick.Duration(),
			sc.Initial,
			sc.Thereafter,
		))
	}

	return zapcore.NewTee(cores...)
}

func exactly(lvl zapcore.Level) func(zapcore.Level) bool {
	return func(l zapcore.Level) bool { return l == lvl }
}

// levelFilterCore admits only entries accepted by allow.
type levelFilterCore struct {
	zapcore.Core
	allow func(zapcore.Level) bool
}

func newLevelFilterCore(core zapcore.Core, allow func(zapcore.Level) bool) zapcore.Core {
	return &levelFilterCore{Core: core, allow: allow}
}

func (c *levelFilterCore) Enabled(lvl zapcore.Level) bool {
	return c.allow(lvl) && c.Core.Enabled(lvl)
}

func (c *levelFilterCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

// With creates a child core that preserves level filtering.
func (c *levelFilterCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelFilterCore{
		Core:  c.Core.With(fields),
		allow: c.allow,
	}
}
