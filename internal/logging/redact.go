// internal/logging/redact.go
package logging

import (
	"fmt"
	"regexp"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/corrlog/internal/sanitize"
)

// redaction applies key rules and value patterns to zap fields. It is the
// last line of defense for fields that did not come through Logger's
// metadata path (zap.Logger from Underlying, fields added with zap.With).
type redaction struct {
	redactor *sanitize.Redactor
	patterns []*regexp.Regexp
}

func newRedaction(cfg RedactionConfig) (*redaction, error) {
	patterns := make([]*regexp.Regexp, 0, len(cfg.Patterns))
	for _, p := range cfg.Patterns {
		// Basic ReDoS protection: reject patterns longer than 200 chars
		if len(p) > 200 {
			return nil, fmt.Errorf("redaction pattern too long (max 200 chars): %q", p)
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}
	return &redaction{
		redactor: sanitize.NewRedactor(cfg.Fields...),
		patterns: patterns,
	}, nil
}

func (r *redaction) matchesValue(s string) bool {
	for _, re := range r.patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

func (r *redaction) field(f zapcore.Field) zapcore.Field {
	if r.redactor.Sensitive(f.Key) {
		return zap.String(f.Key, sanitize.Redacted)
	}
	switch f.Type {
	case zapcore.StringType:
		if r.matchesValue(f.String) {
			return zap.String(f.Key, sanitize.Redacted)
		}
	case zapcore.ByteStringType, zapcore.BinaryType:
		if b, ok := f.Interface.([]byte); ok && r.matchesValue(string(b)) {
			return zap.String(f.Key, sanitize.Redacted)
		}
	case zapcore.ReflectType:
		return zap.Any(f.Key, r.redactor.Value(f.Interface))
	}
	return f
}

func (r *redaction) fields(fields []zapcore.Field) []zapcore.Field {
	if len(fields) == 0 {
		return fields
	}
	out := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		out[i] = r.field(f)
	}
	return out
}

// redactingCore rewrites fields before they reach the wrapped core.
// Wrap leaf cores only: a Tee writes to every member without re-checking
// levels, so wrapping a Tee would bypass the per-transport level gates.
type redactingCore struct {
	zapcore.Core
	r *redaction
}

func newRedactingCore(core zapcore.Core, r *redaction) zapcore.Core {
	return &redactingCore{Core: core, r: r}
}

func (c *redactingCore) With(fields []zapcore.Field) zapcore.Core {
	return &redactingCore{Core: c.Core.With(c.r.fields(fields)), r: c.r}
}

func (c *redactingCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *redactingCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	return c.Core.Write(ent, c.r.fields(fields))
}
