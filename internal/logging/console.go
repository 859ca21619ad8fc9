// internal/logging/console.go
package logging

import (
	"bytes"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	gojson "github.com/goccy/go-json"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

// TimestampLayout is ISO-8601 with millisecond precision and zone offset.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Record keys.
const (
	KeyTimestamp   = "timestamp"
	KeyLevel       = "level"
	KeyMessage     = "message"
	KeyEnvironment = "environment"
	KeyService     = "service"
	KeyError       = "error"
	KeyLogger      = "logger"
	KeyStacktrace  = "stacktrace"

	// MetaPrefix is prepended to caller keys that collide with a record key.
	MetaPrefix = "meta."
)

// jsonEncoderConfig is shared by the production console and the file transport.
func jsonEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:             KeyTimestamp,
		LevelKey:            KeyLevel,
		MessageKey:          KeyMessage,
		NameKey:             KeyLogger,
		StacktraceKey:       KeyStacktrace,
		LineEnding:          zapcore.DefaultLineEnding,
		EncodeTime:          zapcore.TimeEncoderOfLayout(TimestampLayout),
		EncodeLevel:         encodeLevel,
		EncodeDuration:      zapcore.StringDurationEncoder,
		EncodeName:          zapcore.FullNameEncoder,
		NewReflectedEncoder: newReflectedEncoder,
	}
}

func newReflectedEncoder(w io.Writer) zapcore.ReflectedEncoder {
	enc := gojson.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc
}

func newJSONEncoder() zapcore.Encoder {
	return zapcore.NewJSONEncoder(jsonEncoderConfig())
}

// newConsoleEncoder returns the console encoder for the configured environment.
func newConsoleEncoder(cfg *Config, color bool) zapcore.Encoder {
	if cfg.IsProduction() {
		return newJSONEncoder()
	}
	return newPrettyEncoder(color)
}

// prettyEncoder renders `timestamp [level]: message` followed by the
// record's fields as an indented JSON block when there are any.
type prettyEncoder struct {
	zapcore.Encoder // accumulates fields as JSON; entry keys disabled
	styles          map[zapcore.Level]lipgloss.Style
}

func newPrettyEncoder(color bool) *prettyEncoder {
	fieldsCfg := jsonEncoderConfig()
	fieldsCfg.TimeKey = ""
	fieldsCfg.LevelKey = ""
	fieldsCfg.MessageKey = ""
	fieldsCfg.NameKey = ""

	e := &prettyEncoder{Encoder: zapcore.NewJSONEncoder(fieldsCfg)}
	if color {
		e.styles = levelStyles()
	}
	return e
}

func levelStyles() map[zapcore.Level]lipgloss.Style {
	// The renderer targets a buffer, not the terminal, so the profile is
	// forced instead of detected.
	r := lipgloss.NewRenderer(io.Discard)
	r.SetColorProfile(termenv.ANSI256)
	return map[zapcore.Level]lipgloss.Style{
		TraceLevel:          r.NewStyle().Foreground(lipgloss.Color("245")),
		zapcore.DebugLevel:  r.NewStyle().Foreground(lipgloss.Color("51")),
		zapcore.InfoLevel:   r.NewStyle().Foreground(lipgloss.Color("46")),
		zapcore.WarnLevel:   r.NewStyle().Foreground(lipgloss.Color("226")),
		zapcore.ErrorLevel:  r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		zapcore.DPanicLevel: r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		zapcore.PanicLevel:  r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		zapcore.FatalLevel:  r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	}
}

func (e *prettyEncoder) Clone() zapcore.Encoder {
	return &prettyEncoder{Encoder: e.Encoder.Clone(), styles: e.styles}
}

func (e *prettyEncoder) level(l zapcore.Level) string {
	name := levelName(l)
	if style, ok := e.styles[l]; ok {
		return style.Render(name)
	}
	return name
}

func (e *prettyEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	fieldsBuf, err := e.Encoder.EncodeEntry(zapcore.Entry{}, fields)
	if err != nil {
		return nil, err
	}
	defer fieldsBuf.Free()

	line := bufferPool.Get()
	line.AppendString(ent.Time.Format(TimestampLayout))
	line.AppendString(" [")
	line.AppendString(e.level(ent.Level))
	line.AppendString("]: ")
	if ent.LoggerName != "" {
		line.AppendString(ent.LoggerName)
		line.AppendString(": ")
	}
	line.AppendString(ent.Message)

	raw := bytes.TrimSpace(fieldsBuf.Bytes())
	if len(raw) > 2 { // "{}" means no fields
		var indented bytes.Buffer
		if err := gojson.Indent(&indented, raw, "", "  "); err != nil {
			indented.Reset()
			indented.Write(raw)
		}
		line.AppendByte(' ')
		_, _ = line.Write(indented.Bytes())
	}
	if ent.Stack != "" {
		line.AppendByte('\n')
		line.AppendString(ent.Stack)
	}
	line.AppendString(zapcore.DefaultLineEnding)
	return line, nil
}

var bufferPool = buffer.NewPool()

// consoleColor decides whether the console level should be colorized.
func consoleColor(mode string, w io.Writer) bool {
	switch mode {
	case ColorAlways:
		return true
	case ColorNever:
		return false
	}
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func defaultConsole() zapcore.WriteSyncer {
	return os.Stdout
}
