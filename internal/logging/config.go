// internal/logging/config.go
package logging

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/corrlog/internal/config"
)

// Console color modes.
const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

// Config holds logging configuration. It is read once by New.
type Config struct {
	Level       zapcore.Level `koanf:"level"`
	Environment string        `koanf:"environment"`
	Service     string        `koanf:"service"`

	// Dir enables the rotating file transport when non-empty.
	Dir           string `koanf:"dir"`
	MaxSizeMB     int    `koanf:"max_size_mb"`
	RotationDays  int    `koanf:"rotation_days"`  // informational; files roll at each calendar day
	RetentionDays int    `koanf:"retention_days"` // 0 keeps files forever

	Console      ConsoleConfig     `koanf:"console"`
	Output       OutputConfig      `koanf:"output"`
	Sampling     SamplingConfig    `koanf:"sampling"`
	Redaction    RedactionConfig   `koanf:"redaction"`
	Fields       map[string]string `koanf:"fields"`
	CloseTimeout config.Duration   `koanf:"close_timeout"`
}

// ConsoleConfig controls console rendering.
type ConsoleConfig struct {
	Color string `koanf:"color"` // auto | always | never
}

// OutputConfig controls optional outputs. The console is always on.
type OutputConfig struct {
	OTEL bool `koanf:"otel"`
}

// SamplingConfig controls log volume reduction.
type SamplingConfig struct {
	Enabled bool                                  `koanf:"enabled"`
	Tick    config.Duration                       `koanf:"tick"`
	Levels  map[zapcore.Level]LevelSamplingConfig `koanf:"levels"`
}

// LevelSamplingConfig defines sampling rate per level.
type LevelSamplingConfig struct {
	Initial    int `koanf:"initial"`
	Thereafter int `koanf:"thereafter"`
}

// RedactionConfig extends the built-in key rules.
type RedactionConfig struct {
	Fields   []string `koanf:"fields"`   // extra exact field names
	Patterns []string `koanf:"patterns"` // value patterns, matched against string values
}

// NewDefaultConfig returns config with production-ready defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Level:         zapcore.InfoLevel,
		Environment:   config.ModeDev,
		Service:       "corrlog",
		MaxSizeMB:     100,
		RotationDays:  1,
		RetentionDays: 30,
		Console:       ConsoleConfig{Color: ColorAuto},
		Sampling: SamplingConfig{
			Enabled: false,
			Tick:    config.Duration(time.Second),
			Levels:  DefaultLevelSamplingConfig(),
		},
		Redaction: RedactionConfig{
			Patterns: []string{
				`(?i)bearer\s+\S+`,
				`(?i)api[_-]?key[=:]\s*\S+`,
			},
		},
		CloseTimeout: config.Duration(5 * time.Second),
	}
}

// ConfigFrom builds a logging Config from the application configuration.
func ConfigFrom(app *config.Config) (*Config, error) {
	cfg := NewDefaultConfig()

	level, err := LevelFromString(app.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", app.Log.Level, err)
	}
	cfg.Level = level
	cfg.Environment = app.Environment.Mode
	cfg.Service = app.Service.Name
	cfg.Dir = app.Log.Dir
	cfg.MaxSizeMB = app.Log.MaxSizeMB
	cfg.RotationDays = app.Log.RotationDays
	cfg.RetentionDays = app.Log.RetentionDays
	cfg.Output.OTEL = app.OTEL.Enable
	if app.Service.Version != "" {
		cfg.Fields = map[string]string{"version": app.Service.Version}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultLevelSamplingConfig returns default sampling config by level.
func DefaultLevelSamplingConfig() map[zapcore.Level]LevelSamplingConfig {
	return map[zapcore.Level]LevelSamplingConfig{
		TraceLevel:         {Initial: 1, Thereafter: 0},
		zapcore.DebugLevel: {Initial: 10, Thereafter: 0},
		zapcore.InfoLevel:  {Initial: 100, Thereafter: 10},
		zapcore.WarnLevel:  {Initial: 100, Thereafter: 100},
		// Error+ never sampled
	}
}

// IsProduction reports whether records should be rendered as compact JSON.
// Only dev, development, test and local render human-readable lines.
func (c *Config) IsProduction() bool {
	switch strings.ToLower(c.Environment) {
	case config.ModeDev, "development", config.ModeTest, "local":
		return false
	}
	return true
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment cannot be empty")
	}
	if c.Service == "" {
		return fmt.Errorf("service cannot be empty")
	}
	if c.Dir != "" && c.MaxSizeMB <= 0 {
		return fmt.Errorf("max size must be > 0 when a log directory is set, got %d", c.MaxSizeMB)
	}
	if c.RetentionDays < 0 {
		return fmt.Errorf("retention days must be >= 0, got %d", c.RetentionDays)
	}

	switch c.Console.Color {
	case "", ColorAuto, ColorAlways, ColorNever:
	default:
		return fmt.Errorf("console color must be auto, always or never, got %q", c.Console.Color)
	}

	if c.Sampling.Enabled && c.Sampling.Tick.Duration() <= 0 {
		return fmt.Errorf("sampling tick must be > 0 when sampling enabled")
	}
	if c.CloseTimeout.Duration() < 0 {
		return fmt.Errorf("close timeout must be >= 0")
	}

	for _, pattern := range c.Redaction.Patterns {
		if len(pattern) > 200 {
			return fmt.Errorf("redaction pattern too long (max 200 chars): %q", pattern)
		}
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("invalid redaction pattern %q: %w", pattern, err)
		}
	}

	for k, v := range c.Fields {
		if k == "" {
			return fmt.Errorf("field key cannot be empty")
		}
		if v == "" {
			return fmt.Errorf("field %q has empty value", k)
		}
		if slices.Contains(entryKeys, k) {
			return fmt.Errorf("field %q is a reserved record key", k)
		}
	}

	return nil
}
