// Package config loads corrlog configuration.
//
// Values are layered, lowest to highest precedence:
//  1. Built-in defaults (Default)
//  2. Optional YAML file
//  3. Environment variables
//
// Environment variables map onto koanf keys by splitting on the first
// underscore: LOG_MAX_SIZE_MB -> log.max_size_mb, ENVIRONMENT_MODE ->
// environment.mode. Only the sections below are read from the environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1024 * 1024 // 1MB

// Environment modes.
const (
	ModeDev        = "dev"
	ModeTest       = "test"
	ModeProduction = "production"
)

// Config holds the complete corrlog configuration.
type Config struct {
	Environment EnvironmentConfig `koanf:"environment"`
	Service     ServiceConfig     `koanf:"service"`
	Log         LogConfig         `koanf:"log"`
	Server      ServerConfig      `koanf:"server"`
	OTEL        OTELConfig        `koanf:"otel"`
}

// EnvironmentConfig selects output formatting. It never changes the log level.
type EnvironmentConfig struct {
	Mode string `koanf:"mode"` // dev | test | production
}

// ServiceConfig names the running service in every log record.
type ServiceConfig struct {
	Name    string `koanf:"name"`
	Version string `koanf:"version"`
}

// LogConfig is the narrow logging surface read from the environment.
type LogConfig struct {
	Level         string `koanf:"level"`          // LOG_LEVEL
	Dir           string `koanf:"dir"`            // LOG_DIR; empty disables the file transport
	MaxSizeMB     int    `koanf:"max_size_mb"`    // LOG_MAX_SIZE_MB
	RotationDays  int    `koanf:"rotation_days"`  // LOG_ROTATION_DAYS; informational, files roll daily
	RetentionDays int    `koanf:"retention_days"` // LOG_RETENTION_DAYS
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// OTELConfig holds OpenTelemetry exporter configuration.
type OTELConfig struct {
	Enable   bool   `koanf:"enable"`
	Endpoint string `koanf:"endpoint"`
	Protocol string `koanf:"protocol"` // grpc | http/protobuf
	Insecure bool   `koanf:"insecure"`
}

// envSections are the first segments of environment variables read by Load.
var envSections = map[string]bool{
	"log":         true,
	"environment": true,
	"service":     true,
	"server":      true,
	"otel":        true,
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		Environment: EnvironmentConfig{Mode: ModeDev},
		Service:     ServiceConfig{Name: "corrlog", Version: "dev"},
		Log: LogConfig{
			Level:         "info",
			MaxSizeMB:     100,
			RotationDays:  1,
			RetentionDays: 30,
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		OTEL: OTELConfig{
			Enable:   false,
			Endpoint: "localhost:4317",
			Protocol: "grpc",
			Insecure: true,
		},
	}
}

// Load reads configuration from defaults and the environment.
func Load() (*Config, error) {
	return LoadWithFile("")
}

// LoadWithFile reads defaults, then the YAML file at path (skipped when path
// is empty), then environment overrides.
//
//	cfg, err := config.LoadWithFile("/etc/corrlog/config.yaml")
//	if err != nil {
//	    return fmt.Errorf("loading config: %w", err)
//	}
func LoadWithFile(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		content, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// envKey maps SECTION_FIELD_NAME to section.field_name. Variables outside
// the known sections are dropped.
func envKey(s string) string {
	parts := strings.SplitN(strings.ToLower(s), "_", 2)
	if len(parts) != 2 || !envSections[parts[0]] {
		return ""
	}
	return parts[0] + "." + parts[1]
}

func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

func (c *Config) normalize() {
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Environment.Mode = strings.ToLower(strings.TrimSpace(c.Environment.Mode))
	switch c.Environment.Mode {
	case "development":
		c.Environment.Mode = ModeDev
	case "prod":
		c.Environment.Mode = ModeProduction
	}
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q (must be debug, info, warn or error)", c.Log.Level)
	}

	switch c.Environment.Mode {
	case ModeDev, ModeTest, ModeProduction, "staging":
	default:
		return fmt.Errorf("invalid environment mode %q (must be dev, test or production)", c.Environment.Mode)
	}

	if c.Log.MaxSizeMB <= 0 {
		return fmt.Errorf("log max size must be positive, got %d MB", c.Log.MaxSizeMB)
	}
	if c.Log.RetentionDays < 0 {
		return fmt.Errorf("log retention days cannot be negative, got %d", c.Log.RetentionDays)
	}
	if c.Service.Name == "" {
		return errors.New("service name is required")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if c.OTEL.Enable && c.OTEL.Endpoint == "" {
		return errors.New("otel endpoint is required when otel is enabled")
	}
	return nil
}
