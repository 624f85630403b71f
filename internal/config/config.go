// Package config loads xwalk's YAML configuration and environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zoobzio/xwalk"
)

// Environment variables that override the file.
const (
	EnvInterpreter  = "XWALK_ENGINE_INTERPRETER"
	EnvScript       = "XWALK_ENGINE_SCRIPT"
	EnvImageBase    = "XWALK_IMAGE_BASE"
	EnvDB           = "XWALK_DB"
	EnvCrosswalkID  = "XWALK_CROSSWALK_ID"
	EnvRestartDelay = "XWALK_RESTART_DELAY"
	EnvLogLevel     = "XWALK_LOG_LEVEL"
)

// Config holds all xwalk configuration.
type Config struct {
	Engine  EngineConfig        `yaml:"engine"`
	Restart xwalk.RestartPolicy `yaml:"restart"`
	Alerts  xwalk.RouterConfig  `yaml:"alerts"`
	Store   StoreConfig         `yaml:"store"`
	Logging LoggingConfig       `yaml:"logging"`
}

// EngineConfig describes how the analysis engine is launched.
type EngineConfig struct {
	Interpreter  string   `yaml:"interpreter"`
	Script       string   `yaml:"script"`
	Dir          string   `yaml:"dir"`
	Env          []string `yaml:"env"`
	MaxLineBytes int      `yaml:"max_line_bytes"`
}

// StoreConfig locates the alert database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig configures the zap logger built by the CLI.
type LoggingConfig struct {
	Level       string `yaml:"level"` // debug, info, warn, error
	Development bool   `yaml:"development"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			Interpreter:  "python",
			Script:       "./ai_engine/yolo_service.py",
			MaxLineBytes: xwalk.DefaultMaxLineBytes,
		},
		Restart: xwalk.DefaultRestartPolicy(),
		Alerts:  xwalk.DefaultRouterConfig(),
		Store: StoreConfig{
			Path: "xwalk.db",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from a YAML file on top of the defaults, then
// applies environment overrides. A missing file, or an empty path, yields
// the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv(EnvInterpreter); v != "" {
		c.Engine.Interpreter = v
	}
	if v := os.Getenv(EnvScript); v != "" {
		c.Engine.Script = v
	}
	if v := os.Getenv(EnvImageBase); v != "" {
		c.Alerts.ImageBase = v
	}
	if v := os.Getenv(EnvDB); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv(EnvCrosswalkID); v != "" {
		c.Alerts.CrosswalkID = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvRestartDelay); v != "" {
		d, err := parseDelay(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvRestartDelay, err)
		}
		c.Restart.Delay = d
	}
	return nil
}

// parseDelay accepts a Go duration ("5s") or a bare number of milliseconds.
func parseDelay(v string) (time.Duration, error) {
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid delay %q", v)
	}
	return d, nil
}

// ValidLogLevels lists the accepted logging levels.
var ValidLogLevels = []string{"debug", "info", "warn", "error"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Engine.Interpreter == "" {
		return fmt.Errorf("engine interpreter not configured (set engine.interpreter or %s)", EnvInterpreter)
	}
	if c.Engine.Script == "" {
		return fmt.Errorf("engine script not configured (set engine.script or %s)", EnvScript)
	}
	if c.Engine.MaxLineBytes < 0 {
		return fmt.Errorf("engine max_line_bytes must not be negative, got %d", c.Engine.MaxLineBytes)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store path not configured (set store.path or %s)", EnvDB)
	}
	if err := c.Restart.Validate(); err != nil {
		return err
	}

	validLevel := false
	for _, l := range ValidLogLevels {
		if c.Logging.Level == l {
			validLevel = true
			break
		}
	}
	if !validLevel {
		return fmt.Errorf("invalid log level: %s (valid: %v)", c.Logging.Level, ValidLogLevels)
	}
	return nil
}

// Command returns the engine launch command.
func (c *Config) Command() xwalk.Command {
	return xwalk.Command{
		Path: c.Engine.Interpreter,
		Args: []string{c.Engine.Script},
		Dir:  c.Engine.Dir,
		Env:  c.Engine.Env,
	}
}
