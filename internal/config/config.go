// Package config loads the ledgersync configuration file.
//
// Every setting has a default, so the file is optional. Command-line flags
// override file values.
//
//	state_db: ./ledgersync-state.db
//	ledger_db: ./ledger.db
//	journal: ./journal.yaml
//	max_steps: 64
//	log_level: info
//	log_format: text
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/ledgersync/internal/engine"
)

// Config holds the application settings.
type Config struct {
	// StateDB is the SQLite file holding persisted engine state.
	// Default: "./ledgersync-state.db"
	StateDB string `yaml:"state_db"`

	// LedgerDB is the SQLite file of the backend ledger.
	// Default: "./ledger.db"
	LedgerDB string `yaml:"ledger_db"`

	// Journal is the YAML file of front-end transactions.
	// Default: "./journal.yaml"
	Journal string `yaml:"journal"`

	// MaxSteps bounds the transitions of one drive.
	// Default: engine.DefaultMaxSteps
	MaxSteps int `yaml:"max_steps"`

	// LogLevel is one of debug, info, warn, error.
	// Default: "info"
	LogLevel string `yaml:"log_level"`

	// LogFormat is text or json.
	// Default: "text"
	LogFormat string `yaml:"log_format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads a configuration file. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes configuration YAML, applies defaults and validates the result.
// Empty input yields the defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.StateDB == "" {
		cfg.StateDB = "./ledgersync-state.db"
	}
	if cfg.LedgerDB == "" {
		cfg.LedgerDB = "./ledger.db"
	}
	if cfg.Journal == "" {
		cfg.Journal = "./journal.yaml"
	}
	if cfg.MaxSteps == 0 {
		cfg.MaxSteps = engine.DefaultMaxSteps
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.MaxSteps < 0 {
		return fmt.Errorf("max_steps must be positive, got %d", c.MaxSteps)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// Level returns LogLevel as a slog level.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// NewLogger builds a logger writing to w in the configured format and level.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := c.Level()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
