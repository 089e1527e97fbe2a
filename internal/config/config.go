// Package config loads keyward's YAML configuration file.
package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration. Command-line flags override it.
type Config struct {
	// Database is the SQLite file path.
	Database string `yaml:"database"`

	// PolicyFile is an optional CUE approval policy. Empty means the
	// single-veto, unanimous default.
	PolicyFile string `yaml:"policy_file,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// StoreTimeout bounds each store call. Zero disables the bound.
	StoreTimeout time.Duration `yaml:"store_timeout"`

	// SystemKeyFile holds the base64 private key used for system-issued
	// envelopes.
	SystemKeyFile string `yaml:"system_key_file,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Database:     "keyward.db",
		LogLevel:     "info",
		StoreTimeout: 5 * time.Second,
	}
}

// Load reads a YAML config file on top of Default. Relative paths inside the
// file are resolved against the file's directory.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse YAML: %w", err)
	}

	base := filepath.Dir(path)
	cfg.Database = resolve(base, cfg.Database)
	cfg.PolicyFile = resolve(base, cfg.PolicyFile)
	cfg.SystemKeyFile = resolve(base, cfg.SystemKeyFile)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// Validate checks that required fields are present and valid.
func (c Config) Validate() error {
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.StoreTimeout < 0 {
		return fmt.Errorf("store_timeout must be >= 0, got %s", c.StoreTimeout)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel. Empty means info.
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}
