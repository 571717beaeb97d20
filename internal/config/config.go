// Package config loads scalemeter configuration from YAML with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"scalemeter/internal/history"
	"scalemeter/internal/repquota"
	"scalemeter/internal/runner"
)

// Config holds all scalemeter configuration.
type Config struct {
	// Commands configures how mm* commands are invoked.
	Commands CommandsConfig `yaml:"commands"`

	// Store configures the snapshot database.
	Store StoreConfig `yaml:"store"`

	// History configures the snapshot-tree series builder.
	History HistoryConfig `yaml:"history"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// CommandsConfig configures command execution.
type CommandsConfig struct {
	BinDir  string `yaml:"bin_dir"`
	Timeout string `yaml:"timeout"`
}

// StoreConfig configures the SQLite snapshot store.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// HistoryConfig configures the series builder defaults.
type HistoryConfig struct {
	DataDir      string   `yaml:"data_dir"`
	FileName     string   `yaml:"file_name"`
	GroupBy      string   `yaml:"group_by"`
	Quantity     string   `yaml:"quantity"`
	PointsPerDay int      `yaml:"points_per_day"`
	Exclude      []string `yaml:"exclude"`
	Workers      int      `yaml:"workers"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Commands: CommandsConfig{
			BinDir:  runner.DefaultBinDir,
			Timeout: "60s",
		},
		Store: StoreConfig{
			DatabasePath: "scalemeter.db",
		},
		History: HistoryConfig{
			FileName:     history.DefaultFileName,
			GroupBy:      string(repquota.GroupByFileset),
			Quantity:     string(history.QuantityBlockUsage),
			PointsPerDay: 1,
			Exclude:      history.DefaultExclude,
			Workers:      4,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment variables override either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if path := os.Getenv("SCALEMETER_DB"); path != "" {
		c.Store.DatabasePath = path
	}
	if dir := os.Getenv("SCALEMETER_BIN_DIR"); dir != "" {
		c.Commands.BinDir = dir
	}
	if level := os.Getenv("SCALEMETER_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// CommandTimeout returns the command timeout as a duration.
func (c *Config) CommandTimeout() time.Duration {
	d, err := time.ParseDuration(c.Commands.Timeout)
	if err != nil || d <= 0 {
		return runner.DefaultTimeout
	}
	return d
}

// GroupBy returns the configured grouping key.
func (c *Config) GroupBy() repquota.GroupKey {
	return repquota.GroupKey(c.History.GroupBy)
}

// Quantity returns the configured series quantity.
func (c *Config) Quantity() history.Quantity {
	return history.Quantity(c.History.Quantity)
}

// Validate rejects values the rest of the toolkit would choke on.
func (c *Config) Validate() error {
	switch c.GroupBy() {
	case repquota.GroupByFileset, repquota.GroupByFilesystem:
	default:
		return fmt.Errorf("invalid group_by: %q (valid: %s, %s)",
			c.History.GroupBy, repquota.GroupByFileset, repquota.GroupByFilesystem)
	}

	if !c.Quantity().Valid() {
		return fmt.Errorf("invalid quantity: %q (valid: %v)", c.History.Quantity, history.Quantities)
	}

	if c.History.PointsPerDay < 1 {
		return fmt.Errorf("points_per_day must be at least 1, got %d", c.History.PointsPerDay)
	}

	return nil
}
