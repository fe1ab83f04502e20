// Package config loads the fundsim configuration file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Scenario is the scenario file, relative to the config file unless absolute.
	Scenario string `yaml:"scenario"`
	// Listen is the address the RPC server binds.
	Listen string `yaml:"listen"`
	// Journal is the LevelDB directory for recorded events; empty disables the journal.
	Journal  string `yaml:"journal"`
	LogLevel string `yaml:"logLevel"`
	// MaxPriceImpact overrides the scenario's controller setting, in basis points.
	MaxPriceImpact *uint32 `yaml:"maxPriceImpact"`
}

func (c *Config) validate() error {
	if c.Scenario == "" {
		return errors.New("config: scenario is required")
	}
	if c.MaxPriceImpact != nil && *c.MaxPriceImpact > 10_000 {
		return fmt.Errorf("config: maxPriceImpact %d above 10000", *c.MaxPriceImpact)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel, defaulting to info.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("config: logLevel: %w", err)
	}
	return level, nil
}

// LoadConfig reads and validates the configuration at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := &Config{Listen: "127.0.0.1:8645"}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if !filepath.IsAbs(cfg.Scenario) {
		cfg.Scenario = filepath.Join(filepath.Dir(path), cfg.Scenario)
	}
	if cfg.Journal != "" && !filepath.IsAbs(cfg.Journal) {
		cfg.Journal = filepath.Join(filepath.Dir(path), cfg.Journal)
	}
	return cfg, nil
}
