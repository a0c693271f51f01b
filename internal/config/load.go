package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unlike the teacher's two-pass decode (global settings,
// then a second raw-map pass for drive sections keyed by canonical ID),
// this module has no per-binding config sections — bindings live in the
// Store — so a single toml.Decode pass suffices.
func Load(path string, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Debug("loading config file", "path", path)

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	logger.Debug("config file parsed successfully", "path", path, "profiles", len(cfg.Profiles), "bootstrap_bindings", len(cfg.Bootstrap))

	return cfg, nil
}

// LoadOrDefault behaves like Load, but returns DefaultConfig when the file
// at path does not exist, rather than an error — convenient for first-run.
func LoadOrDefault(path string, logger *slog.Logger) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if logger != nil {
			logger.Info("no config file found, using defaults", "path", path)
		}

		return DefaultConfig(), nil
	}

	return Load(path, logger)
}
