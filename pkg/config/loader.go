package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// configFileName is the single configuration file loom reads.
const configFileName = "loom.yaml"

// Initialize loads, merges, and validates configuration from configDir.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Start from built-in defaults
//  2. Read loom.yaml (absent file means pure defaults)
//  3. Expand {{.VAR}} environment references
//  4. Merge the file over defaults (non-zero values override)
//  5. Validate the result
func Initialize(configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)

	cfg := Default()
	cfg.configDir = configDir

	fileCfg, found, err := loadFile(configDir)
	if err != nil {
		return nil, err
	}
	if found {
		if err := mergo.Merge(cfg, fileCfg, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge configuration: %w", err)
		}
	} else {
		log.Info("No loom.yaml found, using built-in defaults")
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized",
		"backend", cfg.Database.Backend,
		"providers", len(cfg.Providers),
		"workers", cfg.Queue.WorkerCount)
	return cfg, nil
}

// loadFile reads and parses loom.yaml. found is false when the file does
// not exist, which is not an error.
func loadFile(configDir string) (*Config, bool, error) {
	path := filepath.Join(configDir, configFileName)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, NewLoadError(configFileName, err)
	}

	data = ExpandEnv(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, false, NewLoadError(configFileName, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	return &cfg, true, nil
}
