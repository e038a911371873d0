// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads diagnose engine configuration.
//
// Every policy constant the engine uses (admission threshold, merge
// similarity, retention window, category ceiling, record retention)
// is configuration here, not a hard-coded value. Precedence: defaults,
// then the config file, then environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/triage/services/diagnose/patterns"
)

// Config is the full engine configuration.
//
// # Thread Safety
//
// Safe to read concurrently. Not safe to modify after creation.
type Config struct {
	// Thresholds contains the matching and learning policy values.
	Thresholds patterns.Thresholds `json:"thresholds" yaml:"thresholds"`

	// Maintenance toggles the optimization sub-steps.
	Maintenance patterns.MaintenanceConfig `json:"maintenance" yaml:"maintenance"`

	// Snapshot contains durability settings.
	Snapshot SnapshotConfig `json:"snapshot" yaml:"snapshot"`

	// SeedFile optionally points at a curated seed pattern YAML file
	// loaded into a fresh store.
	SeedFile string `json:"seed_file,omitempty" yaml:"seed_file,omitempty"`
}

// SnapshotConfig contains durability settings.
type SnapshotConfig struct {
	// Path is the BadgerDB directory. Empty disables persistence.
	Path string `json:"path" yaml:"path"`

	// Interval is the background save cadence.
	Interval time.Duration `json:"interval" yaml:"interval"`

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool `json:"sync_writes" yaml:"sync_writes"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		Thresholds:  patterns.DefaultThresholds(),
		Maintenance: patterns.DefaultMaintenanceConfig(),
		Snapshot: SnapshotConfig{
			Interval:   5 * time.Minute,
			SyncWrites: true,
		},
	}
}

// Load builds the configuration from defaults, an optional file, and
// environment overrides.
//
// # Inputs
//
//   - path: Config file path. Empty or missing files are skipped; the
//     file may be YAML or JSON.
//
// # Outputs
//
//   - Config: The effective configuration.
//   - error: Non-nil on unreadable files or invalid values.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}
	loadEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if err := c.Thresholds.Validate(); err != nil {
		return err
	}
	if c.Snapshot.Interval < 0 {
		return fmt.Errorf("snapshot interval must be >= 0, got %v", c.Snapshot.Interval)
	}
	return nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // missing file means defaults
		}
		return err
	}

	// Try YAML first, then JSON.
	if yamlErr := yaml.Unmarshal(data, cfg); yamlErr != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return fmt.Errorf("parse config %s (tried YAML and JSON): YAML error: %v, JSON error: %w", path, yamlErr, jsonErr)
		}
	}
	return nil
}

func loadEnv(cfg *Config) {
	if v := os.Getenv("DIAGNOSE_ADMISSION_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Thresholds.AdmissionThreshold = f
		}
	}
	if v := os.Getenv("DIAGNOSE_MERGE_SIMILARITY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Thresholds.MergeSimilarity = f
		}
	}
	if v := os.Getenv("DIAGNOSE_SIMILARITY_FLOOR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Thresholds.SimilarityFloor = f
		}
	}
	if v := os.Getenv("DIAGNOSE_MATCH_LIMIT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Thresholds.MatchLimit = i
		}
	}
	if v := os.Getenv("DIAGNOSE_RETENTION_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Thresholds.RetentionWindow = d
		}
	}
	if v := os.Getenv("DIAGNOSE_LOW_VALUE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Thresholds.LowValueThreshold = f
		}
	}
	if v := os.Getenv("DIAGNOSE_CATEGORY_CEILING"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Thresholds.CategoryCeiling = i
		}
	}
	if v := os.Getenv("DIAGNOSE_RECORD_RETENTION"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Thresholds.RecordRetention = i
		}
	}
	if v := os.Getenv("DIAGNOSE_SNAPSHOT_PATH"); v != "" {
		cfg.Snapshot.Path = v
	}
	if v := os.Getenv("DIAGNOSE_SNAPSHOT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Snapshot.Interval = d
		}
	}
	if v := os.Getenv("DIAGNOSE_SEED_FILE"); v != "" {
		cfg.SeedFile = v
	}
}
