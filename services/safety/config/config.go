// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config defines the immutable run configuration for a cleanup
// session. The configuration is constructed once per run and passed by
// reference to every component; nothing mutates it afterwards.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EnforcementMode controls how decisions are executed.
type EnforcementMode string

const (
	// ModeAuto executes SAFE decisions without confirmation.
	ModeAuto EnforcementMode = "auto"

	// ModeConservative requires confirmation for every deletion.
	ModeConservative EnforcementMode = "conservative"

	// ModeDryRun computes decisions but never deletes.
	ModeDryRun EnforcementMode = "dry-run"
)

// RunConfig is the process-wide configuration for one cleanup session.
//
// # Description
//
// Carries thresholds, scoring weights, verification windows, and
// operational limits. Constructed via Load or DefaultRunConfig, then
// treated as immutable.
type RunConfig struct {
	// RepoPath is the absolute path to the repository under cleanup.
	RepoPath string `yaml:"repo_path"`

	// Mode controls decision enforcement. Default: conservative.
	Mode EnforcementMode `yaml:"mode"`

	// SafeThreshold is the importance score at or above which a
	// candidate is RISKY. Must be greater than CautiousThreshold.
	SafeThreshold float64 `yaml:"safe_threshold"`

	// CautiousThreshold is the importance score at or above which a
	// candidate is CAUTIOUS.
	CautiousThreshold float64 `yaml:"cautious_threshold"`

	// Weights for the risk score factors. Need not sum to 1; the risk
	// engine normalizes internally.
	Weights Weights `yaml:"weights"`

	// MinAgeDays is the minimum backup age for the age check to pass.
	MinAgeDays float64 `yaml:"min_age_days"`

	// CriticalFreshnessDays is the window inside which a failed age
	// check becomes critical. Recency risk decays over MinAgeDays, not
	// this window.
	CriticalFreshnessDays float64 `yaml:"critical_freshness_days"`

	// ReferenceLookbackDays bounds history searches for the reference
	// chain check.
	ReferenceLookbackDays int `yaml:"reference_lookback_days"`

	// ReferenceSaturation is the reference count at which reference
	// density saturates to 1.0.
	ReferenceSaturation int `yaml:"reference_saturation"`

	// RequireCleanTree makes the repository-state check fail on a
	// dirty working tree.
	RequireCleanTree bool `yaml:"require_clean_tree"`

	// AllowDirtyTree overrides RequireCleanTree for this run.
	AllowDirtyTree bool `yaml:"allow_dirty_tree"`

	// MaxSnapshotBytes is the per-file size ceiling for recovery-point
	// content copies. Default: 10MB.
	MaxSnapshotBytes int64 `yaml:"max_snapshot_bytes"`

	// RetentionDays is the recovery-point retention horizon.
	RetentionDays int `yaml:"retention_days"`

	// ConfirmTimeout bounds operator confirmation waits. On expiry the
	// candidate is preserved. Default: 60s.
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`

	// VerifyWorkers bounds the candidate-scoped verification pool.
	VerifyWorkers int `yaml:"verify_workers"`

	// SentinelPath is the emergency-stop trigger file. Default:
	// <repo>/.sweepguard/EMERGENCY_STOP.
	SentinelPath string `yaml:"sentinel_path"`

	// PollInterval is the emergency monitor poll interval. Default: 500ms.
	PollInterval time.Duration `yaml:"poll_interval"`

	// StateDir is where recovery points and the audit log live.
	// Default: <repo>/.sweepguard.
	StateDir string `yaml:"state_dir"`
}

// Weights configures the contribution of each risk factor.
type Weights struct {
	Type       float64 `yaml:"type"`
	Recency    float64 `yaml:"recency"`
	Reference  float64 `yaml:"reference"`
	Uniqueness float64 `yaml:"uniqueness"`
	Tracked    float64 `yaml:"tracked"`
}

// DefaultRunConfig returns sensible defaults for production use.
func DefaultRunConfig() RunConfig {
	cfg := RunConfig{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero values with defaults.
func (c *RunConfig) ApplyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeConservative
	}
	if c.SafeThreshold == 0 {
		c.SafeThreshold = 0.7
	}
	if c.CautiousThreshold == 0 {
		c.CautiousThreshold = 0.3
	}
	if c.Weights == (Weights{}) {
		c.Weights = Weights{
			Type:       0.30,
			Recency:    0.25,
			Reference:  0.20,
			Uniqueness: 0.15,
			Tracked:    0.10,
		}
	}
	if c.MinAgeDays == 0 {
		c.MinAgeDays = 7
	}
	if c.CriticalFreshnessDays == 0 {
		c.CriticalFreshnessDays = 1
	}
	if c.ReferenceLookbackDays == 0 {
		c.ReferenceLookbackDays = 30
	}
	if c.ReferenceSaturation == 0 {
		c.ReferenceSaturation = 5
	}
	if c.MaxSnapshotBytes == 0 {
		c.MaxSnapshotBytes = 10 * 1024 * 1024
	}
	if c.RetentionDays == 0 {
		c.RetentionDays = 30
	}
	if c.ConfirmTimeout == 0 {
		c.ConfirmTimeout = 60 * time.Second
	}
	if c.VerifyWorkers == 0 {
		c.VerifyWorkers = 4
	}
	if c.PollInterval == 0 {
		c.PollInterval = 500 * time.Millisecond
	}
}

// Validate checks configuration invariants.
//
// # Description
//
// The threshold pair must partition [0,1] into three ordered ranges:
// safe_threshold > cautious_threshold, both within (0,1]. Weights must
// be non-negative with a positive sum.
func (c *RunConfig) Validate() error {
	if c.SafeThreshold <= c.CautiousThreshold {
		return fmt.Errorf("safe_threshold (%v) must be greater than cautious_threshold (%v)",
			c.SafeThreshold, c.CautiousThreshold)
	}
	if c.CautiousThreshold <= 0 || c.SafeThreshold > 1 {
		return fmt.Errorf("thresholds must lie in (0,1]: cautious=%v safe=%v",
			c.CautiousThreshold, c.SafeThreshold)
	}

	w := c.Weights
	for name, v := range map[string]float64{
		"type": w.Type, "recency": w.Recency, "reference": w.Reference,
		"uniqueness": w.Uniqueness, "tracked": w.Tracked,
	} {
		if v < 0 {
			return fmt.Errorf("weight %s must be non-negative, got %v", name, v)
		}
	}
	if w.Type+w.Recency+w.Reference+w.Uniqueness+w.Tracked <= 0 {
		return fmt.Errorf("weights must have a positive sum")
	}

	switch c.Mode {
	case ModeAuto, ModeConservative, ModeDryRun:
	default:
		return fmt.Errorf("unknown enforcement mode: %q", c.Mode)
	}

	if c.VerifyWorkers < 1 {
		return fmt.Errorf("verify_workers must be at least 1, got %d", c.VerifyWorkers)
	}
	if c.PollInterval > 2*time.Second {
		return fmt.Errorf("poll_interval %v exceeds the 2s emergency-stop bound", c.PollInterval)
	}

	return nil
}

// Load reads a RunConfig from a YAML file, applies defaults, and
// validates it.
//
// # Inputs
//
//   - path: Path to the YAML configuration file.
//
// # Outputs
//
//   - *RunConfig: The validated configuration. Never nil on success.
//   - error: Non-nil if the file is unreadable, malformed, or invalid.
func Load(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg RunConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return &cfg, nil
}
