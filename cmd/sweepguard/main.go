// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/sweepguard/pkg/logging"
	"github.com/AleutianAI/sweepguard/services/safety/config"
)

var (
	flagConfig  string
	flagRepo    string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "sweepguard",
	Short: "Safety-first cleanup of backup files in a repository",
	Long: `sweepguard verifies, scores, and deletes backup files (.bak, .orig,
.old, ~, timestamped copies) without ever losing data it cannot restore.

Every run verifies repository state first, creates a durable recovery
point before the first deletion, and writes an append-only audit trail.
Deleting a backup file is irreversible; sweepguard is built so the
irreversible step only happens behind a verified snapshot.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

// exitCode maps a command error to the process exit code: 1 for a
// session that ran but did not complete, 2 for everything else.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, errSessionIncomplete) {
		return 1
	}
	return 2
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "",
		"Path to YAML configuration (optional)")
	rootCmd.PersistentFlags().StringVar(&flagRepo, "repo", ".",
		"Repository to operate on")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false,
		"Enable debug logging")
}

// newLogger builds the process logger honoring --verbose. When a
// config is given, a JSON debug stream also goes to the state dir.
// Callers own Close.
func newLogger(cfg *config.RunConfig) *logging.Logger {
	level := logging.LevelInfo
	if flagVerbose {
		level = logging.LevelDebug
	}

	logDir := ""
	if cfg != nil {
		stateDir := cfg.StateDir
		if stateDir == "" {
			stateDir = filepath.Join(cfg.RepoPath, ".sweepguard")
		}
		logDir = filepath.Join(stateDir, "logs")
	}

	return logging.New(logging.Config{
		Level:   level,
		LogDir:  logDir,
		Service: "sweepguard",
	})
}

// loadConfig resolves the run configuration from --config and --repo.
func loadConfig() (*config.RunConfig, error) {
	var cfg *config.RunConfig
	if flagConfig != "" {
		loaded, err := config.Load(flagConfig)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		defaults := config.DefaultRunConfig()
		cfg = &defaults
	}

	if cfg.RepoPath == "" || flagRepo != "." {
		cfg.RepoPath = flagRepo
	}
	abs, err := absPath(cfg.RepoPath)
	if err != nil {
		return nil, err
	}
	cfg.RepoPath = abs

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func absPath(path string) (string, error) {
	if path == "" {
		path = "."
	}
	return filepath.Abs(path)
}
