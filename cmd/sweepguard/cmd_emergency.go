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
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/sweepguard/services/safety/recovery"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var emergencyRestore bool

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

var emergencyCmd = &cobra.Command{
	Use:   "emergency-stop",
	Short: "Halt a running cleanup session",
	Long: `Create the emergency sentinel file. A running session observes it
within two seconds and preserves every candidate not yet deleted.

With --restore, additionally restore the most recent valid recovery
point after creating the sentinel.

The sentinel persists until removed, so new sessions will refuse to
start their destructive phase. Delete it once the emergency is resolved.`,
	Args: cobra.NoArgs,
	RunE: runEmergencyCommand,
}

func init() {
	emergencyCmd.Flags().BoolVar(&emergencyRestore, "restore", false,
		"Also restore the most recent valid recovery point")

	rootCmd.AddCommand(emergencyCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runEmergencyCommand(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	sentinel := cfg.SentinelPath
	if sentinel == "" {
		sentinel = filepath.Join(cfg.RepoPath, ".sweepguard", "EMERGENCY_STOP")
	}
	if err := os.MkdirAll(filepath.Dir(sentinel), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(sentinel, []byte("stop\n"), 0644); err != nil {
		return fmt.Errorf("creating sentinel: %w", err)
	}
	fmt.Fprintf(out, "Emergency sentinel created: %s\n", sentinel)

	if !emergencyRestore {
		return nil
	}

	log := newLogger(cfg)
	defer log.Close()

	coord, err := recovery.NewCoordinator(cfg, nil, log.Slog())
	if err != nil {
		return err
	}
	result, err := coord.EmergencyRestore(cmd.Context())
	if errors.Is(err, recovery.ErrNoRecoveryPoints) {
		fmt.Fprintln(out, "No valid recovery points to restore.")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Restored %d file(s) from %s\n", len(result.Restored), result.PointID)
	return nil
}
