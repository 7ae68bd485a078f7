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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/sweepguard/services/safety/recovery"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	restorePatterns []string
	restoreForce    bool
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

var restoreCmd = &cobra.Command{
	Use:   "restore <recovery-point-id>",
	Short: "Restore files from a recovery point",
	Long: `Write a recovery point's content back into the repository.

The point's integrity hash is verified first; a corrupt point is
refused unless --force is given. Files modified after the point was
taken are reported as conflicts and left alone unless --force is given.

Examples:
  sweepguard restore 2f4c...            # restore everything
  sweepguard restore 2f4c... -p '*.db.bak'
  sweepguard restore 2f4c... --force`,
	Args: cobra.ExactArgs(1),
	RunE: runRestoreCommand,
}

func init() {
	restoreCmd.Flags().StringArrayVarP(&restorePatterns, "pattern", "p", nil,
		"Glob over repo-relative paths; repeatable. Empty restores all")
	restoreCmd.Flags().BoolVar(&restoreForce, "force", false,
		"Bypass integrity and conflict refusals")

	rootCmd.AddCommand(restoreCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runRestoreCommand(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log := newLogger(cfg)
	defer log.Close()

	coord, err := recovery.NewCoordinator(cfg, nil, log.Slog())
	if err != nil {
		return err
	}

	result, err := coord.Restore(cmd.Context(), args[0], restorePatterns, restoreForce)
	if err != nil {
		return err
	}

	for _, rel := range result.Restored {
		fmt.Fprintf(out, "restored  %s\n", rel)
	}
	for _, c := range result.Conflicts {
		fmt.Fprintf(out, "conflict  %s: %s\n", c.Path, c.Reason)
	}
	for _, rel := range result.SkippedNoContent {
		fmt.Fprintf(out, "no copy   %s (inventoried above the size ceiling)\n", rel)
	}
	fmt.Fprintf(out, "Restored %d file(s) from %s\n", len(result.Restored), result.PointID)

	if len(result.Conflicts) > 0 {
		return fmt.Errorf("%d conflict(s); rerun with --force to overwrite", len(result.Conflicts))
	}
	return nil
}
