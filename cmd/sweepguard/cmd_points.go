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
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/sweepguard/services/safety/recovery"
)

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recovery points, newest first",
	Args:  cobra.NoArgs,
	RunE:  runListCommand,
}

var verifyCmd = &cobra.Command{
	Use:   "verify <recovery-point-id>",
	Short: "Verify a recovery point's integrity",
	Long: `Recompute the recovery point's integrity hash and compare it with the
stored value. A point that fails verification must not be restored from
and will be skipped by emergency restores.

Exit Codes:
  0 = intact
  1 = corrupt or missing`,
	Args: cobra.ExactArgs(1),
	RunE: runVerifyCommand,
}

func init() {
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(verifyCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATIONS
// =============================================================================

func runListCommand(cmd *cobra.Command, _ []string) error {
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

	points, err := coord.List(cmd.Context())
	if err != nil {
		return err
	}
	if len(points) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No recovery points.")
		return nil
	}

	out := cmd.OutOrStdout()
	for _, p := range points {
		status := "ok"
		if err := coord.Verify(p.ID); err != nil {
			status = "CORRUPT"
		}
		fmt.Fprintf(out, "%s  %s  %3d file(s)  retained until %s  [%s]\n",
			p.ID,
			p.CreatedAt.Local().Format(time.RFC3339),
			len(p.Files),
			p.RetentionUntil.Local().Format("2006-01-02"),
			status,
		)
	}
	return nil
}

func runVerifyCommand(cmd *cobra.Command, args []string) error {
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

	if err := coord.Verify(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Recovery point %s is intact.\n", args[0])
	return nil
}
