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
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/sweepguard/services/safety/audit"
	"github.com/AleutianAI/sweepguard/services/safety/config"
	"github.com/AleutianAI/sweepguard/services/safety/decision"
	"github.com/AleutianAI/sweepguard/services/safety/discovery"
	"github.com/AleutianAI/sweepguard/services/safety/gitstate"
	"github.com/AleutianAI/sweepguard/services/safety/orchestrator"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	runMode   string
	runDryRun bool
	runYes    bool
	runJSON   bool
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Scan for backup files and run a cleanup session",
	Long: `Discover backup files, verify deletion safety, and execute decisions.

Phases run in fixed order: verification (a critical failure aborts the
session before anything else happens), recovery point, risk scoring,
policy evaluation, decisions. The session report is printed at the end.

Examples:
  sweepguard run                     # conservative: confirm every deletion
  sweepguard run --mode auto         # delete SAFE candidates automatically
  sweepguard run --dry-run           # decide everything, delete nothing
  sweepguard run --json              # machine-readable report

Exit Codes:
  0 = session completed
  1 = session aborted (verification failure or emergency stop)
  2 = error`,
	RunE: runRunCommand,
}

func init() {
	runCmd.Flags().StringVar(&runMode, "mode", "",
		"Enforcement mode: auto, conservative, dry-run")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false,
		"Alias for --mode dry-run")
	runCmd.Flags().BoolVar(&runYes, "yes", false,
		"Approve every confirmation prompt (not manual reviews)")
	runCmd.Flags().BoolVar(&runJSON, "json", false,
		"Output the session report as JSON")

	rootCmd.AddCommand(runCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runRunCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runMode != "" {
		cfg.Mode = config.EnforcementMode(runMode)
	}
	if runDryRun {
		cfg.Mode = config.ModeDryRun
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := newLogger(cfg)
	defer log.Close()
	logger := log.Slog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	git, err := gitstate.NewClient(cfg.RepoPath, 0)
	if err != nil {
		return err
	}

	batch, err := discovery.NewScanner(cfg.RepoPath, git, logger).Scan(ctx)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No backup files found.")
		return nil
	}

	auditLog, err := audit.NewLogger(audit.DefaultConfig(auditPath(cfg)), logger)
	if err != nil {
		return err
	}
	defer auditLog.Close()

	var confirmer decision.Confirmer = newStdinConfirmer(cmd.InOrStdin(), cmd.OutOrStdout())
	if runYes {
		confirmer = approveAll{}
	}

	orch, err := orchestrator.New(cfg, orchestrator.Options{
		Git:       git,
		Confirmer: confirmer,
		Reviewer:  newStdinReviewer(cmd.InOrStdin(), cmd.OutOrStdout()),
		Audit:     auditLog,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	report, err := orch.Run(ctx, batch)
	if err != nil {
		return err
	}

	if err := printReport(cmd, report); err != nil {
		return err
	}
	if report.Status != orchestrator.StatusCompleted {
		// Returning (not os.Exit) lets the deferred closes run; main
		// maps this error to exit code 1.
		return fmt.Errorf("%w: %s", errSessionIncomplete, report.Status)
	}
	return nil
}

// errSessionIncomplete marks a session that ran but did not complete.
var errSessionIncomplete = errors.New("session did not complete")

// auditPath is where the session audit store lives.
func auditPath(cfg *config.RunConfig) string {
	stateDir := cfg.StateDir
	if stateDir == "" {
		stateDir = filepath.Join(cfg.RepoPath, ".sweepguard")
	}
	return filepath.Join(stateDir, "audit")
}

// printReport renders the session report.
func printReport(cmd *cobra.Command, report *orchestrator.SafetyReport) error {
	out := cmd.OutOrStdout()

	if runJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Fprintf(out, "Session %s (%s)\n", report.SessionID, report.Status)
	if report.RecoveryPointID != "" {
		fmt.Fprintf(out, "Recovery point: %s\n", report.RecoveryPointID)
	}
	for _, d := range report.Decisions {
		fmt.Fprintf(out, "  %-10s %s", d.State, d.RelPath)
		if d.Reason != "" {
			fmt.Fprintf(out, "  (%s)", d.Reason)
		}
		fmt.Fprintln(out)
	}
	fmt.Fprintf(out, "Executed %d, preserved %d, errors %d\n",
		report.Summary.Executed, report.Summary.Preserved, report.Summary.Errors)
	return nil
}
