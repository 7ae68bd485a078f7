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
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/sweepguard/services/safety/audit"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var auditJSON bool

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

var auditCmd = &cobra.Command{
	Use:   "audit <session-id>",
	Short: "Print the audit trail of a cleanup session",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditCommand,
}

func init() {
	auditCmd.Flags().BoolVar(&auditJSON, "json", false,
		"Output entries as JSON")

	rootCmd.AddCommand(auditCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runAuditCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	procLog := newLogger(cfg)
	defer procLog.Close()

	log, err := audit.NewLogger(audit.DefaultConfig(auditPath(cfg)), procLog.Slog())
	if err != nil {
		return err
	}
	defer log.Close()

	entries, err := log.ListSession(args[0])
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("no audit entries for session %s", args[0])
	}

	out := cmd.OutOrStdout()
	if auditJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	for _, e := range entries {
		fmt.Fprintf(out, "%4d  %s  %-14s", e.Seq, e.Timestamp.Local().Format(time.RFC3339), e.Phase)
		if e.Path != "" {
			fmt.Fprintf(out, "  %s", e.Path)
		}
		if e.Message != "" {
			fmt.Fprintf(out, "  %s", e.Message)
		}
		fmt.Fprintln(out)
	}
	return nil
}
