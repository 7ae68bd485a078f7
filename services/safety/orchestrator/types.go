// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"time"

	"github.com/AleutianAI/sweepguard/services/safety/config"
	"github.com/AleutianAI/sweepguard/services/safety/decision"
	"github.com/AleutianAI/sweepguard/services/safety/verify"
)

// OverallStatus summarizes how a cleanup session ended.
type OverallStatus string

const (
	// StatusCompleted: every candidate reached a terminal decision.
	StatusCompleted OverallStatus = "COMPLETED"

	// StatusFailedVerification: the batch-scoped verification failed
	// critically; the run aborted before any snapshot or deletion.
	StatusFailedVerification OverallStatus = "FAILED_VERIFICATION"

	// StatusAbortedEmergency: the emergency stop fired mid-run. Every
	// candidate still has a terminal decision; none executed after the
	// trigger.
	StatusAbortedEmergency OverallStatus = "ABORTED_EMERGENCY"
)

// Summary counts decisions by terminal state.
type Summary struct {
	Executed  int `json:"executed"`
	Preserved int `json:"preserved"`
	Errors    int `json:"errors"`
}

// SafetyReport is the complete record of one cleanup session.
//
// Decisions are ordered by candidate path and contain every candidate
// in the batch exactly once, whatever the overall status. The report is
// only returned after the audit trail has been flushed.
type SafetyReport struct {
	// SessionID uniquely identifies the run and keys its audit trail.
	SessionID string `json:"session_id"`

	// RepoPath is the repository the session ran against.
	RepoPath string `json:"repo_path"`

	// Mode is the enforcement mode the session ran under.
	Mode config.EnforcementMode `json:"mode"`

	// StartedAt and FinishedAt bound the session.
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Status is the overall session outcome.
	Status OverallStatus `json:"status"`

	// Repository is the batch-scoped verification result.
	Repository verify.Result `json:"repository"`

	// RecoveryPointID is the recovery point created for the batch.
	// Empty when the run aborted before the snapshot phase.
	RecoveryPointID string `json:"recovery_point_id,omitempty"`

	// Decisions holds one terminal decision per candidate, ordered by
	// path.
	Decisions []decision.Decision `json:"decisions"`

	// Summary counts decisions by terminal state.
	Summary Summary `json:"summary"`
}
