// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package decision

import (
	"context"
	"time"

	"github.com/AleutianAI/sweepguard/services/safety/candidate"
	"github.com/AleutianAI/sweepguard/services/safety/policy"
	"github.com/AleutianAI/sweepguard/services/safety/recovery"
	"github.com/AleutianAI/sweepguard/services/safety/risk"
)

// State is a decision workflow state.
type State string

// Workflow states. Every decision starts PENDING and ends in exactly
// one of the terminal states EXECUTED, PRESERVED, or ERROR.
const (
	StatePending              State = "PENDING"
	StateAutoExecuting        State = "AUTO_EXECUTING"
	StateAwaitingConfirmation State = "AWAITING_CONFIRMATION"
	StateAwaitingManualReview State = "AWAITING_MANUAL_REVIEW"
	StateExecuted             State = "EXECUTED"
	StatePreserved            State = "PRESERVED"
	StateError                State = "ERROR"
)

// Terminal reports whether the state ends the workflow.
func (s State) Terminal() bool {
	switch s {
	case StateExecuted, StatePreserved, StateError:
		return true
	}
	return false
}

// validTransitions is the full workflow graph. advance rejects
// anything not listed here.
var validTransitions = map[State][]State{
	StatePending: {
		StateAutoExecuting,
		StateAwaitingConfirmation,
		StateAwaitingManualReview,
		StatePreserved, // emergency stop or aborted session before routing
		StateError,     // assessment failure before routing
	},
	StateAutoExecuting:        {StateExecuted, StatePreserved, StateError},
	StateAwaitingConfirmation: {StateAutoExecuting, StatePreserved, StateError},
	StateAwaitingManualReview: {StateAutoExecuting, StatePreserved, StateError},
}

// ApprovalMethod records how a deletion was approved.
type ApprovalMethod string

// Approval methods. Set when the workflow enters AUTO_EXECUTING; a
// decision that never reaches execution carries none.
const (
	ApprovalAuto   ApprovalMethod = "auto"
	ApprovalUser   ApprovalMethod = "user"
	ApprovalManual ApprovalMethod = "manual"
)

// Transition records one state change with its reason.
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Decision is the workflow outcome for one candidate.
type Decision struct {
	// Path is the candidate's absolute path.
	Path string `json:"path"`

	// RelPath is the repository-relative path used for the
	// recovery-point coverage gate.
	RelPath string `json:"rel_path"`

	// State is the current workflow state.
	State State `json:"state"`

	// Reason explains the most recent transition.
	Reason string `json:"reason"`

	// ApprovalMethod is how execution was approved. Empty unless the
	// workflow reached AUTO_EXECUTING.
	ApprovalMethod ApprovalMethod `json:"approval_method,omitempty"`

	// Score and Level come from the risk assessment.
	Score float64          `json:"score"`
	Level risk.SafetyLevel `json:"level"`

	// Violations are the policy violations raised for the candidate.
	Violations []policy.Violation `json:"violations,omitempty"`

	// RecoveryPointID is the point that covered the candidate when it
	// was executed. Empty unless State is EXECUTED.
	RecoveryPointID string `json:"recovery_point_id,omitempty"`

	// History is every transition taken, in order.
	History []Transition `json:"history"`
}

// Input carries everything the workflow needs for one candidate.
type Input struct {
	Candidate  candidate.Candidate
	RelPath    string
	Assessment risk.Assessment
	Violations []policy.Violation

	// Point is the batch's recovery point; nil aborts execution.
	Point *recovery.Point
}

// Confirmer asks the user to approve one deletion. Implementations
// must honor ctx: the workflow applies the confirmation timeout and
// treats expiry as a decline.
type Confirmer interface {
	Confirm(ctx context.Context, d *Decision) (bool, error)
}

// Reviewer resolves a manual-review decision. A decline preserves the
// candidate.
type Reviewer interface {
	Review(ctx context.Context, d *Decision) (bool, error)
}

// EmergencyCheck reports whether the emergency stop has fired. It is
// consulted before every destructive transition.
type EmergencyCheck interface {
	Triggered() bool
}

// PointVerifier checks a recovery point's integrity before execution.
type PointVerifier interface {
	Verify(id string) error
}

// TransitionHook observes every state change, for audit recording.
type TransitionHook func(ctx context.Context, path string, t Transition)
