// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package decision runs the per-candidate deletion workflow.
//
// Each candidate moves through an explicit state machine from PENDING
// to exactly one terminal state. Execution is gated twice: the
// emergency stop is consulted immediately before the destructive step,
// and no deletion happens unless a verified recovery point covers the
// candidate. Failed deletions are never retried; the candidate lands
// in ERROR and the operator resolves it.
package decision

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/AleutianAI/sweepguard/services/safety/config"
	"github.com/AleutianAI/sweepguard/services/safety/policy"
	"github.com/AleutianAI/sweepguard/services/safety/risk"
)

// Engine executes the decision workflow for candidates.
//
// # Description
//
// The engine is stateless across candidates: Decide may be called
// concurrently for distinct candidates. Routing depends on the risk
// action, the enforcement mode, and blocking policy violations;
// execution applies the emergency, dry-run, and recovery-point gates
// in that order.
//
// # Thread Safety
//
// Safe for concurrent use across distinct candidates.
type Engine struct {
	cfg       *config.RunConfig
	confirmer Confirmer
	reviewer  Reviewer
	emergency EmergencyCheck
	verifier  PointVerifier
	onChange  TransitionHook
	logger    *slog.Logger

	// remove performs the destructive step. Replaceable in tests.
	remove func(path string) error
	now    func() time.Time
}

// NewEngine creates a decision engine.
//
// # Inputs
//
//   - cfg: Immutable run configuration (mode, confirmation timeout).
//   - confirmer: Approval source for confirmation-gated deletions. A
//     nil confirmer declines everything.
//   - reviewer: Resolution source for manual reviews. A nil reviewer
//     preserves everything routed to review.
//   - emergency: Emergency-stop check. Must not be nil.
//   - verifier: Recovery-point integrity check. Must not be nil.
//   - hook: Optional observer for state transitions.
//   - logger: Logger for workflow events. If nil, uses slog.Default().
func NewEngine(cfg *config.RunConfig, confirmer Confirmer, reviewer Reviewer, emergency EmergencyCheck, verifier PointVerifier, hook TransitionHook, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:       cfg,
		confirmer: confirmer,
		reviewer:  reviewer,
		emergency: emergency,
		verifier:  verifier,
		onChange:  hook,
		logger:    logger.With(slog.String("component", "decision.Engine")),
		remove:    os.Remove,
		now:       time.Now,
	}
}

// Decide runs the workflow for one candidate to a terminal state.
//
// # Description
//
// Never returns a non-terminal decision: every path ends in EXECUTED,
// PRESERVED, or ERROR. Decide does not return an error; failures are
// captured in the decision itself so one candidate's trouble cannot
// abort the batch.
//
// # Inputs
//
//   - ctx: Run context. Cancellation (including the emergency stop)
//     preserves the candidate.
//   - in: The candidate with its assessment, violations, and the
//     batch recovery point.
//
// # Outputs
//
//   - *Decision: The terminal decision. Never nil.
func (e *Engine) Decide(ctx context.Context, in Input) *Decision {
	d := &Decision{
		Path:       in.Candidate.Path,
		RelPath:    in.RelPath,
		State:      StatePending,
		Score:      in.Assessment.Score,
		Level:      in.Assessment.Level,
		Violations: in.Violations,
	}

	if e.emergency.Triggered() || ctx.Err() != nil {
		e.advance(ctx, d, StatePreserved, "emergency_stop")
		return d
	}

	switch e.route(in) {
	case StateAutoExecuting:
		d.ApprovalMethod = ApprovalAuto
		e.advance(ctx, d, StateAutoExecuting, "risk level permits automatic deletion")
		e.execute(ctx, d, in)

	case StateAwaitingConfirmation:
		e.advance(ctx, d, StateAwaitingConfirmation, "deletion requires explicit confirmation")
		e.confirm(ctx, d, in)

	case StateAwaitingManualReview:
		e.advance(ctx, d, StateAwaitingManualReview, reviewReason(in))
		e.review(ctx, d, in)
	}

	return d
}

// route picks the first workflow state after PENDING.
//
// Blocking policy violations dominate the risk action; conservative
// mode downgrades automatic deletion to confirmation.
func (e *Engine) route(in Input) State {
	if policy.HasBlocking(in.Violations) {
		return StateAwaitingManualReview
	}

	switch in.Assessment.Action {
	case risk.ActionAutoDelete:
		if e.cfg.Mode == config.ModeConservative {
			return StateAwaitingConfirmation
		}
		return StateAutoExecuting
	case risk.ActionConfirm:
		return StateAwaitingConfirmation
	default:
		return StateAwaitingManualReview
	}
}

// confirm resolves a confirmation-gated decision.
func (e *Engine) confirm(ctx context.Context, d *Decision, in Input) {
	if e.confirmer == nil {
		e.advance(ctx, d, StatePreserved, "no confirmer available")
		return
	}

	confirmCtx, cancel := context.WithTimeout(ctx, e.cfg.ConfirmTimeout)
	defer cancel()

	approved, err := e.confirmer.Confirm(confirmCtx, d)
	switch {
	case e.emergency.Triggered() || ctx.Err() != nil:
		// The emergency stop overrides whatever the confirmer answered.
		e.advance(ctx, d, StatePreserved, "emergency_stop")
	case err != nil && confirmCtx.Err() != nil:
		// Timeout: the safe default is keep.
		e.advance(ctx, d, StatePreserved, "confirmation timed out")
	case err != nil:
		e.advance(ctx, d, StateError, fmt.Sprintf("confirmation failed: %v", err))
	case !approved:
		e.advance(ctx, d, StatePreserved, "declined by user")
	default:
		d.ApprovalMethod = ApprovalUser
		e.advance(ctx, d, StateAutoExecuting, "confirmed by user")
		e.execute(ctx, d, in)
	}
}

// review resolves a manual-review decision.
func (e *Engine) review(ctx context.Context, d *Decision, in Input) {
	if e.reviewer == nil {
		e.advance(ctx, d, StatePreserved, "no reviewer available")
		return
	}

	approved, err := e.reviewer.Review(ctx, d)
	switch {
	case e.emergency.Triggered() || ctx.Err() != nil:
		e.advance(ctx, d, StatePreserved, "emergency_stop")
	case err != nil:
		e.advance(ctx, d, StateError, fmt.Sprintf("review failed: %v", err))
	case !approved:
		e.advance(ctx, d, StatePreserved, "preserved by reviewer")
	default:
		d.ApprovalMethod = ApprovalManual
		e.advance(ctx, d, StateAutoExecuting, "approved by reviewer")
		e.execute(ctx, d, in)
	}
}

// execute performs the destructive step behind its three gates.
func (e *Engine) execute(ctx context.Context, d *Decision, in Input) {
	// Gate 1: emergency stop, checked immediately before deletion.
	if e.emergency.Triggered() || ctx.Err() != nil {
		e.advance(ctx, d, StatePreserved, "emergency_stop")
		return
	}

	// Gate 2: dry-run mode records the would-be deletion and keeps the file.
	if e.cfg.Mode == config.ModeDryRun {
		e.advance(ctx, d, StatePreserved, "dry_run")
		return
	}

	// Gate 3: a verified recovery point must cover the candidate.
	if in.Point == nil || !in.Point.Covers(d.RelPath) {
		e.advance(ctx, d, StateError, "no recovery point covers candidate")
		return
	}
	if err := e.verifier.Verify(in.Point.ID); err != nil {
		e.advance(ctx, d, StateError, fmt.Sprintf("recovery point verification failed: %v", err))
		return
	}

	// One attempt, no retries. A failed deletion needs a human.
	if err := e.remove(d.Path); err != nil {
		e.advance(ctx, d, StateError, fmt.Sprintf("deletion failed: %v", err))
		return
	}

	d.RecoveryPointID = in.Point.ID
	e.advance(ctx, d, StateExecuted, "deleted")
}

// advance applies one transition, panicking on a graph violation.
// A panic here is a programming error in the workflow itself.
func (e *Engine) advance(ctx context.Context, d *Decision, to State, reason string) {
	if !transitionAllowed(d.State, to) {
		panic(fmt.Sprintf("decision: illegal transition %s -> %s", d.State, to))
	}

	t := Transition{From: d.State, To: to, Reason: reason, At: e.now()}
	d.State = to
	d.Reason = reason
	d.History = append(d.History, t)

	e.logger.Debug("decision transition",
		slog.String("path", d.Path),
		slog.String("from", string(t.From)),
		slog.String("to", string(t.To)),
		slog.String("reason", reason),
	)
	if to.Terminal() {
		recordDecision(ctx, to, reason)
	}
	if e.onChange != nil {
		e.onChange(ctx, d.Path, t)
	}
}

// transitionAllowed checks the workflow graph.
func transitionAllowed(from, to State) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// reviewReason explains why a candidate went to manual review.
func reviewReason(in Input) string {
	if policy.HasBlocking(in.Violations) {
		return "blocking policy violation"
	}
	return "risk level requires manual review"
}
