// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator sequences a cleanup session through its phases:
// verification, recovery point, risk scoring, policy evaluation,
// decision workflows, and the final report.
//
// Phase ordering is the system's core safety property. Verification is
// a barrier: a critical batch-scoped failure aborts the session before
// any snapshot or deletion. The recovery point is created and durable
// before the first destructive decision runs. The audit trail is
// flushed before the report is returned.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/sweepguard/services/safety/audit"
	"github.com/AleutianAI/sweepguard/services/safety/candidate"
	"github.com/AleutianAI/sweepguard/services/safety/config"
	"github.com/AleutianAI/sweepguard/services/safety/decision"
	"github.com/AleutianAI/sweepguard/services/safety/gitstate"
	"github.com/AleutianAI/sweepguard/services/safety/policy"
	"github.com/AleutianAI/sweepguard/services/safety/recovery"
	"github.com/AleutianAI/sweepguard/services/safety/risk"
	"github.com/AleutianAI/sweepguard/services/safety/verify"
)

// Options wires the interactive and persistence surfaces into the
// orchestrator. Engines are constructed internally from the config.
type Options struct {
	// Git is the read-only version-control client.
	Git gitstate.Client

	// Confirmer approves confirmation-gated deletions. Nil declines all.
	Confirmer decision.Confirmer

	// Reviewer resolves manual reviews. Nil preserves all reviewed
	// candidates.
	Reviewer decision.Reviewer

	// Audit is the append-only session log. Required.
	Audit *audit.Logger

	// ExtraPolicies are appended to the built-in policy set.
	ExtraPolicies []policy.Policy

	// Logger for orchestration events. If nil, uses slog.Default().
	Logger *slog.Logger
}

// Orchestrator runs cleanup sessions.
//
// # Thread Safety
//
// Run must not be called concurrently on the same Orchestrator:
// recovery-point creation and the emergency sentinel are per-run
// global state.
type Orchestrator struct {
	cfg       *config.RunConfig
	git       gitstate.Client
	verifier  *verify.Engine
	assessor  *risk.Engine
	policies  *policy.Engine
	points    *recovery.Coordinator
	auditLog  *audit.Logger
	confirmer decision.Confirmer
	reviewer  decision.Reviewer
	logger    *slog.Logger
}

// New creates an orchestrator with engines built from the config.
//
// # Inputs
//
//   - cfg: Validated run configuration.
//   - opts: Wiring for git, confirmation, review, and audit. Audit is
//     required.
//
// # Outputs
//
//   - *Orchestrator: Ready-to-use orchestrator.
//   - error: Non-nil if required wiring is missing or the recovery
//     store cannot be opened.
func New(cfg *config.RunConfig, opts Options) (*Orchestrator, error) {
	if opts.Audit == nil {
		return nil, fmt.Errorf("audit logger is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	points, err := recovery.NewCoordinator(cfg, opts.Git, logger)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		cfg:       cfg,
		git:       opts.Git,
		verifier:  verify.NewEngine(cfg, opts.Git, logger),
		assessor:  risk.NewEngine(cfg, logger),
		policies:  policy.NewEngine(cfg, opts.ExtraPolicies, logger),
		points:    points,
		auditLog:  opts.Audit,
		confirmer: opts.Confirmer,
		reviewer:  opts.Reviewer,
		logger:    logger.With(slog.String("component", "orchestrator.Orchestrator")),
	}, nil
}

// RecoveryPoints exposes the coordinator for restore and verify
// commands outside a cleanup session.
func (o *Orchestrator) RecoveryPoints() *recovery.Coordinator {
	return o.points
}

// Run executes one cleanup session over the batch.
//
// # Description
//
// Phases run in fixed order: batch verification (barrier), recovery
// point, risk scoring, policy evaluation, decision workflows, report.
// One candidate's failure never aborts the others; it lands in an
// ERROR decision. The returned report contains a terminal decision for
// every candidate exactly once and is only returned after the audit
// trail is flushed.
//
// # Inputs
//
//   - ctx: Session context. Cancellation behaves like an emergency stop.
//   - batch: The discovered candidates.
//
// # Outputs
//
//   - *SafetyReport: The complete session record. Non-nil whenever the
//     session produced decisions, including aborted sessions.
//   - error: Non-nil only for infrastructure failures (snapshot or
//     audit store), never for per-candidate trouble.
func (o *Orchestrator) Run(ctx context.Context, batch []candidate.Candidate) (*SafetyReport, error) {
	report := &SafetyReport{
		SessionID: uuid.NewString(),
		RepoPath:  o.cfg.RepoPath,
		Mode:      o.cfg.Mode,
		StartedAt: time.Now().UTC(),
	}

	// Audit writes must survive an emergency cancellation.
	auditCtx := context.WithoutCancel(ctx)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	monitor := policy.NewEmergencyMonitor(o.sentinelPath(), o.cfg.PollInterval, cancelRun, o.logger)
	monitor.Start()
	defer monitor.Stop()

	o.record(auditCtx, report.SessionID, audit.Entry{
		Phase:   audit.PhaseSessionStart,
		Message: "session started",
		Detail: map[string]any{
			"mode":       string(o.cfg.Mode),
			"candidates": len(batch),
		},
	})

	// Phase 1: verification barrier.
	verification, verr := o.verifier.VerifyBatch(runCtx, batch)
	report.Repository = verification.Repository
	o.auditVerification(auditCtx, report.SessionID, verification)

	if verr != nil {
		report.Status = StatusFailedVerification
		if monitor.Triggered() {
			report.Status = StatusAbortedEmergency
		}
		report.Decisions = preservedDecisions(batch, o.cfg.RepoPath,
			fmt.Sprintf("verification aborted the session: %v", verr))
		return o.finish(auditCtx, report)
	}

	// Phase 2: recovery point, durable before anything destructive.
	point, err := o.points.Create(auditCtx, batch)
	if err != nil {
		return nil, fmt.Errorf("creating recovery point: %w", err)
	}
	report.RecoveryPointID = point.ID
	o.record(auditCtx, report.SessionID, audit.Entry{
		Phase:   audit.PhaseRecoveryPoint,
		Message: "recovery point created",
		Detail:  map[string]any{"recovery_point_id": point.ID, "files": len(point.Files)},
	})

	// Phase 3: risk scoring. Per-candidate failures are isolated.
	assessments, failures := o.assessor.AssessBatch(batch, verification)
	for path, assessment := range assessments {
		o.record(auditCtx, report.SessionID, audit.Entry{
			Phase: audit.PhaseRiskScoring,
			Path:  path,
			Message: fmt.Sprintf("scored %.3f (%s)",
				assessment.Score, assessment.Level),
		})
	}
	for path, aerr := range failures {
		o.record(auditCtx, report.SessionID, audit.Entry{
			Phase:   audit.PhaseRiskScoring,
			Path:    path,
			Message: "assessment failed: " + aerr.Error(),
		})
	}

	// Phases 4 and 5: policy evaluation and decision workflows run per
	// candidate, concurrently across distinct candidates.
	engine := decision.NewEngine(o.cfg, o.confirmer, o.reviewer, monitor, o.points,
		o.transitionHook(auditCtx, report.SessionID), o.logger)

	decisions := make([]decision.Decision, len(batch))
	var g errgroup.Group
	g.SetLimit(o.cfg.VerifyWorkers)

	for i, c := range batch {
		i, c := i, c
		g.Go(func() error {
			if aerr, failed := failures[c.Path]; failed {
				decisions[i] = errorDecision(c, o.cfg.RepoPath, aerr.Error())
				return nil
			}

			assessment := assessments[c.Path]
			results, _ := verification.ForCandidate(c.Path)
			violations := o.policies.Evaluate(policy.Input{
				Candidate:  c,
				Results:    results,
				Assessment: assessment,
			})
			o.auditViolations(auditCtx, report.SessionID, c.Path, violations)

			d := engine.Decide(runCtx, decision.Input{
				Candidate:  c,
				RelPath:    relPath(o.cfg.RepoPath, c.Path),
				Assessment: assessment,
				Violations: violations,
				Point:      point,
			})
			decisions[i] = *d
			return nil
		})
	}
	_ = g.Wait() // workers never return errors; failures live in decisions

	report.Decisions = decisions
	report.Status = StatusCompleted
	if monitor.Triggered() {
		report.Status = StatusAbortedEmergency
		o.record(auditCtx, report.SessionID, audit.Entry{
			Phase:   audit.PhaseEmergency,
			Message: "emergency stop aborted the session",
		})
	}

	return o.finish(auditCtx, report)
}

// finish orders decisions, records the session end, and flushes the
// audit trail. The report is never returned before the flush succeeds.
func (o *Orchestrator) finish(ctx context.Context, report *SafetyReport) (*SafetyReport, error) {
	sort.Slice(report.Decisions, func(i, j int) bool {
		return report.Decisions[i].Path < report.Decisions[j].Path
	})

	for _, d := range report.Decisions {
		switch d.State {
		case decision.StateExecuted:
			report.Summary.Executed++
		case decision.StatePreserved:
			report.Summary.Preserved++
		default:
			report.Summary.Errors++
		}
	}
	report.FinishedAt = time.Now().UTC()

	o.record(ctx, report.SessionID, audit.Entry{
		Phase:   audit.PhaseSessionEnd,
		Message: "session finished",
		Detail: map[string]any{
			"status":    string(report.Status),
			"executed":  report.Summary.Executed,
			"preserved": report.Summary.Preserved,
			"errors":    report.Summary.Errors,
		},
	})

	if err := o.auditLog.Flush(ctx); err != nil {
		return nil, fmt.Errorf("flushing audit trail: %w", err)
	}

	o.logger.Info("session finished",
		slog.String("session", report.SessionID),
		slog.String("status", string(report.Status)),
		slog.Int("executed", report.Summary.Executed),
		slog.Int("preserved", report.Summary.Preserved),
		slog.Int("errors", report.Summary.Errors),
	)
	return report, nil
}

// record appends an audit entry, logging rather than failing on error:
// mid-session audit trouble is surfaced by the final Flush.
func (o *Orchestrator) record(ctx context.Context, sessionID string, entry audit.Entry) {
	entry.SessionID = sessionID
	if err := o.auditLog.Record(ctx, entry); err != nil {
		o.logger.Error("audit record failed",
			slog.String("phase", string(entry.Phase)), slog.Any("error", err))
	}
}

// auditVerification records the batch and per-candidate results.
func (o *Orchestrator) auditVerification(ctx context.Context, sessionID string, batch *verify.BatchResult) {
	o.record(ctx, sessionID, audit.Entry{
		Phase:   audit.PhaseVerification,
		Message: "repository state verified",
		Detail: map[string]any{
			"passed": batch.Repository.Passed,
			"reason": batch.Repository.FailureReason,
		},
	})
	for path, results := range batch.ByCandidate {
		for _, r := range results {
			o.record(ctx, sessionID, audit.Entry{
				Phase:   audit.PhaseVerification,
				Path:    path,
				Message: string(r.Factor),
				Detail: map[string]any{
					"passed":     r.Passed,
					"confidence": r.Confidence,
					"reason":     r.FailureReason,
				},
			})
		}
	}
}

// auditViolations records policy violations for a candidate.
func (o *Orchestrator) auditViolations(ctx context.Context, sessionID, path string, violations []policy.Violation) {
	for _, v := range violations {
		o.record(ctx, sessionID, audit.Entry{
			Phase:   audit.PhasePolicy,
			Path:    path,
			Message: v.PolicyID,
			Detail: map[string]any{
				"severity": string(v.Severity),
				"blocking": v.Blocking,
				"detail":   v.Detail,
			},
		})
	}
}

// transitionHook records every decision transition in the audit trail.
func (o *Orchestrator) transitionHook(ctx context.Context, sessionID string) decision.TransitionHook {
	return func(_ context.Context, path string, t decision.Transition) {
		o.record(ctx, sessionID, audit.Entry{
			Phase:   audit.PhaseDecision,
			Path:    path,
			Message: fmt.Sprintf("%s -> %s", t.From, t.To),
			Detail:  map[string]any{"reason": t.Reason},
		})
	}
}

// sentinelPath resolves the emergency sentinel location.
func (o *Orchestrator) sentinelPath() string {
	if o.cfg.SentinelPath != "" {
		return o.cfg.SentinelPath
	}
	return filepath.Join(o.cfg.RepoPath, ".sweepguard", "EMERGENCY_STOP")
}

// relPath is best-effort: candidates outside the repository keep their
// absolute path and fail the recovery-point coverage gate downstream.
func relPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

// preservedDecisions synthesizes terminal PRESERVED decisions for an
// aborted session, one per candidate.
func preservedDecisions(batch []candidate.Candidate, root, reason string) []decision.Decision {
	now := time.Now()
	decisions := make([]decision.Decision, 0, len(batch))
	for _, c := range batch {
		decisions = append(decisions, decision.Decision{
			Path:    c.Path,
			RelPath: relPath(root, c.Path),
			State:   decision.StatePreserved,
			Reason:  reason,
			History: []decision.Transition{{
				From: decision.StatePending, To: decision.StatePreserved,
				Reason: reason, At: now,
			}},
		})
	}
	return decisions
}

// errorDecision synthesizes a terminal ERROR decision for a candidate
// whose assessment failed.
func errorDecision(c candidate.Candidate, root, reason string) decision.Decision {
	return decision.Decision{
		Path:    c.Path,
		RelPath: relPath(root, c.Path),
		State:   decision.StateError,
		Reason:  reason,
		History: []decision.Transition{{
			From: decision.StatePending, To: decision.StateError,
			Reason: reason, At: time.Now(),
		}},
	}
}
