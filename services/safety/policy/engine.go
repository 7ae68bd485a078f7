// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package policy evaluates declarative safety policies over verification
// and risk results, and hosts the emergency-stop monitor.
//
// Policies are independent: every policy is evaluated for every
// candidate and all violations are collected, never fail-fast, so the
// final report always shows the complete violation set.
package policy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/sweepguard/services/safety/config"
	"github.com/AleutianAI/sweepguard/services/safety/risk"
	"github.com/AleutianAI/sweepguard/services/safety/verify"
)

// Engine evaluates a fixed policy set per candidate.
//
// # Thread Safety
//
// Engine is immutable after construction and safe for concurrent use.
type Engine struct {
	policies []Policy
	logger   *slog.Logger
}

// NewEngine creates a policy engine with the builtin policy set derived
// from the run configuration.
//
// # Inputs
//
//   - cfg: Immutable run configuration.
//   - extra: Additional policies appended after the builtins.
//   - logger: Logger for evaluation events. If nil, uses slog.Default().
func NewEngine(cfg *config.RunConfig, extra []Policy, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		policies: append(builtinPolicies(cfg), extra...),
		logger:   logger.With(slog.String("component", "policy.Engine")),
	}
}

// Policies returns the engine's policy set.
func (e *Engine) Policies() []Policy {
	return e.policies
}

// Evaluate runs every policy against one candidate.
//
// # Description
//
// All policies are evaluated and all violations collected; a violated
// policy never suppresses evaluation of the rest.
//
// # Outputs
//
//   - []Violation: The complete violation set, possibly empty.
func (e *Engine) Evaluate(in Input) []Violation {
	var violations []Violation

	for _, p := range e.policies {
		violated, detail := p.Predicate(in)
		if !violated {
			continue
		}
		violations = append(violations, Violation{
			PolicyID:    p.ID,
			Path:        in.Candidate.Path,
			Severity:    p.Severity,
			Blocking:    p.Blocking,
			Detail:      detail,
			Remediation: p.Remediation,
		})
		recordViolation(context.Background(), p.ID, p.Blocking)
	}

	if len(violations) > 0 {
		e.logger.Info("policy violations",
			slog.String("path", in.Candidate.Path),
			slog.Int("count", len(violations)),
			slog.Bool("blocking", HasBlocking(violations)),
		)
	}

	return violations
}

// builtinPolicies constructs the default policy set.
func builtinPolicies(cfg *config.RunConfig) []Policy {
	return []Policy{
		{
			ID:          "no-critical-failures",
			Severity:    SeverityError,
			Blocking:    true,
			Remediation: "resolve the critical verification failure before retrying cleanup",
			Predicate: func(in Input) (bool, string) {
				for _, r := range in.Results {
					if !r.Passed && r.Critical {
						return true, fmt.Sprintf("critical check %s failed: %s", r.Factor, r.FailureReason)
					}
				}
				return false, ""
			},
		},
		{
			ID:          "no-fresh-deletes",
			Severity:    SeverityWarning,
			Blocking:    false,
			Remediation: fmt.Sprintf("wait until the backup is at least %.0f days old", cfg.MinAgeDays),
			Predicate: func(in Input) (bool, string) {
				r, ok := verify.FindResult(in.Results, verify.FactorBackupAge)
				if ok && !r.Passed {
					return true, r.FailureReason
				}
				return false, ""
			},
		},
		{
			ID:          "referenced-requires-review",
			Severity:    SeverityError,
			Blocking:    true,
			Remediation: "review the referencing commits, then decide manually",
			Predicate: func(in Input) (bool, string) {
				r, ok := verify.FindResult(in.Results, verify.FactorReferenceChain)
				if ok && r.Value > 0 && in.Assessment.Action == risk.ActionAutoDelete {
					return true, fmt.Sprintf("%v history references but action is auto-delete", r.Value)
				}
				return false, ""
			},
		},
		{
			ID:          "tracked-advisory",
			Severity:    SeverityInfo,
			Blocking:    false,
			Remediation: "consider `git rm` so the deletion is itself version controlled",
			Predicate: func(in Input) (bool, string) {
				if in.Candidate.Tracked {
					return true, "candidate is tracked by version control"
				}
				return false, ""
			},
		},
		{
			ID:          "emergency-marker-block",
			Severity:    SeverityError,
			Blocking:    true,
			Remediation: "inspect the backup: it appears to originate from a crash or recovery",
			Predicate: func(in Input) (bool, string) {
				r, ok := verify.FindResult(in.Results, verify.FactorEmergencyPatterns)
				if ok && !r.Passed {
					return true, r.FailureReason
				}
				return false, ""
			},
		},
	}
}
