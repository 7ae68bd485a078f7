// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package policy

import (
	"github.com/AleutianAI/sweepguard/services/safety/candidate"
	"github.com/AleutianAI/sweepguard/services/safety/risk"
	"github.com/AleutianAI/sweepguard/services/safety/verify"
)

// Severity grades a policy violation.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Input is the evaluation context for one candidate.
type Input struct {
	// Candidate is the backup file under evaluation.
	Candidate candidate.Candidate

	// Results are the candidate's verification results.
	Results []verify.Result

	// Assessment is the candidate's risk assessment.
	Assessment risk.Assessment
}

// Predicate reports whether a policy is violated for the input, with
// a human-readable detail when it is.
type Predicate func(Input) (violated bool, detail string)

// Policy is an independent declarative rule over a candidate's
// verification and risk outcome.
type Policy struct {
	// ID uniquely names the policy.
	ID string `json:"id"`

	// Severity grades violations of this policy.
	Severity Severity `json:"severity"`

	// Blocking violations force the candidate into manual review.
	// Advisory violations are recorded but do not change the decision
	// path on their own.
	Blocking bool `json:"blocking"`

	// Remediation tells the operator how to clear the violation.
	Remediation string `json:"remediation"`

	// Predicate evaluates the policy. Never nil.
	Predicate Predicate `json:"-"`
}

// Violation records one policy violation for one candidate.
type Violation struct {
	// PolicyID names the violated policy.
	PolicyID string `json:"policy_id"`

	// Path is the candidate path.
	Path string `json:"path"`

	// Severity copies the policy severity.
	Severity Severity `json:"severity"`

	// Blocking copies the policy blocking flag.
	Blocking bool `json:"blocking"`

	// Detail explains the violation.
	Detail string `json:"detail"`

	// Remediation copies the policy remediation text.
	Remediation string `json:"remediation"`
}

// HasBlocking reports whether any violation in the set is blocking.
func HasBlocking(violations []Violation) bool {
	for _, v := range violations {
		if v.Blocking {
			return true
		}
	}
	return false
}
