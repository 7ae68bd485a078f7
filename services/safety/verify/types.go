// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package verify

import (
	"errors"
)

// Factor identifies an independent safety check.
type Factor string

const (
	// FactorRepositoryState is the batch-scoped repository check.
	FactorRepositoryState Factor = "repository_state"

	// FactorBackupAge checks that a backup is old enough to delete.
	FactorBackupAge Factor = "backup_age"

	// FactorReferenceChain searches version-control history for
	// mentions of the candidate.
	FactorReferenceChain Factor = "reference_chain"

	// FactorEmergencyPatterns detects crash/recovery markers.
	FactorEmergencyPatterns Factor = "emergency_patterns"
)

// BatchScope is the scope value for batch-wide results.
const BatchScope = "batch"

// ErrCriticalFailure indicates a critical batch-scoped check failed and
// the run must abort before any destructive phase.
var ErrCriticalFailure = errors.New("critical verification failure")

// Result is the outcome of one check against one scope.
//
// Results are aggregated even when a check fails: downstream risk
// scoring and the audit trail require the complete signal set.
type Result struct {
	// Factor names the check that produced this result.
	Factor Factor `json:"factor"`

	// Scope is BatchScope or the candidate path the check ran against.
	Scope string `json:"scope"`

	// Passed is false when the check found a problem.
	Passed bool `json:"passed"`

	// Confidence is the check's confidence in deletion safety, in [0,1].
	Confidence float64 `json:"confidence"`

	// FailureReason explains a failed check. Empty when passed.
	FailureReason string `json:"failure_reason,omitempty"`

	// Critical marks a check whose failure unconditionally blocks
	// destructive action for its scope.
	Critical bool `json:"critical"`

	// Value is a factor-specific measurement: reference count for the
	// reference chain, age in days for the age check.
	Value float64 `json:"value,omitempty"`
}

// BatchResult aggregates every verification result for one run.
type BatchResult struct {
	// Repository is the batch-scoped repository-state result.
	Repository Result `json:"repository"`

	// ByCandidate maps candidate path to its candidate-scoped results.
	ByCandidate map[string][]Result `json:"by_candidate"`
}

// CriticalBatchFailure reports whether the batch-scoped check failed
// critically, which aborts the run before any destructive phase.
func (b *BatchResult) CriticalBatchFailure() bool {
	return !b.Repository.Passed && b.Repository.Critical
}

// ForCandidate returns the results for a candidate path.
func (b *BatchResult) ForCandidate(path string) ([]Result, bool) {
	results, ok := b.ByCandidate[path]
	return results, ok
}

// HasCriticalFailure reports whether any result for the candidate
// failed a critical check.
func HasCriticalFailure(results []Result) bool {
	for _, r := range results {
		if !r.Passed && r.Critical {
			return true
		}
	}
	return false
}

// FindResult returns the result for a factor, if present.
func FindResult(results []Result, factor Factor) (Result, bool) {
	for _, r := range results {
		if r.Factor == factor {
			return r, true
		}
	}
	return Result{}, false
}
