// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package risk

import (
	"errors"
)

// ErrIncompleteAssessment indicates required verification results were
// missing for a candidate. The engine fails rather than guessing.
var ErrIncompleteAssessment = errors.New("incomplete assessment: missing verification results")

// SafetyLevel buckets an importance score.
type SafetyLevel string

const (
	// LevelSafe: low importance, auto-delete eligible.
	LevelSafe SafetyLevel = "SAFE"

	// LevelCautious: moderate importance, requires confirmation.
	LevelCautious SafetyLevel = "CAUTIOUS"

	// LevelRisky: high importance, requires manual review.
	LevelRisky SafetyLevel = "RISKY"
)

// Action is the recommended handling for a candidate, derived solely
// from its safety level.
type Action string

const (
	ActionAutoDelete   Action = "auto-delete-eligible"
	ActionConfirm      Action = "require-confirmation"
	ActionManualReview Action = "require-manual-review"
)

// ActionForLevel maps a safety level to its recommended action.
// The mapping is deterministic; no randomness is involved.
func ActionForLevel(level SafetyLevel) Action {
	switch level {
	case LevelSafe:
		return ActionAutoDelete
	case LevelCautious:
		return ActionConfirm
	default:
		return ActionManualReview
	}
}

// FactorContribution records one weighted factor in a score.
type FactorContribution struct {
	// Name identifies the factor.
	Name string `json:"name"`

	// Value is the raw factor value in [0,1].
	Value float64 `json:"value"`

	// Weight is the configured weight before normalization.
	Weight float64 `json:"weight"`
}

// Assessment is the scored risk of deleting one candidate.
//
// Polarity: a higher Score means the file is more important and
// therefore riskier to delete, never more deletion-eligible.
type Assessment struct {
	// Path is the assessed candidate path.
	Path string `json:"path"`

	// Score is the importance score in [0,1].
	Score float64 `json:"score"`

	// Level is the safety bucket derived from Score and escalations.
	Level SafetyLevel `json:"level"`

	// Action is derived solely from Level.
	Action Action `json:"action"`

	// Factors are the weighted contributions behind Score.
	Factors []FactorContribution `json:"factors"`

	// Reasons are human-readable escalation notes.
	Reasons []string `json:"reasons,omitempty"`
}
