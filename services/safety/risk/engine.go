// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package risk scores candidates by the importance of what would be
// lost if they were deleted.
//
// Polarity convention, fixed for the whole system: a higher importance
// score means the candidate is more important and riskier to delete.
// SAFE is the low end of the scale.
package risk

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/AleutianAI/sweepguard/services/safety/candidate"
	"github.com/AleutianAI/sweepguard/services/safety/config"
	"github.com/AleutianAI/sweepguard/services/safety/verify"
)

// typeImportance is the ordinal importance table per file class.
// Unknown classes default to 0.5: never assume low risk for an
// unclassified type.
var typeImportance = map[candidate.FileClass]float64{
	candidate.ClassSource:  1.0,
	candidate.ClassData:    0.9,
	candidate.ClassConfig:  0.8,
	candidate.ClassDocs:    0.4,
	candidate.ClassTemp:    0.1,
	candidate.ClassUnknown: 0.5,
}

// Engine computes importance scores and safety levels.
//
// # Description
//
// Computes score = Σ wᵢ·fᵢ / Σ wᵢ over the configured factors, clamped
// to [0,1]. Weights need not sum to 1; the engine normalizes. The score
// is monotonic non-decreasing in each individual factor.
//
// # Thread Safety
//
// Engine is stateless and safe for concurrent use.
type Engine struct {
	cfg    *config.RunConfig
	logger *slog.Logger
}

// NewEngine creates a risk assessment engine.
func NewEngine(cfg *config.RunConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "risk.Engine")),
	}
}

// AssessBatch scores every candidate in a batch.
//
// # Description
//
// Computes per-signature duplicate counts across the batch (for the
// uniqueness factor), then assesses each candidate against its
// verification results.
//
// # Inputs
//
//   - batch: All discovered candidates.
//   - results: The completed verification batch.
//
// # Outputs
//
//   - map[string]Assessment: Assessment per candidate path. A candidate
//     with missing verification results is absent from the map and
//     reported in the error map instead.
//   - map[string]error: Per-candidate failures (IncompleteAssessment).
func (e *Engine) AssessBatch(batch []candidate.Candidate, results *verify.BatchResult) (map[string]Assessment, map[string]error) {
	dupCounts := make(map[string]int, len(batch))
	for _, c := range batch {
		if c.Signature != "" {
			dupCounts[c.Signature]++
		}
	}

	assessments := make(map[string]Assessment, len(batch))
	failures := make(map[string]error)

	for _, c := range batch {
		vr, ok := results.ForCandidate(c.Path)
		if !ok {
			failures[c.Path] = fmt.Errorf("%w: no results for %s", ErrIncompleteAssessment, c.Path)
			continue
		}

		assessment, err := e.Assess(c, vr, dupCounts[c.Signature])
		if err != nil {
			failures[c.Path] = err
			continue
		}
		assessments[c.Path] = assessment
	}

	return assessments, failures
}

// Assess scores a single candidate.
//
// # Inputs
//
//   - c: The candidate.
//   - results: The candidate's verification results. All candidate-scoped
//     factors must be present or the engine returns IncompleteAssessment.
//   - dupCount: How many candidates in the batch share c's signature
//     (including c itself). Zero or one means unique.
//
// # Outputs
//
//   - Assessment: The scored assessment.
//   - error: ErrIncompleteAssessment if required results are missing.
func (e *Engine) Assess(c candidate.Candidate, results []verify.Result, dupCount int) (Assessment, error) {
	ageResult, ok := verify.FindResult(results, verify.FactorBackupAge)
	if !ok {
		return Assessment{}, fmt.Errorf("%w: %s for %s", ErrIncompleteAssessment, verify.FactorBackupAge, c.Path)
	}
	refResult, ok := verify.FindResult(results, verify.FactorReferenceChain)
	if !ok {
		return Assessment{}, fmt.Errorf("%w: %s for %s", ErrIncompleteAssessment, verify.FactorReferenceChain, c.Path)
	}
	if _, ok := verify.FindResult(results, verify.FactorEmergencyPatterns); !ok {
		return Assessment{}, fmt.Errorf("%w: %s for %s", ErrIncompleteAssessment, verify.FactorEmergencyPatterns, c.Path)
	}

	w := e.cfg.Weights

	factors := []FactorContribution{
		{Name: "type_importance", Value: typeImportanceFor(c.Class), Weight: w.Type},
		{Name: "recency_risk", Value: e.recencyRisk(ageResult.Value), Weight: w.Recency},
		{Name: "reference_density", Value: e.referenceDensity(refResult.Value), Weight: w.Reference},
		{Name: "uniqueness_risk", Value: uniquenessRisk(c, dupCount), Weight: w.Uniqueness},
		{Name: "tracked_bonus", Value: trackedBonus(c), Weight: w.Tracked},
	}

	score := weightedScore(factors)

	level, reasons := e.level(score, results, c, refResult)

	assessment := Assessment{
		Path:    c.Path,
		Score:   score,
		Level:   level,
		Action:  ActionForLevel(level),
		Factors: factors,
		Reasons: reasons,
	}

	e.logger.Debug("candidate assessed",
		slog.String("path", c.Path),
		slog.Float64("score", score),
		slog.String("level", string(level)),
	)

	return assessment, nil
}

// weightedScore computes the normalized weighted sum, clamped to [0,1].
func weightedScore(factors []FactorContribution) float64 {
	var sum, weightSum float64
	for _, f := range factors {
		sum += f.Value * f.Weight
		weightSum += f.Weight
	}
	if weightSum == 0 {
		return 0
	}
	return math.Min(1, math.Max(0, sum/weightSum))
}

// level maps a score to a safety level, then applies escalations.
//
// Threshold mapping partitions [0,1] into three disjoint ordered
// ranges (safe_threshold > cautious_threshold):
//
//	SAFE      score <  cautious_threshold
//	CAUTIOUS  cautious_threshold <= score < safe_threshold
//	RISKY     score >= safe_threshold
//
// Escalations only ever raise the level:
//   - any critical verification failure forces RISKY
//   - a tracked candidate with history references forces RISKY
//   - any failed verification forces at least CAUTIOUS
func (e *Engine) level(score float64, results []verify.Result, c candidate.Candidate, refResult verify.Result) (SafetyLevel, []string) {
	var level SafetyLevel
	switch {
	case score >= e.cfg.SafeThreshold:
		level = LevelRisky
	case score >= e.cfg.CautiousThreshold:
		level = LevelCautious
	default:
		level = LevelSafe
	}

	var reasons []string

	if verify.HasCriticalFailure(results) {
		if level != LevelRisky {
			level = LevelRisky
		}
		reasons = append(reasons, "critical verification failure")
		return level, reasons
	}

	if c.Tracked && refResult.Value > 0 {
		if level != LevelRisky {
			level = LevelRisky
		}
		reasons = append(reasons, "tracked file with history references")
		return level, reasons
	}

	for _, r := range results {
		if !r.Passed {
			if level == LevelSafe {
				level = LevelCautious
			}
			reasons = append(reasons, fmt.Sprintf("failed check %s: %s", r.Factor, r.FailureReason))
		}
	}

	return level, reasons
}

// typeImportanceFor looks up the importance table, defaulting unknown
// classes to 0.5.
func typeImportanceFor(class candidate.FileClass) float64 {
	if v, ok := typeImportance[class]; ok {
		return v
	}
	return typeImportance[candidate.ClassUnknown]
}

// recencyRisk is a decreasing function of age: newer files score higher.
// The window is the configured minimum deletion age.
func (e *Engine) recencyRisk(ageDays float64) float64 {
	window := e.cfg.MinAgeDays
	if window <= 0 {
		return 0
	}
	return math.Max(0, (window-ageDays)/window)
}

// referenceDensity saturates the raw reference count.
func (e *Engine) referenceDensity(refCount float64) float64 {
	saturation := float64(e.cfg.ReferenceSaturation)
	if saturation <= 0 {
		saturation = 1
	}
	return math.Min(1, refCount/saturation)
}

// uniquenessRisk is 1.0 when no other candidate shares the content
// signature, else 1/duplicateCount. An unsigned candidate is treated
// as unique.
func uniquenessRisk(c candidate.Candidate, dupCount int) float64 {
	if c.Signature == "" || dupCount <= 1 {
		return 1.0
	}
	return 1.0 / float64(dupCount)
}

// trackedBonus is a fixed increment for version-controlled candidates.
func trackedBonus(c candidate.Candidate) float64 {
	if c.Tracked {
		return 1.0
	}
	return 0
}
