// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package verify runs the independent safety checks that gate
// destructive cleanup: repository state, backup age, reference chains,
// and emergency markers.
//
// The batch-scoped repository check is a barrier: it is awaited before
// any candidate-scoped work starts. Candidate-scoped checks run in a
// bounded worker pool, and every check runs to completion; partial
// results are never discarded.
package verify

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/sweepguard/services/safety/candidate"
	"github.com/AleutianAI/sweepguard/services/safety/config"
	"github.com/AleutianAI/sweepguard/services/safety/gitstate"
)

// readRetries is how many times read-only checks retry on transient
// errors. Destructive operations are never retried anywhere.
const readRetries = 3

// retryBackoff is the base backoff between read retries.
const retryBackoff = 100 * time.Millisecond

// emergencyNameMarkers flag backups that exist because of a prior
// failure or crash recovery. Matched against the lowercased filename.
var emergencyNameMarkers = []string{
	"crash", "recover", "rescue", "emergency", "corrupt", "lost+found",
}

// emergencyContentMarkers are scanned in the first contentScanBytes of
// the file.
var emergencyContentMarkers = [][]byte{
	[]byte("<<<<<<<"), // unresolved merge conflict
	[]byte("EMERGENCY BACKUP"),
	[]byte("AUTOSAVE-RECOVERY"),
}

const contentScanBytes = 4096

// Engine runs the fixed set of independent safety checks.
//
// # Description
//
// Given a batch of candidates and the current environment, Engine
// returns one Result per (check, scope). Checks are independent:
// one failing never suppresses another.
//
// # Thread Safety
//
// Engine is safe for concurrent use.
type Engine struct {
	cfg    *config.RunConfig
	git    gitstate.Client
	logger *slog.Logger

	// now is injectable for deterministic tests.
	now func() time.Time
}

// NewEngine creates a verification engine.
//
// # Inputs
//
//   - cfg: Immutable run configuration. Must be non-nil and validated.
//   - git: Read-only version-control client.
//   - logger: Logger for check events. If nil, uses slog.Default().
func NewEngine(cfg *config.RunConfig, git gitstate.Client, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:    cfg,
		git:    git,
		logger: logger.With(slog.String("component", "verify.Engine")),
		now:    time.Now,
	}
}

// VerifyRepositoryState runs the batch-scoped, critical repository check.
//
// # Description
//
// Fails if the path is not a git repository, if a merge, rebase, or
// cherry-pick is in progress, or if a configured clean-working-tree
// requirement is unmet without an override.
//
// # Outputs
//
//   - Result: Always returned, Passed=false on any problem. Critical
//     is always true for this factor.
func (e *Engine) VerifyRepositoryState(ctx context.Context) Result {
	result := Result{
		Factor:     FactorRepositoryState,
		Scope:      BatchScope,
		Critical:   true,
		Confidence: 1.0,
		Passed:     true,
	}

	if !e.git.IsRepository(ctx) {
		result.Passed = false
		result.Confidence = 0
		result.FailureReason = "not a git repository"
		return result
	}

	if inProgress, op := e.git.HasOperationInProgress(ctx); inProgress {
		result.Passed = false
		result.Confidence = 0
		result.FailureReason = fmt.Sprintf("%s in progress", op)
		return result
	}

	if e.cfg.RequireCleanTree && !e.cfg.AllowDirtyTree {
		status, err := retryRead(ctx, func() (*gitstate.Status, error) {
			return e.git.Status(ctx)
		})
		if err != nil {
			result.Passed = false
			result.Confidence = 0
			result.FailureReason = fmt.Sprintf("status check failed: %v", err)
			return result
		}
		if !status.IsClean {
			result.Passed = false
			result.Confidence = 0
			result.FailureReason = fmt.Sprintf(
				"working tree not clean: %d modified, %d staged",
				len(status.ModifiedFiles), len(status.StagedFiles))
			return result
		}
	}

	return result
}

// VerifyBackupAge checks that a backup is old enough to delete.
//
// # Description
//
// Non-critical unless the candidate's age falls inside the critical
// freshness window, in which case the failure is critical: very fresh
// backups must never be silently deleted. The result depends only on
// the candidate and the engine clock, so re-running with no elapsed
// time yields an identical result.
//
// # Inputs
//
//   - c: The candidate to check.
//
// # Outputs
//
//   - Result: Passed=true iff age >= the configured minimum.
func (e *Engine) VerifyBackupAge(c candidate.Candidate) Result {
	ageDays := c.AgeDays(e.now())

	result := Result{
		Factor: FactorBackupAge,
		Scope:  c.Path,
		Value:  ageDays,
	}

	if ageDays >= e.cfg.MinAgeDays {
		result.Passed = true
		result.Confidence = 1.0
		return result
	}

	result.Passed = false
	result.FailureReason = fmt.Sprintf("age %.1fd below minimum %.1fd",
		ageDays, e.cfg.MinAgeDays)

	// Confidence degrades toward zero as the backup approaches now.
	if e.cfg.MinAgeDays > 0 {
		result.Confidence = math.Max(0, ageDays/e.cfg.MinAgeDays)
	}

	if ageDays < e.cfg.CriticalFreshnessDays {
		result.Critical = true
		result.FailureReason = fmt.Sprintf(
			"age %.1fd inside critical freshness window %.1fd",
			ageDays, e.cfg.CriticalFreshnessDays)
	}

	return result
}

// VerifyReferenceChain searches version-control history for mentions of
// the candidate.
//
// # Description
//
// Searches commit subjects, branch names, and the reference log for the
// candidate's recovered original name. Non-critical and never blocks
// directly: presence lowers confidence and feeds risk scoring only.
//
// # Outputs
//
//   - Result: Value carries the total reference count.
func (e *Engine) VerifyReferenceChain(ctx context.Context, c candidate.Candidate) Result {
	stem := candidate.OriginalName(filepath.Base(c.Path))
	lookback := time.Duration(e.cfg.ReferenceLookbackDays) * 24 * time.Hour

	result := Result{
		Factor: FactorReferenceChain,
		Scope:  c.Path,
		Passed: true,
	}

	refs := 0

	logRefs, err := retryRead(ctx, func() (int, error) {
		return e.git.SearchLog(ctx, stem, lookback)
	})
	if err != nil {
		e.logger.Warn("log search failed", slog.String("stem", stem), slog.Any("error", err))
	} else {
		refs += logRefs
	}

	reflogRefs, err := retryRead(ctx, func() (int, error) {
		return e.git.SearchReflog(ctx, stem, 200)
	})
	if err != nil {
		e.logger.Warn("reflog search failed", slog.String("stem", stem), slog.Any("error", err))
	} else {
		refs += reflogRefs
	}

	branches, err := retryRead(ctx, func() ([]string, error) {
		return e.git.BranchNames(ctx)
	})
	if err == nil {
		lowered := strings.ToLower(stem)
		for _, b := range branches {
			if strings.Contains(strings.ToLower(b), lowered) {
				refs++
			}
		}
	}

	result.Value = float64(refs)
	if refs == 0 {
		result.Confidence = 1.0
		return result
	}

	// Confidence drops with reference density; saturation is configured.
	density := math.Min(1, float64(refs)/float64(e.cfg.ReferenceSaturation))
	result.Confidence = 1 - density
	result.FailureReason = fmt.Sprintf("%d history references to %q", refs, stem)
	return result
}

// VerifyEmergencyPatterns detects markers indicating the backup exists
// because of a prior failure or crash recovery.
//
// # Description
//
// Checks the filename for emergency markers and scans the head of the
// file content for conflict and recovery markers. A match is critical
// and hard-blocks auto-deletion.
func (e *Engine) VerifyEmergencyPatterns(c candidate.Candidate) Result {
	result := Result{
		Factor:     FactorEmergencyPatterns,
		Scope:      c.Path,
		Passed:     true,
		Confidence: 1.0,
	}

	lowered := strings.ToLower(c.Path)
	for _, marker := range emergencyNameMarkers {
		if strings.Contains(lowered, marker) {
			result.Passed = false
			result.Critical = true
			result.Confidence = 0
			result.FailureReason = fmt.Sprintf("emergency marker %q in filename", marker)
			return result
		}
	}

	head, err := readHead(c.Path, contentScanBytes)
	if err != nil {
		// Unreadable content is not an emergency signal by itself; the
		// decision path still requires a verified recovery point.
		e.logger.Debug("content scan skipped",
			slog.String("path", c.Path), slog.Any("error", err))
		return result
	}

	for _, marker := range emergencyContentMarkers {
		if bytes.Contains(head, marker) {
			result.Passed = false
			result.Critical = true
			result.Confidence = 0
			result.FailureReason = fmt.Sprintf("emergency marker %q in content", marker)
			return result
		}
	}

	return result
}

// VerifyBatch runs the full verification phase for a batch.
//
// # Description
//
// The repository-state check runs first and acts as a barrier. If it
// fails critically, no candidate-scoped work starts and the partial
// BatchResult is returned with ErrCriticalFailure. Otherwise the
// candidate-scoped checks run in a bounded worker pool; all checks run
// to completion and every result is aggregated.
//
// # Inputs
//
//   - ctx: Context for cancellation. Cancellation stops scheduling new
//     candidates but results already produced are kept.
//   - batch: The discovered candidates.
//
// # Outputs
//
//   - *BatchResult: Always non-nil; contains every produced result.
//   - error: ErrCriticalFailure if the batch-scoped check failed, or
//     the context error when cancelled mid-batch.
func (e *Engine) VerifyBatch(ctx context.Context, batch []candidate.Candidate) (*BatchResult, error) {
	result := &BatchResult{
		ByCandidate: make(map[string][]Result, len(batch)),
	}

	result.Repository = e.VerifyRepositoryState(ctx)
	e.logger.Info("repository state verified",
		slog.Bool("passed", result.Repository.Passed),
		slog.String("reason", result.Repository.FailureReason),
	)

	if result.CriticalBatchFailure() {
		return result, fmt.Errorf("%w: %s", ErrCriticalFailure, result.Repository.FailureReason)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.VerifyWorkers)

	for _, c := range batch {
		c := c
		g.Go(func() error {
			// Cancelled mid-batch: stop scheduling work for the
			// remaining candidates, keep what was already produced.
			if err := gctx.Err(); err != nil {
				return err
			}

			results := []Result{
				e.VerifyBackupAge(c),
				e.VerifyReferenceChain(gctx, c),
				e.VerifyEmergencyPatterns(c),
			}

			mu.Lock()
			result.ByCandidate[c.Path] = results
			mu.Unlock()

			e.logger.Debug("candidate verified",
				slog.String("path", c.Path),
				slog.Bool("critical_failure", HasCriticalFailure(results)),
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return result, err
	}
	return result, nil
}

// retryRead retries a read-only operation a small fixed number of times
// with linear backoff. Only verification reads use this; destructive
// actions are never auto-retried.
func retryRead[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt < readRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(time.Duration(attempt) * retryBackoff):
			}
		}

		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err
	}

	return zero, lastErr
}

// readHead reads up to n bytes from the start of a file.
func readHead(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, n)
	read, err := f.Read(buf)
	if read > 0 {
		return buf[:read], nil
	}
	return nil, err
}
