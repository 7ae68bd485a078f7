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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/sweepguard/services/safety/candidate"
	"github.com/AleutianAI/sweepguard/services/safety/config"
	"github.com/AleutianAI/sweepguard/services/safety/policy"
	"github.com/AleutianAI/sweepguard/services/safety/recovery"
	"github.com/AleutianAI/sweepguard/services/safety/risk"
)

type fakeConfirmer struct {
	approve bool
	err     error
	block   bool // never answer; forces the timeout path
}

func (f *fakeConfirmer) Confirm(ctx context.Context, _ *Decision) (bool, error) {
	if f.block {
		<-ctx.Done()
		return false, ctx.Err()
	}
	return f.approve, f.err
}

// confirmerFunc adapts a function to the Confirmer interface.
type confirmerFunc func(context.Context, *Decision) (bool, error)

func (f confirmerFunc) Confirm(ctx context.Context, d *Decision) (bool, error) {
	return f(ctx, d)
}

type fakeReviewer struct {
	approve bool
	err     error
}

func (f *fakeReviewer) Review(_ context.Context, _ *Decision) (bool, error) {
	return f.approve, f.err
}

type fakeEmergency struct{ fired bool }

func (f *fakeEmergency) Triggered() bool { return f.fired }

type fakeVerifier struct{ err error }

func (f *fakeVerifier) Verify(string) error { return f.err }

func testConfig(mode config.EnforcementMode) *config.RunConfig {
	cfg := config.DefaultRunConfig()
	cfg.RepoPath = "/repo"
	cfg.Mode = mode
	cfg.ConfirmTimeout = 50 * time.Millisecond
	return &cfg
}

func coveredPoint(rel string) *recovery.Point {
	return &recovery.Point{
		ID:        "rp-1",
		CreatedAt: time.Now(),
		Files:     map[string]recovery.FileEntry{rel: {Path: rel, Snapshotted: true}},
	}
}

func autoDeleteInput(rel string) Input {
	return Input{
		Candidate:  candidate.Candidate{Path: "/repo/" + rel, Class: candidate.ClassTemp},
		RelPath:    rel,
		Assessment: risk.Assessment{Score: 0.1, Level: risk.LevelSafe, Action: risk.ActionAutoDelete},
		Point:      coveredPoint(rel),
	}
}

// newEngine builds an engine with a recorded fake deleter.
func newEngine(cfg *config.RunConfig, c Confirmer, r Reviewer, em EmergencyCheck, v PointVerifier) (*Engine, *[]string) {
	e := NewEngine(cfg, c, r, em, v, nil, nil)
	var deleted []string
	var mu sync.Mutex
	e.remove = func(path string) error {
		mu.Lock()
		defer mu.Unlock()
		deleted = append(deleted, path)
		return nil
	}
	return e, &deleted
}

func TestDecide_AutoDelete(t *testing.T) {
	e, deleted := newEngine(testConfig(config.ModeAuto), nil, nil, &fakeEmergency{}, &fakeVerifier{})

	d := e.Decide(context.Background(), autoDeleteInput("old.log.bak"))

	assert.Equal(t, StateExecuted, d.State)
	assert.Equal(t, ApprovalAuto, d.ApprovalMethod)
	assert.Equal(t, "rp-1", d.RecoveryPointID)
	assert.Equal(t, []string{"/repo/old.log.bak"}, *deleted)

	// PENDING -> AUTO_EXECUTING -> EXECUTED
	require.Len(t, d.History, 2)
	assert.Equal(t, StatePending, d.History[0].From)
	assert.Equal(t, StateExecuted, d.History[1].To)
}

func TestDecide_ConservativeModeDowngradesAutoDelete(t *testing.T) {
	e, deleted := newEngine(testConfig(config.ModeConservative),
		&fakeConfirmer{approve: true}, nil, &fakeEmergency{}, &fakeVerifier{})

	d := e.Decide(context.Background(), autoDeleteInput("old.log.bak"))

	assert.Equal(t, StateExecuted, d.State)
	assert.Equal(t, ApprovalUser, d.ApprovalMethod,
		"a confirmed deletion is user-approved, not auto")
	assert.Len(t, *deleted, 1)

	states := make([]State, 0, len(d.History))
	for _, tr := range d.History {
		states = append(states, tr.To)
	}
	assert.Contains(t, states, StateAwaitingConfirmation,
		"conservative mode must route auto-deletes through confirmation")
}

func TestDecide_Confirmation(t *testing.T) {
	in := autoDeleteInput("cfg.yaml.bak")
	in.Assessment = risk.Assessment{Score: 0.5, Level: risk.LevelCautious, Action: risk.ActionConfirm}

	t.Run("declined preserves", func(t *testing.T) {
		e, deleted := newEngine(testConfig(config.ModeAuto),
			&fakeConfirmer{approve: false}, nil, &fakeEmergency{}, &fakeVerifier{})

		d := e.Decide(context.Background(), in)
		assert.Equal(t, StatePreserved, d.State)
		assert.Empty(t, d.ApprovalMethod, "no approval without execution")
		assert.Empty(t, *deleted)
	})

	t.Run("timeout preserves", func(t *testing.T) {
		e, deleted := newEngine(testConfig(config.ModeAuto),
			&fakeConfirmer{block: true}, nil, &fakeEmergency{}, &fakeVerifier{})

		start := time.Now()
		d := e.Decide(context.Background(), in)
		assert.Equal(t, StatePreserved, d.State)
		assert.Equal(t, "confirmation timed out", d.Reason)
		assert.Empty(t, *deleted)
		assert.Less(t, time.Since(start), 2*time.Second)
	})

	t.Run("nil confirmer preserves", func(t *testing.T) {
		e, deleted := newEngine(testConfig(config.ModeAuto),
			nil, nil, &fakeEmergency{}, &fakeVerifier{})

		d := e.Decide(context.Background(), in)
		assert.Equal(t, StatePreserved, d.State)
		assert.Empty(t, *deleted)
	})
}

func TestDecide_ManualReview(t *testing.T) {
	in := autoDeleteInput("main.go.bak")
	in.Assessment = risk.Assessment{Score: 0.9, Level: risk.LevelRisky, Action: risk.ActionManualReview}

	t.Run("approved executes", func(t *testing.T) {
		e, deleted := newEngine(testConfig(config.ModeAuto),
			nil, &fakeReviewer{approve: true}, &fakeEmergency{}, &fakeVerifier{})

		d := e.Decide(context.Background(), in)
		assert.Equal(t, StateExecuted, d.State)
		assert.Equal(t, ApprovalManual, d.ApprovalMethod)
		assert.Len(t, *deleted, 1)
	})

	t.Run("declined preserves", func(t *testing.T) {
		e, deleted := newEngine(testConfig(config.ModeAuto),
			nil, &fakeReviewer{approve: false}, &fakeEmergency{}, &fakeVerifier{})

		d := e.Decide(context.Background(), in)
		assert.Equal(t, StatePreserved, d.State)
		assert.Empty(t, *deleted)
	})

	t.Run("review error lands in ERROR", func(t *testing.T) {
		e, deleted := newEngine(testConfig(config.ModeAuto),
			nil, &fakeReviewer{err: errors.New("review channel down")}, &fakeEmergency{}, &fakeVerifier{})

		d := e.Decide(context.Background(), in)
		assert.Equal(t, StateError, d.State)
		assert.Empty(t, *deleted)
	})
}

func TestDecide_BlockingViolationForcesReview(t *testing.T) {
	in := autoDeleteInput("crash.db.bak")
	in.Violations = []policy.Violation{{
		PolicyID: "emergency-marker-block", Severity: policy.SeverityError, Blocking: true,
	}}

	e, deleted := newEngine(testConfig(config.ModeAuto),
		nil, &fakeReviewer{approve: false}, &fakeEmergency{}, &fakeVerifier{})

	d := e.Decide(context.Background(), in)
	assert.Equal(t, StatePreserved, d.State)
	assert.Empty(t, *deleted, "auto-delete action must not bypass a blocking violation")
	assert.Equal(t, StateAwaitingManualReview, d.History[0].To)
}

func TestDecide_RecoveryPointGate(t *testing.T) {
	t.Run("nil point", func(t *testing.T) {
		in := autoDeleteInput("a.bak")
		in.Point = nil

		e, deleted := newEngine(testConfig(config.ModeAuto), nil, nil, &fakeEmergency{}, &fakeVerifier{})
		d := e.Decide(context.Background(), in)

		assert.Equal(t, StateError, d.State)
		assert.Empty(t, *deleted)
	})

	t.Run("uncovered candidate", func(t *testing.T) {
		in := autoDeleteInput("a.bak")
		in.Point = coveredPoint("something-else.bak")

		e, deleted := newEngine(testConfig(config.ModeAuto), nil, nil, &fakeEmergency{}, &fakeVerifier{})
		d := e.Decide(context.Background(), in)

		assert.Equal(t, StateError, d.State)
		assert.Empty(t, *deleted)
	})

	t.Run("corrupt point", func(t *testing.T) {
		e, deleted := newEngine(testConfig(config.ModeAuto), nil, nil,
			&fakeEmergency{}, &fakeVerifier{err: recovery.ErrCorruptRecoveryPoint})
		d := e.Decide(context.Background(), autoDeleteInput("a.bak"))

		assert.Equal(t, StateError, d.State)
		assert.Empty(t, *deleted)
	})
}

func TestDecide_EmergencyStop(t *testing.T) {
	t.Run("fired before routing", func(t *testing.T) {
		e, deleted := newEngine(testConfig(config.ModeAuto), nil, nil,
			&fakeEmergency{fired: true}, &fakeVerifier{})
		d := e.Decide(context.Background(), autoDeleteInput("a.bak"))

		assert.Equal(t, StatePreserved, d.State)
		assert.Equal(t, "emergency_stop", d.Reason)
		assert.Empty(t, *deleted)
	})

	t.Run("cancelled context preserves", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		e, deleted := newEngine(testConfig(config.ModeAuto), nil, nil, &fakeEmergency{}, &fakeVerifier{})
		d := e.Decide(ctx, autoDeleteInput("a.bak"))

		assert.Equal(t, StatePreserved, d.State)
		assert.Empty(t, *deleted)
	})

	t.Run("fired during confirmation wins the reason", func(t *testing.T) {
		in := autoDeleteInput("cfg.yaml.bak")
		in.Assessment = risk.Assessment{Score: 0.5, Level: risk.LevelCautious, Action: risk.ActionConfirm}

		em := &fakeEmergency{}
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		e, deleted := newEngine(testConfig(config.ModeAuto), nil, nil, em, &fakeVerifier{})
		e.confirmer = confirmerFunc(func(cctx context.Context, _ *Decision) (bool, error) {
			// The stop fires while the prompt is pending.
			em.fired = true
			cancel()
			<-cctx.Done()
			return false, cctx.Err()
		})

		d := e.Decide(ctx, in)
		assert.Equal(t, StatePreserved, d.State)
		assert.Equal(t, "emergency_stop", d.Reason,
			"the stop overrides the timeout labeling")
		assert.Empty(t, *deleted)
	})
}

func TestDecide_DryRun(t *testing.T) {
	e, deleted := newEngine(testConfig(config.ModeDryRun), nil, nil, &fakeEmergency{}, &fakeVerifier{})
	d := e.Decide(context.Background(), autoDeleteInput("a.bak"))

	assert.Equal(t, StatePreserved, d.State)
	assert.Equal(t, "dry_run", d.Reason)
	assert.Empty(t, *deleted)
}

func TestDecide_DeletionFailureNoRetry(t *testing.T) {
	e, _ := newEngine(testConfig(config.ModeAuto), nil, nil, &fakeEmergency{}, &fakeVerifier{})

	attempts := 0
	e.remove = func(string) error {
		attempts++
		return errors.New("permission denied")
	}

	d := e.Decide(context.Background(), autoDeleteInput("a.bak"))
	assert.Equal(t, StateError, d.State)
	assert.Equal(t, 1, attempts, "failed deletions are not retried")
}

func TestDecide_ConcurrentDistinctCandidates(t *testing.T) {
	e, deleted := newEngine(testConfig(config.ModeAuto), nil, nil, &fakeEmergency{}, &fakeVerifier{})

	rels := []string{"a.bak", "b.bak", "c.bak", "d.bak"}
	var wg sync.WaitGroup
	results := make([]*Decision, len(rels))
	for i, rel := range rels {
		wg.Add(1)
		go func(i int, rel string) {
			defer wg.Done()
			results[i] = e.Decide(context.Background(), autoDeleteInput(rel))
		}(i, rel)
	}
	wg.Wait()

	for _, d := range results {
		assert.Equal(t, StateExecuted, d.State)
	}
	assert.Len(t, *deleted, len(rels))
}

func TestTransitionHook(t *testing.T) {
	var mu sync.Mutex
	var seen []Transition
	hook := func(_ context.Context, _ string, tr Transition) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, tr)
	}

	e := NewEngine(testConfig(config.ModeDryRun), nil, nil, &fakeEmergency{}, &fakeVerifier{}, hook, nil)
	d := e.Decide(context.Background(), autoDeleteInput("a.bak"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, len(d.History))
	assert.Equal(t, d.History, seen)
}

func TestStateTerminal(t *testing.T) {
	for _, s := range []State{StateExecuted, StatePreserved, StateError} {
		assert.True(t, s.Terminal(), string(s))
	}
	for _, s := range []State{StatePending, StateAutoExecuting, StateAwaitingConfirmation, StateAwaitingManualReview} {
		assert.False(t, s.Terminal(), string(s))
	}
}
