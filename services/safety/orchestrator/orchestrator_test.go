// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/sweepguard/services/safety/audit"
	"github.com/AleutianAI/sweepguard/services/safety/candidate"
	"github.com/AleutianAI/sweepguard/services/safety/config"
	"github.com/AleutianAI/sweepguard/services/safety/decision"
	"github.com/AleutianAI/sweepguard/services/safety/gitstate"
)

// fakeGit implements gitstate.Client for tests.
type fakeGit struct {
	isRepo       bool
	inProgressOp string
	status       *gitstate.Status
	tracked      map[string]bool
	logRefs      map[string]int
}

func newFakeGit() *fakeGit {
	return &fakeGit{
		isRepo:  true,
		status:  &gitstate.Status{Branch: "main", IsClean: true},
		tracked: map[string]bool{},
		logRefs: map[string]int{},
	}
}

func (f *fakeGit) IsRepository(context.Context) bool { return f.isRepo }

func (f *fakeGit) HasOperationInProgress(context.Context) (bool, string) {
	return f.inProgressOp != "", f.inProgressOp
}

func (f *fakeGit) Status(context.Context) (*gitstate.Status, error) { return f.status, nil }

func (f *fakeGit) IsTracked(_ context.Context, path string) bool { return f.tracked[path] }

func (f *fakeGit) HeadSHA(context.Context) (string, error) { return "abc123", nil }

func (f *fakeGit) CurrentBranch(context.Context) (string, error) { return "main", nil }

func (f *fakeGit) BranchNames(context.Context) ([]string, error) { return nil, nil }

func (f *fakeGit) SearchLog(_ context.Context, term string, _ time.Duration) (int, error) {
	return f.logRefs[term], nil
}

func (f *fakeGit) SearchReflog(context.Context, string, int) (int, error) { return 0, nil }

var _ gitstate.Client = (*fakeGit)(nil)

// harness bundles a runnable orchestrator over a temp repository.
type harness struct {
	orch *Orchestrator
	cfg  *config.RunConfig
	git  *fakeGit
	log  *audit.Logger
	repo string
}

func newHarness(t *testing.T, mode config.EnforcementMode) *harness {
	t.Helper()
	repo := t.TempDir()

	cfg := config.DefaultRunConfig()
	cfg.RepoPath = repo
	cfg.StateDir = filepath.Join(repo, ".sweepguard")
	cfg.Mode = mode
	cfg.PollInterval = 20 * time.Millisecond
	require.NoError(t, cfg.Validate())

	log, err := audit.NewLogger(audit.InMemoryConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	git := newFakeGit()
	orch, err := New(&cfg, Options{Git: git, Audit: log})
	require.NoError(t, err)

	return &harness{orch: orch, cfg: &cfg, git: git, log: log, repo: repo}
}

// oldBackup writes a backup file aged past the minimum deletion age.
func (h *harness) oldBackup(t *testing.T, name, content string) candidate.Candidate {
	t.Helper()
	path := filepath.Join(h.repo, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	old := time.Now().Add(-30 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	info, err := os.Stat(path)
	require.NoError(t, err)
	return candidate.Candidate{
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Class:   candidate.Classify(name),
	}
}

func TestRun_AutoDeletesSafeCandidates(t *testing.T) {
	h := newHarness(t, config.ModeAuto)
	c := h.oldBackup(t, "scratch.tmp.bak", "temp data")

	report, err := h.orch.Run(context.Background(), []candidate.Candidate{c})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, report.Status)
	assert.NotEmpty(t, report.SessionID)
	assert.NotEmpty(t, report.RecoveryPointID)
	require.Len(t, report.Decisions, 1)
	assert.Equal(t, decision.StateExecuted, report.Decisions[0].State)
	assert.Equal(t, 1, report.Summary.Executed)

	_, serr := os.Stat(c.Path)
	assert.True(t, os.IsNotExist(serr), "executed candidate must be deleted")

	// The deletion must be recoverable.
	result, err := h.orch.RecoveryPoints().Restore(context.Background(), report.RecoveryPointID, nil, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"scratch.tmp.bak"}, result.Restored)
}

func TestRun_FailedVerificationAbortsBeforeSnapshot(t *testing.T) {
	h := newHarness(t, config.ModeAuto)
	h.git.inProgressOp = "merge"
	c := h.oldBackup(t, "scratch.tmp.bak", "temp data")

	report, err := h.orch.Run(context.Background(), []candidate.Candidate{c})
	require.NoError(t, err)

	assert.Equal(t, StatusFailedVerification, report.Status)
	assert.Empty(t, report.RecoveryPointID, "no snapshot before the verification barrier")
	require.Len(t, report.Decisions, 1)
	assert.Equal(t, decision.StatePreserved, report.Decisions[0].State)

	_, serr := os.Stat(c.Path)
	assert.NoError(t, serr, "aborted run must not delete anything")

	points, err := h.orch.RecoveryPoints().List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestRun_RiskyCandidatePreservedWithoutReviewer(t *testing.T) {
	h := newHarness(t, config.ModeAuto)
	c := h.oldBackup(t, "main.go.bak", "package main")
	h.git.tracked[c.Path] = true
	h.git.logRefs["main.go"] = 5
	c.Tracked = true

	report, err := h.orch.Run(context.Background(), []candidate.Candidate{c})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, report.Status)
	require.Len(t, report.Decisions, 1)
	assert.Equal(t, decision.StatePreserved, report.Decisions[0].State)

	_, serr := os.Stat(c.Path)
	assert.NoError(t, serr)
}

func TestRun_DryRunDeletesNothing(t *testing.T) {
	h := newHarness(t, config.ModeDryRun)
	a := h.oldBackup(t, "a.tmp.bak", "a")
	b := h.oldBackup(t, "b.tmp.bak", "b")

	report, err := h.orch.Run(context.Background(), []candidate.Candidate{a, b})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, report.Status)
	assert.Equal(t, 0, report.Summary.Executed)
	assert.Equal(t, 2, report.Summary.Preserved)
	for _, d := range report.Decisions {
		assert.Equal(t, decision.StatePreserved, d.State)
		assert.Equal(t, "dry_run", d.Reason)
	}

	_, err = os.Stat(a.Path)
	assert.NoError(t, err)
	_, err = os.Stat(b.Path)
	assert.NoError(t, err)
}

func TestRun_EmergencySentinelAbortsRun(t *testing.T) {
	h := newHarness(t, config.ModeAuto)
	c := h.oldBackup(t, "x.tmp.bak", "x")

	// Sentinel present before the run starts: nothing may execute.
	sentinel := filepath.Join(h.repo, ".sweepguard", "EMERGENCY_STOP")
	require.NoError(t, os.MkdirAll(filepath.Dir(sentinel), 0755))
	require.NoError(t, os.WriteFile(sentinel, nil, 0644))

	report, err := h.orch.Run(context.Background(), []candidate.Candidate{c})
	require.NoError(t, err)

	assert.Equal(t, StatusAbortedEmergency, report.Status)
	assert.Equal(t, 0, report.Summary.Executed)
	_, serr := os.Stat(c.Path)
	assert.NoError(t, serr, "emergency stop must preserve every candidate")
}

func TestRun_EveryCandidateDecidedExactlyOnce(t *testing.T) {
	h := newHarness(t, config.ModeDryRun)

	names := []string{"d/a.tmp.bak", "c.tmp.bak", "b/b.tmp.bak", "a.tmp.bak"}
	batch := make([]candidate.Candidate, 0, len(names))
	for _, n := range names {
		batch = append(batch, h.oldBackup(t, n, n))
	}

	report, err := h.orch.Run(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, report.Decisions, len(batch))

	seen := make(map[string]bool)
	for i, d := range report.Decisions {
		assert.False(t, seen[d.Path], "duplicate decision for %s", d.Path)
		seen[d.Path] = true
		assert.True(t, d.State.Terminal(), "decision for %s is not terminal", d.Path)
		if i > 0 {
			assert.Less(t, report.Decisions[i-1].Path, d.Path, "decisions must be ordered by path")
		}
	}

	// The report must be stable under re-marshaling.
	first, err := json.Marshal(report)
	require.NoError(t, err)
	second, err := json.Marshal(report)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRun_AuditTrailCoversSession(t *testing.T) {
	h := newHarness(t, config.ModeAuto)
	c := h.oldBackup(t, "y.tmp.bak", "y")

	report, err := h.orch.Run(context.Background(), []candidate.Candidate{c})
	require.NoError(t, err)

	entries, err := h.log.ListSession(report.SessionID)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	phases := make(map[audit.Phase]bool)
	for _, entry := range entries {
		phases[entry.Phase] = true
	}
	for _, want := range []audit.Phase{
		audit.PhaseSessionStart,
		audit.PhaseVerification,
		audit.PhaseRecoveryPoint,
		audit.PhaseRiskScoring,
		audit.PhaseDecision,
		audit.PhaseSessionEnd,
	} {
		assert.True(t, phases[want], "missing audit phase %s", want)
	}

	assert.Equal(t, audit.PhaseSessionStart, entries[0].Phase)
	assert.Equal(t, audit.PhaseSessionEnd, entries[len(entries)-1].Phase)
}
