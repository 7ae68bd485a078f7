// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package recovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/sweepguard/services/safety/candidate"
	"github.com/AleutianAI/sweepguard/services/safety/config"
)

func newTestCoordinator(t *testing.T) (*Coordinator, string) {
	t.Helper()
	repo := t.TempDir()

	cfg := config.DefaultRunConfig()
	cfg.RepoPath = repo
	cfg.StateDir = filepath.Join(t.TempDir(), "state")
	require.NoError(t, cfg.Validate())

	coord, err := NewCoordinator(&cfg, nil, nil)
	require.NoError(t, err)
	return coord, repo
}

func writeTestFile(t *testing.T, path, content string) candidate.Candidate {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	info, err := os.Stat(path)
	require.NoError(t, err)
	return candidate.Candidate{
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Class:   candidate.ClassTemp,
	}
}

func TestCreateAndRestore_RoundTrip(t *testing.T) {
	coord, repo := newTestCoordinator(t)
	ctx := context.Background()

	a := writeTestFile(t, filepath.Join(repo, "data.db.bak"), "database contents")
	b := writeTestFile(t, filepath.Join(repo, "sub", "notes.txt.orig"), "notes")

	point, err := coord.Create(ctx, []candidate.Candidate{a, b})
	require.NoError(t, err)
	require.NotEmpty(t, point.ID)
	assert.True(t, point.Covers("data.db.bak"))
	assert.True(t, point.Covers("sub/notes.txt.orig"))
	require.NoError(t, coord.Verify(point.ID))

	// Simulate the deletion the point protects against.
	require.NoError(t, os.Remove(a.Path))
	require.NoError(t, os.Remove(b.Path))

	result, err := coord.Restore(ctx, point.ID, nil, false)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"data.db.bak", "sub/notes.txt.orig"}, result.Restored)
	assert.Empty(t, result.Conflicts)

	got, err := os.ReadFile(a.Path)
	require.NoError(t, err)
	assert.Equal(t, "database contents", string(got))

	got, err = os.ReadFile(b.Path)
	require.NoError(t, err)
	assert.Equal(t, "notes", string(got))
}

func TestVerify_TamperedManifest(t *testing.T) {
	coord, repo := newTestCoordinator(t)
	ctx := context.Background()

	c := writeTestFile(t, filepath.Join(repo, "a.bak"), "original")
	point, err := coord.Create(ctx, []candidate.Candidate{c})
	require.NoError(t, err)

	// Tamper with the stored manifest.
	manifest := filepath.Join(coord.storeDir, point.ID, manifestName)
	data, err := os.ReadFile(manifest)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(manifest, append(data, ' '), 0644))

	err = coord.Verify(point.ID)
	assert.ErrorIs(t, err, ErrCorruptRecoveryPoint)

	// A restore from a corrupt point must not touch the filesystem.
	require.NoError(t, os.WriteFile(c.Path, []byte("live edit"), 0644))
	_, err = coord.Restore(ctx, point.ID, nil, false)
	assert.ErrorIs(t, err, ErrCorruptRecoveryPoint)

	got, err := os.ReadFile(c.Path)
	require.NoError(t, err)
	assert.Equal(t, "live edit", string(got))
}

func TestVerify_NotFound(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	assert.ErrorIs(t, coord.Verify("no-such-point"), ErrNotFound)
}

func TestRestore_ConflictOnNewerFile(t *testing.T) {
	coord, repo := newTestCoordinator(t)
	ctx := context.Background()

	c := writeTestFile(t, filepath.Join(repo, "cfg.yaml.bak"), "v1")
	point, err := coord.Create(ctx, []candidate.Candidate{c})
	require.NoError(t, err)

	// Modify the file after the point was taken.
	future := point.CreatedAt.Add(time.Hour)
	require.NoError(t, os.WriteFile(c.Path, []byte("v2 newer"), 0644))
	require.NoError(t, os.Chtimes(c.Path, future, future))

	result, err := coord.Restore(ctx, point.ID, nil, false)
	require.NoError(t, err)
	assert.Empty(t, result.Restored)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, "cfg.yaml.bak", result.Conflicts[0].Path)

	got, err := os.ReadFile(c.Path)
	require.NoError(t, err)
	assert.Equal(t, "v2 newer", string(got), "conflicting file must not be overwritten")

	// Force overrides the refusal.
	result, err = coord.Restore(ctx, point.ID, nil, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"cfg.yaml.bak"}, result.Restored)

	got, err = os.ReadFile(c.Path)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(got))
}

func TestRestore_ForceBypassesCorruptionOnly(t *testing.T) {
	coord, repo := newTestCoordinator(t)
	ctx := context.Background()

	c := writeTestFile(t, filepath.Join(repo, "z.bak"), "payload")
	point, err := coord.Create(ctx, []candidate.Candidate{c})
	require.NoError(t, err)

	manifest := filepath.Join(coord.storeDir, point.ID, manifestName)
	data, err := os.ReadFile(manifest)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(manifest, append(data, ' '), 0644))
	require.ErrorIs(t, coord.Verify(point.ID), ErrCorruptRecoveryPoint)

	require.NoError(t, os.Remove(c.Path))
	result, err := coord.Restore(ctx, point.ID, nil, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"z.bak"}, result.Restored)

	// A missing point stays fatal even when forced.
	_, err = coord.Restore(ctx, "no-such-point", nil, true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRestore_SelectivePatterns(t *testing.T) {
	coord, repo := newTestCoordinator(t)
	ctx := context.Background()

	a := writeTestFile(t, filepath.Join(repo, "a.log.bak"), "a")
	b := writeTestFile(t, filepath.Join(repo, "b.db.bak"), "b")
	point, err := coord.Create(ctx, []candidate.Candidate{a, b})
	require.NoError(t, err)

	require.NoError(t, os.Remove(a.Path))
	require.NoError(t, os.Remove(b.Path))

	result, err := coord.Restore(ctx, point.ID, []string{"*.db.bak"}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.db.bak"}, result.Restored)

	_, err = os.Stat(a.Path)
	assert.True(t, os.IsNotExist(err), "unmatched file must stay deleted")
	_, err = os.Stat(b.Path)
	assert.NoError(t, err)
}

func TestCreate_OversizeInventoriedNotCopied(t *testing.T) {
	coord, repo := newTestCoordinator(t)
	coord.maxBytes = 4
	ctx := context.Background()

	big := writeTestFile(t, filepath.Join(repo, "huge.tar.bak"), "well over four bytes")
	point, err := coord.Create(ctx, []candidate.Candidate{big})
	require.NoError(t, err)

	entry, ok := point.Files["huge.tar.bak"]
	require.True(t, ok)
	assert.False(t, entry.Snapshotted)
	assert.NotEmpty(t, entry.Hash, "oversize files are still hashed for the inventory")

	require.NoError(t, os.Remove(big.Path))
	result, err := coord.Restore(ctx, point.ID, nil, false)
	require.NoError(t, err)
	assert.Empty(t, result.Restored)
	assert.Equal(t, []string{"huge.tar.bak"}, result.SkippedNoContent)
}

func TestList_NewestFirst(t *testing.T) {
	coord, repo := newTestCoordinator(t)
	ctx := context.Background()

	c := writeTestFile(t, filepath.Join(repo, "x.bak"), "x")
	first, err := coord.Create(ctx, []candidate.Candidate{c})
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	second, err := coord.Create(ctx, []candidate.Candidate{c})
	require.NoError(t, err)

	points, err := coord.List(ctx)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, second.ID, points[0].ID)
	assert.Equal(t, first.ID, points[1].ID)
}

func TestEmergencyRestore(t *testing.T) {
	t.Run("no points", func(t *testing.T) {
		coord, _ := newTestCoordinator(t)
		_, err := coord.EmergencyRestore(context.Background())
		assert.ErrorIs(t, err, ErrNoRecoveryPoints)
	})

	t.Run("skips corrupt, restores most recent valid", func(t *testing.T) {
		coord, repo := newTestCoordinator(t)
		ctx := context.Background()

		c := writeTestFile(t, filepath.Join(repo, "y.bak"), "good")
		valid, err := coord.Create(ctx, []candidate.Candidate{c})
		require.NoError(t, err)

		time.Sleep(10 * time.Millisecond)
		require.NoError(t, os.WriteFile(c.Path, []byte("bad"), 0644))
		corrupt, err := coord.Create(ctx, []candidate.Candidate{c})
		require.NoError(t, err)
		manifest := filepath.Join(coord.storeDir, corrupt.ID, manifestName)
		data, err := os.ReadFile(manifest)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(manifest, append(data, '!'), 0644))

		require.NoError(t, os.Remove(c.Path))
		result, err := coord.EmergencyRestore(ctx)
		require.NoError(t, err)
		assert.Equal(t, valid.ID, result.PointID)

		got, err := os.ReadFile(c.Path)
		require.NoError(t, err)
		assert.Equal(t, "good", string(got))
	})
}
