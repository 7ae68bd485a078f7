// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package recovery creates, verifies, and restores recovery points:
// durable snapshots taken before any destructive cleanup action.
//
// A recovery point lives under <stateDir>/recovery/<id>/ as a
// manifest.json, an integrity.sha256 over the manifest bytes, and
// content copies under content/ mirroring repository-relative paths.
// A point must pass integrity verification before any restore uses it.
package recovery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/sweepguard/services/safety/candidate"
	"github.com/AleutianAI/sweepguard/services/safety/config"
	"github.com/AleutianAI/sweepguard/services/safety/gitstate"
)

const (
	manifestName  = "manifest.json"
	integrityName = "integrity.sha256"
	contentDir    = "content"
)

// Coordinator manages the recovery-point store.
//
// # Description
//
// Creation is serialized: a recovery point captures global repository
// state and cannot run concurrently with itself or with deletions.
// Restores verify the integrity hash before touching the filesystem.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Coordinator struct {
	repoRoot  string
	storeDir  string
	git       gitstate.Client
	maxBytes  int64
	retention time.Duration
	logger    *slog.Logger

	// createMu serializes recovery-point creation.
	createMu sync.Mutex
}

// NewCoordinator creates a rollback coordinator.
//
// # Inputs
//
//   - cfg: Immutable run configuration. StateDir and RepoPath must be set.
//   - git: Read-only version-control client; may be nil outside a
//     repository (git state is then omitted from points).
//   - logger: Logger for snapshot events. If nil, uses slog.Default().
//
// # Outputs
//
//   - *Coordinator: Ready-to-use coordinator.
//   - error: Non-nil if the store directory cannot be created.
func NewCoordinator(cfg *config.RunConfig, git gitstate.Client, logger *slog.Logger) (*Coordinator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	stateDir := cfg.StateDir
	if stateDir == "" {
		stateDir = filepath.Join(cfg.RepoPath, ".sweepguard")
	}
	storeDir := filepath.Join(stateDir, "recovery")
	if err := os.MkdirAll(storeDir, 0755); err != nil {
		return nil, fmt.Errorf("creating recovery store: %w", err)
	}

	return &Coordinator{
		repoRoot:  cfg.RepoPath,
		storeDir:  storeDir,
		git:       git,
		maxBytes:  cfg.MaxSnapshotBytes,
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		logger:    logger.With(slog.String("component", "recovery.Coordinator")),
	}, nil
}

// Create captures a recovery point for a batch.
//
// # Description
//
// Captures a file inventory manifest, the current version-control
// reference state, and content copies for files under the size ceiling.
// The manifest and its integrity hash are fsynced before Create
// returns: the point is durable before any deletion in the batch may
// proceed.
//
// # Inputs
//
//   - ctx: Context for git queries and cancellation.
//   - batch: The candidates the point must cover.
//
// # Outputs
//
//   - *Point: The durable recovery point. Never nil on success.
//   - error: Non-nil if any candidate could not be inventoried.
func (c *Coordinator) Create(ctx context.Context, batch []candidate.Candidate) (*Point, error) {
	c.createMu.Lock()
	defer c.createMu.Unlock()

	start := time.Now()
	point := &Point{
		ID:             uuid.NewString(),
		CreatedAt:      start,
		Files:          make(map[string]FileEntry, len(batch)),
		RetentionUntil: start.Add(c.retention),
	}

	if c.git != nil && c.git.IsRepository(ctx) {
		if head, err := c.git.HeadSHA(ctx); err == nil {
			point.Git.Head = head
		}
		if branch, err := c.git.CurrentBranch(ctx); err == nil {
			point.Git.Branch = branch
		}
		if status, err := c.git.Status(ctx); err == nil {
			point.Git.Dirty = append(status.ModifiedFiles, status.StagedFiles...)
		}
	}

	dir := filepath.Join(c.storeDir, point.ID)
	if err := os.MkdirAll(filepath.Join(dir, contentDir), 0755); err != nil {
		return nil, fmt.Errorf("creating point directory: %w", err)
	}

	for _, cand := range batch {
		rel, err := c.relPath(cand.Path)
		if err != nil {
			return nil, err
		}

		info, err := os.Stat(cand.Path)
		if err != nil {
			return nil, fmt.Errorf("inventorying %s: %w", cand.Path, err)
		}

		hash, err := hashFile(cand.Path)
		if err != nil {
			return nil, fmt.Errorf("hashing %s: %w", cand.Path, err)
		}

		entry := FileEntry{
			Path:      rel,
			Size:      info.Size(),
			MtimeNano: info.ModTime().UnixNano(),
			Hash:      hash,
		}

		if c.maxBytes <= 0 || info.Size() <= c.maxBytes {
			dst := filepath.Join(dir, contentDir, filepath.FromSlash(rel))
			if err := copyFileDurable(cand.Path, dst); err != nil {
				return nil, fmt.Errorf("snapshotting %s: %w", cand.Path, err)
			}
			entry.Snapshotted = true
		}

		point.Files[rel] = entry
	}

	if err := c.persist(dir, point); err != nil {
		return nil, err
	}

	c.logger.Info("recovery point created",
		slog.String("id", point.ID),
		slog.Int("files", len(point.Files)),
		slog.Duration("elapsed", time.Since(start)),
	)
	recordPointCreated(ctx, len(point.Files))

	return point, nil
}

// persist writes the manifest and its integrity hash durably.
func (c *Coordinator) persist(dir string, point *Point) error {
	data, err := canonicalManifest(point)
	if err != nil {
		return err
	}

	manifestPath := filepath.Join(dir, manifestName)
	if err := writeFileDurable(manifestPath, data, 0644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}

	sum := sha256.Sum256(data)
	hashPath := filepath.Join(dir, integrityName)
	if err := writeFileDurable(hashPath, []byte(hex.EncodeToString(sum[:])+"\n"), 0644); err != nil {
		return fmt.Errorf("writing integrity hash: %w", err)
	}

	return syncDir(dir)
}

// canonicalManifest marshals a point deterministically. Go marshals
// map keys in sorted order, so equal points produce equal bytes.
func canonicalManifest(point *Point) ([]byte, error) {
	data, err := json.MarshalIndent(point, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling manifest: %w", err)
	}
	return data, nil
}

// List returns all recovery points, newest first.
//
// Corrupt or unreadable points are skipped with a warning; List never
// fails because one point is damaged.
func (c *Coordinator) List(ctx context.Context) ([]*Point, error) {
	entries, err := os.ReadDir(c.storeDir)
	if err != nil {
		return nil, fmt.Errorf("reading recovery store: %w", err)
	}

	var points []*Point
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		point, err := c.load(entry.Name())
		if err != nil {
			c.logger.Warn("skipping unreadable recovery point",
				slog.String("id", entry.Name()), slog.Any("error", err))
			continue
		}
		points = append(points, point)
	}

	sort.Slice(points, func(i, j int) bool {
		return points[i].CreatedAt.After(points[j].CreatedAt)
	})
	return points, nil
}

// load reads a point's manifest without verifying integrity.
func (c *Coordinator) load(id string) (*Point, error) {
	data, err := os.ReadFile(filepath.Join(c.storeDir, id, manifestName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}

	var point Point
	if err := json.Unmarshal(data, &point); err != nil {
		return nil, fmt.Errorf("parsing manifest for %s: %w", id, err)
	}
	return &point, nil
}

// Verify checks a recovery point's integrity hash.
//
// # Description
//
// Recomputes the SHA-256 of the stored manifest bytes and compares it
// to the persisted integrity hash. A point must pass Verify before it
// is used for any restore.
//
// # Outputs
//
//   - error: nil if intact; ErrCorruptRecoveryPoint on mismatch;
//     ErrNotFound if the point does not exist.
func (c *Coordinator) Verify(id string) error {
	dir := filepath.Join(c.storeDir, id)

	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return err
	}

	stored, err := os.ReadFile(filepath.Join(dir, integrityName))
	if err != nil {
		return fmt.Errorf("%w: missing integrity hash for %s", ErrCorruptRecoveryPoint, id)
	}

	sum := sha256.Sum256(data)
	if strings.TrimSpace(string(stored)) != hex.EncodeToString(sum[:]) {
		return fmt.Errorf("%w: integrity hash mismatch for %s", ErrCorruptRecoveryPoint, id)
	}
	return nil
}

// Restore writes a recovery point's content back to the repository.
//
// # Description
//
// Verifies integrity first and fails with ErrCorruptRecoveryPoint on
// mismatch without touching the filesystem, unless force is set. A
// selective restore (patterns non-empty) refuses to overwrite files
// modified after the point's timestamp; such files are returned as
// conflicts instead, unless force is set.
//
// # Inputs
//
//   - ctx: Context for cancellation between files.
//   - id: The recovery point to restore.
//   - patterns: Optional glob patterns over repo-relative paths; empty
//     restores everything.
//   - force: Bypass integrity and conflict refusals.
//
// # Outputs
//
//   - *RestoreResult: What was restored, skipped, and conflicted.
//   - error: Non-nil on integrity failure or I/O error.
func (c *Coordinator) Restore(ctx context.Context, id string, patterns []string, force bool) (*RestoreResult, error) {
	start := time.Now()

	if err := c.Verify(id); err != nil {
		// Force bypasses corruption only; a missing point stays fatal.
		if !force || !errors.Is(err, ErrCorruptRecoveryPoint) {
			return nil, err
		}
		c.logger.Warn("forcing restore of corrupt recovery point", slog.String("id", id))
	}

	point, err := c.load(id)
	if err != nil {
		return nil, err
	}

	result := &RestoreResult{PointID: id}
	dir := filepath.Join(c.storeDir, id)

	paths := make([]string, 0, len(point.Files))
	for rel := range point.Files {
		paths = append(paths, rel)
	}
	sort.Strings(paths)

	for _, rel := range paths {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		if len(patterns) > 0 && !matchAny(patterns, rel) {
			continue
		}

		entry := point.Files[rel]
		if !entry.Snapshotted {
			result.SkippedNoContent = append(result.SkippedNoContent, rel)
			continue
		}

		target := filepath.Join(c.repoRoot, filepath.FromSlash(rel))

		if !force {
			if conflict := c.conflictFor(target, point, entry); conflict != nil {
				result.Conflicts = append(result.Conflicts, *conflict)
				continue
			}
		}

		src := filepath.Join(dir, contentDir, filepath.FromSlash(rel))
		if err := copyFileDurable(src, target); err != nil {
			return result, fmt.Errorf("restoring %s: %w", rel, err)
		}
		result.Restored = append(result.Restored, rel)
	}

	c.logger.Info("recovery point restored",
		slog.String("id", id),
		slog.Int("restored", len(result.Restored)),
		slog.Int("conflicts", len(result.Conflicts)),
	)
	recordRestore(ctx, time.Since(start), len(result.Restored))

	return result, nil
}

// conflictFor detects a file modified after the recovery point was taken.
func (c *Coordinator) conflictFor(target string, point *Point, entry FileEntry) *Conflict {
	info, err := os.Stat(target)
	if err != nil {
		// Deleted or absent: restoring is exactly what is wanted.
		return nil
	}

	if info.ModTime().After(point.CreatedAt) {
		currentHash, err := hashFile(target)
		if err == nil && currentHash != entry.Hash {
			return &Conflict{
				Path:   entry.Path,
				Reason: fmt.Sprintf("modified at %s, after recovery point %s",
					info.ModTime().Format(time.RFC3339), point.CreatedAt.Format(time.RFC3339)),
			}
		}
	}
	return nil
}

// EmergencyRestore restores the most recent valid recovery point.
//
// # Description
//
// Used by the emergency-stop path. Scans points newest-first and
// restores the first one that passes integrity verification.
//
// # Outputs
//
//   - *RestoreResult: The restore outcome.
//   - error: ErrNoRecoveryPoints if nothing valid exists.
func (c *Coordinator) EmergencyRestore(ctx context.Context) (*RestoreResult, error) {
	points, err := c.List(ctx)
	if err != nil {
		return nil, err
	}

	for _, point := range points {
		if err := c.Verify(point.ID); err != nil {
			c.logger.Warn("skipping invalid recovery point during emergency restore",
				slog.String("id", point.ID), slog.Any("error", err))
			continue
		}
		recordEmergencyRestore(ctx)
		return c.Restore(ctx, point.ID, nil, false)
	}

	return nil, ErrNoRecoveryPoints
}

// relPath converts an absolute candidate path to a repo-relative
// slash path.
func (c *Coordinator) relPath(path string) (string, error) {
	rel, err := filepath.Rel(c.repoRoot, path)
	if err != nil {
		return "", fmt.Errorf("relativizing %s: %w", path, err)
	}
	if strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("candidate %s escapes repository root", path)
	}
	return filepath.ToSlash(rel), nil
}

// matchAny reports whether the relative path matches any glob pattern,
// against either the full path or its base name.
func matchAny(patterns []string, rel string) bool {
	base := filepath.Base(rel)
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, rel); ok {
			return true
		}
		if ok, _ := filepath.Match(p, base); ok {
			return true
		}
	}
	return false
}

// hashFile computes the SHA-256 hex digest of a file.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// copyFileDurable copies src to dst, creating parent directories and
// syncing the destination before returning.
func copyFileDurable(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// writeFileDurable writes data and syncs the file before returning.
func writeFileDurable(path string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// syncDir fsyncs a directory so entry creation is durable.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
