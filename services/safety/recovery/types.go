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
	"errors"
	"time"
)

// Errors returned by the coordinator.
var (
	// ErrCorruptRecoveryPoint indicates the integrity hash did not match
	// the stored manifest. Restore refuses to proceed without force.
	ErrCorruptRecoveryPoint = errors.New("corrupt recovery point")

	// ErrNotFound indicates no recovery point with the given ID exists.
	ErrNotFound = errors.New("recovery point not found")

	// ErrNoRecoveryPoints indicates no valid recovery point is available
	// for an emergency restore.
	ErrNoRecoveryPoints = errors.New("no valid recovery points")
)

// FileEntry describes one file captured in a recovery point.
type FileEntry struct {
	// Path is the file path relative to the repository root.
	Path string `json:"path"`

	// Size is the file size in bytes at capture time.
	Size int64 `json:"size"`

	// MtimeNano is the modification time at capture, in Unix nanos.
	MtimeNano int64 `json:"mtime_nano"`

	// Hash is the SHA-256 hex digest of the content at capture.
	Hash string `json:"hash"`

	// Snapshotted is true when a content copy was stored. Files above
	// the size ceiling are inventoried but not copied.
	Snapshotted bool `json:"snapshotted"`
}

// GitState snapshots the version-control reference state at capture.
type GitState struct {
	// Head is the SHA of HEAD, empty outside a repository.
	Head string `json:"head,omitempty"`

	// Branch is the current branch, or "HEAD" when detached.
	Branch string `json:"branch,omitempty"`

	// Dirty lists modified or staged files at capture time.
	Dirty []string `json:"dirty,omitempty"`
}

// Point is a durable snapshot taken before any destructive action.
type Point struct {
	// ID uniquely identifies the recovery point.
	ID string `json:"id"`

	// CreatedAt is the capture timestamp.
	CreatedAt time.Time `json:"created_at"`

	// Git is the version-control state at capture.
	Git GitState `json:"git"`

	// Files is the inventory manifest keyed by relative path.
	Files map[string]FileEntry `json:"files"`

	// RetentionUntil is the retention horizon. Reaping past this
	// horizon is handled by an external job.
	RetentionUntil time.Time `json:"retention_until"`
}

// Covers reports whether the point's manifest contains the relative path.
func (p *Point) Covers(relPath string) bool {
	_, ok := p.Files[relPath]
	return ok
}

// Conflict records a file that a selective restore refused to overwrite.
type Conflict struct {
	// Path is the conflicting file, relative to the repository root.
	Path string `json:"path"`

	// Reason explains why the restore was refused.
	Reason string `json:"reason"`
}

// RestoreResult summarizes a restore operation.
type RestoreResult struct {
	// PointID is the restored recovery point.
	PointID string `json:"point_id"`

	// Restored lists files written back, relative to the repo root.
	Restored []string `json:"restored"`

	// Conflicts lists files skipped because they changed after the
	// recovery point was taken. Empty when forced.
	Conflicts []Conflict `json:"conflicts,omitempty"`

	// SkippedNoContent lists inventoried files that had no content
	// snapshot (above the size ceiling).
	SkippedNoContent []string `json:"skipped_no_content,omitempty"`
}
