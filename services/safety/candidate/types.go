// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package candidate defines the immutable description of a backup file
// under consideration for deletion.
//
// Candidates are supplied once per run by the discovery scan and are
// consumed read-only by every downstream engine.
package candidate

import (
	"time"
)

// FileClass categorizes the original file a backup was taken from.
type FileClass string

// File classes, ordered roughly by how painful an accidental loss is.
const (
	ClassSource  FileClass = "source"
	ClassConfig  FileClass = "config"
	ClassData    FileClass = "data"
	ClassDocs    FileClass = "docs"
	ClassTemp    FileClass = "temp"
	ClassUnknown FileClass = "unknown"
)

// Candidate is a backup file under consideration for deletion.
//
// # Description
//
// Candidate carries the static attributes captured at discovery time.
// It is immutable once constructed; engines never write to it.
//
// # Thread Safety
//
// Candidate is safe to share across goroutines because it is never
// mutated after discovery.
type Candidate struct {
	// Path is the absolute path to the backup file.
	Path string `json:"path"`

	// Size is the file size in bytes at discovery time.
	Size int64 `json:"size"`

	// ModTime is the file's modification timestamp at discovery time.
	ModTime time.Time `json:"mod_time"`

	// Class is the inferred class of the original file.
	Class FileClass `json:"class"`

	// Tracked is true if the file is under version control.
	Tracked bool `json:"tracked"`

	// Signature is the SHA-256 hex digest of the file content.
	// Empty if the file could not be read at discovery time.
	Signature string `json:"signature,omitempty"`
}

// Age returns how old the candidate is relative to now.
func (c Candidate) Age(now time.Time) time.Duration {
	return now.Sub(c.ModTime)
}

// AgeDays returns the candidate age in fractional days.
func (c Candidate) AgeDays(now time.Time) float64 {
	return c.Age(now).Hours() / 24
}
