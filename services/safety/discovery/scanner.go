// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package discovery walks a repository and collects backup-file
// candidates for a cleanup session.
//
// A file is a candidate when stripping backup suffixes changes its
// name: foo.go.bak, config.yaml.orig, notes.txt~, data.db.2024-01-15.
// The scanner computes a content signature per candidate so the risk
// engine can detect duplicates across the batch.
package discovery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/AleutianAI/sweepguard/services/safety/candidate"
	"github.com/AleutianAI/sweepguard/services/safety/gitstate"
)

// skipDirs are directory names never descended into.
var skipDirs = map[string]bool{
	".git":         true,
	".sweepguard":  true,
	"node_modules": true,
}

// Scanner discovers backup-file candidates under a repository root.
//
// # Thread Safety
//
// Safe for concurrent use; Scan holds no state between calls.
type Scanner struct {
	root   string
	git    gitstate.Client
	logger *slog.Logger
}

// NewScanner creates a candidate scanner.
//
// # Inputs
//
//   - root: Repository root to walk.
//   - git: Read-only version-control client for tracked-file checks.
//     May be nil; candidates are then marked untracked.
//   - logger: Logger for scan events. If nil, uses slog.Default().
func NewScanner(root string, git gitstate.Client, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		root:   root,
		git:    git,
		logger: logger.With(slog.String("component", "discovery.Scanner")),
	}
}

// Scan walks the tree and returns every backup-file candidate.
//
// # Description
//
// An unreadable candidate is skipped with a warning rather than
// failing the scan. Results come back in walk order (lexical per
// directory).
//
// # Inputs
//
//   - ctx: Context for cancellation between directory entries.
//
// # Outputs
//
//   - []candidate.Candidate: Discovered candidates with signatures.
//   - error: Non-nil if the root cannot be walked or ctx is cancelled.
func (s *Scanner) Scan(ctx context.Context) ([]candidate.Candidate, error) {
	var found []candidate.Candidate

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		name := d.Name()
		if candidate.OriginalName(name) == name {
			return nil // not a backup file
		}

		c, cerr := s.inspect(ctx, path)
		if cerr != nil {
			s.logger.Warn("skipping unreadable candidate",
				slog.String("path", path), slog.Any("error", cerr))
			return nil
		}
		found = append(found, c)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", s.root, err)
	}

	s.logger.Info("scan complete",
		slog.String("root", s.root),
		slog.Int("candidates", len(found)),
	)
	return found, nil
}

// inspect stats, classifies, and signs one candidate.
func (s *Scanner) inspect(ctx context.Context, path string) (candidate.Candidate, error) {
	info, err := os.Stat(path)
	if err != nil {
		return candidate.Candidate{}, err
	}

	sig, err := signature(path)
	if err != nil {
		return candidate.Candidate{}, err
	}

	tracked := false
	if s.git != nil {
		tracked = s.git.IsTracked(ctx, path)
	}

	return candidate.Candidate{
		Path:      path,
		Size:      info.Size(),
		ModTime:   info.ModTime(),
		Class:     candidate.Classify(path),
		Tracked:   tracked,
		Signature: sig,
	}, nil
}

// signature is the SHA-256 hex digest of the file content.
func signature(path string) (string, error) {
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
