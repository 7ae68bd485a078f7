// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gitstate provides read-only version-control queries used by the
// safety engines: in-progress operation detection, working-tree status,
// tracked-file checks, and history/reflog searches.
//
// All operations shell out to the git command line. Nothing in this
// package mutates repository state.
package gitstate

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Client is the version-control query surface consumed by the safety
// engines. Implementations must be read-only and safe for concurrent use.
type Client interface {
	// IsRepository reports whether the path is inside a git repository.
	IsRepository(ctx context.Context) bool

	// HasOperationInProgress reports whether a merge, rebase, or
	// cherry-pick is currently in progress.
	HasOperationInProgress(ctx context.Context) (bool, string)

	// Status returns the parsed working-tree status.
	Status(ctx context.Context) (*Status, error)

	// IsTracked reports whether the path is tracked by git.
	IsTracked(ctx context.Context, path string) bool

	// HeadSHA returns the full SHA of HEAD.
	HeadSHA(ctx context.Context) (string, error)

	// CurrentBranch returns the current branch name, or "HEAD" when detached.
	CurrentBranch(ctx context.Context) (string, error)

	// BranchNames returns all local branch names.
	BranchNames(ctx context.Context) ([]string, error)

	// SearchLog counts commits within the lookback window whose subject
	// mentions the term.
	SearchLog(ctx context.Context, term string, lookback time.Duration) (int, error)

	// SearchReflog counts reflog entries mentioning the term, inspecting
	// at most maxEntries recent entries.
	SearchReflog(ctx context.Context, term string, maxEntries int) (int, error)
}

// DefaultClient implements Client using the git command line.
//
// # Description
//
// Executes git commands with a per-operation timeout in the configured
// repository path. All queries are read-only.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type DefaultClient struct {
	repoPath string
	timeout  time.Duration
}

// NewClient creates a read-only git client for the specified repository.
//
// # Inputs
//
//   - repoPath: Absolute path to the git repository.
//   - timeout: Maximum duration for each git operation. Defaults to 30s.
//
// # Outputs
//
//   - *DefaultClient: Ready-to-use client.
//   - error: Non-nil if repoPath is not absolute.
func NewClient(repoPath string, timeout time.Duration) (*DefaultClient, error) {
	if !filepath.IsAbs(repoPath) {
		return nil, fmt.Errorf("repoPath must be absolute: %s", repoPath)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &DefaultClient{repoPath: repoPath, timeout: timeout}, nil
}

// run executes a git command and returns stdout.
func (g *DefaultClient) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.repoPath

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("git %s: timeout after %v", args[0], g.timeout)
		}
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, stderr.String())
	}

	return strings.TrimSpace(stdout.String()), nil
}

// runSilent executes a git command and returns only success/failure.
func (g *DefaultClient) runSilent(ctx context.Context, args ...string) error {
	_, err := g.run(ctx, args...)
	return err
}

// IsRepository reports whether the path is inside a git repository.
func (g *DefaultClient) IsRepository(ctx context.Context) bool {
	return g.runSilent(ctx, "rev-parse", "--git-dir") == nil
}

// gitDirFile checks for the existence of a file inside the .git directory.
func (g *DefaultClient) gitDirFile(ctx context.Context, names ...string) bool {
	gitDir, err := g.run(ctx, "rev-parse", "--git-dir")
	if err != nil {
		return false
	}
	for _, name := range names {
		if _, err := os.Stat(filepath.Join(g.repoPath, gitDir, name)); err == nil {
			return true
		}
	}
	return false
}

// HasOperationInProgress reports whether a merge, rebase, or cherry-pick
// is currently in progress.
//
// # Description
//
// Checks the repository's .git directory for MERGE_HEAD,
// rebase-merge/rebase-apply, and CHERRY_PICK_HEAD markers.
//
// # Outputs
//
//   - bool: True if an operation is in progress.
//   - string: The operation name ("merge", "rebase", "cherry-pick"),
//     empty when none.
func (g *DefaultClient) HasOperationInProgress(ctx context.Context) (bool, string) {
	if g.gitDirFile(ctx, "MERGE_HEAD") {
		return true, "merge"
	}
	if g.gitDirFile(ctx, "rebase-merge", "rebase-apply") {
		return true, "rebase"
	}
	if g.gitDirFile(ctx, "CHERRY_PICK_HEAD") {
		return true, "cherry-pick"
	}
	return false, ""
}

// Status parses `git status --porcelain` into a structured Status.
func (g *DefaultClient) Status(ctx context.Context) (*Status, error) {
	branch, err := g.CurrentBranch(ctx)
	if err != nil {
		return nil, err
	}

	output, err := g.run(ctx, "status", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("getting status: %w", err)
	}

	return parsePorcelainStatus(branch, output), nil
}

// parsePorcelainStatus parses `git status --porcelain` output.
//
// Format: XY filename, where X is the index status and Y the worktree
// status. Untracked files are marked "??".
func parsePorcelainStatus(branch, output string) *Status {
	status := &Status{Branch: branch, IsClean: output == ""}
	if output == "" {
		return status
	}

	for _, line := range strings.Split(output, "\n") {
		if len(line) < 3 {
			continue
		}
		x, y := line[0], line[1]
		file := strings.TrimSpace(line[3:])

		if x != ' ' && x != '?' {
			status.StagedFiles = append(status.StagedFiles, file)
		}
		if y != ' ' && y != '?' {
			status.ModifiedFiles = append(status.ModifiedFiles, file)
		}
		if x == '?' && y == '?' {
			status.UntrackedFiles = append(status.UntrackedFiles, file)
		}
	}

	return status
}

// IsTracked reports whether the path is tracked by git.
func (g *DefaultClient) IsTracked(ctx context.Context, path string) bool {
	rel := path
	if filepath.IsAbs(path) {
		r, err := filepath.Rel(g.repoPath, path)
		if err != nil {
			return false
		}
		rel = r
	}
	return g.runSilent(ctx, "ls-files", "--error-unmatch", "--", rel) == nil
}

// HeadSHA returns the full SHA of HEAD.
func (g *DefaultClient) HeadSHA(ctx context.Context) (string, error) {
	sha, err := g.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("resolving HEAD: %w", err)
	}
	return sha, nil
}

// CurrentBranch returns the current branch name, or "HEAD" when detached.
func (g *DefaultClient) CurrentBranch(ctx context.Context) (string, error) {
	branch, err := g.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("getting current branch: %w", err)
	}
	return branch, nil
}

// BranchNames returns all local branch names.
func (g *DefaultClient) BranchNames(ctx context.Context) ([]string, error) {
	output, err := g.run(ctx, "branch", "--format=%(refname:short)")
	if err != nil {
		return nil, fmt.Errorf("listing branches: %w", err)
	}
	if output == "" {
		return nil, nil
	}
	return strings.Split(output, "\n"), nil
}

// SearchLog counts commits within the lookback window whose subject
// mentions the term.
//
// # Description
//
// Uses `git log --grep` with a fixed-string, case-insensitive match
// over commit subjects since the lookback horizon.
//
// # Inputs
//
//   - term: Search term, matched literally.
//   - lookback: How far back in history to search.
//
// # Outputs
//
//   - int: Number of matching commits.
//   - error: Non-nil if the log query fails.
func (g *DefaultClient) SearchLog(ctx context.Context, term string, lookback time.Duration) (int, error) {
	since := time.Now().Add(-lookback).Format("2006-01-02")
	output, err := g.run(ctx,
		"log", "--oneline", "--fixed-strings", "-i",
		"--grep", term, "--since", since)
	if err != nil {
		return 0, fmt.Errorf("searching log for %q: %w", term, err)
	}
	if output == "" {
		return 0, nil
	}
	return len(strings.Split(output, "\n")), nil
}

// SearchReflog counts reflog entries mentioning the term.
//
// # Inputs
//
//   - term: Search term, matched case-insensitively.
//   - maxEntries: Maximum number of recent reflog entries to inspect.
//
// # Outputs
//
//   - int: Number of matching entries.
//   - error: Non-nil if the reflog query fails. A repository without a
//     reflog (fresh clone) returns 0 and no error.
func (g *DefaultClient) SearchReflog(ctx context.Context, term string, maxEntries int) (int, error) {
	if maxEntries <= 0 {
		maxEntries = 100
	}
	output, err := g.run(ctx, "reflog", "-n", strconv.Itoa(maxEntries))
	if err != nil {
		// A repo with no commits has no reflog; treat as no references.
		if strings.Contains(err.Error(), "does not have any commits") ||
			strings.Contains(err.Error(), "unknown revision") {
			return 0, nil
		}
		return 0, fmt.Errorf("reading reflog: %w", err)
	}

	count := 0
	lowered := strings.ToLower(term)
	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(strings.ToLower(line), lowered) {
			count++
		}
	}
	return count, nil
}

// Compile-time interface check
var _ Client = (*DefaultClient)(nil)
