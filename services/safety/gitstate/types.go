// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gitstate

// Status is the parsed result of `git status --porcelain`.
type Status struct {
	// Branch is the current branch name, or "HEAD" when detached.
	Branch string `json:"branch"`

	// IsClean is true when the working tree has no changes.
	IsClean bool `json:"is_clean"`

	// StagedFiles are files with staged (index) changes.
	StagedFiles []string `json:"staged_files,omitempty"`

	// ModifiedFiles are files with unstaged (worktree) changes.
	ModifiedFiles []string `json:"modified_files,omitempty"`

	// UntrackedFiles are files unknown to git.
	UntrackedFiles []string `json:"untracked_files,omitempty"`
}
