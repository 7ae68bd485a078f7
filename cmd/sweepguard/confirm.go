// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/AleutianAI/sweepguard/services/safety/decision"
)

// stdinPrompter answers confirmation and review prompts from a reader,
// usually the terminal. Prompts are serialized: concurrent decisions
// take turns on the one input stream.
type stdinPrompter struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

func newStdinConfirmer(in io.Reader, out io.Writer) *stdinPrompter {
	return &stdinPrompter{in: bufio.NewReader(in), out: out}
}

// newStdinReviewer shares the implementation; reviews just carry a
// different prompt.
func newStdinReviewer(in io.Reader, out io.Writer) *stdinPrompter {
	return newStdinConfirmer(in, out)
}

// Confirm asks for a yes/no answer, defaulting to no. The context
// deadline is the confirmation timeout; expiry counts as a decline.
func (p *stdinPrompter) Confirm(ctx context.Context, d *decision.Decision) (bool, error) {
	return p.ask(ctx, fmt.Sprintf("Delete %s (score %.2f, %s)? [y/N] ", d.RelPath, d.Score, d.Level))
}

// Review asks for an explicit approval of a flagged candidate.
func (p *stdinPrompter) Review(ctx context.Context, d *decision.Decision) (bool, error) {
	reasons := make([]string, 0, len(d.Violations))
	for _, v := range d.Violations {
		reasons = append(reasons, v.PolicyID)
	}
	prompt := fmt.Sprintf("MANUAL REVIEW %s (score %.2f, %s)", d.RelPath, d.Score, d.Level)
	if len(reasons) > 0 {
		prompt += " [" + strings.Join(reasons, ", ") + "]"
	}
	return p.ask(ctx, prompt+": delete anyway? [y/N] ")
}

// ask reads one line, honoring ctx. A blocked read outlives the
// deadline but its answer is discarded.
func (p *stdinPrompter) ask(ctx context.Context, prompt string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprint(p.out, prompt)

	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := p.in.ReadString('\n')
		ch <- answer{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(p.out, "(timed out, keeping file)")
		return false, ctx.Err()
	case a := <-ch:
		if a.err != nil && a.line == "" {
			return false, a.err
		}
		switch strings.ToLower(strings.TrimSpace(a.line)) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	}
}

var (
	_ decision.Confirmer = (*stdinPrompter)(nil)
	_ decision.Reviewer  = (*stdinPrompter)(nil)
)

// approveAll answers yes to every confirmation prompt. Used by --yes;
// manual reviews still go through the interactive reviewer.
type approveAll struct{}

func (approveAll) Confirm(context.Context, *decision.Decision) (bool, error) {
	return true, nil
}

var _ decision.Confirmer = approveAll{}
