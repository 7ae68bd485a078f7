// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package candidate

import (
	"testing"
	"time"
)

func TestOriginalName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"main.go.bak", "main.go"},
		{"config.yaml.backup", "config.yaml"},
		{"notes.md~", "notes.md"},
		{"app.conf.orig", "app.conf"},
		{"schema.sql.old", "schema.sql"},
		{"data.db.2025-01-02_150405", "data.db"},
		{"app.conf.bak.2025-01-02", "app.conf"},
		{"plain.txt", "plain.txt"},
		{".bak", ".bak"},
	}

	for _, tc := range cases {
		if got := OriginalName(tc.in); got != tc.want {
			t.Errorf("OriginalName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		in   string
		want FileClass
	}{
		{"/repo/main.go.bak", ClassSource},
		{"/repo/config.yaml.backup", ClassConfig},
		{"/repo/data.db.old", ClassData},
		{"/repo/README.md~", ClassDocs},
		{"/repo/debug.log.bak", ClassTemp},
		{"/repo/tmp_upload.bin.bak", ClassTemp},
		{"/repo/mystery.xyz.bak", ClassUnknown},
		{"/repo/binary.bak", ClassUnknown},
	}

	for _, tc := range cases {
		if got := Classify(tc.in); got != tc.want {
			t.Errorf("Classify(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestCandidate_Age(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	c := Candidate{
		Path:    "/repo/main.go.bak",
		ModTime: now.Add(-48 * time.Hour),
	}

	if got := c.Age(now); got != 48*time.Hour {
		t.Errorf("Age = %v, want 48h", got)
	}
	if got := c.AgeDays(now); got != 2.0 {
		t.Errorf("AgeDays = %v, want 2.0", got)
	}
}
