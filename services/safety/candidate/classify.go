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
	"path/filepath"
	"regexp"
	"strings"
)

// backupSuffixes are suffixes stripped to recover the original filename.
// Order matters: longer suffixes are tried first.
var backupSuffixes = []string{
	".backup", ".bak", ".orig", ".old", ".save", "~",
}

// timestampSuffix matches trailing timestamp fragments left by copy
// tools, e.g. "config.yaml.2025-01-02_150405" or "main.go.20250102".
var timestampSuffix = regexp.MustCompile(`\.\d{4}(-?\d{2}){2}([_T]\d{4,6})?$`)

// sourceExts are extensions treated as source code.
var sourceExts = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".tsx": true,
	".jsx": true, ".java": true, ".rs": true, ".c": true, ".cpp": true,
	".h": true, ".hpp": true, ".rb": true, ".sh": true, ".sql": true,
}

// configExts are extensions treated as configuration.
var configExts = map[string]bool{
	".yaml": true, ".yml": true, ".json": true, ".toml": true,
	".ini": true, ".conf": true, ".cfg": true, ".env": true,
}

// dataExts are extensions treated as data.
var dataExts = map[string]bool{
	".db": true, ".sqlite": true, ".csv": true, ".parquet": true,
	".dump": true, ".dat": true, ".gob": true,
}

// docsExts are extensions treated as documentation.
var docsExts = map[string]bool{
	".md": true, ".rst": true, ".txt": true, ".adoc": true, ".html": true,
}

// tempPrefixes mark scratch files regardless of extension.
var tempPrefixes = []string{"tmp", "temp", "scratch", "#"}

// OriginalName strips backup decorations from a filename.
//
// # Description
//
// Recovers the name of the file the backup was taken from by stripping
// known backup suffixes and trailing timestamp fragments. Stripping is
// repeated until no decoration remains, so "app.conf.bak.2025-01-02"
// resolves to "app.conf".
//
// # Inputs
//
//   - name: Base filename of the backup (not a path).
//
// # Outputs
//
//   - string: The recovered original filename.
func OriginalName(name string) string {
	for {
		stripped := name

		if m := timestampSuffix.FindStringIndex(stripped); m != nil {
			stripped = stripped[:m[0]]
		}

		for _, suffix := range backupSuffixes {
			if strings.HasSuffix(stripped, suffix) && len(stripped) > len(suffix) {
				stripped = strings.TrimSuffix(stripped, suffix)
				break
			}
		}

		if stripped == name {
			return name
		}
		name = stripped
	}
}

// Classify infers the file class from a backup filename.
//
// # Description
//
// Strips backup decorations, then classifies by the original file's
// extension and name. Unrecognized extensions classify as ClassUnknown,
// never as a low-risk class: risk scoring must not assume an
// unclassified file is safe to delete.
//
// # Inputs
//
//   - path: Path or filename of the backup file.
//
// # Outputs
//
//   - FileClass: The inferred class.
func Classify(path string) FileClass {
	name := OriginalName(filepath.Base(path))
	lower := strings.ToLower(name)

	for _, p := range tempPrefixes {
		if strings.HasPrefix(lower, p) {
			return ClassTemp
		}
	}

	ext := strings.ToLower(filepath.Ext(lower))
	switch {
	case sourceExts[ext]:
		return ClassSource
	case configExts[ext]:
		return ClassConfig
	case dataExts[ext]:
		return ClassData
	case docsExts[ext]:
		return ClassDocs
	case ext == ".log" || ext == ".tmp" || ext == ".swp" || ext == ".cache":
		return ClassTemp
	default:
		return ClassUnknown
	}
}
