// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Phase identifies where in a cleanup session an entry was recorded.
type Phase string

// Audit phases, in the order a session emits them.
const (
	PhaseSessionStart  Phase = "session_start"
	PhaseVerification  Phase = "verification"
	PhaseRecoveryPoint Phase = "recovery_point"
	PhaseRiskScoring   Phase = "risk_scoring"
	PhasePolicy        Phase = "policy"
	PhaseDecision      Phase = "decision"
	PhaseExecution     Phase = "execution"
	PhaseEmergency     Phase = "emergency"
	PhaseSessionEnd    Phase = "session_end"
)

// ErrClosed is returned when recording to a closed logger.
var ErrClosed = errors.New("audit logger closed")

// Entry is one append-only audit record.
//
// Seq is assigned by the logger's writer goroutine, so entries within a
// session are strictly ordered regardless of which goroutine recorded
// them.
type Entry struct {
	// SessionID ties the entry to one cleanup run.
	SessionID string `json:"session_id"`

	// Seq is the per-session sequence number, assigned at write time.
	Seq uint64 `json:"seq"`

	// Timestamp is when the entry was recorded.
	Timestamp time.Time `json:"timestamp"`

	// Phase is the session phase that produced the entry.
	Phase Phase `json:"phase"`

	// Path is the candidate the entry concerns, empty for
	// session-scoped entries.
	Path string `json:"path,omitempty"`

	// Message is a short human-readable summary.
	Message string `json:"message"`

	// Detail carries structured phase-specific data.
	Detail map[string]any `json:"detail,omitempty"`
}

// encodeEntry serializes an entry for storage.
func encodeEntry(entry *Entry) ([]byte, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("encoding audit entry: %w", err)
	}
	return data, nil
}

// decodeEntry deserializes a stored entry.
func decodeEntry(data []byte, entry *Entry) error {
	if err := json.Unmarshal(data, entry); err != nil {
		return fmt.Errorf("decoding audit entry: %w", err)
	}
	return nil
}
