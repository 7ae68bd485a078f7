// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package decision

import (
	"context"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for decision metrics.
var meter = otel.Meter("sweepguard.decision")

// Metric instruments for decision outcomes.
var (
	decisionsTotal metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// metricsEnabled controls whether metrics are recorded.
//
// Thread Safety: Uses atomic operations for safe concurrent access.
var metricsEnabled atomic.Bool

func init() {
	metricsEnabled.Store(true)
}

// SetMetricsEnabled controls whether metrics are recorded.
//
// Thread Safety: Safe for concurrent use.
func SetMetricsEnabled(enabled bool) {
	metricsEnabled.Store(enabled)
}

// initMetrics initializes all metric instruments.
// Safe to call multiple times; uses sync.Once internally.
func initMetrics() error {
	metricsOnce.Do(func() {
		decisionsTotal, metricsErr = meter.Int64Counter(
			"decisions_total",
			metric.WithDescription("Total number of terminal decisions by state"),
		)
	})
	return metricsErr
}

// recordDecision records one terminal decision.
func recordDecision(ctx context.Context, state State, reason string) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	decisionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("state", string(state)),
		attribute.String("reason", normalizeReason(reason)),
	))
}

// normalizeReason maps free-form transition reasons to a bounded
// attribute set.
func normalizeReason(reason string) string {
	switch reason {
	case "emergency_stop", "dry_run", "deleted",
		"declined by user", "confirmed by user", "confirmation timed out",
		"preserved by reviewer", "approved by reviewer":
		return reason
	default:
		return "other"
	}
}
