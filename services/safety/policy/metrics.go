// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package policy

import (
	"context"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for policy metrics.
var meter = otel.Meter("sweepguard.policy")

// Metric instruments for policy evaluation and the emergency stop.
var (
	violationsTotal     metric.Int64Counter
	emergencyStopsTotal metric.Int64Counter

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
		var err error

		violationsTotal, err = meter.Int64Counter(
			"policy_violations_total",
			metric.WithDescription("Total number of policy violations by policy"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		emergencyStopsTotal, err = meter.Int64Counter(
			"emergency_stops_total",
			metric.WithDescription("Total number of emergency-stop triggers"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordViolation records one policy violation.
func recordViolation(ctx context.Context, policyID string, blocking bool) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	violationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("policy", policyID),
		attribute.Bool("blocking", blocking),
	))
}

// recordEmergencyStop records an emergency-stop trigger.
func recordEmergencyStop(ctx context.Context) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	emergencyStopsTotal.Add(ctx, 1)
}
