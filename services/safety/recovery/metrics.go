// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package recovery

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for recovery metrics.
var meter = otel.Meter("sweepguard.recovery")

// Metric instruments for recovery-point operations.
var (
	pointsCreatedTotal     metric.Int64Counter
	pointFiles             metric.Int64Histogram
	restoreTotal           metric.Int64Counter
	restoreDuration        metric.Float64Histogram
	emergencyRestoresTotal metric.Int64Counter

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

		pointsCreatedTotal, err = meter.Int64Counter(
			"recovery_points_created_total",
			metric.WithDescription("Total number of recovery points created"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		pointFiles, err = meter.Int64Histogram(
			"recovery_point_files",
			metric.WithDescription("Number of files captured per recovery point"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		restoreTotal, err = meter.Int64Counter(
			"recovery_restore_total",
			metric.WithDescription("Total number of restore operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		restoreDuration, err = meter.Float64Histogram(
			"recovery_restore_duration_seconds",
			metric.WithDescription("Duration of restore operations in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		emergencyRestoresTotal, err = meter.Int64Counter(
			"recovery_emergency_restores_total",
			metric.WithDescription("Total number of emergency restores"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordPointCreated records a recovery-point creation.
func recordPointCreated(ctx context.Context, files int) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	pointsCreatedTotal.Add(ctx, 1)
	pointFiles.Record(ctx, int64(files))
}

// recordRestore records a restore operation.
func recordRestore(ctx context.Context, duration time.Duration, files int) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	restoreTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.Int("files", files),
	))
	restoreDuration.Record(ctx, duration.Seconds())
}

// recordEmergencyRestore records an emergency restore.
func recordEmergencyRestore(ctx context.Context) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	emergencyRestoresTotal.Add(ctx, 1)
}
