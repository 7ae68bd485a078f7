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
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// EmergencyMonitor watches for the out-of-band emergency-stop trigger.
//
// # Description
//
// The trigger is the presence of a sentinel file. The monitor layers an
// fsnotify watch on the sentinel's directory over a fixed-interval poll,
// so a trigger is observed within the poll interval even on filesystems
// without notification support. On trigger it cancels the run context;
// cancellation fans out to every task, and the atomic Triggered flag is
// consulted before every destructive transition.
//
// # Thread Safety
//
// Safe for concurrent use. Start should only be called once.
type EmergencyMonitor struct {
	sentinelPath string
	interval     time.Duration
	cancelRun    context.CancelFunc
	logger       *slog.Logger

	triggered atomic.Bool
	once      sync.Once
	stopOnce  sync.Once

	stopCh chan struct{}
	doneWg sync.WaitGroup
}

// NewEmergencyMonitor creates an emergency-stop monitor.
//
// # Inputs
//
//   - sentinelPath: The sentinel file whose presence triggers the stop.
//   - interval: Poll interval. Must keep the trigger-to-halt bound
//     under two seconds; the config layer validates this.
//   - cancelRun: Cancellation for the run context. Called exactly once
//     on trigger.
//   - logger: Logger for monitor events. If nil, uses slog.Default().
func NewEmergencyMonitor(sentinelPath string, interval time.Duration, cancelRun context.CancelFunc, logger *slog.Logger) *EmergencyMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &EmergencyMonitor{
		sentinelPath: sentinelPath,
		interval:     interval,
		cancelRun:    cancelRun,
		logger:       logger.With(slog.String("component", "policy.EmergencyMonitor")),
		stopCh:       make(chan struct{}),
	}
}

// Start launches the monitor goroutine.
//
// # Description
//
// Returns immediately. The monitor runs until Stop is called or the
// sentinel triggers. A sentinel already present at start triggers
// immediately.
func (m *EmergencyMonitor) Start() {
	m.doneWg.Add(1)
	go m.run()
}

// run is the monitor loop.
func (m *EmergencyMonitor) run() {
	defer m.doneWg.Done()

	// Check once up front: the sentinel may predate the run.
	if m.sentinelExists() {
		m.trigger("sentinel present at start")
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer watcher.Close()
		dir := filepath.Dir(m.sentinelPath)
		if err := watcher.Add(dir); err != nil {
			m.logger.Debug("sentinel directory watch unavailable, polling only",
				slog.String("dir", dir), slog.Any("error", err))
		}
	} else {
		m.logger.Debug("fsnotify unavailable, polling only", slog.Any("error", err))
		watcher = nil
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	var events chan fsnotify.Event
	if watcher != nil {
		events = watcher.Events
	}

	for {
		select {
		case <-m.stopCh:
			return
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if event.Name == m.sentinelPath && m.sentinelExists() {
				m.trigger("sentinel created")
				return
			}
		case <-ticker.C:
			if m.sentinelExists() {
				m.trigger("sentinel detected by poll")
				return
			}
		}
	}
}

// trigger fires the emergency stop exactly once.
func (m *EmergencyMonitor) trigger(reason string) {
	m.once.Do(func() {
		m.triggered.Store(true)
		m.logger.Warn("emergency stop triggered",
			slog.String("sentinel", m.sentinelPath),
			slog.String("reason", reason),
		)
		recordEmergencyStop(context.Background())
		if m.cancelRun != nil {
			m.cancelRun()
		}
	})
}

// Triggered reports whether the emergency stop has fired.
//
// Decision execution consults this before every destructive transition.
func (m *EmergencyMonitor) Triggered() bool {
	return m.triggered.Load()
}

// Stop terminates the monitor and waits for the loop to exit.
// Idempotent with respect to an already-triggered monitor.
func (m *EmergencyMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.doneWg.Wait()
}

// sentinelExists checks for the sentinel file.
func (m *EmergencyMonitor) sentinelExists() bool {
	_, err := os.Stat(m.sentinelPath)
	return err == nil
}
