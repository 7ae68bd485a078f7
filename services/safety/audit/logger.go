// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package audit provides the append-only audit trail for cleanup
// sessions, backed by an embedded BadgerDB store.
//
// Every consequential event in a session is recorded before the
// session's report is returned: verification results, recovery-point
// creation, risk scores, policy violations, decisions, executions, and
// emergency stops. Entries are never updated or deleted.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// keyPrefix namespaces audit keys in the store.
const keyPrefix = "audit/"

// Config holds configuration for the audit store.
type Config struct {
	// Path is the directory for store files.
	// Required unless InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	// Default: true for production, false for testing.
	SyncWrites bool

	// Logger is the logger for store operations.
	// If nil, the store's internal logging is disabled.
	Logger *slog.Logger
}

// DefaultConfig returns production defaults: persistent, synchronous
// writes.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns configuration for testing.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// request is what flows through the writer queue: either an entry to
// append or a flush marker.
type request struct {
	entry *Entry
	flush chan error
}

// Logger is the append-only audit logger.
//
// # Description
//
// A single writer goroutine drains a queue and assigns per-session
// sequence numbers at write time, so entries are strictly ordered even
// when recorded from concurrent workers. Flush blocks until everything
// queued before it is durably written; the orchestrator flushes before
// returning a session report.
//
// # Thread Safety
//
// Safe for concurrent use.
type Logger struct {
	db     *badger.DB
	logger *slog.Logger

	queue  chan request
	doneWg sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	seqs      map[string]uint64
	appendErr error
}

// NewLogger opens the audit store and starts the writer goroutine.
//
// # Inputs
//
//   - cfg: Store configuration. Path is required unless InMemory.
//   - logger: Logger for audit events. If nil, uses slog.Default().
//
// # Outputs
//
//   - *Logger: Running logger. Caller must call Close when done.
//   - error: Non-nil if the store cannot be opened.
func NewLogger(cfg Config, logger *slog.Logger) (*Logger, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent audit store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create audit store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}

	l := &Logger{
		db:     db,
		logger: logger.With(slog.String("component", "audit.Logger")),
		queue:  make(chan request, 256),
		seqs:   make(map[string]uint64),
	}
	l.doneWg.Add(1)
	go l.writeLoop()
	return l, nil
}

// Record queues an audit entry for appending.
//
// # Description
//
// Seq and Timestamp are assigned by the writer; callers fill in
// SessionID, Phase, Path, Message, and Detail. Record blocks only when
// the queue is full.
//
// # Outputs
//
//   - error: ErrClosed if the logger has been closed, or ctx.Err().
func (l *Logger) Record(ctx context.Context, entry Entry) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.mu.Unlock()

	select {
	case l.queue <- request{entry: &entry}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush blocks until every entry queued before the call is durably
// written.
//
// The flush marker travels the same queue as entries, so ordering is
// preserved. A failed append anywhere earlier in the logger's life
// surfaces here: an incomplete trail must fail the session, not pass
// silently.
func (l *Logger) Flush(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.mu.Unlock()

	done := make(chan error, 1)
	select {
	case l.queue <- request{flush: done}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes pending entries, stops the writer, and closes the store.
func (l *Logger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	close(l.queue)
	l.doneWg.Wait()
	return l.db.Close()
}

// writeLoop is the single writer goroutine.
func (l *Logger) writeLoop() {
	defer l.doneWg.Done()

	for req := range l.queue {
		if req.flush != nil {
			// Everything queued before the marker has been written.
			err := l.db.Sync()
			l.mu.Lock()
			if err == nil && l.appendErr != nil {
				err = l.appendErr
			}
			l.mu.Unlock()
			req.flush <- err
			continue
		}
		if err := l.append(req.entry); err != nil {
			l.logger.Error("audit append failed",
				slog.String("session", req.entry.SessionID),
				slog.String("phase", string(req.entry.Phase)),
				slog.Any("error", err),
			)
			l.mu.Lock()
			if l.appendErr == nil {
				l.appendErr = fmt.Errorf("audit trail incomplete: %w", err)
			}
			l.mu.Unlock()
		}
	}
}

// append assigns the sequence number and writes one entry.
func (l *Logger) append(entry *Entry) error {
	l.mu.Lock()
	l.seqs[entry.SessionID]++
	entry.Seq = l.seqs[entry.SessionID]
	l.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	data, err := encodeEntry(entry)
	if err != nil {
		return err
	}

	key := entryKey(entry.SessionID, entry.Seq)
	return l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// ListSession returns all entries for a session in sequence order.
//
// # Description
//
// Reads back the audit trail for post-hoc review. Keys embed the
// zero-padded sequence number, so iteration order is sequence order.
func (l *Logger) ListSession(sessionID string) ([]Entry, error) {
	prefix := []byte(keyPrefix + sessionID + "/")

	var entries []Entry
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var entry Entry
			err := it.Item().Value(func(val []byte) error {
				return decodeEntry(val, &entry)
			})
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading session %s: %w", sessionID, err)
	}
	return entries, nil
}

// entryKey builds the store key. The sequence is zero-padded so
// lexicographic key order matches numeric order.
func entryKey(sessionID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%012d", keyPrefix, sessionID, seq))
}
