// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/triage/services/diagnose/patterns"
)

// Snapshotter persists the store on a fixed cadence, asynchronously
// relative to matching.
//
// # Description
//
// Runs a background goroutine that saves a snapshot every interval.
// SaveNow forces an immediate save; concurrent SaveNow calls coalesce
// into a single write through singleflight. A failed save is logged and
// surfaced to the SaveNow caller but never rolls back in-memory state.
//
// # Thread Safety
//
// Safe for concurrent use after creation.
type Snapshotter struct {
	store    *patterns.Store
	snaps    *SnapshotStore
	interval time.Duration
	logger   *slog.Logger

	group    singleflight.Group
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewSnapshotter creates a snapshotter.
//
// # Inputs
//
//   - store: The pattern store to persist. Must not be nil.
//   - snaps: The snapshot store. Must not be nil.
//   - interval: Save cadence. Must be positive.
//   - logger: Structured logger. Nil means slog.Default().
//
// # Outputs
//
//   - *Snapshotter: Not started until Start() is called.
//   - error: Non-nil if inputs are invalid.
func NewSnapshotter(store *patterns.Store, snaps *SnapshotStore, interval time.Duration, logger *slog.Logger) (*Snapshotter, error) {
	if store == nil {
		return nil, errors.New("store must not be nil")
	}
	if snaps == nil {
		return nil, errors.New("snapshot store must not be nil")
	}
	if interval <= 0 {
		return nil, errors.New("interval must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Snapshotter{
		store:    store,
		snaps:    snaps,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins periodic snapshotting.
func (s *Snapshotter) Start() {
	go s.run()
}

// Stop halts periodic snapshotting, writes one final snapshot, and
// waits for the loop to finish. Calling Stop more than once is safe;
// only the first call performs the shutdown.
func (s *Snapshotter) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		<-s.doneCh
		if err := s.SaveNow(context.Background()); err != nil {
			s.logger.Error("final snapshot failed", "error", err)
		}
	})
}

// SaveNow forces an immediate snapshot save.
//
// # Description
//
// Concurrent callers share one underlying save. The snapshot content is
// the store state observed at save time.
//
// # Errors
//
// Returns an error wrapping patterns.ErrPersistence on save failure;
// in-memory state is unaffected.
func (s *Snapshotter) SaveNow(ctx context.Context) error {
	_, err, _ := s.group.Do("save", func() (interface{}, error) {
		return nil, s.snaps.Save(ctx, s.store.Patterns(), s.store.Records())
	})
	return err
}

func (s *Snapshotter) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.SaveNow(context.Background()); err != nil {
				s.logger.Error("periodic snapshot failed", "error", err)
			}
		}
	}
}
