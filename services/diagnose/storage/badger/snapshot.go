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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/triage/services/diagnose/patterns"
)

// SchemaVersion is the current snapshot schema. Loading a snapshot
// written with a different version fails so a future migration step can
// run; it never silently produces an empty store.
const SchemaVersion = 1

// Key layout. The meta key is written last so its absence marks an
// incomplete snapshot.
var (
	keyMeta       = []byte("meta:snapshot")
	prefixPattern = []byte("p:")
	prefixRecord  = []byte("r:")
)

var (
	// ErrSnapshotNotFound indicates the database holds no snapshot at
	// all. Store initialization treats this as "fresh store", unlike a
	// corrupt or schema-mismatched snapshot which is fatal.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrSchemaVersion is returned when snapshot schema versions don't
	// match. Always wrapped alongside patterns.ErrPersistence.
	ErrSchemaVersion = errors.New("snapshot schema version mismatch")
)

// meta is the snapshot header, written last.
type meta struct {
	SchemaVersion int       `json:"schema_version"`
	SavedAt       time.Time `json:"saved_at"`
	Patterns      int       `json:"patterns"`
	Records       int       `json:"records"`
}

// Snapshot is one decoded durable snapshot.
type Snapshot struct {
	// SavedAt is when the snapshot was written.
	SavedAt time.Time

	// Patterns are the persisted pattern records.
	Patterns []patterns.Pattern

	// Records is the persisted learning record log, oldest first.
	Records []patterns.LearningRecord
}

// SnapshotStore reads and writes pattern store snapshots.
//
// # Description
//
// Each pattern and learning record is stored under its own key in JSON,
// with a meta header carrying the schema version. Save rewrites the
// full snapshot; Load decodes it. Save never touches the in-memory
// store, and Load never mutates the database.
//
// # Thread Safety
//
// Safe for concurrent use; BadgerDB serializes conflicting writes.
type SnapshotStore struct {
	db     *badger.DB
	logger *slog.Logger
}

// NewSnapshotStore wraps an open database.
//
// # Inputs
//
//   - db: The snapshot database. Must not be nil.
//   - logger: Structured logger. Nil means slog.Default().
func NewSnapshotStore(db *badger.DB, logger *slog.Logger) *SnapshotStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotStore{db: db, logger: logger}
}

// Save writes a full snapshot of the given patterns and records.
//
// # Description
//
// Deletes the previous meta header, drops the previous snapshot keys,
// writes every pattern and record, and commits a fresh meta header
// last. A save failure is reported but the caller's in-memory state is
// untouched.
//
// # Errors
//
// Returns an error wrapping patterns.ErrPersistence on any write
// failure.
func (s *SnapshotStore) Save(ctx context.Context, ps []patterns.Pattern, records []patterns.LearningRecord) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: save canceled: %v", patterns.ErrPersistence, err)
	}
	start := time.Now()

	// Remove the previous meta before touching data. A crash anywhere
	// between here and the final meta write leaves the database without
	// a header, so Load reports the partial state instead of validating
	// new data against a stale header.
	if err := s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(keyMeta)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	}); err != nil {
		return fmt.Errorf("%w: clear previous meta: %v", patterns.ErrPersistence, err)
	}
	if err := s.db.DropPrefix(prefixPattern, prefixRecord); err != nil {
		return fmt.Errorf("%w: clear previous snapshot: %v", patterns.ErrPersistence, err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for i := range ps {
		data, err := json.Marshal(&ps[i])
		if err != nil {
			return fmt.Errorf("%w: encode pattern %s: %v", patterns.ErrPersistence, ps[i].ID, err)
		}
		if err := wb.Set(patternKey(ps[i].ID), data); err != nil {
			return fmt.Errorf("%w: write pattern %s: %v", patterns.ErrPersistence, ps[i].ID, err)
		}
	}
	for i := range records {
		data, err := json.Marshal(&records[i])
		if err != nil {
			return fmt.Errorf("%w: encode record %d: %v", patterns.ErrPersistence, i, err)
		}
		if err := wb.Set(recordKey(i), data); err != nil {
			return fmt.Errorf("%w: write record %d: %v", patterns.ErrPersistence, i, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("%w: flush snapshot: %v", patterns.ErrPersistence, err)
	}

	// Meta goes in last: its presence marks the snapshot complete.
	header, err := json.Marshal(meta{
		SchemaVersion: SchemaVersion,
		SavedAt:       time.Now().UTC(),
		Patterns:      len(ps),
		Records:       len(records),
	})
	if err != nil {
		return fmt.Errorf("%w: encode meta: %v", patterns.ErrPersistence, err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyMeta, header)
	}); err != nil {
		return fmt.Errorf("%w: write meta: %v", patterns.ErrPersistence, err)
	}

	s.logger.Info("snapshot saved",
		"patterns", len(ps),
		"learning_records", len(records),
		"duration", time.Since(start),
	)
	return nil
}

// Load reads the current snapshot.
//
// # Errors
//
// Returns ErrSnapshotNotFound when the database holds no snapshot at
// all. Any other problem (unreadable keys, undecodable JSON, schema
// version mismatch, meta missing while data exists, data counts that
// disagree with the meta header) wraps patterns.ErrPersistence and is
// fatal to store initialization. A schema version mismatch additionally
// matches ErrSchemaVersion.
func (s *SnapshotStore) Load(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: load canceled: %v", patterns.ErrPersistence, err)
	}

	var snap Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyMeta)
		if errors.Is(err, badger.ErrKeyNotFound) {
			if hasPrefix(txn, prefixPattern) {
				return fmt.Errorf("%w: snapshot data present but meta missing (incomplete save)", patterns.ErrPersistence)
			}
			return ErrSnapshotNotFound
		}
		if err != nil {
			return fmt.Errorf("%w: read meta: %v", patterns.ErrPersistence, err)
		}

		var header meta
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &header)
		}); err != nil {
			return fmt.Errorf("%w: decode meta: %v", patterns.ErrPersistence, err)
		}
		if header.SchemaVersion != SchemaVersion {
			return fmt.Errorf("%w: %w: version %d, expected %d (migrate before loading)",
				patterns.ErrPersistence, ErrSchemaVersion, header.SchemaVersion, SchemaVersion)
		}
		snap.SavedAt = header.SavedAt

		if err := decodePrefix(txn, prefixPattern, func(val []byte) error {
			var p patterns.Pattern
			if err := json.Unmarshal(val, &p); err != nil {
				return err
			}
			snap.Patterns = append(snap.Patterns, p)
			return nil
		}); err != nil {
			return fmt.Errorf("%w: decode patterns: %v", patterns.ErrPersistence, err)
		}

		if err := decodePrefix(txn, prefixRecord, func(val []byte) error {
			var r patterns.LearningRecord
			if err := json.Unmarshal(val, &r); err != nil {
				return err
			}
			snap.Records = append(snap.Records, r)
			return nil
		}); err != nil {
			return fmt.Errorf("%w: decode records: %v", patterns.ErrPersistence, err)
		}

		// The header records how much data the save wrote. A mismatch
		// means the data keys do not belong to this header.
		if len(snap.Patterns) != header.Patterns || len(snap.Records) != header.Records {
			return fmt.Errorf("%w: snapshot meta declares %d patterns and %d records, found %d and %d",
				patterns.ErrPersistence, header.Patterns, header.Records, len(snap.Patterns), len(snap.Records))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("snapshot loaded",
		"patterns", len(snap.Patterns),
		"learning_records", len(snap.Records),
		"saved_at", snap.SavedAt,
	)
	return &snap, nil
}

// Restore loads the snapshot and imports it into the store.
//
// # Description
//
// The initialization path: ErrSnapshotNotFound leaves the store empty
// and returns nil (fresh database); any other load failure is returned
// unchanged so the caller decides the fallback.
func (s *SnapshotStore) Restore(ctx context.Context, store *patterns.Store) error {
	snap, err := s.Load(ctx)
	if errors.Is(err, ErrSnapshotNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return store.Import(snap.Patterns, snap.Records)
}

// patternKey builds the key for one pattern.
func patternKey(id string) []byte {
	return append(append([]byte{}, prefixPattern...), id...)
}

// recordKey builds the key for one learning record. Records are keyed
// by zero-padded position so iteration preserves oldest-first order.
func recordKey(i int) []byte {
	return fmt.Appendf(nil, "%s%010d", prefixRecord, i)
}

// hasPrefix reports whether any key with the prefix exists.
func hasPrefix(txn *badger.Txn, prefix []byte) bool {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()
	it.Rewind()
	return it.ValidForPrefix(prefix)
}

// decodePrefix iterates all values under a prefix in key order.
func decodePrefix(txn *badger.Txn, prefix []byte, fn func(val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
		if err := it.Item().Value(fn); err != nil {
			return err
		}
	}
	return nil
}
