// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package patterns

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/triage/services/diagnose/history"
)

// Store owns the pattern set and the learning record log.
//
// # Description
//
// Store is the durable source of truth. It holds patterns in memory,
// keeps the bounded learning audit log, and publishes immutable index
// generations for the read path. Matcher, Learner, and Maintainer all
// receive the store by explicit injection; there is no ambient singleton.
//
// # Thread Safety
//
// Safe for concurrent use. Reads take the shared lock and never block
// each other; writes (learn, outcome feedback, maintenance) are mutually
// exclusive. Index updates are applied by swapping in a freshly built
// generation, so in-flight matches always observe either the pre- or
// post-mutation index, never a partial one.
type Store struct {
	// writerMu serializes whole write operations (a learn or an optimize
	// run) so at most one writer is active at a time. mu guards the data
	// itself and is held only for short critical sections, keeping the
	// read path free.
	writerMu sync.Mutex

	mu       sync.RWMutex
	patterns map[string]*Pattern
	records  *history.RingBuffer[LearningRecord]

	index      atomic.Pointer[indexSet]
	generation atomic.Int64

	thresholds Thresholds
	logger     *slog.Logger
	now        func() time.Time
}

// NewStore creates an empty store with the given policy thresholds.
//
// # Inputs
//
//   - thresholds: Policy values; zero fields take defaults.
//   - logger: Structured logger. Nil means slog.Default().
//
// # Outputs
//
//   - *Store: Ready-to-use empty store.
func NewStore(thresholds Thresholds, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	t := thresholds.withDefaults()
	s := &Store{
		patterns:   make(map[string]*Pattern),
		records:    history.NewRingBuffer[LearningRecord](t.RecordRetention),
		thresholds: t,
		logger:     logger,
		now:        time.Now,
	}
	s.index.Store(emptyIndexSet())
	return s
}

// Thresholds returns the store's effective policy values.
func (s *Store) Thresholds() Thresholds {
	return s.thresholds
}

// Len returns the pattern population.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.patterns)
}

// Get returns a copy of the pattern with the given ID.
func (s *Store) Get(id string) (Pattern, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patterns[id]
	if !ok {
		return Pattern{}, false
	}
	return *p.clone(), true
}

// Patterns returns copies of all patterns, sorted by ID.
func (s *Store) Patterns() []Pattern {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Pattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		out = append(out, *p.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Records returns the retained learning records, oldest first.
func (s *Store) Records() []LearningRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records.Items()
}

// Stats reports store and index population counts.
func (s *Store) Stats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.index.Load()
	byCat := make(map[Category]int)
	for _, p := range s.patterns {
		byCat[p.Category]++
	}
	return StoreStats{
		Patterns:           len(s.patterns),
		PatternsByCategory: byCat,
		LearningRecords:    s.records.Len(),
		Fingerprints:       len(idx.exact),
		Families:           len(idx.families),
		IndexGeneration:    idx.generation,
	}
}

// EffectivenessReport summarizes per-pattern and aggregate quality.
//
// # Description
//
// Patterns are sorted by effectiveness descending, ID ascending, so
// repeated calls over an unchanged store return identical output.
func (s *Store) EffectivenessReport() EffectivenessReport {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report := EffectivenessReport{
		Patterns:      make([]PatternEffectiveness, 0, len(s.patterns)),
		TotalPatterns: len(s.patterns),
	}
	for _, p := range s.patterns {
		report.Patterns = append(report.Patterns, PatternEffectiveness{
			PatternID:          p.ID,
			Category:           p.Category,
			Component:          p.Component,
			MatchCount:         p.Metrics.MatchCount,
			SuccessCount:       p.Metrics.SuccessCount,
			FalsePositiveCount: p.Metrics.FalsePositiveCount,
			EffectivenessScore: p.Metrics.EffectivenessScore,
		})
		report.TotalMatches += p.Metrics.MatchCount
		report.TotalSuccesses += p.Metrics.SuccessCount
		report.TotalFalsePositives += p.Metrics.FalsePositiveCount
		report.MeanEffectiveness += p.Metrics.EffectivenessScore
	}
	if len(report.Patterns) > 0 {
		report.MeanEffectiveness /= float64(len(report.Patterns))
	}
	sort.Slice(report.Patterns, func(i, j int) bool {
		a, b := report.Patterns[i], report.Patterns[j]
		if a.EffectivenessScore != b.EffectivenessScore {
			return a.EffectivenessScore > b.EffectivenessScore
		}
		return a.PatternID < b.PatternID
	})
	return report
}

// RecordOutcome applies consumer feedback for a previously returned match.
//
// # Description
//
// A confirmed outcome increments success_count; a refuted one increments
// false_positive_count. The effectiveness score is recomputed from the
// counters, never set directly.
//
// # Errors
//
// Returns ErrPatternNotFound when the pattern is no longer in the store
// (it may have been merged or evicted since the match).
func (s *Store) RecordOutcome(patternID string, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patterns[patternID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPatternNotFound, patternID)
	}
	if success {
		p.Metrics.SuccessCount++
	} else {
		p.Metrics.FalsePositiveCount++
	}
	p.Metrics.EffectivenessScore = p.Metrics.ComputeEffectiveness()
	return nil
}

// Document attaches curated prevention steps to an undocumented pattern.
//
// # Errors
//
// Returns ErrPatternNotFound for unknown IDs and ErrEmptySteps when no
// non-blank step is supplied.
func (s *Store) Document(patternID string, steps []string) error {
	cleaned := make([]string, 0, len(steps))
	for _, step := range steps {
		if trimmed := strings.TrimSpace(step); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	if len(cleaned) == 0 {
		return ErrEmptySteps
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patterns[patternID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPatternNotFound, patternID)
	}
	for _, step := range cleaned {
		if !containsStep(p.PreventionSteps, step) {
			p.PreventionSteps = append(p.PreventionSteps, step)
		}
	}
	p.Undocumented = false
	return nil
}

// Import replaces the store contents from a loaded snapshot.
//
// # Description
//
// Used once at initialization after the persistence layer decodes a
// snapshot. Rebuilds indices and derived scores so a snapshot written by
// an older build with a different effectiveness formula stays consistent.
//
// # Errors
//
// Returns an error wrapping ErrValidation on duplicate pattern IDs.
func (s *Store) Import(patterns []Pattern, records []LearningRecord) error {
	next := make(map[string]*Pattern, len(patterns))
	for i := range patterns {
		p := patterns[i].clone()
		if p.ID == "" {
			return fmt.Errorf("%w: pattern %d has empty id", ErrValidation, i)
		}
		if _, dup := next[p.ID]; dup {
			return fmt.Errorf("%w: duplicate pattern id %s", ErrValidation, p.ID)
		}
		p.Metrics.EffectivenessScore = p.Metrics.ComputeEffectiveness()
		if len(p.PreventionSteps) == 0 {
			p.Undocumented = true
		}
		next[p.ID] = p
	}

	ring := history.NewRingBuffer[LearningRecord](s.thresholds.RecordRetention)
	for _, rec := range records {
		ring.Push(rec)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.patterns = next
	s.records = ring
	s.swapIndexLocked()
	s.logger.Info("pattern store imported",
		"patterns", len(next),
		"learning_records", ring.Len(),
	)
	return nil
}

// insertLocked adds a pattern. Caller must hold the write lock.
func (s *Store) insertLocked(p *Pattern) {
	if len(p.PreventionSteps) == 0 {
		p.Undocumented = true
	}
	p.Metrics.EffectivenessScore = p.Metrics.ComputeEffectiveness()
	s.patterns[p.ID] = p
}

// removeLocked deletes patterns by ID. Caller must hold the write lock.
func (s *Store) removeLocked(ids []string) {
	for _, id := range ids {
		delete(s.patterns, id)
	}
}

// appendRecordLocked appends an audit record. Caller must hold the write
// lock. Oldest records are evicted once capacity is reached.
func (s *Store) appendRecordLocked(rec LearningRecord) {
	s.records.Push(rec)
}

// noteMatched bumps match counters for returned matches.
//
// # Description
//
// Called by the Matcher after ranking. Counter updates never change any
// index key, so no index swap happens here.
func (s *Store) noteMatched(ids []string) {
	if len(ids) == 0 {
		return
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if p, ok := s.patterns[id]; ok {
			p.Metrics.MatchCount++
			p.Metrics.LastMatchedAt = now
		}
	}
}

// swapIndexLocked derives and publishes a new index generation.
// Caller must hold the write lock.
func (s *Store) swapIndexLocked() {
	gen := s.generation.Add(1)
	s.index.Store(buildIndexSet(gen, s.patterns))
}

// loadIndex returns the current immutable index generation.
func (s *Store) loadIndex() *indexSet {
	return s.index.Load()
}

// containsStep reports whether steps already holds the given step,
// ignoring case and surrounding whitespace.
func containsStep(steps []string, step string) bool {
	needle := strings.ToLower(strings.TrimSpace(step))
	for _, existing := range steps {
		if strings.ToLower(strings.TrimSpace(existing)) == needle {
			return true
		}
	}
	return false
}
