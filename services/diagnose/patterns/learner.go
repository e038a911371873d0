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
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Learner admits validated diagnoses into the pattern library.
//
// # Description
//
// A diagnosis is admitted only when its validation score clears the
// admission threshold; everything below is recorded as rejected for
// audit and never becomes a pattern. Admitted cases are checked against
// existing patterns in the same category+component family: a
// near-duplicate reinforces the existing pattern instead of creating a
// new one. Every decision, accepted or rejected, appends a
// LearningRecord.
//
// # Thread Safety
//
// Safe for concurrent use. A Learn call is one writer: it excludes
// other learns and maintenance runs but not concurrent matches.
type Learner struct {
	store  *Store
	fp     *Fingerprinter
	logger *slog.Logger
}

// NewLearner creates a learner over the given store.
//
// # Inputs
//
//   - store: The pattern store. Must not be nil.
//   - fp: Fingerprinter shared with the matcher so keys agree.
//     Nil creates one with defaults.
//   - logger: Structured logger. Nil means slog.Default().
func NewLearner(store *Store, fp *Fingerprinter, logger *slog.Logger) *Learner {
	if fp == nil {
		fp = NewFingerprinter(DefaultFingerprintConfig())
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Learner{store: store, fp: fp, logger: logger}
}

// Learn decides whether a validated diagnosis creates, reinforces, or is
// rejected.
//
// # Inputs
//
//   - ctx: Context for tracing.
//   - diagnosis: The validated diagnosis from the external RCA engine.
//
// # Outputs
//
//   - LearningOutcome: The decision, affected pattern, and audit record.
//   - error: Wraps ErrValidation on malformed input.
func (l *Learner) Learn(ctx context.Context, diagnosis Diagnosis) (LearningOutcome, error) {
	ctx, span := tracer.Start(ctx, "Learner.Learn")
	defer span.End()

	if err := ValidateDiagnosis(diagnosis); err != nil {
		span.RecordError(err)
		return LearningOutcome{}, err
	}
	sig, err := l.fp.Fingerprint(diagnosis.Failure)
	if err != nil {
		span.RecordError(err)
		return LearningOutcome{}, err
	}

	l.store.writerMu.Lock()
	defer l.store.writerMu.Unlock()

	now := l.store.now()
	record := LearningRecord{
		ID:              uuid.NewString(),
		FailureSummary:  diagnosis.Failure.Summary(),
		ValidationScore: diagnosis.ValidationScore,
		CreatedAt:       now,
	}

	threshold := l.store.thresholds.AdmissionThreshold
	if diagnosis.ValidationScore < threshold {
		record.Decision = DecisionRejected
		l.commit(record, nil, nil)
		l.logger.Debug("diagnosis rejected below admission threshold",
			"validation_score", diagnosis.ValidationScore,
			"threshold", threshold,
		)
		recordLearnDecision(ctx, DecisionRejected)
		return LearningOutcome{Decision: DecisionRejected, RecordID: record.ID}, nil
	}

	candidateID, similarity := l.findNearDuplicate(sig)
	if candidateID != "" {
		record.Decision = DecisionReinforced
		record.PatternID = candidateID
		l.commit(record, nil, func() {
			l.reinforceLocked(candidateID, diagnosis, record.ID, now)
		})
		l.logger.Info("pattern reinforced",
			"pattern_id", candidateID,
			"similarity", similarity,
		)
		recordLearnDecision(ctx, DecisionReinforced)
		return LearningOutcome{
			Decision:   DecisionReinforced,
			PatternID:  candidateID,
			RecordID:   record.ID,
			Similarity: similarity,
		}, nil
	}

	pattern := l.newPattern(diagnosis, sig, record.ID, now)
	record.Decision = DecisionCreated
	record.PatternID = pattern.ID
	record.GeneralizationPotential = pattern.GeneralizationPotential
	l.commit(record, pattern, nil)
	l.logger.Info("pattern created",
		"pattern_id", pattern.ID,
		"category", pattern.Category,
		"component", pattern.Component,
		"generalization_potential", pattern.GeneralizationPotential,
	)
	recordLearnDecision(ctx, DecisionCreated)
	return LearningOutcome{
		Decision:  DecisionCreated,
		PatternID: pattern.ID,
		RecordID:  record.ID,
	}, nil
}

// findNearDuplicate searches the failure's family for a pattern the new
// case should reinforce instead of duplicating.
//
// # Description
//
// Uses the same index narrowing as the matcher: an exact fingerprint hit
// wins outright; otherwise the best family candidate must clear the
// merge-similarity threshold. Returns the empty string when nothing
// qualifies.
func (l *Learner) findNearDuplicate(sig Signature) (string, float64) {
	idx := l.store.loadIndex()

	if ids := idx.lookupExact(sig.Key); len(ids) > 0 {
		return ids[0], 1.0
	}

	mergeAt := l.store.thresholds.MergeSimilarity
	bestID := ""
	bestSim := 0.0

	l.store.mu.RLock()
	defer l.store.mu.RUnlock()
	for _, id := range idx.lookupFamily(sig.Key.Category, sig.Key.Component) {
		p, ok := l.store.patterns[id]
		if !ok {
			continue
		}
		sim := sig.Criteria.Jaccard(p.Criteria)
		if sim > bestSim || (sim == bestSim && id < bestID) {
			bestID, bestSim = id, sim
		}
	}
	if bestSim >= mergeAt {
		return bestID, bestSim
	}
	return "", bestSim
}

// reinforceLocked applies a reinforcing learning event. Caller must hold
// the write lock.
func (l *Learner) reinforceLocked(id string, diagnosis Diagnosis, recordID string, now time.Time) {
	p, ok := l.store.patterns[id]
	if !ok {
		return
	}
	p.Metrics.SuccessCount++
	p.Metrics.LastReinforcedAt = now
	p.Metrics.EffectivenessScore = p.Metrics.ComputeEffectiveness()

	if step := preventionStep(diagnosis); step != "" && !containsStep(p.PreventionSteps, step) {
		p.PreventionSteps = append(p.PreventionSteps, step)
		p.Undocumented = false
	}
	p.Lineage = append(p.Lineage, LineageRef{
		RecordID: recordID,
		Kind:     LineageReinforced,
		At:       now,
	})
}

// newPattern builds a pattern from an admitted first-observation case.
func (l *Learner) newPattern(diagnosis Diagnosis, sig Signature, recordID string, now time.Time) *Pattern {
	steps := make([]string, 0, 1)
	if step := preventionStep(diagnosis); step != "" {
		steps = append(steps, step)
	}

	p := &Pattern{
		ID:                      uuid.NewString(),
		Category:                sig.Key.Category,
		Component:               sig.Key.Component,
		Fingerprint:             sig.Key.String(),
		Criteria:                sig.Criteria,
		PreventionSteps:         steps,
		GeneralizationPotential: generalizationPotential(sig),
		Metrics: Metrics{
			// The creating validated case is the pattern's first
			// confirmed success.
			SuccessCount: 1,
			CreatedAt:    now,
		},
		Lineage: []LineageRef{{
			RecordID: recordID,
			Kind:     LineageCreated,
			At:       now,
		}},
	}
	return p
}

// commit applies a learning decision atomically: optional pattern insert,
// optional in-place mutation, and the audit record, under one write lock.
func (l *Learner) commit(record LearningRecord, created *Pattern, mutate func()) {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()

	changed := false
	if created != nil {
		l.store.insertLocked(created)
		changed = true
	}
	if mutate != nil {
		mutate()
	}
	l.store.appendRecordLocked(record)
	if changed {
		l.store.swapIndexLocked()
	}
}

// preventionStep derives one remediation step from a diagnosis: the fix
// description prefixed with its primary root cause.
func preventionStep(diagnosis Diagnosis) string {
	fix := strings.TrimSpace(diagnosis.FixDescription)
	if fix == "" {
		return ""
	}
	if len(diagnosis.RootCauses) > 0 {
		if cause := strings.TrimSpace(diagnosis.RootCauses[0]); cause != "" {
			return fmt.Sprintf("%s: %s", cause, fix)
		}
	}
	return fix
}

// generalizationPotential estimates how broadly a new pattern applies
// beyond its originating failure.
//
// # Description
//
// Three signals, each favoring signatures that travel:
//   - placeholder ratio: the more volatile tokens the normalizer
//     stripped, the less the template is tied to one occurrence;
//   - a concrete category (anything but the catch-all) indicates the
//     signature describes a failure family rather than a one-off;
//   - a structural error-type cue survives message rewording.
//
// The maintainer prioritizes retention by this score when capping
// category populations.
func generalizationPotential(sig Signature) float64 {
	score := 0.5 * sig.PlaceholderRatio
	if sig.Key.Category != CategoryOther {
		score += 0.3
	} else {
		score += 0.1
	}
	if sig.Criteria.ErrorType != "" {
		score += 0.2
	}
	if score > 1 {
		score = 1
	}
	return score
}
