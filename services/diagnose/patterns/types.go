// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package patterns implements the failure pattern matching and learning engine.
//
// # Description
//
// This package maintains a library of known test/build failure signatures.
// Incoming failures are fingerprinted and matched against the library in
// tiers (exact fingerprint, then family-narrowed similarity), validated
// diagnoses are admitted as new or reinforced patterns, and a maintainer
// keeps the library deduplicated, bounded, and fresh.
//
// The package is a single-process authority over the pattern set. Indices
// are derived and rebuildable; only the pattern records and the learning
// audit log are durable state.
//
// # Thread Safety
//
// Store, Matcher, Learner, and Maintainer are safe for concurrent use.
// Matching is the hot read path and never blocks other matchers; learning
// and maintenance are mutually exclusive write paths.
package patterns

import (
	"fmt"
	"strings"
	"time"
)

// Category classifies a failure into a closed set of kinds.
type Category string

const (
	// CategoryDependency is a missing or broken dependency.
	CategoryDependency Category = "dependency-error"

	// CategoryAssertion is a test assertion failure.
	CategoryAssertion Category = "assertion-failure"

	// CategoryFixture is a fixture or test-setup failure.
	CategoryFixture Category = "fixture-error"

	// CategoryEnvironment is a failure caused by the execution environment.
	CategoryEnvironment Category = "environment-error"

	// CategoryPermission is an infrastructure or permission failure.
	CategoryPermission Category = "permission-error"

	// CategoryConfiguration is a configuration failure.
	CategoryConfiguration Category = "configuration-error"

	// CategoryOther is the catch-all for unclassified failures.
	CategoryOther Category = "other"
)

// AllCategories lists every valid category, catch-all last.
var AllCategories = []Category{
	CategoryDependency,
	CategoryAssertion,
	CategoryFixture,
	CategoryEnvironment,
	CategoryPermission,
	CategoryConfiguration,
	CategoryOther,
}

// Valid reports whether the category is a member of the closed set.
func (c Category) Valid() bool {
	for _, known := range AllCategories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory maps a free-form label onto the closed category set.
//
// # Description
//
// Unknown labels map to CategoryOther rather than failing, so upstream
// producers with a wider tag vocabulary still land in the library.
func ParseCategory(label string) Category {
	c := Category(strings.ToLower(strings.TrimSpace(label)))
	if c.Valid() {
		return c
	}
	return CategoryOther
}

// Failure is the inbound descriptor for one observed test/build failure.
type Failure struct {
	// Category is the failure kind. Required.
	Category Category `json:"category" yaml:"category" validate:"required,category"`

	// Component is the subsystem the failure is attributed to. Required.
	Component string `json:"component" yaml:"component" validate:"required"`

	// Message is the raw error message. Required.
	Message string `json:"message" yaml:"message" validate:"required"`

	// StackExcerpt is an optional stack trace excerpt.
	StackExcerpt string `json:"stack_excerpt,omitempty" yaml:"stack_excerpt,omitempty"`

	// Context carries optional producer-specific key/value attributes.
	Context map[string]string `json:"context,omitempty" yaml:"context,omitempty"`
}

// Summary returns a compact single-line description for audit records.
func (f Failure) Summary() string {
	msg := f.Message
	const maxLen = 160
	if len(msg) > maxLen {
		msg = msg[:maxLen] + "..."
	}
	return fmt.Sprintf("[%s/%s] %s", f.Category, f.Component, msg)
}

// Diagnosis is a validated root-cause analysis delivered by the external
// RCA engine, offered to the Learner for admission.
type Diagnosis struct {
	// Failure is the failure the diagnosis explains. Required.
	Failure Failure `json:"failure" validate:"required"`

	// RootCauses lists the identified root causes. At least one required.
	RootCauses []string `json:"root_causes" validate:"required,min=1,dive,required"`

	// FixDescription describes the applied fix. Required.
	FixDescription string `json:"fix_description" validate:"required"`

	// ValidationScore is the RCA engine's confidence in [0,1] that the
	// root cause and fix are correct.
	ValidationScore float64 `json:"validation_score" validate:"gte=0,lte=1"`
}

// FingerprintKey is the stable identity key for a failure signature.
//
// Two failures differing only in volatile tokens (paths, line numbers,
// timestamps, addresses, UUIDs) share the same key.
type FingerprintKey struct {
	// Category is the failure category component of the key.
	Category Category `json:"category"`

	// Component is the attributed subsystem component of the key.
	Component string `json:"component"`

	// TemplateHash is the FNV-64a hash of the normalized message template.
	TemplateHash uint64 `json:"template_hash"`
}

// String renders the composite key in its canonical text form.
func (k FingerprintKey) String() string {
	return fmt.Sprintf("%s|%s|%016x", k.Category, k.Component, k.TemplateHash)
}

// Family returns the category+component narrowing key without the template.
func (k FingerprintKey) Family() string {
	return familyKey(k.Category, k.Component)
}

// familyKey builds the category+component index key.
func familyKey(category Category, component string) string {
	return string(category) + "|" + strings.ToLower(component)
}

// Criteria holds the normalized signature data used for similarity scoring.
type Criteria struct {
	// MessageTemplate is the canonicalized message with volatile tokens
	// replaced by placeholders.
	MessageTemplate string `json:"message_template"`

	// TokenHashes are FNV-64a hashes of word k-grams over the template.
	TokenHashes []uint64 `json:"token_hashes"`

	// MinHashSig is the MinHash signature over TokenHashes.
	MinHashSig []uint64 `json:"minhash_sig"`

	// ErrorType is an optional structural cue such as the error type
	// string extracted from the message (e.g. "TimeoutError").
	ErrorType string `json:"error_type,omitempty"`
}

// Metrics tracks a pattern's observed usefulness over time.
//
// EffectivenessScore is always derived from the counters via
// ComputeEffectiveness; it is never set directly.
type Metrics struct {
	// MatchCount is how many times the pattern was returned as a match.
	MatchCount int64 `json:"match_count"`

	// SuccessCount is how many validated outcomes confirmed the pattern.
	SuccessCount int64 `json:"success_count"`

	// FalsePositiveCount is how many outcomes refuted the pattern.
	FalsePositiveCount int64 `json:"false_positive_count"`

	// EffectivenessScore is the derived quality measure in [0,1].
	EffectivenessScore float64 `json:"effectiveness_score"`

	// CreatedAt is when the pattern entered the store.
	CreatedAt time.Time `json:"created_at"`

	// LastMatchedAt is the most recent match time (zero if never matched).
	LastMatchedAt time.Time `json:"last_matched_at,omitzero"`

	// LastReinforcedAt is the most recent reinforcement time.
	LastReinforcedAt time.Time `json:"last_reinforced_at,omitzero"`
}

// ComputeEffectiveness derives the effectiveness score from the counters.
//
// # Description
//
// Uses Laplace-smoothed success ratio: (successes + 1) / (successes +
// false positives + 2). A pattern with no outcome feedback scores 0.5.
// The score is strictly increasing in successes and strictly decreasing
// in false positives.
func (m *Metrics) ComputeEffectiveness() float64 {
	s := float64(m.SuccessCount)
	f := float64(m.FalsePositiveCount)
	return (s + 1) / (s + f + 2)
}

// LineageKind describes how a learning event touched a pattern.
type LineageKind string

const (
	// LineageCreated marks the learning event that created the pattern.
	LineageCreated LineageKind = "created"

	// LineageReinforced marks a reinforcing learning event.
	LineageReinforced LineageKind = "reinforced"

	// LineageSeeded marks a pattern loaded from a curated seed file.
	LineageSeeded LineageKind = "seeded"

	// LineageMerged marks absorption of another pattern's history.
	LineageMerged LineageKind = "merged"
)

// LineageRef links a pattern to one learning or maintenance event.
type LineageRef struct {
	// RecordID is the LearningRecord ID, or the absorbed pattern ID for
	// merge events.
	RecordID string `json:"record_id"`

	// Kind is the event kind.
	Kind LineageKind `json:"kind"`

	// At is when the event happened.
	At time.Time `json:"at"`
}

// Pattern is a stored, reusable failure signature.
type Pattern struct {
	// ID is the unique, stable identifier. Never reused.
	ID string `json:"id"`

	// Category is the failure kind.
	Category Category `json:"category"`

	// Component is the attributed subsystem (indexed, free-form label).
	Component string `json:"component"`

	// Fingerprint is the canonical composite key string.
	Fingerprint string `json:"fingerprint"`

	// Criteria is the normalized signature used for similarity scoring.
	Criteria Criteria `json:"criteria"`

	// PreventionSteps is ordered remediation guidance.
	PreventionSteps []string `json:"prevention_steps,omitempty"`

	// Undocumented marks a pattern with no prevention steps yet, pending
	// curation.
	Undocumented bool `json:"undocumented,omitempty"`

	// GeneralizationPotential estimates how broadly the pattern applies
	// beyond its originating failure, in [0,1].
	GeneralizationPotential float64 `json:"generalization_potential"`

	// Metrics tracks match/outcome history.
	Metrics Metrics `json:"metrics"`

	// Lineage references the learning events that shaped the pattern.
	Lineage []LineageRef `json:"lineage,omitempty"`
}

// clone returns a deep copy so writers never mutate a pattern a concurrent
// reader may still hold.
func (p *Pattern) clone() *Pattern {
	cp := *p
	cp.Criteria.TokenHashes = append([]uint64(nil), p.Criteria.TokenHashes...)
	cp.Criteria.MinHashSig = append([]uint64(nil), p.Criteria.MinHashSig...)
	cp.PreventionSteps = append([]string(nil), p.PreventionSteps...)
	cp.Lineage = append([]LineageRef(nil), p.Lineage...)
	return &cp
}

// Decision is the outcome of one learning admission.
type Decision string

const (
	// DecisionCreated means a new pattern was created.
	DecisionCreated Decision = "created"

	// DecisionReinforced means an existing pattern absorbed the case.
	DecisionReinforced Decision = "reinforced"

	// DecisionRejected means the diagnosis fell below the admission
	// threshold and was recorded for audit only.
	DecisionRejected Decision = "rejected"
)

// LearningRecord is one append-only audit entry for a learning admission.
type LearningRecord struct {
	// ID is the unique record identifier.
	ID string `json:"id"`

	// Decision is the admission outcome.
	Decision Decision `json:"decision"`

	// PatternID is the created or reinforced pattern, empty on rejection.
	PatternID string `json:"pattern_id,omitempty"`

	// FailureSummary is a compact description of the source failure.
	FailureSummary string `json:"failure_summary"`

	// ValidationScore is the diagnosis confidence at admission time.
	ValidationScore float64 `json:"validation_score"`

	// GeneralizationPotential is the heuristic computed at admission.
	GeneralizationPotential float64 `json:"generalization_potential,omitempty"`

	// CreatedAt is when the decision was made.
	CreatedAt time.Time `json:"created_at"`
}

// LearningOutcome reports the result of a Learn call to the caller.
type LearningOutcome struct {
	// Decision is the admission outcome.
	Decision Decision `json:"decision"`

	// PatternID is the affected pattern, empty on rejection.
	PatternID string `json:"pattern_id,omitempty"`

	// RecordID is the audit record for this decision.
	RecordID string `json:"record_id"`

	// Similarity is the best candidate similarity seen during the
	// near-duplicate search (0 when the store had no candidates).
	Similarity float64 `json:"similarity,omitempty"`
}

// MatchTier identifies which matching tier produced a match.
type MatchTier string

const (
	// TierExact is an exact fingerprint hit.
	TierExact MatchTier = "exact"

	// TierSimilar is a family-narrowed similarity hit.
	TierSimilar MatchTier = "similar"
)

// Match is one ranked candidate pattern for an incoming failure.
type Match struct {
	// PatternID is the matched pattern.
	PatternID string `json:"pattern_id"`

	// Category is the pattern's failure kind.
	Category Category `json:"category"`

	// Component is the pattern's attributed subsystem.
	Component string `json:"component"`

	// Confidence is the match confidence in [0,1].
	Confidence float64 `json:"confidence"`

	// Tier is the matching tier that produced the hit.
	Tier MatchTier `json:"tier"`

	// EffectivenessScore is the pattern's derived quality at match time.
	EffectivenessScore float64 `json:"effectiveness_score"`

	// PreventionSteps is the pattern's remediation guidance.
	PreventionSteps []string `json:"prevention_steps,omitempty"`
}

// PatternEffectiveness is the per-pattern slice of an effectiveness report.
type PatternEffectiveness struct {
	PatternID          string   `json:"pattern_id"`
	Category           Category `json:"category"`
	Component          string   `json:"component"`
	MatchCount         int64    `json:"match_count"`
	SuccessCount       int64    `json:"success_count"`
	FalsePositiveCount int64    `json:"false_positive_count"`
	EffectivenessScore float64  `json:"effectiveness_score"`
}

// EffectivenessReport aggregates pattern quality across the store.
type EffectivenessReport struct {
	// Patterns holds per-pattern metrics, sorted by effectiveness
	// descending then by ID for stable output.
	Patterns []PatternEffectiveness `json:"patterns"`

	// TotalPatterns is the store population.
	TotalPatterns int `json:"total_patterns"`

	// TotalMatches sums match counts across patterns.
	TotalMatches int64 `json:"total_matches"`

	// TotalSuccesses sums success counts across patterns.
	TotalSuccesses int64 `json:"total_successes"`

	// TotalFalsePositives sums false positive counts across patterns.
	TotalFalsePositives int64 `json:"total_false_positives"`

	// MeanEffectiveness is the unweighted mean score (0 when empty).
	MeanEffectiveness float64 `json:"mean_effectiveness"`
}

// OptimizeStep names one maintenance sub-step.
type OptimizeStep string

const (
	// StepDeduplicate merges near-duplicate pattern pairs.
	StepDeduplicate OptimizeStep = "deduplicate"

	// StepEvictStale removes old, low-value patterns.
	StepEvictStale OptimizeStep = "evict_stale"

	// StepEnforceCeiling caps per-category population.
	StepEnforceCeiling OptimizeStep = "enforce_ceiling"

	// StepRebuildIndex recomputes derived indices from the store.
	StepRebuildIndex OptimizeStep = "rebuild_index"

	// StepPruneRecords bounds the learning record log.
	StepPruneRecords OptimizeStep = "prune_records"
)

// OptimizationReport summarizes one Optimize run.
type OptimizationReport struct {
	// Merged is the number of patterns absorbed by deduplication.
	Merged int `json:"merged"`

	// Evicted is the number of patterns removed as stale.
	Evicted int `json:"evicted"`

	// Capped is the number of patterns evicted by the category ceiling.
	Capped int `json:"capped"`

	// RecordsPruned is the number of learning records dropped.
	RecordsPruned int `json:"records_pruned"`

	// Retained is the pattern population after the run.
	Retained int `json:"retained"`

	// IndexRebuildDuration is how long the index rebuild step took.
	IndexRebuildDuration time.Duration `json:"index_rebuild_duration"`

	// Completed lists sub-steps that ran to completion, in order.
	Completed []OptimizeStep `json:"completed"`

	// Failed names the sub-step that aborted, empty when all completed.
	Failed OptimizeStep `json:"failed,omitempty"`

	// FailureReason describes the abort cause, empty when all completed.
	FailureReason string `json:"failure_reason,omitempty"`

	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`

	// Duration is the total run time.
	Duration time.Duration `json:"duration"`
}

// StoreStats describes the store and index population.
type StoreStats struct {
	// Patterns is the total pattern count.
	Patterns int `json:"patterns"`

	// PatternsByCategory breaks the population down per category.
	PatternsByCategory map[Category]int `json:"patterns_by_category"`

	// LearningRecords is the retained audit log length.
	LearningRecords int `json:"learning_records"`

	// Fingerprints is the number of distinct fingerprint keys indexed.
	Fingerprints int `json:"fingerprints"`

	// Families is the number of distinct category+component keys indexed.
	Families int `json:"families"`

	// IndexGeneration increments on every index swap.
	IndexGeneration int64 `json:"index_generation"`
}
