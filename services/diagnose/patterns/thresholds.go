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
	"time"
)

// Thresholds bundles every policy constant of the engine.
//
// # Description
//
// All values are configuration, not hard-coded policy: the defaults are
// starting points, and callers load overrides through the config package.
// A zero-value field means "use the default".
type Thresholds struct {
	// AdmissionThreshold is the minimum validation score for a diagnosis
	// to create or reinforce a pattern.
	AdmissionThreshold float64 `json:"admission_threshold" yaml:"admission_threshold"`

	// MergeSimilarity is the minimum similarity for the Learner to
	// reinforce an existing pattern instead of creating one, and for the
	// Maintainer to merge a pattern pair.
	MergeSimilarity float64 `json:"merge_similarity" yaml:"merge_similarity"`

	// SimilarityFloor is the minimum similarity for a candidate to be
	// reported as a match at all.
	SimilarityFloor float64 `json:"similarity_floor" yaml:"similarity_floor"`

	// MatchLimit is the default maximum number of matches returned.
	MatchLimit int `json:"match_limit" yaml:"match_limit"`

	// RetentionWindow is how long an unmatched, low-value pattern is kept.
	RetentionWindow time.Duration `json:"retention_window" yaml:"retention_window"`

	// LowValueThreshold is the effectiveness score below which a stale
	// pattern becomes eligible for eviction.
	LowValueThreshold float64 `json:"low_value_threshold" yaml:"low_value_threshold"`

	// CategoryCeiling caps the pattern count per category.
	CategoryCeiling int `json:"category_ceiling" yaml:"category_ceiling"`

	// RecordRetention bounds the learning record log length.
	RecordRetention int `json:"record_retention" yaml:"record_retention"`
}

// Default policy values.
const (
	// DefaultAdmissionThreshold rejects diagnoses below this score.
	DefaultAdmissionThreshold = 0.8

	// DefaultMergeSimilarity treats candidates above it as duplicates.
	DefaultMergeSimilarity = 0.85

	// DefaultSimilarityFloor drops candidates below it from results.
	DefaultSimilarityFloor = 0.3

	// DefaultMatchLimit caps match results when the caller passes 0.
	DefaultMatchLimit = 10

	// DefaultRetentionWindow keeps unmatched patterns for 30 days.
	DefaultRetentionWindow = 30 * 24 * time.Hour

	// DefaultLowValueThreshold marks eviction-eligible effectiveness.
	DefaultLowValueThreshold = 0.3

	// DefaultCategoryCeiling bounds each category's population.
	DefaultCategoryCeiling = 200

	// DefaultRecordRetention bounds the learning record log.
	DefaultRecordRetention = 500

	// exactConfidenceBase is the confidence floor for an exact hit.
	// Exact hits always rank above the similar tier.
	exactConfidenceBase = 0.90

	// exactConfidenceSpan scales effectiveness into the exact tier.
	exactConfidenceSpan = 0.10

	// similarConfidenceScale maps similarity into the similar tier,
	// keeping it strictly below exactConfidenceBase.
	similarConfidenceScale = 0.85
)

// DefaultThresholds returns the stock policy values.
func DefaultThresholds() Thresholds {
	return Thresholds{
		AdmissionThreshold: DefaultAdmissionThreshold,
		MergeSimilarity:    DefaultMergeSimilarity,
		SimilarityFloor:    DefaultSimilarityFloor,
		MatchLimit:         DefaultMatchLimit,
		RetentionWindow:    DefaultRetentionWindow,
		LowValueThreshold:  DefaultLowValueThreshold,
		CategoryCeiling:    DefaultCategoryCeiling,
		RecordRetention:    DefaultRecordRetention,
	}
}

// withDefaults fills zero-valued fields from DefaultThresholds.
func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds()
	if t.AdmissionThreshold == 0 {
		t.AdmissionThreshold = d.AdmissionThreshold
	}
	if t.MergeSimilarity == 0 {
		t.MergeSimilarity = d.MergeSimilarity
	}
	if t.SimilarityFloor == 0 {
		t.SimilarityFloor = d.SimilarityFloor
	}
	if t.MatchLimit == 0 {
		t.MatchLimit = d.MatchLimit
	}
	if t.RetentionWindow == 0 {
		t.RetentionWindow = d.RetentionWindow
	}
	if t.LowValueThreshold == 0 {
		t.LowValueThreshold = d.LowValueThreshold
	}
	if t.CategoryCeiling == 0 {
		t.CategoryCeiling = d.CategoryCeiling
	}
	if t.RecordRetention == 0 {
		t.RecordRetention = d.RecordRetention
	}
	return t
}

// Validate checks threshold ranges.
func (t Thresholds) Validate() error {
	inUnit := func(name string, v float64) error {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: %s must be in [0,1], got %v", ErrValidation, name, v)
		}
		return nil
	}
	if err := inUnit("admission_threshold", t.AdmissionThreshold); err != nil {
		return err
	}
	if err := inUnit("merge_similarity", t.MergeSimilarity); err != nil {
		return err
	}
	if err := inUnit("similarity_floor", t.SimilarityFloor); err != nil {
		return err
	}
	if err := inUnit("low_value_threshold", t.LowValueThreshold); err != nil {
		return err
	}
	if t.MatchLimit < 0 {
		return fmt.Errorf("%w: match_limit must be >= 0, got %d", ErrValidation, t.MatchLimit)
	}
	if t.RetentionWindow < 0 {
		return fmt.Errorf("%w: retention_window must be >= 0, got %v", ErrValidation, t.RetentionWindow)
	}
	if t.CategoryCeiling < 0 {
		return fmt.Errorf("%w: category_ceiling must be >= 0, got %d", ErrValidation, t.CategoryCeiling)
	}
	if t.RecordRetention < 0 {
		return fmt.Errorf("%w: record_retention must be >= 0, got %d", ErrValidation, t.RecordRetention)
	}
	return nil
}
