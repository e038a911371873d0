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
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// Matcher ranks candidate patterns for incoming failures.
//
// # Description
//
// Matching is tiered for both speed and recall:
//
//  1. Exact-fingerprint lookup, O(1) average and the highest confidence tier.
//  2. Category+component family lookup narrows candidates to the same
//     failure family before any similarity work.
//  3. Token-overlap similarity against the narrowed candidates only,
//     linear in message length per candidate. The full store is never
//     scanned.
//  4. Tiers merge, ranked by confidence descending with effectiveness
//     and recency tie-breaks.
//
// Every returned match bumps the pattern's match_count and
// last_matched_at as an observable side effect.
//
// # Thread Safety
//
// Safe for concurrent use. Concurrent matches do not block each other.
type Matcher struct {
	store *Store
	fp    *Fingerprinter
}

// NewMatcher creates a matcher over the given store.
//
// # Inputs
//
//   - store: The pattern store. Must not be nil.
//   - fp: The fingerprinter used to normalize incoming failures.
//     Nil creates one with defaults.
func NewMatcher(store *Store, fp *Fingerprinter) *Matcher {
	if fp == nil {
		fp = NewFingerprinter(DefaultFingerprintConfig())
	}
	return &Matcher{store: store, fp: fp}
}

// scored pairs a candidate with its ranking inputs during merge.
type scored struct {
	match         Match
	lastMatchedAt time.Time
}

// Match returns up to limit ranked candidates for the failure.
//
// # Inputs
//
//   - ctx: Context for tracing. Matching itself does not block.
//   - failure: The inbound failure descriptor.
//   - limit: Maximum candidates to return; 0 means the configured
//     default (10).
//
// # Outputs
//
//   - []Match: Ranked candidates, confidence descending. Empty (never
//     nil error) on an empty store or when nothing clears the
//     similarity floor.
//   - error: Wraps ErrValidation on malformed input.
func (m *Matcher) Match(ctx context.Context, failure Failure, limit int) ([]Match, error) {
	start := time.Now()
	ctx, span := startMatchSpan(ctx, failure.Category, failure.Component)
	defer span.End()

	sig, err := m.fp.Fingerprint(failure)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if limit <= 0 {
		limit = m.store.thresholds.MatchLimit
	}

	idx := m.store.loadIndex()
	exactIDs := idx.lookupExact(sig.Key)
	familyIDs := idx.lookupFamily(sig.Key.Category, sig.Key.Component)

	candidates := m.score(sig, exactIDs, familyIDs)

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.match.Confidence != b.match.Confidence {
			return a.match.Confidence > b.match.Confidence
		}
		if a.match.EffectivenessScore != b.match.EffectivenessScore {
			return a.match.EffectivenessScore > b.match.EffectivenessScore
		}
		if !a.lastMatchedAt.Equal(b.lastMatchedAt) {
			return a.lastMatchedAt.After(b.lastMatchedAt)
		}
		return a.match.PatternID < b.match.PatternID
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	matches := make([]Match, len(candidates))
	matchedIDs := make([]string, len(candidates))
	for i, c := range candidates {
		matches[i] = c.match
		matchedIDs[i] = c.match.PatternID
	}
	m.store.noteMatched(matchedIDs)

	topTier := MatchTier("")
	if len(matches) > 0 {
		topTier = matches[0].Tier
	}
	span.SetAttributes(
		attribute.Int("diagnose.matches", len(matches)),
		attribute.Int64("diagnose.index_generation", idx.generation),
	)
	recordMatchMetrics(ctx, time.Since(start), len(matches), topTier)
	return matches, nil
}

// score builds scored candidates from the exact and family tiers.
//
// # Description
//
// Runs entirely under the store's shared lock so scoring sees one
// consistent pattern state. Candidates already matched exactly are
// excluded from the similarity tier.
func (m *Matcher) score(sig Signature, exactIDs, familyIDs []string) []scored {
	floor := m.store.thresholds.SimilarityFloor

	m.store.mu.RLock()
	defer m.store.mu.RUnlock()

	seen := make(map[string]bool, len(exactIDs))
	out := make([]scored, 0, len(exactIDs)+4)

	for _, id := range exactIDs {
		p, ok := m.store.patterns[id]
		if !ok {
			continue
		}
		seen[id] = true
		out = append(out, scored{
			match:         toMatch(p, TierExact, exactConfidence(p)),
			lastMatchedAt: p.Metrics.LastMatchedAt,
		})
	}

	for _, id := range familyIDs {
		if seen[id] {
			continue
		}
		p, ok := m.store.patterns[id]
		if !ok {
			continue
		}
		sim := sig.Criteria.Jaccard(p.Criteria)
		if sim < floor {
			continue
		}
		out = append(out, scored{
			match:         toMatch(p, TierSimilar, sim*similarConfidenceScale),
			lastMatchedAt: p.Metrics.LastMatchedAt,
		})
	}
	return out
}

// exactConfidence maps pattern effectiveness into the exact tier band,
// keeping every exact hit above every similarity hit.
func exactConfidence(p *Pattern) float64 {
	return exactConfidenceBase + exactConfidenceSpan*p.Metrics.EffectivenessScore
}

// toMatch copies the fields a consumer needs out of a live pattern.
func toMatch(p *Pattern, tier MatchTier, confidence float64) Match {
	if confidence > 1 {
		confidence = 1
	}
	return Match{
		PatternID:          p.ID,
		Category:           p.Category,
		Component:          p.Component,
		Confidence:         confidence,
		Tier:               tier,
		EffectivenessScore: p.Metrics.EffectivenessScore,
		PreventionSteps:    append([]string(nil), p.PreventionSteps...),
	}
}
