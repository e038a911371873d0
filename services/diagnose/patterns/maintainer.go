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
	"sort"
	"time"
)

// MaintenanceConfig toggles the individual optimization sub-steps.
type MaintenanceConfig struct {
	// Deduplicate merges near-duplicate pattern pairs.
	Deduplicate bool `json:"deduplicate" yaml:"deduplicate"`

	// EvictStale removes old patterns below the low-value threshold.
	EvictStale bool `json:"evict_stale" yaml:"evict_stale"`

	// EnforceCeiling caps per-category population.
	EnforceCeiling bool `json:"enforce_ceiling" yaml:"enforce_ceiling"`

	// RebuildIndex recomputes all derived indices.
	RebuildIndex bool `json:"rebuild_index" yaml:"rebuild_index"`

	// PruneRecords bounds the learning record log.
	PruneRecords bool `json:"prune_records" yaml:"prune_records"`
}

// DefaultMaintenanceConfig enables every sub-step.
func DefaultMaintenanceConfig() MaintenanceConfig {
	return MaintenanceConfig{
		Deduplicate:    true,
		EvictStale:     true,
		EnforceCeiling: true,
		RebuildIndex:   true,
		PruneRecords:   true,
	}
}

// Maintainer compacts the pattern store on demand.
//
// # Description
//
// Optimize is an explicitly invoked operation; cadence is the caller's
// scheduler concern, which keeps the engine deterministic and testable.
// Each sub-step is transactional against the store: a failing step
// aborts the run, prior steps' effects are retained, and the report
// enumerates what completed. Matching is never blocked for the duration
// of the run, only for the short critical sections inside each step.
//
// # Thread Safety
//
// Safe for concurrent use. An Optimize run is one writer and excludes
// learns and other runs.
type Maintainer struct {
	store  *Store
	config MaintenanceConfig
	logger *slog.Logger
}

// NewMaintainer creates a maintainer over the given store.
//
// # Inputs
//
//   - store: The pattern store. Must not be nil.
//   - config: Sub-step toggles.
//   - logger: Structured logger. Nil means slog.Default().
func NewMaintainer(store *Store, config MaintenanceConfig, logger *slog.Logger) *Maintainer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Maintainer{store: store, config: config, logger: logger}
}

// Optimize runs the enabled maintenance sub-steps in order.
//
// # Outputs
//
//   - OptimizationReport: Counts, completed steps, and timings. Always
//     populated, including on partial failure.
//   - error: Wraps ErrOptimization when a sub-step aborted; nil when
//     every enabled step completed.
func (m *Maintainer) Optimize(ctx context.Context) (OptimizationReport, error) {
	ctx, span := tracer.Start(ctx, "Maintainer.Optimize")
	defer span.End()

	m.store.writerMu.Lock()
	defer m.store.writerMu.Unlock()

	report := OptimizationReport{StartedAt: m.store.now()}

	type step struct {
		name    OptimizeStep
		enabled bool
		run     func(context.Context, *OptimizationReport) error
	}
	steps := []step{
		{StepDeduplicate, m.config.Deduplicate, m.deduplicate},
		{StepEvictStale, m.config.EvictStale, m.evictStale},
		{StepEnforceCeiling, m.config.EnforceCeiling, m.enforceCeiling},
		{StepRebuildIndex, m.config.RebuildIndex, m.rebuildIndex},
		{StepPruneRecords, m.config.PruneRecords, m.pruneRecords},
	}

	var failure error
	for _, st := range steps {
		if !st.enabled {
			continue
		}
		err := ctx.Err()
		if err == nil {
			err = st.run(ctx, &report)
		}
		if err != nil {
			failure = fmt.Errorf("%w: %s: %v", ErrOptimization, st.name, err)
			report.Failed = st.name
			report.FailureReason = err.Error()
			recordOptimizeStep(ctx, st.name, false)
			m.logger.Error("optimization step aborted",
				"step", string(st.name),
				"error", err,
			)
			span.RecordError(failure)
			break
		}
		report.Completed = append(report.Completed, st.name)
		recordOptimizeStep(ctx, st.name, true)
	}

	report.Retained = m.store.Len()
	report.Duration = m.store.now().Sub(report.StartedAt)
	m.logger.Info("optimization run finished",
		"merged", report.Merged,
		"evicted", report.Evicted,
		"capped", report.Capped,
		"records_pruned", report.RecordsPruned,
		"retained", report.Retained,
		"failed_step", string(report.Failed),
	)
	return report, failure
}

// deduplicate merges pattern pairs whose fingerprints collide or whose
// similarity clears the merge threshold. The older pattern's ID remains
// canonical; metrics sum and prevention steps union.
func (m *Maintainer) deduplicate(_ context.Context, report *OptimizationReport) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	merged := 0
	idx := buildIndexSet(0, m.store.patterns)

	// Exact fingerprint collisions first.
	for _, ids := range idx.exact {
		if len(ids) > 1 {
			merged += m.mergeGroupLocked(ids)
		}
	}

	// Then near-duplicates within each family, via O(1) MinHash
	// estimates so the scan stays linear in family candidate pairs,
	// never across the whole store.
	threshold := m.store.thresholds.MergeSimilarity
	idx = buildIndexSet(0, m.store.patterns)
	for _, ids := range idx.families {
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				// Re-fetch both sides: an earlier merge may have
				// removed either one.
				a, ok := m.store.patterns[ids[i]]
				if !ok {
					break
				}
				b, ok := m.store.patterns[ids[j]]
				if !ok {
					continue
				}
				if a.Criteria.EstimatedJaccard(b.Criteria) >= threshold {
					m.mergePairLocked(a, b)
					merged++
				}
			}
		}
	}

	if merged > 0 {
		m.store.swapIndexLocked()
	}
	report.Merged += merged
	return nil
}

// mergeGroupLocked merges all patterns in the group into the oldest one.
// Returns the number of absorbed patterns. Caller holds the write lock.
func (m *Maintainer) mergeGroupLocked(ids []string) int {
	live := make([]*Pattern, 0, len(ids))
	for _, id := range ids {
		if p, ok := m.store.patterns[id]; ok {
			live = append(live, p)
		}
	}
	if len(live) < 2 {
		return 0
	}
	sort.Slice(live, func(i, j int) bool {
		if !live[i].Metrics.CreatedAt.Equal(live[j].Metrics.CreatedAt) {
			return live[i].Metrics.CreatedAt.Before(live[j].Metrics.CreatedAt)
		}
		return live[i].ID < live[j].ID
	})
	canonical := live[0]
	for _, dup := range live[1:] {
		m.mergePairLocked(canonical, dup)
	}
	return len(live) - 1
}

// mergePairLocked folds b into a (a is older/canonical) and removes b.
// Caller holds the write lock.
func (m *Maintainer) mergePairLocked(a, b *Pattern) {
	if b.Metrics.CreatedAt.Before(a.Metrics.CreatedAt) {
		a, b = b, a
	}

	a.Metrics.MatchCount += b.Metrics.MatchCount
	a.Metrics.SuccessCount += b.Metrics.SuccessCount
	a.Metrics.FalsePositiveCount += b.Metrics.FalsePositiveCount
	if b.Metrics.LastMatchedAt.After(a.Metrics.LastMatchedAt) {
		a.Metrics.LastMatchedAt = b.Metrics.LastMatchedAt
	}
	if b.Metrics.LastReinforcedAt.After(a.Metrics.LastReinforcedAt) {
		a.Metrics.LastReinforcedAt = b.Metrics.LastReinforcedAt
	}
	a.Metrics.EffectivenessScore = a.Metrics.ComputeEffectiveness()

	for _, step := range b.PreventionSteps {
		if !containsStep(a.PreventionSteps, step) {
			a.PreventionSteps = append(a.PreventionSteps, step)
		}
	}
	if len(a.PreventionSteps) > 0 {
		a.Undocumented = false
	}
	if b.GeneralizationPotential > a.GeneralizationPotential {
		a.GeneralizationPotential = b.GeneralizationPotential
	}
	a.Lineage = append(a.Lineage, b.Lineage...)
	a.Lineage = append(a.Lineage, LineageRef{
		RecordID: b.ID,
		Kind:     LineageMerged,
		At:       m.store.now(),
	})

	delete(m.store.patterns, b.ID)
}

// evictStale removes patterns outside the retention window whose
// effectiveness is below the low-value threshold. High-effectiveness
// patterns are retained regardless of recency.
func (m *Maintainer) evictStale(_ context.Context, report *OptimizationReport) error {
	t := m.store.thresholds
	cutoff := m.store.now().Add(-t.RetentionWindow)

	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	var evict []string
	for id, p := range m.store.patterns {
		lastSeen := p.Metrics.LastMatchedAt
		if lastSeen.IsZero() {
			lastSeen = p.Metrics.CreatedAt
		}
		if lastSeen.Before(cutoff) && p.Metrics.EffectivenessScore < t.LowValueThreshold {
			evict = append(evict, id)
		}
	}
	if len(evict) > 0 {
		m.store.removeLocked(evict)
		m.store.swapIndexLocked()
	}
	report.Evicted += len(evict)
	return nil
}

// enforceCeiling keeps each category at or below the configured ceiling,
// evicting lowest-effectiveness patterns first with generalization
// potential as the tie-break.
func (m *Maintainer) enforceCeiling(_ context.Context, report *OptimizationReport) error {
	ceiling := m.store.thresholds.CategoryCeiling
	if ceiling <= 0 {
		return nil
	}

	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	byCategory := make(map[Category][]*Pattern)
	for _, p := range m.store.patterns {
		byCategory[p.Category] = append(byCategory[p.Category], p)
	}

	capped := 0
	for _, members := range byCategory {
		excess := len(members) - ceiling
		if excess <= 0 {
			continue
		}
		sort.Slice(members, func(i, j int) bool {
			a, b := members[i], members[j]
			if a.Metrics.EffectivenessScore != b.Metrics.EffectivenessScore {
				return a.Metrics.EffectivenessScore < b.Metrics.EffectivenessScore
			}
			if a.GeneralizationPotential != b.GeneralizationPotential {
				return a.GeneralizationPotential < b.GeneralizationPotential
			}
			return a.ID < b.ID
		})
		for _, victim := range members[:excess] {
			delete(m.store.patterns, victim.ID)
			capped++
		}
	}
	if capped > 0 {
		m.store.swapIndexLocked()
	}
	report.Capped += capped
	return nil
}

// rebuildIndex recomputes all derived indices from the cleaned store.
func (m *Maintainer) rebuildIndex(_ context.Context, report *OptimizationReport) error {
	start := time.Now()

	m.store.mu.Lock()
	m.store.swapIndexLocked()
	m.store.mu.Unlock()

	report.IndexRebuildDuration = time.Since(start)
	return nil
}

// pruneRecords bounds the learning record log to the configured
// retention, dropping oldest first.
func (m *Maintainer) pruneRecords(_ context.Context, report *OptimizationReport) error {
	retention := m.store.thresholds.RecordRetention

	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	if m.store.records.Cap() == retention && m.store.records.Len() <= retention {
		return nil
	}
	next, dropped := m.store.records.Resize(retention)
	m.store.records = next
	report.RecordsPruned += dropped
	return nil
}
