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
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for engine operations.
var (
	tracer = otel.Tracer("aleutian.diagnose.patterns")
	meter  = otel.Meter("aleutian.diagnose.patterns")
)

// Metrics for match, learn, and optimize operations.
var (
	matchLatency  metric.Float64Histogram
	matchTotal    metric.Int64Counter
	matchesFound  metric.Int64Histogram
	learnTotal    metric.Int64Counter
	optimizeTotal metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		matchLatency, err = meter.Float64Histogram(
			"diagnose_match_duration_seconds",
			metric.WithDescription("Duration of pattern match operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		matchTotal, err = meter.Int64Counter(
			"diagnose_match_total",
			metric.WithDescription("Total number of match operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		matchesFound, err = meter.Int64Histogram(
			"diagnose_matches_found",
			metric.WithDescription("Number of candidates returned per match"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		learnTotal, err = meter.Int64Counter(
			"diagnose_learn_total",
			metric.WithDescription("Total learning admissions by decision"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		optimizeTotal, err = meter.Int64Counter(
			"diagnose_optimize_steps_total",
			metric.WithDescription("Total maintenance sub-steps by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startMatchSpan creates a span for a match operation.
func startMatchSpan(ctx context.Context, category Category, component string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Matcher.Match",
		trace.WithAttributes(
			attribute.String("diagnose.category", string(category)),
			attribute.String("diagnose.component", component),
		),
	)
}

// recordMatchMetrics records metrics for one match operation.
func recordMatchMetrics(ctx context.Context, duration time.Duration, found int, tier MatchTier) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("top_tier", string(tier)),
	)
	matchLatency.Record(ctx, duration.Seconds(), attrs)
	matchTotal.Add(ctx, 1, attrs)
	matchesFound.Record(ctx, int64(found))
}

// recordLearnDecision records one learning admission by decision.
func recordLearnDecision(ctx context.Context, decision Decision) {
	if err := initMetrics(); err != nil {
		return
	}
	learnTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("decision", string(decision)),
	))
}

// recordOptimizeStep records one maintenance sub-step outcome.
func recordOptimizeStep(ctx context.Context, step OptimizeStep, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	optimizeTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("step", string(step)),
		attribute.Bool("success", success),
	))
}
