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

import "log/slog"

// Engine bundles one store with the components that operate on it.
//
// # Description
//
// Convenience wiring for consumers that want the whole pipeline. The
// components stay independently constructible for callers that inject
// their own; Engine just guarantees the matcher, learner, and seed
// loader share one fingerprinter so keys agree.
//
// # Thread Safety
//
// Safe for concurrent use.
type Engine struct {
	Store         *Store
	Fingerprinter *Fingerprinter
	Matcher       *Matcher
	Learner       *Learner
	Maintainer    *Maintainer
}

// NewEngine wires a complete engine around a fresh store.
//
// # Inputs
//
//   - thresholds: Policy values; zero fields take defaults.
//   - maintenance: Sub-step toggles for the maintainer.
//   - logger: Structured logger. Nil means slog.Default().
func NewEngine(thresholds Thresholds, maintenance MaintenanceConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	store := NewStore(thresholds, logger)
	fp := NewFingerprinter(DefaultFingerprintConfig())
	return &Engine{
		Store:         store,
		Fingerprinter: fp,
		Matcher:       NewMatcher(store, fp),
		Learner:       NewLearner(store, fp, logger),
		Maintainer:    NewMaintainer(store, maintenance, logger),
	}
}
