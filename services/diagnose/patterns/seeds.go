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
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Seed is one curated pattern definition from a seed file.
type Seed struct {
	// Category is the failure kind label; unknown labels map to "other".
	Category string `yaml:"category" json:"category"`

	// Component is the attributed subsystem. Required.
	Component string `yaml:"component" json:"component"`

	// Message is a representative raw message; it is normalized the same
	// way live failures are.
	Message string `yaml:"message" json:"message"`

	// PreventionSteps is the curated remediation guidance.
	PreventionSteps []string `yaml:"prevention_steps" json:"prevention_steps"`
}

// seedFile is the on-disk YAML layout.
type seedFile struct {
	Seeds []Seed `yaml:"seeds"`
}

// LoadSeeds populates the store with curated patterns from a YAML file.
//
// # Description
//
// Gives a fresh store a baseline library before any learning has
// happened. Each seed is fingerprinted exactly like a live failure;
// seeds whose fingerprint already exists in the store are skipped, so
// re-loading a seed file is idempotent. Seeded patterns carry a
// "seeded" lineage entry and start with zero outcome history.
//
// # Inputs
//
//   - path: The seed YAML file.
//   - fp: Fingerprinter shared with the matcher. Nil creates one with
//     defaults.
//
// # Outputs
//
//   - int: Number of patterns added.
//   - error: Wraps ErrValidation for unreadable files or invalid seeds.
func (s *Store) LoadSeeds(path string, fp *Fingerprinter) (int, error) {
	if fp == nil {
		fp = NewFingerprinter(DefaultFingerprintConfig())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("%w: read seed file %s: %v", ErrValidation, path, err)
	}
	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("%w: parse seed file %s: %v", ErrValidation, path, err)
	}

	s.writerMu.Lock()
	defer s.writerMu.Unlock()

	added := 0
	now := s.now()
	for i, seed := range file.Seeds {
		failure := Failure{
			Category:  ParseCategory(seed.Category),
			Component: seed.Component,
			Message:   seed.Message,
		}
		sig, err := fp.Fingerprint(failure)
		if err != nil {
			return added, fmt.Errorf("seed %d: %w", i, err)
		}

		if len(s.loadIndex().lookupExact(sig.Key)) > 0 {
			continue
		}

		p := &Pattern{
			ID:                      uuid.NewString(),
			Category:                sig.Key.Category,
			Component:               sig.Key.Component,
			Fingerprint:             sig.Key.String(),
			Criteria:                sig.Criteria,
			PreventionSteps:         append([]string(nil), seed.PreventionSteps...),
			GeneralizationPotential: generalizationPotential(sig),
			Metrics:                 Metrics{CreatedAt: now},
			Lineage: []LineageRef{{
				RecordID: path,
				Kind:     LineageSeeded,
				At:       now,
			}},
		}

		s.mu.Lock()
		s.insertLocked(p)
		s.swapIndexLocked()
		s.mu.Unlock()
		added++
	}

	s.logger.Info("seed patterns loaded", "path", path, "added", added)
	return added, nil
}
