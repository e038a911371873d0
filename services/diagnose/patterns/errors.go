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

import "errors"

// Sentinel errors for the patterns package.
//
// ErrValidation is always surfaced synchronously to the caller and never
// swallowed. ErrPersistence on load is fatal to store initialization; on
// save it is reported without rolling back in-memory state.
// ErrOptimization aborts only the failing maintenance sub-step.
var (
	// ErrValidation indicates malformed input to fingerprinting, matching,
	// or learning.
	ErrValidation = errors.New("validation failed")

	// ErrPersistence indicates a snapshot load or save failure.
	ErrPersistence = errors.New("persistence failed")

	// ErrOptimization indicates a maintenance sub-step aborted.
	ErrOptimization = errors.New("optimization step failed")

	// ErrPatternNotFound indicates the referenced pattern is not in the
	// store.
	ErrPatternNotFound = errors.New("pattern not found")

	// ErrEmptySteps indicates documentation with no prevention steps.
	ErrEmptySteps = errors.New("prevention steps must not be empty")
)
