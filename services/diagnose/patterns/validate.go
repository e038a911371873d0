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
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is the shared validator instance for inbound descriptors.
// Initialized in init() with custom rules.
var validate *validator.Validate

func init() {
	validate = validator.New()

	// "category" enforces membership in the closed category set.
	_ = validate.RegisterValidation("category", validateCategory)
}

// validateCategory checks that a field holds a valid Category value.
func validateCategory(fl validator.FieldLevel) bool {
	return Category(fl.Field().String()).Valid()
}

// ValidateFailure checks an inbound failure descriptor.
//
// # Description
//
// Category must be a member of the closed set; component and message
// must be present. Whitespace-only values count as absent.
//
// # Errors
//
// Returns an error wrapping ErrValidation describing the first violation.
func ValidateFailure(f Failure) error {
	if strings.TrimSpace(f.Component) == "" {
		return fmt.Errorf("%w: failure component is required", ErrValidation)
	}
	if strings.TrimSpace(f.Message) == "" {
		return fmt.Errorf("%w: failure message is required", ErrValidation)
	}
	if err := validate.Struct(f); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// ValidateDiagnosis checks a validated-diagnosis descriptor.
//
// # Errors
//
// Returns an error wrapping ErrValidation describing the first violation.
func ValidateDiagnosis(d Diagnosis) error {
	if err := ValidateFailure(d.Failure); err != nil {
		return err
	}
	if strings.TrimSpace(d.FixDescription) == "" {
		return fmt.Errorf("%w: fix description is required", ErrValidation)
	}
	if len(d.RootCauses) == 0 {
		return fmt.Errorf("%w: at least one root cause is required", ErrValidation)
	}
	for i, rc := range d.RootCauses {
		if strings.TrimSpace(rc) == "" {
			return fmt.Errorf("%w: root cause %d is empty", ErrValidation, i)
		}
	}
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}
