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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCategory(t *testing.T) {
	tests := []struct {
		label string
		want  Category
	}{
		{"dependency-error", CategoryDependency},
		{"assertion-failure", CategoryAssertion},
		{"fixture-error", CategoryFixture},
		{"environment-error", CategoryEnvironment},
		{"permission-error", CategoryPermission},
		{"configuration-error", CategoryConfiguration},
		{"other", CategoryOther},
		{"ASSERTION-FAILURE", CategoryAssertion},
		{"  other  ", CategoryOther},
		{"flaky-network", CategoryOther},
		{"", CategoryOther},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseCategory(tt.label))
		})
	}
}

func TestNormalize_VolatileTokens(t *testing.T) {
	fp := NewFingerprinter(FingerprintConfig{})

	tests := []struct {
		name    string
		message string
		want    string
	}{
		{
			name:    "numbers",
			message: "connection refused after 30 attempts",
			want:    "connection refused after <num> attempts",
		},
		{
			name:    "uuid",
			message: "session 550e8400-e29b-41d4-a716-446655440000 expired",
			want:    "session <uuid> expired",
		},
		{
			name:    "hex address",
			message: "segfault at 0xDEADBEEF in worker",
			want:    "segfault at <addr> in worker",
		},
		{
			name:    "unix path with line number",
			message: "error in /usr/lib/app/handler.py:212",
			want:    "error in <path>",
		},
		{
			name:    "timestamp",
			message: "expired at 2025-11-03T14:22:07Z on node",
			want:    "expired at <time> on node",
		},
		{
			name:    "whitespace collapse and lowering",
			message: "  Connection   REFUSED  ",
			want:    "connection refused",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fp.Normalize(tt.message))
		})
	}
}

func TestFingerprint_Deterministic(t *testing.T) {
	fp := NewFingerprinter(DefaultFingerprintConfig())
	failure := Failure{
		Category:  CategoryDependency,
		Component: "builder",
		Message:   "failed to resolve module requests at /srv/build/run-42/deps.lock:17",
	}

	a, err := fp.Fingerprint(failure)
	require.NoError(t, err)
	b, err := fp.Fingerprint(failure)
	require.NoError(t, err)

	assert.Equal(t, a.Key, b.Key)
	assert.Equal(t, a.Criteria.MessageTemplate, b.Criteria.MessageTemplate)
	assert.Equal(t, a.Criteria.TokenHashes, b.Criteria.TokenHashes)
	assert.Equal(t, a.Criteria.MinHashSig, b.Criteria.MinHashSig)
}

func TestFingerprint_VolatileTokensShareKey(t *testing.T) {
	fp := NewFingerprinter(DefaultFingerprintConfig())

	a, err := fp.Fingerprint(Failure{
		Category:  CategoryEnvironment,
		Component: "runner",
		Message:   "worker 17 timed out after 30 seconds at 2025-11-03T14:22:07Z",
	})
	require.NoError(t, err)

	b, err := fp.Fingerprint(Failure{
		Category:  CategoryEnvironment,
		Component: "runner",
		Message:   "worker 99 timed out after 45 seconds at 2026-01-20T09:01:33Z",
	})
	require.NoError(t, err)

	assert.Equal(t, a.Key, b.Key, "volatile-token variants must share a fingerprint key")
	assert.Equal(t, a.Key.String(), b.Key.String())
}

func TestFingerprint_KeyComponents(t *testing.T) {
	fp := NewFingerprinter(DefaultFingerprintConfig())

	base := Failure{Category: CategoryAssertion, Component: "auth", Message: "token mismatch"}
	sig, err := fp.Fingerprint(base)
	require.NoError(t, err)

	otherCategory := base
	otherCategory.Category = CategoryFixture
	sigCat, err := fp.Fingerprint(otherCategory)
	require.NoError(t, err)
	assert.NotEqual(t, sig.Key, sigCat.Key, "category is part of the key")

	otherComponent := base
	otherComponent.Component = "billing"
	sigComp, err := fp.Fingerprint(otherComponent)
	require.NoError(t, err)
	assert.NotEqual(t, sig.Key, sigComp.Key, "component is part of the key")
	assert.Equal(t, sig.Key.TemplateHash, sigComp.Key.TemplateHash, "same message keeps the same template hash")

	// Component comparison ignores case.
	upper := base
	upper.Component = "AUTH"
	sigUpper, err := fp.Fingerprint(upper)
	require.NoError(t, err)
	assert.Equal(t, sig.Key, sigUpper.Key)
}

func TestFingerprint_ValidationErrors(t *testing.T) {
	fp := NewFingerprinter(DefaultFingerprintConfig())

	tests := []struct {
		name    string
		failure Failure
	}{
		{"missing component", Failure{Category: CategoryOther, Message: "boom"}},
		{"missing message", Failure{Category: CategoryOther, Component: "x"}},
		{"whitespace message", Failure{Category: CategoryOther, Component: "x", Message: "   "}},
		{"invalid category", Failure{Category: Category("flaky"), Component: "x", Message: "boom"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fp.Fingerprint(tt.failure)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestExtractErrorType(t *testing.T) {
	tests := []struct {
		message string
		want    string
	}{
		{"TimeoutError: connection timed out", "TimeoutError"},
		{"caught AssertionException in test_login", "AssertionException"},
		{"runtime Panic in handler", "Panic"},
		{"plain message without a cue", ""},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			assert.Equal(t, tt.want, extractErrorType(tt.message))
		})
	}
}

func TestFingerprint_PlaceholderRatio(t *testing.T) {
	fp := NewFingerprinter(DefaultFingerprintConfig())

	sig, err := fp.Fingerprint(Failure{
		Category:  CategoryEnvironment,
		Component: "runner",
		Message:   "timeout after 30 of 60", // "timeout after <num> of <num>"
	})
	require.NoError(t, err)
	assert.InDelta(t, 2.0/5.0, sig.PlaceholderRatio, 1e-9)

	sig2, err := fp.Fingerprint(Failure{
		Category:  CategoryEnvironment,
		Component: "runner",
		Message:   "plain words only here",
	})
	require.NoError(t, err)
	assert.Zero(t, sig2.PlaceholderRatio)
}

func TestKGrams(t *testing.T) {
	assert.Nil(t, kgrams(nil, 3))
	assert.Equal(t, []string{"a b"}, kgrams([]string{"a", "b"}, 3))
	assert.Equal(t,
		[]string{"a b c", "b c d"},
		kgrams([]string{"a", "b", "c", "d"}, 3),
	)
}

func TestJaccard(t *testing.T) {
	fp := NewFingerprinter(DefaultFingerprintConfig())

	sig := func(msg string) Signature {
		s, err := fp.Fingerprint(Failure{Category: CategoryOther, Component: "c", Message: msg})
		require.NoError(t, err)
		return s
	}

	same := sig("database connection refused by server on port 5432")
	assert.InDelta(t, 1.0, same.Criteria.Jaccard(same.Criteria), 1e-9)

	a := sig("database connection refused by server on port 5432")
	b := sig("database connection refused by server after timeout")
	sim := a.Criteria.Jaccard(b.Criteria)
	assert.Greater(t, sim, 0.0)
	assert.Less(t, sim, 1.0)

	disjoint := sig("completely unrelated failure text here")
	assert.Zero(t, a.Criteria.Jaccard(disjoint.Criteria))

	empty := Criteria{}
	assert.Zero(t, empty.Jaccard(a.Criteria))
	assert.Zero(t, a.Criteria.Jaccard(empty))
}

func TestJaccard_ErrorTypeBonus(t *testing.T) {
	a := Criteria{TokenHashes: []uint64{1, 2, 3, 4}, ErrorType: "TimeoutError"}
	b := Criteria{TokenHashes: []uint64{1, 2, 3, 5}, ErrorType: "timeouterror"}
	c := Criteria{TokenHashes: []uint64{1, 2, 3, 5}}

	plain := a.Jaccard(c)
	boosted := a.Jaccard(b)
	assert.InDelta(t, plain+0.05, boosted, 1e-9)

	// The bonus never pushes similarity past 1.
	identical := Criteria{TokenHashes: []uint64{1, 2}, ErrorType: "TimeoutError"}
	assert.InDelta(t, 1.0, identical.Jaccard(identical), 1e-9)
}

func TestEstimatedJaccard(t *testing.T) {
	fp := NewFingerprinter(DefaultFingerprintConfig())

	sig := func(msg string) Signature {
		s, err := fp.Fingerprint(Failure{Category: CategoryOther, Component: "c", Message: msg})
		require.NoError(t, err)
		return s
	}

	a := sig("database connection refused by server on port 5432")
	assert.InDelta(t, 1.0, a.Criteria.EstimatedJaccard(a.Criteria), 1e-9)

	b := sig("completely unrelated failure text with different words")
	est := a.Criteria.EstimatedJaccard(b.Criteria)
	assert.GreaterOrEqual(t, est, 0.0)
	assert.Less(t, est, 0.5)

	// Length mismatch yields zero rather than a bogus estimate.
	short := Criteria{MinHashSig: []uint64{1, 2}}
	assert.Zero(t, a.Criteria.EstimatedJaccard(short))
}

func TestNormalize_TemplateCache(t *testing.T) {
	fp := NewFingerprinter(DefaultFingerprintConfig())
	msg := "worker 17 crashed at 0xdeadbeef"

	first := fp.Normalize(msg)
	second := fp.Normalize(msg)
	assert.Equal(t, first, second)

	// Cache disabled still normalizes identically.
	uncached := NewFingerprinter(FingerprintConfig{TemplateCacheTTL: 0})
	assert.Equal(t, first, uncached.Normalize(msg))
}

func TestValidateDiagnosis(t *testing.T) {
	valid := Diagnosis{
		Failure: Failure{
			Category:  CategoryAssertion,
			Component: "auth",
			Message:   "expected 200 got 401",
		},
		RootCauses:      []string{"expired fixture token"},
		FixDescription:  "regenerate the fixture token",
		ValidationScore: 0.95,
	}
	require.NoError(t, ValidateDiagnosis(valid))

	noCause := valid
	noCause.RootCauses = nil
	assert.ErrorIs(t, ValidateDiagnosis(noCause), ErrValidation)

	blankCause := valid
	blankCause.RootCauses = []string{"  "}
	assert.ErrorIs(t, ValidateDiagnosis(blankCause), ErrValidation)

	noFix := valid
	noFix.FixDescription = ""
	assert.ErrorIs(t, ValidateDiagnosis(noFix), ErrValidation)

	badFailure := valid
	badFailure.Failure.Message = ""
	assert.ErrorIs(t, ValidateDiagnosis(badFailure), ErrValidation)
}

func TestComputeEffectiveness(t *testing.T) {
	m := Metrics{}
	assert.InDelta(t, 0.5, m.ComputeEffectiveness(), 1e-9, "no feedback scores 0.5")

	m = Metrics{SuccessCount: 1}
	assert.InDelta(t, 2.0/3.0, m.ComputeEffectiveness(), 1e-9)

	// Strictly increasing in successes.
	prev := 0.0
	for s := int64(0); s < 10; s++ {
		m := Metrics{SuccessCount: s, FalsePositiveCount: 3}
		score := m.ComputeEffectiveness()
		assert.Greater(t, score, prev)
		prev = score
	}

	// Strictly decreasing in false positives.
	prev = 1.0
	for f := int64(0); f < 10; f++ {
		m := Metrics{SuccessCount: 3, FalsePositiveCount: f}
		score := m.ComputeEffectiveness()
		assert.Less(t, score, prev)
		prev = score
	}
}
