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
	"hash/fnv"
	"regexp"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// FingerprintConfig configures failure fingerprinting behavior.
type FingerprintConfig struct {
	// KGramSize is the size of word k-grams hashed for similarity.
	KGramSize int

	// NumHashFuncs is the number of hash functions for MinHash.
	NumHashFuncs int

	// TemplateCacheTTL bounds how long normalized templates are memoized.
	// Zero disables the cache.
	TemplateCacheTTL time.Duration
}

// DefaultFingerprintConfig returns sensible defaults.
func DefaultFingerprintConfig() FingerprintConfig {
	return FingerprintConfig{
		KGramSize:        3,
		NumHashFuncs:     100,
		TemplateCacheTTL: 5 * time.Minute,
	}
}

// Signature is the full fingerprinting result for one failure.
type Signature struct {
	// Key is the stable composite identity key.
	Key FingerprintKey

	// Criteria is the similarity-scoring data derived from the message.
	Criteria Criteria

	// PlaceholderRatio is the fraction of template tokens that are
	// normalization placeholders, used by the generalization heuristic.
	PlaceholderRatio float64
}

// Volatile-token substitution rules, applied in order. Order matters:
// UUIDs before hex runs, timestamps before bare numbers, paths before
// the generic number rule so ":42" suffixes collapse into the path.
var (
	reUUID      = regexp.MustCompile(`\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`)
	reTimestamp = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}[t ]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:z|[+-]\d{2}:?\d{2})?\b`)
	reClock     = regexp.MustCompile(`\b\d{1,2}:\d{2}:\d{2}(?:\.\d+)?\b`)
	reHexAddr   = regexp.MustCompile(`\b0x[0-9a-f]+\b`)
	reWinPath   = regexp.MustCompile(`\b[a-z]:\\[^\s'"]+`)
	reUnixPath  = regexp.MustCompile(`(?:~|\.{1,2})?(?:/[\w.\-+%@]+){1,}/?(?::\d+(?::\d+)?)?`)
	reHexRun    = regexp.MustCompile(`\b[0-9a-f]{7,64}\b`)
	reNumber    = regexp.MustCompile(`\b\d+\b`)
	reSpace     = regexp.MustCompile(`\s+`)

	// reErrorType extracts a structural error-type cue from the raw
	// message, e.g. "TimeoutError" or "AssertionException".
	reErrorType = regexp.MustCompile(`(?i)\b([A-Za-z]\w*(?:Error|Exception|Panic|Fault))\b`)
)

// templatePlaceholders are the tokens substitution rules emit.
var templatePlaceholders = map[string]bool{
	"<uuid>": true,
	"<time>": true,
	"<addr>": true,
	"<path>": true,
	"<hex>":  true,
	"<num>":  true,
}

// Fingerprinter derives stable identity keys from failure descriptors.
//
// # Description
//
// The raw message is canonicalized by substituting volatile tokens (file
// paths, line numbers, timestamps, hex addresses, UUIDs) with fixed
// placeholders, lower-casing, and collapsing whitespace. The template is
// combined with category and component into a composite key, and word
// k-grams over the template feed token hashes and a MinHash signature for
// similarity scoring.
//
// Two failures differing only in volatile tokens yield the same key.
//
// # Thread Safety
//
// Safe for concurrent use.
type Fingerprinter struct {
	config    FingerprintConfig
	hashSeeds []uint64
	templates *gocache.Cache // raw message → normalized template
}

// NewFingerprinter creates a fingerprinter with pre-computed MinHash seeds.
//
// # Inputs
//
//   - config: Fingerprinting configuration. Zero fields take defaults.
//
// # Outputs
//
//   - *Fingerprinter: Configured fingerprinter.
func NewFingerprinter(config FingerprintConfig) *Fingerprinter {
	def := DefaultFingerprintConfig()
	if config.KGramSize <= 0 {
		config.KGramSize = def.KGramSize
	}
	if config.NumHashFuncs <= 0 {
		config.NumHashFuncs = def.NumHashFuncs
	}

	// Deterministic seeds, same scheme across processes so persisted
	// MinHash signatures stay comparable after a restart.
	seeds := make([]uint64, config.NumHashFuncs)
	for i := range seeds {
		seeds[i] = uint64(i*31 + 17)
	}

	f := &Fingerprinter{
		config:    config,
		hashSeeds: seeds,
	}
	if config.TemplateCacheTTL > 0 {
		f.templates = gocache.New(config.TemplateCacheTTL, 2*config.TemplateCacheTTL)
	}
	return f
}

// Fingerprint derives the signature for a failure.
//
// # Description
//
// Deterministic for semantically identical failures: repeated calls and
// failures differing only in volatile tokens produce identical keys.
//
// # Inputs
//
//   - failure: The structured failure descriptor.
//
// # Outputs
//
//   - Signature: Key, similarity criteria, and placeholder ratio.
//   - error: Wraps ErrValidation when category or component is absent.
func (f *Fingerprinter) Fingerprint(failure Failure) (Signature, error) {
	if err := ValidateFailure(failure); err != nil {
		return Signature{}, err
	}

	template := f.Normalize(failure.Message)
	tokens := strings.Fields(template)

	placeholders := 0
	for _, tok := range tokens {
		if templatePlaceholders[tok] {
			placeholders++
		}
	}
	ratio := 0.0
	if len(tokens) > 0 {
		ratio = float64(placeholders) / float64(len(tokens))
	}

	tokenHashes := hashKGrams(kgrams(tokens, f.config.KGramSize))

	sig := Signature{
		Key: FingerprintKey{
			Category:     failure.Category,
			Component:    strings.ToLower(strings.TrimSpace(failure.Component)),
			TemplateHash: hashTemplate(template),
		},
		Criteria: Criteria{
			MessageTemplate: template,
			TokenHashes:     tokenHashes,
			MinHashSig:      f.minHash(tokenHashes),
			ErrorType:       extractErrorType(failure.Message),
		},
		PlaceholderRatio: ratio,
	}
	return sig, nil
}

// Normalize canonicalizes a raw message into its template form.
//
// # Description
//
// Applies the fixed substitution rules, lower-cases, and collapses
// whitespace. Results are memoized with a TTL when the cache is enabled;
// the cache never holds store state, so it cannot go stale against the
// pattern set.
func (f *Fingerprinter) Normalize(message string) string {
	if f.templates != nil {
		if cached, ok := f.templates.Get(message); ok {
			return cached.(string)
		}
	}

	s := strings.ToLower(message)
	s = reUUID.ReplaceAllString(s, "<uuid>")
	s = reTimestamp.ReplaceAllString(s, "<time>")
	s = reClock.ReplaceAllString(s, "<time>")
	s = reHexAddr.ReplaceAllString(s, "<addr>")
	s = reWinPath.ReplaceAllString(s, "<path>")
	s = reUnixPath.ReplaceAllString(s, "<path>")
	s = reHexRun.ReplaceAllString(s, "<hex>")
	s = reNumber.ReplaceAllString(s, "<num>")
	s = reSpace.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)

	if f.templates != nil {
		f.templates.SetDefault(message, s)
	}
	return s
}

// extractErrorType pulls the first error-type token from the raw message.
func extractErrorType(message string) string {
	m := reErrorType.FindStringSubmatch(message)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// kgrams extracts word k-grams from template tokens.
func kgrams(tokens []string, k int) []string {
	if len(tokens) == 0 {
		return nil
	}
	if len(tokens) < k {
		return []string{strings.Join(tokens, " ")}
	}
	grams := make([]string, 0, len(tokens)-k+1)
	for i := 0; i <= len(tokens)-k; i++ {
		grams = append(grams, strings.Join(tokens[i:i+k], " "))
	}
	return grams
}

// hashKGrams hashes each k-gram with FNV-64a.
func hashKGrams(grams []string) []uint64 {
	hashes := make([]uint64, len(grams))
	for i, g := range grams {
		h := fnv.New64a()
		h.Write([]byte(g))
		hashes[i] = h.Sum64()
	}
	return hashes
}

// hashTemplate hashes the full template with FNV-64a.
func hashTemplate(template string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(template))
	return h.Sum64()
}

// minHash computes the MinHash signature over token hashes.
func (f *Fingerprinter) minHash(hashes []uint64) []uint64 {
	sig := make([]uint64, f.config.NumHashFuncs)
	if len(hashes) == 0 {
		return sig
	}
	for i := range sig {
		sig[i] = ^uint64(0)
	}
	for _, h := range hashes {
		for i, seed := range f.hashSeeds {
			combined := h ^ (seed * 0x9e3779b97f4a7c15)
			if combined < sig[i] {
				sig[i] = combined
			}
		}
	}
	return sig
}

// Jaccard computes the exact Jaccard similarity of two criteria's token
// hash sets.
//
// # Description
//
// Cost is linear in the number of token hashes, which is linear in
// message length. Returns a value in [0,1]. A matching ErrorType cue
// nudges near-miss scores upward by a small fixed bonus, capped at 1.
func (c Criteria) Jaccard(other Criteria) float64 {
	if len(c.TokenHashes) == 0 || len(other.TokenHashes) == 0 {
		return 0
	}

	set := make(map[uint64]struct{}, len(c.TokenHashes))
	for _, h := range c.TokenHashes {
		set[h] = struct{}{}
	}
	otherSet := make(map[uint64]struct{}, len(other.TokenHashes))
	for _, h := range other.TokenHashes {
		otherSet[h] = struct{}{}
	}

	intersection := 0
	for h := range set {
		if _, ok := otherSet[h]; ok {
			intersection++
		}
	}
	union := len(set) + len(otherSet) - intersection
	if union == 0 {
		return 0
	}

	sim := float64(intersection) / float64(union)
	if c.ErrorType != "" && strings.EqualFold(c.ErrorType, other.ErrorType) {
		sim += 0.05
		if sim > 1 {
			sim = 1
		}
	}
	return sim
}

// EstimatedJaccard estimates similarity from MinHash signatures in O(1)
// per comparison. Less accurate than Jaccard but independent of message
// length; used by maintenance-time all-pairs scans.
func (c Criteria) EstimatedJaccard(other Criteria) float64 {
	if len(c.MinHashSig) == 0 || len(c.MinHashSig) != len(other.MinHashSig) {
		return 0
	}
	matches := 0
	for i := range c.MinHashSig {
		if c.MinHashSig[i] == other.MinHashSig[i] {
			matches++
		}
	}
	return float64(matches) / float64(len(c.MinHashSig))
}
