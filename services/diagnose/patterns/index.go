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

import "sort"

// indexSet is one immutable generation of the derived lookup structures.
//
// # Description
//
// Three indices over the pattern store: exact fingerprint → pattern IDs,
// category+component family → pattern IDs, and category → pattern IDs.
// An indexSet is never mutated after construction; writers build a new
// generation and swap it in atomically, so readers always traverse a
// consistent snapshot. It is always derivable from the store alone and
// is never persisted.
type indexSet struct {
	generation int64

	// exact maps the composite fingerprint key string to pattern IDs.
	// Fingerprints are not unique: near-duplicates may coexist until
	// the maintainer merges them.
	exact map[string][]string

	// families maps category|component keys to pattern IDs.
	families map[string][]string

	// categories maps each category to its pattern IDs.
	categories map[Category][]string
}

// emptyIndexSet returns generation zero with no entries.
func emptyIndexSet() *indexSet {
	return &indexSet{
		exact:      map[string][]string{},
		families:   map[string][]string{},
		categories: map[Category][]string{},
	}
}

// buildIndexSet derives a fresh index generation from the given patterns.
//
// # Description
//
// ID lists are sorted so repeated builds over the same store produce
// identical traversal order, which keeps match ranking stable.
func buildIndexSet(generation int64, patterns map[string]*Pattern) *indexSet {
	idx := &indexSet{
		generation: generation,
		exact:      make(map[string][]string, len(patterns)),
		families:   make(map[string][]string),
		categories: make(map[Category][]string),
	}

	for id, p := range patterns {
		idx.exact[p.Fingerprint] = append(idx.exact[p.Fingerprint], id)
		fam := familyKey(p.Category, p.Component)
		idx.families[fam] = append(idx.families[fam], id)
		idx.categories[p.Category] = append(idx.categories[p.Category], id)
	}

	for _, ids := range idx.exact {
		sort.Strings(ids)
	}
	for _, ids := range idx.families {
		sort.Strings(ids)
	}
	for _, ids := range idx.categories {
		sort.Strings(ids)
	}
	return idx
}

// lookupExact returns pattern IDs with the given fingerprint key.
func (idx *indexSet) lookupExact(key FingerprintKey) []string {
	return idx.exact[key.String()]
}

// lookupFamily returns pattern IDs in the category+component family.
func (idx *indexSet) lookupFamily(category Category, component string) []string {
	return idx.families[familyKey(category, component)]
}
