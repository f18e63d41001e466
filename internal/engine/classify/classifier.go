// Package classify maps form-control descriptors to canonical field kinds
// using exact, regex, and token-similarity matching.
package classify

import (
	"github.com/dealbridge/dealroom-capture/internal/engine"
)

// Classifier resolves FieldDescriptors against the canonical pattern
// tables. It holds no mutable state and is safe for concurrent use.
type Classifier struct {
	tables    []keyTable
	threshold float64
}

// Option tweaks classifier construction.
type Option func(*Classifier)

// WithThreshold overrides the token-similarity gate (default 0.7).
func WithThreshold(t float64) Option {
	return func(c *Classifier) {
		if t > 0 && t <= 1 {
			c.threshold = t
		}
	}
}

// New builds a Classifier over the default tables.
func New(opts ...Option) *Classifier {
	c := &Classifier{
		tables:    defaultTables(),
		threshold: defaultSimilarityThreshold,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify resolves a descriptor to a canonical key, or KeyUnknown when
// nothing matches. Matching is tiered: exact substring containment first,
// then regex, then token-set similarity. Within each tier the tables are
// walked in fixed enumeration order and the first hit wins; there is no
// scoring across keys.
func (c *Classifier) Classify(d engine.FieldDescriptor) engine.CanonicalKey {
	text := d.Text()
	if text == "" {
		return engine.KeyUnknown
	}

	for _, t := range c.tables {
		if t.matchesExact(text) {
			return t.key
		}
	}
	for _, t := range c.tables {
		if t.matchesRegex(text) {
			return t.key
		}
	}
	for _, t := range c.tables {
		if t.matchesFuzzy(text, c.threshold) {
			return t.key
		}
	}
	return engine.KeyUnknown
}

// ClassifyAutocomplete resolves the autocomplete attribute by itself. The
// attribute is an explicit author signal, so callers check it before
// free-text classification.
func (c *Classifier) ClassifyAutocomplete(token string) engine.CanonicalKey {
	if token == "" {
		return engine.KeyUnknown
	}
	if key, ok := autocompleteKeys[normalizeAutocomplete(token)]; ok {
		return key
	}
	return engine.KeyUnknown
}

// IsSensitive reports whether a descriptor resolves to a sensitive key.
// Used by skip-sensitive mode: even a bucket value for the key must never
// be written when this returns true.
func (c *Classifier) IsSensitive(d engine.FieldDescriptor) bool {
	return c.Classify(d).IsSensitive()
}
