// Package foundation holds small generic helpers shared across packages.
package foundation

import (
	"fmt"
	"strings"
)

// Normalizer maps loosely formatted input onto a closed set of values.
// Keys are matched case-insensitively with surrounding space trimmed.
type Normalizer[T comparable] struct {
	values   map[string]T
	fallback T
}

// NewNormalizer returns a normalizer over values. Normalize returns fallback
// for anything it does not recognize.
func NewNormalizer[T comparable](values map[string]T, fallback T) *Normalizer[T] {
	m := make(map[string]T, len(values))
	for k, v := range values {
		m[clean(k)] = v
	}
	return &Normalizer[T]{values: m, fallback: fallback}
}

func clean(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Normalize returns the value for raw, or the fallback.
func (n *Normalizer[T]) Normalize(raw string) T {
	if v, ok := n.values[clean(raw)]; ok {
		return v
	}
	return n.fallback
}

// Parse is Normalize that rejects unknown input. Empty input yields the
// fallback.
func (n *Normalizer[T]) Parse(raw string) (T, error) {
	if clean(raw) == "" {
		return n.fallback, nil
	}
	if v, ok := n.values[clean(raw)]; ok {
		return v, nil
	}
	var zero T
	return zero, fmt.Errorf("unknown value %q", raw)
}
