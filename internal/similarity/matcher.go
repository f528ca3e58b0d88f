// Package similarity decides whether two normalized title keys describe the
// same event using token-set Jaccard similarity.
package similarity

import (
	"fmt"
	"strings"
)

const (
	DefaultThreshold = 0.6

	// MinScoredTokens is the smallest token count scored by Jaccard. Shorter
	// keys only match on exact equality.
	MinScoredTokens = 3
)

type Matcher struct {
	threshold float64
}

func NewMatcher(threshold float64) (*Matcher, error) {
	if threshold <= 0 || threshold > 1 {
		return nil, fmt.Errorf("title similarity threshold must be in (0, 1] (got %.3f)", threshold)
	}
	return &Matcher{threshold: threshold}, nil
}

// Default returns a matcher using DefaultThreshold.
func Default() *Matcher {
	return &Matcher{threshold: DefaultThreshold}
}

func (m *Matcher) Threshold() float64 {
	if m == nil {
		return DefaultThreshold
	}
	return m.threshold
}

// IsDuplicateTitle reports whether keyA and keyB refer to the same event.
// It is symmetric and an empty key never matches.
func (m *Matcher) IsDuplicateTitle(keyA, keyB string) bool {
	left := tokenSet(keyA)
	right := tokenSet(keyB)
	if len(left) == 0 || len(right) == 0 {
		return false
	}
	if len(left) < MinScoredTokens || len(right) < MinScoredTokens {
		return sameSet(left, right)
	}
	return jaccard(left, right) >= m.Threshold()
}

// Score returns the token-set Jaccard similarity of two keys in [0, 1].
func (m *Matcher) Score(keyA, keyB string) float64 {
	return jaccard(tokenSet(keyA), tokenSet(keyB))
}

func jaccard(left, right map[string]struct{}) float64 {
	if len(left) == 0 || len(right) == 0 {
		return 0
	}

	intersection := 0
	for token := range left {
		if _, ok := right[token]; ok {
			intersection++
		}
	}
	if intersection == 0 {
		return 0
	}

	union := len(left) + len(right) - intersection
	if union <= 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func sameSet(left, right map[string]struct{}) bool {
	if len(left) != len(right) {
		return false
	}
	for token := range left {
		if _, ok := right[token]; !ok {
			return false
		}
	}
	return true
}

func tokenSet(key string) map[string]struct{} {
	fields := strings.Fields(key)
	if len(fields) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		set[field] = struct{}{}
	}
	return set
}
