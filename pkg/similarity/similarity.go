// Package similarity scores unit-length vectors against each other.
package similarity

import (
	"errors"
	"fmt"
	"sort"
)

// ErrDimensionMismatch means two vectors that must be compared have
// different lengths, usually because the embedding model changed.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Match is a position in the scored collection and its score.
type Match struct {
	Index int
	Score float64
}

// Score returns the dot product of a and b. For L2-normalized inputs this is
// their cosine similarity.
func Score(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(a), len(b))
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot, nil
}

// TopK scores query against every vector and returns the best min(k, len(vectors))
// matches by descending score. Equal scores keep their input order.
func TopK(query []float32, vectors [][]float32, k int) ([]Match, error) {
	if k <= 0 || len(vectors) == 0 {
		return []Match{}, nil
	}

	matches := make([]Match, len(vectors))
	for i, v := range vectors {
		score, err := Score(query, v)
		if err != nil {
			return nil, fmt.Errorf("vector %d: %w", i, err)
		}
		matches[i] = Match{Index: i, Score: score}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	if k > len(matches) {
		k = len(matches)
	}
	return matches[:k], nil
}
