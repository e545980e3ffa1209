// Package similarity provides the pure scoring functions used to rank
// memories: vector cosine similarity and a keyword-overlap fallback for
// when no embeddings are available.
package similarity

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// minTokenLength drops short stop-word-ish tokens from keyword scoring.
const minTokenLength = 3

// DimensionMismatchError reports an attempt to compare vectors of unequal
// length. This is a data-integrity error and propagates loudly rather
// than degrading.
type DimensionMismatchError struct {
	LenA, LenB int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("vector dimension mismatch: %d vs %d", e.LenA, e.LenB)
}

// Cosine returns the cosine similarity of two vectors. A zero-magnitude
// input yields 0, never NaN.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, &DimensionMismatchError{LenA: len(a), LenB: len(b)}
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// Candidate pairs an identifier with its stored vector.
type Candidate struct {
	ID     string
	Vector []float32
}

// Match is a candidate that scored at or above the threshold.
type Match struct {
	ID    string
	Score float64
}

// FindSimilar scores every candidate against the query vector, keeps
// those with score >= minScore, and returns up to limit matches sorted
// by descending score.
func FindSimilar(query []float32, candidates []Candidate, limit int, minScore float64) ([]Match, error) {
	var matches []Match
	for _, c := range candidates {
		score, err := Cosine(query, c.Vector)
		if err != nil {
			return nil, err
		}
		if score >= minScore {
			matches = append(matches, Match{ID: c.ID, Score: score})
		}
	}

	slices.SortFunc(matches, func(a, b Match) int {
		if a.Score > b.Score {
			return -1
		}
		if a.Score < b.Score {
			return 1
		}
		return 0
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// KeywordScore returns the fraction of qualifying query tokens present in
// the content. Tokens are whitespace-split, lowercased, and dropped when
// shorter than three characters. Membership is per token set, not
// frequency. An empty query token set scores 0.
func KeywordScore(query, content string) float64 {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return 0
	}
	contentTokens := tokenize(content)

	matched := 0
	for token := range queryTokens {
		if _, ok := contentTokens[token]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTokens))
}

// tokenize builds the qualifying token set of a text.
func tokenize(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, field := range strings.Fields(text) {
		token := strings.ToLower(field)
		if len(token) < minTokenLength {
			continue
		}
		tokens[token] = struct{}{}
	}
	return tokens
}
