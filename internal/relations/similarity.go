// Package relations infers typed edges between canonical objects from
// structural fields, semantic hashes, keyword overlap, embedding similarity,
// and LLM judgments.
package relations

import (
	"math"
	"sort"
	"strings"

	"graphloom/pkg/types"
)

// minTitleTokenLen excludes short title tokens from keyword sets
const minTitleTokenLen = 3

// CosineSimilarity computes the cosine of the angle between two vectors.
// Vectors of unequal length score 0, as does any zero-magnitude vector.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// JaccardSimilarity computes |A∩B| / |A∪B| for two sets. Two empty sets
// score 0.
func JaccardSimilarity(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}

	intersection := 0
	for k := range a {
		if _, ok := b[k]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// KeywordSet builds the comparison vocabulary for an object: its keywords
// and labels properties plus title tokens longer than three characters, all
// lowercased.
func KeywordSet(obj *types.CanonicalObject) map[string]struct{} {
	set := make(map[string]struct{})
	for _, kw := range obj.Keywords() {
		if kw != "" {
			set[strings.ToLower(kw)] = struct{}{}
		}
	}
	for _, label := range obj.Labels() {
		if label != "" {
			set[strings.ToLower(label)] = struct{}{}
		}
	}
	for _, token := range strings.Fields(obj.Title) {
		if len([]rune(token)) > minTitleTokenLen {
			set[strings.ToLower(token)] = struct{}{}
		}
	}
	return set
}

// SharedKeywords returns the sorted intersection of two keyword sets
func SharedKeywords(a, b map[string]struct{}) []string {
	shared := make([]string, 0)
	for k := range a {
		if _, ok := b[k]; ok {
			shared = append(shared, k)
		}
	}
	sort.Strings(shared)
	return shared
}
