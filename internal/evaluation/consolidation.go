package evaluation

import (
	"sort"
	"strings"
	"unicode"

	"graphloom/internal/relations"
	"graphloom/pkg/types"
)

const (
	// duplicateJaccardThreshold is the token overlap at which two objects
	// count as near-duplicates
	duplicateJaccardThreshold = 0.8
	// topDuplicateCount bounds the pair listing in the report
	topDuplicateCount = 10
)

// DuplicatePair names one near-duplicate object pair, ids in sorted order
type DuplicatePair struct {
	ObjectA    string  `json:"object_a"`
	ObjectB    string  `json:"object_b"`
	Similarity float64 `json:"similarity"`
}

// ConsolidationReport quantifies merge opportunities in the corpus
type ConsolidationReport struct {
	DuplicatePairs     int             `json:"duplicate_pairs"`
	DuplicateClusters  int             `json:"duplicate_clusters"`
	RedundantRelations int             `json:"redundant_relations"`
	AvgSimilarity      float64         `json:"avg_similarity"`
	TopDuplicates      []DuplicatePair `json:"top_duplicates"`
	ConsolidationRatio float64         `json:"consolidation_ratio"`
}

// EvaluateConsolidation finds near-duplicate objects by token overlap of
// their title, body, and summary, clusters them, and counts relations that
// repeat the same (from, to, type) triple. The consolidation ratio is total
// opportunities (duplicate pairs plus redundant relations) per object. Zero
// objects yields an all-zero report.
func EvaluateConsolidation(objects []*types.CanonicalObject, rels []types.Relation) ConsolidationReport {
	report := ConsolidationReport{TopDuplicates: []DuplicatePair{}}
	if len(objects) == 0 {
		return report
	}

	tokens := make([]map[string]struct{}, len(objects))
	for i, obj := range objects {
		tokens[i] = contentTokens(obj)
	}

	clusters := newUnionFind()
	pairs := make([]DuplicatePair, 0)
	var similaritySum float64
	for i := 0; i < len(objects); i++ {
		for j := i + 1; j < len(objects); j++ {
			sim := relations.JaccardSimilarity(tokens[i], tokens[j])
			if sim < duplicateJaccardThreshold {
				continue
			}
			a, b := objects[i].ID, objects[j].ID
			if b < a {
				a, b = b, a
			}
			pairs = append(pairs, DuplicatePair{ObjectA: a, ObjectB: b, Similarity: sim})
			similaritySum += sim
			clusters.union(objects[i].ID, objects[j].ID)
		}
	}

	report.DuplicatePairs = len(pairs)
	report.DuplicateClusters = clusters.count()
	report.RedundantRelations = redundantRelations(rels)
	if len(pairs) > 0 {
		report.AvgSimilarity = similaritySum / float64(len(pairs))
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Similarity != pairs[j].Similarity {
			return pairs[i].Similarity > pairs[j].Similarity
		}
		if pairs[i].ObjectA != pairs[j].ObjectA {
			return pairs[i].ObjectA < pairs[j].ObjectA
		}
		return pairs[i].ObjectB < pairs[j].ObjectB
	})
	top := topDuplicateCount
	if len(pairs) < top {
		top = len(pairs)
	}
	report.TopDuplicates = pairs[:top]

	opportunities := report.DuplicatePairs + report.RedundantRelations
	report.ConsolidationRatio = float64(opportunities) / float64(len(objects))
	return report
}

// redundantRelations counts repeats of the same (from, to, type) triple:
// each key contributes count minus one.
func redundantRelations(rels []types.Relation) int {
	counts := make(map[string]int, len(rels))
	for i := range rels {
		rel := &rels[i]
		key := rel.FromID + "|" + rel.ToID + "|" + string(rel.Type)
		counts[key]++
	}
	redundant := 0
	for _, count := range counts {
		if count > 1 {
			redundant += count - 1
		}
	}
	return redundant
}

// contentTokens lowercases and tokenizes everything a near-duplicate of the
// object would share: title, body, and the summary texts and keywords.
func contentTokens(obj *types.CanonicalObject) map[string]struct{} {
	var sb strings.Builder
	sb.WriteString(obj.Title)
	sb.WriteByte(' ')
	sb.WriteString(obj.Body)
	if obj.Summary != nil {
		for _, part := range []string{obj.Summary.Short, obj.Summary.Medium, obj.Summary.Long} {
			sb.WriteByte(' ')
			sb.WriteString(part)
		}
		for _, kw := range obj.Summary.Keywords {
			sb.WriteByte(' ')
			sb.WriteString(kw)
		}
	}

	set := make(map[string]struct{})
	words := strings.FieldsFunc(strings.ToLower(sb.String()), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, word := range words {
		set[word] = struct{}{}
	}
	return set
}

// unionFind is a disjoint-set forest over object ids with path compression.
type unionFind struct {
	parent map[string]string
	size   map[string]int
}

func newUnionFind() *unionFind {
	return &unionFind{
		parent: make(map[string]string),
		size:   make(map[string]int),
	}
}

func (uf *unionFind) find(id string) string {
	if _, ok := uf.parent[id]; !ok {
		uf.parent[id] = id
		uf.size[id] = 1
	}
	root := id
	for uf.parent[root] != root {
		root = uf.parent[root]
	}
	for uf.parent[id] != root {
		uf.parent[id], id = root, uf.parent[id]
	}
	return root
}

func (uf *unionFind) union(a, b string) {
	rootA, rootB := uf.find(a), uf.find(b)
	if rootA == rootB {
		return
	}
	if uf.size[rootA] < uf.size[rootB] {
		rootA, rootB = rootB, rootA
	}
	uf.parent[rootB] = rootA
	uf.size[rootA] += uf.size[rootB]
}

// count returns the number of multi-member clusters.
func (uf *unionFind) count() int {
	clusters := 0
	for id := range uf.parent {
		if uf.find(id) == id && uf.size[id] > 1 {
			clusters++
		}
	}
	return clusters
}
