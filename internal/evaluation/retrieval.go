package evaluation

import (
	"math"
	"sort"

	"graphloom/pkg/types"
)

// Cutoffs used by the retrieval stage report
const (
	NDCGCutoff      = 10
	PrecisionCutoff = 5
	RecallCutoff    = 10
)

// QueryResult pairs one ground-truth query with what the retriever returned
// for it, best hit first.
type QueryResult struct {
	Query           types.GroundTruthQuery
	RetrievedIDs    []string
	RetrievalTimeMS float64
}

// RetrievalReport aggregates ranking quality over a query set
type RetrievalReport struct {
	NDCGAt10           float64 `json:"ndcg_at_10"`
	MRR                float64 `json:"mrr"`
	PrecisionAt5       float64 `json:"precision_at_5"`
	RecallAt10         float64 `json:"recall_at_10"`
	AvgRetrievalTimeMS float64 `json:"avg_retrieval_time_ms"`
	QueryCount         int     `json:"query_count"`
}

// EvaluateRetrieval averages per-query ranking metrics arithmetically. An
// empty result set yields an all-zero report.
func EvaluateRetrieval(results []QueryResult) RetrievalReport {
	report := RetrievalReport{QueryCount: len(results)}
	if len(results) == 0 {
		return report
	}

	for i := range results {
		r := &results[i]
		report.NDCGAt10 += NDCGAtK(r.RetrievedIDs, r.Query.ExpectedResults, NDCGCutoff)
		report.MRR += MRR(r.RetrievedIDs, r.Query.ExpectedResults)
		report.PrecisionAt5 += PrecisionAtK(r.RetrievedIDs, r.Query.ExpectedResults, PrecisionCutoff)
		report.RecallAt10 += RecallAtK(r.RetrievedIDs, r.Query.ExpectedResults, RecallCutoff)
		report.AvgRetrievalTimeMS += r.RetrievalTimeMS
	}

	n := float64(len(results))
	report.NDCGAt10 /= n
	report.MRR /= n
	report.PrecisionAt5 /= n
	report.RecallAt10 /= n
	report.AvgRetrievalTimeMS /= n
	return report
}

// NDCGAtK computes normalized discounted cumulative gain over the first k
// retrieved ids: DCG = Σ rel(r_i)/log2(i+2), normalized by the DCG of the
// ideal ordering. Returns 0 when the ideal DCG is 0.
func NDCGAtK(retrievedIDs []string, expected []types.ExpectedResult, k int) float64 {
	if k <= 0 {
		return 0
	}
	relevance := relevanceByID(expected)

	var dcg float64
	for i, id := range retrievedIDs {
		if i >= k {
			break
		}
		if rel, ok := relevance[id]; ok {
			dcg += rel / math.Log2(float64(i+2))
		}
	}

	ideal := make([]float64, 0, len(relevance))
	for _, rel := range relevance {
		ideal = append(ideal, rel)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(ideal)))

	var idcg float64
	for i, rel := range ideal {
		if i >= k {
			break
		}
		idcg += rel / math.Log2(float64(i+2))
	}
	if idcg == 0 {
		return 0
	}
	return dcg / idcg
}

// MRR returns the reciprocal rank of the first relevant retrieved id, ranks
// counting from 1, or 0 when nothing relevant was retrieved.
func MRR(retrievedIDs []string, expected []types.ExpectedResult) float64 {
	relevant := relevantSet(expected)
	for i, id := range retrievedIDs {
		if _, ok := relevant[id]; ok {
			return 1 / float64(i+1)
		}
	}
	return 0
}

// PrecisionAtK returns |retrieved[:k] ∩ relevant| / k_actual where k_actual
// is min(k, |retrieved|). An empty retrieval scores 0.
func PrecisionAtK(retrievedIDs []string, expected []types.ExpectedResult, k int) float64 {
	if k <= 0 || len(retrievedIDs) == 0 {
		return 0
	}
	kActual := k
	if len(retrievedIDs) < k {
		kActual = len(retrievedIDs)
	}
	return float64(hitsAtK(retrievedIDs, expected, k)) / float64(kActual)
}

// RecallAtK returns |retrieved[:k] ∩ relevant| / |relevant|, or 0 when the
// query has no relevant objects.
func RecallAtK(retrievedIDs []string, expected []types.ExpectedResult, k int) float64 {
	relevant := relevantSet(expected)
	if len(relevant) == 0 {
		return 0
	}
	return float64(hitsAtK(retrievedIDs, expected, k)) / float64(len(relevant))
}

func hitsAtK(retrievedIDs []string, expected []types.ExpectedResult, k int) int {
	relevant := relevantSet(expected)
	hits := 0
	for i, id := range retrievedIDs {
		if i >= k {
			break
		}
		if _, ok := relevant[id]; ok {
			hits++
		}
	}
	return hits
}

// relevanceByID maps expected object ids to their graded relevance. Zero and
// negative grades are dropped: they mark non-relevant entries.
func relevanceByID(expected []types.ExpectedResult) map[string]float64 {
	out := make(map[string]float64, len(expected))
	for _, exp := range expected {
		if exp.RelevanceScore > 0 && exp.CanonicalObjectID != "" {
			out[exp.CanonicalObjectID] = exp.RelevanceScore
		}
	}
	return out
}

func relevantSet(expected []types.ExpectedResult) map[string]struct{} {
	out := make(map[string]struct{}, len(expected))
	for _, exp := range expected {
		if exp.RelevanceScore > 0 && exp.CanonicalObjectID != "" {
			out[exp.CanonicalObjectID] = struct{}{}
		}
	}
	return out
}
