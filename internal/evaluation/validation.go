// Package evaluation computes per-layer quality metrics for a pipeline run:
// relation inference scored against ground truth, retrieval ranking quality,
// graph topology, temporal distribution, and consolidation opportunities.
// Every evaluator is a pure function over its inputs so reports are
// reproducible run to run.
package evaluation

import (
	"graphloom/pkg/types"
)

// ValidationReport scores inferred relations against curated ground truth
type ValidationReport struct {
	F1               float64 `json:"f1_score"`
	Precision        float64 `json:"precision"`
	Recall           float64 `json:"recall"`
	TruePositives    int     `json:"true_positives"`
	FalsePositives   int     `json:"false_positives"`
	FalseNegatives   int     `json:"false_negatives"`
	GroundTruthTotal int     `json:"ground_truth_total"`
	InferredTotal    int     `json:"inferred_total"`
}

// EvaluateValidation compares inferred relations to the ground-truth set.
// Matching is undirected and type-agnostic: an edge counts as correct when
// the same unordered ID pair appears in ground truth, whatever either side
// labeled it. Negative ground-truth rows (verified-unrelated, uncertain)
// are excluded before comparison. Totals count distinct unordered pairs, so
// bidirectional emissions never double-count.
func EvaluateValidation(inferred []types.Relation, groundTruth []types.GroundTruthRelation) ValidationReport {
	inferredPairs := make(map[string]struct{}, len(inferred))
	for i := range inferred {
		rel := &inferred[i]
		if rel.FromID == "" || rel.ToID == "" {
			continue
		}
		inferredPairs[rel.PairKey()] = struct{}{}
	}

	truthPairs := make(map[string]struct{}, len(groundTruth))
	for i := range groundTruth {
		gt := &groundTruth[i]
		if gt.IsNegative() || gt.FromID == "" || gt.ToID == "" {
			continue
		}
		truthPairs[gt.PairKey()] = struct{}{}
	}

	report := ValidationReport{
		GroundTruthTotal: len(truthPairs),
		InferredTotal:    len(inferredPairs),
	}
	for pair := range inferredPairs {
		if _, ok := truthPairs[pair]; ok {
			report.TruePositives++
		} else {
			report.FalsePositives++
		}
	}
	for pair := range truthPairs {
		if _, ok := inferredPairs[pair]; !ok {
			report.FalseNegatives++
		}
	}

	if report.TruePositives+report.FalsePositives > 0 {
		report.Precision = float64(report.TruePositives) / float64(report.TruePositives+report.FalsePositives)
	}
	if report.TruePositives+report.FalseNegatives > 0 {
		report.Recall = float64(report.TruePositives) / float64(report.TruePositives+report.FalseNegatives)
	}
	if report.Precision+report.Recall > 0 {
		report.F1 = 2 * report.Precision * report.Recall / (report.Precision + report.Recall)
	}
	return report
}
