package evaluation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"graphloom/pkg/types"
)

func gradedExpectations() []types.ExpectedResult {
	return []types.ExpectedResult{
		{CanonicalObjectID: "A", RelevanceScore: 3},
		{CanonicalObjectID: "C", RelevanceScore: 2},
	}
}

func TestNDCGAtK(t *testing.T) {
	retrieved := []string{"A", "B", "C", "D", "E"}
	// DCG = 3/log2(2) + 2/log2(4) = 4.0; ideal = 3/log2(2) + 2/log2(3).
	ndcg := NDCGAtK(retrieved, gradedExpectations(), 5)
	assert.InDelta(t, 0.939, ndcg, 0.001)

	// Perfect ordering scores 1.
	assert.InDelta(t, 1.0, NDCGAtK([]string{"A", "C"}, gradedExpectations(), 5), 1e-9)

	// Nothing relevant retrieved, or nothing relevant expected, scores 0.
	assert.Zero(t, NDCGAtK([]string{"X", "Y"}, gradedExpectations(), 5))
	assert.Zero(t, NDCGAtK(retrieved, nil, 5))
	assert.Zero(t, NDCGAtK(retrieved, gradedExpectations(), 0))

	// The cutoff truncates both the retrieved list and the ideal ordering.
	assert.InDelta(t, 1.0, NDCGAtK([]string{"A"}, gradedExpectations(), 1), 1e-9)
}

func TestMRR(t *testing.T) {
	assert.InDelta(t, 1.0, MRR([]string{"A", "B"}, gradedExpectations()), 1e-9)
	assert.InDelta(t, 0.5, MRR([]string{"B", "C"}, gradedExpectations()), 1e-9)
	assert.InDelta(t, 1.0/3, MRR([]string{"X", "Y", "A"}, gradedExpectations()), 1e-9)
	assert.Zero(t, MRR([]string{"X", "Y"}, gradedExpectations()))
	assert.Zero(t, MRR(nil, gradedExpectations()))
}

func TestPrecisionAtK(t *testing.T) {
	retrieved := []string{"A", "B", "C", "D", "E"}
	assert.InDelta(t, 0.4, PrecisionAtK(retrieved, gradedExpectations(), 5), 1e-9)

	// k_actual shrinks to the retrieved count.
	assert.InDelta(t, 0.5, PrecisionAtK([]string{"A", "B"}, gradedExpectations(), 5), 1e-9)
	assert.InDelta(t, 1.0, PrecisionAtK([]string{"A"}, gradedExpectations(), 5), 1e-9)

	assert.Zero(t, PrecisionAtK(nil, gradedExpectations(), 5))
	assert.Zero(t, PrecisionAtK(retrieved, gradedExpectations(), 0))
}

func TestRecallAtK(t *testing.T) {
	retrieved := []string{"A", "B", "C", "D", "E"}
	assert.InDelta(t, 1.0, RecallAtK(retrieved, gradedExpectations(), 5), 1e-9)
	assert.InDelta(t, 0.5, RecallAtK([]string{"A", "B"}, gradedExpectations(), 5), 1e-9)

	// The cutoff hides the second relevant item.
	assert.InDelta(t, 0.5, RecallAtK([]string{"A", "B", "C"}, gradedExpectations(), 2), 1e-9)

	assert.Zero(t, RecallAtK(retrieved, nil, 5))
}

func TestEvaluateRetrievalAggregatesMeans(t *testing.T) {
	perfect := QueryResult{
		Query: types.GroundTruthQuery{
			ID:              "q1",
			ExpectedResults: []types.ExpectedResult{{CanonicalObjectID: "A", RelevanceScore: 3}},
		},
		RetrievedIDs:    []string{"A"},
		RetrievalTimeMS: 10,
	}
	empty := QueryResult{
		Query: types.GroundTruthQuery{
			ID:              "q2",
			ExpectedResults: []types.ExpectedResult{{CanonicalObjectID: "B", RelevanceScore: 1}},
		},
		RetrievedIDs:    nil,
		RetrievalTimeMS: 30,
	}

	report := EvaluateRetrieval([]QueryResult{perfect, empty})
	assert.Equal(t, 2, report.QueryCount)
	assert.InDelta(t, 0.5, report.NDCGAt10, 1e-9)
	assert.InDelta(t, 0.5, report.MRR, 1e-9)
	assert.InDelta(t, 0.5, report.PrecisionAt5, 1e-9)
	assert.InDelta(t, 0.5, report.RecallAt10, 1e-9)
	assert.InDelta(t, 20.0, report.AvgRetrievalTimeMS, 1e-9)
}

func TestEvaluateRetrievalEmpty(t *testing.T) {
	report := EvaluateRetrieval(nil)
	assert.Zero(t, report.QueryCount)
	assert.Zero(t, report.NDCGAt10)
	assert.Zero(t, report.MRR)
	assert.Zero(t, report.AvgRetrievalTimeMS)
}
