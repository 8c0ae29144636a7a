package evaluation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphloom/pkg/types"
)

func inferredRelation(t *testing.T, from, to string, relType types.RelationType) types.Relation {
	t.Helper()
	rel, err := types.NewRelation(from, to, relType, types.SourceComputed, 0.9)
	require.NoError(t, err)
	return *rel
}

func TestEvaluateValidationMatchesUndirectedAndTypeAgnostic(t *testing.T) {
	inferred := []types.Relation{
		inferredRelation(t, "slack:thread:a", "jira:issue:b", types.RelationSimilarTo),
		inferredRelation(t, "slack:thread:c", "jira:issue:d", types.RelationSimilarTo),
	}
	groundTruth := []types.GroundTruthRelation{
		// Reversed direction and a different type still match.
		{FromID: "jira:issue:b", ToID: "slack:thread:a", RelationType: string(types.RelationRelatedTo), Scenario: "normal"},
		{FromID: "wiki:page:e", ToID: "wiki:page:f", RelationType: string(types.RelationRelatedTo), Scenario: "normal"},
	}

	report := EvaluateValidation(inferred, groundTruth)
	assert.Equal(t, 1, report.TruePositives)
	assert.Equal(t, 1, report.FalsePositives)
	assert.Equal(t, 1, report.FalseNegatives)
	assert.InDelta(t, 0.5, report.Precision, 1e-9)
	assert.InDelta(t, 0.5, report.Recall, 1e-9)
	assert.InDelta(t, 0.5, report.F1, 1e-9)
	assert.Equal(t, 2, report.GroundTruthTotal)
	assert.Equal(t, 2, report.InferredTotal)
}

func TestEvaluateValidationCollapsesBidirectionalPairs(t *testing.T) {
	inferred := []types.Relation{
		inferredRelation(t, "slack:thread:a", "jira:issue:b", types.RelationSimilarTo),
		inferredRelation(t, "jira:issue:b", "slack:thread:a", types.RelationSimilarTo),
	}
	groundTruth := []types.GroundTruthRelation{
		{FromID: "slack:thread:a", ToID: "jira:issue:b", RelationType: string(types.RelationSimilarTo)},
	}

	report := EvaluateValidation(inferred, groundTruth)
	assert.Equal(t, 1, report.InferredTotal)
	assert.Equal(t, 1, report.TruePositives)
	assert.Equal(t, 0, report.FalsePositives)
	assert.InDelta(t, 1.0, report.F1, 1e-9)
}

func TestEvaluateValidationExcludesNegativeGroundTruth(t *testing.T) {
	inferred := []types.Relation{
		inferredRelation(t, "slack:thread:a", "jira:issue:b", types.RelationSimilarTo),
	}
	groundTruth := []types.GroundTruthRelation{
		{FromID: "slack:thread:a", ToID: "jira:issue:b", RelationType: types.GroundTruthVerifiedUnrelated},
		{FromID: "slack:thread:c", ToID: "jira:issue:d", RelationType: types.GroundTruthUncertain},
	}

	report := EvaluateValidation(inferred, groundTruth)
	assert.Equal(t, 0, report.GroundTruthTotal)
	assert.Equal(t, 0, report.TruePositives)
	assert.Equal(t, 1, report.FalsePositives)
	assert.Equal(t, 0, report.FalseNegatives)
	assert.Zero(t, report.Recall)
	assert.Zero(t, report.F1)
}

func TestEvaluateValidationEmptyInputs(t *testing.T) {
	report := EvaluateValidation(nil, nil)
	assert.Zero(t, report.F1)
	assert.Zero(t, report.Precision)
	assert.Zero(t, report.Recall)
	assert.Zero(t, report.TruePositives)
	assert.Zero(t, report.GroundTruthTotal)
	assert.Zero(t, report.InferredTotal)
}
