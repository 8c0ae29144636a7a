package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRelation(t *testing.T) {
	rel, err := NewRelation("slack|a|thread|T1", "zendesk|a|ticket|Z1", RelationTriggeredBy, SourceExplicit, 1.0)
	require.NoError(t, err)

	assert.NotEmpty(t, rel.ID)
	assert.Equal(t, "slack|a|thread|T1", rel.FromID)
	assert.Equal(t, "zendesk|a|ticket|Z1", rel.ToID)
	assert.Equal(t, RelationTriggeredBy, rel.Type)
	assert.Equal(t, SourceExplicit, rel.Source)
	assert.InDelta(t, 1.0, rel.Confidence, 1e-9)
	assert.False(t, rel.CreatedAt.IsZero())
	assert.NoError(t, rel.Validate())
}

func TestNewRelationErrors(t *testing.T) {
	tests := []struct {
		name       string
		fromID     string
		toID       string
		relType    RelationType
		source     RelationSource
		confidence float64
	}{
		{"empty from", "", "b", RelationSimilarTo, SourceComputed, 0.9},
		{"empty to", "a", "", RelationSimilarTo, SourceComputed, 0.9},
		{"self reference", "a", "a", RelationSimilarTo, SourceComputed, 0.9},
		{"invalid type", "a", "b", RelationType("knows"), SourceComputed, 0.9},
		{"invalid source", "a", "b", RelationSimilarTo, RelationSource("guessed"), 0.9},
		{"confidence below range", "a", "b", RelationSimilarTo, SourceComputed, -0.1},
		{"confidence above range", "a", "b", RelationSimilarTo, SourceComputed, 1.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRelation(tt.fromID, tt.toID, tt.relType, tt.source, tt.confidence)
			assert.Error(t, err)
		})
	}
}

func TestRelationTypeValid(t *testing.T) {
	for _, rt := range AllValidRelationTypes() {
		assert.True(t, rt.Valid(), "type %s should be valid", rt)
	}
	assert.False(t, RelationType("knows").Valid())
	assert.Len(t, AllValidRelationTypes(), 10)
}

func TestRelationTypeInverse(t *testing.T) {
	assert.Equal(t, RelationResultedIn, RelationTriggeredBy.GetInverse())
	assert.Equal(t, RelationTriggeredBy, RelationResultedIn.GetInverse())
	assert.Equal(t, RelationSimilarTo, RelationSimilarTo.GetInverse())
	assert.Equal(t, RelationRelatedTo, RelationRelatedTo.GetInverse())
	assert.Equal(t, RelationBelongsTo, RelationBelongsTo.GetInverse())
}

func TestRelationTypeIsSymmetric(t *testing.T) {
	assert.True(t, RelationSimilarTo.IsSymmetric())
	assert.True(t, RelationRelatedTo.IsSymmetric())

	for _, rt := range []RelationType{
		RelationTriggeredBy, RelationResultedIn, RelationBelongsTo, RelationAssignedTo,
		RelationCreatedBy, RelationDecidedBy, RelationParticipatedIn, RelationDuplicateOf,
	} {
		assert.False(t, rt.IsSymmetric(), "type %s should be directional", rt)
	}
}

func TestUndirectedPairKey(t *testing.T) {
	key1 := UndirectedPairKey("slack|a|thread|T1", "zendesk|a|ticket|Z1")
	key2 := UndirectedPairKey("zendesk|a|ticket|Z1", "slack|a|thread|T1")
	assert.Equal(t, key1, key2, "pair key must be direction-independent")

	rel, err := NewRelation("zendesk|a|ticket|Z1", "slack|a|thread|T1", RelationRelatedTo, SourceExplicit, 1.0)
	require.NoError(t, err)
	assert.Equal(t, key1, rel.PairKey())
}

func TestRelationValidate(t *testing.T) {
	rel, err := NewRelation("a", "b", RelationSimilarTo, SourceComputed, 0.8)
	require.NoError(t, err)

	rel.CreatedAt = time.Time{}
	assert.Error(t, rel.Validate())

	rel.CreatedAt = time.Now().UTC()
	rel.Confidence = 2
	assert.Error(t, rel.Validate())
}

func TestRelationDirectionValid(t *testing.T) {
	assert.True(t, DirectionFrom.Valid())
	assert.True(t, DirectionTo.Valid())
	assert.True(t, DirectionBoth.Valid())
	assert.False(t, RelationDirection("sideways").Valid())
}

func TestExperimentLifecycleTypes(t *testing.T) {
	exp, err := NewExperiment("baseline-2024")
	require.NoError(t, err)
	assert.Equal(t, ExperimentStatusPending, exp.Status)
	assert.NotEmpty(t, exp.ID)

	_, err = NewExperiment("")
	assert.Error(t, err)

	for _, s := range []ExperimentStatus{ExperimentStatusPending, ExperimentStatusRunning, ExperimentStatusCompleted, ExperimentStatusFailed} {
		assert.True(t, s.Valid())
	}
	assert.False(t, ExperimentStatus("paused").Valid())
}

func TestLayerValid(t *testing.T) {
	for _, l := range []Layer{LayerChunking, LayerEmbedding, LayerValidation, LayerRetrieval, LayerGraph, LayerTemporal, LayerConsolidation} {
		assert.True(t, l.Valid())
	}
	assert.False(t, Layer("ingestion").Valid())
}

func TestNewActivityRecord(t *testing.T) {
	rec, err := NewActivityRecord("pipeline", "pipeline_run", ActivityStatusStarted)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.False(t, rec.CreatedAt.IsZero())

	_, err = NewActivityRecord("", "x", ActivityStatusStarted)
	assert.Error(t, err)
	_, err = NewActivityRecord("pipeline", "", ActivityStatusStarted)
	assert.Error(t, err)
	_, err = NewActivityRecord("pipeline", "x", ActivityStatus("done"))
	assert.Error(t, err)
}

func TestGroundTruthRelation(t *testing.T) {
	positive := GroundTruthRelation{FromID: "b", ToID: "a", RelationType: string(RelationRelatedTo), Scenario: ScenarioNormal}
	assert.False(t, positive.IsNegative())
	assert.Equal(t, UndirectedPairKey("a", "b"), positive.PairKey())

	unrelated := GroundTruthRelation{FromID: "a", ToID: "b", RelationType: GroundTruthVerifiedUnrelated}
	assert.True(t, unrelated.IsNegative())

	uncertain := GroundTruthRelation{FromID: "a", ToID: "b", RelationType: GroundTruthUncertain}
	assert.True(t, uncertain.IsNegative())
}

func TestAllScenarios(t *testing.T) {
	scenarios := AllScenarios()
	assert.Len(t, scenarios, 5)
	assert.Contains(t, scenarios, ScenarioNormal)
	assert.Contains(t, scenarios, ScenarioStress)
}
