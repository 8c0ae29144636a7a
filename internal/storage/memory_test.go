package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"graphloom/internal/config"
	"graphloom/pkg/types"
)

func testObject(t *testing.T, platform, objectType, platformID, scenario string) *types.CanonicalObject {
	t.Helper()
	obj, err := types.NewCanonicalObject(platform, "acme", objectType, platformID,
		time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	obj.Title = "Object " + platformID
	obj.Body = "Body for " + platformID
	if scenario != "" {
		obj.Properties["scenario"] = scenario
	}
	return obj
}

func testChunk(t *testing.T, objectID string, index int, content string, embedding []float64) *types.Chunk {
	t.Helper()
	chunk, err := types.NewChunk(objectID, index, content, types.ChunkMethodSemantic)
	require.NoError(t, err)
	chunk.Embedding = embedding
	return chunk
}

func TestMemoryStoreUpsertAndSearchObjects(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	first := testObject(t, "github", "issue", "1", "normal")
	second := testObject(t, "jira", "ticket", "2", "normal")
	third := testObject(t, "github", "issue", "3", "stress")
	require.NoError(t, store.UpsertCanonicalObjects(ctx, []*types.CanonicalObject{first, second, third}))

	all, err := store.SearchCanonicalObjects(ctx, ObjectFilter{}, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, first.ID, all[0].ID)
	assert.Equal(t, second.ID, all[1].ID)
	assert.Equal(t, third.ID, all[2].ID)

	github, err := store.SearchCanonicalObjects(ctx, ObjectFilter{Platform: "github"}, 0)
	require.NoError(t, err)
	require.Len(t, github, 2)

	normal, err := store.SearchCanonicalObjects(ctx, ObjectFilter{Scenario: "normal"}, 0)
	require.NoError(t, err)
	require.Len(t, normal, 2)

	limited, err := store.SearchCanonicalObjects(ctx, ObjectFilter{}, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	none, err := store.SearchCanonicalObjects(ctx, ObjectFilter{Workspace: "other"}, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryStoreUpsertReplacesObject(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	obj := testObject(t, "github", "issue", "1", "")
	require.NoError(t, store.UpsertCanonicalObjects(ctx, []*types.CanonicalObject{obj}))

	updated := testObject(t, "github", "issue", "1", "")
	updated.Title = "Updated title"
	require.NoError(t, store.UpsertCanonicalObjects(ctx, []*types.CanonicalObject{updated}))

	all, err := store.SearchCanonicalObjects(ctx, ObjectFilter{}, 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Updated title", all[0].Title)
}

func TestMemoryStoreRejectsObjectWithoutID(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	err := store.UpsertCanonicalObjects(ctx, []*types.CanonicalObject{{}})
	assert.Error(t, err)
}

func TestMemoryStoreNearestChunks(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	obj := testObject(t, "github", "issue", "1", "")
	require.NoError(t, store.UpsertCanonicalObjects(ctx, []*types.CanonicalObject{obj}))

	exact := testChunk(t, obj.ID, 0, "exact match", []float64{1, 0})
	near := testChunk(t, obj.ID, 1, "close match", []float64{0.6, 0.8})
	far := testChunk(t, obj.ID, 2, "far away", []float64{0, 1})
	unembedded := testChunk(t, obj.ID, 3, "no vector yet", nil)
	for _, chunk := range []*types.Chunk{exact, near, far, unembedded} {
		require.NoError(t, store.InsertChunk(ctx, chunk))
	}

	hits, err := store.NearestChunks(ctx, []float64{1, 0}, 0.5, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, exact.ID, hits[0].ChunkID)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-9)
	assert.Equal(t, near.ID, hits[1].ChunkID)
	assert.InDelta(t, 0.6, hits[1].Similarity, 1e-9)
	assert.Equal(t, obj.ID, hits[0].CanonicalObjectID)
	assert.Equal(t, "exact match", hits[0].Content)
}

func TestMemoryStoreNearestChunksLimit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	obj := testObject(t, "github", "issue", "1", "")

	for i := 0; i < 5; i++ {
		chunk := testChunk(t, obj.ID, i, "chunk", []float64{1, 0})
		require.NoError(t, store.InsertChunk(ctx, chunk))
	}

	hits, err := store.NearestChunks(ctx, []float64{1, 0}, 0, 3)
	require.NoError(t, err)
	assert.Len(t, hits, 3)
}

func TestMemoryStoreNearestChunksEmptyQuery(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.NearestChunks(context.Background(), nil, 0.5, 10)
	assert.Error(t, err)
}

func TestMemoryStoreDeleteChunksByObjectIDs(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	kept := testObject(t, "github", "issue", "1", "")
	doomed := testObject(t, "github", "issue", "2", "")

	require.NoError(t, store.InsertChunk(ctx, testChunk(t, kept.ID, 0, "kept", []float64{1, 0})))
	require.NoError(t, store.InsertChunk(ctx, testChunk(t, doomed.ID, 0, "doomed a", []float64{1, 0})))
	require.NoError(t, store.InsertChunk(ctx, testChunk(t, doomed.ID, 1, "doomed b", []float64{1, 0})))

	require.NoError(t, store.DeleteChunksByObjectIDs(ctx, []string{doomed.ID}))

	hits, err := store.NearestChunks(ctx, []float64{1, 0}, 0, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, kept.ID, hits[0].CanonicalObjectID)

	// Deleting nothing is a no-op.
	require.NoError(t, store.DeleteChunksByObjectIDs(ctx, nil))
}

func TestMemoryStoreListChunksByObjectIDs(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	first := testObject(t, "github", "issue", "1", "")
	second := testObject(t, "github", "issue", "2", "")
	third := testObject(t, "github", "issue", "3", "")

	require.NoError(t, store.InsertChunk(ctx, testChunk(t, first.ID, 0, "first a", []float64{1, 0})))
	require.NoError(t, store.InsertChunk(ctx, testChunk(t, second.ID, 0, "second", nil)))
	require.NoError(t, store.InsertChunk(ctx, testChunk(t, first.ID, 1, "first b", []float64{0, 1})))
	require.NoError(t, store.InsertChunk(ctx, testChunk(t, third.ID, 0, "third", []float64{1, 0})))

	chunks, err := store.ListChunksByObjectIDs(ctx, []string{first.ID, second.ID})
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, "first a", chunks[0].Content)
	assert.Equal(t, "second", chunks[1].Content)
	assert.Equal(t, "first b", chunks[2].Content)
	assert.Equal(t, []float64{0, 1}, chunks[2].Embedding)
	assert.Empty(t, chunks[1].Embedding)

	chunks, err = store.ListChunksByObjectIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestMemoryStoreExperimentLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	exp, err := types.NewExperiment("baseline-v1")
	require.NoError(t, err)
	exp.Description = "first run"

	id, err := store.UpsertExperiment(ctx, exp)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// Same name keeps the id.
	again, err := types.NewExperiment("baseline-v1")
	require.NoError(t, err)
	again.Description = "second run"
	again.Status = types.ExperimentStatusRunning
	sameID, err := store.UpsertExperiment(ctx, again)
	require.NoError(t, err)
	assert.Equal(t, id, sameID)

	got, err := store.GetExperiment(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "second run", got.Description)
	assert.Equal(t, types.ExperimentStatusRunning, got.Status)

	completedAt := time.Now().UTC()
	require.NoError(t, store.UpdateExperimentStatus(ctx, id, types.ExperimentStatusCompleted, &completedAt))

	got, err = store.GetExperiment(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.ExperimentStatusCompleted, got.Status)
	require.NotNil(t, got.RunCompletedAt)
	assert.WithinDuration(t, completedAt, *got.RunCompletedAt, time.Second)
}

func TestMemoryStoreUpdateExperimentStatusNotFound(t *testing.T) {
	store := NewMemoryStore()
	err := store.UpdateExperimentStatus(context.Background(), "missing", types.ExperimentStatusFailed, nil)
	assert.ErrorContains(t, err, "not found")
}

func TestMemoryStoreExperimentResultsUpsert(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	res := &types.ExperimentResult{ExperimentID: "exp-1", Scenario: "normal", F1: 0.5}
	require.NoError(t, store.UpsertExperimentResult(ctx, res))

	replaced := &types.ExperimentResult{ExperimentID: "exp-1", Scenario: "normal", F1: 0.8}
	require.NoError(t, store.UpsertExperimentResult(ctx, replaced))

	other := &types.ExperimentResult{ExperimentID: "exp-1", Scenario: "stress", F1: 0.3}
	require.NoError(t, store.UpsertExperimentResult(ctx, other))

	results, err := store.ListExperimentResults(ctx, "exp-1")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "normal", results[0].Scenario)
	assert.InDelta(t, 0.8, results[0].F1, 1e-9)
	assert.Equal(t, "stress", results[1].Scenario)
}

func TestMemoryStoreLayerMetricsUpsert(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	lm := &types.LayerMetrics{ExperimentID: "exp-1", Layer: types.LayerChunking, EvaluationMethod: "stats", MetricsJSON: `{"total":3}`}
	require.NoError(t, store.UpsertLayerMetrics(ctx, lm))

	replaced := &types.LayerMetrics{ExperimentID: "exp-1", Layer: types.LayerChunking, EvaluationMethod: "stats", MetricsJSON: `{"total":5}`}
	require.NoError(t, store.UpsertLayerMetrics(ctx, replaced))

	listed, err := store.ListLayerMetrics(ctx, "exp-1")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, `{"total":5}`, listed[0].MetricsJSON)
}

func TestMemoryStoreActivityLogNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for _, name := range []string{"first", "second", "third"} {
		rec, err := types.NewActivityRecord("pipeline", name, types.ActivityStatusCompleted)
		require.NoError(t, err)
		require.NoError(t, store.InsertActivityLog(ctx, rec))
	}

	listed, err := store.ListActivityLog(ctx, 2)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "third", listed[0].OperationName)
	assert.Equal(t, "second", listed[1].OperationName)

	all, err := store.ListActivityLog(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMemoryStoreGroundTruthIdempotentReload(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	relations := []types.GroundTruthRelation{
		{FromID: "a", ToID: "b", RelationType: "related_to", Confidence: 1.0, Scenario: "normal"},
		{FromID: "c", ToID: "d", RelationType: "human_verified_unrelated", Confidence: 1.0, Scenario: "normal"},
		{FromID: "e", ToID: "f", RelationType: "related_to", Confidence: 0.9, Scenario: "stress"},
	}
	queries := []types.GroundTruthQuery{
		{ID: "q1", QueryText: "deploy failures", Scenario: "normal",
			ExpectedResults: []types.ExpectedResult{{CanonicalObjectID: "a", RelevanceScore: 3}}},
	}
	require.NoError(t, store.UpsertGroundTruth(ctx, relations, queries))
	// Reloading the same corpus does not duplicate anything.
	require.NoError(t, store.UpsertGroundTruth(ctx, relations, queries))

	normal, err := store.ListGroundTruthRelations(ctx, GroundTruthFilter{Scenario: "normal"})
	require.NoError(t, err)
	require.Len(t, normal, 2)
	assert.Equal(t, "a", normal[0].FromID)

	all, err := store.ListGroundTruthRelations(ctx, GroundTruthFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	qs, err := store.ListGroundTruthQueries(ctx, "normal")
	require.NoError(t, err)
	require.Len(t, qs, 1)
	assert.Equal(t, "deploy failures", qs[0].QueryText)
	require.Len(t, qs[0].ExpectedResults, 1)
	assert.InDelta(t, 3.0, qs[0].ExpectedResults[0].RelevanceScore, 1e-9)

	empty, err := store.ListGroundTruthQueries(ctx, "pattern")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryStoreHealthAndClose(t *testing.T) {
	store := NewMemoryStore()
	assert.NoError(t, store.HealthCheck(context.Background()))
	assert.NoError(t, store.Close())
}

func TestNewStoreSelectsBackend(t *testing.T) {
	logger := zap.NewNop()

	t.Run("memory default", func(t *testing.T) {
		cfg := &config.Config{}
		store, err := NewStore(cfg, logger)
		require.NoError(t, err)
		_, ok := store.(*MemoryStore)
		assert.True(t, ok)
	})

	t.Run("unknown backend", func(t *testing.T) {
		cfg := &config.Config{}
		cfg.Store.Backend = "oracle"
		_, err := NewStore(cfg, logger)
		assert.ErrorContains(t, err, "unknown store backend")
	})

	t.Run("nil config", func(t *testing.T) {
		_, err := NewStore(nil, logger)
		assert.Error(t, err)
	})
}
