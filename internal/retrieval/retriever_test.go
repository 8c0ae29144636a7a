package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphloom/internal/embeddings"
	"graphloom/internal/storage"
	"graphloom/pkg/types"
)

func newTestRetriever(t *testing.T) (*Retriever, *embeddings.StaticService, *storage.MemoryStore) {
	t.Helper()
	embedder := embeddings.NewStaticService(2)
	store := storage.NewMemoryStore()
	retriever, err := NewRetriever(embedder, store, nil)
	require.NoError(t, err)
	return retriever, embedder, store
}

func seedChunk(t *testing.T, store storage.Store, objectID string, index int, content string, embedding []float64) *types.Chunk {
	t.Helper()
	chunk, err := types.NewChunk(objectID, index, content, types.ChunkMethodSemantic)
	require.NoError(t, err)
	chunk.Embedding = embedding
	require.NoError(t, store.InsertChunk(context.Background(), chunk))
	return chunk
}

func edge(t *testing.T, from, to string) types.Relation {
	t.Helper()
	rel, err := types.NewRelation(from, to, types.RelationSimilarTo, types.SourceComputed, 0.9)
	require.NoError(t, err)
	return *rel
}

func TestRetrieveRanksAndFilters(t *testing.T) {
	retriever, embedder, store := newTestRetriever(t)
	embedder.Override("find it", []float64{1, 0})

	seedChunk(t, store, "slack:thread:1", 0, "exact match", []float64{1, 0})
	seedChunk(t, store, "slack:thread:2", 0, "near match", []float64{0.6, 0.8})
	seedChunk(t, store, "slack:thread:3", 0, "far away", []float64{0, 1})
	seedChunk(t, store, "slack:thread:4", 0, "not embedded", nil)

	opts := DefaultOptions()
	opts.SimilarityThreshold = 0.5

	result, err := retriever.Retrieve(context.Background(), "find it", opts)
	require.NoError(t, err)
	require.Len(t, result.Chunks, 2)

	assert.Equal(t, "slack:thread:1", result.Chunks[0].CanonicalObjectID)
	assert.Equal(t, "exact match", result.Chunks[0].Content)
	assert.InDelta(t, 1.0, result.Chunks[0].Similarity, 1e-9)
	assert.Equal(t, "slack:thread:2", result.Chunks[1].CanonicalObjectID)
	assert.InDelta(t, 0.6, result.Chunks[1].Similarity, 1e-9)

	assert.Equal(t, 2, result.Stats.VectorHits)
	assert.Equal(t, 0, result.Stats.RelationHits)
	assert.GreaterOrEqual(t, result.Stats.RetrievalTimeMS, 0.0)
}

func TestRetrieveHonorsChunkLimit(t *testing.T) {
	retriever, embedder, store := newTestRetriever(t)
	embedder.Override("query", []float64{1, 0})

	for i := 0; i < 5; i++ {
		seedChunk(t, store, "jira:issue:1", i, "content", []float64{1, 0})
	}

	opts := DefaultOptions()
	opts.SimilarityThreshold = 0
	opts.ChunkLimit = 3

	result, err := retriever.Retrieve(context.Background(), "query", opts)
	require.NoError(t, err)
	assert.Len(t, result.Chunks, 3)
	assert.Equal(t, 3, result.Stats.VectorHits)
}

func TestRetrieveValidatesInput(t *testing.T) {
	retriever, _, _ := newTestRetriever(t)
	ctx := context.Background()

	_, err := retriever.Retrieve(ctx, "   ", DefaultOptions())
	assert.ErrorContains(t, err, "query text")

	opts := DefaultOptions()
	opts.SimilarityThreshold = 1.5
	_, err = retriever.Retrieve(ctx, "query", opts)
	assert.ErrorContains(t, err, "similarity threshold")

	opts = DefaultOptions()
	opts.ChunkLimit = 0
	_, err = retriever.Retrieve(ctx, "query", opts)
	assert.ErrorContains(t, err, "chunk limit")

	opts = DefaultOptions()
	opts.RelationDepth = -1
	_, err = retriever.Retrieve(ctx, "query", opts)
	assert.ErrorContains(t, err, "relation depth")
}

func TestRetrieveExpandsRelations(t *testing.T) {
	retriever, embedder, store := newTestRetriever(t)
	embedder.Override("query", []float64{1, 0})

	seedChunk(t, store, "slack:thread:a", 0, "seed hit", []float64{1, 0})
	seedChunk(t, store, "slack:thread:a", 1, "seed below cut", []float64{0, 1})
	seedChunk(t, store, "jira:issue:b", 0, "one hop", []float64{0, 1})
	seedChunk(t, store, "github:pr:c", 0, "two hops", []float64{0.6, 0.8})

	retriever.SetRelations([]types.Relation{
		edge(t, "slack:thread:a", "jira:issue:b"),
		edge(t, "jira:issue:b", "github:pr:c"),
	})

	opts := DefaultOptions()
	opts.SimilarityThreshold = 0.9
	opts.IncludeRelations = true
	opts.RelationDepth = 1

	result, err := retriever.Retrieve(context.Background(), "query", opts)
	require.NoError(t, err)
	require.Len(t, result.Chunks, 2)
	assert.Equal(t, "slack:thread:a", result.Chunks[0].CanonicalObjectID)
	assert.Equal(t, "jira:issue:b", result.Chunks[1].CanonicalObjectID)
	assert.InDelta(t, 0.0, result.Chunks[1].Similarity, 1e-9)
	assert.Equal(t, 1, result.Stats.VectorHits)
	assert.Equal(t, 1, result.Stats.RelationHits)

	// Deeper walk pulls in the second hop; similarity ordering puts the
	// closer chunk first regardless of hop count.
	opts.RelationDepth = 2
	result, err = retriever.Retrieve(context.Background(), "query", opts)
	require.NoError(t, err)
	require.Len(t, result.Chunks, 3)
	assert.Equal(t, "slack:thread:a", result.Chunks[0].CanonicalObjectID)
	assert.Equal(t, "github:pr:c", result.Chunks[1].CanonicalObjectID)
	assert.InDelta(t, 0.6, result.Chunks[1].Similarity, 1e-9)
	assert.Equal(t, "jira:issue:b", result.Chunks[2].CanonicalObjectID)
	assert.Equal(t, 2, result.Stats.RelationHits)

	// The seed object's own below-threshold chunk never rides in through
	// the walk.
	for _, hit := range result.Chunks {
		assert.NotEqual(t, "seed below cut", hit.Content)
	}
}

func TestRetrieveRelationsOffByDefault(t *testing.T) {
	retriever, embedder, store := newTestRetriever(t)
	embedder.Override("query", []float64{1, 0})

	seedChunk(t, store, "slack:thread:a", 0, "seed hit", []float64{1, 0})
	seedChunk(t, store, "jira:issue:b", 0, "neighbor", []float64{0, 1})
	retriever.SetRelations([]types.Relation{edge(t, "slack:thread:a", "jira:issue:b")})

	opts := DefaultOptions()
	opts.SimilarityThreshold = 0.9

	result, err := retriever.Retrieve(context.Background(), "query", opts)
	require.NoError(t, err)
	require.Len(t, result.Chunks, 1)
	assert.Equal(t, "slack:thread:a", result.Chunks[0].CanonicalObjectID)
	assert.Equal(t, 0, result.Stats.RelationHits)
}

func TestSetRelationsCollapsesDuplicateEdges(t *testing.T) {
	retriever, embedder, store := newTestRetriever(t)
	embedder.Override("query", []float64{1, 0})

	seedChunk(t, store, "slack:thread:a", 0, "seed hit", []float64{1, 0})
	seedChunk(t, store, "jira:issue:b", 0, "neighbor", []float64{0, 1})

	// Bidirectional similar_to pairs and malformed edges must not double or
	// break the walk.
	forward := edge(t, "slack:thread:a", "jira:issue:b")
	backward := edge(t, "jira:issue:b", "slack:thread:a")
	malformed := types.Relation{FromID: "slack:thread:a", ToID: "slack:thread:a"}
	retriever.SetRelations([]types.Relation{forward, backward, malformed})

	opts := DefaultOptions()
	opts.SimilarityThreshold = 0.9
	opts.IncludeRelations = true

	result, err := retriever.Retrieve(context.Background(), "query", opts)
	require.NoError(t, err)
	require.Len(t, result.Chunks, 2)
	assert.Equal(t, 1, result.Stats.RelationHits)
}

func TestNewRetrieverValidatesDependencies(t *testing.T) {
	store := storage.NewMemoryStore()
	_, err := NewRetriever(nil, store, nil)
	assert.ErrorContains(t, err, "embedder")

	_, err = NewRetriever(embeddings.NewStaticService(2), nil, nil)
	assert.ErrorContains(t, err, "store")
}
