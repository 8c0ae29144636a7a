package storage

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"

	"graphloom/internal/config"
	"graphloom/pkg/types"
)

const (
	defaultCollection = "graphloom_chunks"
	// defaultVectorSize matches the default embedding model output.
	defaultVectorSize = 1536
)

// QdrantIndex mirrors chunk embeddings into a Qdrant collection and serves
// similarity queries from it. It only holds vectors and retrieval payload;
// the base store stays the source of truth for chunk rows.
type QdrantIndex struct {
	client     *qdrant.Client
	cfg        *config.QdrantConfig
	collection string
	vectorSize uint64
	logger     *zap.Logger
}

// NewQdrantIndex creates an index client. A non-positive vectorSize falls
// back to the default embedding dimensionality. The collection is created
// lazily on Initialize.
func NewQdrantIndex(cfg *config.QdrantConfig, vectorSize int, logger *zap.Logger) (*QdrantIndex, error) {
	if cfg == nil {
		return nil, fmt.Errorf("qdrant config cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	collection := cfg.Collection
	if collection == "" {
		collection = defaultCollection
	}
	size := uint64(defaultVectorSize)
	if vectorSize > 0 {
		size = uint64(vectorSize)
	}
	return &QdrantIndex{
		cfg:        cfg,
		collection: collection,
		vectorSize: size,
		logger:     logger,
	}, nil
}

// Initialize connects to Qdrant and creates the collection if it does not
// exist.
func (qi *QdrantIndex) Initialize(ctx context.Context) error {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   qi.cfg.Host,
		Port:   qi.cfg.Port,
		APIKey: qi.cfg.APIKey,
		UseTLS: qi.cfg.UseTLS,
	})
	if err != nil {
		return fmt.Errorf("failed to create qdrant client: %w", err)
	}
	qi.client = client

	collections, err := qi.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	for _, name := range collections {
		if name == qi.collection {
			return nil
		}
	}

	err = qi.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: qi.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     qi.vectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", qi.collection, err)
	}
	qi.logger.Info("created qdrant collection",
		zap.String("collection", qi.collection),
		zap.Uint64("vector_size", qi.vectorSize))
	return nil
}

// UpsertChunk writes one embedded chunk into the collection.
func (qi *QdrantIndex) UpsertChunk(ctx context.Context, chunk *types.Chunk) error {
	if chunk == nil || len(chunk.Embedding) == 0 {
		return fmt.Errorf("chunk must have an embedding")
	}
	point := &qdrant.PointStruct{
		Id: stringToPointID(chunk.ID),
		Vectors: &qdrant.Vectors{VectorsOptions: &qdrant.Vectors_Vector{
			Vector: &qdrant.Vector{Data: float64ToFloat32(chunk.Embedding)},
		}},
		Payload: map[string]*qdrant.Value{
			"canonical_object_id": stringValue(chunk.CanonicalObjectID),
			"content":             stringValue(chunk.Content),
			"chunk_index":         intValue(int64(chunk.ChunkIndex)),
			"method":              stringValue(string(chunk.Method)),
		},
	}
	if _, err := qi.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: qi.collection,
		Points:         []*qdrant.PointStruct{point},
	}); err != nil {
		return fmt.Errorf("failed to upsert chunk in qdrant: %w", err)
	}
	return nil
}

// DeleteByObjectIDs removes every point owned by the given canonical
// objects.
func (qi *QdrantIndex) DeleteByObjectIDs(ctx context.Context, objectIDs []string) error {
	if len(objectIDs) == 0 {
		return nil
	}
	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{
			{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key: "canonical_object_id",
						Match: &qdrant.Match{
							MatchValue: &qdrant.Match_Keywords{
								Keywords: &qdrant.RepeatedStrings{Strings: objectIDs},
							},
						},
					},
				},
			},
		},
	}
	if _, err := qi.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: qi.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: filter},
		},
	}); err != nil {
		return fmt.Errorf("failed to delete chunks from qdrant: %w", err)
	}
	return nil
}

// Query runs a similarity search and converts scored points into chunk hits.
func (qi *QdrantIndex) Query(ctx context.Context, queryEmbedding []float64, similarityMin float64, limit int) ([]types.ChunkHit, error) {
	if len(queryEmbedding) == 0 {
		return nil, fmt.Errorf("query embedding cannot be empty")
	}
	if limit <= 0 {
		limit = 100
	}

	points, err := qi.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: qi.collection,
		Query:          qdrant.NewQuery(float64ToFloat32(queryEmbedding)...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
		ScoreThreshold: qdrant.PtrOf(float32(similarityMin)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query qdrant: %w", err)
	}

	hits := make([]types.ChunkHit, 0, len(points))
	for _, point := range points {
		payload := point.GetPayload()
		hits = append(hits, types.ChunkHit{
			ChunkID:           pointIDToString(point.GetId()),
			CanonicalObjectID: payloadString(payload, "canonical_object_id"),
			Content:           payloadString(payload, "content"),
			Similarity:        float64(point.GetScore()),
		})
	}
	return hits, nil
}

// HealthCheck verifies the collection is reachable.
func (qi *QdrantIndex) HealthCheck(ctx context.Context) error {
	if qi.client == nil {
		return fmt.Errorf("qdrant index not initialized")
	}
	if _, err := qi.client.GetCollectionInfo(ctx, qi.collection); err != nil {
		return fmt.Errorf("qdrant health check failed: %w", err)
	}
	return nil
}

func stringValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

func intValue(i int64) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: i}}
}

func stringToPointID(s string) *qdrant.PointId {
	return &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: s}}
}

func pointIDToString(id *qdrant.PointId) string {
	if uuid := id.GetUuid(); uuid != "" {
		return uuid
	}
	return strconv.FormatUint(id.GetNum(), 10)
}

func payloadString(payload map[string]*qdrant.Value, key string) string {
	if value, ok := payload[key]; ok {
		return value.GetStringValue()
	}
	return ""
}

func float64ToFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}

// VectorIndexedStore layers a Qdrant index over a base store. Chunk writes
// go to both, vector search is served by the index, and everything else
// delegates to the base store. Index writes happen after the base store
// commits so a failed mirror leaves the source of truth intact.
type VectorIndexedStore struct {
	Store
	index    *QdrantIndex
	logger   *zap.Logger
	initOnce sync.Once
	initErr  error
}

// NewVectorIndexedStore wraps base with the given index.
func NewVectorIndexedStore(base Store, index *QdrantIndex, logger *zap.Logger) *VectorIndexedStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VectorIndexedStore{Store: base, index: index, logger: logger}
}

// ensureInitialized connects and creates the collection exactly once. A
// failed initialization sticks: an enabled but unreachable index should fail
// the run, not silently degrade to the base store.
func (vs *VectorIndexedStore) ensureInitialized(ctx context.Context) error {
	vs.initOnce.Do(func() {
		initCtx := ctx
		if vs.index.cfg.TimeoutSeconds > 0 {
			var cancel context.CancelFunc
			initCtx, cancel = context.WithTimeout(ctx, time.Duration(vs.index.cfg.TimeoutSeconds)*time.Second)
			defer cancel()
		}
		vs.initErr = vs.index.Initialize(initCtx)
	})
	return vs.initErr
}

// InsertChunk writes to the base store first, then mirrors the embedding
// into the index when one is present.
func (vs *VectorIndexedStore) InsertChunk(ctx context.Context, chunk *types.Chunk) error {
	if err := vs.Store.InsertChunk(ctx, chunk); err != nil {
		return err
	}
	if chunk == nil || len(chunk.Embedding) == 0 {
		return nil
	}
	if err := vs.ensureInitialized(ctx); err != nil {
		return fmt.Errorf("failed to initialize qdrant index: %w", err)
	}
	return vs.index.UpsertChunk(ctx, chunk)
}

// DeleteChunksByObjectIDs removes chunks from both the base store and the
// index.
func (vs *VectorIndexedStore) DeleteChunksByObjectIDs(ctx context.Context, objectIDs []string) error {
	if err := vs.Store.DeleteChunksByObjectIDs(ctx, objectIDs); err != nil {
		return err
	}
	if len(objectIDs) == 0 {
		return nil
	}
	if err := vs.ensureInitialized(ctx); err != nil {
		return fmt.Errorf("failed to initialize qdrant index: %w", err)
	}
	return vs.index.DeleteByObjectIDs(ctx, objectIDs)
}

// NearestChunks serves vector search from the index.
func (vs *VectorIndexedStore) NearestChunks(ctx context.Context, queryEmbedding []float64, similarityMin float64, limit int) ([]types.ChunkHit, error) {
	start := time.Now()
	var err error
	defer func() { observe("nearest_chunks", start, err) }()

	if err = vs.ensureInitialized(ctx); err != nil {
		err = fmt.Errorf("failed to initialize qdrant index: %w", err)
		return nil, err
	}
	hits, err := vs.index.Query(ctx, queryEmbedding, similarityMin, limit)
	if err != nil {
		return nil, err
	}
	return hits, nil
}

// HealthCheck verifies both the base store and the index.
func (vs *VectorIndexedStore) HealthCheck(ctx context.Context) error {
	if err := vs.Store.HealthCheck(ctx); err != nil {
		return err
	}
	if err := vs.ensureInitialized(ctx); err != nil {
		return err
	}
	return vs.index.HealthCheck(ctx)
}
