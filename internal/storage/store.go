// Package storage persists canonical objects, chunks, experiment bookkeeping,
// and ground truth behind a single Store interface. Three backends implement
// it: Postgres for shared deployments, SQLite for single-node runs, and an
// in-memory store for tests and local iteration. An optional Qdrant index can
// be layered over any backend to serve vector search.
package storage

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"graphloom/internal/config"
	"graphloom/internal/metrics"
	"graphloom/pkg/types"
)

// ObjectFilter narrows SearchCanonicalObjects. Empty fields match everything.
// Scenario matches the scenario property stamped on objects by the corpus
// loader.
type ObjectFilter struct {
	Platform   string `json:"platform,omitempty"`
	Workspace  string `json:"workspace,omitempty"`
	ObjectType string `json:"object_type,omitempty"`
	Scenario   string `json:"scenario,omitempty"`
}

// GroundTruthFilter narrows ListGroundTruthRelations. An empty scenario
// matches every scenario.
type GroundTruthFilter struct {
	Scenario string `json:"scenario,omitempty"`
}

// Store is the persistence contract shared by all backends. Each call is
// transactional: it either fully applies or leaves the store unchanged.
type Store interface {
	// Canonical objects
	UpsertCanonicalObjects(ctx context.Context, objects []*types.CanonicalObject) error
	SearchCanonicalObjects(ctx context.Context, filter ObjectFilter, limit int) ([]*types.CanonicalObject, error)

	// Chunks. Rechunking an object replaces its full chunk set, so callers
	// delete by object id before inserting.
	InsertChunk(ctx context.Context, chunk *types.Chunk) error
	DeleteChunksByObjectIDs(ctx context.Context, objectIDs []string) error
	ListChunksByObjectIDs(ctx context.Context, objectIDs []string) ([]types.Chunk, error)
	NearestChunks(ctx context.Context, queryEmbedding []float64, similarityMin float64, limit int) ([]types.ChunkHit, error)

	// Experiment bookkeeping
	UpsertExperiment(ctx context.Context, exp *types.Experiment) (string, error)
	GetExperiment(ctx context.Context, experimentID string) (*types.Experiment, error)
	ListExperiments(ctx context.Context) ([]types.Experiment, error)
	UpdateExperimentStatus(ctx context.Context, experimentID string, status types.ExperimentStatus, completedAt *time.Time) error
	UpsertExperimentResult(ctx context.Context, result *types.ExperimentResult) error
	ListExperimentResults(ctx context.Context, experimentID string) ([]types.ExperimentResult, error)
	UpsertLayerMetrics(ctx context.Context, lm *types.LayerMetrics) error
	ListLayerMetrics(ctx context.Context, experimentID string) ([]types.LayerMetrics, error)

	// Activity log, append-only
	InsertActivityLog(ctx context.Context, record *types.ActivityRecord) error
	ListActivityLog(ctx context.Context, limit int) ([]types.ActivityRecord, error)

	// Ground truth
	UpsertGroundTruth(ctx context.Context, relations []types.GroundTruthRelation, queries []types.GroundTruthQuery) error
	ListGroundTruthRelations(ctx context.Context, filter GroundTruthFilter) ([]types.GroundTruthRelation, error)
	ListGroundTruthQueries(ctx context.Context, scenario string) ([]types.GroundTruthQuery, error)

	HealthCheck(ctx context.Context) error
	Close() error
}

// NewStore builds the store selected by configuration. When the Qdrant index
// is enabled the base store is wrapped so chunk vectors are mirrored into the
// collection and NearestChunks is served from it.
func NewStore(cfg *config.Config, logger *zap.Logger) (Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		base Store
		err  error
	)
	switch cfg.Store.Backend {
	case "postgres":
		base, err = NewPostgresStore(cfg.Store.PostgresDSN, logger)
	case "sqlite":
		base, err = NewSQLiteStore(cfg.Store.SQLitePath, logger)
	case "memory", "":
		base = NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Store.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Backend, err)
	}

	if !cfg.Qdrant.Enabled {
		return base, nil
	}

	index, err := NewQdrantIndex(&cfg.Qdrant, 0, logger)
	if err != nil {
		_ = base.Close()
		return nil, fmt.Errorf("failed to create qdrant index: %w", err)
	}
	return NewVectorIndexedStore(base, index, logger), nil
}

// observe records per-operation store metrics.
func observe(operation string, start time.Time, err error) {
	metrics.StoreOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.StoreOperationErrors.WithLabelValues(operation).Inc()
	}
}

// chunkCandidate is one embedded chunk pulled out of a backend for ranking.
type chunkCandidate struct {
	id        string
	objectID  string
	content   string
	embedding []float64
}

// rankCandidates scores candidates against the query embedding and returns
// hits at or above similarityMin, best first. Ties keep insertion order.
// A non-positive limit means unlimited.
func rankCandidates(candidates []chunkCandidate, queryEmbedding []float64, similarityMin float64, limit int) []types.ChunkHit {
	hits := make([]types.ChunkHit, 0, len(candidates))
	for _, c := range candidates {
		sim := cosineSimilarity(queryEmbedding, c.embedding)
		if sim < similarityMin {
			continue
		}
		hits = append(hits, types.ChunkHit{
			ChunkID:           c.id,
			CanonicalObjectID: c.objectID,
			Content:           c.content,
			Similarity:        sim,
		})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Similarity > hits[j].Similarity
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// cosineSimilarity returns 0 for unequal dimensions and zero-magnitude
// vectors so malformed candidates rank last instead of erroring.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
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

// scenarioOf extracts the scenario property used for corpus slicing. Objects
// without one belong to no scenario and match only empty filters.
func scenarioOf(obj *types.CanonicalObject) string {
	scenario, _ := obj.Property("scenario")
	return scenario
}
