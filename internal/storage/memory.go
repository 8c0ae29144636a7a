package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"graphloom/pkg/types"
)

// MemoryStore keeps everything in process memory. It is the default backend
// for tests and local runs and implements the same transactional semantics as
// the SQL backends: every method takes the lock once and applies fully or not
// at all. Returned objects share memory with the store; callers must not
// mutate them.
type MemoryStore struct {
	mu sync.RWMutex

	objects     map[string]*types.CanonicalObject
	objectOrder []string

	chunks     map[string]*types.Chunk
	chunkOrder []string

	experiments     map[string]*types.Experiment
	experimentNames map[string]string
	results         map[string]*types.ExperimentResult
	layerMetrics    map[string]*types.LayerMetrics
	activity        []types.ActivityRecord

	gtRelations  map[string]types.GroundTruthRelation
	gtRelOrder   []string
	gtQueries    map[string]types.GroundTruthQuery
	gtQueryOrder []string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects:         make(map[string]*types.CanonicalObject),
		chunks:          make(map[string]*types.Chunk),
		experiments:     make(map[string]*types.Experiment),
		experimentNames: make(map[string]string),
		results:         make(map[string]*types.ExperimentResult),
		layerMetrics:    make(map[string]*types.LayerMetrics),
		gtRelations:     make(map[string]types.GroundTruthRelation),
		gtQueries:       make(map[string]types.GroundTruthQuery),
	}
}

// UpsertCanonicalObjects inserts or replaces objects by id, preserving first
// insertion order for listing.
func (ms *MemoryStore) UpsertCanonicalObjects(ctx context.Context, objects []*types.CanonicalObject) error {
	start := time.Now()
	var err error
	defer func() { observe("upsert_canonical_objects", start, err) }()

	for _, obj := range objects {
		if obj == nil || obj.ID == "" {
			err = fmt.Errorf("canonical object must have an id")
			return err
		}
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	for _, obj := range objects {
		if _, exists := ms.objects[obj.ID]; !exists {
			ms.objectOrder = append(ms.objectOrder, obj.ID)
		}
		ms.objects[obj.ID] = obj
	}
	return nil
}

// SearchCanonicalObjects returns objects matching the filter in insertion
// order. A non-positive limit means unlimited.
func (ms *MemoryStore) SearchCanonicalObjects(ctx context.Context, filter ObjectFilter, limit int) ([]*types.CanonicalObject, error) {
	start := time.Now()
	defer func() { observe("search_canonical_objects", start, nil) }()

	ms.mu.RLock()
	defer ms.mu.RUnlock()

	out := make([]*types.CanonicalObject, 0)
	for _, id := range ms.objectOrder {
		obj := ms.objects[id]
		if !matchesObjectFilter(obj, filter) {
			continue
		}
		out = append(out, obj)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func matchesObjectFilter(obj *types.CanonicalObject, filter ObjectFilter) bool {
	if filter.Platform != "" && obj.Platform != filter.Platform {
		return false
	}
	if filter.Workspace != "" && obj.Workspace != filter.Workspace {
		return false
	}
	if filter.ObjectType != "" && obj.ObjectType != filter.ObjectType {
		return false
	}
	if filter.Scenario != "" && scenarioOf(obj) != filter.Scenario {
		return false
	}
	return true
}

// InsertChunk stores one chunk. Chunk ids are unique; inserting an existing
// id replaces the chunk in place.
func (ms *MemoryStore) InsertChunk(ctx context.Context, chunk *types.Chunk) error {
	start := time.Now()
	var err error
	defer func() { observe("insert_chunk", start, err) }()

	if chunk == nil {
		err = fmt.Errorf("chunk cannot be nil")
		return err
	}
	if verr := chunk.Validate(); verr != nil {
		err = fmt.Errorf("invalid chunk: %w", verr)
		return err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	if _, exists := ms.chunks[chunk.ID]; !exists {
		ms.chunkOrder = append(ms.chunkOrder, chunk.ID)
	}
	ms.chunks[chunk.ID] = chunk
	return nil
}

// DeleteChunksByObjectIDs removes every chunk owned by the given objects.
func (ms *MemoryStore) DeleteChunksByObjectIDs(ctx context.Context, objectIDs []string) error {
	start := time.Now()
	defer func() { observe("delete_chunks_by_object_ids", start, nil) }()

	if len(objectIDs) == 0 {
		return nil
	}
	doomed := make(map[string]struct{}, len(objectIDs))
	for _, id := range objectIDs {
		doomed[id] = struct{}{}
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	kept := ms.chunkOrder[:0]
	for _, chunkID := range ms.chunkOrder {
		chunk := ms.chunks[chunkID]
		if _, gone := doomed[chunk.CanonicalObjectID]; gone {
			delete(ms.chunks, chunkID)
			continue
		}
		kept = append(kept, chunkID)
	}
	ms.chunkOrder = kept
	return nil
}

// ListChunksByObjectIDs returns the chunks owned by the given objects in
// insertion order.
func (ms *MemoryStore) ListChunksByObjectIDs(ctx context.Context, objectIDs []string) ([]types.Chunk, error) {
	start := time.Now()
	defer func() { observe("list_chunks_by_object_ids", start, nil) }()

	if len(objectIDs) == 0 {
		return nil, nil
	}
	wanted := make(map[string]struct{}, len(objectIDs))
	for _, id := range objectIDs {
		wanted[id] = struct{}{}
	}

	ms.mu.RLock()
	defer ms.mu.RUnlock()

	out := make([]types.Chunk, 0)
	for _, chunkID := range ms.chunkOrder {
		chunk := ms.chunks[chunkID]
		if _, ok := wanted[chunk.CanonicalObjectID]; ok {
			out = append(out, *chunk)
		}
	}
	return out, nil
}

// NearestChunks scans every embedded chunk and ranks by cosine similarity.
func (ms *MemoryStore) NearestChunks(ctx context.Context, queryEmbedding []float64, similarityMin float64, limit int) ([]types.ChunkHit, error) {
	start := time.Now()
	var err error
	defer func() { observe("nearest_chunks", start, err) }()

	if len(queryEmbedding) == 0 {
		err = fmt.Errorf("query embedding cannot be empty")
		return nil, err
	}

	ms.mu.RLock()
	defer ms.mu.RUnlock()

	candidates := make([]chunkCandidate, 0, len(ms.chunkOrder))
	for _, chunkID := range ms.chunkOrder {
		chunk := ms.chunks[chunkID]
		if len(chunk.Embedding) == 0 {
			continue
		}
		candidates = append(candidates, chunkCandidate{
			id:        chunk.ID,
			objectID:  chunk.CanonicalObjectID,
			content:   chunk.Content,
			embedding: chunk.Embedding,
		})
	}
	return rankCandidates(candidates, queryEmbedding, similarityMin, limit), nil
}

// UpsertExperiment inserts or updates an experiment keyed by its unique name
// and returns the stored id. Re-upserting an existing name keeps the original
// id and creation time.
func (ms *MemoryStore) UpsertExperiment(ctx context.Context, exp *types.Experiment) (string, error) {
	start := time.Now()
	var err error
	defer func() { observe("upsert_experiment", start, err) }()

	if exp == nil || exp.Name == "" {
		err = fmt.Errorf("experiment must have a name")
		return "", err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if existingID, ok := ms.experimentNames[exp.Name]; ok {
		existing := ms.experiments[existingID]
		updated := *exp
		updated.ID = existing.ID
		updated.CreatedAt = existing.CreatedAt
		ms.experiments[existingID] = &updated
		return existingID, nil
	}

	stored := *exp
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	ms.experiments[stored.ID] = &stored
	ms.experimentNames[stored.Name] = stored.ID
	return stored.ID, nil
}

// GetExperiment returns the experiment with the given id.
func (ms *MemoryStore) GetExperiment(ctx context.Context, experimentID string) (*types.Experiment, error) {
	start := time.Now()
	var err error
	defer func() { observe("get_experiment", start, err) }()

	ms.mu.RLock()
	defer ms.mu.RUnlock()
	exp, ok := ms.experiments[experimentID]
	if !ok {
		err = fmt.Errorf("experiment not found: %s", experimentID)
		return nil, err
	}
	out := *exp
	return &out, nil
}

// ListExperiments returns all experiments ordered by creation time.
func (ms *MemoryStore) ListExperiments(ctx context.Context) ([]types.Experiment, error) {
	start := time.Now()
	defer func() { observe("list_experiments", start, nil) }()

	ms.mu.RLock()
	defer ms.mu.RUnlock()
	out := make([]types.Experiment, 0, len(ms.experiments))
	for _, exp := range ms.experiments {
		out = append(out, *exp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Name < out[j].Name
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// UpdateExperimentStatus transitions an experiment and optionally records the
// completion time.
func (ms *MemoryStore) UpdateExperimentStatus(ctx context.Context, experimentID string, status types.ExperimentStatus, completedAt *time.Time) error {
	start := time.Now()
	var err error
	defer func() { observe("update_experiment_status", start, err) }()

	if !status.Valid() {
		err = fmt.Errorf("invalid experiment status: %s", status)
		return err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	exp, ok := ms.experiments[experimentID]
	if !ok {
		err = fmt.Errorf("experiment not found: %s", experimentID)
		return err
	}
	exp.Status = status
	if completedAt != nil {
		at := completedAt.UTC()
		exp.RunCompletedAt = &at
	}
	return nil
}

func resultKey(experimentID, scenario string) string {
	return experimentID + "|" + scenario
}

// UpsertExperimentResult inserts or replaces the per-scenario result row.
func (ms *MemoryStore) UpsertExperimentResult(ctx context.Context, result *types.ExperimentResult) error {
	start := time.Now()
	var err error
	defer func() { observe("upsert_experiment_result", start, err) }()

	if result == nil || result.ExperimentID == "" || result.Scenario == "" {
		err = fmt.Errorf("experiment result must have experiment id and scenario")
		return err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	stored := *result
	ms.results[resultKey(result.ExperimentID, result.Scenario)] = &stored
	return nil
}

// ListExperimentResults returns the per-scenario results for one experiment,
// ordered by scenario.
func (ms *MemoryStore) ListExperimentResults(ctx context.Context, experimentID string) ([]types.ExperimentResult, error) {
	start := time.Now()
	defer func() { observe("list_experiment_results", start, nil) }()

	ms.mu.RLock()
	defer ms.mu.RUnlock()
	out := make([]types.ExperimentResult, 0)
	for _, res := range ms.results {
		if res.ExperimentID == experimentID {
			out = append(out, *res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Scenario < out[j].Scenario })
	return out, nil
}

func layerMetricsKey(experimentID string, layer types.Layer, method string) string {
	return experimentID + "|" + string(layer) + "|" + method
}

// UpsertLayerMetrics inserts or replaces one per-layer metrics row.
func (ms *MemoryStore) UpsertLayerMetrics(ctx context.Context, lm *types.LayerMetrics) error {
	start := time.Now()
	var err error
	defer func() { observe("upsert_layer_metrics", start, err) }()

	if lm == nil || lm.ExperimentID == "" || lm.Layer == "" || lm.EvaluationMethod == "" {
		err = fmt.Errorf("layer metrics must have experiment id, layer, and evaluation method")
		return err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	stored := *lm
	ms.layerMetrics[layerMetricsKey(lm.ExperimentID, lm.Layer, lm.EvaluationMethod)] = &stored
	return nil
}

// ListLayerMetrics returns metric rows for one experiment ordered by layer
// then method.
func (ms *MemoryStore) ListLayerMetrics(ctx context.Context, experimentID string) ([]types.LayerMetrics, error) {
	start := time.Now()
	defer func() { observe("list_layer_metrics", start, nil) }()

	ms.mu.RLock()
	defer ms.mu.RUnlock()
	out := make([]types.LayerMetrics, 0)
	for _, lm := range ms.layerMetrics {
		if lm.ExperimentID == experimentID {
			out = append(out, *lm)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Layer == out[j].Layer {
			return out[i].EvaluationMethod < out[j].EvaluationMethod
		}
		return out[i].Layer < out[j].Layer
	})
	return out, nil
}

// InsertActivityLog appends one activity record.
func (ms *MemoryStore) InsertActivityLog(ctx context.Context, record *types.ActivityRecord) error {
	start := time.Now()
	var err error
	defer func() { observe("insert_activity_log", start, err) }()

	if record == nil || record.ID == "" {
		err = fmt.Errorf("activity record must have an id")
		return err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.activity = append(ms.activity, *record)
	return nil
}

// ListActivityLog returns the most recent records, newest first. A
// non-positive limit means unlimited.
func (ms *MemoryStore) ListActivityLog(ctx context.Context, limit int) ([]types.ActivityRecord, error) {
	start := time.Now()
	defer func() { observe("list_activity_log", start, nil) }()

	ms.mu.RLock()
	defer ms.mu.RUnlock()
	out := make([]types.ActivityRecord, 0, len(ms.activity))
	for i := len(ms.activity) - 1; i >= 0; i-- {
		out = append(out, ms.activity[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func gtRelationKey(rel *types.GroundTruthRelation) string {
	return strings.Join([]string{rel.FromID, rel.ToID, rel.RelationType, rel.Scenario}, "|")
}

// UpsertGroundTruth loads curated relations and queries. Relations are keyed
// by (from, to, type, scenario) and queries by id, so reloading a corpus is
// idempotent.
func (ms *MemoryStore) UpsertGroundTruth(ctx context.Context, relations []types.GroundTruthRelation, queries []types.GroundTruthQuery) error {
	start := time.Now()
	var err error
	defer func() { observe("upsert_ground_truth", start, err) }()

	for i := range queries {
		if queries[i].ID == "" {
			err = fmt.Errorf("ground truth query must have an id")
			return err
		}
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	for _, rel := range relations {
		key := gtRelationKey(&rel)
		if _, exists := ms.gtRelations[key]; !exists {
			ms.gtRelOrder = append(ms.gtRelOrder, key)
		}
		ms.gtRelations[key] = rel
	}
	for _, q := range queries {
		if _, exists := ms.gtQueries[q.ID]; !exists {
			ms.gtQueryOrder = append(ms.gtQueryOrder, q.ID)
		}
		ms.gtQueries[q.ID] = q
	}
	return nil
}

// ListGroundTruthRelations returns curated relations matching the filter in
// load order.
func (ms *MemoryStore) ListGroundTruthRelations(ctx context.Context, filter GroundTruthFilter) ([]types.GroundTruthRelation, error) {
	start := time.Now()
	defer func() { observe("list_ground_truth_relations", start, nil) }()

	ms.mu.RLock()
	defer ms.mu.RUnlock()
	out := make([]types.GroundTruthRelation, 0)
	for _, key := range ms.gtRelOrder {
		rel := ms.gtRelations[key]
		if filter.Scenario != "" && rel.Scenario != filter.Scenario {
			continue
		}
		out = append(out, rel)
	}
	return out, nil
}

// ListGroundTruthQueries returns curated queries for a scenario in load
// order. An empty scenario matches everything.
func (ms *MemoryStore) ListGroundTruthQueries(ctx context.Context, scenario string) ([]types.GroundTruthQuery, error) {
	start := time.Now()
	defer func() { observe("list_ground_truth_queries", start, nil) }()

	ms.mu.RLock()
	defer ms.mu.RUnlock()
	out := make([]types.GroundTruthQuery, 0)
	for _, id := range ms.gtQueryOrder {
		q := ms.gtQueries[id]
		if scenario != "" && q.Scenario != scenario {
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

// HealthCheck always succeeds for the in-memory store.
func (ms *MemoryStore) HealthCheck(ctx context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (ms *MemoryStore) Close() error {
	return nil
}
