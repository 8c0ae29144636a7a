package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"graphloom/internal/embeddings"
	"graphloom/internal/evaluation"
	"graphloom/internal/retrieval"
	"graphloom/internal/storage"
	"graphloom/pkg/types"
)

// Canonical stage names, also used as layer keys for stage durations
const (
	StageChunking      = "chunking"
	StageEmbedding     = "embedding"
	StageStorage       = "storage"
	StageRetrieval     = "retrieval"
	StageValidation    = "validation"
	StageGraph         = "graph"
	StageTemporal      = "temporal"
	StageConsolidation = "consolidation"
)

// defaultStages assembles the standard stage list: chunking, embedding,
// storage, then the evaluation stages. Bracketed stages carry ShouldRun
// predicates; the orchestrator never executes a stage whose predicate
// declines.
func (p *Pipeline) defaultStages() []Stage {
	evaluationEnabled := func(pc *Context) bool {
		return !pc.SkipValidation && pc.Config.Validation.RunOnSave
	}
	return []Stage{
		{
			Name:        StageChunking,
			Description: "split canonical objects into ordered chunks",
			Execute:     p.runChunking,
		},
		{
			Name:        StageEmbedding,
			Description: "embed chunk text in batches",
			Execute:     p.runEmbedding,
		},
		{
			Name:        StageStorage,
			Description: "replace stored chunks per object",
			ShouldRun:   func(pc *Context) bool { return !pc.SkipStorage },
			Execute:     p.runStorage,
		},
		{
			Name:        StageRetrieval,
			Description: "score retrieval against ground-truth queries",
			ShouldRun: func(pc *Context) bool {
				return evaluationEnabled(pc) && !pc.SkipStorage
			},
			Execute: p.runRetrieval,
		},
		{
			Name:        StageValidation,
			Description: "infer relations and score them against ground truth",
			ShouldRun:   evaluationEnabled,
			Execute:     p.runValidation,
		},
		{
			Name:        StageGraph,
			Description: "compute relation graph topology",
			ShouldRun:   evaluationEnabled,
			Execute:     p.runGraph,
		},
		{
			Name:        StageTemporal,
			Description: "compute temporal distribution of the corpus",
			ShouldRun:   evaluationEnabled,
			Execute:     p.runTemporal,
		},
		{
			Name:        StageConsolidation,
			Description: "detect near-duplicate consolidation opportunities",
			ShouldRun:   evaluationEnabled,
			Execute:     p.runConsolidation,
		},
	}
}

// runChunking splits every object and records aggregate chunk statistics
func (p *Pipeline) runChunking(_ context.Context, pc *Context) error {
	if len(pc.Objects) == 0 {
		return fmt.Errorf("chunking requires at least one object")
	}
	chunks, err := p.chunker.ChunkObjects(pc.Objects)
	if err != nil {
		return err
	}
	pc.Chunks = chunks
	stats := p.chunker.Stats(chunks)
	pc.Stats.Chunking = &stats
	p.logger.Info("chunking complete",
		zap.Int("objects", len(pc.Objects)), zap.Int("chunks", len(chunks)))
	return nil
}

// runEmbedding embeds all chunk content and keys the vectors by chunk id.
// Token usage is read as a before/after delta so shared embedder services
// report only this run's consumption.
func (p *Pipeline) runEmbedding(ctx context.Context, pc *Context) error {
	if len(pc.Chunks) == 0 {
		return fmt.Errorf("embedding requires chunks; run chunking first")
	}

	texts := make([]string, len(pc.Chunks))
	for i := range pc.Chunks {
		texts[i] = pc.Chunks[i].Content
	}

	before := p.embedder.Usage()
	vectors, err := p.embedder.GenerateBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed chunks: %w", err)
	}
	if len(vectors) != len(pc.Chunks) {
		return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(pc.Chunks))
	}

	for i := range pc.Chunks {
		pc.Embeddings[pc.Chunks[i].ID] = vectors[i]
	}

	after := p.embedder.Usage()
	tokens := after.TotalTokens - before.TotalTokens
	pc.Stats.Embedding = &EmbeddingStats{
		TotalTokens: tokens,
		CostUSD:     embeddings.EstimateCost(tokens, p.embedder.Model()),
	}
	p.logger.Info("embedding complete",
		zap.Int("chunks", len(pc.Chunks)),
		zap.Int("tokens", tokens),
		zap.Float64("cost_usd", pc.Stats.Embedding.CostUSD))
	return nil
}

// runStorage replaces the stored chunk set per object: delete everything
// under each object id, then insert this run's chunks with their
// embeddings.
func (p *Pipeline) runStorage(ctx context.Context, pc *Context) error {
	if len(pc.Chunks) == 0 {
		return fmt.Errorf("storage requires chunks; run chunking first")
	}
	if len(pc.Embeddings) == 0 {
		return fmt.Errorf("storage requires embeddings; run embedding first")
	}

	objectIDs := make([]string, 0, len(pc.Objects))
	for _, obj := range pc.Objects {
		objectIDs = append(objectIDs, obj.ID)
	}
	if err := pc.Store.DeleteChunksByObjectIDs(ctx, objectIDs); err != nil {
		return fmt.Errorf("failed to delete existing chunks: %w", err)
	}

	for i := range pc.Chunks {
		chunk := pc.Chunks[i]
		chunk.Embedding = pc.Embeddings[chunk.ID]
		if err := pc.Store.InsertChunk(ctx, &chunk); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", chunk.ID, err)
		}
	}

	p.logActivity(ctx, pc, types.ActivityStatusCompleted, "storage_replace",
		fmt.Sprintf("replaced chunks for %d objects", len(objectIDs)),
		map[string]interface{}{"objects": len(objectIDs), "chunks": len(pc.Chunks)})
	return nil
}

// runRetrieval scores the retriever against ground-truth queries. Retrieved
// chunks are deduplicated by canonical object id before metric computation,
// matching how expected results are expressed (one relevance score per
// object).
func (p *Pipeline) runRetrieval(ctx context.Context, pc *Context) error {
	scenario := types.ScenarioNormal
	if len(pc.Config.Validation.Scenarios) > 0 {
		scenario = pc.Config.Validation.Scenarios[0]
	}
	queries, err := pc.Store.ListGroundTruthQueries(ctx, scenario)
	if err != nil {
		return fmt.Errorf("failed to load ground-truth queries: %w", err)
	}
	if len(queries) == 0 {
		p.logger.Warn("no ground-truth queries for scenario; retrieval metrics empty",
			zap.String("scenario", scenario))
		report := evaluation.EvaluateRetrieval(nil)
		pc.Stats.Retrieval = &report
		return nil
	}

	if len(pc.InferredRelations) > 0 {
		p.retriever.SetRelations(pc.InferredRelations)
	}
	opts := retrieval.Options{
		SimilarityThreshold: pc.Config.Retrieval.SimilarityThreshold,
		ChunkLimit:          pc.Config.Retrieval.ChunkLimit,
		IncludeRelations:    pc.Config.Retrieval.IncludeRelations,
		RelationDepth:       pc.Config.Retrieval.RelationDepth,
	}

	results := make([]evaluation.QueryResult, 0, len(queries))
	for _, query := range queries {
		res, retrieveErr := p.retriever.Retrieve(ctx, query.QueryText, opts)
		if retrieveErr != nil {
			return fmt.Errorf("retrieval failed for query %s: %w", query.ID, retrieveErr)
		}
		results = append(results, evaluation.QueryResult{
			Query:           query,
			RetrievedIDs:    dedupeByObject(res.Chunks),
			RetrievalTimeMS: res.Stats.RetrievalTimeMS,
		})
	}

	report := evaluation.EvaluateRetrieval(results)
	pc.Stats.Retrieval = &report
	p.logger.Info("retrieval evaluation complete",
		zap.String("scenario", scenario),
		zap.Int("queries", len(queries)),
		zap.Float64("ndcg_at_10", report.NDCGAt10),
		zap.Float64("mrr", report.MRR))
	return nil
}

// dedupeByObject keeps the first (best-ranked) hit per canonical object
func dedupeByObject(hits []types.ChunkHit) []string {
	seen := make(map[string]struct{}, len(hits))
	ids := make([]string, 0, len(hits))
	for _, hit := range hits {
		if _, dup := seen[hit.CanonicalObjectID]; dup {
			continue
		}
		seen[hit.CanonicalObjectID] = struct{}{}
		ids = append(ids, hit.CanonicalObjectID)
	}
	return ids
}

// runValidation infers relations over the object set and scores them
// against ground truth per configured scenario. Per-object embeddings are
// the component-wise mean of each object's stored chunk embeddings.
func (p *Pipeline) runValidation(ctx context.Context, pc *Context) error {
	objectEmbeddings, err := p.objectEmbeddings(ctx, pc)
	if err != nil {
		return err
	}

	var inferred []types.Relation
	if pc.Config.RelationInference.UseContrastiveICL {
		inferred, err = p.inferrer.InferAllWithContrastiveICL(ctx, pc.Objects)
		if err != nil {
			return fmt.Errorf("contrastive inference failed: %w", err)
		}
	} else {
		inferred = p.inferrer.InferAllWithEmbeddings(pc.Objects, objectEmbeddings)
	}
	pc.InferredRelations = inferred

	scenarios := pc.Config.Validation.Scenarios
	if len(scenarios) == 0 {
		scenarios = []string{types.ScenarioNormal}
	}
	reports := make(map[string]*evaluation.ValidationReport, len(scenarios))
	for _, scenario := range scenarios {
		groundTruth, gtErr := pc.Store.ListGroundTruthRelations(ctx, storage.GroundTruthFilter{Scenario: scenario})
		if gtErr != nil {
			return fmt.Errorf("failed to load ground truth for %s: %w", scenario, gtErr)
		}
		report := evaluation.EvaluateValidation(inferred, groundTruth)
		reports[scenario] = &report
		p.logger.Info("validation complete",
			zap.String("scenario", scenario),
			zap.Float64("f1", report.F1),
			zap.Float64("precision", report.Precision),
			zap.Float64("recall", report.Recall))
	}
	pc.Stats.Validation = reports
	return nil
}

// objectEmbeddings averages stored chunk embeddings per object. Chunks with
// mismatched dimensions are skipped with a warning; objects with no usable
// chunk vectors get no entry and degrade to keyword-only similarity.
func (p *Pipeline) objectEmbeddings(ctx context.Context, pc *Context) (map[string][]float64, error) {
	// Dry runs never stored anything; average the in-context embeddings
	// instead of reading them back.
	chunks := pc.Chunks
	if !pc.SkipStorage {
		objectIDs := make([]string, 0, len(pc.Objects))
		for _, obj := range pc.Objects {
			objectIDs = append(objectIDs, obj.ID)
		}
		stored, err := pc.Store.ListChunksByObjectIDs(ctx, objectIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to load stored chunks: %w", err)
		}
		chunks = stored
	}

	sums := make(map[string][]float64)
	counts := make(map[string]int)
	for i := range chunks {
		chunk := &chunks[i]
		vec := chunk.Embedding
		if len(vec) == 0 {
			vec = pc.Embeddings[chunk.ID]
		}
		if len(vec) == 0 {
			continue
		}
		sum, ok := sums[chunk.CanonicalObjectID]
		if !ok {
			sums[chunk.CanonicalObjectID] = append([]float64(nil), vec...)
			counts[chunk.CanonicalObjectID] = 1
			continue
		}
		if len(sum) != len(vec) {
			p.logger.Warn("embedding dimension mismatch; chunk skipped",
				zap.String("chunk_id", chunk.ID),
				zap.Int("want", len(sum)), zap.Int("got", len(vec)))
			continue
		}
		for j := range sum {
			sum[j] += vec[j]
		}
		counts[chunk.CanonicalObjectID]++
	}

	out := make(map[string][]float64, len(sums))
	for id, sum := range sums {
		n := float64(counts[id])
		mean := make([]float64, len(sum))
		for j := range sum {
			mean[j] = sum[j] / n
		}
		out[id] = mean
	}
	return out, nil
}

// runGraph computes topology metrics over the inferred relation set
func (p *Pipeline) runGraph(_ context.Context, pc *Context) error {
	report := evaluation.EvaluateGraph(pc.InferredRelations)
	pc.Stats.Graph = &report
	p.logger.Info("graph evaluation complete",
		zap.Int("nodes", report.NodeCount),
		zap.Int("edges", report.EdgeCount),
		zap.Int("components", report.ConnectedComponents))
	return nil
}

// runTemporal computes the timestamp distribution of the object set
func (p *Pipeline) runTemporal(_ context.Context, pc *Context) error {
	report := evaluation.EvaluateTemporal(pc.Objects, time.Now().UTC(), p.logger)
	pc.Stats.Temporal = &report
	p.logger.Info("temporal evaluation complete",
		zap.Float64("coverage_days", report.CoverageDays),
		zap.Float64("recency_score", report.RecencyScore))
	return nil
}

// runConsolidation detects near-duplicate objects and redundant relations
func (p *Pipeline) runConsolidation(_ context.Context, pc *Context) error {
	report := evaluation.EvaluateConsolidation(pc.Objects, pc.InferredRelations)
	pc.Stats.Consolidation = &report
	p.logger.Info("consolidation evaluation complete",
		zap.Int("duplicate_pairs", report.DuplicatePairs),
		zap.Int("duplicate_clusters", report.DuplicateClusters))
	return nil
}
