package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"graphloom/internal/chunking"
	"graphloom/internal/config"
	"graphloom/internal/embeddings"
	"graphloom/internal/llm"
	"graphloom/internal/metrics"
	"graphloom/internal/relations"
	"graphloom/internal/retrieval"
	"graphloom/internal/storage"
	"graphloom/pkg/types"
)

// Stage is one unit of pipeline work. ShouldRun may be nil, meaning the
// stage always runs. Execute receives the cancellation context and the
// shared pipeline context.
type Stage struct {
	Name        string
	Description string
	ShouldRun   func(pc *Context) bool
	Execute     func(ctx context.Context, pc *Context) error
	// Timeout bounds a single Execute call. Zero means no stage timeout.
	Timeout time.Duration
}

// Hooks are optional lifecycle callbacks fired around each stage
type Hooks struct {
	OnStageStart    func(stage string)
	OnStageComplete func(stage string, took time.Duration)
	OnStageError    func(stage string, err error)
}

// Deps carries the collaborators a pipeline needs. Store and Embedder are
// required; LLM only when the config enables contrastive judging.
type Deps struct {
	Store       storage.Store
	Embedder    embeddings.Service
	LLM         llm.Client
	Logger      *zap.Logger
	Feed        *Feed
	Hooks       Hooks
	TriggeredBy string
}

// RunOptions adjust a single Run call
type RunOptions struct {
	// Objects to process. When empty the pipeline loads every canonical
	// object from the store.
	Objects []*types.CanonicalObject
	// SkipStorage makes the run a dry run: chunks and embeddings are
	// computed but never persisted.
	SkipStorage bool
	// SkipValidation drops every evaluation stage regardless of runOnSave.
	SkipValidation bool
}

// Pipeline executes the staged run: chunking, embedding, storage, then the
// evaluation stages, threading one Context through all of them.
type Pipeline struct {
	cfg       *config.ExperimentConfig
	store     storage.Store
	embedder  embeddings.Service
	chunker   *chunking.Service
	inferrer  *relations.Inferrer
	retriever *retrieval.Retriever
	logger    *zap.Logger
	feed      *Feed
	hooks     Hooks
	trigger   string
	stages    []Stage
}

// New builds a pipeline for one experiment config. The chunker and inferrer
// are constructed here so configuration errors surface before any stage
// runs.
func New(cfg *config.ExperimentConfig, deps Deps) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("experiment config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("embedder cannot be nil")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "pipeline"), zap.String("experiment", cfg.Name))

	chunker, err := chunking.NewService(&chunking.Config{
		Strategy:         types.ChunkMethod(cfg.Chunking.Strategy),
		MaxChunkSize:     cfg.Chunking.MaxChunkSize,
		Overlap:          cfg.Chunking.Overlap,
		PreserveMetadata: cfg.Chunking.PreserveMetadata,
	}, logger)
	if err != nil {
		return nil, err
	}

	inferrer, err := relations.NewInferrer(inferenceOptions(cfg), deps.LLM, logger)
	if err != nil {
		return nil, err
	}

	retriever, err := retrieval.NewRetriever(deps.Embedder, deps.Store, logger)
	if err != nil {
		return nil, err
	}

	trigger := deps.TriggeredBy
	if trigger == "" {
		trigger = "pipeline"
	}

	p := &Pipeline{
		cfg:       cfg,
		store:     deps.Store,
		embedder:  deps.Embedder,
		chunker:   chunker,
		inferrer:  inferrer,
		retriever: retriever,
		logger:    logger,
		feed:      deps.Feed,
		hooks:     deps.Hooks,
		trigger:   trigger,
	}
	p.stages = p.defaultStages()
	return p, nil
}

// inferenceOptions maps the relationInference config section onto inferrer
// options.
func inferenceOptions(cfg *config.ExperimentConfig) relations.Options {
	ri := cfg.RelationInference
	opts := relations.Options{
		SimilarityThreshold:      ri.SimilarityThreshold,
		KeywordOverlapThreshold:  ri.KeywordOverlapThreshold,
		IncludeInferred:          ri.IncludeInferred,
		UseSemanticSimilarity:    ri.UseSemanticSimilarity,
		SemanticWeight:           ri.SemanticWeight,
		EnableDuplicateDetection: ri.EnableDuplicateDetection,
		UseContrastiveICL:        ri.UseContrastiveICL,
		PromptTemplate:           ri.PromptTemplate,
	}
	if ri.ContrastiveExamples != nil {
		for _, ex := range ri.ContrastiveExamples.Positive {
			opts.ContrastiveExamples.Positive = append(opts.ContrastiveExamples.Positive, relations.Example(ex))
		}
		for _, ex := range ri.ContrastiveExamples.Negative {
			opts.ContrastiveExamples.Negative = append(opts.ContrastiveExamples.Negative, relations.Example(ex))
		}
	}
	return opts
}

// Stages returns the names of the installed stages in execution order
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name
	}
	return names
}

// AddStage inserts a stage. Without an index the stage is appended; an
// index clamps into [0, len].
func (p *Pipeline) AddStage(stage Stage, index ...int) {
	if len(index) == 0 {
		p.stages = append(p.stages, stage)
		return
	}
	at := index[0]
	if at < 0 {
		at = 0
	}
	if at > len(p.stages) {
		at = len(p.stages)
	}
	p.stages = append(p.stages[:at], append([]Stage{stage}, p.stages[at:]...)...)
}

// RemoveStage drops the named stage and reports whether it was installed
func (p *Pipeline) RemoveStage(name string) bool {
	for i, s := range p.stages {
		if s.Name == name {
			p.stages = append(p.stages[:i], p.stages[i+1:]...)
			return true
		}
	}
	return false
}

// Run executes the stages in order. Stage failures come back inside the
// Result, not as a Go error, so stats from earlier stages survive; the
// returned error covers only setup failures before any stage ran.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) *Result {
	start := time.Now()
	metrics.PipelineRunsStarted.Inc()

	pc := &Context{
		Config:         p.cfg,
		StartTime:      start,
		Objects:        opts.Objects,
		Embeddings:     make(map[string][]float64),
		Store:          p.store,
		SkipStorage:    opts.SkipStorage,
		SkipValidation: opts.SkipValidation,
	}
	pc.Stats.StageDurations = make(map[string]float64)

	if len(pc.Objects) == 0 {
		loaded, err := p.store.SearchCanonicalObjects(ctx, storage.ObjectFilter{}, 0)
		if err != nil {
			return p.fail(ctx, pc, start, fmt.Errorf("failed to load objects: %w", err))
		}
		pc.Objects = loaded
	}
	if len(pc.Objects) == 0 {
		return p.fail(ctx, pc, start, fmt.Errorf("pipeline requires at least one canonical object"))
	}

	if p.cfg.Validation.AutoSaveExperiment {
		id, err := p.saveExperiment(ctx)
		if err != nil {
			return p.fail(ctx, pc, start, fmt.Errorf("failed to save experiment: %w", err))
		}
		pc.ExperimentID = id
	}

	p.logActivity(ctx, pc, types.ActivityStatusStarted, "pipeline_run",
		fmt.Sprintf("pipeline started with %d objects", len(pc.Objects)), nil)

	for _, stage := range p.stages {
		if err := ctx.Err(); err != nil {
			return p.fail(ctx, pc, start, fmt.Errorf("cancelled before stage %s: %w", stage.Name, err))
		}
		if stage.ShouldRun != nil && !stage.ShouldRun(pc) {
			p.logger.Debug("stage skipped", zap.String("stage", stage.Name))
			continue
		}

		if p.hooks.OnStageStart != nil {
			p.hooks.OnStageStart(stage.Name)
		}
		p.logger.Info("stage starting", zap.String("stage", stage.Name))

		stageCtx := ctx
		cancel := context.CancelFunc(func() {})
		if stage.Timeout > 0 {
			stageCtx, cancel = context.WithTimeout(ctx, stage.Timeout)
		}
		stageStart := time.Now()
		err := stage.Execute(stageCtx, pc)
		cancel()
		took := time.Since(stageStart)
		pc.Stats.StageDurations[stage.Name] = float64(took.Microseconds()) / 1000.0
		metrics.StageDuration.WithLabelValues(stage.Name).Observe(took.Seconds())

		if err != nil {
			if p.hooks.OnStageError != nil {
				p.hooks.OnStageError(stage.Name, err)
			}
			return p.fail(ctx, pc, start, fmt.Errorf("stage %s failed: %w", stage.Name, err))
		}
		if p.hooks.OnStageComplete != nil {
			p.hooks.OnStageComplete(stage.Name, took)
		}
		p.logger.Info("stage complete", zap.String("stage", stage.Name), zap.Duration("took", took))
	}

	return p.complete(ctx, pc, start)
}

// saveExperiment upserts the experiment row for this config and marks it
// running.
func (p *Pipeline) saveExperiment(ctx context.Context) (string, error) {
	exp, err := types.NewExperiment(p.cfg.Name)
	if err != nil {
		return "", err
	}
	configJSON, err := p.cfg.ToJSON()
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	exp.Description = p.cfg.Description
	exp.ConfigJSON = configJSON
	exp.IsBaseline = p.cfg.Metadata.Baseline
	exp.PaperIDs = p.cfg.Metadata.PaperIDs
	exp.GitCommit = p.cfg.Metadata.GitCommit
	exp.Status = types.ExperimentStatusRunning
	exp.RunStartedAt = &now
	return p.store.UpsertExperiment(ctx, exp)
}

// fail finalizes a run that did not finish: failed activity record, failed
// experiment status, and a Result preserving whatever stats earlier stages
// produced.
func (p *Pipeline) fail(ctx context.Context, pc *Context, start time.Time, runErr error) *Result {
	p.logger.Error("pipeline failed", zap.Error(runErr))
	metrics.PipelineRunsCompleted.WithLabelValues("failed").Inc()

	p.logActivity(ctx, pc, types.ActivityStatusFailed, "pipeline_run", runErr.Error(), nil)
	if pc.ExperimentID != "" {
		if err := p.store.UpdateExperimentStatus(ctx, pc.ExperimentID, types.ExperimentStatusFailed, nil); err != nil {
			p.logger.Warn("failed to mark experiment failed", zap.Error(err))
		}
	}

	return &Result{
		Success:      false,
		Config:       p.cfg,
		ExperimentID: pc.ExperimentID,
		DurationMS:   float64(time.Since(start).Microseconds()) / 1000.0,
		Timestamp:    time.Now().UTC(),
		Stats:        &pc.Stats,
		Error:        runErr.Error(),
	}
}

// complete finalizes a successful run: completed activity record, experiment
// lifecycle update, per-scenario result rows, and per-stage layer metrics.
func (p *Pipeline) complete(ctx context.Context, pc *Context, start time.Time) *Result {
	took := time.Since(start)
	metrics.PipelineRunsCompleted.WithLabelValues("completed").Inc()

	details := map[string]interface{}{
		"objects":     len(pc.Objects),
		"chunks":      len(pc.Chunks),
		"duration_ms": float64(took.Microseconds()) / 1000.0,
	}
	p.logActivity(ctx, pc, types.ActivityStatusCompleted, "pipeline_run", "pipeline completed", details)

	if pc.ExperimentID != "" {
		completedAt := time.Now().UTC()
		if err := p.store.UpdateExperimentStatus(ctx, pc.ExperimentID, types.ExperimentStatusCompleted, &completedAt); err != nil {
			p.logger.Warn("failed to mark experiment completed", zap.Error(err))
		}
		p.saveScenarioResults(ctx, pc)
		p.saveLayerMetrics(ctx, pc)
	}

	p.logger.Info("pipeline complete",
		zap.Int("objects", len(pc.Objects)),
		zap.Int("chunks", len(pc.Chunks)),
		zap.Int("relations", len(pc.InferredRelations)),
		zap.Duration("took", took))

	return &Result{
		Success:      true,
		Config:       p.cfg,
		ExperimentID: pc.ExperimentID,
		DurationMS:   float64(took.Microseconds()) / 1000.0,
		Timestamp:    time.Now().UTC(),
		Stats:        &pc.Stats,
	}
}

// saveScenarioResults derives one experiment_results row per validated
// scenario.
func (p *Pipeline) saveScenarioResults(ctx context.Context, pc *Context) {
	var retrievalMS float64
	if pc.Stats.Retrieval != nil {
		retrievalMS = pc.Stats.Retrieval.AvgRetrievalTimeMS
	}
	for scenario, report := range pc.Stats.Validation {
		result := &types.ExperimentResult{
			ExperimentID:     pc.ExperimentID,
			Scenario:         scenario,
			F1:               report.F1,
			Precision:        report.Precision,
			Recall:           report.Recall,
			TruePositives:    report.TruePositives,
			FalsePositives:   report.FalsePositives,
			FalseNegatives:   report.FalseNegatives,
			GroundTruthTotal: report.GroundTruthTotal,
			InferredTotal:    report.InferredTotal,
			RetrievalTimeMS:  retrievalMS,
		}
		if err := p.store.UpsertExperimentResult(ctx, result); err != nil {
			p.logger.Warn("failed to save experiment result",
				zap.String("scenario", scenario), zap.Error(err))
		}
	}
}

// saveLayerMetrics upserts one metrics row per stage that produced a report
func (p *Pipeline) saveLayerMetrics(ctx context.Context, pc *Context) {
	if pc.Stats.Chunking != nil {
		p.saveLayerRow(ctx, pc, types.LayerChunking, p.cfg.Chunking.Strategy, pc.Stats.Chunking)
	}
	if pc.Stats.Embedding != nil {
		p.saveLayerRow(ctx, pc, types.LayerEmbedding, p.cfg.Embedding.Model, pc.Stats.Embedding)
	}
	if len(pc.Stats.Validation) > 0 {
		p.saveLayerRow(ctx, pc, types.LayerValidation, p.validationMethod(), pc.Stats.Validation)
	}
	if pc.Stats.Retrieval != nil {
		p.saveLayerRow(ctx, pc, types.LayerRetrieval, "vector_cosine", pc.Stats.Retrieval)
	}
	if pc.Stats.Graph != nil {
		p.saveLayerRow(ctx, pc, types.LayerGraph, "undirected_topology", pc.Stats.Graph)
	}
	if pc.Stats.Temporal != nil {
		p.saveLayerRow(ctx, pc, types.LayerTemporal, "iso_week_buckets", pc.Stats.Temporal)
	}
	if pc.Stats.Consolidation != nil {
		p.saveLayerRow(ctx, pc, types.LayerConsolidation, "jaccard_union_find", pc.Stats.Consolidation)
	}
}

func (p *Pipeline) saveLayerRow(ctx context.Context, pc *Context, layer types.Layer, method string, report interface{}) {
	payload, err := json.Marshal(report)
	if err != nil {
		p.logger.Warn("failed to serialize layer metrics",
			zap.String("layer", string(layer)), zap.Error(err))
		return
	}
	lm := &types.LayerMetrics{
		ExperimentID:     pc.ExperimentID,
		Layer:            layer,
		EvaluationMethod: method,
		MetricsJSON:      string(payload),
		DurationMS:       pc.Stats.StageDurations[string(layer)],
	}
	if err := p.store.UpsertLayerMetrics(ctx, lm); err != nil {
		p.logger.Warn("failed to save layer metrics",
			zap.String("layer", string(layer)), zap.Error(err))
	}
}

// validationMethod names how relations were inferred for the validation row
func (p *Pipeline) validationMethod() string {
	if p.cfg.RelationInference.UseContrastiveICL {
		return "contrastive_icl"
	}
	if p.cfg.RelationInference.UseSemanticSimilarity {
		return "hybrid_similarity"
	}
	return "keyword_jaccard"
}

// logActivity writes a durable activity record and publishes it to the
// feed. Failures are logged and swallowed: activity logging never fails a
// run.
func (p *Pipeline) logActivity(ctx context.Context, pc *Context, status types.ActivityStatus, name, description string, details map[string]interface{}) {
	rec, err := types.NewActivityRecord("pipeline", name, status)
	if err != nil {
		p.logger.Warn("failed to build activity record", zap.Error(err))
		return
	}
	rec.Description = description
	rec.TriggeredBy = p.trigger
	rec.ExperimentID = pc.ExperimentID
	rec.GitCommit = p.cfg.Metadata.GitCommit
	if details != nil {
		if payload, marshalErr := json.Marshal(details); marshalErr == nil {
			rec.DetailsJSON = string(payload)
		}
	}

	if err := p.store.InsertActivityLog(ctx, rec); err != nil {
		p.logger.Warn("failed to write activity log", zap.Error(err))
	}
	if p.feed != nil {
		p.feed.Publish(*rec)
	}
}
