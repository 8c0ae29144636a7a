// Package pipeline runs the staged knowledge-graph pipeline: chunking,
// embedding, storage, and the evaluation stages, threaded through a shared
// context record. The orchestrator owns stage ordering, experiment
// bookkeeping, and the activity log; stages own their transformations.
package pipeline

import (
	"time"

	"graphloom/internal/config"
	"graphloom/internal/evaluation"
	"graphloom/internal/storage"
	"graphloom/pkg/types"
)

// Context is the shared state one run threads through its stages. The
// orchestrator owns it; stages read fields populated by earlier stages and
// replace only their own output field.
type Context struct {
	Config            *config.ExperimentConfig
	StartTime         time.Time
	Objects           []*types.CanonicalObject
	Chunks            []types.Chunk
	Embeddings        map[string][]float64
	InferredRelations []types.Relation
	Stats             Stats
	Store             storage.Store
	ExperimentID      string

	// Run flags. SkipStorage makes the run a dry run; SkipValidation drops
	// every evaluation stage regardless of runOnSave.
	SkipStorage    bool
	SkipValidation bool
}

// EmbeddingStats summarizes the embedding stage
type EmbeddingStats struct {
	TotalTokens int     `json:"total_tokens"`
	CostUSD     float64 `json:"cost_usd"`
}

// Stats collects per-stage outputs. Fields stay nil for stages that did not
// run, so consumers can tell "skipped" from "ran and found nothing".
type Stats struct {
	Chunking       *types.ChunkingStats                    `json:"chunking,omitempty"`
	Embedding      *EmbeddingStats                         `json:"embedding,omitempty"`
	Validation     map[string]*evaluation.ValidationReport `json:"validation,omitempty"`
	Retrieval      *evaluation.RetrievalReport             `json:"retrieval,omitempty"`
	Graph          *evaluation.GraphReport                 `json:"graph,omitempty"`
	Temporal       *evaluation.TemporalReport              `json:"temporal,omitempty"`
	Consolidation  *evaluation.ConsolidationReport         `json:"consolidation,omitempty"`
	StageDurations map[string]float64                      `json:"stage_durations_ms,omitempty"`
}

// Result is the structured outcome of one pipeline run. Stage failures are
// reported here rather than as a Go error so partial stats from earlier
// stages survive.
type Result struct {
	Success      bool                     `json:"success"`
	Config       *config.ExperimentConfig `json:"config"`
	ExperimentID string                   `json:"experiment_id,omitempty"`
	DurationMS   float64                  `json:"duration_ms"`
	Timestamp    time.Time                `json:"timestamp"`
	Stats        *Stats                   `json:"stats"`
	Error        string                   `json:"error,omitempty"`
}
