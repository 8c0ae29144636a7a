// Package metrics exposes Prometheus collectors for pipeline observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pipeline metrics
	PipelineRunsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "graphloom_pipeline_runs_started_total",
			Help: "Total number of pipeline runs started",
		},
	)

	PipelineRunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphloom_pipeline_runs_completed_total",
			Help: "Total number of pipeline runs completed",
		},
		[]string{"status"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "graphloom_stage_duration_seconds",
			Help:    "Stage execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	// Embedding metrics
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphloom_embedding_requests_total",
			Help: "Total number of embedding batch requests",
		},
		[]string{"status"},
	)

	EmbeddingTokensUsed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "graphloom_embedding_tokens_total",
			Help: "Total number of embedding tokens consumed",
		},
	)

	EmbeddingCostUSD = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "graphloom_embedding_cost_usd_total",
			Help: "Accumulated embedding cost in USD",
		},
	)

	EmbeddingCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphloom_embedding_cache_hits_total",
			Help: "Embedding cache hits by tier",
		},
		[]string{"tier"},
	)

	EmbeddingCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "graphloom_embedding_cache_misses_total",
			Help: "Embedding cache misses",
		},
	)

	// Relation inference metrics
	RelationsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphloom_relations_emitted_total",
			Help: "Relations emitted by type and source",
		},
		[]string{"type", "source"},
	)

	LLMJudgments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphloom_llm_judgments_total",
			Help: "Contrastive LLM pair judgments by outcome",
		},
		[]string{"outcome"},
	)

	// Store metrics
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "graphloom_store_operation_duration_seconds",
			Help:    "Persistence operation duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"operation"},
	)

	StoreOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphloom_store_operation_errors_total",
			Help: "Persistence operation errors",
		},
		[]string{"operation"},
	)

	// Retrieval metrics
	RetrievalDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "graphloom_retrieval_duration_seconds",
			Help:    "Retrieval query duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)
)
