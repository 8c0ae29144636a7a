package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExperimentStatus represents the lifecycle state of an experiment run
type ExperimentStatus string

const (
	// ExperimentStatusPending indicates the experiment has not started
	ExperimentStatusPending ExperimentStatus = "pending"
	// ExperimentStatusRunning indicates the pipeline is executing
	ExperimentStatusRunning ExperimentStatus = "running"
	// ExperimentStatusCompleted indicates the run finished successfully
	ExperimentStatusCompleted ExperimentStatus = "completed"
	// ExperimentStatusFailed indicates the run failed or was cancelled
	ExperimentStatusFailed ExperimentStatus = "failed"
)

// Valid returns true if the experiment status is valid
func (es ExperimentStatus) Valid() bool {
	switch es {
	case ExperimentStatusPending, ExperimentStatusRunning, ExperimentStatusCompleted, ExperimentStatusFailed:
		return true
	}
	return false
}

// Experiment is one named pipeline configuration run, unique on Name
type Experiment struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	Description    string           `json:"description,omitempty"`
	ConfigJSON     string           `json:"config_json,omitempty"`
	IsBaseline     bool             `json:"is_baseline"`
	PaperIDs       []string         `json:"paper_ids,omitempty"`
	GitCommit      string           `json:"git_commit,omitempty"`
	Status         ExperimentStatus `json:"status"`
	RunStartedAt   *time.Time       `json:"run_started_at,omitempty"`
	RunCompletedAt *time.Time       `json:"run_completed_at,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// NewExperiment creates an experiment record with defaults
func NewExperiment(name string) (*Experiment, error) {
	if name == "" {
		return nil, errors.New("experiment name cannot be empty")
	}
	return &Experiment{
		ID:        uuid.New().String(),
		Name:      name,
		Status:    ExperimentStatusPending,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// ExperimentResult holds per-scenario validation outcomes, unique on
// (experiment_id, scenario)
type ExperimentResult struct {
	ExperimentID     string  `json:"experiment_id"`
	Scenario         string  `json:"scenario"`
	F1               float64 `json:"f1"`
	Precision        float64 `json:"precision"`
	Recall           float64 `json:"recall"`
	TruePositives    int     `json:"tp"`
	FalsePositives   int     `json:"fp"`
	FalseNegatives   int     `json:"fn"`
	GroundTruthTotal int     `json:"ground_truth_total"`
	InferredTotal    int     `json:"inferred_total"`
	RetrievalTimeMS  float64 `json:"retrieval_time_ms"`
}

// Layer identifies which pipeline stage a metrics record describes
type Layer string

const (
	// LayerChunking covers chunk production
	LayerChunking Layer = "chunking"
	// LayerEmbedding covers vector generation
	LayerEmbedding Layer = "embedding"
	// LayerValidation covers relation-inference evaluation
	LayerValidation Layer = "validation"
	// LayerRetrieval covers query evaluation
	LayerRetrieval Layer = "retrieval"
	// LayerGraph covers topology evaluation
	LayerGraph Layer = "graph"
	// LayerTemporal covers timestamp-distribution evaluation
	LayerTemporal Layer = "temporal"
	// LayerConsolidation covers near-duplicate evaluation
	LayerConsolidation Layer = "consolidation"
)

// Valid returns true if the layer is valid
func (l Layer) Valid() bool {
	switch l {
	case LayerChunking, LayerEmbedding, LayerValidation, LayerRetrieval, LayerGraph, LayerTemporal, LayerConsolidation:
		return true
	}
	return false
}

// LayerMetrics is one per-stage metric record, unique on
// (experiment_id, layer, evaluation_method)
type LayerMetrics struct {
	ExperimentID     string  `json:"experiment_id"`
	Layer            Layer   `json:"layer"`
	EvaluationMethod string  `json:"evaluation_method"`
	MetricsJSON      string  `json:"metrics_json"`
	DurationMS       float64 `json:"duration_ms"`
}

// ActivityStatus represents the outcome recorded on an activity entry
type ActivityStatus string

const (
	// ActivityStatusStarted marks the beginning of an operation
	ActivityStatusStarted ActivityStatus = "started"
	// ActivityStatusCompleted marks a successful operation
	ActivityStatusCompleted ActivityStatus = "completed"
	// ActivityStatusFailed marks a failed operation
	ActivityStatusFailed ActivityStatus = "failed"
)

// Valid returns true if the activity status is valid
func (as ActivityStatus) Valid() bool {
	switch as {
	case ActivityStatusStarted, ActivityStatusCompleted, ActivityStatusFailed:
		return true
	}
	return false
}

// ActivityRecord is one append-only research activity log entry. Writes are
// best-effort: failures are logged and never propagate.
type ActivityRecord struct {
	ID            string         `json:"id"`
	OperationType string         `json:"operation_type"`
	OperationName string         `json:"operation_name"`
	Description   string         `json:"description,omitempty"`
	Status        ActivityStatus `json:"status"`
	TriggeredBy   string         `json:"triggered_by,omitempty"`
	DetailsJSON   string         `json:"details_json,omitempty"`
	GitCommit     string         `json:"git_commit,omitempty"`
	ExperimentID  string         `json:"experiment_id,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// NewActivityRecord creates an activity entry with a generated id
func NewActivityRecord(operationType, operationName string, status ActivityStatus) (*ActivityRecord, error) {
	if operationType == "" {
		return nil, errors.New("operation type cannot be empty")
	}
	if operationName == "" {
		return nil, errors.New("operation name cannot be empty")
	}
	if !status.Valid() {
		return nil, fmt.Errorf("invalid activity status: %s", status)
	}
	return &ActivityRecord{
		ID:            uuid.New().String(),
		OperationType: operationType,
		OperationName: operationName,
		Status:        status,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// Named ground-truth scenarios
const (
	ScenarioNormal     = "normal"
	ScenarioSalesHeavy = "sales_heavy"
	ScenarioDevHeavy   = "dev_heavy"
	ScenarioPattern    = "pattern"
	ScenarioStress     = "stress"
)

// AllScenarios returns the named ground-truth corpus slices
func AllScenarios() []string {
	return []string{ScenarioNormal, ScenarioSalesHeavy, ScenarioDevHeavy, ScenarioPattern, ScenarioStress}
}

// Ground-truth relation types that mark curated negatives; the validation
// matcher filters these out before set comparison.
const (
	GroundTruthVerifiedUnrelated = "human_verified_unrelated"
	GroundTruthUncertain         = "human_uncertain"
)

// GroundTruthRelation is one curated edge used to score inference. The type
// field is a free string: curated negatives use values outside the closed
// relation type set.
type GroundTruthRelation struct {
	FromID       string  `json:"from_id"`
	ToID         string  `json:"to_id"`
	RelationType string  `json:"relation_type"`
	Source       string  `json:"source,omitempty"`
	Confidence   float64 `json:"confidence"`
	Scenario     string  `json:"scenario"`
}

// IsNegative reports whether the record marks a curated non-relation
func (g *GroundTruthRelation) IsNegative() bool {
	return g.RelationType == GroundTruthVerifiedUnrelated || g.RelationType == GroundTruthUncertain
}

// PairKey normalizes the ground-truth edge the same way inferred relations
// are normalized for matching.
func (g *GroundTruthRelation) PairKey() string {
	return UndirectedPairKey(g.FromID, g.ToID)
}

// ExpectedResult is one relevance-scored object a query should return
type ExpectedResult struct {
	CanonicalObjectID string  `json:"canonical_object_id"`
	RelevanceScore    float64 `json:"relevance_score"`
}

// GroundTruthQuery is one curated retrieval query with graded expectations
type GroundTruthQuery struct {
	ID              string           `json:"id"`
	QueryText       string           `json:"query_text"`
	Scenario        string           `json:"scenario"`
	ExpectedResults []ExpectedResult `json:"expected_results"`
}
