package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"graphloom/pkg/types"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS canonical_objects (
	id TEXT PRIMARY KEY,
	platform TEXT NOT NULL,
	workspace TEXT NOT NULL,
	object_type TEXT NOT NULL,
	platform_id TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL DEFAULT '',
	actors TEXT NOT NULL DEFAULT '',
	timestamps TEXT NOT NULL DEFAULT '',
	relations TEXT NOT NULL DEFAULT '',
	properties TEXT NOT NULL DEFAULT '',
	summary TEXT,
	semantic_hash TEXT NOT NULL DEFAULT '',
	visibility TEXT NOT NULL DEFAULT 'team',
	scenario TEXT NOT NULL DEFAULT '',
	seq BIGSERIAL
);

CREATE INDEX IF NOT EXISTS idx_objects_platform ON canonical_objects(platform);
CREATE INDEX IF NOT EXISTS idx_objects_workspace ON canonical_objects(workspace);
CREATE INDEX IF NOT EXISTS idx_objects_type ON canonical_objects(object_type);
CREATE INDEX IF NOT EXISTS idx_objects_scenario ON canonical_objects(scenario);
CREATE INDEX IF NOT EXISTS idx_objects_hash ON canonical_objects(semantic_hash);

CREATE TABLE IF NOT EXISTS chunks (
	id TEXT PRIMARY KEY,
	canonical_object_id TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	content TEXT NOT NULL,
	method TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '',
	embedding TEXT,
	seq BIGSERIAL
);

CREATE INDEX IF NOT EXISTS idx_chunks_object ON chunks(canonical_object_id);

CREATE TABLE IF NOT EXISTS experiments (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT '',
	config_json TEXT NOT NULL DEFAULT '',
	is_baseline BOOLEAN NOT NULL DEFAULT FALSE,
	paper_ids TEXT NOT NULL DEFAULT '',
	git_commit TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	run_started_at TIMESTAMPTZ,
	run_completed_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS experiment_results (
	experiment_id TEXT NOT NULL,
	scenario TEXT NOT NULL,
	f1_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	precision_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	recall_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	true_positives INTEGER NOT NULL DEFAULT 0,
	false_positives INTEGER NOT NULL DEFAULT 0,
	false_negatives INTEGER NOT NULL DEFAULT 0,
	ground_truth_total INTEGER NOT NULL DEFAULT 0,
	inferred_total INTEGER NOT NULL DEFAULT 0,
	retrieval_time_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
	PRIMARY KEY (experiment_id, scenario)
);

CREATE TABLE IF NOT EXISTS layer_metrics (
	experiment_id TEXT NOT NULL,
	layer TEXT NOT NULL,
	evaluation_method TEXT NOT NULL,
	metrics_json TEXT NOT NULL DEFAULT '',
	duration_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
	PRIMARY KEY (experiment_id, layer, evaluation_method)
);

CREATE TABLE IF NOT EXISTS research_activity_log (
	id TEXT PRIMARY KEY,
	operation_type TEXT NOT NULL,
	operation_name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	triggered_by TEXT NOT NULL DEFAULT '',
	details_json TEXT NOT NULL DEFAULT '',
	git_commit TEXT NOT NULL DEFAULT '',
	experiment_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	seq BIGSERIAL
);

CREATE INDEX IF NOT EXISTS idx_activity_created ON research_activity_log(created_at);

CREATE TABLE IF NOT EXISTS ground_truth_relations (
	from_id TEXT NOT NULL,
	to_id TEXT NOT NULL,
	relation_type TEXT NOT NULL,
	source TEXT NOT NULL DEFAULT '',
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	scenario TEXT NOT NULL,
	seq BIGSERIAL,
	PRIMARY KEY (from_id, to_id, relation_type, scenario)
);

CREATE INDEX IF NOT EXISTS idx_gt_relations_scenario ON ground_truth_relations(scenario);

CREATE TABLE IF NOT EXISTS ground_truth_queries (
	id TEXT PRIMARY KEY,
	query_text TEXT NOT NULL,
	scenario TEXT NOT NULL,
	expected_results TEXT NOT NULL DEFAULT '',
	seq BIGSERIAL
);

CREATE INDEX IF NOT EXISTS idx_gt_queries_scenario ON ground_truth_queries(scenario);
`

const pgUpsertObjectSQL = `
INSERT INTO canonical_objects (id, platform, workspace, object_type, platform_id, title, body, actors, timestamps, relations, properties, summary, semantic_hash, visibility, scenario)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (id) DO UPDATE SET
	platform = EXCLUDED.platform,
	workspace = EXCLUDED.workspace,
	object_type = EXCLUDED.object_type,
	platform_id = EXCLUDED.platform_id,
	title = EXCLUDED.title,
	body = EXCLUDED.body,
	actors = EXCLUDED.actors,
	timestamps = EXCLUDED.timestamps,
	relations = EXCLUDED.relations,
	properties = EXCLUDED.properties,
	summary = EXCLUDED.summary,
	semantic_hash = EXCLUDED.semantic_hash,
	visibility = EXCLUDED.visibility,
	scenario = EXCLUDED.scenario`

const pgInsertChunkSQL = `
INSERT INTO chunks (id, canonical_object_id, chunk_index, content, method, metadata, embedding)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
	canonical_object_id = EXCLUDED.canonical_object_id,
	chunk_index = EXCLUDED.chunk_index,
	content = EXCLUDED.content,
	method = EXCLUDED.method,
	metadata = EXCLUDED.metadata,
	embedding = EXCLUDED.embedding`

const pgUpsertExperimentSQL = `
INSERT INTO experiments (id, name, description, config_json, is_baseline, paper_ids, git_commit, status, run_started_at, run_completed_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (name) DO UPDATE SET
	description = EXCLUDED.description,
	config_json = EXCLUDED.config_json,
	is_baseline = EXCLUDED.is_baseline,
	paper_ids = EXCLUDED.paper_ids,
	git_commit = EXCLUDED.git_commit,
	status = EXCLUDED.status,
	run_started_at = EXCLUDED.run_started_at,
	run_completed_at = EXCLUDED.run_completed_at
RETURNING id`

const pgUpsertResultSQL = `
INSERT INTO experiment_results (experiment_id, scenario, f1_score, precision_score, recall_score, true_positives, false_positives, false_negatives, ground_truth_total, inferred_total, retrieval_time_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (experiment_id, scenario) DO UPDATE SET
	f1_score = EXCLUDED.f1_score,
	precision_score = EXCLUDED.precision_score,
	recall_score = EXCLUDED.recall_score,
	true_positives = EXCLUDED.true_positives,
	false_positives = EXCLUDED.false_positives,
	false_negatives = EXCLUDED.false_negatives,
	ground_truth_total = EXCLUDED.ground_truth_total,
	inferred_total = EXCLUDED.inferred_total,
	retrieval_time_ms = EXCLUDED.retrieval_time_ms`

const pgUpsertLayerMetricsSQL = `
INSERT INTO layer_metrics (experiment_id, layer, evaluation_method, metrics_json, duration_ms)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (experiment_id, layer, evaluation_method) DO UPDATE SET
	metrics_json = EXCLUDED.metrics_json,
	duration_ms = EXCLUDED.duration_ms`

const pgUpsertGTRelationSQL = `
INSERT INTO ground_truth_relations (from_id, to_id, relation_type, source, confidence, scenario)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (from_id, to_id, relation_type, scenario) DO UPDATE SET
	source = EXCLUDED.source,
	confidence = EXCLUDED.confidence`

const pgUpsertGTQuerySQL = `
INSERT INTO ground_truth_queries (id, query_text, scenario, expected_results)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET
	query_text = EXCLUDED.query_text,
	scenario = EXCLUDED.scenario,
	expected_results = EXCLUDED.expected_results`

// PostgresStore persists everything in Postgres. It is the shared-deployment
// backend; the layout mirrors the SQLite store with ordinal placeholders and
// a seq column standing in for rowid ordering.
type PostgresStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresStore connects with the given DSN and ensures the schema
// exists.
func NewPostgresStore(dsn string, logger *zap.Logger) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &PostgresStore{db: db, logger: logger}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("postgres store opened")
	return store, nil
}

func (s *PostgresStore) initSchema() error {
	if _, err := s.db.Exec(postgresSchema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("rollback failed", zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UpsertCanonicalObjects inserts or replaces objects by id in one
// transaction.
func (s *PostgresStore) UpsertCanonicalObjects(ctx context.Context, objects []*types.CanonicalObject) error {
	start := time.Now()
	var err error
	defer func() { observe("upsert_canonical_objects", start, err) }()

	if len(objects) == 0 {
		return nil
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, prepErr := tx.PrepareContext(ctx, pgUpsertObjectSQL)
		if prepErr != nil {
			return fmt.Errorf("failed to prepare object upsert: %w", prepErr)
		}
		defer func() { _ = stmt.Close() }()
		for _, obj := range objects {
			args, argErr := objectInsertArgs(obj)
			if argErr != nil {
				return argErr
			}
			if _, execErr := stmt.ExecContext(ctx, args...); execErr != nil {
				return fmt.Errorf("failed to upsert object %s: %w", obj.ID, execErr)
			}
		}
		return nil
	})
	return err
}

// SearchCanonicalObjects returns matching objects in insertion order.
func (s *PostgresStore) SearchCanonicalObjects(ctx context.Context, filter ObjectFilter, limit int) ([]*types.CanonicalObject, error) {
	start := time.Now()
	var err error
	defer func() { observe("search_canonical_objects", start, err) }()

	query := "SELECT " + objectColumns + " FROM canonical_objects"
	where, args := buildObjectWherePg(filter)
	query += where + " ORDER BY seq"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		err = fmt.Errorf("failed to query canonical objects: %w", err)
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]*types.CanonicalObject, 0)
	for rows.Next() {
		obj, scanErr := scanObjectRow(rows)
		if scanErr != nil {
			err = scanErr
			return nil, err
		}
		out = append(out, obj)
	}
	err = rows.Err()
	if err != nil {
		return nil, err
	}
	return out, nil
}

// buildObjectWherePg accumulates filter conditions with $n placeholders.
func buildObjectWherePg(filter ObjectFilter) (string, []interface{}) {
	conditions := make([]string, 0, 4)
	args := make([]interface{}, 0, 4)
	add := func(column, value string) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if filter.Platform != "" {
		add("platform", filter.Platform)
	}
	if filter.Workspace != "" {
		add("workspace", filter.Workspace)
	}
	if filter.ObjectType != "" {
		add("object_type", filter.ObjectType)
	}
	if filter.Scenario != "" {
		add("scenario", filter.Scenario)
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// InsertChunk stores one chunk, replacing any existing chunk with the same
// id.
func (s *PostgresStore) InsertChunk(ctx context.Context, chunk *types.Chunk) error {
	start := time.Now()
	var err error
	defer func() { observe("insert_chunk", start, err) }()

	args, err := chunkInsertArgs(chunk)
	if err != nil {
		return err
	}
	if _, execErr := s.db.ExecContext(ctx, pgInsertChunkSQL, args...); execErr != nil {
		err = fmt.Errorf("failed to insert chunk: %w", execErr)
		return err
	}
	return nil
}

// DeleteChunksByObjectIDs removes every chunk owned by the given objects.
func (s *PostgresStore) DeleteChunksByObjectIDs(ctx context.Context, objectIDs []string) error {
	start := time.Now()
	var err error
	defer func() { observe("delete_chunks_by_object_ids", start, err) }()

	if len(objectIDs) == 0 {
		return nil
	}
	if _, execErr := s.db.ExecContext(ctx, "DELETE FROM chunks WHERE canonical_object_id = ANY($1)", pq.Array(objectIDs)); execErr != nil {
		err = fmt.Errorf("failed to delete chunks: %w", execErr)
		return err
	}
	return nil
}

// ListChunksByObjectIDs returns the chunks owned by the given objects in
// insertion order.
func (s *PostgresStore) ListChunksByObjectIDs(ctx context.Context, objectIDs []string) ([]types.Chunk, error) {
	start := time.Now()
	var err error
	defer func() { observe("list_chunks_by_object_ids", start, err) }()

	if len(objectIDs) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, "SELECT "+chunkColumns+" FROM chunks WHERE canonical_object_id = ANY($1) ORDER BY seq", pq.Array(objectIDs))
	if err != nil {
		err = fmt.Errorf("failed to query chunks: %w", err)
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]types.Chunk, 0)
	for rows.Next() {
		chunk, scanErr := scanChunkRow(rows)
		if scanErr != nil {
			err = scanErr
			return nil, err
		}
		out = append(out, *chunk)
	}
	err = rows.Err()
	if err != nil {
		return nil, err
	}
	return out, nil
}

// NearestChunks loads all embedded chunks and ranks them by cosine
// similarity in process, matching the SQLite backend. Deployments that need
// server-side vector search layer the Qdrant index on top.
func (s *PostgresStore) NearestChunks(ctx context.Context, queryEmbedding []float64, similarityMin float64, limit int) ([]types.ChunkHit, error) {
	start := time.Now()
	var err error
	defer func() { observe("nearest_chunks", start, err) }()

	if len(queryEmbedding) == 0 {
		err = fmt.Errorf("query embedding cannot be empty")
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, "SELECT id, canonical_object_id, content, embedding FROM chunks WHERE embedding IS NOT NULL ORDER BY seq")
	if err != nil {
		err = fmt.Errorf("failed to query chunks: %w", err)
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	candidates := make([]chunkCandidate, 0)
	for rows.Next() {
		candidate, scanErr := scanChunkCandidateRow(rows)
		if scanErr != nil {
			err = scanErr
			return nil, err
		}
		candidates = append(candidates, *candidate)
	}
	err = rows.Err()
	if err != nil {
		return nil, err
	}
	return rankCandidates(candidates, queryEmbedding, similarityMin, limit), nil
}

// UpsertExperiment inserts or updates an experiment keyed by its unique name
// and returns the stored id.
func (s *PostgresStore) UpsertExperiment(ctx context.Context, exp *types.Experiment) (string, error) {
	start := time.Now()
	var err error
	defer func() { observe("upsert_experiment", start, err) }()

	args, err := experimentInsertArgs(exp)
	if err != nil {
		return "", err
	}

	var id string
	if scanErr := s.db.QueryRowContext(ctx, pgUpsertExperimentSQL, args...).Scan(&id); scanErr != nil {
		err = fmt.Errorf("failed to upsert experiment: %w", scanErr)
		return "", err
	}
	return id, nil
}

// GetExperiment returns the experiment with the given id.
func (s *PostgresStore) GetExperiment(ctx context.Context, experimentID string) (*types.Experiment, error) {
	start := time.Now()
	var err error
	defer func() { observe("get_experiment", start, err) }()

	row := s.db.QueryRowContext(ctx, "SELECT "+experimentColumns+" FROM experiments WHERE id = $1", experimentID)
	exp, err := scanExperimentRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = fmt.Errorf("experiment not found: %s", experimentID)
		}
		return nil, err
	}
	return exp, nil
}

// ListExperiments returns all experiments ordered by creation time.
func (s *PostgresStore) ListExperiments(ctx context.Context) ([]types.Experiment, error) {
	start := time.Now()
	var err error
	defer func() { observe("list_experiments", start, err) }()

	rows, err := s.db.QueryContext(ctx, "SELECT "+experimentColumns+" FROM experiments ORDER BY created_at, name")
	if err != nil {
		err = fmt.Errorf("failed to query experiments: %w", err)
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]types.Experiment, 0)
	for rows.Next() {
		exp, scanErr := scanExperimentRow(rows)
		if scanErr != nil {
			err = scanErr
			return nil, err
		}
		out = append(out, *exp)
	}
	err = rows.Err()
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateExperimentStatus transitions an experiment and optionally records
// the completion time.
func (s *PostgresStore) UpdateExperimentStatus(ctx context.Context, experimentID string, status types.ExperimentStatus, completedAt *time.Time) error {
	start := time.Now()
	var err error
	defer func() { observe("update_experiment_status", start, err) }()

	if !status.Valid() {
		err = fmt.Errorf("invalid experiment status: %s", status)
		return err
	}

	res, execErr := s.db.ExecContext(ctx,
		"UPDATE experiments SET status = $1, run_completed_at = COALESCE($2, run_completed_at) WHERE id = $3",
		string(status), nullableTime(completedAt), experimentID)
	if execErr != nil {
		err = fmt.Errorf("failed to update experiment status: %w", execErr)
		return err
	}
	affected, raErr := res.RowsAffected()
	if raErr != nil {
		err = fmt.Errorf("failed to check update result: %w", raErr)
		return err
	}
	if affected == 0 {
		err = fmt.Errorf("experiment not found: %s", experimentID)
		return err
	}
	return nil
}

// UpsertExperimentResult inserts or replaces the per-scenario result row.
func (s *PostgresStore) UpsertExperimentResult(ctx context.Context, result *types.ExperimentResult) error {
	start := time.Now()
	var err error
	defer func() { observe("upsert_experiment_result", start, err) }()

	if result == nil || result.ExperimentID == "" || result.Scenario == "" {
		err = fmt.Errorf("experiment result must have experiment id and scenario")
		return err
	}
	if _, execErr := s.db.ExecContext(ctx, pgUpsertResultSQL,
		result.ExperimentID, result.Scenario, result.F1, result.Precision, result.Recall,
		result.TruePositives, result.FalsePositives, result.FalseNegatives,
		result.GroundTruthTotal, result.InferredTotal, result.RetrievalTimeMS); execErr != nil {
		err = fmt.Errorf("failed to upsert experiment result: %w", execErr)
		return err
	}
	return nil
}

// ListExperimentResults returns per-scenario results for one experiment.
func (s *PostgresStore) ListExperimentResults(ctx context.Context, experimentID string) ([]types.ExperimentResult, error) {
	start := time.Now()
	var err error
	defer func() { observe("list_experiment_results", start, err) }()

	rows, err := s.db.QueryContext(ctx,
		"SELECT experiment_id, scenario, f1_score, precision_score, recall_score, true_positives, false_positives, false_negatives, ground_truth_total, inferred_total, retrieval_time_ms FROM experiment_results WHERE experiment_id = $1 ORDER BY scenario",
		experimentID)
	if err != nil {
		err = fmt.Errorf("failed to query experiment results: %w", err)
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]types.ExperimentResult, 0)
	for rows.Next() {
		res, scanErr := scanResultRow(rows)
		if scanErr != nil {
			err = scanErr
			return nil, err
		}
		out = append(out, *res)
	}
	err = rows.Err()
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpsertLayerMetrics inserts or replaces one per-layer metrics row.
func (s *PostgresStore) UpsertLayerMetrics(ctx context.Context, lm *types.LayerMetrics) error {
	start := time.Now()
	var err error
	defer func() { observe("upsert_layer_metrics", start, err) }()

	if lm == nil || lm.ExperimentID == "" || lm.Layer == "" || lm.EvaluationMethod == "" {
		err = fmt.Errorf("layer metrics must have experiment id, layer, and evaluation method")
		return err
	}
	if _, execErr := s.db.ExecContext(ctx, pgUpsertLayerMetricsSQL,
		lm.ExperimentID, string(lm.Layer), lm.EvaluationMethod, lm.MetricsJSON, lm.DurationMS); execErr != nil {
		err = fmt.Errorf("failed to upsert layer metrics: %w", execErr)
		return err
	}
	return nil
}

// ListLayerMetrics returns metric rows for one experiment.
func (s *PostgresStore) ListLayerMetrics(ctx context.Context, experimentID string) ([]types.LayerMetrics, error) {
	start := time.Now()
	var err error
	defer func() { observe("list_layer_metrics", start, err) }()

	rows, err := s.db.QueryContext(ctx,
		"SELECT experiment_id, layer, evaluation_method, metrics_json, duration_ms FROM layer_metrics WHERE experiment_id = $1 ORDER BY layer, evaluation_method",
		experimentID)
	if err != nil {
		err = fmt.Errorf("failed to query layer metrics: %w", err)
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]types.LayerMetrics, 0)
	for rows.Next() {
		lm, scanErr := scanLayerMetricsRow(rows)
		if scanErr != nil {
			err = scanErr
			return nil, err
		}
		out = append(out, *lm)
	}
	err = rows.Err()
	if err != nil {
		return nil, err
	}
	return out, nil
}

// InsertActivityLog appends one activity record.
func (s *PostgresStore) InsertActivityLog(ctx context.Context, record *types.ActivityRecord) error {
	start := time.Now()
	var err error
	defer func() { observe("insert_activity_log", start, err) }()

	if record == nil || record.ID == "" {
		err = fmt.Errorf("activity record must have an id")
		return err
	}
	if _, execErr := s.db.ExecContext(ctx,
		"INSERT INTO research_activity_log (id, operation_type, operation_name, description, status, triggered_by, details_json, git_commit, experiment_id, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)",
		record.ID, record.OperationType, record.OperationName, record.Description,
		string(record.Status), record.TriggeredBy, record.DetailsJSON, record.GitCommit,
		record.ExperimentID, record.CreatedAt); execErr != nil {
		err = fmt.Errorf("failed to insert activity record: %w", execErr)
		return err
	}
	return nil
}

// ListActivityLog returns the most recent activity records, newest first.
func (s *PostgresStore) ListActivityLog(ctx context.Context, limit int) ([]types.ActivityRecord, error) {
	start := time.Now()
	var err error
	defer func() { observe("list_activity_log", start, err) }()

	query := "SELECT id, operation_type, operation_name, description, status, triggered_by, details_json, git_commit, experiment_id, created_at FROM research_activity_log ORDER BY created_at DESC, seq DESC"
	args := make([]interface{}, 0, 1)
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		err = fmt.Errorf("failed to query activity log: %w", err)
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]types.ActivityRecord, 0)
	for rows.Next() {
		rec, scanErr := scanActivityRow(rows)
		if scanErr != nil {
			err = scanErr
			return nil, err
		}
		out = append(out, *rec)
	}
	err = rows.Err()
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpsertGroundTruth loads curated relations and queries in one transaction.
func (s *PostgresStore) UpsertGroundTruth(ctx context.Context, relations []types.GroundTruthRelation, queries []types.GroundTruthQuery) error {
	start := time.Now()
	var err error
	defer func() { observe("upsert_ground_truth", start, err) }()

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		relStmt, prepErr := tx.PrepareContext(ctx, pgUpsertGTRelationSQL)
		if prepErr != nil {
			return fmt.Errorf("failed to prepare ground truth relation upsert: %w", prepErr)
		}
		defer func() { _ = relStmt.Close() }()
		for i := range relations {
			rel := &relations[i]
			if _, execErr := relStmt.ExecContext(ctx, rel.FromID, rel.ToID, rel.RelationType, rel.Source, rel.Confidence, rel.Scenario); execErr != nil {
				return fmt.Errorf("failed to upsert ground truth relation: %w", execErr)
			}
		}

		queryStmt, prepErr := tx.PrepareContext(ctx, pgUpsertGTQuerySQL)
		if prepErr != nil {
			return fmt.Errorf("failed to prepare ground truth query upsert: %w", prepErr)
		}
		defer func() { _ = queryStmt.Close() }()
		for i := range queries {
			q := &queries[i]
			if q.ID == "" {
				return fmt.Errorf("ground truth query must have an id")
			}
			expected, marshalErr := marshalJSONColumn(q.ExpectedResults)
			if marshalErr != nil {
				return marshalErr
			}
			if _, execErr := queryStmt.ExecContext(ctx, q.ID, q.QueryText, q.Scenario, expected); execErr != nil {
				return fmt.Errorf("failed to upsert ground truth query: %w", execErr)
			}
		}
		return nil
	})
	return err
}

// ListGroundTruthRelations returns curated relations matching the filter in
// load order.
func (s *PostgresStore) ListGroundTruthRelations(ctx context.Context, filter GroundTruthFilter) ([]types.GroundTruthRelation, error) {
	start := time.Now()
	var err error
	defer func() { observe("list_ground_truth_relations", start, err) }()

	query := "SELECT from_id, to_id, relation_type, source, confidence, scenario FROM ground_truth_relations"
	args := make([]interface{}, 0, 1)
	if filter.Scenario != "" {
		query += " WHERE scenario = $1"
		args = append(args, filter.Scenario)
	}
	query += " ORDER BY seq"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		err = fmt.Errorf("failed to query ground truth relations: %w", err)
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]types.GroundTruthRelation, 0)
	for rows.Next() {
		rel, scanErr := scanGroundTruthRelationRow(rows)
		if scanErr != nil {
			err = scanErr
			return nil, err
		}
		out = append(out, *rel)
	}
	err = rows.Err()
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListGroundTruthQueries returns curated queries for a scenario in load
// order. An empty scenario matches everything.
func (s *PostgresStore) ListGroundTruthQueries(ctx context.Context, scenario string) ([]types.GroundTruthQuery, error) {
	start := time.Now()
	var err error
	defer func() { observe("list_ground_truth_queries", start, err) }()

	query := "SELECT id, query_text, scenario, expected_results FROM ground_truth_queries"
	args := make([]interface{}, 0, 1)
	if scenario != "" {
		query += " WHERE scenario = $1"
		args = append(args, scenario)
	}
	query += " ORDER BY seq"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		err = fmt.Errorf("failed to query ground truth queries: %w", err)
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]types.GroundTruthQuery, 0)
	for rows.Next() {
		q, scanErr := scanGroundTruthQueryRow(rows)
		if scanErr != nil {
			err = scanErr
			return nil, err
		}
		out = append(out, *q)
	}
	err = rows.Err()
	if err != nil {
		return nil, err
	}
	return out, nil
}

// HealthCheck pings the database.
func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
