package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"graphloom/pkg/types"
)

// Shared plumbing for the SQLite and Postgres backends. Both lay out their
// tables with identical column orders so the scan helpers below work against
// either; only placeholder style and DDL differ.

// objectColumns is the select list shared by both SQL backends.
const objectColumns = "id, platform, workspace, object_type, platform_id, title, body, actors, timestamps, relations, properties, summary, semantic_hash, visibility"

// experimentColumns is the experiment select list shared by both SQL backends.
const experimentColumns = "id, name, description, config_json, is_baseline, paper_ids, git_commit, status, run_started_at, run_completed_at, created_at"

// rowScanner abstracts sql.Row and sql.Rows for the shared scan helpers.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func marshalJSONColumn(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal column: %w", err)
	}
	return string(data), nil
}

// unmarshalJSONColumn tolerates the empty and literal-null encodings produced
// for absent values.
func unmarshalJSONColumn(raw string, dest interface{}) error {
	if raw == "" || raw == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return fmt.Errorf("failed to unmarshal column: %w", err)
	}
	return nil
}

// objectInsertArgs builds the argument list for the canonical object upsert,
// in schema column order with the derived scenario column last.
func objectInsertArgs(obj *types.CanonicalObject) ([]interface{}, error) {
	if obj == nil || obj.ID == "" {
		return nil, fmt.Errorf("canonical object must have an id")
	}
	actors, err := marshalJSONColumn(obj.Actors)
	if err != nil {
		return nil, err
	}
	timestamps, err := marshalJSONColumn(obj.Timestamps)
	if err != nil {
		return nil, err
	}
	relations, err := marshalJSONColumn(obj.Relations)
	if err != nil {
		return nil, err
	}
	properties, err := marshalJSONColumn(obj.Properties)
	if err != nil {
		return nil, err
	}
	var summary interface{}
	if obj.Summary != nil {
		encoded, err := marshalJSONColumn(obj.Summary)
		if err != nil {
			return nil, err
		}
		summary = encoded
	}
	return []interface{}{
		obj.ID, obj.Platform, obj.Workspace, obj.ObjectType, obj.PlatformID,
		obj.Title, obj.Body, actors, timestamps, relations, properties,
		summary, obj.SemanticHash, string(obj.Visibility), scenarioOf(obj),
	}, nil
}

func scanObjectRow(s rowScanner) (*types.CanonicalObject, error) {
	var (
		obj        types.CanonicalObject
		actors     string
		timestamps string
		relations  string
		properties string
		summary    sql.NullString
		visibility string
	)
	if err := s.Scan(&obj.ID, &obj.Platform, &obj.Workspace, &obj.ObjectType, &obj.PlatformID,
		&obj.Title, &obj.Body, &actors, &timestamps, &relations, &properties,
		&summary, &obj.SemanticHash, &visibility); err != nil {
		return nil, fmt.Errorf("failed to scan canonical object: %w", err)
	}
	obj.Visibility = types.Visibility(visibility)
	obj.Actors = make(map[string]interface{})
	obj.Timestamps = make(map[string]*time.Time)
	obj.Relations = make(map[string]interface{})
	obj.Properties = make(map[string]interface{})
	if err := unmarshalJSONColumn(actors, &obj.Actors); err != nil {
		return nil, err
	}
	if err := unmarshalJSONColumn(timestamps, &obj.Timestamps); err != nil {
		return nil, err
	}
	if err := unmarshalJSONColumn(relations, &obj.Relations); err != nil {
		return nil, err
	}
	if err := unmarshalJSONColumn(properties, &obj.Properties); err != nil {
		return nil, err
	}
	if summary.Valid {
		var sm types.Summary
		if err := unmarshalJSONColumn(summary.String, &sm); err != nil {
			return nil, err
		}
		obj.Summary = &sm
	}
	return &obj, nil
}

// chunkInsertArgs builds the argument list for the chunk insert. A chunk
// without an embedding stores NULL so vector scans can skip it in SQL.
func chunkInsertArgs(chunk *types.Chunk) ([]interface{}, error) {
	if chunk == nil {
		return nil, fmt.Errorf("chunk cannot be nil")
	}
	if err := chunk.Validate(); err != nil {
		return nil, fmt.Errorf("invalid chunk: %w", err)
	}
	metadata, err := marshalJSONColumn(chunk.Metadata)
	if err != nil {
		return nil, err
	}
	var embedding interface{}
	if len(chunk.Embedding) > 0 {
		encoded, err := marshalJSONColumn(chunk.Embedding)
		if err != nil {
			return nil, err
		}
		embedding = encoded
	}
	return []interface{}{
		chunk.ID, chunk.CanonicalObjectID, chunk.ChunkIndex, chunk.Content,
		string(chunk.Method), metadata, embedding,
	}, nil
}

func scanChunkCandidateRow(s rowScanner) (*chunkCandidate, error) {
	var (
		c   chunkCandidate
		raw string
	)
	if err := s.Scan(&c.id, &c.objectID, &c.content, &raw); err != nil {
		return nil, fmt.Errorf("failed to scan chunk: %w", err)
	}
	if err := unmarshalJSONColumn(raw, &c.embedding); err != nil {
		return nil, err
	}
	return &c, nil
}

// chunkColumns is the full chunk select list shared by both SQL backends.
const chunkColumns = "id, canonical_object_id, chunk_index, content, method, metadata, embedding"

func scanChunkRow(s rowScanner) (*types.Chunk, error) {
	var (
		chunk     types.Chunk
		method    string
		metadata  string
		embedding sql.NullString
	)
	if err := s.Scan(&chunk.ID, &chunk.CanonicalObjectID, &chunk.ChunkIndex,
		&chunk.Content, &method, &metadata, &embedding); err != nil {
		return nil, fmt.Errorf("failed to scan chunk: %w", err)
	}
	chunk.Method = types.ChunkMethod(method)
	chunk.Metadata = make(map[string]interface{})
	if err := unmarshalJSONColumn(metadata, &chunk.Metadata); err != nil {
		return nil, err
	}
	if embedding.Valid {
		if err := unmarshalJSONColumn(embedding.String, &chunk.Embedding); err != nil {
			return nil, err
		}
	}
	return &chunk, nil
}

// experimentInsertArgs normalizes and builds the argument list for the
// experiment upsert. A missing id or creation time is filled in.
func experimentInsertArgs(exp *types.Experiment) ([]interface{}, error) {
	if exp == nil || exp.Name == "" {
		return nil, fmt.Errorf("experiment must have a name")
	}
	id := exp.ID
	if id == "" {
		id = uuid.New().String()
	}
	createdAt := exp.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	paperIDs, err := marshalJSONColumn(exp.PaperIDs)
	if err != nil {
		return nil, err
	}
	return []interface{}{
		id, exp.Name, exp.Description, exp.ConfigJSON, exp.IsBaseline,
		paperIDs, exp.GitCommit, string(exp.Status),
		nullableTime(exp.RunStartedAt), nullableTime(exp.RunCompletedAt), createdAt,
	}, nil
}

func scanExperimentRow(s rowScanner) (*types.Experiment, error) {
	var (
		exp       types.Experiment
		paperIDs  string
		started   sql.NullTime
		completed sql.NullTime
	)
	if err := s.Scan(&exp.ID, &exp.Name, &exp.Description, &exp.ConfigJSON, &exp.IsBaseline,
		&paperIDs, &exp.GitCommit, &exp.Status, &started, &completed, &exp.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to scan experiment: %w", err)
	}
	if err := unmarshalJSONColumn(paperIDs, &exp.PaperIDs); err != nil {
		return nil, err
	}
	if started.Valid {
		at := started.Time.UTC()
		exp.RunStartedAt = &at
	}
	if completed.Valid {
		at := completed.Time.UTC()
		exp.RunCompletedAt = &at
	}
	return &exp, nil
}

func scanResultRow(s rowScanner) (*types.ExperimentResult, error) {
	var res types.ExperimentResult
	if err := s.Scan(&res.ExperimentID, &res.Scenario, &res.F1, &res.Precision, &res.Recall,
		&res.TruePositives, &res.FalsePositives, &res.FalseNegatives,
		&res.GroundTruthTotal, &res.InferredTotal, &res.RetrievalTimeMS); err != nil {
		return nil, fmt.Errorf("failed to scan experiment result: %w", err)
	}
	return &res, nil
}

func scanLayerMetricsRow(s rowScanner) (*types.LayerMetrics, error) {
	var lm types.LayerMetrics
	if err := s.Scan(&lm.ExperimentID, &lm.Layer, &lm.EvaluationMethod, &lm.MetricsJSON, &lm.DurationMS); err != nil {
		return nil, fmt.Errorf("failed to scan layer metrics: %w", err)
	}
	return &lm, nil
}

func scanActivityRow(s rowScanner) (*types.ActivityRecord, error) {
	var rec types.ActivityRecord
	if err := s.Scan(&rec.ID, &rec.OperationType, &rec.OperationName, &rec.Description,
		&rec.Status, &rec.TriggeredBy, &rec.DetailsJSON, &rec.GitCommit,
		&rec.ExperimentID, &rec.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to scan activity record: %w", err)
	}
	return &rec, nil
}

func scanGroundTruthRelationRow(s rowScanner) (*types.GroundTruthRelation, error) {
	var rel types.GroundTruthRelation
	if err := s.Scan(&rel.FromID, &rel.ToID, &rel.RelationType, &rel.Source, &rel.Confidence, &rel.Scenario); err != nil {
		return nil, fmt.Errorf("failed to scan ground truth relation: %w", err)
	}
	return &rel, nil
}

func scanGroundTruthQueryRow(s rowScanner) (*types.GroundTruthQuery, error) {
	var (
		q        types.GroundTruthQuery
		expected string
	)
	if err := s.Scan(&q.ID, &q.QueryText, &q.Scenario, &expected); err != nil {
		return nil, fmt.Errorf("failed to scan ground truth query: %w", err)
	}
	if err := unmarshalJSONColumn(expected, &q.ExpectedResults); err != nil {
		return nil, err
	}
	return &q, nil
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
