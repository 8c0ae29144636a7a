// Package corpus loads curated YAML fixtures of canonical objects,
// ground-truth relations and queries into the store for experiment runs.
package corpus

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"graphloom/internal/storage"
	"graphloom/pkg/types"
)

// Fixture is one parsed corpus file
type Fixture struct {
	Objects        []*types.CanonicalObject
	Relations      []types.GroundTruthRelation
	Queries        []types.GroundTruthQuery
	ComputedHashes int
}

// Summary reports what Apply wrote to the store
type Summary struct {
	Objects   int `json:"objects"`
	Relations int `json:"relations"`
	Queries   int `json:"queries"`
}

// fixtureFile mirrors the YAML document shape
type fixtureFile struct {
	Objects     []objectEntry    `yaml:"objects"`
	GroundTruth groundTruthEntry `yaml:"ground_truth"`
}

type objectEntry struct {
	Platform     string                 `yaml:"platform"`
	Workspace    string                 `yaml:"workspace"`
	ObjectType   string                 `yaml:"object_type"`
	PlatformID   string                 `yaml:"platform_id"`
	Title        string                 `yaml:"title"`
	Body         string                 `yaml:"body"`
	Actors       map[string]interface{} `yaml:"actors"`
	Timestamps   map[string]string      `yaml:"timestamps"`
	Relations    map[string]interface{} `yaml:"relations"`
	Properties   map[string]interface{} `yaml:"properties"`
	Summary      *types.Summary         `yaml:"summary"`
	SemanticHash string                 `yaml:"semantic_hash"`
	Visibility   string                 `yaml:"visibility"`
}

type groundTruthEntry struct {
	Relations []relationEntry `yaml:"relations"`
	Queries   []queryEntry    `yaml:"queries"`
}

type relationEntry struct {
	FromID       string  `yaml:"from_id"`
	ToID         string  `yaml:"to_id"`
	RelationType string  `yaml:"relation_type"`
	Source       string  `yaml:"source"`
	Confidence   float64 `yaml:"confidence"`
	Scenario     string  `yaml:"scenario"`
}

type queryEntry struct {
	ID              string        `yaml:"id"`
	QueryText       string        `yaml:"query_text"`
	Scenario        string        `yaml:"scenario"`
	ExpectedResults []resultEntry `yaml:"expected_results"`
}

type resultEntry struct {
	CanonicalObjectID string  `yaml:"canonical_object_id"`
	RelevanceScore    float64 `yaml:"relevance_score"`
}

// Load reads and parses a corpus fixture file
func Load(path string) (*Fixture, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- fixture path is operator-supplied
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus fixture: %w", err)
	}
	fixture, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return fixture, nil
}

// Parse converts YAML fixture bytes into validated records. Objects get a
// semantic hash computed from title, body, and keywords when the fixture
// does not carry one.
func Parse(data []byte) (*Fixture, error) {
	var file fixtureFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse corpus fixture: %w", err)
	}

	fixture := &Fixture{}
	seen := make(map[string]struct{}, len(file.Objects))
	for i, entry := range file.Objects {
		obj, err := buildObject(&entry)
		if err != nil {
			return nil, fmt.Errorf("object %d: %w", i, err)
		}
		if _, dup := seen[obj.ID]; dup {
			return nil, fmt.Errorf("object %d: duplicate id %s", i, obj.ID)
		}
		seen[obj.ID] = struct{}{}
		if obj.SemanticHash == "" {
			obj.SemanticHash = types.SemanticHashFor(obj)
			fixture.ComputedHashes++
		}
		fixture.Objects = append(fixture.Objects, obj)
	}

	for i, entry := range file.GroundTruth.Relations {
		rel, err := buildGroundTruthRelation(&entry)
		if err != nil {
			return nil, fmt.Errorf("ground-truth relation %d: %w", i, err)
		}
		fixture.Relations = append(fixture.Relations, rel)
	}

	for i, entry := range file.GroundTruth.Queries {
		query, err := buildGroundTruthQuery(&entry)
		if err != nil {
			return nil, fmt.Errorf("ground-truth query %d: %w", i, err)
		}
		fixture.Queries = append(fixture.Queries, query)
	}

	return fixture, nil
}

// Apply upserts the fixture into the store
func (f *Fixture) Apply(ctx context.Context, store storage.Store, logger *zap.Logger) (Summary, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(f.Objects) > 0 {
		if err := store.UpsertCanonicalObjects(ctx, f.Objects); err != nil {
			return Summary{}, fmt.Errorf("failed to store objects: %w", err)
		}
	}
	if len(f.Relations) > 0 || len(f.Queries) > 0 {
		if err := store.UpsertGroundTruth(ctx, f.Relations, f.Queries); err != nil {
			return Summary{}, fmt.Errorf("failed to store ground truth: %w", err)
		}
	}
	summary := Summary{
		Objects:   len(f.Objects),
		Relations: len(f.Relations),
		Queries:   len(f.Queries),
	}
	logger.Info("corpus loaded",
		zap.Int("objects", summary.Objects),
		zap.Int("relations", summary.Relations),
		zap.Int("queries", summary.Queries),
		zap.Int("computed_hashes", f.ComputedHashes))
	return summary, nil
}

// buildObject converts one fixture entry into a validated canonical object
func buildObject(entry *objectEntry) (*types.CanonicalObject, error) {
	createdRaw, ok := entry.Timestamps[types.TimestampCreatedAt]
	if !ok || createdRaw == "" {
		return nil, fmt.Errorf("timestamps.created_at is required")
	}
	created, err := time.Parse(time.RFC3339, createdRaw)
	if err != nil {
		return nil, fmt.Errorf("invalid created_at: %w", err)
	}

	obj, err := types.NewCanonicalObject(entry.Platform, entry.Workspace, entry.ObjectType, entry.PlatformID, created)
	if err != nil {
		return nil, err
	}
	obj.Title = entry.Title
	obj.Body = entry.Body
	obj.Summary = entry.Summary
	obj.SemanticHash = entry.SemanticHash
	if entry.Visibility != "" {
		obj.Visibility = types.Visibility(entry.Visibility)
	}

	for name, raw := range entry.Timestamps {
		if name == types.TimestampCreatedAt {
			continue
		}
		if raw == "" {
			obj.Timestamps[name] = nil
			continue
		}
		ts, parseErr := time.Parse(time.RFC3339, raw)
		if parseErr != nil {
			return nil, fmt.Errorf("invalid timestamp %s: %w", name, parseErr)
		}
		utc := ts.UTC()
		obj.Timestamps[name] = &utc
	}

	for role, value := range entry.Actors {
		if err := validateReferences(value); err != nil {
			return nil, fmt.Errorf("actor %s: %w", role, err)
		}
		obj.Actors[role] = value
	}
	for key, value := range entry.Relations {
		if isReferenceKey(key) {
			if err := validateReferences(value); err != nil {
				return nil, fmt.Errorf("relation %s: %w", key, err)
			}
		}
		obj.Relations[key] = value
	}
	for key, value := range entry.Properties {
		obj.Properties[key] = value
	}

	if err := obj.Validate(); err != nil {
		return nil, err
	}
	return obj, nil
}

// isReferenceKey reports whether a relations-map key holds canonical ids
// rather than free-form values.
func isReferenceKey(key string) bool {
	switch key {
	case types.RelationKeyThreadID, types.RelationKeyParentID, types.RelationKeyProjectID,
		types.RelationKeyChannelID, types.RelationKeyLinkedPRs, types.RelationKeyLinkedIssues,
		types.RelationKeyTriggeredByTicket, types.RelationKeyResultedInIssue:
		return true
	}
	return false
}

// validateReferences checks that a scalar or list value holds well-formed
// canonical ids. References may dangle but never be malformed.
func validateReferences(value interface{}) error {
	switch v := value.(type) {
	case string:
		if !types.ValidCanonicalID(v) {
			return fmt.Errorf("malformed canonical id: %s", v)
		}
	case []interface{}:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return fmt.Errorf("reference list items must be strings, got %T", item)
			}
			if !types.ValidCanonicalID(s) {
				return fmt.Errorf("malformed canonical id: %s", s)
			}
		}
	case []string:
		for _, s := range v {
			if !types.ValidCanonicalID(s) {
				return fmt.Errorf("malformed canonical id: %s", s)
			}
		}
	default:
		return fmt.Errorf("references must be a string or list, got %T", value)
	}
	return nil
}

func buildGroundTruthRelation(entry *relationEntry) (types.GroundTruthRelation, error) {
	if !types.ValidCanonicalID(entry.FromID) {
		return types.GroundTruthRelation{}, fmt.Errorf("malformed from_id: %s", entry.FromID)
	}
	if !types.ValidCanonicalID(entry.ToID) {
		return types.GroundTruthRelation{}, fmt.Errorf("malformed to_id: %s", entry.ToID)
	}
	if entry.RelationType == "" {
		return types.GroundTruthRelation{}, fmt.Errorf("relation_type is required")
	}
	if entry.Confidence < 0 || entry.Confidence > 1 {
		return types.GroundTruthRelation{}, fmt.Errorf("confidence must be in [0, 1], got %v", entry.Confidence)
	}
	if err := validateScenario(entry.Scenario); err != nil {
		return types.GroundTruthRelation{}, err
	}
	return types.GroundTruthRelation{
		FromID:       entry.FromID,
		ToID:         entry.ToID,
		RelationType: entry.RelationType,
		Source:       entry.Source,
		Confidence:   entry.Confidence,
		Scenario:     entry.Scenario,
	}, nil
}

func buildGroundTruthQuery(entry *queryEntry) (types.GroundTruthQuery, error) {
	if entry.ID == "" {
		return types.GroundTruthQuery{}, fmt.Errorf("query id is required")
	}
	if entry.QueryText == "" {
		return types.GroundTruthQuery{}, fmt.Errorf("query_text is required")
	}
	if err := validateScenario(entry.Scenario); err != nil {
		return types.GroundTruthQuery{}, err
	}
	query := types.GroundTruthQuery{
		ID:        entry.ID,
		QueryText: entry.QueryText,
		Scenario:  entry.Scenario,
	}
	for i, res := range entry.ExpectedResults {
		if !types.ValidCanonicalID(res.CanonicalObjectID) {
			return types.GroundTruthQuery{}, fmt.Errorf("expected result %d: malformed canonical id: %s", i, res.CanonicalObjectID)
		}
		query.ExpectedResults = append(query.ExpectedResults, types.ExpectedResult{
			CanonicalObjectID: res.CanonicalObjectID,
			RelevanceScore:    res.RelevanceScore,
		})
	}
	return query, nil
}

func validateScenario(name string) error {
	if name == "" {
		return fmt.Errorf("scenario is required")
	}
	for _, s := range types.AllScenarios() {
		if s == name {
			return nil
		}
	}
	return fmt.Errorf("unknown scenario: %s", name)
}
