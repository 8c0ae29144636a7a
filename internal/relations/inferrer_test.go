package relations

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"graphloom/pkg/types"
)

func mustInferrer(t *testing.T, opts Options) *Inferrer {
	t.Helper()
	inf, err := NewInferrer(opts, nil, zap.NewNop())
	require.NoError(t, err)
	return inf
}

func mustObject(t *testing.T, platform, objectType, platformID string) *types.CanonicalObject {
	t.Helper()
	created := time.Date(2025, 5, 10, 9, 0, 0, 0, time.UTC)
	obj, err := types.NewCanonicalObject(platform, "acme", objectType, platformID, created)
	require.NoError(t, err)
	return obj
}

func withKeywords(obj *types.CanonicalObject, keywords ...string) *types.CanonicalObject {
	obj.Properties[types.PropertyKeywords] = keywords
	return obj
}

func TestNewInferrerValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Options)
		wantErr string
	}{
		{"defaults valid", func(o *Options) {}, ""},
		{"similarity threshold above 1", func(o *Options) { o.SimilarityThreshold = 1.5 }, "similarity threshold"},
		{"similarity threshold negative", func(o *Options) { o.SimilarityThreshold = -0.1 }, "similarity threshold"},
		{"keyword threshold above 1", func(o *Options) { o.KeywordOverlapThreshold = 2 }, "keyword overlap threshold"},
		{"semantic weight above 1", func(o *Options) { o.SemanticWeight = 1.01 }, "semantic weight"},
		{"ICL without client", func(o *Options) { o.UseContrastiveICL = true }, "LLM client"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.mutate(&opts)
			_, err := NewInferrer(opts, nil, zap.NewNop())
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestExtractExplicitTriggeredByTicket(t *testing.T) {
	inf := mustInferrer(t, DefaultOptions())

	thread := mustObject(t, "slack", "thread", "THR-1")
	ticket := mustObject(t, "jira", "ticket", "T-9")
	thread.Relations[types.RelationKeyTriggeredByTicket] = ticket.ID

	relations := inf.ExtractExplicit([]*types.CanonicalObject{thread, ticket})
	require.Len(t, relations, 1)

	rel := relations[0]
	assert.Equal(t, thread.ID, rel.FromID)
	assert.Equal(t, ticket.ID, rel.ToID)
	assert.Equal(t, types.RelationTriggeredBy, rel.Type)
	assert.Equal(t, types.SourceExplicit, rel.Source)
	assert.Equal(t, 1.0, rel.Confidence)
	assert.Equal(t, thread.CreatedAt(), rel.CreatedAt)
}

func TestExtractExplicitFullRuleTable(t *testing.T) {
	inf := mustInferrer(t, DefaultOptions())

	obj := mustObject(t, "github", "issue", "42")
	obj.Relations[types.RelationKeyTriggeredByTicket] = "jira|acme|ticket|T-1"
	obj.Relations[types.RelationKeyResultedInIssue] = "github|acme|issue|43"
	obj.Relations[types.RelationKeyLinkedPRs] = []string{"github|acme|pr|7"}
	obj.Relations[types.RelationKeyLinkedIssues] = []string{"github|acme|issue|44"}
	obj.Relations[types.RelationKeyParentID] = "github|acme|epic|E-1"
	obj.Actors[types.RoleCreatedBy] = "user|acme|user|alice"
	obj.Actors[types.RoleAssignees] = []string{"user|acme|user|bob", "user|acme|user|carol"}
	obj.Actors[types.RoleDecidedBy] = "user|acme|user|dave"
	obj.Actors[types.RoleParticipants] = []string{"user|acme|user|erin"}

	relations := inf.ExtractExplicit([]*types.CanonicalObject{obj})
	require.Len(t, relations, 10)

	byType := make(map[types.RelationType][]types.Relation)
	for _, rel := range relations {
		byType[rel.Type] = append(byType[rel.Type], rel)
		assert.Equal(t, types.SourceExplicit, rel.Source)
		assert.Equal(t, 1.0, rel.Confidence)
	}

	assert.Len(t, byType[types.RelationTriggeredBy], 1)
	assert.Len(t, byType[types.RelationResultedIn], 1)
	assert.Len(t, byType[types.RelationCreatedBy], 1)
	assert.Len(t, byType[types.RelationAssignedTo], 2)
	assert.Len(t, byType[types.RelationDecidedBy], 1)
	assert.Len(t, byType[types.RelationParticipatedIn], 1)
	assert.Len(t, byType[types.RelationRelatedTo], 2)
	assert.Len(t, byType[types.RelationBelongsTo], 1)

	// decided_by and participated_in point user -> object
	decided := byType[types.RelationDecidedBy][0]
	assert.Equal(t, "user|acme|user|dave", decided.FromID)
	assert.Equal(t, obj.ID, decided.ToID)

	participated := byType[types.RelationParticipatedIn][0]
	assert.Equal(t, "user|acme|user|erin", participated.FromID)
	assert.Equal(t, obj.ID, participated.ToID)

	// created_by points object -> user
	created := byType[types.RelationCreatedBy][0]
	assert.Equal(t, obj.ID, created.FromID)
	assert.Equal(t, "user|acme|user|alice", created.ToID)
}

func TestExtractExplicitDecidedByTimestamp(t *testing.T) {
	inf := mustInferrer(t, DefaultOptions())

	decidedAt := time.Date(2025, 6, 1, 15, 30, 0, 0, time.UTC)
	updatedAt := time.Date(2025, 5, 20, 8, 0, 0, 0, time.UTC)

	t.Run("decided_at preferred", func(t *testing.T) {
		obj := mustObject(t, "notion", "decision", "D-1")
		obj.Actors[types.RoleDecidedBy] = "user|acme|user|frank"
		obj.Timestamps[types.TimestampDecidedAt] = &decidedAt
		obj.Timestamps[types.TimestampUpdatedAt] = &updatedAt

		relations := inf.ExtractExplicit([]*types.CanonicalObject{obj})
		require.Len(t, relations, 1)
		assert.Equal(t, decidedAt, relations[0].CreatedAt)
	})

	t.Run("falls back to updated_at", func(t *testing.T) {
		obj := mustObject(t, "notion", "decision", "D-2")
		obj.Actors[types.RoleDecidedBy] = "user|acme|user|frank"
		obj.Timestamps[types.TimestampUpdatedAt] = &updatedAt

		relations := inf.ExtractExplicit([]*types.CanonicalObject{obj})
		require.Len(t, relations, 1)
		assert.Equal(t, updatedAt, relations[0].CreatedAt)
	})

	t.Run("falls back to created_at", func(t *testing.T) {
		obj := mustObject(t, "notion", "decision", "D-3")
		obj.Actors[types.RoleDecidedBy] = "user|acme|user|frank"

		relations := inf.ExtractExplicit([]*types.CanonicalObject{obj})
		require.Len(t, relations, 1)
		assert.Equal(t, obj.CreatedAt(), relations[0].CreatedAt)
	})
}

func TestExtractExplicitSkipsMalformedReferences(t *testing.T) {
	inf := mustInferrer(t, DefaultOptions())

	obj := mustObject(t, "github", "issue", "45")
	// Self-reference and empty target are skipped, valid one survives
	obj.Relations[types.RelationKeyParentID] = obj.ID
	obj.Actors[types.RoleAssignees] = []string{"", "user|acme|user|gina"}

	relations := inf.ExtractExplicit([]*types.CanonicalObject{obj})
	require.Len(t, relations, 1)
	assert.Equal(t, types.RelationAssignedTo, relations[0].Type)
	assert.Equal(t, "user|acme|user|gina", relations[0].ToID)
}

func TestDetectDuplicatesThreeWayGroup(t *testing.T) {
	inf := mustInferrer(t, DefaultOptions())

	first := mustObject(t, "jira", "ticket", "T-1")
	second := mustObject(t, "jira", "ticket", "T-2")
	third := mustObject(t, "jira", "ticket", "T-3")
	unrelated := mustObject(t, "jira", "ticket", "T-4")

	for _, obj := range []*types.CanonicalObject{first, second, third} {
		obj.Title = "Login page throws 500"
		obj.Body = "Stack trace attached, reproduces on every login attempt."
		obj.SemanticHash = types.SemanticHashFor(obj)
	}
	unrelated.Title = "Completely different topic"
	unrelated.SemanticHash = types.SemanticHashFor(unrelated)

	relations := inf.DetectDuplicates([]*types.CanonicalObject{first, second, third, unrelated})
	require.Len(t, relations, 2)

	for _, rel := range relations {
		assert.Equal(t, types.RelationDuplicateOf, rel.Type)
		assert.Equal(t, types.SourceComputed, rel.Source)
		assert.Equal(t, 1.0, rel.Confidence)
		// Later members point at the first object in input order
		assert.Equal(t, first.ID, rel.ToID)
		assert.Equal(t, first.SemanticHash, rel.Metadata["semantic_hash"])
		assert.Equal(t, "semantic_hash", rel.Metadata["detection_method"])
		assert.Equal(t, 3, rel.Metadata["group_size"])
	}
	assert.Equal(t, second.ID, relations[0].FromID)
	assert.Equal(t, third.ID, relations[1].FromID)
}

func TestDetectDuplicatesComputesMissingHash(t *testing.T) {
	inf := mustInferrer(t, DefaultOptions())

	a := mustObject(t, "jira", "ticket", "T-10")
	b := mustObject(t, "jira", "ticket", "T-11")
	a.Title, b.Title = "Same incident", "Same incident"
	a.Body, b.Body = "identical body", "identical body"

	relations := inf.DetectDuplicates([]*types.CanonicalObject{a, b})
	require.Len(t, relations, 1)
	assert.Equal(t, b.ID, relations[0].FromID)
	assert.Equal(t, a.ID, relations[0].ToID)
}

func TestDetectDuplicatesNoGroups(t *testing.T) {
	inf := mustInferrer(t, DefaultOptions())

	a := mustObject(t, "jira", "ticket", "T-20")
	b := mustObject(t, "jira", "ticket", "T-21")
	a.Title, b.Title = "First topic", "Second topic"

	assert.Empty(t, inf.DetectDuplicates([]*types.CanonicalObject{a, b}))
}

func TestInferSimilarityBidirectional(t *testing.T) {
	inf := mustInferrer(t, DefaultOptions())

	a := withKeywords(mustObject(t, "jira", "ticket", "T-30"), "payments", "timeout", "retry")
	b := withKeywords(mustObject(t, "github", "issue", "77"), "payments", "timeout", "retry")

	relations := inf.InferSimilarity([]*types.CanonicalObject{a, b})
	require.Len(t, relations, 2)

	forward, reverse := relations[0], relations[1]
	assert.Equal(t, a.ID, forward.FromID)
	assert.Equal(t, b.ID, forward.ToID)
	assert.Equal(t, b.ID, reverse.FromID)
	assert.Equal(t, a.ID, reverse.ToID)

	// Identical keyword sets give Jaccard 1.0, and both directions carry
	// identical confidence and metadata
	assert.Equal(t, 1.0, forward.Confidence)
	assert.Equal(t, forward.Confidence, reverse.Confidence)
	assert.Equal(t, forward.Metadata, reverse.Metadata)
	assert.Equal(t, []string{"payments", "retry", "timeout"}, forward.Metadata["shared_keywords"])
	assert.InDelta(t, 1.0, forward.Metadata["keyword_overlap_score"].(float64), 1e-9)

	for _, rel := range relations {
		assert.Equal(t, types.RelationSimilarTo, rel.Type)
		assert.Equal(t, types.SourceComputed, rel.Source)
	}
}

func TestInferSimilarityBelowThreshold(t *testing.T) {
	inf := mustInferrer(t, DefaultOptions())

	a := withKeywords(mustObject(t, "jira", "ticket", "T-40"), "alpha", "beta", "gamma")
	b := withKeywords(mustObject(t, "jira", "ticket", "T-41"), "alpha", "delta", "epsilon")

	// Jaccard 1/5 = 0.2 < 0.65
	assert.Empty(t, inf.InferSimilarity([]*types.CanonicalObject{a, b}))
}

func TestInferSimilaritySkipsEmptyKeywordSets(t *testing.T) {
	inf := mustInferrer(t, DefaultOptions())

	a := withKeywords(mustObject(t, "jira", "ticket", "T-50"), "shared")
	b := mustObject(t, "jira", "ticket", "T-51") // no keywords, no title

	assert.Empty(t, inf.InferSimilarity([]*types.CanonicalObject{a, b}))
}

func TestInferSimilarityWithEmbeddingsHybridBelowCutoff(t *testing.T) {
	opts := DefaultOptions()
	opts.UseSemanticSimilarity = true
	inf := mustInferrer(t, opts)

	a := withKeywords(mustObject(t, "jira", "ticket", "T-60"), "alpha", "beta", "gamma")
	b := withKeywords(mustObject(t, "jira", "ticket", "T-61"), "alpha", "delta", "epsilon")

	// cos = 0.95, J = 0.2: combined = 0.7*0.95 + 0.3*0.2 = 0.725 < 0.85
	embeddings := map[string][]float64{
		a.ID: {1, 0},
		b.ID: {0.95, 0.3122498999199199},
	}

	relations := inf.InferSimilarityWithEmbeddings([]*types.CanonicalObject{a, b}, embeddings)
	assert.Empty(t, relations)
}

func TestInferSimilarityWithEmbeddingsHybridAboveCutoff(t *testing.T) {
	opts := DefaultOptions()
	opts.UseSemanticSimilarity = true
	inf := mustInferrer(t, opts)

	a := withKeywords(mustObject(t, "jira", "ticket", "T-62"), "payments", "timeout")
	b := withKeywords(mustObject(t, "jira", "ticket", "T-63"), "payments", "timeout")

	// cos = 1.0, J = 1.0: combined = 1.0 >= 0.85
	embeddings := map[string][]float64{
		a.ID: {1, 0},
		b.ID: {1, 0},
	}

	relations := inf.InferSimilarityWithEmbeddings([]*types.CanonicalObject{a, b}, embeddings)
	require.Len(t, relations, 2)

	meta := relations[0].Metadata
	assert.InDelta(t, 1.0, meta["keyword_score"].(float64), 1e-9)
	assert.InDelta(t, 1.0, meta["semantic_score"].(float64), 1e-9)
	assert.InDelta(t, 1.0, meta["combined_score"].(float64), 1e-9)
	assert.Equal(t, []string{"payments", "timeout"}, meta["shared_keywords"])
}

func TestInferSimilarityWithEmbeddingsMissingEmbeddingFallsBack(t *testing.T) {
	opts := DefaultOptions()
	opts.UseSemanticSimilarity = true
	inf := mustInferrer(t, opts)

	a := withKeywords(mustObject(t, "jira", "ticket", "T-70"), "payments", "timeout")
	b := withKeywords(mustObject(t, "jira", "ticket", "T-71"), "payments", "timeout")

	// Only one embedding present: plain Jaccard against keyword threshold
	embeddings := map[string][]float64{a.ID: {1, 0}}

	relations := inf.InferSimilarityWithEmbeddings([]*types.CanonicalObject{a, b}, embeddings)
	require.Len(t, relations, 2)
	assert.Equal(t, 1.0, relations[0].Confidence)
	assert.NotContains(t, relations[0].Metadata, "semantic_score")
}

func TestInferSimilarityWithEmbeddingsSemanticModeOff(t *testing.T) {
	inf := mustInferrer(t, DefaultOptions()) // UseSemanticSimilarity false

	a := withKeywords(mustObject(t, "jira", "ticket", "T-80"), "alpha", "beta", "gamma")
	b := withKeywords(mustObject(t, "jira", "ticket", "T-81"), "alpha", "delta", "epsilon")

	// Even with perfect embeddings, semantic mode off means J = 0.2 < 0.65
	embeddings := map[string][]float64{
		a.ID: {1, 0},
		b.ID: {1, 0},
	}

	assert.Empty(t, inf.InferSimilarityWithEmbeddings([]*types.CanonicalObject{a, b}, embeddings))
}

func TestInferSimilarityWithEmbeddingsDimensionMismatch(t *testing.T) {
	opts := DefaultOptions()
	opts.UseSemanticSimilarity = true
	inf := mustInferrer(t, opts)

	a := withKeywords(mustObject(t, "jira", "ticket", "T-90"), "payments", "timeout")
	b := withKeywords(mustObject(t, "jira", "ticket", "T-91"), "payments", "timeout")

	// Mismatched dimensions: cosine 0, combined = 0.3*1.0 = 0.3 < 0.85
	embeddings := map[string][]float64{
		a.ID: {1, 0},
		b.ID: {1, 0, 0},
	}

	assert.Empty(t, inf.InferSimilarityWithEmbeddings([]*types.CanonicalObject{a, b}, embeddings))
}

func TestInferAllComposition(t *testing.T) {
	inf := mustInferrer(t, DefaultOptions())

	thread := mustObject(t, "slack", "thread", "THR-2")
	thread.Relations[types.RelationKeyTriggeredByTicket] = "jira|acme|ticket|T-1"

	// Short title tokens keep the duplicate pair out of keyword similarity
	dupA := mustObject(t, "jira", "ticket", "T-100")
	dupB := mustObject(t, "jira", "ticket", "T-101")
	dupA.Title, dupB.Title = "db io up", "db io up"

	simA := withKeywords(mustObject(t, "github", "issue", "90"), "cache", "eviction")
	simB := withKeywords(mustObject(t, "github", "issue", "91"), "cache", "eviction")

	objects := []*types.CanonicalObject{thread, dupA, dupB, simA, simB}
	relations := inf.InferAll(objects)

	stats := Stats(relations)
	assert.Equal(t, 1, stats.ByType[types.RelationTriggeredBy])
	assert.Equal(t, 1, stats.ByType[types.RelationDuplicateOf])
	assert.Equal(t, 2, stats.ByType[types.RelationSimilarTo])
}

func TestInferAllHonorsIncludeInferred(t *testing.T) {
	opts := DefaultOptions()
	opts.IncludeInferred = false
	inf := mustInferrer(t, opts)

	thread := mustObject(t, "slack", "thread", "THR-3")
	thread.Relations[types.RelationKeyTriggeredByTicket] = "jira|acme|ticket|T-1"

	simA := withKeywords(mustObject(t, "github", "issue", "92"), "cache", "eviction")
	simB := withKeywords(mustObject(t, "github", "issue", "93"), "cache", "eviction")

	relations := inf.InferAll([]*types.CanonicalObject{thread, simA, simB})
	require.Len(t, relations, 1)
	assert.Equal(t, types.RelationTriggeredBy, relations[0].Type)
}

func TestInferAllHonorsDuplicateSwitch(t *testing.T) {
	opts := DefaultOptions()
	opts.EnableDuplicateDetection = false
	inf := mustInferrer(t, opts)

	dupA := mustObject(t, "jira", "ticket", "T-110")
	dupB := mustObject(t, "jira", "ticket", "T-111")
	dupA.Title, dupB.Title = "Duplicated entry", "Duplicated entry"

	relations := inf.InferAll([]*types.CanonicalObject{dupA, dupB})
	assert.Empty(t, RelationsByType(relations, types.RelationDuplicateOf))
}

func TestRelationsFor(t *testing.T) {
	relations := []types.Relation{
		{FromID: "a", ToID: "b", Type: types.RelationRelatedTo},
		{FromID: "b", ToID: "c", Type: types.RelationRelatedTo},
		{FromID: "c", ToID: "a", Type: types.RelationRelatedTo},
	}

	assert.Len(t, RelationsFor(relations, "a", types.DirectionFrom), 1)
	assert.Len(t, RelationsFor(relations, "a", types.DirectionTo), 1)
	assert.Len(t, RelationsFor(relations, "a", types.DirectionBoth), 2)
	assert.Empty(t, RelationsFor(relations, "missing", types.DirectionBoth))
}

func TestRelationsByType(t *testing.T) {
	relations := []types.Relation{
		{FromID: "a", ToID: "b", Type: types.RelationSimilarTo},
		{FromID: "a", ToID: "c", Type: types.RelationDuplicateOf},
		{FromID: "b", ToID: "c", Type: types.RelationSimilarTo},
	}

	assert.Len(t, RelationsByType(relations, types.RelationSimilarTo), 2)
	assert.Len(t, RelationsByType(relations, types.RelationDuplicateOf), 1)
	assert.Empty(t, RelationsByType(relations, types.RelationBelongsTo))
}

func TestStats(t *testing.T) {
	assert.Equal(t, 0, Stats(nil).Total)

	relations := []types.Relation{
		{Type: types.RelationSimilarTo, Source: types.SourceComputed, Confidence: 0.8},
		{Type: types.RelationSimilarTo, Source: types.SourceComputed, Confidence: 0.6},
		{Type: types.RelationCreatedBy, Source: types.SourceExplicit, Confidence: 1.0},
	}

	stats := Stats(relations)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.ByType[types.RelationSimilarTo])
	assert.Equal(t, 1, stats.ByType[types.RelationCreatedBy])
	assert.Equal(t, 2, stats.BySource[types.SourceComputed])
	assert.Equal(t, 1, stats.BySource[types.SourceExplicit])
	assert.InDelta(t, 0.8, stats.AvgConfidence, 1e-9)
}

func TestInferenceDeterministic(t *testing.T) {
	inf := mustInferrer(t, DefaultOptions())

	a := withKeywords(mustObject(t, "jira", "ticket", "T-120"), "alpha", "beta")
	b := withKeywords(mustObject(t, "jira", "ticket", "T-121"), "alpha", "beta")
	c := withKeywords(mustObject(t, "jira", "ticket", "T-122"), "alpha", "beta", "gamma", "delta")
	objects := []*types.CanonicalObject{a, b, c}

	first := inf.InferAll(objects)
	second := inf.InferAll(objects)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].FromID, second[i].FromID)
		assert.Equal(t, first[i].ToID, second[i].ToID)
		assert.Equal(t, first[i].Type, second[i].Type)
		assert.InDelta(t, first[i].Confidence, second[i].Confidence, 1e-6)
	}
}
