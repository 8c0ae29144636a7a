package relations

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphloom/pkg/types"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a    []float64
		b    []float64
		want float64
	}{
		{"identical unit vectors", []float64{1, 0}, []float64{1, 0}, 1.0},
		{"orthogonal vectors", []float64{1, 0}, []float64{0, 1}, 0.0},
		{"opposite vectors", []float64{1, 0}, []float64{-1, 0}, -1.0},
		{"unequal dimensions", []float64{1, 0}, []float64{1, 0, 0}, 0.0},
		{"zero magnitude left", []float64{0, 0}, []float64{1, 0}, 0.0},
		{"zero magnitude right", []float64{1, 0}, []float64{0, 0}, 0.0},
		{"both empty", nil, nil, 0.0},
		{"scaled vectors keep cosine", []float64{2, 0}, []float64{7, 0}, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestJaccardSimilarity(t *testing.T) {
	set := func(items ...string) map[string]struct{} {
		s := make(map[string]struct{})
		for _, item := range items {
			s[item] = struct{}{}
		}
		return s
	}

	tests := []struct {
		name string
		a    map[string]struct{}
		b    map[string]struct{}
		want float64
	}{
		{"identical sets", set("a", "b"), set("a", "b"), 1.0},
		{"disjoint sets", set("a"), set("b"), 0.0},
		{"partial overlap", set("a", "b", "c"), set("a", "d", "e"), 0.2},
		{"both empty", set(), set(), 0.0},
		{"one empty", set("a"), set(), 0.0},
		{"subset", set("a", "b"), set("a", "b", "c", "d"), 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, JaccardSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestKeywordSet(t *testing.T) {
	created := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	obj, err := types.NewCanonicalObject("jira", "acme", "ticket", "T-1", created)
	require.NoError(t, err)
	obj.Title = "Fix API rate limiting bug now"
	obj.Properties[types.PropertyKeywords] = []string{"Throttling", "backoff"}
	obj.Properties[types.PropertyLabels] = []string{"Bug"}

	set := KeywordSet(obj)

	// Keywords and labels are lowercased
	assert.Contains(t, set, "throttling")
	assert.Contains(t, set, "backoff")
	assert.Contains(t, set, "bug")
	// Title tokens longer than 3 characters only
	assert.Contains(t, set, "limiting")
	assert.Contains(t, set, "rate")
	assert.NotContains(t, set, "fix")
	assert.NotContains(t, set, "api")
	assert.NotContains(t, set, "now")
}

func TestKeywordSetEmptyObject(t *testing.T) {
	created := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	obj, err := types.NewCanonicalObject("jira", "acme", "ticket", "T-2", created)
	require.NoError(t, err)

	assert.Empty(t, KeywordSet(obj))
}

func TestSharedKeywordsSorted(t *testing.T) {
	a := map[string]struct{}{"zebra": {}, "apple": {}, "mango": {}}
	b := map[string]struct{}{"zebra": {}, "mango": {}, "kiwi": {}}

	assert.Equal(t, []string{"mango", "zebra"}, SharedKeywords(a, b))
	assert.Empty(t, SharedKeywords(a, map[string]struct{}{}))
}
