package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCanonicalID(t *testing.T) {
	tests := []struct {
		name       string
		platform   string
		workspace  string
		objectType string
		platformID string
		want       string
		wantErr    bool
	}{
		{
			name:       "valid ticket id",
			platform:   "zendesk",
			workspace:  "acme",
			objectType: "ticket",
			platformID: "Z-1042",
			want:       "zendesk|acme|ticket|Z-1042",
		},
		{
			name:       "valid user id",
			platform:   "user",
			workspace:  "acme",
			objectType: "person",
			platformID: "U123",
			want:       "user|acme|person|U123",
		},
		{
			name:       "underscore platform",
			platform:   "issue_tracker",
			workspace:  "w",
			objectType: "issue",
			platformID: "1",
			want:       "issue_tracker|w|issue|1",
		},
		{
			name:       "uppercase platform rejected",
			platform:   "Zendesk",
			workspace:  "acme",
			objectType: "ticket",
			platformID: "Z-1",
			wantErr:    true,
		},
		{
			name:       "platform starting with digit rejected",
			platform:   "2chat",
			workspace:  "acme",
			objectType: "ticket",
			platformID: "Z-1",
			wantErr:    true,
		},
		{
			name:       "empty workspace rejected",
			platform:   "slack",
			workspace:  "",
			objectType: "thread",
			platformID: "T1",
			wantErr:    true,
		},
		{
			name:       "workspace with separator rejected",
			platform:   "slack",
			workspace:  "a|b",
			objectType: "thread",
			platformID: "T1",
			wantErr:    true,
		},
		{
			name:       "empty platform id rejected",
			platform:   "slack",
			workspace:  "acme",
			objectType: "thread",
			platformID: "",
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GenerateCanonicalID(tt.platform, tt.workspace, tt.objectType, tt.platformID)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCanonicalIDRoundTrip(t *testing.T) {
	cases := [][4]string{
		{"zendesk", "acme", "ticket", "Z-1042"},
		{"slack", "w", "thread", "C42/p1700000000"},
		{"user", "acme corp", "person", "jane.doe@example.com"},
		{"notion", "ws_1", "page", "abc-def-123"},
	}

	for _, c := range cases {
		id, err := GenerateCanonicalID(c[0], c[1], c[2], c[3])
		require.NoError(t, err)

		parsed, err := ParseCanonicalID(id)
		require.NoError(t, err)
		assert.Equal(t, c[0], parsed.Platform)
		assert.Equal(t, c[1], parsed.Workspace)
		assert.Equal(t, c[2], parsed.ObjectType)
		assert.Equal(t, c[3], parsed.PlatformID)
		assert.Equal(t, id, parsed.String())
	}
}

func TestParseCanonicalIDErrors(t *testing.T) {
	tests := []struct {
		name string
		id   string
	}{
		{"empty", ""},
		{"too few segments", "slack|acme|thread"},
		{"too many segments", "slack|acme|thread|T1|extra"},
		{"bad platform casing", "Slack|acme|thread|T1"},
		{"bad object type", "slack|acme|Thread|T1"},
		{"empty workspace", "slack||thread|T1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCanonicalID(tt.id)
			assert.Error(t, err)
			assert.False(t, ValidCanonicalID(tt.id))
		})
	}
}

func TestIsUserReference(t *testing.T) {
	assert.True(t, IsUserReference("user|acme|person|U1"))
	assert.False(t, IsUserReference("slack|acme|thread|T1"))
	assert.False(t, IsUserReference("not-an-id"))
}
