// Package types provides core data structures and type definitions
// for the knowledge-graph pipeline, including canonical objects,
// chunks, relations, and experiment records.
package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Recognized actor roles on a canonical object
const (
	RoleCreatedBy    = "created_by"
	RoleAssignees    = "assignees"
	RoleParticipants = "participants"
	RoleDecidedBy    = "decided_by"
	RoleReviewers    = "reviewers"
	RoleMentioned    = "mentioned"
)

// Recognized timestamp names on a canonical object
const (
	TimestampCreatedAt = "created_at"
	TimestampUpdatedAt = "updated_at"
	TimestampClosedAt  = "closed_at"
	TimestampMergedAt  = "merged_at"
	TimestampDecidedAt = "decided_at"
	TimestampDeletedAt = "deleted_at"
	TimestampStart     = "start"
	TimestampEnd       = "end"
)

// Recognized relation keys on a canonical object
const (
	RelationKeyThreadID          = "thread_id"
	RelationKeyParentID          = "parent_id"
	RelationKeyProjectID         = "project_id"
	RelationKeyChannelID         = "channel_id"
	RelationKeyLinkedPRs         = "linked_prs"
	RelationKeyLinkedIssues      = "linked_issues"
	RelationKeyTriggeredByTicket = "triggered_by_ticket"
	RelationKeyResultedInIssue   = "resulted_in_issue"
)

// Recognized property keys on a canonical object
const (
	PropertyKeywords     = "keywords"
	PropertyLabels       = "labels"
	PropertyStatus       = "status"
	PropertyPriority     = "priority"
	PropertySentiment    = "sentiment"
	PropertyDecisionMade = "decision_made"
	PropertyMessageCount = "message_count"
)

// Visibility represents who can see a canonical object
type Visibility string

const (
	// VisibilityPrivate restricts the object to its owner
	VisibilityPrivate Visibility = "private"
	// VisibilityTeam restricts the object to the owning team
	VisibilityTeam Visibility = "team"
	// VisibilityPublic makes the object visible to everyone
	VisibilityPublic Visibility = "public"
)

// Valid returns true if the visibility is valid
func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPrivate, VisibilityTeam, VisibilityPublic:
		return true
	}
	return false
}

// Sentiment represents the detected sentiment of a conversation-style object
type Sentiment string

const (
	// SentimentPositive indicates a positive tone
	SentimentPositive Sentiment = "positive"
	// SentimentNeutral indicates a neutral tone
	SentimentNeutral Sentiment = "neutral"
	// SentimentConcerned indicates worry or unease
	SentimentConcerned Sentiment = "concerned"
	// SentimentUrgent indicates time pressure or escalation
	SentimentUrgent Sentiment = "urgent"
)

// Valid returns true if the sentiment is valid
func (s Sentiment) Valid() bool {
	switch s {
	case SentimentPositive, SentimentNeutral, SentimentConcerned, SentimentUrgent:
		return true
	}
	return false
}

// Summary holds the optional multi-length summary block of a canonical object
type Summary struct {
	Short    string   `json:"short,omitempty"`
	Medium   string   `json:"medium,omitempty"`
	Long     string   `json:"long,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
}

// CanonicalObject is the uniform record shape for every ingested artifact:
// tickets, chat threads, issues, wiki pages, users. Actor and relation values
// may reference other canonical objects; dangling references are tolerated as
// long as they are well-formed IDs.
type CanonicalObject struct {
	ID           string                 `json:"id"`
	Platform     string                 `json:"platform"`
	Workspace    string                 `json:"workspace"`
	ObjectType   string                 `json:"object_type"`
	PlatformID   string                 `json:"platform_id"`
	Title        string                 `json:"title,omitempty"`
	Body         string                 `json:"body,omitempty"`
	Actors       map[string]interface{} `json:"actors,omitempty"`
	Timestamps   map[string]*time.Time  `json:"timestamps"`
	Relations    map[string]interface{} `json:"relations,omitempty"`
	Properties   map[string]interface{} `json:"properties,omitempty"`
	Summary      *Summary               `json:"summary,omitempty"`
	SemanticHash string                 `json:"semantic_hash,omitempty"`
	Visibility   Visibility             `json:"visibility"`
}

// NewCanonicalObject creates a canonical object with defaults. The ID is
// assembled from the four grammar segments and created_at is mandatory.
func NewCanonicalObject(platform, workspace, objectType, platformID string, createdAt time.Time) (*CanonicalObject, error) {
	id, err := GenerateCanonicalID(platform, workspace, objectType, platformID)
	if err != nil {
		return nil, err
	}
	if createdAt.IsZero() {
		return nil, errors.New("created_at cannot be zero")
	}
	created := createdAt.UTC()
	return &CanonicalObject{
		ID:         id,
		Platform:   platform,
		Workspace:  workspace,
		ObjectType: objectType,
		PlatformID: platformID,
		Actors:     map[string]interface{}{},
		Timestamps: map[string]*time.Time{TimestampCreatedAt: &created},
		Relations:  map[string]interface{}{},
		Properties: map[string]interface{}{},
		Visibility: VisibilityTeam,
	}, nil
}

// Validate checks if the canonical object is valid
func (o *CanonicalObject) Validate() error {
	parsed, err := ParseCanonicalID(o.ID)
	if err != nil {
		return fmt.Errorf("invalid id: %w", err)
	}
	if o.Platform != "" && o.Platform != parsed.Platform {
		return fmt.Errorf("platform %q does not match id segment %q", o.Platform, parsed.Platform)
	}
	if o.ObjectType != "" && o.ObjectType != parsed.ObjectType {
		return fmt.Errorf("object_type %q does not match id segment %q", o.ObjectType, parsed.ObjectType)
	}
	if o.Timestamp(TimestampCreatedAt) == nil {
		return errors.New("timestamps.created_at is required")
	}
	if o.Visibility != "" && !o.Visibility.Valid() {
		return fmt.Errorf("invalid visibility: %s", o.Visibility)
	}
	if o.SemanticHash != "" && !ValidSemanticHash(o.SemanticHash) {
		return fmt.Errorf("invalid semantic hash: %s", o.SemanticHash)
	}
	return nil
}

// Timestamp returns the named timestamp or nil when absent or null
func (o *CanonicalObject) Timestamp(name string) *time.Time {
	if o.Timestamps == nil {
		return nil
	}
	return o.Timestamps[name]
}

// CreatedAt returns the mandatory creation timestamp, zero when malformed
func (o *CanonicalObject) CreatedAt() time.Time {
	if ts := o.Timestamp(TimestampCreatedAt); ts != nil {
		return *ts
	}
	return time.Time{}
}

// Actor returns the named actor as a single user reference. Lists yield
// their first element so callers that expect a scalar stay total.
func (o *CanonicalObject) Actor(role string) (string, bool) {
	if o.Actors == nil {
		return "", false
	}
	refs := toStringList(o.Actors[role])
	if len(refs) == 0 {
		return "", false
	}
	return refs[0], true
}

// ActorList returns the named actor role as an ordered list of user
// references. Scalar values are returned as a one-element list.
func (o *CanonicalObject) ActorList(role string) []string {
	if o.Actors == nil {
		return nil
	}
	return toStringList(o.Actors[role])
}

// RelationValue returns the named relation key as a single reference
func (o *CanonicalObject) RelationValue(key string) (string, bool) {
	if o.Relations == nil {
		return "", false
	}
	refs := toStringList(o.Relations[key])
	if len(refs) == 0 {
		return "", false
	}
	return refs[0], true
}

// RelationList returns the named relation key as an ordered list
func (o *CanonicalObject) RelationList(key string) []string {
	if o.Relations == nil {
		return nil
	}
	return toStringList(o.Relations[key])
}

// Keywords returns properties.keywords as a string list
func (o *CanonicalObject) Keywords() []string {
	if o.Properties == nil {
		return nil
	}
	return toStringList(o.Properties[PropertyKeywords])
}

// Labels returns properties.labels as a string list
func (o *CanonicalObject) Labels() []string {
	if o.Properties == nil {
		return nil
	}
	return toStringList(o.Properties[PropertyLabels])
}

// Property returns the named property as a string when it is one
func (o *CanonicalObject) Property(key string) (string, bool) {
	if o.Properties == nil {
		return "", false
	}
	s, ok := o.Properties[key].(string)
	return s, ok
}

// CombinedText returns the text the chunker operates on: title and body
// joined by a blank line, with empty parts omitted.
func (o *CanonicalObject) CombinedText() string {
	switch {
	case o.Title != "" && o.Body != "":
		return o.Title + "\n\n" + o.Body
	case o.Title != "":
		return o.Title
	default:
		return o.Body
	}
}

// toStringList coerces scalar strings, string slices, and decoded JSON/YAML
// interface slices into an ordered string list. Non-string members are
// skipped; malformed field shapes never fail the caller.
func toStringList(v interface{}) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		if val == "" {
			return nil
		}
		return []string{val}
	case []string:
		out := make([]string, 0, len(val))
		for _, s := range val {
			if s != "" {
				out = append(out, s)
			}
		}
		return out
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// MarshalJSON ensures timestamps serialize in RFC3339 UTC
func (o *CanonicalObject) MarshalJSON() ([]byte, error) {
	type alias CanonicalObject
	normalized := make(map[string]*time.Time, len(o.Timestamps))
	for name, ts := range o.Timestamps {
		if ts == nil {
			normalized[name] = nil
			continue
		}
		utc := ts.UTC()
		normalized[name] = &utc
	}
	clone := *o
	clone.Timestamps = normalized
	return json.Marshal((*alias)(&clone))
}
