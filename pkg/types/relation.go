package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RelationType represents the type of relation between canonical objects
type RelationType string

const (
	// RelationTriggeredBy indicates the source was triggered by the target (e.g., thread by ticket)
	RelationTriggeredBy RelationType = "triggered_by"
	// RelationResultedIn indicates the source produced the target (e.g., thread resulted in issue)
	RelationResultedIn RelationType = "resulted_in"
	// RelationBelongsTo indicates containment (e.g., message belongs to thread)
	RelationBelongsTo RelationType = "belongs_to"
	// RelationAssignedTo indicates the object is assigned to a user
	RelationAssignedTo RelationType = "assigned_to"
	// RelationCreatedBy indicates the object was created by a user
	RelationCreatedBy RelationType = "created_by"
	// RelationDecidedBy indicates a user made the decision recorded on the object
	RelationDecidedBy RelationType = "decided_by"
	// RelationParticipatedIn indicates a user took part in the object
	RelationParticipatedIn RelationType = "participated_in"
	// RelationSimilarTo indicates content similarity between two objects
	RelationSimilarTo RelationType = "similar_to"
	// RelationDuplicateOf indicates the source duplicates the target
	RelationDuplicateOf RelationType = "duplicate_of"
	// RelationRelatedTo indicates a general link between two objects
	RelationRelatedTo RelationType = "related_to"
)

// AllValidRelationTypes returns the closed set of relation types
func AllValidRelationTypes() []RelationType {
	return []RelationType{
		RelationTriggeredBy, RelationResultedIn, RelationBelongsTo, RelationAssignedTo,
		RelationCreatedBy, RelationDecidedBy, RelationParticipatedIn, RelationSimilarTo,
		RelationDuplicateOf, RelationRelatedTo,
	}
}

// Valid returns true if the relation type is valid
func (rt RelationType) Valid() bool {
	for _, validType := range AllValidRelationTypes() {
		if rt == validType {
			return true
		}
	}
	return false
}

// GetInverse returns the inverse relation type
func (rt RelationType) GetInverse() RelationType {
	switch rt {
	case RelationTriggeredBy:
		return RelationResultedIn
	case RelationResultedIn:
		return RelationTriggeredBy
	case RelationBelongsTo:
		return RelationBelongsTo // No direct inverse
	case RelationAssignedTo:
		return RelationAssignedTo // No direct inverse
	case RelationCreatedBy:
		return RelationCreatedBy // No direct inverse
	case RelationDecidedBy:
		return RelationDecidedBy // No direct inverse
	case RelationParticipatedIn:
		return RelationParticipatedIn // No direct inverse
	case RelationSimilarTo:
		return RelationSimilarTo // Symmetric
	case RelationDuplicateOf:
		return RelationDuplicateOf // No direct inverse
	case RelationRelatedTo:
		return RelationRelatedTo // Symmetric
	default:
		return RelationRelatedTo
	}
}

// IsSymmetric returns true if the relation type is symmetric
func (rt RelationType) IsSymmetric() bool {
	switch rt {
	case RelationSimilarTo, RelationRelatedTo:
		return true
	case RelationTriggeredBy, RelationResultedIn, RelationBelongsTo, RelationAssignedTo,
		RelationCreatedBy, RelationDecidedBy, RelationParticipatedIn, RelationDuplicateOf:
		return false
	}
	return false
}

// RelationSource represents the provenance of an emitted relation
type RelationSource string

const (
	// SourceExplicit indicates the relation came from a structural field
	SourceExplicit RelationSource = "explicit"
	// SourceInferred indicates the relation came from an LLM judgment
	SourceInferred RelationSource = "inferred"
	// SourceComputed indicates the relation came from a deterministic algorithm
	SourceComputed RelationSource = "computed"
)

// Valid returns true if the relation source is valid
func (rs RelationSource) Valid() bool {
	switch rs {
	case SourceExplicit, SourceInferred, SourceComputed:
		return true
	}
	return false
}

// Relation is a typed, weighted directed edge between two canonical objects
type Relation struct {
	ID         string                 `json:"id"`
	FromID     string                 `json:"from_id"`
	ToID       string                 `json:"to_id"`
	Type       RelationType           `json:"type"`
	Source     RelationSource         `json:"source"`
	Confidence float64                `json:"confidence"` // 0.0-1.0
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// NewRelation creates a relation between two canonical objects
func NewRelation(fromID, toID string, relationType RelationType, source RelationSource, confidence float64) (*Relation, error) {
	if fromID == "" {
		return nil, fmt.Errorf("from ID cannot be empty")
	}
	if toID == "" {
		return nil, fmt.Errorf("to ID cannot be empty")
	}
	if fromID == toID {
		return nil, fmt.Errorf("from and to IDs cannot be the same")
	}
	if !relationType.Valid() {
		return nil, fmt.Errorf("invalid relation type: %s", relationType)
	}
	if !source.Valid() {
		return nil, fmt.Errorf("invalid relation source: %s", source)
	}
	if confidence < 0 || confidence > 1 {
		return nil, fmt.Errorf("confidence must be between 0 and 1")
	}

	return &Relation{
		ID:         uuid.New().String(),
		FromID:     fromID,
		ToID:       toID,
		Type:       relationType,
		Source:     source,
		Confidence: confidence,
		Metadata:   make(map[string]interface{}),
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// Validate checks if the relation is valid
func (r *Relation) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("ID cannot be empty")
	}
	if r.FromID == "" {
		return fmt.Errorf("from ID cannot be empty")
	}
	if r.ToID == "" {
		return fmt.Errorf("to ID cannot be empty")
	}
	if r.FromID == r.ToID {
		return fmt.Errorf("from and to IDs cannot be the same")
	}
	if !r.Type.Valid() {
		return fmt.Errorf("invalid relation type: %s", r.Type)
	}
	if !r.Source.Valid() {
		return fmt.Errorf("invalid relation source: %s", r.Source)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("confidence must be between 0 and 1")
	}
	if r.CreatedAt.IsZero() {
		return fmt.Errorf("created at cannot be zero")
	}
	return nil
}

// PairKey normalizes the edge to `min(from,to)|max(from,to)`, undirected
// and type-agnostic. Two relations over the same object pair share a key
// no matter their direction or type.
func (r *Relation) PairKey() string {
	return UndirectedPairKey(r.FromID, r.ToID)
}

// UndirectedPairKey builds the normalized set-membership key for an ID pair
func UndirectedPairKey(a, b string) string {
	if a <= b {
		return a + CanonicalIDSeparator + b
	}
	return b + CanonicalIDSeparator + a
}

// RelationDirection selects which endpoint to match when filtering relations
type RelationDirection string

const (
	// DirectionFrom matches relations whose source is the given object
	DirectionFrom RelationDirection = "from"
	// DirectionTo matches relations whose target is the given object
	DirectionTo RelationDirection = "to"
	// DirectionBoth matches either endpoint
	DirectionBoth RelationDirection = "both"
)

// Valid returns true if the direction is valid
func (d RelationDirection) Valid() bool {
	switch d {
	case DirectionFrom, DirectionTo, DirectionBoth:
		return true
	}
	return false
}

// RelationStats aggregates a relation set
type RelationStats struct {
	Total         int                    `json:"total"`
	ByType        map[RelationType]int   `json:"by_type"`
	BySource      map[RelationSource]int `json:"by_source"`
	AvgConfidence float64                `json:"avg_confidence"`
}

// MarshalJSON implements json.Marshaler for RelationType
func (rt RelationType) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(rt))
}

// UnmarshalJSON implements json.Unmarshaler for RelationType
func (rt *RelationType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*rt = RelationType(s)
	return nil
}
