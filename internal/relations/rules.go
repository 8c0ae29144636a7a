package relations

import (
	"time"

	"graphloom/pkg/types"
)

// explicitRule maps one structural field on a canonical object to the
// relation it emits. Inverted rules (decided_by, participated_in) put the
// referenced user on the from side.
type explicitRule struct {
	relationType types.RelationType
	inverted     bool
	targets      func(obj *types.CanonicalObject) []string
}

var explicitRules = []explicitRule{
	{
		relationType: types.RelationTriggeredBy,
		targets:      singleRelationValue(types.RelationKeyTriggeredByTicket),
	},
	{
		relationType: types.RelationResultedIn,
		targets:      singleRelationValue(types.RelationKeyResultedInIssue),
	},
	{
		relationType: types.RelationCreatedBy,
		targets:      singleActor(types.RoleCreatedBy),
	},
	{
		relationType: types.RelationAssignedTo,
		targets: func(obj *types.CanonicalObject) []string {
			return obj.ActorList(types.RoleAssignees)
		},
	},
	{
		relationType: types.RelationDecidedBy,
		inverted:     true,
		targets:      singleActor(types.RoleDecidedBy),
	},
	{
		relationType: types.RelationParticipatedIn,
		inverted:     true,
		targets: func(obj *types.CanonicalObject) []string {
			return obj.ActorList(types.RoleParticipants)
		},
	},
	{
		relationType: types.RelationRelatedTo,
		targets: func(obj *types.CanonicalObject) []string {
			return obj.RelationList(types.RelationKeyLinkedPRs)
		},
	},
	{
		relationType: types.RelationRelatedTo,
		targets: func(obj *types.CanonicalObject) []string {
			return obj.RelationList(types.RelationKeyLinkedIssues)
		},
	},
	{
		relationType: types.RelationBelongsTo,
		targets:      singleRelationValue(types.RelationKeyParentID),
	},
}

func singleRelationValue(key string) func(*types.CanonicalObject) []string {
	return func(obj *types.CanonicalObject) []string {
		if v, ok := obj.RelationValue(key); ok {
			return []string{v}
		}
		return nil
	}
}

func singleActor(role string) func(*types.CanonicalObject) []string {
	return func(obj *types.CanonicalObject) []string {
		if v, ok := obj.Actor(role); ok {
			return []string{v}
		}
		return nil
	}
}

// ruleCreatedAt picks the timestamp the emitted relation carries. Decisions
// date from when they were decided, everything else from object creation.
func ruleCreatedAt(obj *types.CanonicalObject, relationType types.RelationType) time.Time {
	if relationType == types.RelationDecidedBy {
		if ts := obj.Timestamp(types.TimestampDecidedAt); ts != nil {
			return ts.UTC()
		}
		if ts := obj.Timestamp(types.TimestampUpdatedAt); ts != nil {
			return ts.UTC()
		}
	}
	return obj.CreatedAt()
}
