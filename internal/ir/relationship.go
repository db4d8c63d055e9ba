package ir

import "time"

// Well-known relationship types. The vocabulary is open; these three carry
// engine semantics.
const (
	// RelParentOf is a hierarchy edge: From is the parent, To the child.
	RelParentOf = "parent_of"

	// RelHasStatus points an entity at a STATUS entity. Exactly one edge is
	// active per (entity, status dimension).
	RelHasStatus = "has_status"

	// RelMemberOf is a membership edge; multiplicity across targets.
	RelMemberOf = "member_of"
)

// Reserved relationship_data keys.
const (
	DataStatusDimension = "status_dimension"
	DataSequence        = "sequence"
)

// DefaultStatusDimension is used when a has_status edge names none.
const DefaultStatusDimension = "lifecycle"

// Relationship is a typed, directed edge between two entities.
type Relationship struct {
	ID               string     `json:"id"`
	OrganizationID   string     `json:"organization_id"`
	FromEntityID     string     `json:"from_entity_id"`
	ToEntityID       string     `json:"to_entity_id"`
	RelationshipType string     `json:"relationship_type"`
	Data             Object     `json:"relationship_data"`
	TaxonomyCode     string     `json:"taxonomy_code"`
	IsActive         bool       `json:"is_active"`
	Expiration       *time.Time `json:"expiration,omitempty"`
	CreatedBy        string     `json:"created_by"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedBy        string     `json:"updated_by"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// StatusDimension returns the dimension a has_status edge belongs to.
func (r Relationship) StatusDimension() string {
	if s, ok := r.Data[DataStatusDimension].(String); ok && s != "" {
		return string(s)
	}
	return DefaultStatusDimension
}

// Sequence returns the explicit sibling order of a hierarchy edge.
func (r Relationship) Sequence() (int64, bool) {
	n, ok := r.Data[DataSequence].(Int)
	return int64(n), ok
}
