package engine

import (
	"context"
	"regexp"
	"slices"
	"sort"
	"sync"
)

// Entity types with engine semantics.
const (
	AccountEntityType = "ACCOUNT"
	StatusEntityType  = "STATUS"
)

// DefaultEntityKinds are accepted in every organization.
var DefaultEntityKinds = []string{
	AccountEntityType, StatusEntityType,
	"CUSTOMER", "VENDOR", "EMPLOYEE", "PRODUCT", "SERVICE",
	"LOCATION", "ORG_UNIT", "PROJECT", "ASSET", "DOCUMENT",
}

// DefaultRelationshipKinds are accepted in every organization.
var DefaultRelationshipKinds = []string{
	"parent_of", "has_status", "member_of",
	"assigned_to", "related_to", "owns", "supplies",
}

var (
	entityKindPattern       = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)
	relationshipKindPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
)

// KindRegistry is the closed set of entity and relationship kinds known
// per organization: global kinds plus per-organization registrations.
//
// Thread-safety: KindRegistry is safe for concurrent use.
type KindRegistry struct {
	mu           sync.RWMutex
	entity       map[string]bool
	relationship map[string]bool
	orgEntity    map[string]map[string]bool
	orgRel       map[string]map[string]bool
}

// NewKindRegistry returns a registry holding the defaults plus extra
// global kinds. Malformed extras are an error.
func NewKindRegistry(entityKinds, relationshipKinds []string) (*KindRegistry, error) {
	r := &KindRegistry{
		entity:       make(map[string]bool),
		relationship: make(map[string]bool),
		orgEntity:    make(map[string]map[string]bool),
		orgRel:       make(map[string]map[string]bool),
	}
	for _, k := range append(slices.Clone(DefaultEntityKinds), entityKinds...) {
		if !entityKindPattern.MatchString(k) {
			return nil, validationError(CodeInvalidKind, "entity kind %q must be an uppercase token", k)
		}
		r.entity[k] = true
	}
	for _, k := range append(slices.Clone(DefaultRelationshipKinds), relationshipKinds...) {
		if !relationshipKindPattern.MatchString(k) {
			return nil, validationError(CodeInvalidKind, "relationship kind %q must be a lowercase token", k)
		}
		r.relationship[k] = true
	}
	return r, nil
}

// RegisterEntityKind adds kind for one organization.
func (r *KindRegistry) RegisterEntityKind(orgID, kind string) error {
	if !entityKindPattern.MatchString(kind) {
		return validationError(CodeInvalidKind, "entity kind %q must be an uppercase token", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.orgEntity[orgID] == nil {
		r.orgEntity[orgID] = make(map[string]bool)
	}
	r.orgEntity[orgID][kind] = true
	return nil
}

// RegisterRelationshipKind adds kind for one organization.
func (r *KindRegistry) RegisterRelationshipKind(orgID, kind string) error {
	if !relationshipKindPattern.MatchString(kind) {
		return validationError(CodeInvalidKind, "relationship kind %q must be a lowercase token", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.orgRel[orgID] == nil {
		r.orgRel[orgID] = make(map[string]bool)
	}
	r.orgRel[orgID][kind] = true
	return nil
}

// CheckEntityKind rejects kinds unknown to orgID.
func (r *KindRegistry) CheckEntityKind(orgID, kind string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.entity[kind] || r.orgEntity[orgID][kind] {
		return nil
	}
	return validationError(CodeInvalidKind, "entity kind %q is not registered for organization %s", kind, orgID).
		remedy("register the kind for the organization or use one of the default kinds")
}

// CheckRelationshipKind rejects kinds unknown to orgID.
func (r *KindRegistry) CheckRelationshipKind(orgID, kind string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.relationship[kind] || r.orgRel[orgID][kind] {
		return nil
	}
	return validationError(CodeInvalidKind, "relationship kind %q is not registered for organization %s", kind, orgID).
		remedy("register the kind for the organization or use one of the default kinds")
}

// EntityKinds lists the kinds accepted in orgID, sorted.
func (r *KindRegistry) EntityKinds(orgID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedUnion(r.entity, r.orgEntity[orgID])
}

// RelationshipKinds lists the kinds accepted in orgID, sorted.
func (r *KindRegistry) RelationshipKinds(orgID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedUnion(r.relationship, r.orgRel[orgID])
}

// RegisterEntityKind registers kind for the caller's organization.
func (e *Engine) RegisterEntityKind(ctx context.Context, c Caller, kind string) error {
	if _, err := e.authorize(ctx, c); err != nil {
		return err
	}
	return e.kinds.RegisterEntityKind(c.OrganizationID, kind)
}

// RegisterRelationshipKind registers kind for the caller's organization.
func (e *Engine) RegisterRelationshipKind(ctx context.Context, c Caller, kind string) error {
	if _, err := e.authorize(ctx, c); err != nil {
		return err
	}
	return e.kinds.RegisterRelationshipKind(c.OrganizationID, kind)
}

func sortedUnion(sets ...map[string]bool) []string {
	seen := make(map[string]bool)
	for _, s := range sets {
		for k := range s {
			seen[k] = true
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
