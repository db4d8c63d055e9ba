package engine

import (
	"context"
	"log/slog"
	"slices"

	"github.com/roach88/hera/internal/ir"
	"github.com/roach88/hera/internal/queryir"
)

// Caller is the acting principal and the organization it acts for.
// Every governed operation takes one.
type Caller struct {
	OrganizationID string `json:"organization_id" yaml:"organization_id" validate:"required"`
	ActorID        string `json:"actor_id" yaml:"actor_id" validate:"required"`
}

// IdentityProvider supplies organization memberships. The engine asks on
// every call and never caches the answer.
type IdentityProvider interface {
	Memberships(ctx context.Context, actorID string) ([]string, error)
}

// StaticIdentity maps actor ids to their organizations. Used by tests,
// scenarios and the CLI.
type StaticIdentity map[string][]string

// Memberships returns the organizations listed for actorID.
func (s StaticIdentity) Memberships(_ context.Context, actorID string) ([]string, error) {
	return s[actorID], nil
}

// scope is the resolved organization set for one call.
type scope struct {
	caller Caller

	// orgs is the caller organization followed by the platform
	// organization when one is configured and distinct.
	orgs []string
}

// writable reports whether records of orgID may be written. Writes only
// ever land in the caller's own organization.
func (s scope) writable(orgID string) bool {
	return orgID == s.caller.OrganizationID
}

// readable reports whether records of orgID are visible to the caller.
func (s scope) readable(orgID string) bool {
	return slices.Contains(s.orgs, orgID)
}

// filter restricts a query to the caller organization, plus the platform
// organization when includePlatform is set.
func (s scope) filter(includePlatform bool) queryir.Predicate {
	if !includePlatform || len(s.orgs) == 1 {
		return queryir.Equals{Field: "organization_id", Value: ir.String(s.caller.OrganizationID)}
	}
	return queryir.In{Field: "organization_id", Values: queryir.Strings(s.orgs...)}
}

// authorize re-validates the caller's membership and returns the
// organizations the call may read.
func (e *Engine) authorize(ctx context.Context, c Caller) (scope, error) {
	if c.OrganizationID == "" || c.ActorID == "" {
		return scope{}, validationError(CodeInvalidRequest, "organization id and actor id are required")
	}

	memberships, err := e.identity.Memberships(ctx, c.ActorID)
	if err != nil {
		return scope{}, &Error{
			Kind:   KindScope,
			Code:   CodeIdentityUnavailable,
			Reason: "identity provider failed: " + err.Error(),
			Err:    err,
		}
	}
	if !slices.Contains(memberships, c.OrganizationID) {
		e.logger.Warn("scope rejected",
			"actor", c.ActorID,
			"organization_id", c.OrganizationID,
		)
		return scope{}, newError(KindScope, CodeNotMember,
			"actor %s is not a member of organization %s", c.ActorID, c.OrganizationID).
			remedy("act for an organization the actor belongs to")
	}

	sc := scope{caller: c, orgs: []string{c.OrganizationID}}
	if e.platformOrg != "" && e.platformOrg != c.OrganizationID {
		sc.orgs = append(sc.orgs, e.platformOrg)
	}
	e.logger.Debug("scope resolved", slog.String("actor", c.ActorID), slog.Any("organizations", sc.orgs))
	return sc, nil
}
