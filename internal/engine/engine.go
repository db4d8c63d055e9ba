package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/roach88/hera/internal/ir"
	"github.com/roach88/hera/internal/placement"
	"github.com/roach88/hera/internal/policy"
	"github.com/roach88/hera/internal/store"
	"github.com/roach88/hera/internal/taxonomy"
)

// DefaultPrecision is the currency precision used for balance checks and
// derived amounts when none is configured.
const DefaultPrecision int32 = 2

// Engine executes governed operations against a store.
//
// Thread-safety: all methods are safe for concurrent use. Writes are
// serialized by the store's single connection; the keyed locks order
// competing line appends and status transitions before that.
type Engine struct {
	store     *store.Store
	identity  IdentityProvider
	ids       IDGenerator
	clock     Clock
	logger    *slog.Logger
	validate  *validator.Validate
	kinds     *KindRegistry
	policies  *policy.Registry
	placement *placement.Policy

	platformOrg string
	precision   int32

	locks keyedMutex
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithIDs sets the id generator. Default: UUIDv7Generator.
func WithIDs(g IDGenerator) EngineOption {
	return func(e *Engine) { e.ids = g }
}

// WithClock sets the audit clock. Default: SystemClock.
func WithClock(c Clock) EngineOption {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithPlatformOrg names the organization whose records every tenant may
// read.
func WithPlatformOrg(orgID string) EngineOption {
	return func(e *Engine) { e.platformOrg = orgID }
}

// WithPrecision sets the currency precision. Default: 2.
func WithPrecision(p int32) EngineOption {
	return func(e *Engine) { e.precision = p }
}

// WithKinds sets the kind registry. Default: the built-in kinds.
func WithKinds(r *KindRegistry) EngineOption {
	return func(e *Engine) { e.kinds = r }
}

// WithPolicies sets the policy bundle registry. Default: empty.
func WithPolicies(r *policy.Registry) EngineOption {
	return func(e *Engine) { e.policies = r }
}

// WithPlacement sets the attribute placement policy.
// Default: placement.DefaultPolicy().
func WithPlacement(p *placement.Policy) EngineOption {
	return func(e *Engine) { e.placement = p }
}

// New creates an Engine over s. identity is consulted on every call.
func New(s *store.Store, identity IdentityProvider, opts ...EngineOption) *Engine {
	e := &Engine{
		store:     s,
		identity:  identity,
		ids:       UUIDv7Generator{},
		clock:     SystemClock{},
		logger:    slog.Default(),
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		placement: placement.DefaultPolicy(),
		precision: DefaultPrecision,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.kinds == nil {
		// defaults are well-formed
		e.kinds, _ = NewKindRegistry(nil, nil)
	}
	if e.policies == nil {
		e.policies, _ = policy.NewRegistry()
	}
	return e
}

// Precision returns the configured currency precision.
func (e *Engine) Precision() int32 { return e.precision }

// Policies returns the policy bundle registry.
func (e *Engine) Policies() *policy.Registry { return e.policies }

// Kinds returns the kind registry.
func (e *Engine) Kinds() *KindRegistry { return e.kinds }

// PolicyResolve returns the ordered active bundle set for a transaction
// context. organizationID must be readable by the caller.
func (e *Engine) PolicyResolve(ctx context.Context, c Caller, transactionType, industry, organizationID string) ([]ir.PolicyBundle, error) {
	sc, err := e.authorize(ctx, c)
	if err != nil {
		return nil, err
	}
	if organizationID == "" {
		organizationID = c.OrganizationID
	}
	if !sc.readable(organizationID) {
		return nil, newError(KindScope, CodeCrossOrganization,
			"organization %s is outside the caller's scope", organizationID)
	}
	return e.policies.Resolve(transactionType, industry, organizationID), nil
}

// checkStruct runs validator tags on a request struct.
func (e *Engine) checkStruct(v any) error {
	err := e.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate request: %w", err)
	}
	ve := validationError(CodeInvalidRequest, "request failed validation: %s", verrs[0].Namespace())
	for _, fe := range verrs {
		ve = ve.With(fe.Namespace(), fe.Tag())
	}
	return ve
}

// checkTaxonomy validates and normalizes a taxonomy code.
func checkTaxonomy(what, code string) (string, error) {
	c, err := taxonomy.Validate(code)
	if err != nil {
		var invalid *taxonomy.InvalidCodeError
		reason := err.Error()
		if errors.As(err, &invalid) {
			reason = invalid.Reason
		}
		ve := validationError(CodeInvalidTaxonomy, "%s taxonomy code %q: %s", what, code, reason).
			remedy("use a code of the form HERA.<DOMAIN>.<MODULE>[.<KIND>...].V<n>")
		ve.Err = err
		return "", ve
	}
	return c.Raw, nil
}
