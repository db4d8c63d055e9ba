package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/hera/internal/compiler"
	"github.com/roach88/hera/internal/config"
	"github.com/roach88/hera/internal/engine"
	"github.com/roach88/hera/internal/policy"
	"github.com/roach88/hera/internal/store"
)

// CallerOptions are the flags commands use to act as an operator.
// The CLI trusts the operator: the actor is treated as a member of the
// named organization.
type CallerOptions struct {
	OrganizationID string
	ActorID        string
}

func (c CallerOptions) caller() engine.Caller {
	return engine.Caller{OrganizationID: c.OrganizationID, ActorID: c.ActorID}
}

// identity grants the operator membership of their organization.
func (c CallerOptions) identity() engine.StaticIdentity {
	if c.ActorID == "" || c.OrganizationID == "" {
		return engine.StaticIdentity{}
	}
	return engine.StaticIdentity{c.ActorID: {c.OrganizationID}}
}

// session is an open store plus the engine built over it.
type session struct {
	store  *store.Store
	engine *engine.Engine
	logger *slog.Logger
}

func (s *session) Close() error {
	return s.store.Close()
}

// newLogger builds the process logger at the configured level. Logs go
// to w so they never interleave with JSON on stdout.
func newLogger(cfg config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}

// openSession opens the configured database and builds an engine with the
// configured kinds, precision, platform organization and policy bundles.
func openSession(cfg config.Config, identity engine.IdentityProvider, logw io.Writer) (*session, error) {
	logger, err := newLogger(cfg, logw)
	if err != nil {
		return nil, err
	}

	kinds, err := engine.NewKindRegistry(cfg.EntityKinds, cfg.RelationshipKinds)
	if err != nil {
		return nil, fmt.Errorf("kind allow-list: %w", err)
	}

	registry, err := loadPolicyRegistry(cfg.PolicyDir)
	if err != nil {
		return nil, err
	}

	logger.Debug("opening database", "path", cfg.DBPath)
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	eng := engine.New(st, identity,
		engine.WithLogger(logger),
		engine.WithKinds(kinds),
		engine.WithPolicies(registry),
		engine.WithPlatformOrg(cfg.PlatformOrg),
		engine.WithPrecision(cfg.CurrencyPrecision),
	)
	return &session{store: st, engine: eng, logger: logger}, nil
}

// loadPolicyRegistry compiles the bundles under dir. An empty dir yields
// an empty registry.
func loadPolicyRegistry(dir string) (*policy.Registry, error) {
	if dir == "" {
		return policy.NewRegistry()
	}
	result, errs := compiler.LoadBundles(dir, compiler.LoadModeFailFast)
	if len(errs) > 0 {
		return nil, fmt.Errorf("policy bundles: %w", errors.Join(errs...))
	}
	return policy.NewRegistry(result.Bundles...)
}
