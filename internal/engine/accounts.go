package engine

import (
	"context"
	"fmt"

	"github.com/roach88/hera/internal/store"
)

// accountResolver maps account codes to active ACCOUNT entities, looking
// in the caller's organization first and the platform organization
// second.
type accountResolver struct {
	q  store.Queries
	sc scope
}

func (r accountResolver) ResolveAccount(ctx context.Context, code string) (string, bool, error) {
	for _, org := range r.sc.orgs {
		ent, err := r.q.FindEntityByCode(ctx, org, AccountEntityType, code)
		if store.IsNotFound(err) {
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("resolve account %s: %w", code, err)
		}
		if ent.IsActive() {
			return ent.ID, true, nil
		}
	}
	return "", false, nil
}
