package report

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/roach88/hera/internal/engine"
	"github.com/roach88/hera/internal/queryir"
)

// RollupNode is one entity of a hierarchy with its own balance and the
// balance of its whole subtree.
type RollupNode struct {
	EntityID   string          `json:"entity_id" yaml:"entity_id"`
	EntityCode string          `json:"entity_code" yaml:"entity_code"`
	EntityName string          `json:"entity_name" yaml:"entity_name"`
	Own        decimal.Decimal `json:"own" yaml:"own"`
	Total      decimal.Decimal `json:"total" yaml:"total"`
	Children   []*RollupNode   `json:"children,omitempty" yaml:"children,omitempty"`
}

// Walk visits n and its descendants, parents first.
func (n *RollupNode) Walk(fn func(node *RollupNode, depth int)) {
	var walk func(*RollupNode, int)
	walk = func(node *RollupNode, depth int) {
		fn(node, depth)
		for _, c := range node.Children {
			walk(c, depth+1)
		}
	}
	walk(n, 0)
}

// HierarchyRollup sums balances up the parent_of trees rooted at the
// entities matching root. Entities missing from balances count as zero.
func HierarchyRollup(ctx context.Context, r Reader, c engine.Caller, root queryir.Predicate, balances map[string]decimal.Decimal) ([]*RollupNode, error) {
	forest, err := r.BuildHierarchy(ctx, c, root)
	if err != nil {
		return nil, fmt.Errorf("hierarchy rollup: %w", err)
	}
	out := make([]*RollupNode, 0, len(forest))
	for _, tree := range forest {
		out = append(out, rollup(tree, balances))
	}
	return out, nil
}

func rollup(n *engine.HierarchyNode, balances map[string]decimal.Decimal) *RollupNode {
	own := balances[n.Entity.ID]
	node := &RollupNode{
		EntityID:   n.Entity.ID,
		EntityCode: n.Entity.Code,
		EntityName: n.Entity.Name,
		Own:        own,
		Total:      own,
	}
	for _, child := range n.Children {
		rc := rollup(child, balances)
		node.Total = node.Total.Add(rc.Total)
		node.Children = append(node.Children, rc)
	}
	return node
}
