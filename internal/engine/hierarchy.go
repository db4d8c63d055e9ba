package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/roach88/hera/internal/ir"
	"github.com/roach88/hera/internal/queryir"
	"github.com/roach88/hera/internal/store"
)

// HierarchyNode is one entity in a parent_of forest. Edge is the edge
// from the node's parent; nil for roots.
type HierarchyNode struct {
	Entity   ir.Entity        `json:"entity"`
	Edge     *ir.Relationship `json:"edge,omitempty"`
	Children []*HierarchyNode `json:"children,omitempty"`
}

// Walk visits n and its descendants depth-first, parents before
// children. depth is 0 for n.
func (n *HierarchyNode) Walk(fn func(node *HierarchyNode, depth int)) {
	n.walk(fn, 0)
}

func (n *HierarchyNode) walk(fn func(*HierarchyNode, int), depth int) {
	fn(n, depth)
	for _, c := range n.Children {
		c.walk(fn, depth+1)
	}
}

// BuildHierarchy returns one tree per entity matching root, following
// active parent_of edges down. Roots are ordered by code then id;
// siblings that carry a sequence come first in sequence order, the rest
// follow by code.
func (e *Engine) BuildHierarchy(ctx context.Context, c Caller, root queryir.Predicate) ([]*HierarchyNode, error) {
	sc, err := e.authorize(ctx, c)
	if err != nil {
		return nil, err
	}
	q := e.store.Queries

	roots, err := q.QueryEntities(ctx, queryir.Select{
		Filter:  queryir.AndOf(sc.filter(true), root),
		OrderBy: []queryir.Order{{Field: "entity_code"}},
	})
	if err != nil {
		return nil, validationError(CodeInvalidRequest, "hierarchy roots: %v", err)
	}

	forest := make([]*HierarchyNode, 0, len(roots))
	for _, ent := range roots {
		node := &HierarchyNode{Entity: ent}
		if err := expand(ctx, q, sc, []*HierarchyNode{node}, map[string]bool{ent.ID: true}); err != nil {
			return nil, err
		}
		forest = append(forest, node)
	}
	return forest, nil
}

// expand attaches children level by level. seen guards against a cycle
// that slipped past the write path.
func expand(ctx context.Context, q store.Queries, sc scope, level []*HierarchyNode, seen map[string]bool) error {
	for len(level) > 0 {
		byID := make(map[string]*HierarchyNode, len(level))
		ids := make([]string, 0, len(level))
		for _, n := range level {
			byID[n.Entity.ID] = n
			ids = append(ids, n.Entity.ID)
		}

		edges, err := q.QueryRelationships(ctx, queryir.Select{
			Filter: queryir.AndOf(
				sc.filter(true),
				queryir.In{Field: "from_entity_id", Values: queryir.Strings(ids...)},
				queryir.Equals{Field: "relationship_type", Value: ir.String(ir.RelParentOf)},
				activeOnly,
			),
		})
		if err != nil {
			return fmt.Errorf("hierarchy edges: %w", err)
		}
		if len(edges) == 0 {
			return nil
		}

		childIDs := make([]string, 0, len(edges))
		for _, edge := range edges {
			if seen[edge.ToEntityID] {
				return integrityError(CodeHierarchyCycle,
					"entity %s is reachable twice under the same root", edge.ToEntityID).
					remedy("run the integrity check and repair the hierarchy").
					With("relationship_id", edge.ID)
			}
			seen[edge.ToEntityID] = true
			childIDs = append(childIDs, edge.ToEntityID)
		}
		children, err := q.QueryEntities(ctx, queryir.Select{
			Filter: queryir.AndOf(sc.filter(true), queryir.In{Field: "id", Values: queryir.Strings(childIDs...)}),
		})
		if err != nil {
			return fmt.Errorf("hierarchy children: %w", err)
		}
		entByID := make(map[string]ir.Entity, len(children))
		for _, ent := range children {
			entByID[ent.ID] = ent
		}

		var next []*HierarchyNode
		for _, edge := range edges {
			ent, ok := entByID[edge.ToEntityID]
			if !ok {
				// child outside the caller's scope
				continue
			}
			child := &HierarchyNode{Entity: ent, Edge: &edge}
			parent := byID[edge.FromEntityID]
			parent.Children = append(parent.Children, child)
			next = append(next, child)
		}
		for _, n := range level {
			sortSiblings(n.Children)
		}
		level = next
	}
	return nil
}

// sortSiblings orders nodes with a sequence first by sequence, then the
// rest by code, with id as the final tiebreak.
func sortSiblings(nodes []*HierarchyNode) {
	sort.SliceStable(nodes, func(i, j int) bool {
		a, b := nodes[i], nodes[j]
		sa, hasA := a.Edge.Sequence()
		sb, hasB := b.Edge.Sequence()
		if hasA != hasB {
			return hasA
		}
		if hasA && sa != sb {
			return sa < sb
		}
		if a.Entity.Code != b.Entity.Code {
			return a.Entity.Code < b.Entity.Code
		}
		return a.Entity.ID < b.Entity.ID
	})
}
