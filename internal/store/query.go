package store

import (
	"context"
	"fmt"

	"github.com/roach88/hera/internal/ir"
	"github.com/roach88/hera/internal/queryir"
)

// queryAll compiles sel against table with every column selected, runs it
// and scans each row. Always returns a non-nil slice.
func queryAll[T any](ctx context.Context, q Queries, table string, sel queryir.Select, scan func(scanner) (T, error)) ([]T, error) {
	sel.From = table
	sel.Columns = nil

	sqlText, params, err := q.compiler.Compile(sel)
	if err != nil {
		return nil, fmt.Errorf("compile %s query: %w", table, err)
	}

	rows, err := q.q.QueryContext(ctx, sqlText, params...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return out, nil
}

// queryOne is queryAll limited to one row; ErrNotFound when empty.
func queryOne[T any](ctx context.Context, q Queries, table string, filter queryir.Predicate, scan func(scanner) (T, error)) (T, error) {
	var zero T
	items, err := queryAll(ctx, q, table, queryir.Select{Filter: filter, Limit: 1}, scan)
	if err != nil {
		return zero, err
	}
	if len(items) == 0 {
		return zero, ErrNotFound
	}
	return items[0], nil
}

func eq(field, value string) queryir.Equals {
	return queryir.Equals{Field: field, Value: ir.String(value)}
}
