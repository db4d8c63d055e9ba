// Package querysql compiles queryir queries to parameterized SQLite SQL.
//
// Every compiled query ends in an ORDER BY that includes the table's stable
// key, so two reads of the same data always return rows in the same order.
// Values are always bound as parameters; identifiers are taken only from
// the table allow-list.
package querysql

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/roach88/hera/internal/ir"
	"github.com/roach88/hera/internal/queryir"
)

// SQLCompiler compiles queryir.Query values for a fixed set of tables.
type SQLCompiler struct {
	tables map[string]Table
}

// NewSQLCompiler returns a compiler over DefaultTables.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{tables: DefaultTables()}
}

// Compile converts a query to (sql, params).
func (c *SQLCompiler) Compile(q queryir.Query) (string, []any, error) {
	if res := queryir.Validate(q); !res.Valid {
		return "", nil, fmt.Errorf("invalid query: %s", strings.Join(res.Problems, "; "))
	}

	switch query := q.(type) {
	case queryir.Select:
		return c.compileSelect(query)
	case *queryir.Select:
		return c.compileSelect(*query)
	default:
		return "", nil, fmt.Errorf("unsupported query type: %T", q)
	}
}

func (c *SQLCompiler) compileSelect(q queryir.Select) (string, []any, error) {
	table, ok := c.tables[q.From]
	if !ok {
		return "", nil, fmt.Errorf("unknown table %q", q.From)
	}

	cols := q.Columns
	if len(cols) == 0 {
		cols = table.Columns
	}
	selectCols := make([]string, len(cols))
	for i, col := range cols {
		expr, err := c.fieldExpr(table, col)
		if err != nil {
			return "", nil, fmt.Errorf("select: %w", err)
		}
		selectCols[i] = expr
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(selectCols, ", "), table.Name)

	var params []any
	if q.Filter != nil {
		where, whereParams, err := c.compilePredicate(table, q.Filter)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		b.WriteString(" WHERE ")
		b.WriteString(where)
		params = whereParams
	}

	orderBy, err := c.stableOrderKey(table, q.OrderBy)
	if err != nil {
		return "", nil, err
	}
	b.WriteString(" ORDER BY ")
	b.WriteString(orderBy)

	if q.Limit > 0 {
		b.WriteString(" LIMIT ?")
		params = append(params, q.Limit)
	}

	return b.String(), params, nil
}

// stableOrderKey renders the caller's order terms followed by any key
// column they did not already mention. Text columns sort with
// COLLATE BINARY.
func (c *SQLCompiler) stableOrderKey(table Table, order []queryir.Order) (string, error) {
	seen := make(map[string]bool)
	var terms []string

	add := func(o queryir.Order) error {
		if seen[o.Field] {
			return nil
		}
		seen[o.Field] = true
		expr, err := c.fieldExpr(table, o.Field)
		if err != nil {
			return fmt.Errorf("order by: %w", err)
		}
		if table.Integer[o.Field] || strings.Contains(o.Field, ".") {
			expr += " ASC"
		} else {
			expr += " COLLATE BINARY ASC"
		}
		if o.Desc {
			expr = strings.Replace(expr, " ASC", " DESC", 1)
		}
		terms = append(terms, expr)
		return nil
	}

	for _, o := range order {
		if err := add(o); err != nil {
			return "", err
		}
	}
	for _, k := range table.Key {
		if err := add(queryir.Order{Field: k}); err != nil {
			return "", err
		}
	}
	return strings.Join(terms, ", "), nil
}

// fieldExpr maps a field name to a column or a json_extract over a JSON
// column.
func (c *SQLCompiler) fieldExpr(table Table, field string) (string, error) {
	col, path, hasPath := strings.Cut(field, ".")
	if !table.hasColumn(col) {
		return "", fmt.Errorf("unknown column %q on %s", col, table.Name)
	}
	if !hasPath {
		return col, nil
	}
	if !table.JSON[col] {
		return "", fmt.Errorf("column %q on %s is not JSON", col, table.Name)
	}
	// path segments are identifier-checked by queryir.Validate
	return fmt.Sprintf("json_extract(%s, '$.%s')", col, path), nil
}

func (c *SQLCompiler) compilePredicate(table Table, p queryir.Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case queryir.Equals:
		field, err := c.fieldExpr(table, pred.Field)
		if err != nil {
			return "", nil, err
		}
		param, err := valueToParam(pred.Value)
		if err != nil {
			return "", nil, fmt.Errorf("equals %s: %w", pred.Field, err)
		}
		return field + " = ?", []any{param}, nil

	case queryir.In:
		field, err := c.fieldExpr(table, pred.Field)
		if err != nil {
			return "", nil, err
		}
		if len(pred.Values) == 0 {
			return "0 = 1", nil, nil
		}
		params := make([]any, len(pred.Values))
		for i, v := range pred.Values {
			param, err := valueToParam(v)
			if err != nil {
				return "", nil, fmt.Errorf("in %s: %w", pred.Field, err)
			}
			params[i] = param
		}
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(params)), ", ")
		return fmt.Sprintf("%s IN (%s)", field, marks), params, nil

	case queryir.Prefix:
		field, err := c.fieldExpr(table, pred.Field)
		if err != nil {
			return "", nil, err
		}
		// substr keeps the match exact and case-sensitive, unlike LIKE
		return fmt.Sprintf("substr(%s, 1, ?) = ?", field),
			[]any{utf8.RuneCountInString(pred.Value), pred.Value}, nil

	case queryir.IsNull:
		field, err := c.fieldExpr(table, pred.Field)
		if err != nil {
			return "", nil, err
		}
		return field + " IS NULL", nil, nil

	case queryir.And:
		return c.compileJunction(table, pred.Predicates, " AND ", "1 = 1")

	case queryir.Or:
		return c.compileJunction(table, pred.Predicates, " OR ", "0 = 1")

	case queryir.Not:
		inner, params, err := c.compilePredicate(table, pred.Predicate)
		if err != nil {
			return "", nil, err
		}
		return "NOT (" + inner + ")", params, nil

	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func (c *SQLCompiler) compileJunction(table Table, preds []queryir.Predicate, sep, empty string) (string, []any, error) {
	if len(preds) == 0 {
		return empty, nil, nil
	}
	parts := make([]string, 0, len(preds))
	var params []any
	for _, p := range preds {
		sql, ps, err := c.compilePredicate(table, p)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, "("+sql+")")
		params = append(params, ps...)
	}
	return strings.Join(parts, sep), params, nil
}

// valueToParam converts an ir.Value to a database/sql parameter.
// Booleans bind as 0/1 to match the INTEGER flag columns.
func valueToParam(v ir.Value) (any, error) {
	switch val := v.(type) {
	case ir.String:
		return string(val), nil
	case ir.Int:
		return int64(val), nil
	case ir.Bool:
		if val {
			return int64(1), nil
		}
		return int64(0), nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}
