package queryir

import "github.com/roach88/hera/internal/ir"

// Query is a sealed interface; only types in this package implement it.
type Query interface {
	queryNode()
}

// Predicate is a sealed filter condition.
type Predicate interface {
	predicateNode()
}

// Select reads rows of one table.
//
//	SELECT <columns> FROM <from> WHERE <filter> ORDER BY <order..., stable key> LIMIT <limit>
//
// Columns empty means every column of the table in schema order. The
// compiler always appends the table's stable key to OrderBy so results are
// deterministic.
type Select struct {
	From    string
	Filter  Predicate
	Columns []string
	OrderBy []Order
	Limit   int
}

func (Select) queryNode() {}

// Order is one ORDER BY term.
type Order struct {
	Field string
	Desc  bool
}

// Equals is field = value.
type Equals struct {
	Field string
	Value ir.Value
}

func (Equals) predicateNode() {}

// In is field IN (values...). An empty list matches nothing.
type In struct {
	Field  string
	Values []ir.Value
}

func (In) predicateNode() {}

// Prefix is field LIKE 'value%' with the value escaped.
type Prefix struct {
	Field string
	Value string
}

func (Prefix) predicateNode() {}

// IsNull is field IS NULL.
type IsNull struct {
	Field string
}

func (IsNull) predicateNode() {}

// And holds when every predicate holds. Empty And is true.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Or holds when any predicate holds. Empty Or is false.
type Or struct {
	Predicates []Predicate
}

func (Or) predicateNode() {}

// Not negates a predicate.
type Not struct {
	Predicate Predicate
}

func (Not) predicateNode() {}

// Strings wraps values for In.
func Strings(values ...string) []ir.Value {
	out := make([]ir.Value, len(values))
	for i, v := range values {
		out[i] = ir.String(v)
	}
	return out
}

// AndOf builds an And, dropping nil predicates. A single survivor is
// returned unwrapped.
func AndOf(preds ...Predicate) Predicate {
	var kept []Predicate
	for _, p := range preds {
		if p != nil {
			kept = append(kept, p)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	}
	return And{Predicates: kept}
}
