package queryir

import (
	"fmt"
	"regexp"
)

// fieldPattern accepts a column name optionally followed by a JSON path of
// identifier segments.
var fieldPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// ValidationResult lists structural problems found in a query.
type ValidationResult struct {
	Valid    bool
	Problems []string
}

// Validate checks a query's shape without knowing any table schema:
// non-empty source, well-formed field names, no nil children, no negative
// limit. Column allow-lists are checked by the compiler.
//
// Validate is a pure function with no side effects.
func Validate(query Query) ValidationResult {
	v := &validator{problems: []string{}}
	v.validateQuery(query)
	return ValidationResult{
		Valid:    len(v.problems) == 0,
		Problems: v.problems,
	}
}

type validator struct {
	problems []string
}

func (v *validator) addProblem(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) validateQuery(q Query) {
	switch query := q.(type) {
	case nil:
		v.addProblem("nil query")
	case Select:
		v.validateSelect(query)
	case *Select:
		v.validateSelect(*query)
	default:
		v.addProblem("unknown query type %T", q)
	}
}

func (v *validator) validateSelect(sel Select) {
	if sel.From == "" {
		v.addProblem("select: empty source table")
	}
	if sel.Limit < 0 {
		v.addProblem("select: negative limit %d", sel.Limit)
	}
	for _, c := range sel.Columns {
		v.checkField(c)
	}
	for _, o := range sel.OrderBy {
		v.checkField(o.Field)
	}
	if sel.Filter != nil {
		v.validatePredicate(sel.Filter)
	}
}

func (v *validator) validatePredicate(p Predicate) {
	switch pred := p.(type) {
	case nil:
		v.addProblem("nil predicate")
	case Equals:
		v.checkField(pred.Field)
		if pred.Value == nil {
			v.addProblem("equals %s: nil value, use IsNull", pred.Field)
		}
	case In:
		v.checkField(pred.Field)
		for i, val := range pred.Values {
			if val == nil {
				v.addProblem("in %s: nil value at %d", pred.Field, i)
			}
		}
	case Prefix:
		v.checkField(pred.Field)
	case IsNull:
		v.checkField(pred.Field)
	case And:
		for _, child := range pred.Predicates {
			v.validatePredicate(child)
		}
	case Or:
		for _, child := range pred.Predicates {
			v.validatePredicate(child)
		}
	case Not:
		v.validatePredicate(pred.Predicate)
	default:
		v.addProblem("unknown predicate type %T", p)
	}
}

func (v *validator) checkField(field string) {
	if !fieldPattern.MatchString(field) {
		v.addProblem("invalid field name %q", field)
	}
}
