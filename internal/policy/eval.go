package policy

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/roach88/hera/internal/ir"
)

type node interface {
	eval(env *Env) (Value, error)
}

type literal struct{ v Value }

func (n literal) eval(*Env) (Value, error) { return n.v, nil }

// pathRef reads header.*, payload.* or tax.<CODE>.<part>.
type pathRef struct{ path []string }

func (n pathRef) eval(env *Env) (Value, error) {
	v, ok, err := resolvePath(env, n.path)
	if err != nil {
		return Value{}, err
	}
	if !ok {
		return Value{}, fmt.Errorf("unknown field %s", strings.Join(n.path, "."))
	}
	return v, nil
}

func resolvePath(env *Env, path []string) (Value, bool, error) {
	root, rest := path[0], path[1:]
	switch root {
	case "header", "payload":
		if len(rest) == 0 {
			return Value{}, false, fmt.Errorf("%s needs a field name", root)
		}
		obj := env.Header
		if root == "payload" {
			obj = env.Payload
		}
		raw, ok := obj.Lookup(strings.Join(rest, "."))
		if !ok {
			return Value{}, false, nil
		}
		v, err := fromIR(raw)
		if err != nil {
			return Value{}, false, fmt.Errorf("%s: %w", strings.Join(path, "."), err)
		}
		return v, true, nil

	case "tax":
		if len(rest) == 0 || len(rest) > 2 {
			return Value{}, false, fmt.Errorf("tax reference must be tax.<CODE>.<net|tax|gross|rate>")
		}
		split, ok := env.Tax[rest[0]]
		if !ok {
			return Value{}, false, nil
		}
		if len(rest) == 1 {
			// bare tax.<CODE> is only meaningful to exists()
			return boolValue(true), true, nil
		}
		switch rest[1] {
		case "net":
			return numberValue(split.Net), true, nil
		case "tax":
			return numberValue(split.Tax), true, nil
		case "gross":
			return numberValue(split.Gross), true, nil
		case "rate":
			return numberValue(split.Rate), true, nil
		}
		return Value{}, false, fmt.Errorf("unknown tax part %q", rest[1])
	}
	return Value{}, false, fmt.Errorf("unknown root %q (want header, payload or tax)", root)
}

func fromIR(v ir.Value) (Value, error) {
	switch val := v.(type) {
	case ir.String:
		return stringValue(string(val)), nil
	case ir.Int:
		return numberValue(decimal.NewFromInt(int64(val))), nil
	case ir.Bool:
		return boolValue(bool(val)), nil
	}
	return Value{}, fmt.Errorf("not a scalar (%T)", v)
}

type negOp struct{ x node }

func (n negOp) eval(env *Env) (Value, error) {
	v, err := n.x.eval(env)
	if err != nil {
		return Value{}, err
	}
	d, err := v.number()
	if err != nil {
		return Value{}, err
	}
	return numberValue(d.Neg()), nil
}

type notOp struct{ x node }

func (n notOp) eval(env *Env) (Value, error) {
	v, err := n.x.eval(env)
	if err != nil {
		return Value{}, err
	}
	if v.Kind != KindBool {
		return Value{}, fmt.Errorf("! needs bool, got %s", v.Kind)
	}
	return boolValue(!v.Bool), nil
}

// logicalOp short-circuits.
type logicalOp struct {
	op   string
	l, r node
}

func (n logicalOp) eval(env *Env) (Value, error) {
	l, err := n.l.eval(env)
	if err != nil {
		return Value{}, err
	}
	if l.Kind != KindBool {
		return Value{}, fmt.Errorf("%s needs bool operands, got %s", n.op, l.Kind)
	}
	if n.op == "&&" && !l.Bool {
		return boolValue(false), nil
	}
	if n.op == "||" && l.Bool {
		return boolValue(true), nil
	}
	r, err := n.r.eval(env)
	if err != nil {
		return Value{}, err
	}
	if r.Kind != KindBool {
		return Value{}, fmt.Errorf("%s needs bool operands, got %s", n.op, r.Kind)
	}
	return boolValue(r.Bool), nil
}

type arithOp struct {
	op   string
	l, r node
}

func (n arithOp) eval(env *Env) (Value, error) {
	a, b, err := evalNumbers(env, n.l, n.r)
	if err != nil {
		return Value{}, err
	}
	switch n.op {
	case "+":
		return numberValue(a.Add(b)), nil
	case "-":
		return numberValue(a.Sub(b)), nil
	case "*":
		return numberValue(a.Mul(b)), nil
	case "/":
		if b.IsZero() {
			return Value{}, fmt.Errorf("division by zero")
		}
		return numberValue(a.Div(b)), nil
	}
	return Value{}, fmt.Errorf("unknown operator %q", n.op)
}

func evalNumbers(env *Env, l, r node) (decimal.Decimal, decimal.Decimal, error) {
	lv, err := l.eval(env)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	rv, err := r.eval(env)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	a, err := lv.number()
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	b, err := rv.number()
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return a, b, nil
}

// compareOp compares numerically unless both sides are strings (string
// equality) or both are bools (== and != only).
type compareOp struct {
	op   string
	l, r node
}

func (n compareOp) eval(env *Env) (Value, error) {
	lv, err := n.l.eval(env)
	if err != nil {
		return Value{}, err
	}
	rv, err := n.r.eval(env)
	if err != nil {
		return Value{}, err
	}

	equality := n.op == "==" || n.op == "!="
	switch {
	case lv.Kind == KindBool || rv.Kind == KindBool:
		if lv.Kind != rv.Kind || !equality {
			return Value{}, fmt.Errorf("cannot compare %s %s %s", lv.Kind, n.op, rv.Kind)
		}
		return boolValue((lv.Bool == rv.Bool) == (n.op == "==")), nil

	case lv.Kind == KindString && rv.Kind == KindString && equality:
		return boolValue((lv.Str == rv.Str) == (n.op == "==")), nil
	}

	a, err := lv.number()
	if err != nil {
		return Value{}, err
	}
	b, err := rv.number()
	if err != nil {
		return Value{}, err
	}
	c := a.Cmp(b)
	var out bool
	switch n.op {
	case "==":
		out = c == 0
	case "!=":
		out = c != 0
	case "<":
		out = c < 0
	case "<=":
		out = c <= 0
	case ">":
		out = c > 0
	case ">=":
		out = c >= 0
	}
	return boolValue(out), nil
}

// builtin functions

type callNode struct {
	fn   string
	args []node
	// set for sum/count: which lines to fold over
	lineSet string
	// set for exists
	path []string
}

var lineSets = map[string]bool{"DR": true, "CR": true, "lines": true}

// maxRoundPlaces bounds round(x, n). Currency precision tops out at 8.
const maxRoundPlaces = 18

func newCall(fn string, args []node) (node, error) {
	c := callNode{fn: fn, args: args}
	arity := func(n int) error {
		if len(args) != n {
			return fmt.Errorf("%s takes %d argument(s), got %d", fn, n, len(args))
		}
		return nil
	}

	switch fn {
	case "sum", "count":
		if err := arity(1); err != nil {
			return nil, err
		}
		ref, ok := args[0].(pathRef)
		if !ok || len(ref.path) != 1 || !lineSets[ref.path[0]] {
			return nil, fmt.Errorf("%s takes DR, CR or lines", fn)
		}
		c.lineSet = ref.path[0]
	case "exists":
		if err := arity(1); err != nil {
			return nil, err
		}
		ref, ok := args[0].(pathRef)
		if !ok {
			return nil, fmt.Errorf("exists takes a field path")
		}
		c.path = ref.path
	case "round":
		if err := arity(2); err != nil {
			return nil, err
		}
	case "abs":
		if err := arity(1); err != nil {
			return nil, err
		}
	case "min", "max":
		if err := arity(2); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown function %q", fn)
	}
	return c, nil
}

func (c callNode) eval(env *Env) (Value, error) {
	switch c.fn {
	case "sum":
		total := decimal.Zero
		for _, l := range c.lines(env) {
			total = total.Add(l.LineAmount)
		}
		return numberValue(total), nil

	case "count":
		return numberValue(decimal.NewFromInt(int64(len(c.lines(env))))), nil

	case "exists":
		_, ok, err := resolvePath(env, c.path)
		if err != nil {
			return Value{}, err
		}
		return boolValue(ok), nil

	case "round":
		x, places, err := evalNumbers(env, c.args[0], c.args[1])
		if err != nil {
			return Value{}, err
		}
		if !places.IsInteger() || places.LessThan(decimal.Zero) || places.GreaterThan(decimal.NewFromInt(maxRoundPlaces)) {
			return Value{}, fmt.Errorf("round places must be an integer in 0..%d, got %s", maxRoundPlaces, places)
		}
		return numberValue(x.Round(int32(places.IntPart()))), nil

	case "abs":
		v, err := c.args[0].eval(env)
		if err != nil {
			return Value{}, err
		}
		d, err := v.number()
		if err != nil {
			return Value{}, err
		}
		return numberValue(d.Abs()), nil

	case "min", "max":
		a, b, err := evalNumbers(env, c.args[0], c.args[1])
		if err != nil {
			return Value{}, err
		}
		if (c.fn == "min") == (a.Cmp(b) <= 0) {
			return numberValue(a), nil
		}
		return numberValue(b), nil
	}
	return Value{}, fmt.Errorf("unknown function %q", c.fn)
}

func (c callNode) lines(env *Env) []ir.TransactionLine {
	if c.lineSet == "lines" {
		return env.Lines
	}
	var out []ir.TransactionLine
	for _, l := range env.Lines {
		if string(l.Side) == c.lineSet {
			out = append(out, l)
		}
	}
	return out
}
