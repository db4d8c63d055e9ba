package policy

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/roach88/hera/internal/ir"
)

// Kind is the type of an expression value.
type Kind int

const (
	KindNumber Kind = iota
	KindString
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	}
	return "unknown"
}

// Value is the result of evaluating an expression.
type Value struct {
	Kind Kind
	Num  decimal.Decimal
	Str  string
	Bool bool
}

func numberValue(d decimal.Decimal) Value { return Value{Kind: KindNumber, Num: d} }
func stringValue(s string) Value          { return Value{Kind: KindString, Str: s} }
func boolValue(b bool) Value              { return Value{Kind: KindBool, Bool: b} }

func (v Value) String() string {
	switch v.Kind {
	case KindNumber:
		return v.Num.String()
	case KindString:
		return fmt.Sprintf("%q", v.Str)
	case KindBool:
		return fmt.Sprintf("%t", v.Bool)
	}
	return "?"
}

// number coerces v to a decimal. Strings are accepted when they parse, so
// payload amounts carried as "115.00" take part in arithmetic.
func (v Value) number() (decimal.Decimal, error) {
	switch v.Kind {
	case KindNumber:
		return v.Num, nil
	case KindString:
		d, err := decimal.NewFromString(v.Str)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%q is not a number", v.Str)
		}
		return d, nil
	}
	return decimal.Zero, fmt.Errorf("%s is not a number", v.Kind)
}

// TaxSplit is the computed result of one tax rule.
type TaxSplit struct {
	Rate  decimal.Decimal
	Net   decimal.Decimal
	Tax   decimal.Decimal
	Gross decimal.Decimal
}

// Env is everything an expression can read.
type Env struct {
	Header  ir.Object
	Payload ir.Object
	Lines   []ir.TransactionLine
	Tax     map[string]TaxSplit
}

// Expr is a compiled expression.
type Expr struct {
	src  string
	root node
}

// String returns the source text.
func (e *Expr) String() string { return e.src }

// Eval evaluates the expression against env.
func (e *Expr) Eval(env *Env) (Value, error) {
	v, err := e.root.eval(env)
	if err != nil {
		return Value{}, fmt.Errorf("eval %q: %w", e.src, err)
	}
	return v, nil
}

// EvalBool evaluates and requires a boolean result.
func (e *Expr) EvalBool(env *Env) (bool, error) {
	v, err := e.Eval(env)
	if err != nil {
		return false, err
	}
	if v.Kind != KindBool {
		return false, fmt.Errorf("eval %q: want bool, got %s", e.src, v.Kind)
	}
	return v.Bool, nil
}

// EvalNumber evaluates and requires a numeric result.
func (e *Expr) EvalNumber(env *Env) (decimal.Decimal, error) {
	v, err := e.Eval(env)
	if err != nil {
		return decimal.Zero, err
	}
	d, err := v.number()
	if err != nil {
		return decimal.Zero, fmt.Errorf("eval %q: %w", e.src, err)
	}
	return d, nil
}

// Compile parses src into an Expr.
//
// Grammar, lowest precedence first:
//
//	or      = and { ("||" | "or") and }
//	and     = not { ("&&" | "and") not }
//	not     = ("!" | "not") not | cmp
//	cmp     = add [ ("==" | "!=" | "<" | "<=" | ">" | ">=") add ]
//	add     = mul { ("+" | "-") mul }
//	mul     = unary { ("*" | "/") unary }
//	unary   = "-" unary | primary
//	primary = number | string | "true" | "false" | call | path | "(" or ")"
//	call    = ident "(" [ or { "," or } ] ")"
//	path    = ident { "." ident }
func Compile(src string) (*Expr, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", src, err)
	}
	p := &parser{toks: toks}
	root, err := p.parseOr()
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", src, err)
	}
	if !p.at(tokEOF) {
		return nil, fmt.Errorf("compile %q: unexpected %q", src, p.peek().text)
	}
	return &Expr{src: src, root: root}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(src string) *Expr {
	e, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return e
}

// --- lexer ---

type tokKind int

const (
	tokEOF tokKind = iota
	tokNum
	tokStr
	tokIdent
	tokOp
)

type token struct {
	kind tokKind
	text string
	pos  int
}

var twoCharOps = []string{"==", "!=", "<=", ">=", "&&", "||"}

func lex(src string) ([]token, error) {
	var toks []token
	rs := []rune(src)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case unicode.IsDigit(r):
			start := i
			for i < len(rs) && (unicode.IsDigit(rs[i]) || rs[i] == '.') {
				i++
			}
			toks = append(toks, token{tokNum, string(rs[start:i]), start})
		case r == '"' || r == '\'':
			start := i
			i++
			var b strings.Builder
			for i < len(rs) && rs[i] != r {
				b.WriteRune(rs[i])
				i++
			}
			if i >= len(rs) {
				return nil, fmt.Errorf("unterminated string at %d", start)
			}
			i++
			toks = append(toks, token{tokStr, b.String(), start})
		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(rs) && (unicode.IsLetter(rs[i]) || unicode.IsDigit(rs[i]) || rs[i] == '_') {
				i++
			}
			toks = append(toks, token{tokIdent, string(rs[start:i]), start})
		default:
			if i+1 < len(rs) {
				pair := string(rs[i : i+2])
				matched := false
				for _, op := range twoCharOps {
					if pair == op {
						toks = append(toks, token{tokOp, pair, i})
						i += 2
						matched = true
						break
					}
				}
				if matched {
					continue
				}
			}
			if strings.ContainsRune("+-*/()<>!,.", r) {
				toks = append(toks, token{tokOp, string(r), i})
				i++
				continue
			}
			return nil, fmt.Errorf("unexpected character %q at %d", r, i)
		}
	}
	toks = append(toks, token{tokEOF, "", len(rs)})
	return toks, nil
}

// --- parser ---

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) at(k tokKind) bool { return p.peek().kind == k }

// accept consumes the next token if it is an operator or keyword in texts.
func (p *parser) accept(texts ...string) (string, bool) {
	t := p.peek()
	if t.kind != tokOp && t.kind != tokIdent {
		return "", false
	}
	for _, s := range texts {
		if t.text == s {
			p.next()
			return s, true
		}
	}
	return "", false
}

func (p *parser) expect(text string) error {
	if _, ok := p.accept(text); !ok {
		return fmt.Errorf("expected %q at %d, got %q", text, p.peek().pos, p.peek().text)
	}
	return nil
}

func (p *parser) parseOr() (node, error) {
	l, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.accept("||", "or"); !ok {
			return l, nil
		}
		r, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		l = logicalOp{op: "||", l: l, r: r}
	}
}

func (p *parser) parseAnd() (node, error) {
	l, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.accept("&&", "and"); !ok {
			return l, nil
		}
		r, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		l = logicalOp{op: "&&", l: l, r: r}
	}
}

func (p *parser) parseNot() (node, error) {
	if _, ok := p.accept("!", "not"); ok {
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return notOp{x: x}, nil
	}
	return p.parseCmp()
}

func (p *parser) parseCmp() (node, error) {
	l, err := p.parseAdd()
	if err != nil {
		return nil, err
	}
	if op, ok := p.accept("==", "!=", "<=", ">=", "<", ">"); ok {
		r, err := p.parseAdd()
		if err != nil {
			return nil, err
		}
		return compareOp{op: op, l: l, r: r}, nil
	}
	return l, nil
}

func (p *parser) parseAdd() (node, error) {
	l, err := p.parseMul()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.accept("+", "-")
		if !ok {
			return l, nil
		}
		r, err := p.parseMul()
		if err != nil {
			return nil, err
		}
		l = arithOp{op: op, l: l, r: r}
	}
}

func (p *parser) parseMul() (node, error) {
	l, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.accept("*", "/")
		if !ok {
			return l, nil
		}
		r, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		l = arithOp{op: op, l: l, r: r}
	}
}

func (p *parser) parseUnary() (node, error) {
	if _, ok := p.accept("-"); ok {
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return negOp{x: x}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNum:
		d, err := decimal.NewFromString(t.text)
		if err != nil {
			return nil, fmt.Errorf("bad number %q at %d", t.text, t.pos)
		}
		return literal{v: numberValue(d)}, nil
	case tokStr:
		return literal{v: stringValue(t.text)}, nil
	case tokIdent:
		switch t.text {
		case "true":
			return literal{v: boolValue(true)}, nil
		case "false":
			return literal{v: boolValue(false)}, nil
		}
		if _, ok := p.accept("("); ok {
			return p.parseCall(t)
		}
		path := []string{t.text}
		for {
			if _, ok := p.accept("."); !ok {
				break
			}
			seg := p.next()
			if seg.kind != tokIdent {
				return nil, fmt.Errorf("expected field name after '.' at %d", seg.pos)
			}
			path = append(path, seg.text)
		}
		return pathRef{path: path}, nil
	case tokOp:
		if t.text == "(" {
			x, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			return x, nil
		}
	}
	if t.kind == tokEOF {
		return nil, fmt.Errorf("unexpected end of expression")
	}
	return nil, fmt.Errorf("unexpected %q at %d", t.text, t.pos)
}

func (p *parser) parseCall(name token) (node, error) {
	var args []node
	if _, ok := p.accept(")"); !ok {
		for {
			a, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			args = append(args, a)
			if _, ok := p.accept(","); ok {
				continue
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			break
		}
	}
	return newCall(name.text, args)
}
