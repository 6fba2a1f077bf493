package formula

import (
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/clearstage/enhance/internal/model"
)

// Expr is a parsed arithmetic expression over field references, evaluated
// in fixed-point decimal so tolerance checks are exact.
type Expr interface {
	// Eval computes the expression. A missing operand returns
	// ErrMissingOperand; this degrades the record's check, it is not a
	// configuration error.
	Eval(fields map[string]decimal.Decimal) (decimal.Decimal, error)
	// Refs returns the distinct field names the expression reads.
	Refs() []string
}

// ErrMissingOperand marks evaluation against a record lacking a referenced
// field.
var ErrMissingOperand = eris.New("missing operand")

// ErrDivisionByZero marks a division whose declared divisor is zero.
var ErrDivisionByZero = eris.New("division by zero")

type literal struct{ v decimal.Decimal }

func (l literal) Eval(map[string]decimal.Decimal) (decimal.Decimal, error) { return l.v, nil }
func (l literal) Refs() []string                                           { return nil }

type fieldRef struct{ name string }

func (f fieldRef) Eval(fields map[string]decimal.Decimal) (decimal.Decimal, error) {
	v, ok := fields[f.name]
	if !ok {
		return decimal.Zero, eris.Wrapf(ErrMissingOperand, "field %q", f.name)
	}
	return v, nil
}
func (f fieldRef) Refs() []string { return []string{f.name} }

type binary struct {
	op          byte
	left, right Expr
}

func (b binary) Eval(fields map[string]decimal.Decimal) (decimal.Decimal, error) {
	l, err := b.left.Eval(fields)
	if err != nil {
		return decimal.Zero, err
	}
	r, err := b.right.Eval(fields)
	if err != nil {
		return decimal.Zero, err
	}
	switch b.op {
	case '+':
		return l.Add(r), nil
	case '-':
		return l.Sub(r), nil
	case '*':
		return l.Mul(r), nil
	default:
		if r.IsZero() {
			return decimal.Zero, ErrDivisionByZero
		}
		return l.Div(r), nil
	}
}

func (b binary) Refs() []string {
	seen := make(map[string]bool)
	var refs []string
	for _, r := range append(b.left.Refs(), b.right.Refs()...) {
		if !seen[r] {
			seen[r] = true
			refs = append(refs, r)
		}
	}
	return refs
}

type negate struct{ inner Expr }

func (n negate) Eval(fields map[string]decimal.Decimal) (decimal.Decimal, error) {
	v, err := n.inner.Eval(fields)
	if err != nil {
		return decimal.Zero, err
	}
	return v.Neg(), nil
}
func (n negate) Refs() []string { return n.inner.Refs() }

// Parse compiles an expression like "quantity * unit_price - discount".
// A malformed expression is a configuration error.
func Parse(input string) (Expr, error) {
	p := &parser{input: input}
	expr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return nil, eris.Wrapf(model.ErrConfiguration, "formula: unexpected %q at offset %d", p.input[p.pos:], p.pos)
	}
	return expr, nil
}

type parser struct {
	input string
	pos   int
}

func (p *parser) skipSpace() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t') {
		p.pos++
	}
}

func (p *parser) peek() byte {
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

// parseExpr handles + and - at the lowest precedence.
func (p *parser) parseExpr() (Expr, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		p.skipSpace()
		op := p.peek()
		if op != '+' && op != '-' {
			return left, nil
		}
		p.pos++
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = binary{op: op, left: left, right: right}
	}
}

// parseTerm handles * and /.
func (p *parser) parseTerm() (Expr, error) {
	left, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	for {
		p.skipSpace()
		op := p.peek()
		if op != '*' && op != '/' {
			return left, nil
		}
		p.pos++
		right, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		left = binary{op: op, left: left, right: right}
	}
}

// parseFactor handles literals, field references, parens and unary minus.
func (p *parser) parseFactor() (Expr, error) {
	p.skipSpace()
	switch c := p.peek(); {
	case c == 0:
		return nil, eris.Wrap(model.ErrConfiguration, "formula: unexpected end of expression")
	case c == '(':
		p.pos++
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if p.peek() != ')' {
			return nil, eris.Wrapf(model.ErrConfiguration, "formula: missing ')' at offset %d", p.pos)
		}
		p.pos++
		return inner, nil
	case c == '-':
		p.pos++
		inner, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		return negate{inner: inner}, nil
	case c >= '0' && c <= '9':
		return p.parseNumber()
	case isIdentStart(rune(c)):
		return p.parseIdent()
	default:
		return nil, eris.Wrapf(model.ErrConfiguration, "formula: unexpected %q at offset %d", string(c), p.pos)
	}
}

func (p *parser) parseNumber() (Expr, error) {
	start := p.pos
	for p.pos < len(p.input) && (isDigit(p.input[p.pos]) || p.input[p.pos] == '.') {
		p.pos++
	}
	v, err := decimal.NewFromString(p.input[start:p.pos])
	if err != nil {
		return nil, eris.Wrapf(model.ErrConfiguration, "formula: bad number %q", p.input[start:p.pos])
	}
	return literal{v: v}, nil
}

func (p *parser) parseIdent() (Expr, error) {
	start := p.pos
	for p.pos < len(p.input) {
		r := rune(p.input[p.pos])
		if !isIdentStart(r) && !isDigit(p.input[p.pos]) {
			break
		}
		p.pos++
	}
	return fieldRef{name: strings.ToLower(p.input[start:p.pos])}, nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}
