package filter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/beetlebugorg/mitab/pkg/feature"
)

// SyntaxError describes an expression that could not be compiled. Pos is the
// byte offset of the offending token.
type SyntaxError struct {
	Expr string
	Pos  int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("filter %q: %s at offset %d", e.Expr, e.Msg, e.Pos)
}

type tokKind int

const (
	tEOF tokKind = iota
	tIdent
	tString
	tNumber
	tOp
	tLParen
	tRParen
	tComma
)

type token struct {
	kind tokKind
	text string
	pos  int
}

func tokenize(src string) ([]token, error) {
	var toks []token
	operandBefore := func() bool {
		if len(toks) == 0 {
			return false
		}
		k := toks[len(toks)-1].kind
		return k == tIdent || k == tString || k == tNumber || k == tRParen
	}

	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		case c == '(':
			toks = append(toks, token{tLParen, "(", i})
			i++
		case c == ')':
			toks = append(toks, token{tRParen, ")", i})
			i++
		case c == ',':
			toks = append(toks, token{tComma, ",", i})
			i++

		case c == '\'' || c == '"':
			start := i
			var b strings.Builder
			i++
			closed := false
			for i < len(src) {
				ch := src[i]
				if ch == '\\' && i+1 < len(src) {
					b.WriteByte(src[i+1])
					i += 2
					continue
				}
				if ch == c {
					closed = true
					i++
					break
				}
				b.WriteByte(ch)
				i++
			}
			if !closed {
				return nil, &SyntaxError{Expr: src, Pos: start, Msg: "unterminated string literal"}
			}
			toks = append(toks, token{tString, b.String(), start})

		case isDigit(c) || (c == '.' && i+1 < len(src) && isDigit(src[i+1])) ||
			((c == '-' || c == '+') && !operandBefore() && i+1 < len(src) && (isDigit(src[i+1]) || src[i+1] == '.')):
			start := i
			i++
			for i < len(src) {
				ch := src[i]
				if isDigit(ch) || ch == '.' {
					i++
				} else if (ch == 'e' || ch == 'E') && i+1 < len(src) {
					i++
					if src[i] == '-' || src[i] == '+' {
						i++
					}
				} else {
					break
				}
			}
			toks = append(toks, token{tNumber, src[start:i], start})

		case isIdentStart(c):
			start := i
			for i < len(src) && isIdentPart(src[i]) {
				i++
			}
			toks = append(toks, token{tIdent, src[start:i], start})

		case strings.ContainsRune("=<>!", rune(c)):
			start := i
			op := string(c)
			if i+1 < len(src) {
				two := src[i : i+2]
				if two == "<>" || two == "!=" || two == "<=" || two == ">=" || two == "==" {
					op = two
				}
			}
			if op == "!" {
				return nil, &SyntaxError{Expr: src, Pos: start, Msg: "unexpected '!'"}
			}
			i += len(op)
			toks = append(toks, token{tOp, op, start})

		default:
			return nil, &SyntaxError{Expr: src, Pos: i, Msg: fmt.Sprintf("unexpected character %q", c)}
		}
	}
	toks = append(toks, token{tEOF, "", len(src)})
	return toks, nil
}

func isDigit(c byte) bool      { return c >= '0' && c <= '9' }
func isIdentStart(c byte) bool { return c == '_' || (c|0x20 >= 'a' && c|0x20 <= 'z') }
func isIdentPart(c byte) bool  { return isIdentStart(c) || isDigit(c) || c == '.' }

// Compile parses text and resolves field names against defn. Field names
// match case-insensitively and may name special fields such as FID.
func Compile(text string, defn *feature.LayerDefn) (*Expr, error) {
	toks, err := tokenize(text)
	if err != nil {
		return nil, err
	}
	p := &parser{src: text, toks: toks, defn: defn}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tEOF {
		return nil, p.errorf("unexpected %q", p.peek().text)
	}
	return &Expr{text: text, root: root}, nil
}

type parser struct {
	src  string
	toks []token
	pos  int
	defn *feature.LayerDefn
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tEOF {
		p.pos++
	}
	return t
}

func (p *parser) errorf(format string, args ...any) error {
	return &SyntaxError{Expr: p.src, Pos: p.peek().pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) keyword(kw string) bool {
	t := p.peek()
	if t.kind == tIdent && strings.EqualFold(t.text, kw) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	children := []Node{left}
	for p.keyword("OR") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		children = append(children, right)
	}
	if len(children) == 1 {
		return left, nil
	}
	return &Logical{And: false, Children: children}, nil
}

func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	children := []Node{left}
	for p.keyword("AND") {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		children = append(children, right)
	}
	if len(children) == 1 {
		return left, nil
	}
	return &Logical{And: true, Children: children}, nil
}

func (p *parser) parseNot() (Node, error) {
	if p.keyword("NOT") {
		child, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &Not{Child: child}, nil
	}
	return p.parsePredicate()
}

func (p *parser) parsePredicate() (Node, error) {
	if p.peek().kind == tLParen {
		p.next()
		n, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tRParen {
			return nil, p.errorf("expected ')'")
		}
		p.next()
		return n, nil
	}

	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	if p.keyword("IS") {
		negate := p.keyword("NOT")
		if !p.keyword("NULL") {
			return nil, p.errorf("expected NULL")
		}
		if !left.isField() {
			return nil, p.errorf("IS NULL requires a field")
		}
		return &NullTest{Field: left.Field, Negate: negate}, nil
	}

	negate := p.keyword("NOT")
	switch {
	case p.keyword("IN"):
		return p.parseIn(left, negate)
	case p.keyword("LIKE"):
		if !left.isField() {
			return nil, p.errorf("LIKE requires a field")
		}
		t := p.next()
		if t.kind != tString {
			return nil, p.errorf("LIKE requires a string pattern")
		}
		return newLike(left.Field, t.text, negate), nil
	case negate:
		return nil, p.errorf("expected IN or LIKE after NOT")
	}

	t := p.next()
	if t.kind != tOp {
		return nil, p.errorf("expected comparison operator")
	}
	op := map[string]Operator{
		"=": OpEq, "==": OpEq, "<>": OpNe, "!=": OpNe,
		"<": OpLt, "<=": OpLe, ">": OpGt, ">=": OpGe,
	}[t.text]

	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	if err := p.coerce(&left, &right); err != nil {
		return nil, err
	}
	if err := p.coerce(&right, &left); err != nil {
		return nil, err
	}
	return &Comparison{Left: left, Op: op, Right: right}, nil
}

func (p *parser) parseIn(left Operand, negate bool) (Node, error) {
	if !left.isField() {
		return nil, p.errorf("IN requires a field")
	}
	if p.peek().kind != tLParen {
		return nil, p.errorf("expected '(' after IN")
	}
	p.next()

	n := &InList{Field: left.Field, Negate: negate}
	for {
		v, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		if v.isField() {
			return nil, p.errorf("IN list accepts literals only")
		}
		if err := p.coerce(&left, &v); err != nil {
			return nil, err
		}
		n.Values = append(n.Values, v.Value)

		t := p.next()
		if t.kind == tRParen {
			return n, nil
		}
		if t.kind != tComma {
			return nil, p.errorf("expected ',' or ')' in IN list")
		}
	}
}

func (p *parser) parseOperand() (Operand, error) {
	t := p.peek()
	switch t.kind {
	case tIdent:
		switch strings.ToUpper(t.text) {
		case "AND", "OR", "NOT", "IS", "NULL", "IN", "LIKE":
			return Operand{}, p.errorf("unexpected keyword %s", t.text)
		}
		idx := p.defn.FieldIndex(t.text)
		if idx < 0 {
			return Operand{}, p.errorf("unknown field %q", t.text)
		}
		if p.defn.FieldOrSpecial(idx).Type.IsList() {
			return Operand{}, p.errorf("field %q has list type", t.text)
		}
		p.next()
		return Operand{Field: idx}, nil

	case tString:
		p.next()
		return Operand{Field: -1, Value: feature.StringValue(t.text)}, nil

	case tNumber:
		p.next()
		if n, err := strconv.ParseInt(t.text, 10, 64); err == nil {
			return Operand{Field: -1, Value: feature.IntegerValue(n)}, nil
		}
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return Operand{}, &SyntaxError{Expr: p.src, Pos: t.pos, Msg: fmt.Sprintf("bad number %q", t.text)}
		}
		return Operand{Field: -1, Value: feature.RealValue(f)}, nil
	}
	return Operand{}, p.errorf("expected field or literal")
}

// coerce converts the literal lit to the type of the field fld, when fld is
// a field and lit is a literal.
func (p *parser) coerce(fld, lit *Operand) error {
	if !fld.isField() || lit.isField() {
		return nil
	}
	ft := p.defn.FieldOrSpecial(fld.Field).Type
	switch ft {
	case feature.FieldTypeInteger, feature.FieldTypeReal:
		if lit.Value.Type() != feature.FieldTypeString {
			return nil
		}
		s := strings.TrimSpace(lit.Value.String())
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			lit.Value = feature.IntegerValue(n)
			return nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			lit.Value = feature.RealValue(f)
			return nil
		}
		return p.errorf("type mismatch: %q is not a number", s)
	case feature.FieldTypeString:
		lit.Value = lit.Value.Convert(feature.FieldTypeString)
	}
	return nil
}
