// Package filter implements attribute filter expressions over features:
// comparisons, IS [NOT] NULL, [NOT] IN, [NOT] LIKE, combined with AND, OR
// and NOT. Expressions are compiled against a layer schema, so field names
// resolve once and evaluation never looks names up.
//
// String literals may be single or double quoted; a backslash escapes the
// following character. Comparisons against an unset field are false.
package filter

import (
	"regexp"
	"strings"

	"github.com/beetlebugorg/mitab/pkg/feature"
)

// Operator is a comparison operator.
type Operator int

const (
	OpEq Operator = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
)

func (o Operator) String() string {
	switch o {
	case OpEq:
		return "="
	case OpNe:
		return "<>"
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	case OpGt:
		return ">"
	case OpGe:
		return ">="
	}
	return "?"
}

func (o Operator) holds(cmp int) bool {
	switch o {
	case OpEq:
		return cmp == 0
	case OpNe:
		return cmp != 0
	case OpLt:
		return cmp < 0
	case OpLe:
		return cmp <= 0
	case OpGt:
		return cmp > 0
	case OpGe:
		return cmp >= 0
	}
	return false
}

// Node is one node of a compiled expression.
type Node interface {
	Matches(f *feature.Feature) bool
}

// Operand is either a field reference (Field >= 0) or a literal value.
type Operand struct {
	Field int
	Value feature.Value
}

func (o Operand) isField() bool { return o.Field >= 0 }

func (o Operand) eval(f *feature.Feature) feature.Value {
	if o.isField() {
		return f.FieldOrSpecial(o.Field)
	}
	return o.Value
}

// Comparison compares two operands.
type Comparison struct {
	Left  Operand
	Op    Operator
	Right Operand
}

func (n *Comparison) Matches(f *feature.Feature) bool {
	l, r := n.Left.eval(f), n.Right.eval(f)
	if !l.IsSet() || !r.IsSet() {
		return false
	}
	return n.Op.holds(feature.Compare(l, r))
}

// NullTest is "field IS [NOT] NULL".
type NullTest struct {
	Field  int
	Negate bool
}

func (n *NullTest) Matches(f *feature.Feature) bool {
	return f.FieldOrSpecial(n.Field).IsSet() == n.Negate
}

// InList is "field [NOT] IN (v, ...)".
type InList struct {
	Field  int
	Values []feature.Value
	Negate bool
}

func (n *InList) Matches(f *feature.Feature) bool {
	v := f.FieldOrSpecial(n.Field)
	if !v.IsSet() {
		return false
	}
	for _, c := range n.Values {
		if feature.Compare(v, c) == 0 {
			return !n.Negate
		}
	}
	return n.Negate
}

// Like is "field [NOT] LIKE 'pattern'" with % and _ wildcards, matched
// case-insensitively.
type Like struct {
	Field   int
	Pattern string
	Negate  bool
	re      *regexp.Regexp
}

func newLike(field int, pattern string, negate bool) *Like {
	var b strings.Builder
	b.WriteString("(?is)^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return &Like{Field: field, Pattern: pattern, Negate: negate, re: regexp.MustCompile(b.String())}
}

func (n *Like) Matches(f *feature.Feature) bool {
	v := f.FieldOrSpecial(n.Field)
	if !v.IsSet() {
		return false
	}
	return n.re.MatchString(v.String()) != n.Negate
}

// Logical combines children with AND or OR.
type Logical struct {
	And      bool
	Children []Node
}

func (n *Logical) Matches(f *feature.Feature) bool {
	for _, c := range n.Children {
		if c.Matches(f) != n.And {
			return !n.And
		}
	}
	return n.And
}

// Not negates its child.
type Not struct {
	Child Node
}

func (n *Not) Matches(f *feature.Feature) bool {
	return !n.Child.Matches(f)
}

// Expr is a compiled filter expression.
type Expr struct {
	text string
	root Node
}

// Text returns the source text the expression was compiled from.
func (e *Expr) Text() string { return e.text }

// Matches evaluates the expression against f.
func (e *Expr) Matches(f *feature.Feature) bool {
	return e.root.Matches(f)
}

// Equality is a "field = literal" condition.
type Equality struct {
	Field int
	Value feature.Value
}

// Equalities returns the "field = literal" conditions that must all hold for
// the expression to match: the root comparison itself, or the equality
// conjuncts of a top-level AND chain. Layers use them to narrow a scan
// through an attribute index before evaluating the full expression.
func (e *Expr) Equalities() []Equality {
	var out []Equality
	collectEqualities(e.root, &out)
	return out
}

func collectEqualities(n Node, out *[]Equality) {
	switch n := n.(type) {
	case *Logical:
		if n.And {
			for _, c := range n.Children {
				collectEqualities(c, out)
			}
		}
	case *Comparison:
		if n.Op != OpEq {
			return
		}
		switch {
		case n.Left.isField() && !n.Right.isField():
			*out = append(*out, Equality{Field: n.Left.Field, Value: n.Right.Value})
		case n.Right.isField() && !n.Left.isField():
			*out = append(*out, Equality{Field: n.Right.Field, Value: n.Left.Value})
		}
	}
}
