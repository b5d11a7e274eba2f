// Package path parses rule path expressions into a resource type, a list of
// scope selectors and a navigable structural suffix.
//
// Accepted forms:
//
//	Patient.name[1].family
//	Patient[gender='male' and active=true].name.family
//	Observation.where(code.coding.code='8480-6').valueQuantity.value
//
// Selectors identify which instances of the resource type a statement is
// about. They never appear in the structural suffix.
package path

import (
	"strconv"
	"strings"
)

// NoIndex marks a segment without an explicit array index.
const NoIndex = -1

// Segment is one step of the structural suffix. A Choice segment
// ("value[x]") stands for whichever typed variant of Name is present.
type Segment struct {
	Name   string
	Index  int
	Choice bool
}

// HasIndex reports whether the segment carries an explicit array index.
func (s Segment) HasIndex() bool { return s.Index != NoIndex }

func (s Segment) String() string {
	if s.Choice {
		return s.Name + "[x]"
	}
	if s.Index == NoIndex {
		return s.Name
	}
	return s.Name + "[" + strconv.Itoa(s.Index) + "]"
}

// Op is a predicate comparison operator.
type Op string

// Operators.
const (
	OpEq Op = "="
	OpNe Op = "!="
)

// LiteralKind distinguishes literal types in predicates.
type LiteralKind int

// Literal kinds.
const (
	LiteralString LiteralKind = iota
	LiteralNumber
	LiteralBool
)

// Literal is a predicate right-hand side.
type Literal struct {
	Kind LiteralKind
	Text string
}

var literalEscaper = strings.NewReplacer(`\`, `\\`, "'", `\'`)

// String renders the literal in expression syntax.
func (l Literal) String() string {
	if l.Kind == LiteralString {
		return "'" + literalEscaper.Replace(l.Text) + "'"
	}
	return l.Text
}

// Predicate compares the values at a dotted field path with a literal.
type Predicate struct {
	Field   []string
	Op      Op
	Literal Literal
}

func (p Predicate) String() string {
	return strings.Join(p.Field, ".") + string(p.Op) + p.Literal.String()
}

// Selector is a conjunction of predicates.
type Selector struct {
	Predicates []Predicate
}

func (s Selector) String() string {
	parts := make([]string, len(s.Predicates))
	for i, p := range s.Predicates {
		parts[i] = p.String()
	}
	return strings.Join(parts, " and ")
}

// Expression is a parsed path expression.
type Expression struct {
	ResourceType string
	Selectors    []Selector
	Suffix       []Segment
}

// String renders the expression in canonical bracket form.
func (e Expression) String() string {
	var b strings.Builder
	b.WriteString(e.ResourceType)
	for _, s := range e.Selectors {
		b.WriteByte('[')
		b.WriteString(s.String())
		b.WriteByte(']')
	}
	for _, seg := range e.Suffix {
		b.WriteByte('.')
		b.WriteString(seg.String())
	}
	return b.String()
}

// SuffixString renders only the structural suffix.
func (e Expression) SuffixString() string {
	parts := make([]string, len(e.Suffix))
	for i, seg := range e.Suffix {
		parts[i] = seg.String()
	}
	return strings.Join(parts, ".")
}

// WithSelector returns a copy of e with one more selector appended.
func (e Expression) WithSelector(preds ...Predicate) Expression {
	out := Expression{
		ResourceType: e.ResourceType,
		Selectors:    make([]Selector, 0, len(e.Selectors)+1),
		Suffix:       append([]Segment(nil), e.Suffix...),
	}
	out.Selectors = append(out.Selectors, e.Selectors...)
	out.Selectors = append(out.Selectors, Selector{Predicates: preds})
	return out
}

// WithSuffix returns a copy of e whose suffix is replaced by segs.
func (e Expression) WithSuffix(segs []Segment) Expression {
	return Expression{
		ResourceType: e.ResourceType,
		Selectors:    append([]Selector(nil), e.Selectors...),
		Suffix:       append([]Segment(nil), segs...),
	}
}

// IDEquals builds the predicate id='<id>'.
func IDEquals(id string) Predicate {
	return Predicate{Field: []string{"id"}, Op: OpEq, Literal: Literal{Kind: LiteralString, Text: id}}
}

// Parse parses an absolute path expression.
func Parse(expr string) (Expression, error) {
	p := &parser{src: expr}
	return p.parse()
}

// ParseRelative parses expr, prefixing resourceType when expr does not
// already start with it.
func ParseRelative(resourceType, expr string) (Expression, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" || expr == resourceType {
		return Parse(resourceType)
	}
	if strings.HasPrefix(expr, resourceType) {
		rest := expr[len(resourceType):]
		if rest[0] == '.' || rest[0] == '[' {
			return Parse(expr)
		}
	}
	return Parse(resourceType + "." + expr)
}

// ParseSuffix parses a relative element path such as "code.coding.code"
// into structural segments.
func ParseSuffix(expr string) ([]Segment, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}
	e, err := Parse("Element." + expr)
	if err != nil {
		return nil, err
	}
	return e.Suffix, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// package-level tables.
func MustParse(expr string) Expression {
	e, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return e
}
