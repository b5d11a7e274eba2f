package path

import (
	"fmt"
	"strconv"
	"strings"
)

// SyntaxError reports a malformed path expression.
type SyntaxError struct {
	Expr   string
	Offset int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("path %q: %s at offset %d", e.Expr, e.Msg, e.Offset)
}

type parser struct {
	src string
	pos int
}

func (p *parser) errorf(format string, args ...any) error {
	return &SyntaxError{Expr: p.src, Offset: p.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) eof() bool { return p.pos >= len(p.src) }

func (p *parser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) skipSpace() {
	for !p.eof() && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
}

func (p *parser) hasPrefix(s string) bool {
	return strings.HasPrefix(p.src[p.pos:], s)
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func (p *parser) ident() (string, error) {
	start := p.pos
	if p.eof() || !isIdentStart(p.peek()) {
		return "", p.errorf("expected identifier")
	}
	for !p.eof() && isIdentPart(p.peek()) {
		p.pos++
	}
	return p.src[start:p.pos], nil
}

func (p *parser) parse() (Expression, error) {
	var e Expression
	p.src = strings.TrimSpace(p.src)
	if p.src == "" {
		return e, p.errorf("empty expression")
	}

	rt, err := p.ident()
	if err != nil {
		return e, err
	}
	if rt[0] < 'A' || rt[0] > 'Z' {
		p.pos = 0
		return e, p.errorf("expression must start with a resource type, got %q", rt)
	}
	e.ResourceType = rt

	// Scope selectors directly follow the resource type.
selectors:
	for !p.eof() {
		switch {
		case p.peek() == '[':
			p.pos++
			sel, err := p.selector(']')
			if err != nil {
				return e, err
			}
			e.Selectors = append(e.Selectors, sel)
		case p.hasPrefix(".where("):
			p.pos += len(".where(")
			sel, err := p.selector(')')
			if err != nil {
				return e, err
			}
			e.Selectors = append(e.Selectors, sel)
		default:
			break selectors
		}
	}

	for !p.eof() {
		if p.peek() != '.' {
			return e, p.errorf("unexpected %q", p.peek())
		}
		p.pos++
		if p.hasPrefix("where(") {
			return e, p.errorf("scope selector not allowed in structural suffix")
		}
		name, err := p.ident()
		if err != nil {
			return e, err
		}
		seg := Segment{Name: name, Index: NoIndex}
		if p.peek() == '(' {
			return e, p.errorf("function call %q not allowed in structural suffix", name)
		}
		if p.hasPrefix("[x]") {
			p.pos += 3
			seg.Choice = true
			e.Suffix = append(e.Suffix, seg)
			continue
		}
		if p.peek() == '[' {
			p.pos++
			idx, err := p.index()
			if err != nil {
				return e, err
			}
			seg.Index = idx
		}
		e.Suffix = append(e.Suffix, seg)
	}
	return e, nil
}

func (p *parser) index() (int, error) {
	start := p.pos
	for !p.eof() && p.peek() >= '0' && p.peek() <= '9' {
		p.pos++
	}
	if start == p.pos {
		return 0, p.errorf("scope selector not allowed in structural suffix")
	}
	n, err := strconv.Atoi(p.src[start:p.pos])
	if err != nil {
		return 0, p.errorf("invalid index: %v", err)
	}
	if p.peek() != ']' {
		return 0, p.errorf("expected ']'")
	}
	p.pos++
	return n, nil
}

func (p *parser) selector(closer byte) (Selector, error) {
	var sel Selector
	for {
		p.skipSpace()
		pred, err := p.predicate()
		if err != nil {
			return sel, err
		}
		sel.Predicates = append(sel.Predicates, pred)
		p.skipSpace()
		if p.peek() == closer {
			p.pos++
			return sel, nil
		}
		if !p.hasPrefix("and") || p.pos+3 >= len(p.src) || isIdentPart(p.src[p.pos+3]) {
			return sel, p.errorf("expected 'and' or %q", closer)
		}
		p.pos += 3
	}
}

func (p *parser) predicate() (Predicate, error) {
	var pred Predicate
	for {
		name, err := p.ident()
		if err != nil {
			return pred, err
		}
		pred.Field = append(pred.Field, name)
		if p.peek() != '.' {
			break
		}
		p.pos++
	}

	p.skipSpace()
	switch {
	case p.hasPrefix("!="):
		pred.Op = OpNe
		p.pos += 2
	case p.peek() == '=':
		pred.Op = OpEq
		p.pos++
	default:
		return pred, p.errorf("expected '=' or '!='")
	}
	p.skipSpace()

	lit, err := p.literal()
	if err != nil {
		return pred, err
	}
	pred.Literal = lit
	return pred, nil
}

func (p *parser) literal() (Literal, error) {
	c := p.peek()
	switch {
	case c == '\'' || c == '"':
		return p.quoted(c)
	case c == '-' || (c >= '0' && c <= '9'):
		start := p.pos
		p.pos++
		for !p.eof() && (p.peek() == '.' || (p.peek() >= '0' && p.peek() <= '9')) {
			p.pos++
		}
		text := p.src[start:p.pos]
		if _, err := strconv.ParseFloat(text, 64); err != nil {
			return Literal{}, p.errorf("invalid number %q", text)
		}
		return Literal{Kind: LiteralNumber, Text: text}, nil
	case p.hasPrefix("true"):
		p.pos += 4
		return Literal{Kind: LiteralBool, Text: "true"}, nil
	case p.hasPrefix("false"):
		p.pos += 5
		return Literal{Kind: LiteralBool, Text: "false"}, nil
	}
	return Literal{}, p.errorf("expected literal")
}

func (p *parser) quoted(q byte) (Literal, error) {
	p.pos++
	var b strings.Builder
	for !p.eof() {
		c := p.peek()
		switch c {
		case '\\':
			if p.pos+1 >= len(p.src) {
				return Literal{}, p.errorf("unterminated escape")
			}
			b.WriteByte(p.src[p.pos+1])
			p.pos += 2
		case q:
			p.pos++
			return Literal{Kind: LiteralString, Text: b.String()}, nil
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
	return Literal{}, p.errorf("unterminated string literal")
}
