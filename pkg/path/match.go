package path

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Matches reports whether resource satisfies every selector of e. The
// resource type itself is not checked.
func (e Expression) Matches(resource map[string]any) bool {
	for _, sel := range e.Selectors {
		if !sel.Matches(resource) {
			return false
		}
	}
	return true
}

// Matches reports whether every predicate holds for node.
func (s Selector) Matches(node map[string]any) bool {
	for _, p := range s.Predicates {
		if !p.Matches(node) {
			return false
		}
	}
	return true
}

// Matches evaluates the predicate against node. Field paths fan out across
// arrays: '=' holds when any reached value equals the literal, '!=' holds
// when none does.
func (p Predicate) Matches(node map[string]any) bool {
	values := Collect(node, p.Field)
	found := false
	for _, v := range values {
		if p.Literal.Equal(v) {
			found = true
			break
		}
	}
	if p.Op == OpNe {
		return !found
	}
	return found
}

// Collect returns every leaf value reached by following fields from node,
// flattening arrays at each step.
func Collect(node any, fields []string) []any {
	current := []any{node}
	for _, f := range fields {
		var next []any
		for _, n := range current {
			obj, ok := n.(map[string]any)
			if !ok {
				continue
			}
			v, ok := obj[f]
			if !ok || v == nil {
				continue
			}
			if arr, ok := v.([]any); ok {
				next = append(next, arr...)
				continue
			}
			next = append(next, v)
		}
		current = next
	}
	var out []any
	for _, v := range current {
		if arr, ok := v.([]any); ok {
			out = append(out, arr...)
			continue
		}
		out = append(out, v)
	}
	return out
}

// Equal compares a decoded JSON value with the literal. Numbers compare as
// exact decimals.
func (l Literal) Equal(v any) bool {
	switch l.Kind {
	case LiteralString:
		s, ok := v.(string)
		return ok && s == l.Text
	case LiteralBool:
		b, ok := v.(bool)
		return ok && strconv.FormatBool(b) == l.Text
	case LiteralNumber:
		return NumberEqual(v, l.Text)
	}
	return false
}

// NumberEqual reports whether v is a JSON number equal to text.
func NumberEqual(v any, text string) bool {
	want, err := decimal.NewFromString(text)
	if err != nil {
		return false
	}
	var got decimal.Decimal
	switch n := v.(type) {
	case json.Number:
		got, err = decimal.NewFromString(n.String())
	case float64:
		got = decimal.NewFromFloat(n)
	case int:
		got = decimal.NewFromInt(int64(n))
	default:
		return false
	}
	if err != nil {
		return false
	}
	return got.Equal(want)
}

// ChoiceKeys returns the keys of obj that are typed variants of base
// ("valueString" for "value"), in sorted order.
func ChoiceKeys(obj map[string]any, base string) []string {
	var keys []string
	for k := range obj {
		if len(k) > len(base) && strings.HasPrefix(k, base) {
			if c := k[len(base)]; c >= 'A' && c <= 'Z' {
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}
