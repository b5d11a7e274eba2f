// Package location resolves path expressions to fragment pointers into the
// validated document, and fragment pointers to line and column positions in
// the raw JSON source.
package location

import (
	"strconv"
	"strings"

	"github.com/gofhir/bundlevalidator/pkg/document"
	"github.com/gofhir/bundlevalidator/pkg/issue"
	"github.com/gofhir/bundlevalidator/pkg/path"
)

// Resolve turns expr into a Location inside doc. Instances are matched by
// content; the returned pointer always names an existing node, falling back
// to the document root.
func Resolve(expr path.Expression, doc *document.Document) issue.Location {
	segs := expr.Suffix

	if expr.ResourceType == document.RootType {
		root := doc.Root()
		obj, _ := root.(map[string]any)
		if obj == nil || !expr.Matches(obj) {
			return finish(doc, document.Pointer(), segs, 0)
		}
		ptr, depth := walk(root, document.Pointer(), segs)
		return finish(doc, ptr, segs, depth)
	}

	var (
		bestPtr   string
		bestDepth = -1
	)
	for _, r := range doc.OfType(expr.ResourceType) {
		if !expr.Matches(r.Node) {
			continue
		}
		ptr, depth := walk(r.Node, r.Pointer(), segs)
		if depth > bestDepth {
			bestPtr, bestDepth = ptr, depth
			if depth == len(segs) {
				break
			}
		}
	}
	if bestDepth < 0 {
		loc := finish(doc, document.Pointer(), segs, 0)
		loc.IsExact = false
		loc.MissingSegments = append([]string{expr.WithSuffix(nil).String()}, loc.MissingSegments...)
		return loc
	}
	return finish(doc, bestPtr, segs, bestDepth)
}

// ResolveString parses p and resolves it. When p does not parse, its
// longest parseable prefix is resolved and the remaining steps are
// reported missing; with no such prefix the location is the document root.
func ResolveString(p string, doc *document.Document) issue.Location {
	expr, err := path.Parse(p)
	if err == nil {
		return Resolve(expr, doc)
	}

	steps := splitSteps(p)
	for k := len(steps) - 1; k > 0; k-- {
		prefix, err := path.Parse(strings.Join(steps[:k], "."))
		if err != nil {
			continue
		}
		loc := Resolve(prefix, doc)
		loc.IsExact = false
		loc.MissingSegments = append(loc.MissingSegments, steps[k:]...)
		return loc
	}

	loc := finish(doc, document.Pointer(), nil, 0)
	loc.IsExact = false
	loc.MissingSegments = []string{p}
	return loc
}

// splitSteps splits p on the dots that are outside brackets, parentheses
// and quoted literals.
func splitSteps(p string) []string {
	var (
		steps []string
		depth int
		quote byte
		start int
	)
	for i := 0; i < len(p); i++ {
		c := p[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '[' || c == '(':
			depth++
		case c == ']' || c == ')':
			if depth > 0 {
				depth--
			}
		case c == '.' && depth == 0:
			steps = append(steps, p[start:i])
			start = i + 1
		}
	}
	return append(steps, p[start:])
}

func finish(doc *document.Document, ptr string, segs []path.Segment, depth int) issue.Location {
	loc := issue.Location{
		Pointer: ptr,
		IsExact: depth == len(segs),
	}
	for _, s := range segs[depth:] {
		loc.MissingSegments = append(loc.MissingSegments, s.String())
	}
	if pos, ok := Find(doc.Raw(), ptr); ok {
		loc.Line, loc.Column = pos.Line, pos.Column
	}
	if !loc.IsExact && loc.MissingSegments == nil {
		loc.MissingSegments = []string{}
	}
	return loc
}

// walk follows segs from node and returns the deepest pointer reached and
// the number of segments consumed. An unindexed step into an array picks
// the first element along which the remainder resolves furthest.
func walk(node any, ptr string, segs []path.Segment) (string, int) {
	if len(segs) == 0 {
		return ptr, 0
	}
	obj, ok := node.(map[string]any)
	if !ok {
		return ptr, 0
	}
	seg := segs[0]
	key := seg.Name
	if seg.Choice {
		keys := path.ChoiceKeys(obj, seg.Name)
		if len(keys) == 0 {
			return ptr, 0
		}
		key = keys[0]
	}
	v, ok := obj[key]
	if !ok || v == nil {
		return ptr, 0
	}
	ptr = document.Append(ptr, key)

	arr, isArray := v.([]any)
	switch {
	case seg.HasIndex():
		if !isArray {
			// A singular element addressed as [0] is the element itself.
			if seg.Index == 0 {
				sub, d := walk(v, ptr, segs[1:])
				return sub, d + 1
			}
			return parentOf(ptr), 0
		}
		if seg.Index >= len(arr) {
			return parentOf(ptr), 0
		}
		sub, d := walk(arr[seg.Index], document.Append(ptr, strconv.Itoa(seg.Index)), segs[1:])
		return sub, d + 1

	case isArray && len(segs) > 1:
		if len(arr) == 0 {
			return ptr, 1
		}
		bestPtr, bestDepth := ptr, 0
		for i, item := range arr {
			sub, d := walk(item, document.Append(ptr, strconv.Itoa(i)), segs[1:])
			if d+1 > bestDepth {
				bestPtr, bestDepth = sub, d+1
				if bestDepth == len(segs) {
					break
				}
			}
		}
		return bestPtr, bestDepth

	default:
		sub, d := walk(v, ptr, segs[1:])
		return sub, d + 1
	}
}

func parentOf(ptr string) string {
	for i := len(ptr) - 1; i > 0; i-- {
		if ptr[i] == '/' {
			return ptr[:i]
		}
	}
	return document.Pointer()
}
