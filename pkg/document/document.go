// Package document holds the immutable decoded form of a validated Bundle
// together with an index of its top-level entry resources.
package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// RootType is the resource type of the document root.
const RootType = "Bundle"

// Resource is one top-level entry resource. Resources are addressed by
// their position in the arena; cross-resource links are resolved by
// identifier lookup, never by pointers between nodes.
type Resource struct {
	Index        int
	FullURL      string
	ResourceType string
	ID           string
	Node         map[string]any
}

// Pointer returns the fragment pointer of the resource object.
func (r *Resource) Pointer() string {
	return Pointer("entry", strconv.Itoa(r.Index), "resource")
}

// Path returns the index-precise element path of the resource object.
func (r *Resource) Path() string {
	return fmt.Sprintf("%s.entry[%d].resource", RootType, r.Index)
}

// Document is a decoded JSON document. It is never mutated after Parse.
type Document struct {
	raw       []byte
	root      any
	resources []Resource
	byType    map[string][]int
}

// SyntaxError reports input that is not a single well-formed JSON value.
type SyntaxError struct {
	Offset int64
	Err    error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("invalid JSON at offset %d: %v", e.Offset, e.Err)
}

func (e *SyntaxError) Unwrap() error { return e.Err }

// Parse decodes raw into a Document. Numbers are kept as json.Number so
// that decimal precision survives.
func Parse(raw []byte) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var root any
	if err := dec.Decode(&root); err != nil {
		return nil, &SyntaxError{Offset: dec.InputOffset(), Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &SyntaxError{Offset: dec.InputOffset(), Err: errors.New("unexpected data after top-level value")}
	}

	d := &Document{raw: raw, root: root, byType: make(map[string][]int)}
	d.index()
	return d, nil
}

// FromValue builds a Document around an already decoded tree.
func FromValue(root any) *Document {
	raw, _ := json.Marshal(root)
	d := &Document{raw: raw, root: root, byType: make(map[string][]int)}
	d.index()
	return d
}

func (d *Document) index() {
	obj, ok := d.root.(map[string]any)
	if !ok {
		return
	}
	entries, _ := obj["entry"].([]any)
	for i, e := range entries {
		entry, ok := e.(map[string]any)
		if !ok {
			continue
		}
		res, ok := entry["resource"].(map[string]any)
		if !ok {
			continue
		}
		r := Resource{Index: i, Node: res}
		r.FullURL, _ = entry["fullUrl"].(string)
		r.ResourceType, _ = res["resourceType"].(string)
		r.ID, _ = res["id"].(string)
		d.byType[r.ResourceType] = append(d.byType[r.ResourceType], len(d.resources))
		d.resources = append(d.resources, r)
	}
}

// Raw returns the original input bytes.
func (d *Document) Raw() []byte { return d.raw }

// Root returns the decoded root value.
func (d *Document) Root() any { return d.root }

// RootObject returns the root as an object, or nil.
func (d *Document) RootObject() map[string]any {
	m, _ := d.root.(map[string]any)
	return m
}

// Resources returns the entry resources in document order.
func (d *Document) Resources() []Resource { return d.resources }

// OfType returns the entry resources of the given type in document order.
func (d *Document) OfType(resourceType string) []*Resource {
	idx := d.byType[resourceType]
	out := make([]*Resource, len(idx))
	for i, j := range idx {
		out[i] = &d.resources[j]
	}
	return out
}

// Types returns the distinct resource types present, with their counts.
func (d *Document) Types() map[string]int {
	out := make(map[string]int, len(d.byType))
	for t, idx := range d.byType {
		if t != "" {
			out[t] = len(idx)
		}
	}
	return out
}

// Lookup returns the value a fragment pointer refers to.
func (d *Document) Lookup(pointer string) (any, bool) {
	tokens, err := ParsePointer(pointer)
	if err != nil {
		return nil, false
	}
	node := d.root
	for _, tok := range tokens {
		switch n := node.(type) {
		case map[string]any:
			v, ok := n[tok]
			if !ok {
				return nil, false
			}
			node = v
		case []any:
			i, err := strconv.Atoi(tok)
			if err != nil || i < 0 || i >= len(n) {
				return nil, false
			}
			node = n[i]
		default:
			return nil, false
		}
	}
	return node, true
}

var pointerEscaper = strings.NewReplacer("~", "~0", "/", "~1")
var pointerUnescaper = strings.NewReplacer("~1", "/", "~0", "~")

// Pointer builds a fragment pointer from reference tokens. With no tokens
// it returns the root pointer "#".
func Pointer(tokens ...string) string {
	var b strings.Builder
	b.WriteByte('#')
	for _, t := range tokens {
		b.WriteByte('/')
		b.WriteString(pointerEscaper.Replace(t))
	}
	return b.String()
}

// ParsePointer splits a fragment pointer into unescaped reference tokens.
func ParsePointer(p string) ([]string, error) {
	if !strings.HasPrefix(p, "#") {
		return nil, fmt.Errorf("pointer %q: must start with '#'", p)
	}
	p = p[1:]
	if p == "" {
		return nil, nil
	}
	if p[0] != '/' {
		return nil, fmt.Errorf("pointer %q: expected '/' after '#'", p)
	}
	parts := strings.Split(p[1:], "/")
	for i := range parts {
		parts[i] = pointerUnescaper.Replace(parts[i])
	}
	return parts, nil
}

// Append returns pointer extended with tokens.
func Append(pointer string, tokens ...string) string {
	var b strings.Builder
	b.WriteString(pointer)
	for _, t := range tokens {
		b.WriteByte('/')
		b.WriteString(pointerEscaper.Replace(t))
	}
	return b.String()
}
