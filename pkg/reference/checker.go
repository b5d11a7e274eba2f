package reference

import (
	"context"
	"fmt"
	"sort"

	"github.com/gofhir/bundlevalidator/pkg/document"
	"github.com/gofhir/bundlevalidator/pkg/issue"
)

// Checker verifies that literal references inside entry resources resolve.
type Checker struct {
	catalog *Catalog
}

// NewChecker creates a Checker resolving against the document's own
// resources plus any extra catalogs.
func NewChecker(doc *document.Document, extra ...*Catalog) *Checker {
	c := FromDocument(doc)
	for _, e := range extra {
		c.Merge(e)
	}
	return &Checker{catalog: c}
}

// Catalog returns the merged catalog.
func (c *Checker) Catalog() *Catalog { return c.catalog }

// Check reports duplicate fullUrls and dangling references. Malformed
// literals are left to the structural grammar. Absolute references count
// as local only when their server base is used by an entry fullUrl.
func (c *Checker) Check(ctx context.Context, doc *document.Document) ([]issue.ValidationError, error) {
	out := duplicateFullURLs(doc)

	bases := make(map[string]bool)
	for _, res := range doc.Resources() {
		if l, ok := Parse(res.FullURL); ok && l.Kind == KindAbsolute {
			bases[l.Base] = true
		}
	}

	for _, res := range doc.Resources() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		contained := containedIDs(res.Node)
		walkReferences(res.Node, res.Path(), func(ref, p string) {
			if c.resolves(ref, contained, bases) {
				return
			}
			ve := issue.New(issue.CodeDanglingReference, map[string]any{"reference": ref},
				issue.DanglingReferenceDetails{Reference: ref})
			ve.Path = p
			ve.ResourceType = res.ResourceType
			out = append(out, ve)
		})
	}
	return out, nil
}

func (c *Checker) resolves(ref string, contained map[string]bool, bases map[string]bool) bool {
	l, ok := Parse(ref)
	if !ok {
		return true
	}
	switch l.Kind {
	case KindFragment:
		return l.ID == "" || contained[l.ID]
	case KindURL:
		return true
	case KindAbsolute:
		if !bases[l.Base] {
			return true
		}
	}
	_, found := c.catalog.Resolve(ref)
	return found
}

func duplicateFullURLs(doc *document.Document) []issue.ValidationError {
	var out []issue.ValidationError
	entries, _ := doc.RootObject()["entry"].([]any)
	first := make(map[string]int)
	for i, e := range entries {
		entry, ok := e.(map[string]any)
		if !ok {
			continue
		}
		fullURL, _ := entry["fullUrl"].(string)
		if fullURL == "" {
			continue
		}
		j, dup := first[fullURL]
		if !dup {
			first[fullURL] = i
			continue
		}
		ve := issue.New(issue.CodeDuplicateFullURL, map[string]any{"value": fullURL, "first": j},
			issue.DuplicateDetails{Value: fullURL, FirstIndex: j})
		ve.Path = fmt.Sprintf("%s.entry[%d].fullUrl", document.RootType, i)
		out = append(out, ve)
	}
	return out
}

func containedIDs(resource map[string]any) map[string]bool {
	ids := make(map[string]bool)
	list, _ := resource["contained"].([]any)
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			if id, ok := m["id"].(string); ok {
				ids[id] = true
			}
		}
	}
	return ids
}

// walkReferences calls visit for every string "reference" property below
// node, in sorted key order.
func walkReferences(node map[string]any, p string, visit func(ref, p string)) {
	keys := make([]string, 0, len(node))
	for k := range node {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := node[k].(type) {
		case string:
			if k == "reference" {
				visit(v, p+"."+k)
			}
		case map[string]any:
			walkReferences(v, p+"."+k, visit)
		case []any:
			for i, item := range v {
				if m, ok := item.(map[string]any); ok {
					walkReferences(m, fmt.Sprintf("%s.%s[%d]", p, k, i), visit)
				}
			}
		}
	}
}
