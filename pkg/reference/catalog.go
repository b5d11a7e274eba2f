package reference

import (
	"sort"
	"strings"

	"github.com/gofhir/bundlevalidator/pkg/document"
)

// External marks a catalog target that is not an entry of the document.
const External = -1

// Target is what a reference resolves to.
type Target struct {
	ResourceType string
	// Index is the entry index, or External.
	Index int
}

// Catalog indexes the identities of known resources: entry fullUrls,
// Type/id pairs and absolute base/Type/id URLs, plus any identities added
// by the caller.
type Catalog struct {
	targets map[string]Target
}

// NewCatalog creates an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{targets: make(map[string]Target)}
}

// FromDocument builds a Catalog of the document's entry resources.
func FromDocument(doc *document.Document) *Catalog {
	c := NewCatalog()
	for _, res := range doc.Resources() {
		t := Target{ResourceType: res.ResourceType, Index: res.Index}
		if res.FullURL != "" {
			c.put(res.FullURL, t)
			if l, ok := Parse(res.FullURL); ok && l.Key() != "" {
				c.put(l.Key(), t)
			}
		}
		if res.ResourceType != "" && res.ID != "" {
			c.put(res.ResourceType+"/"+res.ID, t)
		}
	}
	return c
}

// put keeps the first registration of an identity.
func (c *Catalog) put(key string, t Target) {
	if _, ok := c.targets[key]; !ok {
		c.targets[key] = t
	}
}

// Add registers an external identity: a fullUrl, Type/id or absolute URL.
// For Type/id forms resourceType may be empty.
func (c *Catalog) Add(ref, resourceType string) {
	if l, ok := Parse(ref); ok && resourceType == "" {
		resourceType = l.Type
	}
	c.put(ref, Target{ResourceType: resourceType, Index: External})
}

// Merge adds every identity of other that c does not already know.
func (c *Catalog) Merge(other *Catalog) {
	if other == nil {
		return
	}
	for k, t := range other.targets {
		c.put(k, t)
	}
}

// Len returns the number of known identities.
func (c *Catalog) Len() int { return len(c.targets) }

// Keys returns every known identity in sorted order.
func (c *Catalog) Keys() []string {
	keys := make([]string, 0, len(c.targets))
	for k := range c.targets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Resolve looks up a reference literal. Relative and absolute references
// also match through their Type/id form; _history is ignored. Fragments
// never resolve here.
func (c *Catalog) Resolve(ref string) (Target, bool) {
	if c == nil {
		return Target{}, false
	}
	if t, ok := c.targets[ref]; ok {
		return t, true
	}
	l, ok := Parse(ref)
	if !ok {
		return Target{}, false
	}
	switch l.Kind {
	case KindRelative, KindAbsolute:
		if i := strings.Index(ref, "/_history/"); i >= 0 {
			if t, ok := c.targets[ref[:i]]; ok {
				return t, true
			}
		}
		if t, ok := c.targets[l.Key()]; ok {
			return t, true
		}
	}
	return Target{}, false
}
