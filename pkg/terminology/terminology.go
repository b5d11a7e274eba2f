// Package terminology holds the code systems and value sets that project
// rules and the terminology checker validate codes against.
package terminology

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/gofhir/fhir/r4"
)

// Concept is one code of a terminology.
type Concept struct {
	System  string
	Code    string
	Display string
}

// Terminology is a named, immutable-after-load set of concepts with an
// optional parent/child hierarchy.
type Terminology struct {
	url      string
	concepts map[string]Concept  // code -> concept
	children map[string][]string // code -> child codes
	valueSet bool
}

func newTerminology(url string) *Terminology {
	return &Terminology{
		url:      url,
		concepts: make(map[string]Concept),
		children: make(map[string][]string),
	}
}

// URL returns the canonical URL of the terminology.
func (t *Terminology) URL() string { return t.url }

// IsValueSet reports whether the terminology is an expanded value set.
func (t *Terminology) IsValueSet() bool { return t.valueSet }

// Len returns the number of concepts.
func (t *Terminology) Len() int { return len(t.concepts) }

// Contains reports whether code is a concept of t.
func (t *Terminology) Contains(code string) bool {
	_, ok := t.concepts[code]
	return ok
}

// Lookup returns the concept for code.
func (t *Terminology) Lookup(code string) (Concept, bool) {
	c, ok := t.concepts[code]
	return c, ok
}

// Children returns the direct child codes of code in sorted order.
func (t *Terminology) Children(code string) []string {
	kids := append([]string(nil), t.children[code]...)
	sort.Strings(kids)
	return kids
}

// Descendants returns every code below code, excluding code itself and
// abstract codes (leading underscore).
func (t *Terminology) Descendants(code string) []string {
	var out []string
	visited := map[string]bool{code: true}
	var collect func(string)
	collect = func(c string) {
		for _, child := range t.children[c] {
			if visited[child] {
				continue
			}
			visited[child] = true
			if child != "" && child[0] != '_' {
				out = append(out, child)
			}
			collect(child)
		}
	}
	collect(code)
	sort.Strings(out)
	return out
}

func (t *Terminology) clone() *Terminology {
	out := newTerminology(t.url)
	out.valueSet = t.valueSet
	for code, c := range t.concepts {
		out.concepts[code] = c
	}
	for code, kids := range t.children {
		out.children[code] = append([]string(nil), kids...)
	}
	return out
}

func (t *Terminology) add(c Concept, parent string) {
	if _, dup := t.concepts[c.Code]; !dup {
		t.concepts[c.Code] = c
	}
	if parent != "" {
		t.children[parent] = append(t.children[parent], c.Code)
	}
}

// pendingFilter is a value set include expanded lazily against loaded code
// systems.
type pendingFilter struct {
	system   string
	property string
	op       string
	value    string
}

// valueSetData keeps the loaded definition apart from its expansion so
// the definition is never changed by expanding.
type valueSetData struct {
	definition *Terminology
	filters    []pendingFilter
	expansion  *Terminology // nil until expanded
}

// Registry indexes terminologies by canonical URL and alias.
type Registry struct {
	mu          sync.RWMutex
	codeSystems map[string]*Terminology
	valueSets   map[string]*valueSetData
	aliases     map[string]string // name or id -> URL
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		codeSystems: make(map[string]*Terminology),
		valueSets:   make(map[string]*valueSetData),
		aliases:     make(map[string]string),
	}
}

// Alias makes name resolve to url in Get.
func (r *Registry) Alias(name, url string) {
	if name == "" || name == url {
		return
	}
	r.mu.Lock()
	r.aliases[name] = url
	r.mu.Unlock()
}

// Get returns the terminology registered under name, which may be a
// canonical URL (with or without |version) or an alias. Code systems take
// precedence over value sets with the same URL.
func (r *Registry) Get(name string) (*Terminology, bool) {
	url := stripVersion(name)
	r.mu.RLock()
	if target, ok := r.aliases[url]; ok {
		url = target
	}
	if cs, ok := r.codeSystems[url]; ok {
		r.mu.RUnlock()
		return cs, true
	}
	_, isVS := r.valueSets[url]
	r.mu.RUnlock()
	if !isVS {
		return nil, false
	}
	return r.expand(url), true
}

// CodeSystem returns a loaded code system by URL.
func (r *Registry) CodeSystem(url string) (*Terminology, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cs, ok := r.codeSystems[stripVersion(url)]
	return cs, ok
}

// Names returns every registered URL in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.codeSystems)+len(r.valueSets))
	for url := range r.codeSystems {
		names = append(names, url)
	}
	for url := range r.valueSets {
		if _, dup := r.codeSystems[url]; !dup {
			names = append(names, url)
		}
	}
	sort.Strings(names)
	return names
}

// CountCodeSystems returns the number of loaded code systems.
func (r *Registry) CountCodeSystems() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.codeSystems)
}

// CountValueSets returns the number of loaded value sets.
func (r *Registry) CountValueSets() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.valueSets)
}

// AddCodeSystem registers a flat code system from code -> display pairs.
func (r *Registry) AddCodeSystem(url string, codes map[string]string) {
	t := newTerminology(url)
	for code, display := range codes {
		t.add(Concept{System: url, Code: code, Display: display}, "")
	}
	r.mu.Lock()
	r.codeSystems[url] = t
	r.invalidateExpansions()
	r.mu.Unlock()
}

// LoadR4CodeSystem registers a FHIR R4 CodeSystem. Hierarchy comes from
// nested concepts and subsumedBy properties.
func (r *Registry) LoadR4CodeSystem(cs *r4.CodeSystem) error {
	if cs == nil || cs.Url == nil {
		return fmt.Errorf("codesystem is nil or has no URL")
	}
	t := newTerminology(*cs.Url)
	extractCodeSystemConcepts(cs.Concept, t, "")

	r.mu.Lock()
	r.codeSystems[t.url] = t
	r.invalidateExpansions()
	r.mu.Unlock()
	return nil
}

// invalidateExpansions drops filter-based expansions so they are recomputed
// against the current code systems. Callers hold r.mu.
func (r *Registry) invalidateExpansions() {
	for _, vs := range r.valueSets {
		if len(vs.filters) > 0 {
			vs.expansion = nil
		}
	}
}

func extractCodeSystemConcepts(concepts []r4.CodeSystemConcept, t *Terminology, parent string) {
	for i := range concepts {
		concept := &concepts[i]
		if concept.Code == nil {
			continue
		}
		code := *concept.Code
		display := ""
		if concept.Display != nil {
			display = *concept.Display
		}
		t.add(Concept{System: t.url, Code: code, Display: display}, parent)

		for _, prop := range concept.Property {
			if prop.Code != nil && *prop.Code == "subsumedBy" && prop.ValueCode != nil {
				t.children[*prop.ValueCode] = append(t.children[*prop.ValueCode], code)
			}
		}
		if len(concept.Concept) > 0 {
			extractCodeSystemConcepts(concept.Concept, t, code)
		}
	}
}

// LoadR4ValueSet registers a FHIR R4 ValueSet. An expansion is used as-is;
// otherwise compose includes are expanded on first use against the code
// systems loaded by then.
func (r *Registry) LoadR4ValueSet(vs *r4.ValueSet) error {
	if vs == nil || vs.Url == nil {
		return fmt.Errorf("valueset is nil or has no URL")
	}
	t := newTerminology(*vs.Url)
	t.valueSet = true
	data := &valueSetData{definition: t}

	if vs.Expansion != nil {
		for i := range vs.Expansion.Contains {
			extractExpansionContains(&vs.Expansion.Contains[i], t, "")
		}
	}
	if vs.Compose != nil && vs.Expansion == nil {
		for i := range vs.Compose.Include {
			include := &vs.Compose.Include[i]
			if include.System == nil {
				continue
			}
			system := *include.System
			for j := range include.Concept {
				c := &include.Concept[j]
				if c.Code == nil {
					continue
				}
				display := ""
				if c.Display != nil {
					display = *c.Display
				}
				t.add(Concept{System: system, Code: *c.Code, Display: display}, "")
			}
			for _, f := range include.Filter {
				if f.Property == nil || f.Op == nil || f.Value == nil {
					continue
				}
				data.filters = append(data.filters, pendingFilter{
					system: system, property: *f.Property, op: string(*f.Op), value: *f.Value,
				})
			}
			if len(include.Concept) == 0 && len(include.Filter) == 0 {
				data.filters = append(data.filters, pendingFilter{system: system, op: "include-all"})
			}
		}
	}
	if len(data.filters) == 0 {
		data.expansion = t
	}

	r.mu.Lock()
	r.valueSets[t.url] = data
	r.mu.Unlock()
	return nil
}

func extractExpansionContains(c *r4.ValueSetExpansionContains, t *Terminology, parent string) {
	code := ""
	if c.Code != nil && c.System != nil {
		code = *c.Code
		display := ""
		if c.Display != nil {
			display = *c.Display
		}
		t.add(Concept{System: *c.System, Code: code, Display: display}, parent)
	}
	for i := range c.Contains {
		extractExpansionContains(&c.Contains[i], t, code)
	}
}

// expand resolves the pending filters of a value set into a new
// Terminology, once per set of loaded code systems.
func (r *Registry) expand(url string) *Terminology {
	r.mu.RLock()
	vs := r.valueSets[url]
	if vs.expansion != nil {
		t := vs.expansion
		r.mu.RUnlock()
		return t
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if vs.expansion != nil {
		return vs.expansion
	}
	t := vs.definition.clone()
	for _, f := range vs.filters {
		cs, ok := r.codeSystems[f.system]
		if !ok {
			continue
		}
		switch {
		case f.op == "include-all":
			for code, c := range cs.concepts {
				t.add(c, "")
				for _, child := range cs.children[code] {
					t.children[code] = append(t.children[code], child)
				}
			}
		case f.property == "concept" && (f.op == "descendent-of" || f.op == "is-a"):
			if f.op == "is-a" {
				if c, ok := cs.concepts[f.value]; ok {
					t.add(c, "")
				}
			}
			for _, code := range cs.Descendants(f.value) {
				t.add(cs.concepts[code], "")
			}
		case f.property == "code" && f.op == "regex":
			re, err := regexp.Compile("^(?:" + f.value + ")$")
			if err != nil {
				continue
			}
			for code, c := range cs.concepts {
				if re.MatchString(code) {
					t.add(c, "")
				}
			}
		case f.property == "code" && f.op == "=":
			if c, ok := cs.concepts[f.value]; ok {
				t.add(c, "")
			}
		}
	}
	vs.expansion = t
	return t
}

// stripVersion removes the |version suffix from a canonical URL.
func stripVersion(url string) string {
	if idx := strings.LastIndex(url, "|"); idx != -1 {
		return url[:idx]
	}
	return url
}
