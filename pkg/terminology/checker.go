package terminology

import (
	"context"
	"fmt"
	"sort"

	"github.com/gofhir/bundlevalidator/pkg/document"
	"github.com/gofhir/bundlevalidator/pkg/issue"
)

// Checker validates every Coding whose system is a loaded code system.
type Checker struct {
	registry *Registry
	severity issue.Severity
	display  bool
}

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

// WithSeverity overrides the catalog severity of terminology findings.
func WithSeverity(s issue.Severity) CheckerOption {
	return func(c *Checker) {
		if s.Valid() {
			c.severity = s
		}
	}
}

// WithoutDisplayCheck disables display comparison.
func WithoutDisplayCheck() CheckerOption {
	return func(c *Checker) { c.display = false }
}

// NewChecker creates a Checker over reg.
func NewChecker(reg *Registry, opts ...CheckerOption) *Checker {
	c := &Checker{registry: reg, display: true}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check walks every entry resource. Codings with an unknown system are
// skipped.
func (c *Checker) Check(ctx context.Context, doc *document.Document) ([]issue.ValidationError, error) {
	if c == nil || c.registry == nil {
		return nil, nil
	}
	var out []issue.ValidationError
	for _, res := range doc.Resources() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c.walk(res.Node, res.Path(), res.ResourceType, &out)
	}
	return out, nil
}

func (c *Checker) walk(obj map[string]any, p, resourceType string, out *[]issue.ValidationError) {
	if system, ok := obj["system"].(string); ok {
		if code, ok := obj["code"].(string); ok {
			c.checkCoding(obj, system, code, p, resourceType, out)
		}
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := obj[k].(type) {
		case map[string]any:
			c.walk(v, p+"."+k, resourceType, out)
		case []any:
			for i, item := range v {
				if m, ok := item.(map[string]any); ok {
					c.walk(m, fmt.Sprintf("%s.%s[%d]", p, k, i), resourceType, out)
				}
			}
		}
	}
}

func (c *Checker) checkCoding(obj map[string]any, system, code, p, resourceType string, out *[]issue.ValidationError) {
	cs, ok := c.registry.CodeSystem(system)
	if !ok {
		return
	}
	concept, known := cs.Lookup(code)
	if !known {
		ve := issue.New(issue.CodeTerminologyUnknown,
			map[string]any{"code": code, "system": system},
			issue.CodeDetails{Terminology: cs.URL(), System: system, Code: code})
		*out = append(*out, c.finish(ve, p+".code", resourceType))
		return
	}
	if !c.display || concept.Display == "" {
		return
	}
	display, ok := obj["display"].(string)
	if !ok || display == concept.Display {
		return
	}
	ve := issue.New(issue.CodeTerminologyDisplay,
		map[string]any{"actual": display, "code": code, "expected": concept.Display},
		issue.DisplayDetails{System: system, Code: code, Actual: display, Expected: concept.Display})
	*out = append(*out, c.finish(ve, p+".display", resourceType))
}

func (c *Checker) finish(ve issue.ValidationError, p, resourceType string) issue.ValidationError {
	ve.Path = p
	ve.ResourceType = resourceType
	if c.severity != "" {
		ve.Severity = c.severity
	}
	return ve
}
