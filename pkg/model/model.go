package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gofhir/fhir/r4"
	"golang.org/x/sync/errgroup"

	"github.com/gofhir/bundlevalidator/pkg/document"
	"github.com/gofhir/bundlevalidator/pkg/issue"
)

// Validator parses a document into a Graph and reports model findings
// already reclassified into the unified taxonomy.
type Validator interface {
	Validate(ctx context.Context, doc *document.Document) (*Graph, []issue.ValidationError, error)
}

// Finding is a raw finding of an external model validator.
type Finding struct {
	// Path is the element path relative to the resource, e.g. "name.given".
	Path    string
	Message string
}

// Func adapts a per-resource external validator. It receives the resource
// JSON and returns raw findings, which are reclassified by message shape.
type Func func(ctx context.Context, resourceType string, data []byte) ([]Finding, error)

// Validate implements Validator.
func (f Func) Validate(ctx context.Context, doc *document.Document) (*Graph, []issue.ValidationError, error) {
	g := NewGraph(doc)
	var out []issue.ValidationError
	for _, n := range g.Nodes() {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		findings, err := f(ctx, n.ResourceType, n.JSON())
		if err != nil {
			return nil, nil, fmt.Errorf("model validation of %s: %w", n.Path(), err)
		}
		for _, fd := range findings {
			out = append(out, Reclassify(n.Resource, fd.Path, fd.Message))
		}
	}
	return g, out, nil
}

var resourceFactories = map[string]func() any{
	"AllergyIntolerance":       func() any { return new(r4.AllergyIntolerance) },
	"CarePlan":                 func() any { return new(r4.CarePlan) },
	"CodeSystem":               func() any { return new(r4.CodeSystem) },
	"Composition":              func() any { return new(r4.Composition) },
	"Condition":                func() any { return new(r4.Condition) },
	"DiagnosticReport":         func() any { return new(r4.DiagnosticReport) },
	"Encounter":                func() any { return new(r4.Encounter) },
	"Immunization":             func() any { return new(r4.Immunization) },
	"Location":                 func() any { return new(r4.Location) },
	"Medication":               func() any { return new(r4.Medication) },
	"MedicationAdministration": func() any { return new(r4.MedicationAdministration) },
	"MedicationRequest":        func() any { return new(r4.MedicationRequest) },
	"MedicationStatement":      func() any { return new(r4.MedicationStatement) },
	"Observation":              func() any { return new(r4.Observation) },
	"Organization":             func() any { return new(r4.Organization) },
	"Patient":                  func() any { return new(r4.Patient) },
	"Practitioner":             func() any { return new(r4.Practitioner) },
	"PractitionerRole":         func() any { return new(r4.PractitionerRole) },
	"Procedure":                func() any { return new(r4.Procedure) },
	"ServiceRequest":           func() any { return new(r4.ServiceRequest) },
	"Specimen":                 func() any { return new(r4.Specimen) },
	"StructureDefinition":      func() any { return new(r4.StructureDefinition) },
	"ValueSet":                 func() any { return new(r4.ValueSet) },
}

// R4Validator decodes each entry resource into its typed R4 struct,
// rejecting unknown elements. It is the default model Validator.
type R4Validator struct {
	factories   map[string]func() any
	concurrency int
}

// R4Option configures an R4Validator.
type R4Option func(*R4Validator)

// WithResourceType registers the decoder for an additional resource type.
func WithResourceType(resourceType string, factory func() any) R4Option {
	return func(v *R4Validator) { v.factories[resourceType] = factory }
}

// WithConcurrency bounds the number of resources decoded in parallel.
func WithConcurrency(n int) R4Option {
	return func(v *R4Validator) {
		if n > 0 {
			v.concurrency = n
		}
	}
}

// NewR4Validator creates the default model validator.
func NewR4Validator(opts ...R4Option) *R4Validator {
	v := &R4Validator{factories: make(map[string]func() any, len(resourceFactories)), concurrency: 4}
	for k, f := range resourceFactories {
		v.factories[k] = f
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Supports reports whether resourceType has a typed decoder.
func (v *R4Validator) Supports(resourceType string) bool {
	_, ok := v.factories[resourceType]
	return ok
}

// Validate implements Validator. Findings keep entry order.
func (v *R4Validator) Validate(ctx context.Context, doc *document.Document) (*Graph, []issue.ValidationError, error) {
	g := NewGraph(doc)
	nodes := g.Nodes()
	buffers := make([][]issue.ValidationError, len(nodes))

	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(v.concurrency)
	for i, n := range nodes {
		eg.Go(func() error {
			if err := egctx.Err(); err != nil {
				return err
			}
			buffers[i] = v.decode(n)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, nil, err
	}

	var out []issue.ValidationError
	for _, b := range buffers {
		out = append(out, b...)
	}
	return g, out, nil
}

func (v *R4Validator) decode(n *Node) []issue.ValidationError {
	factory, ok := v.factories[n.ResourceType]
	if !ok {
		if n.ResourceType == "" {
			return nil // reported by the structural grammar
		}
		msg := fmt.Sprintf("Resource type '%s' is not supported by the model validator", n.ResourceType)
		ve := issue.New(issue.CodeModelUnsupportedResource, nil, issue.ModelDetails{OriginalMessage: msg})
		ve.Message = msg
		ve.Path = n.Path()
		ve.ResourceType = n.ResourceType
		return []issue.ValidationError{ve}
	}

	body := make(map[string]any, len(n.Node))
	for k, val := range n.Node {
		if k != "resourceType" {
			body[k] = val
		}
	}
	data, err := json.Marshal(body)
	if err != nil {
		return []issue.ValidationError{Reclassify(n.Resource, "", err.Error())}
	}

	// Only the first decode failure of a resource is reported.
	typed := factory()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(typed); err != nil {
		return []issue.ValidationError{fromDecodeError(n.Resource, err)}
	}
	n.Typed = typed
	return nil
}

// fromDecodeError reclassifies an encoding/json failure.
func fromDecodeError(res *document.Resource, err error) issue.ValidationError {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		ve := newModelError(res, issue.CodeModelTypeMismatch, typeErr.Field, err.Error())
		ve.Details = issue.ModelDetails{
			OriginalMessage: err.Error(),
			Element:         typeErr.Field,
			ExpectedType:    typeErr.Type.String(),
		}
		return ve
	}
	return Reclassify(res, "", err.Error())
}

// Reclassify maps a raw model finding to a unified error. The original
// message is kept verbatim.
func Reclassify(res *document.Resource, element, message string) issue.ValidationError {
	code := issue.CodeModelInvalidResource
	switch {
	case strings.Contains(message, "unknown field"):
		code = issue.CodeModelUnknownElement
		if element == "" {
			element = quoted(message)
		}
	case strings.Contains(message, "cannot unmarshal"), strings.Contains(message, "type mismatch"):
		code = issue.CodeModelTypeMismatch
	}
	return newModelError(res, code, element, message)
}

func newModelError(res *document.Resource, code, element, message string) issue.ValidationError {
	ve := issue.New(code, nil, issue.ModelDetails{OriginalMessage: message, Element: element})
	ve.Message = message
	ve.ResourceType = res.ResourceType
	ve.Path = res.Path()
	if element != "" {
		ve.Path += "." + element
	}
	return ve
}

// quoted returns the first double-quoted substring of s.
func quoted(s string) string {
	start := strings.IndexByte(s, '"')
	if start < 0 {
		return ""
	}
	end := strings.IndexByte(s[start+1:], '"')
	if end < 0 {
		return ""
	}
	return s[start+1 : start+1+end]
}
