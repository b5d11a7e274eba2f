// Package structural enforces the document grammar of a Bundle on the raw
// decoded tree, before any model parsing.
package structural

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/gofhir/bundlevalidator/pkg/document"
	"github.com/gofhir/bundlevalidator/pkg/issue"
)

// Validator runs the grammar families against a document.
type Validator struct {
	families []Family
}

// Option configures a Validator.
type Option func(*Validator)

// WithFamilies restricts the validator to the named families. Unknown
// names are ignored; declaration order is kept.
func WithFamilies(names ...string) Option {
	return func(v *Validator) {
		keep := make(map[string]bool, len(names))
		for _, n := range names {
			keep[n] = true
		}
		var out []Family
		for _, f := range v.families {
			if keep[f.Name] {
				out = append(out, f)
			}
		}
		v.families = out
	}
}

// New creates a structural Validator with every family enabled.
func New(opts ...Option) *Validator {
	v := &Validator{families: Families()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// FamilyNames returns the enabled family names in declaration order.
func (v *Validator) FamilyNames() []string {
	names := make([]string, len(v.families))
	for i, f := range v.families {
		names[i] = f.Name
	}
	return names
}

// InvalidDocument builds the single error that aborts the pipeline.
func InvalidDocument(reason string) issue.ValidationError {
	ve := issue.New(issue.CodeInvalidDocument, map[string]any{"reason": reason}, issue.DocumentDetails{Reason: reason})
	ve.Path = rootPath
	return ve
}

// CheckRoot returns an INVALID_DOCUMENT error when the document root is not
// a Bundle object.
func CheckRoot(doc *document.Document) *issue.ValidationError {
	root := doc.RootObject()
	if root == nil {
		ve := InvalidDocument(fmt.Sprintf("root must be a JSON object, got %s", jsonKind(doc.Root())))
		return &ve
	}
	rt, ok := root["resourceType"].(string)
	switch {
	case !ok || rt == "":
		ve := InvalidDocument("root has no resourceType")
		return &ve
	case rt != document.RootType:
		ve := InvalidDocument(fmt.Sprintf("root resourceType is %q, want %q", rt, document.RootType))
		return &ve
	}
	return nil
}

// Validate checks doc against every enabled family. A root that is not a
// Bundle object yields exactly one INVALID_DOCUMENT error. Families run
// concurrently; findings are merged in family declaration order and at
// most one error is kept per (path, errorCode).
func (v *Validator) Validate(ctx context.Context, doc *document.Document) ([]issue.ValidationError, error) {
	if bad := CheckRoot(doc); bad != nil {
		return []issue.ValidationError{*bad}, nil
	}
	root := doc.RootObject()

	buffers := make([][]issue.ValidationError, len(v.families))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range v.families {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r := newReporter(f.Name)
			f.check(root, r)
			buffers[i] = r.out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []issue.ValidationError
	for _, buf := range buffers {
		for _, ve := range buf {
			key := ve.Path + "\x00" + ve.ErrorCode
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, ve)
		}
	}
	return out, nil
}

// ValidateFamily runs a single family by name.
func ValidateFamily(doc *document.Document, name string) ([]issue.ValidationError, error) {
	for _, f := range Families() {
		if f.Name != name {
			continue
		}
		root := doc.RootObject()
		if root == nil {
			return nil, fmt.Errorf("family %s: document root is not an object", name)
		}
		r := newReporter(f.Name)
		f.check(root, r)
		return r.out, nil
	}
	return nil, fmt.Errorf("unknown grammar family %q", name)
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	default:
		return "number"
	}
}
