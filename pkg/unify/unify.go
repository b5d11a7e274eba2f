// Package unify merges the findings of every producer into the single
// ordered, navigable error list returned to callers.
package unify

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/gofhir/bundlevalidator/pkg/document"
	"github.com/gofhir/bundlevalidator/pkg/issue"
	"github.com/gofhir/bundlevalidator/pkg/location"
)

// CatalogError reports a finding whose details violate the catalog.
type CatalogError = issue.CatalogError

// Inputs holds the findings of each producer.
type Inputs struct {
	Structural  []issue.ValidationError
	Model       []issue.ValidationError
	Project     []issue.ValidationError
	Terminology []issue.ValidationError
	Reference   []issue.ValidationError
}

// Build attaches locations, seals details, drops exact duplicates within a
// source and orders the result by (source priority, resourceType, path).
// A finding that violates the catalog fails the whole build.
func Build(doc *document.Document, in Inputs) ([]issue.ValidationError, error) {
	groups := []struct {
		source issue.Source
		errs   []issue.ValidationError
	}{
		{issue.SourceStructure, in.Structural},
		{issue.SourceModel, in.Model},
		{issue.SourceProject, in.Project},
		{issue.SourceTerminology, in.Terminology},
		{issue.SourceReference, in.Reference},
	}

	locations := make(map[string]*issue.Location)
	locate := func(p string) *issue.Location {
		if loc, ok := locations[p]; ok {
			return loc
		}
		loc := location.ResolveString(p, doc)
		locations[p] = &loc
		return &loc
	}

	var out []issue.ValidationError
	for _, g := range groups {
		seen := make(map[string]bool, len(g.errs))
		for _, ve := range g.errs {
			if ve.Source != g.source {
				return nil, &CatalogError{
					ErrorCode: ve.ErrorCode,
					Source:    ve.Source,
					Path:      ve.Path,
					Reason:    fmt.Sprintf("delivered as a %s finding", g.source),
				}
			}
			if err := issue.Seal(&ve); err != nil {
				return nil, err
			}
			if ve.Path != "" {
				ve.Location = locate(ve.Path)
			}

			key, err := json.Marshal(ve)
			if err != nil {
				return nil, fmt.Errorf("failed to encode finding %s at %s: %w", ve.ErrorCode, ve.Path, err)
			}
			if seen[string(key)] {
				continue
			}
			seen[string(key)] = true
			out = append(out, ve)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := &out[i], &out[j]
		if pa, pb := a.Source.Priority(), b.Source.Priority(); pa != pb {
			return pa < pb
		}
		if a.ResourceType != b.ResourceType {
			return a.ResourceType < b.ResourceType
		}
		return a.Path < b.Path
	})
	return out, nil
}
