// Package bundlevalidator validates FHIR R4 Bundles and normalizes every
// finding into one ordered, navigable error list.
//
// # Quick Start
//
//	import (
//	    "github.com/gofhir/bundlevalidator/pkg/rules"
//	    "github.com/gofhir/bundlevalidator/pkg/validator"
//	)
//
//	rs, err := rules.Load("project-rules.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	v, err := validator.New(validator.WithRuleTimeout(time.Second))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	res, err := v.Validate(ctx, bundleJSON, rs)
//	if err != nil {
//	    log.Fatal(err) // cancelled or internal failure, never a finding
//	}
//	for _, e := range res.Errors {
//	    fmt.Println(e.Source, e.ErrorCode, e.Path, e.Location.Pointer)
//	}
//
// # Pipeline
//
// A Bundle passes through these stages in order:
//
//   - Structure: document grammar on the raw JSON (ids, UUIDs, OIDs,
//     strings, codes, value[x] exclusivity, references, extensions, URIs)
//   - Model: decoding of each entry into its typed R4 resource
//   - Project: declarative rule sets (Required, FixedValue, AllowedValues,
//     Regex, Reference, ArrayLength, CodeSystem, CodeMaster,
//     FullUrlIdMatch, CustomExpression, ResourceComposition)
//   - Terminology: codings of loaded code systems
//   - Reference: dangling references and duplicate fullUrls
//
// A document that is not a JSON Bundle is rejected with a single
// INVALID_DOCUMENT error and no further stage runs.
//
// # Errors
//
// Every finding is an issue.ValidationError with a source, severity, error
// code, message, content-qualified path such as
// Patient[id='p1'].name[1].use, a fragment pointer into the input and a
// typed details payload checked against a fixed catalog.
//
// # Packages
//
//   - pkg/validator: the pipeline and its options
//   - pkg/rules: rule set loading (YAML or JSON)
//   - pkg/terminology: named concept sets and the terminology checker
//   - pkg/reference: reference catalog and checker
//   - pkg/issue: the error schema and details catalog
//   - cmd/bundle-validator: command line tool
package bundlevalidator
