package unify

import (
	"errors"
	"testing"

	"github.com/gofhir/bundlevalidator/pkg/document"
	"github.com/gofhir/bundlevalidator/pkg/issue"
)

const bundleJSON = `{
  "resourceType": "Bundle",
  "type": "collection",
  "entry": [
    {
      "resource": {
        "resourceType": "Patient",
        "id": "p1",
        "name": [{"given": ["Ann"]}, {"family": "Smith"}]
      }
    },
    {
      "resource": {
        "resourceType": "Observation",
        "id": "o1",
        "subject": {"reference": "Patient/missing"}
      }
    }
  ]
}`

func mustDoc(t *testing.T) *document.Document {
	t.Helper()
	d, err := document.Parse([]byte(bundleJSON))
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func required(resourceType, p, element string) issue.ValidationError {
	return issue.ValidationError{
		Source:       issue.SourceProject,
		Severity:     issue.SeverityError,
		ResourceType: resourceType,
		Path:         p,
		ErrorCode:    "REQUIRED_FIELD_MISSING",
		Message:      element + " is required",
		RuleID:       "req-" + element,
		RuleType:     "Required",
		Details:      issue.MissingValueDetails{Element: element},
	}
}

func dangling(p, ref string) issue.ValidationError {
	ve := issue.New(issue.CodeDanglingReference, map[string]any{"reference": ref}, issue.DanglingReferenceDetails{Reference: ref})
	ve.ResourceType = "Observation"
	ve.Path = p
	return ve
}

func badID(resourceType, p, value string) issue.ValidationError {
	ve := issue.New(issue.CodeInvalidIDFormat, map[string]any{"value": value}, issue.GrammarDetails{Family: "id", Value: value})
	ve.ResourceType = resourceType
	ve.Path = p
	return ve
}

func TestBuildOrdering(t *testing.T) {
	doc := mustDoc(t)
	out, err := Build(doc, Inputs{
		Reference: []issue.ValidationError{dangling("Observation[id='o1'].subject", "Patient/missing")},
		Project: []issue.ValidationError{
			required("Patient", "Patient[id='p1'].name[1].use", "use"),
			required("Observation", "Observation[id='o1'].status", "status"),
			required("Patient", "Patient[id='p1'].gender", "gender"),
		},
		Structural: []issue.ValidationError{badID("Patient", "Patient[id='p1'].id", "p1")},
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	want := []string{
		"Patient[id='p1'].id",
		"Observation[id='o1'].status",
		"Patient[id='p1'].gender",
		"Patient[id='p1'].name[1].use",
		"Observation[id='o1'].subject",
	}
	if len(out) != len(want) {
		t.Fatalf("Build() returned %d errors, want %d", len(out), len(want))
	}
	for i, p := range want {
		if out[i].Path != p {
			t.Errorf("out[%d].Path = %q, want %q", i, out[i].Path, p)
		}
		if out[i].Location == nil {
			t.Errorf("out[%d].Location is nil", i)
		}
	}
}

func TestBuildLocations(t *testing.T) {
	doc := mustDoc(t)
	out, err := Build(doc, Inputs{
		Project: []issue.ValidationError{
			required("Patient", "Patient[id='p1'].name[1].use", "use"),
			required("Patient", "Patient[id='p1'].name[1].family", "family"),
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	family, use := out[0], out[1]
	if got := family.Location.Pointer; got != "#/entry/0/resource/name/1/family" {
		t.Errorf("family pointer = %q", got)
	}
	if !family.Location.IsExact {
		t.Error("family location should be exact")
	}
	if got := use.Location.Pointer; got != "#/entry/0/resource/name/1" {
		t.Errorf("use pointer = %q", got)
	}
	if use.Location.IsExact {
		t.Error("use location should not be exact")
	}
}

func TestBuildDedupe(t *testing.T) {
	doc := mustDoc(t)
	dup := required("Patient", "Patient[id='p1'].gender", "gender")
	other := dup
	other.RuleID = "req-gender-2"

	out, err := Build(doc, Inputs{Project: []issue.ValidationError{dup, dup, other}})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("Build() returned %d errors, want 2", len(out))
	}
	if out[0].RuleID != "req-gender" || out[1].RuleID != "req-gender-2" {
		t.Errorf("rule ids = %q, %q", out[0].RuleID, out[1].RuleID)
	}
}

func TestBuildCatalogViolation(t *testing.T) {
	doc := mustDoc(t)

	tests := []struct {
		name string
		in   Inputs
	}{
		{
			name: "wrong details kind",
			in: Inputs{Project: []issue.ValidationError{func() issue.ValidationError {
				ve := required("Patient", "Patient[id='p1'].gender", "gender")
				ve.Details = issue.PatternDetails{Pattern: "^x$"}
				return ve
			}()}},
		},
		{
			name: "missing details field",
			in:   Inputs{Project: []issue.ValidationError{required("Patient", "Patient[id='p1'].gender", "")}},
		},
		{
			name: "delivered by another producer",
			in:   Inputs{Model: []issue.ValidationError{dangling("Observation[id='o1'].subject", "Patient/missing")}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Build(doc, tt.in)
			if err == nil {
				t.Fatalf("Build() = %d errors, want catalog error", len(out))
			}
			var ce *CatalogError
			if !errors.As(err, &ce) {
				t.Errorf("error type = %T, want *CatalogError", err)
			}
		})
	}
}

func TestBuildEmpty(t *testing.T) {
	out, err := Build(mustDoc(t), Inputs{})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 0 {
		t.Errorf("Build() = %v, want empty", out)
	}
}

func TestBuildEdgeLocations(t *testing.T) {
	doc, err := document.Parse([]byte(`{"resourceType":"Bundle","type":"collection","entry":[
		{"resource":{"resourceType":"Patient","id":"dup","name":[{"family":"A"}]}},
		{"resource":{"resourceType":"Patient","id":"dup","name":[{"given":["B"]}]}},
		{"resource":{"resourceType":"Basic","id":"b1","foo-bar":"x"}}
	]}`))
	if err != nil {
		t.Fatal(err)
	}

	out, err := Build(doc, Inputs{
		Structural: []issue.ValidationError{badID("Basic", "Bundle.entry[2].resource.foo-bar", "x")},
		Project: []issue.ValidationError{
			required("Patient", "Bundle.entry[1].resource.name[0].family", "family"),
			required("Patient", "Bundle.entry[0].resource.name[4].family", "family"),
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	want := map[string]struct {
		pointer string
		exact   bool
	}{
		"Bundle.entry[2].resource.foo-bar":        {"#/entry/2/resource", false},
		"Bundle.entry[1].resource.name[0].family": {"#/entry/1/resource/name/0", false},
		"Bundle.entry[0].resource.name[4].family": {"#/entry/0/resource", false},
	}
	if len(out) != len(want) {
		t.Fatalf("got %d errors, want %d", len(out), len(want))
	}
	for _, e := range out {
		w, ok := want[e.Path]
		if !ok {
			t.Errorf("unexpected path %q", e.Path)
			continue
		}
		if e.Location == nil {
			t.Fatalf("%s: no location", e.Path)
		}
		if e.Location.Pointer != w.pointer || e.Location.IsExact != w.exact {
			t.Errorf("%s: location = %+v, want pointer %s exact %v", e.Path, *e.Location, w.pointer, w.exact)
		}
		if !e.Location.IsExact && len(e.Location.MissingSegments) == 0 {
			t.Errorf("%s: inexact location without missing segments", e.Path)
		}
		if _, ok := doc.Lookup(e.Location.Pointer); !ok {
			t.Errorf("%s: pointer %q does not resolve", e.Path, e.Location.Pointer)
		}
	}
}
