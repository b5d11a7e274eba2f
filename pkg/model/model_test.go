package model

import (
	"context"
	"errors"
	"testing"

	"github.com/gofhir/bundlevalidator/pkg/document"
	"github.com/gofhir/bundlevalidator/pkg/issue"
)

const bundleJSON = `{"resourceType":"Bundle","type":"collection","entry":[
	{"fullUrl":"urn:uuid:a","resource":{"resourceType":"Patient","id":"p1"}},
	{"fullUrl":"urn:uuid:b","resource":{"resourceType":"Observation","id":"o1","status":"final"}},
	{"fullUrl":"urn:uuid:c","resource":{"resourceType":"FancyThing","id":"x"}},
	{"fullUrl":"urn:uuid:d","resource":{"resourceType":"Observation","id":"o2"}}
]}`

func mustParse(t *testing.T, raw string) *document.Document {
	t.Helper()
	doc, err := document.Parse([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func TestGraph(t *testing.T) {
	g := NewGraph(mustParse(t, bundleJSON))

	if len(g.Nodes()) != 4 {
		t.Fatalf("Nodes() = %d, want 4", len(g.Nodes()))
	}
	obs := g.OfType("Observation")
	if len(obs) != 2 || obs[0].ID != "o1" || obs[1].ID != "o2" {
		t.Errorf("OfType(Observation) = %+v", obs)
	}
	if got := g.Counts()["Observation"]; got != 2 {
		t.Errorf("Counts()[Observation] = %d", got)
	}
	data := obs[0].JSON()
	if string(data) != string(obs[0].JSON()) || len(data) == 0 {
		t.Errorf("JSON() not stable: %s", data)
	}
}

func TestReclassify(t *testing.T) {
	res := &document.Resource{Index: 3, ResourceType: "Patient"}
	tests := []struct {
		name    string
		element string
		message string
		code    string
		path    string
	}{
		{"unknown field", "", `json: unknown field "nickname"`, issue.CodeModelUnknownElement, "Bundle.entry[3].resource.nickname"},
		{"type mismatch", "active", "json: cannot unmarshal string into Go struct field Patient.active of type bool", issue.CodeModelTypeMismatch, "Bundle.entry[3].resource.active"},
		{"other", "", "invariant failed", issue.CodeModelInvalidResource, "Bundle.entry[3].resource"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ve := Reclassify(res, tt.element, tt.message)
			if ve.ErrorCode != tt.code || ve.Path != tt.path {
				t.Errorf("got %s at %s, want %s at %s", ve.ErrorCode, ve.Path, tt.code, tt.path)
			}
			if ve.Source != issue.SourceModel || ve.Message != tt.message {
				t.Errorf("source %s message %q", ve.Source, ve.Message)
			}
			if d := ve.Details.(issue.ModelDetails); d.OriginalMessage != tt.message {
				t.Errorf("OriginalMessage = %q", d.OriginalMessage)
			}
			if err := issue.Seal(&ve); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestFunc(t *testing.T) {
	doc := mustParse(t, bundleJSON)
	var seen []string
	v := Func(func(_ context.Context, rt string, data []byte) ([]Finding, error) {
		seen = append(seen, rt)
		if rt == "Patient" {
			return []Finding{{Path: "name", Message: "minimum cardinality of 'name' is 1"}}, nil
		}
		return nil, nil
	})

	g, errs, err := v.Validate(context.Background(), doc)
	if err != nil {
		t.Fatal(err)
	}
	if len(seen) != 4 || len(g.Nodes()) != 4 {
		t.Errorf("visited %v", seen)
	}
	if len(errs) != 1 || errs[0].Path != "Bundle.entry[0].resource.name" || errs[0].ErrorCode != issue.CodeModelInvalidResource {
		t.Errorf("errs = %+v", errs)
	}

	boom := errors.New("boom")
	failing := Func(func(context.Context, string, []byte) ([]Finding, error) { return nil, boom })
	if _, _, err := failing.Validate(context.Background(), doc); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}

func TestR4ValidatorUnsupported(t *testing.T) {
	v := NewR4Validator(WithConcurrency(2))
	if !v.Supports("Patient") || v.Supports("FancyThing") {
		t.Fatal("unexpected Supports result")
	}

	g, errs, err := v.Validate(context.Background(), mustParse(t, bundleJSON))
	if err != nil {
		t.Fatal(err)
	}
	var unsupported []issue.ValidationError
	for _, e := range errs {
		if e.ErrorCode == issue.CodeModelUnsupportedResource {
			unsupported = append(unsupported, e)
		}
	}
	if len(unsupported) != 1 || unsupported[0].Path != "Bundle.entry[2].resource" {
		t.Fatalf("unsupported = %+v", unsupported)
	}
	if unsupported[0].Severity != issue.SeverityInfo {
		t.Errorf("severity = %s", unsupported[0].Severity)
	}
	if g.Nodes()[2].Typed != nil {
		t.Error("unsupported node should stay untyped")
	}
}

func TestR4ValidatorCustomType(t *testing.T) {
	type fancy struct {
		ID string `json:"id"`
	}
	v := NewR4Validator(WithResourceType("FancyThing", func() any { return new(fancy) }))
	g, errs, err := v.Validate(context.Background(), mustParse(t, bundleJSON))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range errs {
		if e.Path == "Bundle.entry[2].resource" {
			t.Errorf("unexpected finding %+v", e)
		}
	}
	f, ok := g.Nodes()[2].Typed.(*fancy)
	if !ok || f.ID != "x" {
		t.Errorf("Typed = %#v", g.Nodes()[2].Typed)
	}

	bad := mustParse(t, `{"resourceType":"Bundle","entry":[{"resource":{"resourceType":"FancyThing","id":"x","colour":"red"}}]}`)
	_, errs, err = v.Validate(context.Background(), bad)
	if err != nil {
		t.Fatal(err)
	}
	if len(errs) != 1 || errs[0].ErrorCode != issue.CodeModelUnknownElement || errs[0].Path != "Bundle.entry[0].resource.colour" {
		t.Errorf("errs = %+v", errs)
	}
}

func TestR4ValidatorCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := NewR4Validator().Validate(ctx, mustParse(t, bundleJSON)); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
