package reference

import (
	"context"
	"testing"

	"github.com/gofhir/bundlevalidator/pkg/document"
	"github.com/gofhir/bundlevalidator/pkg/issue"
)

func TestParse(t *testing.T) {
	tests := []struct {
		ref   string
		valid bool
		kind  Kind
		typ   string
		id    string
	}{
		{"Patient/123", true, KindRelative, "Patient", "123"},
		{"Patient/123/_history/2", true, KindRelative, "Patient", "123"},
		{"http://example.org/fhir/Observation/o-1", true, KindAbsolute, "Observation", "o-1"},
		{"#c1", true, KindFragment, "", "c1"},
		{"#", true, KindFragment, "", ""},
		{"urn:uuid:6b2f2d4c-5a8e-4d6f-9d0e-1c2b3a4d5e6f", true, KindURN, "", ""},
		{"urn:oid:1.2.3", true, KindURN, "", ""},
		{"https://example.org/some/page", true, KindURL, "", ""},
		{"not a reference", false, 0, "", ""},
		{"patient/1", false, 0, "", ""},
		{"urn:uuid:", false, 0, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			l, ok := Parse(tt.ref)
			if ok != tt.valid {
				t.Fatalf("Parse(%q) valid = %v, want %v", tt.ref, ok, tt.valid)
			}
			if !ok {
				return
			}
			if l.Kind != tt.kind || l.Type != tt.typ || l.ID != tt.id {
				t.Errorf("Parse(%q) = %s %q %q, want %s %q %q", tt.ref, l.Kind, l.Type, l.ID, tt.kind, tt.typ, tt.id)
			}
		})
	}
}

func TestExtractIDFromFullURL(t *testing.T) {
	tests := map[string]string{
		"http://example.org/fhir/Patient/123":            "123",
		"http://example.org/fhir/Patient/123/_history/1": "123",
		"urn:uuid:abc":                                   "abc",
		"urn:oid:1.2.3":                                  "",
		"http://example.org/":                            "",
		"noslash":                                        "",
	}
	for in, want := range tests {
		if got := ExtractIDFromFullURL(in); got != want {
			t.Errorf("ExtractIDFromFullURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTypeFromProfile(t *testing.T) {
	tests := []struct{ profile, want string }{
		{"http://hl7.org/fhir/StructureDefinition/Patient", "Patient"},
		{"http://example.org/fhir/StructureDefinition/MyPatient", "MyPatient"},
		{"Organization", "Organization"},
	}
	for _, tt := range tests {
		if got := TypeFromProfile(tt.profile); got != tt.want {
			t.Errorf("TypeFromProfile(%q) = %q, want %q", tt.profile, got, tt.want)
		}
	}
}

const bundleJSON = `{"resourceType":"Bundle","type":"transaction","entry":[
	{"fullUrl":"urn:uuid:6b2f2d4c-5a8e-4d6f-9d0e-1c2b3a4d5e6f","resource":{"resourceType":"Patient","id":"p1"}},
	{"fullUrl":"http://example.org/fhir/Practitioner/dr","resource":{"resourceType":"Practitioner","id":"dr"}},
	{"fullUrl":"urn:uuid:6b2f2d4c-5a8e-4d6f-9d0e-1c2b3a4d5e6f","resource":{"resourceType":"Observation",
		"contained":[{"resourceType":"Device","id":"dev"}],
		"subject":{"reference":"urn:uuid:6b2f2d4c-5a8e-4d6f-9d0e-1c2b3a4d5e6f"},
		"performer":[
			{"reference":"Practitioner/dr"},
			{"reference":"http://example.org/fhir/Practitioner/dr/_history/3"},
			{"reference":"http://example.org/fhir/Practitioner/nobody"},
			{"reference":"http://elsewhere.org/fhir/Practitioner/x"},
			{"reference":"Organization/missing"}
		],
		"device":{"reference":"#dev"},
		"specimen":{"reference":"#nope"},
		"encounter":{"reference":"Encounter/e1"},
		"note":[{"text":"no refs"}]}}
]}`

func TestCatalog(t *testing.T) {
	doc, err := document.Parse([]byte(bundleJSON))
	if err != nil {
		t.Fatal(err)
	}
	c := FromDocument(doc)

	tests := []struct {
		ref   string
		found bool
		typ   string
		index int
	}{
		{"urn:uuid:6b2f2d4c-5a8e-4d6f-9d0e-1c2b3a4d5e6f", true, "Patient", 0},
		{"Patient/p1", true, "Patient", 0},
		{"Practitioner/dr", true, "Practitioner", 1},
		{"http://example.org/fhir/Practitioner/dr", true, "Practitioner", 1},
		{"Practitioner/dr/_history/9", true, "Practitioner", 1},
		{"Patient/p2", false, "", 0},
		{"#dev", false, "", 0},
	}
	for _, tt := range tests {
		got, ok := c.Resolve(tt.ref)
		if ok != tt.found {
			t.Errorf("Resolve(%q) found = %v, want %v", tt.ref, ok, tt.found)
			continue
		}
		if ok && (got.ResourceType != tt.typ || got.Index != tt.index) {
			t.Errorf("Resolve(%q) = %+v", tt.ref, got)
		}
	}

	extra := NewCatalog()
	extra.Add("Encounter/e1", "")
	c.Merge(extra)
	if got, ok := c.Resolve("Encounter/e1"); !ok || got.Index != External || got.ResourceType != "Encounter" {
		t.Errorf("merged Resolve = %+v, %v", got, ok)
	}
}

func TestChecker(t *testing.T) {
	doc, err := document.Parse([]byte(bundleJSON))
	if err != nil {
		t.Fatal(err)
	}
	extra := NewCatalog()
	extra.Add("Encounter/e1", "Encounter")

	errs, err := NewChecker(doc, extra).Check(context.Background(), doc)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{
		"Bundle.entry[2].fullUrl":                         issue.CodeDuplicateFullURL,
		"Bundle.entry[2].resource.performer[2].reference": issue.CodeDanglingReference,
		"Bundle.entry[2].resource.performer[4].reference": issue.CodeDanglingReference,
		"Bundle.entry[2].resource.specimen.reference":     issue.CodeDanglingReference,
	}
	if len(errs) != len(want) {
		t.Fatalf("got %d findings, want %d: %+v", len(errs), len(want), errs)
	}
	for _, e := range errs {
		if want[e.Path] != e.ErrorCode {
			t.Errorf("unexpected %s at %s", e.ErrorCode, e.Path)
		}
		if e.Source != issue.SourceReference {
			t.Errorf("%s: source %s", e.Path, e.Source)
		}
		if err := issue.Seal(&e); err != nil {
			t.Error(err)
		}
	}
	if d := errs[0].Details.(issue.DuplicateDetails); d.FirstIndex != 0 {
		t.Errorf("FirstIndex = %d, want 0", d.FirstIndex)
	}
}
