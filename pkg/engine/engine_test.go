package engine

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/gofhir/bundlevalidator/pkg/document"
	"github.com/gofhir/bundlevalidator/pkg/issue"
	"github.com/gofhir/bundlevalidator/pkg/model"
	"github.com/gofhir/bundlevalidator/pkg/rules"
	"github.com/gofhir/bundlevalidator/pkg/terminology"
)

const bundleJSON = `{"resourceType":"Bundle","type":"collection","entry":[
 {"fullUrl":"http://example.org/fhir/Patient/p1","resource":{"resourceType":"Patient","id":"p1","gender":"female",
   "name":[{"use":"official","family":"Ito"},{"use":"nickname","family":"Sato"}],
   "identifier":[{"system":"urn:oid:1.2.3","value":"A-12"},{"system":"urn:oid:1.2.3","value":"b9"}]}},
 {"fullUrl":"http://example.org/fhir/Observation/o1","resource":{"resourceType":"Observation","id":"o1","status":"final",
   "code":{"coding":[{"system":"http://loinc.org","code":"85354-9"}]},
   "subject":{"reference":"Patient/p1"},
   "valueQuantity":{"value":120.0,"unit":"mm[Hg]"},
   "component":[
     {"code":{"coding":[{"code":"Q1"}]},"valueCodeableConcept":{"coding":[{"code":"A1"}]}},
     {"code":{"coding":[{"code":"Q2"}]},"valueCodeableConcept":{"coding":[{"code":"A1"}]}},
     {"code":{"coding":[{"code":"Q9"}]}},
     {"code":{"coding":[{"code":"Q2"}]}}
   ]}},
 {"fullUrl":"http://example.org/fhir/Observation/o-two","resource":{"resourceType":"Observation","id":"o2","status":"preliminary",
   "code":{"coding":[{"system":"http://loinc.org","code":"XX"}]},
   "subject":{"reference":"Organization/org1"}}},
 {"fullUrl":"http://example.org/fhir/Organization/org1","resource":{"resourceType":"Organization","id":"org1"}}
]}`

const terminologyYAML = `
terminologies:
  - url: http://loinc.org
    name: loinc-lite
    concepts:
      - code: 85354-9
        display: Blood pressure panel
  - url: http://example.org/cs/qa
    name: qa
    concepts:
      - code: Q1
        concepts:
          - code: A1
          - code: A2
      - code: Q2
        concepts:
          - code: B1
`

const rulesYAML = `
version: "1"
rules:
  - id: req-family
    type: Required
    resourceType: Patient
    path: name.family
  - id: req-birth
    type: Required
    resourceType: Patient
    path: birthDate
  - id: obs-status
    type: AllowedValues
    resourceType: Observation
    path: status
    message: Observation status must be final or amended
    params:
      values: [final, amended]
  - id: name-use
    type: AllowedValues
    resourceType: Patient
    path: name.use
    params:
      values: [official, usual]
  - id: bp-value
    type: FixedValue
    resourceType: Observation
    path: "Observation[code.coding.code='85354-9'].valueQuantity.value"
    params:
      value: 120
  - id: ident-format
    type: Regex
    resourceType: Patient
    path: identifier.value
    params:
      pattern: "[A-Z]-[0-9]+"
  - id: subject-ref
    type: Reference
    resourceType: Observation
    path: subject
    params:
      targetTypes: [Patient]
  - id: identifier-count
    type: ArrayLength
    resourceType: Patient
    path: identifier
    severity: warning
    params:
      max: 1
  - id: loinc
    type: CodeSystem
    resourceType: Observation
    path: code.coding.code
    params:
      terminology: loinc-lite
  - id: qa
    type: CodeMaster
    resourceType: Observation
    path: component
    params:
      terminology: qa
      questionPath: code.coding.code
      answerPath: valueCodeableConcept.coding.code
  - id: fullurl
    type: FullUrlIdMatch
    resourceType: Bundle
  - id: scenario-d
    type: FixedValue
    resourceType: Patient
    path: maritalStatus.text
    params:
      value: x
  - id: composition
    type: ResourceComposition
    resourceType: Bundle
    params:
      closedWorld: true
      resources:
        - resourceType: Patient
          min: 1
          max: 1
        - resourceType: Observation
          where: "status='final'"
          min: 2
  - id: custom-false
    type: CustomExpression
    resourceType: Patient
    params:
      expression: "gender = 'male'"
  - id: custom-nonbool
    type: CustomExpression
    resourceType: Patient
    params:
      expression: name.family
  - id: custom-bad
    type: CustomExpression
    resourceType: Patient
    params:
      expression: "name.where("
`

func mustGraph(t *testing.T, raw string) *model.Graph {
	t.Helper()
	doc, err := document.Parse([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	return model.NewGraph(doc)
}

func mustRules(t *testing.T, data string) *rules.RuleSet {
	t.Helper()
	rs, err := rules.Parse([]byte(data))
	if err != nil {
		t.Fatalf("rules.Parse() error: %v", err)
	}
	return rs
}

func mustEnv(t *testing.T) Env {
	t.Helper()
	reg := terminology.NewRegistry()
	if _, err := reg.LoadCompact([]byte(terminologyYAML)); err != nil {
		t.Fatal(err)
	}
	return Env{Terminology: reg}
}

func keys(errs []issue.ValidationError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.RuleID + " | " + e.Path + " | " + e.ErrorCode
	}
	sort.Strings(out)
	return out
}

func TestEvaluate(t *testing.T) {
	errs, err := New().Evaluate(context.Background(), mustGraph(t, bundleJSON), mustRules(t, rulesYAML), mustEnv(t))
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}

	want := []string{
		"req-birth | Patient[id='p1'].birthDate | REQUIRED_VALUE_MISSING",
		"obs-status | Observation[id='o2'].status | VALUE_NOT_ALLOWED",
		"name-use | Patient[id='p1'].name[1].use | VALUE_NOT_ALLOWED",
		"ident-format | Patient[id='p1'].identifier[1].value | PATTERN_MISMATCH",
		"subject-ref | Observation[id='o2'].subject.reference | INVALID_REFERENCE_TARGET",
		"identifier-count | Patient[id='p1'].identifier | ARRAY_LENGTH_OUT_OF_RANGE",
		"loinc | Observation[id='o2'].code.coding[0].code | CODE_NOT_IN_TERMINOLOGY",
		"qa | Observation[id='o1'].component[1].valueCodeableConcept.coding[0].code | CODE_MASTER_VIOLATION",
		"qa | Observation[id='o1'].component[2].code.coding[0].code | CODE_MASTER_VIOLATION",
		"qa | Observation[id='o1'].component[3].valueCodeableConcept.coding.code | CODE_MASTER_VIOLATION",
		"fullurl | Bundle.entry[2].fullUrl | FULLURL_ID_MISMATCH",
		"scenario-d | Patient.maritalStatus.text | RULE_EVALUATION_ERROR",
		"composition | Bundle | RESOURCE_COMPOSITION_MISMATCH",
		"custom-false | Patient[id='p1'] | CUSTOM_RULE_FAILED",
		"custom-nonbool | Patient[id='p1'] | RULE_EVALUATION_ERROR",
		"custom-bad | Patient | RULE_EVALUATION_ERROR",
	}
	sort.Strings(want)
	if got := keys(errs); !reflect.DeepEqual(got, want) {
		t.Fatalf("findings mismatch\n got: %q\nwant: %q", got, want)
	}

	byRule := make(map[string][]issue.ValidationError)
	for i := range errs {
		e := errs[i]
		if e.Source != issue.SourceProject {
			t.Errorf("%s: source %s", e.RuleID, e.Source)
		}
		if err := issue.Seal(&e); err != nil {
			t.Errorf("Seal(%s): %v", e.RuleID, err)
		}
		byRule[e.RuleID] = append(byRule[e.RuleID], e)
	}

	if got := byRule["obs-status"][0].Message; got != "Observation status must be final or amended" {
		t.Errorf("message rewritten: %q", got)
	}
	if got := byRule["identifier-count"][0]; got.Severity != issue.SeverityWarning || got.Details.(issue.ArrayLengthDetails).Actual != 2 {
		t.Errorf("identifier-count = %+v", got)
	}
	if d := byRule["subject-ref"][0].Details.(issue.ReferenceTargetDetails); d.Reason != reasonTypeNotAllowed || d.ActualType != "Organization" {
		t.Errorf("subject-ref details = %+v", d)
	}

	reasons := map[string]bool{}
	for _, e := range byRule["qa"] {
		reasons[e.Details.(issue.CodeMasterDetails).Reason] = true
	}
	for _, r := range []string{reasonAnswerNotAllowed, reasonUnknownQuestion, reasonMissingAnswer} {
		if !reasons[r] {
			t.Errorf("qa: missing reason %s", r)
		}
	}

	evalReasons := map[string]string{
		"scenario-d":     issue.ReasonPathNotFound,
		"custom-nonbool": issue.ReasonNonBoolean,
		"custom-bad":     issue.ReasonExpressionError,
	}
	for id, reason := range evalReasons {
		e := byRule[id][0]
		if d := e.Details.(issue.RuleEvaluationDetails); d.Reason != reason {
			t.Errorf("%s: reason %q, want %q", id, d.Reason, reason)
		}
		if e.Severity != issue.SeverityWarning {
			t.Errorf("%s: severity %s", id, e.Severity)
		}
	}

	d := byRule["composition"][0].Details.(issue.CompositionDetails)
	wantMissing := []issue.MissingCount{{ResourceType: "Observation[status='final']", ExpectedMin: 2, ActualCount: 1}}
	wantUnexpected := []issue.ActualCount{{ResourceType: "Organization", Count: 1}}
	if !reflect.DeepEqual(d.Diff.Missing, wantMissing) || !reflect.DeepEqual(d.Diff.Unexpected, wantUnexpected) || len(d.Diff.Excess) != 0 {
		t.Errorf("composition diff = %+v", d.Diff)
	}
	if len(d.Actual) != 3 {
		t.Errorf("composition actual = %+v", d.Actual)
	}
}

// A declared type absent from the document yields exactly one error with
// an explicit diff.
func TestCompositionMissingPatient(t *testing.T) {
	g := mustGraph(t, `{"resourceType":"Bundle","entry":[{"resource":{"resourceType":"Observation","id":"o1"}}]}`)
	rs := mustRules(t, `
rules:
  - id: one-patient
    type: ResourceComposition
    resourceType: Bundle
    params:
      resources:
        - resourceType: Patient
          min: 1
          max: 1
`)
	errs, err := New().Evaluate(context.Background(), g, rs, Env{})
	if err != nil {
		t.Fatal(err)
	}
	if len(errs) != 1 {
		t.Fatalf("got %d errors, want 1: %+v", len(errs), errs)
	}
	one := 1
	want := issue.CompositionDetails{
		Expected: []issue.ExpectedCount{{ResourceType: "Patient", Min: 1, Max: &one}},
		Actual:   []issue.ActualCount{{ResourceType: "Patient", Count: 0}},
		Diff: issue.CompositionDiff{
			Missing:    []issue.MissingCount{{ResourceType: "Patient", ExpectedMin: 1, ActualCount: 0}},
			Unexpected: []issue.ActualCount{},
			Excess:     []issue.ExcessCount{},
		},
	}
	if got := errs[0].Details; !reflect.DeepEqual(got, want) {
		t.Errorf("details = %+v\nwant %+v", got, want)
	}
}

func TestEvaluateUnknownTerminology(t *testing.T) {
	rs := mustRules(t, `
rules:
  - id: loinc
    type: CodeSystem
    resourceType: Observation
    path: code.coding.code
    params:
      terminology: missing
`)
	errs, err := New().Evaluate(context.Background(), mustGraph(t, bundleJSON), rs, Env{})
	if err != nil {
		t.Fatal(err)
	}
	if len(errs) != 1 || errs[0].Details.(issue.RuleEvaluationDetails).Reason != issue.ReasonUnknownSet {
		t.Errorf("errs = %+v", errs)
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	g := mustGraph(t, bundleJSON)
	rs := mustRules(t, rulesYAML)
	env := mustEnv(t)
	e := New(WithConcurrency(3))

	first, err := e.Evaluate(context.Background(), g, rs, env)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		again, err := e.Evaluate(context.Background(), g, rs, env)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differs", i)
		}
	}
	if s := e.ExpressionCacheStats(); s.Size != 2 {
		t.Errorf("expression cache size = %d, want 2", s.Size)
	}
}

func TestEvaluateOrderIndependent(t *testing.T) {
	reordered := `{"resourceType":"Bundle","type":"collection","entry":[
 {"fullUrl":"http://example.org/fhir/Organization/org1","resource":{"resourceType":"Organization","id":"org1"}},
 {"fullUrl":"http://example.org/fhir/Observation/o-two","resource":{"resourceType":"Observation","id":"o2","status":"preliminary",
   "code":{"coding":[{"system":"http://loinc.org","code":"XX"}]},
   "subject":{"reference":"Organization/org1"}}},
 {"fullUrl":"http://example.org/fhir/Observation/o1","resource":{"resourceType":"Observation","id":"o1","status":"final",
   "code":{"coding":[{"system":"http://loinc.org","code":"85354-9"}]},
   "subject":{"reference":"Patient/p1"},
   "valueQuantity":{"value":120.0,"unit":"mm[Hg]"},
   "component":[
     {"code":{"coding":[{"code":"Q1"}]},"valueCodeableConcept":{"coding":[{"code":"A1"}]}},
     {"code":{"coding":[{"code":"Q2"}]},"valueCodeableConcept":{"coding":[{"code":"A1"}]}},
     {"code":{"coding":[{"code":"Q9"}]}},
     {"code":{"coding":[{"code":"Q2"}]}}
   ]}},
 {"fullUrl":"http://example.org/fhir/Patient/p1","resource":{"resourceType":"Patient","id":"p1","gender":"female",
   "name":[{"use":"official","family":"Ito"},{"use":"nickname","family":"Sato"}],
   "identifier":[{"system":"urn:oid:1.2.3","value":"A-12"},{"system":"urn:oid:1.2.3","value":"b9"}]}}
]}`
	rs := mustRules(t, rulesYAML)
	env := mustEnv(t)

	a, err := New().Evaluate(context.Background(), mustGraph(t, bundleJSON), rs, env)
	if err != nil {
		t.Fatal(err)
	}
	b, err := New().Evaluate(context.Background(), mustGraph(t, reordered), rs, env)
	if err != nil {
		t.Fatal(err)
	}

	// Only the fullUrl finding is addressed by entry position.
	strip := func(errs []issue.ValidationError) []string {
		var out []string
		for _, k := range keys(errs) {
			if !strings.HasPrefix(k, "fullurl ") {
				out = append(out, k)
			}
		}
		return out
	}
	if !reflect.DeepEqual(strip(a), strip(b)) {
		t.Errorf("findings depend on entry order\n a: %q\n b: %q", strip(a), strip(b))
	}
}

func TestEvaluateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Evaluate(ctx, mustGraph(t, bundleJSON), mustRules(t, rulesYAML), mustEnv(t))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestEvaluateRuleTimeout(t *testing.T) {
	rs := mustRules(t, `
rules:
  - id: req-birth
    type: Required
    resourceType: Patient
    path: birthDate
`)
	errs, err := New(WithRuleTimeout(time.Nanosecond)).Evaluate(context.Background(), mustGraph(t, bundleJSON), rs, Env{})
	if err != nil {
		t.Fatalf("timeout must not abort evaluation: %v", err)
	}
	if len(errs) != 1 || errs[0].ErrorCode != issue.CodeRuleEvaluationError {
		t.Fatalf("errs = %+v", errs)
	}
	if d := errs[0].Details.(issue.RuleEvaluationDetails); d.Reason != issue.ReasonTimeout {
		t.Errorf("reason = %q", d.Reason)
	}
}

func TestEqual(t *testing.T) {
	tests := []struct {
		name     string
		actual   any
		expected any
		want     bool
	}{
		{"string", "final", "final", true},
		{"string mismatch", "final", "amended", false},
		{"decimal scale", jsonNumber("1.50"), 1.5, true},
		{"integer", jsonNumber("120.0"), 120, true},
		{"number vs string", jsonNumber("1"), "1", false},
		{"bool", true, true, true},
		{"object subset", map[string]any{"system": "s", "code": "c", "display": "d"}, map[string]any{"system": "s", "code": "c"}, true},
		{"object mismatch", map[string]any{"code": "c"}, map[string]any{"code": "x"}, false},
		{"array", []any{"a", "b"}, []any{"a", "b"}, true},
		{"array length", []any{"a"}, []any{"a", "b"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := equal(tt.actual, tt.expected); got != tt.want {
				t.Errorf("equal(%v, %v) = %v, want %v", tt.actual, tt.expected, got, tt.want)
			}
		})
	}
}

func jsonNumber(s string) json.Number { return json.Number(s) }

func TestEvaluateDuplicateIDsUsePositions(t *testing.T) {
	g := mustGraph(t, `{"resourceType":"Bundle","type":"collection","entry":[
		{"resource":{"resourceType":"Patient","id":"dup","name":[{"family":"A"}]}},
		{"resource":{"resourceType":"Patient","id":"dup","name":[{"given":["B"]}]}},
		{"resource":{"resourceType":"Patient","id":"solo","name":[{"given":["C"]}]}}
	]}`)
	rs := mustRules(t, `
rules:
  - id: req-family
    type: Required
    resourceType: Patient
    path: name.family
`)
	errs, err := New().Evaluate(context.Background(), g, rs, Env{})
	if err != nil {
		t.Fatal(err)
	}
	got := keys(errs)
	want := []string{
		"req-family | Bundle.entry[1].resource.name.family | REQUIRED_VALUE_MISSING",
		"req-family | Patient[id='solo'].name.family | REQUIRED_VALUE_MISSING",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("errors = %v, want %v", got, want)
	}
}
