package issue

import (
	"errors"
	"testing"
)

func TestSourcePriority(t *testing.T) {
	order := []Source{SourceStructure, SourceModel, SourceProject, SourceTerminology, SourceReference}
	for i := 1; i < len(order); i++ {
		if order[i-1].Priority() >= order[i].Priority() {
			t.Errorf("%s should sort before %s", order[i-1], order[i])
		}
	}
	if Source("Other").Priority() <= SourceReference.Priority() {
		t.Error("unknown sources should sort last")
	}
}

func TestSummarize(t *testing.T) {
	errs := []ValidationError{
		{Source: SourceStructure, Severity: SeverityError},
		{Source: SourceProject, Severity: SeverityWarning},
		{Source: SourceProject, Severity: SeverityError},
		{Source: SourceTerminology, Severity: SeverityError},
		{Source: SourceTerminology, Severity: SeverityInfo},
	}

	s := Summarize(errs)
	if s.Total != 5 {
		t.Errorf("Total = %d, want 5", s.Total)
	}
	if s.Blocking != 2 {
		t.Errorf("Blocking = %d, want 2", s.Blocking)
	}
	if s.Valid {
		t.Error("Valid = true, want false")
	}
	if s.BySource[SourceProject] != 2 {
		t.Errorf("BySource[Project] = %d, want 2", s.BySource[SourceProject])
	}
	if s.ErrorCount() != 3 || s.WarningCount() != 1 || s.InfoCount() != 1 {
		t.Errorf("counts = %d/%d/%d, want 3/1/1", s.ErrorCount(), s.WarningCount(), s.InfoCount())
	}
}

func TestSummarizeTerminologyNeverBlocks(t *testing.T) {
	s := Summarize([]ValidationError{{Source: SourceTerminology, Severity: SeverityError}})
	if !s.Valid {
		t.Error("terminology findings must not make the document invalid")
	}
}

func TestNewRendersTemplate(t *testing.T) {
	ve := New(CodeInvalidIDFormat, map[string]any{"value": "a b"}, GrammarDetails{Family: "identifier-format", Value: "a b"})
	if ve.Source != SourceStructure {
		t.Errorf("Source = %s, want Structure", ve.Source)
	}
	if ve.Severity != SeverityError {
		t.Errorf("Severity = %s, want error", ve.Severity)
	}
	want := "Invalid id 'a b': must be 1-64 characters of [A-Za-z0-9-.]"
	if ve.Message != want {
		t.Errorf("Message = %q, want %q", ve.Message, want)
	}
}

func TestSeal(t *testing.T) {
	one := 1
	tests := []struct {
		name    string
		ve      ValidationError
		wantErr bool
	}{
		{
			name: "fixed code with matching details",
			ve:   New(CodeEmptyString, nil, GrammarDetails{Family: "string-text"}),
		},
		{
			name:    "fixed code with wrong kind",
			ve:      New(CodeEmptyString, nil, DocumentDetails{Reason: "x"}),
			wantErr: true,
		},
		{
			name:    "nil details",
			ve:      New(CodeEmptyString, nil, nil),
			wantErr: true,
		},
		{
			name: "project rule code resolved through rule type",
			ve: ValidationError{
				Source: SourceProject, Severity: SeverityError, ErrorCode: "PAT_NAME_LEN",
				RuleType: "ArrayLength", Details: ArrayLengthDetails{Min: &one, Actual: 0},
			},
		},
		{
			name: "project rule with mismatched kind",
			ve: ValidationError{
				Source: SourceProject, Severity: SeverityError, ErrorCode: "PAT_NAME_LEN",
				RuleType: "ArrayLength", Details: PatternDetails{Pattern: "x"},
			},
			wantErr: true,
		},
		{
			name: "unknown code outside project source",
			ve: ValidationError{
				Source: SourceModel, Severity: SeverityError, ErrorCode: "SOMETHING",
				Details: ModelDetails{OriginalMessage: "x"},
			},
			wantErr: true,
		},
		{
			name: "catalog code claimed by another source",
			ve: ValidationError{
				Source: SourceProject, Severity: SeverityError, ErrorCode: CodeEmptyString,
				RuleType: "Regex", Details: GrammarDetails{Family: "x"},
			},
			wantErr: true,
		},
		{
			name:    "malformed details",
			ve:      New(CodeDanglingReference, nil, DanglingReferenceDetails{}),
			wantErr: true,
		},
		{
			name:    "composition without diff buckets",
			ve:      ValidationError{Source: SourceProject, Severity: SeverityError, ErrorCode: "COMP", RuleType: "ResourceComposition", Details: CompositionDetails{}},
			wantErr: true,
		},
		{
			name: "invalid severity",
			ve: ValidationError{
				Source: SourceProject, Severity: "fatal", ErrorCode: "X",
				RuleType: "Regex", Details: PatternDetails{Pattern: "x"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Seal(&tt.ve)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Seal() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var ce *CatalogError
				if !errors.As(err, &ce) {
					t.Errorf("error %T is not a *CatalogError", err)
				}
			}
		})
	}
}

func TestCodesSorted(t *testing.T) {
	codes := Codes()
	for i := 1; i < len(codes); i++ {
		if codes[i-1] >= codes[i] {
			t.Fatalf("Codes() not sorted at %d: %q >= %q", i, codes[i-1], codes[i])
		}
	}
	for _, c := range codes {
		e, _ := Lookup(c)
		if e.Kind == "" {
			t.Errorf("code %s has no detail kind", c)
		}
	}
}
