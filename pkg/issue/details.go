package issue

import (
	"errors"
	"fmt"
)

// DetailKind names one shape in the closed details catalog.
type DetailKind string

// Detail kinds.
const (
	KindDocument          DetailKind = "document"
	KindGrammar           DetailKind = "grammar"
	KindVariant           DetailKind = "variant"
	KindReferenceFormat   DetailKind = "reference-format"
	KindModel             DetailKind = "model"
	KindMissingValue      DetailKind = "missing-value"
	KindValueMismatch     DetailKind = "value-mismatch"
	KindValueNotAllowed   DetailKind = "value-not-allowed"
	KindPattern           DetailKind = "pattern"
	KindReferenceTarget   DetailKind = "reference-target"
	KindArrayLength       DetailKind = "array-length"
	KindCode              DetailKind = "code"
	KindCodeMaster        DetailKind = "code-master"
	KindFullURL           DetailKind = "fullurl"
	KindExpression        DetailKind = "expression"
	KindComposition       DetailKind = "resource-composition"
	KindRuleEvaluation    DetailKind = "rule-evaluation"
	KindDisplay           DetailKind = "display"
	KindDanglingReference DetailKind = "dangling-reference"
	KindDuplicate         DetailKind = "duplicate"
)

// Details is the typed payload of a ValidationError. The set of
// implementations is closed to this package.
type Details interface {
	Kind() DetailKind
	check() error
}

// DocumentDetails describes an unusable input document.
type DocumentDetails struct {
	Reason string `json:"reason"`
}

// GrammarDetails describes a lexical grammar violation.
type GrammarDetails struct {
	Family   string `json:"family"`
	Value    string `json:"value"`
	Expected string `json:"expected,omitempty"`
}

// VariantDetails describes a polymorphic field exclusivity violation.
type VariantDetails struct {
	Base    string   `json:"base"`
	Present []string `json:"present"`
}

// ReferenceFormatDetails describes a malformed or inconsistent reference.
type ReferenceFormatDetails struct {
	Reference    string `json:"reference"`
	DeclaredType string `json:"declaredType,omitempty"`
	LiteralType  string `json:"literalType,omitempty"`
}

// ModelDetails carries a reclassified external validator finding.
type ModelDetails struct {
	OriginalMessage string `json:"originalMessage"`
	Element         string `json:"element,omitempty"`
	ExpectedType    string `json:"expectedType,omitempty"`
}

// MissingValueDetails is attached to Required rule violations.
type MissingValueDetails struct {
	Element string `json:"element"`
}

// ValueMismatchDetails is attached to FixedValue rule violations.
type ValueMismatchDetails struct {
	Actual   string `json:"actual"`
	Expected string `json:"expected"`
}

// ValueNotAllowedDetails is attached to AllowedValues rule violations.
type ValueNotAllowedDetails struct {
	Actual  string   `json:"actual"`
	Allowed []string `json:"allowed"`
}

// PatternDetails is attached to Regex rule violations.
type PatternDetails struct {
	Actual  string `json:"actual"`
	Pattern string `json:"pattern"`
}

// ReferenceTargetDetails is attached to Reference rule violations.
type ReferenceTargetDetails struct {
	Reference    string   `json:"reference"`
	AllowedTypes []string `json:"allowedTypes,omitempty"`
	ActualType   string   `json:"actualType,omitempty"`
	Reason       string   `json:"reason"`
}

// ArrayLengthDetails is attached to ArrayLength rule violations.
type ArrayLengthDetails struct {
	Min    *int `json:"min,omitempty"`
	Max    *int `json:"max,omitempty"`
	Actual int  `json:"actual"`
}

// CodeDetails describes a code that is not in a terminology set.
type CodeDetails struct {
	Terminology string `json:"terminology,omitempty"`
	System      string `json:"system,omitempty"`
	Code        string `json:"code"`
}

// CodeMasterDetails describes a question/answer pairing violation.
type CodeMasterDetails struct {
	Terminology    string   `json:"terminology"`
	QuestionCode   string   `json:"questionCode,omitempty"`
	AnswerCode     string   `json:"answerCode,omitempty"`
	AllowedAnswers []string `json:"allowedAnswers,omitempty"`
	Reason         string   `json:"reason"`
}

// FullURLDetails describes a fullUrl that disagrees with the resource id.
type FullURLDetails struct {
	FullURL    string `json:"fullUrl"`
	ResourceID string `json:"resourceId"`
	URLID      string `json:"urlId"`
}

// ExpressionDetails is attached to CustomExpression violations.
type ExpressionDetails struct {
	Expression string `json:"expression"`
}

// ExpectedCount is one declared resource type bound.
type ExpectedCount struct {
	ResourceType string `json:"resourceType"`
	Min          int    `json:"min"`
	Max          *int   `json:"max,omitempty"`
}

// ActualCount is the observed count of one resource type.
type ActualCount struct {
	ResourceType string `json:"resourceType"`
	Count        int    `json:"count"`
}

// MissingCount is a declared type present fewer times than its minimum.
type MissingCount struct {
	ResourceType string `json:"resourceType"`
	ExpectedMin  int    `json:"expectedMin"`
	ActualCount  int    `json:"actualCount"`
}

// ExcessCount is a declared type present more times than its maximum.
type ExcessCount struct {
	ResourceType string `json:"resourceType"`
	ExpectedMax  int    `json:"expectedMax"`
	ActualCount  int    `json:"actualCount"`
}

// CompositionDiff is the engine-computed difference between declared and
// observed resource counts.
type CompositionDiff struct {
	Missing    []MissingCount `json:"missing"`
	Unexpected []ActualCount  `json:"unexpected"`
	Excess     []ExcessCount  `json:"excess"`
}

// CompositionDetails is attached to ResourceComposition violations.
type CompositionDetails struct {
	Expected    []ExpectedCount `json:"expected"`
	Actual      []ActualCount   `json:"actual"`
	Diff        CompositionDiff `json:"diff"`
	ClosedWorld bool            `json:"closedWorld"`
}

// RuleEvaluationDetails describes a rule that could not be evaluated.
type RuleEvaluationDetails struct {
	Reason string `json:"reason"`
	Cause  string `json:"cause,omitempty"`
}

// Rule evaluation failure reasons.
const (
	ReasonPathNotFound    = "path-not-found"
	ReasonNonBoolean      = "non-boolean"
	ReasonExpressionError = "expression-error"
	ReasonTimeout         = "timeout"
	ReasonMissingParams   = "invalid-params"
	ReasonUnknownSet      = "unknown-terminology"
)

// DisplayDetails describes a coding display that disagrees with terminology.
type DisplayDetails struct {
	System   string `json:"system"`
	Code     string `json:"code"`
	Actual   string `json:"actual"`
	Expected string `json:"expected"`
}

// DanglingReferenceDetails describes a reference with no target.
type DanglingReferenceDetails struct {
	Reference string `json:"reference"`
}

// DuplicateDetails describes a repeated identifier.
type DuplicateDetails struct {
	Value      string `json:"value"`
	FirstIndex int    `json:"firstIndex"`
}

func (DocumentDetails) Kind() DetailKind { return KindDocument }
func (GrammarDetails) Kind() DetailKind { return KindGrammar }
func (VariantDetails) Kind() DetailKind { return KindVariant }
func (ReferenceFormatDetails) Kind() DetailKind { return KindReferenceFormat }
func (ModelDetails) Kind() DetailKind { return KindModel }
func (MissingValueDetails) Kind() DetailKind { return KindMissingValue }
func (ValueMismatchDetails) Kind() DetailKind { return KindValueMismatch }
func (ValueNotAllowedDetails) Kind() DetailKind { return KindValueNotAllowed }
func (PatternDetails) Kind() DetailKind { return KindPattern }
func (ReferenceTargetDetails) Kind() DetailKind { return KindReferenceTarget }
func (ArrayLengthDetails) Kind() DetailKind { return KindArrayLength }
func (CodeDetails) Kind() DetailKind { return KindCode }
func (CodeMasterDetails) Kind() DetailKind { return KindCodeMaster }
func (FullURLDetails) Kind() DetailKind { return KindFullURL }
func (ExpressionDetails) Kind() DetailKind { return KindExpression }
func (CompositionDetails) Kind() DetailKind { return KindComposition }
func (RuleEvaluationDetails) Kind() DetailKind { return KindRuleEvaluation }
func (DisplayDetails) Kind() DetailKind { return KindDisplay }
func (DanglingReferenceDetails) Kind() DetailKind { return KindDanglingReference }
func (DuplicateDetails) Kind() DetailKind { return KindDuplicate }

var errEmptyField = errors.New("required field is empty")

func required(name, v string) error {
	if v == "" {
		return fmt.Errorf("%s: %w", name, errEmptyField)
	}
	return nil
}

func (d DocumentDetails) check() error { return required("reason", d.Reason) }
func (d GrammarDetails) check() error { return required("family", d.Family) }
func (d ModelDetails) check() error { return required("originalMessage", d.OriginalMessage) }
func (d MissingValueDetails) check() error { return required("element", d.Element) }
func (d ValueMismatchDetails) check() error { return required("expected", d.Expected) }
func (d PatternDetails) check() error { return required("pattern", d.Pattern) }
func (d CodeDetails) check() error { return required("code", d.Code) }
func (d CodeMasterDetails) check() error { return required("reason", d.Reason) }
func (d FullURLDetails) check() error { return required("fullUrl", d.FullURL) }
func (d ExpressionDetails) check() error { return required("expression", d.Expression) }
func (d RuleEvaluationDetails) check() error { return required("reason", d.Reason) }
func (d DanglingReferenceDetails) check() error { return required("reference", d.Reference) }
func (d DuplicateDetails) check() error { return required("value", d.Value) }

func (d VariantDetails) check() error {
	if err := required("base", d.Base); err != nil {
		return err
	}
	if d.Present == nil {
		return errors.New("present: must be non-nil")
	}
	return nil
}

// The offending literal may itself be empty.
func (d ReferenceFormatDetails) check() error { return nil }

func (d ValueNotAllowedDetails) check() error {
	if len(d.Allowed) == 0 {
		return errors.New("allowed: must list at least one value")
	}
	return nil
}

func (d ReferenceTargetDetails) check() error {
	if err := required("reference", d.Reference); err != nil {
		return err
	}
	return required("reason", d.Reason)
}

func (d ArrayLengthDetails) check() error {
	if d.Min == nil && d.Max == nil {
		return errors.New("min/max: at least one bound is required")
	}
	return nil
}

func (d DisplayDetails) check() error {
	if err := required("code", d.Code); err != nil {
		return err
	}
	return required("expected", d.Expected)
}

func (d CompositionDetails) check() error {
	if d.Expected == nil || d.Actual == nil {
		return errors.New("expected/actual: must be non-nil")
	}
	if d.Diff.Missing == nil || d.Diff.Unexpected == nil || d.Diff.Excess == nil {
		return errors.New("diff: all buckets must be non-nil")
	}
	return nil
}
