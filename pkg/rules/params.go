package rules

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/gofhir/bundlevalidator/pkg/path"
)

// Params is the typed parameter block of a rule. Each rule type has
// exactly one Params implementation.
type Params interface {
	RuleType() Type
	validate() error
}

// RequiredParams has no fields.
type RequiredParams struct{}

// FixedValueParams holds the single accepted value.
type FixedValueParams struct {
	Value any `yaml:"value"`
}

// AllowedValuesParams holds the accepted value set.
type AllowedValuesParams struct {
	Values []any `yaml:"values"`
}

// RegexParams holds the pattern a string value must fully match.
type RegexParams struct {
	Pattern string `yaml:"pattern"`

	re *regexp.Regexp
}

// Regexp returns the compiled, fully anchored pattern.
func (p RegexParams) Regexp() *regexp.Regexp { return p.re }

// ReferenceParams lists the resource types a reference may target.
type ReferenceParams struct {
	TargetTypes []string `yaml:"targetTypes"`
}

// ArrayLengthParams bounds the size of a collection.
type ArrayLengthParams struct {
	Min *int `yaml:"min"`
	Max *int `yaml:"max"`
}

// CodeSystemParams names the terminology a code must belong to.
type CodeSystemParams struct {
	Terminology string `yaml:"terminology"`
}

// CodeMasterParams pairs question codes with allowed answer codes over a
// repeating structure such as Observation.component.
type CodeMasterParams struct {
	Terminology  string `yaml:"terminology"`
	QuestionPath string `yaml:"questionPath"`
	AnswerPath   string `yaml:"answerPath"`
	// Answers overrides the hierarchy: question code -> allowed answers.
	Answers map[string][]string `yaml:"answers"`

	question, answer []path.Segment
}

// QuestionSegments returns the parsed QuestionPath.
func (p CodeMasterParams) QuestionSegments() []path.Segment { return p.question }

// AnswerSegments returns the parsed AnswerPath.
func (p CodeMasterParams) AnswerSegments() []path.Segment { return p.answer }

func (p *CodeMasterParams) compile() error {
	var err error
	if p.question, err = path.ParseSuffix(p.QuestionPath); err != nil {
		return fmt.Errorf("params.questionPath: %w", err)
	}
	if p.answer, err = path.ParseSuffix(p.AnswerPath); err != nil {
		return fmt.Errorf("params.answerPath: %w", err)
	}
	return nil
}

// FullURLIDMatchParams has no fields.
type FullURLIDMatchParams struct{}

// CustomExpressionParams holds a FHIRPath boolean expression.
type CustomExpressionParams struct {
	Expression string `yaml:"expression"`
}

// CompositionEntry declares the allowed count of one resource type.
type CompositionEntry struct {
	ResourceType string `yaml:"resourceType"`
	Min          int    `yaml:"min"`
	Max          *int   `yaml:"max"`
	// Where optionally restricts counted resources, in selector syntax
	// ("status='final'").
	Where string `yaml:"where"`

	filter *path.Expression
}

// Matches reports whether a resource of the entry's type passes Where.
func (e CompositionEntry) Matches(resource map[string]any) bool {
	if e.filter == nil {
		return true
	}
	return e.filter.Matches(resource)
}

// Label names the entry in findings: the resource type, qualified with
// the filter when one is set.
func (e CompositionEntry) Label() string {
	if e.filter == nil {
		return e.ResourceType
	}
	return e.filter.String()
}

// ResourceCompositionParams declares the expected resource mix.
type ResourceCompositionParams struct {
	Resources   []CompositionEntry `yaml:"resources"`
	ClosedWorld bool               `yaml:"closedWorld"`
}

func (RequiredParams) RuleType() Type            { return TypeRequired }
func (FixedValueParams) RuleType() Type          { return TypeFixedValue }
func (AllowedValuesParams) RuleType() Type       { return TypeAllowedValues }
func (RegexParams) RuleType() Type               { return TypeRegex }
func (ReferenceParams) RuleType() Type           { return TypeReference }
func (ArrayLengthParams) RuleType() Type         { return TypeArrayLength }
func (CodeSystemParams) RuleType() Type          { return TypeCodeSystem }
func (CodeMasterParams) RuleType() Type          { return TypeCodeMaster }
func (FullURLIDMatchParams) RuleType() Type      { return TypeFullURLIDMatch }
func (CustomExpressionParams) RuleType() Type    { return TypeCustomExpression }
func (ResourceCompositionParams) RuleType() Type { return TypeResourceComposition }

func (RequiredParams) validate() error       { return nil }
func (FullURLIDMatchParams) validate() error { return nil }

func (p FixedValueParams) validate() error {
	if p.Value == nil {
		return errors.New("params.value is required")
	}
	return nil
}

func (p AllowedValuesParams) validate() error {
	if len(p.Values) == 0 {
		return errors.New("params.values must not be empty")
	}
	return nil
}

func (p *RegexParams) compile() error {
	if p.Pattern == "" {
		return errors.New("params.pattern is required")
	}
	re, err := regexp.Compile("^(?:" + p.Pattern + ")$")
	if err != nil {
		return fmt.Errorf("params.pattern: %w", err)
	}
	p.re = re
	return nil
}

func (p RegexParams) validate() error {
	if p.re == nil {
		return errors.New("params.pattern is not compiled")
	}
	return nil
}

func (p ReferenceParams) validate() error { return nil }

func (p ArrayLengthParams) validate() error {
	if p.Min == nil && p.Max == nil {
		return errors.New("params.min or params.max is required")
	}
	if p.Min != nil && *p.Min < 0 {
		return errors.New("params.min must not be negative")
	}
	if p.Min != nil && p.Max != nil && *p.Min > *p.Max {
		return fmt.Errorf("params.min %d exceeds params.max %d", *p.Min, *p.Max)
	}
	return nil
}

func (p CodeSystemParams) validate() error {
	if p.Terminology == "" {
		return errors.New("params.terminology is required")
	}
	return nil
}

func (p CodeMasterParams) validate() error {
	if p.Terminology == "" && len(p.Answers) == 0 {
		return errors.New("params.terminology or params.answers is required")
	}
	if p.QuestionPath == "" || p.AnswerPath == "" {
		return errors.New("params.questionPath and params.answerPath are required")
	}
	return nil
}

func (p CustomExpressionParams) validate() error {
	if p.Expression == "" {
		return errors.New("params.expression is required")
	}
	return nil
}

func (p ResourceCompositionParams) validate() error {
	if len(p.Resources) == 0 {
		return errors.New("params.resources must not be empty")
	}
	seen := make(map[string]bool)
	for i, e := range p.Resources {
		if e.ResourceType == "" {
			return fmt.Errorf("params.resources[%d].resourceType is required", i)
		}
		key := e.ResourceType + "|" + e.Where
		if seen[key] {
			return fmt.Errorf("params.resources[%d]: %s declared twice", i, e.ResourceType)
		}
		seen[key] = true
		if e.Min < 0 || (e.Max != nil && *e.Max < e.Min) {
			return fmt.Errorf("params.resources[%d]: invalid bounds", i)
		}
	}
	return nil
}

func (p *ResourceCompositionParams) compile() error {
	for i := range p.Resources {
		e := &p.Resources[i]
		if e.Where == "" {
			continue
		}
		expr, err := path.Parse(e.ResourceType + "[" + e.Where + "]")
		if err != nil {
			return fmt.Errorf("params.resources[%d].where: %w", i, err)
		}
		if len(expr.Suffix) > 0 {
			return fmt.Errorf("params.resources[%d].where: must be a selector", i)
		}
		e.filter = &expr
	}
	return nil
}

// newParams returns an empty Params value for t.
func newParams(t Type) (Params, bool) {
	switch t {
	case TypeRequired:
		return &RequiredParams{}, true
	case TypeFixedValue:
		return &FixedValueParams{}, true
	case TypeAllowedValues:
		return &AllowedValuesParams{}, true
	case TypeRegex:
		return &RegexParams{}, true
	case TypeReference:
		return &ReferenceParams{}, true
	case TypeArrayLength:
		return &ArrayLengthParams{}, true
	case TypeCodeSystem:
		return &CodeSystemParams{}, true
	case TypeCodeMaster:
		return &CodeMasterParams{}, true
	case TypeFullURLIDMatch:
		return &FullURLIDMatchParams{}, true
	case TypeCustomExpression:
		return &CustomExpressionParams{}, true
	case TypeResourceComposition:
		return &ResourceCompositionParams{}, true
	}
	return nil, false
}

// deref turns the pointer returned by newParams back into a value.
func deref(p Params) Params {
	switch v := p.(type) {
	case *RequiredParams:
		return *v
	case *FixedValueParams:
		return *v
	case *AllowedValuesParams:
		return *v
	case *RegexParams:
		return *v
	case *ReferenceParams:
		return *v
	case *ArrayLengthParams:
		return *v
	case *CodeSystemParams:
		return *v
	case *CodeMasterParams:
		return *v
	case *FullURLIDMatchParams:
		return *v
	case *CustomExpressionParams:
		return *v
	case *ResourceCompositionParams:
		return *v
	}
	return p
}
