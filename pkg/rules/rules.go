// Package rules defines project rule sets: declarative, typed checks
// evaluated against the resources of a Bundle.
package rules

import (
	"fmt"

	"github.com/gofhir/bundlevalidator/pkg/issue"
	"github.com/gofhir/bundlevalidator/pkg/path"
)

// Type is the closed set of rule variants.
type Type string

// Rule types.
const (
	TypeRequired            Type = "Required"
	TypeFixedValue          Type = "FixedValue"
	TypeAllowedValues       Type = "AllowedValues"
	TypeRegex               Type = "Regex"
	TypeReference           Type = "Reference"
	TypeArrayLength         Type = "ArrayLength"
	TypeCodeSystem          Type = "CodeSystem"
	TypeCodeMaster          Type = "CodeMaster"
	TypeFullURLIDMatch      Type = "FullUrlIdMatch"
	TypeCustomExpression    Type = "CustomExpression"
	TypeResourceComposition Type = "ResourceComposition"
)

// Types lists every rule type.
var Types = []Type{
	TypeRequired, TypeFixedValue, TypeAllowedValues, TypeRegex, TypeReference,
	TypeArrayLength, TypeCodeSystem, TypeCodeMaster, TypeFullURLIDMatch,
	TypeCustomExpression, TypeResourceComposition,
}

// defaultErrorCodes are used when a rule declares no errorCode.
var defaultErrorCodes = map[Type]string{
	TypeRequired:            "REQUIRED_VALUE_MISSING",
	TypeFixedValue:          "FIXED_VALUE_MISMATCH",
	TypeAllowedValues:       "VALUE_NOT_ALLOWED",
	TypeRegex:               "PATTERN_MISMATCH",
	TypeReference:           "INVALID_REFERENCE_TARGET",
	TypeArrayLength:         "ARRAY_LENGTH_OUT_OF_RANGE",
	TypeCodeSystem:          "CODE_NOT_IN_TERMINOLOGY",
	TypeCodeMaster:          "CODE_MASTER_VIOLATION",
	TypeFullURLIDMatch:      "FULLURL_ID_MISMATCH",
	TypeCustomExpression:    "CUSTOM_RULE_FAILED",
	TypeResourceComposition: "RESOURCE_COMPOSITION_MISMATCH",
}

// DefaultErrorCode returns the errorCode used for rules of type t that do
// not declare one.
func DefaultErrorCode(t Type) string { return defaultErrorCodes[t] }

// ValueBased reports whether the rule inspects values at its path, so that
// a path matching nothing in the document is an evaluation problem rather
// than a passing check.
func (t Type) ValueBased() bool {
	switch t {
	case TypeFixedValue, TypeAllowedValues, TypeRegex, TypeReference,
		TypeCodeSystem, TypeCodeMaster, TypeCustomExpression:
		return true
	}
	return false
}

// Rule is one declarative check. Rules are immutable after loading.
type Rule struct {
	ID           string
	Type         Type
	ResourceType string
	Path         string
	Severity     issue.Severity
	ErrorCode    string
	Message      string
	Params       Params

	// Expr is the parsed form of Path, qualified with ResourceType.
	Expr path.Expression
	// Line is the source line of the rule definition, when known.
	Line int
}

// RuleSet is an ordered collection of rules.
type RuleSet struct {
	Version           string
	TargetSpecVersion string
	Project           string
	Rules             []Rule
}

// ByID returns the rule with the given id.
func (rs *RuleSet) ByID(id string) (*Rule, bool) {
	for i := range rs.Rules {
		if rs.Rules[i].ID == id {
			return &rs.Rules[i], true
		}
	}
	return nil, false
}

// Merge concatenates rule sets in order. Metadata is taken from the first
// set. Rule ids must be unique across all sets.
func Merge(sets ...*RuleSet) (*RuleSet, error) {
	out := &RuleSet{}
	seen := make(map[string]int)
	for i, rs := range sets {
		if rs == nil {
			continue
		}
		if out.Version == "" && out.Project == "" {
			out.Version, out.TargetSpecVersion, out.Project = rs.Version, rs.TargetSpecVersion, rs.Project
		}
		for _, r := range rs.Rules {
			if first, dup := seen[r.ID]; dup {
				return nil, &LoadError{Line: r.Line, RuleID: r.ID,
					Msg: fmt.Sprintf("duplicate rule id (already declared in rule set %d)", first+1)}
			}
			seen[r.ID] = i
			out.Rules = append(out.Rules, r)
		}
	}
	return out, nil
}
