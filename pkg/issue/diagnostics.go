package issue

import (
	"fmt"
	"sort"
	"strings"
)

// Error codes emitted by the structural grammar validator.
const (
	CodeInvalidDocument         = "INVALID_DOCUMENT"
	CodeInvalidBundleEntry      = "INVALID_BUNDLE_ENTRY"
	CodeMissingResourceType     = "MISSING_RESOURCE_TYPE"
	CodeInvalidIDFormat         = "INVALID_ID_FORMAT"
	CodeInvalidUUID             = "INVALID_UUID"
	CodeInvalidOID              = "INVALID_OID"
	CodeEmptyString             = "EMPTY_STRING"
	CodeInvalidStringCharacters = "INVALID_STRING_CHARACTERS"
	CodeNewlineNotAllowed       = "NEWLINE_NOT_ALLOWED"
	CodeInvalidCodeFormat       = "INVALID_CODE_FORMAT"
	CodeMultipleValueVariants   = "MULTIPLE_VALUE_VARIANTS"
	CodeMissingValueVariant     = "MISSING_VALUE_VARIANT"
	CodeInvalidReferenceFormat  = "INVALID_REFERENCE_FORMAT"
	CodeReferenceTypeMismatch   = "REFERENCE_TYPE_MISMATCH"
	CodeExtensionURLRequired    = "EXTENSION_URL_REQUIRED"
	CodeExtensionValueAndNested = "EXTENSION_VALUE_AND_CHILDREN"
	CodeExtensionEmpty          = "EXTENSION_EMPTY"
	CodeInvalidURI              = "INVALID_URI"
	CodeInvalidURL              = "INVALID_URL"
	CodeInvalidCanonical        = "INVALID_CANONICAL"
)

// Error codes for reclassified model validator findings.
const (
	CodeModelUnknownElement      = "MODEL_UNKNOWN_ELEMENT"
	CodeModelTypeMismatch        = "MODEL_TYPE_MISMATCH"
	CodeModelInvalidResource     = "MODEL_INVALID_RESOURCE"
	CodeModelUnsupportedResource = "MODEL_UNSUPPORTED_RESOURCE"
)

// Error codes for rule evaluation, terminology and reference checks.
const (
	CodeRuleEvaluationError = "RULE_EVALUATION_ERROR"
	CodeTerminologyUnknown  = "TERMINOLOGY_UNKNOWN_CODE"
	CodeTerminologyDisplay  = "TERMINOLOGY_DISPLAY_MISMATCH"
	CodeDanglingReference   = "DANGLING_REFERENCE"
	CodeDuplicateFullURL    = "DUPLICATE_FULLURL"
)

// CatalogEntry describes one fixed error code.
type CatalogEntry struct {
	Source   Source
	Severity Severity
	Kind     DetailKind
	Template string
}

var catalog = map[string]CatalogEntry{
	CodeInvalidDocument: {
		Source: SourceStructure, Severity: SeverityError, Kind: KindDocument,
		Template: "Document is not a valid Bundle: {reason}",
	},
	CodeInvalidBundleEntry: {
		Source: SourceStructure, Severity: SeverityError, Kind: KindGrammar,
		Template: "Bundle entry is malformed: {reason}",
	},
	CodeMissingResourceType: {
		Source: SourceStructure, Severity: SeverityError, Kind: KindGrammar,
		Template: "Resource has no 'resourceType' property",
	},
	CodeInvalidIDFormat: {
		Source: SourceStructure, Severity: SeverityError, Kind: KindGrammar,
		Template: "Invalid id '{value}': must be 1-64 characters of [A-Za-z0-9-.]",
	},
	CodeInvalidUUID: {
		Source: SourceStructure, Severity: SeverityError, Kind: KindGrammar,
		Template: "Invalid UUID in '{value}'",
	},
	CodeInvalidOID: {
		Source: SourceStructure, Severity: SeverityError, Kind: KindGrammar,
		Template: "Invalid OID '{value}'",
	},
	CodeEmptyString: {
		Source: SourceStructure, Severity: SeverityError, Kind: KindGrammar,
		Template: "String values must not be empty",
	},
	CodeInvalidStringCharacters: {
		Source: SourceStructure, Severity: SeverityError, Kind: KindGrammar,
		Template: "String contains illegal control characters",
	},
	CodeNewlineNotAllowed: {
		Source: SourceStructure, Severity: SeverityError, Kind: KindGrammar,
		Template: "Line breaks are not allowed in '{element}'",
	},
	CodeInvalidCodeFormat: {
		Source: SourceStructure, Severity: SeverityError, Kind: KindGrammar,
		Template: "Invalid code '{value}': leading, trailing or repeated whitespace is not allowed",
	},
	CodeMultipleValueVariants: {
		Source: SourceStructure, Severity: SeverityError, Kind: KindVariant,
		Template: "Only one of {present} may be present for '{base}[x]'",
	},
	CodeMissingValueVariant: {
		Source: SourceStructure, Severity: SeverityError, Kind: KindVariant,
		Template: "One variant of '{base}[x]' is required",
	},
	CodeInvalidReferenceFormat: {
		Source: SourceStructure, Severity: SeverityError, Kind: KindReferenceFormat,
		Template: "Invalid reference '{reference}'",
	},
	CodeReferenceTypeMismatch: {
		Source: SourceStructure, Severity: SeverityError, Kind: KindReferenceFormat,
		Template: "Reference '{reference}' targets {literal} but declares type {declared}",
	},
	CodeExtensionURLRequired: {
		Source: SourceStructure, Severity: SeverityError, Kind: KindGrammar,
		Template: "Extension must have a 'url' property",
	},
	CodeExtensionValueAndNested: {
		Source: SourceStructure, Severity: SeverityError, Kind: KindGrammar,
		Template: "Extension '{value}' must have either a value or nested extensions, not both",
	},
	CodeExtensionEmpty: {
		Source: SourceStructure, Severity: SeverityError, Kind: KindGrammar,
		Template: "Extension '{value}' has neither a value nor nested extensions",
	},
	CodeInvalidURI: {
		Source: SourceStructure, Severity: SeverityError, Kind: KindGrammar,
		Template: "Invalid URI '{value}'",
	},
	CodeInvalidURL: {
		Source: SourceStructure, Severity: SeverityError, Kind: KindGrammar,
		Template: "Invalid URL '{value}': must be absolute",
	},
	CodeInvalidCanonical: {
		Source: SourceStructure, Severity: SeverityError, Kind: KindGrammar,
		Template: "Invalid canonical '{value}'",
	},

	CodeModelUnknownElement: {
		Source: SourceModel, Severity: SeverityError, Kind: KindModel,
	},
	CodeModelTypeMismatch: {
		Source: SourceModel, Severity: SeverityError, Kind: KindModel,
	},
	CodeModelInvalidResource: {
		Source: SourceModel, Severity: SeverityError, Kind: KindModel,
	},
	CodeModelUnsupportedResource: {
		Source: SourceModel, Severity: SeverityInfo, Kind: KindModel,
	},

	CodeRuleEvaluationError: {
		Source: SourceProject, Severity: SeverityWarning, Kind: KindRuleEvaluation,
		Template: "Rule '{rule}' could not be evaluated: {reason}",
	},
	CodeTerminologyUnknown: {
		Source: SourceTerminology, Severity: SeverityInfo, Kind: KindCode,
		Template: "Code '{code}' is not defined in '{system}'",
	},
	CodeTerminologyDisplay: {
		Source: SourceTerminology, Severity: SeverityInfo, Kind: KindDisplay,
		Template: "Display '{actual}' for code '{code}' does not match expected '{expected}'",
	},
	CodeDanglingReference: {
		Source: SourceReference, Severity: SeverityError, Kind: KindDanglingReference,
		Template: "Reference '{reference}' does not resolve to a resource in the document",
	},
	CodeDuplicateFullURL: {
		Source: SourceReference, Severity: SeverityError, Kind: KindDuplicate,
		Template: "fullUrl '{value}' is already used by entry {first}",
	},
}

// ruleKinds maps project rule types to the detail kind their errors carry.
var ruleKinds = map[string]DetailKind{
	"Required":            KindMissingValue,
	"FixedValue":          KindValueMismatch,
	"AllowedValues":       KindValueNotAllowed,
	"Regex":               KindPattern,
	"Reference":           KindReferenceTarget,
	"ArrayLength":         KindArrayLength,
	"CodeSystem":          KindCode,
	"CodeMaster":          KindCodeMaster,
	"FullUrlIdMatch":      KindFullURL,
	"CustomExpression":    KindExpression,
	"ResourceComposition": KindComposition,
}

// Lookup returns the catalog entry for a fixed error code.
func Lookup(code string) (CatalogEntry, bool) {
	e, ok := catalog[code]
	return e, ok
}

// RuleKind returns the detail kind carried by errors of a project rule type.
func RuleKind(ruleType string) (DetailKind, bool) {
	k, ok := ruleKinds[ruleType]
	return k, ok
}

// Codes returns every fixed error code in sorted order.
func Codes() []string {
	codes := make([]string, 0, len(catalog))
	for c := range catalog {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

// New builds a ValidationError for a fixed catalog code. The message is
// rendered from the catalog template with params.
func New(code string, params map[string]any, details Details) ValidationError {
	e, ok := catalog[code]
	if !ok {
		return ValidationError{ErrorCode: code, Message: code, Details: details}
	}
	return ValidationError{
		Source:    e.Source,
		Severity:  e.Severity,
		ErrorCode: code,
		Message:   formatTemplate(e.Template, params),
		Details:   details,
	}
}

// CatalogError reports a ValidationError whose details do not conform to the
// catalog.
type CatalogError struct {
	ErrorCode string
	Source    Source
	Path      string
	Reason    string
}

func (e *CatalogError) Error() string {
	return fmt.Sprintf("error %s (%s) at %q violates the details catalog: %s", e.ErrorCode, e.Source, e.Path, e.Reason)
}

// Seal checks that ve carries a details payload of the shape the catalog
// assigns to its error code.
func Seal(ve *ValidationError) error {
	fail := func(reason string) error {
		return &CatalogError{ErrorCode: ve.ErrorCode, Source: ve.Source, Path: ve.Path, Reason: reason}
	}
	if ve.ErrorCode == "" {
		return fail("empty error code")
	}
	if !ve.Severity.Valid() {
		return fail(fmt.Sprintf("unknown severity %q", ve.Severity))
	}
	if ve.Details == nil {
		return fail("missing details")
	}

	want, err := expectedKind(ve)
	if err != nil {
		return fail(err.Error())
	}
	if got := ve.Details.Kind(); got != want {
		return fail(fmt.Sprintf("details kind %q, want %q", got, want))
	}
	if err := ve.Details.check(); err != nil {
		return fail(err.Error())
	}
	return nil
}

func expectedKind(ve *ValidationError) (DetailKind, error) {
	if e, ok := catalog[ve.ErrorCode]; ok {
		if e.Source != ve.Source {
			return "", fmt.Errorf("code belongs to source %s", e.Source)
		}
		return e.Kind, nil
	}
	if ve.Source != SourceProject {
		return "", fmt.Errorf("unknown error code")
	}
	kind, ok := ruleKinds[ve.RuleType]
	if !ok {
		return "", fmt.Errorf("unknown rule type %q", ve.RuleType)
	}
	return kind, nil
}

// formatTemplate replaces {placeholder} with values from params.
func formatTemplate(template string, params map[string]any) string {
	result := template
	for key, value := range params {
		placeholder := "{" + key + "}"
		result = strings.ReplaceAll(result, placeholder, fmt.Sprint(value))
	}
	return result
}
