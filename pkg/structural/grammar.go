package structural

import (
	"regexp"
	"strings"
)

// Lexical grammars of FHIR primitive types.
var (
	idRegex        = regexp.MustCompile(`^[A-Za-z0-9\-.]{1,64}$`)
	codeRegex      = regexp.MustCompile(`^\S+( \S+)*$`)
	uriRegex       = regexp.MustCompile(`^\S+$`)
	absURLRegex    = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.\-]*:\S+$`)
	canonicalRegex = regexp.MustCompile(`^\S+(\|\S+)?$`)
	oidRegex       = regexp.MustCompile(`^urn:oid:[012](\.(0|[1-9]\d*))+$`)
)

// shortStringKeys are string elements that must stay on one line.
var shortStringKeys = set(
	"display", "family", "given", "prefix", "suffix", "title", "alias",
	"unit", "version", "city", "state", "country", "postalCode", "district",
	"valueString", "name",
)

// shortStringParents restricts ambiguous keys to the datatypes where they
// are short strings.
var shortStringParents = map[string]map[string]bool{
	"value": set("identifier", "telecom"),
	"line":  set("address"),
}

// codeKeys are elements of FHIR type code.
var codeKeys = set(
	"status", "gender", "language", "intent", "priority", "use", "mode",
	"valueCode", "type", "kind", "comparator",
)

// codeParents lists the datatypes whose "code" element is a code.
var codeParents = set("coding", "valueCoding", "valueQuantity", "quantity", "valueCodeableConcept")

// uriKeys are elements of FHIR type uri.
var uriKeys = set("system", "implicitRules", "valueUri", "source", "namespace")

// urlKeys are elements of FHIR type url.
var urlKeys = set("valueUrl", "fullUrl")

// canonicalKeys are elements of FHIR type canonical.
var canonicalKeys = set("valueCanonical", "instantiatesCanonical", "questionnaire")

// choiceBases are polymorphic element names that allow exactly one typed
// variant per object.
var choiceBases = []string{
	"value", "effective", "onset", "abatement", "deceased", "multipleBirth",
	"medication", "occurrence", "performed", "born", "age", "timing",
	"asNeeded", "serviced", "reported", "defaultValue", "fixed", "pattern",
	"product", "bounds", "answer",
}

// choiceTypes are datatype names a polymorphic element may carry.
var choiceTypes = set(
	"Base64Binary", "Boolean", "Canonical", "Code", "Date", "DateTime",
	"Decimal", "Id", "Instant", "Integer", "Markdown", "Oid", "PositiveInt",
	"String", "Time", "UnsignedInt", "Uri", "Url", "Uuid", "Address", "Age",
	"Annotation", "Attachment", "CodeableConcept", "Coding", "ContactPoint",
	"Count", "Distance", "Duration", "HumanName", "Identifier", "Money",
	"Period", "Quantity", "Range", "Ratio", "Reference", "SampledData",
	"Signature", "Timing", "Expression", "Dosage", "Meta",
)

// requiredChoices lists resource-level polymorphic elements with a minimum
// cardinality of one.
var requiredChoices = map[string][]string{
	"MedicationRequest":        {"medication"},
	"MedicationAdministration": {"medication", "effective"},
	"MedicationDispense":       {"medication"},
	"MedicationStatement":      {"medication"},
}

func set(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}

// choiceVariants returns the typed variants of base present in obj.
func choiceVariants(obj map[string]any, base string) []string {
	var out []string
	for _, k := range sortedKeys(obj) {
		if len(k) <= len(base) || !strings.HasPrefix(k, base) {
			continue
		}
		if choiceTypes[k[len(base):]] && obj[k] != nil {
			out = append(out, k)
		}
	}
	return out
}

// hasIllegalControl reports characters below 0x20 other than TAB, CR, LF.
func hasIllegalControl(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x20 && c != '\t' && c != '\n' && c != '\r' {
			return true
		}
	}
	return false
}
