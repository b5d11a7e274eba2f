package structural

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/gofhir/bundlevalidator/pkg/issue"
	"github.com/gofhir/bundlevalidator/pkg/reference"
)

// Family is one independently testable grammar rule family.
type Family struct {
	Name  string
	check func(root map[string]any, r *reporter)
}

// Grammar family names, in declaration order.
const (
	FamilyBundleShape       = "bundle-shape"
	FamilyIdentifierFormat  = "identifier-format"
	FamilyStringText        = "string-text"
	FamilyCodeGrammar       = "code-grammar"
	FamilyChoiceExclusivity = "choice-exclusivity"
	FamilyReferenceShape    = "reference-shape"
	FamilyExtensionShape    = "extension-shape"
	FamilyURIGrammar        = "uri-grammar"
)

// Families returns every grammar family in declaration order.
func Families() []Family {
	return []Family{
		{Name: FamilyBundleShape, check: checkBundleShape},
		{Name: FamilyIdentifierFormat, check: checkIdentifiers},
		{Name: FamilyStringText, check: checkStrings},
		{Name: FamilyCodeGrammar, check: checkCodes},
		{Name: FamilyChoiceExclusivity, check: checkChoices},
		{Name: FamilyReferenceShape, check: checkReferences},
		{Name: FamilyExtensionShape, check: checkExtensions},
		{Name: FamilyURIGrammar, check: checkURIs},
	}
}

// reporter collects one family's findings, at most one per (path, code).
type reporter struct {
	family string
	seen   map[string]bool
	out    []issue.ValidationError
}

func newReporter(family string) *reporter {
	return &reporter{family: family, seen: make(map[string]bool)}
}

func (r *reporter) report(code, resourceType, path string, params map[string]any, details issue.Details) {
	key := path + "\x00" + code
	if r.seen[key] {
		return
	}
	r.seen[key] = true
	ve := issue.New(code, params, details)
	ve.ResourceType = resourceType
	ve.Path = path
	r.out = append(r.out, ve)
}

func (r *reporter) grammar(code string, n *node, value, expected string) {
	r.report(code, n.ResourceType, n.Path,
		map[string]any{"value": value, "element": n.Key},
		issue.GrammarDetails{Family: r.family, Value: value, Expected: expected})
}

func checkBundleShape(root map[string]any, r *reporter) {
	raw, ok := root["entry"]
	if !ok {
		return
	}
	entries, ok := raw.([]any)
	if !ok {
		r.report(issue.CodeInvalidBundleEntry, rootPath, rootPath+".entry",
			map[string]any{"reason": "entry must be an array"},
			issue.GrammarDetails{Family: r.family, Value: fmt.Sprintf("%T", raw), Expected: "array"})
		return
	}
	for i, e := range entries {
		entryPath := fmt.Sprintf("%s.entry[%d]", rootPath, i)
		entry, ok := e.(map[string]any)
		if !ok {
			r.report(issue.CodeInvalidBundleEntry, rootPath, entryPath,
				map[string]any{"reason": "entry must be an object"},
				issue.GrammarDetails{Family: r.family, Value: fmt.Sprintf("%T", e), Expected: "object"})
			continue
		}
		res, ok := entry["resource"].(map[string]any)
		if !ok {
			if _, present := entry["resource"]; present {
				r.report(issue.CodeInvalidBundleEntry, rootPath, entryPath+".resource",
					map[string]any{"reason": "resource must be an object"},
					issue.GrammarDetails{Family: r.family, Value: fmt.Sprintf("%T", entry["resource"]), Expected: "object"})
			}
			continue
		}
		checkResourceType(res, entryPath+".resource", r)
	}
}

// checkResourceType reports resources, including contained ones, without a
// usable resourceType.
func checkResourceType(res map[string]any, resPath string, r *reporter) {
	rt, _ := res["resourceType"].(string)
	if rt == "" {
		r.report(issue.CodeMissingResourceType, "", resPath, nil,
			issue.GrammarDetails{Family: r.family, Expected: "resourceType"})
	}
	contained, _ := res["contained"].([]any)
	for i, c := range contained {
		if m, ok := c.(map[string]any); ok {
			checkResourceType(m, fmt.Sprintf("%s.contained[%d]", resPath, i), r)
		}
	}
}

func checkIdentifiers(root map[string]any, r *reporter) {
	walkTree(root, func(n *node) {
		switch n.Key {
		case "id":
			// Element ids are plain strings; only resource ids follow the id grammar.
			if _, isResource := n.Parent["resourceType"]; !isResource {
				return
			}
			s, ok := n.Value.(string)
			if !ok {
				r.grammar(issue.CodeInvalidIDFormat, n, fmt.Sprint(n.Value), idRegex.String())
				return
			}
			if !idRegex.MatchString(s) {
				r.grammar(issue.CodeInvalidIDFormat, n, s, idRegex.String())
			}
		case "fullUrl", "reference", "valueUri", "system":
			s, ok := n.Value.(string)
			if !ok {
				return
			}
			switch {
			case strings.HasPrefix(s, "urn:uuid:"):
				if !validUUID(strings.TrimPrefix(s, "urn:uuid:")) {
					r.grammar(issue.CodeInvalidUUID, n, s, "urn:uuid:<RFC 4122 UUID>")
				}
			case strings.HasPrefix(s, "urn:oid:"):
				if !oidRegex.MatchString(s) {
					r.grammar(issue.CodeInvalidOID, n, s, oidRegex.String())
				}
			}
		}
	})
}

// validUUID accepts only the canonical 8-4-4-4-12 hexadecimal form.
func validUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

func checkStrings(root map[string]any, r *reporter) {
	walkTree(root, func(n *node) {
		s, ok := n.Value.(string)
		if !ok {
			return
		}
		switch {
		case s == "":
			r.grammar(issue.CodeEmptyString, n, s, "non-empty string")
		case hasIllegalControl(s):
			r.grammar(issue.CodeInvalidStringCharacters, n, s, "no control characters")
		case strings.ContainsAny(s, "\r\n") && isShortString(n):
			r.grammar(issue.CodeNewlineNotAllowed, n, s, "single line")
		}
	})
}

func isShortString(n *node) bool {
	if parents, ok := shortStringParents[n.Key]; ok {
		return parents[n.ParentKey]
	}
	return shortStringKeys[n.Key]
}

func checkCodes(root map[string]any, r *reporter) {
	walkTree(root, func(n *node) {
		s, ok := n.Value.(string)
		if !ok {
			return
		}
		if !codeKeys[n.Key] && !(n.Key == "code" && codeParents[n.ParentKey]) {
			return
		}
		if !codeRegex.MatchString(s) {
			r.grammar(issue.CodeInvalidCodeFormat, n, s, codeRegex.String())
		}
	})
}

func checkChoices(root map[string]any, r *reporter) {
	visitObject := func(obj map[string]any, objPath, resourceType string) {
		for _, base := range choiceBases {
			present := choiceVariants(obj, base)
			if len(present) < 2 {
				continue
			}
			r.report(issue.CodeMultipleValueVariants, resourceType, objPath+"."+base+"[x]",
				map[string]any{"base": base, "present": strings.Join(present, ", ")},
				issue.VariantDetails{Base: base, Present: present})
		}
		rt, _ := obj["resourceType"].(string)
		for _, base := range requiredChoices[rt] {
			if len(choiceVariants(obj, base)) == 0 {
				r.report(issue.CodeMissingValueVariant, rt, objPath+"."+base+"[x]",
					map[string]any{"base": base},
					issue.VariantDetails{Base: base, Present: []string{}})
			}
		}
	}

	walkTree(root, func(n *node) {
		obj, ok := n.Value.(map[string]any)
		if !ok {
			return
		}
		rt := n.ResourceType
		if t, ok := obj["resourceType"].(string); ok && t != "" {
			rt = t
		}
		visitObject(obj, n.Path, rt)
	})
}

func checkReferences(root map[string]any, r *reporter) {
	walkTree(root, func(n *node) {
		if n.Key != "reference" {
			return
		}
		s, ok := n.Value.(string)
		if !ok {
			r.report(issue.CodeInvalidReferenceFormat, n.ResourceType, n.Path,
				map[string]any{"reference": fmt.Sprint(n.Value)},
				issue.ReferenceFormatDetails{Reference: fmt.Sprint(n.Value)})
			return
		}

		literalType, valid := referenceType(s)
		if !valid {
			r.report(issue.CodeInvalidReferenceFormat, n.ResourceType, n.Path,
				map[string]any{"reference": s},
				issue.ReferenceFormatDetails{Reference: s})
			return
		}

		declared, _ := n.Parent["type"].(string)
		if declared == "" || literalType == "" {
			return
		}
		// Reference.type may be an absolute StructureDefinition URL.
		declared = reference.TypeFromProfile(declared)
		if declared != literalType {
			r.report(issue.CodeReferenceTypeMismatch, n.ResourceType, n.Path,
				map[string]any{"reference": s, "literal": literalType, "declared": declared},
				issue.ReferenceFormatDetails{Reference: s, DeclaredType: declared, LiteralType: literalType})
		}
	})
}

// referenceType classifies a reference literal and returns the resource
// type it names, if any.
func referenceType(ref string) (string, bool) {
	l, ok := reference.Parse(ref)
	return l.Type, ok
}

func checkExtensions(root map[string]any, r *reporter) {
	walkTree(root, func(n *node) {
		if n.Key != "extension" && n.Key != "modifierExtension" {
			return
		}
		ext, ok := n.Value.(map[string]any)
		if !ok {
			return
		}
		url, _ := ext["url"].(string)
		if url == "" {
			r.report(issue.CodeExtensionURLRequired, n.ResourceType, n.Path, nil,
				issue.GrammarDetails{Family: r.family, Expected: "url"})
		}

		hasValue := len(choiceVariants(ext, "value")) > 0
		nested, _ := ext["extension"].([]any)
		switch {
		case hasValue && len(nested) > 0:
			r.report(issue.CodeExtensionValueAndNested, n.ResourceType, n.Path,
				map[string]any{"value": url},
				issue.GrammarDetails{Family: r.family, Value: url, Expected: "value[x] or extension"})
		case !hasValue && len(nested) == 0:
			r.report(issue.CodeExtensionEmpty, n.ResourceType, n.Path,
				map[string]any{"value": url},
				issue.GrammarDetails{Family: r.family, Value: url, Expected: "value[x] or extension"})
		}
	})
}

func checkURIs(root map[string]any, r *reporter) {
	walkTree(root, func(n *node) {
		s, ok := n.Value.(string)
		if !ok {
			return
		}
		switch {
		case uriKeys[n.Key]:
			if !uriRegex.MatchString(s) {
				r.grammar(issue.CodeInvalidURI, n, s, uriRegex.String())
			}
		case urlKeys[n.Key], n.Key == "url" && n.ParentKey != "extension" && n.ParentKey != "modifierExtension" && isAttachment(n.Parent):
			if !absURLRegex.MatchString(s) {
				r.grammar(issue.CodeInvalidURL, n, s, absURLRegex.String())
			}
		case n.Key == "url" && n.ExtDepth == 1 && (n.ParentKey == "extension" || n.ParentKey == "modifierExtension"):
			if !absURLRegex.MatchString(s) {
				r.grammar(issue.CodeInvalidURL, n, s, absURLRegex.String())
			}
		case canonicalKeys[n.Key], n.Key == "profile" && n.ParentKey == "meta":
			if !canonicalRegex.MatchString(s) {
				r.grammar(issue.CodeInvalidCanonical, n, s, canonicalRegex.String())
			}
		}
	})
}

func isAttachment(obj map[string]any) bool {
	_, ct := obj["contentType"]
	_, data := obj["data"]
	return ct || data
}
