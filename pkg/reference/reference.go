// Package reference parses reference literals and resolves them against
// the resources of a Bundle.
package reference

import (
	"regexp"
	"strings"
)

// Kind classifies a reference literal.
type Kind int

// Reference literal kinds.
const (
	KindRelative Kind = iota + 1 // Type/id
	KindAbsolute                 // http(s)://base/Type/id
	KindFragment                 // #id, contained resource
	KindURN                      // urn:uuid:... or urn:oid:...
	KindURL                      // any other absolute http(s) URL
)

func (k Kind) String() string {
	switch k {
	case KindRelative:
		return "relative"
	case KindAbsolute:
		return "absolute"
	case KindFragment:
		return "fragment"
	case KindURN:
		return "urn"
	case KindURL:
		return "url"
	}
	return "invalid"
}

// Reference format patterns.
var (
	// Relative reference: ResourceType/id or ResourceType/id/_history/vid.
	relativeRefPattern = regexp.MustCompile(`^([A-Z][A-Za-z]+)/([A-Za-z0-9\-.]{1,64})(?:/_history/[A-Za-z0-9\-.]{1,64})?$`)

	// Absolute URL reference (with optional _history/vid).
	absoluteRefPattern = regexp.MustCompile(`^(https?://\S+)/([A-Z][A-Za-z]+)/([A-Za-z0-9\-.]{1,64})(?:/_history/[A-Za-z0-9\-.]{1,64})?$`)

	absoluteURLPattern = regexp.MustCompile(`^https?://\S+$`)

	// Fragment reference (contained resource). "#" alone is the container.
	fragmentRefPattern = regexp.MustCompile(`^#[A-Za-z0-9\-.]*$`)

	urnOIDPattern = regexp.MustCompile(`^urn:oid:[012](\.(0|[1-9]\d*))+$`)
)

// Literal is a parsed reference string.
type Literal struct {
	Raw  string
	Kind Kind
	// Type and ID are set for relative and absolute references.
	Type string
	ID   string
	// Base is the server base of an absolute reference.
	Base string
}

// Key returns the Type/id form used for catalog lookup, or "" when the
// literal does not name a type.
func (l Literal) Key() string {
	if l.Type == "" || l.ID == "" {
		return ""
	}
	return l.Type + "/" + l.ID
}

// Parse classifies ref. It reports false when ref is not a valid
// reference literal.
func Parse(ref string) (Literal, bool) {
	l := Literal{Raw: ref}
	switch {
	case relativeRefPattern.MatchString(ref):
		m := relativeRefPattern.FindStringSubmatch(ref)
		l.Kind, l.Type, l.ID = KindRelative, m[1], m[2]
	case absoluteRefPattern.MatchString(ref):
		m := absoluteRefPattern.FindStringSubmatch(ref)
		l.Kind, l.Base, l.Type, l.ID = KindAbsolute, m[1], m[2], m[3]
	case fragmentRefPattern.MatchString(ref):
		l.Kind, l.ID = KindFragment, ref[1:]
	// urn:uuid accepts any non-empty suffix; UUID grammar is checked
	// separately.
	case strings.HasPrefix(ref, "urn:uuid:") && len(ref) > len("urn:uuid:"):
		l.Kind = KindURN
	case urnOIDPattern.MatchString(ref):
		l.Kind = KindURN
	case absoluteURLPattern.MatchString(ref):
		l.Kind = KindURL
	default:
		return l, false
	}
	return l, true
}

// ExtractIDFromFullURL extracts the resource id from a fullUrl.
// Examples: "http://example.org/fhir/Patient/123" -> "123",
// "http://example.org/fhir/Patient/123/_history/1" -> "123",
// "urn:uuid:abc" -> "abc".
func ExtractIDFromFullURL(fullURL string) string {
	if rest, ok := strings.CutPrefix(fullURL, "urn:uuid:"); ok {
		return rest
	}
	if strings.HasPrefix(fullURL, "urn:oid:") {
		return ""
	}
	if historyIdx := strings.Index(fullURL, "/_history/"); historyIdx != -1 {
		fullURL = fullURL[:historyIdx]
	}

	lastSlash := strings.LastIndex(fullURL, "/")
	if lastSlash == -1 || lastSlash == len(fullURL)-1 {
		return ""
	}
	return fullURL[lastSlash+1:]
}

// TypeFromProfile extracts the resource type from a StructureDefinition
// URL, falling back to the last path segment.
func TypeFromProfile(profileURL string) string {
	const basePrefix = "http://hl7.org/fhir/StructureDefinition/"
	if strings.HasPrefix(profileURL, basePrefix) {
		return strings.TrimPrefix(profileURL, basePrefix)
	}
	if i := strings.LastIndexByte(profileURL, '/'); i >= 0 {
		return profileURL[i+1:]
	}
	return profileURL
}
