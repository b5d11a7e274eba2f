package bundlevalidator

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is the release of this module.
const Version = "0.3.0"

// FHIRVersion is the FHIR release whose model and grammar are validated.
const FHIRVersion = "4.0.1"

// SpecVersion is a dotted FHIR specification version such as "4.0.1".
type SpecVersion struct {
	Major, Minor, Patch int
}

// ParseSpecVersion parses "4.0.1", "4.0" or "4". Release names R4, R4B and
// R5 are accepted as well.
func ParseSpecVersion(s string) (SpecVersion, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "R4":
		return SpecVersion{4, 0, 1}, nil
	case "R4B":
		return SpecVersion{4, 3, 0}, nil
	case "R5":
		return SpecVersion{5, 0, 0}, nil
	}

	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) == 0 || len(parts) > 3 {
		return SpecVersion{}, fmt.Errorf("invalid FHIR version %q", s)
	}
	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return SpecVersion{}, fmt.Errorf("invalid FHIR version %q", s)
		}
		nums[i] = n
	}
	return SpecVersion{nums[0], nums[1], nums[2]}, nil
}

// String returns the dotted form.
func (v SpecVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Supported reports whether a rule set targeting v can be evaluated by
// this module. Any 4.0.x release qualifies.
func (v SpecVersion) Supported() bool {
	return v.Major == 4 && v.Minor == 0
}
