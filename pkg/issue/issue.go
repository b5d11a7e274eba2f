// Package issue defines the unified validation error schema shared by every
// producer in the pipeline.
package issue

// Severity represents the severity of a validation error.
type Severity string

// Severity constants.
const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityError, SeverityWarning, SeverityInfo:
		return true
	}
	return false
}

// Source identifies the producer of a validation error.
type Source string

// Source constants, listed in output priority order.
const (
	SourceStructure   Source = "Structure"
	SourceModel       Source = "Model"
	SourceProject     Source = "Project"
	SourceTerminology Source = "Terminology"
	SourceReference   Source = "Reference"
)

// Sources lists every source in priority order.
var Sources = []Source{SourceStructure, SourceModel, SourceProject, SourceTerminology, SourceReference}

// Priority returns the ordering rank of the source. Lower sorts first.
func (s Source) Priority() int {
	for i, src := range Sources {
		if src == s {
			return i
		}
	}
	return len(Sources)
}

// Location is a navigable position inside the validated document.
type Location struct {
	// Pointer is a fragment pointer ("#/entry/0/resource/name/1"). Never empty.
	Pointer string `json:"pointer"`

	// IsExact is false when Pointer names an ancestor of the requested element.
	IsExact bool `json:"isExact"`

	// MissingSegments are the unresolved path segments, innermost last.
	MissingSegments []string `json:"missingSegments,omitempty"`

	// Line and Column of the pointer target in the raw input, 1-based.
	Line   int `json:"line,omitempty"`
	Column int `json:"column,omitempty"`
}

// ValidationError is a single normalized finding.
type ValidationError struct {
	Source       Source    `json:"source"`
	Severity     Severity  `json:"severity"`
	ResourceType string    `json:"resourceType,omitempty"`
	Path         string    `json:"path,omitempty"`
	Location     *Location `json:"location,omitempty"`
	ErrorCode    string    `json:"errorCode"`
	Message      string    `json:"message"`
	RuleID       string    `json:"ruleId,omitempty"`
	RuleType     string    `json:"ruleType,omitempty"`
	Details      Details   `json:"details"`
}

// Blocking reports whether the error prevents acceptance of the document.
// Terminology findings are advisory regardless of severity.
func (e *ValidationError) Blocking() bool {
	if e.Source == SourceTerminology {
		return false
	}
	return e.Severity == SeverityError
}

// Summary aggregates a list of validation errors.
type Summary struct {
	Total      int              `json:"total"`
	Blocking   int              `json:"blocking"`
	Valid      bool             `json:"valid"`
	BySource   map[Source]int   `json:"bySource"`
	BySeverity map[Severity]int `json:"bySeverity"`
}

// Summarize derives a Summary from errs.
func Summarize(errs []ValidationError) Summary {
	s := Summary{
		Total:      len(errs),
		BySource:   make(map[Source]int),
		BySeverity: make(map[Severity]int),
	}
	for i := range errs {
		s.BySource[errs[i].Source]++
		s.BySeverity[errs[i].Severity]++
		if errs[i].Blocking() {
			s.Blocking++
		}
	}
	s.Valid = s.Blocking == 0
	return s
}

// ErrorCount returns the number of error-severity findings.
func (s Summary) ErrorCount() int { return s.BySeverity[SeverityError] }

// WarningCount returns the number of warning-severity findings.
func (s Summary) WarningCount() int { return s.BySeverity[SeverityWarning] }

// InfoCount returns the number of info-severity findings.
func (s Summary) InfoCount() int { return s.BySeverity[SeverityInfo] }
