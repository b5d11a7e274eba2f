package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/gofhir/bundlevalidator/pkg/issue"
)

// fileReport is the outcome for one input file.
type fileReport struct {
	File     string                  `json:"file"`
	Valid    bool                    `json:"valid"`
	Aborted  bool                    `json:"aborted,omitempty"`
	Summary  issue.Summary           `json:"summary"`
	Errors   []issue.ValidationError `json:"errors,omitempty"`
	Duration string                  `json:"duration,omitempty"`

	// Failure is set when the file could not be read or validated.
	Failure string `json:"failure,omitempty"`
}

func writeJSON(w io.Writer, reports []fileReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(reports)
}

func writeText(w io.Writer, reports []fileReport, quiet bool) error {
	for _, r := range reports {
		if err := writeTextReport(w, r, quiet); err != nil {
			return err
		}
	}
	return nil
}

func writeTextReport(w io.Writer, r fileReport, quiet bool) error {
	status := "VALID"
	switch {
	case r.Failure != "":
		status = "FAILED"
	case r.Aborted:
		status = "REJECTED"
	case !r.Valid:
		status = "INVALID"
	}

	p := &printer{w: w}
	p.printf("== %s ==\n", r.File)
	p.printf("Status: %s\n", status)
	if r.Failure != "" {
		p.printf("Error: %s\n\n", r.Failure)
		return p.err
	}
	p.printf("Errors: %d, Warnings: %d, Info: %d (blocking: %d)\n",
		r.Summary.ErrorCount(), r.Summary.WarningCount(), r.Summary.InfoCount(), r.Summary.Blocking)
	if r.Duration != "" {
		p.printf("Duration: %s\n", r.Duration)
	}

	if len(r.Errors) > 0 {
		p.printf("\nIssues:\n")
		for _, e := range r.Errors {
			if quiet && e.Severity == issue.SeverityInfo {
				continue
			}
			p.printf("  %s %-11s [%s] %s%s\n", severityLabel(e.Severity), e.Source, e.ErrorCode, e.Message, where(e))
		}
	}
	p.printf("\n")
	return p.err
}

func where(e issue.ValidationError) string {
	if e.Path == "" {
		return ""
	}
	s := " @ " + e.Path
	if e.Location != nil && e.Location.Line > 0 {
		s += fmt.Sprintf(" (line %d, col %d)", e.Location.Line, e.Location.Column)
	}
	return s
}

func severityLabel(s issue.Severity) string {
	switch s {
	case issue.SeverityError:
		return "ERROR"
	case issue.SeverityWarning:
		return "WARN "
	case issue.SeverityInfo:
		return "INFO "
	default:
		return "     "
	}
}

// printer remembers the first write error.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}
