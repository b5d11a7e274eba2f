package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/gofhir/bundlevalidator/pkg/cache"
	"github.com/gofhir/bundlevalidator/pkg/issue"
)

func testCollector() *Collector {
	return NewCollector(Config{Namespace: "test", Subsystem: "metrics"}, prometheus.NewRegistry())
}

func TestNewCollector(t *testing.T) {
	registry := prometheus.NewRegistry()
	c := NewCollector(Config{}, registry)
	if c.Registry() != registry {
		t.Error("collector registry not set")
	}

	c.RecordValidation(OutcomeValid, time.Millisecond)
	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "bundle_validator_validations_total" {
			found = true
		}
	}
	if !found {
		t.Error("default namespace not applied")
	}
}

func TestRecordValidation(t *testing.T) {
	c := testCollector()

	c.RecordValidation(OutcomeValid, 10*time.Millisecond)
	c.RecordValidation(OutcomeInvalid, 20*time.Millisecond)
	c.RecordValidation(OutcomeInvalid, 30*time.Millisecond)

	if got := testutil.ToFloat64(c.validationsTotal.WithLabelValues(OutcomeValid)); got != 1 {
		t.Errorf("valid = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.validationsTotal.WithLabelValues(OutcomeInvalid)); got != 2 {
		t.Errorf("invalid = %v, want 2", got)
	}
	if got := testutil.CollectAndCount(c.validationDuration); got != 1 {
		t.Errorf("duration series = %d, want 1", got)
	}
}

func TestRecordFindings(t *testing.T) {
	c := testCollector()

	errs := []issue.ValidationError{
		{Source: issue.SourceStructure, Severity: issue.SeverityError, ErrorCode: issue.CodeInvalidIDFormat},
		{Source: issue.SourceStructure, Severity: issue.SeverityError, ErrorCode: issue.CodeInvalidUUID},
		{Source: issue.SourceTerminology, Severity: issue.SeverityInfo, ErrorCode: issue.CodeTerminologyUnknown},
		{
			Source:    issue.SourceProject,
			Severity:  issue.SeverityWarning,
			ErrorCode: issue.CodeRuleEvaluationError,
			Details:   issue.RuleEvaluationDetails{Reason: issue.ReasonTimeout},
		},
	}
	c.RecordFindings(errs)

	tests := []struct {
		source   issue.Source
		severity issue.Severity
		want     float64
	}{
		{issue.SourceStructure, issue.SeverityError, 2},
		{issue.SourceTerminology, issue.SeverityInfo, 1},
		{issue.SourceProject, issue.SeverityWarning, 1},
		{issue.SourceModel, issue.SeverityError, 0},
	}
	for _, tt := range tests {
		got := testutil.ToFloat64(c.findingsTotal.WithLabelValues(string(tt.source), string(tt.severity)))
		if got != tt.want {
			t.Errorf("findings{%s,%s} = %v, want %v", tt.source, tt.severity, got, tt.want)
		}
	}
	if got := testutil.ToFloat64(c.ruleErrorsTotal.WithLabelValues(issue.ReasonTimeout)); got != 1 {
		t.Errorf("rule errors{timeout} = %v, want 1", got)
	}
}

func TestRecordStageAndCache(t *testing.T) {
	c := testCollector()

	c.RecordStage("structural", time.Millisecond)
	c.RecordStage("rules", 2*time.Millisecond)
	if got := testutil.CollectAndCount(c.stageDuration); got != 2 {
		t.Errorf("stage series = %d, want 2", got)
	}

	c.RecordExpressionCache(cache.Stats{Size: 3, Capacity: 10, Hits: 3, Misses: 1})
	if got := testutil.ToFloat64(c.cacheSize); got != 3 {
		t.Errorf("cache size = %v, want 3", got)
	}
	if got := testutil.ToFloat64(c.cacheHitRatio); got != 0.75 {
		t.Errorf("cache hit ratio = %v, want 0.75", got)
	}
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	c.RecordValidation(OutcomeValid, time.Millisecond)
	c.RecordStage("rules", time.Millisecond)
	c.RecordFindings([]issue.ValidationError{{Source: issue.SourceModel, Severity: issue.SeverityError}})
	c.RecordExpressionCache(cache.Stats{})
	if c.Registry() != nil {
		t.Error("nil collector should have no registry")
	}
}
