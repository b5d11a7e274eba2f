// Package metrics exposes validation metrics through Prometheus.
//
// Metrics:
//   - bundle_validator_validations_total: completed validations by outcome
//   - bundle_validator_validation_duration_seconds: end-to-end validation time
//   - bundle_validator_findings_total: findings by source and severity
//   - bundle_validator_stage_duration_seconds: time spent per pipeline stage
//   - bundle_validator_rule_evaluation_errors_total: rules that could not be evaluated
//   - bundle_validator_expression_cache_size: compiled expressions held
//   - bundle_validator_expression_cache_hit_ratio: compiled expression cache hit ratio
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gofhir/bundlevalidator/pkg/cache"
	"github.com/gofhir/bundlevalidator/pkg/issue"
)

// Outcomes of a validation call.
const (
	OutcomeValid     = "valid"
	OutcomeInvalid   = "invalid"
	OutcomeAborted   = "aborted"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
)

// Config names the metric namespace and subsystem.
type Config struct {
	Namespace string
	Subsystem string

	// DurationBuckets overrides the validation duration histogram buckets.
	DurationBuckets []float64
}

// Collector records validation metrics on a Prometheus registry. A nil
// *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	validationsTotal   *prometheus.CounterVec
	validationDuration prometheus.Histogram
	findingsTotal      *prometheus.CounterVec
	stageDuration      *prometheus.HistogramVec
	ruleErrorsTotal    *prometheus.CounterVec
	cacheSize          prometheus.Gauge
	cacheHitRatio      prometheus.Gauge
}

// NewCollector creates a collector and registers its metrics with registry.
// If registry is nil a new one is created.
func NewCollector(cfg Config, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "bundle_validator"
	}
	if len(cfg.DurationBuckets) == 0 {
		// 1ms to ~4s
		cfg.DurationBuckets = prometheus.ExponentialBuckets(0.001, 2, 13)
	}

	c := &Collector{
		registry: registry,
		validationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "validations_total",
				Help:      "Total number of validations by outcome",
			},
			[]string{"outcome"},
		),
		validationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "validation_duration_seconds",
				Help:      "Duration of a validation call in seconds",
				Buckets:   cfg.DurationBuckets,
			},
		),
		findingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "findings_total",
				Help:      "Total number of findings by source and severity",
			},
			[]string{"source", "severity"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "stage_duration_seconds",
				Help:      "Duration of a pipeline stage in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15),
			},
			[]string{"stage"},
		),
		ruleErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "rule_evaluation_errors_total",
				Help:      "Total number of rules that could not be evaluated",
			},
			[]string{"reason"},
		),
		cacheSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "expression_cache_size",
				Help:      "Number of compiled expressions held in the cache",
			},
		),
		cacheHitRatio: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "expression_cache_hit_ratio",
				Help:      "Hit ratio of the compiled expression cache",
			},
		),
	}

	registry.MustRegister(
		c.validationsTotal,
		c.validationDuration,
		c.findingsTotal,
		c.stageDuration,
		c.ruleErrorsTotal,
		c.cacheSize,
		c.cacheHitRatio,
	)
	return c
}

// Registry returns the registry the metrics are registered with.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// RecordValidation records a finished validation call.
func (c *Collector) RecordValidation(outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.validationsTotal.WithLabelValues(outcome).Inc()
	c.validationDuration.Observe(duration.Seconds())
}

// RecordStage records the duration of one pipeline stage.
func (c *Collector) RecordStage(stage string, duration time.Duration) {
	if c == nil {
		return
	}
	c.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordFindings counts errs by source and severity, and rule evaluation
// errors by reason.
func (c *Collector) RecordFindings(errs []issue.ValidationError) {
	if c == nil {
		return
	}
	for i := range errs {
		ve := &errs[i]
		c.findingsTotal.WithLabelValues(string(ve.Source), string(ve.Severity)).Inc()
		if ve.ErrorCode != issue.CodeRuleEvaluationError {
			continue
		}
		reason := "unknown"
		if d, ok := ve.Details.(issue.RuleEvaluationDetails); ok {
			reason = d.Reason
		}
		c.ruleErrorsTotal.WithLabelValues(reason).Inc()
	}
}

// RecordExpressionCache publishes a snapshot of the compiled expression cache.
func (c *Collector) RecordExpressionCache(s cache.Stats) {
	if c == nil {
		return
	}
	c.cacheSize.Set(float64(s.Size))
	c.cacheHitRatio.Set(s.HitRate())
}
