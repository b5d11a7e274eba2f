package validator

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/gofhir/bundlevalidator/pkg/engine"
	"github.com/gofhir/bundlevalidator/pkg/issue"
	"github.com/gofhir/bundlevalidator/pkg/logger"
	"github.com/gofhir/bundlevalidator/pkg/metrics"
	"github.com/gofhir/bundlevalidator/pkg/model"
	"github.com/gofhir/bundlevalidator/pkg/structural"
	"github.com/gofhir/bundlevalidator/pkg/terminology"
)

// DefaultExpressionCacheSize is the number of compiled FHIRPath expressions
// kept per Validator.
const DefaultExpressionCacheSize = 256

// Config holds the validator configuration.
type Config struct {
	RuleTimeout         time.Duration // Time limit of a single rule evaluation
	Concurrency         int           // Rules and resources evaluated in parallel
	ExpressionCacheSize int           // Compiled CustomExpression cache capacity
	Families            []string      // Structural families to run; all when empty

	ModelValidator model.Validator // Replaces the built-in R4 model validator
	SkipModel      bool            // Do not run model validation
	SkipReferences bool            // Do not check reference resolution

	Terminology         *terminology.Registry // Default registry for every call
	TerminologySeverity issue.Severity        // Overrides the severity of terminology findings
	SkipDisplayCheck    bool                  // Do not compare coding displays

	Logger  *logger.Logger
	Metrics *metrics.Collector
}

func defaultConfig() *Config {
	return &Config{
		RuleTimeout:         engine.DefaultRuleTimeout,
		Concurrency:         runtime.GOMAXPROCS(0),
		ExpressionCacheSize: DefaultExpressionCacheSize,
	}
}

func (c *Config) validate() error {
	var errs []error
	if c.RuleTimeout <= 0 {
		errs = append(errs, fmt.Errorf("rule timeout must be positive, got %v", c.RuleTimeout))
	}
	if c.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("concurrency must be positive, got %d", c.Concurrency))
	}
	if c.ExpressionCacheSize <= 0 {
		errs = append(errs, fmt.Errorf("expression cache size must be positive, got %d", c.ExpressionCacheSize))
	}
	if c.TerminologySeverity != "" && !c.TerminologySeverity.Valid() {
		errs = append(errs, fmt.Errorf("unknown terminology severity %q", c.TerminologySeverity))
	}
	if len(c.Families) > 0 {
		known := make(map[string]bool)
		for _, f := range structural.Families() {
			known[f.Name] = true
		}
		for _, name := range c.Families {
			if !known[name] {
				errs = append(errs, fmt.Errorf("unknown structural family %q", name))
			}
		}
	}
	return errors.Join(errs...)
}

// Option is a functional option for configuring the validator.
type Option func(*Config)

// WithRuleTimeout sets the time limit of a single rule evaluation.
func WithRuleTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.RuleTimeout = d
	}
}

// WithConcurrency bounds the parallelism of rule and model evaluation.
func WithConcurrency(n int) Option {
	return func(c *Config) {
		c.Concurrency = n
	}
}

// WithExpressionCacheSize sets the compiled expression cache capacity.
func WithExpressionCacheSize(n int) Option {
	return func(c *Config) {
		c.ExpressionCacheSize = n
	}
}

// WithFamilies restricts structural validation to the named families.
func WithFamilies(names ...string) Option {
	return func(c *Config) {
		c.Families = append(c.Families, names...)
	}
}

// WithModelValidator replaces the built-in R4 model validator.
func WithModelValidator(mv model.Validator) Option {
	return func(c *Config) {
		c.ModelValidator = mv
	}
}

// WithoutModelValidation disables the model stage. Rules still see every
// entry resource.
func WithoutModelValidation() Option {
	return func(c *Config) {
		c.SkipModel = true
	}
}

// WithoutReferenceCheck disables dangling reference and duplicate fullUrl
// checks.
func WithoutReferenceCheck() Option {
	return func(c *Config) {
		c.SkipReferences = true
	}
}

// WithTerminology sets the registry used by every call that does not pass
// ValidateWithTerminology.
func WithTerminology(reg *terminology.Registry) Option {
	return func(c *Config) {
		c.Terminology = reg
	}
}

// WithTerminologySeverity overrides the severity of terminology findings.
func WithTerminologySeverity(s issue.Severity) Option {
	return func(c *Config) {
		c.TerminologySeverity = s
	}
}

// WithoutDisplayCheck disables coding display comparison.
func WithoutDisplayCheck() Option {
	return func(c *Config) {
		c.SkipDisplayCheck = true
	}
}

// WithLogger sets the logger. The package default logger is used otherwise.
func WithLogger(l *logger.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithMetrics records validation metrics on m.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Config) {
		c.Metrics = m
	}
}
