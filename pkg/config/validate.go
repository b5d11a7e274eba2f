package config

import (
	"fmt"
	"strings"

	"github.com/gofhir/bundlevalidator/pkg/issue"
	"github.com/gofhir/bundlevalidator/pkg/logger"
	"github.com/gofhir/bundlevalidator/pkg/structural"
)

// FieldError is a validation error for one configuration field.
type FieldError struct {
	// Field is the dotted YAML path, e.g. "validation.rule_timeout".
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError collects every invalid field of a configuration.
type ValidationError struct {
	Errors []FieldError
}

func (e ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "configuration validation failed: " + e.Errors[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "configuration validation failed with %d errors:", len(e.Errors))
	for _, err := range e.Errors {
		sb.WriteString("\n  - ")
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// Validate checks cfg and returns a ValidationError listing every invalid
// field, or nil.
func Validate(cfg *Config) error {
	var errs []FieldError
	add := func(field, format string, args ...any) {
		errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	v := cfg.Validation
	if v.RuleTimeout <= 0 {
		add("validation.rule_timeout", "must be positive, got %v", v.RuleTimeout)
	}
	if v.Concurrency <= 0 {
		add("validation.concurrency", "must be positive, got %d", v.Concurrency)
	}
	if v.ExpressionCacheSize <= 0 {
		add("validation.expression_cache_size", "must be positive, got %d", v.ExpressionCacheSize)
	}
	if len(v.Families) > 0 {
		known := make(map[string]bool)
		for _, f := range structural.Families() {
			known[f.Name] = true
		}
		for _, name := range v.Families {
			if !known[name] {
				add("validation.families", "unknown family %q", name)
			}
		}
	}

	if !issue.Severity(cfg.Terminology.Severity).Valid() {
		add("terminology.severity", "must be one of error, warning, info; got %q", cfg.Terminology.Severity)
	}
	if _, err := logger.ParseLevel(cfg.Logging.Level); err != nil {
		add("logging.level", "%v", err)
	}

	if cfg.Metrics.Enabled && cfg.Metrics.ListenAddress == "" {
		add("metrics.listen_address", "required when metrics are enabled")
	}

	switch cfg.Output.Format {
	case FormatText, FormatJSON:
	default:
		add("output.format", "must be %q or %q, got %q", FormatText, FormatJSON, cfg.Output.Format)
	}
	if cfg.Watch.Debounce < 0 {
		add("watch.debounce", "must not be negative, got %v", cfg.Watch.Debounce)
	}

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}
