// Package config loads the bundle-validator.yaml file used by the command
// line tool.
//
// Values are resolved in order: built-in defaults, the YAML file, then
// BUNDLE_VALIDATOR_* environment variables.
package config

import "time"

// Config is the complete tool configuration.
type Config struct {
	Validation  ValidationConfig  `yaml:"validation"`
	Rules       RulesConfig       `yaml:"rules"`
	Terminology TerminologyConfig `yaml:"terminology"`
	References  ReferencesConfig  `yaml:"references"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Output      OutputConfig      `yaml:"output"`
	Watch       WatchConfig       `yaml:"watch"`
}

// ValidationConfig tunes the validation pipeline.
type ValidationConfig struct {
	RuleTimeout         time.Duration `yaml:"rule_timeout"`
	Concurrency         int           `yaml:"concurrency"`
	ExpressionCacheSize int           `yaml:"expression_cache_size"`

	// Families restricts the structural grammar families; all run when empty.
	Families []string `yaml:"families"`

	SkipModel bool `yaml:"skip_model"`
}

// RulesConfig lists the rule set files. Rule sets are merged in order.
type RulesConfig struct {
	Files []string `yaml:"files"`
}

// TerminologyConfig lists terminology sources. Files may hold FHIR
// CodeSystem/ValueSet resources, Bundles of them, or the compact form.
type TerminologyConfig struct {
	Files       []string `yaml:"files"`
	Severity    string   `yaml:"severity"`
	SkipDisplay bool     `yaml:"skip_display"`
}

// ReferencesConfig configures reference resolution.
type ReferencesConfig struct {
	Skip bool `yaml:"skip"`

	// Known lists identities outside the document that references may
	// point to, such as "Practitioner/123" or a full URL.
	Known []string `yaml:"known"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// MetricsConfig configures the Prometheus endpoint served in watch mode.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address"`
	Namespace     string `yaml:"namespace"`
	Subsystem     string `yaml:"subsystem"`
}

// OutputConfig selects the report format.
type OutputConfig struct {
	Format string `yaml:"format"`
}

// WatchConfig configures watch mode.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}
