package config

import (
	"runtime"
	"time"
)

// Default values.
const (
	DefaultRuleTimeout         = 2 * time.Second
	DefaultExpressionCacheSize = 256
	DefaultTerminologySeverity = "info"
	DefaultLogLevel            = "info"
	DefaultMetricsAddress      = ":9464"
	DefaultMetricsNamespace    = "bundle_validator"
	DefaultOutputFormat        = "text"
	DefaultWatchDebounce       = 300 * time.Millisecond
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	return &cfg
}

// ApplyDefaults sets defaults for any fields that have zero values.
// It is idempotent.
func ApplyDefaults(cfg *Config) {
	if cfg.Validation.RuleTimeout == 0 {
		cfg.Validation.RuleTimeout = DefaultRuleTimeout
	}
	if cfg.Validation.Concurrency == 0 {
		cfg.Validation.Concurrency = runtime.GOMAXPROCS(0)
	}
	if cfg.Validation.ExpressionCacheSize == 0 {
		cfg.Validation.ExpressionCacheSize = DefaultExpressionCacheSize
	}

	if cfg.Terminology.Severity == "" {
		cfg.Terminology.Severity = DefaultTerminologySeverity
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}

	if cfg.Metrics.ListenAddress == "" {
		cfg.Metrics.ListenAddress = DefaultMetricsAddress
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}

	if cfg.Output.Format == "" {
		cfg.Output.Format = DefaultOutputFormat
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = DefaultWatchDebounce
	}
}
