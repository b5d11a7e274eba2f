package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "BUNDLE_VALIDATOR_"

// Load reads the YAML file at path, applies defaults and validates the
// result. Environment variables are not consulted; use LoadWithEnvOverrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("configuration file %q: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML configuration data. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadWithEnvOverrides loads path, or the defaults when path is empty, and
// applies BUNDLE_VALIDATOR_* environment overrides. Environment variables
// take precedence over the file.
func LoadWithEnvOverrides(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = Load(path); err != nil {
			return nil, err
		}
	}

	if err := applyEnvOverrides(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration invalid after environment overrides: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies overrides read through lookup. Malformed
// numeric, boolean or duration values are errors.
func applyEnvOverrides(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []error
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
	}
	duration := func(name string, dst *time.Duration) {
		if v, ok := get(name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := get(name); ok {
			i, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = i
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := get(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}
	str := func(name string, dst *string) {
		if v, ok := get(name); ok {
			*dst = v
		}
	}
	list := func(name string, dst *[]string) {
		if v, ok := get(name); ok {
			*dst = splitList(v)
		}
	}

	duration("RULE_TIMEOUT", &cfg.Validation.RuleTimeout)
	integer("CONCURRENCY", &cfg.Validation.Concurrency)
	integer("EXPRESSION_CACHE_SIZE", &cfg.Validation.ExpressionCacheSize)
	list("FAMILIES", &cfg.Validation.Families)
	boolean("SKIP_MODEL", &cfg.Validation.SkipModel)

	list("RULES_FILES", &cfg.Rules.Files)

	list("TERMINOLOGY_FILES", &cfg.Terminology.Files)
	str("TERMINOLOGY_SEVERITY", &cfg.Terminology.Severity)
	boolean("TERMINOLOGY_SKIP_DISPLAY", &cfg.Terminology.SkipDisplay)

	boolean("REFERENCES_SKIP", &cfg.References.Skip)
	list("REFERENCES_KNOWN", &cfg.References.Known)

	str("LOG_LEVEL", &cfg.Logging.Level)

	boolean("METRICS_ENABLED", &cfg.Metrics.Enabled)
	str("METRICS_LISTEN_ADDRESS", &cfg.Metrics.ListenAddress)

	str("OUTPUT_FORMAT", &cfg.Output.Format)
	duration("WATCH_DEBOUNCE", &cfg.Watch.Debounce)

	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
