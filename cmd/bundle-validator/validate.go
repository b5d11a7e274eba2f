package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/gofhir/bundlevalidator/pkg/config"
	"github.com/gofhir/bundlevalidator/pkg/issue"
	"github.com/gofhir/bundlevalidator/pkg/logger"
	"github.com/gofhir/bundlevalidator/pkg/metrics"
	"github.com/gofhir/bundlevalidator/pkg/reference"
	"github.com/gofhir/bundlevalidator/pkg/rules"
	"github.com/gofhir/bundlevalidator/pkg/terminology"
	"github.com/gofhir/bundlevalidator/pkg/validator"
	"github.com/gofhir/bundlevalidator/pkg/watch"
	"github.com/gofhir/bundlevalidator/pkg/worker"
)

type validateOptions struct {
	root *rootOptions

	rules       []string
	terminology []string
	known       []string
	output      string
	ruleTimeout time.Duration
	skipModel   bool
	skipRefs    bool
	quiet       bool
	watch       bool
	metrics     bool
	jobs        int
}

func newValidateCommand(root *rootOptions) *cobra.Command {
	o := &validateOptions{root: root}
	cmd := &cobra.Command{
		Use:   "validate [flags] <bundle.json>... | -",
		Short: "Validate one or more Bundles",
		Example: `  bundle-validator validate bundle.json
  bundle-validator validate --rules project.yaml --terminology loinc.json bundle.json
  bundle-validator validate --output json bundles/*.json
  cat bundle.json | bundle-validator validate -
  bundle-validator validate --watch --rules project.yaml bundle.json`,
		Args: cobra.MinimumNArgs(1),
		RunE: o.run,
	}

	f := cmd.Flags()
	f.StringSliceVarP(&o.rules, "rules", "r", nil, "rule set file(s), merged in order")
	f.StringSliceVarP(&o.terminology, "terminology", "t", nil, "terminology file(s): FHIR CodeSystem/ValueSet JSON or compact YAML")
	f.StringSliceVar(&o.known, "known-reference", nil, "reference target outside the Bundle, e.g. Practitioner/123")
	f.StringVarP(&o.output, "output", "o", "", "output format: text, json")
	f.DurationVar(&o.ruleTimeout, "rule-timeout", 0, "time limit of a single rule evaluation")
	f.BoolVar(&o.skipModel, "skip-model", false, "skip R4 model validation")
	f.BoolVar(&o.skipRefs, "skip-references", false, "skip reference resolution")
	f.BoolVarP(&o.quiet, "quiet", "q", false, "only show errors and warnings")
	f.BoolVarP(&o.watch, "watch", "w", false, "re-validate when an input, rule set or terminology file changes")
	f.BoolVar(&o.metrics, "metrics", false, "serve Prometheus metrics while watching")
	f.IntVarP(&o.jobs, "jobs", "j", 0, "number of files validated in parallel (0 = GOMAXPROCS)")
	return cmd
}

// applyFlags overrides configuration values with the flags that were set.
func (o *validateOptions) applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	if f.Changed("rules") {
		cfg.Rules.Files = o.rules
	}
	if f.Changed("terminology") {
		cfg.Terminology.Files = o.terminology
	}
	if f.Changed("known-reference") {
		cfg.References.Known = o.known
	}
	if f.Changed("output") {
		cfg.Output.Format = o.output
	}
	if f.Changed("rule-timeout") {
		cfg.Validation.RuleTimeout = o.ruleTimeout
	}
	if f.Changed("skip-model") {
		cfg.Validation.SkipModel = o.skipModel
	}
	if f.Changed("skip-references") {
		cfg.References.Skip = o.skipRefs
	}
	if f.Changed("metrics") {
		cfg.Metrics.Enabled = o.metrics
	}
	return config.Validate(cfg)
}

// session holds everything loaded from the configuration for one run.
// It is rebuilt when watched rule or terminology files change.
type session struct {
	cfg       *config.Config
	validator *validator.Validator
	rules     *rules.RuleSet
	registry  *terminology.Registry
	catalog   *reference.Catalog
}

func newSession(cfg *config.Config, collector *metrics.Collector) (*session, error) {
	s := &session{cfg: cfg}

	if len(cfg.Rules.Files) > 0 {
		sets := make([]*rules.RuleSet, 0, len(cfg.Rules.Files))
		for _, f := range cfg.Rules.Files {
			rs, err := rules.Load(f)
			if err != nil {
				return nil, err
			}
			sets = append(sets, rs)
		}
		merged, err := rules.Merge(sets...)
		if err != nil {
			return nil, err
		}
		s.rules = merged
		logger.Info("loaded %d rule(s) from %d file(s)", len(merged.Rules), len(sets))
	}

	if len(cfg.Terminology.Files) > 0 {
		s.registry = terminology.NewRegistry()
		stats, err := s.registry.LoadFiles(cfg.Terminology.Files...)
		if err != nil {
			return nil, err
		}
		logger.Info("loaded terminology: %+v", *stats)
	}

	if len(cfg.References.Known) > 0 {
		s.catalog = reference.NewCatalog()
		for _, ref := range cfg.References.Known {
			s.catalog.Add(ref, "")
		}
	}

	opts := []validator.Option{
		validator.WithRuleTimeout(cfg.Validation.RuleTimeout),
		validator.WithConcurrency(cfg.Validation.Concurrency),
		validator.WithExpressionCacheSize(cfg.Validation.ExpressionCacheSize),
		validator.WithTerminologySeverity(issue.Severity(cfg.Terminology.Severity)),
		validator.WithMetrics(collector),
	}
	if len(cfg.Validation.Families) > 0 {
		opts = append(opts, validator.WithFamilies(cfg.Validation.Families...))
	}
	if cfg.Validation.SkipModel {
		opts = append(opts, validator.WithoutModelValidation())
	}
	if cfg.References.Skip {
		opts = append(opts, validator.WithoutReferenceCheck())
	}
	if cfg.Terminology.SkipDisplay {
		opts = append(opts, validator.WithoutDisplayCheck())
	}

	v, err := validator.New(opts...)
	if err != nil {
		return nil, err
	}
	s.validator = v
	return s, nil
}

func (s *session) validate(ctx context.Context, data []byte) (*validator.Result, error) {
	var opts []validator.ValidateOption
	if s.registry != nil {
		opts = append(opts, validator.ValidateWithTerminology(s.registry))
	}
	if s.catalog != nil {
		opts = append(opts, validator.ValidateWithReferenceCatalog(s.catalog))
	}
	return s.validator.Validate(ctx, data, s.rules, opts...)
}

func (o *validateOptions) run(cmd *cobra.Command, args []string) error {
	cfg, err := o.root.loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := o.applyFlags(cmd, cfg); err != nil {
		return err
	}

	var collector *metrics.Collector
	if o.watch && cfg.Metrics.Enabled {
		collector = metrics.NewCollector(metrics.Config{
			Namespace: cfg.Metrics.Namespace,
			Subsystem: cfg.Metrics.Subsystem,
		}, prometheus.NewRegistry())
	}

	s, err := newSession(cfg, collector)
	if err != nil {
		return err
	}

	inputs, err := expandInputs(args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !o.watch {
		return o.validateAll(ctx, cmd, s, inputs)
	}

	if slices.Contains(inputs, "-") {
		return errors.New("--watch cannot read from stdin")
	}
	if collector != nil {
		srv := serveMetrics(cfg.Metrics.ListenAddress, collector.Registry())
		defer srv.Close()
	}

	// The first pass reports but never ends watch mode.
	_ = o.validateAll(ctx, cmd, s, inputs)

	watched := slices.Concat(inputs, cfg.Rules.Files, cfg.Terminology.Files)
	w, err := watch.New(watched, cfg.Watch.Debounce, logger.Default())
	if err != nil {
		return err
	}
	return w.Run(ctx, func(changed []string) {
		if touchesAny(changed, cfg.Rules.Files, cfg.Terminology.Files) {
			next, err := newSession(cfg, collector)
			if err != nil {
				logger.Error("reload failed, keeping previous rules and terminology: %v", err)
			} else {
				s = next
			}
		}
		_ = o.validateAll(ctx, cmd, s, inputs)
	})
}

func (o *validateOptions) validateAll(ctx context.Context, cmd *cobra.Command, s *session, inputs []string) error {
	reports := make([]fileReport, len(inputs))
	jobs := make([]worker.Job, 0, len(inputs))
	slots := make([]int, 0, len(inputs))
	for i, in := range inputs {
		var (
			data []byte
			err  error
		)
		reports[i].File = in
		if in == "-" {
			reports[i].File = "stdin"
			data, err = io.ReadAll(cmd.InOrStdin())
		} else {
			data, err = os.ReadFile(in)
		}
		if err != nil {
			reports[i].Failure = err.Error()
			continue
		}
		jobs = append(jobs, worker.Job{ID: reports[i].File, Data: data})
		slots = append(slots, i)
	}

	batch := worker.NewBatch(s.validate, o.jobs).Run(ctx, jobs)
	for k, r := range batch.Results {
		rep := &reports[slots[k]]
		rep.Duration = r.Duration.Round(time.Microsecond).String()
		if r.Err != nil {
			rep.Failure = r.Err.Error()
			continue
		}
		rep.Valid = r.Result.Valid()
		rep.Aborted = r.Result.Aborted
		rep.Summary = r.Result.Summary
		rep.Errors = r.Result.Errors
	}
	logger.Debug("validated %d file(s) in %s (%d failed)", len(inputs), batch.Duration, batch.FailedJobs)

	out := cmd.OutOrStdout()
	var err error
	if s.cfg.Output.Format == config.FormatJSON {
		err = writeJSON(out, reports)
	} else {
		err = writeText(out, reports, o.quiet)
	}
	if err != nil {
		return err
	}
	for _, r := range reports {
		if !r.Valid {
			return errInvalid
		}
	}
	return nil
}

// expandInputs resolves glob patterns. "-" is kept for stdin.
func expandInputs(args []string) ([]string, error) {
	var out []string
	for _, a := range args {
		if a == "-" {
			out = append(out, a)
			continue
		}
		matches, err := filepath.Glob(a)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", a, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no files match %q", a)
		}
		out = append(out, matches...)
	}
	return out, nil
}

func touchesAny(changed []string, groups ...[]string) bool {
	for _, g := range groups {
		for _, f := range g {
			abs, err := filepath.Abs(f)
			if err != nil {
				continue
			}
			if slices.Contains(changed, abs) {
				return true
			}
		}
	}
	return false
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("serving metrics on %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server: %v", err)
		}
	}()
	return srv
}
