// Package validator runs the full validation pipeline over a Bundle and
// returns one ordered, navigable list of findings.
package validator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofhir/fhirpath/funcs"

	"github.com/gofhir/bundlevalidator/pkg/document"
	"github.com/gofhir/bundlevalidator/pkg/engine"
	"github.com/gofhir/bundlevalidator/pkg/issue"
	"github.com/gofhir/bundlevalidator/pkg/logger"
	"github.com/gofhir/bundlevalidator/pkg/metrics"
	"github.com/gofhir/bundlevalidator/pkg/model"
	"github.com/gofhir/bundlevalidator/pkg/reference"
	"github.com/gofhir/bundlevalidator/pkg/rules"
	"github.com/gofhir/bundlevalidator/pkg/structural"
	"github.com/gofhir/bundlevalidator/pkg/terminology"
	"github.com/gofhir/bundlevalidator/pkg/unify"
)

func init() {
	// CustomExpression rules may call trace(); keep it off stdout.
	funcs.SetTraceLogger(funcs.NullTraceLogger{})
}

// ErrCancelled is returned when the caller's context ends before the
// pipeline completes. The returned error also wraps ctx.Err().
var ErrCancelled = errors.New("validation cancelled")

// Pipeline stage names, as reported to logs and metrics.
const (
	StageParse       = "parse"
	StageStructural  = "structural"
	StageModel       = "model"
	StageRules       = "rules"
	StageTerminology = "terminology"
	StageReference   = "reference"
	StageUnify       = "unify"
)

// Result is the outcome of one validation call.
type Result struct {
	Errors  []issue.ValidationError `json:"errors"`
	Summary issue.Summary           `json:"summary"`

	// Aborted is set when the document could not be validated at all
	// (INVALID_DOCUMENT); Errors then holds exactly that error.
	Aborted bool `json:"aborted"`
}

// Valid reports whether the result contains no blocking findings.
func (r *Result) Valid() bool {
	return r.Summary.Valid
}

// Validator runs the pipeline. It is safe for concurrent use.
type Validator struct {
	config *Config
	log    *logger.Logger

	structValidator *structural.Validator
	modelValidator  model.Validator
	ruleEngine      *engine.Engine
}

// New creates a Validator with the given options.
func New(opts ...Option) (*Validator, error) {
	config := defaultConfig()
	for _, opt := range opts {
		opt(config)
	}
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid validator configuration: %w", err)
	}

	log := config.Logger
	if log == nil {
		log = logger.Default()
	}

	v := &Validator{
		config: config,
		log:    log.With("validator"),
		ruleEngine: engine.New(
			engine.WithConcurrency(config.Concurrency),
			engine.WithRuleTimeout(config.RuleTimeout),
			engine.WithExpressionCacheSize(config.ExpressionCacheSize),
		),
	}

	if len(config.Families) > 0 {
		v.structValidator = structural.New(structural.WithFamilies(config.Families...))
	} else {
		v.structValidator = structural.New()
	}

	switch {
	case config.ModelValidator != nil:
		v.modelValidator = config.ModelValidator
	case !config.SkipModel:
		v.modelValidator = model.NewR4Validator(model.WithConcurrency(config.Concurrency))
	}

	v.log.Debug("structural families: %v", v.structValidator.FamilyNames())
	v.log.Debug("rule timeout %v, concurrency %d", config.RuleTimeout, config.Concurrency)
	return v, nil
}

// Config returns a copy of the validator configuration.
func (v *Validator) Config() Config {
	return *v.config
}

// validateConfig holds per-call validation options.
type validateConfig struct {
	terminology *terminology.Registry
	catalog     *reference.Catalog
}

// ValidateOption configures a single Validate call.
type ValidateOption func(*validateConfig)

// ValidateWithTerminology sets the terminology registry for this call,
// replacing the one given to New.
func ValidateWithTerminology(reg *terminology.Registry) ValidateOption {
	return func(c *validateConfig) {
		c.terminology = reg
	}
}

// ValidateWithReferenceCatalog adds known reference targets outside the
// document for this call.
func ValidateWithReferenceCatalog(cat *reference.Catalog) ValidateOption {
	return func(c *validateConfig) {
		c.catalog = cat
	}
}

// Validate runs every stage over raw against rs. rs may be nil, in which
// case no project rules are evaluated. Findings never surface as a Go
// error; the error return is reserved for cancellation and internal
// failures such as a catalog violation.
func (v *Validator) Validate(ctx context.Context, raw []byte, rs *rules.RuleSet, opts ...ValidateOption) (*Result, error) {
	vc := &validateConfig{terminology: v.config.Terminology}
	for _, opt := range opts {
		opt(vc)
	}

	start := time.Now()
	res, err := v.run(ctx, raw, rs, vc)
	elapsed := time.Since(start)

	m := v.config.Metrics
	switch {
	case errors.Is(err, ErrCancelled):
		m.RecordValidation(metrics.OutcomeCancelled, elapsed)
		v.log.Debug("validation cancelled after %v", elapsed.Round(time.Microsecond))
		return nil, err
	case err != nil:
		m.RecordValidation(metrics.OutcomeFailed, elapsed)
		v.log.Error("validation failed: %v", err)
		return nil, err
	}

	m.RecordFindings(res.Errors)
	m.RecordExpressionCache(v.ruleEngine.ExpressionCacheStats())
	outcome := metrics.OutcomeValid
	switch {
	case res.Aborted:
		outcome = metrics.OutcomeAborted
	case !res.Summary.Valid:
		outcome = metrics.OutcomeInvalid
	}
	m.RecordValidation(outcome, elapsed)

	v.log.Info("validated bundle in %v: %d findings, %d blocking, outcome %s",
		elapsed.Round(time.Microsecond), res.Summary.Total, res.Summary.Blocking, outcome)
	return res, nil
}

func (v *Validator) run(ctx context.Context, raw []byte, rs *rules.RuleSet, vc *validateConfig) (*Result, error) {
	var in unify.Inputs

	// Parse
	var doc *document.Document
	err := v.stage(ctx, StageParse, func() error {
		var perr error
		doc, perr = document.Parse(raw)
		return perr
	})
	if err != nil {
		var syntax *document.SyntaxError
		if !errors.As(err, &syntax) {
			return nil, err
		}
		return v.abort(document.FromValue(nil), structural.InvalidDocument(syntax.Error()))
	}

	// Structural
	err = v.stage(ctx, StageStructural, func() error {
		var serr error
		in.Structural, serr = v.structValidator.Validate(ctx, doc)
		return serr
	})
	if err != nil {
		return nil, err
	}
	for _, ve := range in.Structural {
		if ve.ErrorCode == issue.CodeInvalidDocument {
			return v.abort(doc, ve)
		}
	}

	// Model
	var graph *model.Graph
	err = v.stage(ctx, StageModel, func() error {
		if v.modelValidator == nil {
			graph = model.NewGraph(doc)
			return nil
		}
		var merr error
		graph, in.Model, merr = v.modelValidator.Validate(ctx, doc)
		return merr
	})
	if err != nil {
		return nil, err
	}

	// Project rules
	if rs != nil && len(rs.Rules) > 0 {
		env := engine.Env{Terminology: vc.terminology}
		if vc.catalog != nil {
			env.Catalog = reference.FromDocument(doc)
			env.Catalog.Merge(vc.catalog)
		}
		err = v.stage(ctx, StageRules, func() error {
			var eerr error
			in.Project, eerr = v.ruleEngine.Evaluate(ctx, graph, rs, env)
			return eerr
		})
		if err != nil {
			return nil, err
		}
	}

	// Terminology
	if vc.terminology != nil {
		checker := terminology.NewChecker(vc.terminology, v.terminologyOptions()...)
		err = v.stage(ctx, StageTerminology, func() error {
			var terr error
			in.Terminology, terr = checker.Check(ctx, doc)
			return terr
		})
		if err != nil {
			return nil, err
		}
	}

	// References
	if !v.config.SkipReferences {
		var extra []*reference.Catalog
		if vc.catalog != nil {
			extra = append(extra, vc.catalog)
		}
		checker := reference.NewChecker(doc, extra...)
		err = v.stage(ctx, StageReference, func() error {
			var rerr error
			in.Reference, rerr = checker.Check(ctx, doc)
			return rerr
		})
		if err != nil {
			return nil, err
		}
	}

	var errs []issue.ValidationError
	err = v.stage(ctx, StageUnify, func() error {
		var uerr error
		errs, uerr = unify.Build(doc, in)
		return uerr
	})
	if err != nil {
		return nil, err
	}
	return &Result{Errors: errs, Summary: issue.Summarize(errs)}, nil
}

// stage runs fn after checking ctx, records its duration and turns context
// errors into ErrCancelled.
func (v *Validator) stage(ctx context.Context, name string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return cancelled(err)
	}
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	v.config.Metrics.RecordStage(name, elapsed)
	v.log.Debug("stage %s finished in %v", name, elapsed.Round(time.Microsecond))

	if err == nil {
		return nil
	}
	if cerr := ctx.Err(); cerr != nil {
		return cancelled(cerr)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return cancelled(err)
	}
	return fmt.Errorf("%s stage: %w", name, err)
}

func (v *Validator) abort(doc *document.Document, ve issue.ValidationError) (*Result, error) {
	errs, err := unify.Build(doc, unify.Inputs{Structural: []issue.ValidationError{ve}})
	if err != nil {
		return nil, err
	}
	v.log.Warn("document rejected: %s", ve.Message)
	return &Result{Errors: errs, Summary: issue.Summarize(errs), Aborted: true}, nil
}

func (v *Validator) terminologyOptions() []terminology.CheckerOption {
	var opts []terminology.CheckerOption
	if v.config.TerminologySeverity != "" {
		opts = append(opts, terminology.WithSeverity(v.config.TerminologySeverity))
	}
	if v.config.SkipDisplayCheck {
		opts = append(opts, terminology.WithoutDisplayCheck())
	}
	return opts
}

func cancelled(cause error) error {
	return fmt.Errorf("%w: %w", ErrCancelled, cause)
}
