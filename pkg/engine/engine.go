// Package engine evaluates project rule sets against the parsed resource
// graph of a Bundle.
//
// Rules run concurrently, each into its own buffer; buffers are merged in
// declaration order. A rule that cannot be evaluated (bad expression,
// missing terminology, timeout) is reported as a RULE_EVALUATION_ERROR
// scoped to that rule and never stops the remaining rules.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofhir/fhirpath"
	"golang.org/x/sync/errgroup"

	"github.com/gofhir/bundlevalidator/pkg/cache"
	"github.com/gofhir/bundlevalidator/pkg/issue"
	"github.com/gofhir/bundlevalidator/pkg/model"
	"github.com/gofhir/bundlevalidator/pkg/reference"
	"github.com/gofhir/bundlevalidator/pkg/rules"
	"github.com/gofhir/bundlevalidator/pkg/terminology"
)

// DefaultRuleTimeout bounds a single rule evaluation.
const DefaultRuleTimeout = 2 * time.Second

// Env carries the optional collaborators of one evaluation.
type Env struct {
	// Terminology resolves the named sets used by CodeSystem and
	// CodeMaster rules.
	Terminology *terminology.Registry

	// Catalog resolves Reference rule targets. When nil a catalog of the
	// document's own entries is used.
	Catalog *reference.Catalog
}

// Engine evaluates rule sets. It is safe for concurrent use; the only
// state shared between calls is the cache of compiled expressions.
type Engine struct {
	exprs       *cache.LRU[string, *fhirpath.Expression]
	concurrency int
	ruleTimeout time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithConcurrency bounds the number of rules evaluated in parallel.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithRuleTimeout sets the time limit of a single rule evaluation.
func WithRuleTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.ruleTimeout = d
		}
	}
}

// WithExpressionCacheSize sets the number of compiled expressions kept.
func WithExpressionCacheSize(n int) Option {
	return func(e *Engine) {
		e.exprs = cache.New[string, *fhirpath.Expression](n)
	}
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		exprs:       cache.New[string, *fhirpath.Expression](256),
		concurrency: 8,
		ruleTimeout: DefaultRuleTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExpressionCacheStats returns the compiled expression cache counters.
func (e *Engine) ExpressionCacheStats() cache.Stats { return e.exprs.Stats() }

// Evaluate runs every rule of rs against g. The returned error is non-nil
// only when ctx is done; findings are never returned partially.
func (e *Engine) Evaluate(ctx context.Context, g *model.Graph, rs *rules.RuleSet, env Env) ([]issue.ValidationError, error) {
	if rs == nil || len(rs.Rules) == 0 {
		return nil, nil
	}
	if env.Catalog == nil {
		env.Catalog = reference.FromDocument(g.Document())
	}

	buffers := make([][]issue.ValidationError, len(rs.Rules))
	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(e.concurrency)
	for i := range rs.Rules {
		r := &rs.Rules[i]
		eg.Go(func() error {
			if err := egctx.Err(); err != nil {
				return err
			}
			errs, err := e.run(egctx, g, r, env)
			if err != nil {
				return err
			}
			buffers[i] = errs
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	var out []issue.ValidationError
	for _, b := range buffers {
		out = append(out, b...)
	}
	return out, nil
}

type outcome struct {
	errs []issue.ValidationError
	err  error
}

// run evaluates one rule under the rule timeout. Evaluators check the
// context between instances; an expression still running when the timer
// fires is abandoned and its result discarded.
func (e *Engine) run(ctx context.Context, g *model.Graph, r *rules.Rule, env Env) ([]issue.ValidationError, error) {
	rctx, cancel := context.WithTimeout(ctx, e.ruleTimeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		ev := &evaluation{engine: e, ctx: rctx, graph: g, rule: r, env: env}
		errs, err := ev.evaluate()
		done <- outcome{errs, err}
	}()

	select {
	case o := <-done:
		if o.err == nil {
			return o.errs, nil
		}
		if ctx.Err() == nil && errors.Is(o.err, context.DeadlineExceeded) {
			return []issue.ValidationError{timeoutError(r, e.ruleTimeout)}, nil
		}
		return nil, o.err
	case <-rctx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return []issue.ValidationError{timeoutError(r, e.ruleTimeout)}, nil
	}
}

func timeoutError(r *rules.Rule, d time.Duration) issue.ValidationError {
	return evaluationError(r, r.Expr.String(), issue.ReasonTimeout,
		fmt.Sprintf("evaluation exceeded %s", d))
}

// evaluationError reports a rule that could not be evaluated at p.
func evaluationError(r *rules.Rule, p, reason, cause string) issue.ValidationError {
	msg := reason
	if cause != "" {
		msg = reason + " (" + cause + ")"
	}
	ve := issue.New(issue.CodeRuleEvaluationError,
		map[string]any{"rule": r.ID, "reason": msg},
		issue.RuleEvaluationDetails{Reason: reason, Cause: cause})
	ve.ResourceType = r.ResourceType
	ve.Path = p
	ve.RuleID = r.ID
	ve.RuleType = string(r.Type)
	return ve
}
