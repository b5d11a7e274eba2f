package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"

	"github.com/gofhir/fhirpath"
	"github.com/gofhir/fhirpath/types"

	"github.com/gofhir/bundlevalidator/pkg/document"
	"github.com/gofhir/bundlevalidator/pkg/issue"
	"github.com/gofhir/bundlevalidator/pkg/model"
	"github.com/gofhir/bundlevalidator/pkg/path"
	"github.com/gofhir/bundlevalidator/pkg/reference"
	"github.com/gofhir/bundlevalidator/pkg/rules"
	"github.com/gofhir/bundlevalidator/pkg/terminology"
)

// evaluation is the state of one rule evaluation. It is owned by a single
// goroutine.
type evaluation struct {
	engine *Engine
	ctx    context.Context
	graph  *model.Graph
	rule   *rules.Rule
	env    Env

	out []issue.ValidationError
}

func (ev *evaluation) evaluate() ([]issue.ValidationError, error) {
	var err error
	switch p := ev.rule.Params.(type) {
	case rules.RequiredParams:
		err = ev.required()
	case rules.FixedValueParams:
		err = ev.fixedValue(p)
	case rules.AllowedValuesParams:
		err = ev.allowedValues(p)
	case rules.RegexParams:
		err = ev.regex(p)
	case rules.ReferenceParams:
		err = ev.reference(p)
	case rules.ArrayLengthParams:
		err = ev.arrayLength(p)
	case rules.CodeSystemParams:
		err = ev.codeSystem(p)
	case rules.CodeMasterParams:
		err = ev.codeMaster(p)
	case rules.FullURLIDMatchParams:
		err = ev.fullURLIDMatch()
	case rules.CustomExpressionParams:
		err = ev.customExpression(p)
	case rules.ResourceCompositionParams:
		ev.composition(p)
	default:
		ev.fail(ev.rule.Expr.String(), issue.ReasonMissingParams,
			fmt.Sprintf("no parameters for rule type %s", ev.rule.Type))
	}
	if err != nil {
		return nil, err
	}
	return ev.out, nil
}

// violation records a rule failure at p. The authored message is used
// verbatim.
func (ev *evaluation) violation(p string, d issue.Details) {
	r := ev.rule
	ve := issue.ValidationError{
		Source:       issue.SourceProject,
		Severity:     r.Severity,
		ResourceType: r.ResourceType,
		Path:         p,
		ErrorCode:    r.ErrorCode,
		Message:      r.Message,
		RuleID:       r.ID,
		RuleType:     string(r.Type),
		Details:      d,
	}
	if ve.Severity == "" {
		ve.Severity = issue.SeverityError
	}
	if ve.ErrorCode == "" {
		ve.ErrorCode = rules.DefaultErrorCode(r.Type)
	}
	if ve.Message == "" {
		ve.Message = fmt.Sprintf("Rule '%s' failed", r.ID)
	}
	ev.out = append(ev.out, ve)
}

func (ev *evaluation) fail(p, reason, cause string) {
	ev.out = append(ev.out, evaluationError(ev.rule, p, reason, cause))
}

// forEachHit visits every value reached by the rule's suffix in every
// in-scope instance. When instances exist but none reaches a value, the
// rule is reported as not evaluable.
func (ev *evaluation) forEachHit(visit func(in instance, h hit) error) error {
	instances := ev.instances()
	found := false
	for _, in := range instances {
		if err := ev.ctx.Err(); err != nil {
			return err
		}
		for _, h := range collect(in.obj, ev.rule.Expr.Suffix, false) {
			found = true
			if err := visit(in, h); err != nil {
				return err
			}
		}
	}
	if !found && len(instances) > 0 {
		ev.fail(ev.rule.Expr.String(), issue.ReasonPathNotFound,
			fmt.Sprintf("'%s' is not present in any %s", ev.rule.Expr.SuffixString(), ev.rule.ResourceType))
	}
	return nil
}

func (ev *evaluation) required() error {
	suffix := ev.rule.Expr.Suffix
	element := ev.rule.Expr.SuffixString()
	if element == "" {
		element = ev.rule.ResourceType
	}
	for _, in := range ev.instances() {
		if err := ev.ctx.Err(); err != nil {
			return err
		}
		present := false
		for _, h := range collect(in.obj, suffix, false) {
			if !isEmpty(h.value) {
				present = true
				break
			}
		}
		if !present {
			ev.violation(ev.pathOf(in, suffix), issue.MissingValueDetails{Element: element})
		}
	}
	return nil
}

func (ev *evaluation) fixedValue(p rules.FixedValueParams) error {
	expected := renderLiteral(p.Value)
	return ev.forEachHit(func(in instance, h hit) error {
		if !equal(h.value, p.Value) {
			ev.violation(ev.pathOf(in, h.segs), issue.ValueMismatchDetails{
				Actual:   render(h.value),
				Expected: expected,
			})
		}
		return nil
	})
}

func (ev *evaluation) allowedValues(p rules.AllowedValuesParams) error {
	allowed := make([]string, len(p.Values))
	for i, v := range p.Values {
		allowed[i] = renderLiteral(v)
	}
	return ev.forEachHit(func(in instance, h hit) error {
		for _, v := range p.Values {
			if equal(h.value, v) {
				return nil
			}
		}
		ev.violation(ev.pathOf(in, h.segs), issue.ValueNotAllowedDetails{
			Actual:  render(h.value),
			Allowed: allowed,
		})
		return nil
	})
}

func (ev *evaluation) regex(p rules.RegexParams) error {
	re := p.Regexp()
	return ev.forEachHit(func(in instance, h hit) error {
		text, ok := scalarText(h.value)
		if ok && re.MatchString(text) {
			return nil
		}
		ev.violation(ev.pathOf(in, h.segs), issue.PatternDetails{
			Actual:  render(h.value),
			Pattern: p.Pattern,
		})
		return nil
	})
}

// Reference rule failure reasons.
const (
	reasonTargetNotFound   = "target-not-found"
	reasonTypeNotAllowed   = "type-not-allowed"
	reasonTargetNotTyped   = "target-type-unknown"
	reasonInvalidReference = "invalid-reference"
)

func (ev *evaluation) reference(p rules.ReferenceParams) error {
	return ev.forEachHit(func(in instance, h hit) error {
		ref, segs := referenceOf(h)
		if ref == "" {
			return nil
		}
		d := issue.ReferenceTargetDetails{Reference: ref, AllowedTypes: p.TargetTypes}

		l, ok := reference.Parse(ref)
		if !ok {
			d.Reason = reasonInvalidReference
			ev.violation(ev.pathOf(in, segs), d)
			return nil
		}
		targetType, found := ev.resolve(in, l)
		switch {
		case !found:
			d.Reason = reasonTargetNotFound
		case len(p.TargetTypes) == 0:
			return nil
		case targetType == "":
			d.Reason = reasonTargetNotTyped
		case !slices.Contains(p.TargetTypes, targetType):
			d.Reason = reasonTypeNotAllowed
			d.ActualType = targetType
		default:
			return nil
		}
		ev.violation(ev.pathOf(in, segs), d)
		return nil
	})
}

// referenceOf extracts the literal of a Reference element or a bare
// reference string.
func referenceOf(h hit) (string, []path.Segment) {
	switch v := h.value.(type) {
	case string:
		return v, h.segs
	case map[string]any:
		if ref, ok := v["reference"].(string); ok {
			return ref, concat(h.segs, []path.Segment{{Name: "reference", Index: path.NoIndex}})
		}
	}
	return "", nil
}

// resolve finds the resource type a reference points to. Fragments resolve
// against the instance's contained resources.
func (ev *evaluation) resolve(in instance, l reference.Literal) (string, bool) {
	if l.Kind == reference.KindFragment {
		contained, _ := in.obj["contained"].([]any)
		for _, c := range contained {
			m, ok := c.(map[string]any)
			if !ok {
				continue
			}
			if id, _ := m["id"].(string); id == l.ID {
				rt, _ := m["resourceType"].(string)
				return rt, true
			}
		}
		return "", false
	}
	t, ok := ev.env.Catalog.Resolve(l.Raw)
	if !ok {
		return "", false
	}
	if t.ResourceType == "" {
		return l.Type, true
	}
	return t.ResourceType, true
}

func (ev *evaluation) arrayLength(p rules.ArrayLengthParams) error {
	suffix := ev.rule.Expr.Suffix
	check := func(in instance, segs []path.Segment, n int) {
		if (p.Min != nil && n < *p.Min) || (p.Max != nil && n > *p.Max) {
			ev.violation(ev.pathOf(in, segs), issue.ArrayLengthDetails{Min: p.Min, Max: p.Max, Actual: n})
		}
	}
	for _, in := range ev.instances() {
		if err := ev.ctx.Err(); err != nil {
			return err
		}
		hits := collect(in.obj, suffix, true)
		if len(hits) == 0 {
			check(in, suffix, 0)
		}
		for _, h := range hits {
			check(in, h.segs, length(h.value))
		}
	}
	return nil
}

// coded is one code found at a rule path, with its system when the value
// is a Coding.
type coded struct {
	system string
	code   string
	segs   []path.Segment
}

// codesOf reads codes from a code string, a Coding or a CodeableConcept.
func codesOf(h hit) []coded {
	switch v := h.value.(type) {
	case string:
		if v != "" {
			return []coded{{code: v, segs: h.segs}}
		}
	case map[string]any:
		if code, ok := v["code"].(string); ok && code != "" {
			system, _ := v["system"].(string)
			return []coded{{system: system, code: code, segs: concat(h.segs, []path.Segment{{Name: "code", Index: path.NoIndex}})}}
		}
		codings, _ := v["coding"].([]any)
		var out []coded
		for i, c := range codings {
			out = append(out, codesOf(hit{value: c, segs: concat(h.segs, []path.Segment{{Name: "coding", Index: i}})})...)
		}
		return out
	}
	return nil
}

func (ev *evaluation) terminology(name string) (*terminology.Terminology, bool) {
	if ev.env.Terminology == nil {
		return nil, false
	}
	return ev.env.Terminology.Get(name)
}

func (ev *evaluation) unknownTerminology(name string) {
	ev.fail(ev.rule.Expr.String(), issue.ReasonUnknownSet,
		fmt.Sprintf("terminology '%s' is not loaded", name))
}

func (ev *evaluation) codeSystem(p rules.CodeSystemParams) error {
	term, ok := ev.terminology(p.Terminology)
	if !ok {
		ev.unknownTerminology(p.Terminology)
		return nil
	}
	return ev.forEachHit(func(in instance, h hit) error {
		for _, c := range codesOf(h) {
			if !term.Contains(c.code) {
				ev.violation(ev.pathOf(in, c.segs), issue.CodeDetails{
					Terminology: p.Terminology,
					System:      c.system,
					Code:        c.code,
				})
			}
		}
		return nil
	})
}

// CodeMaster failure reasons.
const (
	reasonUnknownQuestion  = "unknown-question"
	reasonAnswerNotAllowed = "answer-not-allowed"
	reasonMissingAnswer    = "missing-answer"
	reasonMissingQuestion  = "missing-question"
)

func (ev *evaluation) codeMaster(p rules.CodeMasterParams) error {
	var term *terminology.Terminology
	if p.Terminology != "" {
		var ok bool
		if term, ok = ev.terminology(p.Terminology); !ok && len(p.Answers) == 0 {
			ev.unknownTerminology(p.Terminology)
			return nil
		}
	}

	gather := func(h hit, segs []path.Segment) []coded {
		var out []coded
		for _, sub := range collect(h.value, segs, false) {
			sub.segs = concat(h.segs, sub.segs)
			out = append(out, codesOf(sub)...)
		}
		return out
	}

	return ev.forEachHit(func(in instance, h hit) error {
		questions := gather(h, p.QuestionSegments())
		answers := gather(h, p.AnswerSegments())

		if len(questions) == 0 {
			if len(answers) > 0 {
				ev.violation(ev.pathOf(in, concat(h.segs, p.QuestionSegments())), issue.CodeMasterDetails{
					Terminology: p.Terminology,
					AnswerCode:  answers[0].code,
					Reason:      reasonMissingQuestion,
				})
			}
			return nil
		}

		for _, q := range questions {
			allowed, known := answersFor(p, term, q.code)
			if !known {
				ev.violation(ev.pathOf(in, q.segs), issue.CodeMasterDetails{
					Terminology:  p.Terminology,
					QuestionCode: q.code,
					Reason:       reasonUnknownQuestion,
				})
				continue
			}
			if len(allowed) == 0 {
				continue
			}
			if len(answers) == 0 {
				ev.violation(ev.pathOf(in, concat(h.segs, p.AnswerSegments())), issue.CodeMasterDetails{
					Terminology:    p.Terminology,
					QuestionCode:   q.code,
					AllowedAnswers: allowed,
					Reason:         reasonMissingAnswer,
				})
				continue
			}
			for _, a := range answers {
				if !slices.Contains(allowed, a.code) {
					ev.violation(ev.pathOf(in, a.segs), issue.CodeMasterDetails{
						Terminology:    p.Terminology,
						QuestionCode:   q.code,
						AnswerCode:     a.code,
						AllowedAnswers: allowed,
						Reason:         reasonAnswerNotAllowed,
					})
				}
			}
		}
		return nil
	})
}

// answersFor returns the allowed answers of a question code. The explicit
// answers map takes precedence over the terminology hierarchy.
func answersFor(p rules.CodeMasterParams, term *terminology.Terminology, question string) ([]string, bool) {
	if allowed, ok := p.Answers[question]; ok {
		return allowed, true
	}
	if term == nil || !term.Contains(question) {
		return nil, false
	}
	return term.Children(question), true
}

func (ev *evaluation) fullURLIDMatch() error {
	var nodes []*model.Node
	if ev.rule.ResourceType == document.RootType {
		nodes = ev.graph.Nodes()
	} else {
		for _, in := range ev.instances() {
			nodes = append(nodes, in.node)
		}
	}
	for _, n := range nodes {
		if err := ev.ctx.Err(); err != nil {
			return err
		}
		if n.FullURL == "" || n.ID == "" {
			continue
		}
		urlID := reference.ExtractIDFromFullURL(n.FullURL)
		if urlID == "" || urlID == n.ID {
			continue
		}
		ev.violation(fmt.Sprintf("%s.entry[%d].fullUrl", document.RootType, n.Index), issue.FullURLDetails{
			FullURL:    n.FullURL,
			ResourceID: n.ID,
			URLID:      urlID,
		})
	}
	return nil
}

func (ev *evaluation) customExpression(p rules.CustomExpressionParams) error {
	expr, err := ev.engine.compile(p.Expression)
	if err != nil {
		ev.fail(ev.rule.Expr.String(), issue.ReasonExpressionError, err.Error())
		return nil
	}
	onResource := len(ev.rule.Expr.Suffix) == 0

	return ev.forEachHit(func(in instance, h hit) error {
		if err := ev.ctx.Err(); err != nil {
			return err
		}
		at := ev.pathOf(in, h.segs)

		data := in.json()
		if !onResource {
			var merr error
			if data, merr = json.Marshal(h.value); merr != nil {
				ev.fail(at, issue.ReasonExpressionError, merr.Error())
				return nil
			}
		}

		result, eerr := expr.Evaluate(data)
		if eerr != nil {
			ev.fail(at, issue.ReasonExpressionError, eerr.Error())
			return nil
		}
		// An empty result means the expression does not apply.
		if len(result) == 0 {
			return nil
		}
		ok, isBool := singleBoolean(result)
		if !isBool {
			ev.fail(at, issue.ReasonNonBoolean,
				fmt.Sprintf("expression returned %d item(s), want a single boolean", len(result)))
			return nil
		}
		if !ok {
			ev.violation(at, issue.ExpressionDetails{Expression: p.Expression})
		}
		return nil
	})
}

func singleBoolean(c types.Collection) (value, ok bool) {
	if len(c) != 1 {
		return false, false
	}
	b, ok := c[0].(types.Boolean)
	if !ok {
		return false, false
	}
	return b.Bool(), true
}

// compile returns the cached compiled form of a FHIRPath expression.
func (e *Engine) compile(text string) (*fhirpath.Expression, error) {
	return e.exprs.GetOrLoad(text, func() (*fhirpath.Expression, error) {
		return fhirpath.Compile(text)
	})
}

// composition counts top-level resources against the declared mix and
// reports at most one error for the rule.
func (ev *evaluation) composition(p rules.ResourceCompositionParams) {
	details := issue.CompositionDetails{
		ClosedWorld: p.ClosedWorld,
		Diff: issue.CompositionDiff{
			Missing:    []issue.MissingCount{},
			Unexpected: []issue.ActualCount{},
			Excess:     []issue.ExcessCount{},
		},
	}

	declared := make(map[string]bool)
	for _, e := range p.Resources {
		declared[e.ResourceType] = true
		count := 0
		for _, n := range ev.graph.OfType(e.ResourceType) {
			if e.Matches(n.Node) {
				count++
			}
		}
		label := e.Label()
		details.Expected = append(details.Expected, issue.ExpectedCount{ResourceType: label, Min: e.Min, Max: e.Max})
		details.Actual = append(details.Actual, issue.ActualCount{ResourceType: label, Count: count})
		if count < e.Min {
			details.Diff.Missing = append(details.Diff.Missing, issue.MissingCount{
				ResourceType: label, ExpectedMin: e.Min, ActualCount: count,
			})
		}
		if e.Max != nil && count > *e.Max {
			details.Diff.Excess = append(details.Diff.Excess, issue.ExcessCount{
				ResourceType: label, ExpectedMax: *e.Max, ActualCount: count,
			})
		}
	}

	if p.ClosedWorld {
		counts := ev.graph.Counts()
		resourceTypes := make([]string, 0, len(counts))
		for t := range counts {
			if !declared[t] {
				resourceTypes = append(resourceTypes, t)
			}
		}
		sort.Strings(resourceTypes)
		for _, t := range resourceTypes {
			c := issue.ActualCount{ResourceType: t, Count: counts[t]}
			details.Actual = append(details.Actual, c)
			details.Diff.Unexpected = append(details.Diff.Unexpected, c)
		}
	}

	d := details.Diff
	if len(d.Missing)+len(d.Unexpected)+len(d.Excess) > 0 {
		ev.violation(ev.rule.Expr.String(), details)
	}
}
