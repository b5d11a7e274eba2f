package rules

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/gofhir/bundlevalidator/pkg/issue"
	"github.com/gofhir/bundlevalidator/pkg/path"
)

// LoadError reports a malformed rule set. Line is 0 when unknown.
type LoadError struct {
	Line   int
	RuleID string
	Msg    string
}

func (e *LoadError) Error() string {
	var b strings.Builder
	b.WriteString("rule set")
	if e.Line > 0 {
		fmt.Fprintf(&b, " line %d", e.Line)
	}
	if e.RuleID != "" {
		fmt.Fprintf(&b, " rule %q", e.RuleID)
	}
	b.WriteString(": ")
	b.WriteString(e.Msg)
	return b.String()
}

// ruleSetYAML is the on-disk layout. JSON rule sets decode through the same
// path since YAML is a superset of JSON.
type ruleSetYAML struct {
	Version           string    `yaml:"version"`
	TargetSpecVersion string    `yaml:"targetSpecVersion"`
	Project           string    `yaml:"project"`
	Rules             yaml.Node `yaml:"rules"`
}

type ruleYAML struct {
	ID           string    `yaml:"id"`
	Type         string    `yaml:"type"`
	ResourceType string    `yaml:"resourceType"`
	Path         string    `yaml:"path"`
	Severity     string    `yaml:"severity"`
	ErrorCode    string    `yaml:"errorCode"`
	Message      string    `yaml:"message"`
	Params       yaml.Node `yaml:"params"`
}

var ruleKeys = map[string]bool{
	"id": true, "type": true, "resourceType": true, "path": true,
	"severity": true, "errorCode": true, "message": true, "params": true,
}

// Load reads and parses a rule set file.
func Load(filename string) (*RuleSet, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule set: %w", err)
	}
	rs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return rs, nil
}

// Parse parses a rule set in YAML or JSON form. Rules keep their
// declaration order.
func Parse(data []byte) (*RuleSet, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, &LoadError{Msg: err.Error()}
	}
	if root.Kind == 0 || len(root.Content) == 0 {
		return nil, &LoadError{Msg: "empty rule set"}
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil, &LoadError{Line: doc.Line, Msg: "rule set must be a mapping"}
	}

	var raw ruleSetYAML
	if err := doc.Decode(&raw); err != nil {
		return nil, &LoadError{Line: doc.Line, Msg: err.Error()}
	}
	rs := &RuleSet{
		Version:           raw.Version,
		TargetSpecVersion: raw.TargetSpecVersion,
		Project:           raw.Project,
	}

	switch raw.Rules.Kind {
	case 0:
		return rs, nil
	case yaml.SequenceNode:
	default:
		return nil, &LoadError{Line: raw.Rules.Line, Msg: "rules must be a list"}
	}

	seen := make(map[string]int)
	for _, n := range raw.Rules.Content {
		r, err := parseRule(n)
		if err != nil {
			return nil, err
		}
		if first, dup := seen[r.ID]; dup {
			return nil, &LoadError{Line: n.Line, RuleID: r.ID, Msg: fmt.Sprintf("duplicate rule id (first declared on line %d)", first)}
		}
		seen[r.ID] = n.Line
		rs.Rules = append(rs.Rules, r)
	}
	return rs, nil
}

func parseRule(n *yaml.Node) (Rule, error) {
	if n.Kind != yaml.MappingNode {
		return Rule{}, &LoadError{Line: n.Line, Msg: "rule must be a mapping"}
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if key := n.Content[i].Value; !ruleKeys[key] {
			return Rule{}, &LoadError{Line: n.Content[i].Line, Msg: fmt.Sprintf("unknown field %q", key)}
		}
	}

	var raw ruleYAML
	if err := n.Decode(&raw); err != nil {
		return Rule{}, &LoadError{Line: n.Line, Msg: err.Error()}
	}
	fail := func(line int, format string, args ...any) error {
		return &LoadError{Line: line, RuleID: raw.ID, Msg: fmt.Sprintf(format, args...)}
	}

	if raw.ID == "" {
		return Rule{}, fail(n.Line, "id is required")
	}
	t := Type(raw.Type)
	params, ok := newParams(t)
	if !ok {
		return Rule{}, fail(n.Line, "unknown rule type %q", raw.Type)
	}
	if raw.ResourceType == "" {
		return Rule{}, fail(n.Line, "resourceType is required")
	}

	r := Rule{
		ID:           raw.ID,
		Type:         t,
		ResourceType: raw.ResourceType,
		Path:         raw.Path,
		Severity:     issue.SeverityError,
		ErrorCode:    raw.ErrorCode,
		Message:      raw.Message,
		Line:         n.Line,
	}
	if raw.Severity != "" {
		r.Severity = issue.Severity(raw.Severity)
		if !r.Severity.Valid() {
			return Rule{}, fail(n.Line, "invalid severity %q", raw.Severity)
		}
	}
	if r.ErrorCode == "" {
		r.ErrorCode = DefaultErrorCode(t)
	}
	if _, reserved := issue.Lookup(r.ErrorCode); reserved {
		return Rule{}, fail(n.Line, "errorCode %s is reserved", r.ErrorCode)
	}

	if head := leadingType(r.Path); head != "" && head != r.ResourceType {
		return Rule{}, fail(n.Line, "path targets %s, rule targets %s", head, r.ResourceType)
	}
	expr, err := path.ParseRelative(r.ResourceType, r.Path)
	if err != nil {
		return Rule{}, fail(n.Line, "invalid path: %v", err)
	}
	r.Expr = expr

	if raw.Params.Kind != 0 {
		if err := raw.Params.Decode(params); err != nil {
			return Rule{}, fail(raw.Params.Line, "invalid params: %v", err)
		}
	}
	if c, ok := params.(interface{ compile() error }); ok {
		if err := c.compile(); err != nil {
			return Rule{}, fail(n.Line, "%v", err)
		}
	}
	params = deref(params)
	if err := params.validate(); err != nil {
		return Rule{}, fail(n.Line, "%v", err)
	}
	r.Params = params
	return r, nil
}

// leadingType returns the first path segment when it names a resource
// type.
func leadingType(p string) string {
	p = strings.TrimSpace(p)
	end := strings.IndexAny(p, ".[")
	if end < 0 {
		end = len(p)
	}
	head := p[:end]
	if head == "" || head[0] < 'A' || head[0] > 'Z' {
		return ""
	}
	return head
}

// ErrNoRules is returned by Check for a rule set without rules.
var ErrNoRules = errors.New("rule set has no rules")

// Check reports rule set problems that do not prevent loading.
func Check(rs *RuleSet) []error {
	var errs []error
	if len(rs.Rules) == 0 {
		errs = append(errs, ErrNoRules)
	}
	codes := make(map[string]Type)
	for _, r := range rs.Rules {
		if prev, ok := codes[r.ErrorCode]; ok && prev != r.Type {
			errs = append(errs, &LoadError{Line: r.Line, RuleID: r.ID,
				Msg: fmt.Sprintf("errorCode %s is shared with a %s rule", r.ErrorCode, prev)})
			continue
		}
		codes[r.ErrorCode] = r.Type
	}
	return errs
}
