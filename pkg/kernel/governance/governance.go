// Package governance implements the policy applied to catalog functions
// before they run: rule-based allow/deny/approval decisions, a command
// allowlist, environment variable blocking, and output redaction.
package governance

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ormasoftchile/flowplan/pkg/kernel/contract"
	"github.com/ormasoftchile/flowplan/pkg/kernel/skill"
)

// Action is the outcome of evaluating a policy for a function.
type Action string

const (
	ActionAllow           Action = "allow"
	ActionRequireApproval Action = "require-approval"
	ActionDeny            Action = "deny"
)

// ErrDenied is the cause of a soft failure for a function the policy blocks.
var ErrDenied = errors.New("denied by governance policy")

// Policy is the governance section of the configuration.
type Policy struct {
	Rules           []Rule      `yaml:"rules,omitempty"             toml:"rules,omitempty"             json:"rules,omitempty"`
	AllowedCommands []string    `yaml:"allowed_commands,omitempty"  toml:"allowed_commands,omitempty"  json:"allowed_commands,omitempty"`
	DeniedCommands  []string    `yaml:"denied_commands,omitempty"   toml:"denied_commands,omitempty"   json:"denied_commands,omitempty"`
	DenyEnvVars     []string    `yaml:"deny_env_vars,omitempty"     toml:"deny_env_vars,omitempty"     json:"deny_env_vars,omitempty"`
	Redact          []Redaction `yaml:"redact,omitempty"            toml:"redact,omitempty"            json:"redact,omitempty"`
}

// Rule matches functions and assigns an action. Empty match fields match
// anything; Skill and Function are filepath.Match globs compared
// case-insensitively. A rule with only Default set is a catch-all.
type Rule struct {
	Skill    string `yaml:"skill,omitempty"    toml:"skill,omitempty"    json:"skill,omitempty"`
	Function string `yaml:"function,omitempty" toml:"function,omitempty" json:"function,omitempty"`
	Type     string `yaml:"type,omitempty"     toml:"type,omitempty"     json:"type,omitempty"`
	Risk     string `yaml:"risk,omitempty"     toml:"risk,omitempty"     json:"risk,omitempty"`
	Writes   string `yaml:"writes,omitempty"   toml:"writes,omitempty"   json:"writes,omitempty"`
	Action   string `yaml:"action,omitempty"   toml:"action,omitempty"   json:"action,omitempty"`
	Default  string `yaml:"default,omitempty"  toml:"default,omitempty"  json:"default,omitempty"`
}

// Redaction replaces matches of Pattern in function output.
type Redaction struct {
	Pattern string `yaml:"pattern" toml:"pattern" json:"pattern"`
	Replace string `yaml:"replace" toml:"replace" json:"replace"`
}

// Subject is what a policy is evaluated against.
type Subject struct {
	View     skill.View
	Type     string
	Contract contract.Contract
}

// Decision carries the governance evaluation result for a function.
type Decision struct {
	Action      Action             `json:"action"`
	RiskLevel   contract.RiskLevel `json:"risk_level"`
	MatchedRule string             `json:"matched_rule,omitempty"`
}

// Engine is a compiled policy. A nil *Engine allows everything.
type Engine struct {
	policy    Policy
	redaction []compiledRedaction
}

type compiledRedaction struct {
	pattern *regexp.Regexp
	replace string
}

// New compiles p. A nil policy yields a permissive engine.
func New(p *Policy) (*Engine, error) {
	e := &Engine{}
	if p == nil {
		return e, nil
	}
	e.policy = *p
	for i, rule := range p.Rules {
		if err := checkAction(rule.Action, rule.Default); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		for _, g := range []string{rule.Skill, rule.Function} {
			if _, err := filepath.Match(g, ""); err != nil {
				return nil, fmt.Errorf("rule %d: invalid pattern %q: %w", i, g, err)
			}
		}
	}
	for _, r := range p.Redact {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("redaction %q: %w", r.Pattern, err)
		}
		e.redaction = append(e.redaction, compiledRedaction{pattern: re, replace: r.Replace})
	}
	return e, nil
}

func checkAction(actions ...string) error {
	for _, a := range actions {
		switch Action(a) {
		case "", ActionAllow, ActionRequireApproval, ActionDeny:
		default:
			return fmt.Errorf("unknown action %q", a)
		}
	}
	return nil
}

// Evaluate returns the decision of the first matching rule. No match allows.
func (e *Engine) Evaluate(s Subject) Decision {
	c := s.Contract.Resolved()
	risk := c.Risk()
	if e == nil {
		return Decision{Action: ActionAllow, RiskLevel: risk}
	}
	for _, rule := range e.policy.Rules {
		if !ruleMatches(rule, s, &c, risk) {
			continue
		}
		action := Action(rule.Action)
		if rule.Default != "" {
			action = Action(rule.Default)
		}
		if action == "" {
			action = ActionAllow
		}
		return Decision{Action: action, RiskLevel: risk, MatchedRule: describeRule(rule)}
	}
	return Decision{Action: ActionAllow, RiskLevel: risk}
}

// MostRestrictive returns the more restrictive of two governance decisions.
// deny > require-approval > allow
func MostRestrictive(a, b Decision) Decision {
	if severity(a.Action) >= severity(b.Action) {
		return a
	}
	return b
}

func severity(a Action) int {
	switch a {
	case ActionDeny:
		return 2
	case ActionRequireApproval:
		return 1
	default:
		return 0
	}
}

func ruleMatches(rule Rule, s Subject, c *contract.Contract, risk contract.RiskLevel) bool {
	if rule.Default != "" {
		return true
	}
	if rule.Skill == "" && rule.Function == "" && rule.Type == "" && rule.Risk == "" && rule.Writes == "" {
		return false
	}
	if !globFold(rule.Skill, s.View.SkillName) || !globFold(rule.Function, s.View.Name) {
		return false
	}
	if rule.Type != "" && !strings.EqualFold(rule.Type, s.Type) {
		return false
	}
	if rule.Risk != "" && contract.RiskLevel(rule.Risk) != risk {
		return false
	}
	if rule.Writes != "" && !contains(c.Writes, rule.Writes) {
		return false
	}
	return true
}

func globFold(pattern, name string) bool {
	if pattern == "" {
		return true
	}
	ok, err := filepath.Match(strings.ToLower(pattern), strings.ToLower(name))
	return err == nil && ok
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func describeRule(rule Rule) string {
	if rule.Default != "" {
		return "default: " + rule.Default
	}
	var parts []string
	for _, kv := range [][2]string{{"skill", rule.Skill}, {"function", rule.Function}, {"type", rule.Type}, {"risk", rule.Risk}, {"writes", rule.Writes}} {
		if kv[1] != "" {
			parts = append(parts, kv[0]+"="+kv[1])
		}
	}
	return strings.Join(parts, " ")
}

// CheckCommand validates a command name against the allowlist/denylist.
// Deny takes precedence over allow.
func (e *Engine) CheckCommand(command string) error {
	if e == nil {
		return nil
	}
	base := filepath.Base(command)
	for _, denied := range e.policy.DeniedCommands {
		if command == denied || base == denied {
			return fmt.Errorf("command %q is denied by governance policy", command)
		}
	}
	if len(e.policy.AllowedCommands) > 0 {
		for _, allowed := range e.policy.AllowedCommands {
			if command == allowed || base == allowed {
				return nil
			}
		}
		return fmt.Errorf("command %q is not in the governance allowlist", command)
	}
	return nil
}

// FilterEnv returns env with variables matching deny_env_vars removed, and
// the names removed. With no deny patterns env is returned unchanged.
func (e *Engine) FilterEnv(env []string) (filtered, blocked []string) {
	if e == nil || len(e.policy.DenyEnvVars) == 0 {
		return env, nil
	}
	for _, kv := range env {
		name, _, _ := strings.Cut(kv, "=")
		if e.envDenied(name) {
			blocked = append(blocked, name)
			continue
		}
		filtered = append(filtered, kv)
	}
	return filtered, blocked
}

// BlocksEnv reports whether the policy strips any environment variables.
func (e *Engine) BlocksEnv() bool {
	return e != nil && len(e.policy.DenyEnvVars) > 0
}

func (e *Engine) envDenied(name string) bool {
	for _, pattern := range e.policy.DenyEnvVars {
		matched, err := filepath.Match(pattern, name)
		if err != nil || matched {
			// An invalid pattern blocks.
			return true
		}
	}
	return false
}

// Redact applies every redaction rule to s.
func (e *Engine) Redact(s string) string {
	if e == nil {
		return s
	}
	for _, r := range e.redaction {
		s = r.pattern.ReplaceAllString(s, r.replace)
	}
	return s
}

// Approver decides whether a function that requires approval may run.
type Approver interface {
	Approve(ctx context.Context, view skill.View, d Decision) (bool, error)
}

// ApproverFunc adapts a plain function to Approver.
type ApproverFunc func(ctx context.Context, view skill.View, d Decision) (bool, error)

// Approve calls f.
func (f ApproverFunc) Approve(ctx context.Context, view skill.View, d Decision) (bool, error) {
	return f(ctx, view, d)
}

// Guard wraps fn so that every invocation is checked against the policy.
// Denied functions, and functions requiring approval when approver is nil or
// declines, fail softly with ErrDenied. Output of allowed functions is
// redacted. A permissive engine returns fn unchanged.
func (e *Engine) Guard(fn skill.Function, s Subject, approver Approver) skill.Function {
	if e == nil || (len(e.policy.Rules) == 0 && len(e.redaction) == 0) {
		return fn
	}
	return &guarded{fn: fn, engine: e, subject: s, approver: approver}
}

type guarded struct {
	fn       skill.Function
	engine   *Engine
	subject  Subject
	approver Approver
}

func (g *guarded) Describe() skill.View { return g.fn.Describe() }

func (g *guarded) Invoke(ctx context.Context, sc *skill.Context) (*skill.Context, error) {
	view := g.fn.Describe()
	d := g.engine.Evaluate(g.subject)
	switch d.Action {
	case ActionDeny:
		return sc.Fail(fmt.Sprintf("%s.%s: %s (%s)", view.SkillName, view.Name, ErrDenied, d.MatchedRule), ErrDenied), nil
	case ActionRequireApproval:
		ok := false
		if g.approver != nil {
			var err error
			if ok, err = g.approver.Approve(ctx, view, d); err != nil {
				return sc, fmt.Errorf("approve %s.%s: %w", view.SkillName, view.Name, err)
			}
		}
		if !ok {
			return sc.Fail(fmt.Sprintf("%s.%s: approval not granted", view.SkillName, view.Name), ErrDenied), nil
		}
	}

	res, err := g.fn.Invoke(ctx, sc)
	if err != nil || res == nil || res.ErrorOccurred() || len(g.engine.redaction) == 0 {
		return res, err
	}
	for _, p := range res.Variables.Pairs() {
		if r := g.engine.Redact(p.Value); r != p.Value {
			res.Variables.Set(p.Key, r)
		}
	}
	return res, nil
}
