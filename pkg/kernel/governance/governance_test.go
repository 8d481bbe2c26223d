package governance

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ormasoftchile/flowplan/pkg/kernel/contract"
	"github.com/ormasoftchile/flowplan/pkg/kernel/skill"
	"github.com/ormasoftchile/flowplan/pkg/kernel/vars"
)

func boolPtr(b bool) *bool { return &b }

func mustNew(t *testing.T, p *Policy) *Engine {
	t.Helper()
	e, err := New(p)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func subject(skillName, name, fnType string) Subject {
	return Subject{
		View:     skill.View{Name: name, SkillName: skillName},
		Type:     fnType,
		Contract: contract.ForType(fnType),
	}
}

func TestEvaluate_NilEngine(t *testing.T) {
	var e *Engine
	d := e.Evaluate(subject("shell", "Run", "command"))
	if d.Action != ActionAllow {
		t.Errorf("nil engine should allow, got %q", d.Action)
	}
	if d.RiskLevel != contract.RiskCritical {
		t.Errorf("risk = %q, want critical", d.RiskLevel)
	}
}

func TestEvaluate_Rules(t *testing.T) {
	e := mustNew(t, &Policy{
		Rules: []Rule{
			{Skill: "shell", Function: "rm*", Action: "deny"},
			{Risk: "critical", Action: "require-approval"},
			{Writes: "production", Action: "require-approval"},
			{Type: "prompt", Action: "allow"},
			{Default: "deny"},
		},
	})

	writesProd := subject("deploy", "Push", "builtin")
	writesProd.Contract.Writes = []string{"production"}

	tests := []struct {
		name string
		s    Subject
		want Action
	}{
		{"glob deny", subject("Shell", "RmAll", "command"), ActionDeny},
		{"critical risk", subject("shell", "List", "command"), ActionRequireApproval},
		{"writes tag", writesProd, ActionRequireApproval},
		{"type allow", subject("writer", "Summarize", "prompt"), ActionAllow},
		{"default", subject("math", "Add", "builtin"), ActionDeny},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := e.Evaluate(tt.s)
			if d.Action != tt.want {
				t.Errorf("action = %q, want %q (rule %q)", d.Action, tt.want, d.MatchedRule)
			}
		})
	}
}

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name string
		p    Policy
	}{
		{"unknown action", Policy{Rules: []Rule{{Skill: "x", Action: "maybe"}}}},
		{"bad glob", Policy{Rules: []Rule{{Skill: "[", Action: "deny"}}}},
		{"bad redaction", Policy{Redact: []Redaction{{Pattern: "("}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(&tt.p); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestMostRestrictive(t *testing.T) {
	allow := Decision{Action: ActionAllow}
	approval := Decision{Action: ActionRequireApproval}
	deny := Decision{Action: ActionDeny}

	if MostRestrictive(allow, approval).Action != ActionRequireApproval {
		t.Error("approval > allow")
	}
	if MostRestrictive(approval, deny).Action != ActionDeny {
		t.Error("deny > approval")
	}
	if MostRestrictive(allow, deny).Action != ActionDeny {
		t.Error("deny > allow")
	}
}

func TestCheckCommand(t *testing.T) {
	e := mustNew(t, &Policy{AllowedCommands: []string{"wc", "tr", "rm"}, DeniedCommands: []string{"rm"}})
	tests := []struct {
		command string
		ok      bool
	}{
		{"wc", true},
		{"/usr/bin/tr", true},
		{"rm", false},
		{"curl", false},
	}
	for _, tt := range tests {
		if err := e.CheckCommand(tt.command); (err == nil) != tt.ok {
			t.Errorf("CheckCommand(%q) = %v, want ok=%v", tt.command, err, tt.ok)
		}
	}
	if err := mustNew(t, nil).CheckCommand("anything"); err != nil {
		t.Errorf("empty policy: %v", err)
	}
}

func TestFilterEnv(t *testing.T) {
	e := mustNew(t, &Policy{DenyEnvVars: []string{"*_TOKEN", "AWS_*"}})
	filtered, blocked := e.FilterEnv([]string{"PATH=/bin", "GH_TOKEN=x", "AWS_SECRET=y", "HOME=/root"})
	if strings.Join(filtered, ",") != "PATH=/bin,HOME=/root" {
		t.Errorf("filtered = %v", filtered)
	}
	if strings.Join(blocked, ",") != "GH_TOKEN,AWS_SECRET" {
		t.Errorf("blocked = %v", blocked)
	}
	if !e.BlocksEnv() {
		t.Error("BlocksEnv should be true")
	}
}

func TestGuard(t *testing.T) {
	echo := skill.NewTextFunction(skill.View{Name: "Echo", SkillName: "shell"},
		func(_ context.Context, in string) (string, error) { return "token=abc123 " + in, nil })

	e := mustNew(t, &Policy{
		Rules:  []Rule{{Skill: "shell", Action: "require-approval"}},
		Redact: []Redaction{{Pattern: `token=\w+`, Replace: "token=[REDACTED]"}},
	})

	invoke := func(a Approver) *skill.Context {
		t.Helper()
		fn := e.Guard(echo, subject("shell", "Echo", "command"), a)
		sc, err := fn.Invoke(context.Background(), skill.NewContext(vars.New("hi"), nil, nil))
		if err != nil {
			t.Fatal(err)
		}
		return sc
	}

	sc := invoke(nil)
	if !sc.ErrorOccurred() || !errors.Is(sc.LastErr(), ErrDenied) {
		t.Errorf("no approver should deny, got %v", sc.LastErr())
	}

	var asked []string
	sc = invoke(ApproverFunc(func(_ context.Context, v skill.View, d Decision) (bool, error) {
		asked = append(asked, v.SkillName+"."+v.Name+":"+string(d.Action))
		return true, nil
	}))
	if sc.ErrorOccurred() {
		t.Fatalf("approved call failed: %s", sc.LastErrorDescription())
	}
	if got := sc.Result(); got != "token=[REDACTED] hi" {
		t.Errorf("result = %q", got)
	}
	if len(asked) != 1 || asked[0] != "shell.Echo:require-approval" {
		t.Errorf("asked = %v", asked)
	}

	if fn := mustNew(t, nil).Guard(echo, subject("shell", "Echo", "command"), nil); fn != echo {
		t.Error("permissive engine should not wrap")
	}
}
