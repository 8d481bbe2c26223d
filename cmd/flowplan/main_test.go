package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/ormasoftchile/flowplan/pkg/config"
	"github.com/ormasoftchile/flowplan/pkg/kernel/contract"
	"github.com/ormasoftchile/flowplan/pkg/kernel/governance"
	"github.com/ormasoftchile/flowplan/pkg/kernel/plan"
	"github.com/ormasoftchile/flowplan/pkg/kernel/skill"
	"github.com/ormasoftchile/flowplan/pkg/kernel/vars"
)

const textCatalog = `
apiVersion: catalog/v0
skills:
  - name: text
    builtin: true
`

// setupCLI points the package globals at a temp catalog.
func setupCLI(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	if err := os.WriteFile(path, []byte(textCatalog), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg = config.Default()
	cfg.Catalog = path
	logger = zap.NewNop()
	assumeYes = false
	return dir
}

func shoutPlanFile(t *testing.T, dir string) string {
	t.Helper()
	js, err := plan.NewWithSteps("shout",
		plan.NewReference("text", "Trim"),
		plan.NewReference("text", "Uppercase")).ToJSON()
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "plan.json")
	if err := os.WriteFile(path, []byte(js), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseVars(t *testing.T) {
	v, err := parseVars("hello", []string{"city=Lima", "empty=", "url=a=b"})
	if err != nil {
		t.Fatal(err)
	}
	want := []vars.Pair{
		{Key: vars.InputKey, Value: "hello"},
		{Key: "city", Value: "Lima"},
		{Key: "empty", Value: ""},
		{Key: "url", Value: "a=b"},
	}
	if diff := cmp.Diff(want, v.Pairs()); diff != "" {
		t.Errorf("pairs mismatch (-want +got):\n%s", diff)
	}

	for _, bad := range []string{"novalue", "=x"} {
		if _, err := parseVars("", []string{bad}); err == nil {
			t.Errorf("parseVars(%q): expected error", bad)
		}
	}
}

func TestPromptApprover(t *testing.T) {
	view := skill.View{SkillName: "email", Name: "Send"}
	d := governance.Decision{Action: governance.ActionRequireApproval, RiskLevel: contract.RiskHigh, MatchedRule: "outbound"}

	cases := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tc := range cases {
		var out bytes.Buffer
		ok, err := promptApprover(strings.NewReader(tc.input), &out).Approve(context.Background(), view, d)
		if err != nil {
			t.Fatalf("input %q: %v", tc.input, err)
		}
		if ok != tc.want {
			t.Errorf("input %q: approved = %v, want %v", tc.input, ok, tc.want)
		}
		if !strings.Contains(out.String(), "email.Send requires approval (risk high, rule outbound)") {
			t.Errorf("prompt = %q", out.String())
		}
	}
}

func TestStatusIcon(t *testing.T) {
	cases := []struct {
		status   string
		expected string
	}{
		{"completed", "✓"},
		{"in_progress", "▸"},
		{"failed", "✗"},
		{"error", "!"},
	}
	for _, tc := range cases {
		if got := statusIcon(tc.status); got != tc.expected {
			t.Errorf("statusIcon(%q) = %q, want %q", tc.status, got, tc.expected)
		}
	}
}

func TestObtainPlan(t *testing.T) {
	dir := setupCLI(t)
	eng, err := openEngine(false)
	if err != nil {
		t.Fatal(err)
	}
	defer eng.Close(context.Background())

	p, err := obtainPlan(context.Background(), eng, shoutPlanFile(t, dir), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if p.StepCount() != 2 {
		t.Errorf("StepCount = %d, want 2", p.StepCount())
	}

	if _, err := obtainPlan(context.Background(), eng, "", []string{"  "}, nil); err == nil {
		t.Error("expected error for empty goal")
	}
	if _, err := obtainPlan(context.Background(), eng, "", []string{"do", "it"}, nil); err == nil {
		t.Error("expected error without a completion")
	}
}

func TestOpenEngine_NoCatalog(t *testing.T) {
	setupCLI(t)
	cfg.Catalog = ""
	if _, err := openEngine(false); err == nil {
		t.Error("expected error without a catalog")
	}
}
