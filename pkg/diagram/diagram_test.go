package diagram

import (
	"context"
	"strings"
	"testing"

	"github.com/ormasoftchile/flowplan/pkg/kernel/plan"
	"github.com/ormasoftchile/flowplan/pkg/kernel/skill"
)

func upper() skill.Function {
	return skill.NewTextFunction(skill.View{Name: "Uppercase", SkillName: "text"},
		func(_ context.Context, in string) (string, error) { return strings.ToUpper(in), nil })
}

func samplePlan(t *testing.T) *plan.Plan {
	t.Helper()
	first := plan.FromFunction(upper())
	first.NamedParameters.Set("input", "hello")
	first.NamedOutputs.Set(plan.ResultKey, "GREETING")

	missing := plan.NewReference("email", "Send")
	nested := plan.NewWithSteps("Notify the team", missing)

	return plan.NewWithSteps("Greet and notify", first, nested)
}

func TestGenerateMermaid(t *testing.T) {
	out, err := Generate(samplePlan(t), FormatMermaid)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{
		"flowchart TD",
		`START(["Greet and notify"])`,
		"START --> s_0",
		"text.Uppercase<br/>input=hello<br/>→ GREETING",
		`subgraph s_1 ["Notify the team"]`,
		"s_0 --> s_1_in",
		"s_1_in --> s_1_0",
		"s_1_0 --> END([Done])",
		"style s_1_0 fill:#a00",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestGenerateMermaid_Empty(t *testing.T) {
	out, err := Generate(plan.New("nothing"), FormatMermaid)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "END") {
		t.Errorf("empty plan should have no END node:\n%s", out)
	}
}

func TestGenerateMermaid_Progress(t *testing.T) {
	p := samplePlan(t)
	if _, err := p.InvokeNextStep(context.Background(), skill.NewContext(nil, skill.NewCollection(), nil)); err != nil {
		t.Fatal(err)
	}
	out, err := Generate(p, FormatMermaid)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "style s_0 fill:#0d6") {
		t.Errorf("completed step not styled:\n%s", out)
	}
	if !strings.Contains(out, `s_0["✓ text.Uppercase`) {
		t.Errorf("completed step missing check:\n%s", out)
	}
}

func TestGenerateASCII(t *testing.T) {
	out, err := Generate(samplePlan(t), FormatASCII)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"╔", "Greet and notify", "▶ text.Uppercase", "input=hello", "→ GREETING", "┏", "Notify the team", "✗ email.Send"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}

	// Every box line shares one width.
	widths := map[int]bool{}
	for _, line := range strings.Split(out, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "┌") || strings.HasPrefix(trimmed, "┏") || strings.HasPrefix(trimmed, "╔") {
			widths[len([]rune(trimmed))] = true
		}
	}
	if len(widths) != 1 {
		t.Errorf("box widths differ: %v\n%s", widths, out)
	}
}

func TestGenerateASCII_Empty(t *testing.T) {
	out, err := Generate(plan.New("idle"), FormatASCII)
	if err != nil {
		t.Fatal(err)
	}
	if out != "idle (empty)\n" {
		t.Errorf("got %q", out)
	}
}

func TestGenerateMarkdown(t *testing.T) {
	out, err := Generate(samplePlan(t), FormatMarkdown)
	if err != nil {
		t.Fatal(err)
	}
	want := "# Greet and notify\n\n" +
		"1. ▶ `text.Uppercase` (input=hello) → `GREETING`\n" +
		"2. ◆ **Notify the team**\n" +
		"   1. ✗ `email.Send` _not in catalog_\n" +
		"\n**Progress:** 0 of 2 functions completed, 1 unresolved\n"
	if out != want {
		t.Errorf("got:\n%s\nwant:\n%s", out, want)
	}
}

func TestGenerate_Errors(t *testing.T) {
	if _, err := Generate(plan.New("x"), Format("svg")); err == nil {
		t.Error("expected unsupported format error")
	}
	if _, err := Generate(nil, FormatASCII); err == nil {
		t.Error("expected nil plan error")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
	if got := truncate("a very long label", 10); got != "a very ..." {
		t.Errorf("got %q", got)
	}
}
