package schema

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/ormasoftchile/flowplan/pkg/kernel/governance"
	"github.com/ormasoftchile/flowplan/pkg/kernel/llm"
	"github.com/ormasoftchile/flowplan/pkg/kernel/plan"
	"github.com/ormasoftchile/flowplan/pkg/kernel/skill"
	"github.com/ormasoftchile/flowplan/pkg/kernel/vars"
)

const validCatalog = `
apiVersion: catalog/v0
skills:
  - name: writer
    description: Writing helpers
    functions:
      - name: Summarize
        description: Summarize the input text
        type: prompt
        template: "Summarize in {{ .length }} words: {{ .input }}"
        parameters:
          - name: length
            description: Number of words
            default: "20"
        settings:
          max_tokens: 64
          temperature: 0.2
  - name: shell
    functions:
      - name: WordCount
        description: Count words on stdin
        type: command
        argv: ["wc", "-w"]
        timeout: 5s
  - name: math
    functions:
      - name: Calculate
        type: builtin
  - name: text
    builtin: true
`

func load(t *testing.T, doc string) *Catalog {
	t.Helper()
	c, err := Load(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return c
}

func filterErrors(errs []*ValidationError) []*ValidationError {
	var out []*ValidationError
	for _, e := range errs {
		if e.Severity == "error" {
			out = append(out, e)
		}
	}
	return out
}

func containsMessage(errs []*ValidationError, substr string) bool {
	for _, e := range errs {
		if strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

func TestLoad_ValidCatalog(t *testing.T) {
	c := load(t, validCatalog)
	if c.APIVersion != APIVersionCatalog {
		t.Errorf("apiVersion = %q, want %s", c.APIVersion, APIVersionCatalog)
	}
	if len(c.Skills) != 4 {
		t.Fatalf("skills = %d, want 4", len(c.Skills))
	}
	f := c.Skills[0].Functions[0]
	if f.Type != FunctionPrompt || f.Settings == nil || f.Settings.MaxTokens != 64 {
		t.Errorf("function = %+v", f)
	}
	if f.Parameters[0].Default != "20" {
		t.Errorf("default = %q, want 20", f.Parameters[0].Default)
	}
	if !c.Skills[3].Builtin {
		t.Error("text skill should be builtin")
	}
	if errs := filterErrors(ValidateCatalog(c)); len(errs) > 0 {
		for _, e := range errs {
			t.Errorf("unexpected error: %s", e)
		}
	}
}

func TestLoad_UnknownField(t *testing.T) {
	_, err := Load(strings.NewReader(`
apiVersion: catalog/v0
skills:
  - name: writer
    functions:
      - name: Summarize
        type: prompt
        prompt: "misspelled template field"
`))
	if err == nil {
		t.Fatal("expected structural error for unknown field")
	}
}

func TestLoad_NormalizesType(t *testing.T) {
	c := load(t, `
apiVersion: catalog/v0
skills:
  - name: " writer "
    functions:
      - name: Summarize
        type: " Prompt "
        template: "{{ .input }}"
`)
	if c.Skills[0].Name != "writer" || c.Skills[0].Functions[0].Type != FunctionPrompt {
		t.Errorf("skill = %+v", c.Skills[0])
	}
}

func TestValidateCatalog_Rules(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"api version", `
apiVersion: catalog/v1
skills:
  - name: text
    builtin: true
`, `expected "catalog/v0"`},
		{"prompt without template", `
apiVersion: catalog/v0
skills:
  - name: writer
    functions:
      - name: Summarize
        type: prompt
`, "requires 'template'"},
		{"bad template", `
apiVersion: catalog/v0
skills:
  - name: writer
    functions:
      - name: Summarize
        type: prompt
        template: "{{ .input "
`, "invalid template"},
		{"command without argv", `
apiVersion: catalog/v0
skills:
  - name: shell
    functions:
      - name: Run
        type: command
`, "requires 'argv'"},
		{"bad timeout", `
apiVersion: catalog/v0
skills:
  - name: shell
    functions:
      - name: Run
        type: command
        argv: ["true"]
        timeout: soon
`, "invalid timeout"},
		{"extension without host", `
apiVersion: catalog/v0
skills:
  - name: remote
    functions:
      - name: Fetch
        type: extension
`, "requires host.command"},
		{"unknown builtin skill", `
apiVersion: catalog/v0
skills:
  - name: weather
    builtin: true
`, "not a built-in skill"},
		{"unknown builtin function", `
apiVersion: catalog/v0
skills:
  - name: math
    functions:
      - name: Integrate
        type: builtin
`, `has no function "Integrate"`},
		{"duplicate function", `
apiVersion: catalog/v0
skills:
  - name: writer
    functions:
      - name: Summarize
        type: prompt
        template: a
      - name: summarize
        type: prompt
        template: b
`, "duplicate function"},
		{"duplicate skill", `
apiVersion: catalog/v0
skills:
  - name: text
    builtin: true
  - name: Text
    builtin: true
`, "duplicate skill"},
		{"dotted function name", `
apiVersion: catalog/v0
skills:
  - name: writer
    functions:
      - name: sum.marize
        type: prompt
        template: a
`, "invalid function name"},
		{"invalid type", `
apiVersion: catalog/v0
skills:
  - name: writer
    functions:
      - name: Summarize
        type: script
`, "script"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := filterErrors(ValidateCatalog(load(t, tt.doc)))
			if !containsMessage(errs, tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, errs)
			}
		})
	}
}

func TestValidateCatalog_Warnings(t *testing.T) {
	errs := ValidateCatalog(load(t, `
apiVersion: catalog/v0
skills:
  - name: PlannerSkill_Excluded
    functions:
      - name: Hidden
        type: command
        argv: ["true"]
        template: unused
`))
	if len(filterErrors(errs)) > 0 {
		t.Fatalf("unexpected errors: %v", filterErrors(errs))
	}
	if !containsMessage(errs, "hidden from the planner") {
		t.Error("expected restricted skill warning")
	}
	if !containsMessage(errs, "only used by prompt functions") {
		t.Error("expected unused template warning")
	}
}

func TestGenerateCatalogJSONSchema(t *testing.T) {
	data, err := GenerateCatalogJSONSchema()
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
	for _, def := range []string{"Catalog", "Skill", "Function", "Parameter"} {
		if !strings.Contains(string(data), `"`+def+`"`) {
			t.Errorf("schema missing definition %s", def)
		}
	}
}

func TestValidatePlan(t *testing.T) {
	catalog := skill.NewCollection().MustRegister(
		skill.NewTextFunction(skill.View{Name: "Uppercase", SkillName: "text"},
			func(_ context.Context, s string) (string, error) { return strings.ToUpper(s), nil }))

	good, err := plan.NewWithSteps("shout", plan.NewReference("text", "Uppercase"), plan.NewReference("text", "Missing")).ToJSON()
	if err != nil {
		t.Fatal(err)
	}

	t.Run("valid", func(t *testing.T) {
		errs := ValidatePlan([]byte(good), nil)
		if len(errs) > 0 {
			t.Errorf("unexpected: %v", errs)
		}
	})

	t.Run("catalog warnings", func(t *testing.T) {
		errs := ValidatePlan([]byte(good), catalog)
		if len(filterErrors(errs)) > 0 {
			t.Fatalf("unexpected errors: %v", errs)
		}
		if len(errs) != 1 || !strings.Contains(errs[0].Message, "text.Missing") {
			t.Errorf("warnings = %v", errs)
		}
	})

	t.Run("object scope form", func(t *testing.T) {
		doc := `{"state":{"input":"x"},"steps":[],"named_parameters":[],"named_outputs":[],` +
			`"name":"","skill_name":"flowplan.Plan","description":"g","next_step_index":0}`
		if errs := filterErrors(ValidatePlan([]byte(doc), nil)); len(errs) > 0 {
			t.Errorf("unexpected: %v", errs)
		}
	})

	tests := []struct {
		name  string
		doc   string
		phase string
	}{
		{"not an object", `"just a string"`, "structural"},
		{"not json", `{"steps":`, "structural"},
		{"wrong steps type", strings.Replace(good, `"steps":[`, `"steps":"x","old":[`, 1), "semantic"},
		{"cursor out of range", strings.Replace(good, `"next_step_index":0}`, `"next_step_index":7}`, 1), "domain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := filterErrors(ValidatePlan([]byte(tt.doc), nil))
			if len(errs) == 0 {
				t.Fatal("expected errors")
			}
			if errs[0].Phase != tt.phase {
				t.Errorf("phase = %q, want %q (%v)", errs[0].Phase, tt.phase, errs)
			}
		})
	}
}

func TestBuild(t *testing.T) {
	var prompts []string
	completion := llm.CompletionFunc(func(_ context.Context, prompt string, s llm.Settings) (string, error) {
		prompts = append(prompts, prompt)
		if s.MaxTokens != 64 {
			t.Errorf("max tokens = %d, want 64", s.MaxTokens)
		}
		return "short summary", nil
	})

	b, err := Build(load(t, validCatalog), BuildOptions{Completion: completion})
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close(context.Background())

	for _, q := range [][2]string{{"writer", "Summarize"}, {"shell", "WordCount"}, {"math", "Calculate"}, {"text", "Uppercase"}} {
		if !b.Skills.HasFunction(q[0], q[1]) {
			t.Errorf("%s.%s not registered", q[0], q[1])
		}
	}
	if b.Skills.HasFunction("math", "Add") {
		t.Error("only the listed builtin function should be registered")
	}

	fn, err := b.Skills.Function("writer", "Summarize")
	if err != nil {
		t.Fatal(err)
	}
	view := fn.Describe()
	if !view.IsSemantic || len(view.Parameters) != 1 || view.Parameters[0].DefaultValue != "20" {
		t.Errorf("view = %+v", view)
	}

	scope := vars.New("a long text")
	scope.Set("length", "5")
	sc, err := fn.Invoke(context.Background(), skill.NewContext(scope, b.Skills, nil))
	if err != nil {
		t.Fatal(err)
	}
	if sc.Result() != "short summary" {
		t.Errorf("result = %q", sc.Result())
	}
	if len(prompts) != 1 || prompts[0] != "Summarize in 5 words: a long text" {
		t.Errorf("prompts = %q", prompts)
	}
}

func TestBuild_Extension(t *testing.T) {
	b, err := Build(load(t, `
apiVersion: catalog/v0
skills:
  - name: remote
    host:
      command: flowplan-host
      args: ["--stdio"]
    functions:
      - name: Fetch
        type: extension
`), BuildOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(b.runners) != 1 || !b.Skills.HasFunction("remote", "Fetch") {
		t.Errorf("runners = %d", len(b.runners))
	}
	if err := b.Close(context.Background()); err != nil {
		t.Errorf("close of unstarted host: %v", err)
	}
}

func TestBuild_Policy(t *testing.T) {
	policy, err := governance.New(&governance.Policy{
		Rules: []governance.Rule{{Risk: "critical", Action: "deny"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	b, err := Build(load(t, validCatalog+`
  - name: safe
    contract:
      side_effects: false
    functions:
      - name: Echo
        type: command
        argv: ["cat"]
`), BuildOptions{Policy: policy})
	if err != nil {
		t.Fatal(err)
	}

	invoke := func(skillName, name string) *skill.Context {
		t.Helper()
		fn, err := b.Skills.Function(skillName, name)
		if err != nil {
			t.Fatal(err)
		}
		sc, err := fn.Invoke(context.Background(), skill.NewContext(vars.New("one two"), b.Skills, nil))
		if err != nil {
			t.Fatal(err)
		}
		return sc
	}

	if sc := invoke("shell", "WordCount"); !sc.ErrorOccurred() || !errors.Is(sc.LastErr(), governance.ErrDenied) {
		t.Errorf("command without contract should be denied, got %v", sc.LastErr())
	}
	if sc := invoke("text", "Uppercase"); sc.ErrorOccurred() || sc.Result() != "ONE TWO" {
		t.Errorf("builtin = %q %v", sc.Result(), sc.LastErr())
	}
	if fn, _ := b.Skills.Function("safe", "Echo"); fn == nil {
		t.Error("safe.Echo not registered")
	}

	denyWC, err := governance.New(&governance.Policy{DeniedCommands: []string{"wc"}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Build(load(t, validCatalog), BuildOptions{Policy: denyWC}); err == nil || !strings.Contains(err.Error(), "denied") {
		t.Errorf("err = %v, want denied command", err)
	}
}
