package coreskills

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ormasoftchile/flowplan/pkg/kernel/llm"
	"github.com/ormasoftchile/flowplan/pkg/kernel/plan"
	"github.com/ormasoftchile/flowplan/pkg/kernel/planner"
	"github.com/ormasoftchile/flowplan/pkg/kernel/skill"
	"github.com/ormasoftchile/flowplan/pkg/kernel/vars"
)

const goalText = "Solve the equation x^2 = 2."

const functionFlowResult = `<plan>
  <function.math.simplify input="x^2 = 2" />
</plan>
    `

func reply(text string) llm.TextCompletion {
	return llm.CompletionFunc(func(context.Context, string, llm.Settings) (string, error) { return text, nil })
}

func simplify() skill.Function {
	return skill.NewTextFunction(skill.View{Name: "simplify", SkillName: "math", Description: "Solve an equation"},
		func(context.Context, string) (string, error) { return "x = ±√2", nil })
}

func fn(t *testing.T, fns []skill.Function, name string) skill.Function {
	t.Helper()
	for _, f := range fns {
		if f.Describe().Name == name {
			return f
		}
	}
	t.Fatalf("function %q not found", name)
	return nil
}

func invoke(t *testing.T, f skill.Function, sc *skill.Context) *skill.Context {
	t.Helper()
	res, err := f.Invoke(context.Background(), sc)
	if err != nil {
		t.Fatalf("invoke %s: %v", f.Describe().Name, err)
	}
	return res
}

func TestCreatePlan(t *testing.T) {
	catalog := skill.NewCollection().MustRegister(simplify())
	ps := NewPlannerSkill(catalog, reply(functionFlowResult), planner.DefaultConfig())

	sc := invoke(t, fn(t, ps.Functions(), "CreatePlan"), skill.NewContext(vars.New(goalText), catalog, nil))
	if sc.ErrorOccurred() {
		t.Fatalf("CreatePlan failed: %s", sc.LastErrorDescription())
	}

	p, err := plan.FromJSON(sc.Result(), sc)
	if err != nil {
		t.Fatal(err)
	}
	if p.Description != goalText {
		t.Errorf("description = %q, want %q", p.Description, goalText)
	}
	if p.State.String() != "" {
		t.Errorf("state = %q, want empty", p.State.String())
	}
	if p.StepCount() != 1 || p.Steps()[0].Name != "simplify" || p.Steps()[0].SkillName != "math" {
		t.Fatalf("steps = %+v", p.Steps())
	}
	if sc.Variables.Value(plan.PlanKey) != sc.Result() {
		t.Error("plan should also be stored under the plan key")
	}
}

func TestCreatePlan_ParseFailureIsSoft(t *testing.T) {
	ps := NewPlannerSkill(skill.NewCollection(), reply("I cannot help with that"), planner.DefaultConfig())

	sc := invoke(t, fn(t, ps.Functions(), "CreatePlan"), skill.NewContext(vars.New(goalText), nil, nil))
	if !sc.ErrorOccurred() {
		t.Fatal("expected soft failure")
	}
	if !strings.Contains(sc.LastErrorDescription(), "parse plan markup") {
		t.Errorf("description = %q", sc.LastErrorDescription())
	}
}

func TestExecutePlan(t *testing.T) {
	catalog := skill.NewCollection().MustRegister(simplify())
	ps := NewPlannerSkill(catalog, nil, planner.DefaultConfig())
	execute := fn(t, ps.Functions(), "ExecutePlan")

	tests := []struct {
		name  string
		scope func(js string) *vars.Scope
	}{
		{"plan entry", func(string) *vars.Scope {
			s, _ := plan.WithPlanEntry(vars.New(""), plan.NewWithFunctions(goalText, simplify()))
			return s
		}},
		{"plan as input", func(js string) *vars.Scope { return vars.New(js) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			js, _ := plan.NewWithFunctions(goalText, simplify()).ToJSON()
			sc := invoke(t, execute, skill.NewContext(tt.scope(js), catalog, nil))
			if sc.ErrorOccurred() {
				t.Fatalf("ExecutePlan failed: %s", sc.LastErrorDescription())
			}

			p, err := plan.FromJSON(sc.Result(), sc)
			if err != nil {
				t.Fatal(err)
			}
			if p.Description != goalText {
				t.Errorf("description = %q", p.Description)
			}
			if got := p.State.String(); got != "x = ±√2" {
				t.Errorf("state = %q, want %q", got, "x = ±√2")
			}
			if p.HasNextStep() {
				t.Error("plan should be exhausted")
			}
		})
	}
}

func TestExecutePlan_NoPlan(t *testing.T) {
	ps := NewPlannerSkill(skill.NewCollection(), nil, planner.DefaultConfig())
	sc := invoke(t, fn(t, ps.Functions(), "ExecutePlan"), skill.NewContext(vars.New("hello"), nil, nil))
	if !sc.ErrorOccurred() || sc.LastErrorDescription() != NoPlanMessage {
		t.Errorf("failure = %v %q", sc.ErrorOccurred(), sc.LastErrorDescription())
	}
}

func TestExecutePlan_UnresolvedStepFails(t *testing.T) {
	ps := NewPlannerSkill(skill.NewCollection(), nil, planner.DefaultConfig())
	s, _ := plan.WithPlanEntry(vars.New(""), plan.NewWithSteps(goalText, plan.NewReference("math", "simplify")))

	sc := invoke(t, fn(t, ps.Functions(), "ExecutePlan"), skill.NewContext(s, skill.NewCollection(), nil))
	if !sc.ErrorOccurred() || !strings.Contains(sc.LastErrorDescription(), "not resolved") {
		t.Errorf("failure = %v %q", sc.ErrorOccurred(), sc.LastErrorDescription())
	}
}

func TestBucketOutputs(t *testing.T) {
	tests := []struct {
		name   string
		reply  string
		prefix string
		want   map[string]string
		fail   bool
	}{
		{
			name:  "default prefix",
			reply: `{"buckets": ["Result 1\nThis is the first result.", "Result 2"]}`,
			want:  map[string]string{"Result_1": "Result 1\nThis is the first result.", "Result_2": "Result 2"},
		},
		{
			name:   "raw newline inside value",
			reply:  "{\"buckets\": [\"line one\nline two\"]}",
			prefix: "Item",
			want:   map[string]string{"Item_1": "line one\nline two"},
		},
		{name: "not json", reply: "here are your buckets", fail: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ps := NewPlannerSkill(skill.NewCollection(), reply(tt.reply), planner.DefaultConfig())
			scope := vars.New("some long output")
			scope.Set(ParamBucketCount, "2")
			if tt.prefix != "" {
				scope.Set(ParamBucketLabelPrefix, tt.prefix)
			}

			sc := invoke(t, fn(t, ps.Functions(), "BucketOutputs"), skill.NewContext(scope, nil, nil))
			if tt.fail {
				if !sc.ErrorOccurred() || !strings.Contains(sc.LastErrorDescription(), "Error parsing bucket outputs") {
					t.Errorf("failure = %v %q", sc.ErrorOccurred(), sc.LastErrorDescription())
				}
				return
			}
			if sc.ErrorOccurred() {
				t.Fatalf("unexpected failure: %s", sc.LastErrorDescription())
			}
			for k, want := range tt.want {
				if got := sc.Variables.Value(k); got != want {
					t.Errorf("%s = %q, want %q", k, got, want)
				}
			}
		})
	}
}

func TestText(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"Trim", "  hi  ", "hi"},
		{"TrimStart", "  hi  ", "hi  "},
		{"TrimEnd", "  hi  ", "  hi"},
		{"Uppercase", "hi", "HI"},
		{"Lowercase", "HI", "hi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := invoke(t, fn(t, Text(), tt.name), skill.NewContext(vars.New(tt.in), nil, nil))
			if got := sc.Result(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCalculate(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"(2 + 3) * 4", "20", false},
		{"7 / 2", "3.5", false},
		{"2 ** 10", "1024", false},
		{"1 +", "", true},
		{`"text"`, "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := Calculate(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("Calculate(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("Calculate(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMathAddSubtract(t *testing.T) {
	scope := vars.New("2")
	scope.Set("amount", "3")
	if got := invoke(t, fn(t, Math(), "Add"), skill.NewContext(scope, nil, nil)).Result(); got != "5" {
		t.Errorf("Add = %q, want 5", got)
	}

	scope = vars.New("2.5")
	scope.Set("amount", "1")
	if got := invoke(t, fn(t, Math(), "Subtract"), skill.NewContext(scope, nil, nil)).Result(); got != "1.5" {
		t.Errorf("Subtract = %q, want 1.5", got)
	}

	sc := invoke(t, fn(t, Math(), "Add"), skill.NewContext(vars.New("two"), nil, nil))
	if !sc.ErrorOccurred() {
		t.Error("non-numeric input should fail")
	}
}

func TestTime(t *testing.T) {
	clock := func() time.Time { return time.Date(2024, 3, 9, 15, 4, 5, 0, time.FixedZone("X", 3600)) }
	fns := Time(clock)

	tests := map[string]string{
		"Now":  "2024-03-09T14:04:05Z",
		"Date": "2024-03-09",
		"Year": "2024",
	}
	for name, want := range tests {
		if got := invoke(t, fn(t, fns, name), skill.NewContext(nil, nil, nil)).Result(); got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
}

func TestImport(t *testing.T) {
	c := skill.NewCollection()
	if err := Import(c, Options{}); err != nil {
		t.Fatal(err)
	}
	for _, q := range [][2]string{{"planner", "CreatePlan"}, {"text", "Uppercase"}, {"math", "Calculate"}, {"time", "Now"}} {
		if !c.HasFunction(q[0], q[1]) {
			t.Errorf("%s.%s not imported", q[0], q[1])
		}
	}
	if err := Import(c, Options{}, "nope"); err == nil {
		t.Error("unknown skill should fail")
	}
}
