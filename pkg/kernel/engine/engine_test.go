package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ormasoftchile/flowplan/pkg/kernel/llm"
	"github.com/ormasoftchile/flowplan/pkg/kernel/plan"
	"github.com/ormasoftchile/flowplan/pkg/kernel/vars"
)

const testCatalog = `
apiVersion: catalog/v0
skills:
  - name: text
    builtin: true
`

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func openEngine(t *testing.T, completion llm.TextCompletion) *Engine {
	t.Helper()
	e, err := Open(Options{CatalogPath: writeCatalog(t, testCatalog), Completion: completion})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e
}

func canned(markup string) llm.TextCompletion {
	return llm.CompletionFunc(func(context.Context, string, llm.Settings) (string, error) {
		return markup, nil
	})
}

func TestOpen_InvalidCatalog(t *testing.T) {
	_, err := Open(Options{CatalogPath: writeCatalog(t, "apiVersion: catalog/v9\nskills: []\n")})
	var ce *CatalogError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want *CatalogError", err)
	}
	if len(ce.Errors) == 0 {
		t.Error("expected validation errors")
	}
	if _, err := Open(Options{}); err == nil {
		t.Error("expected error for missing catalog path")
	}
}

func TestCreateAndRun(t *testing.T) {
	e := openEngine(t, canned(`<plan><function.text.Trim input="  hi  " /><function.text.Uppercase /></plan>`))
	ctx := context.Background()

	p, err := e.CreatePlan(ctx, "clean and shout", nil)
	if err != nil {
		t.Fatal(err)
	}
	if p.StepCount() != 2 {
		t.Fatalf("steps = %d, want 2", p.StepCount())
	}

	res := e.Run(ctx, p, RunConfig{RunID: "r1"})
	if res.Status != StatusCompleted || res.Error != nil {
		t.Fatalf("status = %s, err = %v", res.Status, res.Error)
	}
	if res.Result != "HI" {
		t.Errorf("result = %q, want HI", res.Result)
	}
	if res.NextStep != 2 || res.Steps != 2 {
		t.Errorf("cursor = %d/%d", res.NextStep, res.Steps)
	}
}

func TestCreatePlan_NoCompletion(t *testing.T) {
	e := openEngine(t, nil)
	if _, err := e.CreatePlan(context.Background(), "anything", nil); !errors.Is(err, ErrNoCompletion) {
		t.Errorf("err = %v, want ErrNoCompletion", err)
	}
}

func TestStep(t *testing.T) {
	e := openEngine(t, nil)
	ctx := context.Background()
	p := plan.NewWithSteps("shout",
		plan.NewReference("text", "Uppercase"),
		plan.NewReference("text", "Missing"))
	p.Resolve(e.Skills())

	variables := vars.New("quiet")
	res := e.Step(ctx, p, RunConfig{Variables: variables})
	if res.Status != StatusInProgress {
		t.Fatalf("status = %s, err = %v", res.Status, res.Error)
	}
	if variables.Input() != "QUIET" {
		t.Errorf("caller input = %q, want QUIET", variables.Input())
	}

	res = e.Step(ctx, p, RunConfig{Variables: variables})
	if res.Status != StatusFailed {
		t.Errorf("status = %s, want failed", res.Status)
	}
	if res.NextStep != 1 {
		t.Errorf("cursor = %d, want 1", res.NextStep)
	}
}

func TestRun_Cancelled(t *testing.T) {
	e := openEngine(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := plan.NewWithSteps("shout", plan.NewReference("text", "Uppercase"))
	p.Resolve(e.Skills())
	if res := e.Run(ctx, p, RunConfig{}); res.Status != StatusError {
		t.Errorf("status = %s, want error", res.Status)
	}
}

func TestLoadPlan(t *testing.T) {
	e := openEngine(t, nil)
	src := plan.NewWithSteps("shout", plan.NewReference("text", "Uppercase"))
	js, err := src.ToJSON()
	if err != nil {
		t.Fatal(err)
	}
	p, err := e.LoadPlan([]byte(js))
	if err != nil {
		t.Fatal(err)
	}
	if !p.Steps()[0].IsBound() {
		t.Error("loaded leaf should be bound to the catalog")
	}
}

func TestSaveLoadState(t *testing.T) {
	dir := t.TempDir()
	p := plan.NewWithSteps("shout", plan.NewReference("text", "Uppercase"))
	variables := vars.New("hi")
	variables.Set("tone", "loud")

	state, err := NewRunState("run-123", "catalog.yaml", p, variables)
	if err != nil {
		t.Fatal(err)
	}
	state.TracePath = "traces/run-123.jsonl"
	if err := SaveState(dir, state); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	loaded, err := LoadState(dir, "run-123")
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if loaded.CatalogPath != "catalog.yaml" || loaded.TracePath != "traces/run-123.jsonl" {
		t.Errorf("loaded = %+v", loaded)
	}
	if diff := cmp.Diff(variables.Pairs(), loaded.Variables.Pairs()); diff != "" {
		t.Errorf("variables mismatch (-want +got):\n%s", diff)
	}
	restored, err := plan.Parse(loaded.Plan)
	if err != nil {
		t.Fatal(err)
	}
	if restored.StepCount() != 1 || restored.Steps()[0].QualifiedName() != "text.Uppercase" {
		t.Errorf("restored plan = %+v", restored)
	}

	if _, err := LoadState(dir, "nope"); err == nil {
		t.Error("expected error for missing state")
	}
	if err := SaveState(dir, &RunState{}); err == nil {
		t.Error("expected error for missing run id")
	}
}

const shellCatalog = `
apiVersion: catalog/v0
skills:
  - name: shell
    functions:
      - name: Fail
        type: command
        argv: ["false"]
      - name: Hello
        type: command
        argv: ["echo", "hello"]
`

func TestRun_LeafPlan(t *testing.T) {
	e, err := Open(Options{CatalogPath: writeCatalog(t, shellCatalog)})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	ctx := context.Background()

	cases := []struct {
		name       string
		wantStatus string
		wantResult string
		wantErr    bool
	}{
		{"Fail", StatusFailed, "", true},
		{"Hello", StatusCompleted, "hello", false},
	}
	for _, tc := range cases {
		js, err := plan.NewReference("shell", tc.name).ToJSON()
		if err != nil {
			t.Fatal(err)
		}
		p, err := e.LoadPlan([]byte(js))
		if err != nil {
			t.Fatal(err)
		}
		if !p.IsLeaf() || !p.IsBound() {
			t.Fatalf("%s: leaf=%v bound=%v, want bound leaf", tc.name, p.IsLeaf(), p.IsBound())
		}

		for _, res := range []*RunResult{e.Run(ctx, p, RunConfig{}), e.Step(ctx, p, RunConfig{})} {
			if res.Status != tc.wantStatus {
				t.Errorf("%s: status = %q, want %q", tc.name, res.Status, tc.wantStatus)
			}
			if (res.Error != nil) != tc.wantErr {
				t.Errorf("%s: err = %v, wantErr %v", tc.name, res.Error, tc.wantErr)
			}
			var se *plan.StepError
			if tc.wantErr && !errors.As(res.Error, &se) {
				t.Errorf("%s: err = %T, want *plan.StepError", tc.name, res.Error)
			}
			if res.Result != tc.wantResult {
				t.Errorf("%s: result = %q, want %q", tc.name, res.Result, tc.wantResult)
			}
		}
	}
}
