package testing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ormasoftchile/flowplan/pkg/kernel/llm"
	"github.com/ormasoftchile/flowplan/pkg/kernel/plan"
	"github.com/ormasoftchile/flowplan/pkg/kernel/planner"
	"github.com/ormasoftchile/flowplan/pkg/kernel/replay"
	"github.com/ormasoftchile/flowplan/pkg/kernel/schema"
	"github.com/ormasoftchile/flowplan/pkg/kernel/skill"
	"github.com/ormasoftchile/flowplan/pkg/kernel/trace"
	"github.com/ormasoftchile/flowplan/pkg/kernel/vars"
)

// TestResult is the result of running one scenario.
type TestResult struct {
	CatalogPath  string            `json:"catalog"`
	ScenarioName string            `json:"scenario_name"`
	Status       string            `json:"status"` // passed, failed, skipped, error
	DurationMs   int64             `json:"duration_ms"`
	Assertions   []AssertionResult `json:"assertions,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// TestSummary aggregates counts across scenarios.
type TestSummary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

// Add counts one scenario result.
func (s *TestSummary) Add(status string) {
	s.Total++
	switch status {
	case "passed":
		s.Passed++
	case "failed":
		s.Failed++
	case "skipped":
		s.Skipped++
	default:
		s.Errors++
	}
}

// OK reports whether no scenario failed or errored.
func (s TestSummary) OK() bool {
	return s.Failed == 0 && s.Errors == 0
}

// TestOutput is the top-level output of a test run.
type TestOutput struct {
	Catalog   string       `json:"catalog"`
	Scenarios []TestResult `json:"scenarios"`
	Summary   TestSummary  `json:"summary"`
}

// Runner executes scenario-based tests against a catalog.
type Runner struct {
	Timeout  time.Duration
	FailFast bool
	Planner  planner.Config
	Logger   *zap.Logger
}

// ScenarioInfo describes a discovered scenario directory.
type ScenarioInfo struct {
	Name string
	Dir  string
}

// DiscoverScenarios finds scenario directories for a catalog.
// Convention: scenarios are in a sibling `scenarios/<catalog-name>/` directory,
// each subdirectory containing a `scenario.yaml`.
func DiscoverScenarios(catalogPath string) ([]ScenarioInfo, error) {
	scenariosDir := ScenariosDir(catalogPath)
	entries, err := os.ReadDir(scenariosDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read scenarios dir: %w", err)
	}

	var scenarios []ScenarioInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		scenarioFile := filepath.Join(scenariosDir, entry.Name(), "scenario.yaml")
		if _, err := os.Stat(scenarioFile); err == nil {
			scenarios = append(scenarios, ScenarioInfo{
				Name: entry.Name(),
				Dir:  filepath.Join(scenariosDir, entry.Name()),
			})
		}
	}
	return scenarios, nil
}

// ScenariosDir returns the directory holding the scenarios of a catalog.
func ScenariosDir(catalogPath string) string {
	dir := filepath.Dir(catalogPath)
	base := strings.TrimSuffix(filepath.Base(catalogPath), filepath.Ext(catalogPath))
	return filepath.Join(dir, "scenarios", base)
}

// RunAll discovers and runs all scenarios for a catalog.
func (r *Runner) RunAll(ctx context.Context, catalogPath string) (*TestOutput, error) {
	scenarios, err := DiscoverScenarios(catalogPath)
	if err != nil {
		return nil, err
	}

	cat, valErrs := schema.ValidateFile(catalogPath)
	if cat == nil || schema.HasErrors(valErrs) {
		return nil, fmt.Errorf("catalog validation failed")
	}

	output := &TestOutput{Catalog: catalogPath}
	for _, si := range scenarios {
		result := r.runScenario(ctx, cat, catalogPath, si)
		output.Scenarios = append(output.Scenarios, result)
		output.Summary.Add(result.Status)

		if r.FailFast && !output.Summary.OK() {
			break
		}
	}
	return output, nil
}

// Run runs every scenario of the catalog, or only the named one when only
// is not empty.
func (r *Runner) Run(ctx context.Context, catalogPath, only string) (*TestOutput, error) {
	if only == "" {
		return r.RunAll(ctx, catalogPath)
	}
	result, err := r.RunScenario(ctx, catalogPath, only)
	if err != nil {
		return nil, err
	}
	output := &TestOutput{Catalog: catalogPath, Scenarios: []TestResult{*result}}
	output.Summary.Add(result.Status)
	return output, nil
}

// RunScenario runs a single named scenario.
func (r *Runner) RunScenario(ctx context.Context, catalogPath, scenarioName string) (*TestResult, error) {
	cat, valErrs := schema.ValidateFile(catalogPath)
	if cat == nil || schema.HasErrors(valErrs) {
		return nil, fmt.Errorf("catalog validation failed")
	}

	si := ScenarioInfo{Name: scenarioName, Dir: filepath.Join(ScenariosDir(catalogPath), scenarioName)}
	result := r.runScenario(ctx, cat, catalogPath, si)
	return &result, nil
}

// runScenario executes a single scenario and evaluates its test spec.
func (r *Runner) runScenario(ctx context.Context, cat *schema.Catalog, catalogPath string, si ScenarioInfo) TestResult {
	start := time.Now()
	result := TestResult{CatalogPath: catalogPath, ScenarioName: si.Name}
	finish := func(status, msg string) TestResult {
		result.Status = status
		result.Error = msg
		result.DurationMs = time.Since(start).Milliseconds()
		return result
	}

	scenario, err := replay.LoadScenarioDir(si.Dir)
	if err != nil {
		return finish("error", fmt.Sprintf("load scenario: %s", err))
	}

	// Load test spec (optional; a scenario without one is skipped)
	testSpecPath := filepath.Join(si.Dir, "test.yaml")
	if _, err := os.Stat(testSpecPath); err != nil {
		return finish("skipped", "")
	}
	spec, err := LoadTestSpec(testSpecPath)
	if err != nil {
		return finish("error", fmt.Sprintf("load test spec: %s", err))
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	run := r.Execute(ctx, cat, scenario, Paths{Catalog: filepath.Dir(catalogPath), Scenario: si.Dir}, "test-"+si.Name)
	if errors.Is(run.Error, context.DeadlineExceeded) {
		return finish("error", "timeout")
	}

	result.Assertions = Evaluate(spec, run)
	status := "passed"
	if HasFailures(result.Assertions) {
		status = "failed"
	}
	msg := ""
	if run.Error != nil && run.Status == StatusError {
		msg = run.Error.Error()
	}
	return finish(status, msg)
}

// Paths are the directories relative references resolve against.
type Paths struct {
	Catalog  string // command function dirs
	Scenario string // the scenario's plan file
}

// Execute builds the catalog over the scenario's replayed completions and
// functions, obtains a plan, and runs it to completion.
func (r *Runner) Execute(ctx context.Context, cat *schema.Catalog, scenario *replay.Scenario, paths Paths, runID string) *RunResult {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	rp := replay.New(scenario)
	run := &RunResult{Status: StatusError, State: map[string]string{}}

	bundle, err := schema.Build(cat, schema.BuildOptions{Completion: rp, Planner: r.Planner, BaseDir: paths.Catalog})
	if err != nil {
		run.Error = err
		return run
	}
	defer func() { _ = bundle.Close(context.Background()) }()
	catalog := rp.Catalog(bundle.Skills)

	var traceBuf bytes.Buffer
	tw := trace.NewWriter(&traceBuf, runID)

	scope := vars.New("")
	for k, v := range scenario.Inputs {
		scope.Set(k, v)
	}
	sc := skill.NewContext(scope, catalog, logger)
	sc.Trace = tw

	p, err := r.obtainPlan(ctx, scenario, paths.Scenario, rp, sc)
	if err != nil {
		run.Error = err
		return run
	}
	run.Steps = p.StepCount()

	_, err = p.Invoke(ctx, sc)
	switch {
	case err == nil:
		run.Status = StatusCompleted
	case errors.As(err, new(*plan.StepError)) && ctx.Err() == nil:
		run.Status = StatusFailed
		run.Error = err
	default:
		run.Error = err
	}

	for k, v := range p.State.All() {
		run.State[k] = v
	}
	run.Result = p.State.String()
	run.Executed, err = executed(traceBuf.Bytes())
	if err != nil {
		run.Status, run.Error = StatusError, err
	}
	return run
}

func (r *Runner) obtainPlan(ctx context.Context, scenario *replay.Scenario, dir string, completion llm.TextCompletion, sc *skill.Context) (*plan.Plan, error) {
	if scenario.Plan != "" {
		path := scenario.Plan
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read plan: %w", err)
		}
		return plan.FromJSON(string(data), sc)
	}
	if scenario.Goal == "" {
		return nil, fmt.Errorf("scenario has neither goal nor plan")
	}
	fp := planner.New(sc.Skills, completion, r.Planner, planner.WithLogger(sc.Logger), planner.WithTrace(sc.Trace))
	return fp.CreatePlan(ctx, scenario.Goal)
}

// executed lists the functions whose steps completed successfully, verifying
// the trace chain on the way.
func executed(data []byte) ([]string, error) {
	res, err := trace.Verify(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if !res.Valid {
		return nil, fmt.Errorf("trace: %s", res.Error)
	}
	events, err := trace.ReadEvents(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	// Steps nest, so completions pair with the most recent open start.
	var open []string
	var names []string
	for _, evt := range events {
		switch evt.Type {
		case trace.EventStepStart:
			open = append(open, fmt.Sprint(evt.Data["function"]))
		case trace.EventStepComplete:
			if len(open) == 0 {
				continue
			}
			name := open[len(open)-1]
			open = open[:len(open)-1]
			if evt.Data["status"] == string(trace.StatusSuccess) {
				names = append(names, name)
			}
		}
	}
	return names, nil
}
