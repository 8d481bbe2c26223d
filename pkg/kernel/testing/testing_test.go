package testing

import (
	"testing"
)

func TestParseTestSpec(t *testing.T) {
	yaml := `
description: "quadratic is simplified"
expected_status: completed
expected_steps: 2
must_run:
  - math.Simplify
  - text.Trim
must_not_run:
  - writer.Summarize
expected_state:
  precision: "2"
expected_result: "/^x = /"
`
	spec, err := ParseTestSpec([]byte(yaml))
	if err != nil {
		t.Fatal(err)
	}
	if spec.ExpectedStatus != StatusCompleted {
		t.Errorf("status = %q", spec.ExpectedStatus)
	}
	if spec.ExpectedSteps == nil || *spec.ExpectedSteps != 2 {
		t.Errorf("steps = %v", spec.ExpectedSteps)
	}
	if len(spec.MustRun) != 2 {
		t.Errorf("must_run = %d", len(spec.MustRun))
	}
	if len(spec.MustNotRun) != 1 {
		t.Errorf("must_not_run = %d", len(spec.MustNotRun))
	}
	if spec.ExpectedResult == nil || *spec.ExpectedResult != "/^x = /" {
		t.Errorf("result = %v", spec.ExpectedResult)
	}
}

func TestEvaluate_AllPass(t *testing.T) {
	steps := 2
	result := "x = 2"
	spec := &TestSpec{
		ExpectedStatus: "completed",
		ExpectedSteps:  &steps,
		MustRun:        []string{"math.Simplify", "text.trim"},
		MustNotRun:     []string{"writer.Summarize"},
		ExpectedState: map[string]string{
			"Precision": "2",
		},
		ExpectedResult: &result,
	}

	run := &RunResult{
		Status:   "completed",
		Steps:    2,
		Executed: []string{"math.Simplify", "text.Trim"},
		State:    map[string]string{"precision": "2"},
		Result:   "x = 2",
	}

	results := Evaluate(spec, run)
	if HasFailures(results) {
		for _, r := range results {
			if !r.Passed {
				t.Errorf("unexpected failure: %s: %s", r.Type, r.Message)
			}
		}
	}

	// status, steps, 2 must_run, 1 must_not_run, 1 state, result
	if len(results) != 7 {
		t.Errorf("expected 7 assertions, got %d", len(results))
	}
}

func TestEvaluate_Failures(t *testing.T) {
	steps := 3
	tests := []struct {
		name string
		spec *TestSpec
		run  *RunResult
	}{
		{"status", &TestSpec{ExpectedStatus: "completed"}, &RunResult{Status: "failed"}},
		{"steps", &TestSpec{ExpectedSteps: &steps}, &RunResult{Steps: 2}},
		{"must_run", &TestSpec{MustRun: []string{"math.Simplify"}}, &RunResult{Executed: []string{"text.Trim"}}},
		{"must_not_run", &TestSpec{MustNotRun: []string{"text.Trim"}}, &RunResult{Executed: []string{"text.Trim"}}},
		{"missing state", &TestSpec{ExpectedState: map[string]string{"k": "v"}}, &RunResult{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !HasFailures(Evaluate(tt.spec, tt.run)) {
				t.Errorf("expected failure for %s", tt.name)
			}
		})
	}
}

func TestEvaluate_Regex(t *testing.T) {
	tests := []struct {
		actual string
		passed bool
	}{
		{"200", true},
		{"503", false},
	}
	for _, tt := range tests {
		spec := &TestSpec{ExpectedState: map[string]string{"code": `/^2\d\d$/`}}
		run := &RunResult{State: map[string]string{"code": tt.actual}}
		if got := !HasFailures(Evaluate(spec, run)); got != tt.passed {
			t.Errorf("code %s: passed = %v, want %v", tt.actual, got, tt.passed)
		}
	}
}

func TestEvaluate_InvalidRegex(t *testing.T) {
	result := "/([/"
	spec := &TestSpec{ExpectedResult: &result}
	if !HasFailures(Evaluate(spec, &RunResult{Result: "/([/"})) {
		t.Error("an invalid pattern should never match")
	}
}

func TestEvaluate_StateOrder(t *testing.T) {
	spec := &TestSpec{ExpectedState: map[string]string{"b": "2", "a": "1", "c": "3"}}
	results := Evaluate(spec, &RunResult{State: map[string]string{"a": "1", "b": "2", "c": "3"}})
	var keys []string
	for _, r := range results {
		keys = append(keys, r.Key)
	}
	if len(keys) != 3 || keys[0] != "a" || keys[1] != "b" || keys[2] != "c" {
		t.Errorf("keys = %v, want sorted", keys)
	}
}

func TestEvaluate_EmptySpec(t *testing.T) {
	spec := &TestSpec{}
	run := &RunResult{}

	results := Evaluate(spec, run)
	if len(results) != 0 {
		t.Errorf("empty spec should produce 0 assertions, got %d", len(results))
	}
}

func TestHasFailures(t *testing.T) {
	allPass := []AssertionResult{{Passed: true}, {Passed: true}}
	if HasFailures(allPass) {
		t.Error("all pass should not have failures")
	}
	oneFail := []AssertionResult{{Passed: true}, {Passed: false}}
	if !HasFailures(oneFail) {
		t.Error("one fail should have failures")
	}
}

func TestTestSummary_Add(t *testing.T) {
	var s TestSummary
	for _, status := range []string{"passed", "passed", "failed", "skipped", "error", "bogus"} {
		s.Add(status)
	}
	want := TestSummary{Total: 6, Passed: 2, Failed: 1, Skipped: 1, Errors: 2}
	if s != want {
		t.Errorf("summary = %+v, want %+v", s, want)
	}
	if s.OK() {
		t.Error("OK() = true with failures")
	}
	if !(TestSummary{Total: 1, Passed: 1}).OK() {
		t.Error("OK() = false for an all-passing run")
	}
}
