// Package testing implements the scenario-based test harness. It plans a
// goal against replayed completions, executes the plan against replayed or
// live functions, and evaluates assertions on the final state.
package testing

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Run statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusError     = "error"
)

// TestSpec declares what to assert about a scenario run.
// All fields are optional; omitted fields produce no assertions.
type TestSpec struct {
	Description    string            `yaml:"description,omitempty" json:"description,omitempty"`
	ExpectedStatus string            `yaml:"expected_status,omitempty" json:"expected_status,omitempty"` // completed, failed, error
	ExpectedSteps  *int              `yaml:"expected_steps,omitempty" json:"expected_steps,omitempty"`   // top-level steps in the plan
	MustRun        []string          `yaml:"must_run,omitempty" json:"must_run,omitempty"`               // skill.name of functions that must succeed
	MustNotRun     []string          `yaml:"must_not_run,omitempty" json:"must_not_run,omitempty"`       // skill.name of functions that must not succeed
	ExpectedState  map[string]string `yaml:"expected_state,omitempty" json:"expected_state,omitempty"`   // plan state variable → expected value
	ExpectedResult *string           `yaml:"expected_result,omitempty" json:"expected_result,omitempty"` // final plan result
	Tags           []string          `yaml:"tags,omitempty" json:"tags,omitempty"`
}

// LoadTestSpec loads a test spec from a YAML file.
func LoadTestSpec(path string) (*TestSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read test spec: %w", err)
	}
	return ParseTestSpec(data)
}

// ParseTestSpec parses test spec YAML.
func ParseTestSpec(data []byte) (*TestSpec, error) {
	var s TestSpec
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse test spec: %w", err)
	}
	return &s, nil
}

// ---------------------------------------------------------------------------
// Run Result (input to assertion evaluator)
// ---------------------------------------------------------------------------

// RunResult captures execution data for assertion evaluation.
type RunResult struct {
	Status   string            // completed, failed, error
	Steps    int               // top-level steps in the plan
	Executed []string          // skill.name of functions that succeeded, in order
	State    map[string]string // final plan state
	Result   string            // final plan result
	Error    error
}

// ---------------------------------------------------------------------------
// Assertion Evaluation
// ---------------------------------------------------------------------------

// AssertionResult is the result of a single assertion.
type AssertionResult struct {
	Type     string `json:"type"` // expected_status, expected_steps, must_run, etc.
	Key      string `json:"key,omitempty"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Passed   bool   `json:"passed"`
	Message  string `json:"message,omitempty"`
}

// Evaluate runs all assertions from a TestSpec against a RunResult.
func Evaluate(spec *TestSpec, run *RunResult) []AssertionResult {
	var results []AssertionResult

	if spec.ExpectedStatus != "" {
		results = append(results, AssertionResult{
			Type:     "expected_status",
			Expected: spec.ExpectedStatus,
			Actual:   run.Status,
			Passed:   run.Status == spec.ExpectedStatus,
			Message:  fmt.Sprintf("status: expected %q, got %q", spec.ExpectedStatus, run.Status),
		})
	}

	if spec.ExpectedSteps != nil {
		want, got := fmt.Sprint(*spec.ExpectedSteps), fmt.Sprint(run.Steps)
		results = append(results, AssertionResult{
			Type:     "expected_steps",
			Expected: want,
			Actual:   got,
			Passed:   want == got,
			Message:  fmt.Sprintf("steps: expected %s, got %s", want, got),
		})
	}

	executed := make(map[string]bool, len(run.Executed))
	for _, name := range run.Executed {
		executed[strings.ToLower(name)] = true
	}

	for _, name := range spec.MustRun {
		ran := executed[strings.ToLower(name)]
		results = append(results, AssertionResult{
			Type:     "must_run",
			Key:      name,
			Expected: "run",
			Actual:   boolToRun(ran),
			Passed:   ran,
			Message:  fmt.Sprintf("must_run %q: %s", name, boolToRun(ran)),
		})
	}

	for _, name := range spec.MustNotRun {
		ran := executed[strings.ToLower(name)]
		results = append(results, AssertionResult{
			Type:     "must_not_run",
			Key:      name,
			Expected: "not run",
			Actual:   boolToRun(ran),
			Passed:   !ran,
			Message:  fmt.Sprintf("must_not_run %q: %s", name, boolToRun(ran)),
		})
	}

	keys := make([]string, 0, len(spec.ExpectedState))
	for k := range spec.ExpectedState {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		expected := spec.ExpectedState[key]
		actual := lookupFold(run.State, key)
		results = append(results, AssertionResult{
			Type:     "expected_state",
			Key:      key,
			Expected: expected,
			Actual:   actual,
			Passed:   compareValue(expected, actual),
			Message:  fmt.Sprintf("state %q: expected %q, got %q", key, expected, actual),
		})
	}

	if spec.ExpectedResult != nil {
		expected := *spec.ExpectedResult
		results = append(results, AssertionResult{
			Type:     "expected_result",
			Expected: expected,
			Actual:   run.Result,
			Passed:   compareValue(expected, run.Result),
			Message:  fmt.Sprintf("result: expected %q, got %q", expected, run.Result),
		})
	}

	return results
}

// HasFailures returns true if any assertion failed.
func HasFailures(results []AssertionResult) bool {
	for _, r := range results {
		if !r.Passed {
			return true
		}
	}
	return false
}

// compareValue supports two match modes:
//   - /pattern/ → regex match
//   - exact string equality (default)
func compareValue(expected, actual string) bool {
	if strings.HasPrefix(expected, "/") && strings.HasSuffix(expected, "/") && len(expected) > 2 {
		pattern := expected[1 : len(expected)-1]
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(actual)
	}
	return expected == actual
}

// lookupFold reads key from state case-insensitively, like a variable scope.
func lookupFold(state map[string]string, key string) string {
	if v, ok := state[key]; ok {
		return v
	}
	for k, v := range state {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

func boolToRun(b bool) string {
	if b {
		return "run"
	}
	return "not run"
}
