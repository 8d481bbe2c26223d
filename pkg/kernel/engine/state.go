package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ormasoftchile/flowplan/pkg/kernel/plan"
	"github.com/ormasoftchile/flowplan/pkg/kernel/vars"
)

// RunsDir is the default directory holding persisted step-by-step runs.
const RunsDir = "runs"

// RunState captures a stepped run between invocations for resume.
type RunState struct {
	RunID       string          `json:"run_id"`
	CatalogPath string          `json:"catalog_path"`
	Plan        json.RawMessage `json:"plan"`
	Variables   *vars.Scope     `json:"variables"`
	TracePath   string          `json:"trace_path,omitempty"`
}

// NewRunState snapshots p and the caller variables.
func NewRunState(runID, catalogPath string, p *plan.Plan, variables *vars.Scope) (*RunState, error) {
	js, err := p.ToJSON()
	if err != nil {
		return nil, err
	}
	if variables == nil {
		variables = vars.New("")
	}
	return &RunState{
		RunID:       runID,
		CatalogPath: catalogPath,
		Plan:        json.RawMessage(js),
		Variables:   variables,
	}, nil
}

// Update replaces the plan snapshot after a step.
func (s *RunState) Update(p *plan.Plan) error {
	js, err := p.ToJSON()
	if err != nil {
		return err
	}
	s.Plan = json.RawMessage(js)
	return nil
}

// StatePath returns the state file of runID under dir.
func StatePath(dir, runID string) string {
	return filepath.Join(dir, runID, "state.json")
}

// SaveState persists the run state to dir/<run-id>/state.json.
func SaveState(dir string, state *RunState) error {
	if state.RunID == "" {
		return fmt.Errorf("save state: run id is required")
	}
	path := StatePath(dir, state.RunID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

// LoadState reads a persisted run state from disk.
func LoadState(dir, runID string) (*RunState, error) {
	data, err := os.ReadFile(StatePath(dir, runID))
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}

	var state RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	if state.Variables == nil {
		state.Variables = vars.New("")
	}
	return &state, nil
}
