package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ormasoftchile/flowplan/pkg/kernel/engine"
)

var (
	stepPlanFile string
	stepRunID    string
	stepRunsDir  string
	stepInput    string
	stepVars     []string
)

var stepCmd = &cobra.Command{
	Use:   "step",
	Short: "Execute the next step of a persisted run",
	Long: "Start a stepped run from --plan, or advance one with --run. Each call " +
		"executes exactly one step and saves the plan and variables under " +
		"<runs-dir>/<run-id>/state.json. The state is removed once the plan completes.",
	RunE: runStep,
}

func runStep(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if (stepPlanFile == "") == (stepRunID == "") {
		return fmt.Errorf("pass exactly one of --plan or --run")
	}

	var state *engine.RunState
	if stepRunID != "" {
		var err error
		if state, err = engine.LoadState(stepRunsDir, stepRunID); err != nil {
			return fmt.Errorf("load state: %w", err)
		}
		cfg.Catalog = state.CatalogPath
		if state.TracePath != "" {
			cfg.Trace = state.TracePath
		}
	}

	eng, err := openEngine(true)
	if err != nil {
		return err
	}
	defer eng.Close(ctx)

	var data []byte
	if state == nil {
		if data, err = os.ReadFile(stepPlanFile); err != nil {
			return fmt.Errorf("read plan: %w", err)
		}
	} else {
		data = state.Plan
	}
	p, err := eng.LoadPlan(data)
	if err != nil {
		return err
	}

	if state == nil {
		variables, err := parseVars(stepInput, stepVars)
		if err != nil {
			return err
		}
		catalogPath, err := filepath.Abs(cfg.Catalog)
		if err != nil {
			return err
		}
		if state, err = engine.NewRunState(uuid.NewString(), catalogPath, p, variables); err != nil {
			return err
		}
		state.TracePath = cfg.Trace
	} else if stepInput != "" {
		state.Variables.Update(stepInput)
	}

	tw, closeTrace, err := openTrace(state.RunID)
	if err != nil {
		return err
	}
	defer closeTrace()

	res := eng.Step(ctx, p, engine.RunConfig{RunID: state.RunID, Variables: state.Variables, Trace: tw})
	printRunResult(res)

	if res.Status == engine.StatusCompleted {
		// Clean up state on completion
		os.RemoveAll(filepath.Join(stepRunsDir, state.RunID))
		return nil
	}

	if err := state.Update(p); err != nil {
		return err
	}
	if err := engine.SaveState(stepRunsDir, state); err != nil {
		return err
	}
	logger.Debug("run state saved", zap.String("run_id", state.RunID), zap.Int("next_step", res.NextStep))
	fmt.Printf("  Resume with: flowplan step --run %s\n", state.RunID)

	if res.Error != nil {
		return fmt.Errorf("step %s", res.Status)
	}
	return nil
}

func init() {
	stepCmd.Flags().StringVar(&stepPlanFile, "plan", "", "Start a stepped run from a plan JSON file")
	stepCmd.Flags().StringVar(&stepRunID, "run", "", "Run ID to advance")
	stepCmd.Flags().StringVar(&stepRunsDir, "runs-dir", engine.RunsDir, "Directory holding persisted runs")
	stepCmd.Flags().StringVar(&stepInput, "input", "", "Input value for this step")
	stepCmd.Flags().StringArrayVar(&stepVars, "var", nil, "Set a variable (key=value) when starting, repeatable")
	rootCmd.AddCommand(stepCmd)
}
