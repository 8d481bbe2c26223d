package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	ktesting "github.com/ormasoftchile/flowplan/pkg/kernel/testing"
)

var (
	testScenario string
	testJSON     bool
	testFailFast bool
	testTimeout  string
)

var testCmd = &cobra.Command{
	Use:   "test [catalog.yaml...]",
	Short: "Replay the scenarios of one or more catalogs and check their assertions",
	RunE:  runTest,
}

func runTest(cmd *cobra.Command, args []string) error {
	catalogs := args
	if len(catalogs) == 0 && cfg.Catalog != "" {
		catalogs = []string{cfg.Catalog}
	}
	if len(catalogs) == 0 {
		return fmt.Errorf("pass a catalog or set catalog in the config")
	}
	timeout, err := time.ParseDuration(testTimeout)
	if err != nil {
		return fmt.Errorf("invalid --timeout: %w", err)
	}

	runner := &ktesting.Runner{Timeout: timeout, FailFast: testFailFast, Planner: cfg.Planner, Logger: logger}
	failed := 0
	for _, path := range catalogs {
		output, err := runner.Run(cmd.Context(), path, testScenario)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if testJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(output); err != nil {
				return err
			}
		} else {
			printTestOutput(output)
		}
		if !output.Summary.OK() {
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d catalog(s) had failing scenarios", failed, len(catalogs))
	}
	return nil
}

var scenarioIcons = map[string]string{
	"passed":  "✓",
	"failed":  "✗",
	"skipped": "○",
}

func printTestOutput(output *ktesting.TestOutput) {
	fmt.Printf("\n  %s\n", filepath.Base(output.Catalog))
	for _, s := range output.Scenarios {
		icon, ok := scenarioIcons[s.Status]
		if !ok {
			icon = "!"
		}
		fmt.Printf("    %s %-24s %s\n", icon, s.ScenarioName, time.Duration(s.DurationMs)*time.Millisecond)
		if s.Error != "" {
			fmt.Printf("        error: %s\n", s.Error)
		}
		for _, a := range s.Assertions {
			if a.Passed {
				continue
			}
			fmt.Printf("        ✗ %s", a.Type)
			if a.Key != "" {
				fmt.Printf(" %s", a.Key)
			}
			fmt.Printf(": %s\n", a.Message)
		}
	}
	sum := output.Summary
	fmt.Printf("\n  %d/%d passed", sum.Passed, sum.Total)
	if sum.Failed+sum.Errors+sum.Skipped > 0 {
		fmt.Printf(" (%d failed, %d errors, %d skipped)", sum.Failed, sum.Errors, sum.Skipped)
	}
	fmt.Println()
}

func init() {
	f := testCmd.Flags()
	f.StringVar(&testScenario, "scenario", "", "Only run this scenario")
	f.BoolVar(&testJSON, "json", false, "Print results as JSON")
	f.BoolVar(&testFailFast, "fail-fast", false, "Stop a catalog at its first failing scenario")
	f.StringVar(&testTimeout, "timeout", "30s", "Timeout per scenario")
	rootCmd.AddCommand(testCmd)
}
