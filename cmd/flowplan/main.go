// Package main provides the flowplan CLI entrypoint.
//
//	flowplan create <goal>        generate a plan from the catalog
//	flowplan run [goal]           plan (or load --plan) and execute
//	flowplan step                 execute one step of a persisted run
//	flowplan show <plan.json>     render a plan
//	flowplan debug [goal]         step through a plan interactively
//	flowplan validate <file>      validate a catalog or a plan
//	flowplan test <catalog...>    run scenario replay tests
//	flowplan watch [catalog]      re-run tests on change
//	flowplan trace verify <file>  check a trace hash chain
//	flowplan schema catalog|plan  export JSON Schema
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ormasoftchile/flowplan/pkg/config"
	"github.com/ormasoftchile/flowplan/pkg/debugger"
	"github.com/ormasoftchile/flowplan/pkg/diagram"
	"github.com/ormasoftchile/flowplan/pkg/kernel/engine"
	"github.com/ormasoftchile/flowplan/pkg/kernel/governance"
	"github.com/ormasoftchile/flowplan/pkg/kernel/plan"
	kschema "github.com/ormasoftchile/flowplan/pkg/kernel/schema"
	"github.com/ormasoftchile/flowplan/pkg/kernel/skill"
	"github.com/ormasoftchile/flowplan/pkg/kernel/trace"
	"github.com/ormasoftchile/flowplan/pkg/kernel/vars"
)

var (
	version = "dev"
	commit  = "unknown"
)

var (
	configPath  string
	catalogFlag string
	traceFlag   string
	verbose     bool
	assumeYes   bool

	cfg    *config.Config
	logger *zap.Logger
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "flowplan",
	Short:        "Plan and execute goals over a catalog of functions",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Resolve(configPath); err != nil {
			return err
		}
		if catalogFlag != "" {
			cfg.Catalog = catalogFlag
		}
		if traceFlag != "" {
			cfg.Trace = traceFlag
		}
		if logger, err = cfg.Logger(verbose); err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Config file (default: flowplan.yaml or flowplan.toml)")
	pf.StringVar(&catalogFlag, "catalog", "", "Catalog YAML file (overrides config)")
	pf.StringVar(&traceFlag, "trace", "", "Write trace to JSONL file (overrides config)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
	pf.BoolVarP(&assumeYes, "yes", "y", false, "Approve every function that requires approval")

	rootCmd.AddCommand(versionCmd)
}

// --- version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version info",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("flowplan %s (%s)\n", version, commit)
	},
}

// --- shared helpers ---

// openEngine opens the configured catalog. interactive enables terminal
// approval prompts; otherwise only --yes approves.
func openEngine(interactive bool) (*engine.Engine, error) {
	if cfg.Catalog == "" {
		return nil, fmt.Errorf("no catalog: pass --catalog or set catalog in the config")
	}
	completion, err := cfg.Completion()
	if err != nil && !errors.Is(err, config.ErrNoCompletion) {
		return nil, err
	}
	policy, err := cfg.Governance()
	if err != nil {
		return nil, err
	}

	var approver governance.Approver
	switch {
	case assumeYes:
		approver = governance.ApproverFunc(func(context.Context, skill.View, governance.Decision) (bool, error) {
			return true, nil
		})
	case interactive:
		approver = promptApprover(os.Stdin, os.Stderr)
	}

	eng, err := engine.Open(engine.Options{
		CatalogPath: cfg.Catalog,
		Completion:  completion,
		Planner:     cfg.Planner,
		Policy:      policy,
		Approver:    approver,
		Logger:      logger,
	})
	if err != nil {
		var ce *engine.CatalogError
		if errors.As(err, &ce) {
			printValidationErrors(ce.Errors)
			return nil, fmt.Errorf("catalog %s is invalid", ce.Path)
		}
		return nil, err
	}
	for _, w := range eng.Warnings() {
		fmt.Fprintf(os.Stderr, "  ⚠ [%s] %s\n", w.Phase, w.Message)
	}
	return eng, nil
}

// promptApprover asks on the terminal before a function that requires
// approval runs. Anything but y or yes declines.
func promptApprover(in io.Reader, out io.Writer) governance.Approver {
	reader := bufio.NewReader(in)
	return governance.ApproverFunc(func(ctx context.Context, v skill.View, d governance.Decision) (bool, error) {
		fmt.Fprintf(out, "⚠ %s requires approval (risk %s", v.QualifiedName(), d.RiskLevel)
		if d.MatchedRule != "" {
			fmt.Fprintf(out, ", rule %s", d.MatchedRule)
		}
		fmt.Fprint(out, "). Allow? [y/N] ")
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return false, err
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes", nil
	})
}

// openTrace opens the configured trace file, or returns a nil writer.
func openTrace(runID string) (*trace.Writer, func(), error) {
	if cfg.Trace == "" {
		return nil, func() {}, nil
	}
	if dir := filepath.Dir(cfg.Trace); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("trace: %w", err)
		}
	}
	tw, err := trace.NewFileWriter(cfg.Trace, runID)
	if err != nil {
		return nil, nil, fmt.Errorf("trace: %w", err)
	}
	return tw, func() { _ = tw.Close() }, nil
}

// parseVars builds caller variables from --input and repeatable --var key=value.
func parseVars(input string, pairs []string) (*vars.Scope, error) {
	v := vars.New(input)
	for _, kv := range pairs {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --var %q: expected key=value", kv)
		}
		v.Set(key, value)
	}
	return v, nil
}

// obtainPlan loads planFile, or creates a plan for the goal words.
func obtainPlan(ctx context.Context, eng *engine.Engine, planFile string, goalWords []string, tw *trace.Writer) (*plan.Plan, error) {
	if planFile != "" {
		data, err := os.ReadFile(planFile)
		if err != nil {
			return nil, fmt.Errorf("read plan: %w", err)
		}
		return eng.LoadPlan(data)
	}
	goal := strings.TrimSpace(strings.Join(goalWords, " "))
	if goal == "" {
		return nil, fmt.Errorf("pass a goal or --plan")
	}
	p, err := eng.CreatePlan(ctx, goal, tw)
	if errors.Is(err, engine.ErrNoCompletion) {
		return nil, fmt.Errorf("%w: set completions or completion_command in the config", err)
	}
	return p, err
}

func writePlan(path string, p *plan.Plan) error {
	js, err := p.ToJSON()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(js+"\n"), 0o644); err != nil {
		return fmt.Errorf("write plan: %w", err)
	}
	return nil
}

func printValidationErrors(errs []*kschema.ValidationError) {
	var n int
	for _, e := range errs {
		if e.Severity == "error" {
			n++
		}
	}
	fmt.Fprintf(os.Stderr, "Validation failed: %d error(s)\n\n", n)
	i := 0
	for _, e := range errs {
		if e.Severity != "error" {
			continue
		}
		i++
		fmt.Fprintf(os.Stderr, "  %d. [%s] %s\n", i, e.Phase, e.Message)
		if e.Path != "" {
			fmt.Fprintf(os.Stderr, "     at: %s\n", e.Path)
		}
	}
}

func printWarnings(errs []*kschema.ValidationError) {
	for _, w := range errs {
		if w.Severity != "warning" {
			continue
		}
		fmt.Fprintf(os.Stderr, "  ⚠ [%s] %s\n", w.Phase, w.Message)
		if w.Path != "" {
			fmt.Fprintf(os.Stderr, "    at: %s\n", w.Path)
		}
	}
}

func statusIcon(status string) string {
	switch status {
	case engine.StatusCompleted:
		return "✓"
	case engine.StatusInProgress:
		return "▸"
	case engine.StatusFailed:
		return "✗"
	default:
		return "!"
	}
}

func printRunResult(res *engine.RunResult) {
	fmt.Printf("\n%s %s (%d/%d steps)\n", statusIcon(res.Status), res.Status, res.NextStep, res.Steps)
	if res.Result != "" {
		fmt.Printf("  Result: %s\n", res.Result)
	}
	if res.Error != nil {
		fmt.Printf("  Error: %v\n", res.Error)
	}
	fmt.Printf("  Duration: %s\n", res.Duration)
}

// --- create ---

var (
	createOut    string
	createFormat string
)

var createCmd = &cobra.Command{
	Use:   "create [goal...]",
	Short: "Create a plan for a goal",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCreate,
}

func runCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	eng, err := openEngine(false)
	if err != nil {
		return err
	}
	defer eng.Close(ctx)

	tw, closeTrace, err := openTrace(uuid.NewString())
	if err != nil {
		return err
	}
	defer closeTrace()

	p, err := obtainPlan(ctx, eng, "", args, tw)
	if err != nil {
		return err
	}
	if createOut != "" {
		if err := writePlan(createOut, p); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "✓ plan written to %s (%d steps)\n", createOut, p.StepCount())
	}
	if createFormat == "json" {
		if createOut == "" {
			js, err := p.ToJSON()
			if err != nil {
				return err
			}
			fmt.Println(js)
		}
		return nil
	}
	return render(p, diagram.Format(createFormat), false)
}

// --- run ---

var (
	runPlanFile string
	runInput    string
	runVars     []string
	runJSON     bool
	runSave     string
)

var runCmd = &cobra.Command{
	Use:   "run [goal...]",
	Short: "Create a plan for a goal (or load --plan) and execute it",
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	variables, err := parseVars(runInput, runVars)
	if err != nil {
		return err
	}

	eng, err := openEngine(true)
	if err != nil {
		return err
	}
	defer eng.Close(ctx)

	runID := uuid.NewString()
	tw, closeTrace, err := openTrace(runID)
	if err != nil {
		return err
	}
	defer closeTrace()

	p, err := obtainPlan(ctx, eng, runPlanFile, args, tw)
	if err != nil {
		return err
	}
	logger.Info("run started", zap.String("run_id", runID), zap.String("plan", p.Name), zap.Int("steps", p.StepCount()))

	res := eng.Run(ctx, p, engine.RunConfig{RunID: runID, Variables: variables, Trace: tw})
	if runSave != "" {
		if err := writePlan(runSave, p); err != nil {
			return err
		}
	}

	if runJSON {
		js, err := p.ToJSON()
		if err != nil {
			return err
		}
		fmt.Println(js)
	} else {
		printRunResult(res)
	}
	if res.Status != engine.StatusCompleted {
		return fmt.Errorf("run %s", res.Status)
	}
	return nil
}

// --- show ---

var (
	showFormat string
	showRaw    bool
)

var showCmd = &cobra.Command{
	Use:   "show [plan.json]",
	Short: "Render a plan as markdown, ascii, or mermaid",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read plan: %w", err)
		}
		p, err := plan.Parse(data)
		if err != nil {
			return err
		}
		return render(p, diagram.Format(showFormat), showRaw)
	},
}

// render prints a diagram of p. Markdown is styled for the terminal unless raw.
func render(p *plan.Plan, format diagram.Format, raw bool) error {
	out, err := diagram.Generate(p, format)
	if err != nil {
		return err
	}
	if format == diagram.FormatMarkdown && !raw {
		r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
		if err == nil {
			if styled, err := r.Render(out); err == nil {
				out = styled
			}
		}
	}
	fmt.Print(out)
	return nil
}

// --- debug ---

var (
	debugPlanFile string
	debugInput    string
	debugVars     []string
)

var debugCmd = &cobra.Command{
	Use:   "debug [goal...]",
	Short: "Step through a plan interactively",
	Long: "Step through a plan interactively. Functions that require approval are " +
		"denied unless --yes is given, since the terminal belongs to the debugger.",
	RunE: runDebug,
}

func runDebug(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	variables, err := parseVars(debugInput, debugVars)
	if err != nil {
		return err
	}

	eng, err := openEngine(false)
	if err != nil {
		return err
	}
	defer eng.Close(ctx)

	tw, closeTrace, err := openTrace(uuid.NewString())
	if err != nil {
		return err
	}
	defer closeTrace()

	p, err := obtainPlan(ctx, eng, debugPlanFile, args, tw)
	if err != nil {
		return err
	}
	return debugger.New(p, eng.NewContext(variables, tw)).Run(ctx)
}

// --- validate ---

var validateCmd = &cobra.Command{
	Use:   "validate [catalog.yaml | plan.json]",
	Short: "Validate a catalog, or a plan against the configured catalog",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	filePath := args[0]

	if !strings.EqualFold(filepath.Ext(filePath), ".json") {
		cat, errs := kschema.ValidateFile(filePath)
		printWarnings(errs)
		if kschema.HasErrors(errs) {
			printValidationErrors(errs)
			return fmt.Errorf("validation failed")
		}
		fmt.Printf("✓ %s is valid (%d skills)\n", filepath.Base(filePath), len(cat.Skills))
		return nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("read plan: %w", err)
	}
	var catalog skill.Catalog
	if cfg.Catalog != "" {
		eng, err := openEngine(false)
		if err != nil {
			return err
		}
		defer eng.Close(cmd.Context())
		catalog = eng.Skills()
	}
	errs := kschema.ValidatePlan(data, catalog)
	if kschema.HasErrors(errs) {
		printValidationErrors(errs)
		return fmt.Errorf("validation failed")
	}
	fmt.Printf("✓ %s is valid\n", filepath.Base(filePath))
	printWarnings(errs)
	return nil
}

// --- schema ---

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Export JSON Schema to stdout",
}

var schemaCatalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Export catalog/v0 JSON Schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := kschema.GenerateCatalogJSONSchema()
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

var schemaPlanCmd = &cobra.Command{
	Use:   "plan",
	Short: "Export plan interchange JSON Schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := kschema.GeneratePlanJSONSchema()
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

func init() {
	createCmd.Flags().StringVarP(&createOut, "out", "o", "", "Write the plan JSON to a file")
	createCmd.Flags().StringVar(&createFormat, "format", "json", "Output format: json, markdown, ascii, or mermaid")

	runCmd.Flags().StringVar(&runPlanFile, "plan", "", "Execute a saved plan instead of creating one")
	runCmd.Flags().StringVar(&runInput, "input", "", "Initial input value")
	runCmd.Flags().StringArrayVar(&runVars, "var", nil, "Set a variable (key=value), repeatable")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the executed plan as JSON")
	runCmd.Flags().StringVar(&runSave, "save", "", "Write the executed plan JSON to a file")

	showCmd.Flags().StringVar(&showFormat, "format", "markdown", "Diagram format: markdown, ascii, or mermaid")
	showCmd.Flags().BoolVar(&showRaw, "raw", false, "Print markdown without terminal styling")

	debugCmd.Flags().StringVar(&debugPlanFile, "plan", "", "Debug a saved plan instead of creating one")
	debugCmd.Flags().StringVar(&debugInput, "input", "", "Initial input value")
	debugCmd.Flags().StringArrayVar(&debugVars, "var", nil, "Set a variable (key=value), repeatable")

	schemaCmd.AddCommand(schemaCatalogCmd)
	schemaCmd.AddCommand(schemaPlanCmd)

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(debugCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(schemaCmd)
}
