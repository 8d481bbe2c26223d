package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/ormasoftchile/flowplan/pkg/config"
	"github.com/ormasoftchile/flowplan/pkg/diagram"
	"github.com/ormasoftchile/flowplan/pkg/kernel/engine"
	"github.com/ormasoftchile/flowplan/pkg/kernel/plan"
	kschema "github.com/ormasoftchile/flowplan/pkg/kernel/schema"
	ktesting "github.com/ormasoftchile/flowplan/pkg/kernel/testing"
	"github.com/ormasoftchile/flowplan/pkg/kernel/trace"
	"github.com/ormasoftchile/flowplan/pkg/kernel/vars"
)

// Handlers implements the flowplan MCP tools over one configuration.
// Functions whose policy requires approval are denied: there is no one to
// ask over MCP.
type Handlers struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewHandlers creates tool handlers. A nil cfg uses the defaults.
func NewHandlers(cfg *config.Config, logger *zap.Logger) *Handlers {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{cfg: cfg, logger: logger}
}

// HandleValidate implements the flowplan/validate MCP tool.
func (h *Handlers) HandleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	path, _ := args["path"].(string)
	if path == "" {
		return errorResult("path argument is required"), nil
	}

	if !isPlanFile(path) {
		cat, errs := kschema.ValidateFile(path)
		if kschema.HasErrors(errs) {
			return errorResult(formatErrors(errs)), nil
		}
		n := 0
		for _, s := range cat.Skills {
			n += len(s.Functions)
		}
		return textResult(fmt.Sprintf("✓ %s is valid (%d skills, %d declared functions)", filepath.Base(path), len(cat.Skills), n)), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	eng, err := h.open(args)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	defer eng.Close(ctx)

	errs := kschema.ValidatePlan(data, eng.Skills())
	if kschema.HasErrors(errs) {
		return errorResult(formatErrors(errs)), nil
	}
	msg := fmt.Sprintf("✓ %s is valid", filepath.Base(path))
	if len(errs) > 0 {
		msg += fmt.Sprintf(" (%d warnings: %s)", len(errs), formatAll(errs))
	}
	return textResult(msg), nil
}

// HandleSchema implements the flowplan/schema MCP tool.
func (h *Handlers) HandleSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	schemaType, _ := args["type"].(string)

	var data []byte
	var err error

	switch schemaType {
	case "catalog":
		data, err = kschema.GenerateCatalogJSONSchema()
	case "plan":
		data, err = kschema.GeneratePlanJSONSchema()
	default:
		return errorResult(fmt.Sprintf("unknown schema type %q, use 'catalog' or 'plan'", schemaType)), nil
	}

	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(string(data)), nil
}

// HandleCreate implements the flowplan/create MCP tool.
func (h *Handlers) HandleCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	goal, _ := args["goal"].(string)
	if goal == "" {
		return errorResult("goal argument is required"), nil
	}

	eng, err := h.open(args)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	defer eng.Close(ctx)

	tw, closeTrace, err := h.trace(uuid.NewString())
	if err != nil {
		return errorResult(err.Error()), nil
	}
	defer closeTrace()

	p, err := eng.CreatePlan(ctx, goal, tw)
	if err != nil {
		return errorResult(fmt.Sprintf("create plan: %s", err)), nil
	}
	js, err := p.ToJSON()
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(js), nil
}

// HandleRun implements the flowplan/run MCP tool.
func (h *Handlers) HandleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.execute(ctx, req, false)
}

// HandleStep implements the flowplan/step MCP tool.
func (h *Handlers) HandleStep(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.execute(ctx, req, true)
}

func (h *Handlers) execute(ctx context.Context, req mcp.CallToolRequest, single bool) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	planJSON, _ := args["plan"].(string)
	goal, _ := args["goal"].(string)
	if planJSON == "" && (single || goal == "") {
		if single {
			return errorResult("plan argument is required"), nil
		}
		return errorResult("plan or goal argument is required"), nil
	}

	eng, err := h.open(args)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	defer eng.Close(ctx)

	runID := uuid.NewString()
	tw, closeTrace, err := h.trace(runID)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	defer closeTrace()

	var p *plan.Plan
	if planJSON != "" {
		p, err = eng.LoadPlan([]byte(planJSON))
	} else {
		p, err = eng.CreatePlan(ctx, goal, tw)
	}
	if err != nil {
		return errorResult(err.Error()), nil
	}

	cfg := engine.RunConfig{RunID: runID, Variables: variablesFrom(args), Trace: tw}
	var result *engine.RunResult
	if single {
		result = eng.Step(ctx, p, cfg)
	} else {
		result = eng.Run(ctx, p, cfg)
	}

	// Build response
	response := map[string]any{
		"run_id":    result.RunID,
		"status":    result.Status,
		"result":    result.Result,
		"next_step": result.NextStep,
		"steps":     result.Steps,
		"duration":  result.Duration.String(),
	}
	if result.Error != nil {
		response["error"] = result.Error.Error()
	}
	if single || result.Status != engine.StatusCompleted {
		if js, err := p.ToJSON(); err == nil {
			response["plan"] = json.RawMessage(js)
		}
	}

	data, _ := json.MarshalIndent(response, "", "  ")

	isErr := result.Status == engine.StatusFailed || result.Status == engine.StatusError
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(data))},
		IsError: isErr,
	}, nil
}

// HandleShow implements the flowplan/show MCP tool.
func (h *Handlers) HandleShow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	planJSON, _ := args["plan"].(string)
	if planJSON == "" {
		return errorResult("plan argument is required"), nil
	}
	format, _ := args["format"].(string)
	if format == "" {
		format = string(diagram.FormatMarkdown)
	}

	p, err := plan.Parse([]byte(planJSON))
	if err != nil {
		return errorResult(err.Error()), nil
	}
	out, err := diagram.Generate(p, diagram.Format(format))
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(out), nil
}

// HandleTest implements the flowplan/test MCP tool.
func (h *Handlers) HandleTest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	path, _ := args["path"].(string)
	if path == "" {
		path = h.cfg.Catalog
	}
	if path == "" {
		return errorResult("path argument is required"), nil
	}

	scenarioName, _ := args["scenario"].(string)

	runner := &ktesting.Runner{Timeout: 30 * time.Second, Planner: h.cfg.Planner, Logger: h.logger}
	output, err := runner.Run(ctx, path, scenarioName)
	if err != nil {
		return errorResult(fmt.Sprintf("run tests: %s", err)), nil
	}

	data, _ := json.MarshalIndent(output, "", "  ")

	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(data))},
		IsError: !output.Summary.OK(),
	}, nil
}

// open builds an engine over the catalog argument or the configured one.
func (h *Handlers) open(args map[string]any) (*engine.Engine, error) {
	path, _ := args["catalog"].(string)
	if path == "" {
		path = h.cfg.Catalog
	}
	if path == "" {
		return nil, errors.New("no catalog given and none configured")
	}

	completion, err := h.cfg.Completion()
	if err != nil && !errors.Is(err, config.ErrNoCompletion) {
		return nil, err
	}
	policy, err := h.cfg.Governance()
	if err != nil {
		return nil, err
	}
	return engine.Open(engine.Options{
		CatalogPath: path,
		Completion:  completion,
		Planner:     h.cfg.Planner,
		Policy:      policy,
		Logger:      h.logger,
	})
}

// trace opens the configured trace file. Without one it returns a nil writer.
func (h *Handlers) trace(runID string) (*trace.Writer, func(), error) {
	if h.cfg.Trace == "" {
		return nil, func() {}, nil
	}
	tw, err := trace.NewFileWriter(h.cfg.Trace, runID)
	if err != nil {
		return nil, nil, err
	}
	return tw, func() { _ = tw.Close() }, nil
}

// variablesFrom seeds caller variables from the input and vars arguments.
// Keys are applied in sorted order so the scope order is stable.
func variablesFrom(args map[string]any) *vars.Scope {
	input, _ := args["input"].(string)
	v := vars.New(input)
	raw, _ := args["vars"].(map[string]any)
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v.Set(k, fmt.Sprint(raw[k]))
	}
	return v
}

func isPlanFile(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

func formatErrors(errs []*kschema.ValidationError) string {
	var msgs []string
	for _, e := range errs {
		if e.Severity == "error" {
			msgs = append(msgs, fmt.Sprintf("[%s] %s", e.Phase, e.Message))
		}
	}
	return strings.Join(msgs, "; ")
}

func formatAll(errs []*kschema.ValidationError) string {
	var msgs []string
	for _, e := range errs {
		msgs = append(msgs, fmt.Sprintf("[%s] %s", e.Phase, e.Message))
	}
	return strings.Join(msgs, "; ")
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(msg),
		},
		IsError: true,
	}
}
