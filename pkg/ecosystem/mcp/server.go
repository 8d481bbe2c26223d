package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ormasoftchile/flowplan/pkg/config"
)

// NewServer creates a new MCP server with flowplan tools registered. cfg
// supplies the default catalog, completion, planner settings, and policy.
func NewServer(version string, cfg *config.Config, logger *zap.Logger) *server.MCPServer {
	h := NewHandlers(cfg, logger)
	s := server.NewMCPServer(
		"flowplan",
		version,
		server.WithToolCapabilities(true),
	)

	catalogArg := mcp.WithString("catalog", mcp.Description("Path to the catalog YAML file (defaults to the configured catalog)"))

	s.AddTool(
		mcp.NewTool("flowplan/validate",
			mcp.WithDescription("Validate a catalog YAML file, or a plan JSON file against the catalog"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the catalog (.yaml) or plan (.json) file")),
			catalogArg,
		),
		h.HandleValidate,
	)

	s.AddTool(
		mcp.NewTool("flowplan/create",
			mcp.WithDescription("Create a plan for a goal from the catalog's functions"),
			mcp.WithString("goal", mcp.Required(), mcp.Description("The goal the plan should satisfy")),
			catalogArg,
		),
		h.HandleCreate,
	)

	s.AddTool(
		mcp.NewTool("flowplan/run",
			mcp.WithDescription("Execute a plan to completion. Pass either a plan JSON document or a goal to plan first"),
			mcp.WithString("plan", mcp.Description("Plan interchange JSON")),
			mcp.WithString("goal", mcp.Description("Goal to create a plan for when no plan is given")),
			mcp.WithString("input", mcp.Description("Initial input value")),
			mcp.WithObject("vars", mcp.Description("Initial variables (string values)")),
			catalogArg,
		),
		h.HandleRun,
	)

	s.AddTool(
		mcp.NewTool("flowplan/step",
			mcp.WithDescription("Execute the next step of a plan and return the advanced plan"),
			mcp.WithString("plan", mcp.Required(), mcp.Description("Plan interchange JSON")),
			mcp.WithString("input", mcp.Description("Input value for this step")),
			mcp.WithObject("vars", mcp.Description("Variables for this step (string values)")),
			catalogArg,
		),
		h.HandleStep,
	)

	s.AddTool(
		mcp.NewTool("flowplan/show",
			mcp.WithDescription("Render a plan as a diagram"),
			mcp.WithString("plan", mcp.Required(), mcp.Description("Plan interchange JSON")),
			mcp.WithString("format", mcp.Description("Diagram format: markdown (default), mermaid, or ascii")),
		),
		h.HandleShow,
	)

	s.AddTool(
		mcp.NewTool("flowplan/test",
			mcp.WithDescription("Run scenario replay tests for a catalog"),
			mcp.WithString("path", mcp.Description("Path to the catalog YAML file (defaults to the configured catalog)")),
			mcp.WithString("scenario", mcp.Description("Run only the named scenario (optional)")),
		),
		h.HandleTest,
	)

	s.AddTool(
		mcp.NewTool("flowplan/schema",
			mcp.WithDescription("Export flowplan JSON Schema (catalog or plan)"),
			mcp.WithString("type", mcp.Required(), mcp.Description("Schema type: 'catalog' or 'plan'")),
		),
		h.HandleSchema,
	)

	return s
}
