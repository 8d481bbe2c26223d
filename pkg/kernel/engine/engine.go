// Package engine hosts plan execution for the CLI and the MCP server. It
// turns a catalog into invocable functions, creates plans from goals, and
// runs them either to completion or one step at a time.
package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ormasoftchile/flowplan/pkg/kernel/governance"
	"github.com/ormasoftchile/flowplan/pkg/kernel/llm"
	"github.com/ormasoftchile/flowplan/pkg/kernel/plan"
	"github.com/ormasoftchile/flowplan/pkg/kernel/planner"
	"github.com/ormasoftchile/flowplan/pkg/kernel/schema"
	"github.com/ormasoftchile/flowplan/pkg/kernel/skill"
	"github.com/ormasoftchile/flowplan/pkg/kernel/trace"
	"github.com/ormasoftchile/flowplan/pkg/kernel/vars"
)

// Run statuses.
const (
	StatusCompleted  = "completed"
	StatusInProgress = "in_progress"
	StatusFailed     = "failed"
	StatusError      = "error"
)

// ErrNoCompletion is returned by CreatePlan when the engine has no text
// completion to generate plans with.
var ErrNoCompletion = errors.New("no text completion configured")

// Options configures an Engine.
type Options struct {
	CatalogPath string
	Completion  llm.TextCompletion
	Planner     planner.Config
	Policy      *governance.Engine
	Approver    governance.Approver
	Logger      *zap.Logger
	Now         func() time.Time
}

// CatalogError reports a catalog that failed validation.
type CatalogError struct {
	Path   string
	Errors []*schema.ValidationError
}

func (e *CatalogError) Error() string {
	var msgs []string
	for _, ve := range e.Errors {
		if ve.Severity == "error" {
			msgs = append(msgs, ve.Error())
		}
	}
	return fmt.Sprintf("catalog %s: %s", e.Path, strings.Join(msgs, "; "))
}

// Engine is an opened catalog ready to plan and execute.
type Engine struct {
	opts     Options
	catalog  *schema.Catalog
	bundle   *schema.Bundle
	logger   *zap.Logger
	warnings []*schema.ValidationError
}

// Open validates and builds the catalog at opts.CatalogPath. Close the engine
// to stop extension hosts.
func Open(opts Options) (*Engine, error) {
	if opts.CatalogPath == "" {
		return nil, errors.New("open engine: catalog path is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	cat, errs := schema.ValidateFile(opts.CatalogPath)
	if schema.HasErrors(errs) {
		return nil, &CatalogError{Path: opts.CatalogPath, Errors: errs}
	}
	bundle, err := schema.Build(cat, schema.BuildOptions{
		Completion: opts.Completion,
		Planner:    opts.Planner,
		Now:        opts.Now,
		BaseDir:    filepath.Dir(opts.CatalogPath),
		Policy:     opts.Policy,
		Approver:   opts.Approver,
	})
	if err != nil {
		return nil, fmt.Errorf("build catalog: %w", err)
	}
	logger.Debug("catalog opened",
		zap.String("path", opts.CatalogPath),
		zap.Int("skills", len(cat.Skills)),
		zap.Int("functions", bundle.Skills.Len()))

	return &Engine{opts: opts, catalog: cat, bundle: bundle, logger: logger, warnings: errs}, nil
}

// Close stops any extension hosts started by the catalog.
func (e *Engine) Close(ctx context.Context) error {
	return e.bundle.Close(ctx)
}

// Catalog returns the validated catalog document.
func (e *Engine) Catalog() *schema.Catalog { return e.catalog }

// Skills returns the invocable functions built from the catalog.
func (e *Engine) Skills() *skill.Collection { return e.bundle.Skills }

// Warnings returns non-fatal catalog validation findings.
func (e *Engine) Warnings() []*schema.ValidationError { return e.warnings }

// NewContext returns an execution context over the engine's functions.
func (e *Engine) NewContext(variables *vars.Scope, tw *trace.Writer) *skill.Context {
	sc := skill.NewContext(variables, e.bundle.Skills, e.logger)
	sc.Trace = tw
	return sc
}

// CreatePlan asks the configured completion for a plan satisfying goal.
func (e *Engine) CreatePlan(ctx context.Context, goal string, tw *trace.Writer) (*plan.Plan, error) {
	if e.opts.Completion == nil {
		return nil, ErrNoCompletion
	}
	if strings.TrimSpace(goal) == "" {
		return nil, errors.New("create plan: goal is required")
	}
	opts := []planner.Option{planner.WithLogger(e.logger)}
	if tw != nil {
		opts = append(opts, planner.WithTrace(tw))
	}
	return planner.New(e.bundle.Skills, e.opts.Completion, e.opts.Planner, opts...).CreatePlan(ctx, goal)
}

// LoadPlan decodes interchange JSON and binds its leaves to the catalog.
func (e *Engine) LoadPlan(data []byte) (*plan.Plan, error) {
	return plan.FromJSON(string(data), e.NewContext(nil, nil))
}

// RunConfig configures a single execution.
type RunConfig struct {
	RunID     string
	Variables *vars.Scope // caller variables; nil starts empty
	Trace     *trace.Writer
}

// RunResult is the outcome of running a plan or one of its steps.
type RunResult struct {
	RunID    string
	Status   string
	Result   string
	State    []vars.Pair
	NextStep int
	Steps    int
	Duration time.Duration
	Error    error
}

// Run executes every remaining step of p.
func (e *Engine) Run(ctx context.Context, p *plan.Plan, cfg RunConfig) *RunResult {
	start := time.Now()
	sc := e.NewContext(cfg.Variables, cfg.Trace)
	out, err := p.Invoke(ctx, sc)
	if !p.IsLeaf() {
		return e.result(ctx, p, cfg, start, err)
	}

	// A leaf reports function failure softly and writes only the caller input.
	if err == nil && out != nil && out.ErrorOccurred() {
		err = &plan.StepError{
			Plan:        p.Name,
			SkillName:   p.SkillName,
			Name:        p.Name,
			Description: out.LastErrorDescription(),
			Err:         out.LastErr(),
		}
	}
	res := e.result(ctx, p, cfg, start, err)
	if err == nil {
		res.Result = sc.Variables.Input()
	}
	return res
}

// Step executes exactly one step of p, folding its result into the caller
// variables the way Run does between steps.
func (e *Engine) Step(ctx context.Context, p *plan.Plan, cfg RunConfig) *RunResult {
	if p.IsLeaf() {
		return e.Run(ctx, p, cfg)
	}
	start := time.Now()
	sc := e.NewContext(cfg.Variables, cfg.Trace)
	sc.Variables.MergeMissing(p.State)
	_, err := p.InvokeNextStep(ctx, sc)
	if err == nil {
		sc.Variables.Update(p.State.String())
	}
	return e.result(ctx, p, cfg, start, err)
}

func (e *Engine) result(ctx context.Context, p *plan.Plan, cfg RunConfig, start time.Time, err error) *RunResult {
	res := &RunResult{
		RunID:    cfg.RunID,
		Result:   p.State.String(),
		State:    p.State.Pairs(),
		NextStep: p.NextStepIndex(),
		Steps:    p.StepCount(),
		Duration: time.Since(start),
		Error:    err,
	}
	var se *plan.StepError
	switch {
	case err == nil && p.HasNextStep():
		res.Status = StatusInProgress
	case err == nil:
		res.Status = StatusCompleted
	case errors.As(err, &se) && ctx.Err() == nil:
		res.Status = StatusFailed
	default:
		res.Status = StatusError
	}
	e.logger.Debug("plan executed",
		zap.String("run_id", cfg.RunID),
		zap.String("status", res.Status),
		zap.Int("next_step", res.NextStep),
		zap.Duration("duration", res.Duration))
	return res
}
