// Package planner turns a natural-language goal into a plan tree with one
// text-generation request.
//
// The request embeds a manual of the catalog functions the planner may use.
// The model answers in a small XML markup that ParseMarkup turns into a
// plan.Plan whose leaves are bound against the catalog.
package planner

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ormasoftchile/flowplan/pkg/kernel/llm"
	"github.com/ormasoftchile/flowplan/pkg/kernel/plan"
	"github.com/ormasoftchile/flowplan/pkg/kernel/skill"
	"github.com/ormasoftchile/flowplan/pkg/kernel/trace"
	"github.com/ormasoftchile/flowplan/pkg/kernel/vars"
)

// FunctionName is the name of the planner's own semantic function.
const FunctionName = "FunctionFlow"

// StopSequence ends a plan completion.
const StopSequence = "<!--"

const functionDescription = "Given a request or command or goal generate a step by step plan to " +
	"fulfill the request using functions."

// FunctionFlowPlanner creates plans from goals.
type FunctionFlowPlanner struct {
	catalog  skill.Catalog
	cfg      Config
	function *skill.SemanticFunction
	ranker   Ranker
	logger   *zap.Logger
	trace    *trace.Writer
}

// Option configures a FunctionFlowPlanner.
type Option func(*FunctionFlowPlanner)

// WithRanker sets the relevance ranker used when a threshold is configured.
func WithRanker(r Ranker) Option {
	return func(p *FunctionFlowPlanner) { p.ranker = r }
}

// WithLogger sets the planner's logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *FunctionFlowPlanner) { p.logger = l }
}

// WithTrace records a plan_created event for every plan.
func WithTrace(tw *trace.Writer) Option {
	return func(p *FunctionFlowPlanner) { p.trace = tw }
}

// New creates a planner over catalog that generates plans with completion.
func New(catalog skill.Catalog, completion llm.TextCompletion, cfg Config, opts ...Option) *FunctionFlowPlanner {
	cfg = cfg.withDefaults()
	p := &FunctionFlowPlanner{
		catalog: catalog,
		cfg:     cfg,
		logger:  zap.NewNop(),
	}
	for _, o := range opts {
		o(p)
	}

	p.function = skill.NewSemanticFunction(skill.View{
		Name:        FunctionName,
		SkillName:   cfg.RestrictedSkillName,
		Description: functionDescription,
		Parameters: []skill.ParameterView{
			{Name: vars.InputKey, Description: "The goal to plan for."},
			{Name: AvailableFunctionsKey, Description: "The functions manual."},
		},
		Settings: llm.Settings{
			MaxTokens:     cfg.MaxTokens,
			Temperature:   0,
			StopSequences: []string{StopSequence},
		},
	}, functionFlowPrompt, completion)
	return p
}

// Config returns the effective configuration.
func (p *FunctionFlowPlanner) Config() Config {
	return p.cfg
}

// Function returns the planner's semantic function. It is described under
// the restricted skill, so registering it in the catalog does not expose it
// to the planner itself.
func (p *FunctionFlowPlanner) Function() skill.Function {
	return p.function
}

// CreatePlan asks the model for a plan that satisfies goal. Generation
// failures are returned as-is; malformed markup is a *ParseError. Functions
// missing from the catalog stay as unbound leaves.
func (p *FunctionFlowPlanner) CreatePlan(ctx context.Context, goal string) (*plan.Plan, error) {
	views, err := AvailableFunctions(ctx, p.catalog, goal, p.cfg, p.ranker)
	if err != nil {
		return nil, fmt.Errorf("create plan: %w", err)
	}

	scope := vars.New(goal)
	scope.Set(AvailableFunctionsKey, Manual(views))
	sc := skill.NewContext(scope, p.catalog, p.logger)

	res, err := p.function.Invoke(ctx, sc)
	if err != nil {
		return nil, err
	}
	if res.ErrorOccurred() {
		if cause := res.LastErr(); cause != nil {
			return nil, cause
		}
		return nil, fmt.Errorf("create plan: %s", res.LastErrorDescription())
	}

	markup := "<" + GoalTag + ">\n" + escape(goal) + "\n</" + GoalTag + ">\n" + strings.TrimSpace(res.Result())
	pl, err := ParseMarkup(markup, p.catalog)
	if err != nil {
		return nil, err
	}

	var unresolved []string
	_ = pl.Walk(func(n *plan.Plan, _ int) error {
		if n.IsLeaf() && !n.IsBound() {
			unresolved = append(unresolved, n.QualifiedName())
			p.logger.Debug("planned function not in catalog", zap.String("function", n.QualifiedName()))
		}
		return nil
	})
	p.logger.Debug("plan created",
		zap.String("goal", goal),
		zap.Int("steps", pl.StepCount()),
		zap.Int("unresolved", len(unresolved)))
	if p.trace != nil {
		_ = p.trace.EmitPlanCreated(goal, pl.StepCount(), unresolved)
	}
	return pl, nil
}

func escape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
