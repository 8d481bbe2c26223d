package coreskills

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ormasoftchile/flowplan/pkg/kernel/llm"
	"github.com/ormasoftchile/flowplan/pkg/kernel/plan"
	"github.com/ormasoftchile/flowplan/pkg/kernel/planner"
	"github.com/ormasoftchile/flowplan/pkg/kernel/skill"
	"github.com/ormasoftchile/flowplan/pkg/kernel/vars"
)

// PlannerSkillName is the skill name of the planner functions.
const PlannerSkillName = "planner"

// Bucket parameters.
const (
	ParamBucketCount       = "bucketCount"
	ParamBucketLabelPrefix = "bucketLabelPrefix"
	DefaultBucketPrefix    = "Result"
)

// NoPlanMessage is the failure description of ExecutePlan without a stored plan.
const NoPlanMessage = "No plan found in context."

const bucketPrompt = `1. Given an output of a function, bucket the output into a list of results.

Examples:
[CONTENT]
Result 1
This is the first result.
Result 2
This is the second result. It's doubled!
Result 3
This is the third and final result. Truly astonishing.
[END CONTENT]

EXPECTED BUCKETS:

Result:
{"buckets": ["Result 1
This is the first result.", "Result 2
This is the second result. It's doubled!", "Result 3
This is the third and final result. Truly astonishing."]}

End examples.

[CONTENT]
{{ .input }}
[END CONTENT]

EXPECTED BUCKETS: {{ .bucketCount }}

Result:
`

// PlannerSkill exposes plan creation and execution as catalog functions.
type PlannerSkill struct {
	catalog    skill.Catalog
	completion llm.TextCompletion
	cfg        planner.Config
	bucket     *skill.SemanticFunction
}

// NewPlannerSkill creates the planner skill. Plans are made against the
// catalog of the invoking context, or catalog when the context has none.
func NewPlannerSkill(catalog skill.Catalog, completion llm.TextCompletion, cfg planner.Config) *PlannerSkill {
	base := planner.DefaultConfig()
	if cfg.RestrictedSkillName == "" {
		cfg.RestrictedSkillName = base.RestrictedSkillName
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = base.MaxTokens
	}
	return &PlannerSkill{
		catalog:    catalog,
		completion: completion,
		cfg:        cfg,
		bucket: skill.NewSemanticFunction(skill.View{
			Name:        "Bucket",
			SkillName:   cfg.RestrictedSkillName,
			Description: "Split a function output into a list of results.",
			Settings:    llm.Settings{MaxTokens: cfg.MaxTokens},
		}, bucketPrompt, completion),
	}
}

// Functions returns CreatePlan, ExecutePlan, and BucketOutputs.
func (s *PlannerSkill) Functions() []skill.Function {
	return []skill.Function{
		skill.NewNativeFunction(skill.View{
			Name:        "CreatePlan",
			SkillName:   PlannerSkillName,
			Description: "Create a plan using registered functions to accomplish a goal.",
			Parameters: []skill.ParameterView{
				{Name: "input", Description: "The goal to accomplish."},
				{Name: planner.ParamRelevancyThreshold, Description: "The relevancy threshold when filtering registered functions."},
				{Name: planner.ParamMaxRelevantFunctions, Description: "Limits the number of relevant functions included in the plan creation request.", DefaultValue: "100"},
				{Name: planner.ParamExcludedFunctions, Description: "A list of functions to exclude from the plan creation request."},
				{Name: planner.ParamExcludedSkills, Description: "A list of skills to exclude from the plan creation request."},
				{Name: planner.ParamIncludedFunctions, Description: "A list of functions to include in the plan creation request."},
			},
		}, s.createPlan),
		skill.NewNativeFunction(skill.View{
			Name:        "ExecutePlan",
			SkillName:   PlannerSkillName,
			Description: "Execute the next step of the plan stored in the context.",
		}, s.executePlan),
		skill.NewNativeFunction(skill.View{
			Name:        "BucketOutputs",
			SkillName:   PlannerSkillName,
			Description: "When the output of a function is too big, parse the output into a number of buckets.",
			Parameters: []skill.ParameterView{
				{Name: "input", Description: "The output from a function that needs to be parsed into buckets."},
				{Name: ParamBucketCount, Description: "The number of buckets."},
				{Name: ParamBucketLabelPrefix, Description: "The target label prefix for the resulting buckets, e.g. Result gives Result_1, Result_2.", DefaultValue: DefaultBucketPrefix},
			},
		}, s.bucketOutputs),
	}
}

func (s *PlannerSkill) catalogFor(sc *skill.Context) skill.Catalog {
	if sc.Skills != nil {
		return sc.Skills
	}
	return s.catalog
}

// derive returns a context over v that resolves against catalogFor(sc).
func (s *PlannerSkill) derive(sc *skill.Context, v *vars.Scope) *skill.Context {
	d := sc.Derive(v)
	d.Skills = s.catalogFor(sc)
	return d
}

// createPlan stores the plan for the input goal as the new input and under
// plan.PlanKey. Planner failures become soft failures.
func (s *PlannerSkill) createPlan(ctx context.Context, sc *skill.Context) error {
	goal := sc.Variables.Input()
	cfg := s.cfg.ApplyScope(sc.Variables)

	p := planner.New(s.catalogFor(sc), s.completion, cfg,
		planner.WithLogger(sc.Logger), planner.WithTrace(sc.Trace))
	pl, err := p.CreatePlan(ctx, goal)
	if err != nil {
		sc.Logger.Warn("plan creation failed", zap.String("goal", goal), zap.Error(err))
		sc.Fail(fmt.Sprintf("Error creating plan: %v", err), err)
		return nil
	}
	if _, err := plan.WithPlanEntry(sc.Variables, pl); err != nil {
		return err
	}
	return nil
}

// executePlan runs one step of the stored plan and stores it back.
func (s *PlannerSkill) executePlan(ctx context.Context, sc *skill.Context) error {
	pl, ok, err := plan.FromScope(s.derive(sc, sc.Variables))
	if err != nil {
		return err
	}
	if !ok {
		sc.Fail(NoPlanMessage, nil)
		return nil
	}

	// The plan travels in the input; steps must not receive it.
	stepVars := sc.Variables.Clone()
	stepVars.Delete(plan.PlanKey)
	if strings.HasPrefix(strings.TrimSpace(stepVars.Input()), "{") {
		stepVars.Update("")
	}
	if _, err := pl.InvokeNextStep(ctx, s.derive(sc, stepVars)); err != nil {
		return err
	}
	_, err = plan.WithPlanEntry(sc.Variables, pl)
	return err
}

// bucketOutputs splits the input into {prefix}_{n} variables.
func (s *PlannerSkill) bucketOutputs(ctx context.Context, sc *skill.Context) error {
	bucketVars := vars.New(sc.Variables.Input())
	if n, ok := sc.Variables.Get(ParamBucketCount); ok {
		bucketVars.Set(ParamBucketCount, n)
	}

	res, err := s.bucket.Invoke(ctx, sc.Derive(bucketVars))
	if err != nil {
		return err
	}
	if res.ErrorOccurred() {
		sc.Fail(res.LastErrorDescription(), res.LastErr())
		return nil
	}

	raw := strings.ReplaceAll(strings.TrimSpace(res.Result()), `\n`, "\n")
	raw = strings.ReplaceAll(raw, "\n", `\n`)
	var out map[string][]string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		sc.Logger.Warn("bucket outputs not parsed", zap.Error(err))
		sc.Fail(fmt.Sprintf("Error parsing bucket outputs: %v", err), err)
		return nil
	}

	prefix := sc.Variables.Value(ParamBucketLabelPrefix)
	if prefix == "" {
		prefix = DefaultBucketPrefix
	}
	for i, item := range out["buckets"] {
		sc.Variables.Set(fmt.Sprintf("%s_%d", prefix, i+1), item)
	}
	return nil
}
