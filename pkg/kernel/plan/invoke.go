package plan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ormasoftchile/flowplan/pkg/kernel/skill"
	"github.com/ormasoftchile/flowplan/pkg/kernel/trace"
	"github.com/ormasoftchile/flowplan/pkg/kernel/vars"
)

// Reserved named-output keys.
const (
	ResultKey = "RESULT"
	InputKey  = "INPUT"
)

// Invoke runs the plan against sc.
//
// A leaf delegates to its function and, on success, sets the caller's input to
// the function result. A failed leaf returns the failed context without
// touching any state. A branch runs its remaining steps in order, copying the
// result of each into the caller's input.
func (p *Plan) Invoke(ctx context.Context, sc *skill.Context) (*skill.Context, error) {
	if sc == nil {
		sc = skill.NewContext(nil, nil, nil)
	}
	if p.kind == kindLeaf {
		return p.invokeLeaf(ctx, sc)
	}

	start := time.Now()
	if sc.Trace != nil {
		_ = sc.Trace.EmitPlanStart(p.Name, p.next, len(p.steps))
	}
	for p.HasNextStep() {
		sc.Variables.MergeMissing(p.State)
		if _, err := p.InvokeNextStep(ctx, sc); err != nil {
			if sc.Trace != nil {
				_ = sc.Trace.EmitPlanComplete(p.Name, trace.StatusFailed, time.Since(start))
			}
			return sc, err
		}
		sc.Variables.Update(p.State.String())
	}
	if sc.Trace != nil {
		_ = sc.Trace.EmitPlanComplete(p.Name, trace.StatusSuccess, time.Since(start))
	}
	return sc, nil
}

func (p *Plan) invokeLeaf(ctx context.Context, sc *skill.Context) (*skill.Context, error) {
	if p.fn == nil {
		if sc.Trace != nil {
			_ = sc.Trace.EmitFunctionUnresolved(p.SkillName, p.Name)
		}
		return sc, &ResolutionError{SkillName: p.SkillName, Name: p.Name}
	}

	result, err := p.fn.Invoke(ctx, sc)
	if err != nil {
		return sc, fmt.Errorf("invoke %s: %w", p.QualifiedName(), err)
	}
	if result == nil {
		result = sc
	}
	if result.ErrorOccurred() {
		sc.Logger.Error("plan step failed",
			zap.String("skill", p.SkillName),
			zap.String("function", p.Name),
			zap.String("description", result.LastErrorDescription()),
			zap.Error(result.LastErr()))
		return result, nil
	}
	sc.Variables.Update(result.Result())
	return sc, nil
}

// RunNextStep runs the next step of p in a fresh context over variables. It
// is the entry point for callers that persist a plan between steps.
func (p *Plan) RunNextStep(ctx context.Context, catalog skill.Catalog, variables *vars.Scope, logger *zap.Logger) (*Plan, error) {
	return p.InvokeNextStep(ctx, skill.NewContext(variables, catalog, logger))
}

// InvokeNextStep runs exactly one child of p and folds its result into
// p.State. It is a no-op when no step remains. On failure the cursor is not
// advanced and the error is a *StepError.
func (p *Plan) InvokeNextStep(ctx context.Context, sc *skill.Context) (*Plan, error) {
	if !p.HasNextStep() {
		return p, nil
	}
	if sc == nil {
		sc = skill.NewContext(nil, nil, nil)
	}
	index := p.next
	step := p.steps[index]

	if err := ctx.Err(); err != nil {
		return p, p.stepError(index, step, "cancelled", err)
	}

	stepVars := p.stepVariables(sc.Variables, step)
	before := stepVars.Keys()

	start := time.Now()
	if sc.Trace != nil {
		_ = sc.Trace.EmitStepStart(p.Name, index, step.QualifiedName())
	}

	stepCtx := sc.Derive(stepVars)
	result, err := step.Invoke(ctx, stepCtx)
	if result == nil {
		result = stepCtx
	}
	switch {
	case err != nil:
		err = p.stepError(index, step, err.Error(), err)
	case result.ErrorOccurred():
		err = p.stepError(index, step, result.LastErrorDescription(), result.LastErr())
	}
	if err != nil {
		if sc.Trace != nil {
			_ = sc.Trace.EmitStepComplete(p.Name, index, trace.StatusFailed, "", time.Since(start), failureOf(err))
		}
		return p, err
	}

	output := strings.TrimSpace(result.Result())
	p.foldBack(stepVars, before, output, result.Variables, step)
	p.next++

	if sc.Trace != nil {
		_ = sc.Trace.EmitStepComplete(p.Name, index, trace.StatusSuccess, output, time.Since(start), nil)
	}
	return p, nil
}

func (p *Plan) stepError(index int, step *Plan, description string, cause error) *StepError {
	return &StepError{
		Plan:        p.Name,
		Index:       index,
		SkillName:   step.SkillName,
		Name:        step.Name,
		Description: description,
		Err:         cause,
	}
}

func failureOf(err error) *trace.Failure {
	kind := "invocation"
	switch {
	case errors.Is(err, ErrFunctionNotResolved):
		kind = "resolution"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		kind = "cancelled"
	}
	return &trace.Failure{Kind: kind, Message: err.Error()}
}

// stepVariables builds the input scope of step from the caller's variables
// and p.State.
func (p *Plan) stepVariables(caller *vars.Scope, step *Plan) *vars.Scope {
	fallback := p.Description
	if len(step.steps) > 0 {
		fallback = ""
	}
	input := caller.Input()
	if input == "" {
		input = p.State.Input()
	}
	if input == "" {
		input = fallback
	}
	out := vars.New(input)

	for _, param := range step.Describe().Parameters {
		if v := p.lookup(caller, param.Name); v != "" {
			out.Set(param.Name, v)
		}
	}

	for key, value := range step.NamedParameters.All() {
		switch {
		case strings.HasPrefix(value, "$"):
			out.Set(key, p.resolveRefs(caller, value))
		case value != "":
			out.Set(key, value)
		default:
			if v := p.lookup(caller, key); v != "" {
				out.Set(key, v)
			}
		}
	}
	return out
}

// lookup returns the first non-empty value of key in caller, then p.State.
func (p *Plan) lookup(caller *vars.Scope, key string) string {
	if v := caller.Value(key); v != "" {
		return v
	}
	return p.State.Value(key)
}

// resolveRefs resolves a "$a,$b;$c" reference list and concatenates the values.
func (p *Plan) resolveRefs(caller *vars.Scope, value string) string {
	var b strings.Builder
	for _, ref := range strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ';' }) {
		name := strings.TrimLeft(strings.TrimSpace(ref), "$")
		if name == "" {
			continue
		}
		b.WriteString(p.lookup(caller, name))
	}
	return b.String()
}

// foldBack merges one successful step into p.State. Only keys the step added
// to its input scope are copied; keys present before the call are skipped
// even if the step changed them.
func (p *Plan) foldBack(stepVars *vars.Scope, before []string, output string, resultVars *vars.Scope, step *Plan) {
	seen := make(map[string]bool, len(before))
	for _, k := range before {
		seen[strings.ToLower(k)] = true
	}
	for k, v := range stepVars.All() {
		if !seen[strings.ToLower(k)] {
			p.State.Set(k, v)
		}
	}

	p.State.Update(output)

	for src, dst := range step.NamedOutputs.All() {
		if src == "" || strings.EqualFold(src, InputKey) || dst == "" {
			continue
		}
		if strings.EqualFold(src, ResultKey) {
			p.State.Set(dst, output)
			continue
		}
		if resultVars == nil {
			continue
		}
		if v := resultVars.Value(src); v != "" {
			p.State.Set(dst, v)
		}
	}
}
