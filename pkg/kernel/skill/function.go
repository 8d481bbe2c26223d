package skill

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ormasoftchile/flowplan/pkg/kernel/eval"
	"github.com/ormasoftchile/flowplan/pkg/kernel/llm"
)

// Function is an invocable catalog entry.
//
// Invoke reads and mutates sc.Variables. A function reports ordinary failure
// through sc.Fail and returns the context with a nil error; a non-nil error is
// reserved for failures the function cannot describe on the context.
type Function interface {
	Describe() View
	Invoke(ctx context.Context, sc *Context) (*Context, error)
}

// NativeFunc is the body of a native function.
type NativeFunc func(ctx context.Context, sc *Context) error

// NativeFunction is a Function implemented in Go.
type NativeFunction struct {
	view View
	fn   NativeFunc
}

// NewNativeFunction wraps fn. An empty skill name maps to GlobalSkill.
func NewNativeFunction(view View, fn NativeFunc) *NativeFunction {
	if view.SkillName == "" {
		view.SkillName = GlobalSkill
	}
	view.IsSemantic = false
	return &NativeFunction{view: view, fn: fn}
}

// NewTextFunction wraps a function that maps the input value to a new input value.
func NewTextFunction(view View, fn func(ctx context.Context, input string) (string, error)) *NativeFunction {
	return NewNativeFunction(view, func(ctx context.Context, sc *Context) error {
		out, err := fn(ctx, sc.Variables.Input())
		if err != nil {
			return err
		}
		sc.Variables.Update(out)
		return nil
	})
}

// Describe returns the function's descriptor.
func (f *NativeFunction) Describe() View {
	return f.view
}

// Invoke runs the function body. Errors from the body become soft failures.
func (f *NativeFunction) Invoke(ctx context.Context, sc *Context) (*Context, error) {
	if err := ctx.Err(); err != nil {
		return sc.Fail(fmt.Sprintf("%s cancelled", f.view.QualifiedName()), err), nil
	}
	if err := f.fn(ctx, sc); err != nil {
		sc.Logger.Debug("native function failed",
			zap.String("skill", f.view.SkillName),
			zap.String("function", f.view.Name),
			zap.Error(err))
		return sc.Fail(err.Error(), err), nil
	}
	return sc, nil
}

// SemanticFunction is a Function backed by a prompt template and a text
// generation service.
type SemanticFunction struct {
	view       View
	template   string
	completion llm.TextCompletion
}

// NewSemanticFunction creates a prompt-backed function. An empty skill name
// maps to GlobalSkill.
func NewSemanticFunction(view View, template string, completion llm.TextCompletion) *SemanticFunction {
	if view.SkillName == "" {
		view.SkillName = GlobalSkill
	}
	view.IsSemantic = true
	return &SemanticFunction{view: view, template: template, completion: completion}
}

// Describe returns the function's descriptor.
func (f *SemanticFunction) Describe() View {
	return f.view
}

// Template returns the prompt template.
func (f *SemanticFunction) Template() string {
	return f.template
}

// Invoke renders the prompt, requests a completion, and stores the completion
// as the new input value.
func (f *SemanticFunction) Invoke(ctx context.Context, sc *Context) (*Context, error) {
	if f.completion == nil {
		err := fmt.Errorf("semantic function %s has no text completion service", f.view.QualifiedName())
		return sc.Fail(err.Error(), err), nil
	}

	prompt, err := eval.Render(f.template, sc.Variables)
	if err != nil {
		return sc.Fail(fmt.Sprintf("render prompt: %v", err), err), nil
	}

	text, err := f.completion.Complete(ctx, prompt, f.view.Settings)
	if err != nil {
		sc.Logger.Warn("text completion failed",
			zap.String("skill", f.view.SkillName),
			zap.String("function", f.view.Name),
			zap.Error(err))
		return sc.Fail(fmt.Sprintf("completion: %v", err), err), nil
	}

	sc.Variables.Update(trimStops(text, f.view.Settings.StopSequences))
	return sc, nil
}

// trimStops cuts text at the first stop sequence, for services that echo it.
func trimStops(text string, stops []string) string {
	for _, s := range stops {
		if s == "" {
			continue
		}
		if i := strings.Index(text, s); i >= 0 {
			text = text[:i]
		}
	}
	return text
}
