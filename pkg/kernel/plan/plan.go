// Package plan implements the plan tree and its step-by-step execution engine.
//
// A Plan is either a leaf bound to one catalog function or a branch holding an
// ordered list of child plans. Branches keep their own state scope and a
// cursor into their children; each InvokeNextStep runs exactly one child and
// folds its result back into the branch state.
package plan

import (
	"fmt"

	"github.com/ormasoftchile/flowplan/pkg/kernel/llm"
	"github.com/ormasoftchile/flowplan/pkg/kernel/skill"
	"github.com/ormasoftchile/flowplan/pkg/kernel/vars"
)

// ContainerSkillName is the skill name of plans built from a goal.
const ContainerSkillName = "flowplan.Plan"

type kind int

const (
	kindBranch kind = iota
	kindLeaf
)

// Plan is a node of a plan tree. A Plan is not safe for concurrent use.
type Plan struct {
	Name        string
	SkillName   string
	Description string

	// State persists across steps of a branch.
	State *vars.Scope
	// NamedParameters bind step inputs to literals or $references.
	NamedParameters *vars.Scope
	// NamedOutputs map result keys (or RESULT) to state keys of the parent.
	NamedOutputs *vars.Scope

	kind       kind
	fn         skill.Function // leaf only; nil until resolved
	steps      []*Plan        // branch only
	parent     *Plan          // owning branch; nil for a root
	next       int
	isSemantic bool
	settings   llm.Settings
}

func newScopes(p *Plan) *Plan {
	p.State = vars.New("")
	p.NamedParameters = vars.FromPairs(nil)
	p.NamedOutputs = vars.FromPairs(nil)
	return p
}

// New creates an empty branch plan for goal.
func New(goal string) *Plan {
	return newScopes(&Plan{
		Name:        goal,
		SkillName:   ContainerSkillName,
		Description: goal,
		kind:        kindBranch,
	})
}

// NewWithSteps creates a branch plan for goal with the given children. It
// panics if a step is nil, repeated, or already owned by another plan.
func NewWithSteps(goal string, steps ...*Plan) *Plan {
	p := New(goal)
	if err := p.AddSteps(steps...); err != nil {
		panic(err)
	}
	return p
}

// NewWithFunctions creates a branch plan for goal, one child per function.
// It panics under the same conditions as NewWithSteps.
func NewWithFunctions(goal string, fns ...skill.Function) *Plan {
	p := New(goal)
	if err := p.AddFunctions(fns...); err != nil {
		panic(err)
	}
	return p
}

// FromFunction creates a leaf bound to fn, copying its identity.
func FromFunction(fn skill.Function) *Plan {
	p := newScopes(&Plan{kind: kindLeaf})
	p.bind(fn)
	return p
}

// NewReference creates an unbound leaf naming skillName.name. Invoking it
// fails until Resolve binds it.
func NewReference(skillName, name string) *Plan {
	return newScopes(&Plan{
		Name:      name,
		SkillName: skillName,
		kind:      kindLeaf,
	})
}

// Rebuild reconstructs a plan from its persisted parts. A node without steps
// becomes a branch when skillName is ContainerSkillName and an unbound leaf
// otherwise. Nil scopes are replaced with empty ones.
func Rebuild(name, skillName, description string, nextStepIndex int,
	state, namedParameters, namedOutputs *vars.Scope, steps []*Plan) (*Plan, error) {
	if nextStepIndex < 0 || nextStepIndex > len(steps) {
		return nil, fmt.Errorf("rebuild plan %q: next step index %d out of range [0, %d]", name, nextStepIndex, len(steps))
	}

	p := newScopes(&Plan{
		Name:        name,
		SkillName:   skillName,
		Description: description,
		kind:        kindBranch,
	})
	if len(steps) == 0 && skillName != ContainerSkillName {
		p.kind = kindLeaf
	}
	if state != nil {
		p.State = state
	}
	if namedParameters != nil {
		p.NamedParameters = namedParameters
	}
	if namedOutputs != nil {
		p.NamedOutputs = namedOutputs
	}
	if err := p.AddSteps(steps...); err != nil {
		return nil, err
	}
	p.next = nextStepIndex
	return p, nil
}

// wrap turns a function into a child plan. Plans are used as-is.
func wrap(fn skill.Function) *Plan {
	if p, ok := fn.(*Plan); ok {
		return p
	}
	return FromFunction(fn)
}

func (p *Plan) bind(fn skill.Function) {
	v := fn.Describe()
	p.fn = fn
	p.Name = v.Name
	p.SkillName = v.SkillName
	p.Description = v.Description
	p.isSemantic = v.IsSemantic
	p.settings = v.Settings
}

// AddSteps appends child plans. Leaves cannot gain children, and a plan has
// at most one parent: a step that is p, one of its ancestors, already owned
// by a plan, or repeated in steps is rejected and nothing is added.
func (p *Plan) AddSteps(steps ...*Plan) error {
	if len(steps) == 0 {
		return nil
	}
	if p.kind == kindLeaf {
		return fmt.Errorf("add steps to %s.%s: plan is bound to a function", p.SkillName, p.Name)
	}
	seen := make(map[*Plan]bool, len(steps))
	for i, step := range steps {
		switch {
		case step == nil:
			return fmt.Errorf("add steps to %q: step %d is nil", p.Name, i)
		case step.parent != nil:
			return fmt.Errorf("add steps to %q: step %q already belongs to plan %q", p.Name, step.Name, step.parent.Name)
		case seen[step]:
			return fmt.Errorf("add steps to %q: step %q appears twice", p.Name, step.Name)
		}
		for a := p; a != nil; a = a.parent {
			if a == step {
				return fmt.Errorf("add steps to %q: step %q would create a cycle", p.Name, step.Name)
			}
		}
		seen[step] = true
	}
	for _, step := range steps {
		step.parent = p
	}
	p.steps = append(p.steps, steps...)
	return nil
}

// AddFunctions appends one child per function.
func (p *Plan) AddFunctions(fns ...skill.Function) error {
	steps := make([]*Plan, 0, len(fns))
	for _, fn := range fns {
		steps = append(steps, wrap(fn))
	}
	return p.AddSteps(steps...)
}

// IsLeaf reports whether p is a function leaf.
func (p *Plan) IsLeaf() bool { return p.kind == kindLeaf }

// IsBound reports whether p is a leaf with a live function binding.
func (p *Plan) IsBound() bool { return p.kind == kindLeaf && p.fn != nil }

// Function returns the bound function of a leaf, or nil.
func (p *Plan) Function() skill.Function { return p.fn }

// Steps returns the children of a branch.
func (p *Plan) Steps() []*Plan {
	out := make([]*Plan, len(p.steps))
	copy(out, p.steps)
	return out
}

// StepCount returns the number of children.
func (p *Plan) StepCount() int { return len(p.steps) }

// NextStepIndex returns the index of the next child to run.
func (p *Plan) NextStepIndex() int { return p.next }

// HasNextStep reports whether a child remains to be run.
func (p *Plan) HasNextStep() bool { return p.next < len(p.steps) }

// QualifiedName returns "skill.name".
func (p *Plan) QualifiedName() string { return p.SkillName + "." + p.Name }

// Describe returns the bound function's descriptor for a bound leaf and the
// plan's own identity otherwise.
func (p *Plan) Describe() skill.View {
	if p.fn != nil {
		return p.fn.Describe()
	}
	return skill.View{
		Name:        p.Name,
		SkillName:   p.SkillName,
		Description: p.Description,
		IsSemantic:  p.isSemantic,
		Settings:    p.settings,
	}
}

// Walk visits p and its descendants in pre-order. A non-nil error from fn
// stops the walk and is returned.
func (p *Plan) Walk(fn func(node *Plan, depth int) error) error {
	return p.walk(fn, 0)
}

func (p *Plan) walk(fn func(*Plan, int) error, depth int) error {
	if err := fn(p, depth); err != nil {
		return err
	}
	for _, s := range p.steps {
		if err := s.walk(fn, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// Resolve binds every unbound leaf found in catalog and returns the qualified
// names of leaves that remain unbound.
func (p *Plan) Resolve(catalog skill.Catalog) []string {
	var missing []string
	_ = p.Walk(func(n *Plan, _ int) error {
		if n.kind != kindLeaf || n.fn != nil {
			return nil
		}
		if catalog != nil && catalog.HasFunction(n.SkillName, n.Name) {
			if fn, err := catalog.Function(n.SkillName, n.Name); err == nil {
				n.bind(fn)
				return nil
			}
		}
		missing = append(missing, n.QualifiedName())
		return nil
	})
	return missing
}
