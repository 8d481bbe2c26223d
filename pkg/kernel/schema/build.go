package schema

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ormasoftchile/flowplan/pkg/kernel/contract"
	"github.com/ormasoftchile/flowplan/pkg/kernel/coreskills"
	"github.com/ormasoftchile/flowplan/pkg/kernel/executor"
	"github.com/ormasoftchile/flowplan/pkg/kernel/governance"
	"github.com/ormasoftchile/flowplan/pkg/kernel/llm"
	"github.com/ormasoftchile/flowplan/pkg/kernel/planner"
	"github.com/ormasoftchile/flowplan/pkg/kernel/skill"
)

// BuildOptions supplies the collaborators catalog functions need.
type BuildOptions struct {
	Completion llm.TextCompletion
	Planner    planner.Config
	Now        func() time.Time
	BaseDir    string // relative command dirs resolve against it

	// Policy guards every function; nil allows everything. Approver is
	// asked for functions that require approval.
	Policy   *governance.Engine
	Approver governance.Approver
}

// Bundle is a catalog turned into invocable functions. Close stops any
// extension hosts the functions started.
type Bundle struct {
	Skills  *skill.Collection
	runners []*executor.ExtensionRunner
}

// Close shuts down every extension host.
func (b *Bundle) Close(ctx context.Context) error {
	var errs []error
	for _, r := range b.runners {
		if err := r.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Build registers every function of c into a new collection: prompt
// functions become semantic functions, command and extension functions run
// external processes, and builtin entries import core skill functions.
func Build(c *Catalog, opts BuildOptions) (*Bundle, error) {
	b := &Bundle{Skills: skill.NewCollection()}
	core := coreskills.Options{Completion: opts.Completion, Planner: opts.Planner, Now: opts.Now}

	for _, s := range c.Skills {
		var runner *executor.ExtensionRunner
		if s.Host != nil && s.Host.Command != "" {
			runner = executor.NewExtensionRunner(s.Host.Command, s.Host.Args...)
			b.runners = append(b.runners, runner)
		}

		if s.Builtin {
			fns, err := coreskills.Builtin(s.Name, b.Skills, core)
			if err != nil {
				return nil, fmt.Errorf("build skill %q: %w", s.Name, err)
			}
			for _, fn := range fns {
				fn = guard(fn, s, Function{Type: FunctionBuiltin}, opts)
				if err := b.Skills.Register(fn); err != nil {
					return nil, fmt.Errorf("build skill %q: %w", s.Name, err)
				}
			}
		}

		for _, f := range s.Functions {
			fn, err := buildFunction(s, f, runner, b.Skills, core, opts)
			if err != nil {
				return nil, fmt.Errorf("build %s.%s: %w", s.Name, f.Name, err)
			}
			if err := b.Skills.Register(guard(fn, s, f, opts)); err != nil {
				return nil, fmt.Errorf("build %s.%s: %w", s.Name, f.Name, err)
			}
		}
	}
	return b, nil
}

// guard wraps fn with the policy, using the type contract overridden by the
// skill and function contracts.
func guard(fn skill.Function, s Skill, f Function, opts BuildOptions) skill.Function {
	c := contract.ForType(string(f.Type))
	c = contract.Merge(&c, s.Contract)
	c = contract.Merge(&c, f.Contract)
	return opts.Policy.Guard(fn, governance.Subject{View: fn.Describe(), Type: string(f.Type), Contract: c}, opts.Approver)
}

func buildFunction(s Skill, f Function, runner *executor.ExtensionRunner, catalog skill.Catalog, core coreskills.Options, opts BuildOptions) (skill.Function, error) {
	view := skill.View{
		Name:        f.Name,
		SkillName:   s.Name,
		Description: f.Description,
		Parameters:  make([]skill.ParameterView, 0, len(f.Parameters)),
	}
	for _, p := range f.Parameters {
		view.Parameters = append(view.Parameters, skill.ParameterView{
			Name:         p.Name,
			Description:  p.Description,
			DefaultValue: p.Default,
		})
	}

	switch f.Type {
	case FunctionPrompt:
		view.Settings = llm.DefaultSettings()
		if f.Settings != nil {
			view.Settings = *f.Settings
		}
		return skill.NewSemanticFunction(view, f.Template, core.Completion), nil

	case FunctionCommand:
		cmd := executor.Command{Argv: f.Argv, Binary: f.Binary, Dir: f.Dir, Extract: f.Extract}
		name := cmd.Binary
		if name == "" && len(cmd.Argv) > 0 {
			name = cmd.Argv[0]
		}
		if err := opts.Policy.CheckCommand(name); err != nil {
			return nil, err
		}
		if opts.Policy.BlocksEnv() {
			cmd.Env, _ = opts.Policy.FilterEnv(os.Environ())
		}
		if cmd.Dir != "" && opts.BaseDir != "" && !filepath.IsAbs(cmd.Dir) {
			cmd.Dir = filepath.Join(opts.BaseDir, cmd.Dir)
		}
		if f.Timeout != "" {
			d, err := time.ParseDuration(f.Timeout)
			if err != nil {
				return nil, fmt.Errorf("timeout: %w", err)
			}
			cmd.Timeout = d
		}
		return executor.NewFunction(view, cmd), nil

	case FunctionExtension:
		if runner == nil {
			return nil, fmt.Errorf("skill %q has no host", s.Name)
		}
		return executor.NewExtensionFunction(view, runner), nil

	case FunctionBuiltin:
		fns, err := coreskills.Builtin(s.Name, catalog, core)
		if err != nil {
			return nil, err
		}
		for _, fn := range fns {
			if strings.EqualFold(fn.Describe().Name, f.Name) {
				return fn, nil
			}
		}
		return nil, fmt.Errorf("built-in skill %q has no function %q", s.Name, f.Name)

	default:
		return nil, fmt.Errorf("unknown function type %q", f.Type)
	}
}
