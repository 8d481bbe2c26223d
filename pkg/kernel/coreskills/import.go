package coreskills

import (
	"fmt"
	"strings"
	"time"

	"github.com/ormasoftchile/flowplan/pkg/kernel/llm"
	"github.com/ormasoftchile/flowplan/pkg/kernel/planner"
	"github.com/ormasoftchile/flowplan/pkg/kernel/skill"
)

// Options supplies the collaborators some core skills need.
type Options struct {
	Completion llm.TextCompletion
	Planner    planner.Config
	Now        func() time.Time
}

// Names lists the built-in skill names.
var Names = []string{PlannerSkillName, TextSkillName, MathSkillName, TimeSkillName}

// Builtin returns the functions of the named built-in skill. The planner
// skill plans against catalog.
func Builtin(skillName string, catalog skill.Catalog, opts Options) ([]skill.Function, error) {
	switch strings.ToLower(skillName) {
	case PlannerSkillName:
		return NewPlannerSkill(catalog, opts.Completion, opts.Planner).Functions(), nil
	case TextSkillName:
		return Text(), nil
	case MathSkillName:
		return Math(), nil
	case TimeSkillName:
		return Time(opts.Now), nil
	default:
		return nil, fmt.Errorf("unknown built-in skill %q", skillName)
	}
}

// Import registers the named built-in skills into c. With no names, every
// built-in skill is registered.
func Import(c *skill.Collection, opts Options, names ...string) error {
	if len(names) == 0 {
		names = Names
	}
	for _, name := range names {
		fns, err := Builtin(name, c, opts)
		if err != nil {
			return err
		}
		for _, fn := range fns {
			if err := c.Register(fn); err != nil {
				return fmt.Errorf("import %s: %w", name, err)
			}
		}
	}
	return nil
}
