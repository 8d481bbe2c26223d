// Package skill defines the function catalog consumed by plans and the
// planner: function descriptors, the callable contract, the execution
// context, and an in-memory registry.
package skill

import (
	"fmt"
	"strings"

	"github.com/ormasoftchile/flowplan/pkg/kernel/llm"
)

// GlobalSkill is the skill name used for functions registered without one.
const GlobalSkill = "_GLOBAL_FUNCTIONS_"

// ParameterView describes one declared parameter of a function.
type ParameterView struct {
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	DefaultValue string `json:"default_value,omitempty"`
}

// View describes a catalog function.
type View struct {
	Name        string          `json:"name"`
	SkillName   string          `json:"skill_name"`
	Description string          `json:"description,omitempty"`
	IsSemantic  bool            `json:"is_semantic"`
	Parameters  []ParameterView `json:"parameters,omitempty"`
	Settings    llm.Settings    `json:"-"`
}

// QualifiedName returns "skill.name".
func (v View) QualifiedName() string {
	return v.SkillName + "." + v.Name
}

// Manual renders the entry the planner embeds in its prompt.
func (v View) Manual() string {
	var b strings.Builder
	fmt.Fprintf(&b, "  %s:\n", v.QualifiedName())
	fmt.Fprintf(&b, "    description: %s\n", strings.TrimSpace(v.Description))
	if len(v.Parameters) == 0 {
		return b.String()
	}
	b.WriteString("    inputs:\n")
	for _, p := range v.Parameters {
		fmt.Fprintf(&b, "    - %s: %s", p.Name, strings.TrimSpace(p.Description))
		if p.DefaultValue != "" {
			fmt.Fprintf(&b, " (default value: %s)", p.DefaultValue)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Parameter returns the declared parameter with the given name, case-insensitively.
func (v View) Parameter(name string) (ParameterView, bool) {
	for _, p := range v.Parameters {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return ParameterView{}, false
}
