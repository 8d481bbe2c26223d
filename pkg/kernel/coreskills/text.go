// Package coreskills provides the built-in native skills: plan creation and
// execution, text manipulation, arithmetic, and time.
package coreskills

import (
	"context"
	"strings"

	"github.com/ormasoftchile/flowplan/pkg/kernel/skill"
)

// TextSkillName is the skill name of the text functions.
const TextSkillName = "text"

// Text returns the text functions.
func Text() []skill.Function {
	fn := func(name, desc string, f func(string) string) skill.Function {
		return skill.NewTextFunction(skill.View{
			Name:        name,
			SkillName:   TextSkillName,
			Description: desc,
			Parameters:  []skill.ParameterView{{Name: "input", Description: "The text to transform."}},
		}, func(_ context.Context, in string) (string, error) { return f(in), nil })
	}
	return []skill.Function{
		fn("Trim", "Trim whitespace from the start and end of a string.", strings.TrimSpace),
		fn("TrimStart", "Trim whitespace from the start of a string.", func(s string) string { return strings.TrimLeft(s, " \t\r\n") }),
		fn("TrimEnd", "Trim whitespace from the end of a string.", func(s string) string { return strings.TrimRight(s, " \t\r\n") }),
		fn("Uppercase", "Convert a string to uppercase.", strings.ToUpper),
		fn("Lowercase", "Convert a string to lowercase.", strings.ToLower),
	}
}
