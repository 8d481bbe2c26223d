package coreskills

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/ormasoftchile/flowplan/pkg/kernel/skill"
)

// MathSkillName is the skill name of the math functions.
const MathSkillName = "math"

const amountParam = "amount"

// Math returns the arithmetic functions.
func Math() []skill.Function {
	amount := []skill.ParameterView{
		{Name: "input", Description: "The initial value."},
		{Name: amountParam, Description: "The amount to apply."},
	}
	return []skill.Function{
		skill.NewNativeFunction(skill.View{
			Name:        "Add",
			SkillName:   MathSkillName,
			Description: "Add an amount to a value.",
			Parameters:  amount,
		}, arithmetic(func(a, b float64) float64 { return a + b })),
		skill.NewNativeFunction(skill.View{
			Name:        "Subtract",
			SkillName:   MathSkillName,
			Description: "Subtract an amount from a value.",
			Parameters:  amount,
		}, arithmetic(func(a, b float64) float64 { return a - b })),
		skill.NewTextFunction(skill.View{
			Name:        "Calculate",
			SkillName:   MathSkillName,
			Description: "Evaluate an arithmetic expression such as (2 + 3) * 4.",
			Parameters:  []skill.ParameterView{{Name: "input", Description: "The expression to evaluate."}},
		}, func(_ context.Context, in string) (string, error) { return Calculate(in) }),
	}
}

func arithmetic(op func(a, b float64) float64) skill.NativeFunc {
	return func(_ context.Context, sc *skill.Context) error {
		a, err := parseNumber(sc.Variables.Input())
		if err != nil {
			return fmt.Errorf("input: %w", err)
		}
		b, err := parseNumber(sc.Variables.Value(amountParam))
		if err != nil {
			return fmt.Errorf("%s: %w", amountParam, err)
		}
		sc.Variables.Update(formatNumber(op(a, b)))
		return nil
	}
}

// Calculate evaluates a numeric expression.
func Calculate(expression string) (string, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return "", fmt.Errorf("empty expression")
	}
	program, err := expr.Compile(expression)
	if err != nil {
		return "", fmt.Errorf("compile expression %q: %w", expression, err)
	}
	out, err := expr.Run(program, nil)
	if err != nil {
		return "", fmt.Errorf("eval expression %q: %w", expression, err)
	}
	switch v := out.(type) {
	case int:
		return strconv.Itoa(v), nil
	case float64:
		return formatNumber(v), nil
	case bool:
		return strconv.FormatBool(v), nil
	default:
		return "", fmt.Errorf("expression %q did not return a number (got %T)", expression, out)
	}
}

func parseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("missing number")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", s, err)
	}
	return f, nil
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
