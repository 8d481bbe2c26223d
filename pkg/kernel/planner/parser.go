package planner

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ormasoftchile/flowplan/pkg/kernel/plan"
	"github.com/ormasoftchile/flowplan/pkg/kernel/skill"
)

// Markup vocabulary.
const (
	GoalTag               = "goal"
	PlanTag               = "plan"
	FunctionTagPrefix     = "function."
	SetContextVariableTag = "setContextVariable"
	AppendToResultTag     = "appendToResult"
	goalAttr              = "goal"
)

// ErrNoPlan is returned when the markup holds no plan element.
var ErrNoPlan = errors.New("no plan element in markup")

// ParseError reports markup the planner could not turn into a plan.
type ParseError struct {
	Markup string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse plan markup: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseMarkup turns goal-and-plan markup into a plan tree. Function elements
// found in catalog are bound; the rest become unbound references.
//
//	<goal>Summarize and translate</goal>
//	<plan>
//	  <function.writer.Summarize/>
//	  <function.writer.Translate language="French" setContextVariable="TRANSLATED"/>
//	</plan>
func ParseMarkup(markup string, catalog skill.Catalog) (*plan.Plan, error) {
	dec := xml.NewDecoder(strings.NewReader("<xml>" + markup + "</xml>"))

	var (
		goal   string
		root   *plan.Plan
		inGoal bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &ParseError{Markup: markup, Err: err}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch {
			case t.Name.Local == GoalTag && root == nil:
				inGoal = true
			case t.Name.Local == PlanTag && root == nil:
				root = plan.New(strings.TrimSpace(goal))
				if err := parseSteps(dec, root, catalog); err != nil {
					return nil, &ParseError{Markup: markup, Err: err}
				}
			}
		case xml.EndElement:
			if t.Name.Local == GoalTag {
				inGoal = false
			}
		case xml.CharData:
			if inGoal {
				goal += string(t)
			}
		}
	}

	if root == nil {
		return nil, &ParseError{Markup: markup, Err: ErrNoPlan}
	}
	return root, nil
}

// parseSteps reads the children of a plan element up to its end tag.
func parseSteps(dec *xml.Decoder, parent *plan.Plan, catalog skill.Catalog) error {
	for {
		tok, err := dec.Token()
		if err != nil {
			if err == io.EOF {
				return fmt.Errorf("plan %q: unexpected end of markup", parent.Name)
			}
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch {
			case strings.HasPrefix(t.Name.Local, FunctionTagPrefix):
				step := functionStep(t, catalog)
				if err := dec.Skip(); err != nil {
					return err
				}
				if err := parent.AddSteps(step); err != nil {
					return err
				}
			case t.Name.Local == PlanTag:
				sub := plan.New(attr(t, goalAttr))
				if err := parseSteps(dec, sub, catalog); err != nil {
					return err
				}
				if err := parent.AddSteps(sub); err != nil {
					return err
				}
			default:
				if err := dec.Skip(); err != nil {
					return err
				}
			}
		case xml.EndElement:
			return nil
		}
	}
}

// functionStep builds the leaf for a function element.
func functionStep(el xml.StartElement, catalog skill.Catalog) *plan.Plan {
	skillName, name := splitFunctionName(strings.TrimPrefix(el.Name.Local, FunctionTagPrefix))

	var step *plan.Plan
	if catalog != nil && catalog.HasFunction(skillName, name) {
		if fn, err := catalog.Function(skillName, name); err == nil {
			step = plan.FromFunction(fn)
		}
	}
	if step == nil {
		step = plan.NewReference(skillName, name)
	}

	var output, appended string
	for _, a := range el.Attr {
		switch a.Name.Local {
		case SetContextVariableTag:
			output = a.Value
		case AppendToResultTag:
			appended = a.Value
		default:
			step.NamedParameters.Set(a.Name.Local, a.Value)
		}
	}
	if output == "" {
		output = appended
	}
	if output != "" {
		step.NamedOutputs.Set(plan.ResultKey, output)
	}
	return step
}

// splitFunctionName splits "skill.name" at the last dot. A name without a
// skill part belongs to the global skill.
func splitFunctionName(qualified string) (skillName, name string) {
	i := strings.LastIndex(qualified, ".")
	if i < 0 {
		return skill.GlobalSkill, qualified
	}
	return qualified[:i], qualified[i+1:]
}

func attr(el xml.StartElement, name string) string {
	for _, a := range el.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}
