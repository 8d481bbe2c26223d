package plan

import (
	"bytes"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/ormasoftchile/flowplan/pkg/kernel/skill"
	"github.com/ormasoftchile/flowplan/pkg/kernel/vars"
)

// PlanKey is the variable under which a serialized plan travels in a scope.
const PlanKey = "PLAN__PLAN__KEY"

// Document is the interchange form of a plan.
type Document struct {
	State           *vars.Scope `json:"state"`
	Steps           []*Document `json:"steps"`
	NamedParameters *vars.Scope `json:"named_parameters"`
	NamedOutputs    *vars.Scope `json:"named_outputs"`
	Name            string      `json:"name"`
	SkillName       string      `json:"skill_name"`
	Description     string      `json:"description"`
	NextStepIndex   int         `json:"next_step_index"`
}

// Document returns the interchange form of p.
func (p *Plan) Document() *Document {
	d := &Document{
		State:           p.State,
		Steps:           make([]*Document, 0, len(p.steps)),
		NamedParameters: p.NamedParameters,
		NamedOutputs:    p.NamedOutputs,
		Name:            p.Name,
		SkillName:       p.SkillName,
		Description:     p.Description,
		NextStepIndex:   p.next,
	}
	for _, s := range p.steps {
		d.Steps = append(d.Steps, s.Document())
	}
	return d
}

// Plan rebuilds an unbound plan tree from d.
func (d *Document) Plan() (*Plan, error) {
	steps := make([]*Plan, 0, len(d.Steps))
	for i, sd := range d.Steps {
		if sd == nil {
			return nil, fmt.Errorf("plan %q: step %d is null", d.Name, i)
		}
		s, err := sd.Plan()
		if err != nil {
			return nil, fmt.Errorf("plan %q: step %d: %w", d.Name, i, err)
		}
		steps = append(steps, s)
	}
	return Rebuild(d.Name, d.SkillName, d.Description, d.NextStepIndex,
		d.State, d.NamedParameters, d.NamedOutputs, steps)
}

// MarshalJSON encodes p in the interchange format.
func (p *Plan) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Document())
}

// ToJSON returns the interchange form of p as a string.
func (p *Plan) ToJSON() (string, error) {
	b, err := p.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("encode plan: %w", err)
	}
	return string(b), nil
}

// Parse decodes a plan without binding any functions.
//
// A payload that is not a JSON object at all yields an empty plan and a nil
// error. A payload that is an object but holds malformed steps or scopes is
// an error.
func Parse(data []byte) (*Plan, error) {
	p, _, err := parse(data)
	return p, err
}

// parse reports whether the empty fallback plan was used.
func parse(data []byte) (*Plan, bool, error) {
	trimmed := bytes.TrimSpace(data)
	var probe map[string]json.RawMessage
	if len(trimmed) == 0 || json.Unmarshal(trimmed, &probe) != nil || probe == nil {
		return New(""), true, nil
	}

	var d Document
	if err := json.Unmarshal(trimmed, &d); err != nil {
		return nil, false, fmt.Errorf("decode plan: %w", err)
	}
	p, err := d.Plan()
	if err != nil {
		return nil, false, fmt.Errorf("decode plan: %w", err)
	}
	return p, false, nil
}

// FromJSON decodes a plan and binds its leaves against the catalog of sc.
// Unresolved leaves are logged and stay invocable only as resolution errors.
func FromJSON(data string, sc *skill.Context) (*Plan, error) {
	if sc == nil {
		sc = skill.NewContext(nil, nil, nil)
	}
	p, empty, err := parse([]byte(data))
	if err != nil {
		return nil, err
	}
	if empty {
		sc.Logger.Warn("plan payload is not a JSON object, using empty plan", zap.Int("bytes", len(data)))
	}
	for _, name := range p.Resolve(sc.Skills) {
		sc.Logger.Debug("plan function not resolved", zap.String("function", name))
	}
	return p, nil
}

// WithPlanEntry stores the serialized plan as the scope's input and under
// PlanKey.
func WithPlanEntry(s *vars.Scope, p *Plan) (*vars.Scope, error) {
	js, err := p.ToJSON()
	if err != nil {
		return s, err
	}
	s.Update(js)
	s.Set(PlanKey, js)
	return s, nil
}

// FromScope reads the plan stored under PlanKey, falling back to the input
// when it holds a plan object. ok is false when neither holds one.
func FromScope(sc *skill.Context) (p *Plan, ok bool, err error) {
	js, found := sc.Variables.Get(PlanKey)
	if !found || js == "" {
		js = sc.Variables.Input()
	}
	if !json.Valid([]byte(js)) || !bytes.HasPrefix(bytes.TrimSpace([]byte(js)), []byte("{")) {
		return nil, false, nil
	}
	p, err = FromJSON(js, sc)
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}
