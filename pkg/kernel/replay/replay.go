// Package replay provides scenario-based replay for planning and execution.
// A scenario contains canned text completions and canned function results,
// enabling deterministic plan creation and execution without a live model
// or live processes.
package replay

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ormasoftchile/flowplan/pkg/kernel/llm"
	"github.com/ormasoftchile/flowplan/pkg/kernel/skill"
)

// ErrExhausted is returned when no canned response is left for a request.
var ErrExhausted = errors.New("replay: canned responses exhausted")

// Scenario is the top-level replay scenario document.
type Scenario struct {
	// Goal is planned before execution unless Plan names a serialized plan
	// file, relative to the scenario directory.
	Goal string `yaml:"goal,omitempty" json:"goal,omitempty"`
	Plan string `yaml:"plan,omitempty" json:"plan,omitempty"`

	// Inputs are variable values to seed the execution scope with.
	Inputs map[string]string `yaml:"inputs,omitempty" json:"inputs,omitempty"`

	// Completions are consumed in order: a request takes the first unconsumed
	// completion whose Match occurs in the prompt. An empty Match matches any
	// prompt.
	Completions []Completion `yaml:"completions,omitempty" json:"completions,omitempty"`

	// Functions maps "skill.name" keys to canned results, consumed in order.
	Functions map[string][]FunctionResponse `yaml:"functions,omitempty" json:"functions,omitempty"`
}

// Completion is one canned text completion.
type Completion struct {
	Match string `yaml:"match,omitempty" json:"match,omitempty"`
	Text  string `yaml:"text"            json:"text"`
}

// FunctionResponse is one canned function result. A non-empty Error is
// reported as a soft failure.
type FunctionResponse struct {
	Output    string            `yaml:"output,omitempty"    json:"output,omitempty"`
	Variables map[string]string `yaml:"variables,omitempty" json:"variables,omitempty"`
	Error     string            `yaml:"error,omitempty"     json:"error,omitempty"`
}

// LoadScenario loads a scenario from a YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	return &s, nil
}

// LoadScenarioDir loads a scenario from a directory containing scenario.yaml.
func LoadScenarioDir(dir string) (*Scenario, error) {
	return LoadScenario(filepath.Join(dir, "scenario.yaml"))
}

// Replayer serves a scenario's canned responses. It implements
// llm.TextCompletion and is safe for concurrent use.
type Replayer struct {
	mu       sync.Mutex
	scenario *Scenario
	used     []bool
	consumed map[string]int // next response index per function key
	prompts  []string
}

var _ llm.TextCompletion = (*Replayer)(nil)

// New creates a replayer for s.
func New(s *Scenario) *Replayer {
	if s == nil {
		s = &Scenario{}
	}
	return &Replayer{
		scenario: s,
		used:     make([]bool, len(s.Completions)),
		consumed: make(map[string]int),
	}
}

// Complete returns the first unconsumed completion matching prompt.
func (r *Replayer) Complete(ctx context.Context, prompt string, _ llm.Settings) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prompts = append(r.prompts, prompt)
	for i, c := range r.scenario.Completions {
		if r.used[i] || !strings.Contains(prompt, c.Match) {
			continue
		}
		r.used[i] = true
		return c.Text, nil
	}
	return "", fmt.Errorf("completion %d: %w (%d defined)", len(r.prompts), ErrExhausted, len(r.scenario.Completions))
}

// Prompts returns every prompt received so far, in order.
func (r *Replayer) Prompts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.prompts...)
}

// Remaining returns the number of unconsumed completions.
func (r *Replayer) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, u := range r.used {
		if !u {
			n++
		}
	}
	return n
}

// next returns the next canned response for key.
func (r *Replayer) next(key string) (FunctionResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	responses := r.scenario.Functions[key]
	idx := r.consumed[key]
	if idx >= len(responses) {
		return FunctionResponse{}, fmt.Errorf("%s: %w (used %d)", key, ErrExhausted, len(responses))
	}
	r.consumed[key] = idx + 1
	return responses[idx], nil
}

func (r *Replayer) responseKey(skillName, name string) (string, bool) {
	for k := range r.scenario.Functions {
		if strings.EqualFold(k, skillName+"."+name) {
			return k, true
		}
	}
	return "", false
}

// Catalog returns a catalog that serves canned function results in place of
// the base catalog's functions. Functions without canned results fall
// through to base, which may be nil.
func (r *Replayer) Catalog(base skill.Catalog) skill.Catalog {
	return &catalog{base: base, r: r}
}

type catalog struct {
	base skill.Catalog
	r    *Replayer
}

func (c *catalog) HasFunction(skillName, name string) bool {
	if _, ok := c.r.responseKey(skillName, name); ok {
		return true
	}
	return c.base != nil && c.base.HasFunction(skillName, name)
}

func (c *catalog) Function(skillName, name string) (skill.Function, error) {
	key, canned := c.r.responseKey(skillName, name)
	if !canned {
		if c.base == nil {
			return nil, fmt.Errorf("%s.%s: %w", skillName, name, skill.ErrFunctionNotFound)
		}
		return c.base.Function(skillName, name)
	}

	view := skill.View{Name: name, SkillName: skillName, Description: "replayed function"}
	if c.base != nil {
		if fn, err := c.base.Function(skillName, name); err == nil {
			view = fn.Describe()
		}
	}
	return skill.NewNativeFunction(view, func(_ context.Context, sc *skill.Context) error {
		resp, err := c.r.next(key)
		if err != nil {
			return err
		}
		if resp.Error != "" {
			return errors.New(resp.Error)
		}
		for k, v := range resp.Variables {
			sc.Variables.Set(k, v)
		}
		sc.Variables.Update(resp.Output)
		return nil
	}), nil
}

func (c *catalog) ListFunctions(filter skill.ListFilter) []skill.View {
	if c.base == nil {
		return nil
	}
	return c.base.ListFunctions(filter)
}
