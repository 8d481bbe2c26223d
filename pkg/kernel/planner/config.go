package planner

import (
	"strconv"
	"strings"

	"github.com/ormasoftchile/flowplan/pkg/kernel/vars"
)

// Context variable names read by ApplyScope.
const (
	ParamRelevancyThreshold   = "relevancyThreshold"
	ParamMaxRelevantFunctions = "MaxRelevantFunctions"
	ParamExcludedSkills       = "excludedSkills"
	ParamExcludedFunctions    = "excludedFunctions"
	ParamIncludedFunctions    = "includedFunctions"
)

// DefaultRestrictedSkillName is the skill under which planner-internal
// functions are registered. Functions of that skill never appear in a manual.
const DefaultRestrictedSkillName = "PlannerSkill_Excluded"

// Config controls which catalog functions the planner may choose from and
// the size of the generation request.
type Config struct {
	// RelevancyThreshold enables ranking when non-nil.
	RelevancyThreshold   *float64 `yaml:"relevancy_threshold,omitempty" toml:"relevancy_threshold,omitempty" json:"relevancy_threshold,omitempty"`
	MaxRelevantFunctions int      `yaml:"max_relevant_functions,omitempty" toml:"max_relevant_functions,omitempty" json:"max_relevant_functions,omitempty"`
	ExcludedSkills       []string `yaml:"excluded_skills,omitempty" toml:"excluded_skills,omitempty" json:"excluded_skills,omitempty"`
	ExcludedFunctions    []string `yaml:"excluded_functions,omitempty" toml:"excluded_functions,omitempty" json:"excluded_functions,omitempty"`
	IncludedFunctions    []string `yaml:"included_functions,omitempty" toml:"included_functions,omitempty" json:"included_functions,omitempty"`
	MaxTokens            int      `yaml:"max_tokens,omitempty" toml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
	RestrictedSkillName  string   `yaml:"restricted_skill_name,omitempty" toml:"restricted_skill_name,omitempty" json:"restricted_skill_name,omitempty"`
}

// DefaultConfig returns the planner defaults.
func DefaultConfig() Config {
	return Config{
		MaxRelevantFunctions: 100,
		MaxTokens:            1024,
		RestrictedSkillName:  DefaultRestrictedSkillName,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxRelevantFunctions <= 0 {
		c.MaxRelevantFunctions = d.MaxRelevantFunctions
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	if c.RestrictedSkillName == "" {
		c.RestrictedSkillName = d.RestrictedSkillName
	}
	return c
}

// ApplyScope returns c overridden by the planner parameters present in s.
// List parameters are comma separated. Unparsable numbers are ignored.
func (c Config) ApplyScope(s *vars.Scope) Config {
	if v := strings.TrimSpace(s.Value(ParamRelevancyThreshold)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.RelevancyThreshold = &f
		}
	}
	if v := strings.TrimSpace(s.Value(ParamMaxRelevantFunctions)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MaxRelevantFunctions = n
		}
	}
	if v := s.Value(ParamExcludedSkills); v != "" {
		c.ExcludedSkills = append(append([]string(nil), c.ExcludedSkills...), splitList(v)...)
	}
	if v := s.Value(ParamExcludedFunctions); v != "" {
		c.ExcludedFunctions = append(append([]string(nil), c.ExcludedFunctions...), splitList(v)...)
	}
	if v := s.Value(ParamIncludedFunctions); v != "" {
		c.IncludedFunctions = append(append([]string(nil), c.IncludedFunctions...), splitList(v)...)
	}
	return c
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
