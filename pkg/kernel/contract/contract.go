// Package contract describes the behavioral promises of a catalog function.
// Governance derives a risk level from it.
package contract

// Contract describes the behavioral promises of a function. Nil fields take
// the defaults of the function's type.
type Contract struct {
	SideEffects   *bool    `yaml:"side_effects,omitempty"  json:"side_effects,omitempty"`
	Deterministic *bool    `yaml:"deterministic,omitempty" json:"deterministic,omitempty"`
	Idempotent    *bool    `yaml:"idempotent,omitempty"    json:"idempotent,omitempty"`
	Reads         []string `yaml:"reads,omitempty"         json:"reads,omitempty"`
	Writes        []string `yaml:"writes,omitempty"        json:"writes,omitempty"`
}

// RiskLevel classifies a contract's risk based on its behavioural properties.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Risk derives the risk level from a contract. Unset fields default to
// side_effects=true, idempotent=false, deterministic=false.
func (c *Contract) Risk() RiskLevel {
	if !getBool(c.SideEffects, true) {
		return RiskLow
	}
	if getBool(c.Idempotent, false) {
		return RiskMedium
	}
	if getBool(c.Deterministic, false) {
		return RiskHigh
	}
	return RiskCritical
}

// Resolved returns a copy of this contract with all nil fields replaced by
// their defaults.
func (c *Contract) Resolved() Contract {
	out := *c
	out.SideEffects = boolPtr(getBool(c.SideEffects, true))
	out.Deterministic = boolPtr(getBool(c.Deterministic, false))
	out.Idempotent = boolPtr(getBool(c.Idempotent, false))
	if out.Reads == nil {
		out.Reads = []string{}
	}
	if out.Writes == nil {
		out.Writes = []string{}
	}
	return out
}

// ForType returns the implicit contract of a function type. Prompt and
// builtin functions only read their scope; process-backed functions are
// assumed to touch the outside world.
func ForType(fnType string) Contract {
	switch fnType {
	case "prompt":
		return Contract{SideEffects: boolPtr(false), Deterministic: boolPtr(false), Idempotent: boolPtr(true)}
	case "builtin":
		return Contract{SideEffects: boolPtr(false), Deterministic: boolPtr(true), Idempotent: boolPtr(true)}
	default:
		return Contract{}
	}
}

// Merge returns parent overridden by the fields child sets. Reads and
// writes are unioned.
func Merge(parent, child *Contract) Contract {
	out := *parent
	if child == nil {
		return out
	}
	if child.SideEffects != nil {
		out.SideEffects = child.SideEffects
	}
	if child.Deterministic != nil {
		out.Deterministic = child.Deterministic
	}
	if child.Idempotent != nil {
		out.Idempotent = child.Idempotent
	}
	if child.Reads != nil {
		out.Reads = setUnion(parent.Reads, child.Reads)
	}
	if child.Writes != nil {
		out.Writes = setUnion(parent.Writes, child.Writes)
	}
	return out
}

func getBool(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func boolPtr(b bool) *bool { return &b }

func setUnion(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
