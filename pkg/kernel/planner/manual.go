package planner

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/ormasoftchile/flowplan/pkg/kernel/skill"
)

// Ranker orders candidate functions by relevance to a goal, keeping at most
// limit entries scoring at least threshold. Embedding search lives behind it.
type Ranker interface {
	Rank(ctx context.Context, goal string, candidates []skill.View, limit int, threshold float64) ([]skill.View, error)
}

// AvailableFunctions returns the catalog functions the planner may use for
// goal, sorted by skill and name.
//
// The restricted skill and the configured exclusions are always removed.
// With a relevancy threshold and a ranker the candidates are ranked, and the
// included functions are added back if ranking dropped them.
func AvailableFunctions(ctx context.Context, catalog skill.Catalog, goal string, cfg Config, ranker Ranker) ([]skill.View, error) {
	cfg = cfg.withDefaults()
	if catalog == nil {
		return nil, nil
	}

	var candidates []skill.View
	for _, v := range catalog.ListFunctions(skill.AllFunctions) {
		if strings.EqualFold(v.SkillName, cfg.RestrictedSkillName) ||
			containsFold(cfg.ExcludedSkills, v.SkillName) ||
			matchesFunction(cfg.ExcludedFunctions, v) {
			continue
		}
		candidates = append(candidates, v)
	}

	result := candidates
	if cfg.RelevancyThreshold != nil && ranker != nil {
		ranked, err := ranker.Rank(ctx, goal, candidates, cfg.MaxRelevantFunctions, *cfg.RelevancyThreshold)
		if err != nil {
			return nil, fmt.Errorf("rank functions: %w", err)
		}
		result = ranked
		for _, v := range candidates {
			if matchesFunction(cfg.IncludedFunctions, v) && !slices.ContainsFunc(result, sameFunction(v)) {
				result = append(result, v)
			}
		}
	}

	result = slices.Clone(result)
	slices.SortStableFunc(result, func(a, b skill.View) int {
		if c := cmp.Compare(strings.ToLower(a.SkillName), strings.ToLower(b.SkillName)); c != 0 {
			return c
		}
		return cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
	return result, nil
}

// Manual renders the functions manual embedded in the planner prompt.
func Manual(views []skill.View) string {
	entries := make([]string, len(views))
	for i, v := range views {
		entries[i] = v.Manual()
	}
	return strings.Join(entries, "\n")
}

func containsFold(list []string, s string) bool {
	return slices.ContainsFunc(list, func(e string) bool { return strings.EqualFold(e, s) })
}

// matchesFunction matches v by bare or qualified name.
func matchesFunction(list []string, v skill.View) bool {
	return containsFold(list, v.Name) || containsFold(list, v.QualifiedName())
}

func sameFunction(v skill.View) func(skill.View) bool {
	return func(o skill.View) bool {
		return strings.EqualFold(o.SkillName, v.SkillName) && strings.EqualFold(o.Name, v.Name)
	}
}
