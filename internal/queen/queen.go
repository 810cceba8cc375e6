// Package queen implements the Queen/Selector (spec.md §4.7, C7):
// objective analysis and deterministic worker-type selection.
package queen

import (
	"strings"

	"github.com/hive-mind/hivecore/internal/domain"
)

// Complexity enumerates analyzeObjective's complexity tiers.
type Complexity string

const (
	ComplexityLow       Complexity = "low"
	ComplexityMedium    Complexity = "medium"
	ComplexityHigh      Complexity = "high"
	ComplexityVeryHigh  Complexity = "very_high"
)

// Analysis is the result of analyzeObjective (spec.md §4.7).
type Analysis struct {
	RequiredCapabilities []domain.WorkerType
	Complexity           Complexity
	RecommendedStrategy  string
}

// priorityOrder is the fixed top-up/truncation order of spec.md §4.7 step 4.
var priorityOrder = []domain.WorkerType{
	domain.WorkerResearcher, domain.WorkerCoder, domain.WorkerArchitect,
	domain.WorkerTester, domain.WorkerAnalyst, domain.WorkerOptimizer,
	domain.WorkerReviewer, domain.WorkerDocumenter,
}

var knownTypes = map[domain.WorkerType]bool{
	domain.WorkerResearcher: true, domain.WorkerCoder: true, domain.WorkerAnalyst: true,
	domain.WorkerTester: true, domain.WorkerArchitect: true, domain.WorkerReviewer: true,
	domain.WorkerOptimizer: true, domain.WorkerDocumenter: true,
}

// complexityKeywords maps a keyword hit to a complexity floor; the highest
// matching tier wins.
var complexityKeywords = map[string]Complexity{
	"enterprise": ComplexityVeryHigh, "production": ComplexityHigh, "scale": ComplexityHigh,
	"security": ComplexityHigh, "distributed": ComplexityHigh, "migration": ComplexityMedium,
}

var complexityRank = map[Complexity]int{
	ComplexityLow: 0, ComplexityMedium: 1, ComplexityHigh: 2, ComplexityVeryHigh: 3,
}

// AnalyzeObjective derives required capabilities and a complexity tier from
// a free-text objective (spec.md §4.7 analyzeObjective()).
func AnalyzeObjective(objective string) Analysis {
	lower := strings.ToLower(objective)

	complexity := ComplexityLow
	for kw, tier := range complexityKeywords {
		if strings.Contains(lower, kw) && complexityRank[tier] > complexityRank[complexity] {
			complexity = tier
		}
	}

	required := []domain.WorkerType{domain.WorkerResearcher}
	for _, kw := range []struct {
		words []string
		typ   domain.WorkerType
	}{
		{[]string{"document", "guide", "readme"}, domain.WorkerDocumenter},
		{[]string{"api", "backend", "service", "endpoint"}, domain.WorkerCoder},
		{[]string{"frontend", "ui", "interface", "web"}, domain.WorkerCoder},
		{[]string{"database", "data", "storage", "analytics"}, domain.WorkerAnalyst},
		{[]string{"test", "qa", "quality"}, domain.WorkerTester},
	} {
		if containsAny(lower, kw.words) {
			required = appendUnique(required, kw.typ)
		}
	}

	strategy := "balanced"
	if complexity == ComplexityHigh || complexity == ComplexityVeryHigh {
		strategy = "careful-review"
	}

	return Analysis{RequiredCapabilities: required, Complexity: complexity, RecommendedStrategy: strategy}
}

// SelectWorkerTypes implements spec.md §4.7's five-step selection contract.
// explicitFlags, when non-empty, is returned unchanged (step 1).
func SelectWorkerTypes(explicitFlags []domain.WorkerType, objective string, analysis Analysis, analysisFailed bool) []domain.WorkerType {
	if len(explicitFlags) > 0 {
		return explicitFlags
	}

	if analysisFailed {
		return dedupe(append([]domain.WorkerType{domain.WorkerResearcher, domain.WorkerCoder, domain.WorkerTester}, keywordOnlySelection(objective)...))
	}

	lower := strings.ToLower(objective)
	selected := append([]domain.WorkerType{}, analysis.RequiredCapabilities...)
	selected = applyKeywordRules(selected, lower, analysis.Complexity)
	selected = appendUnique(selected, domain.WorkerResearcher)

	filtered := make([]domain.WorkerType, 0, len(selected))
	for _, t := range selected {
		if knownTypes[t] {
			filtered = appendUnique(filtered, t)
		}
	}

	if len(filtered) < 3 {
		for _, t := range []domain.WorkerType{domain.WorkerResearcher, domain.WorkerCoder, domain.WorkerTester} {
			if len(filtered) >= 3 {
				break
			}
			filtered = appendUnique(filtered, t)
		}
	}

	if len(filtered) > 8 {
		ordered := make([]domain.WorkerType, 0, 8)
		for _, t := range analysis.RequiredCapabilities {
			ordered = appendUnique(ordered, t)
		}
		for _, t := range priorityOrder {
			ordered = appendUnique(ordered, t)
		}
		present := make(map[domain.WorkerType]bool, len(filtered))
		for _, t := range filtered {
			present[t] = true
		}
		trimmed := make([]domain.WorkerType, 0, 8)
		for _, t := range ordered {
			if present[t] {
				trimmed = append(trimmed, t)
			}
			if len(trimmed) == 8 {
				break
			}
		}
		filtered = trimmed
	}

	return filtered
}

// ExpandToCount adjusts a selection to exactly count entries where count > 0:
// truncating the excess, or padding from the fixed priority order (spec.md
// §4.7 step 4's ordering) when the selection falls short (spec.md §8
// Scenario 1: maxWorkers caps/pads the worker set spawned for a swarm, a
// detail the selector's own contract in §4.7 leaves to the caller since it
// never takes maxWorkers as input).
func ExpandToCount(selected []domain.WorkerType, count int) []domain.WorkerType {
	if count <= 0 {
		return selected
	}
	out := append([]domain.WorkerType{}, selected...)
	if len(out) > count {
		return out[:count]
	}
	for _, t := range priorityOrder {
		if len(out) >= count {
			break
		}
		out = appendUnique(out, t)
	}
	return out
}

func applyKeywordRules(selected []domain.WorkerType, lower string, complexity Complexity) []domain.WorkerType {
	if containsAny(lower, []string{"document", "guide", "readme"}) {
		selected = appendUnique(selected, domain.WorkerDocumenter)
	}
	if containsAny(lower, []string{"review", "audit", "refactor"}) || complexity != ComplexityLow {
		selected = appendUnique(selected, domain.WorkerReviewer)
	}
	if containsAny(lower, []string{"enterprise", "production", "scale", "security"}) {
		selected = appendUnique(selected, domain.WorkerArchitect, domain.WorkerOptimizer, domain.WorkerTester)
	}
	if containsAny(lower, []string{"api", "backend", "service", "endpoint"}) {
		selected = appendUnique(selected, domain.WorkerCoder, domain.WorkerTester)
	}
	if containsAny(lower, []string{"frontend", "ui", "interface", "web"}) {
		selected = appendUnique(selected, domain.WorkerCoder, domain.WorkerReviewer)
	}
	if containsAny(lower, []string{"database", "data", "storage", "analytics"}) {
		selected = appendUnique(selected, domain.WorkerAnalyst, domain.WorkerArchitect)
	}
	return selected
}

// keywordOnlySelection is the fallback path of spec.md §4.7 step 5: when
// the queen's analysis fails, selection is seeded with
// {researcher, coder, tester} and keyword rules only.
func keywordOnlySelection(objective string) []domain.WorkerType {
	return applyKeywordRules(nil, strings.ToLower(objective), ComplexityLow)
}

// containsAny reports whether any of words occurs at the start of a word in
// haystack, so a short keyword such as "ui" does not match inside "build".
func containsAny(haystack string, words []string) bool {
	for _, w := range words {
		for i := 0; i+len(w) <= len(haystack); i++ {
			if haystack[i:i+len(w)] != w {
				continue
			}
			if i > 0 {
				if c := haystack[i-1]; c >= 'a' && c <= 'z' || c >= '0' && c <= '9' {
					continue
				}
			}
			return true
		}
	}
	return false
}

func appendUnique(list []domain.WorkerType, items ...domain.WorkerType) []domain.WorkerType {
	for _, item := range items {
		found := false
		for _, existing := range list {
			if existing == item {
				found = true
				break
			}
		}
		if !found {
			list = append(list, item)
		}
	}
	return list
}

func dedupe(list []domain.WorkerType) []domain.WorkerType {
	return appendUnique(nil, list...)
}
