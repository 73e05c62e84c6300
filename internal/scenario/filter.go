package scenario

import "strings"

// Filter selects scenarios by id and category. Empty filters select all.
// A category pattern ending in "/*" matches every category under that prefix.
func Filter(scenarios []Scenario, ids []string, category string) []Scenario {
	if len(ids) == 0 && category == "" {
		return scenarios
	}
	var filtered []Scenario
	for _, sc := range scenarios {
		if len(ids) > 0 && !contains(ids, sc.ID) {
			continue
		}
		if category != "" && !MatchCategory(sc.Category, category) {
			continue
		}
		filtered = append(filtered, sc)
	}
	return filtered
}

// MatchCategory reports whether category matches pattern.
func MatchCategory(category, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "/*")
		return strings.HasPrefix(category, prefix+"/")
	}
	return category == pattern
}
