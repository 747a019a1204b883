package entity

import "strings"

// AnalysisResult is produced per surviving item after the Analyzer filters,
// classifies, and summarizes a window of items against market context.
type AnalysisResult struct {
	Time            string
	Category        string
	WeightScore     int
	Title           string
	Body            string
	Source          string
	RelatedSources  []string
}

// UncategorizedLabel is substituted for an empty category after trimming.
const UncategorizedLabel = "Uncategorized"

// NormalizeCategory trims whitespace and substitutes UncategorizedLabel for
// an empty result. Casing is preserved deliberately; downstream readers
// expect stable casing, not a forced downcase.
func NormalizeCategory(category string) string {
	trimmed := strings.Join(strings.Fields(category), " ")
	if trimmed == "" {
		return UncategorizedLabel
	}
	return trimmed
}

// ClampWeightScore enforces the [0, 100] invariant.
func ClampWeightScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
