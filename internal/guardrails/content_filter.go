package guardrails

import (
	"context"
	"sort"
	"strings"
)

// ContentFilter blocks questions in categories a reading must not answer,
// using keyword heuristics.
type ContentFilter struct {
	blockedCategories map[string][]string
}

func NewContentFilter() *ContentFilter {
	return &ContentFilter{
		blockedCategories: map[string][]string{
			"violence": {
				"how to make a bomb", "how to make explosives",
				"how to harm", "how to kill",
			},
			"illegal": {
				"how to hack into", "how to steal",
				"how to counterfeit", "how to forge",
			},
			"self_harm": {
				"kill myself", "end my life", "suicide method",
			},
		},
	}
}

func (f *ContentFilter) Name() string { return "content_filter" }

func (f *ContentFilter) Check(_ context.Context, text string) (*Verdict, error) {
	lower := strings.ToLower(text)

	categories := make([]string, 0, len(f.blockedCategories))
	for c := range f.blockedCategories {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	for _, category := range categories {
		for _, p := range f.blockedCategories[category] {
			if strings.Contains(lower, p) {
				return &Verdict{
					Reason: "content policy violation: " + category,
					Flags:  []string{"blocked_" + category},
					Scores: map[string]float64{category: 1.0},
				}, nil
			}
		}
	}

	return &Verdict{Allowed: true}, nil
}
