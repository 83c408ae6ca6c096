package guardrails

import (
	"context"
	"strings"
)

// injectionThreshold is the score at or above which a question is blocked.
const injectionThreshold = 0.7

type injectionPattern struct {
	pattern string
	weight  float64
	flag    string
}

var injectionPatterns = []injectionPattern{
	{"ignore previous instructions", 0.9, "override_attempt"},
	{"ignore all previous", 0.9, "override_attempt"},
	{"ignore the above", 0.85, "override_attempt"},
	{"disregard your instructions", 0.9, "override_attempt"},
	{"forget your instructions", 0.85, "override_attempt"},
	{"you are now", 0.7, "role_hijack"},
	{"pretend you are", 0.7, "role_hijack"},
	{"act as if you", 0.6, "role_hijack"},
	{"system prompt", 0.8, "system_leak"},
	{"reveal your system", 0.8, "system_leak"},
	{"show me your prompt", 0.8, "system_leak"},
	{"what are your instructions", 0.7, "system_leak"},
	{"repeat the context above", 0.75, "context_leak"},
	{"print the report excerpts", 0.6, "context_leak"},
	{"ignore safety", 0.9, "safety_bypass"},
	{"bypass your filters", 0.9, "safety_bypass"},
	{"jailbreak", 0.9, "jailbreak"},
	{"dan mode", 0.9, "jailbreak"},
	{"do anything now", 0.85, "jailbreak"},
	{"</system>", 0.8, "tag_injection"},
	{"<system>", 0.8, "tag_injection"},
	{"[system]", 0.7, "tag_injection"},
	{"follow_ups:", 0.7, "format_injection"},
	{"### instruction", 0.6, "format_injection"},
	{"```system", 0.7, "format_injection"},
}

// PromptInjectionDetector scores text against known injection phrases. The
// score is the highest matching weight.
type PromptInjectionDetector struct {
	patterns []injectionPattern
}

func NewPromptInjectionDetector() *PromptInjectionDetector {
	return &PromptInjectionDetector{patterns: injectionPatterns}
}

func (d *PromptInjectionDetector) Name() string { return "prompt_injection" }

func (d *PromptInjectionDetector) Check(_ context.Context, text string) (*Verdict, error) {
	score, flags := d.score(text)
	if score >= injectionThreshold {
		return &Verdict{
			Reason: "potential prompt injection detected",
			Flags:  flags,
			Scores: map[string]float64{"injection_score": score},
		}, nil
	}
	return &Verdict{Allowed: true, Flags: flags}, nil
}

func (d *PromptInjectionDetector) score(text string) (float64, []string) {
	lower := strings.ToLower(text)
	var flags []string
	score := 0.0

	for _, p := range d.patterns {
		if strings.Contains(lower, p.pattern) {
			if p.weight > score {
				score = p.weight
			}
			flags = append(flags, p.flag)
		}
	}

	return score, flags
}
