package guardrails

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrRejected is returned by Pipeline.Screen when a check blocks the text.
var ErrRejected = errors.New("question rejected")

// Verdict holds the outcome of a check.
type Verdict struct {
	Allowed bool               `json:"allowed"`
	Flags   []string           `json:"flags,omitempty"`
	Scores  map[string]float64 `json:"scores,omitempty"`
	Reason  string             `json:"reason,omitempty"`
}

// Guardrail is a check applied to user questions before any quota or model
// time is spent on them.
type Guardrail interface {
	Check(ctx context.Context, text string) (*Verdict, error)
	Name() string
}

// RejectedError carries the verdict that blocked a question.
type RejectedError struct {
	Verdict *Verdict
}

func (e *RejectedError) Error() string { return e.Verdict.Reason }
func (e *RejectedError) Unwrap() error { return ErrRejected }

// Pipeline chains guardrails. Every check runs so flags from all of them are
// reported.
type Pipeline struct {
	guards []Guardrail
}

func NewPipeline(guards ...Guardrail) *Pipeline {
	return &Pipeline{guards: guards}
}

func (p *Pipeline) Add(g Guardrail) {
	p.guards = append(p.guards, g)
}

// Check runs all guardrails and merges their verdicts.
func (p *Pipeline) Check(ctx context.Context, text string) (*Verdict, error) {
	combined := &Verdict{
		Allowed: true,
		Scores:  make(map[string]float64),
	}

	for _, g := range p.guards {
		v, err := g.Check(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("guardrail %s: %w", g.Name(), err)
		}
		if !v.Allowed && combined.Allowed {
			combined.Allowed = false
			combined.Reason = fmt.Sprintf("blocked by %s: %s", g.Name(), v.Reason)
		}
		combined.Flags = append(combined.Flags, v.Flags...)
		for k, s := range v.Scores {
			combined.Scores[k] = s
		}
	}

	return combined, nil
}

// Screen is Check with a blocked verdict turned into a *RejectedError.
func (p *Pipeline) Screen(ctx context.Context, text string) error {
	v, err := p.Check(ctx, text)
	if err != nil {
		return err
	}
	if !v.Allowed {
		return &RejectedError{Verdict: v}
	}
	return nil
}

// QuestionPipeline builds the screen used on the question path.
func QuestionPipeline(maxRunes int) *Pipeline {
	return NewPipeline(
		NewLengthGuard(maxRunes),
		NewPromptInjectionDetector(),
		NewContentFilter(),
	)
}

// LengthGuard rejects blank text and text longer than maxRunes.
type LengthGuard struct {
	maxRunes int
}

func NewLengthGuard(maxRunes int) *LengthGuard {
	return &LengthGuard{maxRunes: maxRunes}
}

func (g *LengthGuard) Name() string { return "length" }

func (g *LengthGuard) Check(_ context.Context, text string) (*Verdict, error) {
	if strings.TrimSpace(text) == "" {
		return &Verdict{Reason: "question is empty", Flags: []string{"empty"}}, nil
	}
	if n := utf8.RuneCountInString(text); n > g.maxRunes {
		return &Verdict{
			Reason: fmt.Sprintf("question exceeds %d characters", g.maxRunes),
			Flags:  []string{"too_long"},
		}, nil
	}
	return &Verdict{Allowed: true}, nil
}
