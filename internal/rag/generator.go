package rag

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/astroline/destinyai/internal/llm"
	"github.com/astroline/destinyai/internal/models"
	"github.com/astroline/destinyai/internal/prompt"
	"github.com/astroline/destinyai/internal/vectorstore"
)

// TextGenerator is satisfied by *llm.Client.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt, systemPrompt string, gen llm.GenerationConfig, timeout time.Duration) (string, error)
}

const maxFollowUps = 3

var listMarker = regexp.MustCompile(`^(?:[-*•]|\d+[.)])\s*`)

type Generator struct {
	llm     TextGenerator
	config  llm.GenerationConfig
	timeout time.Duration
}

func NewGenerator(g TextGenerator, timeout time.Duration) *Generator {
	return &Generator{
		llm:     g,
		config:  llm.GenerationConfig{Temperature: 0.4, MaxOutputTokens: 800},
		timeout: timeout,
	}
}

type AnswerRequest struct {
	ReportTitle string
	Question    string
	Context     []vectorstore.SearchResult
	History     []models.Message
}

type Answer struct {
	Text      string
	FollowUps []string
}

func (g *Generator) Answer(ctx context.Context, req AnswerRequest) (*Answer, error) {
	system, user, err := prompt.QuestionAnswer.Build(map[string]string{
		"report_title": req.ReportTitle,
		"context":      buildContext(req.Context),
		"history":      buildHistory(req.History),
		"question":     req.Question,
	})
	if err != nil {
		return nil, err
	}

	raw, err := g.llm.GenerateText(ctx, user, system, g.config, g.timeout)
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	text, followUps := splitFollowUps(raw)
	if text == "" {
		return nil, fmt.Errorf("generate answer: %w", llm.ErrEmptyResponse)
	}
	return &Answer{Text: text, FollowUps: followUps}, nil
}

func buildContext(results []vectorstore.SearchResult) string {
	var sb strings.Builder
	for i, r := range results {
		if r.Metadata.Section != "" {
			fmt.Fprintf(&sb, "[%d] (%s)\n%s\n\n", i+1, r.Metadata.Section, r.Content)
			continue
		}
		fmt.Fprintf(&sb, "[%d]\n%s\n\n", i+1, r.Content)
	}
	return sb.String()
}

func buildHistory(messages []models.Message) string {
	if len(messages) == 0 {
		return "(none)\n"
	}
	var sb strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
	}
	return sb.String()
}

// splitFollowUps separates the answer from a trailing FOLLOW_UPS block.
func splitFollowUps(raw string) (string, []string) {
	idx := strings.LastIndex(raw, "FOLLOW_UPS:")
	if idx < 0 {
		return strings.TrimSpace(raw), nil
	}

	answer := strings.TrimSpace(raw[:idx])
	var followUps []string
	for _, line := range strings.Split(raw[idx+len("FOLLOW_UPS:"):], "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimSpace(listMarker.ReplaceAllString(line, ""))
		if line == "" {
			continue
		}
		followUps = append(followUps, line)
		if len(followUps) == maxFollowUps {
			break
		}
	}
	return answer, followUps
}
