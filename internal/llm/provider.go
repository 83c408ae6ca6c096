package llm

import (
	"context"
	"time"
)

// Provider abstracts a remote model backend (OpenAI, Anthropic, Ollama).
// Implementations make exactly one upstream call per method invocation;
// retries, timeouts and fallback live in Client.
type Provider interface {
	Generate(ctx context.Context, req TextRequest) (*TextResponse, error)
	Embed(ctx context.Context, req EmbeddingRequest) (*EmbeddingResponse, error)
	Name() string
}

// GenerationConfig carries sampling parameters. Zero values leave the
// provider default in place.
type GenerationConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	TopP            float64 `json:"top_p,omitempty"`
	TopK            int     `json:"top_k,omitempty"`
	MaxOutputTokens int     `json:"max_output_tokens,omitempty"`
}

type TextRequest struct {
	Model        string
	SystemPrompt string
	Prompt       string
	Config       GenerationConfig
}

type TextResponse struct {
	ID           string
	Provider     string
	Model        string
	Content      string
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	CostUSD      float64
	LatencyMs    int64
}

type EmbeddingRequest struct {
	Model string
	Input []string
}

type EmbeddingResponse struct {
	Provider   string
	Model      string
	Embeddings [][]float32
	Tokens     int
	CostUSD    float64
	LatencyMs  int64
}

// UsageRecord describes one successful upstream call for cost tracking.
type UsageRecord struct {
	Operation    string
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	CostUSD      float64
	LatencyMs    int64
	Attempts     int
	Timestamp    time.Time
}

// UsageRecorder receives a record after each successful call.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, rec UsageRecord)
}
