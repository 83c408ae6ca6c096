package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/astroline/destinyai/internal/config"
	"github.com/astroline/destinyai/internal/metrics"
)

const (
	OpGenerateText      = "generate_text"
	OpGenerateEmbedding = "generate_embedding"
)

var defaultModels = map[string]string{
	"openai":    "gpt-4o-mini",
	"anthropic": "claude-3-haiku-20240307",
	"ollama":    "llama3",
}

// ClientOptions wires a Client. Only Primary is required.
type ClientOptions struct {
	Primary        Provider
	Model          string
	EmbeddingModel string
	Fallback       Provider // tried once the primary exhausts its attempts
	FallbackModel  string
	Policy         RetryPolicy
	Dimension      int // expected embedding length; 0 skips the check
	TextTimeout    time.Duration
	EmbedTimeout   time.Duration
	Usage          UsageRecorder
	Logger         *slog.Logger
}

// Client is the resilient facade every component uses to reach a model.
// It is built once per process and shared by reference.
type Client struct {
	opts  ClientOptions
	sleep func(context.Context, time.Duration) error
	log   *slog.Logger
}

func NewClient(opts ClientOptions) *Client {
	if opts.Policy.MaxAttempts <= 0 {
		opts.Policy = DefaultRetryPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{opts: opts, sleep: sleepCtx, log: opts.Logger}
}

// NewClientFromConfig registers the configured providers and picks the
// primary and fallback by name.
func NewClientFromConfig(cfg config.LLMConfig, dimension int, usage UsageRecorder) (*Client, error) {
	providers := make(map[string]Provider)
	if cfg.OpenAIKey != "" {
		providers["openai"] = NewOpenAIProvider(cfg.OpenAIKey)
	}
	if cfg.AnthropicKey != "" {
		providers["anthropic"] = NewAnthropicProvider(cfg.AnthropicKey)
	}
	if cfg.OllamaURL != "" {
		providers["ollama"] = NewOllamaProvider(cfg.OllamaURL)
	}
	for name, p := range providers {
		providers[name] = WithBreaker(p, DefaultBreakerSettings())
	}

	primary, ok := providers[cfg.DefaultProvider]
	if !ok {
		return nil, fmt.Errorf("default provider %q: %w", cfg.DefaultProvider, ErrNoProvider)
	}

	opts := ClientOptions{
		Primary:        primary,
		Model:          cfg.DefaultModel,
		EmbeddingModel: cfg.EmbeddingModel,
		Policy:         RetryPolicy{MaxAttempts: cfg.MaxRetries, BaseDelay: cfg.BaseDelay},
		Dimension:      dimension,
		TextTimeout:    cfg.TextTimeout,
		EmbedTimeout:   cfg.EmbedTimeout,
		Usage:          usage,
	}
	if name := cfg.FallbackProvider; name != "" && name != cfg.DefaultProvider {
		fb, ok := providers[name]
		if !ok {
			return nil, fmt.Errorf("fallback provider %q: %w", name, ErrNoProvider)
		}
		opts.Fallback = fb
		opts.FallbackModel = defaultModels[name]
	}
	return NewClient(opts), nil
}

// GenerateText returns the trimmed model output. A blank output is an
// error. timeout bounds the whole call including retries; zero uses the
// configured default. Cancelling ctx aborts immediately with ErrCancelled.
func (c *Client) GenerateText(ctx context.Context, prompt, systemPrompt string, gen GenerationConfig, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = c.opts.TextTimeout
	}

	type target struct {
		p     Provider
		model string
	}
	targets := []target{{c.opts.Primary, c.opts.Model}}
	if c.opts.Fallback != nil {
		targets = append(targets, target{c.opts.Fallback, c.opts.FallbackModel})
	}

	callCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	var lastErr error
	for i, t := range targets {
		var resp *TextResponse
		attempts, err := c.retry(callCtx, ctx, OpGenerateText, t.p, timeout, func(ctx context.Context) error {
			r, err := t.p.Generate(ctx, TextRequest{
				Model:        t.model,
				SystemPrompt: systemPrompt,
				Prompt:       prompt,
				Config:       gen,
			})
			if err != nil {
				return err
			}
			if strings.TrimSpace(r.Content) == "" {
				return ErrEmptyResponse
			}
			resp = r
			return nil
		})
		if err == nil {
			c.record(ctx, OpGenerateText, attempts, resp.Provider, resp.Model,
				resp.InputTokens, resp.OutputTokens, resp.TotalTokens, resp.CostUSD, resp.LatencyMs)
			return strings.TrimSpace(resp.Content), nil
		}
		lastErr = err
		if callCtx.Err() != nil {
			return "", err
		}
		if i+1 < len(targets) {
			c.log.Warn("primary provider failed, trying fallback",
				"primary", t.p.Name(),
				"fallback", targets[i+1].p.Name(),
				"error", err,
			)
		}
	}
	return "", lastErr
}

// GenerateEmbedding embeds a single text. The fallback provider is not used
// since its vectors would live in a different space.
func (c *Client) GenerateEmbedding(ctx context.Context, text string, timeout time.Duration) ([]float32, error) {
	if timeout <= 0 {
		timeout = c.opts.EmbedTimeout
	}
	callCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	p := c.opts.Primary
	var resp *EmbeddingResponse
	attempts, err := c.retry(callCtx, ctx, OpGenerateEmbedding, p, timeout, func(ctx context.Context) error {
		r, err := p.Embed(ctx, EmbeddingRequest{Model: c.opts.EmbeddingModel, Input: []string{text}})
		if err != nil {
			return err
		}
		if len(r.Embeddings) != 1 {
			return fmt.Errorf("%w: got %d vectors for 1 input", ErrMalformedEmbedding, len(r.Embeddings))
		}
		if c.opts.Dimension > 0 && len(r.Embeddings[0]) != c.opts.Dimension {
			return fmt.Errorf("%w: got dimension %d, want %d", ErrMalformedEmbedding, len(r.Embeddings[0]), c.opts.Dimension)
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.record(ctx, OpGenerateEmbedding, attempts, resp.Provider, resp.Model, resp.Tokens, 0, resp.Tokens, resp.CostUSD, resp.LatencyMs)
	return resp.Embeddings[0], nil
}

// retry runs fn until it succeeds, fails non-retryably, or exhausts the
// policy. callCtx carries the call timeout; parent is the caller's context,
// used to tell cancellation apart from a timeout.
func (c *Client) retry(callCtx, parent context.Context, op string, p Provider, timeout time.Duration, fn func(context.Context) error) (int, error) {
	start := time.Now()
	defer func() {
		metrics.LLMLatency.WithLabelValues(op, p.Name()).Observe(time.Since(start).Seconds())
	}()

	maxAttempts := c.opts.Policy.attempts()
	for attempt := 1; ; attempt++ {
		if callCtx.Err() != nil {
			return attempt - 1, c.aborted(parent, op, p, attempt-1, timeout)
		}

		err := fn(callCtx)
		if err == nil {
			metrics.LLMCalls.WithLabelValues(op, p.Name(), "success").Inc()
			return attempt, nil
		}
		if callCtx.Err() != nil {
			metrics.LLMCalls.WithLabelValues(op, p.Name(), "failure").Inc()
			return attempt, c.aborted(parent, op, p, attempt, timeout)
		}

		f := Classify(err)
		if !f.Retryable || attempt >= maxAttempts {
			metrics.LLMCalls.WithLabelValues(op, p.Name(), "failure").Inc()
			return attempt, &UpstreamError{
				Op:         op,
				Provider:   p.Name(),
				Attempts:   attempt,
				StatusCode: f.StatusCode,
				Code:       f.Code,
				Retryable:  f.Retryable,
				Err:        err,
			}
		}

		metrics.LLMCalls.WithLabelValues(op, p.Name(), "retry").Inc()
		delay := c.opts.Policy.Delay(attempt)
		c.log.Warn("retrying LLM call",
			"operation", op,
			"provider", p.Name(),
			"attempt", attempt,
			"delay", delay,
			"status", f.StatusCode,
			"code", f.Code,
			"error", err,
		)
		if err := c.sleep(callCtx, delay); err != nil {
			return attempt, c.aborted(parent, op, p, attempt, timeout)
		}
	}
}

func (c *Client) aborted(parent context.Context, op string, p Provider, attempts int, timeout time.Duration) error {
	if parent.Err() != nil {
		return fmt.Errorf("%s via %s: %w", op, p.Name(), errors.Join(ErrCancelled, parent.Err()))
	}
	return &UpstreamError{
		Op:       op,
		Provider: p.Name(),
		Attempts: attempts,
		Code:     "ETIMEDOUT",
		Err:      fmt.Errorf("timed out after %s: %w", timeout, context.DeadlineExceeded),
	}
}

func (c *Client) record(ctx context.Context, op string, attempts int, provider, model string, in, out, total int, cost float64, latency int64) {
	if c.opts.Usage == nil {
		return
	}
	c.opts.Usage.RecordUsage(ctx, UsageRecord{
		Operation:    op,
		Provider:     provider,
		Model:        model,
		InputTokens:  in,
		OutputTokens: out,
		TotalTokens:  total,
		CostUSD:      cost,
		LatencyMs:    latency,
		Attempts:     attempts,
		Timestamp:    time.Now().UTC(),
	})
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
