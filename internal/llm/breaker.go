package llm

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerSettings configures the per-provider circuit breaker.
type BreakerSettings struct {
	ConsecutiveFailures uint32        // trips the breaker
	OpenTimeout         time.Duration // how long it stays open before probing
}

func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{ConsecutiveFailures: 5, OpenTimeout: 30 * time.Second}
}

// breakerProvider fails fast while its upstream is known to be down. Only
// transient failures count against it: a bad request or a cancelled call
// says nothing about provider health.
type breakerProvider struct {
	Provider
	cb *gobreaker.CircuitBreaker
}

// WithBreaker wraps p in a circuit breaker.
func WithBreaker(p Provider, s BreakerSettings) Provider {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        p.Name(),
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= s.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			return !IsRetryable(err)
		},
	})
	return &breakerProvider{Provider: p, cb: cb}
}

func (b *breakerProvider) Generate(ctx context.Context, req TextRequest) (*TextResponse, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.Provider.Generate(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return out.(*TextResponse), nil
}

func (b *breakerProvider) Embed(ctx context.Context, req EmbeddingRequest) (*EmbeddingResponse, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.Provider.Embed(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return out.(*EmbeddingResponse), nil
}
