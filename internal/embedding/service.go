package embedding

import (
	"context"
	"log/slog"
	"time"

	"github.com/astroline/destinyai/internal/config"
	"github.com/astroline/destinyai/internal/metrics"
)

// Embedder is the single-text embedding call; *llm.Client satisfies it.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string, timeout time.Duration) ([]float32, error)
}

type Options struct {
	Dimension  int
	BatchSize  int
	ItemDelay  time.Duration // between items of one batch
	BatchDelay time.Duration // between batches
	Timeout    time.Duration // per item; zero uses the client default
}

func OptionsFromConfig(cfg config.EmbeddingConfig) Options {
	return Options{
		Dimension:  cfg.Dimension,
		BatchSize:  cfg.BatchSize,
		ItemDelay:  cfg.ItemDelay,
		BatchDelay: cfg.BatchDelay,
	}
}

// Service embeds texts sequentially in rate-limited batches.
type Service struct {
	embedder Embedder
	opts     Options
	sleep    func(context.Context, time.Duration) error
	log      *slog.Logger
}

func NewService(e Embedder, opts Options) *Service {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	return &Service{embedder: e, opts: opts, sleep: sleepCtx, log: slog.Default()}
}

func (s *Service) Dimension() int { return s.opts.Dimension }

// Batches returns how many batches n texts are split into.
func (s *Service) Batches(n int) int {
	if n <= 0 {
		return 0
	}
	return (n + s.opts.BatchSize - 1) / s.opts.BatchSize
}

// Result pairs the vectors with which positions fell back to zero.
type Result struct {
	Vectors   [][]float32
	Fallbacks []int
}

// GenerateEmbeddings always returns exactly len(texts) vectors in input
// order. A text whose embedding fails gets the zero vector. Cancelling ctx
// stops further calls; remaining positions are zero-filled.
func (s *Service) GenerateEmbeddings(ctx context.Context, texts []string) Result {
	res := Result{Vectors: make([][]float32, len(texts))}

	for b := 0; b < s.Batches(len(texts)); b++ {
		if b > 0 {
			_ = s.sleep(ctx, s.opts.BatchDelay)
		}
		start := b * s.opts.BatchSize
		end := min(start+s.opts.BatchSize, len(texts))

		for i := start; i < end; i++ {
			if i > start {
				_ = s.sleep(ctx, s.opts.ItemDelay)
			}
			vec, err := s.embedOne(ctx, texts[i])
			if err != nil {
				s.log.Warn("embedding failed, using zero vector",
					"index", i,
					"batch", b,
					"error", err,
				)
				metrics.EmbeddingFallbacks.Inc()
				vec = make([]float32, s.opts.Dimension)
				res.Fallbacks = append(res.Fallbacks, i)
			}
			res.Vectors[i] = vec
		}
	}
	return res
}

func (s *Service) embedOne(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.embedder.GenerateEmbedding(ctx, text, s.opts.Timeout)
}

// IsZero reports whether v is a fallback vector.
func IsZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
