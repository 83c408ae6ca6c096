package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/astroline/destinyai/internal/cache"
	"github.com/astroline/destinyai/internal/metrics"
	"github.com/astroline/destinyai/internal/vectorstore"
)

type QueryEmbedder interface {
	GenerateEmbedding(ctx context.Context, text string, timeout time.Duration) ([]float32, error)
}

type ChunkSearcher interface {
	SimilaritySearch(ctx context.Context, reportID uuid.UUID, query []float32, opts vectorstore.SearchOptions) ([]vectorstore.SearchResult, error)
}

// EmbeddingCache is satisfied by *cache.Cache.
type EmbeddingCache interface {
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

type RetrieverOptions struct {
	Model    string // part of the cache key so a model switch never serves stale vectors
	CacheTTL time.Duration
}

type Retriever struct {
	store    ChunkSearcher
	embedder QueryEmbedder
	cache    EmbeddingCache
	opts     RetrieverOptions
	log      *slog.Logger
}

// NewRetriever builds a Retriever; c may be nil to disable query caching.
func NewRetriever(store ChunkSearcher, embedder QueryEmbedder, c EmbeddingCache, opts RetrieverOptions) *Retriever {
	return &Retriever{store: store, embedder: embedder, cache: c, opts: opts, log: slog.Default()}
}

// SearchContextChunks returns the report's chunks most similar to query,
// ordered by descending similarity and filtered by threshold.
func (r *Retriever) SearchContextChunks(ctx context.Context, reportID uuid.UUID, query string, limit int, threshold float64) ([]vectorstore.SearchResult, error) {
	vec, err := r.embedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results, err := r.store.SimilaritySearch(ctx, reportID, vec, vectorstore.SearchOptions{
		Limit:         limit,
		MinSimilarity: threshold,
	})
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	return results, nil
}

func (r *Retriever) embedQuery(ctx context.Context, query string) ([]float32, error) {
	query = strings.TrimSpace(query)
	if r.cache == nil {
		return r.embedder.GenerateEmbedding(ctx, query, 0)
	}

	key := cache.Key("qemb", r.opts.Model, query)
	var vec []float32
	switch err := r.cache.Get(ctx, key, &vec); {
	case err == nil && len(vec) > 0:
		metrics.EmbeddingCacheLookups.WithLabelValues("hit").Inc()
		return vec, nil
	case err != nil && !errors.Is(err, cache.ErrMiss):
		r.log.Warn("query embedding cache read failed", "error", err)
	}
	metrics.EmbeddingCacheLookups.WithLabelValues("miss").Inc()

	vec, err := r.embedder.GenerateEmbedding(ctx, query, 0)
	if err != nil {
		return nil, err
	}
	if err := r.cache.Set(ctx, key, vec, r.opts.CacheTTL); err != nil {
		r.log.Warn("query embedding cache write failed", "error", err)
	}
	return vec, nil
}

// ValidateSearchResults drops records missing an id or content.
func ValidateSearchResults(results []vectorstore.SearchResult) []vectorstore.SearchResult {
	valid := make([]vectorstore.SearchResult, 0, len(results))
	for _, r := range results {
		if r.ChunkID == uuid.Nil || strings.TrimSpace(r.Content) == "" {
			continue
		}
		valid = append(valid, r)
	}
	return valid
}

// ExtractContextChunks keeps at most limit results.
func ExtractContextChunks(results []vectorstore.SearchResult, limit int) []vectorstore.SearchResult {
	if limit < 0 || len(results) <= limit {
		return results
	}
	return results[:limit]
}

type Citation struct {
	Ref        int       `json:"ref"` // 1-based, matches [n] markers in the answer
	ChunkID    uuid.UUID `json:"chunk_id"`
	ChunkIndex int       `json:"chunk_index"`
	Section    string    `json:"section,omitempty"`
	Similarity float64   `json:"similarity"`
	Excerpt    string    `json:"excerpt"`
}

const excerptLen = 160

func FormatCitations(results []vectorstore.SearchResult) []Citation {
	citations := make([]Citation, len(results))
	for i, r := range results {
		citations[i] = Citation{
			Ref:        i + 1,
			ChunkID:    r.ChunkID,
			ChunkIndex: r.ChunkIndex,
			Section:    r.Metadata.Section,
			Similarity: r.Similarity,
			Excerpt:    truncate(r.Content, excerptLen),
		}
	}
	return citations
}

func truncate(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return strings.TrimSpace(string(runes[:maxRunes])) + "..."
}
