package rag

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astroline/destinyai/internal/cache"
	"github.com/astroline/destinyai/internal/embedding"
	"github.com/astroline/destinyai/internal/llm"
	"github.com/astroline/destinyai/internal/models"
	"github.com/astroline/destinyai/internal/vectorstore"
	"github.com/astroline/destinyai/pkg/chunker"
)

type fakeBatchEmbedder struct {
	dim     int
	calls   int
	failIdx map[int]bool
	panics  bool
}

func (f *fakeBatchEmbedder) Dimension() int { return f.dim }

func (f *fakeBatchEmbedder) GenerateEmbeddings(_ context.Context, texts []string) embedding.Result {
	f.calls++
	if f.panics {
		panic("boom")
	}
	res := embedding.Result{Vectors: make([][]float32, len(texts))}
	for i := range texts {
		v := make([]float32, f.dim)
		if f.failIdx[i] {
			res.Fallbacks = append(res.Fallbacks, i)
		} else {
			v[0] = 1
		}
		res.Vectors[i] = v
	}
	return res
}

type fakeChunkWriter struct {
	writes int
	chunks []models.ReportChunk
	err    error
}

func (f *fakeChunkWriter) InsertChunks(_ context.Context, chunks []models.ReportChunk) error {
	f.writes++
	f.chunks = append(f.chunks, chunks...)
	return f.err
}

var testChunkOpts = chunker.ChunkOptions{ChunkSize: 200, ChunkOverlap: 40, MinChunk: 40}

const sampleReport = `## Career
This year brings a promotion after steady effort. Colleagues notice your patience. A mentor appears in spring.
Keep your commitments small and reliable.

## Love
Existing bonds deepen through honest conversation. New connections form around shared work. Summer is warm.
Guard against impatience in autumn.`

func TestProcessReportChunks_BlankTextIsNoop(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\t"} {
		emb := &fakeBatchEmbedder{dim: 4}
		store := &fakeChunkWriter{}
		stats := NewIngestor(store, emb, testChunkOpts).ProcessReportChunks(context.Background(), uuid.New(), text)

		assert.Zero(t, emb.calls)
		assert.Zero(t, store.writes)
		assert.Equal(t, IngestStats{}, stats)
	}
}

func TestProcessReportChunks_StoresAllChunksInOneWrite(t *testing.T) {
	reportID := uuid.New()
	emb := &fakeBatchEmbedder{dim: 4, failIdx: map[int]bool{1: true}}
	store := &fakeChunkWriter{}

	stats := NewIngestor(store, emb, testChunkOpts).ProcessReportChunks(context.Background(), reportID, sampleReport)
	require.False(t, stats.Failed)
	assert.Equal(t, 1, emb.calls)
	assert.Equal(t, 1, store.writes)
	require.Equal(t, stats.Chunks, len(store.chunks))
	require.Greater(t, stats.Chunks, 1)
	assert.Equal(t, 1, stats.Fallbacks)
	assert.Equal(t, stats.Chunks-1, stats.Embedded)

	for i, c := range store.chunks {
		assert.Equal(t, reportID, c.ReportID)
		assert.Equal(t, i, c.ChunkIndex)
		assert.Len(t, c.Embedding, 4)
		assert.Equal(t, i != 1, c.Embedded)
		assert.NotEmpty(t, c.Metadata.Section)
		assert.Greater(t, c.Metadata.EndChar, c.Metadata.StartChar)
	}
	assert.Equal(t, "Career", store.chunks[0].Metadata.Section)
	assert.Equal(t, "Love", store.chunks[len(store.chunks)-1].Metadata.Section)
}

func TestProcessReportChunks_FailuresAreSwallowed(t *testing.T) {
	t.Run("store error", func(t *testing.T) {
		store := &fakeChunkWriter{err: errors.New("db down")}
		stats := NewIngestor(store, &fakeBatchEmbedder{dim: 4}, testChunkOpts).
			ProcessReportChunks(context.Background(), uuid.New(), sampleReport)
		assert.True(t, stats.Failed)
	})

	t.Run("panic", func(t *testing.T) {
		store := &fakeChunkWriter{}
		var stats IngestStats
		assert.NotPanics(t, func() {
			stats = NewIngestor(store, &fakeBatchEmbedder{dim: 4, panics: true}, testChunkOpts).
				ProcessReportChunks(context.Background(), uuid.New(), sampleReport)
		})
		assert.True(t, stats.Failed)
		assert.Zero(t, store.writes)
	})
}

type fakeQueryEmbedder struct {
	calls int
	err   error
}

func (f *fakeQueryEmbedder) GenerateEmbedding(_ context.Context, _ string, _ time.Duration) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2}, nil
}

type fakeSearcher struct {
	gotOpts vectorstore.SearchOptions
	results []vectorstore.SearchResult
}

func (f *fakeSearcher) SimilaritySearch(_ context.Context, _ uuid.UUID, _ []float32, opts vectorstore.SearchOptions) ([]vectorstore.SearchResult, error) {
	f.gotOpts = opts
	return f.results, nil
}

type memoryCache struct {
	data map[string][]float32
}

func (m *memoryCache) Get(_ context.Context, key string, dest any) error {
	v, ok := m.data[key]
	if !ok {
		return cache.ErrMiss
	}
	*dest.(*[]float32) = v
	return nil
}

func (m *memoryCache) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.data[key] = value.([]float32)
	return nil
}

func TestSearchContextChunks_UsesQueryCache(t *testing.T) {
	emb := &fakeQueryEmbedder{}
	store := &fakeSearcher{results: []vectorstore.SearchResult{{ChunkID: uuid.New(), Content: "x", Similarity: 0.9}}}
	mc := &memoryCache{data: map[string][]float32{}}
	r := NewRetriever(store, emb, mc, RetrieverOptions{Model: "m"})

	for i := 0; i < 3; i++ {
		res, err := r.SearchContextChunks(context.Background(), uuid.New(), " When will I marry? ", 5, 0.3)
		require.NoError(t, err)
		assert.Len(t, res, 1)
	}
	assert.Equal(t, 1, emb.calls)
	assert.Equal(t, vectorstore.SearchOptions{Limit: 5, MinSimilarity: 0.3}, store.gotOpts)
}

func TestSearchContextChunks_EmbedError(t *testing.T) {
	r := NewRetriever(&fakeSearcher{}, &fakeQueryEmbedder{err: llm.ErrEmptyResponse}, nil, RetrieverOptions{})
	_, err := r.SearchContextChunks(context.Background(), uuid.New(), "q", 5, 0.3)
	require.ErrorIs(t, err, llm.ErrEmptyResponse)
}

func TestValidateExtractAndCite(t *testing.T) {
	good := vectorstore.SearchResult{
		ChunkID:    uuid.New(),
		ChunkIndex: 2,
		Content:    strings.Repeat("星", 200),
		Metadata:   models.ChunkMetadata{Section: "Career"},
		Similarity: 0.82,
	}
	results := []vectorstore.SearchResult{
		good,
		{ChunkID: uuid.Nil, Content: "orphan"},
		{ChunkID: uuid.New(), Content: "  "},
		{ChunkID: uuid.New(), Content: "second", Similarity: 0.5},
	}

	valid := ValidateSearchResults(results)
	require.Len(t, valid, 2)
	assert.Len(t, ExtractContextChunks(valid, 1), 1)
	assert.Len(t, ExtractContextChunks(valid, 10), 2)

	cites := FormatCitations(valid)
	require.Len(t, cites, 2)
	assert.Equal(t, 1, cites[0].Ref)
	assert.Equal(t, good.ChunkID, cites[0].ChunkID)
	assert.Equal(t, "Career", cites[0].Section)
	assert.True(t, strings.HasSuffix(cites[0].Excerpt, "..."))
	assert.Equal(t, "second", cites[1].Excerpt)
}

type fakeTextGen struct {
	out       string
	gotPrompt string
	gotSystem string
}

func (f *fakeTextGen) GenerateText(_ context.Context, prompt, system string, _ llm.GenerationConfig, _ time.Duration) (string, error) {
	f.gotPrompt, f.gotSystem = prompt, system
	return f.out, nil
}

func TestGenerator_Answer(t *testing.T) {
	gen := &fakeTextGen{out: "Spring favours a move [1].\n\nFOLLOW_UPS:\n- Which month is best?\n2. What about money?\n- Should I wait?\n- Extra one"}
	g := NewGenerator(gen, time.Second)

	ans, err := g.Answer(context.Background(), AnswerRequest{
		ReportTitle: "Your 2026 Forecast",
		Question:    "When should I move?",
		Context:     []vectorstore.SearchResult{{Content: "Spring is active.", Metadata: models.ChunkMetadata{Section: "Home"}}},
		History:     []models.Message{{Role: models.RoleUser, Content: "Hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Spring favours a move [1].", ans.Text)
	assert.Equal(t, []string{"Which month is best?", "What about money?", "Should I wait?"}, ans.FollowUps)
	assert.Contains(t, gen.gotPrompt, "[1] (Home)")
	assert.Contains(t, gen.gotPrompt, "user: Hi")
	assert.Contains(t, gen.gotSystem, "Your 2026 Forecast")
}

func TestSplitFollowUps_NoBlock(t *testing.T) {
	text, fu := splitFollowUps("  Just an answer.  ")
	assert.Equal(t, "Just an answer.", text)
	assert.Nil(t, fu)
}
