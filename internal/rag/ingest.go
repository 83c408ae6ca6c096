package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/astroline/destinyai/internal/embedding"
	"github.com/astroline/destinyai/internal/metrics"
	"github.com/astroline/destinyai/internal/models"
	"github.com/astroline/destinyai/pkg/chunker"
)

type ChunkWriter interface {
	InsertChunks(ctx context.Context, chunks []models.ReportChunk) error
}

type BatchEmbedder interface {
	GenerateEmbeddings(ctx context.Context, texts []string) embedding.Result
	Dimension() int
}

// IngestStats summarises one ingestion run. It is informational only.
type IngestStats struct {
	Chunks    int
	Embedded  int
	Fallbacks int
	Failed    bool
	Duration  time.Duration
}

// Ingestor turns a finished report into searchable chunks.
type Ingestor struct {
	store    ChunkWriter
	embedder BatchEmbedder
	chunker  chunker.Chunker
	opts     chunker.ChunkOptions
	log      *slog.Logger
}

func NewIngestor(store ChunkWriter, embedder BatchEmbedder, opts chunker.ChunkOptions) *Ingestor {
	return &Ingestor{
		store:    store,
		embedder: embedder,
		chunker:  chunker.New(),
		opts:     opts,
		log:      slog.Default(),
	}
}

// ProcessReportChunks chunks, embeds and stores the report text. It never
// fails its caller: every error, including a panic, is logged and reflected
// only in the returned stats.
func (in *Ingestor) ProcessReportChunks(ctx context.Context, reportID uuid.UUID, text string) (stats IngestStats) {
	if strings.TrimSpace(text) == "" {
		return stats
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			stats.Failed = true
			in.log.Error("report ingestion panicked", "report_id", reportID, "panic", r)
		}
		stats.Duration = time.Since(start)
		if stats.Failed {
			metrics.IngestFailures.Inc()
		}
	}()

	if err := in.ingest(ctx, reportID, text, &stats); err != nil {
		stats.Failed = true
		in.log.Error("report ingestion failed", "report_id", reportID, "chunks", stats.Chunks, "error", err)
		return stats
	}

	metrics.IngestedChunks.Add(float64(stats.Chunks))
	in.log.Info("report ingested",
		"report_id", reportID,
		"chunks", stats.Chunks,
		"embedded", stats.Embedded,
		"fallbacks", stats.Fallbacks,
	)
	return stats
}

func (in *Ingestor) ingest(ctx context.Context, reportID uuid.UUID, text string, stats *IngestStats) error {
	chunks := in.chunker.Chunk(text, in.opts)
	if len(chunks) == 0 {
		return nil
	}
	stats.Chunks = len(chunks)

	dim := in.embedder.Dimension()
	records := make([]models.ReportChunk, len(chunks))
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		records[i] = models.ReportChunk{
			ID:         uuid.New(),
			ReportID:   reportID,
			ChunkIndex: c.Index,
			Content:    c.Content,
			Embedding:  make([]float32, dim),
			Metadata: models.ChunkMetadata{
				Section:   c.Section,
				StartChar: c.Start,
				EndChar:   c.End,
				WordCount: c.WordCount,
			},
		}
		texts[i] = c.Content
	}

	res := in.embedder.GenerateEmbeddings(ctx, texts)
	if len(res.Vectors) != len(records) {
		return fmt.Errorf("embedder returned %d vectors for %d chunks", len(res.Vectors), len(records))
	}
	fallback := make(map[int]bool, len(res.Fallbacks))
	for _, i := range res.Fallbacks {
		fallback[i] = true
	}
	for i, vec := range res.Vectors {
		if len(vec) != dim {
			return fmt.Errorf("chunk %d: embedding dimension %d, want %d", i, len(vec), dim)
		}
		records[i].Embedding = vec
		records[i].Embedded = !fallback[i]
	}
	stats.Fallbacks = len(res.Fallbacks)
	stats.Embedded = len(records) - stats.Fallbacks

	if err := in.store.InsertChunks(ctx, records); err != nil {
		return fmt.Errorf("store chunks: %w", err)
	}
	return nil
}
