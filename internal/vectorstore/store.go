package vectorstore

import (
	"context"

	"github.com/google/uuid"

	"github.com/astroline/destinyai/internal/models"
)

type SearchOptions struct {
	Limit         int
	MinSimilarity float64
}

type SearchResult struct {
	ChunkID    uuid.UUID            `json:"chunk_id"`
	ReportID   uuid.UUID            `json:"report_id"`
	ChunkIndex int                  `json:"chunk_index"`
	Content    string               `json:"content"`
	Metadata   models.ChunkMetadata `json:"metadata"`
	Similarity float64              `json:"similarity"`
}

// ChunkStore persists report chunks and answers nearest-neighbour queries
// scoped to a single report.
type ChunkStore interface {
	InsertChunks(ctx context.Context, chunks []models.ReportChunk) error
	SimilaritySearch(ctx context.Context, reportID uuid.UUID, query []float32, opts SearchOptions) ([]SearchResult, error)
}

var _ ChunkStore = (*PgVectorStore)(nil)
