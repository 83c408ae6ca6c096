package vectorstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/astroline/destinyai/internal/models"
)

type PgVectorStore struct {
	db *pgxpool.Pool
}

func NewPgVectorStore(db *pgxpool.Pool) *PgVectorStore {
	return &PgVectorStore{db: db}
}

// InsertChunks writes all chunks of a report in one transaction. Re-ingesting
// a report replaces chunks with the same index.
func (s *PgVectorStore) InsertChunks(ctx context.Context, chunks []models.ReportChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, c := range chunks {
		id := c.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		batch.Queue(
			`INSERT INTO report_chunks (id, report_id, chunk_index, content, embedding, embedded, metadata)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (report_id, chunk_index)
			 DO UPDATE SET content = EXCLUDED.content, embedding = EXCLUDED.embedding,
			               embedded = EXCLUDED.embedded, metadata = EXCLUDED.metadata`,
			id, c.ReportID, c.ChunkIndex, c.Content, pgvector.NewVector(c.Embedding), c.Embedded, c.Metadata,
		)
	}

	br := tx.SendBatch(ctx, batch)
	for _, c := range chunks {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("insert chunk %d: %w", c.ChunkIndex, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	return tx.Commit(ctx)
}

// SimilaritySearch ranks a report's embedded chunks by cosine similarity.
// Zero-vector fallbacks are excluded since their cosine distance is undefined.
func (s *PgVectorStore) SimilaritySearch(ctx context.Context, reportID uuid.UUID, query []float32, opts SearchOptions) ([]SearchResult, error) {
	if opts.Limit <= 0 {
		opts.Limit = 5
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, report_id, chunk_index, content, metadata, similarity
		 FROM (
			SELECT id, report_id, chunk_index, content, metadata,
			       1 - (embedding <=> $1) AS similarity
			FROM report_chunks
			WHERE report_id = $2 AND embedded
		 ) ranked
		 WHERE similarity >= $3
		 ORDER BY similarity DESC
		 LIMIT $4`,
		pgvector.NewVector(query), reportID, opts.MinSimilarity, opts.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ChunkID, &r.ReportID, &r.ChunkIndex, &r.Content, &r.Metadata, &r.Similarity); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
