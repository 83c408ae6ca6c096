package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/astroline/destinyai/internal/models"
)

var ErrNotFound = errors.New("report not found")

type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store interface {
	Create(ctx context.Context, r *models.Report, jobID uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (*models.Report, error)
}

type PgStore struct {
	db Querier
}

func NewPgStore(db Querier) *PgStore {
	return &PgStore{db: db}
}

// Create inserts the report once per job. A retried job that already saved
// its report gets the existing row back in r.
func (s *PgStore) Create(ctx context.Context, r *models.Report, jobID uuid.UUID) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	var job *uuid.UUID
	if jobID != uuid.Nil {
		job = &jobID
	}
	err := s.db.QueryRow(ctx,
		`INSERT INTO reports (id, chart_id, job_id, title, body, model, prompt_version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (job_id) WHERE job_id IS NOT NULL
		 DO UPDATE SET job_id = EXCLUDED.job_id
		 RETURNING id, created_at`,
		r.ID, r.ChartID, job, r.Title, []byte(r.Body), r.Model, r.PromptVersion,
	).Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

func (s *PgStore) Get(ctx context.Context, id uuid.UUID) (*models.Report, error) {
	var r models.Report
	var body []byte
	err := s.db.QueryRow(ctx,
		`SELECT id, chart_id, title, body, model, prompt_version, created_at FROM reports WHERE id = $1`, id,
	).Scan(&r.ID, &r.ChartID, &r.Title, &body, &r.Model, &r.PromptVersion, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("report %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	r.Body = json.RawMessage(body)
	return &r, nil
}
