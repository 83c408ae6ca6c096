package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/astroline/destinyai/internal/models"
)

// DB is satisfied by *pgxpool.Pool.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgStore struct {
	db DB
}

func NewPgStore(db DB) *PgStore {
	return &PgStore{db: db}
}

func (s *PgStore) Get(ctx context.Context, key Key, p Period) (Counters, error) {
	var c Counters
	err := s.db.QueryRow(ctx,
		`SELECT questions_used, extra_questions FROM usage_tracking
		 WHERE user_id = $1 AND report_id = $2 AND period_start = $3`,
		key.UserID, key.ReportID, p.Start,
	).Scan(&c.Used, &c.Extra)
	if errors.Is(err, pgx.ErrNoRows) {
		return Counters{}, nil
	}
	if err != nil {
		return Counters{}, fmt.Errorf("get usage: %w", err)
	}
	return c, nil
}

func (s *PgStore) ensure(ctx context.Context, key Key, tier models.Tier, p Period) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO usage_tracking (user_id, report_id, tier, period_start, period_end)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id, report_id, period_start) DO NOTHING`,
		key.UserID, key.ReportID, tier, p.Start, p.End,
	)
	if err != nil {
		return fmt.Errorf("create usage row: %w", err)
	}
	return nil
}

func (s *PgStore) Increment(ctx context.Context, key Key, tier models.Tier, p Period, limit int, unbounded bool) (Counters, bool, error) {
	if err := s.ensure(ctx, key, tier, p); err != nil {
		return Counters{}, false, err
	}

	var c Counters
	err := s.db.QueryRow(ctx,
		`UPDATE usage_tracking
		 SET questions_used = questions_used + 1, tier = $4, updated_at = now()
		 WHERE user_id = $1 AND report_id = $2 AND period_start = $3
		   AND ($5 OR questions_used + extra_questions < $6)
		 RETURNING questions_used, extra_questions`,
		key.UserID, key.ReportID, p.Start, tier, unbounded, limit,
	).Scan(&c.Used, &c.Extra)
	if errors.Is(err, pgx.ErrNoRows) {
		c, err := s.Get(ctx, key, p)
		return c, false, err
	}
	if err != nil {
		return Counters{}, false, fmt.Errorf("increment usage: %w", err)
	}
	return c, true, nil
}

func (s *PgStore) AddExtra(ctx context.Context, key Key, tier models.Tier, p Period, n int) (Counters, error) {
	if err := s.ensure(ctx, key, tier, p); err != nil {
		return Counters{}, err
	}
	var c Counters
	err := s.db.QueryRow(ctx,
		`UPDATE usage_tracking
		 SET extra_questions = extra_questions + $4, updated_at = now()
		 WHERE user_id = $1 AND report_id = $2 AND period_start = $3
		 RETURNING questions_used, extra_questions`,
		key.UserID, key.ReportID, p.Start, n,
	).Scan(&c.Used, &c.Extra)
	if err != nil {
		return Counters{}, fmt.Errorf("add extra questions: %w", err)
	}
	return c, nil
}
