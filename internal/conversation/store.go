package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/astroline/destinyai/internal/models"
)

// DB is satisfied by *pgxpool.Pool.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgStore struct {
	db DB
}

func NewPgStore(db DB) *PgStore {
	return &PgStore{db: db}
}

const columns = `id, report_id, user_id, tier, messages, last_message_at, retention_until, metadata, created_at, updated_at`

func scanConversation(row pgx.Row) (*models.Conversation, error) {
	var c models.Conversation
	var messages, metadata []byte
	if err := row.Scan(&c.ID, &c.ReportID, &c.UserID, &c.Tier, &messages, &c.LastMessageAt,
		&c.RetentionUntil, &metadata, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(messages, &c.Messages); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &c, nil
}

func (s *PgStore) Find(ctx context.Context, reportID uuid.UUID, userID *uuid.UUID) (*models.Conversation, error) {
	conv, err := scanConversation(s.db.QueryRow(ctx,
		`SELECT `+columns+` FROM conversations
		 WHERE report_id = $1 AND user_id IS NOT DISTINCT FROM $2`,
		reportID, userID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	return conv, nil
}

func (s *PgStore) Insert(ctx context.Context, conv *models.Conversation) (*models.Conversation, error) {
	messages, err := json.Marshal(conv.Messages)
	if err != nil {
		return nil, fmt.Errorf("encode messages: %w", err)
	}
	metadata, err := json.Marshal(conv.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	// The no-op update makes RETURNING yield the row that won a concurrent
	// first question.
	out, err := scanConversation(s.db.QueryRow(ctx,
		`INSERT INTO conversations (id, report_id, user_id, tier, messages, retention_until, metadata, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		 ON CONFLICT (report_id, user_id) DO UPDATE SET report_id = EXCLUDED.report_id
		 RETURNING `+columns,
		conv.ID, conv.ReportID, conv.UserID, conv.Tier, messages, conv.RetentionUntil, metadata, conv.CreatedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	return out, nil
}

func (s *PgStore) AppendMessages(ctx context.Context, id uuid.UUID, msgs []models.Message, userTurns int, lastAt time.Time) error {
	data, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE conversations
		 SET messages = messages || $2::jsonb,
		     metadata = jsonb_set(metadata, '{turn_count}',
		                to_jsonb(COALESCE((metadata->>'turn_count')::int, 0) + $3)),
		     last_message_at = $4, updated_at = now()
		 WHERE id = $1`,
		id, data, userTurns, lastAt,
	)
	if err != nil {
		return fmt.Errorf("append messages: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PgStore) List(ctx context.Context, reportID uuid.UUID, userID *uuid.UUID, createdAfter *time.Time, limit int) ([]models.Conversation, error) {
	query := `SELECT ` + columns + ` FROM conversations
		 WHERE report_id = $1 AND user_id IS NOT DISTINCT FROM $2`
	args := []any{reportID, userID}
	if createdAfter != nil {
		query += ` AND created_at >= $3 AND retention_until > now()`
		args = append(args, *createdAfter)
	}
	query += fmt.Sprintf(" ORDER BY COALESCE(last_message_at, created_at) DESC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var convs []models.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, *c)
	}
	return convs, rows.Err()
}

func (s *PgStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM conversations WHERE retention_until <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired conversations: %w", err)
	}
	return tag.RowsAffected(), nil
}
