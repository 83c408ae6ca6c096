package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/astroline/destinyai/internal/llm"
)

// DB is satisfied by *pgxpool.Pool.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type subjectKey struct{}

// Subject names what an LLM call was made for, e.g. a job or a report.
type Subject struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// WithSubject tags ctx so usage recorded under it is attributed to s.
func WithSubject(ctx context.Context, kind, id string) context.Context {
	return context.WithValue(ctx, subjectKey{}, Subject{Kind: kind, ID: id})
}

func SubjectFromContext(ctx context.Context) (Subject, bool) {
	s, ok := ctx.Value(subjectKey{}).(Subject)
	return s, ok
}

// Ledger persists per-call LLM usage and cost.
type Ledger struct {
	db  DB
	log *slog.Logger
}

func NewLedger(db DB) *Ledger {
	return &Ledger{db: db, log: slog.Default()}
}

// RecordUsage implements llm.UsageRecorder. Failures are logged only.
func (l *Ledger) RecordUsage(ctx context.Context, rec llm.UsageRecord) {
	meta := map[string]any{}
	if s, ok := SubjectFromContext(ctx); ok {
		meta["subject"] = s
	}
	metadata, _ := json.Marshal(meta)

	// The caller's ctx may already be cancelled once the answer is in hand.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	_, err := l.db.Exec(ctx,
		`INSERT INTO llm_usage_logs (operation, provider, model, input_tokens, output_tokens, total_tokens, cost_usd, latency_ms, attempts, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.Operation, rec.Provider, rec.Model, rec.InputTokens, rec.OutputTokens,
		rec.TotalTokens, rec.CostUSD, rec.LatencyMs, rec.Attempts, metadata, rec.Timestamp,
	)
	if err != nil {
		l.log.Warn("record llm usage failed", "provider", rec.Provider, "model", rec.Model, "error", err)
	}
}

type UsageSummary struct {
	Operation    string  `json:"operation"`
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	TotalCalls   int     `json:"total_calls"`
	TotalTokens  int     `json:"total_tokens"`
	TotalCostUSD float64 `json:"total_cost_usd"`
}

// Summary aggregates usage recorded in [from, to).
func (l *Ledger) Summary(ctx context.Context, from, to time.Time) ([]UsageSummary, error) {
	rows, err := l.db.Query(ctx,
		`SELECT operation, provider, model, COUNT(*),
		        COALESCE(SUM(total_tokens), 0), COALESCE(SUM(cost_usd), 0)::float8
		 FROM llm_usage_logs
		 WHERE created_at >= $1 AND created_at < $2
		 GROUP BY operation, provider, model
		 ORDER BY 6 DESC`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("query usage summary: %w", err)
	}
	defer rows.Close()

	var summaries []UsageSummary
	for rows.Next() {
		var us UsageSummary
		if err := rows.Scan(&us.Operation, &us.Provider, &us.Model, &us.TotalCalls, &us.TotalTokens, &us.TotalCostUSD); err != nil {
			return nil, fmt.Errorf("scan usage summary: %w", err)
		}
		summaries = append(summaries, us)
	}
	return summaries, rows.Err()
}
