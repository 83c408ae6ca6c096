package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astroline/destinyai/internal/llm"
)

type fakeDB struct {
	sql  string
	args []any
	err  error
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.sql, f.args = sql, args
	if ctx.Err() != nil {
		return pgconn.CommandTag{}, ctx.Err()
	}
	return pgconn.NewCommandTag("INSERT 0 1"), f.err
}

func (f *fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func TestRecordUsage_WritesRowWithSubject(t *testing.T) {
	db := &fakeDB{}
	ctx, cancel := context.WithCancel(WithSubject(context.Background(), "job", "j-1"))
	cancel()

	NewLedger(db).RecordUsage(ctx, llm.UsageRecord{
		Operation:   llm.OpGenerateText,
		Provider:    "openai",
		Model:       "gpt-4o-mini",
		TotalTokens: 42,
		CostUSD:     0.001,
		Attempts:    2,
		Timestamp:   time.Now(),
	})

	require.Len(t, db.args, 11)
	assert.Contains(t, db.sql, "INSERT INTO llm_usage_logs")
	assert.Equal(t, "openai", db.args[1])
	assert.Equal(t, 42, db.args[5])
	assert.Equal(t, 2, db.args[8])

	var meta map[string]Subject
	require.NoError(t, json.Unmarshal(db.args[9].([]byte), &meta))
	assert.Equal(t, Subject{Kind: "job", ID: "j-1"}, meta["subject"])
}

func TestRecordUsage_ErrorIsSwallowed(t *testing.T) {
	db := &fakeDB{err: errors.New("db down")}
	assert.NotPanics(t, func() {
		NewLedger(db).RecordUsage(context.Background(), llm.UsageRecord{Provider: "openai"})
	})
}

func TestSummary_QueryError(t *testing.T) {
	_, err := NewLedger(&fakeDB{}).Summary(context.Background(), time.Now().Add(-time.Hour), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query usage summary")
}
