// Package chart reads birth charts produced by the external chart service.
// The chart payload is opaque JSON; only a handful of well-known fields are
// lifted out for prompts.
package chart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/tidwall/gjson"
)

var ErrNotFound = errors.New("chart not found")

type Chart struct {
	ID     uuid.UUID       `json:"id"`
	UserID *uuid.UUID      `json:"user_id,omitempty"`
	Name   string          `json:"name"`
	Data   json.RawMessage `json:"data"`
}

type Source interface {
	Get(ctx context.Context, id uuid.UUID) (*Chart, error)
}

// Querier is satisfied by *pgxpool.Pool.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgSource struct {
	db Querier
}

func NewPgSource(db Querier) *PgSource {
	return &PgSource{db: db}
}

func (s *PgSource) Get(ctx context.Context, id uuid.UUID) (*Chart, error) {
	var c Chart
	err := s.db.QueryRow(ctx,
		`SELECT id, user_id, name, data FROM charts WHERE id = $1`, id,
	).Scan(&c.ID, &c.UserID, &c.Name, &c.Data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("chart %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get chart: %w", err)
	}
	return &c, nil
}

// summaryFields are lifted from the chart payload in this order.
var summaryFields = []struct {
	label string
	path  string
}{
	{"Name", "name"},
	{"Gender", "gender"},
	{"Birth date", "birth.date"},
	{"Birth time", "birth.time"},
	{"Birth place", "birth.location"},
	{"Day master", "day_master"},
	{"Year pillar", "pillars.year"},
	{"Month pillar", "pillars.month"},
	{"Day pillar", "pillars.day"},
	{"Hour pillar", "pillars.hour"},
	{"Favourable elements", "favorable_elements"},
	{"Unfavourable elements", "unfavorable_elements"},
	{"Current luck pillar", "luck_pillars.current"},
}

// Summary renders the recognised chart facts as "Label: value" lines
// followed by the full payload, so the model sees both.
func Summary(data json.RawMessage) string {
	if !gjson.ValidBytes(data) {
		return strings.TrimSpace(string(data))
	}

	var sb strings.Builder
	for _, f := range summaryFields {
		v := gjson.GetBytes(data, f.path)
		if !v.Exists() || v.Type == gjson.Null {
			continue
		}
		fmt.Fprintf(&sb, "%s: %s\n", f.label, valueString(v))
	}

	if el := gjson.GetBytes(data, "elements"); el.IsObject() {
		var parts []string
		el.ForEach(func(k, v gjson.Result) bool {
			parts = append(parts, k.String()+"="+v.String())
			return true
		})
		fmt.Fprintf(&sb, "Element balance: %s\n", strings.Join(parts, ", "))
	}

	if sb.Len() > 0 {
		sb.WriteString("\n")
	}
	sb.WriteString("Full chart:\n")
	sb.WriteString(gjson.GetBytes(data, "@ugly").Raw)
	return sb.String()
}

func valueString(v gjson.Result) string {
	if v.IsArray() {
		var parts []string
		for _, item := range v.Array() {
			parts = append(parts, item.String())
		}
		return strings.Join(parts, ", ")
	}
	if v.IsObject() {
		return v.Raw
	}
	return v.String()
}
