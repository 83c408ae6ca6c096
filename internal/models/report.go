package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Report struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	ChartID       uuid.UUID       `json:"chart_id" db:"chart_id"`
	Title         string          `json:"title" db:"title"`
	Body          json.RawMessage `json:"body" db:"body"`
	Model         string          `json:"model" db:"model"`
	PromptVersion string          `json:"prompt_version" db:"prompt_version"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

type ChunkMetadata struct {
	Section   string `json:"section,omitempty"`
	StartChar int    `json:"start_char"`
	EndChar   int    `json:"end_char"`
	WordCount int    `json:"word_count"`
}

type ReportChunk struct {
	ID         uuid.UUID     `json:"id" db:"id"`
	ReportID   uuid.UUID     `json:"report_id" db:"report_id"`
	ChunkIndex int           `json:"chunk_index" db:"chunk_index"`
	Content    string        `json:"content" db:"content"`
	Embedding  []float32     `json:"-" db:"embedding"`
	Embedded   bool          `json:"embedded" db:"embedded"` // false when Embedding is a zero-vector fallback
	Metadata   ChunkMetadata `json:"metadata" db:"metadata"`
	CreatedAt  time.Time     `json:"created_at" db:"created_at"`
}
