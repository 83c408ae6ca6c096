package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// SourceRef points an answer back at the chunk it drew from.
type SourceRef struct {
	ChunkID    uuid.UUID `json:"chunk_id"`
	ChunkIndex int       `json:"chunk_index"`
	Section    string    `json:"section,omitempty"`
	Similarity float64   `json:"similarity"`
}

type Message struct {
	Role      string      `json:"role"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
	Sources   []SourceRef `json:"sources,omitempty"`
}

type ConversationMetadata struct {
	TurnCount int `json:"turn_count"`
}

type Conversation struct {
	ID             uuid.UUID            `json:"id" db:"id"`
	ReportID       uuid.UUID            `json:"report_id" db:"report_id"`
	UserID         *uuid.UUID           `json:"user_id,omitempty" db:"user_id"`
	Tier           Tier                 `json:"tier" db:"tier"`
	Messages       []Message            `json:"messages" db:"messages"`
	LastMessageAt  *time.Time           `json:"last_message_at,omitempty" db:"last_message_at"`
	RetentionUntil time.Time            `json:"retention_until" db:"retention_until"`
	Metadata       ConversationMetadata `json:"metadata" db:"metadata"`
	CreatedAt      time.Time            `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at" db:"updated_at"`
}

type UsageTracking struct {
	ID             uuid.UUID `json:"id" db:"id"`
	UserID         uuid.UUID `json:"user_id" db:"user_id"` // uuid.Nil for anonymous
	ReportID       uuid.UUID `json:"report_id" db:"report_id"`
	Tier           Tier      `json:"tier" db:"tier"`
	PeriodStart    time.Time `json:"period_start" db:"period_start"`
	PeriodEnd      time.Time `json:"period_end" db:"period_end"`
	QuestionsUsed  int       `json:"questions_used" db:"questions_used"`
	ExtraQuestions int       `json:"extra_questions" db:"extra_questions"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}
