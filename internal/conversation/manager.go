package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/astroline/destinyai/internal/models"
)

var ErrNotFound = errors.New("conversation not found")

// Store persists conversations. A nil userID addresses the anonymous thread.
type Store interface {
	Find(ctx context.Context, reportID uuid.UUID, userID *uuid.UUID) (*models.Conversation, error)
	// Insert creates conv unless a thread for the same report and user
	// already exists, in which case the existing one is returned.
	Insert(ctx context.Context, conv *models.Conversation) (*models.Conversation, error)
	AppendMessages(ctx context.Context, id uuid.UUID, msgs []models.Message, userTurns int, lastAt time.Time) error
	// List returns threads newest first. A nil createdAfter disables the
	// retention filter.
	List(ctx context.Context, reportID uuid.UUID, userID *uuid.UUID, createdAfter *time.Time, limit int) ([]models.Conversation, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type Manager struct {
	store Store
	now   func() time.Time
	log   *slog.Logger
}

func NewManager(store Store) *Manager {
	return &Manager{store: store, now: time.Now, log: slog.Default()}
}

// GetOrCreate returns the thread for (reportID, userID), creating it with
// the tier's retention on first use.
func (m *Manager) GetOrCreate(ctx context.Context, userID *uuid.UUID, reportID uuid.UUID, tier models.Tier) (*models.Conversation, error) {
	conv, err := m.store.Find(ctx, reportID, userID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("find conversation: %w", err)
	}

	now := m.now().UTC()
	conv, err = m.store.Insert(ctx, &models.Conversation{
		ID:             uuid.New(),
		ReportID:       reportID,
		UserID:         userID,
		Tier:           tier,
		Messages:       []models.Message{},
		RetentionUntil: tier.RetentionUntil(now),
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// TrimMessages keeps the most recent contextLimit messages for a prompt.
// When the thread's first user message would fall out of the window it is
// kept in front of the contextLimit-1 most recent ones.
func TrimMessages(messages []models.Message, contextLimit int) []models.Message {
	if contextLimit <= 0 {
		return nil
	}
	if len(messages) <= contextLimit {
		return messages
	}

	first := -1
	for i, msg := range messages {
		if msg.Role == models.RoleUser {
			first = i
			break
		}
	}

	recentStart := len(messages) - (contextLimit - 1)
	if first < 0 || first >= recentStart-1 {
		return messages[len(messages)-contextLimit:]
	}

	out := make([]models.Message, 0, contextLimit)
	out = append(out, messages[first])
	return append(out, messages[recentStart:]...)
}

// AddMessage appends msg to conv and persists it.
func (m *Manager) AddMessage(ctx context.Context, conv *models.Conversation, msg models.Message) error {
	return m.AddMessages(ctx, conv, msg)
}

// AddMessages appends msgs in one write and refreshes the turn count.
func (m *Manager) AddMessages(ctx context.Context, conv *models.Conversation, msgs ...models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	userTurns := 0
	for i := range msgs {
		if msgs[i].Timestamp.IsZero() {
			msgs[i].Timestamp = m.now().UTC()
		}
		if msgs[i].Role == models.RoleUser {
			userTurns++
		}
	}
	lastAt := msgs[len(msgs)-1].Timestamp

	if err := m.store.AppendMessages(ctx, conv.ID, msgs, userTurns, lastAt); err != nil {
		return fmt.Errorf("append messages: %w", err)
	}

	conv.Messages = append(conv.Messages, msgs...)
	conv.Metadata.TurnCount += userTurns
	conv.LastMessageAt = &lastAt
	conv.UpdatedAt = lastAt
	return nil
}

// ListForReport lists the caller's threads for a report that are still
// inside tier's retention window. VIP sees everything.
func (m *Manager) ListForReport(ctx context.Context, reportID uuid.UUID, userID *uuid.UUID, tier models.Tier, limit int) ([]models.Conversation, error) {
	var cutoff *time.Time
	if !tier.Unbounded() {
		c := m.now().UTC().AddDate(0, 0, -tier.RetentionDays())
		cutoff = &c
	}
	convs, err := m.store.List(ctx, reportID, userID, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return convs, nil
}

// CleanupExpired deletes threads past retention_until. It runs from the
// maintenance scheduler only.
func (m *Manager) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := m.store.DeleteExpired(ctx, m.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("cleanup conversations: %w", err)
	}
	if n > 0 {
		m.log.Info("expired conversations deleted", "count", n)
	}
	return n, nil
}
