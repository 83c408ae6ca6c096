package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/astroline/destinyai/internal/models"
)

var (
	ErrQuotaExceeded = errors.New("question quota exceeded")
	ErrInvalidAmount = errors.New("extra question amount must be positive")
)

// Key identifies a usage bucket. Anonymous users share uuid.Nil.
type Key struct {
	UserID   uuid.UUID
	ReportID uuid.UUID
}

func KeyFor(userID *uuid.UUID, reportID uuid.UUID) Key {
	k := Key{ReportID: reportID}
	if userID != nil {
		k.UserID = *userID
	}
	return k
}

// Period is a billing bucket, [Start, End).
type Period struct {
	Start time.Time
	End   time.Time
}

// PeriodFor returns the calendar month (UTC) containing t.
func PeriodFor(t time.Time) Period {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return Period{Start: start, End: start.AddDate(0, 1, 0)}
}

// Counters are the stored values of one bucket.
type Counters struct {
	Used  int
	Extra int
}

type Store interface {
	// Get returns zero counters when the bucket has no row yet.
	Get(ctx context.Context, key Key, p Period) (Counters, error)
	// Increment adds one question only while used+extra < limit, or
	// unconditionally when unbounded. ok is false when the bucket was full.
	Increment(ctx context.Context, key Key, tier models.Tier, p Period, limit int, unbounded bool) (c Counters, ok bool, err error)
	AddExtra(ctx context.Context, key Key, tier models.Tier, p Period, n int) (Counters, error)
}

// Status is the quota view returned to callers.
type Status struct {
	Tier        models.Tier `json:"tier"`
	Used        int         `json:"used"`
	Extra       int         `json:"extra"`
	Limit       int         `json:"limit"`
	Remaining   int         `json:"remaining"`
	HasQuota    bool        `json:"has_quota"`
	PeriodStart time.Time   `json:"period_start"`
	PeriodEnd   time.Time   `json:"period_end"`
}

// UpgradeHint suggests the next tier when few questions remain. It is empty
// for VIP or while more than one question is left.
func (s Status) UpgradeHint() string {
	if s.Tier.Unbounded() || s.Remaining > 1 {
		return ""
	}
	next := s.Tier.Next()
	if next == "" {
		return ""
	}
	if s.Remaining == 0 {
		return fmt.Sprintf("You have used all %d questions for this period. Upgrade to %s for %s questions per month.",
			s.Limit, next, limitText(next))
	}
	return fmt.Sprintf("You have 1 question left this period. Upgrade to %s for %s questions per month.", next, limitText(next))
}

// AfterQuestion projects the status once one more question is counted.
func (s Status) AfterQuestion() Status {
	return status(s.Tier, Counters{Used: s.Used + 1, Extra: s.Extra}, Period{Start: s.PeriodStart, End: s.PeriodEnd})
}

func limitText(t models.Tier) string {
	if t.Unbounded() {
		return "unlimited"
	}
	return fmt.Sprint(t.QuestionLimit())
}

// QuotaError carries the status that caused a rejection.
type QuotaError struct {
	Status Status
}

func (e *QuotaError) Error() string { return ErrQuotaExceeded.Error() }
func (e *QuotaError) Unwrap() error { return ErrQuotaExceeded }

type Manager struct {
	store Store
	now   func() time.Time
}

func NewManager(store Store) *Manager {
	return &Manager{store: store, now: time.Now}
}

func status(tier models.Tier, c Counters, p Period) Status {
	limit := tier.QuestionLimit()
	s := Status{
		Tier:        tier,
		Used:        c.Used,
		Extra:       c.Extra,
		Limit:       limit,
		PeriodStart: p.Start,
		PeriodEnd:   p.End,
	}
	if tier.Unbounded() {
		s.HasQuota = true
		s.Remaining = limit
		return s
	}
	s.HasQuota = c.Used+c.Extra < limit
	s.Remaining = max(limit-c.Used-c.Extra, 0)
	return s
}

// Check reads the current bucket without side effects.
func (m *Manager) Check(ctx context.Context, userID *uuid.UUID, reportID uuid.UUID, tier models.Tier) (Status, error) {
	p := PeriodFor(m.now())
	c, err := m.store.Get(ctx, KeyFor(userID, reportID), p)
	if err != nil {
		return Status{}, fmt.Errorf("check quota: %w", err)
	}
	return status(tier, c, p), nil
}

// Consume records one accepted question. The store increments only while
// quota remains, so concurrent requests cannot overrun the limit; the loser
// gets a *QuotaError.
func (m *Manager) Consume(ctx context.Context, userID *uuid.UUID, reportID uuid.UUID, tier models.Tier) (Status, error) {
	p := PeriodFor(m.now())
	c, ok, err := m.store.Increment(ctx, KeyFor(userID, reportID), tier, p, tier.QuestionLimit(), tier.Unbounded())
	if err != nil {
		return Status{}, fmt.Errorf("consume quota: %w", err)
	}
	st := status(tier, c, p)
	if !ok {
		return st, &QuotaError{Status: st}
	}
	return st, nil
}

// AddExtraQuestions records n purchased add-on questions for the current
// period.
func (m *Manager) AddExtraQuestions(ctx context.Context, userID *uuid.UUID, reportID uuid.UUID, tier models.Tier, n int) (Status, error) {
	if n <= 0 {
		return Status{}, ErrInvalidAmount
	}
	p := PeriodFor(m.now())
	c, err := m.store.AddExtra(ctx, KeyFor(userID, reportID), tier, p, n)
	if err != nil {
		return Status{}, fmt.Errorf("add extra questions: %w", err)
	}
	return status(tier, c, p), nil
}
