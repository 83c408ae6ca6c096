package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/astroline/destinyai/internal/audit"
	"github.com/astroline/destinyai/internal/models"
	"github.com/astroline/destinyai/internal/quota"
)

type ExtraQuestionAdder interface {
	AddExtraQuestions(ctx context.Context, userID *uuid.UUID, reportID uuid.UUID, tier models.Tier, n int) (quota.Status, error)
}

type UsageReporter interface {
	Summary(ctx context.Context, from, to time.Time) ([]audit.UsageSummary, error)
}

type UsageHandler struct {
	quota ExtraQuestionAdder
	usage UsageReporter
	now   func() time.Time
}

func NewUsageHandler(q ExtraQuestionAdder, u UsageReporter) *UsageHandler {
	return &UsageHandler{quota: q, usage: u, now: time.Now}
}

type extraQuestionsBody struct {
	UserID           *uuid.UUID `json:"user_id"`
	ReportID         uuid.UUID  `json:"report_id" validate:"required"`
	SubscriptionTier string     `json:"subscription_tier" validate:"omitempty,oneof=free basic premium vip"`
	Count            int        `json:"count" validate:"required,gte=1,lte=1000"`
}

// AddExtraQuestions handles POST /api/v1/usage/extra-questions. It is called
// by the checkout integration after a purchase settles.
func (h *UsageHandler) AddExtraQuestions(w http.ResponseWriter, r *http.Request) {
	var body extraQuestionsBody
	if !decode(w, r, &body) {
		return
	}
	tier := models.TierFree
	if body.SubscriptionTier != "" {
		tier = models.Tier(body.SubscriptionTier)
	}

	st, err := h.quota.AddExtraQuestions(r.Context(), body.UserID, body.ReportID, tier, body.Count)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

const defaultUsageWindow = 30 * 24 * time.Hour

// LLMUsage handles GET /api/v1/usage/llm?from=&to= with RFC 3339 bounds.
// The window defaults to the last 30 days.
func (h *UsageHandler) LLMUsage(w http.ResponseWriter, r *http.Request) {
	to := h.now().UTC()
	from := to.Add(-defaultUsageWindow)

	q := r.URL.Query()
	for name, dst := range map[string]*time.Time{"from": &from, "to": &to} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", name+" must be an RFC 3339 timestamp")
			return
		}
		*dst = t
	}
	if !from.Before(to) {
		writeError(w, http.StatusBadRequest, "invalid_request", "from must be before to")
		return
	}

	summaries, err := h.usage.Summary(r.Context(), from, to)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if summaries == nil {
		summaries = []audit.UsageSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"from":  from,
		"to":    to,
		"usage": summaries,
	})
}
