package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/astroline/destinyai/internal/auth"
	"github.com/astroline/destinyai/internal/models"
	"github.com/astroline/destinyai/internal/qa"
)

type QAService interface {
	Ask(ctx context.Context, req qa.AskRequest) (*qa.AskResponse, error)
	History(ctx context.Context, req qa.HistoryRequest) (*qa.HistoryResponse, error)
}

type QAHandler struct {
	svc QAService
}

func NewQAHandler(svc QAService) *QAHandler {
	return &QAHandler{svc: svc}
}

type askBody struct {
	Question         string `json:"question" validate:"required,max=500"`
	SubscriptionTier string `json:"subscription_tier" validate:"omitempty,oneof=free basic premium vip"`
}

type historyQuery struct {
	Tier  string `validate:"omitempty,oneof=free basic premium vip"`
	Limit int    `validate:"gte=0,lte=50"`
}

// Ask handles POST /api/v1/reports/{reportID}/questions.
func (h *QAHandler) Ask(w http.ResponseWriter, r *http.Request) {
	reportID, ok := pathUUID(w, r, "reportID")
	if !ok {
		return
	}
	var body askBody
	if !decode(w, r, &body) {
		return
	}

	id := auth.IdentityFromContext(r.Context())
	resp, err := h.svc.Ask(r.Context(), qa.AskRequest{
		ReportID: reportID,
		UserID:   id.UserID,
		Tier:     resolveTier(id, body.SubscriptionTier),
		Question: body.Question,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// History handles GET /api/v1/reports/{reportID}/conversations.
func (h *QAHandler) History(w http.ResponseWriter, r *http.Request) {
	reportID, ok := pathUUID(w, r, "reportID")
	if !ok {
		return
	}
	q := historyQuery{Tier: r.URL.Query().Get("tier")}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be an integer")
			return
		}
		q.Limit = n
	}
	if !check(w, q) {
		return
	}

	id := auth.IdentityFromContext(r.Context())
	resp, err := h.svc.History(r.Context(), qa.HistoryRequest{
		ReportID: reportID,
		UserID:   id.UserID,
		Tier:     resolveTier(id, q.Tier),
		Limit:    q.Limit,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// resolveTier trusts only the token for authenticated callers, who default
// to free without a tier claim. Anonymous callers may name their tier.
func resolveTier(id auth.Identity, requested string) models.Tier {
	if id.Tier != "" {
		return id.Tier
	}
	if id.UserID != nil {
		return models.TierFree
	}
	if t, err := models.ParseTier(requested); err == nil {
		return t
	}
	return models.TierFree
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", name+" must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}
