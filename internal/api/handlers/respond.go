package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/astroline/destinyai/internal/jobs"
	"github.com/astroline/destinyai/internal/llm"
	"github.com/astroline/destinyai/internal/qa"
	"github.com/astroline/destinyai/internal/quota"
	"github.com/astroline/destinyai/internal/report"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type quotaErrorBody struct {
	Error       string        `json:"error"`
	Message     string        `json:"message"`
	QuotaUsed   qa.QuotaUsed  `json:"quotaUsed"`
	UpgradeHint string        `json:"upgradeHint,omitempty"`
	Status      *quota.Status `json:"quota"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: code, Message: msg})
}

// decode reads a JSON body into dst and validates its tags.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return check(w, dst)
}

func check(w http.ResponseWriter, v any) bool {
	if err := validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return false
	}
	return true
}

// writeServiceError maps domain errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		qe       *quota.QuotaError
		upstream *llm.UpstreamError
	)
	switch {
	case errors.As(err, &qe):
		st := qe.Status
		writeJSON(w, http.StatusTooManyRequests, quotaErrorBody{
			Error:       "quota_exceeded",
			Message:     "question limit reached for this period",
			QuotaUsed:   qa.QuotaUsed{Used: st.Used, Limit: st.Limit, Remaining: st.Remaining},
			UpgradeHint: st.UpgradeHint(),
			Status:      &st,
		})
	case errors.Is(err, qa.ErrInvalidRequest),
		errors.Is(err, jobs.ErrInvalidSpec),
		errors.Is(err, jobs.ErrUnknownJobType),
		errors.Is(err, quota.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, report.ErrNotFound), errors.Is(err, jobs.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.As(err, &upstream), errors.Is(err, llm.ErrEmptyResponse):
		slog.Warn("upstream model failure", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusBadGateway, "upstream_error", "the language model is unavailable, please retry")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout", "request timed out")
	case errors.Is(err, context.Canceled):
		// client went away; nothing useful to send
	default:
		slog.Error("request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
