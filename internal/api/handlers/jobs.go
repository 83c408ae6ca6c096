package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/astroline/destinyai/internal/jobs"
	"github.com/astroline/destinyai/internal/models"
)

type JobStore interface {
	Create(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, id uuid.UUID) (*models.Job, error)
}

// JobWaker is satisfied by *queue.Client.
type JobWaker interface {
	EnqueueJobWake(ctx context.Context, jobID uuid.UUID) error
}

type JobHandler struct {
	store       JobStore
	waker       JobWaker
	maxAttempts int
}

func NewJobHandler(store JobStore, waker JobWaker, maxAttempts int) *JobHandler {
	return &JobHandler{store: store, waker: waker, maxAttempts: maxAttempts}
}

type createJobBody struct {
	ChartID          uuid.UUID  `json:"chart_id" validate:"required"`
	JobType          string     `json:"job_type" validate:"required,oneof=annual_forecast life_reading compatibility"`
	TargetYear       int        `json:"target_year" validate:"omitempty,gte=1900,lte=2200"`
	PartnerChartID   *uuid.UUID `json:"partner_chart_id"`
	SubscriptionTier string     `json:"subscription_tier" validate:"omitempty,oneof=free basic premium vip"`
}

type jobAccepted struct {
	JobID         uuid.UUID        `json:"job_id"`
	Status        models.JobStatus `json:"status"`
	EstimatedTime int              `json:"estimated_time"`
}

// Create handles POST /api/v1/jobs.
func (h *JobHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body createJobBody
	if !decode(w, r, &body) {
		return
	}

	spec, err := jobs.DecodeSpec(models.JobType(body.JobType), models.JobMetadata{
		TargetYear:     body.TargetYear,
		PartnerChartID: body.PartnerChartID,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	tier := models.TierFree
	if body.SubscriptionTier != "" {
		tier = models.Tier(body.SubscriptionTier)
	}
	job, err := jobs.NewJob(body.ChartID, spec, tier, h.maxAttempts)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := h.store.Create(r.Context(), job); err != nil {
		writeServiceError(w, r, err)
		return
	}

	if h.waker != nil {
		if err := h.waker.EnqueueJobWake(r.Context(), job.ID); err != nil {
			slog.Warn("job wake-up not enqueued, polling will pick it up", "job_id", job.ID, "error", err)
		}
	}

	writeJSON(w, http.StatusAccepted, jobAccepted{
		JobID:         job.ID,
		Status:        job.Status,
		EstimatedTime: job.Metadata.EstimatedTime,
	})
}

// Get handles GET /api/v1/jobs/{id}.
func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	job, err := h.store.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}
