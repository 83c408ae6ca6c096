package models

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusDone       JobStatus = "done"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transition may leave s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusDone || s == JobStatusFailed
}

// CanTransition enforces pending -> processing -> {done, failed}.
func (s JobStatus) CanTransition(to JobStatus) bool {
	switch s {
	case JobStatusPending:
		return to == JobStatusProcessing
	case JobStatusProcessing:
		return to == JobStatusDone || to == JobStatusFailed
	default:
		return false
	}
}

type JobType string

const (
	JobTypeAnnualForecast JobType = "annual_forecast"
	JobTypeLifeReading    JobType = "life_reading"
	JobTypeCompatibility  JobType = "compatibility"
)

// Stage names surfaced to clients while a job runs.
const (
	StageQueued         = "queued"
	StageLoadingChart   = "loading_chart"
	StageBuildingPrompt = "building_prompt"
	StageGenerating     = "generating"
	StageSavingReport   = "saving_report"
	StageIndexing       = "indexing"
	StageDone           = "done"
	StageFailed         = "failed"
)

var stageProgress = map[string]int{
	StageQueued:         0,
	StageLoadingChart:   10,
	StageBuildingPrompt: 20,
	StageGenerating:     30,
	StageSavingReport:   70,
	StageIndexing:       80,
	StageDone:           100,
}

// StageProgress returns the progress percentage for a stage, or -1 when the
// stage does not carry one.
func StageProgress(stage string) int {
	if p, ok := stageProgress[stage]; ok {
		return p
	}
	return -1
}

type JobMetadata struct {
	Stage            string     `json:"stage,omitempty"`
	TargetYear       int        `json:"target_year,omitempty"`
	PartnerChartID   *uuid.UUID `json:"partner_chart_id,omitempty"`
	SubscriptionTier Tier       `json:"subscription_tier,omitempty"`
	ReportID         *uuid.UUID `json:"report_id,omitempty"`
	EstimatedTime    int        `json:"estimated_time,omitempty"` // seconds
	Error            string     `json:"error,omitempty"`
}

type Job struct {
	ID             uuid.UUID   `json:"id" db:"id"`
	ChartID        uuid.UUID   `json:"chart_id" db:"chart_id"`
	JobType        JobType     `json:"job_type" db:"job_type"`
	Status         JobStatus   `json:"status" db:"status"`
	Metadata       JobMetadata `json:"metadata" db:"metadata"`
	ResultURL      string      `json:"result_url,omitempty" db:"result_url"`
	Progress       int         `json:"progress" db:"progress"`
	Attempts       int         `json:"attempts" db:"attempts"`
	MaxAttempts    int         `json:"max_attempts" db:"max_attempts"`
	LockedBy       string      `json:"-" db:"locked_by"`
	LeaseExpiresAt *time.Time  `json:"-" db:"lease_expires_at"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at" db:"updated_at"`
}
