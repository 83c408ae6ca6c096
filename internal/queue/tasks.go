package queue

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	TypeJobWake              = "job:wake"
	TypeRequeueJobs          = "maintenance:requeue_jobs"
	TypeCleanupConversations = "maintenance:cleanup_conversations"
)

// JobWakePayload asks a worker to pick up a job without waiting for the next
// poll.
type JobWakePayload struct {
	JobID string `json:"job_id"`
}

func NewJobWakeTask(jobID uuid.UUID) (*asynq.Task, error) {
	data, err := json.Marshal(JobWakePayload{JobID: jobID.String()})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(TypeJobWake, data), nil
}

// ParseJobWake decodes a wake-up payload. Malformed payloads are wrapped in
// asynq.SkipRetry.
func ParseJobWake(t *asynq.Task) (uuid.UUID, error) {
	var payload JobWakePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return uuid.Nil, fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	id, err := uuid.Parse(payload.JobID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse job ID: %v: %w", err, asynq.SkipRetry)
	}
	return id, nil
}
