package queue

import (
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

type HandlersRegistry struct {
	mux *asynq.ServeMux
}

func NewHandlersRegistry() *HandlersRegistry {
	return &HandlersRegistry{
		mux: asynq.NewServeMux(),
	}
}

func (r *HandlersRegistry) Register(taskType string, handler asynq.Handler) {
	r.mux.Handle(taskType, handler)
}

func (r *HandlersRegistry) Mux() *asynq.ServeMux {
	return r.mux
}

// MaintenanceSchedule sets how often the periodic tasks run.
type MaintenanceSchedule struct {
	RequeueEvery time.Duration
	CleanupEvery time.Duration
}

// RegisterMaintenance adds the periodic maintenance tasks to s.
func RegisterMaintenance(s *asynq.Scheduler, sched MaintenanceSchedule) error {
	entries := []struct {
		taskType string
		every    time.Duration
	}{
		{TypeRequeueJobs, sched.RequeueEvery},
		{TypeCleanupConversations, sched.CleanupEvery},
	}
	for _, e := range entries {
		if e.every <= 0 {
			continue
		}
		_, err := s.Register(
			fmt.Sprintf("@every %s", e.every),
			asynq.NewTask(e.taskType, nil),
			asynq.MaxRetry(0),
			asynq.Unique(e.every),
		)
		if err != nil {
			return fmt.Errorf("register %s: %w", e.taskType, err)
		}
	}
	return nil
}
