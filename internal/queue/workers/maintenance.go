package workers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/astroline/destinyai/internal/metrics"
	"github.com/astroline/destinyai/internal/queue"
)

// JobProcessor is satisfied by *jobs.Worker.
type JobProcessor interface {
	ProcessByID(ctx context.Context, id uuid.UUID) error
}

// JobWakeWorker runs the job named in a wake-up task on this process.
type JobWakeWorker struct {
	jobs JobProcessor
}

func NewJobWakeWorker(p JobProcessor) *JobWakeWorker {
	return &JobWakeWorker{jobs: p}
}

func (w *JobWakeWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	id, err := queue.ParseJobWake(t)
	if err != nil {
		return err
	}
	if err := w.jobs.ProcessByID(ctx, id); err != nil {
		return fmt.Errorf("process job %s: %w", id, err)
	}
	return nil
}

// JobRequeuer is satisfied by jobs.Store.
type JobRequeuer interface {
	RequeueExpired(ctx context.Context) (requeued, failed int, err error)
}

// RequeueWorker returns jobs with lapsed leases to the queue.
type RequeueWorker struct {
	store JobRequeuer
	wake  func()
}

// NewRequeueWorker builds the sweep; wake, if set, is called when any job
// went back to pending.
func NewRequeueWorker(store JobRequeuer, wake func()) *RequeueWorker {
	return &RequeueWorker{store: store, wake: wake}
}

func (w *RequeueWorker) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	requeued, failed, err := w.store.RequeueExpired(ctx)
	if err != nil {
		return err
	}
	if requeued == 0 && failed == 0 {
		return nil
	}
	metrics.JobEvents.WithLabelValues("any", "requeued").Add(float64(requeued))
	metrics.JobEvents.WithLabelValues("any", "expired").Add(float64(failed))
	slog.Warn("expired job leases recovered", "requeued", requeued, "failed", failed)
	if requeued > 0 && w.wake != nil {
		w.wake()
	}
	return nil
}

// ConversationCleaner is satisfied by *conversation.Manager.
type ConversationCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

type CleanupWorker struct {
	conversations ConversationCleaner
}

func NewCleanupWorker(c ConversationCleaner) *CleanupWorker {
	return &CleanupWorker{conversations: c}
}

func (w *CleanupWorker) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	_, err := w.conversations.CleanupExpired(ctx)
	return err
}

// Register wires all handlers into r.
func Register(r *queue.HandlersRegistry, p JobProcessor, store JobRequeuer, wake func(), c ConversationCleaner) {
	r.Register(queue.TypeJobWake, NewJobWakeWorker(p))
	r.Register(queue.TypeRequeueJobs, NewRequeueWorker(store, wake))
	r.Register(queue.TypeCleanupConversations, NewCleanupWorker(c))
}
