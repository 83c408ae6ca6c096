package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/astroline/destinyai/internal/models"
)

var (
	ErrNotFound = errors.New("job not found")
	// ErrNoJob means no pending job was available to claim.
	ErrNoJob = errors.New("no pending job")
	// ErrJobNotClaimable means the job exists but is no longer pending.
	ErrJobNotClaimable = errors.New("job not claimable")
	// ErrLeaseLost means the job is no longer processing under this worker,
	// usually because its lease expired and it was requeued.
	ErrLeaseLost = errors.New("job lease lost")
)

// Store persists jobs. Every mutating method conditions on the current
// status so transitions never regress.
type Store interface {
	Create(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, id uuid.UUID) (*models.Job, error)
	Claim(ctx context.Context, workerID string, lease time.Duration) (*models.Job, error)
	ClaimByID(ctx context.Context, id uuid.UUID, workerID string, lease time.Duration) (*models.Job, error)
	UpdateStage(ctx context.Context, id uuid.UUID, workerID, stage string, lease time.Duration) error
	MarkDone(ctx context.Context, id uuid.UUID, workerID string, reportID uuid.UUID, resultURL string) error
	MarkFailed(ctx context.Context, id uuid.UUID, workerID, errText string) error
	RequeueExpired(ctx context.Context) (requeued, failed int, err error)
}

// DB is satisfied by *pgxpool.Pool.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgStore struct {
	db DB
}

func NewPgStore(db DB) *PgStore {
	return &PgStore{db: db}
}

const jobColumns = `id, chart_id, job_type, status, metadata, result_url, progress,
	attempts, max_attempts, locked_by, lease_expires_at, created_at, updated_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	var meta []byte
	err := row.Scan(&j.ID, &j.ChartID, &j.JobType, &j.Status, &meta, &j.ResultURL, &j.Progress,
		&j.Attempts, &j.MaxAttempts, &j.LockedBy, &j.LeaseExpiresAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &j.Metadata); err != nil {
			return nil, fmt.Errorf("decode job metadata: %w", err)
		}
	}
	return &j, nil
}

func (s *PgStore) Create(ctx context.Context, job *models.Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	meta, err := json.Marshal(job.Metadata)
	if err != nil {
		return fmt.Errorf("encode job metadata: %w", err)
	}
	err = s.db.QueryRow(ctx,
		`INSERT INTO jobs (id, chart_id, job_type, status, metadata, progress, max_attempts)
		 VALUES ($1, $2, $3, 'pending', $4, 0, $5)
		 RETURNING created_at, updated_at`,
		job.ID, job.ChartID, job.JobType, meta, job.MaxAttempts,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	job.Status = models.JobStatusPending
	return nil
}

func (s *PgStore) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	job, err := scanJob(s.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Claim moves the oldest pending job to processing under workerID. SKIP
// LOCKED plus the status condition keep concurrent workers from claiming the
// same row.
func (s *PgStore) Claim(ctx context.Context, workerID string, lease time.Duration) (*models.Job, error) {
	job, err := scanJob(s.db.QueryRow(ctx,
		`UPDATE jobs
		 SET status = 'processing', locked_by = $1, lease_expires_at = now() + make_interval(secs => $2::float8),
		     attempts = attempts + 1, metadata = metadata || jsonb_build_object('stage', $3::text),
		     updated_at = now()
		 WHERE id = (
			SELECT id FROM jobs
			WHERE status = 'pending'
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		 ) AND status = 'pending'
		 RETURNING `+jobColumns,
		workerID, lease.Seconds(), models.StageQueued,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

func (s *PgStore) ClaimByID(ctx context.Context, id uuid.UUID, workerID string, lease time.Duration) (*models.Job, error) {
	job, err := scanJob(s.db.QueryRow(ctx,
		`UPDATE jobs
		 SET status = 'processing', locked_by = $2, lease_expires_at = now() + make_interval(secs => $3::float8),
		     attempts = attempts + 1, updated_at = now()
		 WHERE id = $1 AND status = 'pending'
		 RETURNING `+jobColumns,
		id, workerID, lease.Seconds(),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrJobNotClaimable)
	}
	if err != nil {
		return nil, fmt.Errorf("claim job %s: %w", id, err)
	}
	return job, nil
}

// UpdateStage records progress and extends the lease.
func (s *PgStore) UpdateStage(ctx context.Context, id uuid.UUID, workerID, stage string, lease time.Duration) error {
	progress := models.StageProgress(stage)
	tag, err := s.db.Exec(ctx,
		`UPDATE jobs
		 SET metadata = metadata || jsonb_build_object('stage', $3::text),
		     progress = GREATEST(progress, $4), lease_expires_at = now() + make_interval(secs => $5::float8), updated_at = now()
		 WHERE id = $1 AND locked_by = $2 AND status = 'processing'`,
		id, workerID, stage, max(progress, 0), lease.Seconds(),
	)
	if err != nil {
		return fmt.Errorf("update job stage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", id, ErrLeaseLost)
	}
	return nil
}

func (s *PgStore) MarkDone(ctx context.Context, id uuid.UUID, workerID string, reportID uuid.UUID, resultURL string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE jobs
		 SET status = 'done', progress = 100, result_url = $4, locked_by = '', lease_expires_at = NULL,
		     metadata = (metadata - 'error') || jsonb_build_object('stage', 'done', 'report_id', $3::uuid),
		     updated_at = now()
		 WHERE id = $1 AND locked_by = $2 AND status = 'processing'`,
		id, workerID, reportID, resultURL,
	)
	if err != nil {
		return fmt.Errorf("mark job done: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", id, ErrLeaseLost)
	}
	return nil
}

func (s *PgStore) MarkFailed(ctx context.Context, id uuid.UUID, workerID, errText string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE jobs
		 SET status = 'failed', locked_by = '', lease_expires_at = NULL,
		     metadata = metadata || jsonb_build_object('stage', 'failed', 'error', $3::text),
		     updated_at = now()
		 WHERE id = $1 AND locked_by = $2 AND status = 'processing'`,
		id, workerID, errText,
	)
	if err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", id, ErrLeaseLost)
	}
	return nil
}

// RequeueExpired recovers jobs whose worker stopped renewing its lease.
// Jobs with attempts left go back to pending; the rest fail.
func (s *PgStore) RequeueExpired(ctx context.Context) (requeued, failed int, err error) {
	rows, err := s.db.Query(ctx,
		`UPDATE jobs
		 SET status = CASE WHEN attempts < max_attempts THEN 'pending' ELSE 'failed' END,
		     progress = CASE WHEN attempts < max_attempts THEN 0 ELSE progress END,
		     metadata = CASE WHEN attempts < max_attempts
		                     THEN metadata || jsonb_build_object('stage', $1::text)
		                     ELSE metadata || jsonb_build_object('stage', $2::text, 'error', $3::text)
		                END,
		     locked_by = '', lease_expires_at = NULL, updated_at = now()
		 WHERE status = 'processing' AND lease_expires_at < now()
		 RETURNING status`,
		models.StageQueued, models.StageFailed, LeaseExpiredMessage,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("requeue expired jobs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status models.JobStatus
		if err := rows.Scan(&status); err != nil {
			return requeued, failed, fmt.Errorf("scan requeued job: %w", err)
		}
		if status == models.JobStatusPending {
			requeued++
		} else {
			failed++
		}
	}
	return requeued, failed, rows.Err()
}

// LeaseExpiredMessage is recorded on jobs that ran out of attempts.
const LeaseExpiredMessage = "job timed out after repeated worker interruptions"
