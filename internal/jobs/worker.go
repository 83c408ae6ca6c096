package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/astroline/destinyai/internal/audit"
	"github.com/astroline/destinyai/internal/chart"
	"github.com/astroline/destinyai/internal/llm"
	"github.com/astroline/destinyai/internal/metrics"
	"github.com/astroline/destinyai/internal/models"
	"github.com/astroline/destinyai/internal/rag"
	"github.com/astroline/destinyai/internal/report"
)

type TextGenerator interface {
	GenerateText(ctx context.Context, prompt, systemPrompt string, gen llm.GenerationConfig, timeout time.Duration) (string, error)
}

type ReportSaver interface {
	Create(ctx context.Context, r *models.Report, jobID uuid.UUID) error
}

type Publisher interface {
	Publish(ctx context.Context, r *models.Report, body report.Body) (string, error)
}

type Ingestor interface {
	ProcessReportChunks(ctx context.Context, reportID uuid.UUID, text string) rag.IngestStats
}

// Deps are the collaborators a Worker drives. Publisher may be nil.
type Deps struct {
	Store     Store
	Charts    chart.Source
	LLM       TextGenerator
	Reports   ReportSaver
	Publisher Publisher
	Ingestor  Ingestor
}

type WorkerOptions struct {
	ID                string
	PollInterval      time.Duration
	Lease             time.Duration
	LeaseRenewal      time.Duration // heartbeat during generation and indexing, default Lease/3
	GenerationTimeout time.Duration
	Generation        llm.GenerationConfig
	Model             string // recorded on each report
}

const maxErrorLen = 500

type Worker struct {
	deps Deps
	opts WorkerOptions
	wake chan struct{}
	log  *slog.Logger
}

func NewWorker(deps Deps, opts WorkerOptions) *Worker {
	if opts.ID == "" {
		opts.ID = "worker-" + uuid.NewString()[:8]
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.Lease <= 0 {
		opts.Lease = 10 * time.Minute
	}
	if opts.LeaseRenewal <= 0 || opts.LeaseRenewal >= opts.Lease {
		opts.LeaseRenewal = opts.Lease / 3
	}
	if opts.Generation.MaxOutputTokens == 0 {
		opts.Generation = llm.GenerationConfig{Temperature: 0.8, TopP: 0.95, MaxOutputTokens: 4096}
	}
	return &Worker{
		deps: deps,
		opts: opts,
		wake: make(chan struct{}, 1),
		log:  slog.Default().With("worker_id", opts.ID),
	}
}

func (w *Worker) ID() string { return w.opts.ID }

// Run polls for pending jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("job worker started", "poll_interval", w.opts.PollInterval, "lease", w.opts.Lease)
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		w.drain(ctx)
		select {
		case <-ctx.Done():
			w.log.Info("job worker stopped")
			return nil
		case <-ticker.C:
		case <-w.wake:
		}
	}
}

// Wake makes Run poll immediately instead of waiting for the next tick.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Worker) drain(ctx context.Context) {
	for ctx.Err() == nil {
		ok, err := w.RunOnce(ctx)
		if err != nil {
			w.log.Error("claim job failed", "error", err)
			return
		}
		if !ok {
			return
		}
	}
}

// RunOnce claims and processes one pending job. It reports false when the
// queue was empty.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.deps.Store.Claim(ctx, w.opts.ID, w.opts.Lease)
	if errors.Is(err, ErrNoJob) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	w.process(ctx, job)
	return true, nil
}

// ProcessByID claims and processes a specific job. A job another worker
// already took is not an error.
func (w *Worker) ProcessByID(ctx context.Context, id uuid.UUID) error {
	job, err := w.deps.Store.ClaimByID(ctx, id, w.opts.ID, w.opts.Lease)
	if errors.Is(err, ErrJobNotClaimable) {
		return nil
	}
	if err != nil {
		return err
	}
	w.process(ctx, job)
	return nil
}

type outcome struct {
	reportID  uuid.UUID
	resultURL string
}

func (w *Worker) process(ctx context.Context, job *models.Job) {
	log := w.log.With("job_id", job.ID, "job_type", job.JobType, "attempt", job.Attempts)
	jobType := string(job.JobType)
	metrics.JobEvents.WithLabelValues(jobType, "claimed").Inc()
	log.Info("job claimed")

	start := time.Now()
	out, err := w.execute(audit.WithSubject(ctx, "job", job.ID.String()), job)

	// Terminal writes must land even when shutdown cancelled ctx mid-write.
	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	switch {
	case err == nil:
		if err := w.deps.Store.MarkDone(finalCtx, job.ID, w.opts.ID, out.reportID, out.resultURL); err != nil {
			log.Error("mark job done failed", "error", err)
			return
		}
		metrics.JobEvents.WithLabelValues(jobType, "done").Inc()
		log.Info("job done", "report_id", out.reportID, "duration", time.Since(start))
	case errors.Is(err, ErrLeaseLost):
		metrics.JobEvents.WithLabelValues(jobType, "lease_lost").Inc()
		log.Warn("job lease lost, abandoning", "error", err)
	case ctx.Err() != nil:
		log.Warn("job interrupted, lease recovery will requeue it", "stage_error", err)
	default:
		if err := w.deps.Store.MarkFailed(finalCtx, job.ID, w.opts.ID, truncate(err.Error(), maxErrorLen)); err != nil {
			log.Error("mark job failed failed", "error", err)
			return
		}
		metrics.JobEvents.WithLabelValues(jobType, "failed").Inc()
		log.Error("job failed", "error", err, "duration", time.Since(start))
	}
}

func (w *Worker) execute(ctx context.Context, job *models.Job) (outcome, error) {
	spec, err := DecodeSpec(job.JobType, job.Metadata)
	if err != nil {
		return outcome{}, err
	}

	clock := stageClock{}
	defer clock.stop()
	advance := func(stage string) error {
		clock.next(stage)
		return w.deps.Store.UpdateStage(ctx, job.ID, w.opts.ID, stage, w.opts.Lease)
	}

	if err := advance(models.StageLoadingChart); err != nil {
		return outcome{}, err
	}
	vars, err := w.promptVars(ctx, job.ChartID, spec)
	if err != nil {
		return outcome{}, err
	}

	if err := advance(models.StageBuildingPrompt); err != nil {
		return outcome{}, err
	}
	tmpl := spec.Template()
	system, user, err := tmpl.Build(vars)
	if err != nil {
		return outcome{}, fmt.Errorf("build prompt: %w", err)
	}

	if err := advance(models.StageGenerating); err != nil {
		return outcome{}, err
	}
	genCtx, release := w.holdLease(ctx, job.ID, models.StageGenerating)
	raw, err := w.deps.LLM.GenerateText(genCtx, user, system, w.opts.Generation, w.opts.GenerationTimeout)
	if lerr := release(); lerr != nil {
		return outcome{}, lerr
	}
	if err != nil {
		return outcome{}, fmt.Errorf("generate report: %w", err)
	}

	if err := advance(models.StageSavingReport); err != nil {
		return outcome{}, err
	}
	body, parsed := report.ParseBody(raw, spec.Title())
	if !parsed.OK() {
		w.log.Warn("report output not structured, storing as plain text",
			"job_id", job.ID, "kind", parsed.Kind, "error", parsed.Err)
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return outcome{}, fmt.Errorf("encode report body: %w", err)
	}
	rep := &models.Report{
		ChartID:       job.ChartID,
		Title:         body.Title,
		Body:          encoded,
		Model:         w.opts.Model,
		PromptVersion: tmpl.ID(),
	}
	if err := w.deps.Reports.Create(ctx, rep, job.ID); err != nil {
		return outcome{}, fmt.Errorf("save report: %w", err)
	}
	resultURL := w.publish(ctx, rep, body)

	if err := advance(models.StageIndexing); err != nil {
		return outcome{}, err
	}
	indexCtx, release := w.holdLease(ctx, job.ID, models.StageIndexing)
	w.deps.Ingestor.ProcessReportChunks(indexCtx, rep.ID, body.Markdown())
	if err := release(); err != nil {
		return outcome{}, err
	}

	return outcome{reportID: rep.ID, resultURL: resultURL}, nil
}

// holdLease renews the job lease every LeaseRenewal while a long step runs.
// Losing the lease cancels the returned context; release stops the renewals
// and reports ErrLeaseLost if that happened.
func (w *Worker) holdLease(ctx context.Context, jobID uuid.UUID, stage string) (context.Context, func() error) {
	stepCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	var lost error
	go func() {
		defer close(done)
		t := time.NewTicker(w.opts.LeaseRenewal)
		defer t.Stop()
		for {
			select {
			case <-stepCtx.Done():
				return
			case <-t.C:
				err := w.deps.Store.UpdateStage(stepCtx, jobID, w.opts.ID, stage, w.opts.Lease)
				switch {
				case err == nil, stepCtx.Err() != nil:
				case errors.Is(err, ErrLeaseLost):
					w.log.Warn("job lease lost mid-step", "job_id", jobID, "stage", stage)
					lost = err
					cancel()
					return
				default:
					w.log.Warn("renew job lease failed", "job_id", jobID, "stage", stage, "error", err)
				}
			}
		}
	}()
	return stepCtx, func() error {
		cancel()
		<-done
		return lost
	}
}

// promptVars loads every chart the variant needs.
func (w *Worker) promptVars(ctx context.Context, chartID uuid.UUID, spec Spec) (map[string]string, error) {
	primary, err := w.deps.Charts.Get(ctx, chartID)
	if err != nil {
		return nil, fmt.Errorf("load chart: %w", err)
	}
	vars := map[string]string{"chart": chart.Summary(primary.Data)}

	switch s := spec.(type) {
	case AnnualForecast:
		vars["target_year"] = strconv.Itoa(s.TargetYear)
	case LifeReading:
	case CompatibilityReading:
		partner, err := w.deps.Charts.Get(ctx, s.PartnerChartID)
		if err != nil {
			return nil, fmt.Errorf("load partner chart: %w", err)
		}
		vars["partner_chart"] = chart.Summary(partner.Data)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownJobType, spec)
	}
	return vars, nil
}

// publish uploads the report artifact. Failure leaves result_url empty.
func (w *Worker) publish(ctx context.Context, rep *models.Report, body report.Body) string {
	if w.deps.Publisher == nil {
		return ""
	}
	url, err := w.deps.Publisher.Publish(ctx, rep, body)
	if err != nil {
		w.log.Warn("report artifact upload failed", "report_id", rep.ID, "error", err)
		return ""
	}
	return url
}

type stageClock struct {
	stage string
	start time.Time
}

func (c *stageClock) next(stage string) {
	c.stop()
	c.stage, c.start = stage, time.Now()
}

func (c *stageClock) stop() {
	if c.stage != "" {
		metrics.JobStageDuration.WithLabelValues(c.stage).Observe(time.Since(c.start).Seconds())
		c.stage = ""
	}
}

func truncate(s string, maxRunes int) string {
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	return string(r[:maxRunes])
}
