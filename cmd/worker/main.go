package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/astroline/destinyai/internal/audit"
	"github.com/astroline/destinyai/internal/chart"
	"github.com/astroline/destinyai/internal/config"
	"github.com/astroline/destinyai/internal/conversation"
	"github.com/astroline/destinyai/internal/database"
	"github.com/astroline/destinyai/internal/embedding"
	"github.com/astroline/destinyai/internal/jobs"
	"github.com/astroline/destinyai/internal/llm"
	"github.com/astroline/destinyai/internal/queue"
	"github.com/astroline/destinyai/internal/queue/workers"
	"github.com/astroline/destinyai/internal/rag"
	"github.com/astroline/destinyai/internal/report"
	"github.com/astroline/destinyai/internal/storage"
	"github.com/astroline/destinyai/internal/vectorstore"
	"github.com/astroline/destinyai/pkg/chunker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to read .env", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		slog.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	llmClient, err := llm.NewClientFromConfig(cfg.LLM, cfg.Embedding.Dimension, audit.NewLedger(db))
	if err != nil {
		slog.Error("failed to build LLM client", "error", err)
		os.Exit(1)
	}

	jobStore := jobs.NewPgStore(db)
	ingestor := rag.NewIngestor(
		vectorstore.NewPgVectorStore(db),
		embedding.NewService(llmClient, embedding.OptionsFromConfig(cfg.Embedding)),
		chunker.ChunkOptions{
			ChunkSize:    cfg.Chunking.ChunkSize,
			ChunkOverlap: cfg.Chunking.Overlap,
			MinChunk:     cfg.Chunking.MinChunk,
		},
	)
	bucket := storage.NewSupabaseBucket(cfg.Storage.SupabaseURL, cfg.Storage.SupabaseKey, cfg.Storage.Bucket)
	deps := jobs.Deps{
		Store:     jobStore,
		Charts:    chart.NewPgSource(db),
		LLM:       llmClient,
		Reports:   report.NewPgStore(db),
		Publisher: report.NewPublisher(bucket),
		Ingestor:  ingestor,
	}

	host, _ := os.Hostname()
	newWorker := func(suffix string) *jobs.Worker {
		return jobs.NewWorker(deps, jobs.WorkerOptions{
			ID:                fmt.Sprintf("%s-%s", host, suffix),
			PollInterval:      cfg.Worker.PollInterval,
			Lease:             cfg.Worker.LeaseDuration,
			GenerationTimeout: cfg.LLM.TextTimeout,
			Model:             cfg.LLM.DefaultModel,
		})
	}

	concurrency := max(cfg.Worker.Concurrency, 1)
	pollers := make([]*jobs.Worker, concurrency)
	for i := range pollers {
		pollers[i] = newWorker(fmt.Sprintf("poll-%d", i))
	}
	wakeAll := func() {
		for _, w := range pollers {
			w.Wake()
		}
	}

	registry := queue.NewHandlersRegistry()
	workers.Register(registry,
		newWorker("wake"),
		jobStore,
		wakeAll,
		conversation.NewManager(conversation.NewPgStore(db)),
	)

	redisOpt := queue.RedisOpt(cfg.Redis)
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			"default": 1,
		},
	})
	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{})
	if err := queue.RegisterMaintenance(scheduler, queue.MaintenanceSchedule{
		RequeueEvery: cfg.Worker.RequeueInterval,
		CleanupEvery: cfg.Worker.CleanupInterval,
	}); err != nil {
		slog.Error("failed to register maintenance tasks", "error", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range pollers {
		g.Go(func() error { return w.Run(gctx) })
	}
	g.Go(func() error {
		if err := srv.Start(registry.Mux()); err != nil {
			return fmt.Errorf("start task server: %w", err)
		}
		<-gctx.Done()
		srv.Shutdown()
		return nil
	})
	g.Go(func() error {
		if err := scheduler.Start(); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		<-gctx.Done()
		scheduler.Shutdown()
		return nil
	})

	slog.Info("starting worker", "pollers", concurrency, "lease", cfg.Worker.LeaseDuration)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}
	slog.Info("worker stopped")
}
