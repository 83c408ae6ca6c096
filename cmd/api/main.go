package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/astroline/destinyai/internal/api"
	"github.com/astroline/destinyai/internal/api/handlers"
	"github.com/astroline/destinyai/internal/audit"
	"github.com/astroline/destinyai/internal/cache"
	"github.com/astroline/destinyai/internal/config"
	"github.com/astroline/destinyai/internal/conversation"
	"github.com/astroline/destinyai/internal/database"
	"github.com/astroline/destinyai/internal/guardrails"
	"github.com/astroline/destinyai/internal/jobs"
	"github.com/astroline/destinyai/internal/llm"
	"github.com/astroline/destinyai/internal/qa"
	"github.com/astroline/destinyai/internal/queue"
	"github.com/astroline/destinyai/internal/quota"
	"github.com/astroline/destinyai/internal/rag"
	"github.com/astroline/destinyai/internal/report"
	"github.com/astroline/destinyai/internal/vectorstore"
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

	if cfg.Database.AutoMigrate {
		if err := database.RunMigrations(ctx, db, database.Migrations); err != nil {
			slog.Error("migrations failed", "error", err)
			os.Exit(1)
		}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	embCache := cache.NewCache(rdb)
	if err := embCache.Ping(ctx); err != nil {
		slog.Warn("redis unavailable, query embeddings will not be cached", "error", err)
	}

	ledger := audit.NewLedger(db)
	llmClient, err := llm.NewClientFromConfig(cfg.LLM, cfg.Embedding.Dimension, ledger)
	if err != nil {
		slog.Error("failed to build LLM client", "error", err)
		os.Exit(1)
	}

	quotas := quota.NewManager(quota.NewPgStore(db))
	retriever := rag.NewRetriever(vectorstore.NewPgVectorStore(db), llmClient, embCache, rag.RetrieverOptions{
		Model:    cfg.LLM.EmbeddingModel,
		CacheTTL: cfg.Embedding.CacheTTL,
	})
	qaSvc := qa.NewService(qa.Deps{
		Reports:       report.NewPgStore(db),
		Screen:        guardrails.QuestionPipeline(qa.MaxQuestionRunes),
		Quota:         quotas,
		Conversations: conversation.NewManager(conversation.NewPgStore(db)),
		Retriever:     retriever,
		Generator:     rag.NewGenerator(llmClient, cfg.LLM.TextTimeout),
	}, qa.Options{
		ContextLimit:        cfg.QA.ContextLimit,
		SearchLimit:         cfg.QA.SearchLimit,
		SimilarityThreshold: cfg.QA.SimilarityThreshold,
		PromptTokens:        cfg.QA.PromptTokens,
	})

	queueClient := queue.NewClient(cfg.Redis)
	defer queueClient.Close()

	router := api.NewRouter(cfg, api.Deps{
		QA:     qaSvc,
		Jobs:   jobs.NewPgStore(db),
		Waker:  queueClient,
		Quota:  quotas,
		Usage:  ledger,
		Checks: map[string]handlers.Pinger{"database": db, "redis": embCache},
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router.Setup(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.LLM.TextTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting API server", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		router.RateLimiter().RunSweeper(gctx.Done(), time.Minute)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
