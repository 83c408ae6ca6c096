package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/astroline/destinyai/internal/api/handlers"
	"github.com/astroline/destinyai/internal/api/middleware"
	"github.com/astroline/destinyai/internal/auth"
	"github.com/astroline/destinyai/internal/config"
)

// Deps are the services the HTTP surface fronts.
type Deps struct {
	QA     handlers.QAService
	Jobs   handlers.JobStore
	Waker  handlers.JobWaker
	Quota  handlers.ExtraQuestionAdder
	Usage  handlers.UsageReporter
	Checks map[string]handlers.Pinger
}

type Router struct {
	mux  *chi.Mux
	cfg  *config.Config
	deps Deps
	jwt  *auth.JWTMiddleware
	key  *auth.APIKeyMiddleware
	rl   *middleware.RateLimiter
}

func NewRouter(cfg *config.Config, deps Deps) *Router {
	return &Router{
		mux:  chi.NewRouter(),
		cfg:  cfg,
		deps: deps,
		jwt:  auth.NewJWTMiddleware(cfg.Auth.JWTSecret),
		key:  auth.NewAPIKeyMiddleware(cfg.Auth.APIKeyHeader, cfg.Auth.ServiceKey),
		rl:   middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst),
	}
}

// RateLimiter exposes the limiter so the caller can run its sweeper.
func (rt *Router) RateLimiter() *middleware.RateLimiter { return rt.rl }

func (rt *Router) Setup() http.Handler {
	r := rt.mux

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(rt.cfg.Server.AllowedOrigins))

	health := handlers.NewHealthHandler(rt.deps.Checks)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)
	r.Handle("/metrics", promhttp.Handler())

	qaH := handlers.NewQAHandler(rt.deps.QA)
	jobH := handlers.NewJobHandler(rt.deps.Jobs, rt.deps.Waker, rt.cfg.Worker.MaxAttempts)
	usageH := handlers.NewUsageHandler(rt.deps.Quota, rt.deps.Usage)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(rt.rl.Limit)

		r.Group(func(r chi.Router) {
			r.Use(rt.jwt.Identify)

			r.Route("/reports/{reportID}", func(r chi.Router) {
				r.Post("/questions", qaH.Ask)
				r.Get("/conversations", qaH.History)
			})

			r.Route("/jobs", func(r chi.Router) {
				r.Post("/", jobH.Create)
				r.Get("/{id}", jobH.Get)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(rt.key.Require)
			r.Post("/usage/extra-questions", usageH.AddExtraQuestions)
			r.Get("/usage/llm", usageH.LLMUsage)
		})
	})

	return r
}
