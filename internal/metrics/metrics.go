package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "destinyai"

var (
	// HTTPRequests counts API requests by route pattern and status code.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// JobEvents counts job lifecycle transitions.
	// Labels: job_type, event (claimed, done, failed, requeued, expired)
	JobEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "events_total",
			Help:      "Job lifecycle events",
		},
		[]string{"job_type", "event"},
	)

	JobStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each job stage",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"stage"},
	)

	// LLMCalls counts upstream attempts.
	// Labels: operation (generate_text, generate_embedding), provider, outcome (success, retry, failure)
	LLMCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "attempts_total",
			Help:      "LLM upstream attempts by outcome",
		},
		[]string{"operation", "provider", "outcome"},
	)

	LLMLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "call_duration_seconds",
			Help:      "Wall time of wrapped LLM calls including retries",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"operation", "provider"},
	)

	EmbeddingFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "embedding",
		Name:      "zero_vector_fallbacks_total",
		Help:      "Embeddings replaced by a zero vector after a failure",
	})

	IngestedChunks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "chunks_total",
		Help:      "Report chunks written to the vector store",
	})

	IngestFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "failures_total",
		Help:      "Report ingestions that failed and were swallowed",
	})

	// QARequests counts question outcomes: answered, no_context, quota_exceeded, rejected, error.
	QARequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "qa",
			Name:      "requests_total",
			Help:      "Question answering requests by outcome",
		},
		[]string{"tier", "outcome"},
	)

	EmbeddingCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rag",
			Name:      "embedding_cache_lookups_total",
			Help:      "Query embedding cache lookups by result",
		},
		[]string{"result"},
	)
)
