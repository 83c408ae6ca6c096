package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	LLM       LLMConfig
	Storage   StorageConfig
	Embedding EmbeddingConfig
	Chunking  ChunkingConfig
	Worker    WorkerConfig
	QA        QAConfig
}

type ServerConfig struct {
	Host           string   `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Port           int      `env:"SERVER_PORT" envDefault:"8080"`
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	RateLimitRPS   float64  `env:"RATE_LIMIT_RPS" envDefault:"10"`
	RateLimitBurst int      `env:"RATE_LIMIT_BURST" envDefault:"20"`
}

type DatabaseConfig struct {
	URL         string `env:"DATABASE_URL"`
	MaxConns    int    `env:"DB_MAX_CONNS" envDefault:"20"`
	MinConns    int    `env:"DB_MIN_CONNS" envDefault:"5"`
	AutoMigrate bool   `env:"DB_AUTO_MIGRATE" envDefault:"true"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

type AuthConfig struct {
	JWTSecret    string `env:"SUPABASE_JWT_SECRET"`
	ServiceKey   string `env:"SERVICE_API_KEY"` // shared secret for server-to-server calls
	APIKeyHeader string `env:"API_KEY_HEADER" envDefault:"X-API-Key"`
}

type LLMConfig struct {
	OpenAIKey        string        `env:"OPENAI_API_KEY"`
	AnthropicKey     string        `env:"ANTHROPIC_API_KEY"`
	OllamaURL        string        `env:"OLLAMA_URL"`
	DefaultProvider  string        `env:"LLM_DEFAULT_PROVIDER" envDefault:"openai"`
	DefaultModel     string        `env:"LLM_DEFAULT_MODEL" envDefault:"gpt-4o-mini"`
	EmbeddingModel   string        `env:"LLM_EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
	FallbackProvider string        `env:"LLM_FALLBACK_PROVIDER"`
	MaxRetries       int           `env:"LLM_MAX_RETRIES" envDefault:"3"`
	BaseDelay        time.Duration `env:"LLM_RETRY_BASE_DELAY" envDefault:"1s"`
	TextTimeout      time.Duration `env:"LLM_TEXT_TIMEOUT" envDefault:"120s"`
	EmbedTimeout     time.Duration `env:"LLM_EMBED_TIMEOUT" envDefault:"30s"`
}

type StorageConfig struct {
	SupabaseURL string `env:"SUPABASE_URL"`
	SupabaseKey string `env:"SUPABASE_SERVICE_KEY"`
	Bucket      string `env:"STORAGE_BUCKET" envDefault:"reports"`
}

// SchemaEmbeddingDimension is the width of report_chunks.embedding in the
// migrations. EMBEDDING_DIMENSION must match it.
const SchemaEmbeddingDimension = 1536

type EmbeddingConfig struct {
	Dimension  int           `env:"EMBEDDING_DIMENSION" envDefault:"1536"`
	BatchSize  int           `env:"EMBEDDING_BATCH_SIZE" envDefault:"10"`
	ItemDelay  time.Duration `env:"EMBEDDING_ITEM_DELAY" envDefault:"100ms"`
	BatchDelay time.Duration `env:"EMBEDDING_BATCH_DELAY" envDefault:"500ms"`
	CacheTTL   time.Duration `env:"EMBEDDING_CACHE_TTL" envDefault:"24h"`
}

type ChunkingConfig struct {
	ChunkSize int `env:"CHUNK_SIZE" envDefault:"600"`
	Overlap   int `env:"CHUNK_OVERLAP" envDefault:"100"`
	MinChunk  int `env:"CHUNK_MIN_SIZE" envDefault:"100"`
}

type WorkerConfig struct {
	PollInterval    time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"2s"`
	LeaseDuration   time.Duration `env:"WORKER_LEASE_DURATION" envDefault:"10m"`
	MaxAttempts     int           `env:"WORKER_MAX_ATTEMPTS" envDefault:"3"`
	RequeueInterval time.Duration `env:"WORKER_REQUEUE_INTERVAL" envDefault:"1m"`
	CleanupInterval time.Duration `env:"WORKER_CLEANUP_INTERVAL" envDefault:"1h"`
	Concurrency     int           `env:"WORKER_CONCURRENCY" envDefault:"4"`
}

type QAConfig struct {
	ContextLimit        int     `env:"QA_CONTEXT_LIMIT" envDefault:"10"`
	SearchLimit         int     `env:"QA_SEARCH_LIMIT" envDefault:"5"`
	SimilarityThreshold float64 `env:"QA_SIMILARITY_THRESHOLD" envDefault:"0.3"`
	PromptTokens        int     `env:"QA_PROMPT_TOKENS" envDefault:"6000"`
}

// Load parses environment variables into Config. Every malformed value is
// reported, not just the first.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) Validate() error {
	var missing []string
	if c.Database.URL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	switch c.LLM.DefaultProvider {
	case "openai":
		if c.LLM.OpenAIKey == "" {
			missing = append(missing, "OPENAI_API_KEY")
		}
	case "anthropic":
		if c.LLM.AnthropicKey == "" {
			missing = append(missing, "ANTHROPIC_API_KEY")
		}
	case "ollama":
		if c.LLM.OllamaURL == "" {
			missing = append(missing, "OLLAMA_URL")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	if c.Chunking.Overlap >= c.Chunking.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP (%d) must be smaller than CHUNK_SIZE (%d)", c.Chunking.Overlap, c.Chunking.ChunkSize)
	}
	if c.Embedding.Dimension != SchemaEmbeddingDimension {
		return fmt.Errorf("EMBEDDING_DIMENSION (%d) must equal the report_chunks vector width (%d)",
			c.Embedding.Dimension, SchemaEmbeddingDimension)
	}
	return nil
}
