package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 3, cfg.LLM.MaxRetries)
	assert.Equal(t, time.Second, cfg.LLM.BaseDelay)
	assert.Equal(t, 10, cfg.Embedding.BatchSize)
	assert.Equal(t, 600, cfg.Chunking.ChunkSize)
	assert.Equal(t, 100, cfg.Chunking.Overlap)
	assert.Equal(t, 100, cfg.Chunking.MinChunk)
	assert.True(t, cfg.Database.AutoMigrate)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "X-API-Key", cfg.Auth.APIKeyHeader)
	assert.Equal(t, 6000, cfg.QA.PromptTokens)
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("LLM_MAX_RETRIES", "5")
	t.Setenv("LLM_RETRY_BASE_DELAY", "250ms")
	t.Setenv("QA_SIMILARITY_THRESHOLD", "0.55")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example,https://admin.example")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.LLM.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.LLM.BaseDelay)
	assert.InDelta(t, 0.55, cfg.QA.SimilarityThreshold, 1e-9)
	assert.Equal(t, []string{"https://app.example", "https://admin.example"}, cfg.Server.AllowedOrigins)
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("SERVER_PORT", "not-a-port")
	t.Setenv("WORKER_LEASE_DURATION", "ten minutes")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not-a-port")
	assert.Contains(t, err.Error(), "ten minutes")
}

func TestValidate(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("OPENAI_API_KEY", "")

	cfg, err := Load()
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")

	cfg.Database.URL = "postgres://localhost/destiny"
	cfg.LLM.OpenAIKey = "sk-test"
	assert.NoError(t, cfg.Validate())

	cfg.Chunking.Overlap = cfg.Chunking.ChunkSize
	assert.Error(t, cfg.Validate())
}

func TestValidate_EmbeddingDimensionMustMatchSchema(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/destiny")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("EMBEDDING_DIMENSION", "768")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 768, cfg.Embedding.Dimension)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EMBEDDING_DIMENSION")

	cfg.Embedding.Dimension = SchemaEmbeddingDimension
	assert.NoError(t, cfg.Validate())
}
