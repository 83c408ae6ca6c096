package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaProvider_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		var req ollamaGenerateReq
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "be concise", req.System)
		assert.False(t, req.Stream)
		if assert.NotNil(t, req.Options) {
			assert.Equal(t, 20, req.Options.TopK)
		}

		_ = json.NewEncoder(w).Encode(ollamaGenerateResp{Response: "hello", Done: true, PromptEvalCount: 7, EvalCount: 3})
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL + "/")
	resp, err := p.Generate(context.Background(), TextRequest{
		Model:        "llama3",
		SystemPrompt: "be concise",
		Prompt:       "hi",
		Config:       GenerationConfig{TopK: 20},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, 10, resp.TotalTokens)
}

func TestOllamaProvider_StatusErrorIsClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewOllamaProvider(srv.URL).Embed(context.Background(), EmbeddingRequest{Input: []string{"x"}})
	require.Error(t, err)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.True(t, IsRetryable(err))
}

func TestCalculateCost(t *testing.T) {
	assert.InDelta(t, 0.00075, CalculateCost("gpt-4o-mini", 1000, 1000), 1e-9)
	assert.Zero(t, CalculateCost("llama3", 1000, 1000))
}
