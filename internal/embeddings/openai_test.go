package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIProvider_Embed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-small", req["model"])
		assert.EqualValues(t, 256, req["dimensions"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[{"object":"embedding","index":0,"embedding":[0.5,0.25]}],"model":"text-embedding-3-small"}`))
	}))
	defer server.Close()

	p, err := NewOpenAIProvider(OpenAIConfig{
		BaseURL:   server.URL + "/v1",
		APIKey:    "sk-test",
		Model:     "text-embedding-3-small",
		Dimension: 256,
	})
	require.NoError(t, err)
	assert.Equal(t, 256, p.Dimension())

	vec, err := p.Embed(context.Background(), "File: y.py")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.25}, vec)
}

func TestOpenAIProvider_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
	}))
	defer server.Close()

	p, err := NewOpenAIProvider(OpenAIConfig{BaseURL: server.URL + "/v1", APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, 1536, p.Dimension())

	_, err = p.Embed(context.Background(), "text")
	var embErr *EmbeddingError
	require.ErrorAs(t, err, &embErr)
	assert.Equal(t, http.StatusTooManyRequests, embErr.StatusCode)
	assert.True(t, retryable(err))
}

func TestNewOpenAIProvider_Validation(t *testing.T) {
	_, err := NewOpenAIProvider(OpenAIConfig{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewOpenAIProvider(OpenAIConfig{Azure: true, APIKey: "k"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	p, err := NewOpenAIProvider(OpenAIConfig{Azure: true, APIKey: "k", BaseURL: "https://example.openai.azure.com", Model: "text-embedding-3-large"})
	require.NoError(t, err)
	assert.Equal(t, 3072, p.Dimension())
}
