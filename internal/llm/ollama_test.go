package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kberrors "github.com/Aman-CERP/ragkb/internal/errors"
)

func fastRetry() kberrors.RetryConfig {
	return kberrors.RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func TestOllamaGenerator_Generate(t *testing.T) {
	var got ollamaGenerateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(ollamaGenerateResponse{Model: got.Model, Response: "  2,0,1 \n", Done: true})
	}))
	defer srv.Close()

	g := NewOllamaGenerator(OllamaConfig{Host: srv.URL + "/", Model: "llama3.2", MaxTokens: 256, Temperature: 0.2})
	defer func() { _ = g.Close() }()

	// When: a request overrides model and temperature
	out, err := g.Generate(context.Background(), Request{
		Prompt:      "rank these",
		System:      "you rank passages",
		Model:       "qwen2.5",
		Temperature: 0.7,
	})

	// Then: the response is trimmed and the overrides reach the server
	require.NoError(t, err)
	assert.Equal(t, "2,0,1", out)
	assert.Equal(t, "qwen2.5", got.Model)
	assert.Equal(t, "rank these", got.Prompt)
	assert.Equal(t, "you rank passages", got.System)
	assert.False(t, got.Stream)
	assert.InDelta(t, 0.7, got.Options.Temperature, 1e-9)
	assert.Equal(t, 256, got.Options.NumPredict)
}

func TestOllamaGenerator_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "loading model", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(ollamaGenerateResponse{Response: "ok", Done: true})
	}))
	defer srv.Close()

	g := NewOllamaGenerator(OllamaConfig{Host: srv.URL, Retry: fastRetry()})
	out, err := g.Generate(context.Background(), Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOllamaGenerator_BadRequestIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	g := NewOllamaGenerator(OllamaConfig{Host: srv.URL, Retry: fastRetry()})
	_, err := g.Generate(context.Background(), Request{Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, kberrors.ErrCodeProviderResponse, kberrors.GetCode(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestOllamaGenerator_HasModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tags", r.URL.Path)
		_, _ = w.Write([]byte(`{"models":[{"name":"llama3.2:latest"},{"name":"nomic-embed-text:latest"}]}`))
	}))
	defer srv.Close()

	tests := []struct {
		model string
		want  bool
	}{
		{"llama3.2", true},
		{"LLAMA3.2:latest", true},
		{"mistral", false},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			g := NewOllamaGenerator(OllamaConfig{Host: srv.URL, Model: tt.model})
			ok, err := g.HasModel(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestOllamaGenerator_ListModelsUnreachable(t *testing.T) {
	g := NewOllamaGenerator(OllamaConfig{Host: "http://127.0.0.1:1"})
	_, err := g.ListModels(context.Background())
	require.Error(t, err)
	assert.Equal(t, kberrors.ErrCodeProviderUnavailable, kberrors.GetCode(err))
}
