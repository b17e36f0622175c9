package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	kberrors "github.com/Aman-CERP/ragkb/internal/errors"
)

const (
	// DefaultOllamaHost is the default Ollama API endpoint
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is a general-purpose text embedding model.
	DefaultOllamaModel = "nomic-embed-text"

	ollamaPoolSize = 4
)

// OllamaConfig configures the Ollama embedder
type OllamaConfig struct {
	Host  string
	Model string

	// Dimensions overrides auto-detection (0 = detect from a probe request).
	Dimensions int

	// Timeout bounds each HTTP round trip.
	Timeout time.Duration

	Retry kberrors.RetryConfig

	// SkipHealthCheck skips the model probe (for tests).
	SkipHealthCheck bool
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// OllamaEmbedder generates embeddings using Ollama's HTTP API.
type OllamaEmbedder struct {
	client    *http.Client
	transport *http.Transport
	config    OllamaConfig
	dims      int

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates an Ollama embedder. Unless SkipHealthCheck is set
// it verifies the model is installed and detects its width.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry = kberrors.DefaultRetryConfig()
	}

	// No http.Client.Timeout: per-request deadlines come from the context.
	transport := &http.Transport{
		MaxIdleConns:        ollamaPoolSize,
		MaxIdleConnsPerHost: ollamaPoolSize,
		IdleConnTimeout:     30 * time.Second,
	}
	e := &OllamaEmbedder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		dims:      cfg.Dimensions,
	}

	if !cfg.SkipHealthCheck {
		if !e.Available(ctx) {
			transport.CloseIdleConnections()
			return nil, kberrors.ProviderError(kberrors.ErrCodeProviderUnavailable,
				fmt.Sprintf("ollama model %q is not available at %s", cfg.Model, cfg.Host), nil).
				WithSuggestion("run: ollama pull " + cfg.Model)
		}
		if e.dims == 0 {
			vecs, err := e.EmbedBatch(ctx, []string{"dimension probe"})
			if err != nil {
				transport.CloseIdleConnections()
				return nil, err
			}
			e.dims = len(vecs[0])
		}
	}
	if e.dims == 0 {
		e.dims = DefaultDimensions
	}

	return e, nil
}

// Embed generates embedding for a single text
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch sends all non-empty texts in a single /api/embed request.
// Blank inputs get zero vectors without a round trip.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, kberrors.ProviderError(kberrors.ErrCodeProviderUnavailable, "embedder is closed", nil)
	}

	results := make([][]float32, len(texts))
	var (
		input []string
		index []int
	)
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = make([]float32, e.Dimensions())
			continue
		}
		input = append(input, text)
		index = append(index, i)
	}
	if len(input) == 0 {
		return results, nil
	}

	vecs, err := kberrors.RetryWithResult(ctx, e.config.Retry, func() ([][]float32, error) {
		return e.doEmbed(ctx, input)
	})
	if err != nil {
		return nil, err
	}
	for j, i := range index {
		results[i] = vecs[j]
	}
	return results, nil
}

func (e *OllamaEmbedder) doEmbed(ctx context.Context, input []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	body, err := json.Marshal(ollamaEmbedRequest{Model: e.config.Model, Input: input})
	if err != nil {
		return nil, kberrors.InternalError("failed to marshal embed request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, kberrors.InternalError("failed to create embed request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		code := kberrors.ErrCodeProviderUnavailable
		if ctx.Err() == context.DeadlineExceeded {
			code = kberrors.ErrCodeProviderTimeout
		}
		return nil, kberrors.ProviderError(code, "ollama embed request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		code := kberrors.ErrCodeProviderResponse
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			code = kberrors.ErrCodeProviderUnavailable
		}
		return nil, kberrors.ProviderError(code,
			fmt.Sprintf("ollama embed failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), nil)
	}

	var out ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, kberrors.ProviderError(kberrors.ErrCodeProviderResponse, "failed to decode ollama embed response", err)
	}
	if len(out.Embeddings) != len(input) {
		return nil, kberrors.ProviderError(kberrors.ErrCodeProviderResponse,
			fmt.Sprintf("ollama returned %d embeddings for %d inputs", len(out.Embeddings), len(input)), nil)
	}

	vecs := make([][]float32, len(out.Embeddings))
	for i, emb := range out.Embeddings {
		v := make([]float32, len(emb))
		for j, x := range emb {
			v[j] = float32(x)
		}
		vecs[i] = normalizeVector(v)
	}

	slog.Debug("ollama_embed",
		slog.String("model", e.config.Model),
		slog.Int("inputs", len(input)),
		slog.Duration("took", time.Since(start)))
	return vecs, nil
}

// Dimensions returns the embedding dimension
func (e *OllamaEmbedder) Dimensions() int {
	if e.dims == 0 {
		return DefaultDimensions
	}
	return e.dims
}

// ModelName returns the model identifier
func (e *OllamaEmbedder) ModelName() string {
	return e.config.Model
}

// Available checks if Ollama is running and the model is installed.
// Names match with or without a tag, so "nomic-embed-text" finds
// "nomic-embed-text:latest".
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return false
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false
	}
	want := strings.ToLower(e.config.Model)
	wantBase := strings.Split(want, ":")[0]
	for _, m := range tags.Models {
		name := strings.ToLower(m.Name)
		if name == want || strings.Split(name, ":")[0] == wantBase {
			return true
		}
	}
	return false
}

// Close releases resources
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.transport.CloseIdleConnections()
	return nil
}
