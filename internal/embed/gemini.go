package embed

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"

	kberrors "github.com/Aman-CERP/ragkb/internal/errors"
)

// DefaultGeminiModel is the Gemini embedding model used when none is configured.
const DefaultGeminiModel = "gemini-embedding-001"

// GeminiConfig configures the Gemini embedder.
type GeminiConfig struct {
	APIKey     string
	Model      string
	Dimensions int
	Retry      kberrors.RetryConfig
}

// GeminiEmbedder calls the Gemini embedContent API. One EmbedBatch call sends
// every input as a separate content in a single request.
type GeminiEmbedder struct {
	client *genai.Client
	config GeminiConfig

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*GeminiEmbedder)(nil)

// NewGeminiEmbedder creates a Gemini embedder. An API key is required.
func NewGeminiEmbedder(ctx context.Context, cfg GeminiConfig) (*GeminiEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, kberrors.ConfigError("gemini embedder requires an API key", nil).
			WithSuggestion("set GEMINI_API_KEY in the environment or .env")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry = kberrors.DefaultRetryConfig()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, kberrors.ProviderError(kberrors.ErrCodeProviderUnavailable, "failed to initialize genai client", err)
	}
	return &GeminiEmbedder{client: client, config: cfg}, nil
}

// Embed generates embedding for a single text
func (g *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds all non-blank texts in one request.
func (g *GeminiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	g.mu.RLock()
	closed := g.closed
	g.mu.RUnlock()
	if closed {
		return nil, kberrors.ProviderError(kberrors.ErrCodeProviderUnavailable, "embedder is closed", nil)
	}

	results := make([][]float32, len(texts))
	var (
		contents []*genai.Content
		index    []int
	)
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = make([]float32, g.config.Dimensions)
			continue
		}
		contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))
		index = append(index, i)
	}
	if len(contents) == 0 {
		return results, nil
	}

	dims := int32(g.config.Dimensions)
	cfg := &genai.EmbedContentConfig{OutputDimensionality: &dims}

	resp, err := kberrors.RetryWithResult(ctx, g.config.Retry, func() (*genai.EmbedContentResponse, error) {
		r, err := g.client.Models.EmbedContent(ctx, g.config.Model, contents, cfg)
		if err != nil {
			// The SDK does not expose a typed status; treat call failures as transient.
			return nil, kberrors.ProviderError(kberrors.ErrCodeProviderUnavailable, "gemini embed request failed", err)
		}
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Embeddings) != len(contents) {
		got := 0
		if resp != nil {
			got = len(resp.Embeddings)
		}
		return nil, kberrors.ProviderError(kberrors.ErrCodeProviderResponse,
			fmt.Sprintf("gemini returned %d embeddings for %d inputs", got, len(contents)), nil)
	}

	for j, i := range index {
		vals := resp.Embeddings[j].Values
		if len(vals) != g.config.Dimensions {
			return nil, kberrors.New(kberrors.ErrCodeDimensionMismatch,
				fmt.Sprintf("embedding dimension mismatch: expected %d, got %d", g.config.Dimensions, len(vals)), nil)
		}
		results[i] = normalizeVector(vals)
	}
	return results, nil
}

// Dimensions returns the requested output dimensionality.
func (g *GeminiEmbedder) Dimensions() int {
	return g.config.Dimensions
}

// ModelName returns the model identifier
func (g *GeminiEmbedder) ModelName() string {
	return g.config.Model
}

// Available reports whether the client is open. It does not spend a request.
func (g *GeminiEmbedder) Available(_ context.Context) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return !g.closed && g.client != nil
}

// Close marks the embedder closed.
func (g *GeminiEmbedder) Close() error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	return nil
}
