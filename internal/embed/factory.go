package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Aman-CERP/ragkb/internal/config"
	kberrors "github.com/Aman-CERP/ragkb/internal/errors"
)

// ProviderType names an embedding provider.
type ProviderType string

const (
	ProviderOllama ProviderType = "ollama"
	ProviderGemini ProviderType = "gemini"
	// ProviderStatic uses hash embeddings and needs no network.
	ProviderStatic ProviderType = "static"
)

// NewEmbedder builds the configured provider, then layers throttling and the
// query cache on top. An explicitly selected provider that is unreachable is
// an error; there is no silent fallback to static vectors, because mixing
// widths or vector spaces in one index corrupts retrieval.
func NewEmbedder(ctx context.Context, cfg config.EmbeddingConfig) (Embedder, error) {
	var (
		base Embedder
		err  error
	)

	switch ProviderType(strings.ToLower(cfg.Provider)) {
	case ProviderOllama, "":
		base, err = NewOllamaEmbedder(ctx, OllamaConfig{
			Host:       cfg.OllamaHost,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Timeout:    cfg.Timeout,
		})
	case ProviderGemini:
		model := cfg.Model
		if model == "" || model == DefaultOllamaModel {
			model = DefaultGeminiModel
		}
		base, err = NewGeminiEmbedder(ctx, GeminiConfig{
			APIKey:     cfg.APIKey,
			Model:      model,
			Dimensions: cfg.Dimensions,
		})
	case ProviderStatic:
		base = NewStaticEmbedder(cfg.Dimensions)
	default:
		return nil, kberrors.ConfigError(fmt.Sprintf("unknown embedding provider %q", cfg.Provider), nil)
	}
	if err != nil {
		return nil, err
	}

	var e Embedder = base
	if cfg.RequestsPerSecond > 0 {
		e = NewRateLimitedEmbedder(e, cfg.RequestsPerSecond, cfg.Burst)
	}
	if cfg.CacheSize > 0 {
		e = NewCachedEmbedder(e, cfg.CacheSize)
	}

	slog.Info("embedder_ready",
		slog.String("provider", cfg.Provider),
		slog.String("model", e.ModelName()),
		slog.Int("dimensions", e.Dimensions()),
		slog.Int("cache_size", cfg.CacheSize),
		slog.Float64("rps", cfg.RequestsPerSecond))
	return e, nil
}
