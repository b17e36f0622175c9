package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/ragkb/internal/config"
	kberrors "github.com/Aman-CERP/ragkb/internal/errors"
)

func TestNewEmbedder_StaticWithDecorators(t *testing.T) {
	cfg := config.NewConfig().Embedding
	cfg.Provider = "static"
	cfg.Dimensions = 64
	cfg.CacheSize = 10
	cfg.RequestsPerSecond = 100

	e, err := NewEmbedder(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	cached, ok := e.(*CachedEmbedder)
	require.True(t, ok, "cache should be the outermost layer")
	_, ok = cached.inner.(*RateLimitedEmbedder)
	assert.True(t, ok)
	assert.Equal(t, 64, e.Dimensions())
	assert.Equal(t, StaticModelName, e.ModelName())
}

func TestNewEmbedder_NoDecoratorsWhenDisabled(t *testing.T) {
	cfg := config.NewConfig().Embedding
	cfg.Provider = "static"
	cfg.CacheSize = 0

	e, err := NewEmbedder(context.Background(), cfg)
	require.NoError(t, err)
	_, ok := e.(*StaticEmbedder)
	assert.True(t, ok)
}

func TestNewEmbedder_GeminiNeedsKey(t *testing.T) {
	cfg := config.NewConfig().Embedding
	cfg.Provider = "gemini"
	cfg.APIKey = ""

	_, err := NewEmbedder(context.Background(), cfg)
	require.Error(t, err)
	assert.Equal(t, kberrors.CategoryConfig, kberrors.GetCategory(err))
}

func TestNewEmbedder_UnknownProvider(t *testing.T) {
	cfg := config.NewConfig().Embedding
	cfg.Provider = "openai"

	_, err := NewEmbedder(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNewEmbedder_OllamaUnreachable(t *testing.T) {
	cfg := config.NewConfig().Embedding
	cfg.OllamaHost = "http://127.0.0.1:1"

	_, err := NewEmbedder(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, kberrors.IsRetryable(err))
}
