package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/ragkb/internal/config"
	kberrors "github.com/Aman-CERP/ragkb/internal/errors"
)

func TestNewGenerator(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled", func(t *testing.T) {
		for _, p := range []string{"", "none"} {
			g, err := NewGenerator(ctx, config.GenerationConfig{Provider: p})
			require.NoError(t, err)
			assert.Nil(t, g)
		}
	})

	t.Run("ollama", func(t *testing.T) {
		g, err := NewGenerator(ctx, config.GenerationConfig{Provider: "ollama", Model: "llama3.2"})
		require.NoError(t, err)
		assert.Equal(t, "llama3.2", g.ModelName())
	})

	t.Run("anthropic needs a key", func(t *testing.T) {
		_, err := NewGenerator(ctx, config.GenerationConfig{Provider: "anthropic"})
		require.Error(t, err)
		assert.Equal(t, kberrors.ErrCodeConfigInvalid, kberrors.GetCode(err))
	})

	t.Run("anthropic ignores the ollama default model", func(t *testing.T) {
		g, err := NewGenerator(ctx, config.GenerationConfig{Provider: "anthropic", APIKey: "test", Model: DefaultOllamaModel})
		require.NoError(t, err)
		assert.Equal(t, DefaultAnthropicModel, g.ModelName())
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := NewGenerator(ctx, config.GenerationConfig{Provider: "gpt"})
		require.Error(t, err)
	})
}

func TestFunc(t *testing.T) {
	g := Func(func(_ context.Context, req Request) (string, error) {
		return "echo: " + req.Prompt, nil
	})
	out, err := g.Generate(context.Background(), Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", out)
	assert.NoError(t, g.Close())
}
