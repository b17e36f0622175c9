package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Aman-CERP/ragkb/internal/config"
	kberrors "github.com/Aman-CERP/ragkb/internal/errors"
)

// Provider names.
const (
	ProviderOllama    = "ollama"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderNone      = "none"
)

// NewGenerator builds the configured provider. It returns a nil Generator
// and no error when generation is disabled (provider "" or "none").
func NewGenerator(ctx context.Context, cfg config.GenerationConfig) (Generator, error) {
	var (
		g   Generator
		err error
	)
	provider := strings.ToLower(cfg.Provider)
	model := cfg.Model
	if provider != ProviderOllama && model == DefaultOllamaModel {
		// The shipped default names an Ollama model; let hosted providers
		// pick their own.
		model = ""
	}
	switch provider {
	case "", ProviderNone:
		return nil, nil
	case ProviderOllama:
		g = NewOllamaGenerator(OllamaConfig{
			Host:        cfg.OllamaHost,
			Model:       cfg.Model,
			Timeout:     cfg.Timeout,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		})
	case ProviderAnthropic:
		g, err = NewAnthropicGenerator(AnthropicConfig{
			APIKey:      cfg.APIKey,
			Model:       model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		})
	case ProviderGemini:
		g, err = NewGeminiGenerator(ctx, GeminiConfig{
			APIKey:      cfg.APIKey,
			Model:       model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		})
	default:
		return nil, kberrors.ConfigError(fmt.Sprintf("unknown generation provider %q", cfg.Provider), nil)
	}
	if err != nil {
		return nil, err
	}

	slog.Info("generator_ready",
		slog.String("provider", cfg.Provider),
		slog.String("model", g.ModelName()))
	return g, nil
}
