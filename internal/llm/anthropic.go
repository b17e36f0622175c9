package llm

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	kberrors "github.com/Aman-CERP/ragkb/internal/errors"
)

// DefaultAnthropicModel is used when no model is configured.
const DefaultAnthropicModel = "claude-3-5-haiku-latest"

// AnthropicConfig configures the Messages API generator.
type AnthropicConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Retry       kberrors.RetryConfig
}

// AnthropicGenerator sends one user message per request.
type AnthropicGenerator struct {
	messages anthropic.MessageService
	config   AnthropicConfig
}

var _ Generator = (*AnthropicGenerator)(nil)

// NewAnthropicGenerator creates a generator. An API key is required.
func NewAnthropicGenerator(cfg AnthropicConfig) (*AnthropicGenerator, error) {
	if cfg.APIKey == "" {
		return nil, kberrors.ConfigError("anthropic generator requires an API key", nil).
			WithSuggestion("set ANTHROPIC_API_KEY in the environment or .env")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultAnthropicModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry = kberrors.DefaultRetryConfig()
	}
	client := anthropic.NewClient(option.WithAPIKey(cfg.APIKey))
	return &AnthropicGenerator{messages: client.Messages, config: cfg}, nil
}

// Generate returns the concatenated text blocks of the reply.
func (g *AnthropicGenerator) Generate(ctx context.Context, req Request) (string, error) {
	maxTokens := g.config.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(firstNonEmpty(req.Model, g.config.Model)),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	temperature := g.config.Temperature
	if req.Temperature > 0 {
		temperature = req.Temperature
	}
	if temperature > 0 {
		params.Temperature = anthropic.Float(temperature)
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	return kberrors.RetryWithResult(ctx, g.config.Retry, func() (string, error) {
		resp, err := g.messages.New(ctx, params)
		if err != nil {
			return "", kberrors.ProviderError(kberrors.ErrCodeProviderUnavailable, "anthropic request failed", err)
		}
		var sb strings.Builder
		for _, block := range resp.Content {
			if block.Type == "text" {
				sb.WriteString(block.Text)
			}
		}
		if sb.Len() == 0 {
			return "", kberrors.ProviderError(kberrors.ErrCodeProviderResponse, "anthropic returned no text", nil)
		}
		return strings.TrimSpace(sb.String()), nil
	})
}

// ModelName returns the configured model.
func (g *AnthropicGenerator) ModelName() string {
	return g.config.Model
}

// Close does nothing; the SDK client holds no resources.
func (g *AnthropicGenerator) Close() error {
	return nil
}
