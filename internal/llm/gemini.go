package llm

import (
	"context"
	"strings"

	"google.golang.org/genai"

	kberrors "github.com/Aman-CERP/ragkb/internal/errors"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.0-flash"

// GeminiConfig configures the Gemini generator.
type GeminiConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Retry       kberrors.RetryConfig
}

// GeminiGenerator calls GenerateContent with a single user turn.
type GeminiGenerator struct {
	client *genai.Client
	config GeminiConfig
}

var _ Generator = (*GeminiGenerator)(nil)

// NewGeminiGenerator creates a generator. An API key is required.
func NewGeminiGenerator(ctx context.Context, cfg GeminiConfig) (*GeminiGenerator, error) {
	if cfg.APIKey == "" {
		return nil, kberrors.ConfigError("gemini generator requires an API key", nil).
			WithSuggestion("set GEMINI_API_KEY in the environment or .env")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
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
	return &GeminiGenerator{client: client, config: cfg}, nil
}

// Generate returns the text of the first candidate that has any.
func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (string, error) {
	temperature := g.config.Temperature
	if req.Temperature > 0 {
		temperature = req.Temperature
	}
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(temperature)),
	}
	maxTokens := g.config.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	if maxTokens > 0 {
		cfg.MaxOutputTokens = int32(maxTokens)
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	contents := []*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}
	model := firstNonEmpty(req.Model, g.config.Model)

	return kberrors.RetryWithResult(ctx, g.config.Retry, func() (string, error) {
		resp, err := g.client.Models.GenerateContent(ctx, model, contents, cfg)
		if err != nil {
			return "", kberrors.ProviderError(kberrors.ErrCodeProviderUnavailable, "gemini generate request failed", err)
		}
		var sb strings.Builder
		if resp != nil {
			for _, candidate := range resp.Candidates {
				if candidate.Content == nil {
					continue
				}
				for _, part := range candidate.Content.Parts {
					sb.WriteString(part.Text)
				}
				if sb.Len() > 0 {
					break
				}
			}
		}
		if sb.Len() == 0 {
			return "", kberrors.ProviderError(kberrors.ErrCodeProviderResponse, "gemini returned no text", nil)
		}
		return strings.TrimSpace(sb.String()), nil
	})
}

// ModelName returns the configured model.
func (g *GeminiGenerator) ModelName() string {
	return g.config.Model
}

// Close does nothing; genai clients hold no resources.
func (g *GeminiGenerator) Close() error {
	return nil
}
