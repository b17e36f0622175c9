package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	kberrors "github.com/Aman-CERP/ragkb/internal/errors"
)

const (
	// DefaultOllamaHost is the default Ollama API endpoint
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is a small general chat model.
	DefaultOllamaModel = "llama3.2"

	defaultTimeout = 60 * time.Second
)

// OllamaConfig configures the Ollama generator.
type OllamaConfig struct {
	Host        string
	Model       string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
	Retry       kberrors.RetryConfig
}

type ollamaGenerateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaGenerateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// OllamaGenerator calls /api/generate without streaming.
type OllamaGenerator struct {
	client *http.Client
	config OllamaConfig
}

var _ Generator = (*OllamaGenerator)(nil)

// NewOllamaGenerator creates a generator. It does not contact the server;
// use HasModel to check readiness.
func NewOllamaGenerator(cfg OllamaConfig) *OllamaGenerator {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry = kberrors.DefaultRetryConfig()
	}
	return &OllamaGenerator{client: &http.Client{}, config: cfg}
}

// Generate sends the prompt and returns the full response text.
func (g *OllamaGenerator) Generate(ctx context.Context, req Request) (string, error) {
	body := ollamaGenerateRequest{
		Model:  firstNonEmpty(req.Model, g.config.Model),
		Prompt: req.Prompt,
		System: req.System,
		Options: ollamaOptions{
			Temperature: g.config.Temperature,
			NumPredict:  g.config.MaxTokens,
		},
	}
	if req.Temperature > 0 {
		body.Options.Temperature = req.Temperature
	}
	if req.MaxTokens > 0 {
		body.Options.NumPredict = req.MaxTokens
	}

	return kberrors.RetryWithResult(ctx, g.config.Retry, func() (string, error) {
		return g.doGenerate(ctx, body)
	})
}

func (g *OllamaGenerator) doGenerate(ctx context.Context, body ollamaGenerateRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return "", kberrors.InternalError("failed to marshal generate request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.config.Host+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", kberrors.InternalError("failed to create generate request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		code := kberrors.ErrCodeProviderUnavailable
		if ctx.Err() == context.DeadlineExceeded {
			code = kberrors.ErrCodeProviderTimeout
		}
		return "", kberrors.ProviderError(code, "ollama generate request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		code := kberrors.ErrCodeProviderResponse
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			code = kberrors.ErrCodeProviderUnavailable
		}
		return "", kberrors.ProviderError(code,
			fmt.Sprintf("ollama generate failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), nil)
	}

	var out ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", kberrors.ProviderError(kberrors.ErrCodeProviderResponse, "failed to decode ollama generate response", err)
	}

	slog.Debug("ollama_generate",
		slog.String("model", body.Model),
		slog.Int("prompt_chars", len(body.Prompt)),
		slog.Duration("took", time.Since(start)))
	return strings.TrimSpace(out.Response), nil
}

// ListModels returns the models installed on the server.
func (g *OllamaGenerator) ListModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.config.Host+"/api/tags", nil)
	if err != nil {
		return nil, kberrors.InternalError("failed to create tags request", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, kberrors.ProviderError(kberrors.ErrCodeProviderUnavailable, "failed to connect to ollama", err).
			WithSuggestion("start ollama with: ollama serve")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, kberrors.ProviderError(kberrors.ErrCodeProviderResponse,
			fmt.Sprintf("ollama tags returned status %d", resp.StatusCode), nil)
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, kberrors.ProviderError(kberrors.ErrCodeProviderResponse, "failed to decode ollama tags", err)
	}
	models := make([]string, len(result.Models))
	for i, m := range result.Models {
		models[i] = m.Name
	}
	return models, nil
}

// HasModel reports whether the configured model is installed. A name
// without a tag matches any tag of that model.
func (g *OllamaGenerator) HasModel(ctx context.Context) (bool, error) {
	models, err := g.ListModels(ctx)
	if err != nil {
		return false, err
	}
	want := strings.ToLower(g.config.Model)
	wantBase := strings.Split(want, ":")[0]
	for _, m := range models {
		name := strings.ToLower(m)
		if name == want || strings.Split(name, ":")[0] == wantBase {
			return true, nil
		}
	}
	return false, nil
}

// ModelName returns the configured model.
func (g *OllamaGenerator) ModelName() string {
	return g.config.Model
}

// Close releases idle connections.
func (g *OllamaGenerator) Close() error {
	g.client.CloseIdleConnections()
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
