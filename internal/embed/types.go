// Package embed turns text into dense vectors.
//
// Providers (Ollama, Gemini, static) implement Embedder. CachedEmbedder and
// RateLimitedEmbedder decorate any provider.
package embed

import (
	"context"
	"math"
	"time"
)

const (
	// DefaultDimensions matches nomic-embed-text and the configured default.
	DefaultDimensions = 768

	// DefaultTimeout bounds one provider round trip.
	DefaultTimeout = 60 * time.Second
)

// Embedder generates vector embeddings for text
type Embedder interface {
	// Embed generates embedding for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one provider
	// round trip. The result has one vector per input, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension
	Dimensions() int

	// ModelName returns the model identifier
	ModelName() string

	// Available checks if the embedder is ready
	Available(ctx context.Context) bool

	// Close releases resources
	Close() error
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
