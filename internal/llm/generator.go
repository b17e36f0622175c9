// Package llm wraps the generative models used for reranking and answer
// synthesis behind one small interface.
package llm

import (
	"context"
)

// Request is a single-turn completion request.
type Request struct {
	Prompt string
	System string

	// Model overrides the generator's configured model when set.
	Model string

	MaxTokens   int
	Temperature float64
}

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)

	// ModelName returns the default model.
	ModelName() string

	Close() error
}

// Func adapts a function into a Generator. Tests use it for scripted
// responses.
type Func func(ctx context.Context, req Request) (string, error)

// Generate calls f.
func (f Func) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// ModelName returns "func".
func (f Func) ModelName() string { return "func" }

// Close does nothing.
func (f Func) Close() error { return nil }
