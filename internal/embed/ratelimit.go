package embed

import (
	"context"

	"golang.org/x/time/rate"

	kberrors "github.com/Aman-CERP/ragkb/internal/errors"
)

// RateLimitedEmbedder throttles provider round trips. One batch costs one
// token regardless of its size, matching how hosted APIs count requests.
type RateLimitedEmbedder struct {
	inner   Embedder
	limiter *rate.Limiter
}

var _ Embedder = (*RateLimitedEmbedder)(nil)

// NewRateLimitedEmbedder allows rps requests per second with the given burst.
func NewRateLimitedEmbedder(inner Embedder, rps float64, burst int) *RateLimitedEmbedder {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedEmbedder{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (r *RateLimitedEmbedder) wait(ctx context.Context) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return kberrors.ProviderError(kberrors.ErrCodeProviderTimeout, "rate limiter wait aborted", err)
	}
	return nil
}

// Embed waits for a token then delegates.
func (r *RateLimitedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.Embed(ctx, text)
}

// EmbedBatch waits for a token then delegates.
func (r *RateLimitedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.EmbedBatch(ctx, texts)
}

func (r *RateLimitedEmbedder) Dimensions() int                    { return r.inner.Dimensions() }
func (r *RateLimitedEmbedder) ModelName() string                  { return r.inner.ModelName() }
func (r *RateLimitedEmbedder) Available(ctx context.Context) bool { return r.inner.Available(ctx) }
func (r *RateLimitedEmbedder) Close() error                       { return r.inner.Close() }
