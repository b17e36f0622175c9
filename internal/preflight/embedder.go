package preflight

import (
	"context"
	"strings"

	"github.com/Aman-CERP/ragkb/internal/embed"
	"github.com/Aman-CERP/ragkb/internal/llm"
)

const probeText = "ragkb preflight probe"

// CheckEmbedder builds the configured embedder and embeds a probe string.
// A configured width that differs from what the provider returns would make
// every write fail, so it is reported here.
func (c *Checker) CheckEmbedder(ctx context.Context) Result {
	const name = "embedder"
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	e, err := embed.NewEmbedder(ctx, c.cfg.Embedding)
	if err != nil {
		return fail(name, true, "%s: %v", c.cfg.Embedding.Provider, err)
	}
	defer func() { _ = e.Close() }()

	vec, err := e.Embed(ctx, probeText)
	if err != nil {
		return fail(name, true, "%s (%s) did not embed: %v", c.cfg.Embedding.Provider, e.ModelName(), err)
	}
	if want := c.cfg.Embedding.Dimensions; want > 0 && len(vec) != want {
		return fail(name, true, "%s returned %d dimensions, config expects %d", e.ModelName(), len(vec), want)
	}
	return pass(name, true, "%s %s (%d dimensions)", c.cfg.Embedding.Provider, e.ModelName(), len(vec))
}

// CheckGenerator builds the answer generator without calling it; hosted
// providers bill per request. No generator is a warning since only ask and
// reranking need one.
func (c *Checker) CheckGenerator(ctx context.Context) Result {
	const name = "generator"
	provider := strings.ToLower(c.cfg.Generation.Provider)
	if provider == "" || provider == llm.ProviderNone {
		return warn(name, "not configured; ask and rerank are unavailable")
	}
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()
	g, err := llm.NewGenerator(ctx, c.cfg.Generation)
	if err != nil {
		return fail(name, false, "%s: %v", provider, err)
	}
	defer func() { _ = g.Close() }()
	return pass(name, false, "%s %s", provider, g.ModelName())
}
