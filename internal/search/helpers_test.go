package search

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/ragkb/internal/chunk"
	"github.com/Aman-CERP/ragkb/internal/ingest"
	"github.com/Aman-CERP/ragkb/internal/store"
	"github.com/Aman-CERP/ragkb/internal/telemetry"
)

// conceptRule maps any text containing phrase to vector.
type conceptRule struct {
	phrase string
	vector []float32
}

// conceptEmbedder gives deterministic "meaning" to test texts: the first
// rule whose phrase occurs in the text decides its vector.
type conceptEmbedder struct {
	rules    []conceptRule
	fallback []float32
}

func newConceptEmbedder() *conceptEmbedder {
	return &conceptEmbedder{
		rules: []conceptRule{
			{"legal template", []float32{0, 0, 1, 0}},
			{"money back", []float32{1, 0, 0, 0}},
			{"refund", []float32{0.9, 0.1, 0, 0}},
			{"shipping", []float32{0, 1, 0, 0}},
		},
		fallback: []float32{0, 0, 0, 1},
	}
}

func (c *conceptEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	lower := strings.ToLower(text)
	for _, r := range c.rules {
		if strings.Contains(lower, r.phrase) {
			return append([]float32(nil), r.vector...), nil
		}
	}
	return append([]float32(nil), c.fallback...), nil
}

func (c *conceptEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = c.Embed(ctx, t)
	}
	return out, nil
}

func (c *conceptEmbedder) Dimensions() int                  { return 4 }
func (c *conceptEmbedder) ModelName() string                { return "concept" }
func (c *conceptEmbedder) Available(_ context.Context) bool { return true }
func (c *conceptEmbedder) Close() error                     { return nil }

type testKB struct {
	engine   *Engine
	pipeline *ingest.Pipeline
	vectors  *store.HNSWVectorStore
	keywords store.KeywordStore
	metrics  *telemetry.Metrics
}

func newTestKB(t *testing.T, opts ...EngineOption) *testKB {
	t.Helper()
	emb := newConceptEmbedder()

	vectors, err := store.NewHNSWVectorStore(store.HNSWConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = vectors.Close() })
	keywords, err := store.NewSQLiteKeywordStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = keywords.Close() })

	metrics := telemetry.New()
	pipeline, err := ingest.New(emb, vectors, keywords, ingest.Config{IndexName: "kb", Metrics: metrics})
	require.NoError(t, err)

	opts = append([]EngineOption{WithRemover(pipeline)}, opts...)
	engine, err := NewEngine(emb, vectors, keywords, Config{IndexName: "kb", Metrics: metrics}, opts...)
	require.NoError(t, err)

	return &testKB{engine: engine, pipeline: pipeline, vectors: vectors, keywords: keywords, metrics: metrics}
}

func (kb *testKB) ingest(t *testing.T, org, id, text string) {
	t.Helper()
	_, err := kb.pipeline.Ingest(context.Background(), text, ingest.Options{
		OrganizationID: org,
		ContentType:    chunk.ContentTypePlain,
		SourceID:       id,
		SourceName:     id + ".txt",
	})
	require.NoError(t, err)
}

// seedRefundCorpus ingests three single-chunk documents for org-a:
//   - lexical: says "refund policy" but embeds far from refunds
//   - semantic: means refunds without using the words
//   - shipping: unrelated to both
func (kb *testKB) seedRefundCorpus(t *testing.T) {
	t.Helper()
	kb.ingest(t, "org-a", "lexical", "Refund policy drafts live in the legal template folder.")
	kb.ingest(t, "org-a", "semantic", "Customers get their money back within thirty days of purchase.")
	kb.ingest(t, "org-a", "shipping", "Shipping takes five business days for domestic orders.")
}

func docIDs(results []Result) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.DocumentID()
	}
	return ids
}
