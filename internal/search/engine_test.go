package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kberrors "github.com/Aman-CERP/ragkb/internal/errors"
	"github.com/Aman-CERP/ragkb/internal/llm"
	"github.com/Aman-CERP/ragkb/internal/store"
)

func TestEngine_HybridFindsLexicalAndSemanticMatches(t *testing.T) {
	ctx := context.Background()
	kb := newTestKB(t)
	kb.seedRefundCorpus(t)

	query := func(mode Mode) []string {
		res, err := kb.engine.Query(ctx, "refund policy", QueryOptions{OrganizationID: "org-a", TopK: 3, Mode: mode})
		require.NoError(t, err)
		return docIDs(res)
	}

	// Then: vector mode only sees the semantic match
	vector := query(ModeVector)
	assert.Contains(t, vector, "semantic")
	assert.NotContains(t, vector, "lexical")

	// And: keyword mode only sees the lexical match
	keyword := query(ModeKeyword)
	assert.Contains(t, keyword, "lexical")
	assert.NotContains(t, keyword, "semantic")

	// And: hybrid mode returns both
	hybrid := query(ModeHybrid)
	assert.Contains(t, hybrid, "lexical")
	assert.Contains(t, hybrid, "semantic")
	assert.NotContains(t, hybrid, "shipping")
}

func TestEngine_HybridResultsCarryBothRanks(t *testing.T) {
	ctx := context.Background()
	kb := newTestKB(t)
	kb.ingest(t, "org-a", "both", "Our refund policy: money back within 30 days.")
	kb.ingest(t, "org-a", "kw-only", "Refund policy drafts live in the legal template folder.")

	res, err := kb.engine.Query(ctx, "refund policy", QueryOptions{OrganizationID: "org-a", Mode: ModeHybrid})
	require.NoError(t, err)
	require.Len(t, res, 2)

	// The chunk in both lists outranks the keyword-only chunk
	assert.Equal(t, "both", res[0].DocumentID())
	assert.Equal(t, 0, res[0].VectorRank)
	assert.GreaterOrEqual(t, res[0].KeywordRank, 0)
	assert.Equal(t, -1, res[1].VectorRank)
	assert.Greater(t, res[0].Score, res[1].Score)
}

func TestEngine_VectorWeightBoundaries(t *testing.T) {
	ctx := context.Background()
	kb := newTestKB(t)
	kb.seedRefundCorpus(t)
	kb.ingest(t, "org-a", "both", "Our refund policy: money back within 30 days.")

	ids := func(opts QueryOptions) []string {
		opts.OrganizationID = "org-a"
		opts.TopK = 3
		opts.MinScore = Float(0)
		res, err := kb.engine.Query(ctx, "refund policy", opts)
		require.NoError(t, err)
		out := make([]string, len(res))
		for i, r := range res {
			out[i] = r.ID
		}
		return out
	}

	assert.Equal(t, ids(QueryOptions{Mode: ModeVector}), ids(QueryOptions{Mode: ModeHybrid, VectorWeight: Float(1)}))
	assert.Equal(t, ids(QueryOptions{Mode: ModeKeyword}), ids(QueryOptions{Mode: ModeHybrid, VectorWeight: Float(0)}))
}

func TestEngine_TenantIsolation(t *testing.T) {
	ctx := context.Background()
	kb := newTestKB(t)

	// Given: org-b holds the closer match for every path
	kb.ingest(t, "org-a", "a-doc", "Refund requests are reviewed weekly.")
	for i := 0; i < 5; i++ {
		kb.ingest(t, "org-b", "b-doc-"+string(rune('0'+i)), "Refund policy: money back, no questions asked.")
	}

	for _, mode := range []Mode{ModeVector, ModeKeyword, ModeHybrid} {
		t.Run(string(mode), func(t *testing.T) {
			res, err := kb.engine.Query(ctx, "refund policy money back", QueryOptions{
				OrganizationID: "org-a",
				TopK:           10,
				Mode:           mode,
				MinScore:       Float(0),
			})
			require.NoError(t, err)
			for _, r := range res {
				assert.Equal(t, "org-a", r.Metadata.OrganizationID)
			}
		})
	}
}

func TestEngine_OrganizationFromFilter(t *testing.T) {
	ctx := context.Background()
	kb := newTestKB(t)
	kb.ingest(t, "org-a", "a", "Refund requests are reviewed weekly.")
	kb.ingest(t, "org-b", "b", "Refund requests are reviewed daily.")

	res, err := kb.engine.Query(ctx, "refund requests", QueryOptions{
		Mode:   ModeKeyword,
		Filter: store.Filter{store.KeyOrganizationID: "org-b"},
	})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "b", res[0].DocumentID())
}

func TestEngine_NumericOrganizationFilterStaysScoped(t *testing.T) {
	ctx := context.Background()
	kb := newTestKB(t)

	// Given: tenants whose ids are numeric strings
	kb.ingest(t, "7", "seven", "Refund requests are reviewed weekly.")
	kb.ingest(t, "8", "eight", "Refund requests are reviewed daily.")

	// When: the filter carries the id as a decoded JSON number or an int
	for _, org := range []any{float64(7), 7} {
		res, err := kb.engine.Query(ctx, "refund requests", QueryOptions{
			Mode:   ModeKeyword,
			Filter: store.Filter{store.KeyOrganizationID: org},
		})

		// Then: retrieval is scoped to that tenant, not widened to all
		require.NoError(t, err)
		require.Len(t, res, 1, "%T", org)
		assert.Equal(t, "seven", res[0].DocumentID())
	}
}

func TestEngine_MissingIndexIsEmpty(t *testing.T) {
	kb := newTestKB(t)

	for _, mode := range []Mode{ModeVector, ModeKeyword, ModeHybrid} {
		res, err := kb.engine.Query(context.Background(), "anything", QueryOptions{Mode: mode})
		require.NoError(t, err, mode)
		assert.Empty(t, res, mode)
	}
}

func TestEngine_MinScoreExcludingAllIsEmpty(t *testing.T) {
	kb := newTestKB(t)
	kb.seedRefundCorpus(t)

	res, err := kb.engine.Query(context.Background(), "unrelated question", QueryOptions{
		OrganizationID: "org-a",
		MinScore:       Float(0.99),
	})
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestEngine_QueryValidation(t *testing.T) {
	kb := newTestKB(t)
	ctx := context.Background()

	tests := []struct {
		name string
		text string
		opts QueryOptions
	}{
		{"empty text", "  ", QueryOptions{}},
		{"negative topK", "q", QueryOptions{TopK: -1}},
		{"unknown mode", "q", QueryOptions{Mode: "fuzzy"}},
		{"weight above one", "q", QueryOptions{Mode: ModeHybrid, VectorWeight: Float(1.5)}},
		{"non-scalar organization filter", "q", QueryOptions{Filter: store.Filter{store.KeyOrganizationID: []string{"org-a"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := kb.engine.Query(ctx, tt.text, tt.opts)
			require.Error(t, err)
			assert.Equal(t, kberrors.ErrCodeInvalidQuery, kberrors.GetCode(err))
		})
	}
}

// failingVectorStore fails every query.
type failingVectorStore struct {
	store.VectorStore
}

func (failingVectorStore) Query(context.Context, string, store.VectorQuery) ([]store.VectorMatch, error) {
	return nil, errors.New("vector backend down")
}

// failingKeywordStore fails every search.
type failingKeywordStore struct {
	store.KeywordStore
}

func (failingKeywordStore) Search(context.Context, string, store.KeywordQuery) ([]store.KeywordHit, error) {
	return nil, errors.New("keyword backend down")
}

func TestEngine_HybridToleratesOnePathFailing(t *testing.T) {
	ctx := context.Background()
	kb := newTestKB(t)
	kb.seedRefundCorpus(t)

	// Given: the vector path is broken
	engine, err := NewEngine(newConceptEmbedder(), failingVectorStore{kb.vectors}, kb.keywords,
		Config{IndexName: "kb", Metrics: kb.metrics})
	require.NoError(t, err)

	// Then: hybrid still answers from keywords
	res, err := engine.Query(ctx, "refund policy", QueryOptions{OrganizationID: "org-a", Mode: ModeHybrid})
	require.NoError(t, err)
	assert.Equal(t, []string{"lexical"}, docIDs(res))
	assert.Equal(t, 1.0, kb.metrics.Value("retrieval_errors_total", pathVector))

	// And: with both paths broken the query fails
	engine, err = NewEngine(newConceptEmbedder(), failingVectorStore{kb.vectors}, failingKeywordStore{kb.keywords},
		Config{IndexName: "kb"})
	require.NoError(t, err)
	_, err = engine.Query(ctx, "refund policy", QueryOptions{OrganizationID: "org-a", Mode: ModeHybrid})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vector backend down")
	assert.Contains(t, err.Error(), "keyword backend down")
}

func TestEngine_RerankFailureKeepsOrder(t *testing.T) {
	ctx := context.Background()
	gen := llm.Func(func(context.Context, llm.Request) (string, error) {
		return "", errors.New("model exploded")
	})
	kb := newTestKB(t, WithGenerator(gen))
	kb.seedRefundCorpus(t)
	kb.ingest(t, "org-a", "both", "Our refund policy: money back within 30 days.")

	opts := QueryOptions{OrganizationID: "org-a", TopK: 2, Mode: ModeHybrid}
	plain, err := kb.engine.Query(ctx, "refund policy", opts)
	require.NoError(t, err)

	opts.Rerank = true
	reranked, err := kb.engine.Query(ctx, "refund policy", opts)
	require.NoError(t, err)

	assert.Equal(t, docIDs(plain), docIDs(reranked))
	assert.Len(t, reranked, 2)
	assert.Equal(t, 1.0, kb.metrics.Value("rerank_fallbacks_total"))
}

func TestEngine_RerankReordersAndUsesModel(t *testing.T) {
	ctx := context.Background()
	var gotModel string
	gen := llm.Func(func(_ context.Context, req llm.Request) (string, error) {
		gotModel = req.Model
		return "Ranking: 1, 0", nil
	})
	kb := newTestKB(t, WithGenerator(gen))
	kb.seedRefundCorpus(t)
	kb.ingest(t, "org-a", "both", "Our refund policy: money back within 30 days.")

	opts := QueryOptions{OrganizationID: "org-a", TopK: 2, Mode: ModeHybrid}
	plain, err := kb.engine.Query(ctx, "refund policy", opts)
	require.NoError(t, err)
	require.Len(t, plain, 2)

	opts.Rerank = true
	opts.RerankModel = "judge"
	reranked, err := kb.engine.Query(ctx, "refund policy", opts)
	require.NoError(t, err)
	require.Len(t, reranked, 2)

	assert.Equal(t, "judge", gotModel)
	assert.Equal(t, plain[1].ID, reranked[0].ID)
	assert.Equal(t, plain[0].ID, reranked[1].ID)
	assert.True(t, reranked[0].Reranked)
}

func TestEngine_DeleteDocumentClearsBothPaths(t *testing.T) {
	ctx := context.Background()
	kb := newTestKB(t)
	kb.seedRefundCorpus(t)

	res, err := kb.engine.DeleteDocument(ctx, "lexical")
	require.NoError(t, err)
	assert.Equal(t, 1, res.VectorsDeleted)
	assert.Equal(t, 1, res.KeywordRowsDeleted)

	filter := store.Filter{store.KeyDocumentID: "lexical"}
	for _, mode := range []Mode{ModeVector, ModeKeyword} {
		out, err := kb.engine.Query(ctx, "refund policy", QueryOptions{
			OrganizationID: "org-a", Mode: mode, Filter: filter, MinScore: Float(0),
		})
		require.NoError(t, err)
		assert.Empty(t, out, mode)
	}
}

func TestEngine_DeleteDocumentWithoutRemover(t *testing.T) {
	engine, err := NewEngine(newConceptEmbedder(), failingVectorStore{}, nil, Config{})
	require.NoError(t, err)
	_, err = engine.DeleteDocument(context.Background(), "x")
	require.Error(t, err)
}

func TestEngine_QueryRecordsMetrics(t *testing.T) {
	kb := newTestKB(t)
	kb.seedRefundCorpus(t)

	_, err := kb.engine.Query(context.Background(), "refund policy", QueryOptions{OrganizationID: "org-a", Mode: ModeKeyword})
	require.NoError(t, err)
	assert.Equal(t, 1.0, kb.metrics.Value("query_duration_seconds", string(ModeKeyword)))
}
