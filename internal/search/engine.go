package search

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/ragkb/internal/embed"
	kberrors "github.com/Aman-CERP/ragkb/internal/errors"
	"github.com/Aman-CERP/ragkb/internal/ingest"
	"github.com/Aman-CERP/ragkb/internal/llm"
	"github.com/Aman-CERP/ragkb/internal/store"
	"github.com/Aman-CERP/ragkb/internal/telemetry"
)

// Retrieval paths, used as metric labels.
const (
	pathVector  = "vector"
	pathKeyword = "keyword"
)

// Remover deletes a document's chunks from both stores.
type Remover interface {
	Remove(ctx context.Context, documentID string) (*ingest.RemoveResult, error)
}

// Config wires an Engine.
type Config struct {
	// IndexName is the vector index queries read from.
	IndexName string

	// Defaults fill unset QueryOptions fields.
	Defaults QueryOptions

	RRFConstant int

	// RerankCandidates caps the fused results sent to the reranker.
	RerankCandidates int

	Metrics *telemetry.Metrics
}

// Engine runs vector, keyword and hybrid retrieval.
type Engine struct {
	embedder  embed.Embedder
	vectors   store.VectorStore
	keywords  store.KeywordStore
	remover   Remover
	generator llm.Generator
	reranker  Reranker
	fusion    *RRFFusion
	config    Config
	metrics   *telemetry.Metrics
}

// EngineOption configures the search engine.
type EngineOption func(*Engine)

// WithGenerator sets the model used for answers and, unless WithReranker is
// also given, for reranking.
func WithGenerator(g llm.Generator) EngineOption {
	return func(e *Engine) {
		e.generator = g
	}
}

// WithReranker overrides the reranker.
func WithReranker(r Reranker) EngineOption {
	return func(e *Engine) {
		e.reranker = r
	}
}

// WithRemover enables DeleteDocument.
func WithRemover(r Remover) EngineOption {
	return func(e *Engine) {
		e.remover = r
	}
}

// NewEngine creates an engine. keywords may be nil, in which case keyword
// retrieval returns nothing.
func NewEngine(embedder embed.Embedder, vectors store.VectorStore, keywords store.KeywordStore, cfg Config, opts ...EngineOption) (*Engine, error) {
	if embedder == nil || vectors == nil {
		return nil, kberrors.ConfigError("search engine needs an embedder and a vector store", nil)
	}
	if cfg.IndexName == "" {
		cfg.IndexName = ingest.DefaultIndexName
	}
	if cfg.Defaults.TopK == 0 {
		cfg.Defaults.TopK = DefaultTopK
	}
	if cfg.Defaults.MinScore == nil {
		cfg.Defaults.MinScore = Float(DefaultMinScore)
	}
	if cfg.Defaults.VectorWeight == nil {
		cfg.Defaults.VectorWeight = Float(DefaultVectorWeight)
	}
	if cfg.Defaults.Mode == "" {
		cfg.Defaults.Mode = DefaultMode
	}

	e := &Engine{
		embedder: embedder,
		vectors:  vectors,
		keywords: keywords,
		fusion:   NewRRFFusion(cfg.RRFConstant),
		config:   cfg,
		metrics:  cfg.Metrics,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.reranker == nil {
		if e.generator != nil {
			e.reranker = NewLLMReranker(e.generator, cfg.RerankCandidates)
		} else {
			e.reranker = &NoOpReranker{}
		}
	}
	return e, nil
}

// Query retrieves the top-K chunks for text.
//
// Hybrid mode runs both paths concurrently and fails only if both fail.
// A missing vector index yields no vector results rather than an error.
func (e *Engine) Query(ctx context.Context, text string, opts QueryOptions) ([]Result, error) {
	start := time.Now()
	if strings.TrimSpace(text) == "" {
		return nil, kberrors.New(kberrors.ErrCodeInvalidQuery, "query text is empty", nil)
	}
	opts, err := opts.normalize(e.config.Defaults)
	if err != nil {
		return nil, err
	}
	if opts.OrganizationID == "" {
		slog.Warn("query_without_organization",
			slog.String("query", truncate(text, 50)),
			slog.String("mode", string(opts.Mode)))
	}

	fetch := opts.TopK
	if opts.Rerank || opts.Mode == ModeHybrid {
		fetch = opts.TopK * 2
	}

	var results []Result
	switch opts.Mode {
	case ModeVector:
		results, err = e.vectorSearch(ctx, text, fetch, opts)
	case ModeKeyword:
		results, err = e.keywordSearch(ctx, text, fetch, opts)
	case ModeHybrid:
		results, err = e.hybridSearch(ctx, text, fetch, opts)
	}
	if err != nil {
		return nil, err
	}

	if opts.Rerank {
		results = e.rerank(ctx, text, results, opts)
	}
	if len(results) > opts.TopK {
		results = results[:opts.TopK]
	}

	e.metrics.ObserveQuery(string(opts.Mode), time.Since(start), len(results))
	slog.Debug("query_complete",
		slog.String("query", truncate(text, 50)),
		slog.String("mode", string(opts.Mode)),
		slog.String("organization_id", opts.OrganizationID),
		slog.Int("results", len(results)),
		slog.Bool("rerank", opts.Rerank),
		slog.Duration("took", time.Since(start)))
	return results, nil
}

func (e *Engine) vectorSearch(ctx context.Context, text string, limit int, opts QueryOptions) ([]Result, error) {
	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	filter := opts.Filter
	if opts.OrganizationID != "" {
		filter = filter.With(store.KeyOrganizationID, opts.OrganizationID)
	}
	matches, err := e.vectors.Query(ctx, e.config.IndexName, store.VectorQuery{
		Vector:   vec,
		TopK:     limit,
		Filter:   filter,
		MinScore: float32(*opts.MinScore),
	})
	if err != nil {
		if store.IsIndexNotFound(err) {
			return []Result{}, nil
		}
		return nil, err
	}

	results := make([]Result, len(matches))
	for i, m := range matches {
		results[i] = Result{
			ID:          m.ID,
			Score:       float64(m.Score),
			VectorScore: float64(m.Score),
			Text:        m.Metadata.Text,
			Metadata:    m.Metadata,
			VectorRank:  i,
			KeywordRank: -1,
		}
	}
	return results, nil
}

func (e *Engine) keywordSearch(ctx context.Context, text string, limit int, opts QueryOptions) ([]Result, error) {
	if e.keywords == nil {
		return []Result{}, nil
	}
	hits, err := e.keywords.Search(ctx, text, store.KeywordQuery{
		OrganizationID: opts.OrganizationID,
		Filter:         opts.Filter,
		Limit:          limit,
	})
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(hits))
	for i, h := range hits {
		results[i] = Result{
			ID:           h.Chunk.ID,
			Score:        h.Score,
			KeywordScore: h.Score,
			Text:         h.Chunk.Text,
			Metadata:     keywordMetadata(h.Chunk),
			VectorRank:   -1,
			KeywordRank:  i,
		}
	}
	return results, nil
}

// keywordMetadata rebuilds chunk metadata from a keyword row. Columns win
// over values stored in the metadata JSON.
func keywordMetadata(c store.KeywordChunk) store.ChunkMetadata {
	m := store.MetadataFromMap(c.Metadata)
	m.OrganizationID = c.OrganizationID
	m.DocumentID = c.DocumentID
	m.ChunkIndex = c.ChunkIndex
	m.Text = c.Text
	m.SourceName = c.SourceName
	return m
}

// hybridSearch runs both paths concurrently and fuses them. A path that
// fails is logged and treated as empty.
func (e *Engine) hybridSearch(ctx context.Context, text string, limit int, opts QueryOptions) ([]Result, error) {
	var (
		vecResults, kwResults []Result
		vecErr, kwErr         error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vecResults, vecErr = e.vectorSearch(gctx, text, limit, opts)
		return nil
	})
	g.Go(func() error {
		kwResults, kwErr = e.keywordSearch(gctx, text, limit, opts)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if vecErr != nil && kwErr != nil {
		e.metrics.RetrievalError(pathVector)
		e.metrics.RetrievalError(pathKeyword)
		return nil, errors.Join(vecErr, kwErr)
	}
	if vecErr != nil {
		e.metrics.RetrievalError(pathVector)
		slog.Warn("vector_search_failed", append(kberrors.LogAttrs(vecErr), slog.String("fallback", pathKeyword))...)
	}
	if kwErr != nil {
		e.metrics.RetrievalError(pathKeyword)
		slog.Warn("keyword_search_failed", append(kberrors.LogAttrs(kwErr), slog.String("fallback", pathVector))...)
	}

	return e.fusion.Fuse(vecResults, kwResults, *opts.VectorWeight), nil
}

// rerank sends the leading results to the reranker. Any failure returns
// the input unchanged.
func (e *Engine) rerank(ctx context.Context, query string, results []Result, opts QueryOptions) []Result {
	if len(results) < 2 {
		return results
	}
	reranker := e.reranker
	if opts.RerankModel != "" {
		if s, ok := reranker.(modelSelector); ok {
			reranker = s.WithModel(opts.RerankModel)
		}
	}
	if !reranker.Available(ctx) {
		return results
	}

	documents := make([]string, len(results))
	for i, r := range results {
		documents[i] = r.Text
	}
	ranked, err := reranker.Rerank(ctx, query, documents, opts.TopK)
	if err != nil {
		e.metrics.RerankFallback()
		slog.Warn("rerank_failed", append(kberrors.LogAttrs(err), slog.String("fallback", "fused_order"))...)
		return results
	}

	out := make([]Result, 0, len(results))
	used := make(map[int]bool, len(ranked))
	for _, rr := range ranked {
		if rr.Index < 0 || rr.Index >= len(results) || used[rr.Index] {
			continue
		}
		used[rr.Index] = true
		r := results[rr.Index]
		r.Reranked = true
		out = append(out, r)
	}
	// Candidates beyond the reranker's cap keep their fused order.
	for i, r := range results {
		if !used[i] {
			out = append(out, r)
		}
	}
	return out
}

// DeleteDocument removes a document's chunks from both stores.
func (e *Engine) DeleteDocument(ctx context.Context, documentID string) (*ingest.RemoveResult, error) {
	if e.remover == nil {
		return nil, kberrors.ConfigError("search engine has no remover configured", nil)
	}
	return e.remover.Remove(ctx, documentID)
}
