// Package ingest turns document content into searchable chunks: it splits,
// batch-embeds, writes vectors and then, best effort, writes keyword rows.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Aman-CERP/ragkb/internal/chunk"
	"github.com/Aman-CERP/ragkb/internal/embed"
	kberrors "github.com/Aman-CERP/ragkb/internal/errors"
	"github.com/Aman-CERP/ragkb/internal/store"
	"github.com/Aman-CERP/ragkb/internal/telemetry"
)

// DefaultIndexName is used when Config.IndexName is empty.
const DefaultIndexName = "ragkb"

// Config wires a Pipeline.
type Config struct {
	// IndexName is the shared vector namespace. Tenants are separated by
	// metadata filters, not by index.
	IndexName string

	// Metric is used when the index has to be created. Defaults to cosine.
	Metric string

	// Chunking is used when a call passes no chunk options.
	Chunking chunk.Options

	Metrics *telemetry.Metrics
}

// Options describes one ingestion call.
type Options struct {
	// OrganizationID scopes every chunk to a tenant. Empty means unscoped.
	OrganizationID string

	ContentType chunk.ContentType

	// SourceID is the document id chunk ids derive from. Required.
	SourceID   string
	SourceName string

	// Chunking overrides the pipeline default when set.
	Chunking *chunk.Options

	// Metadata is merged into every chunk. Reserved keys are ignored.
	Metadata map[string]any
}

// Result is the outcome of Ingest. Degraded is set, and the call still
// succeeds, when the keyword write failed.
type Result struct {
	DocumentID     string
	ChunksIngested int
	VectorIDs      []string
	Degraded       error
}

// RemoveResult is the outcome of Remove.
type RemoveResult struct {
	VectorsDeleted     int
	KeywordRowsDeleted int
	Degraded           error
}

// Pipeline orchestrates chunker, embedder and the two stores.
type Pipeline struct {
	embedder  embed.Embedder
	vectors   store.VectorStore
	keywords  store.KeywordStore
	indexName string
	metric    string
	chunking  chunk.Options
	metrics   *telemetry.Metrics

	indexMu    sync.Mutex
	indexReady bool

	now func() time.Time
}

// New creates a pipeline. keywords may be nil, which disables the keyword
// write entirely.
func New(embedder embed.Embedder, vectors store.VectorStore, keywords store.KeywordStore, cfg Config) (*Pipeline, error) {
	if embedder == nil || vectors == nil {
		return nil, kberrors.ConfigError("ingest pipeline needs an embedder and a vector store", nil)
	}
	if cfg.IndexName == "" {
		cfg.IndexName = DefaultIndexName
	}
	if cfg.Metric == "" {
		cfg.Metric = store.MetricCosine
	}
	if cfg.Chunking.Strategy == "" && cfg.Chunking.MaxSize == 0 {
		cfg.Chunking = chunk.DefaultOptions()
	}
	if err := cfg.Chunking.Validate(); err != nil {
		return nil, err
	}
	return &Pipeline{
		embedder:  embedder,
		vectors:   vectors,
		keywords:  keywords,
		indexName: cfg.IndexName,
		metric:    cfg.Metric,
		chunking:  cfg.Chunking,
		metrics:   cfg.Metrics,
		now:       time.Now,
	}, nil
}

// IndexName returns the vector index this pipeline writes to.
func (p *Pipeline) IndexName() string {
	return p.indexName
}

// VectorID is the deterministic id of a document's chunk.
func VectorID(documentID string, index int) string {
	return fmt.Sprintf("%s_chunk_%d", documentID, index)
}

// Ingest chunks content, embeds every chunk in one batch, upserts the
// vectors and then writes keyword rows. Only the vector write is a hard
// guarantee.
//
// Re-ingesting a document with fewer chunks than before leaves the old
// higher-index vectors behind; callers must Remove first.
func (p *Pipeline) Ingest(ctx context.Context, content string, opts Options) (*Result, error) {
	if strings.TrimSpace(opts.SourceID) == "" {
		return nil, kberrors.ValidationError("ingest requires a source id", nil)
	}
	if !opts.ContentType.Valid() {
		return nil, kberrors.ValidationError(fmt.Sprintf("unknown content type %q", opts.ContentType), nil)
	}
	chunkOpts := p.chunking
	if opts.Chunking != nil {
		chunkOpts = *opts.Chunking
	}

	start := time.Now()
	chunks, err := chunk.Split(content, opts.ContentType, chunkOpts)
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(chunks) {
		return nil, kberrors.ProviderError(kberrors.ErrCodeProviderResponse,
			fmt.Sprintf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks)), nil)
	}

	ingestedAt := p.now().UTC().Format(time.RFC3339)
	records := make([]store.VectorRecord, len(chunks))
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = VectorID(opts.SourceID, i)
		records[i] = store.VectorRecord{
			ID:       ids[i],
			Values:   vectors[i],
			Metadata: p.chunkMetadata(c, i, len(chunks), ingestedAt, opts),
		}
	}

	if err := p.EnsureIndex(ctx); err != nil {
		return nil, err
	}
	if err := p.vectors.Upsert(ctx, p.indexName, records); err != nil {
		return nil, err
	}

	result := &Result{
		DocumentID:     opts.SourceID,
		ChunksIngested: len(records),
		VectorIDs:      ids,
	}
	result.Degraded = p.writeKeywords(ctx, records)
	p.metrics.ObserveIngest(len(records))

	slog.Info("document_ingested",
		slog.String("document_id", opts.SourceID),
		slog.String("organization_id", opts.OrganizationID),
		slog.Int("chunks", len(records)),
		slog.Bool("degraded", result.Degraded != nil),
		slog.Duration("took", time.Since(start)))
	return result, nil
}

// chunkMetadata merges caller metadata, chunker metadata and the reserved
// keys, in increasing order of precedence.
func (p *Pipeline) chunkMetadata(c chunk.Chunk, index, total int, ingestedAt string, opts Options) store.ChunkMetadata {
	extra := make(map[string]any, len(opts.Metadata)+len(c.Metadata))
	for k, v := range opts.Metadata {
		if !store.IsReservedKey(k) {
			extra[k] = v
		}
	}
	for k, v := range c.Metadata {
		if !store.IsReservedKey(k) {
			extra[k] = v
		}
	}
	return store.ChunkMetadata{
		OrganizationID: opts.OrganizationID,
		DocumentID:     opts.SourceID,
		ChunkIndex:     index,
		TotalChunks:    total,
		Text:           c.Text,
		SourceName:     opts.SourceName,
		IngestedAt:     ingestedAt,
		Extra:          extra,
	}
}

// writeKeywords mirrors the records into the keyword store. A failure is
// returned as a degraded-write error for the result, never for the call.
func (p *Pipeline) writeKeywords(ctx context.Context, records []store.VectorRecord) error {
	if p.keywords == nil {
		return nil
	}
	rows := make([]store.KeywordChunk, len(records))
	created := p.now()
	for i, r := range records {
		meta := r.Metadata.Flatten()
		delete(meta, store.KeyText)
		rows[i] = store.KeywordChunk{
			ID:             r.ID,
			DocumentID:     r.Metadata.DocumentID,
			OrganizationID: r.Metadata.OrganizationID,
			ChunkIndex:     r.Metadata.ChunkIndex,
			Text:           r.Metadata.Text,
			SourceName:     r.Metadata.SourceName,
			Metadata:       meta,
			CreatedAt:      created,
		}
	}

	if _, err := p.keywords.InsertChunks(ctx, rows); err != nil {
		degraded := kberrors.DegradedWrite(kberrors.ErrCodeKeywordWrite,
			"keyword index write failed; hybrid search falls back to vectors for this document", err)
		p.metrics.DegradedWrite(telemetry.StageKeywordWrite)
		slog.Warn("keyword_write_degraded", kberrors.LogAttrs(degraded)...)
		return degraded
	}
	return nil
}

// EnsureIndex creates the vector index at the embedder's width and the
// configured metric if missing.
// An existing index with a different width is an error.
func (p *Pipeline) EnsureIndex(ctx context.Context) error {
	p.indexMu.Lock()
	defer p.indexMu.Unlock()
	if p.indexReady {
		return nil
	}

	info, err := p.vectors.DescribeIndex(ctx, p.indexName)
	switch {
	case err == nil:
	case store.IsIndexNotFound(err):
		spec := store.IndexSpec{Name: p.indexName, Dimension: p.embedder.Dimensions(), Metric: p.metric}
		if cerr := p.vectors.CreateIndex(ctx, spec); cerr != nil {
			// Another writer may have created it in the meantime.
			if info, err = p.vectors.DescribeIndex(ctx, p.indexName); err != nil {
				return cerr
			}
		} else {
			info = store.IndexInfo{Name: spec.Name, Dimension: spec.Dimension, Metric: spec.Metric}
		}
	default:
		return err
	}

	if info.Dimension != p.embedder.Dimensions() {
		return kberrors.New(kberrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("vector index %q has %d dimensions but embedder %s produces %d",
				p.indexName, info.Dimension, p.embedder.ModelName(), p.embedder.Dimensions()), nil).
			WithSuggestion("configure a new vector.index_name and re-embed documents")
	}
	p.indexReady = true
	return nil
}

// Remove deletes a document's vectors and keyword rows. A missing index
// counts as nothing to delete. Vector failures are returned; keyword
// failures are reported in the result.
func (p *Pipeline) Remove(ctx context.Context, documentID string) (*RemoveResult, error) {
	if strings.TrimSpace(documentID) == "" {
		return nil, kberrors.ValidationError("remove requires a document id", nil)
	}

	res := &RemoveResult{}
	n, err := p.vectors.DeleteVectors(ctx, p.indexName, store.Filter{store.KeyDocumentID: documentID})
	if err != nil && !store.IsIndexNotFound(err) {
		return nil, kberrors.DegradedWrite(kberrors.ErrCodeVectorCleanup,
			fmt.Sprintf("failed to delete vectors of %s", documentID), err)
	}
	res.VectorsDeleted = n

	if p.keywords != nil {
		rows, err := p.keywords.DeleteByDocument(ctx, documentID)
		if err != nil {
			res.Degraded = kberrors.DegradedWrite(kberrors.ErrCodeKeywordCleanup,
				fmt.Sprintf("failed to delete keyword rows of %s", documentID), err)
			p.metrics.DegradedWrite(telemetry.StageKeywordCleanup)
			slog.Warn("keyword_cleanup_degraded", kberrors.LogAttrs(res.Degraded)...)
		}
		res.KeywordRowsDeleted = rows
	}

	slog.Debug("document_removed",
		slog.String("document_id", documentID),
		slog.Int("vectors", res.VectorsDeleted),
		slog.Int("keyword_rows", res.KeywordRowsDeleted))
	return res, nil
}
