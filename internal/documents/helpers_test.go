package documents

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/ragkb/internal/chunk"
	"github.com/Aman-CERP/ragkb/internal/embed"
	"github.com/Aman-CERP/ragkb/internal/ingest"
	"github.com/Aman-CERP/ragkb/internal/search"
	"github.com/Aman-CERP/ragkb/internal/store"
	"github.com/Aman-CERP/ragkb/internal/telemetry"
)

type testEnv struct {
	manager  *Manager
	docs     *store.SQLiteDocumentStore
	pipeline *ingest.Pipeline
	engine   *search.Engine
	vectors  *store.HNSWVectorStore
	keywords *store.SQLiteKeywordStore
	metrics  *telemetry.Metrics
}

// newTestEnv wires a manager over in-memory stores. wrap, when given, can
// replace the indexer the manager sees.
func newTestEnv(t *testing.T, cfg Config, wrap func(Indexer) Indexer) *testEnv {
	t.Helper()
	emb := embed.NewStaticEmbedder(32)

	vectors, err := store.NewHNSWVectorStore(store.HNSWConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = vectors.Close() })
	keywords, err := store.NewSQLiteKeywordStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = keywords.Close() })
	docs, err := store.NewSQLiteDocumentStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = docs.Close() })

	metrics := telemetry.New()
	pipeline, err := ingest.New(emb, vectors, keywords, ingest.Config{
		IndexName: "kb",
		Chunking:  chunk.Options{Strategy: chunk.StrategyRecursive, MaxSize: 120, Overlap: 20},
		Metrics:   metrics,
	})
	require.NoError(t, err)
	engine, err := search.NewEngine(emb, vectors, keywords, search.Config{IndexName: "kb", Metrics: metrics},
		search.WithRemover(pipeline))
	require.NoError(t, err)

	var indexer Indexer = pipeline
	if wrap != nil {
		indexer = wrap(pipeline)
	}
	cfg.Metrics = metrics
	m, err := NewManager(docs, indexer, engine, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	return &testEnv{
		manager:  m,
		docs:     docs,
		pipeline: pipeline,
		engine:   engine,
		vectors:  vectors,
		keywords: keywords,
		metrics:  metrics,
	}
}

// waitEmbedded polls until the document has been embedded.
func (e *testEnv) waitEmbedded(t *testing.T, id string) *store.Document {
	t.Helper()
	var doc *store.Document
	require.Eventually(t, func() bool {
		d, err := e.docs.GetDocument(context.Background(), id)
		if err != nil || d.EmbeddedAt == nil {
			return false
		}
		doc = d
		return true
	}, 5*time.Second, 10*time.Millisecond)
	return doc
}

// waitEmbedError polls until a background failure is recorded.
func (e *testEnv) waitEmbedError(t *testing.T, id string) *store.Document {
	t.Helper()
	var doc *store.Document
	require.Eventually(t, func() bool {
		d, err := e.docs.GetDocument(context.Background(), id)
		if err != nil || d.LastEmbedError == "" {
			return false
		}
		doc = d
		return true
	}, 5*time.Second, 10*time.Millisecond)
	return doc
}

// flakyIndexer fails Ingest while failing is set.
type flakyIndexer struct {
	Indexer
	failing atomic.Bool
}

func (f *flakyIndexer) Ingest(ctx context.Context, content string, opts ingest.Options) (*ingest.Result, error) {
	if f.failing.Load() {
		return nil, errors.New("embedding provider unavailable")
	}
	return f.Indexer.Ingest(ctx, content, opts)
}

// blockingIndexer holds every Ingest until release is closed and signals
// each start on started.
type blockingIndexer struct {
	Indexer
	started chan string
	release chan struct{}
}

func (b *blockingIndexer) Ingest(ctx context.Context, content string, opts ingest.Options) (*ingest.Result, error) {
	b.started <- opts.SourceID
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return b.Indexer.Ingest(ctx, content, opts)
}

// gatedIndexer holds Ingest for one source until release is closed and
// counts ingests per source.
type gatedIndexer struct {
	Indexer
	source  string
	started chan struct{}
	release chan struct{}

	mu      sync.Mutex
	ingests map[string]int
}

func (g *gatedIndexer) Ingest(ctx context.Context, content string, opts ingest.Options) (*ingest.Result, error) {
	g.mu.Lock()
	if g.ingests == nil {
		g.ingests = make(map[string]int)
	}
	g.ingests[opts.SourceID]++
	g.mu.Unlock()

	if opts.SourceID == g.source {
		g.started <- struct{}{}
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return g.Indexer.Ingest(ctx, content, opts)
}

func (g *gatedIndexer) count(source string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ingests[source]
}

const handbook = `Refunds are issued within thirty days of purchase when the receipt is shown.

Shipping takes five business days for domestic orders and two weeks abroad.

Gift cards cannot be refunded or exchanged for cash under any circumstances.`

func strPtr(s string) *string { return &s }
