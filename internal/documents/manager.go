// Package documents manages the lifecycle of knowledge base documents: the
// relational record, its version history and the chunks indexed for it.
package documents

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Aman-CERP/ragkb/internal/async"
	"github.com/Aman-CERP/ragkb/internal/chunk"
	kberrors "github.com/Aman-CERP/ragkb/internal/errors"
	"github.com/Aman-CERP/ragkb/internal/ingest"
	"github.com/Aman-CERP/ragkb/internal/search"
	"github.com/Aman-CERP/ragkb/internal/store"
	"github.com/Aman-CERP/ragkb/internal/telemetry"
)

// Indexer writes and removes a document's chunks. *ingest.Pipeline
// satisfies it.
type Indexer interface {
	Ingest(ctx context.Context, content string, opts ingest.Options) (*ingest.Result, error)
	Remove(ctx context.Context, documentID string) (*ingest.RemoveResult, error)
}

// Searcher answers queries. *search.Engine satisfies it.
type Searcher interface {
	Query(ctx context.Context, text string, opts search.QueryOptions) ([]search.Result, error)
}

// Config sizes the background embedding pool.
type Config struct {
	Workers      int
	QueueSize    int
	EmbedTimeout time.Duration

	Metrics *telemetry.Metrics
}

// Manager is the only writer of document content. Chunks are keyed by the
// document slug, so the slug never changes after create.
type Manager struct {
	docs     store.DocumentStore
	indexer  Indexer
	searcher Searcher
	pool     *async.Pool
	metrics  *telemetry.Metrics

	// locks is held around every rewrite of a document's chunks.
	locks docLocks

	// now is replaced in tests.
	now func() time.Time
}

// NewManager starts the background embedding workers. searcher may be nil,
// in which case Search fails.
func NewManager(docs store.DocumentStore, indexer Indexer, searcher Searcher, cfg Config) (*Manager, error) {
	if docs == nil {
		return nil, kberrors.ConfigError("document manager requires a document store", nil)
	}
	if indexer == nil {
		return nil, kberrors.ConfigError("document manager requires an indexer", nil)
	}
	return &Manager{
		docs:     docs,
		indexer:  indexer,
		searcher: searcher,
		pool: async.NewPool(async.PoolConfig{
			Workers:    cfg.Workers,
			QueueSize:  cfg.QueueSize,
			JobTimeout: cfg.EmbedTimeout,
		}),
		metrics: cfg.Metrics,
		now:     time.Now,
	}, nil
}

// Create stores a new document and returns it at once. Its chunks are
// embedded in the background; callers see completion through EmbeddedAt.
func (m *Manager) Create(ctx context.Context, in CreateInput) (*store.Document, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	source := in.Slug
	if source == "" {
		source = in.Name
	}
	slug, err := NormalizeSlug(source)
	if err != nil {
		return nil, err
	}
	contentType := in.ContentType
	if contentType == "" {
		contentType = chunk.ContentTypePlain
	}
	if err := checkContent(in.Content, contentType); err != nil {
		return nil, err
	}

	existing, err := m.docs.GetDocumentBySlug(ctx, slug)
	switch {
	case err == nil:
		return m.resolveConflict(ctx, existing, in)
	case !kberrors.IsNotFound(err):
		return nil, err
	}

	now := m.now().UTC()
	doc := &store.Document{
		ID:             uuid.NewString(),
		Slug:           slug,
		Name:           in.Name,
		Description:    in.Description,
		Content:        in.Content,
		ContentType:    string(contentType),
		Category:       in.Category,
		Tags:           in.Tags,
		Metadata:       in.Metadata,
		OrganizationID: in.OrganizationID,
		WorkspaceID:    in.WorkspaceID,
		CreatedBy:      in.CreatedBy,
		Version:        1,
		VectorIDs:      []string{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := m.docs.InsertDocument(ctx, doc); err != nil {
		// Lost a race with another create of the same slug.
		if kberrors.IsConflict(err) {
			if existing, gerr := m.docs.GetDocumentBySlug(ctx, slug); gerr == nil {
				return m.resolveConflict(ctx, existing, in)
			}
		}
		return nil, err
	}

	slog.Info("document_created",
		slog.String("document_id", doc.ID),
		slog.String("slug", doc.Slug),
		slog.String("organization_id", doc.OrganizationID))

	m.enqueueEmbed(ctx, doc)
	return doc, nil
}

func (m *Manager) resolveConflict(ctx context.Context, existing *store.Document, in CreateInput) (*store.Document, error) {
	switch in.OnConflict {
	case ConflictSkip:
		slog.Debug("document_create_skipped", slog.String("slug", existing.Slug))
		return existing, nil
	case ConflictUpdate:
		return m.update(ctx, existing.ID, updateFromCreate(in))
	default:
		return nil, kberrors.ConflictError(existing.Slug)
	}
}

// Update changes a document found by id or slug. New content is
// re-embedded synchronously and bumps the version; anything else is a
// metadata-only write.
func (m *Manager) Update(ctx context.Context, ref string, in UpdateInput) (*store.Document, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	doc, err := m.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	return m.update(ctx, doc.ID, in)
}

// update applies in to the current row under the document lock, so a
// queued background embed cannot interleave with the rewrite.
func (m *Manager) update(ctx context.Context, id string, in UpdateInput) (*store.Document, error) {
	unlock := m.locks.lock(id)
	defer unlock()

	doc, err := m.docs.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}

	prevContent, prevVersion := doc.Content, doc.Version
	contentType := chunk.ContentType(doc.ContentType)
	if in.ContentType != nil {
		contentType = *in.ContentType
	}

	applyMetadata(doc, in)
	doc.UpdatedAt = m.now().UTC()

	if in.Content == nil || *in.Content == prevContent {
		// A type change alone does not alter the text, so it is recorded
		// without re-embedding.
		doc.ContentType = string(contentType)
		if err := m.docs.UpdateMetadata(ctx, doc); err != nil {
			return nil, err
		}
		slog.Info("document_metadata_updated",
			slog.String("document_id", doc.ID),
			slog.Int("version", doc.Version))
		return doc, nil
	}

	if err := checkContent(*in.Content, contentType); err != nil {
		return nil, err
	}

	createdBy := in.UpdatedBy
	if createdBy == "" {
		createdBy = doc.CreatedBy
	}
	snapshot := store.DocumentVersion{
		DocumentID:    doc.ID,
		Version:       prevVersion,
		Content:       prevContent,
		ChangeSummary: in.ChangeSummary,
		CreatedBy:     createdBy,
		CreatedAt:     doc.UpdatedAt,
	}

	doc.Content = *in.Content
	doc.ContentType = string(contentType)
	doc.Version = prevVersion + 1
	res, err := m.reindex(ctx, doc)
	if err != nil {
		return nil, err
	}

	embeddedAt := m.now().UTC()
	doc.VectorIDs = res.VectorIDs
	doc.ChunkCount = len(res.VectorIDs)
	doc.EmbeddedAt = &embeddedAt
	doc.LastEmbedError = ""
	if err := m.docs.CommitContentUpdate(ctx, doc, snapshot); err != nil {
		return nil, err
	}

	slog.Info("document_content_updated",
		slog.String("document_id", doc.ID),
		slog.Int("version", doc.Version),
		slog.Int("chunks", doc.ChunkCount))
	return doc, nil
}

// checkContent rejects content that is malformed for its type or that
// normalizes to nothing, which would leave the document without chunks.
func checkContent(content string, contentType chunk.ContentType) error {
	text, err := chunk.Normalize(content, contentType)
	if err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return kberrors.EmptyDocumentError(string(contentType))
	}
	return nil
}

func applyMetadata(doc *store.Document, in UpdateInput) {
	if in.Name != nil {
		doc.Name = *in.Name
	}
	if in.Description != nil {
		doc.Description = *in.Description
	}
	if in.Category != nil {
		doc.Category = *in.Category
	}
	if in.Tags != nil {
		doc.Tags = in.Tags
	}
	if in.Metadata != nil {
		doc.Metadata = in.Metadata
	}
	if in.WorkspaceID != nil {
		doc.WorkspaceID = *in.WorkspaceID
	}
}

// Delete removes a document's chunks, best effort, then its row and
// version history.
func (m *Manager) Delete(ctx context.Context, ref string) error {
	doc, err := m.Get(ctx, ref)
	if err != nil {
		return err
	}
	unlock := m.locks.lock(doc.ID)
	defer unlock()

	m.removeChunks(ctx, doc)
	if err := m.docs.DeleteDocument(ctx, doc.ID); err != nil {
		return err
	}
	slog.Info("document_deleted",
		slog.String("document_id", doc.ID),
		slog.String("slug", doc.Slug))
	return nil
}

// Get loads a document by id, falling back to its slug.
func (m *Manager) Get(ctx context.Context, ref string) (*store.Document, error) {
	doc, err := m.docs.GetDocument(ctx, ref)
	if err == nil || !kberrors.IsNotFound(err) {
		return doc, err
	}
	slug, serr := NormalizeSlug(ref)
	if serr != nil {
		return nil, kberrors.NotFoundError(ref)
	}
	doc, err = m.docs.GetDocumentBySlug(ctx, slug)
	if kberrors.IsNotFound(err) {
		return nil, kberrors.NotFoundError(ref)
	}
	return doc, err
}

// List returns documents matching filter, newest first.
func (m *Manager) List(ctx context.Context, filter store.DocumentFilter) ([]*store.Document, error) {
	return m.docs.ListDocuments(ctx, filter)
}

// Search runs a query limited to one document's chunks within the
// document's organization.
func (m *Manager) Search(ctx context.Context, ref, query string, opts search.QueryOptions) ([]search.Result, error) {
	if m.searcher == nil {
		return nil, kberrors.ConfigError("document search requires a search engine", nil)
	}
	doc, err := m.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	opts.Filter = opts.Filter.With(store.KeyDocumentID, doc.Slug)
	opts.OrganizationID = doc.OrganizationID
	return m.searcher.Query(ctx, query, opts)
}

// Reembed rebuilds a document's chunks from its current content. The
// version and history are untouched.
func (m *Manager) Reembed(ctx context.Context, ref string) (*store.Document, error) {
	found, err := m.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	unlock := m.locks.lock(found.ID)
	defer unlock()

	doc, err := m.docs.GetDocument(ctx, found.ID)
	if err != nil {
		return nil, err
	}
	if err := m.embed(ctx, doc); err != nil {
		return nil, err
	}
	return m.docs.GetDocument(ctx, doc.ID)
}

// Versions lists superseded versions, oldest first.
func (m *Manager) Versions(ctx context.Context, ref string) ([]store.DocumentVersion, error) {
	doc, err := m.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	return m.docs.ListVersions(ctx, doc.ID)
}

// Stats reports the background embedding queue.
func (m *Manager) Stats() async.StatsSnapshot {
	return m.pool.Stats()
}

// Close finishes queued embedding jobs and stops the workers. The stores
// are owned by the caller.
func (m *Manager) Close() error {
	return m.pool.Close()
}
