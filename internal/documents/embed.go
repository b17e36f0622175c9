package documents

import (
	"context"
	"log/slog"

	"github.com/Aman-CERP/ragkb/internal/async"
	"github.com/Aman-CERP/ragkb/internal/chunk"
	kberrors "github.com/Aman-CERP/ragkb/internal/errors"
	"github.com/Aman-CERP/ragkb/internal/ingest"
	"github.com/Aman-CERP/ragkb/internal/store"
	"github.com/Aman-CERP/ragkb/internal/telemetry"
)

// enqueueEmbed hands a new document to the pool. A full queue is recorded
// on the document like any other embedding failure. The job only embeds
// the version it was queued for; a later content update has already
// written its own chunks.
func (m *Manager) enqueueEmbed(ctx context.Context, doc *store.Document) {
	id, version := doc.ID, doc.Version
	err := m.pool.Submit(async.Job{
		Name: "embed:" + doc.Slug,
		Run: func(jobCtx context.Context) error {
			unlock := m.locks.lock(id)
			defer unlock()

			current, err := m.docs.GetDocument(jobCtx, id)
			if kberrors.IsNotFound(err) {
				// Deleted while queued.
				return nil
			}
			if err != nil {
				return err
			}
			if current.Version != version {
				slog.Debug("background_embed_superseded",
					slog.String("document_id", id),
					slog.Int("queued_version", version),
					slog.Int("current_version", current.Version))
				return nil
			}
			return m.embed(jobCtx, current)
		},
	})
	if err == nil {
		return
	}

	outcome := telemetry.OutcomeFailure
	if kberrors.GetCode(err) == kberrors.ErrCodeEmbedQueueFull {
		outcome = telemetry.OutcomeQueueFull
	}
	m.metrics.BackgroundEmbed(outcome)
	slog.Warn("background_embed_not_queued",
		append([]any{slog.String("document_id", id)}, kberrors.LogAttrs(err)...)...)

	doc.LastEmbedError = err.Error()
	if serr := m.docs.SetEmbedResult(ctx, id, store.EmbedResult{Err: doc.LastEmbedError}); serr != nil {
		slog.Error("embed_result_not_recorded",
			append([]any{slog.String("document_id", id)}, kberrors.LogAttrs(serr)...)...)
	}
}

// embed rebuilds a document's chunks and records the outcome on its row.
// It serves both the background job and Reembed; callers hold the
// document lock.
func (m *Manager) embed(ctx context.Context, doc *store.Document) error {
	res, err := m.reindex(ctx, doc)
	if err != nil {
		m.metrics.BackgroundEmbed(telemetry.OutcomeFailure)
		return err
	}

	embeddedAt := m.now().UTC()
	if err := m.docs.SetEmbedResult(ctx, doc.ID, store.EmbedResult{
		VectorIDs:  res.VectorIDs,
		EmbeddedAt: &embeddedAt,
	}); err != nil {
		m.metrics.BackgroundEmbed(telemetry.OutcomeFailure)
		return err
	}
	m.metrics.BackgroundEmbed(telemetry.OutcomeSuccess)
	slog.Info("document_embedded",
		slog.String("document_id", doc.ID),
		slog.Int("chunks", len(res.VectorIDs)))
	return nil
}

// reindex removes the document's chunks and ingests its current content.
// A failed ingest is recorded on the row, which then has no chunks.
func (m *Manager) reindex(ctx context.Context, doc *store.Document) (*ingest.Result, error) {
	m.removeChunks(ctx, doc)

	res, err := m.indexer.Ingest(ctx, doc.Content, ingest.Options{
		OrganizationID: doc.OrganizationID,
		ContentType:    chunk.ContentType(doc.ContentType),
		SourceID:       doc.Slug,
		SourceName:     doc.Name,
		Metadata:       chunkMetadata(doc),
	})
	if err != nil {
		slog.Warn("document_embed_failed",
			append([]any{slog.String("document_id", doc.ID)}, kberrors.LogAttrs(err)...)...)
		if serr := m.docs.SetEmbedResult(ctx, doc.ID, store.EmbedResult{Err: err.Error()}); serr != nil {
			slog.Error("embed_result_not_recorded",
				append([]any{slog.String("document_id", doc.ID)}, kberrors.LogAttrs(serr)...)...)
		}
		return nil, err
	}
	return res, nil
}

// removeChunks deletes vectors and keyword rows keyed by the slug. Failures
// only leave stale chunks behind, so they are logged and counted.
func (m *Manager) removeChunks(ctx context.Context, doc *store.Document) {
	res, err := m.indexer.Remove(ctx, doc.Slug)
	if err != nil {
		m.metrics.DegradedWrite(telemetry.StageVectorCleanup)
		slog.Warn("vector_cleanup_degraded",
			append([]any{slog.String("document_id", doc.ID)}, kberrors.LogAttrs(err)...)...)
		return
	}
	if res.Degraded != nil {
		slog.Debug("document_cleanup_partial", slog.String("document_id", doc.ID))
	}
}

// chunkMetadata is the per-chunk metadata derived from the document row.
func chunkMetadata(doc *store.Document) map[string]any {
	meta := make(map[string]any, len(doc.Metadata)+4)
	for k, v := range doc.Metadata {
		meta[k] = v
	}
	meta["documentUuid"] = doc.ID
	meta["documentVersion"] = doc.Version
	if doc.Category != "" {
		meta["category"] = doc.Category
	}
	if doc.WorkspaceID != "" {
		meta["workspaceId"] = doc.WorkspaceID
	}
	return meta
}
