package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/ragkb/internal/chunk"
	"github.com/Aman-CERP/ragkb/internal/documents"
	kberrors "github.com/Aman-CERP/ragkb/internal/errors"
	"github.com/Aman-CERP/ragkb/internal/store"
)

// Metadata keys stamped on synced documents.
const (
	MetaSource = "source"
	MetaPath   = "path"
	MetaRoot   = "root"

	sourceWatch = "watch"
)

// initialSyncConcurrency bounds parallel creates during InitialSync.
const initialSyncConcurrency = 4

// DocumentSink is the slice of the document manager the syncer drives.
type DocumentSink interface {
	Create(ctx context.Context, in documents.CreateInput) (*store.Document, error)
	Delete(ctx context.Context, ref string) error
	List(ctx context.Context, filter store.DocumentFilter) ([]*store.Document, error)
}

// SyncStats counts what one Apply or InitialSync did.
type SyncStats struct {
	Upserted int `json:"upserted"`
	Deleted  int `json:"deleted"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

func (s *SyncStats) add(o SyncStats) {
	s.Upserted += o.Upserted
	s.Deleted += o.Deleted
	s.Skipped += o.Skipped
	s.Failed += o.Failed
}

// Syncer mirrors a directory into the document manager. Each file becomes
// one document whose slug is derived from its path relative to root.
type Syncer struct {
	sink   DocumentSink
	root   string
	opts   Options
	filter filter
}

// NewSyncer creates a syncer for root.
func NewSyncer(sink DocumentSink, root string, opts Options) (*Syncer, error) {
	if sink == nil {
		return nil, kberrors.ConfigError("watch sync requires a document manager", nil)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve absolute path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, kberrors.ValidationError(fmt.Sprintf("watch root %s is not readable", root), err)
	}
	if !info.IsDir() {
		return nil, kberrors.ValidationError(fmt.Sprintf("watch root %s is not a directory", root), nil)
	}
	opts = opts.WithDefaults()
	return &Syncer{sink: sink, root: abs, opts: opts, filter: newFilter(opts)}, nil
}

// Root returns the absolute directory being mirrored.
func (s *Syncer) Root() string {
	return s.root
}

// SlugForPath derives the document slug for a relative path: the extension
// is dropped and separators become dashes.
func SlugForPath(rel string) (string, error) {
	rel = filepath.ToSlash(rel)
	return documents.NormalizeSlug(strings.TrimSuffix(rel, path.Ext(rel)))
}

// ContentTypeForPath maps a file extension to a document content type.
func ContentTypeForPath(rel string) chunk.ContentType {
	switch strings.ToLower(path.Ext(rel)) {
	case ".md", ".markdown":
		return chunk.ContentTypeMarkdown
	case ".html", ".htm":
		return chunk.ContentTypeHTML
	case ".json":
		return chunk.ContentTypeJSON
	default:
		return chunk.ContentTypePlain
	}
}

// InitialSync upserts every document under root and deletes synced
// documents from this root whose files are gone.
func (s *Syncer) InitialSync(ctx context.Context) (SyncStats, error) {
	snap, err := snapshotTree(s.root, s.filter)
	if err != nil {
		return SyncStats{}, err
	}

	var upserted, skipped, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(initialSyncConcurrency)
	for rel := range snap {
		g.Go(func() error {
			switch st := s.upsert(gctx, rel); {
			case st.Upserted > 0:
				upserted.Add(1)
			case st.Skipped > 0:
				skipped.Add(1)
			default:
				failed.Add(1)
			}
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return SyncStats{}, err
	}

	stats := SyncStats{
		Upserted: int(upserted.Load()),
		Skipped:  int(skipped.Load()),
		Failed:   int(failed.Load()),
	}

	pruned, err := s.prune(ctx, snap)
	if err != nil {
		return stats, err
	}
	stats.add(pruned)

	slog.Info("watch_initial_sync",
		slog.String("root", s.root),
		slog.Int("upserted", stats.Upserted),
		slog.Int("deleted", stats.Deleted),
		slog.Int("skipped", stats.Skipped),
		slog.Int("failed", stats.Failed))
	return stats, nil
}

// prune deletes documents previously synced from this root that are no
// longer on disk.
func (s *Syncer) prune(ctx context.Context, present snapshot) (SyncStats, error) {
	docs, err := s.sink.List(ctx, store.DocumentFilter{OrganizationID: s.opts.OrganizationID})
	if err != nil {
		return SyncStats{}, err
	}
	var stats SyncStats
	for _, doc := range docs {
		if doc.Metadata[MetaSource] != sourceWatch || doc.Metadata[MetaRoot] != s.root {
			continue
		}
		rel, _ := doc.Metadata[MetaPath].(string)
		if _, ok := present[rel]; ok {
			continue
		}
		stats.add(s.remove(ctx, rel))
	}
	return stats, nil
}

// Apply syncs one batch of events in order.
func (s *Syncer) Apply(ctx context.Context, batch []FileEvent) SyncStats {
	var stats SyncStats
	for _, ev := range batch {
		if ctx.Err() != nil {
			break
		}
		if ev.IsDir || !s.filter.accept(ev.Path) {
			stats.Skipped++
			continue
		}
		if ev.Operation.Removes() {
			stats.add(s.remove(ctx, ev.Path))
			continue
		}
		stats.add(s.upsert(ctx, ev.Path))
	}
	return stats
}

// Run applies batches from w until ctx is done or the watcher stops.
// Start must already be running on w.
func (s *Syncer) Run(ctx context.Context, w Watcher) error {
	events, errs := w.Events(), w.Errors()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-events:
			if !ok {
				return nil
			}
			st := s.Apply(ctx, batch)
			slog.Info("watch_batch_applied",
				slog.Int("events", len(batch)),
				slog.Int("upserted", st.Upserted),
				slog.Int("deleted", st.Deleted),
				slog.Int("failed", st.Failed))
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			slog.Warn("watch_error", slog.String("error", err.Error()))
		}
	}
}

func (s *Syncer) upsert(ctx context.Context, rel string) SyncStats {
	slug, err := SlugForPath(rel)
	if err != nil {
		slog.Warn("watch_file_skipped", slog.String("path", rel), slog.String("error", err.Error()))
		return SyncStats{Skipped: 1}
	}

	abs := filepath.Join(s.root, filepath.FromSlash(rel))
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Gone before we got to it; the delete event follows.
			return SyncStats{Skipped: 1}
		}
		slog.Warn("watch_file_failed", slog.String("path", rel), slog.String("error", err.Error()))
		return SyncStats{Failed: 1}
	}
	if info.Size() > s.opts.MaxFileBytes {
		slog.Warn("watch_file_skipped",
			slog.String("path", rel),
			slog.Int64("size", info.Size()),
			slog.Int64("max_bytes", s.opts.MaxFileBytes))
		return SyncStats{Skipped: 1}
	}
	content, err := os.ReadFile(abs)
	if err != nil {
		slog.Warn("watch_file_failed", slog.String("path", rel), slog.String("error", err.Error()))
		return SyncStats{Failed: 1}
	}
	if strings.TrimSpace(string(content)) == "" {
		return SyncStats{Skipped: 1}
	}

	_, err = s.sink.Create(ctx, documents.CreateInput{
		Slug:           slug,
		Name:           path.Base(rel),
		Content:        string(content),
		ContentType:    ContentTypeForPath(rel),
		OrganizationID: s.opts.OrganizationID,
		CreatedBy:      "ragkb-watch",
		OnConflict:     documents.ConflictUpdate,
		Metadata: map[string]any{
			MetaSource: sourceWatch,
			MetaPath:   rel,
			MetaRoot:   s.root,
		},
	})
	if err != nil {
		slog.Warn("watch_file_failed",
			slog.String("path", rel),
			slog.String("slug", slug),
			slog.String("error", err.Error()))
		if kberrors.IsValidation(err) {
			return SyncStats{Skipped: 1}
		}
		return SyncStats{Failed: 1}
	}
	return SyncStats{Upserted: 1}
}

func (s *Syncer) remove(ctx context.Context, rel string) SyncStats {
	slug, err := SlugForPath(rel)
	if err != nil {
		return SyncStats{Skipped: 1}
	}
	if err := s.sink.Delete(ctx, slug); err != nil {
		if kberrors.IsNotFound(err) {
			return SyncStats{Skipped: 1}
		}
		slog.Warn("watch_delete_failed",
			slog.String("path", rel),
			slog.String("slug", slug),
			slog.String("error", err.Error()))
		return SyncStats{Failed: 1}
	}
	return SyncStats{Deleted: 1}
}
