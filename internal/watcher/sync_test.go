package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/ragkb/internal/chunk"
	"github.com/Aman-CERP/ragkb/internal/documents"
	kberrors "github.com/Aman-CERP/ragkb/internal/errors"
	"github.com/Aman-CERP/ragkb/internal/store"
)

// fakeSink keeps documents by slug.
type fakeSink struct {
	mu      sync.Mutex
	docs    map[string]*store.Document
	creates int
	failOn  string
}

func newFakeSink() *fakeSink {
	return &fakeSink{docs: make(map[string]*store.Document)}
}

func (f *fakeSink) Create(_ context.Context, in documents.CreateInput) (*store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if in.Slug == f.failOn {
		return nil, kberrors.StorageError("disk full", nil)
	}
	f.creates++
	doc := &store.Document{
		ID:             in.Slug,
		Slug:           in.Slug,
		Name:           in.Name,
		Content:        in.Content,
		ContentType:    string(in.ContentType),
		OrganizationID: in.OrganizationID,
		Metadata:       in.Metadata,
	}
	f.docs[in.Slug] = doc
	return doc, nil
}

func (f *fakeSink) Delete(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.docs[ref]; !ok {
		return kberrors.NotFoundError(ref)
	}
	delete(f.docs, ref)
	return nil
}

func (f *fakeSink) List(_ context.Context, filter store.DocumentFilter) ([]*store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.Document
	for _, d := range f.docs {
		if filter.OrganizationID == "" || d.OrganizationID == filter.OrganizationID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeSink) get(slug string) *store.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.docs[slug]
}

func (f *fakeSink) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.docs)
}

func TestSlugForPath(t *testing.T) {
	tests := map[string]string{
		"readme.md":           "readme",
		"guides/Setup.txt":    "guides-setup",
		"a b/c_d.markdown":    "a-b-c-d",
		"nested/dir/x.y.html": "nested-dir-x-y",
	}
	for in, want := range tests {
		got, err := SlugForPath(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := SlugForPath("!!!.md")
	assert.True(t, kberrors.IsValidation(err))
}

func TestContentTypeForPath(t *testing.T) {
	assert.Equal(t, chunk.ContentTypeMarkdown, ContentTypeForPath("a.MD"))
	assert.Equal(t, chunk.ContentTypeHTML, ContentTypeForPath("a.htm"))
	assert.Equal(t, chunk.ContentTypeJSON, ContentTypeForPath("a.json"))
	assert.Equal(t, chunk.ContentTypePlain, ContentTypeForPath("a.txt"))
}

func TestNewSyncer_Validation(t *testing.T) {
	_, err := NewSyncer(nil, t.TempDir(), Options{})
	assert.Error(t, err)

	_, err = NewSyncer(newFakeSink(), filepath.Join(t.TempDir(), "missing"), Options{})
	assert.True(t, kberrors.IsValidation(err))

	file := filepath.Join(t.TempDir(), "f.md")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	_, err = NewSyncer(newFakeSink(), file, Options{})
	assert.True(t, kberrors.IsValidation(err))
}

func TestSyncer_InitialSync(t *testing.T) {
	// Given a tree with documents, an empty file and an oversized file
	root := t.TempDir()
	writeFile(t, root, "readme.md", "# Handbook\n\nWelcome.")
	writeFile(t, root, "guides/setup.txt", "Install the agent.")
	writeFile(t, root, "empty.md", "   ")
	writeFile(t, root, "big.txt", strings.Repeat("x", 64))
	sink := newFakeSink()

	s, err := NewSyncer(sink, root, Options{OrganizationID: "acme", MaxFileBytes: 32})
	require.NoError(t, err)

	// When the initial sync runs
	stats, err := s.InitialSync(context.Background())

	// Then both documents are upserted with path metadata
	require.NoError(t, err)
	assert.Equal(t, SyncStats{Upserted: 2, Skipped: 2}, stats)

	doc := sink.get("guides-setup")
	require.NotNil(t, doc)
	assert.Equal(t, "setup.txt", doc.Name)
	assert.Equal(t, "acme", doc.OrganizationID)
	assert.Equal(t, string(chunk.ContentTypePlain), doc.ContentType)
	assert.Equal(t, "guides/setup.txt", doc.Metadata[MetaPath])
	assert.Equal(t, s.Root(), doc.Metadata[MetaRoot])
	assert.NotNil(t, sink.get("readme"))
}

func TestSyncer_InitialSyncPrunesRemovedFiles(t *testing.T) {
	// Given a previous sync of two files
	root := t.TempDir()
	writeFile(t, root, "keep.md", "keep")
	writeFile(t, root, "drop.md", "drop")
	sink := newFakeSink()
	s, err := NewSyncer(sink, root, Options{})
	require.NoError(t, err)
	_, err = s.InitialSync(context.Background())
	require.NoError(t, err)

	// And a document that did not come from this root
	_, err = sink.Create(context.Background(), documents.CreateInput{Slug: "manual", Name: "manual", Content: "x"})
	require.NoError(t, err)

	// When one file is removed while nothing was watching
	require.NoError(t, os.Remove(filepath.Join(root, "drop.md")))
	stats, err := s.InitialSync(context.Background())

	// Then its document is pruned and unrelated documents survive
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Deleted)
	assert.Nil(t, sink.get("drop"))
	assert.NotNil(t, sink.get("keep"))
	assert.NotNil(t, sink.get("manual"))
}

func TestSyncer_Apply(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.md", "alpha")
	writeFile(t, root, "b.md", "beta")
	sink := newFakeSink()
	sink.failOn = "b"
	s, err := NewSyncer(sink, root, Options{})
	require.NoError(t, err)

	// When a mixed batch is applied
	stats := s.Apply(context.Background(), []FileEvent{
		{Path: "a.md", Operation: OpCreate},
		{Path: "b.md", Operation: OpModify},
		{Path: "ghost.md", Operation: OpCreate},
		{Path: "never-synced.md", Operation: OpDelete},
		{Path: "main.go", Operation: OpCreate},
		{Path: "dir", Operation: OpCreate, IsDir: true},
	})

	// Then each event is accounted for
	assert.Equal(t, SyncStats{Upserted: 1, Failed: 1, Skipped: 4}, stats)

	// And a later delete removes the document
	stats = s.Apply(context.Background(), []FileEvent{{Path: "a.md", Operation: OpRename}})
	assert.Equal(t, SyncStats{Deleted: 1}, stats)
	assert.Equal(t, 0, sink.len())
}

func TestSyncer_RunWithPollingWatcher(t *testing.T) {
	// Given a polling watcher and a syncer over the same root
	root := t.TempDir()
	sink := newFakeSink()
	opts := Options{
		ForcePolling:   true,
		PollInterval:   20 * time.Millisecond,
		DebounceWindow: 20 * time.Millisecond,
	}
	w, err := NewHybridWatcher(opts)
	require.NoError(t, err)
	assert.Equal(t, "polling", w.WatcherType())
	s, err := NewSyncer(sink, root, opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Start(ctx, root) }()
	go func() { _ = s.Run(ctx, w) }()

	// Let the baseline scan finish before touching the tree.
	time.Sleep(60 * time.Millisecond)

	// When a document is written
	writeFile(t, root, "notes/today.md", "standup notes")

	// Then it is synced
	require.Eventually(t, func() bool { return sink.get("notes-today") != nil },
		3*time.Second, 20*time.Millisecond)

	// When it is removed
	require.NoError(t, os.Remove(filepath.Join(root, "notes", "today.md")))

	// Then the document is deleted
	require.Eventually(t, func() bool { return sink.get("notes-today") == nil },
		3*time.Second, 20*time.Millisecond)

	require.NoError(t, w.Stop())
}
