package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	kberrors "github.com/Aman-CERP/ragkb/internal/errors"
)

// SQLiteDocumentStore implements DocumentStore. Versions reference their
// document with ON DELETE CASCADE.
type SQLiteDocumentStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

var _ DocumentStore = (*SQLiteDocumentStore)(nil)

const documentColumns = `id, slug, name, description, content, content_type, category, tags, metadata,
	organization_id, workspace_id, created_by, version, vector_ids, chunk_count, embedded_at,
	last_embed_error, created_at, updated_at`

// NewSQLiteDocumentStore opens or creates the document database at path.
// An empty path gives an in-memory store.
func NewSQLiteDocumentStore(path string) (*SQLiteDocumentStore, error) {
	db, err := openSQLite(path)
	if err != nil {
		return nil, kberrors.StorageError("failed to open document store", err)
	}
	s := &SQLiteDocumentStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, kberrors.StorageError("failed to initialize document schema", err)
	}
	return s, nil
}

func (s *SQLiteDocumentStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		slug TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		content_type TEXT NOT NULL DEFAULT 'plain',
		category TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '[]',
		metadata TEXT NOT NULL DEFAULT '{}',
		organization_id TEXT NOT NULL DEFAULT '',
		workspace_id TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1,
		vector_ids TEXT NOT NULL DEFAULT '[]',
		chunk_count INTEGER NOT NULL DEFAULT 0,
		embedded_at TEXT,
		last_embed_error TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_org ON documents(organization_id);
	CREATE INDEX IF NOT EXISTS idx_documents_category ON documents(category);

	CREATE TABLE IF NOT EXISTS document_versions (
		document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		version INTEGER NOT NULL,
		content TEXT NOT NULL,
		change_summary TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		PRIMARY KEY (document_id, version)
	);`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteDocumentStore) checkOpen() error {
	if s.closed {
		return kberrors.StorageError("document store is closed", nil)
	}
	return nil
}

// InsertDocument stores a new document.
func (s *SQLiteDocumentStore) InsertDocument(ctx context.Context, doc *Document) error {
	tags, meta, vids, err := encodeDocumentJSON(doc)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Slug, doc.Name, doc.Description, doc.Content, doc.ContentType, doc.Category,
		tags, meta, doc.OrganizationID, doc.WorkspaceID, doc.CreatedBy, doc.Version, vids,
		doc.ChunkCount, formatTimePtr(doc.EmbeddedAt), doc.LastEmbedError,
		formatTime(doc.CreatedAt), formatTime(doc.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err, "documents.slug") {
			return kberrors.ConflictError(doc.Slug)
		}
		return kberrors.StorageError("failed to insert document", err)
	}
	return nil
}

// GetDocument loads a document by id.
func (s *SQLiteDocumentStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	return s.getOne(ctx, "id", id)
}

// GetDocumentBySlug loads a document by slug.
func (s *SQLiteDocumentStore) GetDocumentBySlug(ctx context.Context, slug string) (*Document, error) {
	return s.getOne(ctx, "slug", slug)
}

func (s *SQLiteDocumentStore) getOne(ctx context.Context, column, value string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE `+column+` = ?`, value)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kberrors.NotFoundError(value)
	}
	if err != nil {
		return nil, kberrors.StorageError("failed to load document", err)
	}
	return doc, nil
}

// ListDocuments returns documents newest first.
func (s *SQLiteDocumentStore) ListDocuments(ctx context.Context, f DocumentFilter) ([]*Document, error) {
	var (
		where []string
		args  []any
	)
	if f.OrganizationID != "" {
		where = append(where, "organization_id = ?")
		args = append(args, f.OrganizationID)
	}
	if f.WorkspaceID != "" {
		where = append(where, "workspace_id = ?")
		args = append(args, f.WorkspaceID)
	}
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, f.Category)
	}
	if f.Tag != "" {
		where = append(where, "EXISTS (SELECT 1 FROM json_each(documents.tags) WHERE json_each.value = ?)")
		args = append(args, f.Tag)
	}

	q := `SELECT ` + documentColumns + ` FROM documents`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, slug ASC`
	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	q += ` LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, kberrors.StorageError("failed to list documents", err)
	}
	defer func() { _ = rows.Close() }()

	docs := []*Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, kberrors.StorageError("failed to scan document", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, kberrors.StorageError("failed to list documents", err)
	}
	return docs, nil
}

// UpdateMetadata writes the descriptive fields and leaves content, version
// and embedding state untouched.
func (s *SQLiteDocumentStore) UpdateMetadata(ctx context.Context, doc *Document) error {
	tags, meta, _, err := encodeDocumentJSON(doc)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET name = ?, description = ?, category = ?, tags = ?, metadata = ?,
			workspace_id = ?, updated_at = ?
		WHERE id = ?`,
		doc.Name, doc.Description, doc.Category, tags, meta, doc.WorkspaceID, formatTime(doc.UpdatedAt), doc.ID)
	if err != nil {
		return kberrors.StorageError("failed to update document", err)
	}
	return requireOneRow(res, doc.ID)
}

// CommitContentUpdate appends the snapshot and writes the new content in
// one transaction, so history and current state never disagree.
func (s *SQLiteDocumentStore) CommitContentUpdate(ctx context.Context, doc *Document, snapshot DocumentVersion) error {
	tags, meta, vids, err := encodeDocumentJSON(doc)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return kberrors.StorageError("failed to begin document transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO document_versions (document_id, version, content, change_summary, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		snapshot.DocumentID, snapshot.Version, snapshot.Content, snapshot.ChangeSummary,
		snapshot.CreatedBy, formatTime(snapshot.CreatedAt)); err != nil {
		return kberrors.StorageError(
			fmt.Sprintf("failed to record version %d of document %s", snapshot.Version, snapshot.DocumentID), err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE documents SET name = ?, description = ?, content = ?, content_type = ?, category = ?,
			tags = ?, metadata = ?, workspace_id = ?, version = ?, vector_ids = ?, chunk_count = ?,
			embedded_at = ?, last_embed_error = ?, updated_at = ?
		WHERE id = ?`,
		doc.Name, doc.Description, doc.Content, doc.ContentType, doc.Category, tags, meta, doc.WorkspaceID,
		doc.Version, vids, doc.ChunkCount, formatTimePtr(doc.EmbeddedAt), doc.LastEmbedError,
		formatTime(doc.UpdatedAt), doc.ID)
	if err != nil {
		return kberrors.StorageError("failed to update document content", err)
	}
	if err := requireOneRow(res, doc.ID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return kberrors.StorageError("failed to commit document update", err)
	}
	return nil
}

// SetEmbedResult records an embedding cycle. A failed cycle clears the
// vector ids and records the error but leaves embedded_at as it was.
func (s *SQLiteDocumentStore) SetEmbedResult(ctx context.Context, id string, r EmbedResult) error {
	ids := r.VectorIDs
	if ids == nil {
		ids = []string{}
	}
	vids, err := json.Marshal(ids)
	if err != nil {
		return kberrors.InternalError("failed to encode vector ids", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	now := formatTime(time.Now())
	var res sql.Result
	if r.Err != "" {
		res, err = s.db.ExecContext(ctx, `
			UPDATE documents SET vector_ids = ?, chunk_count = ?, last_embed_error = ?, updated_at = ?
			WHERE id = ?`, string(vids), len(ids), r.Err, now, id)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE documents SET vector_ids = ?, chunk_count = ?, embedded_at = ?, last_embed_error = '', updated_at = ?
			WHERE id = ?`, string(vids), len(ids), formatTimePtr(r.EmbeddedAt), now, id)
	}
	if err != nil {
		return kberrors.StorageError("failed to record embedding result", err)
	}
	return requireOneRow(res, id)
}

// DeleteDocument removes the document; its versions cascade.
func (s *SQLiteDocumentStore) DeleteDocument(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return kberrors.StorageError("failed to delete document", err)
	}
	return requireOneRow(res, id)
}

// ListVersions returns a document's history, oldest first.
func (s *SQLiteDocumentStore) ListVersions(ctx context.Context, documentID string) ([]DocumentVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, version, content, change_summary, created_by, created_at
		FROM document_versions WHERE document_id = ? ORDER BY version ASC`, documentID)
	if err != nil {
		return nil, kberrors.StorageError("failed to list versions", err)
	}
	defer func() { _ = rows.Close() }()

	versions := []DocumentVersion{}
	for rows.Next() {
		var (
			v       DocumentVersion
			created string
		)
		if err := rows.Scan(&v.DocumentID, &v.Version, &v.Content, &v.ChangeSummary, &v.CreatedBy, &created); err != nil {
			return nil, kberrors.StorageError("failed to scan version", err)
		}
		v.CreatedAt = parseTime(created)
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, kberrors.StorageError("failed to list versions", err)
	}
	return versions, nil
}

// Close checkpoints the WAL and closes the database.
func (s *SQLiteDocumentStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	checkpoint(s.db, s.path)
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var (
		doc                  Document
		tags, meta, vids     string
		embeddedAt           sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&doc.ID, &doc.Slug, &doc.Name, &doc.Description, &doc.Content, &doc.ContentType,
		&doc.Category, &tags, &meta, &doc.OrganizationID, &doc.WorkspaceID, &doc.CreatedBy, &doc.Version,
		&vids, &doc.ChunkCount, &embeddedAt, &doc.LastEmbedError, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &doc.Tags); err != nil {
		return nil, fmt.Errorf("decode tags of %s: %w", doc.ID, err)
	}
	if err := json.Unmarshal([]byte(meta), &doc.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata of %s: %w", doc.ID, err)
	}
	if err := json.Unmarshal([]byte(vids), &doc.VectorIDs); err != nil {
		return nil, fmt.Errorf("decode vector ids of %s: %w", doc.ID, err)
	}
	if embeddedAt.Valid && embeddedAt.String != "" {
		t := parseTime(embeddedAt.String)
		doc.EmbeddedAt = &t
	}
	doc.CreatedAt = parseTime(createdAt)
	doc.UpdatedAt = parseTime(updatedAt)
	return &doc, nil
}

func encodeDocumentJSON(doc *Document) (tags, meta, vids string, err error) {
	t := doc.Tags
	if t == nil {
		t = []string{}
	}
	v := doc.VectorIDs
	if v == nil {
		v = []string{}
	}
	tb, err := json.Marshal(t)
	if err != nil {
		return "", "", "", kberrors.ValidationError("tags are not JSON-encodable", err)
	}
	mb, err := json.Marshal(orEmpty(doc.Metadata))
	if err != nil {
		return "", "", "", kberrors.ValidationError("metadata is not JSON-encodable", err)
	}
	vb, err := json.Marshal(v)
	if err != nil {
		return "", "", "", kberrors.InternalError("failed to encode vector ids", err)
	}
	return string(tb), string(mb), string(vb), nil
}

func requireOneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return kberrors.StorageError("failed to read affected rows", err)
	}
	if n == 0 {
		return kberrors.NotFoundError(id)
	}
	return nil
}

func isUniqueViolation(err error, target string) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, target)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
