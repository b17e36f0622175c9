package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	kberrors "github.com/Aman-CERP/ragkb/internal/errors"
)

// SQLiteKeywordStore keeps chunk rows in a plain table and their text in an
// FTS5 index joined on the row's integer key. Ranking is BM25.
type SQLiteKeywordStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

var _ KeywordStore = (*SQLiteKeywordStore)(nil)

// keywordColumns maps reserved filter keys onto real columns. Every other
// filter key is read out of the metadata JSON.
var keywordColumns = map[string]string{
	KeyOrganizationID: "c.organization_id",
	KeyDocumentID:     "c.document_id",
	KeySourceName:     "c.source_name",
	KeyChunkIndex:     "c.chunk_index",
}

// NewSQLiteKeywordStore opens or creates the keyword database at path.
// An empty path gives an in-memory store. A corrupted file is removed and
// recreated empty since its contents can be rebuilt by re-embedding.
func NewSQLiteKeywordStore(path string) (*SQLiteKeywordStore, error) {
	if path != "" {
		if verr := validateIntegrity(path, "chunk_fts"); verr != nil {
			slog.Warn("keyword_index_corrupted",
				slog.String("path", path),
				slog.String("error", verr.Error()))
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return nil, kberrors.New(kberrors.ErrCodeCorruptIndex, "keyword index corrupted and cannot be removed", err).
					WithDetail("path", path)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")
			slog.Info("keyword_index_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, run reembed"))
		}
	}

	db, err := openSQLite(path)
	if err != nil {
		return nil, kberrors.StorageError("failed to open keyword store", err)
	}
	s := &SQLiteKeywordStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, kberrors.StorageError("failed to initialize keyword schema", err)
	}
	return s, nil
}

func (s *SQLiteKeywordStore) initSchema() error {
	// seq is an explicit INTEGER PRIMARY KEY so VACUUM cannot renumber the
	// rowids the FTS table points at.
	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		seq INTEGER PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		document_id TEXT NOT NULL,
		organization_id TEXT NOT NULL DEFAULT '',
		chunk_index INTEGER NOT NULL,
		text TEXT NOT NULL,
		source_name TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_org ON chunks(organization_id);
	CREATE VIRTUAL TABLE IF NOT EXISTS chunk_fts USING fts5(
		text,
		tokenize = 'porter unicode61'
	);`
	_, err := s.db.Exec(schema)
	return err
}

// InsertChunks writes rows in one transaction, skipping ids that already
// exist. Only newly written rows get an FTS entry.
func (s *SQLiteKeywordStore) InsertChunks(ctx context.Context, chunks []KeywordChunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, kberrors.StorageError("keyword store is closed", nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, kberrors.StorageError("failed to begin keyword transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	rowStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, document_id, organization_id, chunk_index, text, source_name, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`)
	if err != nil {
		return 0, kberrors.StorageError("failed to prepare chunk insert", err)
	}
	defer func() { _ = rowStmt.Close() }()

	ftsStmt, err := tx.PrepareContext(ctx, `INSERT INTO chunk_fts (rowid, text) VALUES (?, ?)`)
	if err != nil {
		return 0, kberrors.StorageError("failed to prepare fts insert", err)
	}
	defer func() { _ = ftsStmt.Close() }()

	inserted := 0
	for _, c := range chunks {
		meta, err := json.Marshal(orEmpty(c.Metadata))
		if err != nil {
			return 0, kberrors.ValidationError(fmt.Sprintf("chunk %s metadata is not JSON-encodable", c.ID), err)
		}
		created := c.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}

		res, err := rowStmt.ExecContext(ctx, c.ID, c.DocumentID, c.OrganizationID, c.ChunkIndex,
			c.Text, c.SourceName, string(meta), created.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return 0, kberrors.StorageError(fmt.Sprintf("failed to insert chunk %s", c.ID), err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			continue
		}
		seq, err := res.LastInsertId()
		if err != nil {
			return 0, kberrors.StorageError("failed to read chunk rowid", err)
		}
		if _, err := ftsStmt.ExecContext(ctx, seq, c.Text); err != nil {
			return 0, kberrors.StorageError(fmt.Sprintf("failed to index chunk %s", c.ID), err)
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, kberrors.StorageError("failed to commit chunks", err)
	}
	return inserted, nil
}

// Search ANDs the query's content words and ranks by BM25. The organization
// predicate is only added when an organization is given.
func (s *SQLiteKeywordStore) Search(ctx context.Context, text string, q KeywordQuery) ([]KeywordHit, error) {
	terms := QueryTerms(text)
	if len(terms) == 0 {
		return []KeywordHit{}, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}

	var (
		where = []string{"chunk_fts MATCH ?"}
		args  = []any{ftsMatchExpr(terms)}
	)
	if q.OrganizationID != "" {
		where = append(where, "c.organization_id = ?")
		args = append(args, q.OrganizationID)
	}
	for key, value := range q.Filter {
		if key == KeyOrganizationID && q.OrganizationID != "" {
			continue
		}
		clause, clauseArgs, err := filterClause(key, value)
		if err != nil {
			return nil, err
		}
		where = append(where, clause)
		args = append(args, clauseArgs...)
	}
	args = append(args, limit)

	query := `
		SELECT c.id, c.document_id, c.organization_id, c.chunk_index, c.text, c.source_name,
		       c.metadata, c.created_at, -bm25(chunk_fts) AS score
		FROM chunk_fts
		JOIN chunks c ON c.seq = chunk_fts.rowid
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY score DESC, c.seq ASC
		LIMIT ?`

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, kberrors.StorageError("keyword store is closed", nil)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		// Terms are quoted, so a syntax error here means an odd token
		// slipped through; treat it as no match.
		if strings.Contains(err.Error(), "fts5: syntax error") {
			return []KeywordHit{}, nil
		}
		return nil, kberrors.StorageError("keyword search failed", err)
	}
	defer func() { _ = rows.Close() }()

	hits := []KeywordHit{}
	for rows.Next() {
		var (
			h       KeywordHit
			meta    string
			created string
		)
		if err := rows.Scan(&h.Chunk.ID, &h.Chunk.DocumentID, &h.Chunk.OrganizationID, &h.Chunk.ChunkIndex,
			&h.Chunk.Text, &h.Chunk.SourceName, &meta, &created, &h.Score); err != nil {
			return nil, kberrors.StorageError("failed to scan keyword hit", err)
		}
		if meta != "" {
			_ = json.Unmarshal([]byte(meta), &h.Chunk.Metadata)
		}
		h.Chunk.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, kberrors.StorageError("keyword search failed", err)
	}
	return hits, nil
}

// filterClause renders one equality predicate. Values are compared as text
// so numbers and strings from JSON compare the same way the vector store
// compares them.
func filterClause(key string, value any) (string, []any, error) {
	arg := filterText(value)
	if col, ok := keywordColumns[key]; ok {
		return "CAST(" + col + " AS TEXT) = ?", []any{arg}, nil
	}
	if key == "" || strings.ContainsAny(key, `"\`) {
		return "", nil, kberrors.New(kberrors.ErrCodeInvalidQuery, fmt.Sprintf("invalid filter key %q", key), nil)
	}
	return "CAST(json_extract(c.metadata, ?) AS TEXT) = ?", []any{`$."` + key + `"`, arg}, nil
}

// filterText renders a filter value the way SQLite renders the stored one.
// JSON booleans come back from json_extract as 1 and 0.
func filterText(v any) string {
	switch t := v.(type) {
	case bool:
		if t {
			return "1"
		}
		return "0"
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// DeleteByDocument removes a document's rows and their FTS entries.
func (s *SQLiteKeywordStore) DeleteByDocument(ctx context.Context, documentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, kberrors.StorageError("keyword store is closed", nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, kberrors.StorageError("failed to begin keyword transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chunk_fts WHERE rowid IN (SELECT seq FROM chunks WHERE document_id = ?)`, documentID); err != nil {
		return 0, kberrors.StorageError("failed to delete fts rows", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID)
	if err != nil {
		return 0, kberrors.StorageError("failed to delete chunks", err)
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, kberrors.StorageError("failed to commit chunk delete", err)
	}
	return int(n), nil
}

// Count returns the number of chunk rows.
func (s *SQLiteKeywordStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, kberrors.StorageError("keyword store is closed", nil)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, kberrors.StorageError("failed to count chunks", err)
	}
	return n, nil
}

// Close checkpoints the WAL and closes the database.
func (s *SQLiteKeywordStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	checkpoint(s.db, s.path)
	return s.db.Close()
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
