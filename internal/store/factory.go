package store

import (
	"fmt"
	"os"
	"path/filepath"

	kberrors "github.com/Aman-CERP/ragkb/internal/errors"
)

// KeywordBackend selects the full-text implementation.
type KeywordBackend string

const (
	// KeywordBackendSQLite uses FTS5 in WAL mode (default).
	KeywordBackendSQLite KeywordBackend = "sqlite"

	// KeywordBackendBleve uses a bleve index. Single process only.
	KeywordBackendBleve KeywordBackend = "bleve"
)

// File names inside the data directory.
const (
	DocumentsFileName = "documents.db"
	keywordBaseName   = "keywords"
	VectorsDirName    = "vectors"
)

// NewKeywordStore opens the keyword store for backend under dataDir, or an
// in-memory one when dataDir is empty.
func NewKeywordStore(dataDir, backend string) (KeywordStore, error) {
	switch KeywordBackend(backend) {
	case KeywordBackendSQLite, "":
		var path string
		if dataDir != "" {
			path = KeywordStorePath(dataDir, string(KeywordBackendSQLite))
		}
		return NewSQLiteKeywordStore(path)

	case KeywordBackendBleve:
		var path string
		if dataDir != "" {
			path = KeywordStorePath(dataDir, string(KeywordBackendBleve))
		}
		return NewBleveKeywordStore(path)

	default:
		return nil, kberrors.ConfigError(
			fmt.Sprintf("unknown keyword backend: %s (valid options: sqlite, bleve)", backend), nil)
	}
}

// KeywordStorePath returns the file or directory the backend uses.
func KeywordStorePath(dataDir, backend string) string {
	base := filepath.Join(dataDir, keywordBaseName)
	if KeywordBackend(backend) == KeywordBackendBleve {
		return base + ".bleve"
	}
	return base + ".db"
}

// DetectKeywordBackend reports which backend already has data in dataDir,
// preferring SQLite. Empty means neither exists.
func DetectKeywordBackend(dataDir string) KeywordBackend {
	if info, err := os.Stat(KeywordStorePath(dataDir, string(KeywordBackendSQLite))); err == nil && !info.IsDir() {
		return KeywordBackendSQLite
	}
	if info, err := os.Stat(KeywordStorePath(dataDir, string(KeywordBackendBleve))); err == nil && info.IsDir() {
		return KeywordBackendBleve
	}
	return ""
}
