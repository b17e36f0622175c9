package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the user config lookup at an empty directory so a
// developer's ~/.config/ragkb does not leak into tests.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	for _, k := range []string{
		"RAGKB_DATA_DIR", "RAGKB_EMBEDDING_PROVIDER", "RAGKB_EMBEDDING_MODEL",
		"RAGKB_VECTOR_WEIGHT", "RAGKB_KEYWORD_BACKEND", "RAGKB_GENERATION_PROVIDER",
		"RAGKB_RERANK", "RAGKB_LOG_LEVEL", "ANTHROPIC_API_KEY", "GEMINI_API_KEY",
	} {
		t.Setenv(k, "")
	}
}

// =============================================================================
// Defaults
// =============================================================================

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	cfg := NewConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, "recursive", cfg.Chunking.Strategy)
	assert.Equal(t, 512, cfg.Chunking.MaxSize)
	assert.Equal(t, 50, cfg.Chunking.Overlap)

	assert.Equal(t, 5, cfg.Query.TopK)
	assert.Equal(t, 0.5, cfg.Query.MinScore)
	assert.Equal(t, "vector", cfg.Query.Mode)
	assert.Equal(t, 0.5, cfg.Query.VectorWeight)
	assert.Equal(t, 60, cfg.Query.RRFConstant)

	assert.False(t, cfg.Rerank.Enabled)
	assert.Equal(t, 20, cfg.Rerank.MaxCandidates)
	assert.Equal(t, "sqlite", cfg.Keyword.Backend)
	assert.Equal(t, "knowledge-base", cfg.Vector.IndexName)

	assert.NoError(t, cfg.Validate())
}

// =============================================================================
// Layering
// =============================================================================

func TestLoad_ProjectFileOverridesDefaults(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	// Given: a project file that sets an explicit zero weight
	yaml := `
query:
  mode: hybrid
  vector_weight: 0
keyword:
  backend: bleve
documents:
  embed_timeout: 45s
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProjectFileName), []byte(yaml), 0o644))

	// When: loading
	cfg, err := Load(dir)
	require.NoError(t, err)

	// Then: file values win, untouched keys keep defaults
	assert.Equal(t, "hybrid", cfg.Query.Mode)
	assert.Equal(t, 0.0, cfg.Query.VectorWeight)
	assert.Equal(t, "bleve", cfg.Keyword.Backend)
	assert.Equal(t, 45*time.Second, cfg.Documents.EmbedTimeout)
	assert.Equal(t, 5, cfg.Query.TopK)
	assert.Equal(t, filepath.Join(dir, DefaultDataDirName), cfg.DataDir)
}

func TestLoad_UserConfigIsOverriddenByProject(t *testing.T) {
	isolate(t)
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	require.NoError(t, os.MkdirAll(filepath.Join(xdg, "ragkb"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(xdg, "ragkb", "config.yaml"),
		[]byte("query:\n  top_k: 9\n  mode: keyword\n"), 0o644))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProjectFileName),
		[]byte("query:\n  mode: hybrid\n"), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Query.TopK)
	assert.Equal(t, "hybrid", cfg.Query.Mode)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProjectFileName),
		[]byte("embedding:\n  provider: ollama\n"), 0o644))

	t.Setenv("RAGKB_EMBEDDING_PROVIDER", "static")
	t.Setenv("RAGKB_VECTOR_WEIGHT", "0.8")
	t.Setenv("RAGKB_RERANK", "true")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "static", cfg.Embedding.Provider)
	assert.Equal(t, 0.8, cfg.Query.VectorWeight)
	assert.True(t, cfg.Rerank.Enabled)
}

func TestLoad_DotEnvSuppliesAPIKey(t *testing.T) {
	isolate(t)
	os.Unsetenv("ANTHROPIC_API_KEY")
	t.Cleanup(func() { os.Unsetenv("ANTHROPIC_API_KEY") })
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProjectFileName),
		[]byte("generation:\n  provider: anthropic\n  model: claude-3-5-haiku-latest\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("ANTHROPIC_API_KEY=sk-test\n"), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.Generation.APIKey)
}

func TestLoad_RelativeDataDirResolvesAgainstProject(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProjectFileName),
		[]byte("data_dir: store\n"), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "store"), cfg.DataDir)
}

func TestLoad_InvalidYAMLFails(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProjectFileName), []byte("query: [oops"), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}

// =============================================================================
// Validation
// =============================================================================

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"unknown strategy", func(c *Config) { c.Chunking.Strategy = "token" }, "chunking.strategy"},
		{"overlap not smaller than size", func(c *Config) { c.Chunking.Overlap = 512 }, "chunking.overlap"},
		{"weight above one", func(c *Config) { c.Query.VectorWeight = 1.5 }, "vector_weight"},
		{"unknown mode", func(c *Config) { c.Query.Mode = "semantic" }, "query.mode"},
		{"unknown embedder", func(c *Config) { c.Embedding.Provider = "openai" }, "embedding.provider"},
		{"unknown keyword backend", func(c *Config) { c.Keyword.Backend = "postgres" }, "keyword.backend"},
		{"empty index name", func(c *Config) { c.Vector.IndexName = "" }, "index_name"},
		{"zero workers", func(c *Config) { c.Documents.Workers = 0 }, "documents.workers"},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestWriteYAML_RoundTripsThroughLoadFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := NewConfig()
	cfg.Query.Mode = "hybrid"
	cfg.Generation.APIKey = "secret"
	require.NoError(t, cfg.WriteYAML(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret")

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hybrid", loaded.Query.Mode)
}
