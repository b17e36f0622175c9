package preflight

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/ragkb/internal/config"
	"github.com/Aman-CERP/ragkb/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewConfig()
	cfg.DataDir = filepath.Join(t.TempDir(), ".ragkb")
	cfg.Embedding.Provider = "static"
	cfg.Embedding.Dimensions = 64
	cfg.Generation.Provider = "none"
	return cfg
}

func byName(results []Result) map[string]Result {
	m := make(map[string]Result, len(results))
	for _, r := range results {
		m[r.Name] = r
	}
	return m
}

func TestRunAll_StaticEmbedder(t *testing.T) {
	// Given a fresh data directory and the offline embedder
	cfg := testConfig(t)

	// When all checks run
	results := New(cfg).RunAll(context.Background())

	// Then nothing critical fails and the missing generator is only a warning
	require.False(t, HasCriticalFailures(results), "%+v", results)
	got := byName(results)
	assert.Equal(t, StatusPass, got["config"].Status)
	assert.Equal(t, StatusPass, got["data_dir"].Status)
	assert.Equal(t, StatusPass, got["data_dir_lock"].Status)
	assert.Contains(t, got["embedder"].Message, "64 dimensions")
	assert.Equal(t, StatusWarn, got["generator"].Status)
	assert.Equal(t, "ready_with_warnings", Summary(results))
	assert.DirExists(t, cfg.DataDir)
}

func TestRunAll_InvalidConfigSkipsProbes(t *testing.T) {
	cfg := testConfig(t)
	cfg.Chunking.MaxSize = 0

	results := New(cfg).RunAll(context.Background())

	got := byName(results)
	assert.True(t, got["config"].IsCritical())
	assert.NotContains(t, got, "embedder")
	assert.Equal(t, "failed", Summary(results))
}

func TestCheckLock_HeldElsewhere(t *testing.T) {
	// Given serve holding the data directory
	cfg := testConfig(t)
	lock := store.NewDirLock(cfg.DataDir)
	require.NoError(t, lock.TryLock())
	defer func() { _ = lock.Unlock() }()

	// When the lock is checked
	r := New(cfg).CheckLock()

	// Then it warns rather than fails
	assert.Equal(t, StatusWarn, r.Status)
	assert.False(t, r.IsCritical())
}

func TestCheckDiskSpace_BelowMinimum(t *testing.T) {
	cfg := testConfig(t)
	c := New(cfg, WithMinDiskSpace(math.MaxUint64))
	require.Equal(t, StatusPass, c.CheckWritePermissions().Status)

	r := c.CheckDiskSpace()

	assert.True(t, r.IsCritical())
	assert.Contains(t, r.Message, "minimum")
}

func TestCheckGenerator_UnknownProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.Generation.Provider = "mystery"

	r := New(cfg).CheckGenerator(context.Background())

	assert.Equal(t, StatusFail, r.Status)
	assert.False(t, r.IsCritical())
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   uint64
		want string
	}{
		{512, "512 bytes"},
		{2048, "2.0 KB"},
		{100 * 1024 * 1024, "100.0 MB"},
		{3 * 1024 * 1024 * 1024, "3.0 GB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatBytes(tt.in))
	}
}

func TestStatusJSON(t *testing.T) {
	b, err := StatusWarn.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "WARN", string(b))
}
