package version

import (
	"encoding/json"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name     string
		version  string
		commit   string
		date     string
		settings map[string]string
		want     BuildInfo
	}{
		{
			name:    "linker values win",
			version: "1.2.0", commit: "abc1234", date: "2026-01-02T03:04:05Z",
			settings: map[string]string{"vcs.revision": "ffffffffffffffff", "vcs.time": "2020-01-01T00:00:00Z"},
			want:     BuildInfo{Version: "1.2.0", Commit: "abc1234", Date: "2026-01-02T03:04:05Z"},
		},
		{
			name:    "vcs stamp fills gaps",
			version: "dev", commit: "unknown", date: "unknown",
			settings: map[string]string{
				"vcs.revision": "0123456789abcdef0123",
				"vcs.time":     "2026-03-04T05:06:07Z",
				"vcs.modified": "true",
			},
			want: BuildInfo{Version: "dev", Commit: "0123456789ab", Date: "2026-03-04T05:06:07Z", Modified: true},
		},
		{
			name:    "module version from go install",
			version: "dev", commit: "unknown", date: "unknown",
			settings: map[string]string{"main.version": "v0.4.1"},
			want:     BuildInfo{Version: "v0.4.1", Commit: "unknown", Date: "unknown"},
		},
		{
			name:    "no build info",
			version: "dev", commit: "unknown", date: "unknown",
			want:    BuildInfo{Version: "dev", Commit: "unknown", Date: "unknown"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolve(tt.version, tt.commit, tt.date, tt.settings)
			tt.want.GoVersion = runtime.Version()
			tt.want.OS = runtime.GOOS
			tt.want.Arch = runtime.GOARCH
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestString_ContainsBuildInfo(t *testing.T) {
	str := String()

	assert.Contains(t, str, "ragkb")
	assert.Contains(t, str, Short())
	assert.Contains(t, str, "commit")
	assert.Contains(t, str, runtime.Version())
}

func TestGetInfo_JSON(t *testing.T) {
	// Given build info
	info := GetInfo()

	// When marshaling it
	data, err := json.Marshal(info)
	require.NoError(t, err)

	// Then platform fields are filled and keys are snake_case
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, runtime.GOOS, decoded["os"])
	assert.Equal(t, runtime.GOARCH, decoded["arch"])
	assert.Contains(t, decoded, "go_version")
}
