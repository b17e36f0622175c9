// Package version reports build information for ragkb.
//
// Release builds set the variables with -ldflags -X. Plain `go build` and
// `go install` builds fall back to the VCS stamp the toolchain embeds.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// Version is the release tag, "dev" for untagged builds.
var Version = "dev"

var (
	Commit = "unknown"
	// Date is RFC 3339.
	Date = "unknown"
)

// BuildInfo is the machine-readable form printed by `ragkb version --json`.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

var (
	infoOnce sync.Once
	info     BuildInfo
)

// GetInfo returns the build information, resolved once.
func GetInfo() BuildInfo {
	infoOnce.Do(func() {
		info = resolve(Version, Commit, Date, readBuildSettings())
	})
	return info
}

// String returns "ragkb <version> (commit: <sha>, built: <date>, go: <go>)".
func String() string {
	i := GetInfo()
	commit := i.Commit
	if i.Modified {
		commit += "-dirty"
	}
	return fmt.Sprintf("ragkb %s (commit: %s, built: %s, go: %s)", i.Version, commit, i.Date, i.GoVersion)
}

// Short returns just the version.
func Short() string {
	return GetInfo().Version
}

func readBuildSettings() map[string]string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return nil
	}
	settings := make(map[string]string, len(bi.Settings)+1)
	for _, s := range bi.Settings {
		settings[s.Key] = s.Value
	}
	if v := bi.Main.Version; v != "" && v != "(devel)" {
		settings["main.version"] = v
	}
	return settings
}

// resolve prefers linker-provided values and fills the gaps from settings.
func resolve(version, commit, date string, settings map[string]string) BuildInfo {
	if version == "dev" && settings["main.version"] != "" {
		version = settings["main.version"]
	}
	if commit == "unknown" && settings["vcs.revision"] != "" {
		commit = settings["vcs.revision"]
		if len(commit) > 12 {
			commit = commit[:12]
		}
	}
	if date == "unknown" && settings["vcs.time"] != "" {
		date = settings["vcs.time"]
	}
	return BuildInfo{
		Version:   version,
		Commit:    commit,
		Date:      date,
		Modified:  settings["vcs.modified"] == "true",
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}
