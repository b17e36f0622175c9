package watcher

import (
	"path/filepath"
	"strings"
	"time"
)

// Operation represents a file system operation type.
type Operation int

const (
	// OpCreate indicates a new file was created.
	OpCreate Operation = iota
	// OpModify indicates an existing file was written.
	OpModify
	// OpDelete indicates a file was removed.
	OpDelete
	// OpRename indicates a file was moved away from Path. The new name
	// arrives as its own OpCreate.
	OpRename
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// Removes reports whether the operation means the path no longer holds the
// document.
func (op Operation) Removes() bool {
	return op == OpDelete || op == OpRename
}

// FileEvent represents a file system event.
type FileEvent struct {
	// Path is relative to the watched root, with forward slashes.
	Path      string
	Operation Operation
	IsDir     bool
	Timestamp time.Time
}

// Options configures watching and syncing.
type Options struct {
	// DebounceWindow is the quiet period before coalesced events are
	// emitted. Default: 500ms
	DebounceWindow time.Duration

	// PollInterval is the scan interval in polling mode. Default: 5s
	PollInterval time.Duration

	// EventBufferSize is the number of batches buffered. Default: 100
	EventBufferSize int

	// Extensions limits which files are documents. Empty means the
	// default set.
	Extensions []string

	// IgnorePatterns are filepath.Match patterns tested against each base
	// name.
	IgnorePatterns []string

	// MaxFileBytes skips larger files. Default: 1 MiB
	MaxFileBytes int64

	// ForcePolling skips fsnotify even where it is available.
	ForcePolling bool

	// OrganizationID is stamped on every synced document.
	OrganizationID string
}

// DefaultExtensions are the file types synced when none are configured.
var DefaultExtensions = []string{".md", ".markdown", ".txt", ".html", ".htm", ".json"}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  500 * time.Millisecond,
		PollInterval:    5 * time.Second,
		EventBufferSize: 100,
		Extensions:      DefaultExtensions,
		MaxFileBytes:    1 << 20,
	}
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = defaults.DebounceWindow
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaults.PollInterval
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = defaults.EventBufferSize
	}
	if len(o.Extensions) == 0 {
		o.Extensions = defaults.Extensions
	}
	if o.MaxFileBytes <= 0 {
		o.MaxFileBytes = defaults.MaxFileBytes
	}
	return o
}

// filter decides which paths are documents.
type filter struct {
	extensions map[string]struct{}
	ignore     []string
}

func newFilter(o Options) filter {
	f := filter{extensions: make(map[string]struct{}, len(o.Extensions)), ignore: o.IgnorePatterns}
	for _, ext := range o.Extensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		f.extensions[ext] = struct{}{}
	}
	return f
}

// skipDir reports directories never descended into: hidden ones such as
// .git and the data directory.
func (f filter) skipDir(rel string) bool {
	if rel == "." || rel == "" {
		return false
	}
	return strings.HasPrefix(filepath.Base(rel), ".")
}

// hiddenPath reports whether any element of rel is hidden.
func (f filter) hiddenPath(rel string) bool {
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(part, ".") && part != "." {
			return true
		}
	}
	return false
}

// accept reports whether a file path is a syncable document.
func (f filter) accept(rel string) bool {
	if rel == "" || rel == "." || f.hiddenPath(rel) {
		return false
	}
	base := filepath.Base(rel)
	for _, pattern := range f.ignore {
		if ok, _ := filepath.Match(pattern, base); ok {
			return false
		}
	}
	_, ok := f.extensions[strings.ToLower(filepath.Ext(base))]
	return ok
}
