package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// fileState is what polling compares between scans.
type fileState struct {
	modTime time.Time
	size    int64
}

// snapshot maps slash-separated relative paths to their state.
type snapshot map[string]fileState

// snapshotTree records every accepted document under root. Unreadable
// entries are skipped.
func snapshotTree(root string, f filter) (snapshot, error) {
	snap := make(snapshot)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if f.skipDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !f.accept(rel) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		snap[rel] = fileState{modTime: info.ModTime(), size: info.Size()}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	return snap, nil
}

// diffSnapshots returns the events that turn prev into cur, sorted by path.
func diffSnapshots(prev, cur snapshot, at time.Time) []FileEvent {
	var events []FileEvent
	for path, state := range cur {
		old, ok := prev[path]
		switch {
		case !ok:
			events = append(events, FileEvent{Path: path, Operation: OpCreate, Timestamp: at})
		case !old.modTime.Equal(state.modTime) || old.size != state.size:
			events = append(events, FileEvent{Path: path, Operation: OpModify, Timestamp: at})
		}
	}
	for path := range prev {
		if _, ok := cur[path]; !ok {
			events = append(events, FileEvent{Path: path, Operation: OpDelete, Timestamp: at})
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })
	return events
}

// PollingWatcher detects changes by rescanning the tree on an interval. It
// is the fallback for file systems where fsnotify does not work, such as
// some network mounts.
type PollingWatcher struct {
	interval time.Duration
	filter   filter

	mu      sync.Mutex
	state   snapshot
	stopped bool

	events chan FileEvent
	errors chan error
	stopCh chan struct{}
}

// NewPollingWatcher creates a polling watcher.
func NewPollingWatcher(opts Options) *PollingWatcher {
	opts = opts.WithDefaults()
	return &PollingWatcher{
		interval: opts.PollInterval,
		filter:   newFilter(opts),
		events:   make(chan FileEvent, opts.EventBufferSize),
		errors:   make(chan error, 10),
		stopCh:   make(chan struct{}),
	}
}

// Start takes a baseline scan of root and then polls until ctx is done or
// Stop is called.
func (p *PollingWatcher) Start(ctx context.Context, root string) error {
	root, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	baseline, err := snapshotTree(root, p.filter)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.state = baseline
	p.mu.Unlock()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = p.Stop()
			return ctx.Err()
		case <-p.stopCh:
			return nil
		case <-ticker.C:
			p.poll(root)
		}
	}
}

func (p *PollingWatcher) poll(root string) {
	cur, err := snapshotTree(root, p.filter)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	if err != nil {
		select {
		case p.errors <- err:
		default:
		}
		return
	}
	for _, ev := range diffSnapshots(p.state, cur, time.Now()) {
		select {
		case p.events <- ev:
		default:
			slog.Warn("poll_event_dropped",
				slog.String("path", ev.Path),
				slog.String("op", ev.Operation.String()))
		}
	}
	p.state = cur
}

// Stop stops polling and closes the channels. Safe to call more than once.
func (p *PollingWatcher) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil
	}
	p.stopped = true
	close(p.stopCh)
	close(p.events)
	close(p.errors)
	return nil
}

// Events returns the channel of raw events.
func (p *PollingWatcher) Events() <-chan FileEvent {
	return p.events
}

// Errors returns the channel of scan errors.
func (p *PollingWatcher) Errors() <-chan error {
	return p.errors
}
