package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher is what the sync loop consumes.
type Watcher interface {
	Start(ctx context.Context, root string) error
	Stop() error
	Events() <-chan []FileEvent
	Errors() <-chan error
}

var _ Watcher = (*HybridWatcher)(nil)

// HybridWatcher watches a document tree with fsnotify and falls back to
// polling when fsnotify cannot be initialised. Raw events are filtered to
// accepted documents and debounced into batches.
type HybridWatcher struct {
	opts      Options
	filter    filter
	fsWatcher *fsnotify.Watcher
	poller    *PollingWatcher
	debouncer *Debouncer

	root string

	mu      sync.RWMutex
	stopped bool
	stopCh  chan struct{}
	events  chan []FileEvent
	errors  chan error

	droppedBatches atomic.Uint64
}

// NewHybridWatcher creates a watcher. It never fails on fsnotify errors; it
// switches to polling instead.
func NewHybridWatcher(opts Options) (*HybridWatcher, error) {
	opts = opts.WithDefaults()
	h := &HybridWatcher{
		opts:      opts,
		filter:    newFilter(opts),
		debouncer: NewDebouncer(opts.DebounceWindow, opts.EventBufferSize),
		stopCh:    make(chan struct{}),
		events:    make(chan []FileEvent, opts.EventBufferSize),
		errors:    make(chan error, 10),
	}

	if !opts.ForcePolling {
		fsw, err := fsnotify.NewWatcher()
		if err == nil {
			h.fsWatcher = fsw
			return h, nil
		}
		slog.Warn("fsnotify_unavailable", slog.String("error", err.Error()))
	}
	h.poller = NewPollingWatcher(opts)
	return h, nil
}

// Start watches root until ctx is done or Stop is called.
func (h *HybridWatcher) Start(ctx context.Context, root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	h.mu.Lock()
	h.root = abs
	h.mu.Unlock()

	go h.forward(ctx)

	slog.Info("watch_started",
		slog.String("root", abs),
		slog.String("mode", h.WatcherType()))

	if h.fsWatcher != nil {
		return h.runFsnotify(ctx)
	}
	return h.runPolling(ctx)
}

func (h *HybridWatcher) runFsnotify(ctx context.Context) error {
	if err := h.watchTree(h.root); err != nil {
		return fmt.Errorf("add directories to watcher: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			_ = h.Stop()
			return ctx.Err()
		case <-h.stopCh:
			return nil
		case ev, ok := <-h.fsWatcher.Events:
			if !ok {
				return nil
			}
			h.handle(ev)
		case err, ok := <-h.fsWatcher.Errors:
			if !ok {
				return nil
			}
			h.emitError(err)
		}
	}
}

func (h *HybridWatcher) runPolling(ctx context.Context) error {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.stopCh:
				return
			case ev, ok := <-h.poller.Events():
				if !ok {
					return
				}
				h.debouncer.Add(ev)
			case err, ok := <-h.poller.Errors():
				if !ok {
					return
				}
				h.emitError(err)
			}
		}
	}()
	return h.poller.Start(ctx, h.root)
}

// handle converts one fsnotify event.
func (h *HybridWatcher) handle(ev fsnotify.Event) {
	rel, err := filepath.Rel(h.root, ev.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
		if ev.Op&fsnotify.Create != 0 && !h.filter.skipDir(rel) {
			h.adoptDir(ev.Name)
		}
		return
	}
	if !h.filter.accept(rel) {
		return
	}

	var op Operation
	switch {
	case ev.Op&fsnotify.Create != 0:
		op = OpCreate
	case ev.Op&fsnotify.Write != 0:
		op = OpModify
	case ev.Op&fsnotify.Remove != 0:
		op = OpDelete
	case ev.Op&fsnotify.Rename != 0:
		op = OpRename
	default:
		return
	}
	h.debouncer.Add(FileEvent{Path: rel, Operation: op, Timestamp: time.Now()})
}

// adoptDir starts watching a directory created after Start and reports the
// documents already inside it, since their own create events were missed.
func (h *HybridWatcher) adoptDir(dir string) {
	if err := h.watchTree(dir); err != nil {
		h.emitError(err)
		return
	}
	snap, err := snapshotTree(dir, h.filter)
	if err != nil {
		return
	}
	prefix, _ := filepath.Rel(h.root, dir)
	for path := range snap {
		h.debouncer.Add(FileEvent{
			Path:      filepath.ToSlash(filepath.Join(prefix, path)),
			Operation: OpCreate,
			Timestamp: time.Now(),
		})
	}
}

func (h *HybridWatcher) watchTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(h.root, path)
		if h.filter.skipDir(filepath.ToSlash(rel)) {
			return filepath.SkipDir
		}
		return h.fsWatcher.Add(path)
	})
}

func (h *HybridWatcher) forward(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopCh:
			return
		case batch, ok := <-h.debouncer.Output():
			if !ok {
				return
			}
			if len(batch) > 0 {
				h.emitBatch(batch)
			}
		}
	}
}

func (h *HybridWatcher) emitBatch(batch []FileEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.stopped {
		return
	}
	select {
	case h.events <- batch:
	default:
		n := h.droppedBatches.Add(1)
		slog.Warn("watch_batch_dropped",
			slog.Int("batch_size", len(batch)),
			slog.Uint64("total_dropped_batches", n))
	}
}

func (h *HybridWatcher) emitError(err error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.stopped {
		return
	}
	select {
	case h.errors <- err:
	default:
	}
}

// Stop releases the underlying watcher and closes both channels. Safe to
// call more than once.
func (h *HybridWatcher) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return nil
	}
	h.stopped = true
	close(h.stopCh)
	h.debouncer.Stop()
	if h.fsWatcher != nil {
		_ = h.fsWatcher.Close()
	}
	if h.poller != nil {
		_ = h.poller.Stop()
	}
	close(h.events)
	close(h.errors)
	return nil
}

// Events returns debounced batches.
func (h *HybridWatcher) Events() <-chan []FileEvent {
	return h.events
}

// Errors returns non-fatal watch errors.
func (h *HybridWatcher) Errors() <-chan error {
	return h.errors
}

// DroppedBatches returns how many batches were lost to a full buffer.
func (h *HybridWatcher) DroppedBatches() uint64 {
	return h.droppedBatches.Load()
}

// WatcherType returns "fsnotify" or "polling".
func (h *HybridWatcher) WatcherType() string {
	if h.fsWatcher != nil {
		return "fsnotify"
	}
	return "polling"
}
