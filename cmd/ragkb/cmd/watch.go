package cmd

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/ragkb/internal/watcher"
)

type watchOptions struct {
	org          string
	polling      bool
	once         bool
	ignore       []string
	maxFileBytes int64
}

func newWatchCmd(g *globalOptions) *cobra.Command {
	var opts watchOptions

	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Mirror a directory of documents into the knowledge base",
		Long: `Sync every document file under dir, then keep watching for changes.

Each file becomes one document whose slug is its path without extension,
so guides/setup.md becomes guides-setup. Edits update the document and
removals delete it. Hidden directories are skipped.

Examples:
  ragkb watch ./docs --org acme
  ragkb watch ./docs --once`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), g, appOptions{}, func(a *app) error {
				out := writer(cmd)
				syncer, w, err := newSync(a, args[0], opts)
				if err != nil {
					return err
				}

				stats, err := syncer.InitialSync(cmd.Context())
				if err != nil {
					return err
				}
				out.SyncStats(stats)
				if opts.once {
					return nil
				}

				out.Statusf("👀", "Watching %s (%s), Ctrl-C to stop", syncer.Root(), w.WatcherType())
				err = runWatch(cmd.Context(), syncer, w)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.org, "org", "", "Organization stamped on synced documents")
	f.BoolVar(&opts.polling, "poll", false, "Poll instead of using file system notifications")
	f.BoolVar(&opts.once, "once", false, "Sync once and exit")
	f.StringSliceVar(&opts.ignore, "ignore", nil, "Base name patterns to skip, e.g. '*.draft.md'")
	f.Int64Var(&opts.maxFileBytes, "max-file-bytes", 0, "Skip larger files (default 1 MiB)")
	return cmd
}

func newSync(a *app, root string, opts watchOptions) (*watcher.Syncer, *watcher.HybridWatcher, error) {
	wopts := watcher.Options{
		DebounceWindow: a.cfg.Watch.Debounce,
		Extensions:     a.cfg.Watch.Extensions,
		IgnorePatterns: opts.ignore,
		MaxFileBytes:   opts.maxFileBytes,
		ForcePolling:   opts.polling,
		OrganizationID: opts.org,
	}
	syncer, err := watcher.NewSyncer(a.manager, root, wopts)
	if err != nil {
		return nil, nil, err
	}
	w, err := watcher.NewHybridWatcher(wopts)
	if err != nil {
		return nil, nil, err
	}
	return syncer, w, nil
}

// runWatch runs the watcher and the sync loop until ctx ends.
func runWatch(ctx context.Context, syncer *watcher.Syncer, w *watcher.HybridWatcher) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.Start(gctx, syncer.Root())
	})
	g.Go(func() error {
		defer func() { _ = w.Stop() }()
		return syncer.Run(gctx, w)
	})
	err := g.Wait()
	slog.Info("watch_stopped", slog.Uint64("dropped_batches", w.DroppedBatches()))
	return err
}
