// Package watcher keeps the knowledge base in step with a directory of
// documents.
//
// A HybridWatcher reports debounced file events using fsnotify, or polling
// where fsnotify is unavailable. A Syncer turns those events into document
// creates and deletes:
//
//	w, err := watcher.NewHybridWatcher(opts)
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//
//	syncer := watcher.NewSyncer(manager, root, opts)
//	if _, err := syncer.InitialSync(ctx); err != nil {
//	    return err
//	}
//	return syncer.Run(ctx, w)
package watcher
