// Package watcher keeps the index in step with the files of one project.
//
// A Watcher is a single goroutine (the actor) that owns every piece of
// watch state. It selects over three sources:
//   - a bounded control channel carrying WatchProject, StopWatching and Shutdown
//   - a bounded event channel fed by the fsnotify pump of the current session
//   - a poll ticker that drains expired entries from the debounce queue
//
// Debouncing is leading-edge per path: the first change of a file is
// indexed immediately and further changes within the window are dropped.
// Expiries live in one min-heap, so no timer or goroutine exists per event.
//
// Usage:
//
//	w := watcher.New(indexer, watcher.DefaultOptions())
//	w.Start(ctx)
//	defer w.Shutdown(context.Background())
//
//	if err := w.Watch(ctx, "my-project", []string{repo, vault}); err != nil {
//	    return err
//	}
package watcher
