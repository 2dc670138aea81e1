// Package preflight checks that a project can be indexed and served.
//
// The checks cover the host (disk space, file descriptors for the watcher,
// write access to the .nexus directory), the embedding artifacts, the
// vector store and the vault layout:
//
//	checker := preflight.New(cfg, root, preflight.WithStore(st))
//	results := checker.RunAll(ctx)
//	if checker.HasCriticalFailures(results) {
//	    // refuse to start
//	}
package preflight
