// Package integration holds end-to-end tests that wire the indexer,
// watcher, assembler and ledger against the local store and the static
// embedder.
package integration
