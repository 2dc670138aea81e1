package watcher

import (
	"context"
	"log/slog"
	"time"
)

// Operation represents a file system operation type.
type Operation int

const (
	// OpCreate indicates a new file or directory was created.
	OpCreate Operation = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file or directory was deleted.
	OpDelete
	// OpRename indicates a file or directory was renamed away.
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

// FileEvent represents a file system event.
type FileEvent struct {
	// Path is absolute.
	Path      string
	Operation Operation
	Timestamp time.Time
}

// Sink receives the work produced by the watcher. index.Indexer implements it.
type Sink interface {
	IndexFile(ctx context.Context, projectID, path string) error
	RemoveFile(ctx context.Context, projectID, path string) error
	// RemoveTree removes every indexed file under dir.
	RemoveTree(ctx context.Context, projectID, dir string) error
	Reindex(ctx context.Context, projectID string, roots []string) error
}

// Options configures the watcher behavior.
type Options struct {
	// Extensions allowed for indexing, with or without the leading dot.
	Extensions []string

	// Ignore lists directory and file base names (or globs) never watched.
	Ignore []string

	// ArchitectureDoc is the base name whose change re-indexes the project.
	// Default: 04-Architecture.md
	ArchitectureDoc string

	// DebounceWindow is how long a processed path is ignored.
	// Default: 5s
	DebounceWindow time.Duration

	// PollInterval is the period of the debounce queue drain.
	// Default: 100ms
	PollInterval time.Duration

	// ControlBuffer is the capacity of the control channel.
	// Default: 100
	ControlBuffer int

	// EventBuffer is the capacity of the event channel. Events are dropped
	// with a warning when it is full.
	// Default: 1000
	EventBuffer int

	// KeepDeleted disables point removal for deleted or renamed files.
	KeepDeleted bool

	Logger *slog.Logger

	// Now is the clock used for debounce decisions.
	Now func() time.Time
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		Extensions:      []string{"rs", "toml", "md", "txt", "json", "yaml", "yml", "go"},
		Ignore:          []string{".git", ".nexus", ".obsidian", "target", "node_modules"},
		ArchitectureDoc: "04-Architecture.md",
		DebounceWindow:  5 * time.Second,
		PollInterval:    100 * time.Millisecond,
		ControlBuffer:   100,
		EventBuffer:     1000,
	}
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if len(o.Extensions) == 0 {
		o.Extensions = defaults.Extensions
	}
	if o.Ignore == nil {
		o.Ignore = defaults.Ignore
	}
	if o.ArchitectureDoc == "" {
		o.ArchitectureDoc = defaults.ArchitectureDoc
	}
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = defaults.DebounceWindow
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaults.PollInterval
	}
	if o.ControlBuffer <= 0 {
		o.ControlBuffer = defaults.ControlBuffer
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = defaults.EventBuffer
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Message is a control message understood by the actor.
type Message interface {
	message()
}

// WatchProject replaces the current session with one watching Roots for ProjectID.
type WatchProject struct {
	ProjectID string
	Roots     []string

	reply chan error
}

// StopWatching tears down the current session and returns to idle.
type StopWatching struct{}

// Shutdown stops the actor.
type Shutdown struct{}

func (WatchProject) message() {}
func (StopWatching) message() {}
func (Shutdown) message()     {}

// Status is a snapshot of the watcher state.
type Status struct {
	Watching  bool
	ProjectID string
	Roots     []string

	// Processed counts index, remove and re-index calls made to the sink.
	Processed uint64
	// Debounced counts events dropped because the path was recently processed.
	Debounced uint64
	// Dropped counts events lost to a full event channel.
	Dropped uint64
}
