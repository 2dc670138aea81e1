package watcher

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	nxerrors "github.com/nullvektordom/nexus-cli-sub000/internal/errors"
	"github.com/nullvektordom/nexus-cli-sub000/internal/index"
)

var (
	errNotStarted = errors.New("watcher not started")
	errStopped    = errors.New("watcher stopped")
)

// Watcher is the change watcher actor. Create it with New, run it with
// Start and stop it with Shutdown.
type Watcher struct {
	opts   Options
	sink   Sink
	filter *index.PathFilter
	logger *slog.Logger

	control chan Message
	events  chan event

	// owned by the actor goroutine
	session  *session
	debounce *Debouncer

	gen       atomic.Uint64
	processed atomic.Uint64
	debounced atomic.Uint64
	dropped   atomic.Uint64

	mu     sync.RWMutex
	status Status

	started atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

type event struct {
	gen uint64
	FileEvent
}

type session struct {
	gen       uint64
	projectID string
	roots     []string
	fsw       *fsnotify.Watcher
	pumpDone  chan struct{}
}

// New creates an idle watcher that sends work to sink.
func New(sink Sink, opts Options) *Watcher {
	opts = opts.WithDefaults()
	return &Watcher{
		opts:     opts,
		sink:     sink,
		filter:   index.NewPathFilter(opts.Extensions, opts.Ignore),
		logger:   opts.Logger,
		control:  make(chan Message, opts.ControlBuffer),
		events:   make(chan event, opts.EventBuffer),
		debounce: NewDebouncer(opts.DebounceWindow),
		done:     make(chan struct{}),
	}
}

// Start launches the actor goroutine. The actor stops when ctx is
// cancelled or Shutdown is called. Calling Start twice has no effect.
func (w *Watcher) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	actorCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	go w.run(actorCtx)
}

// Watch switches the watcher to projectID, tearing down any current
// session first. Missing roots are skipped; when none can be watched an
// ErrWatchSetup error is returned and the watcher stays idle.
func (w *Watcher) Watch(ctx context.Context, projectID string, roots []string) error {
	reply := make(chan error, 1)
	if err := w.send(ctx, WatchProject{ProjectID: projectID, Roots: roots, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-w.done:
		return errStopped
	}
}

// Stop returns the watcher to idle.
func (w *Watcher) Stop(ctx context.Context) error {
	return w.send(ctx, StopWatching{})
}

// Shutdown stops the actor and waits for it to exit.
func (w *Watcher) Shutdown(ctx context.Context) error {
	if !w.started.Load() {
		return nil
	}
	if err := w.send(ctx, Shutdown{}); err != nil && !errors.Is(err, errStopped) {
		return err
	}
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the actor has exited.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

// Status returns a snapshot of the watcher state.
func (w *Watcher) Status() Status {
	w.mu.RLock()
	s := w.status
	s.Roots = slices.Clone(s.Roots)
	w.mu.RUnlock()

	s.Processed = w.processed.Load()
	s.Debounced = w.debounced.Load()
	s.Dropped = w.dropped.Load()
	return s
}

func (w *Watcher) send(ctx context.Context, msg Message) error {
	if !w.started.Load() {
		return errNotStarted
	}
	select {
	case w.control <- msg:
		return nil
	case <-w.done:
		return errStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	defer w.cancel()

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	w.logger.Debug("watcher_started")
	for {
		select {
		case <-ctx.Done():
			w.teardown()
			return
		case msg := <-w.control:
			if !w.handleControl(ctx, msg) {
				w.logger.Debug("watcher_shutdown")
				return
			}
		case ev := <-w.events:
			w.handleEvent(ctx, ev)
		case <-ticker.C:
			w.debounce.Expire(w.opts.Now())
		}
	}
}

func (w *Watcher) handleControl(_ context.Context, msg Message) bool {
	switch m := msg.(type) {
	case WatchProject:
		err := w.watch(m.ProjectID, m.Roots)
		if m.reply != nil {
			m.reply <- err
		}
	case StopWatching:
		w.teardown()
	case Shutdown:
		w.teardown()
		return false
	}
	return true
}

func (w *Watcher) watch(projectID string, roots []string) error {
	w.teardown()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nxerrors.New(nxerrors.ErrCodeWatchSetup, "failed to create file watcher", err)
	}

	var watched []string
	for _, root := range roots {
		if root == "" {
			continue
		}
		abs, err := filepath.Abs(root)
		if err != nil {
			abs = root
		}
		info, err := os.Stat(abs)
		if err != nil || !info.IsDir() {
			w.logger.Warn("watch_root_skipped", slog.String("root", abs), slog.String("reason", "not a directory"))
			continue
		}
		if err := w.addRecursive(fsw, abs); err != nil {
			w.logger.Warn("watch_root_skipped", slog.String("root", abs), slog.String("error", err.Error()))
			continue
		}
		watched = append(watched, abs)
	}

	if len(watched) == 0 {
		_ = fsw.Close()
		return nxerrors.New(nxerrors.ErrCodeWatchSetup, "no watchable roots for project "+projectID, nil).
			WithSuggestion("Check project.repo_path and project.obsidian_path in .nexus.yaml")
	}

	s := &session{
		gen:       w.gen.Add(1),
		projectID: projectID,
		roots:     watched,
		fsw:       fsw,
		pumpDone:  make(chan struct{}),
	}
	w.session = s
	go w.pump(s)

	w.setStatus(Status{Watching: true, ProjectID: projectID, Roots: watched})
	w.logger.Info("watch_started",
		slog.String("project", projectID),
		slog.Any("roots", watched))
	return nil
}

func (w *Watcher) teardown() {
	s := w.session
	if s == nil {
		return
	}
	_ = s.fsw.Close()
	<-s.pumpDone

	w.session = nil
	w.debounce.Reset()
	w.setStatus(Status{})
	w.logger.Info("watch_stopped", slog.String("project", s.projectID))
}

func (w *Watcher) setStatus(s Status) {
	w.mu.Lock()
	w.status = s
	w.mu.Unlock()
}

// addRecursive adds root and every unignored directory below it.
func (w *Watcher) addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.filter.SkipDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			if path == root {
				return err
			}
			w.logger.Warn("watch_dir_failed", slog.String("path", path), slog.String("error", err.Error()))
		}
		return nil
	})
}

// pump forwards fsnotify events of one session to the actor.
func (w *Watcher) pump(s *session) {
	defer close(s.pumpDone)
	for {
		select {
		case e, ok := <-s.fsw.Events:
			if !ok {
				return
			}
			op, ok := convert(e.Op)
			if !ok {
				continue
			}
			w.enqueue(event{gen: s.gen, FileEvent: FileEvent{Path: e.Name, Operation: op, Timestamp: w.opts.Now()}})
		case err, ok := <-s.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch_error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) enqueue(ev event) {
	select {
	case w.events <- ev:
	default:
		n := w.dropped.Add(1)
		w.logger.Warn("watch_event_dropped",
			slog.String("path", ev.Path),
			slog.Uint64("total_dropped", n))
	}
}

func convert(op fsnotify.Op) (Operation, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return OpCreate, true
	case op.Has(fsnotify.Write):
		return OpModify, true
	case op.Has(fsnotify.Remove):
		return OpDelete, true
	case op.Has(fsnotify.Rename):
		return OpRename, true
	default:
		return 0, false
	}
}

func (w *Watcher) handleEvent(ctx context.Context, ev event) {
	s := w.session
	if s == nil || ev.gen != s.gen {
		return
	}

	switch ev.Operation {
	case OpDelete, OpRename:
		w.debounce.Forget(ev.Path)
		if w.opts.KeepDeleted {
			return
		}
		if w.filter.AllowedFile(ev.Path) {
			w.processed.Add(1)
			if err := w.sink.RemoveFile(ctx, s.projectID, ev.Path); err != nil {
				w.logger.Warn("watch_remove_failed",
					slog.String("path", ev.Path),
					slog.String("error", err.Error()))
			}
			return
		}
		// A vanished path can no longer be stat'ed, so anything that is not
		// an indexable file may have been a directory. Its files get no
		// events of their own.
		if w.filter.SkipDir(filepath.Base(ev.Path)) {
			return
		}
		if err := w.sink.RemoveTree(ctx, s.projectID, ev.Path); err != nil {
			w.logger.Warn("watch_remove_failed",
				slog.String("path", ev.Path),
				slog.String("error", err.Error()))
		}

	case OpCreate, OpModify:
		info, err := os.Stat(ev.Path)
		if err != nil {
			w.logger.Debug("watch_path_vanished", slog.String("path", ev.Path))
			return
		}
		if !info.IsDir() {
			w.process(ctx, s, ev.Path)
			return
		}
		if ev.Operation != OpCreate || w.filter.SkipDir(info.Name()) {
			return
		}
		if err := w.addRecursive(s.fsw, ev.Path); err != nil {
			w.logger.Warn("watch_dir_failed", slog.String("path", ev.Path), slog.String("error", err.Error()))
			return
		}
		// files moved in with the directory produce no events of their own
		_ = filepath.WalkDir(ev.Path, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if path != ev.Path && w.filter.SkipDir(d.Name()) {
					return filepath.SkipDir
				}
				return nil
			}
			w.process(ctx, s, path)
			return nil
		})
	}
}

func (w *Watcher) process(ctx context.Context, s *session, path string) {
	arch := filepath.Base(path) == w.opts.ArchitectureDoc
	if !arch && !w.filter.AllowedFile(path) {
		return
	}
	if !w.debounce.Admit(path, w.opts.Now()) {
		w.debounced.Add(1)
		return
	}

	w.processed.Add(1)
	if arch {
		w.logger.Info("architecture_changed",
			slog.String("path", path),
			slog.String("project", s.projectID))
		if err := w.sink.Reindex(ctx, s.projectID, s.roots); err != nil {
			w.logger.Warn("watch_reindex_failed", slog.String("error", err.Error()))
		}
		return
	}

	if err := w.sink.IndexFile(ctx, s.projectID, path); err != nil {
		w.logger.Warn("watch_index_failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}
}
