package watcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nxerrors "github.com/nullvektordom/nexus-cli-sub000/internal/errors"
)

type call struct {
	op      string
	project string
	path    string
	roots   []string
}

type recordingSink struct {
	mu    sync.Mutex
	calls []call
	ch    chan call
	err   error
}

func newRecordingSink() *recordingSink {
	return &recordingSink{ch: make(chan call, 100)}
}

func (s *recordingSink) record(c call) error {
	s.mu.Lock()
	s.calls = append(s.calls, c)
	err := s.err
	s.mu.Unlock()
	s.ch <- c
	return err
}

func (s *recordingSink) IndexFile(_ context.Context, projectID, path string) error {
	return s.record(call{op: "index", project: projectID, path: path})
}

func (s *recordingSink) RemoveFile(_ context.Context, projectID, path string) error {
	return s.record(call{op: "remove", project: projectID, path: path})
}

func (s *recordingSink) RemoveTree(_ context.Context, projectID, dir string) error {
	return s.record(call{op: "remove_tree", project: projectID, path: dir})
}

func (s *recordingSink) Reindex(_ context.Context, projectID string, roots []string) error {
	return s.record(call{op: "reindex", project: projectID, roots: roots})
}

func (s *recordingSink) Calls() []call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]call(nil), s.calls...)
}

func (s *recordingSink) next(t *testing.T) call {
	t.Helper()
	select {
	case c := <-s.ch:
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for sink call")
		return call{}
	}
}

type fakeClock struct {
	now atomic.Int64
}

func newFakeClock() *fakeClock {
	c := &fakeClock{}
	c.now.Store(t0.UnixNano())
	return c
}

func (c *fakeClock) Now() time.Time          { return time.Unix(0, c.now.Load()) }
func (c *fakeClock) Advance(d time.Duration) { c.now.Add(int64(d)) }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// inject queues an event for the current session.
func inject(w *Watcher, path string, op Operation) {
	w.events <- event{gen: w.gen.Load(), FileEvent: FileEvent{Path: path, Operation: op}}
}

func startWatcher(t *testing.T, sink Sink, opts Options) *Watcher {
	t.Helper()
	opts.Logger = quietLogger()
	w := New(sink, opts)
	w.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = w.Shutdown(ctx)
	})
	return w
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestWatcher_IndexesWrittenFile(t *testing.T) {
	// Given: a watcher on a temp root
	root := t.TempDir()
	sink := newRecordingSink()
	w := startWatcher(t, sink, Options{})
	require.NoError(t, w.Watch(context.Background(), "demo", []string{root}))

	// When: a markdown file is written
	path := filepath.Join(root, "notes.md")
	writeFile(t, path, "# notes")

	// Then: the sink indexes it for the project
	c := sink.next(t)
	assert.Equal(t, "index", c.op)
	assert.Equal(t, "demo", c.project)
	assert.Equal(t, path, c.path)
}

func TestWatcher_DebounceOnePassPerWindow(t *testing.T) {
	// Given: a watcher with a fake clock
	root := t.TempDir()
	path := filepath.Join(root, "a.go")
	writeFile(t, path, "package a")
	other := filepath.Join(root, "b.go")
	writeFile(t, other, "package b")

	clock := newFakeClock()
	sink := newRecordingSink()
	w := startWatcher(t, sink, Options{DebounceWindow: 5 * time.Second, Now: clock.Now})
	require.NoError(t, w.Watch(context.Background(), "demo", []string{root}))

	// When: two events arrive within the window
	inject(w, path, OpModify)
	inject(w, path, OpModify)
	inject(w, other, OpModify)
	assert.Equal(t, path, sink.next(t).path)
	assert.Equal(t, other, sink.next(t).path)

	// And: a third arrives after the window
	clock.Advance(6 * time.Second)
	inject(w, path, OpModify)

	// Then: exactly two passes for the path
	assert.Equal(t, path, sink.next(t).path)
	var passes int
	for _, c := range sink.Calls() {
		if c.path == path {
			passes++
		}
	}
	assert.Equal(t, 2, passes)
	assert.GreaterOrEqual(t, w.Status().Debounced, uint64(1))
}

func TestWatcher_DeleteRemovesPoints(t *testing.T) {
	root := t.TempDir()
	sink := newRecordingSink()
	w := startWatcher(t, sink, Options{})
	require.NoError(t, w.Watch(context.Background(), "demo", []string{root}))

	inject(w, filepath.Join(root, "gone.md"), OpDelete)
	inject(w, filepath.Join(root, "moved.md"), OpRename)

	c := sink.next(t)
	assert.Equal(t, "remove", c.op)
	assert.Equal(t, filepath.Join(root, "gone.md"), c.path)
	assert.Equal(t, "remove", sink.next(t).op)
}

func TestWatcher_RenamedDirectoryRemovesTree(t *testing.T) {
	// Given: a watched root with docs/a.md
	root := t.TempDir()
	docs := filepath.Join(root, "docs")
	notes := filepath.Join(root, "notes")
	writeFile(t, filepath.Join(docs, "a.md"), "a")
	sink := newRecordingSink()
	w := startWatcher(t, sink, Options{})
	require.NoError(t, w.Watch(context.Background(), "demo", []string{root}))

	// When: the directory is renamed
	require.NoError(t, os.Rename(docs, notes))

	// Then: the old directory is removed as a tree and the new one indexed
	var removed, indexed bool
	for !removed || !indexed {
		c := sink.next(t)
		switch {
		case c.op == "remove_tree" && c.path == docs:
			removed = true
		case c.op == "index" && c.path == filepath.Join(notes, "a.md"):
			indexed = true
		}
	}
}

func TestWatcher_DisallowedDeleteRemovesTree(t *testing.T) {
	// Given: a watcher ignoring node_modules
	root := t.TempDir()
	sink := newRecordingSink()
	w := startWatcher(t, sink, Options{Ignore: []string{"node_modules"}})
	require.NoError(t, w.Watch(context.Background(), "demo", []string{root}))

	// When: an ignored and an unignored extensionless path vanish
	inject(w, filepath.Join(root, "node_modules"), OpDelete)
	inject(w, filepath.Join(root, "docs"), OpDelete)

	// Then: only the unignored one is removed as a tree
	c := sink.next(t)
	assert.Equal(t, "remove_tree", c.op)
	assert.Equal(t, filepath.Join(root, "docs"), c.path)
	assert.Len(t, sink.Calls(), 1)
}

func TestWatcher_KeepDeleted(t *testing.T) {
	// Given: tombstones disabled
	root := t.TempDir()
	marker := filepath.Join(root, "marker.md")
	writeFile(t, marker, "x")
	sink := newRecordingSink()
	w := startWatcher(t, sink, Options{KeepDeleted: true})
	require.NoError(t, w.Watch(context.Background(), "demo", []string{root}))

	// When: a delete is followed by a modify
	inject(w, filepath.Join(root, "gone.md"), OpDelete)
	inject(w, marker, OpModify)

	// Then: only the modify reaches the sink
	assert.Equal(t, "index", sink.next(t).op)
	assert.Len(t, sink.Calls(), 1)
}

func TestWatcher_DeleteReadmitsPath(t *testing.T) {
	// Given: a file processed once
	root := t.TempDir()
	path := filepath.Join(root, "a.md")
	writeFile(t, path, "a")
	sink := newRecordingSink()
	w := startWatcher(t, sink, Options{Now: newFakeClock().Now})
	require.NoError(t, w.Watch(context.Background(), "demo", []string{root}))
	inject(w, path, OpModify)
	sink.next(t)

	// When: it is deleted and re-created inside the window
	inject(w, path, OpDelete)
	inject(w, path, OpCreate)

	// Then: the re-created file is indexed again
	assert.Equal(t, "remove", sink.next(t).op)
	assert.Equal(t, "index", sink.next(t).op)
}

func TestWatcher_IgnoresDisallowedExtensions(t *testing.T) {
	root := t.TempDir()
	png := filepath.Join(root, "image.png")
	writeFile(t, png, "binary")
	md := filepath.Join(root, "doc.md")
	writeFile(t, md, "doc")
	sink := newRecordingSink()
	w := startWatcher(t, sink, Options{})
	require.NoError(t, w.Watch(context.Background(), "demo", []string{root}))

	inject(w, png, OpModify)
	inject(w, md, OpModify)

	assert.Equal(t, md, sink.next(t).path)
	assert.Len(t, sink.Calls(), 1)
}

func TestWatcher_ArchitectureDocTriggersReindex(t *testing.T) {
	// Given: a vault root with an architecture document
	repo := t.TempDir()
	vault := t.TempDir()
	arch := filepath.Join(vault, "01-PLANNING", "04-Architecture.md")
	writeFile(t, arch, "# rules")
	sink := newRecordingSink()
	w := startWatcher(t, sink, Options{})
	require.NoError(t, w.Watch(context.Background(), "demo", []string{repo, vault}))

	// When: it changes
	inject(w, arch, OpModify)

	// Then: the whole project is re-indexed over both roots
	c := sink.next(t)
	assert.Equal(t, "reindex", c.op)
	assert.Equal(t, "demo", c.project)
	assert.Equal(t, []string{repo, vault}, c.roots)
}

func TestWatcher_SinkErrorsDoNotStopLoop(t *testing.T) {
	root := t.TempDir()
	a := filepath.Join(root, "a.md")
	b := filepath.Join(root, "b.md")
	writeFile(t, a, "a")
	writeFile(t, b, "b")
	sink := newRecordingSink()
	sink.err = errors.New("store down")
	w := startWatcher(t, sink, Options{})
	require.NoError(t, w.Watch(context.Background(), "demo", []string{root}))

	inject(w, a, OpModify)
	inject(w, b, OpModify)

	assert.Equal(t, a, sink.next(t).path)
	assert.Equal(t, b, sink.next(t).path)
}

func TestWatcher_MissingRootsSkipped(t *testing.T) {
	root := t.TempDir()
	sink := newRecordingSink()
	w := startWatcher(t, sink, Options{})

	require.NoError(t, w.Watch(context.Background(), "demo", []string{filepath.Join(root, "missing"), root}))

	st := w.Status()
	assert.True(t, st.Watching)
	assert.Equal(t, []string{root}, st.Roots)
}

func TestWatcher_NoWatchableRoots(t *testing.T) {
	sink := newRecordingSink()
	w := startWatcher(t, sink, Options{})

	err := w.Watch(context.Background(), "demo", []string{"/definitely/not/here"})

	require.Error(t, err)
	assert.Equal(t, nxerrors.ErrCodeWatchSetup, nxerrors.GetCode(err))
	assert.False(t, w.Status().Watching)
}

func TestWatcher_ProjectSwitchDropsOldEvents(t *testing.T) {
	// Given: a watcher switched from project a to project b
	rootA := t.TempDir()
	rootB := t.TempDir()
	fileA := filepath.Join(rootA, "a.md")
	fileB := filepath.Join(rootB, "b.md")
	writeFile(t, fileA, "a")
	writeFile(t, fileB, "b")
	sink := newRecordingSink()
	w := startWatcher(t, sink, Options{})
	require.NoError(t, w.Watch(context.Background(), "a", []string{rootA}))
	staleGen := w.gen.Load()
	require.NoError(t, w.Watch(context.Background(), "b", []string{rootB}))

	// When: an event of the old session is still queued
	w.events <- event{gen: staleGen, FileEvent: FileEvent{Path: fileA, Operation: OpModify}}
	inject(w, fileB, OpModify)

	// Then: only the new session's event is processed
	c := sink.next(t)
	assert.Equal(t, "b", c.project)
	assert.Equal(t, fileB, c.path)
	assert.Len(t, sink.Calls(), 1)
	assert.Equal(t, "b", w.Status().ProjectID)
}

func TestWatcher_StopReturnsToIdle(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, newRecordingSink(), Options{})
	require.NoError(t, w.Watch(context.Background(), "demo", []string{root}))

	require.NoError(t, w.Stop(context.Background()))

	assert.Eventually(t, func() bool { return !w.Status().Watching }, 2*time.Second, 10*time.Millisecond)
}

func TestWatcher_NewDirectoryIsWatched(t *testing.T) {
	// Given: a watched root
	root := t.TempDir()
	sink := newRecordingSink()
	w := startWatcher(t, sink, Options{})
	require.NoError(t, w.Watch(context.Background(), "demo", []string{root}))

	// When: a directory with a file is moved in
	staging := filepath.Join(t.TempDir(), "pkg")
	writeFile(t, filepath.Join(staging, "lib.go"), "package pkg")
	require.NoError(t, os.Rename(staging, filepath.Join(root, "pkg")))

	// Then: its file is indexed
	c := sink.next(t)
	assert.Equal(t, filepath.Join(root, "pkg", "lib.go"), c.path)
}

func TestWatcher_Shutdown(t *testing.T) {
	// Given: a running watcher
	w := New(newRecordingSink(), Options{Logger: quietLogger()})
	w.Start(context.Background())
	require.NoError(t, w.Watch(context.Background(), "demo", []string{t.TempDir()}))

	// When: it is shut down
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, w.Shutdown(ctx))

	// Then: the actor has exited and rejects messages
	select {
	case <-w.Done():
	default:
		t.Fatal("actor still running")
	}
	assert.ErrorIs(t, w.Watch(context.Background(), "demo", nil), errStopped)
	assert.NoError(t, w.Shutdown(ctx), "second shutdown is a no-op")
}

func TestWatcher_ContextCancelStopsActor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := New(newRecordingSink(), Options{Logger: quietLogger()})
	w.Start(ctx)

	cancel()

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("actor did not stop")
	}
}

func TestWatcher_NotStarted(t *testing.T) {
	w := New(newRecordingSink(), Options{Logger: quietLogger()})

	assert.ErrorIs(t, w.Watch(context.Background(), "demo", nil), errNotStarted)
	assert.NoError(t, w.Shutdown(context.Background()))
}

func TestWatcher_FullEventChannelDrops(t *testing.T) {
	// Given: an unstarted watcher with a single-slot event channel
	w := New(newRecordingSink(), Options{EventBuffer: 1, Logger: quietLogger()})

	// When: two events are enqueued
	w.enqueue(event{FileEvent: FileEvent{Path: "/a"}})
	w.enqueue(event{FileEvent: FileEvent{Path: "/b"}})

	// Then: the second is dropped and counted
	assert.Equal(t, uint64(1), w.Status().Dropped)
}

func TestOptionsWithDefaults(t *testing.T) {
	o := Options{}.WithDefaults()

	assert.Equal(t, 5*time.Second, o.DebounceWindow)
	assert.Equal(t, 100*time.Millisecond, o.PollInterval)
	assert.Equal(t, 100, o.ControlBuffer)
	assert.Equal(t, 1000, o.EventBuffer)
	assert.Equal(t, "04-Architecture.md", o.ArchitectureDoc)
	assert.NotNil(t, o.Logger)
	assert.NotNil(t, o.Now)
}

func TestOperationString(t *testing.T) {
	assert.Equal(t, "CREATE", OpCreate.String())
	assert.Equal(t, "DELETE", OpDelete.String())
	assert.Equal(t, "UNKNOWN", Operation(42).String())
}
