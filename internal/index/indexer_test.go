package index

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullvektordom/nexus-cli-sub000/internal/chunk"
	"github.com/nullvektordom/nexus-cli-sub000/internal/embed"
	nxerrors "github.com/nullvektordom/nexus-cli-sub000/internal/errors"
	"github.com/nullvektordom/nexus-cli-sub000/internal/store"
)

const (
	testProject    = "demo"
	testCollection = "brain"
	testDims       = 32
)

type harness struct {
	ix       *Indexer
	store    *store.LocalStore
	manifest *Manifest
	root     string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	st, err := store.NewLocalStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	m, err := OpenManifest(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	ix := newTestIndexer(t, st, m, "memory")
	require.NoError(t, ix.EnsureCollection(context.Background()))

	return &harness{ix: ix, store: st, manifest: m, root: t.TempDir()}
}

func newTestIndexer(t *testing.T, st store.VectorStore, m *Manifest, storeID string) *Indexer {
	t.Helper()
	chunker, err := chunk.New(100, 10)
	require.NoError(t, err)

	return New(Options{
		Store:      st,
		Embedder:   embed.NewStaticEmbedder(testDims),
		Chunker:    chunker,
		Manifest:   m,
		Filter:     NewPathFilter([]string{"md", "go"}, []string{".git"}),
		Collection: testCollection,
		Dimensions: testDims,
		StoreID:    storeID,
		MachineID:  "test-host",
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:        func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) },
	})
}

// flakyDeleteStore fails the first failDeletes DeleteIDs calls.
type flakyDeleteStore struct {
	store.VectorStore
	failDeletes int
}

func (f *flakyDeleteStore) DeleteIDs(ctx context.Context, collection string, ids []uint64) error {
	if f.failDeletes > 0 {
		f.failDeletes--
		return nxerrors.New(nxerrors.ErrCodeStoreConnection, "store down", nil)
	}
	return f.VectorStore.DeleteIDs(ctx, collection, ids)
}

func (h *harness) write(t *testing.T, rel, content string) string {
	t.Helper()
	path := filepath.Join(h.root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (h *harness) count(t *testing.T) uint64 {
	t.Helper()
	n, err := h.store.Count(context.Background(), testCollection)
	require.NoError(t, err)
	return n
}

func (h *harness) pointsOf(t *testing.T, path string) []store.ScoredPoint {
	t.Helper()
	vec, err := embed.NewStaticEmbedder(testDims).Embed(context.Background(), "anything")
	require.NoError(t, err)
	hits, err := h.store.Search(context.Background(), testCollection, store.SearchRequest{
		Vector: vec,
		Limit:  100,
		Filter: store.Filter{Must: []store.Match{{Key: FieldFilePath, Value: path}}},
	})
	require.NoError(t, err)
	return hits
}

func TestIndexer_IndexFile(t *testing.T) {
	// Given: a planning document of three 100-char windows
	ctx := context.Background()
	h := newHarness(t)
	path := h.write(t, "01-PLANNING/04-Architecture.md", strings.Repeat("a", 250))

	// When: it is indexed
	res, err := h.ix.Index(ctx, testProject, path)

	// Then: one point per chunk with the full payload
	require.NoError(t, err)
	assert.Equal(t, OutcomeIndexed, res.Outcome)
	assert.Equal(t, 3, res.Chunks)
	assert.Equal(t, LayerProjectArchitecture, res.Layer)
	assert.Equal(t, uint64(3), h.count(t))

	hits := h.pointsOf(t, path)
	require.Len(t, hits, 3)
	for _, hit := range hits {
		idx := store.PayloadInt(hit.Payload, FieldChunkIndex)
		assert.Equal(t, PointID(path, idx), hit.ID)
		assert.Equal(t, testProject, store.PayloadString(hit.Payload, FieldProjectID))
		assert.Equal(t, string(LayerProjectArchitecture), store.PayloadString(hit.Payload, FieldLayer))
		assert.Equal(t, "test-host", store.PayloadString(hit.Payload, FieldMachineID))
		assert.Equal(t, "md", store.PayloadString(hit.Payload, FieldFileType))
		assert.Equal(t, "2026-01-02T03:04:05Z", store.PayloadString(hit.Payload, FieldIndexedAt))
		assert.NotEmpty(t, store.PayloadString(hit.Payload, FieldContent))
		_, hasSprint := hit.Payload[FieldSprintNumber]
		assert.False(t, hasSprint)
	}

	rec, err := h.manifest.Get(ctx, testProject, path)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 3, rec.ChunkCount)
}

func TestIndexer_SprintNumberPayload(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	path := h.write(t, "00-MANAGEMENT/sprints/sprint-7-search/Tasks.md", "- [ ] write tests")

	res, err := h.ix.Index(ctx, testProject, path)

	require.NoError(t, err)
	assert.Equal(t, LayerSprintMemory, res.Layer)
	hits := h.pointsOf(t, path)
	require.Len(t, hits, 1)
	assert.Equal(t, 7, store.PayloadInt(hits[0].Payload, FieldSprintNumber))
}

func TestIndexer_UnchangedIsSkipped(t *testing.T) {
	// Given: an indexed file
	ctx := context.Background()
	h := newHarness(t)
	path := h.write(t, "notes.md", "stable content")
	_, err := h.ix.Index(ctx, testProject, path)
	require.NoError(t, err)

	// When: it is indexed again without changes
	res, err := h.ix.Index(ctx, testProject, path)

	// Then: nothing is re-embedded
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, res.Outcome)
	assert.Equal(t, 1, res.Chunks)
	assert.Equal(t, uint64(1), h.count(t))
}

func TestIndexer_ShrinkDeletesStalePoints(t *testing.T) {
	// Given: a file indexed as three chunks
	ctx := context.Background()
	h := newHarness(t)
	path := h.write(t, "src/lib.go", strings.Repeat("x", 250))
	_, err := h.ix.Index(ctx, testProject, path)
	require.NoError(t, err)
	require.Equal(t, uint64(3), h.count(t))

	// When: it shrinks to one chunk
	h.write(t, "src/lib.go", "package lib")
	res, err := h.ix.Index(ctx, testProject, path)

	// Then: the trailing points are gone
	require.NoError(t, err)
	assert.Equal(t, 1, res.Chunks)
	assert.Equal(t, uint64(1), h.count(t))
	hits := h.pointsOf(t, path)
	require.Len(t, hits, 1)
	assert.Equal(t, "package lib", store.PayloadString(hits[0].Payload, FieldContent))
}

func TestIndexer_FailedStaleDeleteIsRetried(t *testing.T) {
	// Given: a file indexed as three chunks through a store whose next
	// DeleteIDs fails
	ctx := context.Background()
	h := newHarness(t)
	flaky := &flakyDeleteStore{VectorStore: h.store}
	ix := newTestIndexer(t, flaky, h.manifest, "memory")
	path := h.write(t, "src/lib.go", strings.Repeat("x", 250))
	_, err := ix.Index(ctx, testProject, path)
	require.NoError(t, err)
	require.Equal(t, uint64(3), h.count(t))

	// When: it shrinks and the stale delete fails
	h.write(t, "src/lib.go", "package lib")
	flaky.failDeletes = 1
	_, err = ix.Index(ctx, testProject, path)

	// Then: the error surfaces and the manifest keeps the old record
	require.Error(t, err)
	rec, err := h.manifest.Get(ctx, testProject, path)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 3, rec.ChunkCount)

	// When: indexing again
	res, err := ix.Index(ctx, testProject, path)

	// Then: the stale points are deleted this time
	require.NoError(t, err)
	assert.Equal(t, OutcomeIndexed, res.Outcome)
	assert.Equal(t, uint64(1), h.count(t))
	rec, err = h.manifest.Get(ctx, testProject, path)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.ChunkCount)
}

func TestIndexer_NewStoreReindexesUnchangedFiles(t *testing.T) {
	// Given: a file indexed into store A
	ctx := context.Background()
	h := newHarness(t)
	path := h.write(t, "notes.md", "stable content")
	_, err := h.ix.Index(ctx, testProject, path)
	require.NoError(t, err)

	// And: a fresh store B that already has the collection, sharing the manifest
	b, err := store.NewLocalStore("")
	require.NoError(t, err)
	defer func() { _ = b.Close() }()
	require.NoError(t, b.CreateCollection(ctx, store.CollectionSpec{Name: testCollection, VectorSize: testDims}))
	ixB := newTestIndexer(t, b, h.manifest, "local:///elsewhere")

	// When: indexing the unchanged file into B
	res, err := ixB.Index(ctx, testProject, path)

	// Then: it is embedded again rather than reported unchanged
	require.NoError(t, err)
	assert.Equal(t, OutcomeIndexed, res.Outcome)
	n, err := b.Count(ctx, testCollection)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

func TestIndexer_CreatedCollectionResetsManifest(t *testing.T) {
	// Given: a file indexed into a store whose collection is then lost
	ctx := context.Background()
	h := newHarness(t)
	path := h.write(t, "notes.md", "stable content")
	_, err := h.ix.Index(ctx, testProject, path)
	require.NoError(t, err)
	wiped, err := store.NewLocalStore("")
	require.NoError(t, err)
	defer func() { _ = wiped.Close() }()
	ix := newTestIndexer(t, wiped, h.manifest, "memory")

	// When: the collection is recreated and the file indexed again
	require.NoError(t, ix.EnsureCollection(ctx))
	res, err := ix.Index(ctx, testProject, path)

	// Then: the file is embedded into the new collection
	require.NoError(t, err)
	assert.Equal(t, OutcomeIndexed, res.Outcome)
	n, err := wiped.Count(ctx, testCollection)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

func TestIndexer_Reset(t *testing.T) {
	// Given: an indexed file
	ctx := context.Background()
	h := newHarness(t)
	path := h.write(t, "notes.md", "stable content")
	_, err := h.ix.Index(ctx, testProject, path)
	require.NoError(t, err)

	// When: the project is reset
	n, err := h.ix.Reset(ctx, testProject)

	// Then: its row is dropped and the next index re-embeds the file
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	res, err := h.ix.Index(ctx, testProject, path)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIndexed, res.Outcome)
	assert.Equal(t, uint64(1), h.count(t))
}

func TestIndexer_Fingerprint(t *testing.T) {
	h := newHarness(t)
	other := newTestIndexer(t, h.store, h.manifest, "qdrant://localhost:6334")

	assert.Contains(t, h.ix.Fingerprint(), testCollection)
	assert.Contains(t, h.ix.Fingerprint(), h.ix.opts.Embedder.ModelName())
	assert.NotEqual(t, h.ix.Fingerprint(), other.Fingerprint())
}

func TestIndexer_EmptyFileHasNoPoints(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	path := h.write(t, "empty.md", "   \n")

	res, err := h.ix.Index(ctx, testProject, path)

	require.NoError(t, err)
	assert.Equal(t, OutcomeIndexed, res.Outcome)
	assert.Zero(t, res.Chunks)
	assert.Zero(t, h.count(t))
}

func TestIndexer_InvalidUTF8(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	path := filepath.Join(h.root, "bad.md")
	require.NoError(t, os.WriteFile(path, []byte{0xff, 0xfe, 0xfd}, 0o644))

	_, err := h.ix.Index(ctx, testProject, path)

	require.Error(t, err)
	assert.Equal(t, nxerrors.ErrCodeEncoding, nxerrors.GetCode(err))
	assert.Zero(t, h.count(t))
}

func TestIndexer_MissingFile(t *testing.T) {
	h := newHarness(t)

	err := h.ix.IndexFile(context.Background(), testProject, filepath.Join(h.root, "nope.md"))

	require.Error(t, err)
	assert.Equal(t, nxerrors.ErrCodeFileRead, nxerrors.GetCode(err))
}

func TestIndexer_OversizedIsSkipped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.ix.opts.MaxFileSize = 10
	path := h.write(t, "big.md", strings.Repeat("b", 50))

	res, err := h.ix.Index(ctx, testProject, path)

	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Zero(t, h.count(t))
}

func TestIndexer_RemoveFile(t *testing.T) {
	// Given: two indexed files
	ctx := context.Background()
	h := newHarness(t)
	keep := h.write(t, "keep.md", "keep me")
	gone := h.write(t, "gone.md", strings.Repeat("g", 150))
	require.NoError(t, h.ix.IndexFile(ctx, testProject, keep))
	require.NoError(t, h.ix.IndexFile(ctx, testProject, gone))
	require.Equal(t, uint64(3), h.count(t))

	// When: one is removed
	require.NoError(t, h.ix.RemoveFile(ctx, testProject, gone))

	// Then: only its points and manifest row disappear
	assert.Equal(t, uint64(1), h.count(t))
	rec, err := h.manifest.Get(ctx, testProject, gone)
	require.NoError(t, err)
	assert.Nil(t, rec)
	rec, err = h.manifest.Get(ctx, testProject, keep)
	require.NoError(t, err)
	assert.NotNil(t, rec)
}

func TestIndexer_RemoveFileKeepsOtherProjects(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	path := h.write(t, "shared.md", "shared")
	require.NoError(t, h.ix.IndexFile(ctx, "other", path))

	require.NoError(t, h.ix.RemoveFile(ctx, testProject, path))

	assert.Equal(t, uint64(1), h.count(t))
}

func TestIndexer_RemoveTree(t *testing.T) {
	// Given: files inside docs/, a sibling sharing its prefix and one elsewhere
	ctx := context.Background()
	h := newHarness(t)
	a := h.write(t, "docs/a.md", "alpha")
	b := h.write(t, "docs/sub/b.md", "beta")
	sibling := h.write(t, "docsx.md", "sibling")
	other := h.write(t, "src/main.go", "package main")
	for _, p := range []string{a, b, sibling, other} {
		require.NoError(t, h.ix.IndexFile(ctx, testProject, p))
	}
	require.Equal(t, uint64(4), h.count(t))

	// When: the docs directory is removed
	require.NoError(t, h.ix.RemoveTree(ctx, testProject, filepath.Join(h.root, "docs")))

	// Then: only files under it lose their points and manifest rows
	assert.Equal(t, uint64(2), h.count(t))
	assert.Empty(t, h.pointsOf(t, a))
	assert.Empty(t, h.pointsOf(t, b))
	assert.Len(t, h.pointsOf(t, sibling), 1)
	rows, err := h.manifest.List(ctx, testProject)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, sibling, rows[0].Path)
}

func TestIndexer_Walk(t *testing.T) {
	h := newHarness(t)
	h.write(t, "b.md", "b")
	h.write(t, "a/a.go", "package a")
	h.write(t, ".git/config.md", "ignored dir")
	h.write(t, "image.png", "not allowed")

	files := h.ix.Walk([]string{h.root, h.root, filepath.Join(h.root, "missing")})

	require.Len(t, files, 2)
	assert.Equal(t, filepath.Join(h.root, "a", "a.go"), files[0])
	assert.Equal(t, filepath.Join(h.root, "b.md"), files[1])
}

func TestIndexer_IndexAll(t *testing.T) {
	// Given: a tree with a good file, a bad file and an unchanged file
	ctx := context.Background()
	h := newHarness(t)
	good := h.write(t, "good.md", "hello world")
	h.write(t, "same.md", "unchanged")
	require.NoError(t, h.ix.IndexFile(ctx, testProject, filepath.Join(h.root, "same.md")))
	require.NoError(t, os.WriteFile(filepath.Join(h.root, "bad.md"), []byte{0xff}, 0o644))

	var (
		mu     sync.Mutex
		events []Progress
	)

	// When: the whole tree is indexed
	stats, err := h.ix.IndexAll(ctx, testProject, []string{h.root}, func(p Progress) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, p)
	})

	// Then: failures are counted and the walk continues
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Files)
	assert.Equal(t, 1, stats.Indexed)
	assert.Equal(t, 1, stats.Unchanged)
	assert.Equal(t, 1, stats.Failed)
	require.Len(t, events, 3)
	assert.Equal(t, 3, events[2].Done)
	assert.Equal(t, 3, events[2].Total)

	var sawGood bool
	for _, e := range events {
		if e.Path == good {
			sawGood = true
			assert.NoError(t, e.Err)
		}
	}
	assert.True(t, sawGood)
}

func TestIndexer_IndexAllCancelled(t *testing.T) {
	h := newHarness(t)
	h.write(t, "a.md", "a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.ix.IndexAll(ctx, testProject, []string{h.root}, nil)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestIndexer_Prune(t *testing.T) {
	// Given: two indexed files, one then deleted from disk
	ctx := context.Background()
	h := newHarness(t)
	keep := h.write(t, "keep.md", "keep")
	gone := h.write(t, "gone.md", "gone")
	require.NoError(t, h.ix.IndexFile(ctx, testProject, keep))
	require.NoError(t, h.ix.IndexFile(ctx, testProject, gone))
	require.NoError(t, os.Remove(gone))

	// When: pruning
	pruned, err := h.ix.Prune(ctx, testProject)

	// Then: only the vanished file is removed
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)
	assert.Equal(t, uint64(1), h.count(t))
}

func TestIndexer_Reindex(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	a := h.write(t, "a.md", "alpha")
	require.NoError(t, h.ix.IndexFile(ctx, testProject, a))
	require.NoError(t, os.Remove(a))
	h.write(t, "b.md", "beta")

	require.NoError(t, h.ix.Reindex(ctx, testProject, []string{h.root}))

	records, err := h.manifest.List(ctx, testProject)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, filepath.Join(h.root, "b.md"), records[0].Path)
}

func TestIndexer_EnsureCollectionIdempotent(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.ix.EnsureCollection(context.Background()))
	require.NoError(t, h.ix.EnsureCollection(context.Background()))

	ok, err := h.store.CollectionExists(context.Background(), testCollection)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIndexer_Health(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.ix.IndexFile(ctx, testProject, h.write(t, "a.md", "alpha")))

	health, err := h.ix.Health(ctx)

	require.NoError(t, err)
	assert.True(t, health.Online)
	assert.Equal(t, testCollection, health.Collection)
	assert.Equal(t, uint64(1), health.Points)

	require.NoError(t, h.store.Close())
	health, err = h.ix.Health(ctx)
	assert.Error(t, err)
	assert.False(t, health.Online)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "indexed", OutcomeIndexed.String())
	assert.Equal(t, "unchanged", OutcomeUnchanged.String())
	assert.Equal(t, "skipped", OutcomeSkipped.String())
}
