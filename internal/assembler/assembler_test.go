package assembler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullvektordom/nexus-cli-sub000/internal/embed"
	nxerrors "github.com/nullvektordom/nexus-cli-sub000/internal/errors"
	"github.com/nullvektordom/nexus-cli-sub000/internal/index"
	"github.com/nullvektordom/nexus-cli-sub000/internal/sprint"
	"github.com/nullvektordom/nexus-cli-sub000/internal/store"
)

// fakeStore answers Search with scripted hits and records the request.
type fakeStore struct {
	store.VectorStore
	hits    []store.ScoredPoint
	err     error
	panics  bool
	lastReq store.SearchRequest
}

func (s *fakeStore) Search(_ context.Context, _ string, req store.SearchRequest) ([]store.ScoredPoint, error) {
	if s.panics {
		panic("boom")
	}
	s.lastReq = req
	return s.hits, s.err
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (e *fakeEmbedder) Embed(context.Context, string) ([]float32, error) { return e.vec, e.err }

func (e *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v, err := e.Embed(ctx, texts[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *fakeEmbedder) Dimensions() int { return len(e.vec) }
func (e *fakeEmbedder) ModelName() string { return "fake" }
func (e *fakeEmbedder) Available(context.Context) bool { return e.err == nil }
func (e *fakeEmbedder) Close() error { return nil }

type fakeSource struct {
	loc *sprint.Location
	err error
}

func (s fakeSource) Active(context.Context) (*sprint.Location, error) { return s.loc, s.err }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func hit(score float32, path, content string) store.ScoredPoint {
	return store.ScoredPoint{Score: score, Payload: map[string]any{
		index.FieldFilePath:   path,
		index.FieldContent:    content,
		index.FieldFileType:   "md",
		index.FieldChunkIndex: int64(0),
	}}
}

func sprintFixture(t *testing.T) *sprint.Location {
	t.Helper()
	dir := t.TempDir()
	loc := &sprint.Location{
		SprintID:    "sprint-2",
		TasksPath:   filepath.Join(dir, sprint.TasksFile),
		ContextPath: filepath.Join(dir, sprint.ContextFile),
	}
	require.NoError(t, os.WriteFile(loc.TasksPath, []byte("- [ ] add cache\n- [x] add store\n"), 0o644))
	require.NoError(t, os.WriteFile(loc.ContextPath, []byte("Keep it local."), 0o644))
	return loc
}

func TestGetContext_ThresholdBoundary(t *testing.T) {
	// Given: hits just above and just below the threshold
	st := &fakeStore{hits: []store.ScoredPoint{
		hit(0.76, "/v/01-PLANNING/keep.md", "keep"),
		hit(0.74, "/v/01-PLANNING/drop.md", "drop"),
	}}
	a := New(Options{Store: st, Embedder: &fakeEmbedder{vec: []float32{1, 0}}, Collection: "brain", Logger: quietLogger()})

	// When: assembling
	got, err := a.GetContext(context.Background(), "how do we cache?", "demo")

	// Then: only 0.76 survives
	require.NoError(t, err)
	require.Len(t, got.Snippets, 1)
	assert.Equal(t, "keep.md", got.Snippets[0].FileName())
	assert.Equal(t, "how do we cache?", got.Request)
}

func TestGetContext_SearchRequest(t *testing.T) {
	st := &fakeStore{}
	a := New(Options{Store: st, Embedder: &fakeEmbedder{vec: []float32{1, 0}}, Collection: "brain", Logger: quietLogger()})

	_, err := a.GetContext(context.Background(), "q", "demo")

	require.NoError(t, err)
	assert.Equal(t, DefaultTopK, st.lastReq.Limit)
	assert.Equal(t, []store.Match{{Key: index.FieldProjectID, Value: "demo"}}, st.lastReq.Filter.Must)
	assert.ElementsMatch(t, []store.Match{
		{Key: index.FieldLayer, Value: string(index.LayerProjectArchitecture)},
		{Key: index.FieldLayer, Value: string(index.LayerGlobalStandard)},
	}, st.lastReq.Filter.Should)
}

func TestGetContext_StoreUnreachable(t *testing.T) {
	// Given: a store that cannot be reached and an active sprint
	st := &fakeStore{err: nxerrors.New(nxerrors.ErrCodeStoreConnection, "connection refused", nil)}
	a := New(Options{
		Store:    st,
		Embedder: &fakeEmbedder{vec: []float32{1, 0}},
		Sprints:  fakeSource{loc: sprintFixture(t)},
		Logger:   quietLogger(),
	})

	// When: assembling
	got, err := a.GetContext(context.Background(), "q", "demo")

	// Then: no error, no snippets, sprint still present
	require.NoError(t, err)
	assert.Empty(t, got.Snippets)
	require.NotNil(t, got.Sprint)
	assert.Equal(t, "- [ ] add cache", got.Sprint.UnfinishedTasks)
}

func TestGetContext_EmbeddingUnavailableSkipsSearch(t *testing.T) {
	st := &fakeStore{hits: []store.ScoredPoint{hit(0.99, "/a.md", "a")}}
	a := New(Options{Store: st, Embedder: &fakeEmbedder{err: nxerrors.ErrNotInitialized}, Logger: quietLogger()})

	got, err := a.GetContext(context.Background(), "q", "demo")

	require.NoError(t, err)
	assert.Empty(t, got.Snippets)
	assert.Zero(t, st.lastReq.Limit, "store was not searched")
}

func TestGetContext_NilEmbedder(t *testing.T) {
	a := New(Options{Store: &fakeStore{}, Logger: quietLogger()})

	got, err := a.GetContext(context.Background(), "q", "demo")

	require.NoError(t, err)
	assert.True(t, got.IsEmpty())
}

func TestGetContext_SprintFailureIsAbsent(t *testing.T) {
	a := New(Options{
		Store:    &fakeStore{},
		Embedder: &fakeEmbedder{vec: []float32{1}},
		Sprints:  fakeSource{err: errors.New("vault offline")},
		Logger:   quietLogger(),
	})

	got, err := a.GetContext(context.Background(), "q", "demo")

	require.NoError(t, err)
	assert.Nil(t, got.Sprint)
}

func TestGetContext_MissingSprintDocuments(t *testing.T) {
	dir := t.TempDir()
	a := New(Options{
		Store:    &fakeStore{},
		Embedder: &fakeEmbedder{vec: []float32{1}},
		Sprints: fakeSource{loc: &sprint.Location{
			SprintID:    "sprint-1",
			TasksPath:   filepath.Join(dir, sprint.TasksFile),
			ContextPath: filepath.Join(dir, sprint.ContextFile),
		}},
		Logger: quietLogger(),
	})

	got, err := a.GetContext(context.Background(), "q", "demo")

	require.NoError(t, err)
	assert.Nil(t, got.Sprint)
}

func TestGetContext_PanicIsSchedulingError(t *testing.T) {
	// Given: a retrieval unit that panics
	a := New(Options{
		Store:    &fakeStore{panics: true},
		Embedder: &fakeEmbedder{vec: []float32{1}},
		Sprints:  fakeSource{loc: sprintFixture(t)},
		Logger:   quietLogger(),
	})

	// When: assembling
	got, err := a.GetContext(context.Background(), "q", "demo")

	// Then: the fault surfaces as ErrScheduling
	require.Error(t, err)
	assert.Nil(t, got)
	assert.True(t, nxerrors.Is(err, nxerrors.ErrScheduling))
}

func TestSearchArchitecture(t *testing.T) {
	st := &fakeStore{hits: []store.ScoredPoint{hit(0.3, "/v/01-PLANNING/a.md", "low score kept")}}
	a := New(Options{Store: st, Embedder: &fakeEmbedder{vec: []float32{1}}, Logger: quietLogger()})

	got, err := a.SearchArchitecture(context.Background(), "why sqlite?", "demo", 5)

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 5, st.lastReq.Limit)
	assert.Equal(t, "low score kept", got[0].Content)
}

func TestSearchArchitecture_Errors(t *testing.T) {
	t.Run("empty query", func(t *testing.T) {
		a := New(Options{Store: &fakeStore{}, Embedder: &fakeEmbedder{vec: []float32{1}}, Logger: quietLogger()})
		_, err := a.SearchArchitecture(context.Background(), "", "demo", 3)
		assert.Equal(t, nxerrors.ErrCodeQueryEmpty, nxerrors.GetCode(err))
	})
	t.Run("embeddings unavailable", func(t *testing.T) {
		a := New(Options{Store: &fakeStore{}, Logger: quietLogger()})
		_, err := a.SearchArchitecture(context.Background(), "q", "demo", 3)
		assert.Equal(t, nxerrors.ErrCodeNotInitialized, nxerrors.GetCode(err))
	})
	t.Run("store failure", func(t *testing.T) {
		a := New(Options{Store: &fakeStore{err: errors.New("down")}, Embedder: &fakeEmbedder{vec: []float32{1}}, Logger: quietLogger()})
		_, err := a.SearchArchitecture(context.Background(), "q", "demo", 3)
		assert.Error(t, err)
	})
}

func TestGlobalSearch_NoProjectFilter(t *testing.T) {
	st := &fakeStore{}
	a := New(Options{Store: st, Embedder: &fakeEmbedder{vec: []float32{1}}, Logger: quietLogger()})

	_, err := a.GlobalSearch(context.Background(), "q", 10, index.LayerGlobalStandard)

	require.NoError(t, err)
	assert.Empty(t, st.lastReq.Filter.Must)
	assert.Equal(t, []store.Match{{Key: index.FieldLayer, Value: string(index.LayerGlobalStandard)}}, st.lastReq.Filter.Should)
}

func TestGetContext_LocalStore(t *testing.T) {
	// Given: a local store holding architecture and source chunks of two projects
	ctx := context.Background()
	st, err := store.NewLocalStore("")
	require.NoError(t, err)
	defer func() { _ = st.Close() }()
	e := embed.NewStaticEmbedder(64)
	require.NoError(t, st.CreateCollection(ctx, store.CollectionSpec{Name: "brain", VectorSize: 64, Distance: store.DistanceCosine}))

	text := "the cache layer uses an lru keyed by content hash"
	vec, err := e.Embed(ctx, text)
	require.NoError(t, err)
	payload := func(project string, layer index.Layer, path string) map[string]any {
		return map[string]any{
			index.FieldProjectID:  project,
			index.FieldLayer:      string(layer),
			index.FieldFilePath:   path,
			index.FieldContent:    text,
			index.FieldChunkIndex: int64(0),
		}
	}
	require.NoError(t, st.Upsert(ctx, "brain", []store.Point{
		{ID: 1, Vector: vec, Payload: payload("demo", index.LayerProjectArchitecture, "/v/01-PLANNING/04-Architecture.md")},
		{ID: 2, Vector: vec, Payload: payload("demo", index.LayerSourceCode, "/r/src/cache.go")},
		{ID: 3, Vector: vec, Payload: payload("other", index.LayerProjectArchitecture, "/o/01-PLANNING/x.md")},
	}))
	a := New(Options{Store: st, Embedder: e, Collection: "brain", Logger: quietLogger()})

	// When: asking with the same text
	got, err := a.GetContext(ctx, text, "demo")

	// Then: only the project's architecture chunk is returned
	require.NoError(t, err)
	require.Len(t, got.Snippets, 1)
	assert.Equal(t, "04-Architecture.md", got.Snippets[0].FileName())
	assert.InDelta(t, 1.0, got.Snippets[0].Score, 1e-4)
}

func TestSnippet(t *testing.T) {
	s := Snippet{FilePath: "/v/01-PLANNING/04-Architecture.md", Content: "use sqlite", ChunkIndex: 2}

	assert.Equal(t, "04-Architecture.md", s.FileName())
	assert.Equal(t, "From /v/01-PLANNING/04-Architecture.md (chunk 2): use sqlite", s.Citation())

	s.ChunkIndex = -1
	assert.Equal(t, "From /v/01-PLANNING/04-Architecture.md: use sqlite", s.Citation())
	assert.Equal(t, "unknown", Snippet{}.FileName())
}
