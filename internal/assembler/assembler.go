// Package assembler builds the context handed to prompt builders: the
// architecture rules most similar to a request plus the state of the
// active sprint.
package assembler

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime/debug"

	"golang.org/x/sync/errgroup"

	"github.com/nullvektordom/nexus-cli-sub000/internal/embed"
	nxerrors "github.com/nullvektordom/nexus-cli-sub000/internal/errors"
	"github.com/nullvektordom/nexus-cli-sub000/internal/index"
	"github.com/nullvektordom/nexus-cli-sub000/internal/sprint"
	"github.com/nullvektordom/nexus-cli-sub000/internal/store"
)

// Defaults for architecture retrieval.
const (
	DefaultTopK      = 3
	DefaultThreshold = 0.75
)

// Snippet is one retrieved chunk.
type Snippet struct {
	Score     float32
	ProjectID string
	FilePath  string
	Content   string
	FileType  string
	Layer     string
	// ChunkIndex is -1 when the point carries none.
	ChunkIndex int
}

// FileName returns the base name of the snippet's file.
func (s Snippet) FileName() string {
	if s.FilePath == "" {
		return "unknown"
	}
	return filepath.Base(s.FilePath)
}

// Citation formats the snippet as "From <path> (chunk N): <content>".
func (s Snippet) Citation() string {
	chunk := ""
	if s.ChunkIndex >= 0 {
		chunk = fmt.Sprintf(" (chunk %d)", s.ChunkIndex)
	}
	return fmt.Sprintf("From %s%s: %s", s.FilePath, chunk, s.Content)
}

// AssembledContext is the result of GetContext, rendered once with Render.
type AssembledContext struct {
	Snippets []Snippet
	Sprint   *sprint.State
	Request  string
}

// IsEmpty reports whether nothing was retrieved.
func (c *AssembledContext) IsEmpty() bool {
	return len(c.Snippets) == 0 && c.Sprint == nil
}

// Options configures an Assembler.
type Options struct {
	Store      store.VectorStore
	Embedder   embed.Embedder
	Sprints    sprint.Source
	Collection string
	TopK       int
	Threshold  float64
	Logger     *slog.Logger
}

// Assembler retrieves context. It holds no mutable state.
type Assembler struct {
	opts Options
}

// New returns an Assembler.
func New(opts Options) *Assembler {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Assembler{opts: opts}
}

// GetContext retrieves architecture snippets and sprint state for query
// concurrently. Store, embedding and sprint failures degrade to empty
// results with a warning; only a fault inside a retrieval unit returns an
// ErrScheduling error.
func (a *Assembler) GetContext(ctx context.Context, query, projectID string) (*AssembledContext, error) {
	log := a.opts.Logger.With(slog.String("project", projectID))
	emb := embed.Query(ctx, a.opts.Embedder, query, log)

	var (
		g        errgroup.Group
		snippets []Snippet
		state    *sprint.State
	)
	g.Go(recovered("architecture", func() {
		snippets = a.architecture(ctx, log, emb, projectID)
	}))
	g.Go(recovered("sprint", func() {
		state = a.sprintState(ctx, log)
	}))
	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Debug("context_assembled",
		slog.Int("snippets", len(snippets)),
		slog.Bool("sprint", state != nil))
	return &AssembledContext{Snippets: snippets, Sprint: state, Request: query}, nil
}

func recovered(unit string, fn func()) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = nxerrors.Newf(nxerrors.ErrCodeScheduling, "%s retrieval panicked: %v", unit, r).
					WithDetail("stack", string(debug.Stack()))
			}
		}()
		fn()
		return nil
	}
}

func (a *Assembler) architecture(ctx context.Context, log *slog.Logger, emb embed.Embedding, projectID string) []Snippet {
	if !emb.Available() {
		log.Warn("architecture_retrieval_skipped", slog.String("reason", "embedding unavailable"))
		return nil
	}

	hits, err := a.opts.Store.Search(ctx, a.opts.Collection, store.SearchRequest{
		Vector: emb.Vector(),
		Limit:  a.opts.TopK,
		Filter: architectureFilter(projectID),
	})
	if err != nil {
		log.Warn("architecture_retrieval_failed", slog.String("error", err.Error()))
		return nil
	}

	var out []Snippet
	for _, hit := range hits {
		if float64(hit.Score) < a.opts.Threshold {
			continue
		}
		out = append(out, toSnippet(hit))
	}
	return out
}

func (a *Assembler) sprintState(ctx context.Context, log *slog.Logger) *sprint.State {
	if a.opts.Sprints == nil {
		return nil
	}
	loc, err := a.opts.Sprints.Active(ctx)
	if err != nil {
		log.Warn("sprint_retrieval_failed", slog.String("error", err.Error()))
		return nil
	}
	if loc == nil {
		return nil
	}
	state, err := sprint.Read(ctx, loc)
	if err != nil {
		log.Warn("sprint_retrieval_failed",
			slog.String("sprint", loc.SprintID),
			slog.String("error", err.Error()))
		return nil
	}
	return state
}

// SearchArchitecture returns the architecture snippets most similar to
// query without a score threshold. Unlike GetContext it reports failures.
func (a *Assembler) SearchArchitecture(ctx context.Context, query, projectID string, limit int) ([]Snippet, error) {
	return a.search(ctx, query, limit, architectureFilter(projectID))
}

// GlobalSearch searches every project, optionally restricted to layers.
func (a *Assembler) GlobalSearch(ctx context.Context, query string, limit int, layers ...index.Layer) ([]Snippet, error) {
	var f store.Filter
	for _, l := range layers {
		f.Should = append(f.Should, store.Match{Key: index.FieldLayer, Value: string(l)})
	}
	return a.search(ctx, query, limit, f)
}

func (a *Assembler) search(ctx context.Context, query string, limit int, filter store.Filter) ([]Snippet, error) {
	if query == "" {
		return nil, nxerrors.New(nxerrors.ErrCodeQueryEmpty, "query must not be empty", nil)
	}
	if limit <= 0 {
		limit = a.opts.TopK
	}
	emb := embed.Query(ctx, a.opts.Embedder, query, a.opts.Logger)
	if !emb.Available() {
		return nil, nxerrors.New(nxerrors.ErrCodeNotInitialized, "embeddings are unavailable", nil).
			WithSuggestion("Check embeddings.model_path or set NEXUS_EMBEDDER=static")
	}

	hits, err := a.opts.Store.Search(ctx, a.opts.Collection, store.SearchRequest{
		Vector: emb.Vector(),
		Limit:  limit,
		Filter: filter,
	})
	if err != nil {
		return nil, err
	}
	out := make([]Snippet, len(hits))
	for i, hit := range hits {
		out[i] = toSnippet(hit)
	}
	return out, nil
}

func architectureFilter(projectID string) store.Filter {
	f := store.Filter{Must: []store.Match{{Key: index.FieldProjectID, Value: projectID}}}
	for _, l := range index.ArchitectureLayers {
		f.Should = append(f.Should, store.Match{Key: index.FieldLayer, Value: string(l)})
	}
	return f
}

func toSnippet(p store.ScoredPoint) Snippet {
	return Snippet{
		Score:      p.Score,
		ProjectID:  store.PayloadString(p.Payload, index.FieldProjectID),
		FilePath:   store.PayloadString(p.Payload, index.FieldFilePath),
		Content:    store.PayloadString(p.Payload, index.FieldContent),
		FileType:   store.PayloadString(p.Payload, index.FieldFileType),
		Layer:      store.PayloadString(p.Payload, index.FieldLayer),
		ChunkIndex: store.PayloadInt(p.Payload, index.FieldChunkIndex),
	}
}
