// Package index turns project files into vector store points: it chunks,
// embeds and upserts files, keeps a manifest of what was indexed, and
// removes points of files that changed shape or disappeared.
package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/nullvektordom/nexus-cli-sub000/internal/chunk"
	"github.com/nullvektordom/nexus-cli-sub000/internal/embed"
	nxerrors "github.com/nullvektordom/nexus-cli-sub000/internal/errors"
	"github.com/nullvektordom/nexus-cli-sub000/internal/store"
)

// DefaultMaxFileSize is the largest file indexed (10MB). Larger files are
// skipped with a warning.
const DefaultMaxFileSize int64 = 10 * 1024 * 1024

// Payload field names.
const (
	FieldProjectID    = "project_id"
	FieldLayer        = "layer"
	FieldMachineID    = "machine_id"
	FieldFilePath     = "file_path"
	FieldFileType     = "file_type"
	FieldChunkIndex   = "chunk_index"
	FieldSprintNumber = "sprint_number"
	FieldContent      = "content"
	FieldIndexedAt    = "indexed_at"
)

// IndexedFields get a keyword index on the collection.
var IndexedFields = []string{FieldProjectID, FieldLayer, FieldMachineID, FieldFilePath}

// Options configures an Indexer.
type Options struct {
	Store      store.VectorStore
	Embedder   embed.Embedder
	Chunker    *chunk.Chunker
	Manifest   *Manifest
	Filter     *PathFilter
	Collection string
	Dimensions int

	// StoreID names the backend the collection lives in (see
	// store.Locator). It is part of the manifest fingerprint.
	StoreID string

	// MachineID defaults to the hostname.
	MachineID   string
	MaxFileSize int64
	Logger      *slog.Logger
	Now         func() time.Time
}

// Indexer writes files of any project into one collection. It is safe for
// concurrent use; file operations are serialized.
type Indexer struct {
	opts  Options
	mu    sync.Mutex
	bound map[string]bool
}

// Outcome of indexing one file.
type Outcome int

const (
	OutcomeIndexed Outcome = iota
	OutcomeUnchanged
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIndexed:
		return "indexed"
	case OutcomeUnchanged:
		return "unchanged"
	default:
		return "skipped"
	}
}

// FileResult describes one IndexFile call.
type FileResult struct {
	Path    string
	Outcome Outcome
	Chunks  int
	Layer   Layer
}

// Stats summarizes a walk over project roots.
type Stats struct {
	Files     int
	Indexed   int
	Unchanged int
	Skipped   int
	Failed    int
	Chunks    int
	Pruned    int
	Duration  time.Duration
}

// Progress is reported after each file of a walk.
type Progress struct {
	Done   int
	Total  int
	Path   string
	Result FileResult
	Err    error
}

// Health is the state of the collection.
type Health struct {
	Online     bool
	Collection string
	Points     uint64
}

// New returns an Indexer.
func New(opts Options) *Indexer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Chunker == nil {
		opts.Chunker = chunk.Default()
	}
	if opts.Filter == nil {
		opts.Filter = NewPathFilter([]string{"rs", "toml", "md", "txt", "json", "yaml", "yml", "go"}, nil)
	}
	if opts.Dimensions <= 0 {
		opts.Dimensions = embed.DefaultDimensions
	}
	if opts.MachineID == "" {
		opts.MachineID = MachineID()
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Indexer{opts: opts, bound: make(map[string]bool)}
}

// Filter returns the path filter.
func (ix *Indexer) Filter() *PathFilter {
	return ix.opts.Filter
}

// Collection returns the target collection name.
func (ix *Indexer) Collection() string {
	return ix.opts.Collection
}

// Fingerprint identifies where and how points are written: collection,
// backend, embedding model and dimensions. Manifest rows recorded under a
// different fingerprint are discarded.
func (ix *Indexer) Fingerprint() string {
	model := ""
	if ix.opts.Embedder != nil {
		model = ix.opts.Embedder.ModelName()
	}
	return strings.Join([]string{
		ix.opts.Collection,
		ix.opts.StoreID,
		model,
		fmt.Sprint(ix.opts.Dimensions),
	}, "|")
}

// bind checks the manifest of projectID against the fingerprint once per
// Indexer. Callers hold mu.
func (ix *Indexer) bind(ctx context.Context, projectID string) error {
	if ix.bound[projectID] {
		return nil
	}
	dropped, err := ix.opts.Manifest.Bind(ctx, projectID, ix.Fingerprint())
	if err != nil {
		return err
	}
	if dropped > 0 {
		ix.opts.Logger.Info("manifest_invalidated",
			slog.String("project", projectID),
			slog.String("reason", "index target changed"),
			slog.Int("files", dropped))
	}
	ix.bound[projectID] = true
	return nil
}

// Reset forgets what was indexed for projectID so the next walk embeds
// every file again. It returns the number of manifest rows dropped.
func (ix *Indexer) Reset(ctx context.Context, projectID string) (int, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.bind(ctx, projectID); err != nil {
		return 0, err
	}
	n, err := ix.opts.Manifest.Reset(ctx, projectID)
	if err != nil {
		return 0, err
	}
	ix.opts.Logger.Info("manifest_reset",
		slog.String("project", projectID),
		slog.Int("files", n))
	return n, nil
}

// EnsureCollection creates the collection with cosine distance, on-disk
// vectors and payloads and keyword indexes when it does not exist. A
// collection created here holds no points, so the manifest is reset.
func (ix *Indexer) EnsureCollection(ctx context.Context) error {
	exists, err := ix.opts.Store.CollectionExists(ctx, ix.opts.Collection)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	if err := ix.opts.Store.CreateCollection(ctx, store.CollectionSpec{
		Name:          ix.opts.Collection,
		VectorSize:    ix.opts.Dimensions,
		Distance:      store.DistanceCosine,
		OnDisk:        true,
		OnDiskPayload: true,
		IndexedFields: IndexedFields,
	}); err != nil {
		return err
	}
	ix.opts.Logger.Info("collection_created",
		slog.String("collection", ix.opts.Collection),
		slog.Int("dimensions", ix.opts.Dimensions))

	ix.mu.Lock()
	defer ix.mu.Unlock()
	n, err := ix.opts.Manifest.Reset(ctx, "")
	if err != nil {
		return err
	}
	if n > 0 {
		ix.opts.Logger.Info("manifest_invalidated",
			slog.String("reason", "collection created"),
			slog.Int("files", n))
	}
	return nil
}

// Health reports the collection point count. A store failure yields
// Online false together with the error.
func (ix *Indexer) Health(ctx context.Context) (Health, error) {
	h := Health{Collection: ix.opts.Collection}
	n, err := ix.opts.Store.Count(ctx, ix.opts.Collection)
	if err != nil {
		return h, err
	}
	h.Online = true
	h.Points = n
	return h, nil
}

// IndexFile indexes path for projectID. Unchanged content is skipped; a
// file that now has fewer chunks has its trailing points deleted.
func (ix *Indexer) IndexFile(ctx context.Context, projectID, path string) error {
	_, err := ix.Index(ctx, projectID, path)
	return err
}

// Index is IndexFile returning what happened.
func (ix *Indexer) Index(ctx context.Context, projectID, path string) (FileResult, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.indexFile(ctx, projectID, path)
}

func (ix *Indexer) indexFile(ctx context.Context, projectID, path string) (FileResult, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	res := FileResult{Path: abs, Outcome: OutcomeSkipped}
	log := ix.opts.Logger.With(slog.String("path", abs), slog.String("project", projectID))

	info, err := os.Lstat(abs)
	if err != nil {
		return res, nxerrors.New(nxerrors.ErrCodeFileRead, "failed to stat file", err).WithDetail("path", abs)
	}
	if info.Mode()&os.ModeSymlink != 0 || info.IsDir() {
		log.Debug("index_file_skipped", slog.String("reason", "not a regular file"))
		return res, nil
	}
	if info.Size() > ix.opts.MaxFileSize {
		log.Warn("index_file_skipped",
			slog.String("reason", "oversized"),
			slog.Int64("size", info.Size()),
			slog.Int64("max", ix.opts.MaxFileSize))
		return res, nil
	}

	content, err := os.ReadFile(abs)
	if err != nil {
		return res, nxerrors.New(nxerrors.ErrCodeFileRead, "failed to read file", err).WithDetail("path", abs)
	}
	if !utf8.Valid(content) {
		return res, nxerrors.New(nxerrors.ErrCodeEncoding, "file is not valid UTF-8", nil).WithDetail("path", abs)
	}

	layer, sprint := Classify(abs)
	res.Layer = layer
	hash := hashContent(content)

	if err := ix.bind(ctx, projectID); err != nil {
		return res, err
	}
	prev, err := ix.opts.Manifest.Get(ctx, projectID, abs)
	if err != nil {
		return res, err
	}
	if prev != nil && prev.ContentHash == hash {
		res.Outcome = OutcomeUnchanged
		res.Chunks = prev.ChunkCount
		log.Debug("index_file_unchanged")
		return res, nil
	}

	text := string(content)
	var chunks []chunk.TextChunk
	if strings.TrimSpace(text) != "" {
		chunks = ix.opts.Chunker.Chunk(abs, text)
	}

	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}
		vectors, err := ix.opts.Embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return res, err
		}

		indexedAt := ix.opts.Now().UTC().Format(time.RFC3339)
		fileType := strings.TrimPrefix(filepath.Ext(abs), ".")
		points := make([]store.Point, len(chunks))
		for i, c := range chunks {
			payload := map[string]any{
				FieldProjectID:  projectID,
				FieldLayer:      string(layer),
				FieldMachineID:  ix.opts.MachineID,
				FieldFilePath:   abs,
				FieldFileType:   fileType,
				FieldChunkIndex: int64(c.Index),
				FieldContent:    c.Text,
				FieldIndexedAt:  indexedAt,
			}
			if sprint >= 0 {
				payload[FieldSprintNumber] = int64(sprint)
			}
			points[i] = store.Point{ID: PointID(abs, c.Index), Vector: vectors[i], Payload: payload}
		}
		if err := ix.opts.Store.Upsert(ctx, ix.opts.Collection, points); err != nil {
			return res, err
		}
	}

	if prev != nil && prev.ChunkCount > len(chunks) {
		stale := PointIDs(abs, len(chunks), prev.ChunkCount)
		// The manifest keeps the old chunk count until the delete succeeds,
		// so the next run retries it.
		if err := ix.opts.Store.DeleteIDs(ctx, ix.opts.Collection, stale); err != nil {
			log.Warn("stale_points_delete_failed",
				slog.Int("count", len(stale)),
				slog.String("error", err.Error()))
			return res, err
		}
	}

	if err := ix.opts.Manifest.Put(ctx, FileRecord{
		Project:     projectID,
		Path:        abs,
		ContentHash: hash,
		ChunkCount:  len(chunks),
		IndexedAt:   ix.opts.Now(),
	}); err != nil {
		return res, err
	}

	res.Outcome = OutcomeIndexed
	res.Chunks = len(chunks)
	log.Info("index_file_completed",
		slog.Int("chunks", len(chunks)),
		slog.String("layer", string(layer)))
	return res, nil
}

// RemoveFile deletes every point of path and its manifest row.
func (ix *Indexer) RemoveFile(ctx context.Context, projectID, path string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.removeFile(ctx, projectID, path)
}

func (ix *Indexer) removeFile(ctx context.Context, projectID, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	if err := ix.opts.Store.Delete(ctx, ix.opts.Collection, store.Filter{
		Must: []store.Match{
			{Key: FieldProjectID, Value: projectID},
			{Key: FieldFilePath, Value: abs},
		},
	}); err != nil {
		return err
	}
	if err := ix.opts.Manifest.Delete(ctx, projectID, abs); err != nil {
		return err
	}

	ix.opts.Logger.Info("index_file_removed",
		slog.String("path", abs),
		slog.String("project", projectID))
	return nil
}

// RemoveTree deletes the points and manifest rows of every file recorded
// under dir. Watchers call it when a directory is removed or renamed, since
// no per-file events arrive for its contents.
func (ix *Indexer) RemoveTree(ctx context.Context, projectID, dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	prefix := strings.TrimSuffix(abs, string(filepath.Separator)) + string(filepath.Separator)

	ix.mu.Lock()
	defer ix.mu.Unlock()

	records, err := ix.opts.Manifest.List(ctx, projectID)
	if err != nil {
		return err
	}
	var errs []error
	removed := 0
	for _, rec := range records {
		if !strings.HasPrefix(rec.Path, prefix) {
			continue
		}
		if err := ix.removeFile(ctx, projectID, rec.Path); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", rec.Path, err))
			continue
		}
		removed++
	}
	if removed > 0 {
		ix.opts.Logger.Info("index_tree_removed",
			slog.String("dir", abs),
			slog.String("project", projectID),
			slog.Int("files", removed))
	}
	return errors.Join(errs...)
}

// Walk lists the indexable files under roots, sorted. Missing roots are
// skipped with a warning.
func (ix *Indexer) Walk(roots []string) []string {
	var files []string
	for _, root := range roots {
		if root == "" {
			continue
		}
		if _, err := os.Stat(root); err != nil {
			ix.opts.Logger.Warn("index_root_missing",
				slog.String("root", root),
				slog.String("error", err.Error()))
			continue
		}
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				ix.opts.Logger.Debug("walk_error", slog.String("path", path), slog.String("error", err.Error()))
				return nil
			}
			if d.IsDir() {
				if path != root && ix.opts.Filter.SkipDir(d.Name()) {
					return filepath.SkipDir
				}
				return nil
			}
			if ix.opts.Filter.AllowedFile(path) {
				if abs, err := filepath.Abs(path); err == nil {
					path = abs
				}
				files = append(files, path)
			}
			return nil
		})
	}
	sort.Strings(files)
	return slices.Compact(files)
}

// IndexAll indexes every file under roots. Per-file failures are logged,
// counted and reported through progress; the walk continues.
func (ix *Indexer) IndexAll(ctx context.Context, projectID string, roots []string, progress func(Progress)) (Stats, error) {
	start := ix.opts.Now()
	files := ix.Walk(roots)
	stats := Stats{Files: len(files)}

	ix.opts.Logger.Info("index_started",
		slog.String("project", projectID),
		slog.Int("files", len(files)))

	err := ix.batch(func() error {
		return ix.indexFiles(ctx, projectID, files, &stats, progress)
	})
	if err != nil {
		return stats, err
	}

	stats.Duration = ix.opts.Now().Sub(start)
	ix.opts.Logger.Info("index_completed",
		slog.String("project", projectID),
		slog.Int("indexed", stats.Indexed),
		slog.Int("unchanged", stats.Unchanged),
		slog.Int("failed", stats.Failed),
		slog.Int("chunks", stats.Chunks))
	return stats, nil
}

// batch runs fn inside a store batch when the backend supports one, so a
// local store persists once per walk instead of once per file.
func (ix *Indexer) batch(fn func() error) error {
	if b, ok := ix.opts.Store.(store.Batcher); ok {
		return b.Batch(fn)
	}
	return fn()
}

func (ix *Indexer) indexFiles(ctx context.Context, projectID string, files []string, stats *Stats, progress func(Progress)) error {
	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return err
		}

		res, err := ix.Index(ctx, projectID, path)
		switch {
		case err != nil:
			stats.Failed++
			ix.opts.Logger.Warn("index_file_failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
		case res.Outcome == OutcomeIndexed:
			stats.Indexed++
			stats.Chunks += res.Chunks
		case res.Outcome == OutcomeUnchanged:
			stats.Unchanged++
		default:
			stats.Skipped++
		}

		if progress != nil {
			progress(Progress{Done: i + 1, Total: len(files), Path: path, Result: res, Err: err})
		}
	}
	return nil
}

// Prune removes points and manifest rows of files that no longer exist.
func (ix *Indexer) Prune(ctx context.Context, projectID string) (int, error) {
	records, err := ix.opts.Manifest.List(ctx, projectID)
	if err != nil {
		return 0, err
	}

	pruned := 0
	var errs []error
	for _, rec := range records {
		if _, err := os.Stat(rec.Path); !errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := ix.RemoveFile(ctx, projectID, rec.Path); err != nil {
			errs = append(errs, fmt.Errorf("prune %s: %w", rec.Path, err))
			continue
		}
		pruned++
	}
	return pruned, errors.Join(errs...)
}

// Reindex walks roots, indexes every allowed file and prunes vanished ones.
func (ix *Indexer) Reindex(ctx context.Context, projectID string, roots []string) error {
	if _, err := ix.IndexAll(ctx, projectID, roots, nil); err != nil {
		return err
	}
	pruned, err := ix.Prune(ctx, projectID)
	if pruned > 0 {
		ix.opts.Logger.Info("index_pruned",
			slog.String("project", projectID),
			slog.Int("files", pruned))
	}
	return err
}

func hashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
