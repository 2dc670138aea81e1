package store

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/coder/hnsw"

	nxerrors "github.com/nullvektordom/nexus-cli-sub000/internal/errors"
)

// snapshotFileName holds every collection of a LocalStore directory.
const snapshotFileName = "collections.gob"

// minCandidates is the smallest graph beam fetched for a filtered search.
const minCandidates = 64

// LocalStore implements VectorStore with one coder/hnsw graph per collection.
//
// With a directory, every mutation is written to a gob snapshot under an
// exclusive DirLock and reads reload the snapshot when another process has
// changed it. Inside Batch the lock is held throughout and the snapshot is
// written once at the end. Without a directory the store is purely in
// memory.
type LocalStore struct {
	dir  string
	lock *DirLock

	mu          sync.RWMutex
	collections map[string]*localCollection
	stamp       fileStamp
	closed      bool

	// batch nesting depth and whether a batched write is pending
	batching int
	dirty    bool
}

type localCollection struct {
	spec   CollectionSpec
	graph  *hnsw.Graph[uint64]
	points map[uint64]*localPoint

	// graph keys are internal; point IDs map onto the live key
	keyOf   map[uint64]uint64 // point ID -> graph key
	idOf    map[uint64]uint64 // graph key -> point ID
	nextKey uint64
}

type localPoint struct {
	Vector  []float32
	Payload map[string]any
}

// localSnapshot is the persisted form. Graphs are rebuilt on load, which
// also drops nodes orphaned by lazy deletion.
type localSnapshot struct {
	Collections map[string]snapshotCollection
}

type snapshotCollection struct {
	Spec   CollectionSpec
	Points map[uint64]localPoint
}

type fileStamp struct {
	modTime time.Time
	size    int64
}

// NewLocalStore opens (or creates) a store in dir. An empty dir gives an
// in-memory store.
func NewLocalStore(dir string) (*LocalStore, error) {
	s := &LocalStore{
		dir:         dir,
		collections: make(map[string]*localCollection),
	}
	if dir == "" {
		return s, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nxerrors.New(nxerrors.ErrCodeStoreConnection, "failed to create local index directory", err).
			WithDetail("dir", dir)
	}
	s.lock = NewDirLock(dir)

	if err := s.lock.RLock(); err != nil {
		return nil, nxerrors.New(nxerrors.ErrCodeStoreConnection, "failed to lock local index", err)
	}
	defer s.unlock()

	if err := s.refresh(); err != nil {
		return nil, err
	}
	return s, nil
}

func newLocalCollection(spec CollectionSpec) *localCollection {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = cosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25

	return &localCollection{
		spec:   spec,
		graph:  graph,
		points: make(map[uint64]*localPoint),
		keyOf:  make(map[uint64]uint64),
		idOf:   make(map[uint64]uint64),
	}
}

// put adds or replaces a point. A replaced node stays in the graph
// unmapped: coder/hnsw rejects duplicate keys and breaks when its last
// node is deleted.
func (c *localCollection) put(id uint64, p *localPoint) {
	if old, ok := c.keyOf[id]; ok {
		delete(c.idOf, old)
	}
	key := c.nextKey
	c.nextKey++
	c.graph.Add(hnsw.MakeNode(key, p.Vector))
	c.keyOf[id] = key
	c.idOf[key] = id
	c.points[id] = p
}

func (c *localCollection) remove(id uint64) {
	if key, ok := c.keyOf[id]; ok {
		delete(c.idOf, key)
		delete(c.keyOf, id)
	}
	delete(c.points, id)
}

func (c *localCollection) orphans() int {
	return c.graph.Len() - len(c.idOf)
}

// LocalStats describes the graph of one collection.
type LocalStats struct {
	Points     int
	GraphNodes int
	Orphans    int
}

// Stats returns graph statistics for collection.
func (s *LocalStore) Stats(collection string) LocalStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[collection]
	if !ok {
		return LocalStats{}
	}
	return LocalStats{Points: len(c.points), GraphNodes: c.graph.Len(), Orphans: c.orphans()}
}

// CollectionExists reports whether name has been created.
func (s *LocalStore) CollectionExists(_ context.Context, name string) (bool, error) {
	var exists bool
	err := s.read(func() error {
		_, exists = s.collections[name]
		return nil
	})
	return exists, err
}

// CreateCollection creates an empty collection. Creating an existing
// collection with the same vector size is a no-op.
func (s *LocalStore) CreateCollection(_ context.Context, spec CollectionSpec) error {
	if spec.Name == "" || spec.VectorSize <= 0 {
		return nxerrors.ValidationError(
			fmt.Sprintf("invalid collection spec: name %q, vector size %d", spec.Name, spec.VectorSize), nil)
	}
	if spec.Distance == "" {
		spec.Distance = DistanceCosine
	}

	return s.write(func() error {
		if c, ok := s.collections[spec.Name]; ok {
			if c.spec.VectorSize != spec.VectorSize {
				return nxerrors.Newf(nxerrors.ErrCodeDimensionMismatch,
					"collection %s exists with vector size %d, requested %d",
					spec.Name, c.spec.VectorSize, spec.VectorSize)
			}
			return nil
		}
		s.collections[spec.Name] = newLocalCollection(spec)
		return nil
	})
}

// Upsert inserts or replaces points.
func (s *LocalStore) Upsert(_ context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	return s.write(func() error {
		c, err := s.collection(collection)
		if err != nil {
			return err
		}
		for _, p := range points {
			if len(p.Vector) != c.spec.VectorSize {
				return dimensionMismatch(c.spec.VectorSize, len(p.Vector))
			}
		}
		for _, p := range points {
			vec := make([]float32, len(p.Vector))
			copy(vec, p.Vector)
			c.put(p.ID, &localPoint{Vector: vec, Payload: clonePayload(p.Payload)})
		}
		return nil
	})
}

// Search returns the closest points matching req.Filter. The graph is
// searched with an enlarged beam; when that yields fewer than Limit hits
// an exact scan over the collection fills the gap.
func (s *LocalStore) Search(_ context.Context, collection string, req SearchRequest) ([]ScoredPoint, error) {
	var hits []ScoredPoint
	err := s.read(func() error {
		c, err := s.collection(collection)
		if err != nil {
			return err
		}
		if len(req.Vector) != c.spec.VectorSize {
			return dimensionMismatch(c.spec.VectorSize, len(req.Vector))
		}
		if req.Limit <= 0 || len(c.points) == 0 {
			hits = []ScoredPoint{}
			return nil
		}

		beam := req.Limit
		if !req.Filter.IsEmpty() {
			beam = max(req.Limit*8, minCandidates)
		}
		beam = min(beam, c.graph.Len())

		seen := make(map[uint64]bool)
		for _, node := range c.graph.Search(req.Vector, beam) {
			id, ok := c.idOf[node.Key]
			if !ok {
				continue
			}
			p := c.points[id]
			if !req.Filter.Matches(p.Payload) {
				continue
			}
			seen[id] = true
			hits = append(hits, scored(id, req.Vector, p))
		}

		if len(hits) < req.Limit && len(hits) < len(c.points) {
			for id, p := range c.points {
				if seen[id] || !req.Filter.Matches(p.Payload) {
					continue
				}
				hits = append(hits, scored(id, req.Vector, p))
			}
		}

		sort.SliceStable(hits, func(i, j int) bool {
			if hits[i].Score == hits[j].Score {
				return hits[i].ID < hits[j].ID
			}
			return hits[i].Score > hits[j].Score
		})
		if len(hits) > req.Limit {
			hits = hits[:req.Limit]
		}
		if hits == nil {
			hits = []ScoredPoint{}
		}
		return nil
	})
	return hits, err
}

func scored(id uint64, query []float32, p *localPoint) ScoredPoint {
	return ScoredPoint{
		ID:      id,
		Score:   1 - cosineDistance(query, p.Vector),
		Payload: clonePayload(p.Payload),
	}
}

// Delete removes every point matching filter.
func (s *LocalStore) Delete(_ context.Context, collection string, filter Filter) error {
	if filter.IsEmpty() {
		return nxerrors.ValidationError("refusing to delete with an empty filter", nil)
	}
	return s.write(func() error {
		c, err := s.collection(collection)
		if err != nil {
			return err
		}
		for id, p := range c.points {
			if filter.Matches(p.Payload) {
				c.remove(id)
			}
		}
		return nil
	})
}

// DeleteIDs removes points by ID.
func (s *LocalStore) DeleteIDs(_ context.Context, collection string, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	return s.write(func() error {
		c, err := s.collection(collection)
		if err != nil {
			return err
		}
		for _, id := range ids {
			c.remove(id)
		}
		return nil
	})
}

// Count returns the number of live points in collection.
func (s *LocalStore) Count(_ context.Context, collection string) (uint64, error) {
	var n uint64
	err := s.read(func() error {
		c, err := s.collection(collection)
		if err != nil {
			return err
		}
		n = uint64(len(c.points))
		return nil
	})
	return n, err
}

// Close releases the store. It is idempotent.
func (s *LocalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.collections = nil
	return nil
}

// collection must be called with mu held.
func (s *LocalStore) collection(name string) (*localCollection, error) {
	c, ok := s.collections[name]
	if !ok {
		return nil, nxerrors.Newf(nxerrors.ErrCodeStoreOperation, "collection %s does not exist", name)
	}
	return c, nil
}

func (s *LocalStore) read(fn func() error) error {
	if s.dir == "" || s.inBatch() {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.closed {
			return errClosed()
		}
		return fn()
	}

	// Reloading mutates the collections, so disk-backed reads take the
	// write mutex and the shared file lock.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed()
	}
	if err := s.lock.RLock(); err != nil {
		return nxerrors.New(nxerrors.ErrCodeStoreConnection, "failed to lock local index", err)
	}
	defer s.unlock()

	if err := s.refresh(); err != nil {
		return err
	}
	return fn()
}

func (s *LocalStore) write(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed()
	}
	if s.dir == "" {
		return fn()
	}
	if s.batching > 0 {
		s.dirty = true
		return fn()
	}

	if err := s.lock.Lock(); err != nil {
		return nxerrors.New(nxerrors.ErrCodeStoreConnection, "failed to lock local index", err)
	}
	defer s.unlock()

	if err := s.refresh(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		return err
	}
	return s.save()
}

func (s *LocalStore) inBatch() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.batching > 0
}

// Batch holds the exclusive file lock while fn runs and writes the
// snapshot once afterwards, even when fn fails part way. Other processes
// wait for the lock until Batch returns. Batches nest.
func (s *LocalStore) Batch(fn func() error) error {
	if s.dir == "" {
		return fn()
	}

	if err := s.beginBatch(); err != nil {
		return err
	}
	err := fn()
	return errors.Join(err, s.endBatch())
}

func (s *LocalStore) beginBatch() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed()
	}
	if s.batching > 0 {
		s.batching++
		return nil
	}

	if err := s.lock.Lock(); err != nil {
		return nxerrors.New(nxerrors.ErrCodeStoreConnection, "failed to lock local index", err)
	}
	if err := s.refresh(); err != nil {
		s.unlock()
		return err
	}
	s.batching = 1
	return nil
}

func (s *LocalStore) endBatch() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batching--
	if s.batching > 0 {
		return nil
	}
	defer s.unlock()

	if !s.dirty || s.closed {
		return nil
	}
	s.dirty = false
	return s.save()
}

func (s *LocalStore) unlock() {
	if err := s.lock.Unlock(); err != nil {
		slog.Warn("failed to release local index lock",
			slog.String("path", s.lock.Path()),
			slog.String("error", err.Error()))
	}
}

func (s *LocalStore) snapshotPath() string {
	return filepath.Join(s.dir, snapshotFileName)
}

// refresh reloads the snapshot if it changed since it was last seen.
// Callers hold mu and the file lock.
func (s *LocalStore) refresh() error {
	info, err := os.Stat(s.snapshotPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return nxerrors.New(nxerrors.ErrCodeStoreConnection, "failed to stat local index", err)
	}
	stamp := fileStamp{modTime: info.ModTime(), size: info.Size()}
	if stamp == s.stamp {
		return nil
	}

	file, err := os.Open(s.snapshotPath())
	if err != nil {
		return nxerrors.New(nxerrors.ErrCodeStoreConnection, "failed to open local index", err)
	}
	defer file.Close()

	var snap localSnapshot
	if err := gob.NewDecoder(file).Decode(&snap); err != nil {
		return nxerrors.New(nxerrors.ErrCodeStoreOperation, "failed to decode local index", err).
			WithSuggestion("remove " + s.dir + " and run 'nexus index' to rebuild it")
	}

	collections := make(map[string]*localCollection, len(snap.Collections))
	for name, sc := range snap.Collections {
		c := newLocalCollection(sc.Spec)
		ids := make([]uint64, 0, len(sc.Points))
		for id := range sc.Points {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			p := sc.Points[id]
			c.put(id, &localPoint{Vector: p.Vector, Payload: p.Payload})
		}
		collections[name] = c
	}
	s.collections = collections
	s.stamp = stamp
	return nil
}

// save writes the snapshot atomically (temp file + rename).
func (s *LocalStore) save() error {
	snap := localSnapshot{Collections: make(map[string]snapshotCollection, len(s.collections))}
	for name, c := range s.collections {
		points := make(map[uint64]localPoint, len(c.points))
		for id, p := range c.points {
			points[id] = *p
		}
		snap.Collections[name] = snapshotCollection{Spec: c.spec, Points: points}
	}

	path := s.snapshotPath()
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return nxerrors.New(nxerrors.ErrCodeStoreOperation, "failed to create local index file", err)
	}
	if err := gob.NewEncoder(file).Encode(snap); err != nil {
		file.Close()
		os.Remove(tmp)
		return nxerrors.New(nxerrors.ErrCodeStoreOperation, "failed to encode local index", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return nxerrors.New(nxerrors.ErrCodeStoreOperation, "failed to close local index file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return nxerrors.New(nxerrors.ErrCodeStoreOperation, "failed to rename local index file", err)
	}

	info, err := os.Stat(path)
	if err == nil {
		s.stamp = fileStamp{modTime: info.ModTime(), size: info.Size()}
	}
	return nil
}

func errClosed() error {
	return nxerrors.New(nxerrors.ErrCodeStoreConnection, "local store is closed", nil)
}

func dimensionMismatch(expected, got int) error {
	return nxerrors.Newf(nxerrors.ErrCodeDimensionMismatch,
		"dimension mismatch: expected %d, got %d", expected, got).
		WithSuggestion("the embedding model changed; remove the index and run 'nexus index'")
}

// cosineDistance is 1 - cosine similarity. A zero vector is at distance 1
// from everything instead of producing NaN.
func cosineDistance(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return float32(1 - dot/(math.Sqrt(na)*math.Sqrt(nb)))
}

func clonePayload(p map[string]any) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

var _ VectorStore = (*LocalStore)(nil)
