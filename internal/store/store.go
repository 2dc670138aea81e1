// Package store is the vector persistence layer. VectorStore is implemented
// by QdrantStore (remote, gRPC) and LocalStore (embedded HNSW graph), and
// either can be wrapped by GuardedStore for retry and circuit breaking.
package store

import (
	"context"
	"fmt"
)

// Distance is the similarity metric of a collection.
type Distance string

// DistanceCosine is the only metric nexus collections use.
const DistanceCosine Distance = "cosine"

// CollectionSpec describes a collection to create.
type CollectionSpec struct {
	Name       string
	VectorSize int
	Distance   Distance

	// OnDisk keeps vectors on disk instead of in RAM (Qdrant only).
	OnDisk bool
	// OnDiskPayload keeps payloads on disk (Qdrant only).
	OnDiskPayload bool

	// IndexedFields get a keyword payload index.
	IndexedFields []string
}

// Point is one stored vector with its payload. Payload values are strings,
// integers, floats or booleans.
type Point struct {
	ID      uint64
	Vector  []float32
	Payload map[string]any
}

// ScoredPoint is a search hit. Score is cosine similarity, higher is closer.
type ScoredPoint struct {
	ID      uint64
	Score   float32
	Payload map[string]any
}

// Match is an exact keyword condition on a payload field.
type Match struct {
	Key   string
	Value string
}

// Filter restricts a search or delete. Every Must condition has to hold and,
// when Should is non-empty, at least one Should condition has to hold.
type Filter struct {
	Must   []Match
	Should []Match
}

// IsEmpty reports whether the filter matches everything.
func (f Filter) IsEmpty() bool {
	return len(f.Must) == 0 && len(f.Should) == 0
}

// Matches evaluates the filter against a payload.
func (f Filter) Matches(payload map[string]any) bool {
	for _, m := range f.Must {
		if !m.matches(payload) {
			return false
		}
	}
	if len(f.Should) == 0 {
		return true
	}
	for _, m := range f.Should {
		if m.matches(payload) {
			return true
		}
	}
	return false
}

func (m Match) matches(payload map[string]any) bool {
	v, ok := payload[m.Key]
	if !ok || v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return s == m.Value
	}
	return fmt.Sprint(v) == m.Value
}

// SearchRequest is a nearest-neighbour query.
type SearchRequest struct {
	Vector []float32
	Limit  int
	Filter Filter
}

// VectorStore stores and searches points grouped in named collections.
type VectorStore interface {
	CollectionExists(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, spec CollectionSpec) error

	// Upsert inserts points, replacing any with the same ID.
	Upsert(ctx context.Context, collection string, points []Point) error

	// Search returns up to Limit points ordered by descending score.
	Search(ctx context.Context, collection string, req SearchRequest) ([]ScoredPoint, error)

	// Delete removes every point matching filter. An empty filter is rejected.
	Delete(ctx context.Context, collection string, filter Filter) error

	// DeleteIDs removes points by ID. Unknown IDs are ignored.
	DeleteIDs(ctx context.Context, collection string, ids []uint64) error

	Count(ctx context.Context, collection string) (uint64, error)

	Close() error
}

// Batcher is implemented by stores that can group many mutations into one
// durable write. Mutations made inside fn become visible to other
// processes when Batch returns.
type Batcher interface {
	Batch(fn func() error) error
}

// PayloadString returns payload[key] as a string, or "" when absent.
func PayloadString(payload map[string]any, key string) string {
	switch v := payload[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// PayloadInt returns payload[key] as an int, or -1 when absent or not numeric.
func PayloadInt(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case uint64:
		return int(v)
	case float64:
		return int(v)
	default:
		return -1
	}
}
