// Package embed turns text into unit-length embedding vectors.
//
// The production embedder is Generator: an on-device all-MiniLM-L6-v2 model
// run through ONNX Runtime with a HuggingFace tokenizer. The handle is built
// once and injected into every component that embeds text; there is no
// package-level session.
package embed

import (
	"context"
	"log/slog"
	"math"

	nxerrors "github.com/nullvektordom/nexus-cli-sub000/internal/errors"
)

const (
	// DefaultDimensions is the hidden size of all-MiniLM-L6-v2.
	DefaultDimensions = 384

	// DefaultModelName identifies the default model in payloads and cache keys.
	DefaultModelName = "all-MiniLM-L6-v2"

	// DefaultMaxTokens is the model's position limit.
	DefaultMaxTokens = 512
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds texts; the result equals calling Embed on each.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available reports whether Embed can currently succeed.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// Embedding is the result of a best-effort query embedding: either a real
// vector or Unavailable. A zero-length or all-zero slice is never used to
// stand in for "no signal".
type Embedding struct {
	vector []float32
	real   bool
}

// Real wraps a computed vector.
func Real(v []float32) Embedding {
	return Embedding{vector: v, real: true}
}

// Unavailable is the embedding returned when no embedder could run.
func Unavailable() Embedding {
	return Embedding{}
}

// Available reports whether the embedding holds a real vector.
func (e Embedding) Available() bool {
	return e.real
}

// Vector returns the vector, or nil when unavailable.
func (e Embedding) Vector() []float32 {
	if !e.real {
		return nil
	}
	return e.vector
}

// Query embeds text for retrieval. Any failure, including a nil or
// uninitialized embedder, is logged as a warning and yields Unavailable.
func Query(ctx context.Context, e Embedder, text string, logger *slog.Logger) Embedding {
	if logger == nil {
		logger = slog.Default()
	}
	if e == nil {
		logger.Warn("embedder not configured, semantic retrieval disabled")
		return Unavailable()
	}

	vec, err := e.Embed(ctx, text)
	if err != nil {
		if nxerrors.Is(err, nxerrors.ErrNotInitialized) {
			logger.Warn("embedding generator not initialized, semantic retrieval disabled",
				slog.String("model", e.ModelName()))
		} else {
			logger.Warn("query embedding failed, semantic retrieval disabled",
				slog.String("model", e.ModelName()),
				slog.String("error", err.Error()))
		}
		return Unavailable()
	}
	return Real(vec)
}

// normalize scales v to unit L2 norm in place. A zero vector is left as is.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return v
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}
