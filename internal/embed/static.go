package embed

import (
	"context"
	"errors"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"
	"unicode"
)

// StaticModelName identifies the hash embedder in payloads.
const StaticModelName = "static-hash"

const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

var wordRegex = regexp.MustCompile(`[\p{L}\p{N}]+`)

// StaticEmbedder is a dependency-free fallback: tokens and character
// trigrams are hashed into buckets of a fixed-size vector. It has no
// semantic understanding but keeps indexing and retrieval working on
// machines without ONNX Runtime.
type StaticEmbedder struct {
	dims int

	mu     sync.RWMutex
	closed bool
}

// NewStaticEmbedder returns a hash embedder producing dims-sized vectors.
func NewStaticEmbedder(dims int) *StaticEmbedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &StaticEmbedder{dims: dims}
}

// Embed hashes text into a normalized vector. Blank text yields the zero vector.
func (e *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, errors.New("static embedder is closed")
	}

	v := make([]float32, e.dims)
	for _, word := range wordRegex.FindAllString(strings.ToLower(text), -1) {
		v[bucket(word, e.dims)] += tokenWeight
	}

	compact := make([]rune, 0, len(text))
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			compact = append(compact, r)
		}
	}
	for i := 0; i+ngramSize <= len(compact); i++ {
		v[bucket(string(compact[i:i+ngramSize]), e.dims)] += ngramWeight
	}

	return normalize(v), nil
}

// EmbedBatch embeds each text.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func bucket(s string, size int) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}

// Dimensions returns the vector size.
func (e *StaticEmbedder) Dimensions() int { return e.dims }

// ModelName returns StaticModelName.
func (e *StaticEmbedder) ModelName() string { return StaticModelName }

// Available reports whether the embedder is open.
func (e *StaticEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close marks the embedder closed.
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
