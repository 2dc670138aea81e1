package embed

import (
	"context"
	"fmt"
	"os"
	"sync"

	nxerrors "github.com/nullvektordom/nexus-cli-sub000/internal/errors"
)

// GeneratorOptions configures a Generator.
type GeneratorOptions struct {
	// RuntimeLibrary is the path to the ONNX Runtime shared library.
	// Empty uses the platform default lookup.
	RuntimeLibrary string

	// IntraOpThreads bounds ONNX Runtime's intra-op thread pool.
	IntraOpThreads int

	Dimensions int
	MaxTokens  int
	ModelName  string

	// LoadModel and LoadTokenizer override artifact loading. Nil selects
	// the ONNX Runtime and HuggingFace tokenizer loaders.
	LoadModel     func(path string, opts GeneratorOptions) (Model, error)
	LoadTokenizer func(path string) (Tokenizer, error)
}

func (o GeneratorOptions) withDefaults() GeneratorOptions {
	if o.IntraOpThreads <= 0 {
		o.IntraOpThreads = 4
	}
	if o.Dimensions <= 0 {
		o.Dimensions = DefaultDimensions
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	if o.ModelName == "" {
		o.ModelName = DefaultModelName
	}
	if o.LoadModel == nil {
		o.LoadModel = loadONNXModel
	}
	if o.LoadTokenizer == nil {
		o.LoadTokenizer = loadHFTokenizer
	}
	return o
}

// Generator is the on-device embedding generator. It is loaded once by
// Initialize; every Embed call is serialized behind a single lock because
// the inference session is one exclusive resource.
type Generator struct {
	opts GeneratorOptions

	mu        sync.Mutex
	model     Model
	tokenizer Tokenizer
	ready     bool
	closed    bool
}

// NewGenerator returns an uninitialized generator.
func NewGenerator(opts GeneratorOptions) *Generator {
	return &Generator{opts: opts.withDefaults()}
}

// Initialize loads the model and tokenizer. It succeeds at most once per
// generator; later calls fail with ErrAlreadyInitialized.
func (g *Generator) Initialize(modelPath, tokenizerPath string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ready {
		return nxerrors.New(nxerrors.ErrCodeAlreadyInitialized,
			"embedding generator is already initialized", nil)
	}
	if g.closed {
		return nxerrors.New(nxerrors.ErrCodeInitialization, "embedding generator is closed", nil)
	}

	for _, artifact := range []struct{ kind, path string }{
		{"model", modelPath},
		{"tokenizer", tokenizerPath},
	} {
		if _, err := os.Stat(artifact.path); err != nil {
			return nxerrors.New(nxerrors.ErrCodeInitialization,
				fmt.Sprintf("%s file not found: %s", artifact.kind, artifact.path), err).
				WithSuggestion("download all-MiniLM-L6-v2 (model.onnx, tokenizer.json) and set embeddings.model_path / embeddings.tokenizer_path")
		}
	}

	tok, err := g.opts.LoadTokenizer(tokenizerPath)
	if err != nil {
		return nxerrors.New(nxerrors.ErrCodeInitialization,
			"failed to load tokenizer "+tokenizerPath, err)
	}

	model, err := g.opts.LoadModel(modelPath, g.opts)
	if err != nil {
		return nxerrors.New(nxerrors.ErrCodeInitialization,
			"failed to load model "+modelPath, err).
			WithSuggestion("check embeddings.runtime_library points at the ONNX Runtime shared library")
	}

	g.tokenizer = tok
	g.model = model
	g.ready = true
	return nil
}

// Initialized reports whether Initialize has succeeded.
func (g *Generator) Initialized() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ready
}

// Embed tokenizes text, runs one forward pass, mean-pools the hidden states
// over the attention mask and L2-normalizes the result.
func (g *Generator) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.ready {
		return nil, nxerrors.New(nxerrors.ErrCodeNotInitialized,
			"embedding generator is not initialized", nil)
	}

	enc, err := g.tokenizer.Encode(text)
	if err != nil {
		return nil, nxerrors.New(nxerrors.ErrCodeTokenization, "failed to tokenize text", err)
	}
	if len(enc.AttentionMask) != len(enc.IDs) || len(enc.TypeIDs) != len(enc.IDs) {
		return nil, nxerrors.Newf(nxerrors.ErrCodeShape,
			"tokenizer produced %d ids, %d mask values, %d type ids",
			len(enc.IDs), len(enc.AttentionMask), len(enc.TypeIDs))
	}
	if len(enc.IDs) == 0 {
		return make([]float32, g.opts.Dimensions), nil
	}
	enc = truncate(enc, g.opts.MaxTokens)

	out, err := g.model.Run(ctx, enc)
	if err != nil {
		return nil, nxerrors.New(nxerrors.ErrCodeInference, "forward pass failed", err)
	}

	pooled, err := meanPool(out, enc.AttentionMask, g.opts.Dimensions)
	if err != nil {
		return nil, err
	}
	return normalize(pooled), nil
}

// EmbedBatch embeds each text in order with Embed.
func (g *Generator) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for i, text := range texts {
		vec, err := g.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		out = append(out, vec)
	}
	return out, nil
}

// Dimensions returns the embedding dimension.
func (g *Generator) Dimensions() int {
	return g.opts.Dimensions
}

// ModelName returns the model identifier.
func (g *Generator) ModelName() string {
	return g.opts.ModelName
}

// Available reports whether the generator is initialized and open.
func (g *Generator) Available(_ context.Context) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ready && !g.closed
}

// Close releases the inference session. Embed fails afterwards.
func (g *Generator) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.closed = true
	if !g.ready {
		return nil
	}
	g.ready = false
	return g.model.Close()
}
