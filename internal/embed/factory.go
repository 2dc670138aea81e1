package embed

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/nullvektordom/nexus-cli-sub000/internal/config"
)

// ProviderType names an embedding provider.
type ProviderType string

const (
	// ProviderONNX runs all-MiniLM-L6-v2 through ONNX Runtime.
	ProviderONNX ProviderType = "onnx"
	// ProviderStatic uses the hash embedder.
	ProviderStatic ProviderType = "static"
)

// EnvProvider overrides embeddings.provider when set.
const EnvProvider = "NEXUS_EMBEDDER"

// NewEmbedder builds the configured embedder wrapped in a CachedEmbedder.
//
// An ONNX initialization failure is returned together with a usable but
// unavailable embedder, so the caller can choose between aborting and
// running without semantic retrieval.
func NewEmbedder(cfg config.EmbeddingsConfig, logger *slog.Logger) (Embedder, error) {
	if logger == nil {
		logger = slog.Default()
	}

	provider := cfg.Provider
	if env := os.Getenv(EnvProvider); env != "" {
		provider = env
	}

	switch ProviderType(strings.ToLower(provider)) {
	case ProviderStatic:
		logger.Info("embedder_ready",
			slog.String("provider", string(ProviderStatic)),
			slog.Int("dimensions", cfg.Dimensions))
		return NewCachedEmbedder(NewStaticEmbedder(cfg.Dimensions), cfg.CacheSize), nil

	case ProviderONNX, "":
		gen := NewGenerator(GeneratorOptions{
			RuntimeLibrary: cfg.RuntimeLibrary,
			IntraOpThreads: cfg.IntraOpThreads,
			Dimensions:     cfg.Dimensions,
		})
		cached := NewCachedEmbedder(gen, cfg.CacheSize)
		if err := gen.Initialize(cfg.ModelPath, cfg.TokenizerPath); err != nil {
			logger.Warn("embedder_init_failed",
				slog.String("provider", string(ProviderONNX)),
				slog.String("model_path", cfg.ModelPath),
				slog.String("error", err.Error()))
			return cached, err
		}
		logger.Info("embedder_ready",
			slog.String("provider", string(ProviderONNX)),
			slog.String("model", gen.ModelName()),
			slog.Int("dimensions", gen.Dimensions()))
		return cached, nil

	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", provider)
	}
}
