package store

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/nullvektordom/nexus-cli-sub000/internal/config"
	nxerrors "github.com/nullvektordom/nexus-cli-sub000/internal/errors"
)

// Backend names.
const (
	BackendQdrant = "qdrant"
	BackendLocal  = "local"
)

// Open builds the configured backend wrapped in a GuardedStore. A relative
// local_dir is resolved against root.
func Open(cfg config.StoreConfig, root string, logger *slog.Logger) (*GuardedStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var inner VectorStore
	switch strings.ToLower(cfg.Backend) {
	case BackendQdrant, "":
		qs, err := NewQdrantStore(QdrantConfig{
			Host:   cfg.Host,
			Port:   cfg.Port,
			APIKey: cfg.APIKey,
			UseTLS: cfg.UseTLS,
		})
		if err != nil {
			return nil, err
		}
		inner = qs
		logger.Debug("store_opened",
			slog.String("backend", BackendQdrant),
			slog.String("addr", qs.addr))

	case BackendLocal:
		dir := localDir(cfg, root)
		ls, err := NewLocalStore(dir)
		if err != nil {
			return nil, err
		}
		inner = ls
		logger.Debug("store_opened",
			slog.String("backend", BackendLocal),
			slog.String("dir", dir))

	default:
		return nil, nxerrors.ConfigError(fmt.Sprintf("unknown store backend %q", cfg.Backend), nil).
			WithSuggestion("set store.backend to qdrant or local")
	}

	opts := []GuardOption{WithLogger(logger)}
	if cfg.BreakerFailures > 0 {
		reset := cfg.BreakerReset
		opts = append(opts, WithBreaker(nxerrors.NewCircuitBreaker("vector_store",
			nxerrors.WithMaxFailures(cfg.BreakerFailures),
			nxerrors.WithResetTimeout(reset))))
	}
	return NewGuardedStore(inner, opts...), nil
}

// Locator names the backend cfg points at, for example
// "qdrant://localhost:6334" or "local:///repo/.nexus/index". Two configs
// with the same locator reach the same points.
func Locator(cfg config.StoreConfig, root string) string {
	switch strings.ToLower(cfg.Backend) {
	case BackendLocal:
		dir := localDir(cfg, root)
		if dir == "" {
			return "local://memory"
		}
		if abs, err := filepath.Abs(dir); err == nil {
			dir = abs
		}
		return "local://" + filepath.ToSlash(dir)
	default:
		host, port := cfg.Host, cfg.Port
		if host == "" {
			host = "localhost"
		}
		if port == 0 {
			port = 6334
		}
		return fmt.Sprintf("qdrant://%s:%d", host, port)
	}
}

func localDir(cfg config.StoreConfig, root string) string {
	dir := cfg.LocalDir
	if dir != "" && !filepath.IsAbs(dir) {
		dir = filepath.Join(root, dir)
	}
	return dir
}
