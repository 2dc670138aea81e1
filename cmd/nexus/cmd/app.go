package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/nullvektordom/nexus-cli-sub000/internal/assembler"
	"github.com/nullvektordom/nexus-cli-sub000/internal/chunk"
	"github.com/nullvektordom/nexus-cli-sub000/internal/config"
	"github.com/nullvektordom/nexus-cli-sub000/internal/embed"
	"github.com/nullvektordom/nexus-cli-sub000/internal/index"
	"github.com/nullvektordom/nexus-cli-sub000/internal/ledger"
	"github.com/nullvektordom/nexus-cli-sub000/internal/logging"
	"github.com/nullvektordom/nexus-cli-sub000/internal/sprint"
	"github.com/nullvektordom/nexus-cli-sub000/internal/store"
)

// dataDirName holds the manifest and the local index inside a project.
const dataDirName = ".nexus"

// app is the wired core for one project. Every command builds one and
// closes it when done.
type app struct {
	root   string
	cfg    *config.Config
	logger *slog.Logger

	store     *store.GuardedStore
	embedder  embed.Embedder
	manifest  *index.Manifest
	indexer   *index.Indexer
	sprints   *sprint.VaultSource
	assembler *assembler.Assembler
	ledger    *ledger.Ledger

	// embedderErr is the initialization failure when running degraded.
	embedderErr error

	closers []func() error
}

// appOptions adjusts how the core is wired for a command.
type appOptions struct {
	// stdio keeps stderr free of log output; the MCP transport owns stdio.
	stdio bool
}

// openApp loads the project configuration and wires the core. An embedding
// model that fails to load is a warning unless --require-embeddings is set.
func openApp(ctx context.Context, flags *globalFlags, opts appOptions) (*app, error) {
	root, err := projectRoot(flags.projectDir)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}

	a := &app{root: root, cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	logger, cleanup, err := logging.Setup(loggingConfig(cfg.Logging, flags.debug, opts.stdio))
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	a.logger = logger
	a.closers = append(a.closers, func() error { cleanup(); return nil })
	slog.SetDefault(logger)

	a.store, err = store.Open(cfg.Store, root, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.store.Close)

	a.embedder, err = embed.NewEmbedder(cfg.Embeddings, logger)
	if err != nil {
		if flags.requireEmbeddings || a.embedder == nil {
			return nil, err
		}
		a.embedderErr = err
		logger.Warn("embeddings_unavailable",
			slog.String("error", err.Error()),
			slog.String("hint", "semantic retrieval is disabled; use --require-embeddings to fail instead"))
	}
	a.closers = append(a.closers, a.embedder.Close)

	a.manifest, err = index.OpenManifest(filepath.Join(root, dataDirName, index.ManifestFileName))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.manifest.Close)

	chunker, err := chunk.New(cfg.Chunking.Size, cfg.Chunking.Overlap)
	if err != nil {
		return nil, err
	}

	a.indexer = index.New(index.Options{
		Store:      a.store,
		Embedder:   a.embedder,
		Chunker:    chunker,
		Manifest:   a.manifest,
		Filter:     index.NewPathFilter(cfg.Watcher.Extensions, cfg.Watcher.Ignore),
		Collection: cfg.Store.Collection,
		Dimensions: cfg.Embeddings.Dimensions,
		StoreID:    store.Locator(cfg.Store, root),
		Logger:     logger,
	})

	a.sprints = sprint.NewVaultSource(cfg)

	a.assembler = assembler.New(assembler.Options{
		Store:      a.store,
		Embedder:   a.embedder,
		Sprints:    a.sprints,
		Collection: cfg.Store.Collection,
		TopK:       cfg.Context.TopK,
		Threshold:  cfg.Context.RelevanceThreshold,
		Logger:     logger,
	})

	a.ledger = ledger.New(ledger.Options{
		Store:      a.store,
		Embedder:   a.embedder,
		Collection: cfg.Store.LedgerCollection,
		ProjectID:  cfg.Project.ID,
		Logger:     logger,
	})

	logger.Debug("app_ready",
		slog.String("project", cfg.Project.ID),
		slog.String("root", root),
		slog.String("store", cfg.Store.Backend))

	ok = true
	return a, nil
}

// roots are the directories indexed and watched for the project.
func (a *app) roots() []string {
	roots := []string{a.cfg.Project.RepoPath}
	if vault := a.cfg.Project.ObsidianPath; vault != "" && vault != a.cfg.Project.RepoPath {
		roots = append(roots, vault)
	}
	return roots
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func projectRoot(dir string) (string, error) {
	if dir != "" {
		return filepath.Abs(dir)
	}
	return config.FindProjectRoot(".")
}

// loggingConfig maps the config section to the logging setup. Without a
// log file the CLI only reports warnings on stderr; --debug adds the
// default log file at debug level.
func loggingConfig(cfg config.LoggingConfig, debug, stdio bool) logging.Config {
	out := logging.Config{
		Level:         cfg.Level,
		FilePath:      cfg.File,
		MaxSizeMB:     cfg.MaxSizeMB,
		MaxFiles:      cfg.MaxFiles,
		WriteToStderr: !stdio,
	}
	if debug {
		out.Level = "debug"
		if out.FilePath == "" {
			out.FilePath = logging.DefaultLogPath()
		}
		out.WriteToStderr = false
	}
	if out.FilePath == "" && logging.ParseLevel(out.Level) < slog.LevelWarn {
		out.Level = "warn"
	}
	return out
}
