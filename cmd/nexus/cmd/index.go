package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nullvektordom/nexus-cli-sub000/internal/index"
	"github.com/nullvektordom/nexus-cli-sub000/internal/ui"
)

func newIndexCmd(flags *globalFlags) *cobra.Command {
	var (
		noTUI bool
		opts  indexRunOptions
	)

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index the project repository and vault",
		Long: `Walk the repository and the vault folder, chunk and embed every
allowed file and upsert the chunks into the vector store.

Unchanged files are skipped. Use --prune to also delete the points of
files that no longer exist, and --force to embed every file again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, flags, appOptions{})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			cfg := ui.NewConfig(cmd.OutOrStdout(),
				ui.WithForcePlain(noTUI),
				ui.WithNoColor(ui.DetectNoColor()),
				ui.WithProjectID(a.cfg.Project.ID))
			return runIndex(ctx, a, ui.NewRenderer(cfg), opts)
		},
	}

	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "Disable TUI mode, use plain text output")
	cmd.Flags().BoolVar(&opts.prune, "prune", false, "Delete points of files that no longer exist")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Ignore the manifest and re-embed every file")

	return cmd
}

type indexRunOptions struct {
	prune bool
	force bool
}

func runIndex(ctx context.Context, a *app, r ui.Renderer, opts indexRunOptions) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = r.Stop() }()

	projectID := a.cfg.Project.ID
	r.UpdateProgress(ui.ProgressEvent{Stage: ui.StageScanning, Message: fmt.Sprintf("scanning %d roots", len(a.roots()))})

	if err := a.indexer.EnsureCollection(ctx); err != nil {
		return err
	}
	if opts.force {
		if _, err := a.indexer.Reset(ctx, projectID); err != nil {
			return err
		}
	}

	stats, err := a.indexer.IndexAll(ctx, projectID, a.roots(), func(p index.Progress) {
		r.UpdateProgress(ui.ProgressEvent{
			Stage:       ui.StageIndexing,
			Current:     p.Done,
			Total:       p.Total,
			CurrentFile: p.Path,
		})
		if p.Err != nil {
			r.AddError(ui.ErrorEvent{File: p.Path, Err: p.Err})
		}
	})
	if err != nil {
		return err
	}

	if opts.prune {
		r.UpdateProgress(ui.ProgressEvent{Stage: ui.StagePruning, Message: "removing vanished files"})
		pruned, err := a.indexer.Prune(ctx, projectID)
		stats.Pruned = pruned
		if err != nil {
			r.AddError(ui.ErrorEvent{Err: err, IsWarn: true})
			a.logger.Warn("index_prune_failed", slog.String("error", err.Error()))
		}
	}

	r.Complete(ui.CompletionStats{
		Files:     stats.Files,
		Indexed:   stats.Indexed,
		Unchanged: stats.Unchanged,
		Skipped:   stats.Skipped,
		Failed:    stats.Failed,
		Chunks:    stats.Chunks,
		Pruned:    stats.Pruned,
		Duration:  stats.Duration,
		Embedder:  a.embedderInfo(),
	})
	return nil
}

// embedderInfo describes the active embedder for summaries.
func (a *app) embedderInfo() ui.EmbedderInfo {
	provider := a.cfg.Embeddings.Provider
	if a.embedderErr != nil {
		provider += " (unavailable)"
	}
	return ui.EmbedderInfo{
		Provider:   provider,
		Model:      a.embedder.ModelName(),
		Dimensions: a.embedder.Dimensions(),
	}
}
