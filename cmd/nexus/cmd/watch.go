package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nullvektordom/nexus-cli-sub000/internal/output"
	"github.com/nullvektordom/nexus-cli-sub000/internal/watcher"
)

// shutdownTimeout bounds the wait for the watcher actor on exit.
const shutdownTimeout = 5 * time.Second

func newWatchCmd(flags *globalFlags) *cobra.Command {
	var initial bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-index files as they change",
		Long: `Watch the repository and the vault folder and re-index files as they
are written. Deleted and renamed files have their points removed; a change
to the architecture document re-indexes the whole project.

Runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, flags, appOptions{})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			return runWatch(ctx, cmd, a, initial)
		},
	}

	cmd.Flags().BoolVar(&initial, "index", false, "Index the project before watching")

	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, a *app, initial bool) error {
	out := output.New(cmd.OutOrStdout())
	projectID := a.cfg.Project.ID

	if err := a.indexer.EnsureCollection(ctx); err != nil {
		// The store may come up later; indexing failures are logged per file.
		a.logger.Warn("collection_unavailable", slog.String("error", err.Error()))
	}
	if initial {
		if err := a.indexer.Reindex(ctx, projectID, a.roots()); err != nil {
			a.logger.Warn("initial_index_failed", slog.String("error", err.Error()))
		}
	}

	w := watcher.New(a.indexer, watcherOptions(a))
	w.Start(ctx)
	if err := w.Watch(ctx, projectID, a.roots()); err != nil {
		shutdownWatcher(w, a.logger)
		return err
	}

	out.Successf("Watching %s (%d roots), press Ctrl+C to stop", projectID, len(a.roots()))

	<-ctx.Done()
	shutdownWatcher(w, a.logger)

	st := w.Status()
	out.Statusf("·", "Processed %d changes (%d debounced, %d dropped)", st.Processed, st.Debounced, st.Dropped)
	return nil
}

func watcherOptions(a *app) watcher.Options {
	c := a.cfg.Watcher
	return watcher.Options{
		Extensions:      c.Extensions,
		Ignore:          c.Ignore,
		ArchitectureDoc: a.cfg.Project.ArchitectureDoc,
		DebounceWindow:  c.DebounceWindow,
		PollInterval:    c.PollInterval,
		ControlBuffer:   c.ControlBuffer,
		EventBuffer:     c.EventBuffer,
		KeepDeleted:     c.KeepDeleted,
		Logger:          a.logger,
	}
}

func shutdownWatcher(w *watcher.Watcher, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := w.Shutdown(ctx); err != nil {
		logger.Warn("watcher_shutdown_failed", slog.String("error", err.Error()))
	}
}
