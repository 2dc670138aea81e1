package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/nullvektordom/nexus-cli-sub000/internal/ui"
)

// statusTimeout bounds the store health check.
const statusTimeout = 5 * time.Second

func newStatusCmd(flags *globalFlags) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index, store and embedder health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), flags, appOptions{})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			info := collectStatus(cmd.Context(), a)
			r := ui.NewStatusRenderer(cmd.OutOrStdout(), !ui.IsTTY(cmd.OutOrStdout()) || ui.DetectNoColor())
			if jsonOutput {
				return r.RenderJSON(info)
			}
			return r.Render(info)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output status as JSON")

	return cmd
}

// collectStatus gathers status without failing on an unreachable store.
func collectStatus(ctx context.Context, a *app) ui.StatusInfo {
	projectID := a.cfg.Project.ID
	info := ui.StatusInfo{
		ProjectID:          projectID,
		RepoPath:           a.cfg.Project.RepoPath,
		VaultPath:          a.cfg.Project.ObsidianPath,
		StoreBackend:       a.cfg.Store.Backend,
		StoreStatus:        "ready",
		Collection:         a.cfg.Store.Collection,
		EmbedderProvider:   a.cfg.Embeddings.Provider,
		EmbedderModel:      a.embedder.ModelName(),
		EmbedderDimensions: a.embedder.Dimensions(),
		EmbedderStatus:     "ready",
	}

	healthCtx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()
	health, err := a.indexer.Health(healthCtx)
	if err != nil {
		info.StoreStatus = "offline"
		info.StoreError = err.Error()
	}
	info.Points = health.Points

	if !a.embedder.Available(ctx) {
		info.EmbedderStatus = "offline"
	}

	if files, chunks, err := a.manifest.Stats(ctx, projectID); err == nil {
		info.TotalFiles, info.TotalChunks = files, chunks
	} else {
		a.logger.Warn("status_manifest_failed", slog.String("error", err.Error()))
	}
	if last, err := a.manifest.LastIndexed(ctx, projectID); err == nil {
		info.LastIndexed = last
	}

	if loc, err := a.sprints.Active(ctx); err == nil && loc != nil {
		info.Sprint = loc.SprintID
	}
	return info
}
