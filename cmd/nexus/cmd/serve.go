package cmd

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nullvektordom/nexus-cli-sub000/internal/mcp"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	var transport string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Serve context, architecture search and the decision ledger to MCP
clients over stdio.

Stdout carries the protocol stream, so logs only go to the log file
(--debug or logging.file).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, flags, appOptions{stdio: true})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if err := a.indexer.EnsureCollection(ctx); err != nil {
				a.logger.Warn("collection_unavailable", slog.String("error", err.Error()))
			}

			srv, err := mcp.NewServer(mcp.Options{
				Assembler: a.assembler,
				Ledger:    a.ledger,
				Indexer:   a.indexer,
				Manifest:  a.manifest,
				Embedder:  a.embedder,
				Sprints:   a.sprints,
				Config:    a.cfg,
				ProjectID: a.cfg.Project.ID,
				RootPath:  a.root,
				Logger:    a.logger,
			})
			if err != nil {
				return err
			}
			srv.RegisterResources()
			return srv.Serve(ctx, transport)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport (stdio)")

	return cmd
}
