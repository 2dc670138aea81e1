package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nullvektordom/nexus-cli-sub000/internal/assembler"
	nxerrors "github.com/nullvektordom/nexus-cli-sub000/internal/errors"
	"github.com/nullvektordom/nexus-cli-sub000/internal/index"
	"github.com/nullvektordom/nexus-cli-sub000/internal/output"
)

func newWhyCmd(flags *globalFlags) *cobra.Command {
	var (
		limit  int
		global bool
		brief  bool
	)

	cmd := &cobra.Command{
		Use:   "why <question...>",
		Short: "Find the architecture references behind a question",
		Long: `Search the architecture and global standard layers for the question
and list every hit with its score, without the relevance threshold.

Use --global to search the standards of every project.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.TrimSpace(strings.Join(args, " "))
			if query == "" {
				return nxerrors.New(nxerrors.ErrCodeQueryEmpty, "question must not be empty", nil)
			}
			if limit <= 0 {
				return nxerrors.ValidationError(fmt.Sprintf("--limit must be positive, got %d", limit), nil)
			}

			a, err := openApp(cmd.Context(), flags, appOptions{})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			search := a.assembler.SearchArchitecture
			projectID := a.cfg.Project.ID
			if global {
				search = func(ctx context.Context, q, _ string, n int) ([]assembler.Snippet, error) {
					return a.assembler.GlobalSearch(ctx, q, n, index.ArchitectureLayers...)
				}
			}

			snippets, err := search(cmd.Context(), query, projectID, limit)
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			if len(snippets) == 0 {
				out.Warningf("No architecture references found for %q", query)
				return nil
			}
			if brief {
				for _, s := range snippets {
					out.Text(s.Citation())
				}
				return nil
			}
			for i, s := range snippets {
				out.Statusf(fmt.Sprintf("%d.", i+1), "%s | score %.2f | %s", location(s), s.Score, s.Layer)
				out.Code(strings.TrimSpace(s.Content))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 5, "Maximum number of references")
	cmd.Flags().BoolVar(&global, "global", false, "Search every project's standards")
	cmd.Flags().BoolVar(&brief, "brief", false, "Print one citation line per reference")

	return cmd
}

// location is the snippet path with its chunk index when known.
func location(s assembler.Snippet) string {
	if s.ChunkIndex < 0 {
		return s.FilePath
	}
	return fmt.Sprintf("%s#%d", s.FilePath, s.ChunkIndex)
}
