package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/nullvektordom/nexus-cli-sub000/internal/assembler"
	nxerrors "github.com/nullvektordom/nexus-cli-sub000/internal/errors"
	"github.com/nullvektordom/nexus-cli-sub000/internal/output"
)

func newContextCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "context <request...>",
		Short: "Print the assembled context for a request",
		Long: `Embed the request, retrieve the matching architecture references and
the active sprint state, and print the rendered context block.

A store or model outage degrades the output instead of failing.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.TrimSpace(strings.Join(args, " "))
			if query == "" {
				return nxerrors.New(nxerrors.ErrCodeQueryEmpty, "request must not be empty", nil)
			}

			a, err := openApp(cmd.Context(), flags, appOptions{})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			assembled, err := a.assembler.GetContext(cmd.Context(), query, a.cfg.Project.ID)
			if err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Text(assembler.Render(assembled))
			return nil
		},
	}
}
