package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	nxerrors "github.com/nullvektordom/nexus-cli-sub000/internal/errors"
	"github.com/nullvektordom/nexus-cli-sub000/internal/ledger"
	"github.com/nullvektordom/nexus-cli-sub000/internal/output"
)

func newRememberCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "remember <decision...>",
		Short: "Record an architectural decision",
		Long: `Store an architectural decision in the decision ledger so it can be
recalled by similarity later with 'nexus recall'.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.TrimSpace(strings.Join(args, " "))
			if text == "" {
				return nxerrors.ValidationError("decision must not be empty", nil)
			}

			a, err := openApp(cmd.Context(), flags, appOptions{})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			d, err := a.ledger.Record(cmd.Context(), text)
			if err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("Recorded decision %s", d.ID)
			return nil
		},
	}
}

func newRecallCmd(flags *globalFlags) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "recall <query...>",
		Short: "Recall the decisions most similar to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.TrimSpace(strings.Join(args, " "))
			if query == "" {
				return nxerrors.New(nxerrors.ErrCodeQueryEmpty, "query must not be empty", nil)
			}

			a, err := openApp(cmd.Context(), flags, appOptions{})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			decisions, err := a.ledger.Recall(cmd.Context(), query, limit)
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			if len(decisions) == 0 {
				out.Warningf("No recorded decisions match %q", query)
				return nil
			}
			for _, d := range decisions {
				out.Statusf("-", "%s [%.2f] %s", d.RecordedAt.Format("2006-01-02"), d.Score, d.Content)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", ledger.DefaultRecallLimit, "Maximum number of decisions")

	return cmd
}
