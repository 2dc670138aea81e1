package cmd

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"github.com/nullvektordom/nexus-cli-sub000/internal/preflight"
)

// errDoctorFailed is returned when a required check fails.
var errDoctorFailed = errors.New("required checks failed")

func newDoctorCmd(flags *globalFlags) *cobra.Command {
	var (
		jsonOutput bool
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that the project can be indexed and served",
		Long: `Run checks against the host, the embedding model, the vector store and
the vault. Exits non-zero when a required check fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), flags, appOptions{})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			checker := preflight.New(a.cfg, a.root,
				preflight.WithStore(a.store),
				preflight.WithSprints(a.sprints),
				preflight.WithVerbose(verbose),
				preflight.WithOutput(cmd.OutOrStdout()),
			)
			results := checker.RunAll(cmd.Context())

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(map[string]any{
					"status": checker.SummaryStatus(results),
					"checks": results,
				}); err != nil {
					return err
				}
			} else {
				checker.PrintResults(results)
			}

			if checker.HasCriticalFailures(results) {
				return errDoctorFailed
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show details for passing checks")

	return cmd
}
