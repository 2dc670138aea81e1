// Package cmd provides the CLI commands for nexus.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	nxerrors "github.com/nullvektordom/nexus-cli-sub000/internal/errors"
	"github.com/nullvektordom/nexus-cli-sub000/internal/profiling"
	"github.com/nullvektordom/nexus-cli-sub000/pkg/version"
)

// globalFlags are the persistent flags shared by every subcommand.
type globalFlags struct {
	debug             bool
	projectDir        string
	requireEmbeddings bool

	profile  profiling.Options
	profiler *profiling.Session
}

func (f *globalFlags) startProfiling() error {
	if !f.profile.Enabled() || f.profiler != nil {
		return nil
	}
	s, err := profiling.Start(f.profile)
	if err != nil {
		return err
	}
	f.profiler = s
	return nil
}

func (f *globalFlags) stopProfiling() error {
	return f.profiler.Stop()
}

// NewRootCmd creates the root command for the nexus CLI.
func NewRootCmd() *cobra.Command {
	cmd, _ := newRootCmd()
	return cmd
}

func newRootCmd() (*cobra.Command, *globalFlags) {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "nexus",
		Short: "Semantic memory for a project's vault and repository",
		Long: `nexus indexes a project's Obsidian vault and code repository into a vector
store and assembles context for prompts and MCP clients from similarity
search plus the active sprint.

Run 'nexus init' in a repository to create .nexus.yaml, 'nexus index' to
build the index and 'nexus watch' to keep it current.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return flags.startProfiling()
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return flags.stopProfiling()
		},
	}
	cmd.SetVersionTemplate("nexus version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&flags.debug, "debug", false, "Enable debug logging to ~/.nexus/logs/")
	cmd.PersistentFlags().StringVarP(&flags.projectDir, "project", "C", "", "Project directory (default: nearest directory with .nexus.yaml or .git)")
	cmd.PersistentFlags().BoolVar(&flags.requireEmbeddings, "require-embeddings", false, "Fail instead of degrading when the embedding model cannot be loaded")

	cmd.PersistentFlags().StringVar(&flags.profile.CPUPath, "profile-cpu", "", "Write a CPU profile to this file")
	cmd.PersistentFlags().StringVar(&flags.profile.HeapPath, "profile-mem", "", "Write a heap profile to this file on exit")
	cmd.PersistentFlags().StringVar(&flags.profile.TracePath, "trace", "", "Write an execution trace to this file")
	_ = cmd.PersistentFlags().MarkHidden("trace")

	cmd.AddCommand(newInitCmd(flags))
	cmd.AddCommand(newIndexCmd(flags))
	cmd.AddCommand(newWatchCmd(flags))
	cmd.AddCommand(newContextCmd(flags))
	cmd.AddCommand(newWhyCmd(flags))
	cmd.AddCommand(newStatusCmd(flags))
	cmd.AddCommand(newRememberCmd(flags))
	cmd.AddCommand(newRecallCmd(flags))
	cmd.AddCommand(newServeCmd(flags))
	cmd.AddCommand(newDoctorCmd(flags))
	cmd.AddCommand(newVersionCmd())

	return cmd, flags
}

// Execute runs the root command and prints a formatted error on failure.
func Execute() error {
	root, flags := newRootCmd()
	err := root.ExecuteContext(context.Background())
	// PersistentPostRunE is skipped when a command fails.
	if stopErr := flags.stopProfiling(); err == nil {
		err = stopErr
	}
	if err != nil {
		_, _ = fmt.Fprint(os.Stderr, nxerrors.FormatForCLI(err))
	}
	return err
}
