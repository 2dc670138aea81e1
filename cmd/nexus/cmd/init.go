package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nullvektordom/nexus-cli-sub000/internal/config"
	"github.com/nullvektordom/nexus-cli-sub000/internal/mcp"
	"github.com/nullvektordom/nexus-cli-sub000/internal/output"
)

type initOptions struct {
	id       string
	vault    string
	backend  string
	provider string
	force    bool
}

func newInitCmd(flags *globalFlags) *cobra.Command {
	var opts initOptions

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create .nexus.yaml for the project",
		Long: `Create a .nexus.yaml project config in the project directory.

The project id defaults to the name found in Cargo.toml, go.mod or
package.json, falling back to the directory name.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir := flags.projectDir
			if dir == "" {
				dir = "."
			}
			return runInit(cmd, dir, opts)
		},
	}

	cmd.Flags().StringVar(&opts.id, "id", "", "Project id (default: detected from the project manifest)")
	cmd.Flags().StringVar(&opts.vault, "vault", "", "Project folder inside the Obsidian vault")
	cmd.Flags().StringVar(&opts.backend, "backend", "", "Vector store backend: qdrant (default) or local")
	cmd.Flags().StringVar(&opts.provider, "provider", "", "Embedding provider: onnx (default) or static")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Overwrite an existing project config")

	return cmd
}

func runInit(cmd *cobra.Command, dir string, opts initOptions) error {
	out := output.New(cmd.OutOrStdout())

	root, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", dir, err)
	}

	if existing := config.ProjectFile(root); existing != "" && !opts.force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", existing)
	}

	cfg := config.NewConfig()
	cfg.Project.ID = opts.id
	if cfg.Project.ID == "" {
		info := mcp.NewProjectDetector(root, nil).Detect()
		cfg.Project.ID = info.ID
		if info.Type != "unknown" {
			out.Statusf("·", "Detected %s project %q", info.Type, info.ID)
		}
	}
	if opts.vault != "" {
		cfg.Project.ObsidianPath = opts.vault
	}
	if opts.backend != "" {
		cfg.Store.Backend = opts.backend
	}
	if opts.provider != "" {
		cfg.Embeddings.Provider = opts.provider
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Join(root, dataDirName), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dataDirName, err)
	}

	path := filepath.Join(root, config.ProjectFileNames[0])
	if err := cfg.WriteYAML(path); err != nil {
		return err
	}

	out.Successf("Created %s for project %q", path, cfg.Project.ID)
	out.Status("", "Next: nexus index")
	return nil
}
