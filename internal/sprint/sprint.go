// Package sprint reads the active sprint of a project from its vault.
package sprint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nullvektordom/nexus-cli-sub000/internal/config"
)

// Document names inside a sprint folder.
const (
	TasksFile   = "Tasks.md"
	ContextFile = "Sprint-Context.md"
)

// NoUnfinishedTasks replaces an empty task list.
const NoUnfinishedTasks = "No unfinished tasks"

// Location is where the documents of the active sprint live.
type Location struct {
	SprintID    string
	TasksPath   string
	ContextPath string
}

// State is the read-only view of the active sprint.
type State struct {
	SprintID        string
	UnfinishedTasks string
	Context         string
}

// Source reports the active sprint. Active returns nil when no sprint is active.
type Source interface {
	Active(ctx context.Context) (*Location, error)
}

// VaultSource resolves the active sprint from the project config and the
// vault's sprint directory. The sprint state is re-read on every call so a
// sprint switched by another tool is picked up without restarting.
type VaultSource struct {
	// ConfigPath is the project config holding project.active_sprint.
	// When empty, Fallback is used.
	ConfigPath string
	Fallback   config.ActiveSprint

	VaultPath string
	SprintDir string
}

// NewVaultSource builds a source from a loaded configuration.
func NewVaultSource(cfg *config.Config) *VaultSource {
	return &VaultSource{
		ConfigPath: cfg.SourcePath,
		Fallback:   cfg.Project.ActiveSprint,
		VaultPath:  cfg.Project.ObsidianPath,
		SprintDir:  cfg.Project.SprintDir,
	}
}

// Active returns the location of the active sprint, or nil when none is
// active. The folder is <vault>/<sprint_dir>/<current>; when that does not
// exist the first folder named "<current>-..." is used.
func (s *VaultSource) Active(ctx context.Context) (*Location, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	state := s.Fallback
	if s.ConfigPath != "" {
		loaded, err := config.LoadProjectState(s.ConfigPath)
		if err != nil {
			return nil, err
		}
		state = loaded
	}
	if !state.IsActive() {
		return nil, nil
	}
	if s.VaultPath == "" {
		return nil, fmt.Errorf("sprint %s is active but project.obsidian_path is not set", state.Current)
	}

	dir, err := resolveFolder(filepath.Join(s.VaultPath, s.SprintDir), state.Current)
	if err != nil {
		return nil, err
	}
	return &Location{
		SprintID:    state.Current,
		TasksPath:   filepath.Join(dir, TasksFile),
		ContextPath: filepath.Join(dir, ContextFile),
	}, nil
}

func resolveFolder(sprintsDir, current string) (string, error) {
	exact := filepath.Join(sprintsDir, current)
	if info, err := os.Stat(exact); err == nil && info.IsDir() {
		return exact, nil
	}

	entries, err := os.ReadDir(sprintsDir)
	if err != nil {
		return "", fmt.Errorf("failed to read sprint directory %s: %w", sprintsDir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), current+"-") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", fmt.Errorf("sprint folder for %s not found in %s", current, sprintsDir)
	}
	sort.Strings(names)
	return filepath.Join(sprintsDir, names[0]), nil
}

// Read loads the sprint documents at loc. Both documents must exist.
func Read(ctx context.Context, loc *Location) (*State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tasks, err := os.ReadFile(loc.TasksPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", TasksFile, err)
	}
	narrative, err := os.ReadFile(loc.ContextPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", ContextFile, err)
	}

	return &State{
		SprintID:        loc.SprintID,
		UnfinishedTasks: UnfinishedTasks(string(tasks)),
		Context:         string(narrative),
	}, nil
}

// UnfinishedTasks returns the trimmed unchecked task lines of a Tasks.md
// document joined by newlines, or NoUnfinishedTasks.
func UnfinishedTasks(content string) string {
	var open []string
	for _, line := range strings.Split(content, "\n") {
		if strings.Contains(line, "- [ ]") || strings.Contains(line, "* [ ]") {
			open = append(open, strings.TrimSpace(line))
		}
	}
	if len(open) == 0 {
		return NoUnfinishedTasks
	}
	return strings.Join(open, "\n")
}
