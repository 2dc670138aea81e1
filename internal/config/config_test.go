package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the user config lookup at an empty directory and clears
// NEXUS_* variables that would leak in from the environment.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	for _, k := range []string{
		"NEXUS_PROJECT_ID", "NEXUS_OBSIDIAN_PATH", "NEXUS_EMBEDDER", "NEXUS_MODEL_PATH",
		"NEXUS_TOKENIZER_PATH", "NEXUS_ORT_LIBRARY", "NEXUS_STORE_BACKEND", "NEXUS_QDRANT_HOST",
		"NEXUS_QDRANT_API_KEY", "NEXUS_LOG_LEVEL", "NEXUS_QDRANT_PORT", "NEXUS_RELEVANCE_THRESHOLD",
	} {
		t.Setenv(k, "")
	}
}

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, "onnx", cfg.Embeddings.Provider)
	assert.Equal(t, 384, cfg.Embeddings.Dimensions)
	assert.Equal(t, 4, cfg.Embeddings.IntraOpThreads)
	assert.Equal(t, "qdrant", cfg.Store.Backend)
	assert.Equal(t, 6334, cfg.Store.Port)
	assert.Equal(t, "nexus_brain", cfg.Store.Collection)
	assert.Equal(t, 1000, cfg.Chunking.Size)
	assert.Equal(t, 100, cfg.Chunking.Overlap)
	assert.Equal(t, 3, cfg.Context.TopK)
	assert.Equal(t, 0.75, cfg.Context.RelevanceThreshold)
	assert.Equal(t, 5*time.Second, cfg.Watcher.DebounceWindow)
	assert.Equal(t, 100*time.Millisecond, cfg.Watcher.PollInterval)
	assert.Equal(t, 100, cfg.Watcher.ControlBuffer)
	assert.Equal(t, 1000, cfg.Watcher.EventBuffer)
	assert.Equal(t, "04-Architecture.md", cfg.Project.ArchitectureDoc)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_NoFiles_UsesDefaultsAndDirName(t *testing.T) {
	isolate(t)
	dir := filepath.Join(t.TempDir(), "atlas")
	require.NoError(t, os.Mkdir(dir, 0o755))

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, "atlas", cfg.Project.ID)
	assert.Equal(t, dir, cfg.Project.RepoPath)
	assert.Equal(t, filepath.Join(dir, ".nexus", "index"), cfg.Store.LocalDir)
	assert.Empty(t, cfg.SourcePath)
}

func TestLoad_ProjectFileOverridesDefaults(t *testing.T) {
	// Given: a project config with a few overrides
	isolate(t)
	dir := t.TempDir()
	yaml := `
project:
  id: atlas
  obsidian_path: vault/atlas
  active_sprint:
    current: sprint-3
    status: in_progress
store:
  backend: local
watcher:
  debounce_window: 2s
  ignore: [build]
context:
  relevance_threshold: 0.8
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".nexus.yaml"), []byte(yaml), 0o644))

	// When: loading
	cfg, err := Load(dir)

	// Then: overrides apply and unrelated defaults survive
	require.NoError(t, err)
	assert.Equal(t, "atlas", cfg.Project.ID)
	assert.Equal(t, filepath.Join(dir, "vault", "atlas"), cfg.Project.ObsidianPath)
	assert.Equal(t, "sprint-3", cfg.Project.ActiveSprint.Current)
	assert.Equal(t, "local", cfg.Store.Backend)
	assert.Equal(t, 2*time.Second, cfg.Watcher.DebounceWindow)
	assert.Contains(t, cfg.Watcher.Ignore, "build")
	assert.Contains(t, cfg.Watcher.Ignore, ".git")
	assert.Equal(t, 0.8, cfg.Context.RelevanceThreshold)
	assert.Equal(t, 1000, cfg.Chunking.Size)
	assert.Equal(t, filepath.Join(dir, ".nexus.yaml"), cfg.SourcePath)
}

func TestLoad_EnvOverridesProjectFile(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".nexus.yml"), []byte("store:\n  port: 7000\n"), 0o644))
	t.Setenv("NEXUS_QDRANT_PORT", "7334")
	t.Setenv("NEXUS_EMBEDDER", "static")

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, 7334, cfg.Store.Port)
	assert.Equal(t, "static", cfg.Embeddings.Provider)
}

func TestLoad_UserConfigBelowProject(t *testing.T) {
	isolate(t)
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	require.NoError(t, os.MkdirAll(filepath.Join(xdg, "nexus"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(xdg, "nexus", "config.yaml"),
		[]byte("store:\n  host: brain.tailnet\n  port: 7000\n"), 0o644))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".nexus.yaml"), []byte("store:\n  port: 7001\n"), 0o644))

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, "brain.tailnet", cfg.Store.Host)
	assert.Equal(t, 7001, cfg.Store.Port)
}

func TestLoad_InvalidYAML(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".nexus.yaml"), []byte("store: [unclosed"), 0o644))

	_, err := Load(dir)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"unknown provider", func(c *Config) { c.Embeddings.Provider = "ollama" }, "embeddings.provider"},
		{"unknown backend", func(c *Config) { c.Store.Backend = "pgvector" }, "store.backend"},
		{"overlap equals size", func(c *Config) { c.Chunking.Overlap = 1000 }, "chunking.overlap"},
		{"negative overlap", func(c *Config) { c.Chunking.Overlap = -1 }, "chunking.overlap"},
		{"threshold above one", func(c *Config) { c.Context.RelevanceThreshold = 1.5 }, "relevance_threshold"},
		{"zero top k", func(c *Config) { c.Context.TopK = 0 }, "top_k"},
		{"bad level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoadProjectState_RereadsSprint(t *testing.T) {
	// Given: a project file with an active sprint
	path := filepath.Join(t.TempDir(), ".nexus.yaml")
	require.NoError(t, os.WriteFile(path, []byte("project:\n  active_sprint:\n    current: sprint-2\n    status: approved\n"), 0o644))

	state, err := LoadProjectState(path)
	require.NoError(t, err)
	assert.Equal(t, "sprint-2", state.Current)
	assert.True(t, state.IsActive())

	// When: the sprint completes on disk
	require.NoError(t, os.WriteFile(path, []byte("project:\n  active_sprint:\n    current: sprint-2\n    status: completed\n"), 0o644))

	// Then: the next read sees it
	state, err = LoadProjectState(path)
	require.NoError(t, err)
	assert.False(t, state.IsActive())
}

func TestWriteYAML_RoundTripsThroughLoad(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	cfg := NewConfig()
	cfg.Project.ID = "atlas"
	cfg.Watcher.DebounceWindow = 3 * time.Second
	require.NoError(t, cfg.WriteYAML(filepath.Join(dir, ".nexus.yaml")))

	loaded, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, "atlas", loaded.Project.ID)
	assert.Equal(t, 3*time.Second, loaded.Watcher.DebounceWindow)
}

func TestFindProjectRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".nexus.yaml"), []byte("version: 1\n"), 0o644))
	nested := filepath.Join(root, "src", "deep")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	got, err := FindProjectRoot(nested)

	require.NoError(t, err)
	assert.Equal(t, root, got)
}
