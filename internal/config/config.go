package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ProjectFileNames are the project config files, in lookup order.
var ProjectFileNames = []string{".nexus.yaml", ".nexus.yml"}

// Config is the complete nexus configuration.
type Config struct {
	Version    int              `yaml:"version"`
	Project    ProjectConfig    `yaml:"project"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Store      StoreConfig      `yaml:"store"`
	Watcher    WatcherConfig    `yaml:"watcher"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Context    ContextConfig    `yaml:"context"`
	Logging    LoggingConfig    `yaml:"logging"`

	// SourcePath is the project config file that was loaded, if any.
	SourcePath string `yaml:"-"`
}

// ProjectConfig identifies the project and where its two roots live.
type ProjectConfig struct {
	ID string `yaml:"id"`

	// RepoPath is the code repository root. Defaults to the config directory.
	RepoPath string `yaml:"repo_path"`

	// ObsidianPath is the project folder inside the Obsidian vault.
	ObsidianPath string `yaml:"obsidian_path"`

	// SprintDir is relative to ObsidianPath.
	SprintDir string `yaml:"sprint_dir"`

	// ArchitectureDoc is the file name whose change triggers a full re-index.
	ArchitectureDoc string `yaml:"architecture_doc"`

	ActiveSprint ActiveSprint `yaml:"active_sprint"`
}

// ActiveSprint is the persisted sprint state of a project.
type ActiveSprint struct {
	// Current is the sprint identifier, e.g. "sprint-3".
	Current string `yaml:"current"`
	// Status is "in_progress", "approved" or "completed".
	Status string `yaml:"status"`
}

// IsActive reports whether a sprint is currently running.
func (s ActiveSprint) IsActive() bool {
	return s.Current != "" && !strings.EqualFold(s.Status, "completed")
}

// EmbeddingsConfig configures the embedding generator.
type EmbeddingsConfig struct {
	// Provider is "onnx" or "static".
	Provider       string `yaml:"provider"`
	ModelPath      string `yaml:"model_path"`
	TokenizerPath  string `yaml:"tokenizer_path"`
	RuntimeLibrary string `yaml:"runtime_library"`
	IntraOpThreads int    `yaml:"intra_op_threads"`
	Dimensions     int    `yaml:"dimensions"`
	CacheSize      int    `yaml:"cache_size"`
}

// StoreConfig selects and configures the vector store backend.
type StoreConfig struct {
	// Backend is "qdrant" or "local".
	Backend          string        `yaml:"backend"`
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	APIKey           string        `yaml:"api_key"`
	UseTLS           bool          `yaml:"use_tls"`
	Collection       string        `yaml:"collection"`
	LedgerCollection string        `yaml:"ledger_collection"`
	LocalDir         string        `yaml:"local_dir"`
	BreakerFailures  int           `yaml:"breaker_failures"`
	BreakerReset     time.Duration `yaml:"breaker_reset"`
}

// WatcherConfig configures the change watcher.
type WatcherConfig struct {
	Extensions     []string      `yaml:"extensions"`
	Ignore         []string      `yaml:"ignore"`
	DebounceWindow time.Duration `yaml:"debounce_window"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	ControlBuffer  int           `yaml:"control_buffer"`
	EventBuffer    int           `yaml:"event_buffer"`

	// KeepDeleted disables removal of points for deleted or renamed files.
	KeepDeleted bool `yaml:"keep_deleted"`
}

// ChunkingConfig configures the character window chunker.
type ChunkingConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// ContextConfig configures context assembly.
type ContextConfig struct {
	TopK               int     `yaml:"top_k"`
	RelevanceThreshold float64 `yaml:"relevance_threshold"`
}

// LoggingConfig configures the log sink.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	File      string `yaml:"file"`
	MaxSizeMB int    `yaml:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files"`
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	modelDir := filepath.Join(nexusHome(), "models", "all-MiniLM-L6-v2")
	return &Config{
		Version: 1,
		Project: ProjectConfig{
			SprintDir:       "00-MANAGEMENT/sprints",
			ArchitectureDoc: "04-Architecture.md",
		},
		Embeddings: EmbeddingsConfig{
			Provider:       "onnx",
			ModelPath:      filepath.Join(modelDir, "model.onnx"),
			TokenizerPath:  filepath.Join(modelDir, "tokenizer.json"),
			IntraOpThreads: 4,
			Dimensions:     384,
			CacheSize:      1000,
		},
		Store: StoreConfig{
			Backend:          "qdrant",
			Host:             "localhost",
			Port:             6334,
			Collection:       "nexus_brain",
			LedgerCollection: "nexus_ledger",
			LocalDir:         filepath.Join(".nexus", "index"),
			BreakerFailures:  5,
			BreakerReset:     30 * time.Second,
		},
		Watcher: WatcherConfig{
			Extensions:     []string{"rs", "toml", "md", "txt", "json", "yaml", "yml", "go"},
			Ignore:         []string{".git", ".nexus", ".obsidian", "target", "node_modules", "vendor"},
			DebounceWindow: 5 * time.Second,
			PollInterval:   100 * time.Millisecond,
			ControlBuffer:  100,
			EventBuffer:    1000,
		},
		Chunking: ChunkingConfig{
			Size:    1000,
			Overlap: 100,
		},
		Context: ContextConfig{
			TopK:               3,
			RelevanceThreshold: 0.75,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

func nexusHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".nexus")
	}
	return filepath.Join(home, ".nexus")
}

// UserConfigPath returns $XDG_CONFIG_HOME/nexus/config.yaml or
// ~/.config/nexus/config.yaml.
func UserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "nexus", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "nexus", "config.yaml")
	}
	return filepath.Join(home, ".config", "nexus", "config.yaml")
}

// Load builds the configuration for the project in dir, in order of
// increasing precedence:
//  1. Defaults
//  2. User config (~/.config/nexus/config.yaml)
//  3. Project config (.nexus.yaml in dir)
//  4. Environment variables (NEXUS_*)
func Load(dir string) (*Config, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}

	cfg := NewConfig()

	if userPath := UserConfigPath(); fileExists(userPath) {
		if err := cfg.loadYAML(userPath); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if path := ProjectFile(absDir); path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
		cfg.SourcePath = path
	}

	cfg.applyEnvOverrides()
	cfg.resolvePaths(absDir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ProjectFile returns the project config file in dir, or "".
func ProjectFile(dir string) string {
	for _, name := range ProjectFileNames {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return path
		}
	}
	return ""
}

// LoadProjectState re-reads only the active sprint from a project config
// file so sprint changes are visible without restarting.
func LoadProjectState(path string) (ActiveSprint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ActiveSprint{}, fmt.Errorf("failed to read project state %s: %w", path, err)
	}
	var parsed struct {
		Project struct {
			ActiveSprint ActiveSprint `yaml:"active_sprint"`
		} `yaml:"project"`
	}
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return ActiveSprint{}, fmt.Errorf("failed to parse project state %s: %w", path, err)
	}
	return parsed.Project.ActiveSprint, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith copies non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	p := other.Project
	setString(&c.Project.ID, p.ID)
	setString(&c.Project.RepoPath, p.RepoPath)
	setString(&c.Project.ObsidianPath, p.ObsidianPath)
	setString(&c.Project.SprintDir, p.SprintDir)
	setString(&c.Project.ArchitectureDoc, p.ArchitectureDoc)
	setString(&c.Project.ActiveSprint.Current, p.ActiveSprint.Current)
	setString(&c.Project.ActiveSprint.Status, p.ActiveSprint.Status)

	e := other.Embeddings
	setString(&c.Embeddings.Provider, e.Provider)
	setString(&c.Embeddings.ModelPath, e.ModelPath)
	setString(&c.Embeddings.TokenizerPath, e.TokenizerPath)
	setString(&c.Embeddings.RuntimeLibrary, e.RuntimeLibrary)
	setInt(&c.Embeddings.IntraOpThreads, e.IntraOpThreads)
	setInt(&c.Embeddings.Dimensions, e.Dimensions)
	setInt(&c.Embeddings.CacheSize, e.CacheSize)

	s := other.Store
	setString(&c.Store.Backend, s.Backend)
	setString(&c.Store.Host, s.Host)
	setInt(&c.Store.Port, s.Port)
	setString(&c.Store.APIKey, s.APIKey)
	if s.UseTLS {
		c.Store.UseTLS = true
	}
	setString(&c.Store.Collection, s.Collection)
	setString(&c.Store.LedgerCollection, s.LedgerCollection)
	setString(&c.Store.LocalDir, s.LocalDir)
	setInt(&c.Store.BreakerFailures, s.BreakerFailures)
	if s.BreakerReset > 0 {
		c.Store.BreakerReset = s.BreakerReset
	}

	w := other.Watcher
	if len(w.Extensions) > 0 {
		c.Watcher.Extensions = w.Extensions
	}
	if len(w.Ignore) > 0 {
		// extend the defaults rather than replace them
		c.Watcher.Ignore = append(c.Watcher.Ignore, w.Ignore...)
	}
	if w.DebounceWindow > 0 {
		c.Watcher.DebounceWindow = w.DebounceWindow
	}
	if w.PollInterval > 0 {
		c.Watcher.PollInterval = w.PollInterval
	}
	setInt(&c.Watcher.ControlBuffer, w.ControlBuffer)
	setInt(&c.Watcher.EventBuffer, w.EventBuffer)
	if w.KeepDeleted {
		c.Watcher.KeepDeleted = true
	}

	setInt(&c.Chunking.Size, other.Chunking.Size)
	setInt(&c.Chunking.Overlap, other.Chunking.Overlap)

	setInt(&c.Context.TopK, other.Context.TopK)
	if other.Context.RelevanceThreshold != 0 {
		c.Context.RelevanceThreshold = other.Context.RelevanceThreshold
	}

	l := other.Logging
	setString(&c.Logging.Level, l.Level)
	setString(&c.Logging.File, l.File)
	setInt(&c.Logging.MaxSizeMB, l.MaxSizeMB)
	setInt(&c.Logging.MaxFiles, l.MaxFiles)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// applyEnvOverrides applies NEXUS_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	setString(&c.Project.ID, os.Getenv("NEXUS_PROJECT_ID"))
	setString(&c.Project.ObsidianPath, os.Getenv("NEXUS_OBSIDIAN_PATH"))
	setString(&c.Embeddings.Provider, os.Getenv("NEXUS_EMBEDDER"))
	setString(&c.Embeddings.ModelPath, os.Getenv("NEXUS_MODEL_PATH"))
	setString(&c.Embeddings.TokenizerPath, os.Getenv("NEXUS_TOKENIZER_PATH"))
	setString(&c.Embeddings.RuntimeLibrary, os.Getenv("NEXUS_ORT_LIBRARY"))
	setString(&c.Store.Backend, os.Getenv("NEXUS_STORE_BACKEND"))
	setString(&c.Store.Host, os.Getenv("NEXUS_QDRANT_HOST"))
	setString(&c.Store.APIKey, os.Getenv("NEXUS_QDRANT_API_KEY"))
	setString(&c.Logging.Level, os.Getenv("NEXUS_LOG_LEVEL"))

	if v := os.Getenv("NEXUS_QDRANT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Store.Port = port
		}
	}
	if v := os.Getenv("NEXUS_RELEVANCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && f >= 0 && f <= 1 {
			c.Context.RelevanceThreshold = f
		}
	}
}

// resolvePaths makes relative paths absolute against the project directory
// and fills in the project id and repo path when unset.
func (c *Config) resolvePaths(dir string) {
	if c.Project.RepoPath == "" {
		c.Project.RepoPath = dir
	}
	c.Project.RepoPath = absAgainst(dir, c.Project.RepoPath)
	if c.Project.ObsidianPath != "" {
		c.Project.ObsidianPath = absAgainst(dir, expandHome(c.Project.ObsidianPath))
	}
	if c.Project.ID == "" {
		c.Project.ID = filepath.Base(c.Project.RepoPath)
	}
	c.Store.LocalDir = absAgainst(dir, expandHome(c.Store.LocalDir))
	c.Embeddings.ModelPath = absAgainst(dir, expandHome(c.Embeddings.ModelPath))
	c.Embeddings.TokenizerPath = absAgainst(dir, expandHome(c.Embeddings.TokenizerPath))
	if c.Embeddings.RuntimeLibrary != "" {
		c.Embeddings.RuntimeLibrary = expandHome(c.Embeddings.RuntimeLibrary)
	}
	if c.Logging.File != "" {
		c.Logging.File = absAgainst(dir, expandHome(c.Logging.File))
	}
}

func absAgainst(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// Validate checks the configuration for values the core cannot run with.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Embeddings.Provider) {
	case "onnx", "static":
	default:
		return fmt.Errorf("embeddings.provider must be 'onnx' or 'static', got %q", c.Embeddings.Provider)
	}
	if c.Embeddings.Dimensions <= 0 {
		return fmt.Errorf("embeddings.dimensions must be positive, got %d", c.Embeddings.Dimensions)
	}

	switch strings.ToLower(c.Store.Backend) {
	case "qdrant", "local":
	default:
		return fmt.Errorf("store.backend must be 'qdrant' or 'local', got %q", c.Store.Backend)
	}
	if c.Store.Collection == "" {
		return fmt.Errorf("store.collection must not be empty")
	}

	if c.Chunking.Size <= 0 {
		return fmt.Errorf("chunking.size must be positive, got %d", c.Chunking.Size)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		return fmt.Errorf("chunking.overlap must be in [0, size), got %d", c.Chunking.Overlap)
	}

	if c.Context.TopK <= 0 {
		return fmt.Errorf("context.top_k must be positive, got %d", c.Context.TopK)
	}
	if c.Context.RelevanceThreshold < 0 || c.Context.RelevanceThreshold > 1 {
		return fmt.Errorf("context.relevance_threshold must be between 0 and 1, got %f", c.Context.RelevanceThreshold)
	}

	if c.Watcher.DebounceWindow <= 0 || c.Watcher.PollInterval <= 0 {
		return fmt.Errorf("watcher.debounce_window and watcher.poll_interval must be positive")
	}
	if c.Watcher.ControlBuffer <= 0 || c.Watcher.EventBuffer <= 0 {
		return fmt.Errorf("watcher buffers must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}
	return nil
}

// WriteYAML writes the configuration to path.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// FindProjectRoot walks up from startDir to the first directory holding a
// project config file or a .git directory. Falls back to startDir.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	current := absDir
	for {
		if ProjectFile(current) != "" || dirExists(filepath.Join(current, ".git")) {
			return current, nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return absDir, nil
		}
		current = parent
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
