package preflight

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullvektordom/nexus-cli-sub000/internal/config"
	"github.com/nullvektordom/nexus-cli-sub000/internal/sprint"
)

type fakeProber struct {
	exists bool
	err    error
}

func (f fakeProber) CollectionExists(context.Context, string) (bool, error) {
	return f.exists, f.err
}

type fakeSprints struct {
	loc *sprint.Location
	err error
}

func (f fakeSprints) Active(context.Context) (*sprint.Location, error) {
	return f.loc, f.err
}

func newTestConfig(t *testing.T) (*config.Config, string) {
	t.Helper()
	root := t.TempDir()
	cfg := config.NewConfig()
	cfg.Project.ID = "demo"
	cfg.Project.RepoPath = root
	cfg.Embeddings.Provider = "static"
	cfg.Store.Backend = "local"
	return cfg, root
}

func TestCheckStatus_String(t *testing.T) {
	tests := []struct {
		status CheckStatus
		want   string
	}{
		{StatusPass, "PASS"},
		{StatusWarn, "WARN"},
		{StatusFail, "FAIL"},
		{CheckStatus(9), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.String())
		})
	}
}

func TestCheckResult_IsCritical(t *testing.T) {
	tests := []struct {
		name     string
		result   CheckResult
		expected bool
	}{
		{"required pass is not critical", CheckResult{Status: StatusPass, Required: true}, false},
		{"required fail is critical", CheckResult{Status: StatusFail, Required: true}, true},
		{"optional fail is not critical", CheckResult{Status: StatusFail}, false},
		{"required warn is not critical", CheckResult{Status: StatusWarn, Required: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.result.IsCritical())
		})
	}
}

func TestChecker_SummaryStatus(t *testing.T) {
	cfg, root := newTestConfig(t)
	c := New(cfg, root)

	tests := []struct {
		name    string
		results []CheckResult
		want    string
	}{
		{"all pass", []CheckResult{{Status: StatusPass}, {Status: StatusPass, Required: true}}, "ready"},
		{"warning", []CheckResult{{Status: StatusPass}, {Status: StatusWarn}}, "ready_with_warnings"},
		{"optional failure", []CheckResult{{Status: StatusFail}}, "ready_with_warnings"},
		{"critical failure", []CheckResult{{Status: StatusWarn}, {Status: StatusFail, Required: true}}, "failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.SummaryStatus(tt.results))
			assert.Equal(t, tt.want == "failed", c.HasCriticalFailures(tt.results))
		})
	}
}

func TestCheckWritePermissions_CreatesDataDir(t *testing.T) {
	// Given: a project without a .nexus directory
	cfg, root := newTestConfig(t)

	// When: checking write permissions
	result := New(cfg, root).CheckWritePermissions()

	// Then: the directory exists and no test file is left behind
	assert.Equal(t, StatusPass, result.Status)
	assert.True(t, result.Required)
	entries, err := os.ReadDir(filepath.Join(root, ".nexus"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCheckDiskSpace_MissingPathFails(t *testing.T) {
	cfg, root := newTestConfig(t)

	result := New(cfg, root).CheckDiskSpace(filepath.Join(root, "does-not-exist"))

	assert.Equal(t, StatusFail, result.Status)
	assert.Contains(t, result.Message, "failed to check disk space")
}

func TestCheckDiskSpace_TempDir(t *testing.T) {
	cfg, root := newTestConfig(t)

	result := New(cfg, root).CheckDiskSpace(root)

	assert.Equal(t, "disk_space", result.Name)
	assert.Contains(t, result.Message, "minimum: 100.0 MB")
}

func TestCheckEmbeddingArtifacts(t *testing.T) {
	t.Run("static provider passes", func(t *testing.T) {
		cfg, root := newTestConfig(t)

		result := New(cfg, root).CheckEmbeddingArtifacts()

		assert.Equal(t, StatusPass, result.Status)
		assert.Contains(t, result.Message, "static provider")
	})

	t.Run("missing model warns", func(t *testing.T) {
		// Given: the onnx provider pointing at files that do not exist
		cfg, root := newTestConfig(t)
		cfg.Embeddings.Provider = "onnx"
		cfg.Embeddings.ModelPath = filepath.Join(root, "model.onnx")
		cfg.Embeddings.TokenizerPath = filepath.Join(root, "tokenizer.json")

		// When: checking the artifacts
		result := New(cfg, root).CheckEmbeddingArtifacts()

		// Then: a warning lists both files, the check is not required
		assert.Equal(t, StatusWarn, result.Status)
		assert.False(t, result.IsCritical())
		assert.Contains(t, result.Message, "2 artifact(s) missing")
		assert.Contains(t, result.Details, "tokenizer.json")
	})

	t.Run("present artifacts pass", func(t *testing.T) {
		cfg, root := newTestConfig(t)
		cfg.Embeddings.Provider = "onnx"
		cfg.Embeddings.ModelPath = filepath.Join(root, "model.onnx")
		cfg.Embeddings.TokenizerPath = filepath.Join(root, "tokenizer.json")
		require.NoError(t, os.WriteFile(cfg.Embeddings.ModelPath, []byte("x"), 0o644))
		require.NoError(t, os.WriteFile(cfg.Embeddings.TokenizerPath, []byte("{}"), 0o644))

		result := New(cfg, root).CheckEmbeddingArtifacts()

		assert.Equal(t, StatusPass, result.Status)
		assert.Equal(t, cfg.Embeddings.ModelPath, result.Message)
	})
}

func TestCheckVault(t *testing.T) {
	cfg, root := newTestConfig(t)
	c := New(cfg, root)

	assert.Equal(t, StatusWarn, c.CheckVault().Status)

	cfg.Project.ObsidianPath = filepath.Join(root, "missing")
	assert.Equal(t, StatusWarn, c.CheckVault().Status)

	cfg.Project.ObsidianPath = root
	assert.Equal(t, StatusPass, c.CheckVault().Status)
}

func TestCheckStore(t *testing.T) {
	t.Run("unreachable store is critical", func(t *testing.T) {
		cfg, root := newTestConfig(t)
		c := New(cfg, root, WithStore(fakeProber{err: errors.New("connection refused")}))

		result := c.CheckStore(context.Background())

		assert.True(t, result.IsCritical())
		assert.Equal(t, "connection refused", result.Details)
	})

	t.Run("missing collection passes with hint", func(t *testing.T) {
		cfg, root := newTestConfig(t)
		c := New(cfg, root, WithStore(fakeProber{}))

		result := c.CheckStore(context.Background())

		assert.Equal(t, StatusPass, result.Status)
		assert.Contains(t, result.Message, "run nexus index")
	})
}

func TestCheckSprint(t *testing.T) {
	cfg, root := newTestConfig(t)

	none := New(cfg, root, WithSprints(fakeSprints{})).CheckSprint(context.Background())
	assert.Equal(t, StatusPass, none.Status)
	assert.Equal(t, "no active sprint", none.Message)

	active := New(cfg, root, WithSprints(fakeSprints{loc: &sprint.Location{SprintID: "sprint-3"}})).CheckSprint(context.Background())
	assert.Equal(t, "sprint-3", active.Message)

	missing := New(cfg, root, WithSprints(fakeSprints{err: errors.New("sprint folder for sprint-4 not found")})).CheckSprint(context.Background())
	assert.Equal(t, StatusWarn, missing.Status)
}

func TestRunAll_IncludesOptionalChecks(t *testing.T) {
	// Given: a checker with a store and a sprint source
	cfg, root := newTestConfig(t)
	c := New(cfg, root, WithStore(fakeProber{exists: true}), WithSprints(fakeSprints{}))

	// When: running every check
	results := c.RunAll(context.Background())

	// Then: each check reports once, in order
	var names []string
	for _, r := range results {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{
		"disk_space", "file_descriptors", "write_permissions",
		"embedding_model", "vault", "vector_store", "active_sprint",
	}, names)
}

func TestPrintResults(t *testing.T) {
	cfg, root := newTestConfig(t)
	var buf bytes.Buffer
	c := New(cfg, root, WithOutput(&buf))

	c.PrintResults([]CheckResult{
		{Name: "disk_space", Status: StatusPass, Message: "5.0 GB free", Details: "hidden"},
		{Name: "vault", Status: StatusWarn, Message: "not set", Details: "shown"},
	})

	out := buf.String()
	assert.Contains(t, out, "nexus doctor: demo")
	assert.Contains(t, out, "[PASS] disk_space: 5.0 GB free")
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "       shown")
	assert.Contains(t, out, "Status: READY_WITH_WARNINGS")
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KB", formatBytes(1536))
	assert.Equal(t, "100.0 MB", formatBytes(MinDiskSpaceBytes))
	assert.Equal(t, "2.0 GB", formatBytes(2*1024*1024*1024))
}
