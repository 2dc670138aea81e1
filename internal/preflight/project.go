package preflight

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

// storeTimeout bounds the store reachability check.
const storeTimeout = 5 * time.Second

// CheckEmbeddingArtifacts checks the model, tokenizer and runtime library
// of the ONNX provider. Missing artifacts are a warning: the core runs
// without semantic retrieval.
func (c *Checker) CheckEmbeddingArtifacts() CheckResult {
	result := CheckResult{Name: "embedding_model"}
	e := c.cfg.Embeddings

	if strings.EqualFold(e.Provider, "static") {
		result.Status = StatusPass
		result.Message = fmt.Sprintf("static provider (%d dims)", e.Dimensions)
		return result
	}

	var missing []string
	for _, path := range []string{e.ModelPath, e.TokenizerPath, e.RuntimeLibrary} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			missing = append(missing, path)
		}
	}
	if len(missing) > 0 {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%d artifact(s) missing, semantic retrieval disabled", len(missing))
		result.Details = "Missing: " + strings.Join(missing, ", ") + " (or set embeddings.provider: static)"
		return result
	}

	result.Status = StatusPass
	result.Message = e.ModelPath
	if e.RuntimeLibrary == "" {
		result.Details = "ONNX Runtime library resolved from the default search path"
	}
	return result
}

// CheckVault checks the Obsidian project folder.
func (c *Checker) CheckVault() CheckResult {
	result := CheckResult{Name: "vault"}
	vault := c.cfg.Project.ObsidianPath

	if vault == "" {
		result.Status = StatusWarn
		result.Message = "project.obsidian_path not set, only the repository is indexed"
		return result
	}
	info, err := os.Stat(vault)
	if err != nil || !info.IsDir() {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%s is not a directory", vault)
		return result
	}
	result.Status = StatusPass
	result.Message = vault
	return result
}

// CheckStore checks that the vector store answers.
func (c *Checker) CheckStore(ctx context.Context) CheckResult {
	result := CheckResult{Name: "vector_store", Required: true}
	collection := c.cfg.Store.Collection

	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	exists, err := c.store.CollectionExists(ctx, collection)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("%s store unreachable", c.cfg.Store.Backend)
		result.Details = err.Error()
		return result
	}

	result.Status = StatusPass
	if exists {
		result.Message = fmt.Sprintf("%s: collection %s", c.cfg.Store.Backend, collection)
	} else {
		result.Message = fmt.Sprintf("%s: collection %s not created yet (run nexus index)", c.cfg.Store.Backend, collection)
	}
	return result
}

// CheckSprint checks that the configured active sprint resolves to a folder.
func (c *Checker) CheckSprint(ctx context.Context) CheckResult {
	result := CheckResult{Name: "active_sprint"}

	loc, err := c.sprints.Active(ctx)
	switch {
	case err != nil:
		result.Status = StatusWarn
		result.Message = "sprint folder not found"
		result.Details = err.Error()
	case loc == nil:
		result.Status = StatusPass
		result.Message = "no active sprint"
	default:
		result.Status = StatusPass
		result.Message = loc.SprintID
	}
	return result
}
