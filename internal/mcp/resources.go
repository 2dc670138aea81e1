package mcp

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MaxResourceSize is the maximum file size for resources (1MB).
const MaxResourceSize = 1024 * 1024

// Resource URIs.
const (
	URIArchitecture  = "nexus://architecture"
	URISprintTasks   = "nexus://sprint/tasks"
	URISprintContext = "nexus://sprint/context"
)

// RegisterResources registers the architecture document and the active
// sprint documents. They are resolved on every read, so a sprint switch
// needs no re-registration.
func (s *Server) RegisterResources() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mcp.AddResource(&mcp.Resource{
		Name:        "architecture",
		URI:         URIArchitecture,
		Description: fmt.Sprintf("Project architecture document (%s)", s.config.Project.ArchitectureDoc),
		MIMEType:    "text/markdown",
	}, s.makeResourceHandler(URIArchitecture))

	s.mcp.AddResource(&mcp.Resource{
		Name:        "sprint_tasks",
		URI:         URISprintTasks,
		Description: "Task list of the active sprint",
		MIMEType:    "text/markdown",
	}, s.makeResourceHandler(URISprintTasks))

	s.mcp.AddResource(&mcp.Resource{
		Name:        "sprint_context",
		URI:         URISprintContext,
		Description: "Context notes of the active sprint",
		MIMEType:    "text/markdown",
	}, s.makeResourceHandler(URISprintContext))

	s.logger.Info("mcp_resources_registered", slog.Int("count", 3))
}

func (s *Server) makeResourceHandler(uri string) mcp.ResourceHandler {
	return func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		return s.readResource(ctx, uri)
	}
}

func (s *Server) readResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	path, err := s.resolveResource(ctx, uri)
	if err != nil {
		return nil, MapError(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &MCPError{Code: ErrCodeFileNotFound, Message: fmt.Sprintf("file not found: %s", path)}
		}
		return nil, MapError(err)
	}
	if info.Size() > MaxResourceSize {
		return nil, &MCPError{
			Code:    ErrCodeFileTooLarge,
			Message: fmt.Sprintf("file too large: %s (max %s)", humanSize(info.Size()), humanSize(MaxResourceSize)),
		}
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, MapError(err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: MimeTypeForPath(path),
			Text:     string(content),
		}},
	}, nil
}

func (s *Server) resolveResource(ctx context.Context, uri string) (string, error) {
	switch uri {
	case URIArchitecture:
		return s.findArchitectureDoc()
	case URISprintTasks, URISprintContext:
		if s.sprints == nil {
			return "", ErrNoActiveSprint
		}
		loc, err := s.sprints.Active(ctx)
		if err != nil {
			return "", err
		}
		if loc == nil {
			return "", ErrNoActiveSprint
		}
		if uri == URISprintTasks {
			return loc.TasksPath, nil
		}
		return loc.ContextPath, nil
	default:
		return "", NewResourceNotFoundError(uri)
	}
}

// findArchitectureDoc searches the vault folder, then the repository, for
// the first file named like the architecture document.
func (s *Server) findArchitectureDoc() (string, error) {
	name := s.config.Project.ArchitectureDoc
	for _, root := range []string{s.config.Project.ObsidianPath, s.rootPath} {
		if root == "" || name == "" {
			continue
		}
		var found string
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if path != root && isHiddenDir(d.Name()) {
					return filepath.SkipDir
				}
				return nil
			}
			if d.Name() == name {
				found = path
				return fs.SkipAll
			}
			return nil
		})
		if found != "" {
			return found, nil
		}
	}
	return "", NewResourceNotFoundError(URIArchitecture)
}

func isHiddenDir(name string) bool {
	return len(name) > 1 && name[0] == '.'
}

// humanSize formats bytes as a human-readable string.
func humanSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
	)

	switch {
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
