package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// StatusInfo is what `nexus status` reports.
type StatusInfo struct {
	ProjectID   string    `json:"project_id"`
	RepoPath    string    `json:"repo_path"`
	VaultPath   string    `json:"vault_path,omitempty"`
	TotalFiles  int       `json:"total_files"`
	TotalChunks int       `json:"total_chunks"`
	LastIndexed time.Time `json:"last_indexed"`

	StoreBackend string `json:"store_backend"`
	StoreStatus  string `json:"store_status"` // "ready", "offline"
	StoreError   string `json:"store_error,omitempty"`
	Collection   string `json:"collection"`
	Points       uint64 `json:"points"`

	EmbedderProvider   string `json:"embedder_provider"`
	EmbedderModel      string `json:"embedder_model,omitempty"`
	EmbedderDimensions int    `json:"embedder_dimensions"`
	EmbedderStatus     string `json:"embedder_status"` // "ready", "offline"

	Sprint string `json:"sprint,omitempty"`
}

// StatusRenderer displays StatusInfo.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
	now    func() time.Time
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{out: out, styles: GetStyles(noColor), now: time.Now}
}

// Render writes info as an aligned report.
func (r *StatusRenderer) Render(info StatusInfo) error {
	p := func(format string, args ...any) { _, _ = fmt.Fprintf(r.out, format, args...) }

	p("%s\n\n", r.styles.Header.Render("nexus status: "+info.ProjectID))

	p("  Repository:   %s\n", info.RepoPath)
	if info.VaultPath != "" {
		p("  Vault:        %s\n", info.VaultPath)
	}
	sprint := info.Sprint
	if sprint == "" {
		sprint = "none"
	}
	p("  Sprint:       %s\n\n", sprint)

	p("  Index:\n")
	p("    Files:        %d\n", info.TotalFiles)
	p("    Chunks:       %d\n", info.TotalChunks)
	if !info.LastIndexed.IsZero() {
		p("    Last indexed: %s\n", formatTime(info.LastIndexed, r.now()))
	}
	p("\n")

	p("  Store:\n")
	p("    Backend:    %s\n", info.StoreBackend)
	p("    Status:     %s\n", r.renderStatus(info.StoreStatus))
	p("    Collection: %s (%d points)\n", info.Collection, info.Points)
	if info.StoreError != "" {
		p("    Error:      %s\n", r.styles.Error.Render(info.StoreError))
	}
	p("\n")

	p("  Embedder:\n")
	p("    Provider: %s\n", info.EmbedderProvider)
	p("    Status:   %s\n", r.renderStatus(info.EmbedderStatus))
	if info.EmbedderModel != "" {
		p("    Model:    %s (%d dims)\n", info.EmbedderModel, info.EmbedderDimensions)
	}
	return nil
}

// RenderJSON writes info as indented JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(info)
}

func (r *StatusRenderer) renderStatus(status string) string {
	switch status {
	case "ready", "running":
		return r.styles.Success.Render(status)
	case "offline", "stopped":
		return r.styles.Warning.Render(status)
	case "error":
		return r.styles.Error.Render(status)
	default:
		return status
	}
}

// formatTime renders t relative to now for the last week, absolute after.
func formatTime(t, now time.Time) string {
	diff := now.Sub(t)
	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute") + " ago"
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour") + " ago"
	case diff < 7*24*time.Hour:
		return plural(int(diff.Hours()/24), "day") + " ago"
	default:
		return t.Format("2006-01-02 15:04")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
