package mcp

import (
	"fmt"
	"strings"
	"time"

	"github.com/nullvektordom/nexus-cli-sub000/internal/assembler"
	"github.com/nullvektordom/nexus-cli-sub000/internal/ledger"
)

// maxContentChars truncates snippet content in markdown listings.
const maxContentChars = 1500

// FormatSnippets formats search results as markdown.
func FormatSnippets(query string, snippets []assembler.Snippet) string {
	if len(snippets) == 0 {
		return fmt.Sprintf("No architecture references found for \"%s\"", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Architecture References for \"%s\"\n\n", query)
	sb.WriteString(pluralize(len(snippets), "result"))
	sb.WriteString("\n\n")

	for i, s := range snippets {
		fmt.Fprintf(&sb, "### %d. %s", i+1, s.FileName())
		if s.ChunkIndex >= 0 {
			fmt.Fprintf(&sb, " (chunk %d)", s.ChunkIndex)
		}
		fmt.Fprintf(&sb, "\n\n`%s` | score %.2f", s.FilePath, s.Score)
		if s.Layer != "" {
			fmt.Fprintf(&sb, " | %s", s.Layer)
		}
		sb.WriteString("\n\n")
		sb.WriteString(truncate(s.Content, maxContentChars))
		sb.WriteString("\n\n")
	}
	return sb.String()
}

// FormatDecisions formats recalled decisions as markdown.
func FormatDecisions(query string, decisions []ledger.Decision) string {
	if len(decisions) == 0 {
		return fmt.Sprintf("No recorded decisions match \"%s\"", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Decisions about \"%s\"\n\n", query)
	for _, d := range decisions {
		fmt.Fprintf(&sb, "- **%s** (%s): %s\n",
			d.RecordedAt.UTC().Format(time.DateOnly), shortID(d.ID), d.Content)
	}
	return sb.String()
}

func pluralize(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("Found 1 %s", noun)
	}
	return fmt.Sprintf("Found %d %ss", n, noun)
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func toSnippetOutputs(snippets []assembler.Snippet) []SnippetOutput {
	out := make([]SnippetOutput, 0, len(snippets))
	for _, s := range snippets {
		out = append(out, SnippetOutput{
			FilePath:   s.FilePath,
			ChunkIndex: s.ChunkIndex,
			Layer:      s.Layer,
			Score:      float64(s.Score),
			Content:    s.Content,
		})
	}
	return out
}

func toDecisionOutputs(decisions []ledger.Decision) []DecisionOutput {
	out := make([]DecisionOutput, 0, len(decisions))
	for _, d := range decisions {
		out = append(out, toDecisionOutput(d))
	}
	return out
}

func toDecisionOutput(d ledger.Decision) DecisionOutput {
	return DecisionOutput{
		ID:         d.ID,
		ProjectID:  d.ProjectID,
		Content:    d.Content,
		RecordedAt: d.RecordedAt.UTC().Format(time.RFC3339),
		Score:      float64(d.Score),
	}
}
