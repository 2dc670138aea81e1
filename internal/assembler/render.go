package assembler

import (
	"fmt"
	"strings"
)

// Section headers of a rendered context.
const (
	HeaderArchitecture = "[SYSTEM ARCHITECTURE RULES]"
	HeaderSprint       = "[CURRENT SPRINT STATE]"
	HeaderRequest      = "[USER REQUEST]"
)

// Render formats c as architecture references (if any), sprint state (if
// any) and the user request, in that order.
func Render(c *AssembledContext) string {
	var b strings.Builder

	if len(c.Snippets) > 0 {
		b.WriteString(HeaderArchitecture + "\n")
		for i, s := range c.Snippets {
			fmt.Fprintf(&b, "\n--- Architecture Reference %d ---\n", i+1)
			fmt.Fprintf(&b, "From %s:\n%s\n", s.FileName(), s.Content)
		}
		b.WriteString("\n")
	}

	if c.Sprint != nil {
		b.WriteString(HeaderSprint + "\n")
		fmt.Fprintf(&b, "Sprint: %s\n\n", c.Sprint.SprintID)
		fmt.Fprintf(&b, "Unfinished Tasks:\n%s\n\n", c.Sprint.UnfinishedTasks)
		fmt.Fprintf(&b, "Sprint Context:\n%s\n\n", c.Sprint.Context)
	}

	b.WriteString(HeaderRequest + "\n")
	b.WriteString(c.Request)
	b.WriteString("\n")
	return b.String()
}
