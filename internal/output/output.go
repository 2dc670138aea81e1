// Package output formats the one-shot messages of the nexus CLI.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Writer prints status lines, colored when writing to a terminal.
type Writer struct {
	out      io.Writer
	useColor bool
	success  lipgloss.Style
	warning  lipgloss.Style
	failure  lipgloss.Style
	code     lipgloss.Style
}

// New creates a Writer. Color is enabled for terminals unless NO_COLOR is set.
func New(out io.Writer) *Writer {
	return NewWithColor(out, colorSupported(out))
}

// NewWithColor creates a Writer with color forced on or off.
func NewWithColor(out io.Writer, useColor bool) *Writer {
	w := &Writer{out: out, useColor: useColor}
	if useColor {
		w.success = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
		w.warning = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
		w.failure = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
		w.code = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	}
	return w
}

func colorSupported(out io.Writer) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	f, ok := out.(*os.File)
	return ok && f != nil && isatty.IsTerminal(f.Fd())
}

// Status prints msg after icon, or indented when icon is empty.
// Write errors are ignored for console output.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
	}
}

// Statusf is Status with formatting.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a success message.
func (w *Writer) Success(msg string) {
	w.Status(w.paint(w.success, "✓"), msg)
}

// Successf is Success with formatting.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning message.
func (w *Writer) Warning(msg string) {
	w.Status(w.paint(w.warning, "!"), msg)
}

// Warningf is Warning with formatting.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (w *Writer) Error(msg string) {
	w.Status(w.paint(w.failure, "✗"), msg)
}

// Errorf is Error with formatting.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Code prints content indented between blank lines.
func (w *Writer) Code(content string) {
	_, _ = fmt.Fprintln(w.out)
	for _, line := range strings.Split(content, "\n") {
		_, _ = fmt.Fprintf(w.out, "  %s\n", w.paint(w.code, line))
	}
	_, _ = fmt.Fprintln(w.out)
}

// Text prints content unchanged, adding a trailing newline when missing.
func (w *Writer) Text(content string) {
	_, _ = io.WriteString(w.out, content)
	if !strings.HasSuffix(content, "\n") {
		_, _ = fmt.Fprintln(w.out)
	}
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

func (w *Writer) paint(style lipgloss.Style, s string) string {
	if !w.useColor {
		return s
	}
	return style.Render(s)
}
