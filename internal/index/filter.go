package index

import (
	"os"
	"path/filepath"
	"strings"
)

// PathFilter decides which files are indexed and which directories are
// skipped while walking or watching.
type PathFilter struct {
	extensions map[string]bool
	ignore     []string
}

// NewPathFilter builds a filter from an extension allow list (with or
// without the leading dot) and ignore patterns. A pattern matches a
// directory or file base name, either literally or as a filepath.Match glob.
func NewPathFilter(extensions, ignore []string) *PathFilter {
	exts := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
		if e != "" {
			exts[e] = true
		}
	}
	return &PathFilter{extensions: exts, ignore: ignore}
}

// AllowedFile reports whether path has an allowed extension and an
// unignored base name. Ignored directories are handled by SkipDir.
func (f *PathFilter) AllowedFile(path string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if !f.extensions[ext] {
		return false
	}
	return !f.matches(filepath.Base(path))
}

// SkipDir reports whether a directory with this base name is not descended into.
func (f *PathFilter) SkipDir(name string) bool {
	return f.matches(name)
}

func (f *PathFilter) matches(name string) bool {
	for _, pattern := range f.ignore {
		if pattern == name {
			return true
		}
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// MachineID identifies this host in point payloads.
func MachineID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "unknown"
	}
	return host
}
