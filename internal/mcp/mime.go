package mcp

import (
	"path/filepath"
	"strings"
)

// mimeTypes covers the extensions the watcher indexes by default.
var mimeTypes = map[string]string{
	".go":   "text/x-go",
	".rs":   "text/x-rust",
	".toml": "text/x-toml",
	".md":   "text/markdown",
	".txt":  "text/plain",
	".json": "application/json",
	".yaml": "text/x-yaml",
	".yml":  "text/x-yaml",
}

// MimeTypeForPath returns the MIME type for a file path, "text/plain" when unknown.
func MimeTypeForPath(path string) string {
	if mime, ok := mimeTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return mime
	}
	return "text/plain"
}
