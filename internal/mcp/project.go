package mcp

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ProjectDetector derives a project id and type from common manifest files.
type ProjectDetector struct {
	rootPath string
	logger   *slog.Logger
}

// NewProjectDetector creates a new project detector.
func NewProjectDetector(rootPath string, logger *slog.Logger) *ProjectDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProjectDetector{rootPath: rootPath, logger: logger}
}

var (
	tomlNameRegex   = regexp.MustCompile(`^\s*name\s*=\s*["']([^"']+)["']`)
	goModuleRegex   = regexp.MustCompile(`^module\s+(.+)$`)
	invalidIDRunes  = regexp.MustCompile(`[^a-z0-9_-]+`)
	repeatedHyphens = regexp.MustCompile(`-{2,}`)
)

// Detect returns project information for the root directory.
// Detection order: Cargo.toml -> go.mod -> package.json -> directory name.
func (d *ProjectDetector) Detect() *ProjectInfo {
	info := &ProjectInfo{
		RootPath: d.rootPath,
		ID:       Slug(filepath.Base(d.rootPath)),
		Type:     "unknown",
	}

	detectors := []struct {
		kind string
		fn   func() string
	}{
		{"rust", d.detectCargo},
		{"go", d.detectGoMod},
		{"node", d.detectPackageJSON},
	}
	for _, det := range detectors {
		if name := det.fn(); name != "" {
			info.ID = Slug(name)
			info.Type = det.kind
			d.logger.Debug("project_detected", slog.String("id", info.ID), slog.String("type", info.Type))
			return info
		}
	}
	return info
}

// Slug lowercases name and replaces anything outside [a-z0-9_-] with a hyphen.
func Slug(name string) string {
	s := invalidIDRunes.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
	s = repeatedHyphens.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// detectCargo reads name from the [package] table of Cargo.toml.
func (d *ProjectDetector) detectCargo() string {
	file, err := os.Open(filepath.Join(d.rootPath, "Cargo.toml"))
	if err != nil {
		return ""
	}
	defer func() { _ = file.Close() }()

	scanner := bufio.NewScanner(file)
	inPackage := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "[") {
			inPackage = line == "[package]"
			continue
		}
		if inPackage {
			if m := tomlNameRegex.FindStringSubmatch(line); len(m) > 1 {
				return m[1]
			}
		}
	}
	return ""
}

// detectGoMod returns the last segment of the module path.
func (d *ProjectDetector) detectGoMod() string {
	file, err := os.Open(filepath.Join(d.rootPath, "go.mod"))
	if err != nil {
		return ""
	}
	defer func() { _ = file.Close() }()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if m := goModuleRegex.FindStringSubmatch(strings.TrimSpace(scanner.Text())); len(m) > 1 {
			return filepath.Base(m[1])
		}
	}
	return ""
}

// detectPackageJSON returns the package name without its scope.
func (d *ProjectDetector) detectPackageJSON() string {
	data, err := os.ReadFile(filepath.Join(d.rootPath, "package.json"))
	if err != nil {
		return ""
	}

	var pkg struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return ""
	}

	name := pkg.Name
	if strings.HasPrefix(name, "@") {
		if parts := strings.Split(name, "/"); len(parts) > 1 {
			name = parts[len(parts)-1]
		}
	}
	return name
}
