package index

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Layer is the knowledge layer a file belongs to.
type Layer string

const (
	LayerProjectArchitecture Layer = "project_architecture"
	LayerSprintMemory        Layer = "sprint_memory"
	LayerSourceCode          Layer = "source_code"
	LayerGlobalStandard      Layer = "global_standard"
)

// ArchitectureLayers are the layers searched for architecture rules.
var ArchitectureLayers = []Layer{LayerProjectArchitecture, LayerGlobalStandard}

var sprintNumberRegex = regexp.MustCompile(`(?i)sprint-(\d+)`)

// Classify assigns a layer from the path. Rules are checked in order;
// unmatched files are source code. For sprint memory the sprint number
// is parsed from a "sprint-N" path segment, or -1 when absent.
func Classify(path string) (Layer, int) {
	p := filepath.ToSlash(path)

	switch {
	case strings.Contains(p, "/01-PLANNING/"):
		return LayerProjectArchitecture, -1
	case strings.Contains(p, "/00-MANAGEMENT/sprints/"):
		return LayerSprintMemory, sprintNumber(p)
	case strings.Contains(p, "/src/"),
		strings.Contains(p, "/tests/"),
		strings.HasSuffix(p, ".rs"),
		strings.HasSuffix(p, ".toml"),
		strings.HasSuffix(p, ".go"):
		return LayerSourceCode, -1
	case strings.Contains(p, "/global-standards/"):
		return LayerGlobalStandard, -1
	default:
		return LayerSourceCode, -1
	}
}

func sprintNumber(p string) int {
	m := sprintNumberRegex.FindStringSubmatch(p)
	if m == nil {
		return -1
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return -1
	}
	return n
}
