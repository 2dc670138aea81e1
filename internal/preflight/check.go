package preflight

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/nullvektordom/nexus-cli-sub000/internal/config"
	"github.com/nullvektordom/nexus-cli-sub000/internal/sprint"
)

// CheckStatus is the outcome of one check.
type CheckStatus int

const (
	StatusPass CheckStatus = iota
	StatusWarn
	StatusFail
)

func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the status by name in JSON output.
func (s CheckStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CheckResult is the result of a single check.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical reports whether a required check failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// StoreProber is the part of store.VectorStore the store check needs.
type StoreProber interface {
	CollectionExists(ctx context.Context, name string) (bool, error)
}

// Checker runs the checks for one project.
type Checker struct {
	cfg     *config.Config
	root    string
	store   StoreProber
	sprints sprint.Source
	verbose bool
	output  io.Writer
}

// Option configures a Checker.
type Option func(*Checker)

// WithStore enables the vector store check.
func WithStore(s StoreProber) Option {
	return func(c *Checker) { c.store = s }
}

// WithSprints enables the active sprint check.
func WithSprints(s sprint.Source) Option {
	return func(c *Checker) { c.sprints = s }
}

// WithVerbose prints check details.
func WithVerbose(verbose bool) Option {
	return func(c *Checker) { c.verbose = verbose }
}

// WithOutput sets where PrintResults writes.
func WithOutput(w io.Writer) Option {
	return func(c *Checker) { c.output = w }
}

// New creates a Checker for the project at root.
func New(cfg *config.Config, root string, opts ...Option) *Checker {
	c := &Checker{cfg: cfg, root: root, output: os.Stdout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunAll runs every check in a fixed order.
func (c *Checker) RunAll(ctx context.Context) []CheckResult {
	results := []CheckResult{
		c.CheckDiskSpace(c.root),
		c.CheckFileDescriptors(),
		c.CheckWritePermissions(),
		c.CheckEmbeddingArtifacts(),
		c.CheckVault(),
	}
	if c.store != nil {
		results = append(results, c.CheckStore(ctx))
	}
	if c.sprints != nil {
		results = append(results, c.CheckSprint(ctx))
	}
	return results
}

// HasCriticalFailures reports whether any required check failed.
func (c *Checker) HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// SummaryStatus is "failed", "ready_with_warnings" or "ready".
func (c *Checker) SummaryStatus(results []CheckResult) string {
	warnings := false
	for _, r := range results {
		if r.IsCritical() {
			return "failed"
		}
		if r.Status != StatusPass {
			warnings = true
		}
	}
	if warnings {
		return "ready_with_warnings"
	}
	return "ready"
}

// PrintResults writes one line per check and the summary.
func (c *Checker) PrintResults(results []CheckResult) {
	p := func(format string, args ...any) { _, _ = fmt.Fprintf(c.output, format, args...) }

	p("nexus doctor: %s\n\n", c.cfg.Project.ID)
	for _, r := range results {
		p("[%s] %s: %s\n", r.Status, r.Name, r.Message)
		if r.Details != "" && (c.verbose || r.Status != StatusPass) {
			p("       %s\n", r.Details)
		}
	}
	p("\nStatus: %s\n", strings.ToUpper(c.SummaryStatus(results)))
}
