package ui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// quitTimeout bounds how long Stop waits for the program to exit.
const quitTimeout = 2 * time.Second

// TUIRenderer draws an index run with bubbletea.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *indexingModel
	tracker *ProgressTracker
	cancel  context.CancelFunc
	started bool
	done    chan struct{}
}

// NewTUIRenderer creates a TUI renderer. It fails when the output is not
// a terminal.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, errors.New("output is not a TTY")
	}

	tracker := NewProgressTracker()
	model := newIndexingModel(tracker, cfg.ProjectID, cfg.NoColor || DetectNoColor())

	return &TUIRenderer{
		cfg:     cfg,
		tracker: tracker,
		model:   model,
		done:    make(chan struct{}),
	}, nil
}

// Start implements Renderer.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}

	ctx, r.cancel = context.WithCancel(ctx)
	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}

	r.program = tea.NewProgram(r.model, opts...)
	r.started = true

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

// UpdateProgress implements Renderer.
func (r *TUIRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if event.Stage != r.tracker.Stats().Stage {
		r.tracker.SetStage(event.Stage, event.Total)
	}
	r.tracker.Update(event.Current, event.CurrentFile)

	if r.program != nil {
		r.program.Send(progressUpdateMsg(event))
	}
}

// AddError implements Renderer.
func (r *TUIRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracker.AddError(event)
	if r.program != nil {
		r.program.Send(errorMsg(event))
	}
}

// Complete implements Renderer.
func (r *TUIRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracker.SetStage(StageComplete, 0)
	if r.program != nil {
		r.program.Send(completeMsg(stats))
	}
}

// Stop implements Renderer.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	program, cancel := r.program, r.cancel
	completed := r.tracker.Stats().Stage == StageComplete
	r.mu.Unlock()

	if program == nil {
		return nil
	}
	if !completed {
		program.Quit()
	}

	// A completed model quits by itself once the summary is drawn.
	select {
	case <-r.done:
	case <-time.After(quitTimeout):
		program.Kill()
	}
	cancel()
	return nil
}

type (
	progressUpdateMsg ProgressEvent
	errorMsg          ErrorEvent
	completeMsg       CompletionStats
	tickMsg           time.Time
)

// indexingModel is the bubbletea model of an index run.
type indexingModel struct {
	tracker     *ProgressTracker
	width       int
	quitting    bool
	complete    bool
	stats       CompletionStats
	spinner     spinner.Model
	progressBar progress.Model
	styles      Styles
	projectID   string
}

func newIndexingModel(tracker *ProgressTracker, projectID string, noColor bool) *indexingModel {
	s := spinner.New()
	s.Spinner = spinner.Dot

	fill := ColorGray
	if !noColor {
		fill = ColorAccent
		s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAccent))
	}

	return &indexingModel{
		tracker:     tracker,
		width:       80,
		spinner:     s,
		progressBar: progress.New(progress.WithSolidFill(fill), progress.WithWidth(40), progress.WithoutPercentage()),
		styles:      GetStyles(noColor),
		projectID:   projectID,
	}
}

// Init implements tea.Model.
func (m *indexingModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m *indexingModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progressBar.Width = max(msg.Width-20, 20)

	case completeMsg:
		m.complete = true
		m.stats = CompletionStats(msg)
		return m, tea.Quit

	case tickMsg:
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	// progressUpdateMsg and errorMsg only trigger a redraw; the tracker
	// already holds the state.
	return m, nil
}

// View implements tea.Model.
func (m *indexingModel) View() string {
	if m.quitting {
		return "Cancelled.\n"
	}
	if m.complete {
		return m.renderComplete()
	}

	width := max(m.width-4, 40)
	stats := m.tracker.Stats()

	sections := []string{
		m.renderStages(stats.Stage),
		m.styles.Border.Render(strings.Repeat("─", width)),
		m.renderProgress(stats),
	}
	if stats.CurrentFile != "" {
		sections = append(sections, m.styles.Dim.Render(truncateFilePath(stats.CurrentFile, width-2)))
	}

	title := "nexus index"
	if m.projectID != "" {
		title += " • " + m.projectID
	}

	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorDarkGray)).
		Padding(0, 1).
		Width(width)

	return lipgloss.JoinVertical(lipgloss.Left,
		m.styles.Header.Render(title),
		panel.Render(strings.Join(sections, "\n")),
	) + "\n" + m.renderStatusBar(stats)
}

func (m *indexingModel) renderStages(current Stage) string {
	stages := []struct {
		stage Stage
		name  string
	}{
		{StageScanning, "Scan"},
		{StageIndexing, "Index"},
		{StagePruning, "Prune"},
	}

	parts := make([]string, 0, len(stages))
	for _, s := range stages {
		switch {
		case s.stage < current:
			parts = append(parts, m.styles.Success.Render("● "+s.name))
		case s.stage == current:
			parts = append(parts, m.styles.Active.Render(m.spinner.View()+" "+s.name))
		default:
			parts = append(parts, m.styles.Dim.Render("○ "+s.name))
		}
	}
	return strings.Join(parts, m.styles.Dim.Render(" → "))
}

func (m *indexingModel) renderProgress(stats ProgressStats) string {
	if stats.Total == 0 {
		return fmt.Sprintf("%s %s...", m.spinner.View(), stats.Stage)
	}

	line := fmt.Sprintf("%s  %s", m.progressBar.ViewAs(stats.Progress),
		m.styles.Active.Render(fmt.Sprintf("%3.0f%%", stats.Progress*100)))
	count := fmt.Sprintf("%d / %d files", stats.Current, stats.Total)
	if stats.ETA > 0 {
		count += "  •  ETA " + formatDuration(stats.ETA)
	}
	return line + "\n" + m.styles.Label.Render(count)
}

func (m *indexingModel) renderStatusBar(stats ProgressStats) string {
	var parts []string
	if stats.WarnCount > 0 {
		parts = append(parts, m.styles.Warning.Render(fmt.Sprintf("⚠ %d warnings", stats.WarnCount)))
	}
	if stats.ErrorCount > 0 {
		parts = append(parts, m.styles.Error.Render(fmt.Sprintf("✗ %d errors", stats.ErrorCount)))
	}
	parts = append(parts, m.styles.Dim.Render("q to quit"))
	return strings.Join(parts, m.styles.Dim.Render("  │  "))
}

func (m *indexingModel) renderComplete() string {
	s := m.stats
	row := func(label string, value any) string {
		return fmt.Sprintf("%s %s", m.styles.Label.Render(fmt.Sprintf("%-10s", label)), m.styles.Active.Render(fmt.Sprint(value)))
	}

	lines := []string{
		m.styles.Success.Render("✓ Indexing complete"),
		"",
		row("Files:", s.Files),
		row("Indexed:", s.Indexed),
		row("Unchanged:", s.Unchanged),
		row("Chunks:", s.Chunks),
		row("Duration:", formatDuration(s.Duration)),
	}
	if s.Pruned > 0 {
		lines = append(lines, row("Pruned:", s.Pruned))
	}
	if s.Embedder.Provider != "" {
		lines = append(lines, row("Embedder:", fmt.Sprintf("%s (%s, %d dims)", s.Embedder.Provider, s.Embedder.Model, s.Embedder.Dimensions)))
	}
	if s.Skipped > 0 {
		lines = append(lines, "", m.styles.Warning.Render(fmt.Sprintf("⚠ %d skipped", s.Skipped)))
	}
	if s.Failed > 0 {
		lines = append(lines, m.styles.Error.Render(fmt.Sprintf("✗ %d failed", s.Failed)))
	}

	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorGreen)).
		Padding(1, 2).
		Width(max(m.width-4, 40))
	return panel.Render(strings.Join(lines, "\n")) + "\n"
}

// formatDuration renders d as "42s", "3m 5s" or "1h 2m".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		m, s := int(d.Minutes()), int(d.Seconds())%60
		if s == 0 {
			return fmt.Sprintf("%dm", m)
		}
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

// truncateFilePath shortens path to maxLen, keeping the file name.
func truncateFilePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	if maxLen < 4 {
		return "..."
	}

	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "..." + path[len(path)-maxLen+3:]
	}
	filename := path[idx+1:]
	if len(filename)+4 > maxLen {
		return "..." + filename[len(filename)-maxLen+3:]
	}

	prefix := path[:idx]
	remaining := maxLen - len(filename) - 4
	if remaining <= 0 {
		return ".../" + filename
	}
	return "..." + prefix[len(prefix)-remaining:] + "/" + filename
}

var _ Renderer = (*TUIRenderer)(nil)
