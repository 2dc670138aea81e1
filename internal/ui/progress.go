package ui

import (
	"sync"
	"time"
)

// etaSmoothing is the weight of a new ETA sample against the previous one.
const etaSmoothing = 0.3

// ProgressTracker holds the state shown by the TUI. It is safe for
// concurrent use.
type ProgressTracker struct {
	mu          sync.Mutex
	stage       Stage
	current     int
	total       int
	currentFile string
	stageStart  time.Time
	lastETA     time.Duration
	errors      int
	warnings    int
	now         func() time.Time
}

// ProgressStats is a snapshot of a tracker.
type ProgressStats struct {
	Stage       Stage
	Current     int
	Total       int
	Progress    float64
	ETA         time.Duration
	CurrentFile string
	ErrorCount  int
	WarnCount   int
}

// NewProgressTracker creates a tracker in the scanning stage.
func NewProgressTracker() *ProgressTracker {
	return newProgressTracker(time.Now)
}

func newProgressTracker(now func() time.Time) *ProgressTracker {
	return &ProgressTracker{stage: StageScanning, stageStart: now(), now: now}
}

// SetStage moves to stage with total items and resets progress.
func (p *ProgressTracker) SetStage(stage Stage, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stage = stage
	p.total = total
	p.current = 0
	p.currentFile = ""
	p.stageStart = p.now()
	p.lastETA = 0
}

// Update records progress within the current stage.
func (p *ProgressTracker) Update(current int, file string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = current
	if file != "" {
		p.currentFile = file
	}
}

// AddError counts an error or warning.
func (p *ProgressTracker) AddError(event ErrorEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if event.IsWarn {
		p.warnings++
	} else {
		p.errors++
	}
}

// Stats returns a snapshot. It advances the ETA smoothing.
func (p *ProgressTracker) Stats() ProgressStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return ProgressStats{
		Stage:       p.stage,
		Current:     p.current,
		Total:       p.total,
		Progress:    p.progress(),
		ETA:         p.eta(),
		CurrentFile: p.currentFile,
		ErrorCount:  p.errors,
		WarnCount:   p.warnings,
	}
}

func (p *ProgressTracker) progress() float64 {
	if p.total <= 0 {
		return 0
	}
	return min(float64(p.current)/float64(p.total), 1.0)
}

// eta extrapolates the stage's elapsed time, smoothed exponentially.
// Must be called with the lock held.
func (p *ProgressTracker) eta() time.Duration {
	progress := p.progress()
	if progress <= 0 || progress >= 1 {
		return 0
	}

	elapsed := p.now().Sub(p.stageStart)
	remaining := time.Duration(float64(elapsed)/progress) - elapsed
	if remaining < 0 {
		return 0
	}
	if p.lastETA == 0 {
		p.lastETA = remaining
		return remaining
	}
	p.lastETA = time.Duration(etaSmoothing*float64(remaining) + (1-etaSmoothing)*float64(p.lastETA))
	return p.lastETA
}
