package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"redkey/internal/catalog"
	"redkey/internal/migration"
)

// ProgressBar tracks migration steps across all tables of a run
type ProgressBar struct {
	w         io.Writer
	total     int
	current   int
	startTime time.Time
	mu        sync.Mutex
	label     string
}

// NewProgressBar creates a progress bar for the purge plus steps per table,
// as listed by migration.Config.Steps
func NewProgressBar(w io.Writer, tables, steps int) *ProgressBar {
	return &ProgressBar{
		w:         w,
		total:     1 + tables*steps,
		startTime: time.Now(),
	}
}

// Step records one completed step. It matches migration.Config.Progress.
func (p *ProgressBar) Step(table catalog.QualifiedName, step migration.Step) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current++
	if p.current > p.total {
		p.current = p.total
	}
	p.label = string(step)
	if table.Table != "" {
		p.label = table.String() + " " + p.label
	}

	p.render()
}

// Finish completes the progress bar
func (p *ProgressBar) Finish(success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	elapsed := time.Since(p.startTime)
	if success {
		fmt.Fprintf(p.w, "\n%s Migration completed in %s\n", ColorSuccess("✓"), formatDuration(elapsed))
	} else {
		fmt.Fprintf(p.w, "\n%s Migration stopped after %s\n", ColorError("✗"), formatDuration(elapsed))
	}
}

func (p *ProgressBar) render() {
	percentage := float64(p.current) / float64(p.total) * 100

	barWidth := 30
	filled := int(percentage / 100 * float64(barWidth))
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	label := p.label
	if len(label) > 50 {
		label = "..." + label[len(label)-47:]
	}

	line := fmt.Sprintf("%s %s %.0f%% [%d/%d] %s - %s",
		ColorProgress("►"),
		bar,
		percentage,
		p.current,
		p.total,
		label,
		formatDuration(time.Since(p.startTime)),
	)

	// redraw in place on terminals, one line per step otherwise
	if supportsColor {
		fmt.Fprint(p.w, "\r\033[K"+line)
	} else {
		fmt.Fprintln(p.w, line)
	}
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		minutes := int(d.Minutes())
		seconds := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", hours, minutes)
}
