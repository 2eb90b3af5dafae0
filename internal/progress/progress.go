// Package progress renders a one-line probe progress bar on stderr.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"
)

// Display tracks probe progress and redraws a status line.
type Display struct {
	mu      sync.Mutex
	out     io.Writer
	started bool
	stopped bool

	total  atomic.Int64
	done   atomic.Int64
	errors atomic.Int64

	startTime time.Time
	target    string
	lastLine  string
}

// New creates a display writing to stderr.
func New() *Display {
	return NewWithWriter(os.Stderr)
}

// NewWithWriter creates a display writing to w.
func NewWithWriter(w io.Writer) *Display {
	return &Display{out: w}
}

// Start begins the display for target with total expected tasks.
func (d *Display) Start(target string, total int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return
	}
	d.started = true
	d.startTime = time.Now()
	d.target = target
	d.total.Store(int64(total))
}

// SetTotal changes the expected record count, e.g. when a dialect fans one
// task out into several requests.
func (d *Display) SetTotal(total int) {
	d.total.Store(int64(total))
}

// Record counts one finished request and redraws the line.
func (d *Display) Record(failed bool) {
	d.done.Add(1)
	if failed {
		d.errors.Add(1)
	}
	d.render()
}

func (d *Display) render() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started || d.stopped {
		return
	}

	done := d.done.Load()
	total := d.total.Load()
	if total < done {
		total = done
	}
	pct := 100
	if total > 0 {
		pct = int(float64(done) / float64(total) * 100)
	}

	elapsed := time.Since(d.startTime)
	speed := float64(0)
	if elapsed.Seconds() > 0 {
		speed = float64(done) / elapsed.Seconds()
	}

	barWidth := 30
	filled := pct * barWidth / 100
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	line := fmt.Sprintf("\r[%s] %3d%% | Probes: %d/%d | Errors: %d | %.1f req/s | %s",
		bar, pct, done, total, d.errors.Load(), speed, formatDuration(elapsed))

	if len(line) < len(d.lastLine) {
		fmt.Fprint(d.out, "\r"+strings.Repeat(" ", len(d.lastLine)))
	}
	fmt.Fprint(d.out, line)
	d.lastLine = line
}

// Stop ends the display, moving past the status line.
func (d *Display) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || !d.started {
		return
	}
	d.stopped = true
	fmt.Fprintln(d.out)
}

// PrintSummary writes the end-of-run box.
func (d *Display) PrintSummary(endpoints int) {
	duration := time.Since(d.startTime)

	fmt.Fprintln(d.out)
	fmt.Fprintln(d.out, "╔══════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(d.out, "║                        Fuzz Complete                         ║")
	fmt.Fprintln(d.out, "╚══════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(d.out)
	fmt.Fprintf(d.out, "  Target:      %s\n", truncateURL(d.target, 50))
	fmt.Fprintf(d.out, "  Duration:    %s\n", formatDuration(duration))
	fmt.Fprintf(d.out, "  Endpoints:   %d\n", endpoints)
	fmt.Fprintf(d.out, "  Requests:    %d\n", d.done.Load())
	fmt.Fprintf(d.out, "  Errors:      %d\n", d.errors.Load())
	if duration.Seconds() > 0 {
		fmt.Fprintf(d.out, "  Speed:       %.1f req/s\n", float64(d.done.Load())/duration.Seconds())
	}
	fmt.Fprintln(d.out)
}

// Stats returns the finished and failed counts.
func (d *Display) Stats() (done, errors int64) {
	return d.done.Load(), d.errors.Load()
}

func truncateURL(url string, maxLen int) string {
	if utf8.RuneCountInString(url) <= maxLen {
		return url
	}
	return string([]rune(url)[:maxLen-3]) + "..."
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
