package training

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// ProgressBar renders an in-place progress line for one pass over a split:
// percentage, bar, batch counter, elapsed and remaining time, batch rate,
// and the current batch metrics.
type ProgressBar struct {
	out         io.Writer
	description string
	total       int
	current     int
	startTime   time.Time
	width       int
}

// NewProgressBar creates a progress bar over total batches writing to out.
func NewProgressBar(out io.Writer, description string, total int) *ProgressBar {
	return &ProgressBar{
		out:         out,
		description: description,
		total:       total,
		startTime:   time.Now(),
		width:       40,
	}
}

// Update advances the bar to step and shows the batch's metrics.
func (pb *ProgressBar) Update(step int, loss, accuracy, f1 float64) {
	pb.current = step
	pb.render(loss, accuracy, f1)
}

// Finish completes the bar and terminates its line.
func (pb *ProgressBar) Finish(loss, accuracy, f1 float64) {
	pb.current = pb.total
	pb.render(loss, accuracy, f1)
	fmt.Fprintln(pb.out)
}

func (pb *ProgressBar) render(loss, accuracy, f1 float64) {
	fraction := 0.0
	if pb.total > 0 {
		fraction = float64(pb.current) / float64(pb.total)
	}
	if fraction > 1 {
		fraction = 1
	}

	filled := int(fraction * float64(pb.width))
	if filled > pb.width {
		filled = pb.width
	}
	bar := strings.Repeat("█", filled) + strings.Repeat(" ", pb.width-filled)

	elapsed := time.Since(pb.startTime)
	var remaining time.Duration
	var rate float64
	if pb.current > 0 {
		rate = float64(pb.current) / elapsed.Seconds()
		if fraction > 0 {
			remaining = time.Duration(float64(elapsed)/fraction) - elapsed
		}
	}

	line := fmt.Sprintf("\r%s: %3.0f%%|%s| %d/%d [%s<%s",
		pb.description,
		fraction*100,
		bar,
		pb.current,
		pb.total,
		formatClock(elapsed),
		formatClock(remaining),
	)
	if rate > 0 {
		line += fmt.Sprintf(", %.2fbatch/s", rate)
	}
	line += fmt.Sprintf(", loss=%.4f, acc=%.4f, f1=%.4f]", loss, accuracy, f1)

	fmt.Fprint(pb.out, line)
}

// formatClock formats a duration as MM:SS.
func formatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}
