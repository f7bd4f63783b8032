package progress

import (
	"fmt"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

const defaultTermWidth = 80

// Bar shows how many of a fixed number of steps have completed.
type Bar struct {
	message string

	mu       sync.Mutex
	maxValue int64
	current  int64
	started  time.Time

	// width overrides the terminal width when positive
	width int
}

func NewBar(message string, maxValue int64) *Bar {
	return &Bar{
		message:  message,
		maxValue: maxValue,
		started:  time.Now(),
	}
}

// formatDuration limits the rendering of a time.Duration to 2 units
func formatDuration(d time.Duration) string {
	if d >= 100*time.Hour {
		return "99h+"
	}

	if d >= time.Hour {
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}

	return d.Round(time.Second).String()
}

func (b *Bar) String() string {
	termWidth := b.width
	if termWidth <= 0 {
		var err error
		termWidth, _, err = term.GetSize(int(os.Stderr.Fd()))
		if err != nil {
			termWidth = defaultTermWidth
		}
	}

	b.mu.Lock()
	current, maxValue := b.current, b.maxValue
	elapsed := time.Since(b.started)
	b.mu.Unlock()

	var pre, mid, suf strings.Builder

	if b.message != "" {
		pre.WriteString(strings.TrimSpace(b.message))
		pre.WriteString(" ")
	}

	percent := b.percent(current, maxValue)
	fmt.Fprintf(&pre, "%3.0f%% ", math.Floor(percent))

	fmt.Fprintf(&suf, "(%d/%d", current, maxValue)
	if current > 0 && elapsed > 0 {
		rate := float64(current) / elapsed.Seconds()
		fmt.Fprintf(&suf, ", %.1f steps/s", rate)
		if current < maxValue {
			remaining := time.Duration(float64(maxValue-current) / rate * float64(time.Second))
			fmt.Fprintf(&suf, ") [%s:%s]", formatDuration(elapsed), formatDuration(remaining))
		} else {
			suf.WriteString(")")
		}
	} else {
		suf.WriteString(")")
	}

	// add 3 extra spaces: 2 boundary characters and 1 space at the end
	f := termWidth - pre.Len() - suf.Len() - 3
	n := int(float64(f) * percent / 100)

	if f > 0 {
		mid.WriteString("▕")
		mid.WriteString(strings.Repeat("█", n))
		if f-n > 0 {
			mid.WriteString(strings.Repeat(" ", f-n))
		}
		mid.WriteString("▏ ")
	}

	return pre.String() + mid.String() + suf.String()
}

func (b *Bar) Set(value int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.current = min(value, b.maxValue)
}

func (b *Bar) percent(current, maxValue int64) float64 {
	if maxValue > 0 {
		return float64(current) / float64(maxValue) * 100
	}

	return 0
}
