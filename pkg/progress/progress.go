// Package progress draws a redrawing status line on a terminal.
package progress

import (
	"bufio"
	"fmt"
	"io"
	"sync"
	"time"
)

type State interface {
	String() string
}

type Progress struct {
	mu sync.Mutex
	// buffer output to minimize flickering on all terminals
	w *bufio.Writer

	pos int

	ticker *time.Ticker
	done   chan struct{}
	exited chan struct{}
	states []State
}

func NewProgress(w io.Writer) *Progress {
	p := &Progress{
		w:      bufio.NewWriter(w),
		ticker: time.NewTicker(100 * time.Millisecond),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}

	// hide cursor
	fmt.Fprint(p.w, "\033[?25l")

	go p.start(p.ticker.C)
	return p
}

func (p *Progress) Add(state State) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.states = append(p.states, state)
}

// Stop renders a final frame and restores the cursor. It reports whether the
// progress was still running.
func (p *Progress) Stop() bool {
	p.mu.Lock()
	running := p.ticker != nil
	if running {
		p.ticker.Stop()
		p.ticker = nil
		close(p.done)
	}
	p.mu.Unlock()

	if running {
		<-p.exited
		p.render()
		p.mu.Lock()
		fmt.Fprintln(p.w)
		p.mu.Unlock()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	// show cursor
	fmt.Fprint(p.w, "\033[?25h")
	p.w.Flush()
	return running
}

func (p *Progress) render() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for range p.pos - 1 {
		fmt.Fprint(p.w, "\033[A")
	}
	fmt.Fprint(p.w, "\033[1G")

	for i, state := range p.states {
		fmt.Fprint(p.w, state.String(), "\033[K")
		if i < len(p.states)-1 {
			fmt.Fprint(p.w, "\n")
		}
	}

	p.pos = len(p.states)
	p.w.Flush()
}

func (p *Progress) start(tick <-chan time.Time) {
	defer close(p.exited)
	for {
		select {
		case <-p.done:
			return
		case <-tick:
			p.render()
		}
	}
}
