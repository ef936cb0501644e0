package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/term"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter shows a single status line with remaining (or, without a
// duration, elapsed) seconds. It is single-use: Start once, Stop once or more.
type ProgressPrinter struct {
	w        io.Writer
	prefix   string
	duration time.Duration

	once sync.Once
	stop chan struct{}
	done chan struct{}
}

// NewCountdownProgressPrinter counts down from duration; a non-positive
// duration counts up.
func NewCountdownProgressPrinter(w io.Writer, prefix string, duration time.Duration) *ProgressPrinter {
	return &ProgressPrinter{
		w:        w,
		prefix:   prefix,
		duration: duration,
	}
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Start begins updating the line. Nothing is printed unless w is a terminal.
func (p *ProgressPrinter) Start() {
	if p.stop != nil {
		panic("ProgressPrinter.Start called more than once")
	}
	p.stop = make(chan struct{})
	p.done = make(chan struct{})

	if !isTerminal(p.w) {
		close(p.done)
		return
	}

	start := time.Now()
	ticker := time.NewTicker(progressUpdateInterval)
	p.print(0)

	go func() {
		defer close(p.done)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				fmt.Fprint(p.w, clearLineSequence)
				return
			case <-ticker.C:
				elapsed := time.Since(start)
				if p.duration <= 0 {
					p.print(int(elapsed.Seconds()))
					continue
				}
				remaining := p.duration - elapsed
				if remaining < 0 {
					remaining = 0
				}
				// round to the nearest second
				p.print(int(remaining.Seconds() + 0.5))
			}
		}
	}()
}

func (p *ProgressPrinter) print(seconds int) {
	if seconds > 0 {
		fmt.Fprintf(p.w, "\r%s (%ds)   ", p.prefix, seconds)
	} else {
		fmt.Fprintf(p.w, "\r%s...   ", p.prefix)
	}
}

// Stop clears the line and waits for the updater to exit.
func (p *ProgressPrinter) Stop() {
	if p.stop == nil {
		return
	}
	p.once.Do(func() {
		close(p.stop)
		<-p.done
	})
}
