package output

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
)

// ProgressBar redraws one line with a bar and item counts.
type ProgressBar struct {
	mu    sync.Mutex
	w     io.Writer
	title string
	width int
	done  int
	total int
	drawn bool
}

// NewProgressBar creates a bar titled title.
func NewProgressBar(w io.Writer, title string) *ProgressBar {
	return &ProgressBar{w: w, title: title, width: 30}
}

// SetTitle changes the title, ending the current line if one was drawn.
func (p *ProgressBar) SetTitle(title string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.title == title {
		return
	}
	if p.drawn {
		fmt.Fprintln(p.w)
		p.drawn = false
	}
	p.title = title
	p.done, p.total = 0, 0
}

// Update sets progress to done of total and redraws.
func (p *ProgressBar) Update(done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done, p.total = done, total
	p.render()
}

// Finish ends the line.
func (p *ProgressBar) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.total > 0 {
		p.done = p.total
	}
	p.render()
	fmt.Fprintln(p.w)
	p.drawn = false
}

func (p *ProgressBar) render() {
	p.drawn = true
	if p.total <= 0 {
		fmt.Fprintf(p.w, "\r%s %s", p.title, humanize.Comma(int64(p.done)))
		return
	}
	ratio := min(float64(p.done)/float64(p.total), 1)
	filled := int(float64(p.width) * ratio)
	fmt.Fprintf(p.w, "\r%s [%s%s] %3.0f%% (%s/%s)",
		p.title,
		strings.Repeat("#", filled),
		strings.Repeat("-", p.width-filled),
		ratio*100,
		humanize.Comma(int64(p.done)),
		humanize.Comma(int64(p.total)),
	)
}
