package reindex

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// progress prints a carriage-return status line every interval chunks.
type progress struct {
	mu       sync.Mutex
	out      io.Writer
	total    int
	done     int
	interval int
	reported int
	start    time.Time
}

func newProgress(out io.Writer, total, interval int) *progress {
	if interval < 1 {
		interval = 1
	}
	return &progress{out: out, total: total, interval: interval, start: time.Now()}
}

// add records n more chunks and prints when an interval boundary is crossed.
func (p *progress) add(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done = min(p.done+n, p.total)
	if p.done-p.reported >= p.interval {
		p.print()
		p.reported = p.done
	}
}

// finish prints the final line.
func (p *progress) finish() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.print()
	fmt.Fprintln(p.out)
	return time.Since(p.start)
}

func (p *progress) print() {
	pct := 100.0
	if p.total > 0 {
		pct = float64(p.done) / float64(p.total) * 100
	}
	rate := float64(p.done) / max(time.Since(p.start).Seconds(), 1e-9)
	fmt.Fprintf(p.out, "\rReindexed %d/%d chunks (%.1f%%) - %.1f chunks/s", p.done, p.total, pct, rate)
}
