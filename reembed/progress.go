package reembed

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// ProgressTracker reports how far one collection (papers or concepts) has been re-embedded.
//
// Items finished by an earlier interrupted run count toward the fraction done but not
// toward the rate, so the estimate reflects the current run only.
type ProgressTracker struct {
	mu           sync.Mutex
	writer       io.Writer
	collection   string
	total        int
	interval     int
	done         int
	resumed      int
	lastReported int
	start        time.Time
	started      bool
}

// NewProgressTracker creates a tracker that writes a status line to writer
// every interval items.
func NewProgressTracker(writer io.Writer, collection string, total, interval int) *ProgressTracker {
	return &ProgressTracker{
		writer:     writer,
		collection: collection,
		total:      total,
		interval:   max(interval, 1),
	}
}

// Start begins timing. resumed is the number of items a previous run already re-embedded.
func (p *ProgressTracker) Start(resumed int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.start = time.Now()
	p.started = true
	p.resumed = min(max(resumed, 0), p.total)
	p.done = p.resumed
	p.lastReported = p.resumed
	if p.resumed > 0 {
		fmt.Fprintf(p.writer, "Resuming %s after %d already done\n", p.collection, p.resumed)
	}
}

// Update records that done items of the collection are finished.
func (p *ProgressTracker) Update(done int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return
	}
	p.done = min(done, p.total)
	if p.done-p.lastReported >= p.interval {
		p.report()
		p.lastReported = p.done
	}
}

// Finish prints the final line for the collection.
func (p *ProgressTracker) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return
	}
	p.done = p.total
	p.report()
	fmt.Fprintf(p.writer, " in %v\n", time.Since(p.start).Round(time.Millisecond))
}

// Elapsed returns the time since Start.
func (p *ProgressTracker) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return 0
	}
	return time.Since(p.start)
}

// Remaining estimates the time left from the current run's rate.
// It returns 0 when nothing has been done yet in this run.
func (p *ProgressTracker) Remaining() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remaining()
}

func (p *ProgressTracker) rate() float64 {
	elapsed := time.Since(p.start).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(p.done-p.resumed) / elapsed
}

func (p *ProgressTracker) remaining() time.Duration {
	rate := p.rate()
	if !p.started || rate <= 0 {
		return 0
	}
	left := float64(p.total-p.done) / rate
	return time.Duration(left * float64(time.Second))
}

// report writes the status line. Callers hold p.mu.
func (p *ProgressTracker) report() {
	percentage := 0.0
	if p.total > 0 {
		percentage = float64(p.done) / float64(p.total) * 100.0
	}
	fmt.Fprintf(p.writer, "\r%s: %d/%d (%.1f%%) %.1f/s", p.collection, p.done, p.total, percentage, p.rate())
	if p.done < p.total {
		if eta := p.remaining(); eta >= time.Second {
			fmt.Fprintf(p.writer, " eta %v", eta.Round(time.Second))
		}
	}
}
