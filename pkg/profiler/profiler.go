// Package profiler collects wall-clock timings for the stages of a
// training or classification run.
package profiler

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// Profiler accumulates named stage durations. Safe for concurrent use.
type Profiler struct {
	mu    sync.Mutex
	times map[string][]time.Duration
}

// New creates an empty profiler
func New() *Profiler {
	return &Profiler{times: make(map[string][]time.Duration)}
}

// Timer is one running stage measurement
type Timer struct {
	p     *Profiler
	stage string
	start time.Time
}

// Start begins timing a stage
func (p *Profiler) Start(stage string) *Timer {
	return &Timer{p: p, stage: stage, start: time.Now()}
}

// Stop records the elapsed time of the stage
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	t.p.Record(t.stage, elapsed)
	return elapsed
}

// Record adds one externally measured duration to a stage
func (p *Profiler) Record(stage string, d time.Duration) {
	p.mu.Lock()
	p.times[stage] = append(p.times[stage], d)
	p.mu.Unlock()
}

// Stats summarizes the recorded durations of one stage
type Stats struct {
	Stage   string
	Count   int
	Total   time.Duration
	Average time.Duration
	Min     time.Duration
	Max     time.Duration
}

// Stats returns the per-stage summaries, sorted by stage name.
func (p *Profiler) Stats() []Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stages := make([]string, 0, len(p.times))
	for stage := range p.times {
		stages = append(stages, stage)
	}
	sort.Strings(stages)

	stats := make([]Stats, 0, len(stages))
	for _, stage := range stages {
		times := p.times[stage]

		s := Stats{Stage: stage, Count: len(times), Min: times[0], Max: times[0]}
		for _, d := range times {
			s.Total += d
			if d < s.Min {
				s.Min = d
			}
			if d > s.Max {
				s.Max = d
			}
		}
		s.Average = s.Total / time.Duration(s.Count)
		stats = append(stats, s)
	}
	return stats
}

// Report writes a formatted timing table
func (p *Profiler) Report(w io.Writer) {
	stats := p.Stats()
	if len(stats) == 0 {
		return
	}

	fmt.Fprintf(w, "%-16s %8s %12s %12s %12s %12s\n",
		"Stage", "Count", "Total", "Avg", "Min", "Max")
	for _, s := range stats {
		fmt.Fprintf(w, "%-16s %8d %12s %12s %12s %12s\n",
			s.Stage, s.Count,
			s.Total.Round(time.Microsecond),
			s.Average.Round(time.Microsecond),
			s.Min.Round(time.Microsecond),
			s.Max.Round(time.Microsecond))
	}
}
