// Package observability tracks per-stage run statistics for the
// end-of-run summary.
package observability

import (
	"sync"
	"time"
)

// StageStats holds the counters recorded for one pipeline stage.
type StageStats struct {
	Stage    string
	Duration time.Duration
	Rows     int64
	Skipped  int64
}

// RunStats collects stage statistics in completion order. Thread-safe:
// stages that parallelize internally may report from worker goroutines.
type RunStats struct {
	mu      sync.Mutex
	started time.Time
	stages  []StageStats
}

// NewRunStats starts the run clock.
func NewRunStats() *RunStats {
	return &RunStats{started: time.Now()}
}

// Record appends one stage's counters.
func (r *RunStats) Record(stage string, duration time.Duration, rows, skipped int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, StageStats{
		Stage:    stage,
		Duration: duration,
		Rows:     rows,
		Skipped:  skipped,
	})
}

// Time runs fn and records its duration with the row count it returns.
func (r *RunStats) Time(stage string, fn func() (rows, skipped int64, err error)) error {
	start := time.Now()
	rows, skipped, err := fn()
	r.Record(stage, time.Since(start), rows, skipped)
	return err
}

// Stages returns a copy of the recorded stages in completion order.
func (r *RunStats) Stages() []StageStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StageStats, len(r.stages))
	copy(out, r.stages)
	return out
}

// Elapsed is the wall time since the run started.
func (r *RunStats) Elapsed() time.Duration {
	return time.Since(r.started)
}

// TotalRows sums the rows across recorded stages.
func (r *RunStats) TotalRows() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total int64
	for _, s := range r.stages {
		total += s.Rows
	}
	return total
}
