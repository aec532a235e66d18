package observability

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRunStats_RecordsInCompletionOrder(t *testing.T) {
	stats := NewRunStats()
	stats.Record("compaction", 10*time.Millisecond, 100, 3)
	stats.Record("dimension", 5*time.Millisecond, 100, 0)

	stages := stats.Stages()
	if len(stages) != 2 {
		t.Fatalf("expected 2 stages, got %d", len(stages))
	}
	if stages[0].Stage != "compaction" || stages[0].Rows != 100 || stages[0].Skipped != 3 {
		t.Errorf("unexpected first stage: %+v", stages[0])
	}
	if stages[1].Stage != "dimension" {
		t.Errorf("unexpected second stage: %+v", stages[1])
	}
	if stats.TotalRows() != 200 {
		t.Errorf("expected 200 total rows, got %d", stats.TotalRows())
	}
}

func TestRunStats_TimePropagatesError(t *testing.T) {
	stats := NewRunStats()
	want := errors.New("stage failed")

	err := stats.Time("segment", func() (int64, int64, error) {
		return 7, 0, want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected stage error, got %v", err)
	}

	// The stage is recorded even on failure.
	stages := stats.Stages()
	if len(stages) != 1 || stages[0].Rows != 7 {
		t.Errorf("expected failing stage recorded, got %+v", stages)
	}
}

func TestRunStats_ConcurrentRecord(t *testing.T) {
	stats := NewRunStats()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stats.Record("worker", time.Millisecond, 1, 0)
		}()
	}
	wg.Wait()

	if got := stats.TotalRows(); got != 16 {
		t.Errorf("expected 16 rows recorded, got %d", got)
	}
}
