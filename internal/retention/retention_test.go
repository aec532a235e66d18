package retention

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopsignal/shopsignal/internal/compact"
	"github.com/shopsignal/shopsignal/pkg/types"
)

func eventBatch(t *testing.T, events []struct {
	user uint64
	day  string
}) *compact.Batch {
	t.Helper()
	b := compact.NewBuilder(compact.DefaultOptions())
	for i, ev := range events {
		rec := types.RawRecord{
			Time:       ev.day + " 12:00:00 UTC",
			Kind:       "view",
			ProductID:  "1",
			CategoryID: "1",
			Price:      "10",
			UserID:     fmt.Sprintf("%d", ev.user),
			SessionKey: fmt.Sprintf("s%d", i),
		}
		if err := b.Append(rec); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	batch, err := b.Seal()
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	return batch
}

// 2019-09-30 is a Monday.
func TestCohorts(t *testing.T) {
	batch := eventBatch(t, []struct {
		user uint64
		day  string
	}{
		// Cohort of week 2019-09-30: users 1, 2.
		{1, "2019-09-30"}, {2, "2019-10-02"},
		// User 1 returns in weeks 1 and 2; user 2 never returns.
		{1, "2019-10-08"}, {1, "2019-10-15"},
		// Cohort of week 2019-10-07: user 3, returns in week 1.
		{3, "2019-10-09"}, {3, "2019-10-16"},
	})

	cells := Cohorts(batch)

	type key struct{ week, since int64 }
	got := make(map[key]types.RetentionCell)
	for _, c := range cells {
		got[key{c.CohortWeek, c.WeeksSinceFirst}] = c
	}

	monday1 := int64(18169) // 2019-09-30
	monday2 := monday1 + 7

	c0 := got[key{monday1, 0}]
	if c0.CohortSize != 2 || c0.ActiveUsers != 2 || c0.RetentionRate != 1 {
		t.Errorf("unexpected week-0 cell for first cohort: %+v", c0)
	}
	c1 := got[key{monday1, 1}]
	if c1.ActiveUsers != 1 || c1.RetentionRate != 0.5 {
		t.Errorf("unexpected week-1 cell for first cohort: %+v", c1)
	}
	c2 := got[key{monday1, 2}]
	if c2.ActiveUsers != 1 || c2.RetentionRate != 0.5 {
		t.Errorf("unexpected week-2 cell for first cohort: %+v", c2)
	}

	d0 := got[key{monday2, 0}]
	if d0.CohortSize != 1 || d0.RetentionRate != 1 {
		t.Errorf("unexpected week-0 cell for second cohort: %+v", d0)
	}
	d1 := got[key{monday2, 1}]
	if d1.ActiveUsers != 1 {
		t.Errorf("unexpected week-1 cell for second cohort: %+v", d1)
	}

	// Ordering: by cohort week, then weeks since first.
	for i := 1; i < len(cells); i++ {
		prev, cur := cells[i-1], cells[i]
		if prev.CohortWeek > cur.CohortWeek ||
			(prev.CohortWeek == cur.CohortWeek && prev.WeeksSinceFirst >= cur.WeeksSinceFirst) {
			t.Errorf("cells out of order at %d: %+v then %+v", i, prev, cur)
		}
	}
}

// Week-0 retention is 1 for every cohort, and all rates stay in [0,1].
func TestCohorts_RateBounds(t *testing.T) {
	batch := eventBatch(t, []struct {
		user uint64
		day  string
	}{
		{1, "2019-09-30"}, {2, "2019-10-01"}, {3, "2019-10-08"},
		{1, "2019-10-10"}, {2, "2019-10-20"}, {3, "2019-11-01"},
		{1, "2019-11-02"},
	})

	for _, c := range Cohorts(batch) {
		if c.RetentionRate < 0 || c.RetentionRate > 1 {
			t.Errorf("retention rate out of bounds: %+v", c)
		}
		if c.WeeksSinceFirst == 0 && c.RetentionRate != 1 {
			t.Errorf("week-0 retention must be 1: %+v", c)
		}
	}
}

func TestChurn(t *testing.T) {
	asOf := time.Date(2019, 10, 31, 0, 0, 0, 0, time.UTC)
	seen := func(day string) time.Time {
		ts, err := time.Parse("2006-01-02", day)
		if err != nil {
			t.Fatalf("bad day: %v", err)
		}
		return ts
	}

	users := []types.User{
		{UserID: 3, LastSeen: seen("2019-10-30")}, // 1 day: active
		{UserID: 1, LastSeen: seen("2019-10-21")}, // 10 days: at risk
		{UserID: 2, LastSeen: seen("2019-10-01")}, // 30 days: churned
		{UserID: 4, LastSeen: seen("2019-10-24")}, // exactly 7 days: still active
	}

	records := Churn(users, asOf, DefaultOptions())

	want := map[uint64]types.ChurnStatus{
		1: types.ChurnAtRisk,
		2: types.ChurnChurned,
		3: types.ChurnActive,
		4: types.ChurnActive,
	}
	for i, rec := range records {
		if rec.Status != want[rec.UserID] {
			t.Errorf("user %d: expected %s, got %s (%d days)", rec.UserID, want[rec.UserID], rec.Status, rec.DaysInactive)
		}
		if i > 0 && records[i-1].UserID >= rec.UserID {
			t.Error("churn records must be sorted by user id")
		}
	}
	if records[1].DaysInactive != 30 {
		t.Errorf("expected user 2 inactive 30 days, got %d", records[1].DaysInactive)
	}
}
