package segment

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopsignal/shopsignal/internal/compact"
	serrors "github.com/shopsignal/shopsignal/internal/errors"
	"github.com/shopsignal/shopsignal/pkg/types"
)

// purchaseBatch builds a batch of purchase events: one per (user, day,
// price) triple.
func purchaseBatch(t *testing.T, purchases []struct {
	user  uint64
	day   string
	price float64
}) *compact.Batch {
	t.Helper()
	b := compact.NewBuilder(compact.DefaultOptions())
	for i, p := range purchases {
		rec := types.RawRecord{
			Time:       p.day + " 12:00:00 UTC",
			Kind:       "purchase",
			ProductID:  "1",
			CategoryID: "1",
			Price:      fmt.Sprintf("%g", p.price),
			UserID:     fmt.Sprintf("%d", p.user),
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

func asOf(t *testing.T, day string) time.Time {
	t.Helper()
	ts, err := time.Parse("2006-01-02 15:04:05 MST", day+" 12:00:00 UTC")
	if err != nil {
		t.Fatalf("bad asOf: %v", err)
	}
	return ts
}

func TestBuild_ScoresAreInRange(t *testing.T) {
	var purchases []struct {
		user  uint64
		day   string
		price float64
	}
	// Ten users with distinct recency, frequency and spend.
	for u := 1; u <= 10; u++ {
		for d := 0; d < u; d++ {
			purchases = append(purchases, struct {
				user  uint64
				day   string
				price float64
			}{uint64(u), fmt.Sprintf("2019-10-%02d", d+1), float64(u * 10)})
		}
	}
	batch := purchaseBatch(t, purchases)

	profiles, err := Build(batch, asOf(t, "2019-11-01"))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(profiles) != 10 {
		t.Fatalf("expected 10 profiles, got %d", len(profiles))
	}
	for _, p := range profiles {
		if p.R < 1 || p.R > 5 || p.F < 1 || p.F > 5 || p.M < 1 || p.M > 5 {
			t.Errorf("user %d: scores out of range: r=%d f=%d m=%d", p.UserID, p.R, p.F, p.M)
		}
		if len(p.Code) != 3 {
			t.Errorf("user %d: bad rfm code %q", p.UserID, p.Code)
		}
	}
}

func TestBuild_FrequencyCountsDistinctDates(t *testing.T) {
	purchases := []struct {
		user  uint64
		day   string
		price float64
	}{
		// User 1: three purchases on the same date count as frequency 1.
		{1, "2019-10-01", 10}, {1, "2019-10-01", 20}, {1, "2019-10-01", 30},
		{2, "2019-10-01", 10}, {2, "2019-10-02", 10},
		{3, "2019-10-03", 10},
		{4, "2019-10-04", 10},
		{5, "2019-10-05", 10},
	}
	batch := purchaseBatch(t, purchases)

	profiles, err := Build(batch, asOf(t, "2019-11-01"))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if profiles[0].UserID != 1 || profiles[0].Frequency != 1 {
		t.Errorf("expected user 1 frequency 1 (distinct dates), got %d", profiles[0].Frequency)
	}
	if profiles[0].Monetary != 60 {
		t.Errorf("expected user 1 monetary 60, got %g", profiles[0].Monetary)
	}
	if profiles[1].UserID != 2 || profiles[1].Frequency != 2 {
		t.Errorf("expected user 2 frequency 2, got %d", profiles[1].Frequency)
	}
}

func TestBuild_RecencyAgainstAsOf(t *testing.T) {
	purchases := []struct {
		user  uint64
		day   string
		price float64
	}{
		{1, "2019-10-01", 10},
		{2, "2019-10-11", 10},
		{3, "2019-10-21", 10},
		{4, "2019-10-26", 10},
		{5, "2019-10-31", 10},
	}
	batch := purchaseBatch(t, purchases)

	profiles, err := Build(batch, asOf(t, "2019-10-31"))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if profiles[0].RecencyDays != 30 {
		t.Errorf("expected user 1 recency 30 days, got %d", profiles[0].RecencyDays)
	}
	if profiles[4].RecencyDays != 0 {
		t.Errorf("expected user 5 recency 0 days, got %d", profiles[4].RecencyDays)
	}
	// Most recent purchaser gets the top recency score.
	if profiles[4].R != 5 {
		t.Errorf("expected user 5 r=5, got %d", profiles[4].R)
	}
	if profiles[0].R != 1 {
		t.Errorf("expected user 1 r=1, got %d", profiles[0].R)
	}
}

// With n = 5q + r the earlier (lower-score) buckets take the extras:
// for n=7, bucket sizes are 2,2,1,1,1 for scores 1..5.
func TestBuild_QuintileRemainderConvention(t *testing.T) {
	purchases := []struct {
		user  uint64
		day   string
		price float64
	}{
		{1, "2019-10-01", 10},
		{2, "2019-10-02", 10},
		{3, "2019-10-03", 10},
		{4, "2019-10-04", 10},
		{5, "2019-10-05", 10},
		{6, "2019-10-06", 10},
		{7, "2019-10-07", 10},
	}
	batch := purchaseBatch(t, purchases)

	profiles, err := Build(batch, asOf(t, "2019-10-31"))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	wantR := map[uint64]int{1: 1, 2: 1, 3: 2, 4: 2, 5: 3, 6: 4, 7: 5}
	for _, p := range profiles {
		if p.R != wantR[p.UserID] {
			t.Errorf("user %d: expected r=%d, got %d", p.UserID, wantR[p.UserID], p.R)
		}
	}
}

// Equal metric values break ties by user id ascending, so scoring is
// deterministic.
func TestBuild_TieBreakByUserID(t *testing.T) {
	purchases := []struct {
		user  uint64
		day   string
		price float64
	}{
		{5, "2019-10-01", 10},
		{4, "2019-10-01", 10},
		{3, "2019-10-01", 10},
		{2, "2019-10-01", 10},
		{1, "2019-10-01", 10},
	}
	batch := purchaseBatch(t, purchases)

	profiles, err := Build(batch, asOf(t, "2019-10-31"))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	// All metrics equal: scores follow user id order exactly.
	for i, p := range profiles {
		want := i + 1
		if p.R != want || p.F != want || p.M != want {
			t.Errorf("user %d: expected all scores %d, got r=%d f=%d m=%d", p.UserID, want, p.R, p.F, p.M)
		}
	}
}

func TestBuild_InsufficientData(t *testing.T) {
	purchases := []struct {
		user  uint64
		day   string
		price float64
	}{
		{1, "2019-10-01", 10},
		{2, "2019-10-02", 10},
	}
	batch := purchaseBatch(t, purchases)

	_, err := Build(batch, asOf(t, "2019-10-31"))
	if err == nil {
		t.Fatal("expected INSUFFICIENT_DATA for fewer than 5 purchasing users")
	}
	if !serrors.HasCode(err, serrors.CodeInsufficientData) {
		t.Errorf("expected INSUFFICIENT_DATA code, got %v", err)
	}
}

func TestLabel_PrecedenceTable(t *testing.T) {
	cases := []struct {
		r, f int
		want string
	}{
		{5, 5, "Champions"},
		{4, 4, "Champions"},
		{4, 3, "Loyal"},
		{3, 3, "Loyal"},
		{2, 4, "AtRisk"},
		{1, 5, "AtRisk"},
		{2, 2, "Lost"},
		{1, 1, "Lost"},
		{3, 1, "Regular"},
		{5, 1, "Regular"},
		{2, 3, "Regular"},
	}
	for _, tc := range cases {
		if got := label(tc.r, tc.f); got != tc.want {
			t.Errorf("label(%d,%d): expected %s, got %s", tc.r, tc.f, got, tc.want)
		}
	}
}
