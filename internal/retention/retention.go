// Package retention computes weekly cohort retention and per-user churn
// status from the compacted batch and the user dimension.
package retention

import (
	"sort"
	"time"

	"github.com/shopsignal/shopsignal/internal/compact"
	"github.com/shopsignal/shopsignal/pkg/types"
)

// Options holds the churn inactivity thresholds in days.
type Options struct {
	ChurnedAfterDays int64
	AtRiskAfterDays  int64
}

// DefaultOptions returns the default churn thresholds.
func DefaultOptions() Options {
	return Options{ChurnedAfterDays: 14, AtRiskAfterDays: 7}
}

// weekStart returns the UTC day number of the Monday of the week
// containing the given day.
func weekStart(day int64) int64 {
	// Day 0 (1970-01-01) is a Thursday.
	offset := (day%7 + 3 + 7) % 7
	return day - offset
}

type cohortKey struct {
	week  int64
	since int64
}

// Cohorts builds the weekly retention matrix: users are grouped by the
// week of their first event, and each cell counts the cohort's distinct
// active users in the n-th week after that. Cells with zero active users
// are omitted; week 0 of every cohort is by construction fully retained.
func Cohorts(batch *compact.Batch) []types.RetentionCell {
	firstDay := make(map[uint64]int64)
	activeWeeks := make(map[uint64]map[int64]struct{})

	rows := batch.Rows()
	for i := 0; i < rows; i++ {
		uid := batch.UserAt(i)
		day := batch.UnixAt(i) / 86400
		if prev, ok := firstDay[uid]; !ok || day < prev {
			firstDay[uid] = day
		}
		weeks, ok := activeWeeks[uid]
		if !ok {
			weeks = make(map[int64]struct{})
			activeWeeks[uid] = weeks
		}
		weeks[weekStart(day)] = struct{}{}
	}

	cohortSize := make(map[int64]int64)
	active := make(map[cohortKey]int64)
	for uid, day := range firstDay {
		cohort := weekStart(day)
		cohortSize[cohort]++
		for week := range activeWeeks[uid] {
			active[cohortKey{cohort, (week - cohort) / 7}]++
		}
	}

	cells := make([]types.RetentionCell, 0, len(active))
	for key, users := range active {
		size := cohortSize[key.week]
		cells = append(cells, types.RetentionCell{
			CohortWeek:      key.week,
			CohortSize:      size,
			WeeksSinceFirst: key.since,
			ActiveUsers:     users,
			RetentionRate:   float64(users) / float64(size),
		})
	}
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].CohortWeek != cells[j].CohortWeek {
			return cells[i].CohortWeek < cells[j].CohortWeek
		}
		return cells[i].WeeksSinceFirst < cells[j].WeeksSinceFirst
	})
	return cells
}

// Churn classifies each user's inactivity against the as-of instant.
// Output is sorted by user id.
func Churn(users []types.User, asOf time.Time, opts Options) []types.ChurnRecord {
	asOfUnix := asOf.Unix()
	records := make([]types.ChurnRecord, 0, len(users))
	for i := range users {
		u := &users[i]
		inactive := (asOfUnix - u.LastSeen.Unix()) / 86400
		if inactive < 0 {
			inactive = 0
		}

		status := types.ChurnActive
		switch {
		case inactive > opts.ChurnedAfterDays:
			status = types.ChurnChurned
		case inactive > opts.AtRiskAfterDays:
			status = types.ChurnAtRisk
		}

		records = append(records, types.ChurnRecord{
			UserID:       u.UserID,
			LastSeen:     u.LastSeen,
			DaysInactive: inactive,
			Status:       status,
		})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].UserID < records[j].UserID })
	return records
}
