// Package segment computes per-user recency-frequency-monetary profiles
// and rule-based segment labels from purchase history.
//
// The SQL NTILE scoring of the dashboard era is made explicit here: every
// ordering has a documented comparator and tie-break, so two runs over the
// same input always produce identical scores.
package segment

import (
	"sort"
	"strconv"
	"time"

	"github.com/shopsignal/shopsignal/internal/compact"
	serrors "github.com/shopsignal/shopsignal/internal/errors"
	"github.com/shopsignal/shopsignal/pkg/types"
)

// quantiles is the number of score buckets per metric.
const quantiles = 5

// minUsers is the smallest population that quintile scoring accepts;
// fewer purchasing users would produce degenerate buckets.
const minUsers = quantiles

type rfmAgg struct {
	lastUnix int64
	days     map[int64]struct{}
	monetary float64
}

// Build produces one RFMProfile per purchasing user, sorted by user id.
//
// Recency is whole days between the user's latest purchase and asOf, an
// explicit input so runs are reproducible. Frequency is the count of
// distinct purchase dates, not raw purchase events. Runs with fewer than
// five purchasing users fail with INSUFFICIENT_DATA.
func Build(batch *compact.Batch, asOf time.Time) ([]types.RFMProfile, error) {
	aggs := make(map[uint64]*rfmAgg)

	rows := batch.Rows()
	for i := 0; i < rows; i++ {
		if batch.KindAt(i) != types.KindPurchase {
			continue
		}
		uid := batch.UserAt(i)
		agg, ok := aggs[uid]
		if !ok {
			agg = &rfmAgg{lastUnix: batch.UnixAt(i), days: make(map[int64]struct{})}
			aggs[uid] = agg
		}
		unix := batch.UnixAt(i)
		if unix > agg.lastUnix {
			agg.lastUnix = unix
		}
		agg.days[unix/86400] = struct{}{}
		agg.monetary += batch.PriceAt(i)
	}

	if len(aggs) < minUsers {
		return nil, serrors.NewInsufficientData(serrors.StageSegment,
			"quintile scoring needs at least "+strconv.Itoa(minUsers)+" purchasing users, have "+strconv.Itoa(len(aggs)))
	}

	asOfUnix := asOf.Unix()
	profiles := make([]types.RFMProfile, 0, len(aggs))
	for uid, agg := range aggs {
		profiles = append(profiles, types.RFMProfile{
			UserID:      uid,
			RecencyDays: (asOfUnix - agg.lastUnix) / 86400,
			Frequency:   int64(len(agg.days)),
			Monetary:    agg.monetary,
		})
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].UserID < profiles[j].UserID })

	// Score each metric independently. The comparator orders users from
	// the score-1 end to the score-5 end; ties always break by user id
	// ascending so scoring is reproducible.
	scoreMetric(profiles, func(a, b *types.RFMProfile) bool {
		if a.RecencyDays != b.RecencyDays {
			return a.RecencyDays > b.RecencyDays // most recent scores 5
		}
		return a.UserID < b.UserID
	}, func(p *types.RFMProfile, score int) { p.R = score })

	scoreMetric(profiles, func(a, b *types.RFMProfile) bool {
		if a.Frequency != b.Frequency {
			return a.Frequency < b.Frequency
		}
		return a.UserID < b.UserID
	}, func(p *types.RFMProfile, score int) { p.F = score })

	scoreMetric(profiles, func(a, b *types.RFMProfile) bool {
		if a.Monetary != b.Monetary {
			return a.Monetary < b.Monetary
		}
		return a.UserID < b.UserID
	}, func(p *types.RFMProfile, score int) { p.M = score })

	for i := range profiles {
		p := &profiles[i]
		p.Code = strconv.Itoa(p.R) + strconv.Itoa(p.F) + strconv.Itoa(p.M)
		p.Segment = label(p.R, p.F)
	}

	return profiles, nil
}

// scoreMetric partitions the profiles into five buckets under the given
// ordering and assigns scores 1..5. With n = 5q + r, the first r buckets
// (lowest scores) hold q+1 users and the rest hold q.
func scoreMetric(profiles []types.RFMProfile, less func(a, b *types.RFMProfile) bool, assign func(p *types.RFMProfile, score int)) {
	order := make([]int, len(profiles))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		return less(&profiles[order[i]], &profiles[order[j]])
	})

	n := len(profiles)
	base := n / quantiles
	extra := n % quantiles

	pos := 0
	for bucket := 0; bucket < quantiles; bucket++ {
		size := base
		if bucket < extra {
			size++
		}
		for k := 0; k < size; k++ {
			assign(&profiles[order[pos]], bucket+1)
			pos++
		}
	}
}

// label evaluates the fixed segment precedence table top to bottom;
// first match wins.
func label(r, f int) string {
	switch {
	case r >= 4 && f >= 4:
		return "Champions"
	case r >= 3 && f >= 3:
		return "Loyal"
	case r <= 2 && f >= 4:
		return "AtRisk"
	case r <= 2 && f <= 2:
		return "Lost"
	default:
		return "Regular"
	}
}
