// Package feature builds leakage-free per-user feature vectors from a
// compacted batch: aggregates come from the observation window only, the
// label from the prediction window only.
package feature

import (
	"sort"

	"github.com/shopsignal/shopsignal/internal/compact"
	serrors "github.com/shopsignal/shopsignal/internal/errors"
	"github.com/shopsignal/shopsignal/pkg/types"
)

// FeatureSet is the builder output handed to an external classifier.
type FeatureSet struct {
	Observation types.Window
	Prediction  types.Window
	Vectors     []types.FeatureVector
}

// ValidateWindows enforces the leakage guard: both windows must be
// well-formed and the prediction window must start at or after the end
// of the observation window. Windows are half-open [start, end).
func ValidateWindows(obs, pred types.Window) error {
	if !obs.Valid() {
		return serrors.NewWindowOverlap("observation window is empty or inverted: " + obs.String())
	}
	if !pred.Valid() {
		return serrors.NewWindowOverlap("prediction window is empty or inverted: " + pred.String())
	}
	if pred.Start.Before(obs.End) {
		return serrors.NewWindowOverlap("prediction window " + pred.String() +
			" overlaps or precedes observation window " + obs.String())
	}
	return nil
}

type userAgg struct {
	events    int64
	views     int64
	carts     int64
	removes   int64
	purchases int64

	firstUnix int64
	lastUnix  int64
	days      map[int64]struct{}

	// session code -> [minUnix, maxUnix] within the observation window
	sessions map[uint32][2]int64

	pathCounts  map[uint32]int64
	brandCounts map[uint32]int64
}

// Build produces one vector per user with at least one observation-window
// event, sorted by user id. Every aggregate reads observation-window rows
// only; the label reads prediction-window purchases only.
func Build(batch *compact.Batch, obs, pred types.Window) (*FeatureSet, error) {
	if err := ValidateWindows(obs, pred); err != nil {
		return nil, err
	}

	obsStart, obsEnd := obs.Start.Unix(), obs.End.Unix()
	predStart, predEnd := pred.Start.Unix(), pred.End.Unix()

	aggs := make(map[uint64]*userAgg)
	labels := make(map[uint64]struct{})

	rows := batch.Rows()
	for i := 0; i < rows; i++ {
		unix := batch.UnixAt(i)
		uid := batch.UserAt(i)

		if unix >= predStart && unix < predEnd && batch.KindAt(i) == types.KindPurchase {
			labels[uid] = struct{}{}
		}
		if unix < obsStart || unix >= obsEnd {
			continue
		}

		agg, ok := aggs[uid]
		if !ok {
			agg = &userAgg{
				firstUnix:   unix,
				lastUnix:    unix,
				days:        make(map[int64]struct{}),
				sessions:    make(map[uint32][2]int64),
				pathCounts:  make(map[uint32]int64),
				brandCounts: make(map[uint32]int64),
			}
			aggs[uid] = agg
		}

		agg.events++
		switch batch.KindAt(i) {
		case types.KindView:
			agg.views++
		case types.KindCart:
			agg.carts++
		case types.KindRemoveFromCart:
			agg.removes++
		case types.KindPurchase:
			agg.purchases++
		}
		if unix < agg.firstUnix {
			agg.firstUnix = unix
		}
		if unix > agg.lastUnix {
			agg.lastUnix = unix
		}
		agg.days[unix/86400] = struct{}{}

		code := batch.SessionCodeAt(i)
		if span, ok := agg.sessions[code]; ok {
			if unix < span[0] {
				span[0] = unix
			}
			if unix > span[1] {
				span[1] = unix
			}
			agg.sessions[code] = span
		} else {
			agg.sessions[code] = [2]int64{unix, unix}
		}

		agg.pathCounts[batch.PathCodeAt(i)]++
		agg.brandCounts[batch.BrandCodeAt(i)]++
	}

	set := &FeatureSet{
		Observation: obs,
		Prediction:  pred,
		Vectors:     make([]types.FeatureVector, 0, len(aggs)),
	}

	for uid, agg := range aggs {
		var sessionSeconds int64
		for _, span := range agg.sessions {
			sessionSeconds += span[1] - span[0]
		}

		v := types.FeatureVector{
			UserID:             uid,
			Events:             agg.events,
			Views:              agg.views,
			Carts:              agg.carts,
			Removes:            agg.removes,
			Purchases:          agg.purchases,
			Sessions:           int64(len(agg.sessions)),
			ActiveDays:         int64(len(agg.days)),
			ActiveSpanDays:     agg.lastUnix/86400 - agg.firstUnix/86400 + 1,
			RecencyDays:        (obsEnd - agg.lastUnix) / 86400,
			MeanSessionSeconds: float64(sessionSeconds) / float64(len(agg.sessions)),
			DominantCategory:   decodeDominant(agg.pathCounts, batch.PathDict()),
			DominantBrand:      decodeDominant(agg.brandCounts, batch.BrandDict()),
			PriorPurchase:      agg.purchases > 0,
		}
		if _, ok := labels[uid]; ok {
			v.Label = 1
		}
		set.Vectors = append(set.Vectors, v)
	}

	sort.Slice(set.Vectors, func(i, j int) bool {
		return set.Vectors[i].UserID < set.Vectors[j].UserID
	})
	return set, nil
}

// decodeDominant picks the most frequent code, breaking count ties toward
// the smallest code so the choice is deterministic. Empty decoded values
// report as "unknown".
func decodeDominant(counts map[uint32]int64, dict *compact.Dictionary) string {
	var best uint32
	var bestCount int64
	for code, count := range counts {
		if count > bestCount || (count == bestCount && code < best) {
			best = code
			bestCount = count
		}
	}
	if bestCount == 0 {
		return "unknown"
	}
	value, ok := dict.Value(best)
	if !ok || value == "" {
		return "unknown"
	}
	return value
}
