// Package affinity mines pairwise product co-purchase rules from
// purchase sessions: support, confidence, and lift per unordered pair.
package affinity

import (
	"sort"

	"github.com/shopsignal/shopsignal/internal/compact"
	"github.com/shopsignal/shopsignal/pkg/types"
)

// Options configures the miner.
type Options struct {
	// MinSupport is the minimum pair count for an emitted rule.
	MinSupport int64

	// MinLift is the exclusive lower bound on emitted rule lift. Rules
	// at exactly MinLift are dropped.
	MinLift float64

	// MaxBasketSize caps pair generation per session. Baskets above the
	// cap keep their MaxBasketSize smallest product ids; the rest are
	// dropped deterministically and counted. Bounds the quadratic cost
	// of a bulk-cart outlier.
	MaxBasketSize int
}

// DefaultOptions returns the default mining thresholds.
func DefaultOptions() Options {
	return Options{MinSupport: 3, MinLift: 1.2, MaxBasketSize: 64}
}

// Result holds the mined rules plus run counters.
type Result struct {
	Rules []types.AffinityRule

	// PurchaseSessions is the number of sessions with at least one
	// purchase, the denominator of the lift calculation.
	PurchaseSessions int64

	// TruncatedBaskets counts sessions whose basket exceeded the cap.
	TruncatedBaskets int64
}

type pairKey struct {
	a, b uint64
}

// Mine scans purchase events grouped by session and produces ranked
// rules. Output ordering is fully deterministic: lift descending, then
// pair count descending, then (a, b) ascending.
func Mine(batch *compact.Batch, opts Options) (*Result, error) {
	if opts.MinSupport < 1 {
		opts.MinSupport = 1
	}
	if opts.MaxBasketSize < 2 {
		opts.MaxBasketSize = 2
	}

	// Distinct purchased products per session. Only the purchase-session
	// key set is materialized, never the raw event stream.
	baskets := make(map[uint32]map[uint64]struct{})
	rows := batch.Rows()
	for i := 0; i < rows; i++ {
		if batch.KindAt(i) != types.KindPurchase {
			continue
		}
		code := batch.SessionCodeAt(i)
		basket, ok := baskets[code]
		if !ok {
			basket = make(map[uint64]struct{})
			baskets[code] = basket
		}
		basket[batch.ProductAt(i)] = struct{}{}
	}

	res := &Result{PurchaseSessions: int64(len(baskets))}

	// Session counts per product, and pair counts.
	productCount := make(map[uint64]int64)
	pairCount := make(map[pairKey]int64)

	for _, basket := range baskets {
		products := make([]uint64, 0, len(basket))
		for p := range basket {
			products = append(products, p)
		}
		sort.Slice(products, func(i, j int) bool { return products[i] < products[j] })

		for _, p := range products {
			productCount[p]++
		}

		if len(products) < 2 {
			continue
		}
		if len(products) > opts.MaxBasketSize {
			products = products[:opts.MaxBasketSize]
			res.TruncatedBaskets++
		}

		for i := 0; i < len(products); i++ {
			for j := i + 1; j < len(products); j++ {
				pairCount[pairKey{products[i], products[j]}]++
			}
		}
	}

	total := float64(res.PurchaseSessions)
	for key, count := range pairCount {
		if count < opts.MinSupport {
			continue
		}
		confidence := float64(count) / float64(productCount[key.a])
		lift := confidence / (float64(productCount[key.b]) / total)
		if lift <= opts.MinLift {
			continue
		}
		res.Rules = append(res.Rules, types.AffinityRule{
			ProductA:   key.a,
			ProductB:   key.b,
			PairCount:  count,
			Confidence: confidence,
			Lift:       lift,
		})
	}

	sort.Slice(res.Rules, func(i, j int) bool {
		a, b := &res.Rules[i], &res.Rules[j]
		if a.Lift != b.Lift {
			return a.Lift > b.Lift
		}
		if a.PairCount != b.PairCount {
			return a.PairCount > b.PairCount
		}
		if a.ProductA != b.ProductA {
			return a.ProductA < b.ProductA
		}
		return a.ProductB < b.ProductB
	})

	return res, nil
}
