package dimension

import "github.com/shopsignal/shopsignal/pkg/types"

// Funnel computes session-level conversion rates across the
// view -> cart -> purchase funnel. Rates with a zero denominator are
// reported as 0, not NaN.
func Funnel(sessions []types.Session) types.FunnelSummary {
	var sum types.FunnelSummary
	sum.Sessions = int64(len(sessions))

	for i := range sessions {
		s := &sessions[i]
		if s.HasView {
			sum.SessionsWithView++
		}
		if s.HasCart {
			sum.SessionsWithCart++
		}
		if s.HasPurchase {
			sum.SessionsWithPurchase++
		}
	}

	if sum.SessionsWithView > 0 {
		sum.ViewToCartRate = float64(sum.SessionsWithCart) / float64(sum.SessionsWithView)
	}
	if sum.SessionsWithCart > 0 {
		sum.CartToPurchaseRate = float64(sum.SessionsWithPurchase) / float64(sum.SessionsWithCart)
	}
	if sum.Sessions > 0 {
		sum.OverallConversion = float64(sum.SessionsWithPurchase) / float64(sum.Sessions)
	}
	return sum
}
