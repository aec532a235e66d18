package types

import "time"

// Session is the per-session aggregate derived from the compacted batch.
type Session struct {
	SessionKey       string
	UserID           uint64
	Start            time.Time
	End              time.Time
	EventCount       int64
	DistinctProducts int64
	HasView          bool
	HasCart          bool
	HasRemove        bool
	HasPurchase      bool
	Revenue          float64
}

// DurationSeconds returns the session length in whole seconds.
func (s *Session) DurationSeconds() int64 {
	return int64(s.End.Sub(s.Start) / time.Second)
}

// User is the per-user lifetime aggregate.
type User struct {
	UserID        uint64
	FirstSeen     time.Time
	LastSeen      time.Time
	EventCount    int64
	PurchaseCount int64
	SessionCount  int64
	TotalSpend    float64
	IsBuyer       bool
}

// Product holds the latest known attributes of a product. Ties on equal
// timestamps resolve to the higher batch offset (last write wins).
type Product struct {
	ProductID    uint64
	CategoryID   int64
	CategoryPath string
	Brand        string
	Price        float64
}

// DailyKPI is one row of the daily aggregate table. Day is a UTC day
// number (see DayNumber); dates with zero events are omitted.
type DailyKPI struct {
	Day         int64
	Events      int64
	ActiveUsers int64
	Sessions    int64
	Views       int64
	Carts       int64
	Purchases   int64
	Revenue     float64
}

// FunnelSummary holds session-level conversion rates across the
// view -> cart -> purchase funnel.
type FunnelSummary struct {
	Sessions             int64
	SessionsWithView     int64
	SessionsWithCart     int64
	SessionsWithPurchase int64
	ViewToCartRate       float64
	CartToPurchaseRate   float64
	OverallConversion    float64
}

// RFMProfile is the recency-frequency-monetary profile of one purchasing
// user, rebuilt fully on each run.
type RFMProfile struct {
	UserID      uint64
	RecencyDays int64
	Frequency   int64
	Monetary    float64
	R           int
	F           int
	M           int
	Code        string
	Segment     string
}

// AffinityRule is one mined co-purchase association, ProductA < ProductB.
type AffinityRule struct {
	ProductA   uint64
	ProductB   uint64
	PairCount  int64
	Confidence float64
	Lift       float64
}

// FeatureVector holds the leakage-free per-user features for one
// observation/prediction window pair, plus the binary label.
type FeatureVector struct {
	UserID             uint64
	Events             int64
	Views              int64
	Carts              int64
	Removes            int64
	Purchases          int64
	Sessions           int64
	ActiveDays         int64
	ActiveSpanDays     int64
	RecencyDays        int64
	MeanSessionSeconds float64
	DominantCategory   string
	DominantBrand      string
	PriorPurchase      bool
	Label              int
}

// RetentionCell is one cell of the weekly cohort retention matrix.
type RetentionCell struct {
	CohortWeek      int64 // UTC day number of the cohort week's Monday
	CohortSize      int64
	WeeksSinceFirst int64
	ActiveUsers     int64
	RetentionRate   float64
}

// ChurnStatus classifies a user's inactivity as of the run's reference date.
type ChurnStatus string

const (
	ChurnActive  ChurnStatus = "Active"
	ChurnAtRisk  ChurnStatus = "AtRisk"
	ChurnChurned ChurnStatus = "Churned"
)

// ChurnRecord pairs a user with their inactivity classification.
type ChurnRecord struct {
	UserID       uint64
	LastSeen     time.Time
	DaysInactive int64
	Status       ChurnStatus
}
