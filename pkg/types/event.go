// Package types provides the core data types shared across the ShopSignal
// pipeline stages.
package types

import "time"

// EventKind identifies the behavioral action recorded by an event.
type EventKind uint8

const (
	KindView EventKind = iota
	KindCart
	KindRemoveFromCart
	KindPurchase

	// KindInvalid marks an unrecognized event kind string.
	KindInvalid EventKind = 255
)

// eventKindNames maps kinds to their wire strings.
var eventKindNames = [...]string{
	KindView:           "view",
	KindCart:           "cart",
	KindRemoveFromCart: "remove_from_cart",
	KindPurchase:       "purchase",
}

// String returns the wire representation of the kind.
func (k EventKind) String() string {
	if int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return "invalid"
}

// ParseEventKind maps a wire string to its EventKind.
// The second return value is false for unrecognized strings.
func ParseEventKind(s string) (EventKind, bool) {
	switch s {
	case "view":
		return KindView, true
	case "cart":
		return KindCart, true
	case "remove_from_cart":
		return KindRemoveFromCart, true
	case "purchase":
		return KindPurchase, true
	default:
		return KindInvalid, false
	}
}

// Event is a single raw behavioral event. Events have no surrogate id;
// identity is the combination of all fields plus ingestion order.
type Event struct {
	// Time is when the event occurred (UTC).
	Time time.Time

	// Kind is the behavioral action.
	Kind EventKind

	// ProductID identifies the product acted on.
	ProductID uint64

	// CategoryID is the numeric category identifier.
	CategoryID int64

	// CategoryPath is the dotted category hierarchy, empty when unknown.
	CategoryPath string

	// Brand is the product brand, empty when unknown.
	Brand string

	// Price is the product price at event time.
	Price float64

	// UserID identifies the acting user.
	UserID uint64

	// SessionKey groups events into a browsing session.
	SessionKey string
}

// DayNumber returns the UTC calendar day of t as days since the Unix epoch.
// Used for distinct-date counting and recency arithmetic.
func DayNumber(t time.Time) int64 {
	return t.Unix() / 86400
}

// DayString formats a day number as an ISO calendar date.
func DayString(day int64) string {
	return time.Unix(day*86400, 0).UTC().Format("2006-01-02")
}
