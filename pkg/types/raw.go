package types

// RawRecord is an unvalidated event record as read from the input stream.
// All fields are raw strings; the compaction engine owns parsing and the
// malformed-record policy.
type RawRecord struct {
	Time         string
	Kind         string
	ProductID    string
	CategoryID   string
	CategoryPath string
	Brand        string
	Price        string
	UserID       string
	SessionKey   string

	// Line is the 1-based input line, carried for diagnostics.
	Line int64
}
