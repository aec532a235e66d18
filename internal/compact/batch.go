package compact

import (
	"time"

	"github.com/shopsignal/shopsignal/pkg/types"
)

// Batch is the immutable compacted columnar store over one event stream.
// All downstream stages treat it as a read-only snapshot; none of the
// accessors expose mutable internals.
type Batch struct {
	rows         int
	times        []int64
	kinds        []uint8
	productIDs   *UintColumn
	categoryIDs  []int64
	pathCodes    []uint32
	brandCodes   []uint32
	prices       []float32
	userIDs      *UintColumn
	sessionCodes []uint32

	pathDict    *Dictionary
	brandDict   *Dictionary
	sessionDict *Dictionary

	skip SkipStats
}

// Rows returns the number of compacted events.
func (b *Batch) Rows() int {
	return b.rows
}

// UnixAt returns the event timestamp at row i as Unix seconds.
func (b *Batch) UnixAt(i int) int64 {
	return b.times[i]
}

// TimeAt returns the event timestamp at row i.
func (b *Batch) TimeAt(i int) time.Time {
	return time.Unix(b.times[i], 0).UTC()
}

// KindAt returns the event kind at row i.
func (b *Batch) KindAt(i int) types.EventKind {
	return types.EventKind(b.kinds[i])
}

// ProductAt returns the product id at row i.
func (b *Batch) ProductAt(i int) uint64 {
	return b.productIDs.Get(i)
}

// CategoryAt returns the category id at row i.
func (b *Batch) CategoryAt(i int) int64 {
	return b.categoryIDs[i]
}

// PathCodeAt returns the dictionary code of the category path at row i.
func (b *Batch) PathCodeAt(i int) uint32 {
	return b.pathCodes[i]
}

// PathAt decodes the category path at row i.
func (b *Batch) PathAt(i int) string {
	v, _ := b.pathDict.Value(b.pathCodes[i])
	return v
}

// BrandCodeAt returns the dictionary code of the brand at row i.
func (b *Batch) BrandCodeAt(i int) uint32 {
	return b.brandCodes[i]
}

// BrandAt decodes the brand at row i.
func (b *Batch) BrandAt(i int) string {
	v, _ := b.brandDict.Value(b.brandCodes[i])
	return v
}

// PriceAt returns the price at row i, widened to float64.
func (b *Batch) PriceAt(i int) float64 {
	return float64(b.prices[i])
}

// UserAt returns the user id at row i.
func (b *Batch) UserAt(i int) uint64 {
	return b.userIDs.Get(i)
}

// SessionCodeAt returns the dictionary code of the session key at row i.
func (b *Batch) SessionCodeAt(i int) uint32 {
	return b.sessionCodes[i]
}

// SessionKeyAt decodes the session key at row i.
func (b *Batch) SessionKeyAt(i int) string {
	v, _ := b.sessionDict.Value(b.sessionCodes[i])
	return v
}

// PathDict returns the category-path dictionary.
func (b *Batch) PathDict() *Dictionary {
	return b.pathDict
}

// BrandDict returns the brand dictionary.
func (b *Batch) BrandDict() *Dictionary {
	return b.brandDict
}

// SessionDict returns the session-key dictionary.
func (b *Batch) SessionDict() *Dictionary {
	return b.sessionDict
}

// ProductWidth returns the narrowed width of the product id column.
func (b *Batch) ProductWidth() Width {
	return b.productIDs.Width()
}

// UserWidth returns the narrowed width of the user id column.
func (b *Batch) UserWidth() Width {
	return b.userIDs.Width()
}

// Skipped returns the malformed-record skip totals for the run.
func (b *Batch) Skipped() SkipStats {
	return b.skip
}
