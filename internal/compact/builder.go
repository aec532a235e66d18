package compact

import (
	"math"
	"strconv"
	"strings"
	"time"

	serrors "github.com/shopsignal/shopsignal/internal/errors"
	"github.com/shopsignal/shopsignal/pkg/types"
)

// Options configures the compaction engine.
type Options struct {
	// MaxIDBits caps the narrowed width of the product_id and user_id
	// columns. Observed values above the cap fail the run with
	// RANGE_OVERFLOW instead of truncating. Valid: 16, 32, 64.
	MaxIDBits int

	// PriceEpsilon is the accepted relative error when prices are reduced
	// to float32. A price whose round-trip error exceeds it fails the run.
	PriceEpsilon float64
}

// DefaultOptions returns the default compaction options.
func DefaultOptions() Options {
	return Options{MaxIDBits: 64, PriceEpsilon: 1e-5}
}

// SkipStats counts records skipped under the malformed-record policy.
// Skips are never fatal; the totals are reported at end of run.
type SkipStats struct {
	MissingField int64 `json:"missing_field"`
	BadTimestamp int64 `json:"bad_timestamp"`
	UnknownKind  int64 `json:"unknown_kind"`
	BadNumber    int64 `json:"bad_number"`
}

// Total returns the total skipped-record count.
func (s SkipStats) Total() int64 {
	return s.MissingField + s.BadTimestamp + s.UnknownKind + s.BadNumber
}

func (s *SkipStats) add(o SkipStats) {
	s.MissingField += o.MissingField
	s.BadTimestamp += o.BadTimestamp
	s.UnknownKind += o.UnknownKind
	s.BadNumber += o.BadNumber
}

// Builder accumulates raw records into staged columns, then Seal narrows
// them into an immutable Batch.
type Builder struct {
	opts   Options
	idCap  uint64
	sealed bool

	times        []int64
	kinds        []uint8
	productIDs   []uint64
	maxProductID uint64
	categoryIDs  []int64
	pathCodes    []uint32
	brandCodes   []uint32
	prices       []float32
	userIDs      []uint64
	maxUserID    uint64
	sessionCodes []uint32

	pathDict    *Dictionary
	brandDict   *Dictionary
	sessionDict *Dictionary

	skip SkipStats
}

// NewBuilder creates a compaction builder.
func NewBuilder(opts Options) *Builder {
	if opts.MaxIDBits == 0 {
		opts.MaxIDBits = 64
	}
	if opts.PriceEpsilon == 0 {
		opts.PriceEpsilon = 1e-5
	}
	return &Builder{
		opts:        opts,
		idCap:       maxForWidth(Width(opts.MaxIDBits)),
		pathDict:    NewDictionary(),
		brandDict:   NewDictionary(),
		sessionDict: NewDictionary(),
	}
}

// Append parses and stages one raw record. Malformed records are skipped
// and counted. The only fatal outcomes are RANGE_OVERFLOW: an id above
// the configured width cap, or a price that cannot round-trip through
// float32 within the epsilon.
func (b *Builder) Append(rec types.RawRecord) error {
	if rec.Time == "" || rec.Kind == "" || rec.UserID == "" || rec.SessionKey == "" {
		b.skip.MissingField++
		return nil
	}

	ts, ok := parseEventTime(rec.Time)
	if !ok {
		b.skip.BadTimestamp++
		return nil
	}

	kind, ok := types.ParseEventKind(rec.Kind)
	if !ok {
		b.skip.UnknownKind++
		return nil
	}

	productID, err := strconv.ParseUint(strings.TrimSpace(rec.ProductID), 10, 64)
	if err != nil {
		b.skip.BadNumber++
		return nil
	}
	userID, err := strconv.ParseUint(strings.TrimSpace(rec.UserID), 10, 64)
	if err != nil {
		b.skip.BadNumber++
		return nil
	}
	categoryID := int64(0)
	if rec.CategoryID != "" {
		categoryID, err = strconv.ParseInt(strings.TrimSpace(rec.CategoryID), 10, 64)
		if err != nil {
			b.skip.BadNumber++
			return nil
		}
	}
	price := 0.0
	if rec.Price != "" {
		price, err = strconv.ParseFloat(strings.TrimSpace(rec.Price), 64)
		if err != nil || price < 0 || math.IsNaN(price) || math.IsInf(price, 0) {
			b.skip.BadNumber++
			return nil
		}
	}

	if productID > b.idCap {
		return serrors.NewRangeOverflow(serrors.StageCompaction, "product_id", productID, b.idCap)
	}
	if userID > b.idCap {
		return serrors.NewRangeOverflow(serrors.StageCompaction, "user_id", userID, b.idCap)
	}

	narrowed := float32(price)
	if price != 0 {
		relErr := math.Abs(float64(narrowed)-price) / price
		if relErr > b.opts.PriceEpsilon {
			return serrors.Newf(serrors.StageCompaction, serrors.CodeRangeOverflow,
				"price %g exceeds float32 relative error bound %g", price, b.opts.PriceEpsilon)
		}
	}

	b.times = append(b.times, ts.Unix())
	b.kinds = append(b.kinds, uint8(kind))
	b.productIDs = append(b.productIDs, productID)
	if productID > b.maxProductID {
		b.maxProductID = productID
	}
	b.categoryIDs = append(b.categoryIDs, categoryID)
	b.pathCodes = append(b.pathCodes, b.pathDict.Encode(rec.CategoryPath))
	b.brandCodes = append(b.brandCodes, b.brandDict.Encode(rec.Brand))
	b.prices = append(b.prices, narrowed)
	b.userIDs = append(b.userIDs, userID)
	if userID > b.maxUserID {
		b.maxUserID = userID
	}
	b.sessionCodes = append(b.sessionCodes, b.sessionDict.Encode(rec.SessionKey))
	return nil
}

// AppendEvent stages an already-parsed event, used by in-process callers
// that build events directly rather than reading raw files.
func (b *Builder) AppendEvent(ev types.Event) error {
	rec := types.RawRecord{
		Time:         ev.Time.UTC().Format(time.RFC3339),
		Kind:         ev.Kind.String(),
		ProductID:    strconv.FormatUint(ev.ProductID, 10),
		CategoryID:   strconv.FormatInt(ev.CategoryID, 10),
		CategoryPath: ev.CategoryPath,
		Brand:        ev.Brand,
		Price:        strconv.FormatFloat(ev.Price, 'g', -1, 64),
		UserID:       strconv.FormatUint(ev.UserID, 10),
		SessionKey:   ev.SessionKey,
	}
	return b.Append(rec)
}

// AddSkipped folds externally-counted skips (e.g. structurally broken
// CSV rows) into the batch skip totals.
func (b *Builder) AddSkipped(n int64) {
	b.skip.MissingField += n
}

// Seal narrows the staged columns and returns the immutable batch.
// The builder must not be appended to afterwards.
func (b *Builder) Seal() (*Batch, error) {
	if b.sealed {
		return nil, serrors.New(serrors.StageCompaction, serrors.CodeUnexpected, "builder already sealed")
	}
	b.sealed = true

	batch := &Batch{
		rows:         len(b.times),
		times:        b.times,
		kinds:        b.kinds,
		productIDs:   newUintColumn(b.productIDs, b.maxProductID),
		categoryIDs:  b.categoryIDs,
		pathCodes:    b.pathCodes,
		brandCodes:   b.brandCodes,
		prices:       b.prices,
		userIDs:      newUintColumn(b.userIDs, b.maxUserID),
		sessionCodes: b.sessionCodes,
		pathDict:     b.pathDict,
		brandDict:    b.brandDict,
		sessionDict:  b.sessionDict,
		skip:         b.skip,
	}

	// Release the staged wide columns.
	b.productIDs = nil
	b.userIDs = nil

	return batch, nil
}

// parseEventTime accepts the dataset's native format, RFC 3339, and
// epoch seconds.
func parseEventTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02 15:04:05 MST", s); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), true
	}
	return time.Time{}, false
}
