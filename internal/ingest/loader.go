// Package ingest provides streaming readers for raw behavioral event files.
// The reader never materializes the input; it yields one record at a time
// and skips structurally broken rows, counting them.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopsignal/shopsignal/pkg/types"
)

// Column names expected in the input header, matching the public dataset
// schema. Order in the file is irrelevant; columns are resolved by name.
const (
	colEventTime    = "event_time"
	colEventType    = "event_type"
	colProductID    = "product_id"
	colCategoryID   = "category_id"
	colCategoryCode = "category_code"
	colBrand        = "brand"
	colPrice        = "price"
	colUserID       = "user_id"
	colUserSession  = "user_session"
)

var requiredColumns = []string{
	colEventTime, colEventType, colProductID, colCategoryID,
	colPrice, colUserID, colUserSession,
}

// Reader streams RawRecords from a CSV event file.
type Reader struct {
	csv     *csv.Reader
	closer  io.Closer
	cols    map[string]int
	line    int64
	skipped int64
}

// Open opens a CSV event file and reads its header.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: failed to open input: %w", err)
	}

	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// NewReader wraps an io.Reader of CSV event data and reads its header.
func NewReader(r io.Reader) (*Reader, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("ingest: failed to read header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(strings.ToLower(name))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("ingest: input header missing column %q", name)
		}
	}

	return &Reader{csv: cr, cols: cols, line: 1}, nil
}

// Next returns the next record. Structurally broken rows (wrong field
// count, quoting errors) are skipped and counted, never aborting the
// stream. Returns io.EOF at end of input.
func (r *Reader) Next() (types.RawRecord, error) {
	for {
		row, err := r.csv.Read()
		r.line++
		if err == io.EOF {
			return types.RawRecord{}, io.EOF
		}
		if err != nil {
			if _, ok := err.(*csv.ParseError); ok {
				r.skipped++
				continue
			}
			return types.RawRecord{}, fmt.Errorf("ingest: read failed at line %d: %w", r.line, err)
		}

		return types.RawRecord{
			Time:         r.field(row, colEventTime),
			Kind:         r.field(row, colEventType),
			ProductID:    r.field(row, colProductID),
			CategoryID:   r.field(row, colCategoryID),
			CategoryPath: r.field(row, colCategoryCode),
			Brand:        r.field(row, colBrand),
			Price:        r.field(row, colPrice),
			UserID:       r.field(row, colUserID),
			SessionKey:   r.field(row, colUserSession),
			Line:         r.line,
		}, nil
	}
}

// Skipped returns the count of structurally broken rows skipped so far.
func (r *Reader) Skipped() int64 {
	return r.skipped
}

// Close closes the underlying file, if the reader owns one.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

func (r *Reader) field(row []string, name string) string {
	idx, ok := r.cols[name]
	if !ok || idx >= len(row) {
		return ""
	}
	return row[idx]
}
