package compact

import (
	"strconv"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/shopsignal/shopsignal/pkg/types"
)

// TestProperty_DictionaryRoundTrip validates the compaction round-trip
// invariant: decoding every assigned code reproduces the original string
// exactly, for all distinct input values.
func TestProperty_DictionaryRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("decode(encode(v)) == v for every value", prop.ForAll(
		func(values []string) bool {
			d := NewDictionary()
			for _, v := range values {
				code := d.Encode(v)
				got, ok := d.Value(code)
				if !ok || got != v {
					return false
				}
			}
			// Every distinct value decodes exactly after the full pass too.
			for _, v := range values {
				code, ok := d.Code(v)
				if !ok {
					return false
				}
				got, ok := d.Value(code)
				if !ok || got != v {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AnyString()),
	))

	properties.Property("codes are dense and first-seen ordered", prop.ForAll(
		func(values []string) bool {
			d := NewDictionary()
			seen := make(map[string]uint32)
			next := uint32(0)
			for _, v := range values {
				code := d.Encode(v)
				if want, ok := seen[v]; ok {
					if code != want {
						return false
					}
					continue
				}
				if code != next {
					return false
				}
				seen[v] = code
				next++
			}
			return d.Len() == len(seen)
		},
		gen.SliceOf(gen.AnyString()),
	))

	properties.TestingRun(t)
}

// TestProperty_CompactionDeterminism validates that two runs over the same
// input in the same order yield identical dictionaries and narrowed values.
func TestProperty_CompactionDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("two passes produce identical batches", prop.ForAll(
		func(products []uint32, sessions []uint8) bool {
			build := func() *Batch {
				b := NewBuilder(DefaultOptions())
				for i, p := range products {
					session := "s"
					if len(sessions) > 0 {
						session = string(rune('a' + int(sessions[i%len(sessions)]%26)))
					}
					if err := b.Append(rawEventForProp(uint64(p), session)); err != nil {
						return nil
					}
				}
				batch, err := b.Seal()
				if err != nil {
					return nil
				}
				return batch
			}

			a, b := build(), build()
			if a == nil || b == nil {
				return false
			}
			if a.Rows() != b.Rows() || a.ProductWidth() != b.ProductWidth() {
				return false
			}
			for i := 0; i < a.Rows(); i++ {
				if a.ProductAt(i) != b.ProductAt(i) || a.SessionCodeAt(i) != b.SessionCodeAt(i) {
					return false
				}
			}
			av, bv := a.SessionDict().Values(), b.SessionDict().Values()
			if len(av) != len(bv) {
				return false
			}
			for i := range av {
				if av[i] != bv[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.UInt32()),
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}

func rawEventForProp(product uint64, session string) types.RawRecord {
	return types.RawRecord{
		Time:       "2019-10-01 00:00:00 UTC",
		Kind:       "view",
		ProductID:  strconv.FormatUint(product, 10),
		CategoryID: "1",
		Price:      "9.99",
		UserID:     "1",
		SessionKey: session,
	}
}
