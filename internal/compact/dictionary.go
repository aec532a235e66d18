// Package compact implements the compaction engine: it narrows raw event
// fields to minimal-width columns, dictionary-encodes categorical fields,
// and seals the result into an immutable columnar batch.
package compact

// Dictionary assigns dense integer codes to distinct string values in
// first-seen order. Codes are stable: two passes over the same input in
// the same order produce identical codes.
type Dictionary struct {
	codes  map[string]uint32
	values []string
}

// NewDictionary creates an empty dictionary.
func NewDictionary() *Dictionary {
	return &Dictionary{codes: make(map[string]uint32)}
}

// Encode returns the code for v, assigning the next code if unseen.
func (d *Dictionary) Encode(v string) uint32 {
	if code, ok := d.codes[v]; ok {
		return code
	}
	code := uint32(len(d.values))
	d.codes[v] = code
	d.values = append(d.values, v)
	return code
}

// Code returns the code for v without assigning.
func (d *Dictionary) Code(v string) (uint32, bool) {
	code, ok := d.codes[v]
	return code, ok
}

// Value decodes a code back to its original string. The decode is exact:
// code <-> string is a bijection.
func (d *Dictionary) Value(code uint32) (string, bool) {
	if int(code) >= len(d.values) {
		return "", false
	}
	return d.values[code], true
}

// Len returns the number of distinct values.
func (d *Dictionary) Len() int {
	return len(d.values)
}

// Values returns a copy of the code-ordered value arena.
func (d *Dictionary) Values() []string {
	out := make([]string, len(d.values))
	copy(out, d.values)
	return out
}

// dictionaryFromValues rebuilds a dictionary from its value arena, used
// when loading a batch from disk.
func dictionaryFromValues(values []string) *Dictionary {
	d := &Dictionary{
		codes:  make(map[string]uint32, len(values)),
		values: values,
	}
	for i, v := range values {
		d.codes[v] = uint32(i)
	}
	return d
}
