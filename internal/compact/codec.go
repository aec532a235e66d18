package compact

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"

	"github.com/golang/snappy"

	serrors "github.com/shopsignal/shopsignal/internal/errors"
)

// Batch file layout: magic, version, JSON header, then snappy-compressed
// column blocks in a fixed order, each length-prefixed and checksummed.
var batchMagic = [4]byte{'S', 'S', 'B', 'F'}

const batchVersion = 1

// batchHeader is the JSON header of a batch file.
type batchHeader struct {
	Rows         int       `json:"rows"`
	ProductWidth Width     `json:"product_width"`
	UserWidth    Width     `json:"user_width"`
	Skip         SkipStats `json:"skip"`
}

// Save writes the batch to path. The file is self-contained: columns,
// dictionaries, and skip stats all round-trip exactly.
func Save(b *Batch, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return serrors.Wrap(serrors.StageCompaction, serrors.CodeWriteFailed, "failed to create batch file", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)

	if _, err := w.Write(batchMagic[:]); err != nil {
		return fmt.Errorf("compact: write magic: %w", err)
	}
	if err := w.WriteByte(batchVersion); err != nil {
		return fmt.Errorf("compact: write version: %w", err)
	}

	header, err := json.Marshal(batchHeader{
		Rows:         b.rows,
		ProductWidth: b.productIDs.Width(),
		UserWidth:    b.userIDs.Width(),
		Skip:         b.skip,
	})
	if err != nil {
		return fmt.Errorf("compact: marshal header: %w", err)
	}
	if err := writeBlock(w, header); err != nil {
		return err
	}

	blocks := [][]byte{
		encodeInt64s(b.times),
		b.kinds,
		encodeUintColumn(b.productIDs),
		encodeInt64s(b.categoryIDs),
		encodeUint32s(b.pathCodes),
		encodeUint32s(b.brandCodes),
		encodeFloat32s(b.prices),
		encodeUintColumn(b.userIDs),
		encodeUint32s(b.sessionCodes),
		encodeStrings(b.pathDict.values),
		encodeStrings(b.brandDict.values),
		encodeStrings(b.sessionDict.values),
	}
	for _, raw := range blocks {
		if err := writeBlock(w, raw); err != nil {
			return err
		}
	}

	if err := w.Flush(); err != nil {
		return serrors.Wrap(serrors.StageCompaction, serrors.CodeWriteFailed, "failed to flush batch file", err)
	}
	return f.Sync()
}

// Load reads a batch file written by Save.
func Load(path string) (*Batch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, serrors.Wrap(serrors.StageCompaction, serrors.CodeCorruptBatch, "failed to open batch file", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)

	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, corrupt("short magic", err)
	}
	if magic != batchMagic {
		return nil, corrupt(fmt.Sprintf("bad magic %q", magic[:]), nil)
	}
	version, err := r.ReadByte()
	if err != nil {
		return nil, corrupt("short version", err)
	}
	if version != batchVersion {
		return nil, corrupt(fmt.Sprintf("unsupported batch version %d", version), nil)
	}

	headerRaw, err := readBlock(r)
	if err != nil {
		return nil, err
	}
	var header batchHeader
	if err := json.Unmarshal(headerRaw, &header); err != nil {
		return nil, corrupt("bad header", err)
	}

	raws := make([][]byte, 12)
	for i := range raws {
		if raws[i], err = readBlock(r); err != nil {
			return nil, err
		}
	}

	b := &Batch{
		rows:         header.Rows,
		times:        decodeInt64s(raws[0]),
		kinds:        raws[1],
		productIDs:   decodeUintColumn(raws[2], header.ProductWidth),
		categoryIDs:  decodeInt64s(raws[3]),
		pathCodes:    decodeUint32s(raws[4]),
		brandCodes:   decodeUint32s(raws[5]),
		prices:       decodeFloat32s(raws[6]),
		userIDs:      decodeUintColumn(raws[7], header.UserWidth),
		sessionCodes: decodeUint32s(raws[8]),
		skip:         header.Skip,
	}

	var ok bool
	if b.pathDict, ok = decodeDict(raws[9]); !ok {
		return nil, corrupt("bad category_path dictionary", nil)
	}
	if b.brandDict, ok = decodeDict(raws[10]); !ok {
		return nil, corrupt("bad brand dictionary", nil)
	}
	if b.sessionDict, ok = decodeDict(raws[11]); !ok {
		return nil, corrupt("bad session dictionary", nil)
	}

	if len(b.times) != b.rows || b.productIDs.Len() != b.rows || b.userIDs.Len() != b.rows {
		return nil, corrupt("column length mismatch", nil)
	}
	return b, nil
}

func corrupt(msg string, cause error) error {
	if cause != nil {
		return serrors.Wrap(serrors.StageCompaction, serrors.CodeCorruptBatch, msg, cause)
	}
	return serrors.New(serrors.StageCompaction, serrors.CodeCorruptBatch, msg)
}

// writeBlock writes one snappy-compressed, checksummed block.
func writeBlock(w *bufio.Writer, raw []byte) error {
	compressed := snappy.Encode(nil, raw)

	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(compressed)))
	if _, err := w.Write(lenBuf[:n]); err != nil {
		return fmt.Errorf("compact: write block length: %w", err)
	}

	var crcBuf [4]byte
	binary.LittleEndian.PutUint32(crcBuf[:], crc32.ChecksumIEEE(raw))
	if _, err := w.Write(crcBuf[:]); err != nil {
		return fmt.Errorf("compact: write block checksum: %w", err)
	}

	if _, err := w.Write(compressed); err != nil {
		return fmt.Errorf("compact: write block payload: %w", err)
	}
	return nil
}

// readBlock reads one block and verifies its checksum.
func readBlock(r *bufio.Reader) ([]byte, error) {
	length, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, corrupt("short block length", err)
	}

	var crcBuf [4]byte
	if _, err := io.ReadFull(r, crcBuf[:]); err != nil {
		return nil, corrupt("short block checksum", err)
	}
	want := binary.LittleEndian.Uint32(crcBuf[:])

	compressed := make([]byte, length)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return nil, corrupt("short block payload", err)
	}

	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, corrupt("snappy decode failed", err)
	}
	if crc32.ChecksumIEEE(raw) != want {
		return nil, corrupt("block checksum mismatch", nil)
	}
	return raw, nil
}

func encodeInt64s(vals []int64) []byte {
	out := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(out[i*8:], uint64(v))
	}
	return out
}

func decodeInt64s(raw []byte) []int64 {
	out := make([]int64, len(raw)/8)
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(raw[i*8:]))
	}
	return out
}

func encodeUint32s(vals []uint32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*4:], v)
	}
	return out
}

func decodeUint32s(raw []byte) []uint32 {
	out := make([]uint32, len(raw)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	return out
}

func encodeFloat32s(vals []float32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func decodeFloat32s(raw []byte) []float32 {
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out
}

func encodeUintColumn(c *UintColumn) []byte {
	switch c.width {
	case Width16:
		out := make([]byte, 2*len(c.u16))
		for i, v := range c.u16 {
			binary.LittleEndian.PutUint16(out[i*2:], v)
		}
		return out
	case Width32:
		out := make([]byte, 4*len(c.u32))
		for i, v := range c.u32 {
			binary.LittleEndian.PutUint32(out[i*4:], v)
		}
		return out
	default:
		out := make([]byte, 8*len(c.u64))
		for i, v := range c.u64 {
			binary.LittleEndian.PutUint64(out[i*8:], v)
		}
		return out
	}
}

func decodeUintColumn(raw []byte, w Width) *UintColumn {
	c := &UintColumn{width: w}
	switch w {
	case Width16:
		c.u16 = make([]uint16, len(raw)/2)
		for i := range c.u16 {
			c.u16[i] = binary.LittleEndian.Uint16(raw[i*2:])
		}
	case Width32:
		c.u32 = make([]uint32, len(raw)/4)
		for i := range c.u32 {
			c.u32[i] = binary.LittleEndian.Uint32(raw[i*4:])
		}
	default:
		c.u64 = make([]uint64, len(raw)/8)
		for i := range c.u64 {
			c.u64[i] = binary.LittleEndian.Uint64(raw[i*8:])
		}
	}
	return c
}

// encodeStrings packs a dictionary arena as uvarint count then
// length-prefixed values.
func encodeStrings(vals []string) []byte {
	var buf []byte
	var tmp [binary.MaxVarintLen64]byte

	n := binary.PutUvarint(tmp[:], uint64(len(vals)))
	buf = append(buf, tmp[:n]...)
	for _, v := range vals {
		n = binary.PutUvarint(tmp[:], uint64(len(v)))
		buf = append(buf, tmp[:n]...)
		buf = append(buf, v...)
	}
	return buf
}

func decodeDict(raw []byte) (*Dictionary, bool) {
	count, n := binary.Uvarint(raw)
	if n <= 0 {
		return nil, false
	}
	raw = raw[n:]

	values := make([]string, 0, count)
	for i := uint64(0); i < count; i++ {
		length, n := binary.Uvarint(raw)
		if n <= 0 || uint64(len(raw[n:])) < length {
			return nil, false
		}
		raw = raw[n:]
		values = append(values, string(raw[:length]))
		raw = raw[length:]
	}
	return dictionaryFromValues(values), true
}
