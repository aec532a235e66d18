package compact

// Width is the storage width of a narrowed integer column, in bits.
type Width uint8

const (
	Width16 Width = 16
	Width32 Width = 32
	Width64 Width = 64
)

// widthFor returns the smallest width covering max.
func widthFor(max uint64) Width {
	switch {
	case max <= 0xFFFF:
		return Width16
	case max <= 0xFFFFFFFF:
		return Width32
	default:
		return Width64
	}
}

// maxForWidth returns the largest value representable at w.
func maxForWidth(w Width) uint64 {
	switch w {
	case Width16:
		return 0xFFFF
	case Width32:
		return 0xFFFFFFFF
	default:
		return ^uint64(0)
	}
}

// UintColumn stores unsigned integers at the smallest width that covers
// the observed value range. Narrowing never truncates: values are checked
// against the width before the column is built.
type UintColumn struct {
	width Width
	u16   []uint16
	u32   []uint32
	u64   []uint64
}

// newUintColumn narrows staged values to the smallest covering width.
// The caller has already verified the values fit the configured cap.
func newUintColumn(staged []uint64, max uint64) *UintColumn {
	c := &UintColumn{width: widthFor(max)}
	switch c.width {
	case Width16:
		c.u16 = make([]uint16, len(staged))
		for i, v := range staged {
			c.u16[i] = uint16(v)
		}
	case Width32:
		c.u32 = make([]uint32, len(staged))
		for i, v := range staged {
			c.u32[i] = uint32(v)
		}
	default:
		c.u64 = append([]uint64(nil), staged...)
	}
	return c
}

// Width returns the storage width in bits.
func (c *UintColumn) Width() Width {
	return c.width
}

// Len returns the number of values.
func (c *UintColumn) Len() int {
	switch c.width {
	case Width16:
		return len(c.u16)
	case Width32:
		return len(c.u32)
	default:
		return len(c.u64)
	}
}

// Get returns the value at index i, widened to uint64.
func (c *UintColumn) Get(i int) uint64 {
	switch c.width {
	case Width16:
		return uint64(c.u16[i])
	case Width32:
		return uint64(c.u32[i])
	default:
		return c.u64[i]
	}
}
