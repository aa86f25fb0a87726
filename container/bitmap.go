package container

import "github.com/bits-and-blooms/bitset"

// Bitmap is a fixed-size set of flags, one per window slot.
type Bitmap struct {
	bits *bitset.BitSet
	size uint
}

func New(size int) *Bitmap {
	return &Bitmap{
		bits: bitset.New(uint(size)),
		size: uint(size),
	}
}

// Set marks index. Indexes outside the bitmap panic rather than grow it.
func (m *Bitmap) Set(index int) {
	m.checkIndex(index)
	m.bits.Set(uint(index))
}

func (m *Bitmap) Clear(index int) {
	m.checkIndex(index)
	m.bits.Clear(uint(index))
}

func (m *Bitmap) Get(index int) bool {
	m.checkIndex(index)
	return m.bits.Test(uint(index))
}

func (m *Bitmap) ClearAll() {
	m.bits.ClearAll()
}

// Count is the number of marked slots.
func (m *Bitmap) Count() int {
	return int(m.bits.Count())
}

func (m *Bitmap) checkIndex(index int) {
	if index < 0 || uint(index) >= m.size {
		panic("bitmap index out of range")
	}
}
