package permission

import "math/bits"

// Mask is a fixed-width permission bitset. Bits outside the width are ignored.
type Mask interface {
	Has(bit int) bool
	Set(bit int)
	Clear(bit int)
	Count() int
	Width() int
}

// Mask64 covers catalogs of up to 64 permissions.
type Mask64 uint64

// Mask128 covers catalogs of up to 128 permissions.
type Mask128 [2]uint64

// Mask256 covers catalogs of up to 256 permissions.
type Mask256 [4]uint64

// Mask512 covers catalogs of up to 512 permissions.
type Mask512 [8]uint64

// NewMask returns an empty mask of the given width, or nil for an unsupported width.
func NewMask(width int) Mask {
	switch width {
	case 64:
		return new(Mask64)
	case 128:
		return new(Mask128)
	case 256:
		return new(Mask256)
	case 512:
		return new(Mask512)
	}
	return nil
}

func validWidth(width int) bool {
	return width == 64 || width == 128 || width == 256 || width == 512
}

func (m *Mask64) Has(bit int) bool {
	if bit < 0 || bit >= 64 {
		return false
	}
	return *m&(1<<bit) != 0
}

func (m *Mask64) Set(bit int) {
	if bit < 0 || bit >= 64 {
		return
	}
	*m |= 1 << bit
}

func (m *Mask64) Clear(bit int) {
	if bit < 0 || bit >= 64 {
		return
	}
	*m &^= 1 << bit
}

func (m *Mask64) Count() int { return bits.OnesCount64(uint64(*m)) }
func (m *Mask64) Width() int { return 64 }

func (m *Mask128) Has(bit int) bool { return wordsHas(m[:], bit) }
func (m *Mask128) Set(bit int)      { wordsSet(m[:], bit) }
func (m *Mask128) Clear(bit int)    { wordsClear(m[:], bit) }
func (m *Mask128) Count() int       { return wordsCount(m[:]) }
func (m *Mask128) Width() int       { return 128 }

func (m *Mask256) Has(bit int) bool { return wordsHas(m[:], bit) }
func (m *Mask256) Set(bit int)      { wordsSet(m[:], bit) }
func (m *Mask256) Clear(bit int)    { wordsClear(m[:], bit) }
func (m *Mask256) Count() int       { return wordsCount(m[:]) }
func (m *Mask256) Width() int       { return 256 }

func (m *Mask512) Has(bit int) bool { return wordsHas(m[:], bit) }
func (m *Mask512) Set(bit int)      { wordsSet(m[:], bit) }
func (m *Mask512) Clear(bit int)    { wordsClear(m[:], bit) }
func (m *Mask512) Count() int       { return wordsCount(m[:]) }
func (m *Mask512) Width() int       { return 512 }

func wordsHas(words []uint64, bit int) bool {
	if bit < 0 || bit >= len(words)*64 {
		return false
	}
	return words[bit/64]&(1<<(bit%64)) != 0
}

func wordsSet(words []uint64, bit int) {
	if bit < 0 || bit >= len(words)*64 {
		return
	}
	words[bit/64] |= 1 << (bit % 64)
}

func wordsClear(words []uint64, bit int) {
	if bit < 0 || bit >= len(words)*64 {
		return
	}
	words[bit/64] &^= 1 << (bit % 64)
}

func wordsCount(words []uint64) int {
	n := 0
	for _, w := range words {
		n += bits.OnesCount64(w)
	}
	return n
}
