package protocol

import "encoding/hex"

// BitmapBlockSize is the size of one bitmap block (64 bits)
const BitmapBlockSize = 8

// Bitmap holds the primary and secondary presence blocks. Read-only methods
// take a value so a computed bitmap can be queried directly. Bit n (1-indexed,
// most significant bit of byte 0 is bit 1) marks field n as present; bit 1
// marks the secondary block as present.
type Bitmap [2 * BitmapBlockSize]byte

// Set marks field n present. Setting any field above 64 also sets bit 1.
// Numbers outside 2..128 are ignored.
func (b *Bitmap) Set(n int) {
	if n < 2 || n > MaxField {
		return
	}
	b.set(n)
	if n > 64 {
		b.set(1)
	}
}

func (b *Bitmap) set(n int) {
	b[(n-1)/8] |= 0x80 >> ((n - 1) % 8)
}

// Has reports whether bit n is set
func (b Bitmap) Has(n int) bool {
	if n < 1 || n > MaxField {
		return false
	}
	return b[(n-1)/8]&(0x80>>((n-1)%8)) != 0
}

// HasSecondary reports whether the secondary block is present
func (b Bitmap) HasSecondary() bool {
	return b.Has(1)
}

// Size is the number of bitmap bytes on the wire (8 or 16)
func (b Bitmap) Size() int {
	if b.HasSecondary() {
		return 2 * BitmapBlockSize
	}
	return BitmapBlockSize
}

// Bytes returns the wire form of the bitmap
func (b Bitmap) Bytes() []byte {
	return b[:b.Size()]
}

// Fields lists the data elements marked present (2..128), ascending
func (b Bitmap) Fields() []int {
	var fields []int
	last := BitmapBlockSize * 8
	if b.HasSecondary() {
		last = MaxField
	}
	for n := 2; n <= last; n++ {
		if b.Has(n) {
			fields = append(fields, n)
		}
	}
	return fields
}

func (b Bitmap) String() string {
	return hex.EncodeToString(b.Bytes())
}
