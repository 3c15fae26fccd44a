// Package bitstream exposes a byte buffer as a finite sequence of bits,
// most-significant bit first. The view is a cursor over the caller's
// buffer; it never copies or materialises the bits and can be rewound
// and replayed any number of times.
package bitstream

// View iterates over the bits of a byte buffer in MSB-first order.
// A View derived from an n-byte buffer yields exactly 8*n bits.
// The zero value of View is an exhausted view over no data.
type View struct {
	data []byte
	pos  int // absolute bit position, 0 <= pos <= 8*len(data)
}

// New returns a View positioned at the first bit of data. The buffer is
// not copied; callers must not mutate it while the view is in use.
func New(data []byte) *View {
	return &View{data: data}
}

// Next returns the next bit (0 or 1) and true, or (0, false) once the
// view is exhausted.
func (v *View) Next() (byte, bool) {
	if v.pos >= len(v.data)*8 {
		return 0, false
	}

	b := v.data[v.pos/8]
	bit := (b >> (7 - uint(v.pos%8))) & 1
	v.pos++
	return bit, true
}

// Reset rewinds the view to the first bit.
func (v *View) Reset() {
	v.pos = 0
}

// Len returns the total number of bits the view yields over a full pass.
func (v *View) Len() int {
	return len(v.data) * 8
}

// Remaining returns the number of bits not yet consumed.
func (v *View) Remaining() int {
	return len(v.data)*8 - v.pos
}
