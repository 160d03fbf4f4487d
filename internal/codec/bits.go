package codec

import "errors"

// ErrShort is returned when a header or parameter set ends early.
var ErrShort = errors.New("codec: truncated bitstream")

// bitReader reads MSB-first. The first read past the end sets err and
// every later read returns zero.
type bitReader struct {
	b   []byte
	pos int
	err error
}

func (r *bitReader) bit() uint {
	if r.err != nil {
		return 0
	}
	if r.pos >= len(r.b)*8 {
		r.err = ErrShort
		return 0
	}
	v := uint(r.b[r.pos/8]>>(7-r.pos%8)) & 1
	r.pos++
	return v
}

func (r *bitReader) bits(n int) uint {
	var v uint
	for range n {
		v = v<<1 | r.bit()
	}
	return v
}

func (r *bitReader) flag() bool { return r.bit() == 1 }

func (r *bitReader) skip(n int) { r.bits(n) }

// ue reads an unsigned Exp-Golomb code.
func (r *bitReader) ue() uint {
	zeros := 0
	for r.bit() == 0 {
		if r.err != nil {
			return 0
		}
		if zeros++; zeros > 31 {
			r.err = ErrShort
			return 0
		}
	}
	return 1<<zeros - 1 + r.bits(zeros)
}

// se reads a signed Exp-Golomb code.
func (r *bitReader) se() int {
	v := r.ue()
	if v%2 == 0 {
		return -int(v / 2)
	}
	return int(v+1) / 2
}

// unescape strips emulation prevention bytes (the 0x03 in 00 00 03).
func unescape(b []byte) []byte {
	out := make([]byte, 0, len(b))
	zeros := 0
	for _, c := range b {
		if zeros >= 2 && c == 3 {
			zeros = 0
			continue
		}
		if c == 0 {
			zeros++
		} else {
			zeros = 0
		}
		out = append(out, c)
	}
	return out
}
