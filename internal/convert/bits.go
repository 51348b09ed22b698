// internal/convert/bits.go
package convert

import "fmt"

// Bit reads one bit of a register word, after undoing the device swap.
func Bit(word uint16, bit int, s Swap) bool {
	w := []uint16{word}
	s.Revert(w)
	return w[0]>>uint(bit)&1 == 1
}

// SetBit returns word with one bit changed. word and the result are both in
// wire order; the bit index refers to the unswapped value.
func SetBit(word uint16, bit int, on bool, s Swap) uint16 {
	w := []uint16{word}
	s.Revert(w)
	if on {
		w[0] |= 1 << uint(bit)
	} else {
		w[0] &^= 1 << uint(bit)
	}
	s.Apply(w)
	return w[0]
}

// EncodeBits converts a host value for a coil tag.
func EncodeBits(v any, arrayLen int) ([]bool, error) {
	if arrayLen < 1 {
		b, err := toBool(v)
		if err != nil {
			return nil, err
		}
		return []bool{b}, nil
	}

	elems, err := elements(v)
	if err != nil {
		return nil, err
	}
	if len(elems) > arrayLen {
		return nil, fmt.Errorf("%w: %d elements for an array of %d", ErrLength, len(elems), arrayLen)
	}
	out := make([]bool, arrayLen)
	for i, e := range elems {
		b, err := toBool(e)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = b
	}
	return out, nil
}

// DecodeBits converts coil states into a host value.
func DecodeBits(b []bool, arrayLen int) (any, error) {
	if arrayLen < 1 {
		if len(b) < 1 {
			return nil, fmt.Errorf("%w: no coil data", ErrLength)
		}
		return b[0], nil
	}
	n := min(arrayLen, len(b))
	out := make([]bool, n)
	copy(out, b[:n])
	return out, nil
}
