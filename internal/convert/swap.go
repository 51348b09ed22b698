// internal/convert/swap.go
package convert

import "math/bits"

// Swap is a device's word reordering configuration.
// It applies uniformly to every multi-register value on the device.
type Swap struct {
	DWords bool // swap the two 32-bit halves of a 64-bit value
	Words  bool // swap the two words of every 32-bit unit
	Bytes  bool // swap high/low byte of every word
	Bits   bool // reverse the bit order of every word
}

// Apply turns one element's raw big-endian words into wire order.
// Order: dwords, words, bytes, bits.
func (s Swap) Apply(w []uint16) {
	if s.DWords && len(w) == 4 {
		w[0], w[1], w[2], w[3] = w[2], w[3], w[0], w[1]
	}
	if s.Words && len(w) >= 2 {
		swapWords(w)
	}
	if s.Bytes {
		swapBytes(w)
	}
	if s.Bits {
		reverseBits(w)
	}
}

// Revert undoes Apply. Each step is its own inverse, so the steps run in
// mirrored order: bits, bytes, words, dwords.
func (s Swap) Revert(w []uint16) {
	if s.Bits {
		reverseBits(w)
	}
	if s.Bytes {
		swapBytes(w)
	}
	if s.Words && len(w) >= 2 {
		swapWords(w)
	}
	if s.DWords && len(w) == 4 {
		w[0], w[1], w[2], w[3] = w[2], w[3], w[0], w[1]
	}
}

func swapWords(w []uint16) {
	for i := 0; i+1 < len(w); i += 2 {
		w[i], w[i+1] = w[i+1], w[i]
	}
}

func swapBytes(w []uint16) {
	for i := range w {
		w[i] = bits.ReverseBytes16(w[i])
	}
}

func reverseBits(w []uint16) {
	for i := range w {
		w[i] = bits.Reverse16(w[i])
	}
}
