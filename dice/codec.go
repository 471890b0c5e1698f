// Package dice holds the compact integer encodings for thrown dice, held
// dice and category-availability masks, together with the roller used by
// every simulation.
package dice

import (
	"slices"

	"gonum.org/v1/gonum/stat/combin"
)

const (
	// NumDice is the number of dice in every throw.
	NumDice = 5
	// NumFaces is the number of faces on a die.
	NumFaces = 6
	// Base is the radix of the dice encoding. Digit 0 never occurs for a
	// real face, which keeps the sequence length recoverable.
	Base = NumFaces + 1
	// MaxCode is one past the largest code a 5-dice sequence can encode to.
	MaxCode Code = 16807
)

// Code is a base-7 encoding of a sorted dice sequence of length 0..5.
// Thrown dice always have length 5; holds may be shorter. The empty
// sequence encodes to 0.
type Code uint16

// Encode turns a sorted ascending sequence of faces into its code. The most
// significant digit is the first (smallest) face.
func Encode(seq []uint8) Code {
	var c Code
	for _, v := range seq {
		c = c*Base + Code(v)
	}
	return c
}

// Decode recovers the sequence a code was encoded from.
func Decode(c Code) []uint8 {
	seq := make([]uint8, 0, NumDice)
	for c > 0 {
		seq = append(seq, uint8(c%Base))
		c /= Base
	}
	for i, j := 0, len(seq)-1; i < j; i, j = i+1, j-1 {
		seq[i], seq[j] = seq[j], seq[i]
	}
	return seq
}

// Len returns the number of dice encoded in c.
func (c Code) Len() int {
	n := 0
	for c > 0 {
		n++
		c /= Base
	}
	return n
}

func (c Code) Dice() []uint8 {
	return Decode(c)
}

// MaskDecode decomposes a 16-bit mask into its set bit positions, in
// ascending order. With oneBased each position is shifted by one for display.
func MaskDecode(mask uint16, oneBased bool) []uint8 {
	var shift uint8
	if oneBased {
		shift = 1
	}
	res := make([]uint8, 0, 16)
	for pos := uint8(0); mask > 0; pos++ {
		if mask%2 == 1 {
			res = append(res, pos+shift)
		}
		mask /= 2
	}
	return res
}

// Multisets returns every sorted sequence of k faces, in ascending code
// order. There are C(k+5, k) of them; 252 for a full throw.
func Multisets(k int) [][]uint8 {
	if k == 0 {
		return [][]uint8{{}}
	}
	// A sorted k-multiset over 6 faces maps onto a k-subset of k+5 slots
	// by subtracting each element's position.
	cs := combin.Combinations(k+NumFaces-1, k)
	res := make([][]uint8, len(cs))
	for i, c := range cs {
		seq := make([]uint8, k)
		for j, v := range c {
			seq[j] = uint8(v-j) + 1
		}
		res[i] = seq
	}
	return res
}

// AllThrows returns the codes of all 252 distinct sorted 5-dice throws.
func AllThrows() []Code {
	ms := Multisets(NumDice)
	codes := make([]Code, len(ms))
	for i, m := range ms {
		codes[i] = Encode(m)
	}
	slices.Sort(codes)
	return codes
}
