package mathutil

import "math/bits"

// NextPowerOf2 returns the next power of 2 greater than or equal to n.
func NextPowerOf2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// MulCheck returns a*b and false if the product of two non-negative values
// overflows or exceeds max.
func MulCheck(a, b, max int64) (int64, bool) {
	if a < 0 || b < 0 {
		return 0, false
	}
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi != 0 || lo > uint64(max) {
		return 0, false
	}
	return int64(lo), true
}

// InitialCap bounds an up-front slice capacity for a length taken from
// untrusted input; the slice grows by append past that point.
func InitialCap(n, ceiling int) int {
	if n < 0 {
		return 0
	}
	if n > ceiling {
		return ceiling
	}
	return n
}
