package superacc

import (
	"math"
	"math/bits"
)

// firstOverflowBin is the lowest bin whose weight already exceeds the double
// range; occupancy at or above it rounds to infinity.
const firstOverflowBin = (1024 - LowExp) / BinBits

// Round returns the exact content of s rounded to the nearest double, ties to
// even. Sums beyond the double range round to ±Inf; non-finite terms
// override the bins: NaN (or both infinities) yields NaN, a single infinity
// sign yields that infinity. An exact zero yields +0.
//
// Round resolves pending carries in place but does not change the value, so
// it may be called repeatedly.
func (s *Superaccumulator) Round() float64 {
	switch {
	case s.HasNaN():
		return math.NaN()
	case s.special&flagPosInf != 0:
		return math.Inf(1)
	case s.special&flagNegInf != 0:
		return math.Inf(-1)
	}

	s.carry()

	// After a carry pass only the top bin can be negative, and its sign is
	// the sign of the whole sum.
	mag := s.bins
	neg := mag[NumBins-1] < 0
	if neg {
		for i := range mag {
			mag[i] = -mag[i]
		}
		carryBins(&mag)
	}

	v := roundMagnitude(&mag)
	if neg {
		return -v
	}
	return v
}

// roundMagnitude rounds a carried, non-negative bin array.
func roundMagnitude(bins *[NumBins]int64) float64 {
	h := NumBins - 1
	for h >= 0 && bins[h] == 0 {
		h--
	}
	if h < 0 {
		return 0
	}
	if h >= firstOverflowBin {
		return math.Inf(1)
	}

	word := func(i int) uint64 {
		if i < 0 {
			return 0
		}
		return uint64(bins[i])
	}

	// Gather the leading 64 bits, left-aligned, and a sticky bit for the rest.
	x := word(h)<<BinBits | word(h-1)
	lz := uint(bits.LeadingZeros64(x))
	next := word(h - 2)
	if lz > 0 {
		x = x<<lz | next>>(BinBits-lz)
	}
	sticky := next&(1<<(BinBits-lz)-1) != 0
	for i := h - 3; i >= 0 && !sticky; i-- {
		sticky = bins[i] != 0
	}

	// Weight of the leading bit of x.
	top := LowExp + BinBits*h + BinBits - 1 - int(lz)
	if top >= 1024 {
		return math.Inf(1)
	}

	if top < -1022 {
		// Subnormal: the mantissa is in units of 2^-1074 and its bit pattern
		// is the float's bit pattern; rounding up to 2^52 gives MinNormal.
		shift := uint(11 + (-1022 - top))
		return math.Float64frombits(roundShift(x, shift, sticky))
	}

	mant := roundShift(x, 11, sticky)
	if mant == 1<<53 {
		mant >>= 1
		top++
		if top >= 1024 {
			return math.Inf(1)
		}
	}
	return math.Float64frombits(uint64(top+1023)<<52 | mant&(1<<52-1))
}

// roundShift returns x >> shift rounded to nearest, ties to even, where sticky
// reports non-zero bits below x.
func roundShift(x uint64, shift uint, sticky bool) uint64 {
	switch {
	case shift > 64:
		return 0
	case shift == 64:
		if x>>63 == 1 && (x<<1 != 0 || sticky) {
			return 1
		}
		return 0
	}

	mant := x >> shift
	half := x>>(shift-1)&1 == 1
	rest := x&(1<<(shift-1)-1) != 0 || sticky
	if half && (rest || mant&1 == 1) {
		mant++
	}
	return mant
}
