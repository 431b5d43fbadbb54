// Package superacc implements a fixed-point superaccumulator: an array of
// signed integer bins that holds the exact sum of any number of
// floating-point terms. Carries between bins are deferred and resolved in
// bulk, and the final value is rounded once.
package superacc

import "math"

const (
	// BinBits is the nominal width of one bin.
	BinBits = 32
	// NumBins is the number of bins. The window covers every product of up to
	// three finite doubles, plus headroom for carries out of the top.
	NumBins = 200
	// LowExp is the base-2 weight of bit 0 of bin 0.
	LowExp = -3232

	binMask = 1<<BinBits - 1

	// maxPending bounds the deposits a bin may absorb before a carry pass.
	// A deposit adds less than 2^32 to any bin, so int64 bins cannot overflow
	// below 2^31 deposits.
	maxPending = 1 << 30
)

const (
	flagNaN uint8 = 1 << iota
	flagPosInf
	flagNegInf
)

// Superaccumulator holds an exact sum of floating-point terms.
// The zero value is an empty accumulator representing +0.
type Superaccumulator struct {
	bins    [NumBins]int64
	pending int64
	special uint8
}

// New returns an empty accumulator.
func New() *Superaccumulator {
	return &Superaccumulator{}
}

// Reset empties the accumulator.
func (s *Superaccumulator) Reset() {
	*s = Superaccumulator{}
}

// Clone returns a copy of s.
func (s *Superaccumulator) Clone() *Superaccumulator {
	c := *s
	return &c
}

// Add deposits x exactly.
func (s *Superaccumulator) Add(x float64) {
	b := math.Float64bits(x)
	exp := int(b>>52) & 0x7ff
	frac := b & (1<<52 - 1)

	switch exp {
	case 0x7ff:
		s.addSpecial(x)
		return
	case 0:
		if frac == 0 {
			return
		}
		exp = 1
	default:
		frac |= 1 << 52
	}

	s.deposit(frac, exp-1075, b>>63 != 0)
}

// deposit adds ±mant·2^e for a mantissa of at most 53 bits.
func (s *Superaccumulator) deposit(mant uint64, e int, neg bool) {
	if s.pending >= maxPending {
		s.carry()
	}
	s.pending++

	p := e - LowExp
	i := p / BinBits
	o := uint(p % BinBits)

	lo := mant << o
	var hi uint64
	if o > 0 {
		hi = mant >> (64 - o)
	}

	c0 := int64(lo & binMask)
	c1 := int64(lo >> BinBits)
	c2 := int64(hi)
	if neg {
		s.bins[i] -= c0
		s.bins[i+1] -= c1
		s.bins[i+2] -= c2
		return
	}
	s.bins[i] += c0
	s.bins[i+1] += c1
	s.bins[i+2] += c2
}

func (s *Superaccumulator) addSpecial(x float64) {
	switch {
	case math.IsNaN(x):
		s.special |= flagNaN
	case x > 0:
		s.special |= flagPosInf
	default:
		s.special |= flagNegInf
	}
}

// Merge adds the exact content of o into s. o is not modified.
func (s *Superaccumulator) Merge(o *Superaccumulator) {
	s.special |= o.special
	if s.pending+o.pending > maxPending {
		s.carry()
	}
	for i := range s.bins {
		s.bins[i] += o.bins[i]
	}
	s.pending += o.pending
	if s.pending > maxPending {
		s.carry()
	}
}

// carry moves every bin's overflow beyond BinBits into the next bin, leaving
// bins 0..NumBins-2 in [0, 2^BinBits). The represented value is unchanged.
func (s *Superaccumulator) carry() {
	carryBins(&s.bins)
	s.pending = 1
}

func carryBins(bins *[NumBins]int64) {
	for i := 0; i < NumBins-1; i++ {
		c := bins[i] >> BinBits
		bins[i] -= c << BinBits
		bins[i+1] += c
	}
}

// Normalize resolves deferred carries in place.
func (s *Superaccumulator) Normalize() {
	s.carry()
}

// IsZero reports whether s represents exactly zero with no special values.
func (s *Superaccumulator) IsZero() bool {
	if s.special != 0 {
		return false
	}
	c := s.bins
	carryBins(&c)
	return c == [NumBins]int64{}
}

// HasNaN reports whether a NaN term (or opposite infinities) was absorbed.
func (s *Superaccumulator) HasNaN() bool {
	return s.special&flagNaN != 0 || s.special&(flagPosInf|flagNegInf) == flagPosInf|flagNegInf
}

// Equal reports whether s and o represent the same exact value and specials.
func (s *Superaccumulator) Equal(o *Superaccumulator) bool {
	if s.special != o.special {
		return false
	}
	a, b := s.bins, o.bins
	carryBins(&a)
	carryBins(&b)
	return a == b
}
