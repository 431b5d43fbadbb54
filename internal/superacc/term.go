package superacc

import (
	"fmt"
	"math"
	"math/bits"
)

// Term is an exact value ±Mant·2^Exp with a mantissa of up to 192 bits,
// stored as little-endian 64-bit words.
type Term struct {
	Mant [3]uint64
	Exp  int
	Neg  bool
}

// AddTerm deposits t exactly. It panics if t lies outside the accumulator's
// window, which cannot happen for products of up to three finite doubles.
func (s *Superaccumulator) AddTerm(t Term) {
	if t.Mant == [3]uint64{} {
		return
	}

	var n int
	switch {
	case t.Mant[2] != 0:
		n = 128 + bits.Len64(t.Mant[2])
	case t.Mant[1] != 0:
		n = 64 + bits.Len64(t.Mant[1])
	default:
		n = bits.Len64(t.Mant[0])
	}

	p := t.Exp - LowExp
	if p < 0 || (p+n-1)/BinBits >= NumBins-1 {
		panic(fmt.Sprintf("superacc: term 2^%d outside accumulator window", t.Exp))
	}

	if s.pending >= maxPending {
		s.carry()
	}
	s.pending++

	i := p / BinBits
	o := uint(p % BinBits)

	// Shift the mantissa into four words so that chunk k lands in bin i+k.
	var w [4]uint64
	if o == 0 {
		copy(w[:3], t.Mant[:])
	} else {
		w[0] = t.Mant[0] << o
		w[1] = t.Mant[1]<<o | t.Mant[0]>>(64-o)
		w[2] = t.Mant[2]<<o | t.Mant[1]>>(64-o)
		w[3] = t.Mant[2] >> (64 - o)
	}

	for k := range 2 * len(w) {
		c := int64(w[k/2] >> (BinBits * uint(k%2)) & binMask)
		if c == 0 {
			continue
		}
		if t.Neg {
			s.bins[i+k] -= c
		} else {
			s.bins[i+k] += c
		}
	}
}

// decompose splits a finite x into mant·2^exp with an integer mantissa.
func decompose(x float64) (mant uint64, exp int, neg bool) {
	b := math.Float64bits(x)
	e := int(b>>52) & 0x7ff
	mant = b & (1<<52 - 1)
	if e == 0 {
		e = 1
	} else {
		mant |= 1 << 52
	}
	return mant, e - 1075, b>>63 != 0
}

// ProductSpecial returns the non-finite value of a product with at least one
// non-finite factor: NaN if any factor is NaN or an infinity meets a zero,
// otherwise an infinity with the sign of the product. Unlike chained IEEE
// multiplication the result does not depend on the order of the factors.
func ProductSpecial(xs ...float64) float64 {
	var inf, zero, neg bool
	for _, x := range xs {
		switch {
		case math.IsNaN(x):
			return math.NaN()
		case math.IsInf(x, 0):
			inf = true
		case x == 0:
			zero = true
		}
		if math.Signbit(x) {
			neg = !neg
		}
	}
	if !inf || zero {
		return math.NaN()
	}
	if neg {
		return math.Inf(-1)
	}
	return math.Inf(1)
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// AddProduct deposits the exact product a·b, whatever its magnitude.
func (s *Superaccumulator) AddProduct(a, b float64) {
	if !finite(a) || !finite(b) {
		s.addSpecial(ProductSpecial(a, b))
		return
	}
	ma, ea, na := decompose(a)
	mb, eb, nb := decompose(b)
	if ma == 0 || mb == 0 {
		return
	}
	hi, lo := bits.Mul64(ma, mb)
	s.AddTerm(Term{Mant: [3]uint64{lo, hi, 0}, Exp: ea + eb, Neg: na != nb})
}

// AddProduct3 deposits the exact product a·b·c, whatever its magnitude.
func (s *Superaccumulator) AddProduct3(a, b, c float64) {
	if !finite(a) || !finite(b) || !finite(c) {
		s.addSpecial(ProductSpecial(a, b, c))
		return
	}
	ma, ea, na := decompose(a)
	mb, eb, nb := decompose(b)
	mc, ec, nc := decompose(c)
	if ma == 0 || mb == 0 || mc == 0 {
		return
	}

	hi, lo := bits.Mul64(ma, mb)
	loHi, w0 := bits.Mul64(lo, mc)
	hiHi, hiLo := bits.Mul64(hi, mc)
	w1, carry := bits.Add64(loHi, hiLo, 0)
	w2 := hiHi + carry

	s.AddTerm(Term{
		Mant: [3]uint64{w0, w1, w2},
		Exp:  ea + eb + ec,
		Neg:  na != nb != nc,
	})
}
