// Package eft implements error-free transformations of floating-point sums
// and products: each operation returns the rounded result together with the
// exact rounding error, so that no information is lost.
package eft

import "math"

// splitter is 2^27+1, the Veltkamp constant for float64.
const splitter = 134217729.0

// dekkerLimit bounds operands for which Split cannot overflow.
const dekkerLimit = 0x1p995

// MinExactProduct is the smallest product magnitude for which TwoProduct is
// guaranteed to be error-free. Below it the error term may underflow.
const MinExactProduct = 0x1p-969

// TwoSum returns s = fl(a+b) and e such that a+b == s+e exactly.
// It holds for all finite a, b whose sum does not overflow.
func TwoSum(a, b float64) (s, e float64) {
	s = a + b
	bb := s - a
	e = (a - (s - bb)) + (b - bb)
	return s, e
}

// FastTwoSum is TwoSum for |a| >= |b|.
func FastTwoSum(a, b float64) (s, e float64) {
	s = a + b
	e = b - (s - a)
	return s, e
}

// Split returns hi, lo with a == hi+lo, each holding at most 26 significant bits.
func Split(a float64) (hi, lo float64) {
	c := splitter * a
	hi = c - (c - a)
	lo = a - hi
	return hi, lo
}

// TwoProduct returns p = fl(a*b) and e such that a*b == p+e exactly,
// provided p is finite and |p| >= MinExactProduct.
func TwoProduct(a, b float64) (p, e float64) {
	if useFMA {
		return twoProductFMA(a, b)
	}
	if math.Abs(a) < dekkerLimit && math.Abs(b) < dekkerLimit {
		return twoProductDekker(a, b)
	}
	return twoProductFMA(a, b)
}

func twoProductFMA(a, b float64) (p, e float64) {
	p = a * b
	e = math.FMA(a, b, -p)
	return p, e
}

func twoProductDekker(a, b float64) (p, e float64) {
	p = a * b
	ah, al := Split(a)
	bh, bl := Split(b)
	e = al*bl - (((p - ah*bh) - al*bh) - ah*bl)
	return p, e
}

// ExactProduct reports whether TwoProduct(a, b) is error-free, given its
// rounded product p.
func ExactProduct(p float64) bool {
	ap := math.Abs(p)
	return ap >= MinExactProduct && ap <= math.MaxFloat64
}

// HasFMA reports whether TwoProduct uses a hardware fused multiply-add.
func HasFMA() bool { return useFMA }
