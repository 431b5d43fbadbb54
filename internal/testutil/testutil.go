// Package testutil provides shared assertions for tests that compare
// floating-point results bit for bit, plus an independent math/big oracle.
//
// Typical usage:
//
//	func TestMyDot(t *testing.T) {
//	    got := exdot.Dot(...)
//	    testutil.AssertSameBits(t, got, testutil.ExactDot(a, b))
//	}
package testutil

import (
	"math"
	"math/big"
	"testing"
)

// oraclePrec is wide enough for any exact dot product of doubles.
const oraclePrec = 8192

// SameBits reports whether a and b have the same bit pattern. All NaNs are
// considered equal.
func SameBits(a, b float64) bool {
	if math.IsNaN(a) && math.IsNaN(b) {
		return true
	}
	return math.Float64bits(a) == math.Float64bits(b)
}

// AssertSameBits fails the test if got and want differ in any bit.
func AssertSameBits(tb testing.TB, got, want float64) {
	tb.Helper()

	if !SameBits(got, want) {
		tb.Fatalf("got %v (%#016x); want %v (%#016x)",
			got, math.Float64bits(got), want, math.Float64bits(want))
	}
}

// AssertSameBitsSlice fails the test unless got and want have equal length
// and identical bit patterns element by element.
func AssertSameBitsSlice(tb testing.TB, got, want []float64) {
	tb.Helper()

	if len(got) != len(want) {
		tb.Fatalf("len = %d; want %d", len(got), len(want))
	}

	for i := range got {
		if !SameBits(got[i], want[i]) {
			tb.Fatalf("[%d] = %v (%#016x); want %v (%#016x)",
				i, got[i], math.Float64bits(got[i]), want[i], math.Float64bits(want[i]))
		}
	}
}

// ExactDot returns Σ a[i]·b[i] correctly rounded to nearest, computed with
// math/big. It panics on non-finite input, which math/big cannot represent.
func ExactDot(a, b []float64) float64 {
	if len(a) != len(b) {
		panic("testutil: ExactDot length mismatch")
	}

	sum := new(big.Float).SetPrec(oraclePrec)
	term := new(big.Float).SetPrec(oraclePrec)
	for i := range a {
		term.SetFloat64(a[i])
		term.Mul(term, new(big.Float).SetPrec(oraclePrec).SetFloat64(b[i]))
		sum.Add(sum, term)
	}

	f, _ := sum.Float64()
	if f == 0 {
		return 0
	}
	return f
}

// ExactDot3 returns Σ a[i]·b[i]·c[i] correctly rounded to nearest, computed
// with math/big. It panics on non-finite input.
func ExactDot3(a, b, c []float64) float64 {
	if len(a) != len(b) || len(a) != len(c) {
		panic("testutil: ExactDot3 length mismatch")
	}

	sum := new(big.Float).SetPrec(oraclePrec)
	term := new(big.Float).SetPrec(oraclePrec)
	factor := new(big.Float)
	for i := range a {
		term.SetFloat64(a[i])
		term.Mul(term, factor.SetFloat64(b[i]))
		term.Mul(term, factor.SetFloat64(c[i]))
		sum.Add(sum, term)
	}

	f, _ := sum.Float64()
	if f == 0 {
		return 0
	}
	return f
}

// NaiveDot is the ordinary left-to-right floating-point dot product.
func NaiveDot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
