// Package gen builds deterministic test vectors, including dot products with
// a prescribed condition number on which naive summation fails. Reference
// values are computed with math/big, independently of the engine.
package gen

import (
	"math"
	"math/big"
	"math/rand/v2"
)

// exactPrec holds any sum of fewer than 2^64 products of two doubles
// exactly: products span 2^-2148 to 2^2048.
const exactPrec = 4352

// exactSum is an exact running sum of products.
type exactSum struct {
	sum, term, y big.Float
}

func newExactSum() *exactSum {
	s := &exactSum{}
	s.sum.SetPrec(exactPrec)
	s.term.SetPrec(exactPrec)
	return s
}

func (s *exactSum) addProduct(x, y float64) {
	s.term.SetFloat64(x)
	s.y.SetFloat64(y)
	s.term.Mul(&s.term, &s.y)
	s.sum.Add(&s.sum, &s.term)
}

// float64 rounds the sum to nearest even. An exact zero is +0.
func (s *exactSum) float64() float64 {
	f, _ := s.sum.Float64()
	if f == 0 {
		return 0
	}
	return f
}

// Pair is a pair of equal-length vectors and their exact dot product.
type Pair struct {
	A, B  []float64
	Exact float64
}

// NewRand returns a PCG generator seeded with seed.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Uniform returns n values uniformly distributed in [-1, 1).
func Uniform(rng *rand.Rand, n int) []float64 {
	xs := make([]float64, n)
	for i := range xs {
		xs[i] = 2*rng.Float64() - 1
	}
	return xs
}

// UniformPair returns two Uniform vectors.
func UniformPair(rng *rand.Rand, n int) Pair {
	p := Pair{A: Uniform(rng, n), B: Uniform(rng, n)}
	p.Exact = exactDot(p.A, p.B)
	return p
}

// IllConditioned returns a pair whose dot product has condition number about
// cond (cond >= 1). The first half of the terms spans a wide exponent range,
// the second half is chosen to cancel it almost completely, and the indices
// are shuffled. This is the GenDot construction of Ogita, Rump and Oishi.
func IllConditioned(rng *rand.Rand, n int, cond float64) Pair {
	if n < 6 {
		n = 6
	}
	cond = max(cond, 1)

	half := n / 2
	a := make([]float64, n)
	b := make([]float64, n)
	bexp := math.Log2(cond)

	for i := range half {
		e := math.Round(rng.Float64() * bexp / 2)
		switch i {
		case 0:
			e = math.Round(bexp/2) + 1
		case half - 1:
			e = 0
		}
		a[i] = math.Ldexp(2*rng.Float64()-1, int(e))
		b[i] = math.Ldexp(2*rng.Float64()-1, int(e))
	}

	acc := newExactSum()
	for i := range half {
		acc.addProduct(a[i], b[i])
	}

	rest := n - half
	for i := half; i < n; i++ {
		step := float64(i-half) / float64(max(rest-1, 1))
		e := int(math.Round(bexp / 2 * (1 - step)))
		a[i] = math.Ldexp(2*rng.Float64()-1, e)
		if a[i] == 0 {
			a[i] = math.Ldexp(1, e)
		}
		target := math.Ldexp(2*rng.Float64()-1, e)
		partial := acc.float64()
		b[i] = (target - partial) / a[i]
		acc.addProduct(a[i], b[i])
	}

	rng.Shuffle(n, func(i, j int) {
		a[i], a[j] = a[j], a[i]
		b[i], b[j] = b[j], b[i]
	})

	return Pair{A: a, B: b, Exact: acc.float64()}
}

// Shuffle permutes a and b together.
func Shuffle(rng *rand.Rand, a, b []float64) {
	rng.Shuffle(len(a), func(i, j int) {
		a[i], a[j] = a[j], a[i]
		b[i], b[j] = b[j], b[i]
	})
}

// Condition returns the condition number 2·Σ|a[i]·b[i]| / |Σ a[i]·b[i]|.
func Condition(a, b []float64) float64 {
	abs, dot := newExactSum(), newExactSum()
	for i := range a {
		abs.addProduct(math.Abs(a[i]), math.Abs(b[i]))
		dot.addProduct(a[i], b[i])
	}
	return 2 * abs.float64() / math.Abs(dot.float64())
}

func exactDot(a, b []float64) float64 {
	acc := newExactSum()
	for i := range a {
		acc.addProduct(a[i], b[i])
	}
	return acc.float64()
}
