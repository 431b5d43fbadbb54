package kernel

import (
	"math"

	"github.com/example/go-exdot/internal/eft"
	"github.com/example/go-exdot/internal/superacc"
)

// MaxFPE is the largest supported floating-point expansion.
const MaxFPE = 16

// DefaultFPE is the expansion size used when Options.FPE is zero.
const DefaultFPE = 8

// fpe is a small floating-point expansion kept in front of a
// superaccumulator. Terms are cascaded through it with TwoSum and only the
// residual that does not fit is deposited, so the expansion plus the
// accumulator always hold the exact sum.
type fpe struct {
	acc *superacc.Superaccumulator
	n   int
	a   [MaxFPE]float64
}

func newFPE(acc *superacc.Superaccumulator, n int) fpe {
	return fpe{acc: acc, n: n}
}

func (f *fpe) add(x float64) {
	for i := 0; i < f.n; i++ {
		s, e := eft.TwoSum(f.a[i], x)
		if math.IsInf(s, 0) {
			// The pair overflows; keep exactness by bypassing the expansion.
			f.acc.Add(x)
			return
		}
		f.a[i] = s
		x = e
		if x == 0 {
			return
		}
	}
	f.acc.Add(x)
}

// product adds the exact value of a·b.
func (f *fpe) product(a, b float64) {
	p, e := eft.TwoProduct(a, b)
	if !eft.ExactProduct(p) {
		f.acc.AddProduct(a, b)
		return
	}
	f.add(p)
	if e != 0 {
		f.add(e)
	}
}

// product3 adds the exact value of a·b·c. The two-term product a·b = p+e is
// multiplied by c with two more transforms, giving four exact terms.
func (f *fpe) product3(a, b, c float64) {
	p, e := eft.TwoProduct(a, b)
	if eft.ExactProduct(p) {
		q, qe := eft.TwoProduct(p, c)
		if eft.ExactProduct(q) {
			if e == 0 {
				f.add(q)
				f.add(qe)
				return
			}
			r, re := eft.TwoProduct(e, c)
			if eft.ExactProduct(r) {
				f.add(q)
				f.add(qe)
				f.add(r)
				f.add(re)
				return
			}
		}
	}
	f.acc.AddProduct3(a, b, c)
}

func (f *fpe) flush() {
	for i := 0; i < f.n; i++ {
		if f.a[i] != 0 {
			f.acc.Add(f.a[i])
			f.a[i] = 0
		}
	}
}
