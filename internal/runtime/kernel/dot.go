package kernel

import (
	"github.com/example/go-exdot/internal/superacc"
)

// Options tunes a kernel call. The zero value is valid.
type Options struct {
	// FPE is the floating-point expansion size in front of each accumulator:
	// 0 selects DefaultFPE, a negative value disables the expansion.
	FPE int
	// Lanes is the lane count for the Parallel* kernels: 0 selects the
	// SetWorkers default.
	Lanes int
}

func (o Options) fpeSize() int {
	switch {
	case o.FPE < 0:
		return 0
	case o.FPE == 0:
		return DefaultFPE
	default:
		return min(o.FPE, MaxFPE)
	}
}

// Dot adds the exact value of Σ a[i]·b[i], i < n, to acc.
func Dot(acc *superacc.Superaccumulator, n int, a, b Vec, opts Options) {
	f := newFPE(acc, opts.fpeSize())
	dotRange(&f, a, b, 0, n)
	f.flush()
}

// Dot3 adds the exact value of Σ a[i]·b[i]·c[i], i < n, to acc.
func Dot3(acc *superacc.Superaccumulator, n int, a, b, c Vec, opts Options) {
	f := newFPE(acc, opts.fpeSize())
	dot3Range(&f, a, b, c, 0, n)
	f.flush()
}

// Sum adds the exact value of Σ x[i], i < n, to acc.
func Sum(acc *superacc.Superaccumulator, n int, x Vec, opts Options) {
	f := newFPE(acc, opts.fpeSize())
	if x.IsScalar() {
		for range n {
			f.product(x.scalar, 1)
		}
		f.flush()
		return
	}
	for i := range n {
		v := x.At(i)
		if v-v != 0 {
			// NaN or ±Inf.
			acc.Add(v)
			continue
		}
		f.add(v)
	}
	f.flush()
}

func dotRange(f *fpe, a, b Vec, lo, hi int) {
	if a.kind == kindF64 && b.kind == kindF64 {
		x, y := a.f64[lo:hi], b.f64[lo:hi]
		for i := range x {
			f.product(x[i], y[i])
		}
		return
	}
	if b.kind == kindScalar && a.kind == kindF64 {
		s := b.scalar
		for _, v := range a.f64[lo:hi] {
			f.product(v, s)
		}
		return
	}
	for i := lo; i < hi; i++ {
		f.product(a.At(i), b.At(i))
	}
}

func dot3Range(f *fpe, a, b, c Vec, lo, hi int) {
	if a.kind == kindF64 && b.kind == kindF64 && c.kind == kindF64 {
		x, y, z := a.f64[lo:hi], b.f64[lo:hi], c.f64[lo:hi]
		for i := range x {
			f.product3(x[i], y[i], z[i])
		}
		return
	}
	for i := lo; i < hi; i++ {
		f.product3(a.At(i), b.At(i), c.At(i))
	}
}

// ParallelDot is Dot split across lanes. Each lane owns a private
// accumulator; the lanes are merged pairwise into acc.
func ParallelDot(acc *superacc.Superaccumulator, n int, a, b Vec, opts Options) {
	runLanes(acc, n, opts, func(f *fpe, lo, hi int) { dotRange(f, a, b, lo, hi) })
}

// ParallelDot3 is Dot3 split across lanes.
func ParallelDot3(acc *superacc.Superaccumulator, n int, a, b, c Vec, opts Options) {
	runLanes(acc, n, opts, func(f *fpe, lo, hi int) { dot3Range(f, a, b, c, lo, hi) })
}

func runLanes(acc *superacc.Superaccumulator, n int, opts Options, body func(f *fpe, lo, hi int)) {
	lanes := laneCount(n, opts.Lanes)
	if lanes == 1 {
		f := newFPE(acc, opts.fpeSize())
		body(&f, 0, n)
		f.flush()
		return
	}

	partial := make([]superacc.Superaccumulator, lanes)
	parallelLanes(n, lanes, func(lane, lo, hi int) {
		f := newFPE(&partial[lane], opts.fpeSize())
		body(&f, lo, hi)
		f.flush()
	})
	acc.Merge(MergeTree(partial))
}

// MergeTree merges accs pairwise, level by level, and returns the root
// (accs[0]). Any tree gives the same exact value.
func MergeTree(accs []superacc.Superaccumulator) *superacc.Superaccumulator {
	if len(accs) == 0 {
		return superacc.New()
	}
	for step := 1; step < len(accs); step *= 2 {
		for i := 0; i+step < len(accs); i += 2 * step {
			accs[i].Merge(&accs[i+step])
		}
	}
	return &accs[0]
}
