package kernel

import (
	"github.com/example/go-exdot/internal/superacc"
)

func rowInto(acc *superacc.Superaccumulator, r, cols int, a, b Vec, opts Options) {
	lo, hi := r*cols, (r+1)*cols
	Dot(acc, cols, a.Sub(lo, hi), b.Sub(lo, hi), opts)
}

// Rows adds the exact dot product of row r of a and b into dst[r], where
// both operands are row-major with cols columns (or broadcast scalars).
func Rows(dst []superacc.Superaccumulator, cols int, a, b Vec, opts Options) {
	for r := range dst {
		rowInto(&dst[r], r, cols, a, b, opts)
	}
}

// ParallelRows is Rows with the rows split across lanes. Each row is owned by
// exactly one lane.
func ParallelRows(dst []superacc.Superaccumulator, cols int, a, b Vec, opts Options) {
	parallelLanes(len(dst), rowLanes(len(dst), cols, opts.Lanes), func(_, lo, hi int) {
		for r := lo; r < hi; r++ {
			rowInto(&dst[r], r, cols, a, b, opts)
		}
	})
}

// RoundRows writes the rounded dot product of each row into out, reusing a
// single accumulator so memory stays bounded by one accumulator, not by the
// number of rows.
func RoundRows(out []float64, cols int, a, b Vec, opts Options) {
	var acc superacc.Superaccumulator
	for r := range out {
		acc.Reset()
		rowInto(&acc, r, cols, a, b, opts)
		out[r] = acc.Round()
	}
}

// ParallelRoundRows is RoundRows with one reusable accumulator per lane.
func ParallelRoundRows(out []float64, cols int, a, b Vec, opts Options) {
	parallelLanes(len(out), rowLanes(len(out), cols, opts.Lanes), func(_, lo, hi int) {
		RoundRows(out[lo:hi], cols, a.rowView(lo, hi, cols), b.rowView(lo, hi, cols), opts)
	})
}

func (v Vec) rowView(lo, hi, cols int) Vec {
	return v.Sub(lo*cols, hi*cols)
}

func rowLanes(rows, cols, want int) int {
	if want <= 0 {
		want = getWorkers()
	}
	if limit := rows * max(cols, 1) / minLaneLen; want > limit {
		want = limit
	}
	return max(min(want, rows), 1)
}
