package doctor

import (
	"fmt"
	"math"

	"github.com/example/go-exdot/internal/comm"
	"github.com/example/go-exdot/internal/exdot"
	"github.com/example/go-exdot/internal/gen"
	"github.com/example/go-exdot/internal/runtime/kernel"
)

// parallelCheckLen gives every lane of checkParallel a full share of work.
const parallelCheckLen = 8*4096 + 17

// DefaultChecks returns the numerical self-checks run by `exdot doctor`.
func DefaultChecks() []Check {
	return []Check{
		{Name: "ill-conditioned dot is correctly rounded", Fn: checkIllConditioned},
		{Name: "parallel lanes agree with serial", Fn: checkParallel},
		{Name: "rank count does not change the result", Fn: checkRanks},
		{Name: "non-finite values propagate", Fn: checkSpecials},
	}
}

func checkIllConditioned() error {
	p := gen.IllConditioned(gen.NewRand(1), 2000, 1e30)
	got, err := exdot.Dot(exdot.Vector(p.A), exdot.Vector(p.B))
	if err != nil {
		return err
	}
	if math.Float64bits(got) != math.Float64bits(p.Exact) {
		return fmt.Errorf("got %.17g, want %.17g", got, p.Exact)
	}
	return nil
}

func checkParallel() error {
	p := gen.IllConditioned(gen.NewRand(2), parallelCheckLen, 1e20)
	want, err := exdot.Dot(exdot.Vector(p.A), exdot.Vector(p.B))
	if err != nil {
		return err
	}
	for _, lanes := range []int{2, 3, 8} {
		if used := kernel.LaneCount(len(p.A), lanes); used != lanes {
			return fmt.Errorf("%d lanes requested, %d used", lanes, used)
		}
		got, err := exdot.Dot(exdot.Parallel{Data: p.A, Lanes: lanes}, exdot.Parallel{Data: p.B, Lanes: lanes})
		if err != nil {
			return err
		}
		if math.Float64bits(got) != math.Float64bits(want) {
			return fmt.Errorf("%d lanes: got %.17g, want %.17g", lanes, got, want)
		}
	}
	return nil
}

func checkRanks() error {
	p := gen.IllConditioned(gen.NewRand(3), 1000, 1e25)
	for _, topo := range []comm.Topology{comm.Linear, comm.Tree, comm.Ring} {
		for _, size := range []int{1, 3, 4} {
			got, err := distributedDot(p.A, p.B, size, topo)
			if err != nil {
				return fmt.Errorf("%s/%d: %w", topo, size, err)
			}
			if math.Float64bits(got) != math.Float64bits(p.Exact) {
				return fmt.Errorf("%s/%d ranks: got %.17g, want %.17g", topo, size, got, p.Exact)
			}
		}
	}
	return nil
}

func distributedDot(a, b []float64, size int, topo comm.Topology) (float64, error) {
	g, err := comm.NewLocal(size, comm.WithTopology(topo))
	if err != nil {
		return 0, err
	}
	results := make([]float64, size)
	err = comm.Run(g, func(rg comm.Group) error {
		r := rg.Rank()
		lo, hi := r*len(a)/size, (r+1)*len(a)/size
		v, err := exdot.Dot(
			exdot.Distributed{Local: exdot.Vector(a[lo:hi]), Group: rg},
			exdot.Distributed{Local: exdot.Vector(b[lo:hi]), Group: rg},
		)
		results[r] = v
		return err
	})
	if err != nil {
		return 0, err
	}
	for r := 1; r < size; r++ {
		if math.Float64bits(results[r]) != math.Float64bits(results[0]) {
			return 0, fmt.Errorf("rank %d disagrees with rank 0", r)
		}
	}
	return results[0], nil
}

func checkSpecials() error {
	cases := []struct {
		a, b []float64
		nan  bool
		inf  int
	}{
		{a: []float64{1, math.NaN()}, b: []float64{1, 1}, nan: true},
		{a: []float64{math.Inf(1), 1}, b: []float64{2, 1}, inf: 1},
		{a: []float64{math.Inf(1), math.Inf(-1)}, b: []float64{1, 1}, nan: true},
		{a: []float64{math.MaxFloat64, math.MaxFloat64}, b: []float64{-2, -2}, inf: -1},
	}
	for i, c := range cases {
		got, err := exdot.Dot(exdot.Vector(c.a), exdot.Vector(c.b))
		if err != nil {
			return err
		}
		switch {
		case c.nan && !math.IsNaN(got):
			return fmt.Errorf("case %d: got %v, want NaN", i, got)
		case c.inf != 0 && !math.IsInf(got, c.inf):
			return fmt.Errorf("case %d: got %v, want %v", i, got, math.Inf(c.inf))
		}
	}
	return nil
}
