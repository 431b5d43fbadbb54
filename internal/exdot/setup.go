package exdot

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/example/go-exdot/internal/comm"
	"github.com/example/go-exdot/internal/config"
)

// Setup evaluates plain vectors under a backend configuration: serial or
// laned leaves, optionally split in contiguous blocks across Ranks
// in-process ranks that combine with an all-reduce. The command line and the
// HTTP server evaluate through it.
type Setup struct {
	Parallel bool
	Lanes    int
	FPE      int
	Ranks    int
	Topology comm.Topology
	Logger   *slog.Logger
}

// SetupFromConfig builds a Setup from the engine and reduce sections of cfg.
func SetupFromConfig(cfg config.Config, log *slog.Logger) (Setup, error) {
	backend, err := config.NormalizeBackend(cfg.Engine.Backend)
	if err != nil {
		return Setup{}, err
	}
	name, err := config.NormalizeTopology(cfg.Reduce.Topology)
	if err != nil {
		return Setup{}, err
	}
	topo, err := comm.ParseTopology(name)
	if err != nil {
		return Setup{}, err
	}
	return Setup{
		Parallel: backend == config.BackendParallel,
		Lanes:    cfg.Engine.Lanes,
		FPE:      cfg.Engine.FPE,
		Ranks:    cfg.Reduce.Ranks,
		Topology: topo,
		Logger:   log,
	}, nil
}

func (s Setup) engine() *Engine {
	return New(Options{Lanes: s.Lanes, FPE: s.FPE, Logger: s.Logger})
}

func (s Setup) leaf(x []float64) Operand {
	if s.Parallel {
		return Parallel{Data: x, Lanes: s.Lanes}
	}
	return Vector(x)
}

func (s Setup) leaves(xs [][]float64) []Operand {
	ops := make([]Operand, len(xs))
	for i, x := range xs {
		ops[i] = s.leaf(x)
	}
	return ops
}

// Dot returns the correctly rounded dot product of two or three vectors.
func (s Setup) Dot(xs ...[]float64) (float64, error) {
	if len(xs) < 2 || len(xs) > 3 {
		return 0, fmt.Errorf("%w: got %d operands", ErrArity, len(xs))
	}
	return s.evaluate(xs, (*Engine).Dot)
}

// Sum returns the correctly rounded sum of x.
func (s Setup) Sum(x []float64) (float64, error) {
	return s.evaluate([][]float64{x}, func(e *Engine, ops ...Operand) (float64, error) {
		return e.Sum(ops[0])
	})
}

func (s Setup) evaluate(xs [][]float64, eval func(*Engine, ...Operand) (float64, error)) (float64, error) {
	if _, err := NewPlan(s.leaves(xs)...); err != nil {
		return 0, err
	}
	if s.Ranks <= 1 {
		return eval(s.engine(), s.leaves(xs)...)
	}

	n := len(xs[0])
	out, err := s.simulate(func(e *Engine, g comm.Group) ([]float64, error) {
		lo, hi := block(g.Rank(), g.Size(), n)
		ops := make([]Operand, len(xs))
		for i, x := range xs {
			ops[i] = Distributed{Local: s.leaf(x[lo:hi]), Group: g}
		}
		v, err := eval(e, ops...)
		return []float64{v}, err
	})
	if err != nil {
		return 0, err
	}
	return out[0], nil
}

// DotRows returns one correctly rounded dot product per row of the
// row-major a and b.
func (s Setup) DotRows(a, b []float64, rows int) ([]float64, error) {
	if _, err := rowsPlan(s.leaf(a), s.leaf(b), rows); err != nil {
		return nil, err
	}
	if rows == 0 {
		return []float64{}, nil
	}
	if s.Ranks <= 1 {
		return s.engine().DotRows(s.leaf(a), s.leaf(b), rows)
	}

	cols := len(a) / rows
	return s.simulate(func(e *Engine, g comm.Group) ([]float64, error) {
		lo, hi := block(g.Rank(), g.Size(), cols)
		return e.DotRows(
			Distributed{Local: s.leaf(columns(a, rows, cols, lo, hi)), Group: g},
			Distributed{Local: s.leaf(columns(b, rows, cols, lo, hi)), Group: g},
			rows,
		)
	})
}

// simulate runs fn on every rank of a fresh local group and returns rank 0's
// result after checking that all ranks agree bit for bit.
func (s Setup) simulate(fn func(*Engine, comm.Group) ([]float64, error)) ([]float64, error) {
	g, err := comm.NewLocal(s.Ranks, comm.WithTopology(s.Topology))
	if err != nil {
		return nil, err
	}
	results := make([][]float64, s.Ranks)
	err = comm.Run(g, func(rg comm.Group) error {
		out, err := fn(s.engine(), rg)
		results[rg.Rank()] = out
		return err
	})
	if err != nil {
		return nil, err
	}
	for r := 1; r < s.Ranks; r++ {
		for i := range results[0] {
			if math.Float64bits(results[r][i]) != math.Float64bits(results[0][i]) {
				return nil, fmt.Errorf("%w: rank %d disagrees with rank 0 at %d", comm.ErrCollective, r, i)
			}
		}
	}
	return results[0], nil
}

// block returns the half-open range of n items owned by rank r of size.
func block(r, size, n int) (lo, hi int) {
	return r * n / size, (r + 1) * n / size
}

// columns copies columns [lo, hi) of every row of a row-major matrix.
func columns(x []float64, rows, cols, lo, hi int) []float64 {
	out := make([]float64, 0, rows*(hi-lo))
	for r := range rows {
		out = append(out, x[r*cols+lo:r*cols+hi]...)
	}
	return out
}
