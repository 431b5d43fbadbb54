package exdot

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/example/go-exdot/internal/comm"
	"github.com/example/go-exdot/internal/gen"
	"github.com/example/go-exdot/internal/testutil"
)

func mustDot(t *testing.T, e *Engine, ops ...Operand) float64 {
	t.Helper()
	v, err := e.Dot(ops...)
	if err != nil {
		t.Fatalf("Dot: %v", err)
	}
	return v
}

func TestDotValues(t *testing.T) {
	tests := []struct {
		name string
		a, b Operand
		want float64
	}{
		{"empty", Vector{}, Vector{}, 0},
		{"ill conditioned", Vector{1e16, 1.0, -1e16}, Vector{1, 1, 1}, 1},
		{"small integers", Vector{1, 2, 3, 4}, Vector{5, 6, 7, 8}, 70},
		{"nan", Vector{1, 2, math.NaN()}, Vector{1, 1, 1}, math.NaN()},
		{"inf", Vector{1, math.Inf(1), 3}, Vector{1, 1, 1}, math.Inf(1)},
		{"opposite infs", Vector{math.Inf(1), math.Inf(-1)}, Vector{1, 1}, math.NaN()},
		{"overflow", Vector{1e308, 1e308}, Vector{1, 1}, math.Inf(1)},
		{"negative overflow", Vector{-1e308, -8e307}, Vector{1, 1}, math.Inf(-1)},
		{"broadcast", Vector{0.5, 1.5, 2.5}, Scalar(2), 9},
		{"broadcast first", Scalar(-1), Vector{0.5, 1.5, 2.5}, -4.5},
		{"scalars", Scalar(3), Scalar(4), 12},
		{"float32", Vector32{0.1, 0.2}, Vector32{10, 10}, testutil.ExactDot(
			[]float64{float64(float32(0.1)), float64(float32(0.2))}, []float64{10, 10})},
		{"float32 broadcast", Vector32{1.5, 2.5}, Scalar(0.5), 2},
		{"parallel", Parallel{Data: []float64{1e16, 1, -1e16}}, Scalar(1), 1},
	}

	e := New(Options{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testutil.AssertSameBits(t, mustDot(t, e, tt.a, tt.b), tt.want)
		})
	}
}

func TestDotMatchesNaiveOnWellConditionedInput(t *testing.T) {
	a := make(Vector, 1000)
	b := make(Vector, 1000)
	for i := range a {
		a[i] = float64(i%17 - 8)
		b[i] = float64(i%5 + 1)
	}
	testutil.AssertSameBits(t, mustDot(t, New(Options{}), a, b), testutil.NaiveDot(a, b))
}

func TestDotOrderIndependence(t *testing.T) {
	rng := gen.NewRand(41)
	p := gen.IllConditioned(rng, 2000, 1e40)
	want := testutil.ExactDot(p.A, p.B)

	e := New(Options{})
	for range 5 {
		gen.Shuffle(rng, p.A, p.B)
		testutil.AssertSameBits(t, mustDot(t, e, Vector(p.A), Vector(p.B)), want)
	}
}

func TestDotPartitionIndependence(t *testing.T) {
	rng := gen.NewRand(42)
	p := gen.IllConditioned(rng, 999, 1e50)
	e := New(Options{})
	want := mustDot(t, e, Vector(p.A), Vector(p.B))

	// Contiguous chunks of varying width.
	var ra, rb Recursive
	for lo := 0; lo < len(p.A); {
		hi := min(lo+1+lo%97, len(p.A))
		ra = append(ra, Vector(p.A[lo:hi]))
		rb = append(rb, Vector(p.B[lo:hi]))
		lo = hi
	}
	testutil.AssertSameBits(t, mustDot(t, e, ra, rb), want)

	// Non-contiguous: deal indices round-robin into nested recursive parts.
	const parts = 6
	na := make(Recursive, parts)
	nb := make(Recursive, parts)
	for k := range parts {
		var xa, xb Vector
		for i := k; i < len(p.A); i += parts {
			xa = append(xa, p.A[i])
			xb = append(xb, p.B[i])
		}
		half := len(xa) / 2
		na[k] = Recursive{xa[:half], xa[half:]}
		nb[k] = Recursive{xb[:half], xb[half:]}
	}
	testutil.AssertSameBits(t, mustDot(t, e, na, nb), want)

	// Parallel lanes.
	big := gen.IllConditioned(rng, 40_000, 1e30)
	serial := mustDot(t, e, Vector(big.A), Vector(big.B))
	for _, lanes := range []int{1, 3, 8} {
		got := mustDot(t, e, Parallel{Data: big.A, Lanes: lanes}, Parallel{Data: big.B})
		testutil.AssertSameBits(t, got, serial)
	}
}

func TestDotRecursiveBroadcastsScalars(t *testing.T) {
	x := Recursive{Vector{1, 2}, Vector{3}, Recursive{Vector{4, 5}}}
	got := mustDot(t, New(Options{}), x, Scalar(2))
	if got != 30 {
		t.Fatalf("Dot = %v; want 30", got)
	}
}

func TestDot3(t *testing.T) {
	x := Vector{1e300, 2, -1e300}
	w := Vector{1e10, 0.5, 1e10}
	y := Vector{1e-300, 3, 1e-300}
	got := mustDot(t, New(Options{}), x, w, y)
	if got != 3 {
		t.Fatalf("Dot3 = %v; want 3", got)
	}
}

func TestSumAndNorm(t *testing.T) {
	e := New(Options{})

	sum, err := e.Sum(Vector{1e16, 1, -1e16, 2})
	if err != nil || sum != 3 {
		t.Fatalf("Sum = %v, %v; want 3", sum, err)
	}
	psum, err := e.Sum(Parallel{Data: []float64{1e16, 1, -1e16, 2}})
	if err != nil || psum != 3 {
		t.Fatalf("parallel Sum = %v, %v; want 3", psum, err)
	}

	n, err := e.Norm(Vector{3, 4}, nil)
	if err != nil || n != 5 {
		t.Fatalf("Norm = %v, %v; want 5", n, err)
	}
	wn, err := e.Norm(Vector{3, 4}, Vector{4, 0.25})
	if err != nil || wn != math.Sqrt(40) {
		t.Fatalf("weighted Norm = %v, %v; want sqrt(40)", wn, err)
	}
	sn, err := e.Norm(Vector{1, 1, 1, 1}, Scalar(4))
	if err != nil || sn != 4 {
		t.Fatalf("Norm with scalar weight = %v, %v; want 4", sn, err)
	}
}

func TestPlanErrors(t *testing.T) {
	g1, g2 := comm.Self(), comm.Self()

	tests := []struct {
		name string
		ops  []Operand
		want error
	}{
		{"no operands", nil, ErrNoOperands},
		{"nil operand", []Operand{Vector{1}, nil}, ErrNoOperands},
		{"too many", []Operand{Scalar(1), Scalar(1), Scalar(1), Scalar(1)}, ErrArity},
		{"length", []Operand{Vector{1, 2}, Vector{1}}, ErrLengthMismatch},
		{"domain", []Operand{Vector{1}, Parallel{Data: []float64{1}}}, ErrDomainMismatch},
		{"precision", []Operand{Vector{1}, Vector32{1}}, ErrPrecisionMismatch},
		{"groups", []Operand{Distributed{Local: Vector{1}, Group: g1}, Distributed{Local: Vector{1}, Group: g2}}, ErrGroupMismatch},
		{"missing group", []Operand{Distributed{Local: Vector{1}}, Scalar(1)}, ErrGroupMismatch},
		{"distributed with shared", []Operand{Distributed{Local: Vector{1}, Group: g1}, Vector{1}}, ErrLayoutMismatch},
		{"recursive with shared", []Operand{Recursive{Vector{1}}, Vector{1}}, ErrLayoutMismatch},
		{"recursive shape", []Operand{Recursive{Vector{1}}, Recursive{Vector{1}, Vector{2}}}, ErrShapeMismatch},
		{"nested length", []Operand{Recursive{Vector{1}, Vector{1, 2}}, Recursive{Vector{1}, Vector{1}}}, ErrLengthMismatch},
		{"nested domain", []Operand{Recursive{Vector{1}}, Recursive{Parallel{Data: []float64{1}}}}, ErrDomainMismatch},
		{"recursive precision", []Operand{Recursive{Vector32{1}}, Recursive{Vector{1}}}, ErrPrecisionMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewPlan(tt.ops...); !errors.Is(err, tt.want) {
				t.Fatalf("NewPlan error = %v; want %v", err, tt.want)
			}
		})
	}
}

func TestDotArity(t *testing.T) {
	if _, err := Dot(Vector{1}); !errors.Is(err, ErrArity) {
		t.Fatalf("Dot with one operand: error = %v; want ErrArity", err)
	}
}

func TestPlanResolution(t *testing.T) {
	g := comm.Self()

	tests := []struct {
		name   string
		ops    []Operand
		layout Layout
		domain Domain
		n      int
	}{
		{"scalars", []Operand{Scalar(1), Scalar(2)}, ScalarLayout, AnyDomain, 1},
		{"shared beats scalar", []Operand{Scalar(1), Vector{1, 2, 3}}, SharedLayout, SerialDomain, 3},
		{"parallel domain", []Operand{Parallel{Data: []float64{1, 2}}, Scalar(1)}, SharedLayout, ParallelDomain, 2},
		{"recursive beats scalar", []Operand{Recursive{Vector{1}, Vector{2}}, Scalar(1)}, RecursiveLayout, SerialDomain, 2},
		{"distributed unwraps", []Operand{Distributed{Local: Recursive{Vector{1}}, Group: g}, Scalar(2)}, RecursiveLayout, SerialDomain, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPlan(tt.ops...)
			if err != nil {
				t.Fatalf("NewPlan: %v", err)
			}
			if p.Layout() != tt.layout || p.Domain() != tt.domain || p.Len() != tt.n {
				t.Fatalf("plan = %v/%v/%d; want %v/%v/%d", p.Layout(), p.Domain(), p.Len(), tt.layout, tt.domain, tt.n)
			}
		})
	}
}

func TestDistributedRankCountIndependence(t *testing.T) {
	rng := gen.NewRand(43)
	p := gen.IllConditioned(rng, 1001, 1e45)
	want := testutil.ExactDot(p.A, p.B)

	for _, topo := range []comm.Topology{comm.Linear, comm.Tree, comm.Ring} {
		for _, size := range []int{1, 2, 4, 7} {
			t.Run(fmt.Sprintf("%v/%d", topo, size), func(t *testing.T) {
				l, err := comm.NewLocal(size, comm.WithTopology(topo))
				if err != nil {
					t.Fatalf("NewLocal: %v", err)
				}

				got := make([]float64, size)
				err = comm.Run(l, func(g comm.Group) error {
					lo := g.Rank() * len(p.A) / size
					hi := (g.Rank() + 1) * len(p.A) / size
					v, err := New(Options{}).Dot(
						Distributed{Local: Vector(p.A[lo:hi]), Group: g},
						Distributed{Local: Vector(p.B[lo:hi]), Group: g},
					)
					got[g.Rank()] = v
					return err
				})
				if err != nil {
					t.Fatalf("Run: %v", err)
				}
				for _, v := range got {
					testutil.AssertSameBits(t, v, want)
				}
			})
		}
	}
}

func TestDistributedFailureIsUniform(t *testing.T) {
	errLink := errors.New("link down")
	l, err := comm.NewLocal(4, comm.WithFault(func(from, to int) error {
		if from == 2 {
			return errLink
		}
		return nil
	}))
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	errs := make([]error, 4)
	_ = comm.Run(l, func(g comm.Group) error {
		_, errs[g.Rank()] = New(Options{}).Dot(Distributed{Local: Vector{1, 2}, Group: g}, Scalar(1))
		return nil
	})

	for r, err := range errs {
		if !errors.Is(err, comm.ErrCollective) {
			t.Fatalf("rank %d: error = %v; want ErrCollective", r, err)
		}
		if err.Error() != errs[0].Error() {
			t.Fatalf("rank %d error %q differs from rank 0 error %q", r, err, errs[0])
		}
	}
}

func TestDistributedPlanErrorIsUniform(t *testing.T) {
	const size = 3

	tests := []struct {
		name string
		call func(e *Engine, g comm.Group, bad bool) error
		want error
	}{
		{"dot length", func(e *Engine, g comm.Group, bad bool) error {
			b := Vector{1, 2}
			if bad {
				b = Vector{1}
			}
			_, err := e.Dot(Distributed{Local: Vector{1, 2}, Group: g}, Distributed{Local: b, Group: g})
			return err
		}, ErrLengthMismatch},
		{"dot layout", func(e *Engine, g comm.Group, bad bool) error {
			var b Operand = Distributed{Local: Vector{1, 2}, Group: g}
			if bad {
				b = Vector{1, 2}
			}
			_, err := e.Dot(Distributed{Local: Vector{1, 2}, Group: g}, b)
			return err
		}, ErrLayoutMismatch},
		{"nested domain", func(e *Engine, g comm.Group, bad bool) error {
			var b Operand = Recursive{Vector{2}}
			if bad {
				b = Recursive{Parallel{Data: []float64{2}}}
			}
			_, err := e.Dot(Distributed{Local: Recursive{Vector{1}}, Group: g}, Distributed{Local: b, Group: g})
			return err
		}, ErrDomainMismatch},
		{"sum arity", func(e *Engine, g comm.Group, bad bool) error {
			x := Distributed{Local: Vector{1, 2}, Group: g}
			if bad {
				_, err := e.Dot(x)
				return err
			}
			_, err := e.Sum(x)
			return err
		}, ErrArity},
		{"rows", func(e *Engine, g comm.Group, bad bool) error {
			a := Vector{1, 2, 3, 4}
			if bad {
				a = Vector{1, 2, 3}
			}
			_, err := e.DotRows(Distributed{Local: a, Group: g}, Scalar(1), 2)
			return err
		}, ErrRows},
	}

	for _, topo := range []comm.Topology{comm.Linear, comm.Tree, comm.Ring} {
		for _, tt := range tests {
			t.Run(fmt.Sprintf("%v/%s", topo, tt.name), func(t *testing.T) {
				l, err := comm.NewLocal(size, comm.WithTopology(topo))
				if err != nil {
					t.Fatalf("NewLocal: %v", err)
				}

				errs := make([]error, size)
				_ = comm.Run(l, func(g comm.Group) error {
					errs[g.Rank()] = tt.call(New(Options{}), g, g.Rank() == 1)
					return nil
				})

				for r, err := range errs {
					if !errors.Is(err, comm.ErrCollective) || !errors.Is(err, tt.want) {
						t.Fatalf("rank %d: error = %v; want ErrCollective wrapping %v", r, err, tt.want)
					}
					if err.Error() != errs[0].Error() {
						t.Fatalf("rank %d error %q differs from rank 0 error %q", r, err, errs[0])
					}
				}
			})
		}
	}
}

func TestDotRows(t *testing.T) {
	const rows, cols = 9, 50
	rng := gen.NewRand(44)
	a := gen.Uniform(rng, rows*cols)
	b := gen.Uniform(rng, rows*cols)
	a[3*cols+7] = math.NaN()
	a[5*cols] = math.Inf(-1)
	b[5*cols] = 2

	want := make([]float64, rows)
	for r := range want {
		switch r {
		case 3:
			want[r] = math.NaN()
		case 5:
			want[r] = math.Inf(-1)
		default:
			want[r] = testutil.ExactDot(a[r*cols:(r+1)*cols], b[r*cols:(r+1)*cols])
		}
	}

	// Column blocks: element k of a recursive operand holds columns
	// [split_k, split_k+1) of every row, row-major.
	blocks := func(x []float64, splits ...int) Recursive {
		var r Recursive
		for k := 0; k+1 < len(splits); k++ {
			var v Vector
			for row := range rows {
				v = append(v, x[row*cols+splits[k]:row*cols+splits[k+1]]...)
			}
			r = append(r, v)
		}
		return r
	}

	tests := []struct {
		name string
		a, b Operand
	}{
		{"serial", Vector(a), Vector(b)},
		{"parallel", Parallel{Data: a, Lanes: 4}, Parallel{Data: b}},
		{"recursive", blocks(a, 0, 20, 21, cols), blocks(b, 0, 20, 21, cols)},
	}

	e := New(Options{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.DotRows(tt.a, tt.b, rows)
			if err != nil {
				t.Fatalf("DotRows: %v", err)
			}
			testutil.AssertSameBitsSlice(t, got, want)
		})
	}
}

func TestDotRowsBroadcastAndErrors(t *testing.T) {
	got, err := DotRows(Vector{1, 2, 3, 4, 5, 6}, Scalar(0.5), 3)
	if err != nil {
		t.Fatalf("DotRows: %v", err)
	}
	testutil.AssertSameBitsSlice(t, got, []float64{1.5, 3.5, 5.5})

	got, err = DotRows(Scalar(2), Scalar(3), 1)
	if err != nil {
		t.Fatalf("DotRows: %v", err)
	}
	testutil.AssertSameBitsSlice(t, got, []float64{6})

	if got, err := DotRows(Vector{}, Vector{}, 0); err != nil || len(got) != 0 {
		t.Fatalf("DotRows with no rows = %v, %v", got, err)
	}

	tests := []struct {
		name string
		a, b Operand
		rows int
	}{
		{"uneven rows", Vector{1, 2, 3}, Vector{1, 2, 3}, 2},
		{"negative rows", Vector{1}, Vector{1}, -1},
		{"rows of empty vectors", Vector{}, Vector{}, 1 << 62},
		{"more rows than elements", Vector{1, 2}, Scalar(1), 4},
		{"scalars", Scalar(2), Scalar(3), 2},
		{"empty recursive", Recursive{}, Recursive{}, 1},
		{"empty recursive element", Recursive{Vector{1, 2}, Vector{}}, Recursive{Vector{1, 2}, Vector{}}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DotRows(tt.a, tt.b, tt.rows); !errors.Is(err, ErrRows) {
				t.Fatalf("DotRows(%d rows) error = %v; want ErrRows", tt.rows, err)
			}
		})
	}
}

func TestDistributedDotRows(t *testing.T) {
	const rows, cols, size = 4, 30, 3
	rng := gen.NewRand(45)
	a := gen.Uniform(rng, rows*cols)
	b := gen.Uniform(rng, rows*cols)

	want := make([]float64, rows)
	for r := range want {
		want[r] = testutil.ExactDot(a[r*cols:(r+1)*cols], b[r*cols:(r+1)*cols])
	}

	l, err := comm.NewLocal(size, comm.WithTopology(comm.Ring))
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	// Each rank owns a column block of every row.
	got := make([][]float64, size)
	err = comm.Run(l, func(g comm.Group) error {
		lo, hi := g.Rank()*cols/size, (g.Rank()+1)*cols/size
		var la, lb Vector
		for r := range rows {
			la = append(la, a[r*cols+lo:r*cols+hi]...)
			lb = append(lb, b[r*cols+lo:r*cols+hi]...)
		}
		res, err := New(Options{}).DotRows(
			Distributed{Local: la, Group: g},
			Distributed{Local: lb, Group: g},
			rows,
		)
		got[g.Rank()] = res
		return err
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, res := range got {
		testutil.AssertSameBitsSlice(t, res, want)
	}
}

func TestEngineReuse(t *testing.T) {
	e := New(Options{FPE: -1})
	first := mustDot(t, e, Recursive{Recursive{Vector{0.1, 0.2}}, Vector{0.3}}, Scalar(1))
	if _, err := e.DotRows(Vector{1, 2, 3, 4}, Scalar(1), 2); err != nil {
		t.Fatalf("DotRows: %v", err)
	}
	second := mustDot(t, e, Recursive{Recursive{Vector{0.1, 0.2}}, Vector{0.3}}, Scalar(1))
	testutil.AssertSameBits(t, second, first)
	testutil.AssertSameBits(t, first, testutil.ExactDot([]float64{0.1, 0.2, 0.3}, []float64{1, 1, 1}))
}

func BenchmarkEngineDot(b *testing.B) {
	rng := gen.NewRand(1)
	x, y := gen.Uniform(rng, 1<<16), gen.Uniform(rng, 1<<16)
	e := New(Options{})
	b.SetBytes(int64(len(x) * 16))
	for b.Loop() {
		if _, err := e.Dot(Vector(x), Vector(y)); err != nil {
			b.Fatal(err)
		}
	}
}
