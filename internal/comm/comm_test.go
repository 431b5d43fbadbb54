package comm

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/example/go-exdot/internal/gen"
	"github.com/example/go-exdot/internal/runtime/kernel"
	"github.com/example/go-exdot/internal/superacc"
	"github.com/example/go-exdot/internal/testutil"
)

var topologies = []Topology{Linear, Tree, Ring}

// rankRows computes, on one rank, the partial accumulators of rows dot
// products whose columns are dealt round-robin to the ranks.
func rankRows(g Group, a, b []float64, rows, cols int) []superacc.Superaccumulator {
	accs := make([]superacc.Superaccumulator, rows)
	for r := range rows {
		for c := g.Rank(); c < cols; c += g.Size() {
			i := r*cols + c
			kernel.Dot(&accs[r], 1, kernel.Slice(a[i:i+1]), kernel.Slice(b[i:i+1]), kernel.Options{})
		}
	}
	return accs
}

func TestAllReduceRankCountIndependence(t *testing.T) {
	const rows, cols = 5, 301
	rng := gen.NewRand(31)
	p := gen.IllConditioned(rng, rows*cols, 1e35)

	want := make([]float64, rows)
	kernel.RoundRows(want, cols, kernel.Slice(p.A), kernel.Slice(p.B), kernel.Options{})

	for _, topo := range topologies {
		for _, size := range []int{1, 2, 4, 7} {
			t.Run(fmt.Sprintf("%v/%d", topo, size), func(t *testing.T) {
				l, err := NewLocal(size, WithTopology(topo))
				if err != nil {
					t.Fatalf("NewLocal: %v", err)
				}

				got := make([][]float64, size)
				err = Run(l, func(g Group) error {
					accs := rankRows(g, p.A, p.B, rows, cols)
					if err := g.AllReduce(accs); err != nil {
						return err
					}
					res := make([]float64, rows)
					for i := range accs {
						res[i] = accs[i].Round()
					}
					got[g.Rank()] = res
					return nil
				})
				if err != nil {
					t.Fatalf("Run: %v", err)
				}

				for r := range got {
					testutil.AssertSameBitsSlice(t, got[r], want)
				}
			})
		}
	}
}

func TestAllReduceSpecialsAndRepeatedCalls(t *testing.T) {
	for _, topo := range topologies {
		t.Run(topo.String(), func(t *testing.T) {
			l, err := NewLocal(3, WithTopology(topo))
			if err != nil {
				t.Fatalf("NewLocal: %v", err)
			}

			err = Run(l, func(g Group) error {
				for round := range 4 {
					accs := make([]superacc.Superaccumulator, 2)
					accs[0].Add(float64(g.Rank() + round))
					if g.Rank() == 1 {
						accs[1].Add(math.Inf(1))
					}
					if err := g.AllReduce(accs); err != nil {
						return err
					}
					if got, want := accs[0].Round(), float64(3+3*round); got != want {
						return fmt.Errorf("round %d: sum = %v, want %v", round, got, want)
					}
					if got := accs[1].Round(); !math.IsInf(got, 1) {
						return fmt.Errorf("round %d: special = %v, want +Inf", round, got)
					}
				}
				return nil
			})
			if err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestAllReduceFailsUniformly(t *testing.T) {
	errLink := errors.New("link down")

	for _, topo := range topologies {
		for _, size := range []int{2, 4, 7} {
			t.Run(fmt.Sprintf("%v/%d", topo, size), func(t *testing.T) {
				l, err := NewLocal(size, WithTopology(topo), WithFault(func(from, to int) error {
					if from == size-1 {
						return errLink
					}
					return nil
				}))
				if err != nil {
					t.Fatalf("NewLocal: %v", err)
				}

				var mu sync.Mutex
				msgs := map[string]int{}
				err = Run(l, func(g Group) error {
					accs := make([]superacc.Superaccumulator, 1)
					accs[0].Add(float64(g.Rank() + 1))

					err := g.AllReduce(accs)
					if !errors.Is(err, ErrCollective) || !errors.Is(err, errLink) {
						return fmt.Errorf("AllReduce error = %v; want ErrCollective wrapping the link fault", err)
					}
					if got := accs[0].Round(); got != float64(g.Rank()+1) {
						return fmt.Errorf("accumulator modified by failed collective: %v", got)
					}

					mu.Lock()
					msgs[err.Error()]++
					mu.Unlock()
					return nil
				})
				if err != nil {
					t.Fatal(err)
				}
				if len(msgs) != 1 {
					t.Fatalf("ranks observed %d distinct errors: %v", len(msgs), msgs)
				}
			})
		}
	}
}

func TestAllReduceBatchLengthMismatchFails(t *testing.T) {
	for _, topo := range topologies {
		t.Run(topo.String(), func(t *testing.T) {
			l, err := NewLocal(3, WithTopology(topo))
			if err != nil {
				t.Fatalf("NewLocal: %v", err)
			}
			err = Run(l, func(g Group) error {
				accs := make([]superacc.Superaccumulator, 1+g.Rank()%2)
				if err := g.AllReduce(accs); !errors.Is(err, ErrCollective) {
					return fmt.Errorf("AllReduce error = %v; want ErrCollective", err)
				}
				return nil
			})
			if err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestAbortFailsEveryRank(t *testing.T) {
	errPlan := errors.New("operand lengths differ")

	for _, topo := range topologies {
		for _, size := range []int{1, 2, 5} {
			t.Run(fmt.Sprintf("%v/%d", topo, size), func(t *testing.T) {
				l, err := NewLocal(size, WithTopology(topo))
				if err != nil {
					t.Fatalf("NewLocal: %v", err)
				}

				errs := make([]error, size)
				sums := make([]float64, size)
				err = Run(l, func(g Group) error {
					accs := make([]superacc.Superaccumulator, 2)
					accs[0].Add(1)
					if g.Rank() == size-1 {
						errs[g.Rank()] = g.Abort(errPlan)
					} else {
						errs[g.Rank()] = g.AllReduce(accs)
					}

					// The group stays usable after an aborted call.
					next := make([]superacc.Superaccumulator, 1)
					next[0].Add(1)
					if err := g.AllReduce(next); err != nil {
						return err
					}
					sums[g.Rank()] = next[0].Round()
					return nil
				})
				if err != nil {
					t.Fatalf("Run: %v", err)
				}

				for r, err := range errs {
					if !errors.Is(err, ErrCollective) || !errors.Is(err, errPlan) {
						t.Fatalf("rank %d: error = %v; want ErrCollective wrapping the plan error", r, err)
					}
					if err.Error() != errs[0].Error() {
						t.Fatalf("rank %d error %q differs from rank 0 error %q", r, err, errs[0])
					}
					if sums[r] != float64(size) {
						t.Fatalf("rank %d: next all-reduce = %v; want %d", r, sums[r], size)
					}
				}
			})
		}
	}
}

func TestSelf(t *testing.T) {
	g := Self()
	if g.Size() != 1 || g.Rank() != 0 || g.ID() == "" {
		t.Fatalf("Self() = rank %d of %d, id %q", g.Rank(), g.Size(), g.ID())
	}
	if Self().ID() == g.ID() {
		t.Fatal("two Self groups share an id")
	}

	accs := make([]superacc.Superaccumulator, 1)
	accs[0].Add(2.5)
	if err := g.AllReduce(accs); err != nil {
		t.Fatalf("AllReduce: %v", err)
	}
	if got := accs[0].Round(); got != 2.5 {
		t.Fatalf("Round = %v; want 2.5", got)
	}

	errPlan := errors.New("bad operand")
	if err := g.Abort(errPlan); !errors.Is(err, ErrCollective) || !errors.Is(err, errPlan) {
		t.Fatalf("Abort = %v; want ErrCollective wrapping the cause", err)
	}
}

func TestParseTopology(t *testing.T) {
	tests := []struct {
		in      string
		want    Topology
		wantErr bool
	}{
		{"", Tree, false},
		{"tree", Tree, false},
		{" Ring ", Ring, false},
		{"LINEAR", Linear, false},
		{"mesh", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseTopology(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseTopology(%q) error = %v; wantErr %v", tt.in, err, tt.wantErr)
		}
		if err == nil && got != tt.want {
			t.Fatalf("ParseTopology(%q) = %v; want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLocalRejectsBadArguments(t *testing.T) {
	if _, err := NewLocal(0); err == nil {
		t.Fatal("NewLocal(0) succeeded")
	}
	if _, err := NewLocal(2, WithTopology(Topology(9))); err == nil {
		t.Fatal("NewLocal accepted an unknown topology")
	}
}

func BenchmarkAllReduce(b *testing.B) {
	for _, topo := range topologies {
		b.Run(topo.String(), func(b *testing.B) {
			l, err := NewLocal(4, WithTopology(topo))
			if err != nil {
				b.Fatal(err)
			}
			for b.Loop() {
				_ = Run(l, func(g Group) error {
					accs := make([]superacc.Superaccumulator, 8)
					return g.AllReduce(accs)
				})
			}
		})
	}
}
