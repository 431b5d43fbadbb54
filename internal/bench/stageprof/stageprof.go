// Package stageprof times the stages of a distributed exact dot product
// (local accumulation, collective reduction, final rounding) under pprof
// labels, so a CPU profile can be split by stage.
package stageprof

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/pprof"
	"time"

	"github.com/example/go-exdot/internal/comm"
	"github.com/example/go-exdot/internal/gen"
	"github.com/example/go-exdot/internal/runtime/kernel"
	"github.com/example/go-exdot/internal/superacc"
)

// Options configures a profiling session.
type Options struct {
	N          int
	Cond       float64
	Seed       uint64
	Runs       int
	Warmup     int
	Ranks      int
	Topology   comm.Topology
	Kernel     kernel.Options
	CPUProfile string
	Logger     *slog.Logger
}

// Timings holds per-stage durations, summed over ranks for the local stages.
type Timings struct {
	Accumulate time.Duration
	Reduce     time.Duration
	Round      time.Duration
	Total      time.Duration
}

// Report is the averaged result of a profiling session.
type Report struct {
	Options Options
	Value   float64
	Exact   float64
	Avg     Timings
}

// Run generates one ill-conditioned input, splits it across Ranks simulated
// ranks and profiles Runs evaluations after Warmup unprofiled ones.
func Run(ctx context.Context, opts Options) (Report, error) {
	if opts.Runs < 1 {
		return Report{}, errors.New("runs must be >= 1")
	}
	if opts.Ranks < 1 {
		opts.Ranks = 1
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	pair := gen.IllConditioned(gen.NewRand(opts.Seed), opts.N, opts.Cond)
	rep := Report{Options: opts, Exact: pair.Exact}

	for i := range opts.Warmup {
		if _, _, err := runOnce(ctx, pair, opts); err != nil {
			return rep, fmt.Errorf("warmup run %d failed: %w", i+1, err)
		}
	}

	if opts.CPUProfile != "" {
		f, err := os.Create(opts.CPUProfile)
		if err != nil {
			return rep, fmt.Errorf("create cpuprofile: %w", err)
		}
		defer f.Close()

		if err := pprof.StartCPUProfile(f); err != nil {
			return rep, fmt.Errorf("start cpuprofile: %w", err)
		}
		defer pprof.StopCPUProfile()
	}

	var agg Timings
	for i := range opts.Runs {
		t, v, err := runOnce(ctx, pair, opts)
		if err != nil {
			return rep, fmt.Errorf("profiled run %d failed: %w", i+1, err)
		}
		log.Debug("stageprof run", "run", i+1, "accumulate", t.Accumulate, "reduce", t.Reduce, "round", t.Round)

		agg.Accumulate += t.Accumulate
		agg.Reduce += t.Reduce
		agg.Round += t.Round
		agg.Total += t.Total
		rep.Value = v
	}

	div := time.Duration(opts.Runs)
	rep.Avg = Timings{
		Accumulate: agg.Accumulate / div,
		Reduce:     agg.Reduce / div,
		Round:      agg.Round / div,
		Total:      agg.Total / div,
	}
	return rep, nil
}

func runOnce(ctx context.Context, pair gen.Pair, opts Options) (Timings, float64, error) {
	var out Timings
	startTotal := time.Now()

	g, err := comm.NewLocal(opts.Ranks, comm.WithTopology(opts.Topology))
	if err != nil {
		return out, 0, err
	}

	n := len(pair.A)
	accs := make([][]superacc.Superaccumulator, opts.Ranks)
	for r := range accs {
		accs[r] = make([]superacc.Superaccumulator, 1)
	}

	pprof.Do(ctx, pprof.Labels("stage", "accumulate"), func(context.Context) {
		start := time.Now()
		for r := range opts.Ranks {
			lo, hi := r*n/opts.Ranks, (r+1)*n/opts.Ranks
			kernel.Dot(&accs[r][0], hi-lo, kernel.Slice(pair.A[lo:hi]), kernel.Slice(pair.B[lo:hi]), opts.Kernel)
		}
		out.Accumulate = time.Since(start)
	})

	var redErr error
	pprof.Do(ctx, pprof.Labels("stage", "reduce"), func(context.Context) {
		start := time.Now()
		redErr = comm.Run(g, func(rg comm.Group) error {
			return rg.AllReduce(accs[rg.Rank()])
		})
		out.Reduce = time.Since(start)
	})
	if redErr != nil {
		return out, 0, fmt.Errorf("reduce: %w", redErr)
	}

	var v float64
	pprof.Do(ctx, pprof.Labels("stage", "round"), func(context.Context) {
		start := time.Now()
		v = accs[0][0].Round()
		out.Round = time.Since(start)
	})

	out.Total = time.Since(startTotal)
	return out, v, nil
}

// Print writes the report in the key: value form used by the bench command.
func (r Report) Print(w io.Writer) {
	msf := func(d time.Duration) float64 { return d.Seconds() * 1000 }

	fmt.Fprintf(w, "n: %d\n", r.Options.N)
	fmt.Fprintf(w, "cond: %.3g\n", r.Options.Cond)
	fmt.Fprintf(w, "runs: %d (warmup %d)\n", r.Options.Runs, r.Options.Warmup)
	fmt.Fprintf(w, "ranks: %d (%s)\n", r.Options.Ranks, r.Options.Topology)
	fmt.Fprintf(w, "value: %.17g\n", r.Value)
	fmt.Fprintf(w, "exact: %.17g\n", r.Exact)
	fmt.Fprintf(w, "avg_accumulate_ms: %.3f\n", msf(r.Avg.Accumulate))
	fmt.Fprintf(w, "avg_reduce_ms: %.3f\n", msf(r.Avg.Reduce))
	fmt.Fprintf(w, "avg_round_ms: %.3f\n", msf(r.Avg.Round))
	fmt.Fprintf(w, "avg_total_ms: %.3f\n", msf(r.Avg.Total))

	if r.Avg.Total > 0 {
		total := float64(r.Avg.Total)
		fmt.Fprintf(w, "share_accumulate_pct: %.2f\n", 100*float64(r.Avg.Accumulate)/total)
		fmt.Fprintf(w, "share_reduce_pct: %.2f\n", 100*float64(r.Avg.Reduce)/total)
		fmt.Fprintf(w, "share_round_pct: %.2f\n", 100*float64(r.Avg.Round)/total)
	}
}
