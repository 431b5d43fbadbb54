package main

import (
	"context"
	"fmt"
	"time"

	"github.com/example/go-exdot/internal/bench"
	"github.com/example/go-exdot/internal/bench/stageprof"
	"github.com/example/go-exdot/internal/config"
	"github.com/example/go-exdot/internal/exdot"
	"github.com/example/go-exdot/internal/gen"
	"github.com/example/go-exdot/internal/runtime/kernel"
	"github.com/spf13/cobra"
)

func newBenchCmd() *cobra.Command {
	var (
		n                 int
		cond              float64
		seed              uint64
		runs              int
		format            string
		slowdownThreshold float64
		stages            bool
		warmup            int
		cpuprofile        string
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark the exact dot product against naive float64 summation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if runs < 1 {
				return fmt.Errorf("--runs must be at least 1")
			}
			if format != "table" && format != "json" {
				return fmt.Errorf("--format must be 'table' or 'json'")
			}

			setup, err := exdot.SetupFromConfig(cfg, nil)
			if err != nil {
				return err
			}

			if stages {
				rep, err := stageprof.Run(cmd.Context(), stageprof.Options{
					N:          n,
					Cond:       cond,
					Seed:       seed,
					Runs:       runs,
					Warmup:     warmup,
					Ranks:      cfg.Reduce.Ranks,
					Topology:   setup.Topology,
					Kernel:     kernel.Options{FPE: cfg.Engine.FPE, Lanes: cfg.Engine.Lanes},
					CPUProfile: cpuprofile,
				})
				if err != nil {
					return err
				}
				rep.Print(cmd.OutOrStdout())
				return nil
			}

			sum, results, err := runBench(cmd.Context(), setup, benchOptions{
				N:       n,
				Cond:    cond,
				Seed:    seed,
				Runs:    runs,
				Backend: backendLabel(cfg),
			})
			if err != nil {
				return err
			}

			stats := bench.ComputeStats(bench.ExactDurations(results))

			switch format {
			case "json":
				if err := bench.FormatJSON(sum, results, stats, cmd.OutOrStdout()); err != nil {
					return err
				}
			default:
				bench.FormatTable(sum, results, stats, cmd.OutOrStdout())
			}

			return bench.CheckSlowdownThreshold(bench.MeanSlowdown(results), slowdownThreshold)
		},
	}

	cmd.Flags().IntVar(&n, "n", 100000, "Vector length")
	cmd.Flags().Float64Var(&cond, "cond", 1e20, "Target condition number")
	cmd.Flags().Uint64Var(&seed, "seed", 1, "Random seed")
	cmd.Flags().IntVar(&runs, "runs", 5, "Number of runs")
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table|json")
	cmd.Flags().Float64Var(&slowdownThreshold, "slowdown-threshold", 0, "Exit non-zero if the mean exact/naive slowdown exceeds this value (0 = disabled)")
	cmd.Flags().BoolVar(&stages, "stages", false, "Profile accumulate, reduce and round stages instead")
	cmd.Flags().IntVar(&warmup, "warmup", 1, "Unprofiled warmup runs for --stages")
	cmd.Flags().StringVar(&cpuprofile, "cpuprofile", "", "Write a CPU profile with stage labels (--stages only)")

	return cmd
}

func backendLabel(cfg config.Config) string {
	label := cfg.Engine.Backend
	if cfg.Reduce.Ranks > 1 {
		label = fmt.Sprintf("%s/%d ranks/%s", label, cfg.Reduce.Ranks, cfg.Reduce.Topology)
	}
	return label
}

type benchOptions struct {
	N       int
	Cond    float64
	Seed    uint64
	Runs    int
	Backend string
}

// evaluator is the part of exdot.Setup the bench loop needs.
type evaluator interface {
	Dot(xs ...[]float64) (float64, error)
}

func runBench(ctx context.Context, eval evaluator, opts benchOptions) (bench.Summary, []bench.RunResult, error) {
	p := gen.IllConditioned(gen.NewRand(opts.Seed), opts.N, opts.Cond)
	sum := bench.Summary{
		N:          len(p.A),
		Cond:       gen.Condition(p.A, p.B),
		Backend:    opts.Backend,
		NaiveValue: bench.NaiveDot(p.A, p.B),
	}

	results := make([]bench.RunResult, 0, opts.Runs)

	for i := range opts.Runs {
		if err := ctx.Err(); err != nil {
			return sum, nil, err
		}

		start := time.Now()
		_ = bench.NaiveDot(p.A, p.B)
		naive := time.Since(start)

		start = time.Now()
		v, err := eval.Dot(p.A, p.B)
		if err != nil {
			return sum, nil, fmt.Errorf("run %d failed: %w", i+1, err)
		}
		exact := time.Since(start)

		if v != p.Exact {
			return sum, nil, fmt.Errorf("run %d: result %s differs from exact %s", i+1, formatValue(v), formatValue(p.Exact))
		}
		sum.ExactValue = v

		results = append(results, bench.RunResult{
			Index:    i,
			Cold:     i == 0,
			Naive:    naive,
			Exact:    exact,
			Slowdown: bench.CalcSlowdown(naive, exact),
		})
	}

	return sum, results, nil
}

