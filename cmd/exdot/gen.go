package main

import (
	"errors"
	"fmt"

	"github.com/example/go-exdot/internal/gen"
	"github.com/example/go-exdot/internal/safetensors"
	"github.com/spf13/cobra"
)

func newGenCmd() *cobra.Command {
	var (
		n    int
		cond float64
		seed uint64
		out  string
	)

	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Write an ill-conditioned vector pair to a safetensors file",
		Long: "Writes tensors \"a\" and \"b\" whose dot product has a condition number of\n" +
			"about --cond. The exact result is stored in the file metadata.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if out == "" {
				return errors.New("--out is required")
			}
			if n < 1 {
				return errors.New("--n must be at least 1")
			}
			if cond < 1 {
				return errors.New("--cond must be at least 1")
			}

			p := gen.IllConditioned(gen.NewRand(seed), n, cond)
			shape := []int64{int64(len(p.A))}
			err := safetensors.WriteFile(out, []safetensors.Tensor{
				{Name: "a", Shape: shape, Data: p.A},
				{Name: "b", Shape: shape, Data: p.B},
			}, map[string]string{
				"exact": formatValue(p.Exact),
				"cond":  formatValue(gen.Condition(p.A, p.B)),
				"seed":  fmt.Sprint(seed),
			})
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (n=%d, exact=%s)\n", out, len(p.A), formatValue(p.Exact))
			return err
		},
	}

	cmd.Flags().IntVar(&n, "n", 1000, "Vector length")
	cmd.Flags().Float64Var(&cond, "cond", 1e20, "Target condition number")
	cmd.Flags().Uint64Var(&seed, "seed", 1, "Random seed")
	cmd.Flags().StringVar(&out, "out", "", "Output safetensors path (required)")

	return cmd
}
