package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/example/go-exdot/internal/bench"
	"github.com/example/go-exdot/internal/exdot"
	"github.com/spf13/cobra"
)

func setupFromConfig() (exdot.Setup, error) {
	cfg, err := requireConfig()
	if err != nil {
		return exdot.Setup{}, err
	}
	return exdot.SetupFromConfig(cfg, slog.Default())
}

func newDotCmd() *cobra.Command {
	var compare bool

	cmd := &cobra.Command{
		Use:   "dot A B [C]",
		Short: "Print the correctly rounded dot product of two or three vectors",
		Long: "Inputs are text files of numbers, '-' for stdin, or path.safetensors[:tensor].\n" +
			"The result does not depend on --backend, --lanes, --ranks or --topology.",
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			setup, err := setupFromConfig()
			if err != nil {
				return err
			}

			ops, err := loadOperands(args, cmd.InOrStdin())
			if err != nil {
				return err
			}

			xs := make([][]float64, len(ops))
			for i, op := range ops {
				xs[i] = op.data
			}

			v, err := setup.Dot(xs...)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintln(out, formatValue(v))

			if compare {
				if len(xs) != 2 {
					return errors.New("--compare needs exactly two operands")
				}
				naive := bench.NaiveDot(xs[0], xs[1])
				_, _ = fmt.Fprintf(out, "naive: %s (%d ulps)\n", formatValue(naive), bench.ULPDistance(naive, v))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&compare, "compare", false, "Also print the naive float64 result and its distance in ulps")

	return cmd
}

func newSumCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sum X",
		Short: "Print the correctly rounded sum of a vector",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setup, err := setupFromConfig()
			if err != nil {
				return err
			}

			op, err := loadOperand(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}

			v, err := setup.Sum(op.data)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), formatValue(v))
			return err
		},
	}
}

func newRowsCmd() *cobra.Command {
	var rows int

	cmd := &cobra.Command{
		Use:   "rows A B",
		Short: "Print one correctly rounded dot product per row of two row-major matrices",
		Long: "The row count comes from --rows, or from the leading dimension of a 2D\n" +
			"safetensors input when --rows is not set.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			setup, err := setupFromConfig()
			if err != nil {
				return err
			}

			ops, err := loadOperands(args, cmd.InOrStdin())
			if err != nil {
				return err
			}

			if !cmd.Flags().Changed("rows") {
				rows = max(ops[0].rows, ops[1].rows)
				if rows == 0 {
					return errors.New("--rows is required for inputs without a 2D shape")
				}
			}

			vs, err := setup.DotRows(ops[0].data, ops[1].data, rows)
			if err != nil {
				return err
			}

			lines := make([]string, len(vs))
			for i, v := range vs {
				lines[i] = formatValue(v)
			}
			if len(lines) == 0 {
				return nil
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), strings.Join(lines, "\n"))
			return err
		},
	}

	cmd.Flags().IntVar(&rows, "rows", 0, "Number of rows")

	return cmd
}
