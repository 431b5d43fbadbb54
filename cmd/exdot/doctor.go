package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/example/go-exdot/internal/doctor"
	"github.com/example/go-exdot/internal/eft"
	"github.com/spf13/cobra"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor [input.safetensors ...]",
		Short: "Run environment checks and numerical self-checks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "backend: %s\n", backendLabel(cfg))

			result := doctor.Run(doctor.Config{
				GoVersion:  func() (string, error) { return runtime.Version(), nil },
				HasFMA:     eft.HasFMA,
				InputFiles: args,
				Checks:     doctor.DefaultChecks(),
			}, out)

			if result.Failed() {
				for _, f := range result.Failures() {
					fmt.Fprintf(os.Stderr, "FAIL: %s\n", f)
				}

				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(out, "doctor checks passed")

			return nil
		},
	}

	return cmd
}
