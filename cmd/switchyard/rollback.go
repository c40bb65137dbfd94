package main

import (
	"context"

	"github.com/spf13/cobra"

	syd "github.com/oxidizr-arch/switchyard"
)

func newRollbackCmd() *cobra.Command {
	var reportIn string

	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Derive and execute the inverse of a previously written ApplyReport.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if reportIn == "" {
				return fatal("rollback requires --report-in (an ApplyReport written by `apply --report-out`)")
			}
			report, err := readReport(reportIn)
			if err != nil {
				return err
			}

			facts, closer, err := newAuditSink(false)
			if err != nil {
				return err
			}
			defer closer.Close()

			eng, err := buildEngine(facts)
			if err != nil {
				return err
			}

			inverse := eng.PlanRollbackOf(report, eng.Policy().Apply.CaptureRestoreSnap)
			printPlan(inverse)

			result, applyErr := eng.Apply(context.Background(), inverse, syd.Commit)
			printApplyReport(result)
			return applyErr
		},
	}

	cmd.Flags().StringVar(&reportIn, "report-in", "", "ApplyReport JSON file to invert and re-apply")
	return cmd
}
