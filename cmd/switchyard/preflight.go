package main

import (
	"github.com/spf13/cobra"

	syd "github.com/oxidizr-arch/switchyard"
)

func newPreflightCmd() *cobra.Command {
	var linkFlags, restoreFlags []string

	cmd := &cobra.Command{
		Use:   "preflight",
		Short: "Prove a plan built from --link/--restore requests safe, without mutating anything.",
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := buildPlanInput(linkFlags, restoreFlags)
			if err != nil {
				return err
			}
			facts, closer, err := newAuditSink(true)
			if err != nil {
				return err
			}
			defer closer.Close()

			eng, err := buildEngine(facts)
			if err != nil {
				return err
			}
			plan := eng.Plan(input)
			report := eng.Preflight(plan)
			printPreflightReport(report)
			if !report.OK {
				return firstStopError(report)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringArrayVar(&linkFlags, "link", nil, "source=target pair to EnsureSymlink (repeatable)")
	f.StringArrayVar(&restoreFlags, "restore", nil, "target to RestoreFromBackup (repeatable)")
	return cmd
}

// firstStopError returns a *syd.Error carrying the first STOPping row's
// ErrorID, so Execute() maps the process exit code through the same error
// taxonomy even though PreflightReport itself carries no error.
func firstStopError(report syd.PreflightReport) error {
	for _, row := range report.Rows {
		if !row.OK {
			return syd.NewError(row.ErrorID, row.Reason)
		}
	}
	return syd.NewError(syd.ErrPolicy, "preflight STOP")
}
