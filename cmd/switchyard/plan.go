package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	syd "github.com/oxidizr-arch/switchyard"
)

func newPlanCmd() *cobra.Command {
	var linkFlags, restoreFlags []string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Canonicalise --link/--restore requests into a deterministic Plan and print it.",
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := buildPlanInput(linkFlags, restoreFlags)
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
			plan := eng.Plan(input)
			printPlan(plan)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringArrayVar(&linkFlags, "link", nil, "source=target pair to EnsureSymlink (repeatable)")
	f.StringArrayVar(&restoreFlags, "restore", nil, "target to RestoreFromBackup (repeatable)")
	return cmd
}

func printPlan(plan syd.Plan) {
	fmt.Fprintf(os.Stdout, "plan_id: %s\n", plan.ID)
	for _, a := range plan.Actions {
		if a.Kind == syd.KindEnsureSymlink {
			fmt.Fprintf(os.Stdout, "  %s  %s -> %s  (source=%s)\n", a.ID.String()[:8], a.Kind, a.Target.String(), a.Source.String())
		} else {
			fmt.Fprintf(os.Stdout, "  %s  %s -> %s\n", a.ID.String()[:8], a.Kind, a.Target.String())
		}
	}
}
