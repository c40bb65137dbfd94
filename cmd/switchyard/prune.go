package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newPruneCmd() *cobra.Command {
	var target string

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Apply the retention policy to target's backup snapshots.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" {
				return fatal("prune requires --target")
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
			sp, err := parseSafePath(target)
			if err != nil {
				return err
			}
			res, err := eng.PruneBackups(sp)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "pruned=%d retained=%d\n", res.PrunedCount, res.RetainedCount)
			return nil
		},
	}

	cmd.Flags().StringVar(&target, "target", "", "path whose backup snapshots should be pruned")
	return cmd
}
