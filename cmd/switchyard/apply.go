package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	syd "github.com/oxidizr-arch/switchyard"
)

func newApplyCmd() *cobra.Command {
	var linkFlags, restoreFlags []string
	var dryRun bool
	var reportOut string

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Execute a plan built from --link/--restore requests.",
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := buildPlanInput(linkFlags, restoreFlags)
			if err != nil {
				return err
			}
			facts, closer, err := newAuditSink(dryRun)
			if err != nil {
				return err
			}
			defer closer.Close()

			eng, err := buildEngine(facts)
			if err != nil {
				return err
			}
			plan := eng.Plan(input)

			mode := syd.Commit
			if dryRun {
				mode = syd.DryRun
			}
			report, applyErr := eng.Apply(context.Background(), plan, mode)
			printApplyReport(report)

			if reportOut != "" {
				if werr := writeReport(reportOut, report); werr != nil {
					warnf("failed to write --report-out: %v", werr)
				}
			}
			return applyErr
		},
	}

	f := cmd.Flags()
	f.StringArrayVar(&linkFlags, "link", nil, "source=target pair to EnsureSymlink (repeatable)")
	f.StringArrayVar(&restoreFlags, "restore", nil, "target to RestoreFromBackup (repeatable)")
	f.BoolVar(&dryRun, "dry-run", false, "simulate the run without mutating the filesystem")
	f.StringVar(&reportOut, "report-out", "", "write the resulting ApplyReport as JSON to this path (consumed by `rollback --report-in`)")
	return cmd
}

func writeReport(path string, report syd.ApplyReport) error {
	b, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}

func readReport(path string) (syd.ApplyReport, error) {
	var report syd.ApplyReport
	b, err := os.ReadFile(path)
	if err != nil {
		return report, fmt.Errorf("read report file: %w", err)
	}
	if err := json.Unmarshal(b, &report); err != nil {
		return report, fmt.Errorf("parse report file: %w", err)
	}
	return report, nil
}
