package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	syd "github.com/oxidizr-arch/switchyard"
)

// globalFlags groups the flags every subcommand needs to build an engine
// and resolve SafePaths: user-visible flags kept separate from any
// per-run state a command derives from them.
type globalFlags struct {
	root      string
	policy    string
	auditLog  string
	lockPath  string
	noColor   bool
}

var flags globalFlags

// Execute builds and runs the root command, returning a process exit code
// derived from any returned *switchyard.Error (or 1 for an unclassified
// error, 0 on success).
func Execute() int {
	root := NewRootCmd()
	err := root.Execute()
	if err == nil {
		return 0
	}
	if se, ok := syd.AsError(err); ok {
		if code := se.ID.ExitCode(); code != 0 {
			return code
		}
	}
	return 1
}

// NewRootCmd builds the root cobra.Command: a slim root wiring persistent
// flags and one subcommand per engine operation.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "switchyard",
		Short:         "Reversible, crash-safe, atomic filesystem swaps.",
		SilenceErrors: false,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if flags.noColor {
				color.NoColor = true
			}
			return nil
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true

	pf := cmd.PersistentFlags()
	pf.SortFlags = false
	pf.StringVar(&flags.root, "root", "/", "root directory every SafePath is anchored to")
	pf.StringVar(&flags.policy, "policy", "", "path to a YAML policy file (defaults built in if omitted)")
	pf.StringVar(&flags.auditLog, "audit-log", "", "path to append JSONL audit facts to (stderr if omitted)")
	pf.StringVar(&flags.lockPath, "lock-file", "/run/switchyard.lock", "path to the advisory lock file backing the default LockManager")
	pf.BoolVar(&flags.noColor, "no-color", false, "disable colorized table output")

	cmd.AddCommand(newPlanCmd())
	cmd.AddCommand(newPreflightCmd())
	cmd.AddCommand(newApplyCmd())
	cmd.AddCommand(newRollbackCmd())
	cmd.AddCommand(newPruneCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func fatal(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}

func warnf(format string, args ...any) {
	fmt.Fprintln(os.Stderr, color.YellowString(format, args...))
}
