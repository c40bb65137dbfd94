package main

import (
	"fmt"
	"os"

	"github.com/aquasecurity/table"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	syd "github.com/oxidizr-arch/switchyard"
)

// colorize returns green/red/yellow for ok/stop/warn rows, or a
// pass-through no-op when stdout isn't a TTY, so piped output stays plain
// text.
func colorize() func(ok bool, warn bool, s string) string {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		return func(_ bool, _ bool, s string) string { return s }
	}
	return func(ok bool, warn bool, s string) string {
		switch {
		case !ok:
			return color.RedString(s)
		case warn:
			return color.YellowString(s)
		default:
			return color.GreenString(s)
		}
	}
}

func printPreflightReport(report syd.PreflightReport) {
	paint := colorize()
	t := table.New(os.Stdout)
	t.SetHeaders("ACTION", "TARGET", "PLANNED", "OK", "ERROR", "NOTES")
	for _, row := range report.Rows {
		ok := "yes"
		if !row.OK {
			ok = "no"
		}
		t.AddRow(
			row.ActionID.String()[:8],
			row.Target,
			row.PlannedKind.String(),
			paint(row.OK, len(row.Notes) > 0, ok),
			string(row.ErrorID),
			joinNotes(row.Notes),
		)
	}
	t.Render()
	if report.OK {
		fmt.Fprintln(os.Stdout, color.GreenString("preflight: OK"))
	} else {
		fmt.Fprintln(os.Stdout, color.RedString("preflight: STOP"))
	}
}

func printApplyReport(report syd.ApplyReport) {
	paint := colorize()
	t := table.New(os.Stdout)
	t.SetHeaders("ACTION", "KIND", "TARGET", "OK", "DEGRADED", "ERROR")
	for _, r := range report.Results {
		ok := "yes"
		if !r.OK {
			ok = "no"
		}
		degraded := ""
		if r.Degraded {
			degraded = "yes"
		}
		t.AddRow(
			r.ActionID.String()[:8],
			r.Kind.String(),
			r.Target,
			paint(r.OK, r.Degraded, ok),
			degraded,
			string(r.ErrorID),
		)
	}
	t.Render()
	if report.OK {
		fmt.Fprintln(os.Stdout, color.GreenString("apply: success"))
	} else if report.RolledBack {
		fmt.Fprintln(os.Stdout, color.YellowString("apply: failed, rolled back (ok=%v)", report.RollbackOK))
	} else {
		fmt.Fprintln(os.Stdout, color.RedString("apply: failed"))
	}
}

func joinNotes(notes []string) string {
	out := ""
	for i, n := range notes {
		if i > 0 {
			out += "; "
		}
		out += n
	}
	return out
}
