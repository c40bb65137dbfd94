package switchyard

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/oxidizr-arch/switchyard/audit"
	"github.com/oxidizr-arch/switchyard/internal/backup"
)

// Preflight proves a Plan safe without mutating anything: every check in
// this file is read-only. STOP conditions run in a fixed order; every
// triggered ID is folded into summary_error_ids on the emitted
// preflight.summary fact. Preflight never mutates the filesystem, so its
// facts always carry dry-run semantics (TS_ZERO/redacted) regardless of the
// configured FactsEmitter's own mode — including when Preflight runs as the
// gate inside a commit-mode Apply, which reuses that same Apply's Recorder.
func (s *Switchyard) Preflight(plan Plan) PreflightReport {
	report := PreflightReport{PlanID: plan.ID, OK: true}

	var summaryErrorIDs []string
	seen := map[ErrorID]bool{}
	for _, a := range plan.Actions {
		row := s.preflightAction(a)
		fields := audit.Fields{
			"action_id":    row.ActionID.String(),
			"path":         row.Target,
			"planned_kind": row.PlannedKind.String(),
			"policy_ok":    row.OK,
		}
		if len(row.Notes) > 0 {
			fields["notes"] = row.Notes
		}
		decision := audit.DecisionSuccess
		if !row.OK {
			report.OK = false
			decision = audit.DecisionFailure
			fields["error_id"] = string(row.ErrorID)
			if !seen[row.ErrorID] {
				seen[row.ErrorID] = true
				summaryErrorIDs = append(summaryErrorIDs, string(row.ErrorID))
			}
		} else if len(row.Notes) > 0 {
			decision = audit.DecisionWarn
		}
		s.emitDryRun("preflight", "preflight", decision, fields)
		report.Rows = append(report.Rows, row)
	}

	summaryDecision := audit.DecisionSuccess
	if !report.OK {
		summaryDecision = audit.DecisionFailure
	}
	s.emitDryRun("preflight", "preflight.summary", summaryDecision, audit.Fields{
		"plan_id":           plan.ID.String(),
		"summary_error_ids": summaryErrorIDs,
		"row_count":         len(report.Rows),
	})
	return report
}

func (s *Switchyard) preflightAction(a Action) PreflightRow {
	row := PreflightRow{
		ActionID:    a.ID,
		Target:      a.Target.String(),
		PlannedKind: a.Kind,
		BackupTag:   s.policy.Backup.Tag,
		CurrentKind: currentKind(a.Target.String()),
		OK:          true,
	}

	// 1. Scope.
	if !inScope(a.Target.String(), s.policy.Scope.AllowRoots) {
		row.OK = false
		row.ErrorID = ErrPolicy
		row.Reason = "target not under any allowed scope root"
		return row
	}

	// 2. Source trust (Strict).
	if a.Kind == KindEnsureSymlink && s.policy.Risks.SourceTrust == SourceTrustStrict {
		if s.ownership == nil {
			row.OK = false
			row.ErrorID = ErrOwnership
			row.Reason = "source trust strict requires an OwnershipOracle"
			return row
		}
		trusted, err := s.ownership.IsTrusted(a.Source.String())
		if err != nil || !trusted {
			row.OK = false
			row.ErrorID = ErrPolicy
			row.Reason = "source not owned by a trusted principal"
			return row
		}
	}

	// 3. Ownership strict without oracle.
	if s.policy.Risks.OwnershipStrict && s.ownership == nil {
		row.OK = false
		row.ErrorID = ErrOwnership
		row.Reason = "ownership_strict requires a configured OwnershipOracle"
		return row
	}

	// 4. Preservation RequireBasic.
	if s.policy.Risks.Preservation == PreservationRequireBasic {
		if !supportsXattrACL(a.Target.String()) {
			row.OK = false
			row.ErrorID = ErrPolicy
			row.Reason = "preservation unsupported for target"
			row.Notes = append(row.Notes, "preservation unsupported for target")
			return row
		}
	}

	// 5. Rescue required.
	if s.policy.Rescue.Require {
		count := countRescueTools(s.policy.Rescue.ExecCheck, s.overrides)
		if count < s.policy.Rescue.MinCount {
			row.OK = false
			row.ErrorID = ErrPolicy
			row.Reason = "insufficient rescue toolset on PATH"
			row.Notes = append(row.Notes, "rescue toolset below min_count")
			return row
		}
	}

	// 6 & 8. Extra mount checks: advisory only, never STOP by themselves.
	for _, mp := range s.policy.Apply.ExtraMountChecks {
		if !isRWExec(mp) {
			row.Notes = append(row.Notes, "not rw+exec")
		}
	}

	// 7. Restore action with no backup artifacts.
	if a.Kind == KindRestoreFromBackup {
		dir := filepath.Dir(a.Target.String())
		name := filepath.Base(a.Target.String())
		_, found, err := backup.Latest(dir, name, s.policy.Backup.Tag)
		row.RestoreReady = found && err == nil
		if !row.RestoreReady && !s.policy.Risks.BestEffortRestore {
			row.OK = false
			row.ErrorID = ErrBackupMissing
			row.Reason = "restore requested with no backup artifacts"
			return row
		}
	}

	return row
}

// currentKind classifies whatever currently occupies target's path, for the
// preflight row's informational CurrentKind field: "symlink", "regular",
// "missing", or "other".
func currentKind(target string) string {
	info, err := os.Lstat(target)
	if err != nil {
		if os.IsNotExist(err) {
			return "missing"
		}
		return "other"
	}
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		return "symlink"
	case info.Mode().IsRegular():
		return "regular"
	default:
		return "other"
	}
}

func inScope(target string, allowRoots []string) bool {
	if len(allowRoots) == 0 {
		return true
	}
	for _, root := range allowRoots {
		rel, err := filepath.Rel(root, target)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// supportsXattrACL reports whether target's filesystem supports basic
// extended attributes. Go's standard library has no portable xattr API
// (see DESIGN.md); this probes by attempting to set and remove a
// zero-length user xattr via the unix syscall layer. Only a successful set
// counts as supported; any error (ENOTSUP/EOPNOTSUPP, a missing target,
// EPERM, ...) counts as unsupported.
func supportsXattrACL(target string) bool {
	ok, err := probeXattr(target)
	if err != nil {
		return false
	}
	return ok
}

// isRWExec reports whether the mount backing path is both writable and
// permits execution, per the mount's own flags rather than path's file
// mode: a non-executable regular file on a healthy rw+exec mount must pass,
// and a directory with its own +x bit on a read-only or noexec mount must
// fail.
func isRWExec(path string) bool {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return false
	}
	if st.Flags&unix.ST_RDONLY != 0 {
		return false
	}
	if st.Flags&unix.ST_NOEXEC != 0 {
		return false
	}
	return true
}

// countRescueTools counts how many of RescueMustHave are resolvable on
// PATH (and, if execCheck is set, actually executable).
func countRescueTools(execCheck bool, ov Overrides) int {
	if resolveForceRescueOK(ov) {
		return len(RescueMustHave)
	}
	n := 0
	for _, tool := range RescueMustHave {
		path, err := exec.LookPath(tool)
		if err != nil {
			continue
		}
		if execCheck {
			if info, serr := os.Stat(path); serr != nil || info.Mode().Perm()&0o111 == 0 {
				continue
			}
		}
		n++
	}
	return n
}
