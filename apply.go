package switchyard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"time"

	multierror "github.com/hashicorp/go-multierror"
	"github.com/google/uuid"

	"github.com/oxidizr-arch/switchyard/audit"
	"github.com/oxidizr-arch/switchyard/internal/backup"
	"github.com/oxidizr-arch/switchyard/internal/fsops"
	"github.com/oxidizr-arch/switchyard/internal/restoreops"
)

// sha256HexFile returns the SHA-256 hex digest of path's content, following
// symlinks. Used for ActionResult.BeforeHash/AfterHash, which are
// best-effort: callers treat a hashing error the same as "not applicable".
func sha256HexFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Apply executes plan under mode, producing an ApplyReport and emitting
// apply.attempt / per-action / apply.result audit facts.
func (s *Switchyard) Apply(ctx context.Context, plan Plan, mode ApplyMode) (ApplyReport, error) {
	runID := uuid.New()
	report := ApplyReport{PlanID: plan.ID, RunID: runID}

	var lockWaitMS int64
	var lockAttempts int
	var guard interface{ Unlock() error }

	s.emit("apply", "apply.attempt", audit.DecisionSuccess, audit.Fields{
		"plan_id": plan.ID.String(),
		"run_id":  runID.String(),
		"dry_run": mode == DryRun,
	})

	if mode == Commit {
		lockErr := func() error {
			if s.policy.Governance.Locking == LockingRequired {
				if s.lockManager == nil {
					return NewError(ErrLocking, "locking required but no LockManager configured")
				}
			} else if s.lockManager == nil {
				if !s.policy.Governance.AllowUnlockedCommit {
					return NewError(ErrLocking, "no LockManager configured and allow_unlocked_commit is false")
				}
				s.emit("apply", "apply.lock", audit.DecisionWarn, audit.Fields{
					"no_lock_manager": true,
					"lock_backend":    "none",
				})
				return nil
			}
			if s.lockManager != nil {
				g, wait, attempts, err := s.lockManager.AcquireProcessLock(ctx, s.policy.Governance.LockTimeoutMS)
				lockWaitMS = wait.Milliseconds()
				lockAttempts = attempts
				if err != nil {
					return Wrap(ErrLocking, "failed to acquire process lock", err)
				}
				guard = g
			}
			return nil
		}()
		if lockErr != nil {
			report.OK = false
			se, _ := AsError(lockErr)
			s.emit("apply", "apply.result", audit.DecisionFailure, audit.Fields{
				"plan_id":    plan.ID.String(),
				"run_id":     runID.String(),
				"error_id":   string(se.ID),
				"exit_code":  se.ID.ExitCode(),
				"lock_wait_ms": lockWaitMS,
				"lock_attempts": lockAttempts,
			})
			return report, lockErr
		}
		if guard != nil {
			defer guard.Unlock()
		}
	}

	if mode == Commit && !s.policy.Apply.OverridePreflight {
		pf := s.Preflight(plan)
		if !pf.OK {
			report.OK = false
			err := NewError(ErrPolicy, "preflight STOP")
			s.emit("apply", "apply.result", audit.DecisionFailure, audit.Fields{
				"plan_id":   plan.ID.String(),
				"run_id":    runID.String(),
				"error_id":  string(ErrPolicy),
				"exit_code": ErrPolicy.ExitCode(),
			})
			return report, err
		}
	}

	var firstFailure error
	for _, a := range plan.Actions {
		res, err := s.applyAction(a, mode, false)
		report.Results = append(report.Results, res)
		report.Perf.Add(res.Perf)

		fields := audit.Fields{
			"action_id":    res.ActionID.String(),
			"path":         res.Target,
			"after_kind":   afterKind(a.Kind, res.OK),
			"degraded":     res.Degraded,
			"dry_run":      mode == DryRun,
			"hash_ms":      res.Perf.HashMS,
			"backup_ms":    res.Perf.BackupMS,
			"swap_ms":      res.Perf.SwapMS,
			"backup_path":  res.BackupPath,
			"before_hash":  res.BeforeHash,
			"after_hash":   res.AfterHash,
		}
		decision := audit.DecisionSuccess
		if !res.OK {
			decision = audit.DecisionFailure
			fields["error_id"] = string(res.ErrorID)
		} else if res.Perf.SwapMS > FsyncWarnMS {
			fields["severity"] = "warn"
		}
		s.emit("apply", "apply.action", decision, fields)

		if err != nil {
			firstFailure = err
			break
		}
	}

	if firstFailure != nil && mode == Commit {
		report.OK = false
		rolledBack, rollbackOK, reasons := s.rollback(report.Results)
		report.RolledBack = rolledBack
		report.RollbackOK = rollbackOK
		report.RollbackReasons = reasons
		se, _ := AsError(firstFailure)
		errID := ErrAtomicSwap
		if se != nil {
			errID = se.ID
		}
		s.emit("apply", "apply.result", audit.DecisionFailure, audit.Fields{
			"plan_id":     plan.ID.String(),
			"run_id":      runID.String(),
			"error_id":    string(errID),
			"exit_code":   errID.ExitCode(),
			"rolled_back": rolledBack,
		})
		return report, firstFailure
	}

	if mode == Commit && s.policy.Governance.Smoke.Require {
		targets := make([]string, 0, len(plan.Actions))
		for _, a := range plan.Actions {
			targets = append(targets, a.Target.String())
		}
		var smokeErr error
		if s.smoke == nil {
			smokeErr = NewError(ErrSmoke, "smoke required but no SmokeRunner configured")
		} else if err := s.smoke.Run(ctx, targets); err != nil {
			smokeErr = Wrap(ErrSmoke, "smoke check failed", err)
		}
		if smokeErr != nil {
			report.OK = false
			if s.policy.Governance.Smoke.AutoRollback {
				rolledBack, rollbackOK, reasons := s.rollback(report.Results)
				report.RolledBack = rolledBack
				report.RollbackOK = rollbackOK
				report.RollbackReasons = reasons
			}
			s.emit("apply", "apply.result", audit.DecisionFailure, audit.Fields{
				"plan_id":     plan.ID.String(),
				"run_id":      runID.String(),
				"error_id":    string(ErrSmoke),
				"exit_code":   ErrSmoke.ExitCode(),
				"rolled_back": report.RolledBack,
			})
			return report, smokeErr
		}
	}

	report.OK = true

	if s.attestor != nil {
		bundle := attestationBundle(report)
		if _, err := s.attestor.Sign(bundle); err == nil {
			// Attestation succeeded; signature itself is not modeled on
			// ApplyReport beyond the audit fact (signing errors are
			// tolerated either way).
			s.emit("apply", "apply.attest", audit.DecisionSuccess, audit.Fields{"key_id": s.attestor.KeyID()})
		}
	}

	s.emit("apply", "apply.result", audit.DecisionSuccess, audit.Fields{
		"plan_id":         plan.ID.String(),
		"run_id":          runID.String(),
		"backup_durable":  s.policy.Apply.BackupDurability,
		"hash_ms":         report.Perf.HashMS,
		"backup_ms":       report.Perf.BackupMS,
		"swap_ms":         report.Perf.SwapMS,
	})
	return report, nil
}

// afterKind reports the symbolic post-action filesystem kind an
// apply.action fact should carry, independent of any actual stat call: a
// successful EnsureSymlink reports "symlink", a successful RestoreFromBackup
// reports "restored", and a failed action reports "".
func afterKind(kind ActionKind, ok bool) string {
	if !ok {
		return ""
	}
	switch kind {
	case KindEnsureSymlink:
		return "symlink"
	case KindRestoreFromBackup:
		return "restored"
	default:
		return ""
	}
}

func (s *Switchyard) emit(subsystem, event string, decision audit.Decision, fields audit.Fields) {
	if s.facts != nil {
		s.facts.Emit(subsystem, event, decision, fields)
	}
}

// emitDryRun records subsystem/event forcing dry-run envelope rules
// regardless of the configured FactsEmitter's own mode, used by Preflight so
// its facts always read as dry-run even when invoked as the gate inside a
// commit-mode Apply. Falls back to a plain emit for a FactsEmitter that
// doesn't implement audit.ForcedDryRunEmitter.
func (s *Switchyard) emitDryRun(subsystem, event string, decision audit.Decision, fields audit.Fields) {
	if s.facts == nil {
		return
	}
	if forced, ok := s.facts.(audit.ForcedDryRunEmitter); ok {
		forced.EmitDryRun(subsystem, event, decision, fields)
		return
	}
	s.facts.Emit(subsystem, event, decision, fields)
}

// applyAction executes a single Action. isRollbackOfRestore distinguishes
// a RestoreFromBackup invoked as the inverse of a prior restore (selects
// Previous) from a forward one (selects Latest) — see restoreops.go and
// DESIGN.md for the resolved Open Question this encodes.
func (s *Switchyard) applyAction(a Action, mode ApplyMode, isRollbackOfRestore bool) (ActionResult, error) {
	res := ActionResult{ActionID: a.ID, Kind: a.Kind, Target: a.Target.String(), TargetPath: a.Target}

	if mode == DryRun {
		res.OK = true
		return res, nil
	}

	switch a.Kind {
	case KindEnsureSymlink:
		return s.applyEnsureSymlink(a, res)
	case KindRestoreFromBackup:
		return s.applyRestore(a, res, isRollbackOfRestore)
	default:
		res.OK = false
		res.ErrorID = ErrAtomicSwap
		res.Reason = "unknown action kind"
		return res, NewError(ErrAtomicSwap, res.Reason)
	}
}

func (s *Switchyard) applyEnsureSymlink(a Action, res ActionResult) (ActionResult, error) {
	target := a.Target.String()
	source := a.Source.String()

	t0 := time.Now()
	st, err := fsops.StatNoFollow(target)
	if err != nil {
		res.OK = false
		res.ErrorID = ErrAtomicSwap
		res.Reason = err.Error()
		return res, Wrap(ErrAtomicSwap, "stat target", err)
	}

	if st != nil {
		if currentKind(target) == "regular" {
			if h, herr := sha256HexFile(target); herr == nil {
				res.BeforeHash = h
			}
		}

		backupStart := time.Now()
		snap, err := backup.CreateSnapshot(target, s.policy.Backup.Tag, s.policy.Risks.SidecarIntegrity, s.policy.Apply.BackupDurability)
		res.Perf.BackupMS += time.Since(backupStart).Milliseconds()
		if err != nil {
			res.OK = false
			res.ErrorID = ErrAtomicSwap
			res.Reason = err.Error()
			return res, Wrap(ErrAtomicSwap, "create snapshot", err)
		}
		res.BackupPath = snap.PayloadPath
	}
	res.Perf.HashMS += time.Since(t0).Milliseconds()

	swapStart := time.Now()
	forceEXDEV := resolveForceEXDEV(s.overrides)
	var swapErr error
	if forceEXDEV {
		swapErr = &fsops.SwapError{EXDEV: true}
	} else {
		swapErr = fsops.AtomicSymlinkSwap(source, target)
	}

	if swapErr != nil {
		if se, ok := swapErr.(*fsops.SwapError); ok && se.EXDEV {
			if s.policy.Apply.Exdev == ExdevDegradedFallback {
				if err := fsops.DegradedCopySwap(source, target); err != nil {
					res.OK = false
					res.ErrorID = ErrEXDEV
					res.Reason = err.Error()
					return res, Wrap(ErrEXDEV, "degraded fallback failed", err)
				}
				res.Degraded = true
				s.emit("apply", "apply.degraded", audit.DecisionWarn, audit.Fields{"action_id": a.ID.String(), "path": target})
			} else {
				res.OK = false
				res.ErrorID = ErrEXDEV
				res.Reason = "cross-device rename"
				return res, NewError(ErrEXDEV, "cross-device rename, policy requires fail")
			}
		} else {
			res.OK = false
			res.ErrorID = ErrAtomicSwap
			res.Reason = swapErr.Error()
			return res, Wrap(ErrAtomicSwap, "atomic symlink swap", swapErr)
		}
	}
	res.Perf.SwapMS += time.Since(swapStart).Milliseconds()

	if h, herr := sha256HexFile(target); herr == nil {
		res.AfterHash = h
	}

	res.OK = true
	return res, nil
}

func (s *Switchyard) applyRestore(a Action, res ActionResult, isRollbackOfRestore bool) (ActionResult, error) {
	target := a.Target.String()
	tag := s.policy.Backup.Tag
	capture := s.policy.Apply.CaptureRestoreSnap

	var (
		snap  backup.Snapshot
		found bool
		err   error
	)

	if isRollbackOfRestore {
		if capture {
			backupStart := time.Now()
			_, cerr := backup.CreateSnapshot(target, tag, s.policy.Risks.SidecarIntegrity, s.policy.Apply.BackupDurability)
			res.Perf.BackupMS += time.Since(backupStart).Milliseconds()
			if cerr != nil {
				res.OK = false
				res.ErrorID = ErrAtomicSwap
				res.Reason = cerr.Error()
				return res, Wrap(ErrAtomicSwap, "pre-restore capture", cerr)
			}
		}
		snap, found, err = restoreops.Select(target, tag, restoreops.SelectPrevious)
	} else {
		snap, found, err = restoreops.Select(target, tag, restoreops.SelectLatest)
		if err == nil && found && capture {
			backupStart := time.Now()
			_, cerr := backup.CreateSnapshot(target, tag, s.policy.Risks.SidecarIntegrity, s.policy.Apply.BackupDurability)
			res.Perf.BackupMS += time.Since(backupStart).Milliseconds()
			if cerr != nil {
				res.OK = false
				res.ErrorID = ErrAtomicSwap
				res.Reason = cerr.Error()
				return res, Wrap(ErrAtomicSwap, "pre-restore capture", cerr)
			}
		}
	}
	if err != nil {
		res.OK = false
		res.ErrorID = ErrBackupMissing
		res.Reason = err.Error()
		return res, Wrap(ErrBackupMissing, "select snapshot", err)
	}
	if !found {
		if s.policy.Risks.BestEffortRestore {
			res.OK = true
			res.Reason = "no backup artifacts; best-effort success"
			return res, nil
		}
		res.OK = false
		res.ErrorID = ErrBackupMissing
		res.Reason = "no snapshot to restore from"
		return res, NewError(ErrBackupMissing, res.Reason)
	}

	outcome, rerr := restoreops.RestoreFromSnapshot(target, snap, s.policy.Risks.SidecarIntegrity)
	if rerr != nil {
		if _, ok := rerr.(*restoreops.ErrMismatch); ok {
			if s.policy.Risks.BestEffortRestore {
				res.OK = true
				res.Reason = "integrity mismatch tolerated by best_effort_restore"
				return res, nil
			}
			res.OK = false
			res.ErrorID = ErrRestoreFailed
			res.Reason = rerr.Error()
			return res, Wrap(ErrRestoreFailed, "integrity mismatch", rerr)
		}
		res.OK = false
		res.ErrorID = ErrRestoreFailed
		res.Reason = rerr.Error()
		return res, Wrap(ErrRestoreFailed, "restore failed", rerr)
	}

	res.BackupPath = outcome.UsedSnapshot.PayloadPath
	res.OK = true
	return res, nil
}

// rollback executes the inverse of every successfully-executed action in
// results, in reverse order. Failures during rollback are aggregated with
// go-multierror rather than cascading.
func (s *Switchyard) rollback(results []ActionResult) (rolledBack bool, ok bool, reasons []string) {
	var merr *multierror.Error
	for i := len(results) - 1; i >= 0; i-- {
		r := results[i]
		if !r.OK {
			continue
		}
		rolledBack = true
		var inv Action
		switch r.Kind {
		case KindEnsureSymlink:
			inv = Action{Kind: KindRestoreFromBackup, Target: r.TargetPath}
			if _, err := s.applyAction(inv, Commit, false); err != nil {
				merr = multierror.Append(merr, err)
			}
		case KindRestoreFromBackup:
			if s.policy.Apply.CaptureRestoreSnap {
				inv = Action{Kind: KindRestoreFromBackup, Target: r.TargetPath}
				if _, err := s.applyAction(inv, Commit, true); err != nil {
					merr = multierror.Append(merr, err)
				}
			}
		}
	}
	if merr != nil {
		for _, e := range merr.Errors {
			reasons = append(reasons, e.Error())
		}
		s.emit("apply", "rollback.summary", audit.DecisionFailure, audit.Fields{"reasons": reasons})
		return rolledBack, false, reasons
	}
	if rolledBack {
		s.emit("apply", "rollback.summary", audit.DecisionSuccess, nil)
	}
	return rolledBack, true, nil
}

func attestationBundle(report ApplyReport) []byte {
	sum := sha256.Sum256([]byte(report.PlanID.String() + report.RunID.String()))
	return []byte(hex.EncodeToString(sum[:]))
}
