// Package restoreops implements the RestoreFromBackup action body: snapshot
// selection, idempotence short-circuit, integrity verification, and the
// actual reconstruction of prior state.
package restoreops

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/oxidizr-arch/switchyard/internal/backup"
	"github.com/oxidizr-arch/switchyard/internal/fsops"
)

// Selector chooses which snapshot generation to restore from.
type Selector int

const (
	SelectLatest Selector = iota
	SelectPrevious
)

// Outcome reports what Restore did.
type Outcome struct {
	Skipped      bool // idempotent: current state already matched
	UsedSnapshot backup.Snapshot
	NoSnapshot   bool
}

// ErrMismatch is returned when sidecar integrity verification fails.
type ErrMismatch struct{ Path string }

func (e *ErrMismatch) Error() string {
	return fmt.Sprintf("payload hash mismatch for %s", e.Path)
}

// Select locates the snapshot a restore should use, without touching the
// filesystem at target. Split out from Restore so the apply engine can
// decide exactly when (relative to capturing a pre-restore snapshot of its
// own) the selection happens — see switchyard's apply.go for why that
// ordering differs between a forward restore and the inverse of one.
func Select(target, tag string, sel Selector) (backup.Snapshot, bool, error) {
	dir := filepath.Dir(target)
	name := filepath.Base(target)
	if sel == SelectLatest {
		return backup.Latest(dir, name, tag)
	}
	return backup.Previous(dir, name, tag)
}

// Restore reconstructs target's state from the selected snapshot.
// verifyIntegrity enables sidecar SHA-256 checking (policy Risks.SidecarIntegrity).
func Restore(target, tag string, sel Selector, verifyIntegrity bool) (Outcome, error) {
	snap, found, err := Select(target, tag, sel)
	if err != nil {
		return Outcome{}, err
	}
	if !found {
		return Outcome{NoSnapshot: true}, nil
	}
	return RestoreFromSnapshot(target, snap, verifyIntegrity)
}

// RestoreFromSnapshot reconstructs target's state from an already-selected
// snapshot.
func RestoreFromSnapshot(target string, snap backup.Snapshot, verifyIntegrity bool) (Outcome, error) {
	ok, curDest, err := matchesCurrent(target, snap)
	if err != nil {
		return Outcome{}, err
	}
	if ok {
		return Outcome{Skipped: true, UsedSnapshot: snap}, nil
	}
	_ = curDest

	if verifyIntegrity && snap.PayloadPath != "" && snap.Meta.PayloadSHA256 != "" {
		match, err := backup.VerifyPayloadHash(snap.PayloadPath, snap.Meta.PayloadSHA256)
		if err != nil {
			return Outcome{}, err
		}
		if !match {
			return Outcome{}, &ErrMismatch{Path: snap.PayloadPath}
		}
	}

	switch snap.Meta.PriorKind {
	case backup.KindFile:
		info, statErr := os.Stat(snap.PayloadPath)
		mode := os.FileMode(0o644)
		if statErr == nil {
			mode = info.Mode()
		}
		if err := fsops.RemoveThenRestoreFile(snap.PayloadPath, target, mode); err != nil {
			return Outcome{}, err
		}
	case backup.KindSymlink:
		if err := fsops.AtomicSymlinkSwap(snap.Meta.PriorDest, target); err != nil {
			return Outcome{}, err
		}
	case backup.KindNone:
		if err := fsops.RemoveTarget(target); err != nil {
			return Outcome{}, err
		}
	default:
		return Outcome{}, fmt.Errorf("cannot restore prior kind %q", snap.Meta.PriorKind)
	}

	return Outcome{UsedSnapshot: snap}, nil
}

// matchesCurrent reports whether target's current on-disk state already
// equals what the snapshot would restore: for symlinks, the resolved
// destination must match prior_dest too; for regular files, content must
// match the payload too, not just the fact that both are regular files.
func matchesCurrent(target string, snap backup.Snapshot) (bool, string, error) {
	meta := snap.Meta
	st, err := os.Lstat(target)
	switch {
	case err != nil && os.IsNotExist(err):
		return meta.PriorKind == backup.KindNone, "", nil
	case err != nil:
		return false, "", err
	}

	mode := st.Mode()
	switch {
	case mode&os.ModeSymlink != 0:
		if meta.PriorKind != backup.KindSymlink {
			return false, "", nil
		}
		dest, err := os.Readlink(target)
		if err != nil {
			return false, "", err
		}
		return dest == meta.PriorDest, dest, nil
	case mode.IsRegular():
		if meta.PriorKind != backup.KindFile {
			return false, "", nil
		}
		match, err := regularContentMatches(target, snap)
		if err != nil {
			return false, "", err
		}
		return match, "", nil
	default:
		return meta.PriorKind == backup.KindOther, "", nil
	}
}

// regularContentMatches compares target's current content against the
// snapshot's payload: by SHA-256 when the sidecar recorded one, otherwise
// by a direct byte comparison against the payload file.
func regularContentMatches(target string, snap backup.Snapshot) (bool, error) {
	if snap.PayloadPath == "" {
		return false, nil
	}
	if snap.Meta.PayloadSHA256 != "" {
		return backup.VerifyPayloadHash(target, snap.Meta.PayloadSHA256)
	}
	want, err := os.ReadFile(snap.PayloadPath)
	if err != nil {
		return false, err
	}
	got, err := os.ReadFile(target)
	if err != nil {
		return false, err
	}
	return string(got) == string(want), nil
}
