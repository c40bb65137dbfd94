// Package fsops implements the TOCTOU-safe filesystem primitives the apply
// engine builds on: a symlink swap is never a plain os.Symlink+os.Rename,
// it is create-in-tmp, renameat through an O_NOFOLLOW directory fd, fsync
// the parent.
package fsops

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// TmpSuffix is the hidden-file suffix used for the staging symlink created
// before each atomic rename.
const TmpSuffix = ".switchyard.tmp"

// OpenDirNoFollow opens dir for reading, refusing to follow a symlink at
// dir itself. The returned fd must be closed by the caller.
func OpenDirNoFollow(dir string) (int, error) {
	fd, err := unix.Open(dir, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC|unix.O_NOFOLLOW, 0)
	if err != nil {
		return -1, fmt.Errorf("open_dir_nofollow %s: %w", dir, err)
	}
	return fd, nil
}

// FsyncParentDir fsyncs the directory containing path, so a crash after a
// successful rename cannot leave the directory entry unpersisted.
func FsyncParentDir(path string) error {
	parent := filepath.Dir(path)
	dir, err := os.Open(parent)
	if err != nil {
		return err
	}
	defer dir.Close()
	return dir.Sync()
}

// StatNoFollow lstats path, returning (nil, nil) if it does not exist.
func StatNoFollow(path string) (*unix.Stat_t, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return &st, nil
}

// IsSymlink reports whether path exists and is a symlink.
func IsSymlink(path string) (bool, error) {
	st, err := StatNoFollow(path)
	if err != nil || st == nil {
		return false, err
	}
	return st.Mode&unix.S_IFMT == unix.S_IFLNK, nil
}

// AtomicSymlinkSwap makes target a symlink pointing at source, replacing
// whatever is currently at target (file, symlink, or nothing), via a
// create-in-tmp + renameat sequence so target is never observably absent.
//
// It returns a *SwapError with EXDEV set when the rename crosses a
// filesystem boundary; callers (the apply engine) decide whether to treat
// that as fatal or fall back to the non-atomic DegradedCopySwap per policy. The tmp
// staging entry and target share a parent directory, so on a plain
// filesystem this path never actually crosses devices; overlay and union
// mounts can still return EXDEV for a same-directory rename when the two
// names resolve to different underlying layers, which is the case this
// branch exists for.
func AtomicSymlinkSwap(source, target string) error {
	parent := filepath.Dir(target)
	fname := filepath.Base(target)
	tmpName := "." + fname + TmpSuffix
	tmp := filepath.Join(parent, tmpName)

	_ = os.Remove(tmp)
	if err := os.Symlink(source, tmp); err != nil {
		return fmt.Errorf("create staging symlink %s: %w", tmp, err)
	}

	dirfd, err := OpenDirNoFollow(parent)
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	defer unix.Close(dirfd)

	err = unix.Renameat(dirfd, tmpName, dirfd, fname)
	if err != nil {
		_ = os.Remove(tmp)
		if err == unix.EXDEV {
			return &SwapError{EXDEV: true, Err: err}
		}
		return &SwapError{Err: err}
	}

	_ = FsyncParentDir(target)
	return nil
}

// SwapError wraps a failed atomic swap, distinguishing the EXDEV
// cross-device case from every other failure mode.
type SwapError struct {
	EXDEV bool
	Err   error
}

func (e *SwapError) Error() string { return fmt.Sprintf("atomic_symlink_swap: %v", e.Err) }
func (e *SwapError) Unwrap() error { return e.Err }

// DegradedCopySwap performs the non-atomic EXDEV fallback: unlink whatever
// is at target, then create the symlink to source directly in its place,
// with no rename. target is briefly absent between the two steps. Used only
// when policy permits ExdevDegradedFallback.
func DegradedCopySwap(source, target string) error {
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("degraded unlink %s: %w", target, err)
	}
	if err := os.Symlink(source, target); err != nil {
		return fmt.Errorf("degraded symlink %s -> %s: %w", target, source, err)
	}
	_ = FsyncParentDir(target)
	return nil
}

// RemoveThenRestoreFile atomically restores target to a regular file with
// payload's contents, via the same create-in-tmp + renameat pattern.
func RemoveThenRestoreFile(payloadPath, target string, mode os.FileMode) error {
	parent := filepath.Dir(target)
	fname := filepath.Base(target)
	tmpName := "." + fname + TmpSuffix
	tmp := filepath.Join(parent, tmpName)

	_ = os.Remove(tmp)
	data, err := os.ReadFile(payloadPath)
	if err != nil {
		return fmt.Errorf("read backup payload %s: %w", payloadPath, err)
	}
	if err := os.WriteFile(tmp, data, mode); err != nil {
		return fmt.Errorf("write staging file %s: %w", tmp, err)
	}

	dirfd, err := OpenDirNoFollow(parent)
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	defer unix.Close(dirfd)

	if err := unix.Renameat(dirfd, tmpName, dirfd, fname); err != nil {
		_ = os.Remove(tmp)
		if err == unix.EXDEV {
			return &SwapError{EXDEV: true, Err: err}
		}
		return &SwapError{Err: err}
	}
	_ = FsyncParentDir(target)
	return nil
}

// RemoveTarget unlinks target if present. Used to restore PriorKind "None".
func RemoveTarget(target string) error {
	err := os.Remove(target)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
