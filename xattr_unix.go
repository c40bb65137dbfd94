package switchyard

import "golang.org/x/sys/unix"

// probeXattr reports whether target's filesystem supports extended
// attributes, by setting then removing a zero-length probe xattr. Go's
// standard library has no portable xattr API (see DESIGN.md); this is the
// minimal syscall-level probe, grounded on the same unix.* surface fsops
// uses for atomic renames.
func probeXattr(target string) (bool, error) {
	const probeName = "user.switchyard.probe"
	err := unix.Setxattr(target, probeName, nil, 0)
	if err != nil {
		if err == unix.ENOTSUP || err == unix.EOPNOTSUPP {
			return false, nil
		}
		if err == unix.ENOENT {
			return false, err
		}
		// Any other error (e.g. EPERM on a mount without user_xattr) is
		// treated as unsupported rather than a hard failure.
		return false, nil
	}
	_ = unix.Removexattr(target, probeName)
	return true, nil
}
