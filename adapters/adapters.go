// Package adapters defines the engine's pluggable sideband capabilities —
// locking, smoke testing, ownership oracles, and attestation — plus the
// default implementations a caller gets when it doesn't supply its own.
package adapters

import (
	"context"
	"os"
	"time"

	"github.com/gofrs/flock"
)

// LockGuard is held for the duration of a single Commit apply and released
// unconditionally when the apply executor returns.
type LockGuard interface {
	Unlock() error
}

// LockManager serializes concurrent mutators against the same scope. At
// most one LockGuard is held by the executor at a time.
type LockManager interface {
	AcquireProcessLock(ctx context.Context, timeoutMS uint64) (LockGuard, time.Duration, int, error)
}

// FileLockManager implements LockManager with an on-disk advisory lock via
// gofrs/flock, polling at LockPollMS intervals, backed by a real file lock
// instead of an in-process mutex so it serializes across processes too.
type FileLockManager struct {
	Path string
}

// NewFileLockManager returns a FileLockManager guarding path (created if
// absent).
func NewFileLockManager(path string) *FileLockManager {
	return &FileLockManager{Path: path}
}

const lockPollInterval = 25 * time.Millisecond

func (m *FileLockManager) AcquireProcessLock(ctx context.Context, timeoutMS uint64) (LockGuard, time.Duration, int, error) {
	fl := flock.NewFlock(m.Path)
	deadline := time.Now().Add(time.Duration(timeoutMS) * time.Millisecond)
	attempts := 0
	start := time.Now()

	for {
		attempts++
		ok, err := fl.TryLock()
		if err != nil {
			return nil, time.Since(start), attempts, err
		}
		if ok {
			return &fileLockGuard{fl: fl}, time.Since(start), attempts, nil
		}
		if time.Now().After(deadline) {
			return nil, time.Since(start), attempts, os.ErrDeadlineExceeded
		}
		select {
		case <-ctx.Done():
			return nil, time.Since(start), attempts, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

type fileLockGuard struct{ fl *flock.Flock }

func (g *fileLockGuard) Unlock() error { return g.fl.Unlock() }

// SmokeRunner performs a post-apply health check of whatever the plan just
// mutated. Required when policy.Governance.Smoke.Require is set.
type SmokeRunner interface {
	Run(ctx context.Context, targets []string) error
}

// NoopSmokeRunner always succeeds; it exists so callers that don't care
// about smoke testing can still satisfy Policy.Governance.Smoke.Require in
// development, though production policies should supply a real one.
type NoopSmokeRunner struct{}

func (NoopSmokeRunner) Run(ctx context.Context, targets []string) error { return nil }

// OwnershipOracle answers whether a path is owned by a trusted principal,
// gating EnsureSymlink's source under Risks.SourceTrust=Strict and Risks.
// OwnershipStrict.
type OwnershipOracle interface {
	IsTrusted(path string) (bool, error)
	Owner(path string) (uid, gid int, err error)
}

// FsOwnershipOracle answers ownership questions directly from the local
// filesystem: a path is "trusted" if it is owned by uid 0 (root) or by the
// calling process's own uid.
type FsOwnershipOracle struct{}

func (FsOwnershipOracle) IsTrusted(path string) (bool, error) {
	uid, _, err := (FsOwnershipOracle{}).Owner(path)
	if err != nil {
		return false, err
	}
	return uid == 0 || uid == os.Getuid(), nil
}

func (FsOwnershipOracle) Owner(path string) (int, int, error) {
	st, err := os.Stat(path)
	if err != nil {
		return 0, 0, err
	}
	return statOwner(st)
}

// Signature is the opaque result of a successful Attestor.Sign call.
type Signature struct {
	KeyID     string
	Bytes     []byte
	Algorithm string
}

// Attestor signs a canonical bundle describing an ApplyReport. Signing
// errors are always tolerated by the apply executor: no apply.attest fact
// is emitted, and apply never fails because of attestation.
type Attestor interface {
	Sign(bundle []byte) (Signature, error)
	KeyID() string
}

// NoopAttestor never signs anything; its presence documents that no
// attestation was configured, as distinct from a configured Attestor
// whose Sign call failed.
type NoopAttestor struct{}

func (NoopAttestor) Sign(bundle []byte) (Signature, error) { return Signature{}, errNotConfigured }
func (NoopAttestor) KeyID() string                          { return "" }

var errNotConfigured = noopError("attestor not configured")

type noopError string

func (e noopError) Error() string { return string(e) }
