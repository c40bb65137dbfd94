package switchyard

import (
	"time"

	"github.com/mitchellh/copystructure"
)

// LockingPolicy governs whether apply requires a configured LockManager.
type LockingPolicy int

const (
	LockingOptional LockingPolicy = iota
	LockingRequired
)

// ExdevPolicy governs behavior when an atomic rename crosses filesystems.
type ExdevPolicy int

const (
	ExdevFail ExdevPolicy = iota
	ExdevDegradedFallback
)

// SmokePolicy governs whether apply requires a post-apply SmokeRunner pass.
type SmokePolicy struct {
	Require      bool
	AutoRollback bool
}

// SourceTrustPolicy governs whether EnsureSymlink's source must be proven
// trusted by an OwnershipOracle.
type SourceTrustPolicy int

const (
	SourceTrustStrict SourceTrustPolicy = iota
	SourceTrustAllowUntrusted
)

// PreservationPolicy governs whether a target's filesystem must support
// xattr/ACL preservation before it may be mutated.
type PreservationPolicy int

const (
	PreservationNone PreservationPolicy = iota
	PreservationRequireBasic
)

// GovernancePolicy groups the knobs that gate whether/how apply may run at
// all, independent of any single action.
type GovernancePolicy struct {
	Locking             LockingPolicy
	AllowUnlockedCommit bool
	Smoke               SmokePolicy
	LockTimeoutMS        uint64
}

// ApplyPolicy groups the knobs that affect how individual actions execute.
type ApplyPolicy struct {
	Exdev              ExdevPolicy
	OverridePreflight  bool
	ExtraMountChecks   []string
	BackupDurability   bool
	CaptureRestoreSnap bool
}

// RiskPolicy groups the knobs that gate trust/ownership/preservation.
type RiskPolicy struct {
	SourceTrust        SourceTrustPolicy
	OwnershipStrict    bool
	Preservation       PreservationPolicy
	SidecarIntegrity   bool
	BestEffortRestore  bool
}

// RescuePolicy governs the fallback-toolset-on-PATH gate.
type RescuePolicy struct {
	Require   bool
	ExecCheck bool
	MinCount  int
}

// ScopePolicy restricts which targets may be mutated at all.
type ScopePolicy struct {
	AllowRoots []string
}

// RetentionPolicy governs backup pruning.
type RetentionPolicy struct {
	CountLimit *int
	AgeLimit   *time.Duration
}

// BackupPolicy governs the logical label used in snapshot filenames.
type BackupPolicy struct {
	Tag string
}

// Policy is the full set of recognised engine configuration knobs. The zero
// value of every enum knob is its conservative setting (Locking=Optional,
// Exdev=Fail, SourceTrust=Strict, Preservation=None). The zero value leaves
// Governance.LockTimeoutMS, Rescue.MinCount and Backup.Tag at zero/empty;
// DefaultPolicy sets them to DefaultLockTimeoutMS, RescueMinCount and
// DefaultBackupTag.
type Policy struct {
	Governance GovernancePolicy
	Apply      ApplyPolicy
	Risks      RiskPolicy
	Rescue     RescuePolicy
	Scope      ScopePolicy
	Retention  RetentionPolicy
	Backup     BackupPolicy
}

// DefaultPolicy returns the engine's default Policy: locking optional,
// EXDEV fails closed, source trust strict, rescue not required, backup tag
// DefaultBackupTag, lock timeout DefaultLockTimeoutMS.
func DefaultPolicy() Policy {
	return Policy{
		Governance: GovernancePolicy{
			Locking:       LockingOptional,
			LockTimeoutMS: DefaultLockTimeoutMS,
		},
		Apply: ApplyPolicy{
			Exdev: ExdevFail,
		},
		Risks: RiskPolicy{
			SourceTrust: SourceTrustStrict,
		},
		Rescue: RescuePolicy{
			MinCount: RescueMinCount,
		},
		Backup: BackupPolicy{
			Tag: DefaultBackupTag,
		},
	}
}

// Clone returns a deep copy of p, so callers and the engine can mutate a
// working copy (e.g. while deriving a rollback plan) without aliasing the
// original Policy's slices/pointers.
func (p Policy) Clone() Policy {
	v, err := copystructure.Copy(p)
	if err != nil {
		// copystructure.Copy only errors on unsupported types; Policy is
		// plain data, so this is unreachable in practice.
		return p
	}
	return v.(Policy)
}
