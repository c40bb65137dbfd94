// Package switchyard implements reversible, crash-safe, atomic filesystem
// swaps: replacing regular files with symlinks (and restoring them) under
// strict policy gating, with a complete audit trail. See DESIGN.md for
// the full design.
package switchyard

import (
	"github.com/oxidizr-arch/switchyard/adapters"
	"github.com/oxidizr-arch/switchyard/audit"
)

// Version is the engine's release identifier, stamped into every audit
// event's switchyard_version field.
const Version = "0.1.0"

// Switchyard is the engine facade: the single entry point for Plan,
// Preflight, Apply, PlanRollbackOf and PruneBackups. Construct one with
// New and attach adapters with the With* builder methods before use.
type Switchyard struct {
	facts     audit.FactsEmitter
	policy    Policy
	overrides Overrides

	lockManager adapters.LockManager
	smoke       adapters.SmokeRunner
	ownership   adapters.OwnershipOracle
	attestor    adapters.Attestor
}

// New constructs a Switchyard over the given FactsEmitter and Policy. No
// adapters are configured; attach them with the With* methods.
func New(facts audit.FactsEmitter, policy Policy) *Switchyard {
	return &Switchyard{facts: facts, policy: policy}
}

// WithLockManager attaches a LockManager, required for Commit apply when
// Policy.Governance.Locking is LockingRequired.
func (s *Switchyard) WithLockManager(m adapters.LockManager) *Switchyard {
	s.lockManager = m
	return s
}

// WithSmokeRunner attaches a SmokeRunner, consulted post-apply when
// Policy.Governance.Smoke.Require is set.
func (s *Switchyard) WithSmokeRunner(r adapters.SmokeRunner) *Switchyard {
	s.smoke = r
	return s
}

// WithOwnershipOracle attaches an OwnershipOracle, consulted by preflight
// whenever Policy.Risks.SourceTrust or Policy.Risks.OwnershipStrict
// require one.
func (s *Switchyard) WithOwnershipOracle(o adapters.OwnershipOracle) *Switchyard {
	s.ownership = o
	return s
}

// WithAttestor attaches an Attestor that signs a canonical bundle of every
// successful ApplyReport. Signing errors are always tolerated.
func (s *Switchyard) WithAttestor(a adapters.Attestor) *Switchyard {
	s.attestor = a
	return s
}

// Policy returns the engine's configured Policy, primarily so a caller that
// received a Switchyard it didn't construct (or a driver replaying a
// prior ApplyReport) can inspect knobs like Apply.CaptureRestoreSnap
// before calling PlanRollbackOf.
func (s *Switchyard) Policy() Policy {
	return s.policy
}

// WithOverrides installs test-only behavior overrides (EXDEV simulation,
// forced rescue-toolset verdict). Consulted only when
// SWITCHYARD_TEST_ALLOW_ENV_OVERRIDES is also set at the environment level
// for the env-sourced half of Overrides; explicit fields here always apply.
func (s *Switchyard) WithOverrides(o Overrides) *Switchyard {
	s.overrides = o
	return s
}
