package switchyard

import "os"

// Overrides simulates adversarial conditions in tests and controlled
// environments. An explicitly set field always applies; the environment
// variable fallback for an unset field is consulted only when
// SWITCHYARD_TEST_ALLOW_ENV_OVERRIDES is set, so a production build can
// never be coerced into a degraded path by an attacker-controlled
// environment variable alone.
type Overrides struct {
	// ForceEXDEV simulates a cross-filesystem rename error on the next
	// atomic swap, to exercise the DegradedFallback path deterministically.
	ForceEXDEV *bool
	// ForceRescueOK forces the rescue-toolset preflight check to succeed
	// regardless of actual PATH state.
	ForceRescueOK *bool
}

func boolPtr(v bool) *bool { return &v }

// EXDEVOverride constructs an Overrides with ForceEXDEV set.
func EXDEVOverride(v bool) Overrides { return Overrides{ForceEXDEV: boolPtr(v)} }

// RescueOKOverride constructs an Overrides with ForceRescueOK set.
func RescueOKOverride(v bool) Overrides { return Overrides{ForceRescueOK: boolPtr(v)} }

const envAllowOverrides = "SWITCHYARD_TEST_ALLOW_ENV_OVERRIDES"
const envForceEXDEV = "SWITCHYARD_FORCE_EXDEV"
const envForceRescueOK = "SWITCHYARD_FORCE_RESCUE_OK"

// envOverridesAllowed reports whether the master switch for test-only
// environment overrides is set. Never true in a build that doesn't
// explicitly opt in.
func envOverridesAllowed() bool {
	return os.Getenv(envAllowOverrides) != ""
}

// resolveForceEXDEV merges an explicit Overrides value with the environment
// fallback (only consulted when envOverridesAllowed).
func resolveForceEXDEV(o Overrides) bool {
	if o.ForceEXDEV != nil {
		return *o.ForceEXDEV
	}
	if envOverridesAllowed() && os.Getenv(envForceEXDEV) != "" {
		return true
	}
	return false
}

func resolveForceRescueOK(o Overrides) bool {
	if o.ForceRescueOK != nil {
		return *o.ForceRescueOK
	}
	if envOverridesAllowed() && os.Getenv(envForceRescueOK) != "" {
		return true
	}
	return false
}
