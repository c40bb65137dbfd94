package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	syd "github.com/oxidizr-arch/switchyard"
)

// policyConfig is the YAML projection of switchyard.Policy: every knob is a
// plain string/bool/int so a policy file reads like prose instead of Go
// iota values. toPolicy converts it to the engine's typed Policy.
type policyConfig struct {
	Locking             string   `yaml:"locking"`
	AllowUnlockedCommit bool     `yaml:"allow_unlocked_commit"`
	LockTimeoutMS       uint64   `yaml:"lock_timeout_ms"`
	Smoke               struct {
		Require      bool `yaml:"require"`
		AutoRollback bool `yaml:"auto_rollback"`
	} `yaml:"smoke"`
	Exdev              string   `yaml:"exdev"`
	OverridePreflight  bool     `yaml:"override_preflight"`
	ExtraMountChecks   []string `yaml:"extra_mount_checks"`
	BackupDurability   bool     `yaml:"backup_durability"`
	CaptureRestoreSnap bool     `yaml:"capture_restore_snapshot"`
	SourceTrust        string   `yaml:"source_trust"`
	OwnershipStrict    bool     `yaml:"ownership_strict"`
	Preservation       string   `yaml:"preservation"`
	SidecarIntegrity   bool     `yaml:"sidecar_integrity"`
	BestEffortRestore  bool     `yaml:"best_effort_restore"`
	Rescue             struct {
		Require   bool `yaml:"require"`
		ExecCheck bool `yaml:"exec_check"`
		// MinCount is a pointer so an explicit `min_count: 0` in the policy
		// file (meaning "rescue gate needs no tools") is distinguishable
		// from the field being absent (meaning "use the default minimum").
		MinCount *int `yaml:"min_count"`
	} `yaml:"rescue"`
	Scope struct {
		AllowRoots []string `yaml:"allow_roots"`
	} `yaml:"scope"`
	Retention struct {
		CountLimit *int   `yaml:"count_limit"`
		AgeLimit   string `yaml:"age_limit"`
	} `yaml:"retention"`
	BackupTag string `yaml:"backup_tag"`
}

// LoadPolicy reads and converts a YAML policy file. An empty path returns
// syd.DefaultPolicy() unmodified.
func LoadPolicy(path string) (syd.Policy, error) {
	if path == "" {
		return syd.DefaultPolicy(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return syd.Policy{}, fmt.Errorf("read policy file: %w", err)
	}
	var cfg policyConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return syd.Policy{}, fmt.Errorf("parse policy file: %w", err)
	}
	return cfg.toPolicy()
}

func (c policyConfig) toPolicy() (syd.Policy, error) {
	p := syd.DefaultPolicy()

	switch c.Locking {
	case "", "optional":
		p.Governance.Locking = syd.LockingOptional
	case "required":
		p.Governance.Locking = syd.LockingRequired
	default:
		return p, fmt.Errorf("unknown locking policy %q", c.Locking)
	}
	p.Governance.AllowUnlockedCommit = c.AllowUnlockedCommit
	if c.LockTimeoutMS > 0 {
		p.Governance.LockTimeoutMS = c.LockTimeoutMS
	}
	p.Governance.Smoke = syd.SmokePolicy{Require: c.Smoke.Require, AutoRollback: c.Smoke.AutoRollback}

	switch c.Exdev {
	case "", "fail":
		p.Apply.Exdev = syd.ExdevFail
	case "degraded_fallback":
		p.Apply.Exdev = syd.ExdevDegradedFallback
	default:
		return p, fmt.Errorf("unknown exdev policy %q", c.Exdev)
	}
	p.Apply.OverridePreflight = c.OverridePreflight
	p.Apply.ExtraMountChecks = c.ExtraMountChecks
	p.Apply.BackupDurability = c.BackupDurability
	p.Apply.CaptureRestoreSnap = c.CaptureRestoreSnap

	switch c.SourceTrust {
	case "", "strict":
		p.Risks.SourceTrust = syd.SourceTrustStrict
	case "allow_untrusted":
		p.Risks.SourceTrust = syd.SourceTrustAllowUntrusted
	default:
		return p, fmt.Errorf("unknown source_trust policy %q", c.SourceTrust)
	}
	p.Risks.OwnershipStrict = c.OwnershipStrict

	switch c.Preservation {
	case "", "none":
		p.Risks.Preservation = syd.PreservationNone
	case "require_basic":
		p.Risks.Preservation = syd.PreservationRequireBasic
	default:
		return p, fmt.Errorf("unknown preservation policy %q", c.Preservation)
	}
	p.Risks.SidecarIntegrity = c.SidecarIntegrity
	p.Risks.BestEffortRestore = c.BestEffortRestore

	p.Rescue = syd.RescuePolicy{Require: c.Rescue.Require, ExecCheck: c.Rescue.ExecCheck, MinCount: syd.RescueMinCount}
	if c.Rescue.MinCount != nil {
		p.Rescue.MinCount = *c.Rescue.MinCount
	}

	p.Scope.AllowRoots = c.Scope.AllowRoots
	p.Retention.CountLimit = c.Retention.CountLimit
	if c.Retention.AgeLimit != "" {
		d, err := time.ParseDuration(c.Retention.AgeLimit)
		if err != nil {
			return p, fmt.Errorf("parse retention.age_limit: %w", err)
		}
		p.Retention.AgeLimit = &d
	}

	if c.BackupTag != "" {
		p.Backup.Tag = c.BackupTag
	}
	return p, nil
}
