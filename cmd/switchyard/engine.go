package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	syd "github.com/oxidizr-arch/switchyard"
	"github.com/oxidizr-arch/switchyard/adapters"
	"github.com/oxidizr-arch/switchyard/audit"
)

// buildEngine assembles a *syd.Switchyard from global flags: the YAML
// policy file (if any), a file-backed LockManager guarding flags.lockPath,
// and the local filesystem OwnershipOracle. SmokeRunner and Attestor are
// left unconfigured — the CLI has no flag surface for them and stays a
// thin driver over the library engine.
func buildEngine(facts audit.FactsEmitter) (*syd.Switchyard, error) {
	policy, err := LoadPolicy(flags.policy)
	if err != nil {
		return nil, err
	}
	eng := syd.New(facts, policy).
		WithLockManager(adapters.NewFileLockManager(flags.lockPath)).
		WithOwnershipOracle(adapters.FsOwnershipOracle{})
	return eng, nil
}

// newAuditSink opens flags.auditLog (or falls back to stderr) and wraps it
// in a Recorder that stamps dry-run facts with TS_ZERO/redacted=true. The
// returned closer must be closed by the caller once the command finishes
// emitting facts.
func newAuditSink(dryRun bool) (*audit.Recorder, io.Closer, error) {
	var w io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if flags.auditLog != "" {
		f, err := os.OpenFile(flags.auditLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open audit log: %w", err)
		}
		w = f
		closer = f
	}
	sink := audit.NewJSONLSink(w)
	return audit.NewRecorder(sink, syd.Version, dryRun), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// parseSafePath resolves rel (interpreted relative to flags.root unless
// already absolute) into a SafePath anchored at flags.root.
func parseSafePath(rel string) (syd.SafePath, error) {
	return syd.NewSafePath(flags.root, rel)
}

// parseLinkFlag parses a single "source=target" flag value into a
// LinkRequest, both paths resolved against flags.root.
func parseLinkFlag(pair string) (syd.LinkRequest, error) {
	parts := strings.SplitN(pair, "=", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return syd.LinkRequest{}, fmt.Errorf("invalid --link value %q, want source=target", pair)
	}
	source, err := parseSafePath(parts[0])
	if err != nil {
		return syd.LinkRequest{}, fmt.Errorf("source: %w", err)
	}
	target, err := parseSafePath(parts[1])
	if err != nil {
		return syd.LinkRequest{}, fmt.Errorf("target: %w", err)
	}
	return syd.LinkRequest{Source: source, Target: target}, nil
}

// buildPlanInput turns the --link/--restore flag values shared by plan,
// preflight and apply into a PlanInput.
func buildPlanInput(linkFlags, restoreFlags []string) (syd.PlanInput, error) {
	var input syd.PlanInput
	for _, lf := range linkFlags {
		lr, err := parseLinkFlag(lf)
		if err != nil {
			return input, err
		}
		input.Link = append(input.Link, lr)
	}
	for _, rf := range restoreFlags {
		target, err := parseSafePath(rf)
		if err != nil {
			return input, fmt.Errorf("restore target: %w", err)
		}
		input.Restore = append(input.Restore, syd.RestoreRequest{Target: target})
	}
	return input, nil
}
