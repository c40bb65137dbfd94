package switchyard

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxidizr-arch/switchyard/adapters"
	"github.com/oxidizr-arch/switchyard/audit"
	"github.com/oxidizr-arch/switchyard/internal/backup"
)

// recordingFacts collects every emitted fact for assertion, keyed by
// subsystem+event.
type recordingFacts struct {
	events []recordedEvent
}

type recordedEvent struct {
	subsystem string
	event     string
	decision  audit.Decision
	fields    audit.Fields
}

func (f *recordingFacts) Emit(subsystem, event string, decision audit.Decision, fields audit.Fields) {
	f.events = append(f.events, recordedEvent{subsystem: subsystem, event: event, decision: decision, fields: fields})
}

func (f *recordingFacts) find(event string) (recordedEvent, bool) {
	for i := len(f.events) - 1; i >= 0; i-- {
		if f.events[i].event == event {
			return f.events[i], true
		}
	}
	return recordedEvent{}, false
}

func mustSafePath(t *testing.T, root, full string) SafePath {
	t.Helper()
	sp, err := NewSafePath(root, full)
	require.NoError(t, err)
	return sp
}

// Scenario 1: dry-run link leaves the filesystem untouched.
func TestApply_DryRunLink_LeavesFilesystemUntouched(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "bin"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "usr", "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "bin", "new"), []byte("n"), 0o755))
	appTarget := filepath.Join(root, "usr", "bin", "app")
	require.NoError(t, os.WriteFile(appTarget, []byte("o"), 0o644))

	facts := &recordingFacts{}
	eng := New(facts, DefaultPolicy())

	source := mustSafePath(t, root, filepath.Join(root, "bin", "new"))
	target := mustSafePath(t, root, appTarget)
	plan := eng.Plan(PlanInput{Link: []LinkRequest{{Source: source, Target: target}}})

	report, err := eng.Apply(context.Background(), plan, DryRun)
	require.NoError(t, err)
	assert.True(t, report.OK)
	require.Len(t, report.Results, 1)
	assert.True(t, report.Results[0].OK)

	info, statErr := os.Lstat(appTarget)
	require.NoError(t, statErr)
	assert.True(t, info.Mode().IsRegular(), "dry run must not mutate the filesystem")
	data, readErr := os.ReadFile(appTarget)
	require.NoError(t, readErr)
	assert.Equal(t, "o", string(data))

	evt, ok := facts.find("apply.result")
	require.True(t, ok)
	assert.Equal(t, audit.DecisionSuccess, evt.decision)

	actionEvt, ok := facts.find("apply.action")
	require.True(t, ok)
	assert.Equal(t, "symlink", actionEvt.fields["after_kind"])
}

// Preflight facts must always read as dry-run, even when a commit-mode
// Apply runs Preflight internally as its gate and reuses that same
// commit-mode (dryRun=false) Recorder for every fact it emits.
func TestApply_Commit_PreflightGateFactsAlwaysDryRun(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "bin", "new"), []byte("n"), 0o755))
	appTarget := filepath.Join(root, "app")
	require.NoError(t, os.WriteFile(appTarget, []byte("o"), 0o644))

	var buf bytes.Buffer
	recorder := audit.NewRecorder(audit.NewJSONLSink(&buf), "test", false)
	// No LockManager is configured, and Strict source trust without an
	// OwnershipOracle would STOP the preflight gate.
	policy := DefaultPolicy()
	policy.Governance.AllowUnlockedCommit = true
	policy.Risks.SourceTrust = SourceTrustAllowUntrusted
	eng := New(recorder, policy)

	source := mustSafePath(t, root, filepath.Join(root, "bin", "new"))
	target := mustSafePath(t, root, appTarget)
	plan := eng.Plan(PlanInput{Link: []LinkRequest{{Source: source, Target: target}}})

	report, err := eng.Apply(context.Background(), plan, Commit)
	require.NoError(t, err)
	assert.True(t, report.OK)

	var sawPreflight bool
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var evt audit.Event
		require.NoError(t, json.Unmarshal([]byte(line), &evt))
		if evt.Subsystem != "preflight" {
			continue
		}
		sawPreflight = true
		assert.Equal(t, audit.TSZero, evt.TS, "preflight fact %s must carry TS_ZERO", evt.Stage)
		assert.True(t, evt.Redacted, "preflight fact %s must be redacted", evt.Stage)
		assert.True(t, evt.DryRun, "preflight fact %s must report dry_run", evt.Stage)
	}
	assert.True(t, sawPreflight, "expected at least one preflight fact from the commit-mode gate")
}

// Scenario 2: EXDEV on the rename degrades to the unlink+symlink fallback
// rather than failing, when policy allows it.
func TestApply_Commit_EXDEVDegradedFallback(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "bin", "new"), []byte("n"), 0o755))
	appTarget := filepath.Join(root, "app")
	require.NoError(t, os.WriteFile(appTarget, []byte("o"), 0o644))

	facts := &recordingFacts{}
	policy := DefaultPolicy()
	policy.Apply.Exdev = ExdevDegradedFallback
	policy.Governance.AllowUnlockedCommit = true
	policy.Risks.SourceTrust = SourceTrustAllowUntrusted
	eng := New(facts, policy).WithOverrides(EXDEVOverride(true))

	source := mustSafePath(t, root, filepath.Join(root, "bin", "new"))
	target := mustSafePath(t, root, appTarget)
	plan := eng.Plan(PlanInput{Link: []LinkRequest{{Source: source, Target: target}}})

	report, err := eng.Apply(context.Background(), plan, Commit)
	require.NoError(t, err)
	assert.True(t, report.OK)
	require.Len(t, report.Results, 1)
	assert.True(t, report.Results[0].Degraded)

	info, statErr := os.Lstat(appTarget)
	require.NoError(t, statErr)
	assert.True(t, info.Mode()&os.ModeSymlink != 0)
}

// Scenario 3: locking required with no LockManager configured stops before
// any mutation.
func TestApply_LockingRequired_NoManager_Fails(t *testing.T) {
	root := t.TempDir()
	appTarget := filepath.Join(root, "app")
	require.NoError(t, os.WriteFile(appTarget, []byte("o"), 0o644))

	facts := &recordingFacts{}
	policy := DefaultPolicy()
	policy.Governance.Locking = LockingRequired
	eng := New(facts, policy)

	target := mustSafePath(t, root, appTarget)
	source := mustSafePath(t, root, appTarget)
	plan := eng.Plan(PlanInput{Link: []LinkRequest{{Source: source, Target: target}}})

	report, err := eng.Apply(context.Background(), plan, Commit)
	require.Error(t, err)
	assert.False(t, report.OK)
	se, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, ErrLocking, se.ID)
	assert.Equal(t, 30, se.ID.ExitCode())

	info, statErr := os.Lstat(appTarget)
	require.NoError(t, statErr)
	assert.True(t, info.Mode().IsRegular(), "no mutation must occur")
}

type failingSmoke struct{}

func (failingSmoke) Run(ctx context.Context, targets []string) error {
	return NewError(ErrSmoke, "smoke check failed for test")
}

// Scenario 4: a failing smoke check with auto_rollback restores the target.
func TestApply_SmokeFailure_AutoRollback_RestoresTarget(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "bin", "new"), []byte("n"), 0o755))
	appTarget := filepath.Join(root, "app")
	require.NoError(t, os.WriteFile(appTarget, []byte("original"), 0o644))

	facts := &recordingFacts{}
	policy := DefaultPolicy()
	policy.Governance.Smoke = SmokePolicy{Require: true, AutoRollback: true}
	policy.Governance.AllowUnlockedCommit = true
	policy.Risks.SourceTrust = SourceTrustAllowUntrusted
	eng := New(facts, policy).WithSmokeRunner(failingSmoke{})

	source := mustSafePath(t, root, filepath.Join(root, "bin", "new"))
	target := mustSafePath(t, root, appTarget)
	plan := eng.Plan(PlanInput{Link: []LinkRequest{{Source: source, Target: target}}})

	report, err := eng.Apply(context.Background(), plan, Commit)
	require.Error(t, err)
	se, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, ErrSmoke, se.ID)
	assert.Equal(t, 80, se.ID.ExitCode())
	assert.True(t, report.RolledBack)
	assert.True(t, report.RollbackOK)

	_, ok = facts.find("rollback.summary")
	assert.True(t, ok)

	data, readErr := os.ReadFile(appTarget)
	require.NoError(t, readErr)
	assert.Equal(t, "original", string(data))
}

// Scenario 5: restoring with no backup artifacts fails closed unless
// best_effort_restore is set.
func TestApply_RestoreMissingBackup(t *testing.T) {
	root := t.TempDir()
	appTarget := filepath.Join(root, "app")

	t.Run("fails closed by default", func(t *testing.T) {
		facts := &recordingFacts{}
		policy := DefaultPolicy()
		policy.Governance.AllowUnlockedCommit = true
		// Let the restore itself run, so the missing backup surfaces from
		// the action (E_BACKUP_MISSING) rather than from the preflight gate
		// (E_POLICY).
		policy.Apply.OverridePreflight = true
		eng := New(facts, policy)
		target := mustSafePath(t, root, appTarget)
		plan := eng.Plan(PlanInput{Restore: []RestoreRequest{{Target: target}}})

		report, err := eng.Apply(context.Background(), plan, Commit)
		require.Error(t, err)
		se, ok := AsError(err)
		require.True(t, ok)
		assert.Equal(t, ErrBackupMissing, se.ID)
		assert.Equal(t, 60, se.ID.ExitCode())
		assert.False(t, report.OK)
	})

	t.Run("succeeds with best_effort_restore", func(t *testing.T) {
		facts := &recordingFacts{}
		policy := DefaultPolicy()
		policy.Risks.BestEffortRestore = true
		policy.Governance.AllowUnlockedCommit = true
		eng := New(facts, policy)
		target := mustSafePath(t, root, appTarget)
		plan := eng.Plan(PlanInput{Restore: []RestoreRequest{{Target: target}}})

		report, err := eng.Apply(context.Background(), plan, Commit)
		require.NoError(t, err)
		assert.True(t, report.OK)

		evt, ok := facts.find("apply.result")
		require.True(t, ok)
		assert.Equal(t, audit.DecisionSuccess, evt.decision)
	})
}

// Scenario 6: pruning with retention_count_limit=0 retains only the newest
// snapshot.
func TestPruneBackups_RetentionCountZero_RetainsNewestOnly(t *testing.T) {
	root := t.TempDir()
	appTarget := filepath.Join(root, "app")

	require.NoError(t, os.WriteFile(appTarget, []byte("content"), 0o644))
	for i := 0; i < 4; i++ {
		_, err := backup.CreateSnapshot(appTarget, DefaultBackupTag, true, false)
		require.NoError(t, err)
	}

	facts := &recordingFacts{}
	limit := 0
	policy := DefaultPolicy()
	policy.Retention.CountLimit = &limit
	eng := New(facts, policy)
	target := mustSafePath(t, root, appTarget)

	res, err := eng.PruneBackups(target)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RetainedCount)
	assert.Equal(t, 3, res.PrunedCount)

	evt, ok := facts.find("prune.result")
	require.True(t, ok)
	assert.Equal(t, audit.DecisionSuccess, evt.decision)
}

var _ adapters.SmokeRunner = failingSmoke{}
