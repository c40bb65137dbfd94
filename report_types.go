package switchyard

import "github.com/google/uuid"

// PerfAgg accumulates wall-clock timings across an apply run, surfaced in
// ApplyReport for operators diagnosing slow swaps (see FsyncWarnMS).
type PerfAgg struct {
	HashMS   int64
	BackupMS int64
	SwapMS   int64
}

// Add folds another PerfAgg's timings into p.
func (p *PerfAgg) Add(o PerfAgg) {
	p.HashMS += o.HashMS
	p.BackupMS += o.BackupMS
	p.SwapMS += o.SwapMS
}

// PreflightRow reports the outcome of checking a single planned Action
// before apply. Optional fields are left empty/zero unless the
// corresponding check ran and produced a finding.
type PreflightRow struct {
	ActionID uuid.UUID
	Target   string

	CurrentKind string
	PlannedKind ActionKind
	BackupTag   string

	// RestoreReady is only meaningful for RestoreFromBackup rows: whether a
	// snapshot exists to restore from.
	RestoreReady bool

	OK bool

	// STOP reasons, populated only when OK is false.
	ErrorID ErrorID
	Reason  string

	// Advisory-only findings that don't stop apply by themselves.
	Notes []string
}

// PreflightReport is the result of Switchyard.Preflight: one row per planned
// action plus an overall verdict.
type PreflightReport struct {
	PlanID uuid.UUID
	Rows   []PreflightRow
	OK     bool
}

// ActionResult reports what happened when a single Action was applied.
type ActionResult struct {
	ActionID   uuid.UUID
	Kind       ActionKind
	Target     string
	TargetPath SafePath

	OK       bool
	Degraded bool // true if the non-atomic EXDEV fallback (unlink+symlink) was used

	ErrorID ErrorID
	Reason  string

	BackupPath string // snapshot payload path created before mutation, if any

	// BeforeHash is the SHA-256 hex digest of Target's content immediately
	// before mutation, when Target was a regular file; empty otherwise.
	// AfterHash is the SHA-256 hex digest of Target's content immediately
	// after a successful swap, read through the new symlink. Both are only
	// ever populated in commit mode — a dry run never reaches the code that
	// computes them.
	BeforeHash string
	AfterHash  string

	Perf PerfAgg
}

// ApplyReport is the result of Switchyard.Apply: per-action results plus
// whether a rollback was triggered and, if so, whether it fully succeeded.
type ApplyReport struct {
	PlanID uuid.UUID
	RunID  uuid.UUID

	Results []ActionResult

	OK bool

	RolledBack      bool
	RollbackOK      bool
	RollbackReasons []string

	Perf PerfAgg
}

// PruneResult reports prune outcome counts: pruned_count + retained_count
// always equals the snapshot count before pruning.
type PruneResult struct {
	PrunedCount   int
	RetainedCount int
}
