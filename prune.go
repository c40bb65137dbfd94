package switchyard

import (
	"path/filepath"

	"github.com/oxidizr-arch/switchyard/audit"
	"github.com/oxidizr-arch/switchyard/internal/backup"
)

// PruneBackups removes snapshot pairs for target beyond the retention
// policy: the newest snapshot is never deleted, counts are clamped to at
// least 1, and payload+sidecar are always deleted together.
func (s *Switchyard) PruneBackups(target SafePath) (PruneResult, error) {
	dir := filepath.Dir(target.String())
	name := filepath.Base(target.String())

	res, err := backup.Prune(dir, name, s.policy.Backup.Tag, s.policy.Retention.CountLimit, s.policy.Retention.AgeLimit)
	decision := audit.DecisionSuccess
	if err != nil {
		decision = audit.DecisionFailure
	}
	if s.facts != nil {
		s.facts.Emit("backup", "prune.result", decision, audit.Fields{
			"path":           target.String(),
			"pruned_count":   res.PrunedCount,
			"retained_count": res.RetainedCount,
		})
	}
	if err != nil {
		return PruneResult{}, Wrap(ErrBackupMissing, "prune failed", err)
	}
	return PruneResult{PrunedCount: res.PrunedCount, RetainedCount: res.RetainedCount}, nil
}
