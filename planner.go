package switchyard

import (
	"sort"

	"github.com/oxidizr-arch/switchyard/audit"
)

// Plan canonicalises a PlanInput into a deterministically-ordered,
// deterministically-identified Plan: actions are sorted first by kind
// (EnsureSymlink before RestoreFromBackup), then by target's relative path
// lexicographically. Duplicate requests are preserved, never deduplicated.
func (s *Switchyard) Plan(input PlanInput) Plan {
	actions := make([]Action, 0, len(input.Link)+len(input.Restore))
	for _, lr := range input.Link {
		actions = append(actions, Action{Kind: KindEnsureSymlink, Source: lr.Source, Target: lr.Target})
	}
	for _, rr := range input.Restore {
		actions = append(actions, Action{Kind: KindRestoreFromBackup, Target: rr.Target})
	}

	sort.SliceStable(actions, func(i, j int) bool {
		if actions[i].Kind != actions[j].Kind {
			return actions[i].Kind < actions[j].Kind
		}
		return actions[i].Target.Rel() < actions[j].Target.Rel()
	})

	planID := derivePlanID(actions)
	for i := range actions {
		actions[i].ID = deriveActionID(planID, actions[i].Kind, actions[i].Source, actions[i].Target, i)
	}

	plan := Plan{ID: planID, Actions: actions}
	s.emit("plan", "plan", audit.DecisionSuccess, audit.Fields{
		"plan_id":     planID.String(),
		"action_count": len(actions),
	})
	return plan
}

// PlanRollbackOf derives the inverse plan of an already-executed
// ApplyReport, without consulting any filesystem state: a pure function
// over the report's executed-action list. Actions whose
// execution did not succeed (ActionResult.OK == false) have no defined
// inverse and are skipped.
//
// For every executed EnsureSymlink(target), the inverse is
// RestoreFromBackup(target). For every executed RestoreFromBackup(target),
// an inverse is included only when captureRestoreSnap is true (i.e. a
// pre-restore snapshot was captured at apply time).
func (s *Switchyard) PlanRollbackOf(report ApplyReport, captureRestoreSnap bool) Plan {
	actions := make([]Action, 0, len(report.Results))
	for i := len(report.Results) - 1; i >= 0; i-- {
		r := report.Results[i]
		if !r.OK {
			continue
		}
		switch r.Kind {
		case KindEnsureSymlink:
			actions = append(actions, Action{Kind: KindRestoreFromBackup, Target: r.TargetPath})
		case KindRestoreFromBackup:
			if captureRestoreSnap {
				actions = append(actions, Action{Kind: KindRestoreFromBackup, Target: r.TargetPath})
			}
		}
	}

	// Unlike Plan, the inverse list is never re-sorted: it must preserve
	// reverse-execution order so the last action taken is the first one
	// undone, regardless of what that ordering does to target names.
	planID := derivePlanID(actions)
	for i := range actions {
		actions[i].ID = deriveActionID(planID, actions[i].Kind, actions[i].Source, actions[i].Target, i)
	}
	plan := Plan{ID: planID, Actions: actions}
	s.emit("plan", "plan", audit.DecisionSuccess, audit.Fields{
		"plan_id":      planID.String(),
		"action_count": len(actions),
		"rollback_of":  report.PlanID.String(),
	})
	return plan
}
