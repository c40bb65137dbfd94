package switchyard

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// rootNamespace is the UUIDv5 namespace every plan/action ID is ultimately
// derived from: uuidv5(Nil, NSTag).
var rootNamespace = uuid.NewSHA1(uuid.Nil, []byte(NSTag))

// canonicalActionBytes produces a stable byte encoding of a single action,
// independent of map iteration order or struct field order: a plain
// delimited string over the fields that make an action unique.
func canonicalActionBytes(kind ActionKind, source, target SafePath) []byte {
	var b strings.Builder
	b.WriteString(kind.String())
	b.WriteByte('\x1f')
	if !source.IsZero() {
		b.WriteString(source.Rel())
	}
	b.WriteByte('\x1f')
	b.WriteString(target.Rel())
	return []byte(b.String())
}

// canonicalPlanBytes produces a stable byte encoding of an already-sorted
// action list (see planner.go for the sort). Two Plans built from equal
// normalised inputs produce byte-identical output, and therefore the same
// plan ID.
func canonicalPlanBytes(actions []Action) []byte {
	var b strings.Builder
	for i, a := range actions {
		b.Write(canonicalActionBytes(a.Kind, a.Source, a.Target))
		b.WriteByte('\x1e')
		b.WriteString(strconv.Itoa(i))
		b.WriteByte('\x1d')
	}
	return []byte(b.String())
}

// derivePlanID computes plan_id = uuidv5(NS_TAG, canonical_bytes(plan)).
func derivePlanID(actions []Action) uuid.UUID {
	return uuid.NewSHA1(rootNamespace, canonicalPlanBytes(actions))
}

// deriveActionID computes action_id = uuidv5(plan_id, action_canonical_bytes
// ‖ index), using the owning plan's ID as the action's namespace.
func deriveActionID(planID uuid.UUID, kind ActionKind, source, target SafePath, index int) uuid.UUID {
	name := append(canonicalActionBytes(kind, source, target), []byte(fmt.Sprintf("\x1e%d", index))...)
	return uuid.NewSHA1(planID, name)
}
