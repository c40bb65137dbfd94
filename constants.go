package switchyard

// Package-wide constants. Centralizes magic values and default labels used
// across the engine; adjusting these here propagates everywhere.

const (
	// DefaultBackupTag is the default logical tag used for naming backup
	// artifacts and sidecar files: `.<name>.<tag>.<millis>.bak` and
	// `.<name>.<tag>.<millis>.bak.meta.json`.
	DefaultBackupTag = "switchyard"

	// TmpSuffix is the temporary filename suffix used for atomic symlink
	// swap staging within a directory: `.{fname}{TmpSuffix}`.
	TmpSuffix = ".switchyard.tmp"

	// FsyncWarnMS is the threshold in milliseconds above which an fsync
	// duration is annotated with severity=warn in an apply.action fact.
	FsyncWarnMS = 50

	// LockPollMS is the poll interval used by the file-backed lock manager.
	LockPollMS = 25

	// DefaultLockTimeoutMS is the default lock acquisition timeout unless
	// the caller overrides it.
	DefaultLockTimeoutMS = 5000

	// NSTag is the UUIDv5 namespace tag used to derive deterministic
	// plan/action/event identifiers.
	NSTag = "https://oxidizr-arch/switchyard"

	// RescueMinCount is the default minimum number of RescueMustHave tools
	// that must be discoverable on PATH. No BusyBox check is made; the count
	// always applies.
	RescueMinCount = 6

	// MaxSafePathBytes bounds the length of a rooted path accepted by
	// NewSafePath; longer inputs are rejected, never truncated.
	MaxSafePathBytes = 4096

	// TSZero is the timestamp emitted for every dry-run / redacted fact.
	TSZero = "1970-01-01T00:00:00Z"

	// SchemaVersion is the audit envelope schema version emitted on every
	// fact.
	SchemaVersion = 2
)

// RescueMustHave is the toolset checked on PATH by the rescue gate; at least
// the policy's Rescue.MinCount of these must be discoverable.
var RescueMustHave = []string{
	"cp", "mv", "rm", "ln", "stat", "readlink", "sha256sum", "sort", "date", "ls",
}
