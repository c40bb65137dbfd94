package switchyard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultPolicy_IsConservative(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, LockingOptional, p.Governance.Locking)
	assert.Equal(t, ExdevFail, p.Apply.Exdev)
	assert.Equal(t, SourceTrustStrict, p.Risks.SourceTrust)
	assert.Equal(t, PreservationNone, p.Risks.Preservation)
	assert.False(t, p.Risks.BestEffortRestore)
	assert.Equal(t, DefaultBackupTag, p.Backup.Tag)
	assert.Equal(t, uint64(DefaultLockTimeoutMS), p.Governance.LockTimeoutMS)
}

func TestPolicy_CloneDoesNotAliasSlicesOrPointers(t *testing.T) {
	limit := 3
	p := DefaultPolicy()
	p.Scope.AllowRoots = []string{"/usr"}
	p.Retention.CountLimit = &limit

	clone := p.Clone()
	clone.Scope.AllowRoots[0] = "/etc"
	*clone.Retention.CountLimit = 99

	assert.Equal(t, "/usr", p.Scope.AllowRoots[0], "cloning must not alias the original slice")
	assert.Equal(t, 3, *p.Retention.CountLimit, "cloning must not alias the original pointer")
}

func TestPolicy_CloneAgeLimit(t *testing.T) {
	d := 48 * time.Hour
	p := DefaultPolicy()
	p.Retention.AgeLimit = &d

	clone := p.Clone()
	*clone.Retention.AgeLimit = time.Hour
	assert.Equal(t, 48*time.Hour, *p.Retention.AgeLimit)
}
