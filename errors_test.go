package switchyard

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorID_ExitCodeMapping(t *testing.T) {
	cases := []struct {
		id   ErrorID
		code int
	}{
		{ErrPolicy, 10},
		{ErrLocking, 30},
		{ErrAtomicSwap, 40},
		{ErrEXDEV, 50},
		{ErrBackupMissing, 60},
		{ErrRestoreFailed, 70},
		{ErrSmoke, 80},
		{ErrOwnership, 0},
		{ErrInvalidPath, 0},
	}
	for _, c := range cases {
		assert.Equal(t, c.code, c.id.ExitCode(), c.id)
	}
}

func TestWrap_UnwrapsToCause(t *testing.T) {
	cause := errors.New("underlying")
	err := Wrap(ErrAtomicSwap, "swap failed", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "swap failed")
	assert.Contains(t, err.Error(), "underlying")
}

func TestAsError_FindsErrorThroughWrapChain(t *testing.T) {
	inner := NewError(ErrBackupMissing, "no snapshot")
	outer := Wrap(ErrRestoreFailed, "restore failed", inner)

	se, ok := AsError(outer)
	require := assert.New(t)
	require.True(ok)
	require.Equal(ErrRestoreFailed, se.ID, "AsError returns the outermost *Error, not the deepest cause")
}

func TestAsError_FalseForPlainError(t *testing.T) {
	_, ok := AsError(errors.New("plain"))
	assert.False(t, ok)
}
