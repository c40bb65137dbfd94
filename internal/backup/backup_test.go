package backup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSnapshot_File(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "app")
	require.NoError(t, os.WriteFile(target, []byte("hello"), 0o644))

	snap, err := CreateSnapshot(target, "tag", true, false)
	require.NoError(t, err)
	assert.Equal(t, KindFile, snap.Meta.PriorKind)
	assert.NotEmpty(t, snap.Meta.PayloadSHA256)
	require.NotEmpty(t, snap.PayloadPath)

	data, err := os.ReadFile(snap.PayloadPath)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestCreateSnapshot_Durable_WritesPayloadIntact(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "app")
	require.NoError(t, os.WriteFile(target, []byte("hello durable"), 0o644))

	snap, err := CreateSnapshot(target, "tag", true, true)
	require.NoError(t, err)
	require.NotEmpty(t, snap.PayloadPath)

	data, err := os.ReadFile(snap.PayloadPath)
	require.NoError(t, err)
	assert.Equal(t, "hello durable", string(data))

	ok, err := VerifyPayloadHash(snap.PayloadPath, snap.Meta.PayloadSHA256)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCreateSnapshot_Symlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "app")
	require.NoError(t, os.Symlink("/usr/bin/real", target))

	snap, err := CreateSnapshot(target, "tag", true, false)
	require.NoError(t, err)
	assert.Equal(t, KindSymlink, snap.Meta.PriorKind)
	assert.Equal(t, "/usr/bin/real", snap.Meta.PriorDest)
	assert.Empty(t, snap.PayloadPath)
}

func TestCreateSnapshot_None(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "app")

	snap, err := CreateSnapshot(target, "tag", true, false)
	require.NoError(t, err)
	assert.Equal(t, KindNone, snap.Meta.PriorKind)
}

func TestCreateSnapshot_DisambiguatesSameMillisecond(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "app")
	require.NoError(t, os.WriteFile(target, []byte("v1"), 0o644))

	var snaps []struct {
		payload string
		sidecar string
	}
	for i := 0; i < 3; i++ {
		snap, err := CreateSnapshot(target, "tag", false, false)
		require.NoError(t, err)
		snaps = append(snaps, struct{ payload, sidecar string }{snap.PayloadPath, snap.SidecarPath})
	}

	seen := map[string]bool{}
	for _, s := range snaps {
		assert.False(t, seen[s.sidecar], "sidecar paths must be distinct even within one millisecond")
		seen[s.sidecar] = true
	}
}

func TestListSnapshots_TagContainingDot(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "app")
	require.NoError(t, os.WriteFile(target, []byte("v1"), 0o644))

	tag := "v1.2"
	snap, err := CreateSnapshot(target, tag, false, false)
	require.NoError(t, err)

	all, err := ListSnapshots(dir, "app", tag)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, snap.SidecarPath, all[0].SidecarPath)

	latest, ok, err := Latest(dir, "app", tag)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, snap.SidecarPath, latest.SidecarPath)
}

func TestListSnapshots_NewestFirst(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "app")
	require.NoError(t, os.WriteFile(target, []byte("v1"), 0o644))

	for i := 0; i < 3; i++ {
		_, err := CreateSnapshot(target, "tag", false, false)
		require.NoError(t, err)
	}

	all, err := ListSnapshots(dir, "app", "tag")
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i := 1; i < len(all); i++ {
		newer := all[i-1].Millis*1000 + int64(all[i-1].Counter)
		older := all[i].Millis*1000 + int64(all[i].Counter)
		assert.GreaterOrEqual(t, newer, older)
	}
}

func TestLatestAndPrevious(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "app")
	require.NoError(t, os.WriteFile(target, []byte("v1"), 0o644))

	_, ok, err := Latest(dir, "app", "tag")
	require.NoError(t, err)
	assert.False(t, ok, "no snapshots yet")

	first, err := CreateSnapshot(target, "tag", false, false)
	require.NoError(t, err)
	second, err := CreateSnapshot(target, "tag", false, false)
	require.NoError(t, err)

	latest, ok, err := Latest(dir, "app", "tag")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second.SidecarPath, latest.SidecarPath)

	prev, ok, err := Previous(dir, "app", "tag")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first.SidecarPath, prev.SidecarPath)
}

func TestPrune_CountLimitZeroRetainsNewestOnly(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "app")
	require.NoError(t, os.WriteFile(target, []byte("v1"), 0o644))

	var last Snapshot
	for i := 0; i < 4; i++ {
		snap, err := CreateSnapshot(target, "tag", false, false)
		require.NoError(t, err)
		last = snap
	}

	limit := 0
	res, err := Prune(dir, "app", "tag", &limit, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RetainedCount)
	assert.Equal(t, 3, res.PrunedCount)

	_, err = os.Stat(last.SidecarPath)
	assert.NoError(t, err, "newest sidecar must survive")

	all, err := ListSnapshots(dir, "app", "tag")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestPrune_PayloadAndSidecarDeletedTogether(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "app")
	require.NoError(t, os.WriteFile(target, []byte("v1"), 0o644))

	var toPrune Snapshot
	for i := 0; i < 2; i++ {
		snap, err := CreateSnapshot(target, "tag", false, false)
		require.NoError(t, err)
		if i == 0 {
			toPrune = snap
		}
	}

	limit := 1
	_, err := Prune(dir, "app", "tag", &limit, nil)
	require.NoError(t, err)

	_, payloadErr := os.Stat(toPrune.PayloadPath)
	_, sidecarErr := os.Stat(toPrune.SidecarPath)
	assert.True(t, os.IsNotExist(payloadErr))
	assert.True(t, os.IsNotExist(sidecarErr))
}

func TestPrune_AgeLimitRemovesOldRegardlessOfCount(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "app")
	require.NoError(t, os.WriteFile(target, []byte("v1"), 0o644))

	_, err := CreateSnapshot(target, "tag", false, false)
	require.NoError(t, err)
	last, err := CreateSnapshot(target, "tag", false, false)
	require.NoError(t, err)

	// A zero age limit means every snapshot but the newest is already
	// "too old" the instant it was written, regardless of the (unset)
	// count limit.
	ageLimit := time.Duration(0)
	res, err := Prune(dir, "app", "tag", nil, &ageLimit)
	require.NoError(t, err)
	assert.Equal(t, 1, res.PrunedCount)
	assert.Equal(t, 1, res.RetainedCount)

	all, err := ListSnapshots(dir, "app", "tag")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, last.SidecarPath, all[0].SidecarPath)
}

func TestVerifyPayloadHash(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "app")
	require.NoError(t, os.WriteFile(target, []byte("hello"), 0o644))

	snap, err := CreateSnapshot(target, "tag", true, false)
	require.NoError(t, err)

	ok, err := VerifyPayloadHash(snap.PayloadPath, snap.Meta.PayloadSHA256)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPayloadHash(snap.PayloadPath, "deadbeef")
	require.NoError(t, err)
	assert.False(t, ok)
}
