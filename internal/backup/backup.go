// Package backup implements the snapshot/sidecar subsystem: capturing a
// target's prior state before mutation, and pruning old snapshots under a
// retention policy.
package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// PriorKind classifies what a target looked like immediately before a
// snapshot was taken.
type PriorKind string

const (
	KindFile    PriorKind = "file"
	KindSymlink PriorKind = "symlink"
	KindNone    PriorKind = "none"
	KindOther   PriorKind = "other"
)

// Sidecar is the JSON metadata persisted alongside (or instead of, for
// symlink/none priors) a snapshot payload.
type Sidecar struct {
	PriorKind     PriorKind `json:"prior_kind"`
	PriorDest     string    `json:"prior_dest,omitempty"`
	PayloadSHA256 string    `json:"payload_sha256,omitempty"`
	TSMillis      int64     `json:"ts_ms"`
	Tag           string    `json:"tag"`
	Version       int       `json:"version"`
}

const sidecarVersion = 1

// Snapshot is a located payload+sidecar pair (payload path empty when the
// prior kind carried no payload).
type Snapshot struct {
	PayloadPath string
	SidecarPath string
	Millis      int64
	Counter     int
	Meta        Sidecar
}

// snapshotFilenameRE anchors on the caller-supplied name and tag verbatim
// (via regexp.QuoteMeta) rather than inferring them with a generic
// backtracking pattern: a greedy `(.+)`/`([^.]+)` split can't tell a tag
// containing a dot from extra trailing name components, so it must know
// name and tag going in.
func snapshotFilenameRE(name, tag string) *regexp.Regexp {
	pattern := `^\.` + regexp.QuoteMeta(name) + `\.` + regexp.QuoteMeta(tag) + `\.(\d+)(?:-(\d+))?\.bak$`
	return regexp.MustCompile(pattern)
}

func payloadName(name, tag string, millis int64, counter int) string {
	if counter == 0 {
		return fmt.Sprintf(".%s.%s.%d.bak", name, tag, millis)
	}
	return fmt.Sprintf(".%s.%s.%d-%d.bak", name, tag, millis, counter)
}

func sidecarName(name, tag string, millis int64, counter int) string {
	return payloadName(name, tag, millis, counter) + ".meta.json"
}

// atomicWrite writes data to path via create-in-same-dir-tmp + rename, so a
// crash mid-write never leaves a partial snapshot file visible at path.
// When durable is true, the tmp file is fsynced before the rename, trading
// write latency for a guarantee that the payload survives a crash between
// the write and the rename.
func atomicWrite(path string, data []byte, mode os.FileMode, durable bool) error {
	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, "."+filepath.Base(path)+".tmp")

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if durable {
		if err := f.Sync(); err != nil {
			f.Close()
			_ = os.Remove(tmp)
			return err
		}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	dirf, err := os.Open(dir)
	if err == nil {
		_ = dirf.Sync()
		_ = dirf.Close()
	}
	return nil
}

// CreateSnapshot captures target's current state as a new payload+sidecar
// pair tagged tag, returning the pair it wrote. withIntegrity controls
// whether a payload's SHA-256 is computed and stored. durable controls
// whether the payload file is fsynced before it is made visible, per the
// backup_durability policy knob.
func CreateSnapshot(target, tag string, withIntegrity, durable bool) (Snapshot, error) {
	dir := filepath.Dir(target)
	name := filepath.Base(target)
	millis := time.Now().UnixMilli()

	var st unix.Stat_t
	lerr := unix.Lstat(target, &st)

	meta := Sidecar{TSMillis: millis, Tag: tag, Version: sidecarVersion}
	var payload []byte
	havePayload := false

	switch {
	case lerr != nil && os.IsNotExist(lerr):
		meta.PriorKind = KindNone
	case lerr != nil:
		return Snapshot{}, fmt.Errorf("stat target %s: %w", target, lerr)
	case st.Mode&unix.S_IFMT == unix.S_IFLNK:
		dest, err := os.Readlink(target)
		if err != nil {
			return Snapshot{}, fmt.Errorf("readlink %s: %w", target, err)
		}
		meta.PriorKind = KindSymlink
		meta.PriorDest = dest
	case st.Mode&unix.S_IFMT == unix.S_IFREG:
		data, err := os.ReadFile(target)
		if err != nil {
			return Snapshot{}, fmt.Errorf("read target %s: %w", target, err)
		}
		meta.PriorKind = KindFile
		payload = data
		havePayload = true
		if withIntegrity {
			sum := sha256.Sum256(data)
			meta.PayloadSHA256 = hex.EncodeToString(sum[:])
		}
	default:
		meta.PriorKind = KindOther
	}

	counter := 0
	for {
		payloadPath := filepath.Join(dir, payloadName(name, tag, millis, counter))
		sidecarPath := filepath.Join(dir, sidecarName(name, tag, millis, counter))
		if _, err := os.Lstat(sidecarPath); err == nil {
			counter++
			continue
		}

		if havePayload {
			if err := atomicWrite(payloadPath, payload, 0o600, durable); err != nil {
				return Snapshot{}, fmt.Errorf("write payload %s: %w", payloadPath, err)
			}
		}
		metaBytes, err := json.Marshal(meta)
		if err != nil {
			return Snapshot{}, err
		}
		if err := atomicWrite(sidecarPath, metaBytes, 0o600, false); err != nil {
			return Snapshot{}, fmt.Errorf("write sidecar %s: %w", sidecarPath, err)
		}

		snap := Snapshot{SidecarPath: sidecarPath, Millis: millis, Counter: counter, Meta: meta}
		if havePayload {
			snap.PayloadPath = payloadPath
		}
		return snap, nil
	}
}

// ListSnapshots returns every snapshot for target's name+tag pair in dir,
// ordered newest-first (descending millis, then descending counter).
func ListSnapshots(dir, name, tag string) ([]Snapshot, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	re := snapshotFilenameRE(name, tag)
	var out []Snapshot
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		fn := e.Name()
		if !strings.HasSuffix(fn, ".bak.meta.json") {
			continue
		}
		base := strings.TrimSuffix(fn, ".meta.json")
		m := re.FindStringSubmatch(base)
		if m == nil {
			continue
		}
		var millis int64
		fmt.Sscanf(m[1], "%d", &millis)
		counter := 0
		if m[2] != "" {
			fmt.Sscanf(m[2], "%d", &counter)
		}

		sidecarPath := filepath.Join(dir, fn)
		data, err := os.ReadFile(sidecarPath)
		if err != nil {
			continue
		}
		var meta Sidecar
		if err := json.Unmarshal(data, &meta); err != nil {
			continue
		}

		snap := Snapshot{SidecarPath: sidecarPath, Millis: millis, Counter: counter, Meta: meta}
		if meta.PriorKind == KindFile {
			snap.PayloadPath = filepath.Join(dir, base)
		}
		out = append(out, snap)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Millis != out[j].Millis {
			return out[i].Millis > out[j].Millis
		}
		return out[i].Counter > out[j].Counter
	})
	return out, nil
}

// Latest returns the newest snapshot, or the zero Snapshot and false if
// none exist.
func Latest(dir, name, tag string) (Snapshot, bool, error) {
	all, err := ListSnapshots(dir, name, tag)
	if err != nil || len(all) == 0 {
		return Snapshot{}, false, err
	}
	return all[0], true, nil
}

// Previous returns the second-newest snapshot, used when restoring as part
// of a rollback of a prior restore action.
func Previous(dir, name, tag string) (Snapshot, bool, error) {
	all, err := ListSnapshots(dir, name, tag)
	if err != nil || len(all) < 2 {
		return Snapshot{}, false, err
	}
	return all[1], true, nil
}

// VerifyPayloadHash reports whether the payload at path matches want (a
// hex-encoded SHA-256 digest).
func VerifyPayloadHash(path, want string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]) == want, nil
}

// PruneResult reports pruning outcome counts.
type PruneResult struct {
	PrunedCount   int
	RetainedCount int
}

// Prune removes snapshot pairs for target's name+tag beyond the retention
// policy. The newest snapshot is never removed. When countLimit is set, it
// is clamped to at least 1. When ageLimit is set, any snapshot older than
// it (other than the newest) is removed regardless of the count limit.
func Prune(dir, name, tag string, countLimit *int, ageLimit *time.Duration) (PruneResult, error) {
	all, err := ListSnapshots(dir, name, tag)
	if err != nil {
		return PruneResult{}, err
	}
	if len(all) == 0 {
		return PruneResult{}, nil
	}

	retainCount := len(all)
	if countLimit != nil {
		retainCount = *countLimit
		if retainCount < 1 {
			retainCount = 1
		}
	}

	now := time.Now()
	res := PruneResult{}
	for i, snap := range all {
		keep := i == 0
		if !keep {
			keep = i < retainCount
			if keep && ageLimit != nil {
				age := now.Sub(time.UnixMilli(snap.Millis))
				if age > *ageLimit {
					keep = false
				}
			}
		}
		if keep {
			res.RetainedCount++
			continue
		}
		if snap.PayloadPath != "" {
			_ = os.Remove(snap.PayloadPath)
		}
		_ = os.Remove(snap.SidecarPath)
		res.PrunedCount++
	}

	if dirf, err := os.Open(dir); err == nil {
		_ = dirf.Sync()
		_ = dirf.Close()
	}
	return res, nil
}
