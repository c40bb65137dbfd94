// Package audit implements the v2 event envelope emitted by the engine:
// the FactsEmitter contract, deterministic redaction for dry-run/test
// comparison, and a JSONL sink. Every caller constructs a FactsEmitter
// with a single emit(subsystem, event, decision, fields) method and can
// later run Redact over the captured fields for comparison.
package audit

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/google/uuid"
)

// SchemaVersion is the audit envelope schema this package emits.
const SchemaVersion = 2

// TSZero is the timestamp substituted for dry-run and redacted events.
const TSZero = "1970-01-01T00:00:00Z"

// Decision is the outcome recorded on an event.
type Decision string

const (
	DecisionSuccess Decision = "success"
	DecisionFailure Decision = "failure"
	DecisionWarn    Decision = "warn"
)

// Fields is the stage-specific payload of an event, keyed the same way a
// JSON object would be, so it serializes predictably regardless of
// insertion order.
type Fields map[string]any

// Event is one emitted audit fact, prior to redaction.
type Event struct {
	SchemaVersion     int      `json:"schema_version"`
	EventID           string   `json:"event_id"`
	RunID             string   `json:"run_id"`
	Seq               uint64   `json:"seq"`
	SwitchyardVersion string   `json:"switchyard_version"`
	DryRun            bool     `json:"dry_run"`
	Redacted          bool     `json:"redacted"`
	TS                string   `json:"ts"`
	Subsystem         string   `json:"subsystem"`
	Stage             string   `json:"stage"`
	Decision          Decision `json:"decision"`
	ActionID          string   `json:"action_id,omitempty"`
	Path              string   `json:"path,omitempty"`
	Fields            Fields   `json:"fields,omitempty"`
}

// volatileKeys are stripped by Redact: run-to-run noise that would
// otherwise prevent byte-identical comparison of redacted facts across
// identical plans.
var volatileKeys = []string{"run_id", "event_id", "seq", "switchyard_version"}

// Redact returns a copy of an event's JSON representation with volatile
// fields removed and the timestamp zeroed, producing byte-identical output
// across runs over identical inputs.
func Redact(e Event) map[string]any {
	raw, _ := json.Marshal(e)
	var m map[string]any
	_ = json.Unmarshal(raw, &m)
	for _, k := range volatileKeys {
		delete(m, k)
	}
	m["ts"] = TSZero
	m["redacted"] = true
	return m
}

// FactsEmitter is the entire logging contract the engine depends on: a
// single narrow emit call per fact. Deliberately minimal — sinks and
// transports live beyond this emission contract, so the engine never
// assumes a specific sink exists.
type FactsEmitter interface {
	Emit(subsystem, event string, decision Decision, fields Fields)
}

// ForcedDryRunEmitter is an optional capability a FactsEmitter can implement
// alongside Emit: a path that always applies dry-run envelope rules
// (TS_ZERO, redacted=true) regardless of the emitter's own mode. Preflight
// facts must carry dry-run semantics even when emitted from inside a commit
// run (the preflight gate a commit Apply runs before mutating anything), so
// callers type-assert for this interface rather than relying on the
// emitter's construction-time mode.
type ForcedDryRunEmitter interface {
	EmitDryRun(subsystem, event string, decision Decision, fields Fields)
}

// Recorder is a FactsEmitter that builds a full Event envelope (schema
// version, IDs, sequencing) and hands it to an EventSink. Runner code
// should construct one per process via NewRecorder and share it across
// every Switchyard call so `seq` stays monotonic for the run.
type Recorder struct {
	runID   string
	version string
	dryRun  bool
	seq     uint64
	sink    EventSink
	mu      sync.Mutex
}

// EventSink receives fully-built Events. JSONLSink is the default.
type EventSink interface {
	Write(Event)
}

// NewRecorder returns a Recorder stamping events with a fresh run_id.
// dryRun controls whether every emitted event is forced to TS_ZERO and
// redacted=true, the fixed rule for dry-run mode.
func NewRecorder(sink EventSink, version string, dryRun bool) *Recorder {
	return &Recorder{runID: uuid.New().String(), version: version, dryRun: dryRun, sink: sink}
}

// Emit records subsystem/event under the Recorder's own dry-run mode, set
// once at construction.
func (r *Recorder) Emit(subsystem, event string, decision Decision, fields Fields) {
	r.emit(subsystem, event, decision, fields, r.dryRun)
}

// EmitDryRun records subsystem/event forcing dry-run envelope rules
// (TS_ZERO, redacted=true) regardless of the Recorder's own mode. Used for
// facts that must always read as dry-run, such as preflight's.
func (r *Recorder) EmitDryRun(subsystem, event string, decision Decision, fields Fields) {
	r.emit(subsystem, event, decision, fields, true)
}

func (r *Recorder) emit(subsystem, event string, decision Decision, fields Fields, dryRun bool) {
	var actionID, path string
	if fields != nil {
		if v, ok := fields["action_id"]; ok {
			actionID, _ = v.(string)
			delete(fields, "action_id")
		}
		if v, ok := fields["path"]; ok {
			path, _ = v.(string)
			delete(fields, "path")
		}
	}

	ts := nowRFC3339()
	redacted := dryRun
	if redacted {
		ts = TSZero
	}

	fieldBytes, _ := json.Marshal(fields)

	// seq is assigned under the same lock that serializes sink.Write, so a
	// higher seq can never reach the sink before a lower one: assigning it
	// via a separate atomic outside this lock would let two goroutines
	// race between getting their seq and acquiring the lock, writing
	// events to the sink out of seq order.
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	seq := r.seq
	evt := Event{
		SchemaVersion:     SchemaVersion,
		EventID:           deriveEventID(subsystem, event, seq, r.runID, fieldBytes),
		RunID:             r.runID,
		Seq:               seq,
		SwitchyardVersion: r.version,
		DryRun:            dryRun,
		Redacted:          redacted,
		TS:                ts,
		Subsystem:         subsystem,
		Stage:             event,
		Decision:          decision,
		ActionID:          actionID,
		Path:              path,
		Fields:            fields,
	}
	r.sink.Write(evt)
}

var auditNamespace = uuid.NewSHA1(uuid.Nil, []byte("https://oxidizr-arch/switchyard/audit"))

func deriveEventID(subsystem, event string, seq uint64, runID string, fieldBytes []byte) string {
	name := subsystem + "\x1f" + event + "\x1f" + runID + "\x1f" + itoa(seq) + "\x1f" + string(fieldBytes)
	return uuid.NewSHA1(auditNamespace, []byte(name)).String()
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// JSONLSink writes one JSON object per line to an io.Writer; the default
// EventSink a caller reaches for when it just wants a durable fact log.
type JSONLSink struct {
	w  io.Writer
	mu sync.Mutex
}

// NewJSONLSink wraps w.
func NewJSONLSink(w io.Writer) *JSONLSink { return &JSONLSink{w: w} }

func (s *JSONLSink) Write(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := json.Marshal(e)
	if err != nil {
		return
	}
	b = append(b, '\n')
	_, _ = s.w.Write(b)
}
