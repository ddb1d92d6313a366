// Package trace defines the NDJSON wire format shared by the capture
// pipeline and the timeline reconstruction engine.
package trace

import "encoding/json"

// Record types. One JSON object per line; Type selects which fields apply.
const (
	TypeCaptureStart = "capture_start"
	TypeCaptureEnd   = "capture_end"
	TypeSession      = "session"
	TypeTaskStart    = "task_start"
	TypeTaskEnd      = "task_end"
	TypeTracepoint   = "tracepoint"
	TypeCounter      = "counter"
	TypeMarker       = "marker"
)

// OpUpsert is the only operation defined for session records. Later upserts
// for the same sessionId overwrite label and attrs.
const OpUpsert = "upsert"

// Kind classifies what produced a task.
type Kind string

const (
	KindTool    Kind = "tool"
	KindSkill   Kind = "skill"
	KindModel   Kind = "model"
	KindMessage Kind = "message"
	KindManual  Kind = "manual"
)

// Status is the terminal state of a task.
type Status string

const (
	StatusOK      Status = "ok"
	StatusError   Status = "error"
	StatusUnknown Status = "unknown"
)

// severityRank orders close statuses so a racing error is never downgraded.
func severityRank(s Status) int {
	switch s {
	case StatusError:
		return 3
	case StatusUnknown:
		return 2
	default:
		return 1
	}
}

// MergeStatus keeps the higher-severity of two close statuses.
func MergeStatus(prev, next Status) Status {
	if prev == "" {
		return next
	}
	if severityRank(next) >= severityRank(prev) {
		return next
	}
	return prev
}

// Level grades a tracepoint.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Attrs is the free-form attribute bag attached to every record variant.
// Readers must tolerate absent keys.
type Attrs map[string]any

// String returns the attribute as a trimmed string, or "" when absent.
func (a Attrs) String(key string) string {
	if a == nil {
		return ""
	}
	return asString(a[key])
}

// Object returns a nested attribute map, or nil.
func (a Attrs) Object(key string) Attrs {
	if a == nil {
		return nil
	}
	switch v := a[key].(type) {
	case map[string]any:
		return Attrs(v)
	case Attrs:
		return v
	}
	return nil
}

// MergeAttrs overlays parts left to right, skipping nils. Returns nil when
// nothing survives so empty bags stay off the wire.
func MergeAttrs(parts ...Attrs) Attrs {
	var merged Attrs
	for _, part := range parts {
		for k, v := range part {
			if v == nil {
				continue
			}
			if merged == nil {
				merged = make(Attrs)
			}
			merged[k] = v
		}
	}
	return merged
}

// Record is the tagged union written to the log, one JSON object per line.
// Ts is advisory wall-clock milliseconds; arrival order is authoritative.
type Record struct {
	Type string `json:"type"`
	Ts   int64  `json:"ts,omitempty"`

	// capture_start / capture_end
	CaptureID string `json:"captureId,omitempty"`

	// session
	Op              string `json:"op,omitempty"`
	ParentSessionID string `json:"parentSessionId,omitempty"`
	Label           string `json:"label,omitempty"`

	SessionID     string `json:"sessionId,omitempty"`
	RootSessionID string `json:"rootSessionId,omitempty"`

	// task_start / task_end
	TaskID       string `json:"taskId,omitempty"`
	ParentTaskID string `json:"parentTaskId,omitempty"`
	Kind         Kind   `json:"kind,omitempty"`
	Name         string `json:"name,omitempty"`
	Status       Status `json:"status,omitempty"`
	DurationMs   *int64 `json:"durationMs,omitempty"`
	TokensIn     *int64 `json:"tokensIn,omitempty"`
	TokensOut    *int64 `json:"tokensOut,omitempty"`

	// tracepoint
	TpID  string  `json:"tpId,omitempty"`
	Level Level   `json:"level,omitempty"`
	Links []Attrs `json:"links,omitempty"`

	// counter
	Value *float64 `json:"value,omitempty"`

	Attrs Attrs `json:"attrs,omitempty"`
}

// IsCapture reports whether the record is a capture bracket, the only
// variants allowed to omit session routing keys.
func (r *Record) IsCapture() bool {
	return r.Type == TypeCaptureStart || r.Type == TypeCaptureEnd
}

// Encode marshals the record as a single NDJSON line without the trailing
// newline.
func (r *Record) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// Duration returns the explicit duration and whether one was recorded.
func (r *Record) Duration() (int64, bool) {
	if r.DurationMs == nil {
		return 0, false
	}
	return *r.DurationMs, true
}

// Int64Ptr is a convenience for optional numeric record fields.
func Int64Ptr(v int64) *int64 { return &v }

// Float64Ptr is a convenience for counter values.
func Float64Ptr(v float64) *float64 { return &v }
