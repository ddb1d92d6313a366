package trace

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ParseLine validates one log line. A line is accepted iff it parses as
// JSON, carries a recognized type, and has the per-type required fields.
// Rejected lines are the caller's malformed count; parsing never panics.
func ParseLine(line []byte) (Record, bool) {
	var r Record
	if err := json.Unmarshal(line, &r); err != nil {
		return Record{}, false
	}
	if !Valid(&r) {
		return Record{}, false
	}
	return r, true
}

// Valid reports whether an already-decoded record satisfies the wire
// contract for its type.
func Valid(r *Record) bool {
	switch r.Type {
	case TypeCaptureStart, TypeCaptureEnd:
		return true
	case TypeSession, TypeTaskStart, TypeTaskEnd, TypeTracepoint, TypeCounter, TypeMarker:
	default:
		return false
	}

	// Every non-capture record needs both routing keys.
	if r.SessionID == "" || r.RootSessionID == "" {
		return false
	}

	switch r.Type {
	case TypeSession:
		return r.Op == OpUpsert
	case TypeTaskStart:
		return r.TaskID != "" && r.Name != ""
	case TypeTaskEnd:
		return r.TaskID != "" && r.Status != ""
	case TypeTracepoint:
		return r.TpID != "" && r.Name != ""
	case TypeCounter:
		return r.Name != "" && r.Value != nil
	case TypeMarker:
		return r.Label != ""
	}
	return false
}

// ShortenID abbreviates a session id for display titles.
func ShortenID(id string) string {
	if len(id) <= 14 {
		return id
	}
	return id[:6] + "..." + id[len(id)-4:]
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return strings.Trim(string(b), `"`)
}
