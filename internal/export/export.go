// Package export renders reconstructed timelines into interchange formats.
package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"

	"github.com/flextrace/flextrace/internal/timeline"
	"github.com/flextrace/flextrace/internal/trace"
)

// Format names accepted by the CLI.
const (
	FormatJSON        = "json"
	FormatCSV         = "csv"
	FormatChromeTrace = "chrome-trace"
)

// JSON writes the raw validated records back out as an indented array.
func JSON(w io.Writer, records []trace.Record) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if records == nil {
		records = []trace.Record{}
	}
	return enc.Encode(records)
}

var csvHeader = []string{
	"taskId", "sessionId", "rootSessionId", "parentTaskId",
	"kind", "name", "agent", "activity", "status",
	"startTs", "endTs", "durationMs",
}

// CSV flattens task views into one row per task.
func CSV(w io.Writer, tasks []timeline.TaskView) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, tv := range tasks {
		row := []string{
			tv.TaskID, tv.SessionID, tv.RootSessionID, tv.ParentTaskID,
			string(tv.Kind), tv.Name, tv.Agent, tv.Activity, tv.Status,
			strconv.FormatInt(tv.StartTs, 10),
			strconv.FormatInt(tv.EndTs, 10),
			strconv.FormatInt(tv.DurationMs, 10),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// chromeEvent is one complete-phase event in the trace-event interchange
// format (chrome://tracing, Perfetto). Timestamps are microseconds.
type chromeEvent struct {
	Name string         `json:"name"`
	Cat  string         `json:"cat"`
	Ph   string         `json:"ph"`
	Ts   int64          `json:"ts"`
	Dur  int64          `json:"dur"`
	Pid  int            `json:"pid"`
	Tid  int            `json:"tid"`
	Args map[string]any `json:"args,omitempty"`
}

type chromeTraceFile struct {
	TraceEvents []chromeEvent `json:"traceEvents"`
}

// ChromeTrace emits one ph="X" event per task, with a stable pid per
// session so viewers group tracks by session.
func ChromeTrace(w io.Writer, tasks []timeline.TaskView) error {
	pidBySession := make(map[string]int)
	pidFor := func(sessionID string) int {
		if pid, ok := pidBySession[sessionID]; ok {
			return pid
		}
		pid := len(pidBySession) + 1
		pidBySession[sessionID] = pid
		return pid
	}

	out := chromeTraceFile{TraceEvents: make([]chromeEvent, 0, len(tasks))}
	for _, tv := range tasks {
		out.TraceEvents = append(out.TraceEvents, chromeEvent{
			Name: tv.Name,
			Cat:  tv.Activity,
			Ph:   "X",
			Ts:   tv.StartTs * 1000,
			Dur:  tv.DurationMs * 1000,
			Pid:  pidFor(tv.SessionID),
			Tid:  1,
			Args: map[string]any{
				"taskId":    tv.TaskID,
				"sessionId": tv.SessionID,
				"agent":     tv.Agent,
				"activity":  tv.Activity,
				"status":    tv.Status,
			},
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
