package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flextrace/flextrace/internal/timeline"
	"github.com/flextrace/flextrace/internal/trace"
)

func sampleTasks() []timeline.TaskView {
	return []timeline.TaskView{
		{
			TaskID: "t1", SessionID: "ses_a", RootSessionID: "ses_a",
			Kind: trace.KindTool, Name: "bash", Agent: "build", Activity: "tool",
			Status: "ok", StartTs: 1000, EndTs: 1500, DurationMs: 500,
		},
		{
			TaskID: "t2", SessionID: "ses_b", RootSessionID: "ses_a",
			Kind: trace.KindManual, Name: `say "hi", twice`, Agent: "build", Activity: "coding",
			Status: "error", StartTs: 2000, EndTs: 2100, DurationMs: 100,
		},
	}
}

func TestJSONRoundTripsRecords(t *testing.T) {
	records := []trace.Record{
		{Type: trace.TypeMarker, SessionID: "ses_a", RootSessionID: "ses_a", Label: "done", Ts: 5},
	}
	var buf bytes.Buffer
	require.NoError(t, JSON(&buf, records))

	var back []trace.Record
	require.NoError(t, json.Unmarshal(buf.Bytes(), &back))
	require.Len(t, back, 1)
	assert.Equal(t, "done", back[0].Label)
}

func TestJSONEmptyIsAnArray(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, JSON(&buf, nil))
	assert.Equal(t, "[]", strings.TrimSpace(buf.String()))
}

func TestCSVShape(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, CSV(&buf, sampleTasks()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, "t1", rows[1][0])
	assert.Equal(t, "500", rows[1][11])
	// The embedded quotes and comma survive the round trip.
	assert.Equal(t, `say "hi", twice`, rows[2][5])
	assert.Equal(t, "error", rows[2][8])
}

func TestChromeTraceScalesToMicroseconds(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, ChromeTrace(&buf, sampleTasks()))

	var out chromeTraceFile
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	require.Len(t, out.TraceEvents, 2)

	ev := out.TraceEvents[0]
	assert.Equal(t, "X", ev.Ph)
	assert.Equal(t, int64(1_000_000), ev.Ts)
	assert.Equal(t, int64(500_000), ev.Dur)
	assert.Equal(t, 1, ev.Tid)
	assert.Equal(t, "bash", ev.Name)
	assert.Equal(t, "tool", ev.Cat)
	assert.Equal(t, "build", ev.Args["agent"])

	// Distinct sessions map to distinct pids.
	assert.NotEqual(t, out.TraceEvents[0].Pid, out.TraceEvents[1].Pid)
}
