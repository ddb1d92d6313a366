package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flextrace/flextrace/internal/config"
	"github.com/flextrace/flextrace/internal/trace"
)

// testGlobals creates a Globals struct with captured stdout/stderr
func testGlobals(t *testing.T, format string) (*Globals, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cfg := config.Default()
	root := t.TempDir()
	cfg.Capture.Root = root
	cfg.Capture.Project = "proj"
	return &Globals{
		Format:  format,
		Root:    root,
		Project: "proj",
		Stdout:  stdout,
		Stderr:  stderr,
		Config:  cfg,
	}, stdout, stderr
}

func writeTrace(t *testing.T, globals *Globals, name string, records ...trace.Record) string {
	t.Helper()
	dir := filepath.Join(globals.Root, globals.Project)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	var buf []byte
	for i := range records {
		line, err := records[i].Encode()
		require.NoError(t, err)
		buf = append(buf, append(line, '\n')...)
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf, 0o644))
	return path
}

func sampleRecords() []trace.Record {
	return []trace.Record{
		{Type: trace.TypeSession, Op: trace.OpUpsert, SessionID: "ses_a", RootSessionID: "ses_a", Label: "Build it", Ts: 1},
		{Type: trace.TypeTaskStart, TaskID: "t1", SessionID: "ses_a", RootSessionID: "ses_a",
			Kind: trace.KindTool, Name: "bash", Ts: 1000, Attrs: trace.Attrs{"agent": "build"}},
		{Type: trace.TypeTaskEnd, TaskID: "t1", SessionID: "ses_a", RootSessionID: "ses_a",
			Status: trace.StatusOK, Ts: 1500},
	}
}

// --- Analyze Command Tests ---

func TestAnalyzeCmd_Run(t *testing.T) {
	t.Run("outputs summary as JSON", func(t *testing.T) {
		globals, stdout, _ := testGlobals(t, "json")
		path := writeTrace(t, globals, "ses_a.ndjson", sampleRecords()...)

		cmd := &AnalyzeCmd{Trace: path}
		require.NoError(t, cmd.Run(globals))

		var result map[string]interface{}
		require.NoError(t, json.Unmarshal(stdout.Bytes(), &result))
		assert.Equal(t, float64(1), result["completed"])
		assert.Equal(t, float64(0), result["malformedLines"])
		assert.Contains(t, result, "byAgentActivity")
	})

	t.Run("renders tables", func(t *testing.T) {
		globals, stdout, _ := testGlobals(t, "table")
		path := writeTrace(t, globals, "ses_a.ndjson", sampleRecords()...)

		cmd := &AnalyzeCmd{Trace: path}
		require.NoError(t, cmd.Run(globals))

		output := stdout.String()
		assert.Contains(t, output, "build")
		assert.Contains(t, output, "tool")
		assert.Contains(t, output, "1 completed")
	})

	t.Run("discovers project files when no trace given", func(t *testing.T) {
		globals, stdout, _ := testGlobals(t, "json")
		writeTrace(t, globals, "ses_a.ndjson", sampleRecords()...)

		cmd := &AnalyzeCmd{Limit: 20}
		require.NoError(t, cmd.Run(globals))
		assert.Contains(t, stdout.String(), "ses_a.ndjson")
	})

	t.Run("errors when nothing to read", func(t *testing.T) {
		globals, _, _ := testGlobals(t, "json")
		cmd := &AnalyzeCmd{Limit: 20}
		assert.Error(t, cmd.Run(globals))
	})
}

// --- Export Command Tests ---

func TestExportCmd_Run(t *testing.T) {
	t.Run("csv", func(t *testing.T) {
		globals, stdout, _ := testGlobals(t, "json")
		path := writeTrace(t, globals, "ses_a.ndjson", sampleRecords()...)

		cmd := &ExportCmd{Trace: path, Format: "csv"}
		require.NoError(t, cmd.Run(globals))

		lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
		require.Len(t, lines, 2)
		assert.True(t, strings.HasPrefix(lines[0], "taskId,"))
		assert.Contains(t, lines[1], "bash")
	})

	t.Run("chrome-trace", func(t *testing.T) {
		globals, stdout, _ := testGlobals(t, "json")
		path := writeTrace(t, globals, "ses_a.ndjson", sampleRecords()...)

		cmd := &ExportCmd{Trace: path, Format: "chrome-trace"}
		require.NoError(t, cmd.Run(globals))

		var out struct {
			TraceEvents []map[string]interface{} `json:"traceEvents"`
		}
		require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
		require.Len(t, out.TraceEvents, 1)
		assert.Equal(t, "X", out.TraceEvents[0]["ph"])
		assert.Equal(t, float64(1_000_000), out.TraceEvents[0]["ts"])
	})

	t.Run("json passthrough to file", func(t *testing.T) {
		globals, _, _ := testGlobals(t, "json")
		path := writeTrace(t, globals, "ses_a.ndjson", sampleRecords()...)
		outPath := filepath.Join(t.TempDir(), "out.json")

		cmd := &ExportCmd{Trace: path, Format: "json", Out: outPath}
		require.NoError(t, cmd.Run(globals))

		data, err := os.ReadFile(outPath)
		require.NoError(t, err)
		var back []trace.Record
		require.NoError(t, json.Unmarshal(data, &back))
		assert.Len(t, back, 3)
	})
}

// --- Timeline Command Tests ---

func TestTimelineCmd_Run(t *testing.T) {
	globals, stdout, _ := testGlobals(t, "json")
	writeTrace(t, globals, "ses_a.ndjson", sampleRecords()...)

	cmd := &TimelineCmd{Limit: 20, Handoffs: true}
	require.NoError(t, cmd.Run(globals))

	var env Envelope
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &env))
	require.NotNil(t, env.Timeline)
	assert.Len(t, env.Timeline.Completed, 1)
	assert.Equal(t, int64(1500), env.Timeline.LatestTs)
	assert.True(t, env.IsStale, "fixture timestamps are far in the past")
	assert.Positive(t, env.GeneratedAt)
	assert.Zero(t, env.MalformedLines)
	assert.Len(t, env.Sources, 1)
}

// --- Sessions Command Tests ---

func TestSessionsCmd_Run(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		globals, stdout, _ := testGlobals(t, "json")
		writeTrace(t, globals, "ses_a.ndjson", sampleRecords()...)
		writeTrace(t, globals, "_capture.ndjson",
			trace.Record{Type: trace.TypeCaptureStart, CaptureID: "c1", Ts: 1})

		cmd := &SessionsCmd{Limit: 50}
		require.NoError(t, cmd.Run(globals))

		var files []sessionFile
		require.NoError(t, json.Unmarshal(stdout.Bytes(), &files))
		require.Len(t, files, 1, "capture bracket file is not a session")
		assert.Equal(t, "ses_a", files[0].RootSessionID)
		assert.Positive(t, files[0].SizeBytes)
	})

	t.Run("table", func(t *testing.T) {
		globals, stdout, _ := testGlobals(t, "table")
		writeTrace(t, globals, "ses_a.ndjson", sampleRecords()...)

		cmd := &SessionsCmd{Limit: 50}
		require.NoError(t, cmd.Run(globals))
		assert.Contains(t, stdout.String(), "ses_a")
	})
}

func TestFormatMs(t *testing.T) {
	assert.Equal(t, "500ms", formatMs(500))
	assert.Equal(t, "1.5s", formatMs(1500))
	assert.Equal(t, "2.0m", formatMs(120000))
}
