package timeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flextrace/flextrace/internal/trace"
)

func writeLog(t *testing.T, dir, name string, records ...trace.Record) string {
	t.Helper()
	path := filepath.Join(dir, name)
	var buf []byte
	for i := range records {
		line, err := records[i].Encode()
		require.NoError(t, err)
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	require.NoError(t, os.WriteFile(path, buf, 0o644))
	return path
}

func TestLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := writeLog(t, dir, "ses_a.ndjson",
		sessionUpsert("ses_a", "ses_a", "", "A", 1),
		taskStart("t1", "ses_a", "ses_a", "bash", trace.KindTool, 10, nil),
		taskEnd("t1", "ses_a", "ses_a", trace.StatusOK, 20, nil),
	)

	res, err := Load(path)
	require.NoError(t, err)
	assert.Zero(t, res.Malformed)
	assert.Equal(t, []string{path}, res.Sources)
	require.Len(t, res.Records, 3)
	assert.Equal(t, trace.TypeSession, res.Records[0].Type)
	assert.Equal(t, "t1", res.Records[1].TaskID)
	assert.Equal(t, trace.TypeTaskEnd, res.Records[2].Type)
}

func TestLoadCountsMalformedAndSkipsBlanks(t *testing.T) {
	dir := t.TempDir()
	content := `{"type":"task_start","taskId":"t1","sessionId":"ses_a","rootSessionId":"ses_a","name":"bash","ts":10}

not json at all
{"type":"task_start","taskId":"t2","sessionId":"ses_a"}
{"type":"marker","sessionId":"ses_a","rootSessionId":"ses_a","label":"done","ts":30}
`
	path := filepath.Join(dir, "ses_a.ndjson")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	res, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Malformed, "bad JSON and missing rootSessionId both count")
	assert.Len(t, res.Records, 2)
}

func TestLoadMergesMultipleFilesInOrder(t *testing.T) {
	dir := t.TempDir()
	a := writeLog(t, dir, "ses_a.ndjson", taskStart("t1", "ses_a", "ses_a", "bash", trace.KindTool, 10, nil))
	b := writeLog(t, dir, "ses_b.ndjson", taskStart("t2", "ses_b", "ses_b", "bash", trace.KindTool, 20, nil))

	res, err := Load(a, b)
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Equal(t, "t1", res.Records[0].TaskID)
	assert.Equal(t, "t2", res.Records[1].TaskID)
	assert.Equal(t, []string{a, b}, res.Sources)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.ndjson"))
	assert.Error(t, err)
}

func TestDiscoverSkipsCaptureFileAndSortsNewestFirst(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "proj")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	age := func(name string, d time.Duration) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o644))
		mtime := time.Now().Add(-d)
		require.NoError(t, os.Chtimes(path, mtime, mtime))
		return path
	}
	old := age("ses_old.ndjson", 2*time.Hour)
	fresh := age("ses_fresh.ndjson", time.Minute)
	age("_capture.ndjson", time.Minute)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	paths, err := Discover(root, "proj", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{fresh, old}, paths)
}

func TestDiscoverHonorsLimit(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "proj")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, name := range []string{"a.ndjson", "b.ndjson", "c.ndjson"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{}\n"), 0o644))
	}

	paths, err := Discover(root, "proj", 2)
	require.NoError(t, err)
	assert.Len(t, paths, 2)
}

func TestDiscoverMissingDirIsEmpty(t *testing.T) {
	paths, err := Discover(t.TempDir(), "ghost", 0)
	require.NoError(t, err)
	assert.Empty(t, paths)
}
