package writer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flextrace/flextrace/internal/trace"
)

func TestSessionWriterRoutesByRootSession(t *testing.T) {
	root := t.TempDir()
	s := NewSessionWriter(root, "myproj", SessionWriterOptions{})

	require.NoError(t, s.Write(&trace.Record{Type: trace.TypeCaptureStart, CaptureID: "c1", Ts: 1}))
	require.NoError(t, s.Write(taskStart("t1", "ses_a", "ses_a", 10)))
	require.NoError(t, s.Write(taskStart("t2", "ses_child", "ses_a", 11)))
	require.NoError(t, s.Write(taskStart("t3", "ses_b", "ses_b", 12)))
	require.NoError(t, s.Close())

	projDir := filepath.Join(root, "myproj")
	a := readLines(t, filepath.Join(projDir, "ses_a.ndjson"))
	assert.Len(t, a, 2)
	b := readLines(t, filepath.Join(projDir, "ses_b.ndjson"))
	assert.Len(t, b, 1)
	capture := readLines(t, filepath.Join(projDir, CaptureFileName))
	require.Len(t, capture, 1)
	assert.Equal(t, trace.TypeCaptureStart, capture[0].Type)
}

func TestSessionWriterDropsRecordWithoutRoot(t *testing.T) {
	root := t.TempDir()
	s := NewSessionWriter(root, "proj", SessionWriterOptions{})

	rec := taskStart("t1", "ses_a", "", 10)
	require.NoError(t, s.Write(rec), "drop must not surface as an error")
	require.NoError(t, s.Close())

	entries, err := os.ReadDir(filepath.Join(root, "proj"))
	if err == nil {
		assert.Empty(t, entries, "dropped record must never be persisted")
	} else {
		assert.True(t, os.IsNotExist(err))
	}
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "ses_a-1.B", SafeName("ses_a-1.B"))
	assert.Equal(t, "a_b_c_d", SafeName("a/b:c d"))
}

func writeShard(t *testing.T, dir, name string, size int, age time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	mtime := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return path
}

func TestEnforceBudgetEvictsOldestInactiveFirst(t *testing.T) {
	root := t.TempDir()
	s := NewSessionWriter(root, "proj", SessionWriterOptions{MaxProjectBytes: 1000})
	dir := s.ProjectDir()
	require.NoError(t, os.MkdirAll(dir, 0o755))

	oldest := writeShard(t, dir, "old.ndjson", 600, 3*time.Hour)
	middle := writeShard(t, dir, "mid.ndjson", 600, 2*time.Hour)
	newest := writeShard(t, dir, "new.ndjson", 600, time.Hour)

	require.NoError(t, s.enforceBudget())

	_, err := os.Stat(oldest)
	assert.True(t, os.IsNotExist(err), "oldest file should be evicted first")
	_, err = os.Stat(middle)
	assert.True(t, os.IsNotExist(err), "still over budget after first eviction")
	_, err = os.Stat(newest)
	assert.NoError(t, err, "under budget once two files are gone")
}

func TestEnforceBudgetNeverDeletesActiveFiles(t *testing.T) {
	root := t.TempDir()
	s := NewSessionWriter(root, "proj", SessionWriterOptions{MaxProjectBytes: 100})

	// Open a live shard, then surround it with inactive files.
	require.NoError(t, s.Write(taskStart("t1", "ses_live", "ses_live", 1)))
	require.NoError(t, s.Flush())
	dir := s.ProjectDir()
	activePath := filepath.Join(dir, "ses_live.ndjson")

	inactive := writeShard(t, dir, "dead.ndjson", 500, time.Hour)
	require.NoError(t, os.Truncate(activePath, 0))
	require.NoError(t, os.WriteFile(activePath, make([]byte, 500), 0o644))

	require.NoError(t, s.enforceBudget())

	_, err := os.Stat(inactive)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(activePath)
	assert.NoError(t, err, "active file survives even while over budget")

	require.NoError(t, s.Close())
}

func TestEnforceBudgetMissingDirIsFine(t *testing.T) {
	s := NewSessionWriter(filepath.Join(t.TempDir(), "nope"), "proj", SessionWriterOptions{MaxProjectBytes: 10})
	require.NoError(t, s.enforceBudget())
}

func TestSessionWriterRetentionRunsInBackground(t *testing.T) {
	root := t.TempDir()
	s := NewSessionWriter(root, "proj", SessionWriterOptions{MaxProjectBytes: 64})
	dir := s.ProjectDir()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	dead := writeShard(t, dir, "dead.ndjson", 4096, time.Hour)

	require.NoError(t, s.Write(taskStart("t1", "ses_a", "ses_a", 1)))
	require.NoError(t, s.Flush())
	// One more write re-kicks maintenance now that the first line is on disk.
	require.NoError(t, s.Write(taskStart("t2", "ses_a", "ses_a", 2)))
	require.NoError(t, s.Flush())
	require.NoError(t, s.Close())

	_, err := os.Stat(dead)
	assert.True(t, os.IsNotExist(err))
}
