package timeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flextrace/flextrace/internal/trace"
)

func TestSummarizeHeadlineNumbers(t *testing.T) {
	records := []trace.Record{
		sessionUpsert("ses_a", "ses_a", "", "A", 1),
		taskStart("t1", "ses_a", "ses_a", "bash", trace.KindTool, 0, trace.Attrs{"agent": "build"}),
		taskEnd("t1", "ses_a", "ses_a", trace.StatusOK, 100, nil),
		taskStart("t2", "ses_a", "ses_a", "bash", trace.KindTool, 0, trace.Attrs{"agent": "build"}),
		taskEnd("t2", "ses_a", "ses_a", trace.StatusError, 300, nil),
		taskStart("t3", "ses_a", "ses_a", "bash", trace.KindTool, 500, trace.Attrs{"agent": "build"}),
	}
	sum := Summarize(records, 900)

	assert.Equal(t, 3, sum.TotalTasks)
	assert.Equal(t, 2, sum.Completed)
	assert.Equal(t, 1, sum.Active)
	assert.Equal(t, 1, sum.Errors)
	assert.Equal(t, 1, sum.Sessions)
	assert.Equal(t, 1, sum.Roots)
	assert.Equal(t, int64(400), sum.TotalMs)
	assert.Equal(t, int64(200), sum.AvgMs)
	assert.Equal(t, int64(300), sum.P95Ms)

	require.NotEmpty(t, sum.SlowTasks)
	assert.Equal(t, int64(300), sum.SlowTasks[0].DurationMs)
	assert.Equal(t, "build", sum.SlowTasks[0].Agent)
	require.NotEmpty(t, sum.ByAgentActivity)
	assert.Equal(t, "build", sum.ByAgentActivity[0].Agent)
}

func TestSummarizeEmptySnapshot(t *testing.T) {
	sum := Summarize(nil, 0)
	assert.Zero(t, sum.TotalTasks)
	assert.Zero(t, sum.AvgMs)
	assert.Zero(t, sum.P95Ms)
	assert.Empty(t, sum.SlowTasks)
}

func TestPercentileNearestRank(t *testing.T) {
	values := []int64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
	assert.Equal(t, int64(100), percentile(values, 95))
	assert.Equal(t, int64(50), percentile(values, 50))
	assert.Equal(t, int64(10), percentile([]int64{10}, 95))
}
