package timeline

import (
	"sort"

	"github.com/samber/lo"

	"github.com/flextrace/flextrace/internal/trace"
)

// SlowTask is one entry of the slowest-completed-tasks leaderboard.
type SlowTask struct {
	Name       string `json:"name"`
	Agent      string `json:"agent"`
	DurationMs int64  `json:"durationMs"`
}

// Summary condenses one record snapshot into headline numbers.
type Summary struct {
	TotalTasks      int                 `json:"totalTasks"`
	Completed       int                 `json:"completed"`
	Active          int                 `json:"active"`
	Errors          int                 `json:"errors"`
	Sessions        int                 `json:"sessions"`
	Roots           int                 `json:"roots"`
	TotalMs         int64               `json:"totalMs"`
	AvgMs           int64               `json:"avgMs"`
	P95Ms           int64               `json:"p95Ms"`
	SlowTasks       []SlowTask          `json:"slowTasks,omitempty"`
	ByAgentActivity []AgentActivityStat `json:"byAgentActivity,omitempty"`
}

const slowTaskLimit = 10

// Summarize builds the timeline and reduces it to summary statistics.
// Only completed tasks contribute to duration figures.
func Summarize(records []trace.Record, now int64) Summary {
	t := Build(records, now)

	durations := lo.Map(t.Completed, func(tv TaskView, _ int) int64 { return tv.DurationMs })
	sum := Summary{
		TotalTasks:      len(t.Completed) + len(t.Active),
		Completed:       len(t.Completed),
		Active:          len(t.Active),
		Sessions:        len(t.Sessions),
		Roots:           len(t.Roots),
		TotalMs:         lo.Sum(durations),
		ByAgentActivity: t.ByAgentActivity,
	}
	sum.Errors = lo.CountBy(t.Completed, func(tv TaskView) bool {
		return tv.Status == string(trace.StatusError)
	})
	if len(durations) > 0 {
		sum.AvgMs = sum.TotalMs / int64(len(durations))
		sum.P95Ms = percentile(durations, 95)
	}

	slowest := make([]TaskView, len(t.Completed))
	copy(slowest, t.Completed)
	sort.Slice(slowest, func(i, j int) bool {
		if slowest[i].DurationMs != slowest[j].DurationMs {
			return slowest[i].DurationMs > slowest[j].DurationMs
		}
		return slowest[i].Name < slowest[j].Name
	})
	if len(slowest) > slowTaskLimit {
		slowest = slowest[:slowTaskLimit]
	}
	sum.SlowTasks = lo.Map(slowest, func(tv TaskView, _ int) SlowTask {
		return SlowTask{Name: tv.Name, Agent: tv.Agent, DurationMs: tv.DurationMs}
	})
	return sum
}

// percentile returns the pth percentile with nearest-rank rounding.
func percentile(values []int64, p int) int64 {
	sorted := make([]int64, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	rank := (len(sorted)*p + 99) / 100
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}
