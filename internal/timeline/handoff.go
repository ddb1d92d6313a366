package timeline

import (
	"sort"
	"strings"

	"github.com/samber/lo"
)

// Handoff is an inferred link from a dispatching task in a parent session
// to the first agent_run task of the child session it spawned.
type Handoff struct {
	ParentTask TaskView `json:"parentTask"`
	ChildTask  TaskView `json:"childTask"`
}

// InferHandoffs links each child session's earliest agent_run task to the
// parent-session task that most plausibly dispatched it: dispatch-shaped
// tasks are preferred, the nearest start time wins, and each child session
// gets at most one link.
func InferHandoffs(t *Timeline) []Handoff {
	bySession := t.TasksBySession()

	var links []Handoff
	sessionIDs := lo.Keys(bySession)
	sort.Strings(sessionIDs)
	for _, sessionID := range sessionIDs {
		node := t.Node(sessionID)
		if node == nil || node.ParentSessionID == "" || node.ParentSessionID == sessionID {
			continue
		}
		child, ok := earliestAgentRun(bySession[sessionID])
		if !ok {
			continue
		}
		pool := bySession[node.ParentSessionID]
		if len(pool) == 0 {
			continue
		}
		dispatchy := lo.Filter(pool, func(tv TaskView, _ int) bool {
			return looksLikeDispatch(tv)
		})
		if len(dispatchy) > 0 {
			pool = dispatchy
		}
		parent := lo.MinBy(pool, func(a, b TaskView) bool {
			da, db := absDelta(a.StartTs, child.StartTs), absDelta(b.StartTs, child.StartTs)
			if da != db {
				return da < db
			}
			return a.StartTs < b.StartTs
		})
		links = append(links, Handoff{ParentTask: parent, ChildTask: child})
	}
	return links
}

func earliestAgentRun(tasks []TaskView) (TaskView, bool) {
	var best TaskView
	found := false
	for _, tv := range tasks {
		if !strings.HasPrefix(tv.Name, "agent_run:") {
			continue
		}
		if !found || tv.StartTs < best.StartTs {
			best = tv
			found = true
		}
	}
	return best, found
}

func looksLikeDispatch(tv TaskView) bool {
	lower := strings.ToLower(tv.Name)
	return tv.Attrs.String("tool") == "task" ||
		tv.Attrs.String("toolName") == "task" ||
		lower == "task" ||
		strings.Contains(lower, ":task") ||
		strings.Contains(lower, "subagent")
}

func absDelta(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
