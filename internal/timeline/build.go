package timeline

import (
	"sort"
	"strings"

	"github.com/flextrace/flextrace/internal/trace"
)

// StatusRunning marks an active TaskView whose end record has not arrived.
const StatusRunning = "running"

// TaskView is a reconstructed task span. Completed views pair a start and
// an end record; active views are starts with no end yet.
type TaskView struct {
	TaskID        string      `json:"taskId"`
	SessionID     string      `json:"sessionId"`
	RootSessionID string      `json:"rootSessionId"`
	ParentTaskID  string      `json:"parentTaskId,omitempty"`
	Kind          trace.Kind  `json:"kind,omitempty"`
	Name          string      `json:"name"`
	Agent         string      `json:"agent"`
	Activity      string      `json:"activity"`
	Status        string      `json:"status"`
	StartTs       int64       `json:"startTs"`
	EndTs         int64       `json:"endTs"`
	DurationMs    int64       `json:"durationMs"`
	TokensIn      int64       `json:"tokensIn,omitempty"`
	TokensOut     int64       `json:"tokensOut,omitempty"`
	Attrs         trace.Attrs `json:"attrs,omitempty"`
}

// SessionNode is one session in the reconstructed tree.
type SessionNode struct {
	SessionID       string   `json:"sessionId"`
	RootSessionID   string   `json:"rootSessionId"`
	ParentSessionID string   `json:"parentSessionId,omitempty"`
	Title           string   `json:"title"`
	Children        []string `json:"children,omitempty"`
}

// RootSessionView groups every session sharing one root.
type RootSessionView struct {
	RootSessionID string   `json:"rootSessionId"`
	Title         string   `json:"title"`
	Sessions      []string `json:"sessions"`
}

// AgentActivityStat aggregates completed tasks per (agent, activity).
type AgentActivityStat struct {
	Agent    string `json:"agent"`
	Activity string `json:"activity"`
	Count    int    `json:"count"`
	TotalMs  int64  `json:"totalMs"`
	AvgMs    int64  `json:"avgMs"`
	Errors   int    `json:"errors"`
}

// Timeline is the full projection over one record snapshot.
type Timeline struct {
	Completed       []TaskView          `json:"completed"`
	Active          []TaskView          `json:"active"`
	Sessions        []*SessionNode      `json:"sessions"`
	Roots           []*RootSessionView  `json:"roots"`
	ByAgentActivity []AgentActivityStat `json:"byAgentActivity"`
	// LatestTs is the max record timestamp seen, for staleness checks.
	LatestTs int64 `json:"latestTs"`

	nodeByID map[string]*SessionNode
}

// Node looks up a session node by id.
func (t *Timeline) Node(sessionID string) *SessionNode {
	return t.nodeByID[sessionID]
}

// Tasks returns completed and active views merged, completed first.
func (t *Timeline) Tasks() []TaskView {
	out := make([]TaskView, 0, len(t.Completed)+len(t.Active))
	out = append(out, t.Completed...)
	return append(out, t.Active...)
}

// TasksBySession groups all views by owning session.
func (t *Timeline) TasksBySession() map[string][]TaskView {
	out := make(map[string][]TaskView)
	for _, tv := range t.Tasks() {
		out[tv.SessionID] = append(out[tv.SessionID], tv)
	}
	return out
}

// Build reconstructs the timeline from a validated record snapshot. The
// records are consumed in arrival order; ts values only order spans, they
// never gate pairing. now bounds active task durations so they are never
// negative.
func Build(records []trace.Record, now int64) *Timeline {
	starts := make(map[string]*trace.Record)
	ends := make(map[string]*trace.Record)
	var latest int64
	for i := range records {
		rec := &records[i]
		if rec.Ts > latest {
			latest = rec.Ts
		}
		switch rec.Type {
		case trace.TypeTaskStart:
			if _, dup := starts[rec.TaskID]; !dup {
				starts[rec.TaskID] = rec
			}
		case trace.TypeTaskEnd:
			if _, dup := ends[rec.TaskID]; !dup {
				ends[rec.TaskID] = rec
			}
		}
	}

	agents := newAgentResolver(starts, ends)
	resolveAgent := func(taskID, sessionID string) string {
		if agent := agents.resolve(taskID); agent != "" {
			return agent
		}
		return agents.forSession(sessionID)
	}

	var completed, active []TaskView
	for taskID, end := range ends {
		start := starts[taskID]
		startTs := end.Ts
		if start != nil {
			startTs = start.Ts
		} else if d, ok := end.Duration(); ok {
			startTs = end.Ts - d
		}
		duration, hasExplicit := end.Duration()
		if !hasExplicit {
			duration = end.Ts - startTs
		}
		if duration < 0 {
			duration = 0
		}

		tv := TaskView{
			TaskID:        taskID,
			SessionID:     end.SessionID,
			RootSessionID: end.RootSessionID,
			Status:        string(end.Status),
			StartTs:       startTs,
			EndTs:         end.Ts,
			DurationMs:    duration,
			Attrs:         trace.MergeAttrs(attrsOf(start), end.Attrs),
		}
		if start != nil {
			tv.Kind = start.Kind
			tv.Name = start.Name
			tv.ParentTaskID = start.ParentTaskID
		}
		if tv.Name == "" {
			tv.Name = end.Name
		}
		if end.TokensIn != nil {
			tv.TokensIn = *end.TokensIn
		}
		if end.TokensOut != nil {
			tv.TokensOut = *end.TokensOut
		}
		tv.Agent = resolveAgent(taskID, tv.SessionID)
		tv.Activity = classifyActivity(tv.Kind, tv.Name, end.Attrs, attrsOf(start))
		completed = append(completed, tv)
	}

	for taskID, start := range starts {
		if _, ended := ends[taskID]; ended {
			continue
		}
		endTs := now
		if start.Ts > endTs {
			endTs = start.Ts
		}
		tv := TaskView{
			TaskID:        taskID,
			SessionID:     start.SessionID,
			RootSessionID: start.RootSessionID,
			ParentTaskID:  start.ParentTaskID,
			Kind:          start.Kind,
			Name:          start.Name,
			Status:        StatusRunning,
			StartTs:       start.Ts,
			EndTs:         endTs,
			DurationMs:    endTs - start.Ts,
			Attrs:         trace.MergeAttrs(start.Attrs),
		}
		tv.Agent = resolveAgent(taskID, tv.SessionID)
		tv.Activity = classifyActivity(tv.Kind, tv.Name, start.Attrs)
		active = append(active, tv)
	}

	completed, active = dedupMirrored(completed, active)

	tl := &Timeline{
		Completed: completed,
		Active:    active,
		LatestTs:  latest,
		nodeByID:  make(map[string]*SessionNode),
	}
	tl.buildSessions(records)
	tl.aggregate()
	tl.sortViews()
	return tl
}

func attrsOf(rec *trace.Record) trace.Attrs {
	if rec == nil {
		return nil
	}
	return rec.Attrs
}

// dedupMirrored removes raw kind=tool views that a manual activity:* view
// already represents via its call id, after absorbing the raw view's tool
// name and payload previews into the manual one.
func dedupMirrored(completed, active []TaskView) ([]TaskView, []TaskView) {
	manualByCall := make(map[string]*TaskView)
	collect := func(views []TaskView) {
		for i := range views {
			tv := &views[i]
			if tv.Kind != trace.KindManual || !strings.HasPrefix(tv.Name, "activity:") {
				continue
			}
			callID := tv.Attrs.String("callID")
			if callID == "" && strings.HasPrefix(tv.ParentTaskID, "call_") {
				callID = tv.ParentTaskID
			}
			if callID != "" {
				manualByCall[callID] = tv
			}
		}
	}
	collect(completed)
	collect(active)
	if len(manualByCall) == 0 {
		return completed, active
	}

	// Enrich before filtering; filtering copies views and would leave the
	// collected manual pointers referencing stale slots.
	enrichFrom := func(views []TaskView) {
		for i := range views {
			tv := &views[i]
			if tv.Kind != trace.KindTool {
				continue
			}
			if manual, mirrored := manualByCall[tv.TaskID]; mirrored {
				enrich(manual, tv)
			}
		}
	}
	enrichFrom(completed)
	enrichFrom(active)

	filter := func(views []TaskView) []TaskView {
		kept := make([]TaskView, 0, len(views))
		for _, tv := range views {
			if tv.Kind == trace.KindTool {
				if _, mirrored := manualByCall[tv.TaskID]; mirrored {
					continue
				}
			}
			kept = append(kept, tv)
		}
		return kept
	}
	return filter(completed), filter(active)
}

func enrich(manual, tool *TaskView) {
	for _, key := range []string{"toolName", "inputPreview", "outputPreview", "childSessionId"} {
		if v, ok := tool.Attrs[key]; ok {
			if manual.Attrs == nil {
				manual.Attrs = make(trace.Attrs)
			}
			if _, set := manual.Attrs[key]; !set {
				manual.Attrs[key] = v
			}
		}
	}
	if manual.TokensIn == 0 {
		manual.TokensIn = tool.TokensIn
	}
	if manual.TokensOut == 0 {
		manual.TokensOut = tool.TokensOut
	}
}

// buildSessions folds session upserts plus every referenced session id
// into the node map, then links children and derives root views.
func (t *Timeline) buildSessions(records []trace.Record) {
	ensure := func(id, rootID string) *SessionNode {
		if id == "" {
			return nil
		}
		node, ok := t.nodeByID[id]
		if !ok {
			node = &SessionNode{SessionID: id, RootSessionID: rootID}
			if node.RootSessionID == "" {
				node.RootSessionID = id
			}
			t.nodeByID[id] = node
		}
		return node
	}

	for i := range records {
		rec := &records[i]
		if rec.IsCapture() {
			continue
		}
		node := ensure(rec.SessionID, rec.RootSessionID)
		ensure(rec.RootSessionID, rec.RootSessionID)
		if rec.Type != trace.TypeSession || node == nil {
			continue
		}
		title := rec.Attrs.String("sessionTitle")
		if title == "" {
			title = rec.Label
		}
		if title != "" {
			node.Title = title
		}
		if rec.ParentSessionID != "" {
			node.ParentSessionID = rec.ParentSessionID
		}
		if rec.RootSessionID != "" {
			node.RootSessionID = rec.RootSessionID
		}
	}

	ids := make([]string, 0, len(t.nodeByID))
	for id := range t.nodeByID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		node := t.nodeByID[id]
		if node.Title == "" {
			node.Title = trace.ShortenID(id)
		}
		if node.ParentSessionID == "" || node.ParentSessionID == id {
			continue
		}
		parent := ensure(node.ParentSessionID, node.RootSessionID)
		if !contains(parent.Children, id) {
			parent.Children = append(parent.Children, id)
		}
	}
	// Parents synthesized during linking still need display titles.
	for _, node := range t.nodeByID {
		if node.Title == "" {
			node.Title = trace.ShortenID(node.SessionID)
		}
	}

	members := make(map[string][]string)
	for _, id := range ids {
		root := t.nodeByID[id].RootSessionID
		members[root] = append(members[root], id)
	}
	for root, sessionIDs := range members {
		sort.Strings(sessionIDs)
		view := &RootSessionView{RootSessionID: root, Sessions: sessionIDs}
		if node, ok := t.nodeByID[root]; ok {
			view.Title = node.Title
		} else {
			view.Title = trace.ShortenID(root)
		}
		t.Roots = append(t.Roots, view)
	}
	for _, node := range t.nodeByID {
		t.Sessions = append(t.Sessions, node)
	}
}

func (t *Timeline) aggregate() {
	type key struct{ agent, activity string }
	stats := make(map[key]*AgentActivityStat)
	for _, tv := range t.Completed {
		k := key{tv.Agent, tv.Activity}
		s, ok := stats[k]
		if !ok {
			s = &AgentActivityStat{Agent: tv.Agent, Activity: tv.Activity}
			stats[k] = s
		}
		s.Count++
		s.TotalMs += tv.DurationMs
		if tv.Status == string(trace.StatusError) {
			s.Errors++
		}
	}
	for _, s := range stats {
		s.AvgMs = s.TotalMs / int64(s.Count)
		t.ByAgentActivity = append(t.ByAgentActivity, *s)
	}
}

func (t *Timeline) sortViews() {
	sort.Slice(t.Completed, func(i, j int) bool {
		a, b := t.Completed[i], t.Completed[j]
		if a.EndTs != b.EndTs {
			return a.EndTs > b.EndTs
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.TaskID < b.TaskID
	})
	sort.Slice(t.Active, func(i, j int) bool {
		a, b := t.Active[i], t.Active[j]
		if a.DurationMs != b.DurationMs {
			return a.DurationMs > b.DurationMs
		}
		return a.TaskID < b.TaskID
	})
	sort.Slice(t.Sessions, func(i, j int) bool {
		a, b := t.Sessions[i], t.Sessions[j]
		if a.Title != b.Title {
			return a.Title < b.Title
		}
		return a.SessionID < b.SessionID
	})
	sort.Slice(t.Roots, func(i, j int) bool {
		a, b := t.Roots[i], t.Roots[j]
		if a.Title != b.Title {
			return a.Title < b.Title
		}
		return a.RootSessionID < b.RootSessionID
	})
	sort.Slice(t.ByAgentActivity, func(i, j int) bool {
		a, b := t.ByAgentActivity[i], t.ByAgentActivity[j]
		if a.TotalMs != b.TotalMs {
			return a.TotalMs > b.TotalMs
		}
		if a.Agent != b.Agent {
			return a.Agent < b.Agent
		}
		return a.Activity < b.Activity
	})
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
