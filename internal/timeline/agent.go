package timeline

import (
	"strings"

	"github.com/flextrace/flextrace/internal/trace"
)

// UnknownAgent and UnknownActivity are the placeholders reconstruction
// falls back to instead of failing on malformed content.
const (
	UnknownAgent    = "unknown-agent"
	UnknownActivity = "unknown-activity"
)

// agentResolver attributes tasks to agents. Precedence: explicit agent
// attr on the end record, then on the start record, then an agent name
// embedded in the task name, then the parent task's resolved agent, then
// the per-session default. Results are memoized per task id.
type agentResolver struct {
	starts         map[string]*trace.Record
	ends           map[string]*trace.Record
	sessionDefault map[string]string
	memo           map[string]string
}

func newAgentResolver(starts, ends map[string]*trace.Record) *agentResolver {
	r := &agentResolver{
		starts:         starts,
		ends:           ends,
		sessionDefault: make(map[string]string),
		memo:           make(map[string]string),
	}
	for _, start := range starts {
		if _, seen := r.sessionDefault[start.SessionID]; seen {
			continue
		}
		if agent := directAgent(start, ends[start.TaskID]); agent != "" {
			r.sessionDefault[start.SessionID] = agent
		}
	}
	return r
}

// resolve returns the agent for a task, or "" when nothing in the task's
// own chain names one. The caller applies the session default.
func (r *agentResolver) resolve(taskID string) string {
	return r.resolveGuarded(taskID, map[string]struct{}{})
}

func (r *agentResolver) resolveGuarded(taskID string, seen map[string]struct{}) string {
	if agent, ok := r.memo[taskID]; ok {
		return agent
	}
	if _, cycle := seen[taskID]; cycle {
		return ""
	}
	seen[taskID] = struct{}{}

	start := r.starts[taskID]
	agent := directAgent(start, r.ends[taskID])
	if agent == "" && start != nil && start.ParentTaskID != "" {
		agent = r.resolveGuarded(start.ParentTaskID, seen)
	}
	r.memo[taskID] = agent
	return agent
}

func (r *agentResolver) forSession(sessionID string) string {
	if agent, ok := r.sessionDefault[sessionID]; ok {
		return agent
	}
	return UnknownAgent
}

func directAgent(start, end *trace.Record) string {
	if end != nil {
		if agent := end.Attrs.String("agent"); agent != "" {
			return agent
		}
	}
	if start == nil {
		return ""
	}
	if agent := start.Attrs.String("agent"); agent != "" {
		return agent
	}
	return agentFromName(start.Name)
}

func agentFromName(name string) string {
	if rest, ok := strings.CutPrefix(name, "agent_run:"); ok {
		return rest
	}
	if rest, ok := strings.CutPrefix(name, "agent:"); ok {
		return rest
	}
	return ""
}

// Keyword rules are ordered; the first matching bucket wins.
var (
	toolKeywords      = []string{"tool", "mcp", "grep", "search", "fetch"}
	codingKeywords    = []string{"edit", "write", "patch", "compile", "test", "build", "fix", "code"}
	reasoningKeywords = []string{"reason", "think", "analysis", "plan", "reflect"}
	agentRunKeywords  = []string{"agent", "session", "skill"}
)

// classifyActivity picks a display activity for a task. An explicit
// activity attr always wins; otherwise kind and name keywords decide.
func classifyActivity(kind trace.Kind, name string, attrs ...trace.Attrs) string {
	for _, a := range attrs {
		if activity := a.String("activity"); activity != "" {
			return activity
		}
	}
	lower := strings.ToLower(name)
	switch {
	case kind == trace.KindTool || containsAny(lower, toolKeywords):
		return "tool"
	case containsAny(lower, codingKeywords):
		return "coding"
	case containsAny(lower, reasoningKeywords):
		return "reasoning"
	case kind == trace.KindSkill || containsAny(lower, agentRunKeywords):
		return "agent_run"
	}
	return UnknownActivity
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
