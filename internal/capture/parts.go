package capture

import (
	"github.com/flextrace/flextrace/internal/trace"
)

// codingTools are surfaced as "coding" activity instead of generic tool
// use.
var codingTools = map[string]struct{}{
	"bash":       {},
	"edit":       {},
	"write":      {},
	"multi_edit": {},
	"patch":      {},
}

// OnAssistantMessage attributes the session to an agent and opens the
// per-session agent_run task on first sight.
func (c *Capture) OnAssistantMessage(sessionID, agent string, ts int64) {
	if agent == "" {
		agent = "unknown-agent"
	}
	c.ensureSession(sessionID)
	c.ensureAgentRun(sessionID, agent, ts)
}

// OnUserMessage records a redacted preview of the user's prompt as a
// tracepoint, when capture is enabled.
func (c *Capture) OnUserMessage(sessionID, messageID, text string, ts int64) {
	c.ensureSession(sessionID)
	if !c.cfg.CaptureUserMessages {
		return
	}
	preview := truncate(collapseWhitespace(RedactSecrets(text)), c.cfg.UserMessagePreviewMax)
	if preview == "" {
		return
	}
	c.EmitTracepoint(sessionID, "user.message", trace.LevelInfo, trace.Attrs{
		"role":         "user",
		"messageId":    messageID,
		"preview":      preview,
		"sessionTitle": orNil(c.sessionTitle(sessionID)),
	}, ts)
}

// OnReasoningPart tracks a reasoning phase surfaced as a message part.
// Start and end arrive as separate updates and may race the task_start
// write; the part-task machine absorbs that.
func (c *Capture) OnReasoningPart(sessionID, partID string, startTs, endTs int64) {
	c.ensureSession(sessionID)
	key := "reasoning:" + partID
	attrs := trace.Attrs{
		"activity":     "reasoning",
		"agent":        c.agentFor(sessionID),
		"sessionTitle": orNil(c.sessionTitle(sessionID)),
	}
	if !c.parts.Has(key) {
		c.parts.Start(key, sessionID, "activity:reasoning", attrs, startTs)
	}
	if endTs > 0 {
		c.parts.RequestEnd(key, trace.StatusOK, endTs)
	}
}

// ToolPartStatus is the host runtime's view of a tool part lifecycle.
type ToolPartStatus string

const (
	ToolPartRunning   ToolPartStatus = "running"
	ToolPartCompleted ToolPartStatus = "completed"
	ToolPartError     ToolPartStatus = "error"
)

// OnToolPart tracks a tool call surfaced as a message part. These mirror
// the raw tool tasks from OnToolStart/OnToolEnd; the manual activity task
// carries the call id so reconstruction can deduplicate the pair.
func (c *Capture) OnToolPart(sessionID, partID, tool, callID string, status ToolPartStatus, startTs, endTs int64) {
	c.ensureSession(sessionID)
	if tool == "" {
		tool = "unknown-tool"
	}
	key := "tool:" + callID
	if callID == "" {
		key = "tool:" + partID
	}

	activity := "tool"
	if _, coding := codingTools[tool]; coding {
		activity = "coding"
	}
	attrs := trace.Attrs{
		"activity":     activity,
		"tool":         tool,
		"agent":        c.agentFor(sessionID),
		"callID":       orNil(callID),
		"sessionTitle": orNil(c.sessionTitle(sessionID)),
	}
	name := "activity:" + activity + ":" + tool

	switch status {
	case ToolPartRunning:
		c.parts.Start(key, sessionID, name, attrs, startTs)
	case ToolPartCompleted, ToolPartError:
		// The end can outrun the running update entirely.
		if !c.parts.Has(key) && startTs > 0 {
			c.parts.Start(key, sessionID, name, attrs, startTs)
		}
		closeStatus := trace.StatusOK
		if status == ToolPartError {
			closeStatus = trace.StatusError
		}
		c.parts.RequestEnd(key, closeStatus, endTs)
	}
}

func (c *Capture) agentFor(sessionID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if agent, ok := c.agentBySession[sessionID]; ok {
		return agent
	}
	return "unknown-agent"
}

// ensureAgentRun opens the long-lived agent_run task for a session once.
func (c *Capture) ensureAgentRun(sessionID, agent string, ts int64) {
	c.mu.Lock()
	_, running := c.agentRunTask[sessionID]
	if !running {
		c.agentBySession[sessionID] = agent
	}
	c.mu.Unlock()
	if running {
		return
	}

	title := c.sessionTitle(sessionID)
	attrs := trace.Attrs{"activity": "agent_run", "agent": agent, "sessionTitle": orNil(title)}
	taskID := c.StartTask(sessionID, "agent_run:"+agent, trace.KindManual, attrs, ts)
	if taskID != "" {
		c.mu.Lock()
		c.agentRunTask[sessionID] = taskID
		c.mu.Unlock()
	}
	c.EmitTracepoint(sessionID, "agent.run.start", trace.LevelInfo, trace.Attrs{
		"agent":        agent,
		"sessionTitle": orNil(title),
	}, ts)
}

// finishAgentRun closes the agent_run task and forgets the attribution.
func (c *Capture) finishAgentRun(sessionID string, status trace.Status, ts int64) {
	c.mu.Lock()
	taskID, running := c.agentRunTask[sessionID]
	agent := c.agentBySession[sessionID]
	delete(c.agentRunTask, sessionID)
	delete(c.agentBySession, sessionID)
	c.mu.Unlock()

	title := c.sessionTitle(sessionID)
	if running {
		c.EndTask(sessionID, taskID, status, trace.Attrs{
			"activity":     "agent_run",
			"agent":        orNil(agent),
			"sessionTitle": orNil(title),
		}, ts)
	}
	c.EmitTracepoint(sessionID, "agent.run.end", trace.LevelInfo, trace.Attrs{
		"agent":        orNil(agent),
		"status":       string(status),
		"sessionTitle": orNil(title),
	}, ts)
}
