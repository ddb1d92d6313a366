package capture

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/flextrace/flextrace/internal/taskctx"
	"github.com/flextrace/flextrace/internal/trace"
)

// ToolEvent is the normalized tool start/end callback from the host
// runtime.
type ToolEvent struct {
	Ts            int64
	SessionID     string
	RootSessionID string // optional; resolved from session metadata if empty
	ToolName      string
	ToolCallID    string
	Input         any
	Output        any
	Err           error
	Usage         Usage
	Attrs         trace.Attrs
}

// Usage carries token accounting from the model provider.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
}

func (c *Capture) toolRoot(ev *ToolEvent) (string, bool) {
	if ev.RootSessionID != "" {
		return ev.RootSessionID, true
	}
	c.ensureSession(ev.SessionID)
	return c.rootFor(ev.SessionID)
}

// OnToolStart records a tool invocation as an open task. The tool call id
// becomes the task id so the matching end pairs without shared state. The
// "skill" tool is surfaced as its own kind with the skill identity lifted
// out of the input.
func (c *Capture) OnToolStart(ev ToolEvent) {
	if ev.SessionID == "" {
		ev.SessionID = "unknown-session"
	}
	rootID, ok := c.toolRoot(&ev)
	if !ok {
		c.log.Error("drop tool_start without rootSessionId",
			zap.String("tool", ev.ToolName), zap.String("sessionId", ev.SessionID))
		return
	}

	ts := c.tsOr(ev.Ts)
	taskID := ev.ToolCallID
	if taskID == "" {
		taskID = uuid.NewString()
	}
	toolName := ev.ToolName
	if toolName == "" {
		toolName = "unknown-tool"
	}

	kind := trace.KindTool
	name := toolName
	attrs := trace.MergeAttrs(trace.Attrs{
		"toolName":     toolName,
		"inputPreview": Preview(ev.Input, DefaultPreviewMax),
	}, ev.Attrs)
	if ev.ToolName == "skill" {
		kind = trace.KindSkill
		skillName := "unknown"
		if input, isMap := ev.Input.(map[string]any); isMap {
			skill := trace.Attrs(input)
			if n := skill.String("name"); n != "" {
				skillName = n
			}
			attrs["skill"] = trace.Attrs{
				"name":    input["name"],
				"path":    input["path"],
				"version": input["version"],
			}
		}
		name = "skill:" + skillName
	}

	rec := &trace.Record{
		Type:          trace.TypeTaskStart,
		Ts:            ts,
		TaskID:        taskID,
		SessionID:     ev.SessionID,
		RootSessionID: rootID,
		Kind:          kind,
		Name:          name,
		Attrs:         attrs,
	}
	if frame, ok := c.tasks.Current(ev.SessionID); ok {
		rec.ParentTaskID = frame.TaskID
	}
	if err := c.writer.Write(rec); err != nil {
		c.log.Error("tool task_start write failed", zap.Error(err))
		return
	}
	c.tasks.Push(ev.SessionID, taskctx.Frame{TaskID: taskID, Kind: kind, Name: toolName, StartedAt: ts})
}

// OnToolEnd closes the task opened by OnToolStart. Duration comes from the
// tracked frame; an event error flips the status.
func (c *Capture) OnToolEnd(ev ToolEvent) {
	if ev.SessionID == "" {
		ev.SessionID = "unknown-session"
	}
	rootID, ok := c.toolRoot(&ev)
	if !ok {
		c.log.Error("drop tool_end without rootSessionId",
			zap.String("tool", ev.ToolName), zap.String("sessionId", ev.SessionID))
		return
	}

	ts := c.tsOr(ev.Ts)
	taskID := ev.ToolCallID
	if taskID == "" {
		if frame, ok := c.tasks.Current(ev.SessionID); ok {
			taskID = frame.TaskID
		} else {
			taskID = "unknown-task"
		}
	}
	frame, hasFrame := c.tasks.Pop(ev.SessionID, taskID)

	status := trace.StatusOK
	if ev.Err != nil {
		status = trace.StatusError
	}
	toolName := ev.ToolName
	if toolName == "" && hasFrame {
		toolName = frame.Name
	}
	if toolName == "" {
		toolName = "unknown-tool"
	}

	attrs := trace.MergeAttrs(trace.Attrs{
		"toolName":      toolName,
		"outputPreview": Preview(ev.Output, DefaultPreviewMax),
	}, ev.Attrs)
	if ev.Err != nil {
		attrs["error"] = safeError(ev.Err)
	}

	rec := &trace.Record{
		Type:          trace.TypeTaskEnd,
		Ts:            ts,
		TaskID:        taskID,
		SessionID:     ev.SessionID,
		RootSessionID: rootID,
		Status:        status,
		Attrs:         attrs,
	}
	if hasFrame {
		rec.DurationMs = trace.Int64Ptr(ts - frame.StartedAt)
	}
	if ev.Usage.PromptTokens > 0 {
		rec.TokensIn = trace.Int64Ptr(ev.Usage.PromptTokens)
	}
	if ev.Usage.CompletionTokens > 0 {
		rec.TokensOut = trace.Int64Ptr(ev.Usage.CompletionTokens)
	}
	if err := c.writer.Write(rec); err != nil {
		c.log.Error("tool task_end write failed", zap.Error(err))
	}
}

// OnSessionCreated registers a session and its parent link.
func (c *Capture) OnSessionCreated(info SessionInfo) {
	c.UpsertSession(info)
	c.EmitTracepoint(info.SessionID, "agent.session.created", trace.LevelInfo, trace.MergeAttrs(trace.Attrs{
		"parentSessionId": orNil(info.ParentSessionID),
		"sessionTitle":    orNil(info.Title),
		"sessionSlug":     orNil(info.Slug),
	}), info.Ts)
}

// OnSessionUpdated refreshes title and slug.
func (c *Capture) OnSessionUpdated(info SessionInfo) {
	info.ParentSessionID = "" // updates never rewire the tree
	c.UpsertSession(info)
	c.EmitTracepoint(info.SessionID, "agent.session.updated", trace.LevelInfo, trace.MergeAttrs(trace.Attrs{
		"sessionTitle": orNil(info.Title),
		"sessionSlug":  orNil(info.Slug),
	}), info.Ts)
}

// OnSessionIdle closes dangling part tasks with status unknown, finishes
// the agent run and marks the session completed.
func (c *Capture) OnSessionIdle(sessionID string, ts int64) {
	c.teardownSession(sessionID, trace.StatusUnknown, trace.StatusOK, ts)
}

// OnSessionDeleted behaves like idle; the log keeps the full history.
func (c *Capture) OnSessionDeleted(sessionID string, ts int64) {
	c.teardownSession(sessionID, trace.StatusUnknown, trace.StatusOK, ts)
}

// OnSessionError force-closes everything as errored.
func (c *Capture) OnSessionError(sessionID string, ts int64) {
	c.teardownSession(sessionID, trace.StatusError, trace.StatusError, ts)
}

func (c *Capture) teardownSession(sessionID string, partStatus, runStatus trace.Status, ts int64) {
	c.ensureSession(sessionID)
	c.parts.CloseSession(sessionID, partStatus, c.tsOr(ts))
	c.finishAgentRun(sessionID, runStatus, ts)
	c.EmitMarker(sessionID, "session.completed", nil, ts)
	c.tasks.Clear(sessionID)
}
