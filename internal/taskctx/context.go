// Package taskctx tracks the per-session stack of in-flight tasks on the
// live capture side. Reconstruction never consults it; parent and duration
// information is rebuilt purely from record content.
package taskctx

import (
	"sync"

	"github.com/flextrace/flextrace/internal/trace"
)

// Frame is one open task on a session's stack.
type Frame struct {
	TaskID    string
	Kind      trace.Kind
	Name      string
	StartedAt int64
}

// Context holds one stack of open frames per sessionId.
type Context struct {
	mu             sync.Mutex
	stackBySession map[string][]Frame
}

// New returns an empty task context.
func New() *Context {
	return &Context{stackBySession: make(map[string][]Frame)}
}

// Push appends a frame to the session's stack.
func (c *Context) Push(sessionID string, frame Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stackBySession[sessionID] = append(c.stackBySession[sessionID], frame)
}

// Pop removes and returns the frame with the matching taskId. The stack top
// is preferred; an out-of-order close is spliced out of the middle.
func (c *Context) Pop(sessionID, taskID string) (Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stack := c.stackBySession[sessionID]
	if len(stack) == 0 {
		return Frame{}, false
	}

	if top := stack[len(stack)-1]; top.TaskID == taskID {
		c.stackBySession[sessionID] = stack[:len(stack)-1]
		return top, true
	}

	for i, frame := range stack {
		if frame.TaskID != taskID {
			continue
		}
		c.stackBySession[sessionID] = append(stack[:i:i], stack[i+1:]...)
		return frame, true
	}
	return Frame{}, false
}

// Current peeks the top frame, used to parent newly emitted records.
func (c *Context) Current(sessionID string) (Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stack := c.stackBySession[sessionID]
	if len(stack) == 0 {
		return Frame{}, false
	}
	return stack[len(stack)-1], true
}

// Clear drops the whole stack for a session on teardown.
func (c *Context) Clear(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.stackBySession, sessionID)
}
