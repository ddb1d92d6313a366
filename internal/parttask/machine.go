// Package parttask reconciles asynchronous start and end signals for
// fine-grained sub-task activity (tool call parts, reasoning phases). The
// task_start emit is itself asynchronous, so an end signal can arrive
// before the start has been acknowledged with a taskId; the machine
// buffers that end instead of losing it or double-closing.
package parttask

import (
	"sync"

	"github.com/flextrace/flextrace/internal/trace"
)

// StartFunc commits a task_start for the given session and returns the
// assigned taskId, or ok=false when the record was dropped.
type StartFunc func(sessionID, name string, attrs trace.Attrs, ts int64) (taskID string, ok bool)

// EndFunc commits the matching task_end.
type EndFunc func(sessionID, taskID string, status trace.Status, attrs trace.Attrs, ts int64)

type phase int

const (
	phasePending phase = iota // start requested, write not yet acknowledged
	phaseRunning              // taskId known
	phaseEnding               // close requested while pending; status buffered
)

type entry struct {
	phase       phase
	sessionID   string
	attrs       trace.Attrs
	taskID      string
	closeStatus trace.Status
	closeTs     int64
}

// Machine tracks part-task state per logical key, e.g. "tool:<callID>" or
// "reasoning:<partID>".
type Machine struct {
	mu      sync.Mutex
	entries map[string]*entry
	start   StartFunc
	end     EndFunc
}

// New wires a machine to the capture's start/end emitters.
func New(start StartFunc, end EndFunc) *Machine {
	return &Machine{
		entries: make(map[string]*entry),
		start:   start,
		end:     end,
	}
}

// Has reports whether the key currently has any tracked state.
func (m *Machine) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[key]
	return ok
}

// Start requests a part-task open. A key that is already pending or running
// is left alone. The start function runs outside the lock; if an end raced
// in while the write was in flight, the buffered close is emitted at once.
func (m *Machine) Start(key, sessionID, name string, attrs trace.Attrs, ts int64) {
	m.mu.Lock()
	if existing, ok := m.entries[key]; ok && existing.phase != phaseEnding {
		m.mu.Unlock()
		return
	}
	m.entries[key] = &entry{phase: phasePending, sessionID: sessionID, attrs: attrs}
	m.mu.Unlock()

	taskID, ok := m.start(sessionID, name, attrs, ts)

	m.mu.Lock()
	latest, present := m.entries[key]
	if !present {
		m.mu.Unlock()
		return
	}
	if !ok {
		delete(m.entries, key)
		m.mu.Unlock()
		return
	}
	if latest.phase == phaseEnding {
		status := latest.closeStatus
		if status == "" {
			status = trace.StatusUnknown
		}
		closeTs := latest.closeTs
		delete(m.entries, key)
		m.mu.Unlock()
		m.end(sessionID, taskID, status, attrs, closeTs)
		return
	}
	latest.phase = phaseRunning
	latest.taskID = taskID
	m.mu.Unlock()
}

// RequestEnd closes a running part-task, or buffers the close for one that
// is still pending. Repeated requests merge: status keeps the highest
// severity seen, the latest end timestamp wins.
func (m *Machine) RequestEnd(key string, status trace.Status, ts int64) {
	m.mu.Lock()
	state, ok := m.entries[key]
	if !ok {
		m.mu.Unlock()
		return
	}

	if state.phase == phaseRunning && state.taskID != "" {
		sessionID, taskID, attrs := state.sessionID, state.taskID, state.attrs
		delete(m.entries, key)
		m.mu.Unlock()
		m.end(sessionID, taskID, status, attrs, ts)
		return
	}

	state.phase = phaseEnding
	state.closeStatus = trace.MergeStatus(state.closeStatus, status)
	if ts != 0 {
		state.closeTs = ts
	}
	m.mu.Unlock()
}

// CloseSession force-requests ends for every key belonging to a session,
// used when the session goes idle or errors.
func (m *Machine) CloseSession(sessionID string, status trace.Status, ts int64) {
	m.mu.Lock()
	var keys []string
	for key, state := range m.entries {
		if state.sessionID == sessionID {
			keys = append(keys, key)
		}
	}
	m.mu.Unlock()

	for _, key := range keys {
		m.RequestEnd(key, status, ts)
	}
}

// Shutdown force-closes every lingering entry with status unknown.
func (m *Machine) Shutdown(ts int64) {
	m.mu.Lock()
	keys := make([]string, 0, len(m.entries))
	for key := range m.entries {
		keys = append(keys, key)
	}
	m.mu.Unlock()

	for _, key := range keys {
		m.RequestEnd(key, trace.StatusUnknown, ts)
	}
}
