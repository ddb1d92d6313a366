package parttask

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flextrace/flextrace/internal/trace"
)

type closeCall struct {
	sessionID string
	taskID    string
	status    trace.Status
	ts        int64
}

type recorder struct {
	mu      sync.Mutex
	nextID  string
	startOK bool
	// when set, runs between the pending transition and the start ack,
	// simulating work racing the async write
	onStart func(m *Machine)
	machine *Machine
	starts  []string
	closes  []closeCall
}

func newRecorder() *recorder {
	return &recorder{nextID: "task-1", startOK: true}
}

func (r *recorder) start(sessionID, name string, attrs trace.Attrs, ts int64) (string, bool) {
	if r.onStart != nil {
		r.onStart(r.machine)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.startOK {
		return "", false
	}
	r.starts = append(r.starts, name)
	return r.nextID, true
}

func (r *recorder) end(sessionID, taskID string, status trace.Status, attrs trace.Attrs, ts int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes = append(r.closes, closeCall{sessionID, taskID, status, ts})
}

func newMachine(r *recorder) *Machine {
	m := New(r.start, r.end)
	r.machine = m
	return m
}

func TestStartThenEnd(t *testing.T) {
	rec := newRecorder()
	m := newMachine(rec)

	m.Start("tool:call_1", "s1", "activity:tool:bash", trace.Attrs{"tool": "bash"}, 100)
	require.True(t, m.Has("tool:call_1"))

	m.RequestEnd("tool:call_1", trace.StatusOK, 250)
	require.Len(t, rec.closes, 1)
	assert.Equal(t, closeCall{"s1", "task-1", trace.StatusOK, 250}, rec.closes[0])
	assert.False(t, m.Has("tool:call_1"))
}

func TestEndRacesAheadOfStartAck(t *testing.T) {
	rec := newRecorder()
	m := newMachine(rec)

	// The end request arrives while the start write is still in flight.
	rec.onStart = func(m *Machine) {
		m.RequestEnd("tool:call_1", trace.StatusError, 300)
	}
	m.Start("tool:call_1", "s1", "activity:tool:bash", nil, 100)

	require.Len(t, rec.closes, 1)
	assert.Equal(t, trace.StatusError, rec.closes[0].status)
	assert.EqualValues(t, 300, rec.closes[0].ts)
	assert.False(t, m.Has("tool:call_1"))
}

func TestEndMergesSeverityWhilePending(t *testing.T) {
	rec := newRecorder()
	m := newMachine(rec)

	rec.onStart = func(m *Machine) {
		m.RequestEnd("k", trace.StatusError, 200)
		// A later, lower-severity close must not downgrade the status but
		// does advance the end timestamp.
		m.RequestEnd("k", trace.StatusOK, 400)
	}
	m.Start("k", "s1", "activity:reasoning", nil, 100)

	require.Len(t, rec.closes, 1)
	assert.Equal(t, trace.StatusError, rec.closes[0].status)
	assert.EqualValues(t, 400, rec.closes[0].ts)
}

func TestDuplicateStartIgnored(t *testing.T) {
	rec := newRecorder()
	m := newMachine(rec)

	m.Start("k", "s1", "activity:reasoning", nil, 100)
	m.Start("k", "s1", "activity:reasoning", nil, 150)

	assert.Len(t, rec.starts, 1)
}

func TestDroppedStartClearsEntry(t *testing.T) {
	rec := newRecorder()
	rec.startOK = false
	m := newMachine(rec)

	m.Start("k", "s1", "activity:reasoning", nil, 100)
	assert.False(t, m.Has("k"))

	m.RequestEnd("k", trace.StatusOK, 200)
	assert.Empty(t, rec.closes)
}

func TestEndWithoutStartIsNoop(t *testing.T) {
	rec := newRecorder()
	m := newMachine(rec)

	m.RequestEnd("never-started", trace.StatusOK, 100)
	assert.Empty(t, rec.closes)
}

func TestCloseSessionOnlyTouchesThatSession(t *testing.T) {
	rec := newRecorder()
	m := newMachine(rec)

	m.Start("a", "s1", "activity:tool:bash", nil, 100)
	rec.nextID = "task-2"
	m.Start("b", "s2", "activity:tool:edit", nil, 110)

	m.CloseSession("s1", trace.StatusUnknown, 500)

	require.Len(t, rec.closes, 1)
	assert.Equal(t, "s1", rec.closes[0].sessionID)
	assert.Equal(t, trace.StatusUnknown, rec.closes[0].status)
	assert.True(t, m.Has("b"))
}

func TestShutdownForceClosesEverything(t *testing.T) {
	rec := newRecorder()
	m := newMachine(rec)

	m.Start("a", "s1", "activity:tool:bash", nil, 100)
	rec.nextID = "task-2"
	m.Start("b", "s2", "activity:reasoning", nil, 110)

	m.Shutdown(900)

	require.Len(t, rec.closes, 2)
	for _, c := range rec.closes {
		assert.Equal(t, trace.StatusUnknown, c.status)
		assert.EqualValues(t, 900, c.ts)
	}
	assert.False(t, m.Has("a"))
	assert.False(t, m.Has("b"))
}
