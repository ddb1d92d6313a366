// Package capture translates host-runtime lifecycle callbacks into trace
// records. All mutable write-path state (session metadata, agent-run
// bookkeeping, pending part tasks) lives on one Capture context with an
// explicit lifecycle: created at plugin init, torn down by Shutdown.
package capture

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/flextrace/flextrace/internal/parttask"
	"github.com/flextrace/flextrace/internal/taskctx"
	"github.com/flextrace/flextrace/internal/trace"
	"github.com/flextrace/flextrace/internal/writer"
)

// DefaultMaxProjectBytes is the retention budget applied when none is
// configured (1 GiB).
const DefaultMaxProjectBytes = int64(1 << 30)

// Config tunes a capture session.
type Config struct {
	// RootDir is the trace root; defaults to ~/.flextrace.
	RootDir string
	// ProjectID shards traces per project; defaults to the cwd basename.
	ProjectID string
	// OutPath switches to a single flat file instead of per-root sharding.
	OutPath string
	// MaxProjectBytes is the retention budget; 0 disables eviction.
	MaxProjectBytes int64
	// CaptureUserMessages controls user.message tracepoints.
	CaptureUserMessages bool
	// UserMessagePreviewMax caps user message previews (runes).
	UserMessagePreviewMax int
	// Attrs is merged into the capture_start record.
	Attrs trace.Attrs

	Logger *zap.Logger
	Clock  clock.Clock
	// Writer overrides the file writer, used by tests.
	Writer writer.TraceWriter
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.RootDir == "" {
		if env := os.Getenv("FLEXTRACE_ROOT"); env != "" {
			out.RootDir = env
		} else if home, err := os.UserHomeDir(); err == nil {
			out.RootDir = filepath.Join(home, ".flextrace")
		} else {
			out.RootDir = ".flextrace"
		}
	}
	if out.ProjectID == "" {
		if env := os.Getenv("FLEXTRACE_PROJECT_ID"); env != "" {
			out.ProjectID = env
		} else if wd, err := os.Getwd(); err == nil {
			out.ProjectID = filepath.Base(wd)
		} else {
			out.ProjectID = "default"
		}
	}
	if out.MaxProjectBytes == 0 {
		out.MaxProjectBytes = DefaultMaxProjectBytes
	} else if out.MaxProjectBytes < 0 {
		out.MaxProjectBytes = 0
	}
	if out.UserMessagePreviewMax == 0 {
		out.UserMessagePreviewMax = 280
	}
	if out.Logger == nil {
		out.Logger = zap.NewNop()
	}
	if out.Clock == nil {
		out.Clock = clock.New()
	}
	return out
}

type sessionMeta struct {
	sessionID       string
	parentSessionID string
	rootSessionID   string
	title           string
	slug            string
}

// Capture owns the write path for one capture session.
type Capture struct {
	cfg       Config
	writer    writer.TraceWriter
	log       *zap.Logger
	clk       clock.Clock
	captureID string

	tasks *taskctx.Context
	parts *parttask.Machine

	mu             sync.Mutex
	metaBySession  map[string]*sessionMeta
	agentBySession map[string]string
	agentRunTask   map[string]string
}

// New opens the log writer and emits the capture_start bracket.
func New(cfg Config) (*Capture, error) {
	cfg = cfg.withDefaults()

	w := cfg.Writer
	if w == nil {
		if cfg.OutPath != "" {
			w = writer.NewFileWriter(cfg.OutPath)
		} else {
			w = writer.NewSessionWriter(cfg.RootDir, cfg.ProjectID, writer.SessionWriterOptions{
				MaxProjectBytes: cfg.MaxProjectBytes,
				Logger:          cfg.Logger,
			})
		}
	}

	c := &Capture{
		cfg:            cfg,
		writer:         w,
		log:            cfg.Logger,
		clk:            cfg.Clock,
		captureID:      uuid.NewString(),
		tasks:          taskctx.New(),
		metaBySession:  make(map[string]*sessionMeta),
		agentBySession: make(map[string]string),
		agentRunTask:   make(map[string]string),
	}
	c.parts = parttask.New(c.startPartTask, c.endPartTask)

	outPath := cfg.OutPath
	if outPath == "" {
		outPath = filepath.Join(cfg.RootDir, cfg.ProjectID, "*.ndjson")
	}
	rec := &trace.Record{
		Type:      trace.TypeCaptureStart,
		CaptureID: c.captureID,
		Ts:        c.now(),
		Attrs: trace.MergeAttrs(trace.Attrs{
			"plugin":                "flextrace",
			"outPath":               outPath,
			"rootDir":               cfg.RootDir,
			"projectId":             cfg.ProjectID,
			"captureUserMessages":   cfg.CaptureUserMessages,
			"userMessagePreviewMax": cfg.UserMessagePreviewMax,
			"maxProjectBytes":       cfg.MaxProjectBytes,
		}, cfg.Attrs),
	}
	if err := c.writer.Write(rec); err != nil {
		return nil, err
	}
	return c, nil
}

// CaptureID identifies this capture session in the log brackets.
func (c *Capture) CaptureID() string { return c.captureID }

func (c *Capture) now() int64 { return c.clk.Now().UnixMilli() }

func (c *Capture) tsOr(ts int64) int64 {
	if ts > 0 {
		return ts
	}
	return c.now()
}

// Shutdown force-closes lingering part tasks with status unknown, writes
// the capture_end bracket and closes the writer. Writer I/O failures are
// the one fatal error class and surface here.
func (c *Capture) Shutdown() error {
	c.parts.Shutdown(c.now())
	if err := c.writer.Write(&trace.Record{
		Type:      trace.TypeCaptureEnd,
		CaptureID: c.captureID,
		Ts:        c.now(),
	}); err != nil {
		return err
	}
	if err := c.writer.Flush(); err != nil {
		return err
	}
	return c.writer.Close()
}

// rootFor resolves the root session for a known session by walking the
// parent chain with a visited-set guard. A cycle terminates with the
// session itself as root instead of looping.
func (c *Capture) rootFor(sessionID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rootForLocked(sessionID)
}

func (c *Capture) rootForLocked(sessionID string) (string, bool) {
	visited := make(map[string]struct{})
	current := sessionID
	for {
		if _, seen := visited[current]; seen {
			return sessionID, true
		}
		visited[current] = struct{}{}
		meta, ok := c.metaBySession[current]
		if !ok {
			return "", false
		}
		if meta.parentSessionID == "" {
			if meta.rootSessionID != "" {
				return meta.rootSessionID, true
			}
			return meta.sessionID, true
		}
		current = meta.parentSessionID
	}
}

// recomputeRootsLocked refreshes every session's cached root after a
// parent-link change. Unknown ancestors and cycles both terminate the walk
// deterministically.
func (c *Capture) recomputeRootsLocked() {
	for id, meta := range c.metaBySession {
		visited := map[string]struct{}{id: {}}
		root := id
		current := meta
		for current.parentSessionID != "" {
			parent, ok := c.metaBySession[current.parentSessionID]
			if !ok {
				root = current.parentSessionID
				break
			}
			if _, seen := visited[parent.sessionID]; seen {
				root = id
				break
			}
			visited[parent.sessionID] = struct{}{}
			root = parent.sessionID
			current = parent
		}
		meta.rootSessionID = root
	}
}

// SessionInfo carries host-runtime session identity.
type SessionInfo struct {
	SessionID       string
	ParentSessionID string
	Title           string
	Slug            string
	Ts              int64
}

// UpsertSession merges session metadata, recomputes roots and emits a
// session upsert record. Later upserts overwrite title and attrs.
func (c *Capture) UpsertSession(info SessionInfo) {
	if info.SessionID == "" {
		info.SessionID = "unknown-session"
	}

	c.mu.Lock()
	meta, ok := c.metaBySession[info.SessionID]
	if !ok {
		meta = &sessionMeta{sessionID: info.SessionID}
		c.metaBySession[info.SessionID] = meta
	}
	if info.ParentSessionID != "" {
		meta.parentSessionID = info.ParentSessionID
	}
	if info.Title != "" {
		meta.title = info.Title
	}
	if info.Slug != "" {
		meta.slug = info.Slug
	}
	c.recomputeRootsLocked()
	rootID := meta.rootSessionID
	parentID := meta.parentSessionID
	title := meta.title
	slug := meta.slug
	c.mu.Unlock()

	rec := &trace.Record{
		Type:            trace.TypeSession,
		Op:              trace.OpUpsert,
		Ts:              c.tsOr(info.Ts),
		SessionID:       info.SessionID,
		RootSessionID:   rootID,
		ParentSessionID: parentID,
		Label:           title,
		Attrs: trace.MergeAttrs(trace.Attrs{
			"sessionTitle": orNil(title),
			"sessionSlug":  orNil(slug),
		}),
	}
	if err := c.writer.Write(rec); err != nil {
		c.log.Error("session upsert write failed", zap.Error(err))
	}
}

// ensureSession registers a bare session the first time any event
// references it.
func (c *Capture) ensureSession(sessionID string) {
	c.mu.Lock()
	_, known := c.metaBySession[sessionID]
	c.mu.Unlock()
	if !known {
		c.UpsertSession(SessionInfo{SessionID: sessionID})
	}
}

func (c *Capture) sessionTitle(sessionID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if meta, ok := c.metaBySession[sessionID]; ok {
		return meta.title
	}
	return ""
}

// EmitTracepoint writes a point-in-time annotation parented to the current
// task. Returns the tracepoint id, or "" when the record was dropped.
func (c *Capture) EmitTracepoint(sessionID, name string, level trace.Level, attrs trace.Attrs, ts int64) string {
	c.ensureSession(sessionID)
	rootID, ok := c.rootFor(sessionID)
	if !ok {
		c.log.Error("drop tracepoint without rootSessionId",
			zap.String("sessionId", sessionID), zap.String("name", name))
		return ""
	}
	if level == "" {
		level = trace.LevelInfo
	}
	tpID := uuid.NewString()
	rec := &trace.Record{
		Type:          trace.TypeTracepoint,
		Ts:            c.tsOr(ts),
		TpID:          tpID,
		SessionID:     sessionID,
		RootSessionID: rootID,
		Name:          name,
		Level:         level,
		Attrs:         trace.MergeAttrs(attrs),
	}
	if frame, ok := c.tasks.Current(sessionID); ok {
		rec.ParentTaskID = frame.TaskID
	}
	if err := c.writer.Write(rec); err != nil {
		c.log.Error("tracepoint write failed", zap.Error(err))
	}
	return tpID
}

// EmitCounter writes a named numeric sample scoped to a session.
func (c *Capture) EmitCounter(sessionID, name string, value float64, attrs trace.Attrs, ts int64) {
	c.ensureSession(sessionID)
	rootID, ok := c.rootFor(sessionID)
	if !ok {
		c.log.Error("drop counter without rootSessionId",
			zap.String("sessionId", sessionID), zap.String("name", name))
		return
	}
	rec := &trace.Record{
		Type:          trace.TypeCounter,
		Ts:            c.tsOr(ts),
		SessionID:     sessionID,
		RootSessionID: rootID,
		Name:          name,
		Value:         trace.Float64Ptr(value),
		Attrs:         trace.MergeAttrs(attrs),
	}
	if err := c.writer.Write(rec); err != nil {
		c.log.Error("counter write failed", zap.Error(err))
	}
}

// EmitMarker writes a labeled point event with no duration.
func (c *Capture) EmitMarker(sessionID, label string, attrs trace.Attrs, ts int64) {
	c.ensureSession(sessionID)
	rootID, ok := c.rootFor(sessionID)
	if !ok {
		c.log.Error("drop marker without rootSessionId",
			zap.String("sessionId", sessionID), zap.String("label", label))
		return
	}
	rec := &trace.Record{
		Type:          trace.TypeMarker,
		Ts:            c.tsOr(ts),
		SessionID:     sessionID,
		RootSessionID: rootID,
		Label:         label,
		Attrs:         trace.MergeAttrs(attrs),
	}
	if err := c.writer.Write(rec); err != nil {
		c.log.Error("marker write failed", zap.Error(err))
	}
}

// StartTask opens a manual task and returns its id, or "" when dropped.
func (c *Capture) StartTask(sessionID, name string, kind trace.Kind, attrs trace.Attrs, ts int64) string {
	c.ensureSession(sessionID)
	rootID, ok := c.rootFor(sessionID)
	if !ok {
		c.log.Error("drop task_start without rootSessionId",
			zap.String("sessionId", sessionID), zap.String("name", name))
		return ""
	}
	if kind == "" {
		kind = trace.KindManual
	}
	taskID := uuid.NewString()
	when := c.tsOr(ts)
	rec := &trace.Record{
		Type:          trace.TypeTaskStart,
		Ts:            when,
		TaskID:        taskID,
		SessionID:     sessionID,
		RootSessionID: rootID,
		Kind:          kind,
		Name:          name,
		Attrs:         trace.MergeAttrs(attrs),
	}
	if frame, ok := c.tasks.Current(sessionID); ok {
		rec.ParentTaskID = frame.TaskID
	}
	if err := c.writer.Write(rec); err != nil {
		c.log.Error("task_start write failed", zap.Error(err))
		return ""
	}
	c.tasks.Push(sessionID, taskctx.Frame{TaskID: taskID, Kind: kind, Name: name, StartedAt: when})
	return taskID
}

// EndTask closes a task opened by StartTask. Duration falls back to the
// tracked frame when the caller has no explicit value.
func (c *Capture) EndTask(sessionID, taskID string, status trace.Status, attrs trace.Attrs, ts int64) {
	c.ensureSession(sessionID)
	rootID, ok := c.rootFor(sessionID)
	if !ok {
		c.log.Error("drop task_end without rootSessionId",
			zap.String("sessionId", sessionID), zap.String("taskId", taskID))
		return
	}
	if status == "" {
		status = trace.StatusOK
	}
	when := c.tsOr(ts)
	rec := &trace.Record{
		Type:          trace.TypeTaskEnd,
		Ts:            when,
		TaskID:        taskID,
		SessionID:     sessionID,
		RootSessionID: rootID,
		Status:        status,
		Attrs:         trace.MergeAttrs(attrs),
	}
	if frame, ok := c.tasks.Pop(sessionID, taskID); ok {
		rec.DurationMs = trace.Int64Ptr(when - frame.StartedAt)
	}
	if err := c.writer.Write(rec); err != nil {
		c.log.Error("task_end write failed", zap.Error(err))
	}
}

// startPartTask and endPartTask adapt the manual task emitters to the
// part-task machine.
func (c *Capture) startPartTask(sessionID, name string, attrs trace.Attrs, ts int64) (string, bool) {
	taskID := c.StartTask(sessionID, name, trace.KindManual, attrs, ts)
	return taskID, taskID != ""
}

func (c *Capture) endPartTask(sessionID, taskID string, status trace.Status, attrs trace.Attrs, ts int64) {
	c.EndTask(sessionID, taskID, status, attrs, ts)
}

func orNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}
