package writer

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/flextrace/flextrace/internal/trace"
)

// CaptureFileName holds capture bracket records; discovery skips files with
// the underscore prefix so brackets never masquerade as a root session.
const CaptureFileName = "_capture.ndjson"

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// SafeName maps an id to a filesystem-safe file stem.
func SafeName(id string) string {
	return unsafeNameChars.ReplaceAllString(id, "_")
}

// SessionWriter routes every non-capture record to
// <rootDir>/<projectID>/<rootSessionId>.ndjson and capture brackets to the
// fixed capture file. When a byte budget is configured, a background
// maintenance pass evicts the oldest inactive files after each write.
//
// Sharding bounds both reconstruction (readers open only the root sessions
// they want) and retention (eviction is whole-file, not log compaction).
type SessionWriter struct {
	rootDir    string
	projectDir string
	maxBytes   int64
	log        *zap.Logger

	mu            sync.Mutex
	writers       map[string]*FileWriter
	captureWriter *FileWriter
	activePaths   map[string]struct{}

	maintMu      sync.Mutex // serializes maintenance passes
	maintPending bool
	maintWG      sync.WaitGroup
}

// SessionWriterOptions tunes the sharded writer.
type SessionWriterOptions struct {
	// MaxProjectBytes is the retention budget for the project directory;
	// 0 disables enforcement.
	MaxProjectBytes int64
	Logger          *zap.Logger
}

// NewSessionWriter creates a sharded writer under rootDir/projectID.
func NewSessionWriter(rootDir, projectID string, opts SessionWriterOptions) *SessionWriter {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxBytes := opts.MaxProjectBytes
	if maxBytes < 0 {
		maxBytes = 0
	}
	return &SessionWriter{
		rootDir:     rootDir,
		projectDir:  filepath.Join(rootDir, SafeName(projectID)),
		maxBytes:    maxBytes,
		log:         logger,
		writers:     make(map[string]*FileWriter),
		activePaths: make(map[string]struct{}),
	}
}

// ProjectDir returns the directory all shard files live under.
func (s *SessionWriter) ProjectDir() string { return s.projectDir }

// Write routes the record to its shard. Non-capture records without a
// rootSessionId are dropped with a diagnostic and never persisted.
func (s *SessionWriter) Write(rec *trace.Record) error {
	if !rec.IsCapture() && rec.RootSessionID == "" {
		s.log.Error("drop record without rootSessionId",
			zap.String("type", rec.Type),
			zap.String("sessionId", rec.SessionID))
		return nil
	}

	var w *FileWriter
	if rec.IsCapture() {
		w = s.captureFile()
	} else {
		w = s.rootFile(rec.RootSessionID)
	}
	err := w.Write(rec)
	s.kickMaintenance()
	return err
}

// Flush waits for all shard writers and any in-flight maintenance pass.
func (s *SessionWriter) Flush() error {
	var first error
	for _, w := range s.allWriters() {
		if err := w.Flush(); err != nil && first == nil {
			first = err
		}
	}
	s.maintWG.Wait()
	return first
}

// Close closes every shard writer after draining maintenance.
func (s *SessionWriter) Close() error {
	var first error
	for _, w := range s.allWriters() {
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
	}
	s.maintWG.Wait()
	return first
}

func (s *SessionWriter) allWriters() []*FileWriter {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*FileWriter, 0, len(s.writers)+1)
	for _, w := range s.writers {
		out = append(out, w)
	}
	if s.captureWriter != nil {
		out = append(out, s.captureWriter)
	}
	return out
}

func (s *SessionWriter) rootFile(rootSessionID string) *FileWriter {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := SafeName(rootSessionID)
	if w, ok := s.writers[key]; ok {
		return w
	}
	path := filepath.Join(s.projectDir, key+".ndjson")
	w := NewFileWriter(path)
	s.writers[key] = w
	s.activePaths[path] = struct{}{}
	return w
}

func (s *SessionWriter) captureFile() *FileWriter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.captureWriter == nil {
		path := filepath.Join(s.projectDir, CaptureFileName)
		s.captureWriter = NewFileWriter(path)
		s.activePaths[path] = struct{}{}
	}
	return s.captureWriter
}

// kickMaintenance schedules one background retention pass. Passes are
// serialized; an already-pending kick is coalesced.
func (s *SessionWriter) kickMaintenance() {
	if s.maxBytes <= 0 {
		return
	}
	s.mu.Lock()
	if s.maintPending {
		s.mu.Unlock()
		return
	}
	s.maintPending = true
	s.maintWG.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.maintWG.Done()
		s.maintMu.Lock()
		defer s.maintMu.Unlock()

		s.mu.Lock()
		s.maintPending = false
		s.mu.Unlock()

		if err := s.enforceBudget(); err != nil {
			s.log.Error("retention maintenance failed", zap.Error(err))
		}
	}()
}

type shardFile struct {
	path    string
	size    int64
	modTime int64
	active  bool
}

// enforceBudget deletes the oldest inactive .ndjson files until the project
// directory is back under budget. Files with open writers are never
// deleted, even if the directory stays over budget.
func (s *SessionWriter) enforceBudget() error {
	entries, err := os.ReadDir(s.projectDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	s.mu.Lock()
	active := make(map[string]struct{}, len(s.activePaths))
	for p := range s.activePaths {
		active[p] = struct{}{}
	}
	s.mu.Unlock()

	var files []shardFile
	var total int64
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".ndjson" {
			continue
		}
		path := filepath.Join(s.projectDir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			continue
		}
		_, isActive := active[path]
		files = append(files, shardFile{
			path:    path,
			size:    info.Size(),
			modTime: info.ModTime().UnixMilli(),
			active:  isActive,
		})
		total += info.Size()
	}
	if total <= s.maxBytes {
		return nil
	}

	deletable := make([]shardFile, 0, len(files))
	for _, f := range files {
		if !f.active {
			deletable = append(deletable, f)
		}
	}
	sort.Slice(deletable, func(i, j int) bool {
		return deletable[i].modTime < deletable[j].modTime
	})

	for _, f := range deletable {
		if total <= s.maxBytes {
			break
		}
		if err := os.Remove(f.path); err != nil {
			s.log.Warn("retention evict failed", zap.String("path", f.path), zap.Error(err))
			continue
		}
		s.log.Debug("retention evicted shard", zap.String("path", f.path), zap.Int64("bytes", f.size))
		total -= f.size
	}
	return nil
}
