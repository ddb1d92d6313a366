// Package writer appends trace records durably. FileWriter serializes all
// appends to one file through a single-writer actor goroutine;
// SessionWriter shards records by root session and enforces a byte budget
// on the project directory.
package writer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/flextrace/flextrace/internal/trace"
)

// TraceWriter is the contract shared by both writer strategies.
type TraceWriter interface {
	// Write queues a record for appending. The append itself is
	// asynchronous; I/O failures surface from Flush and Close.
	Write(rec *trace.Record) error
	// Flush waits for all queued writes to settle.
	Flush() error
	// Close flushes and releases file handles. The writer is unusable
	// afterwards.
	Close() error
}

const writeQueueDepth = 256

type writeOp struct {
	line  []byte
	flush chan error
}

// FileWriter appends NDJSON lines to a single file. One goroutine owns the
// file handle, so concurrent callers never interleave partial lines. The
// file is opened lazily on first write and parent directories are created
// as needed. Each line is written with a single syscall, so a reader never
// observes a torn record boundary from this process.
type FileWriter struct {
	path string

	mu     sync.Mutex
	ops    chan writeOp
	done   chan struct{}
	closed bool

	file *os.File
	err  error // sticky, owned by the actor goroutine until done closes
}

// NewFileWriter creates a writer for path. No I/O happens until the first
// write.
func NewFileWriter(path string) *FileWriter {
	w := &FileWriter{
		path: path,
		ops:  make(chan writeOp, writeQueueDepth),
		done: make(chan struct{}),
	}
	go w.run()
	return w
}

// Path returns the target file path.
func (w *FileWriter) Path() string { return w.path }

// Write marshals the record and queues it for appending. Marshal failures
// are returned immediately; I/O failures are sticky and surface from Flush.
// A full queue applies back-pressure by blocking.
func (w *FileWriter) Write(rec *trace.Record) error {
	line, err := rec.Encode()
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.New("writer closed")
	}
	w.ops <- writeOp{line: line}
	return nil
}

// Flush waits for every queued write to hit the file and returns the first
// I/O error seen, if any.
func (w *FileWriter) Flush() error {
	w.mu.Lock()
	if w.closed {
		err := w.err
		w.mu.Unlock()
		return err
	}
	ack := make(chan error, 1)
	w.ops <- writeOp{flush: ack}
	w.mu.Unlock()
	return <-ack
}

// Close flushes, stops the actor and closes the file handle.
func (w *FileWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		err := w.err
		w.mu.Unlock()
		return err
	}
	w.closed = true
	close(w.ops)
	w.mu.Unlock()

	<-w.done
	return w.err
}

func (w *FileWriter) run() {
	defer close(w.done)
	for op := range w.ops {
		if op.flush != nil {
			op.flush <- w.err
			continue
		}
		w.append(op.line)
	}
	if w.file != nil {
		if cerr := w.file.Close(); cerr != nil && w.err == nil {
			w.err = cerr
		}
	}
}

func (w *FileWriter) append(line []byte) {
	if w.err != nil {
		return
	}
	if w.file == nil {
		if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
			w.err = err
			return
		}
		f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			w.err = err
			return
		}
		w.file = f
	}
	if _, err := w.file.Write(append(line, '\n')); err != nil {
		w.err = err
	}
}
