package mux

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/babelcloud/gbox/packages/avsync/internal/core"
)

// Diagnostics receives every sample the engine pops, before it reaches the
// sink. Errors are counted and otherwise ignored.
type Diagnostics interface {
	Record(sample core.Sample) error
}

// TraceLog is an append-only text log with one line per sample.
type TraceLog struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
}

// NewTraceLog writes trace lines to w.
func NewTraceLog(w io.Writer) *TraceLog {
	return &TraceLog{w: w}
}

// OpenTraceLog appends trace lines to the file at path, creating it and its
// parent directory when missing.
func OpenTraceLog(path string) (*TraceLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create trace log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace log: %w", err)
	}
	return &TraceLog{w: f, closer: f}, nil
}

// Record implements Diagnostics
func (t *TraceLog) Record(sample core.Sample) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.w == nil {
		return io.ErrClosedPipe
	}
	_, err := fmt.Fprintf(t.w, "%s frame : pts=%d size=%d flags=%s\n",
		sample.Kind, sample.PTS, len(sample.Data), sample.Flags)
	return err
}

// Close closes the underlying file, if TraceLog owns one.
func (t *TraceLog) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.w = nil
	if t.closer == nil {
		return nil
	}
	err := t.closer.Close()
	t.closer = nil
	return err
}
