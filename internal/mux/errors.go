package mux

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/babelcloud/gbox/packages/avsync/internal/core"
)

var (
	// ErrAlreadyOpen is returned when Open is called twice on one session.
	ErrAlreadyOpen = errors.New("merge engine already open")

	// ErrReleased is returned by operations on a released session.
	ErrReleased = errors.New("merge engine released")

	// ErrNotOpen is returned when the merge loop is started before Open.
	ErrNotOpen = errors.New("merge engine not open")

	// ErrAlreadyRunning is returned when a second merge loop is started.
	ErrAlreadyRunning = errors.New("merge loop already running")
)

// SinkError reports a failure of the sink collaborator. It ends the session.
type SinkError struct {
	Op   string // add_track, start, write, stop or release
	Kind core.Kind
	PTS  int64
	Err  error
}

func (e *SinkError) Error() string {
	switch e.Op {
	case "write":
		return fmt.Sprintf("sink write %s sample pts=%d: %v", e.Kind, e.PTS, e.Err)
	case "add_track":
		return fmt.Sprintf("sink add %s track: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("sink %s: %v", e.Op, e.Err)
	}
}

func (e *SinkError) Unwrap() error {
	return e.Err
}
