package mux

import "github.com/babelcloud/gbox/packages/avsync/internal/core"

// State is the lifecycle phase of a merge session.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateReleased:
		return "released"
	default:
		return "unknown"
	}
}

// KindStats holds the counters of one track.
type KindStats struct {
	Written  int64
	Dropped  int64 // pushed after end of stream or release
	Pending  int
	FirstPTS int64
	LastPTS  int64
	Ended    bool
}

// Stats is a point-in-time snapshot of a session.
type Stats struct {
	Video              KindStats
	Audio              KindStats
	DiagnosticFailures int64
}

// Kind returns the counters of one kind.
func (s Stats) Kind(kind core.Kind) KindStats {
	if kind == core.KindAudio {
		return s.Audio
	}
	return s.Video
}
