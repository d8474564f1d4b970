package sink

import (
	"log/slog"
	"sync"

	"github.com/babelcloud/gbox/packages/avsync/internal/core"
	"github.com/babelcloud/gbox/packages/avsync/internal/util"
)

// Tee forwards the merged stream to a primary sink and a best-effort
// secondary one, such as a live preview. Only the primary decides the
// outcome of the session: tracks the secondary rejects are not forwarded,
// and the first secondary failure detaches it.
type Tee struct {
	primary   core.Sink
	secondary core.Sink
	logger    *slog.Logger

	mu       sync.Mutex
	mapping  map[core.TrackID]core.TrackID
	detached bool
}

// NewTee creates a sink writing to primary and secondary.
func NewTee(primary, secondary core.Sink, logger *slog.Logger) *Tee {
	return &Tee{
		primary:   primary,
		secondary: secondary,
		logger:    util.ComponentLogger(logger, "tee_sink"),
		mapping:   make(map[core.TrackID]core.TrackID),
	}
}

// AddTrack implements core.Sink. The returned identifier is the primary's.
func (t *Tee) AddTrack(kind core.Kind, format core.Format) (core.TrackID, error) {
	id, err := t.primary.AddTrack(kind, format)
	if err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.detached {
		return id, nil
	}
	sid, err := t.secondary.AddTrack(kind, format)
	if err != nil {
		t.logger.Info("Track not forwarded to secondary sink", "kind", kind, "codec", format.Codec, "reason", err)
		return id, nil
	}
	t.mapping[id] = sid
	return id, nil
}

// Start implements core.Sink.
func (t *Tee) Start() error {
	if err := t.primary.Start(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.mapping) == 0 {
		t.detachLocked("no forwarded tracks", nil)
		return nil
	}
	if err := t.secondary.Start(); err != nil {
		t.detachLocked("start failed", err)
	}
	return nil
}

// WriteSample implements core.Sink.
func (t *Tee) WriteSample(track core.TrackID, payload []byte, pts int64, flags core.Flags) error {
	if err := t.primary.WriteSample(track, payload, pts, flags); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	sid, ok := t.mapping[track]
	if !ok || t.detached {
		return nil
	}
	if err := t.secondary.WriteSample(sid, payload, pts, flags); err != nil {
		t.detachLocked("write failed", err)
	}
	return nil
}

func (t *Tee) detachLocked(reason string, err error) {
	t.detached = true
	if err != nil {
		t.logger.Warn("Detaching secondary sink", "reason", reason, "error", err)
		return
	}
	t.logger.Info("Detaching secondary sink", "reason", reason)
}

// Detached reports whether the secondary sink stopped receiving samples.
func (t *Tee) Detached() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.detached
}

// Stop implements core.Sink. Secondary errors are logged only.
func (t *Tee) Stop() error {
	if err := t.secondary.Stop(); err != nil {
		t.logger.Warn("Failed to stop secondary sink", "error", err)
	}
	return t.primary.Stop()
}

// Release implements core.Sink. Secondary errors are logged only.
func (t *Tee) Release() error {
	if err := t.secondary.Release(); err != nil {
		t.logger.Warn("Failed to release secondary sink", "error", err)
	}
	return t.primary.Release()
}
