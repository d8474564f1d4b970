// Package mux interleaves independently produced video and audio samples
// into one presentation-time ordered stream for a container sink.
package mux

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/babelcloud/gbox/packages/avsync/internal/core"
	"github.com/babelcloud/gbox/packages/avsync/internal/queue"
	"github.com/babelcloud/gbox/packages/avsync/internal/util"
)

// Options configures a merge session.
type Options struct {
	Logger      *slog.Logger
	Diagnostics Diagnostics

	// StrictInterleave holds a sample back while the other queue is empty
	// and its kind has not ended.
	StrictInterleave bool

	// DrainOnStop writes everything still queued when the run context is
	// cancelled instead of stopping at once.
	DrainOnStop bool
}

// Engine owns one recording session: two sample queues, one sink and the
// merge loop that drains the queues into the sink.
type Engine struct {
	id     string
	opts   Options
	logger *slog.Logger
	queues [2]*queue.SampleQueue

	mu       sync.Mutex
	cond     *sync.Cond
	state    State
	sink     core.Sink
	tracks   [2]core.TrackID
	opening  bool
	opened   bool
	released bool
	running  bool
	stopping bool
	fault    error
	ended    [2]bool
	done     chan struct{}

	written      [2]atomic.Int64
	dropped      [2]atomic.Int64
	firstPTS     [2]atomic.Int64
	lastPTS      [2]atomic.Int64
	diagFailures atomic.Int64
}

// NewEngine creates an idle session.
func NewEngine(opts Options) *Engine {
	id := uuid.NewString()
	e := &Engine{
		id:     id,
		opts:   opts,
		logger: util.ComponentLogger(opts.Logger, "merge_engine").With("session", id),
		queues: [2]*queue.SampleQueue{queue.New(), queue.New()},
		state:  StateIdle,
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// ID returns the session identifier.
func (e *Engine) ID() string {
	return e.id
}

// PushVideo enqueues a video sample. Safe from any goroutine, before or after Open.
func (e *Engine) PushVideo(sample core.Sample) {
	sample.Kind = core.KindVideo
	e.Push(sample)
}

// PushAudio enqueues an audio sample. Safe from any goroutine, before or after Open.
func (e *Engine) PushAudio(sample core.Sample) {
	sample.Kind = core.KindAudio
	e.Push(sample)
}

// Push enqueues a sample into the queue of its kind. A sample flagged
// FlagEndOfStream ends its kind; an empty one is not written. Samples pushed
// after the end of their kind, after the merge loop was cancelled or after
// Release are dropped and counted.
func (e *Engine) Push(sample core.Sample) {
	k := sample.Kind
	if !validKind(k) {
		e.logger.Warn("Dropping sample of unknown kind", "kind", int(k), "pts", sample.PTS)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.released || e.stopping || e.ended[k] {
		if e.dropped[k].Add(1) == 1 {
			e.logger.Warn("Dropping sample pushed after end of stream",
				"kind", k, "pts", sample.PTS, "stopping", e.stopping, "released", e.released)
		}
		return
	}

	eos := sample.Flags.Has(core.FlagEndOfStream)
	if !eos || len(sample.Data) > 0 {
		e.queues[k].Push(sample)
	}
	if eos {
		e.ended[k] = true
		e.logger.Debug("End of stream", "kind", k, "pts", sample.PTS)
		e.cond.Broadcast()
		return
	}
	e.cond.Signal()
}

// EndOfStream marks the end of one kind. Already queued samples are still
// written; later pushes of that kind are dropped. Once both kinds have ended
// the merge loop drains the queues and returns.
func (e *Engine) EndOfStream(kind core.Kind) {
	if !validKind(kind) {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ended[kind] {
		return
	}
	e.ended[kind] = true
	e.logger.Debug("End of stream", "kind", kind)
	e.cond.Broadcast()
}

// Open adds both tracks to sink and starts it. A session opens exactly one
// sink; a second Open is a usage fault that also ends the merge loop.
func (e *Engine) Open(sink core.Sink, video, audio core.Format) error {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return errors.WithStack(ErrReleased)
	}
	if e.opening || e.opened {
		e.fault = errors.WithStack(ErrAlreadyOpen)
		e.cond.Broadcast()
		e.mu.Unlock()
		e.logger.Error("Open called on a session that already has a sink")
		return e.fault
	}
	e.opening = true
	e.mu.Unlock()

	tracks, err := configure(sink, video, audio)

	e.mu.Lock()
	e.opening = false
	if err != nil {
		e.mu.Unlock()
		e.logger.Error("Failed to open sink", "error", err)
		if rerr := sink.Release(); rerr != nil {
			e.logger.Warn("Failed to release sink after open error", "error", rerr)
		}
		return err
	}
	if e.released {
		// Release ran while the sink was being configured and left
		// finalization to us.
		e.mu.Unlock()
		if ferr := finalize(sink); ferr != nil {
			e.logger.Warn("Failed to finalize sink opened during release", "error", ferr)
		}
		return errors.WithStack(ErrReleased)
	}
	e.sink = sink
	e.tracks = tracks
	e.opened = true
	e.mu.Unlock()

	e.logger.Info("Sink opened",
		"video_track", tracks[core.KindVideo], "video_codec", video.Codec,
		"audio_track", tracks[core.KindAudio], "audio_codec", audio.Codec)
	return nil
}

// OpenWhenReady waits for both formats on board, then opens sink.
func (e *Engine) OpenWhenReady(ctx context.Context, sink core.Sink, board *FormatBoard) error {
	video, audio, err := board.Wait(ctx)
	if err != nil {
		return errors.Wrap(err, "waiting for track formats")
	}
	return e.Open(sink, video, audio)
}

func configure(sink core.Sink, video, audio core.Format) ([2]core.TrackID, error) {
	var tracks [2]core.TrackID

	formats := [2]core.Format{video, audio}
	for _, k := range core.Kinds {
		formats[k].Kind = k
		id, err := sink.AddTrack(k, formats[k])
		if err != nil {
			return tracks, &SinkError{Op: "add_track", Kind: k, Err: err}
		}
		tracks[k] = id
	}
	if err := sink.Start(); err != nil {
		return tracks, &SinkError{Op: "start", Err: err}
	}
	return tracks, nil
}

// Run drains both queues into the sink until ctx is cancelled, both kinds
// have ended and been drained, or the session is released. It never returns
// just because the queues are empty. A sink write failure ends the session
// and is returned as a *SinkError.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	switch {
	case e.released:
		e.mu.Unlock()
		return errors.WithStack(ErrReleased)
	case e.fault != nil:
		err := e.fault
		e.mu.Unlock()
		return err
	case !e.opened:
		e.mu.Unlock()
		return errors.WithStack(ErrNotOpen)
	case e.running:
		e.mu.Unlock()
		return errors.WithStack(ErrAlreadyRunning)
	}
	e.running = true
	e.state = StateRunning
	e.done = make(chan struct{})
	sink, tracks := e.sink, e.tracks
	e.mu.Unlock()

	defer e.finishRun()
	stop := context.AfterFunc(ctx, e.wake)
	defer stop()

	e.logger.Debug("Merge loop started")
	for {
		sample, ok, err := e.next(ctx)
		if !ok {
			return err
		}
		if err := e.write(sink, tracks, sample); err != nil {
			e.mu.Lock()
			e.fault = err
			e.mu.Unlock()
			return err
		}
	}
}

func (e *Engine) wake() {
	e.mu.Lock()
	e.cond.Broadcast()
	e.mu.Unlock()
}

func (e *Engine) finishRun() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.running = false
	if e.state != StateReleased {
		e.state = StateIdle
	}
	close(e.done)
	e.logger.Debug("Merge loop stopped",
		"video_written", e.written[core.KindVideo].Load(),
		"audio_written", e.written[core.KindAudio].Load())
}

// next blocks until a sample can be written or the loop has to stop.
func (e *Engine) next(ctx context.Context) (core.Sample, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for {
		if e.released {
			return core.Sample{}, false, nil
		}
		if e.fault != nil {
			return core.Sample{}, false, e.fault
		}
		if e.state != StateDraining {
			if ctx.Err() != nil {
				if !e.opts.DrainOnStop {
					e.stopping = true
					return core.Sample{}, false, nil
				}
				e.drainLocked("cancelled")
			} else if e.ended[core.KindVideo] && e.ended[core.KindAudio] {
				e.drainLocked("end of stream")
			}
		}

		if sample, ok := e.selectLocked(); ok {
			return sample, true, nil
		}
		if e.state == StateDraining {
			return core.Sample{}, false, nil
		}
		e.cond.Wait()
	}
}

// drainLocked switches to draining. Only samples queued so far are written;
// later pushes are dropped so the loop always terminates.
func (e *Engine) drainLocked(reason string) {
	e.state = StateDraining
	e.stopping = true
	e.logger.Debug("Draining queues", "reason", reason,
		"video_pending", e.queues[core.KindVideo].Len(),
		"audio_pending", e.queues[core.KindAudio].Len())
}

// selectLocked pops the head with the smaller PTS; audio wins ties.
func (e *Engine) selectLocked() (core.Sample, bool) {
	vq, aq := e.queues[core.KindVideo], e.queues[core.KindAudio]
	tv, hasVideo := vq.PeekTimestamp()
	ta, hasAudio := aq.PeekTimestamp()

	switch {
	case hasVideo && hasAudio:
		if ta <= tv {
			return aq.Pop()
		}
		return vq.Pop()
	case hasVideo:
		if e.canWriteAlone(core.KindAudio) {
			return vq.Pop()
		}
	case hasAudio:
		if e.canWriteAlone(core.KindVideo) {
			return aq.Pop()
		}
	}
	return core.Sample{}, false
}

func (e *Engine) canWriteAlone(other core.Kind) bool {
	return !e.opts.StrictInterleave || e.state == StateDraining || e.ended[other]
}

func (e *Engine) write(sink core.Sink, tracks [2]core.TrackID, s core.Sample) error {
	if e.opts.Diagnostics != nil {
		if err := e.opts.Diagnostics.Record(s); err != nil {
			if e.diagFailures.Add(1) == 1 {
				e.logger.Warn("Diagnostic log write failed, continuing", "error", err)
			}
		}
	}

	if err := sink.WriteSample(tracks[s.Kind], s.Data, s.PTS, s.Flags); err != nil {
		e.logger.Error("Sink write failed", "kind", s.Kind, "pts", s.PTS, "error", err)
		return &SinkError{Op: "write", Kind: s.Kind, PTS: s.PTS, Err: err}
	}

	if e.written[s.Kind].Add(1) == 1 {
		e.firstPTS[s.Kind].Store(s.PTS)
	}
	e.lastPTS[s.Kind].Store(s.PTS)
	return nil
}

// Release stops the merge loop, discards pending samples and, if a sink was
// opened, stops and releases it exactly once. It is idempotent and safe to
// call while Run is in progress.
func (e *Engine) Release() error {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return nil
	}
	e.released = true
	e.state = StateReleased
	e.cond.Broadcast()
	running, done := e.running, e.done
	e.mu.Unlock()

	if running {
		<-done
	}

	discarded := 0
	for _, q := range e.queues {
		discarded += q.Clear()
	}

	e.mu.Lock()
	sink, opened := e.sink, e.opened
	e.sink = nil
	e.mu.Unlock()

	e.logger.Info("Session released", "discarded", discarded, "sink_opened", opened)
	if !opened {
		return nil
	}
	return finalize(sink)
}

func finalize(sink core.Sink) error {
	var err error
	if serr := sink.Stop(); serr != nil {
		err = multierr.Append(err, &SinkError{Op: "stop", Err: serr})
	}
	if rerr := sink.Release(); rerr != nil {
		err = multierr.Append(err, &SinkError{Op: "release", Err: rerr})
	}
	return err
}

// State returns the current lifecycle phase.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Stats returns a snapshot of the session counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	ended := e.ended
	e.mu.Unlock()

	kindStats := func(k core.Kind) KindStats {
		return KindStats{
			Written:  e.written[k].Load(),
			Dropped:  e.dropped[k].Load(),
			Pending:  e.queues[k].Len(),
			FirstPTS: e.firstPTS[k].Load(),
			LastPTS:  e.lastPTS[k].Load(),
			Ended:    ended[k],
		}
	}
	return Stats{
		Video:              kindStats(core.KindVideo),
		Audio:              kindStats(core.KindAudio),
		DiagnosticFailures: e.diagFailures.Load(),
	}
}

func validKind(k core.Kind) bool {
	return k == core.KindVideo || k == core.KindAudio
}
