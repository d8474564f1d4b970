package render

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/babelcloud/gbox/packages/avsync/internal/util"
)

// Renderer pulls the latest hardware frame and draws it.
type Renderer interface {
	UpdateFromLatestFrame() error
	Draw() error
}

// Presenter is implemented by renderers that publish the drawn frame, e.g.
// by swapping the encoder surface buffers.
type Presenter interface {
	Present() error
}

// Profile selects the default wait timeout of a loop.
type Profile string

const (
	ProfileDecode Profile = "decode"
	ProfileEncode Profile = "encode"
)

const (
	DefaultDecodeTimeout = 500 * time.Millisecond
	DefaultEncodeTimeout = 2500 * time.Millisecond
)

// TimeoutFor returns the default wait timeout of a profile.
func TimeoutFor(p Profile) time.Duration {
	if p == ProfileEncode {
		return DefaultEncodeTimeout
	}
	return DefaultDecodeTimeout
}

// ParseProfile converts a command line value into a Profile.
func ParseProfile(s string) (Profile, error) {
	switch Profile(s) {
	case ProfileDecode, ProfileEncode:
		return Profile(s), nil
	default:
		return "", errors.Errorf("unknown render profile %q (want decode or encode)", s)
	}
}

// LoopConfig configures a Loop. A zero Timeout uses the profile default.
type LoopConfig struct {
	Profile Profile
	Timeout time.Duration
	Logger  *slog.Logger
}

// Loop draws exactly one frame for every ready notification.
type Loop struct {
	signal    *Signal
	renderer  Renderer
	presenter Presenter
	timeout   time.Duration
	logger    *slog.Logger

	draws    atomic.Int64
	stopOnce sync.Once
	stopped  chan struct{}
}

// NewLoop creates a loop consuming signal and driving renderer.
func NewLoop(signal *Signal, renderer Renderer, cfg LoopConfig) *Loop {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = TimeoutFor(cfg.Profile)
	}
	l := &Loop{
		signal:   signal,
		renderer: renderer,
		timeout:  timeout,
		logger:   util.ComponentLogger(cfg.Logger, "render_loop"),
		stopped:  make(chan struct{}),
	}
	if p, ok := renderer.(Presenter); ok {
		l.presenter = p
	}
	return l
}

// Timeout returns the wait timeout in effect.
func (l *Loop) Timeout() time.Duration {
	return l.timeout
}

// Step waits for one frame, updates from it and draws it. Nothing is drawn
// when the wait fails.
func (l *Loop) Step() error {
	if err := l.signal.AwaitReady(l.timeout); err != nil {
		return err
	}
	if err := l.renderer.UpdateFromLatestFrame(); err != nil {
		return errors.Wrap(err, "update from latest frame")
	}
	if err := l.renderer.Draw(); err != nil {
		return errors.Wrap(err, "draw frame")
	}
	l.draws.Add(1)

	if l.presenter != nil {
		if err := l.presenter.Present(); err != nil {
			return errors.Wrap(err, "present frame")
		}
	}
	return nil
}

// Run steps until ctx is done or Stop is called, returning nil, or until a
// step fails, returning its error.
func (l *Loop) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, l.Stop)
	defer stop()

	l.logger.Debug("Render loop started", "timeout", l.timeout)
	for {
		select {
		case <-l.stopped:
			l.logger.Debug("Render loop stopped", "draws", l.draws.Load())
			return nil
		default:
		}

		if err := l.Step(); err != nil {
			if errors.Is(err, ErrSignalClosed) {
				l.logger.Debug("Render loop stopped", "draws", l.draws.Load())
				return nil
			}
			l.logger.Error("Render loop failed", "draws", l.draws.Load(), "error", err)
			return err
		}
	}
}

// Stop ends Run and closes the signal. It is idempotent.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopped)
		l.signal.Close()
	})
}

// Draws returns the number of frames drawn so far.
func (l *Loop) Draws() int64 {
	return l.draws.Load()
}
