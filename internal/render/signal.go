// Package render pairs frame-ready notifications from a producer with a
// consumer draw loop.
package render

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"k8s.io/utils/clock"
)

var (
	// ErrFrameDropped reports a second notification arriving before the
	// previous one was consumed. It is latched: the signal stays faulted.
	ErrFrameDropped = errors.New("frame ready notification overrun")

	// ErrWaitTimedOut reports that no frame became ready within the timeout.
	ErrWaitTimedOut = errors.New("timed out waiting for frame")

	// ErrSignalClosed is returned once the signal has been closed.
	ErrSignalClosed = errors.New("frame signal closed")
)

// Signal is a single-slot "new frame is ready" handshake between one or
// more producers and exactly one consumer. It carries readiness only and
// never buffers notifications.
type Signal struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ready  bool
	closed bool
	fault  error
	clock  clock.WithDelayedExecution
}

// NewSignal creates a signal timed by the wall clock.
func NewSignal() *Signal {
	return NewSignalWithClock(clock.RealClock{})
}

// NewSignalWithClock creates a signal whose timeouts are measured by c.
func NewSignalWithClock(c clock.WithDelayedExecution) *Signal {
	s := &Signal{clock: c}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// NotifyReady raises the ready flag and wakes the consumer. Raising it while
// it is still set latches ErrFrameDropped.
func (s *Signal) NotifyReady() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.WithStack(ErrSignalClosed)
	}
	if s.fault != nil {
		return s.fault
	}
	if s.ready {
		s.fault = errors.WithStack(ErrFrameDropped)
		s.cond.Broadcast()
		return s.fault
	}
	s.ready = true
	s.cond.Signal()
	return nil
}

// AwaitReady blocks until the flag is raised, then clears it. It returns
// ErrWaitTimedOut when timeout elapses first, the latched overrun fault, or
// ErrSignalClosed after Close.
func (s *Signal) AwaitReady(timeout time.Duration) error {
	// The clock may run the callback synchronously under its own lock, so
	// the timer is armed and stopped without holding s.mu.
	expired := false
	t := s.clock.AfterFunc(timeout, func() {
		s.mu.Lock()
		expired = true
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer t.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	for !s.ready && !expired && !s.closed && s.fault == nil {
		s.cond.Wait()
	}

	switch {
	case s.fault != nil:
		return s.fault
	case s.ready:
		s.ready = false
		return nil
	case s.closed:
		return errors.WithStack(ErrSignalClosed)
	default:
		return errors.Wrapf(ErrWaitTimedOut, "no frame within %s", timeout)
	}
}

// Close wakes a blocked consumer and rejects further notifications.
func (s *Signal) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.cond.Broadcast()
}
