package render

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

func newFakeSignal() (*Signal, *clocktesting.FakeClock) {
	fc := clocktesting.NewFakeClock(time.Unix(0, 0))
	return NewSignalWithClock(fc), fc
}

func awaitAsync(s *Signal, timeout time.Duration) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.AwaitReady(timeout) }()
	return errCh
}

func receive(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("AwaitReady did not return")
		return nil
	}
}

func TestSignalNotifyBeforeAwait(t *testing.T) {
	s, _ := newFakeSignal()

	require.NoError(t, s.NotifyReady())
	require.NoError(t, s.AwaitReady(time.Second))

	// The flag was cleared: the next notification is not an overrun.
	require.NoError(t, s.NotifyReady())
	require.NoError(t, s.AwaitReady(time.Second))
}

func TestSignalNotifyWakesWaiter(t *testing.T) {
	s, fc := newFakeSignal()

	errCh := awaitAsync(s, time.Second)
	require.Eventually(t, fc.HasWaiters, time.Second, time.Millisecond)

	require.NoError(t, s.NotifyReady())
	require.NoError(t, receive(t, errCh))

	// The timeout timer is stopped once the wait returns.
	require.Eventually(t, func() bool { return !fc.HasWaiters() }, time.Second, time.Millisecond)
}

func TestSignalOverrun(t *testing.T) {
	s, _ := newFakeSignal()

	require.NoError(t, s.NotifyReady())
	err := s.NotifyReady()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFrameDropped))

	// The overrun is latched for both sides.
	assert.True(t, errors.Is(s.AwaitReady(time.Second), ErrFrameDropped))
	assert.True(t, errors.Is(s.NotifyReady(), ErrFrameDropped))
}

func TestSignalTimeout(t *testing.T) {
	s, fc := newFakeSignal()

	errCh := awaitAsync(s, 500*time.Millisecond)
	require.Eventually(t, fc.HasWaiters, time.Second, time.Millisecond)

	fc.Step(499 * time.Millisecond)
	select {
	case err := <-errCh:
		t.Fatalf("AwaitReady returned before the timeout: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	fc.Step(time.Millisecond)
	err := receive(t, errCh)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrWaitTimedOut))
	assert.Contains(t, err.Error(), "500ms")

	// A timeout does not poison the signal.
	require.NoError(t, s.NotifyReady())
	require.NoError(t, s.AwaitReady(time.Second))
}

func TestSignalClose(t *testing.T) {
	s, fc := newFakeSignal()

	errCh := awaitAsync(s, time.Hour)
	require.Eventually(t, fc.HasWaiters, time.Second, time.Millisecond)

	s.Close()
	s.Close()
	assert.True(t, errors.Is(receive(t, errCh), ErrSignalClosed))
	assert.True(t, errors.Is(s.NotifyReady(), ErrSignalClosed))
	assert.True(t, errors.Is(s.AwaitReady(time.Hour), ErrSignalClosed))
}

func TestSignalSingleHandoff(t *testing.T) {
	const frames = 200
	s := NewSignal()

	results := make(chan error)
	go func() {
		for i := 0; i < frames; i++ {
			results <- s.AwaitReady(5 * time.Second)
		}
	}()

	successes := 0
	for i := 0; i < frames; i++ {
		require.NoError(t, s.NotifyReady())
		require.NoError(t, receive(t, results), "frame %d", i)
		successes++
	}
	assert.Equal(t, frames, successes)
}
