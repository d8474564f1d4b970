package render

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

type recordingRenderer struct {
	mu        sync.Mutex
	calls     []string
	updateErr error
	drawErr   error
}

func (r *recordingRenderer) UpdateFromLatestFrame() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "update")
	return r.updateErr
}

func (r *recordingRenderer) Draw() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "draw")
	return r.drawErr
}

func (r *recordingRenderer) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func TestTimeoutFor(t *testing.T) {
	assert.Equal(t, 500*time.Millisecond, TimeoutFor(ProfileDecode))
	assert.Equal(t, 2500*time.Millisecond, TimeoutFor(ProfileEncode))

	l := NewLoop(NewSignal(), &recordingRenderer{}, LoopConfig{Profile: ProfileEncode})
	assert.Equal(t, DefaultEncodeTimeout, l.Timeout())

	l = NewLoop(NewSignal(), &recordingRenderer{}, LoopConfig{Profile: ProfileEncode, Timeout: time.Second})
	assert.Equal(t, time.Second, l.Timeout())
}

func TestParseProfile(t *testing.T) {
	p, err := ParseProfile("encode")
	require.NoError(t, err)
	assert.Equal(t, ProfileEncode, p)

	_, err = ParseProfile("preview")
	assert.Error(t, err)
}

func TestLoopStepDrawsOncePerNotification(t *testing.T) {
	s, _ := newFakeSignal()
	r := &recordingRenderer{}
	l := NewLoop(s, r, LoopConfig{Timeout: time.Second})

	for i := 0; i < 3; i++ {
		require.NoError(t, s.NotifyReady())
		require.NoError(t, l.Step())
	}

	assert.Equal(t, int64(3), l.Draws())
	assert.Equal(t, []string{"update", "draw", "update", "draw", "update", "draw"}, r.snapshot())
}

func TestLoopStepTimeoutDoesNotDraw(t *testing.T) {
	s, fc := newFakeSignal()
	r := &recordingRenderer{}
	l := NewLoop(s, r, LoopConfig{Profile: ProfileDecode})

	errCh := make(chan error, 1)
	go func() { errCh <- l.Step() }()
	require.Eventually(t, fc.HasWaiters, time.Second, time.Millisecond)
	fc.Step(DefaultDecodeTimeout)

	err := receive(t, errCh)
	assert.True(t, errors.Is(err, ErrWaitTimedOut))
	assert.Empty(t, r.snapshot())
	assert.Equal(t, int64(0), l.Draws())
}

func TestLoopStepRendererErrors(t *testing.T) {
	t.Run("update", func(t *testing.T) {
		s, _ := newFakeSignal()
		cause := errors.New("texture lost")
		r := &recordingRenderer{updateErr: cause}
		l := NewLoop(s, r, LoopConfig{Timeout: time.Second})

		require.NoError(t, s.NotifyReady())
		err := l.Step()
		assert.True(t, errors.Is(err, cause))
		assert.Equal(t, []string{"update"}, r.snapshot())
		assert.Equal(t, int64(0), l.Draws())
	})

	t.Run("draw", func(t *testing.T) {
		s, _ := newFakeSignal()
		cause := errors.New("context lost")
		r := &recordingRenderer{drawErr: cause}
		l := NewLoop(s, r, LoopConfig{Timeout: time.Second})

		require.NoError(t, s.NotifyReady())
		assert.True(t, errors.Is(l.Step(), cause))
		assert.Equal(t, int64(0), l.Draws())
	})
}

func TestLoopPresentsAfterDraw(t *testing.T) {
	s, _ := newFakeSignal()
	r := &CountingRenderer{}
	l := NewLoop(s, r, LoopConfig{Timeout: time.Second})

	require.NoError(t, s.NotifyReady())
	require.NoError(t, l.Step())

	updates, draws, presents := r.Counts()
	assert.Equal(t, int64(1), updates)
	assert.Equal(t, int64(1), draws)
	assert.Equal(t, int64(1), presents)
}

func TestLoopRunStopsOnCancel(t *testing.T) {
	s, fc := newFakeSignal()
	l := NewLoop(s, &recordingRenderer{}, LoopConfig{Timeout: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()

	require.NoError(t, s.NotifyReady())
	require.Eventually(t, func() bool { return l.Draws() == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, fc.HasWaiters, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, receive(t, errCh))

	l.Stop()
	assert.True(t, errors.Is(s.NotifyReady(), ErrSignalClosed))
}

func TestLoopRunSurfacesOverrun(t *testing.T) {
	s, _ := newFakeSignal()
	l := NewLoop(s, &recordingRenderer{}, LoopConfig{Timeout: time.Second})

	require.NoError(t, s.NotifyReady())
	require.Error(t, s.NotifyReady())

	err := l.Run(context.Background())
	assert.True(t, errors.Is(err, ErrFrameDropped))
	assert.Equal(t, int64(0), l.Draws())
}

func TestPacerDrivesLoop(t *testing.T) {
	fc := clocktesting.NewFakeClock(time.Unix(0, 0))
	s := NewSignalWithClock(fc)
	r := &CountingRenderer{Limit: 5}
	l := NewLoop(s, r, LoopConfig{Timeout: time.Second})
	r.OnLimit = l.Stop

	pacer := NewPacer(fc, 33*time.Millisecond, 5)
	pacerErr := make(chan error, 1)
	go func() { pacerErr <- pacer.Run(context.Background(), s) }()
	loopErr := make(chan error, 1)
	go func() { loopErr <- l.Run(context.Background()) }()

	for i := int64(1); i <= 5; i++ {
		want := i
		// Wait for the ticker and the await timer before moving time.
		require.Eventually(t, fc.HasWaiters, time.Second, time.Millisecond)
		fc.Step(33 * time.Millisecond)
		require.Eventually(t, func() bool { return l.Draws() == want }, time.Second, time.Millisecond)
	}

	require.NoError(t, receive(t, pacerErr))
	require.NoError(t, receive(t, loopErr))
	_, draws, presents := r.Counts()
	assert.Equal(t, int64(5), draws)
	assert.Equal(t, int64(5), presents)
}

func TestCountingRendererRejectsDrawWithoutUpdate(t *testing.T) {
	r := &CountingRenderer{}
	assert.Error(t, r.Draw())
	require.NoError(t, r.UpdateFromLatestFrame())
	assert.NoError(t, r.Draw())
}
