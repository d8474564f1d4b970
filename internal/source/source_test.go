package source

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/babelcloud/gbox/packages/avsync/internal/codec/h264"
	"github.com/babelcloud/gbox/packages/avsync/internal/core"
	"github.com/babelcloud/gbox/packages/avsync/internal/mux"
)

var (
	testSPS = []byte{
		0x67, 0x42, 0xc0, 0x28, 0xd9, 0x00, 0x78, 0x02,
		0x27, 0xe5, 0x84, 0x00, 0x00, 0x03, 0x00, 0x04,
		0x00, 0x00, 0x03, 0x00, 0xf0, 0x3c, 0x60, 0xc9, 0x20,
	}
	testPPS = []byte{0x68, 0xce, 0x3c, 0x80}
	testIDR = []byte{0x65, 0x88, 0x84, 0x00, 0x33}
	testP1  = []byte{0x41, 0x9a, 0x21, 0x6c}
	testP2  = []byte{0x41, 0x9a, 0x42, 0x3c}
)

type recordingTarget struct {
	mu      sync.Mutex
	samples []core.Sample
	ended   []core.Kind
}

func (r *recordingTarget) Push(s core.Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, s)
}

func (r *recordingTarget) EndOfStream(kind core.Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = append(r.ended, kind)
}

func (r *recordingTarget) snapshot() ([]core.Sample, []core.Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.Sample{}, r.samples...), append([]core.Kind{}, r.ended...)
}

func videoStream(t *testing.T) []byte {
	t.Helper()
	buf, err := h264.JoinAnnexB([][]byte{testSPS, testPPS, testIDR, testP1, testP2})
	require.NoError(t, err)
	return buf
}

func audioStream(t *testing.T, frames int) []byte {
	t.Helper()
	var pkts mpeg4audio.ADTSPackets
	for i := 0; i < frames; i++ {
		pkts = append(pkts, &mpeg4audio.ADTSPacket{
			Type:         mpeg4audio.ObjectTypeAACLC,
			SampleRate:   48000,
			ChannelCount: 2,
			AU:           []byte{0x21, 0x10, byte(i)},
		})
	}
	buf, err := pkts.Marshal()
	require.NoError(t, err)
	return buf
}

func TestAnnexBFile(t *testing.T) {
	f, err := NewAnnexB(videoStream(t), 30)
	require.NoError(t, err)
	assert.Equal(t, 3, f.Len())

	format := f.Format()
	assert.Equal(t, core.KindVideo, format.Kind)
	assert.Equal(t, core.CodecH264, format.Codec)
	assert.Equal(t, 1920, format.Width)
	assert.Equal(t, 1080, format.Height)
	assert.Equal(t, testSPS, format.SPS)
	assert.Equal(t, testPPS, format.PPS)

	want := []struct {
		pts  int64
		flag core.Flags
	}{
		{0, core.FlagKeyFrame},
		{33333, 0},
		{66666, 0},
	}
	for i, w := range want {
		s, err := f.Next()
		require.NoError(t, err, "unit %d", i)
		assert.Equal(t, core.KindVideo, s.Kind)
		assert.Equal(t, w.pts, s.PTS, "unit %d", i)
		assert.Equal(t, w.flag, s.Flags, "unit %d", i)
	}
	_, err = f.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestAnnexBFileErrors(t *testing.T) {
	_, err := NewAnnexB(videoStream(t), 0)
	assert.Error(t, err)

	noParams, err := h264.JoinAnnexB([][]byte{testIDR})
	require.NoError(t, err)
	_, err = NewAnnexB(noParams, 30)
	assert.ErrorContains(t, err, "SPS/PPS")

	_, err = OpenAnnexB(filepath.Join(t.TempDir(), "missing.h264"), 30)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestADTSFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audio.aac")
	require.NoError(t, os.WriteFile(path, audioStream(t, 3), 0o644))

	f, err := OpenADTS(path)
	require.NoError(t, err)
	assert.Equal(t, 3, f.Len())
	assert.Equal(t, core.Format{Kind: core.KindAudio, Codec: core.CodecAAC, SampleRate: 48000, Channels: 2}, f.Format())

	for i, pts := range []int64{0, 21333, 42666} {
		s, err := f.Next()
		require.NoError(t, err)
		assert.Equal(t, pts, s.PTS)
		assert.Equal(t, []byte{0x21, 0x10, byte(i)}, s.Data)
		assert.True(t, s.IsKeyFrame())
	}
	_, err = f.Next()
	assert.ErrorIs(t, err, io.EOF)

	_, err = NewADTS([]byte{0x00, 0x01})
	assert.Error(t, err)
}

func TestFeedPublishesAndEnds(t *testing.T) {
	f, err := NewAnnexB(videoStream(t), 25)
	require.NoError(t, err)

	board := mux.NewFormatBoard()
	target := &recordingTarget{}
	n, err := Feed(context.Background(), f, target, board, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	format, ok := board.Format(core.KindVideo)
	require.True(t, ok)
	assert.Equal(t, 1920, format.Width)

	samples, ended := target.snapshot()
	assert.Len(t, samples, 3)
	assert.Equal(t, []core.Kind{core.KindVideo}, ended)
	assert.Equal(t, int64(40000), samples[1].PTS)
}

func TestFeedCancelled(t *testing.T) {
	f, err := NewADTS(audioStream(t, 5))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	target := &recordingTarget{}
	n, err := Feed(ctx, f, target, nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)

	_, ended := target.snapshot()
	assert.Equal(t, []core.Kind{core.KindAudio}, ended, "end of stream is signalled on cancel too")
}

func TestFeedRealtime(t *testing.T) {
	f, err := NewADTS(audioStream(t, 3))
	require.NoError(t, err)

	fc := clocktesting.NewFakeClock(time.Unix(0, 0))
	target := &recordingTarget{}
	done := make(chan error, 1)
	go func() {
		_, err := Feed(context.Background(), f, target, nil, fc)
		done <- err
	}()

	pushed := func(want int) func() bool {
		return func() bool {
			samples, _ := target.snapshot()
			return len(samples) == want && fc.HasWaiters()
		}
	}

	require.Eventually(t, pushed(1), time.Second, time.Millisecond)
	fc.Step(21 * time.Millisecond)
	samples, _ := target.snapshot()
	assert.Len(t, samples, 1, "second frame is due at 21.333ms")

	fc.Step(time.Millisecond)
	require.Eventually(t, pushed(2), time.Second, time.Millisecond)
	fc.Step(21 * time.Millisecond)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("feed did not finish")
	}
	samples, ended := target.snapshot()
	assert.Len(t, samples, 3)
	assert.Equal(t, []core.Kind{core.KindAudio}, ended)
}
