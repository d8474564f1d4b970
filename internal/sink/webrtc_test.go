package sink

import (
	"errors"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/babelcloud/gbox/packages/avsync/internal/core"
)

type sampleRecorder struct {
	samples []media.Sample
	err     error
}

func (r *sampleRecorder) WriteSample(s media.Sample) error {
	if r.err != nil {
		return r.err
	}
	r.samples = append(r.samples, s)
	return nil
}

func opusFormat() core.Format {
	return core.Format{Codec: core.CodecOpus, SampleRate: 48000, Channels: 2}
}

func startedWebRTC(t *testing.T) (*WebRTC, *sampleRecorder, *sampleRecorder) {
	t.Helper()
	s := NewWebRTC("avsync-test", testLogger())
	v, err := s.AddTrack(core.KindVideo, videoFormat())
	require.NoError(t, err)
	a, err := s.AddTrack(core.KindAudio, opusFormat())
	require.NoError(t, err)
	require.Equal(t, core.TrackID(1), v)
	require.Equal(t, core.TrackID(2), a)

	vr, ar := &sampleRecorder{}, &sampleRecorder{}
	s.tracks[0].writer = vr
	s.tracks[1].writer = ar
	require.NoError(t, s.Start())
	return s, vr, ar
}

func TestWebRTCTracks(t *testing.T) {
	s, _, _ := startedWebRTC(t)
	tracks := s.Tracks()
	require.Len(t, tracks, 2)

	assert.Equal(t, "video", tracks[0].ID())
	assert.Equal(t, "avsync-test", tracks[0].StreamID())
	assert.Equal(t, webrtc.RTPCodecTypeVideo, tracks[0].Kind())
	assert.Equal(t, webrtc.RTPCodecTypeAudio, tracks[1].Kind())
}

func TestWebRTCVideoSamples(t *testing.T) {
	s, vr, _ := startedWebRTC(t)

	// Nothing goes out before the first key frame.
	require.NoError(t, s.WriteSample(1, annexB(t, testP), 0, 0))
	assert.Empty(t, vr.samples)

	key := annexB(t, testIDR)
	require.NoError(t, s.WriteSample(1, key, 33_000, core.FlagKeyFrame))
	require.NoError(t, s.WriteSample(1, annexB(t, testP), 66_000, 0))
	require.NoError(t, s.WriteSample(1, annexB(t, testP), 1_066_000, 0))

	require.Len(t, vr.samples, 5)
	assert.Equal(t, append([]byte{0, 0, 0, 1}, testSPS...), vr.samples[0].Data)
	assert.Equal(t, append([]byte{0, 0, 0, 1}, testPPS...), vr.samples[1].Data)
	assert.Zero(t, vr.samples[0].Duration)
	assert.Equal(t, key, vr.samples[2].Data)
	assert.Equal(t, 33*time.Millisecond, vr.samples[2].Duration)
	assert.Equal(t, 33*time.Millisecond, vr.samples[3].Duration)
	assert.Equal(t, maxVideoSampleDuration, vr.samples[4].Duration, "gaps are capped")
}

func TestWebRTCCodecConfigUpdatesParameterSets(t *testing.T) {
	s, vr, _ := startedWebRTC(t)

	newPPS := []byte{0x68, 0xce, 0x38, 0x80}
	require.NoError(t, s.WriteSample(1, annexB(t, testSPS, newPPS), 0, core.FlagCodecConfig))
	assert.Empty(t, vr.samples)

	require.NoError(t, s.WriteSample(1, annexB(t, testIDR), 0, core.FlagKeyFrame))
	require.Len(t, vr.samples, 3)
	assert.Equal(t, append([]byte{0, 0, 0, 1}, newPPS...), vr.samples[1].Data)
}

func TestWebRTCAudioSamples(t *testing.T) {
	s, _, ar := startedWebRTC(t)

	require.NoError(t, s.WriteSample(2, []byte{0xFC, 0x01}, 0, 0))
	require.NoError(t, s.WriteSample(2, nil, 20_000, 0))
	require.Len(t, ar.samples, 1)
	assert.Equal(t, 20*time.Millisecond, ar.samples[0].Duration)
}

func TestWebRTCErrors(t *testing.T) {
	s := NewWebRTC("avsync-test", testLogger())
	_, err := s.AddTrack(core.KindAudio, audioFormat())
	assert.ErrorContains(t, err, "unsupported audio codec")
	assert.Error(t, s.WriteSample(1, nil, 0, 0), "not started")

	s, _, ar := startedWebRTC(t)
	_, err = s.AddTrack(core.KindAudio, opusFormat())
	assert.Error(t, err)
	assert.ErrorContains(t, s.WriteSample(7, nil, 0, 0), "unknown track")

	ar.err = errors.New("closed pipe")
	assert.ErrorContains(t, s.WriteSample(2, []byte{0xFC}, 0, 0), "closed pipe")

	require.NoError(t, s.Stop())
	require.NoError(t, s.Release())
	assert.Error(t, s.WriteSample(2, []byte{0xFC}, 0, 0))
}
