package sink

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/babelcloud/gbox/packages/avsync/internal/codec/h264"
	"github.com/babelcloud/gbox/packages/avsync/internal/core"
	"github.com/babelcloud/gbox/packages/avsync/internal/util"
)

const (
	maxVideoSampleDuration = 33 * time.Millisecond
	opusFrameDuration      = 20 * time.Millisecond
)

// SampleWriter is the part of a local WebRTC track the sink writes to.
type SampleWriter interface {
	WriteSample(s media.Sample) error
}

// WebRTC forwards the merged stream to local WebRTC sample tracks for live
// preview. Video must be H.264 and audio Opus.
type WebRTC struct {
	streamID string
	logger   *slog.Logger

	mu       sync.Mutex
	tracks   []*rtcTrack
	started  bool
	stopped  bool
	released bool
}

type rtcTrack struct {
	kind    core.Kind
	local   *webrtc.TrackLocalStaticSample
	writer  SampleWriter
	sps     []byte
	pps     []byte
	lastPTS int64
	hasLast bool
	keySeen bool
	samples int
	skipped int
}

// NewWebRTC creates a sink whose tracks belong to streamID.
func NewWebRTC(streamID string, logger *slog.Logger) *WebRTC {
	return &WebRTC{
		streamID: streamID,
		logger:   util.ComponentLogger(logger, "webrtc_sink"),
	}
}

// AddTrack implements core.Sink by creating a local sample track.
func (s *WebRTC) AddTrack(kind core.Kind, format core.Format) (core.TrackID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return 0, fmt.Errorf("cannot add track after start")
	}

	var capability webrtc.RTPCodecCapability
	switch {
	case kind == core.KindVideo && format.Codec == core.CodecH264:
		capability = webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeH264,
			ClockRate:   90000,
			SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42001f",
		}
	case kind == core.KindAudio && format.Codec == core.CodecOpus:
		capability = webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  uint16(format.Channels),
		}
	default:
		return 0, fmt.Errorf("unsupported %s codec for WebRTC: %q", kind, format.Codec)
	}

	local, err := webrtc.NewTrackLocalStaticSample(capability, kind.String(), s.streamID)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s track: %w", kind, err)
	}

	t := &rtcTrack{
		kind:   kind,
		local:  local,
		writer: local,
		sps:    annexBNALU(format.SPS),
		pps:    annexBNALU(format.PPS),
	}
	s.tracks = append(s.tracks, t)
	return core.TrackID(len(s.tracks)), nil
}

func annexBNALU(nalu []byte) []byte {
	if len(nalu) == 0 {
		return nil
	}
	return append([]byte{0x00, 0x00, 0x00, 0x01}, nalu...)
}

// Tracks returns the local tracks, to be added to a peer connection.
func (s *WebRTC) Tracks() []webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]webrtc.TrackLocal, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t.local)
	}
	return out
}

// Samples returns how many samples were sent and how many were skipped
// while waiting for a key frame, over all tracks of kind.
func (s *WebRTC) Samples(kind core.Kind) (sent, skipped int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tracks {
		if t.kind == kind {
			sent += t.samples
			skipped += t.skipped
		}
	}
	return sent, skipped
}

// Start implements core.Sink.
func (s *WebRTC) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("sink already started")
	}
	s.started = true
	return nil
}

// WriteSample implements core.Sink. Video is held back until the first key
// frame, and every key frame is preceded by the parameter sets.
func (s *WebRTC) WriteSample(track core.TrackID, payload []byte, pts int64, flags core.Flags) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.stopped {
		return fmt.Errorf("sink not accepting samples")
	}
	i := int(track) - 1
	if i < 0 || i >= len(s.tracks) {
		return fmt.Errorf("unknown track %d", track)
	}
	t := s.tracks[i]

	if t.kind == core.KindAudio {
		if flags.Has(core.FlagCodecConfig) || len(payload) == 0 {
			return nil
		}
		return t.write(media.Sample{Data: payload, Duration: opusFrameDuration})
	}

	nalus, err := h264.Split(payload)
	if err != nil {
		return err
	}
	if sps, pps := h264.ParameterSets(nalus); sps != nil && pps != nil {
		t.sps, t.pps = annexBNALU(sps), annexBNALU(pps)
	}
	if flags.Has(core.FlagCodecConfig) {
		return nil
	}

	var duration time.Duration
	if t.hasLast && pts > t.lastPTS {
		duration = min(time.Duration(pts-t.lastPTS)*time.Microsecond, maxVideoSampleDuration)
	}
	t.lastPTS = pts
	t.hasLast = true

	key := flags.Has(core.FlagKeyFrame) || h264.IsKeyFrame(nalus)
	if !key && !t.keySeen {
		t.skipped++
		return nil
	}
	if key {
		t.keySeen = true
		if t.sps != nil && t.pps != nil {
			if err := t.write(media.Sample{Data: t.sps}); err != nil {
				return err
			}
			if err := t.write(media.Sample{Data: t.pps}); err != nil {
				return err
			}
		}
	}
	return t.write(media.Sample{Data: payload, Duration: duration})
}

func (t *rtcTrack) write(sample media.Sample) error {
	if err := t.writer.WriteSample(sample); err != nil {
		return fmt.Errorf("failed to write %s sample: %w", t.kind, err)
	}
	t.samples++
	return nil
}

// Stop implements core.Sink.
func (s *WebRTC) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil
	}
	s.stopped = true
	for _, t := range s.tracks {
		s.logger.Info("WebRTC track finished", "kind", t.kind, "samples", t.samples, "skipped", t.skipped)
	}
	return nil
}

// Release implements core.Sink.
func (s *WebRTC) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.released = true
	s.stopped = true
	return nil
}
