// Package sink writes ordered samples into containers and live tracks.
package sink

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4/seekablebuffer"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"

	"github.com/babelcloud/gbox/packages/avsync/internal/codec/aac"
	"github.com/babelcloud/gbox/packages/avsync/internal/codec/h264"
	"github.com/babelcloud/gbox/packages/avsync/internal/core"
	"github.com/babelcloud/gbox/packages/avsync/internal/util"
)

const videoTimeScale = 90000

// scaleTimestamp converts microseconds into track timescale units.
func scaleTimestamp(us int64, timeScale uint32) int64 {
	if us <= 0 {
		return 0
	}
	return us * int64(timeScale) / 1_000_000
}

// FMP4 writes a fragmented MP4 file: the init segment on Start, then one
// fragment per sample. Sample durations are only known once the next sample
// of the track arrives, so each track holds one sample back.
type FMP4 struct {
	w      io.Writer
	logger *slog.Logger

	mu       sync.Mutex
	tracks   []*fmp4Track
	started  bool
	stopped  bool
	released bool
	sequence uint32
	origin   int64
	hasOrig  bool
}

type fmp4Track struct {
	id        int
	format    core.Format
	codec     mp4.Codec
	timeScale uint32
	defaultDu uint32

	inband  [][]byte // parameter sets that replaced the init segment ones
	pending *fmp4.Sample
	pendDTS int64
	lastDu  uint32
	lastDTS int64
	written int
}

// NewFMP4 creates a sink writing to w. If w is an io.Closer it is closed by
// Release.
func NewFMP4(w io.Writer, logger *slog.Logger) *FMP4 {
	return &FMP4{
		w:        w,
		logger:   util.ComponentLogger(logger, "fmp4_sink"),
		sequence: 1,
	}
}

// AddTrack implements core.Sink.
func (s *FMP4) AddTrack(kind core.Kind, format core.Format) (core.TrackID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return 0, fmt.Errorf("cannot add track after start")
	}

	format.Kind = kind
	t := &fmp4Track{id: len(s.tracks) + 1, format: format}

	switch format.Codec {
	case core.CodecH264:
		t.codec = &mp4.CodecH264{SPS: format.SPS, PPS: format.PPS}
		t.timeScale = videoTimeScale
		t.defaultDu = videoTimeScale / 30
	case core.CodecAAC:
		conf, err := aac.Config(format)
		if err != nil {
			return 0, err
		}
		t.codec = &mp4.CodecMPEG4Audio{Config: conf}
		t.timeScale = uint32(format.SampleRate)
		t.defaultDu = aac.SamplesPerFrame
	case core.CodecOpus:
		if format.Channels <= 0 {
			return 0, fmt.Errorf("invalid Opus channel count %d", format.Channels)
		}
		t.codec = &mp4.CodecOpus{ChannelCount: format.Channels}
		t.timeScale = 48000
		t.defaultDu = 960
	default:
		return 0, fmt.Errorf("unsupported codec %q", format.Codec)
	}

	s.tracks = append(s.tracks, t)
	s.logger.Debug("Track added", "track", t.id, "kind", kind, "codec", format.Codec, "timescale", t.timeScale)
	return core.TrackID(t.id), nil
}

// Start implements core.Sink by writing the init segment.
func (s *FMP4) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("sink already started")
	}
	if len(s.tracks) == 0 {
		return fmt.Errorf("no tracks added")
	}

	init := &fmp4.Init{}
	for _, t := range s.tracks {
		if c, ok := t.codec.(*mp4.CodecH264); ok && (len(c.SPS) == 0 || len(c.PPS) == 0) {
			return fmt.Errorf("H264 parameters not provided for track %d", t.id)
		}
		init.Tracks = append(init.Tracks, &fmp4.InitTrack{
			ID:        t.id,
			TimeScale: t.timeScale,
			Codec:     t.codec,
		})
	}

	var buf seekablebuffer.Buffer
	if err := init.Marshal(&buf); err != nil {
		return fmt.Errorf("failed to marshal init segment: %w", err)
	}
	if _, err := s.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write init segment: %w", err)
	}

	s.started = true
	s.logger.Info("fMP4 init segment written", "size", len(buf.Bytes()), "tracks", len(s.tracks))
	return nil
}

// WriteSample implements core.Sink.
func (s *FMP4) WriteSample(track core.TrackID, payload []byte, pts int64, flags core.Flags) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.stopped {
		return fmt.Errorf("sink not accepting samples")
	}
	t, err := s.track(track)
	if err != nil {
		return err
	}

	if flags.Has(core.FlagCodecConfig) {
		s.absorbConfig(t, payload)
		return nil
	}

	sample, err := t.toSample(payload, flags)
	if err != nil {
		return err
	}
	if sample == nil {
		s.logger.Debug("Skipping empty sample", "track", t.id, "pts", pts)
		return nil
	}

	if !s.hasOrig {
		s.origin = pts
		s.hasOrig = true
	}
	dts := scaleTimestamp(pts-s.origin, t.timeScale)
	if pts < s.origin || dts < t.lastDTS {
		s.logger.Debug("Sample precedes the session origin or its track, clamping",
			"track", t.id, "pts", pts, "origin", s.origin)
	}
	if dts < t.lastDTS {
		dts = t.lastDTS
	}

	if t.pending != nil {
		du := uint32(dts - t.pendDTS)
		if dts <= t.pendDTS {
			du = t.fallbackDuration()
		}
		if err := s.emit(t, du); err != nil {
			return err
		}
	}
	t.pending = sample
	t.pendDTS = dts
	t.lastDTS = dts
	return nil
}

func (s *FMP4) track(id core.TrackID) (*fmp4Track, error) {
	i := int(id) - 1
	if i < 0 || i >= len(s.tracks) {
		return nil, fmt.Errorf("unknown track %d", id)
	}
	return s.tracks[i], nil
}

func (s *FMP4) absorbConfig(t *fmp4Track, payload []byte) {
	c, ok := t.codec.(*mp4.CodecH264)
	if !ok {
		return
	}
	nalus, err := h264.Split(payload)
	if err != nil {
		s.logger.Warn("Ignoring malformed codec config", "track", t.id, "error", err)
		return
	}
	sps, pps := h264.ParameterSets(nalus)
	if sps == nil || pps == nil {
		return
	}
	if string(sps) == string(c.SPS) && string(pps) == string(c.PPS) {
		t.inband = nil
		return
	}
	// The init segment is already written, so the new parameter sets
	// travel in-band in front of every key frame.
	t.inband = [][]byte{sps, pps}
	s.logger.Info("Codec config changed mid-stream", "track", t.id)
}

func (t *fmp4Track) toSample(payload []byte, flags core.Flags) (*fmp4.Sample, error) {
	switch t.format.Codec {
	case core.CodecH264:
		nalus, err := h264.Split(payload)
		if err != nil {
			return nil, err
		}
		key := flags.Has(core.FlagKeyFrame) || h264.IsKeyFrame(nalus)
		units := h264.MediaNALUs(nalus)
		if key && len(units) > 0 && t.inband != nil {
			units = append(append([][]byte{}, t.inband...), units...)
		}
		avcc, err := h264.EncodeAVCC(units)
		if err != nil {
			return nil, err
		}
		if avcc == nil {
			return nil, nil
		}
		return &fmp4.Sample{IsNonSyncSample: !key, Payload: avcc}, nil

	case core.CodecAAC:
		raw := aac.StripADTS(payload)
		if len(raw) == 0 {
			return nil, nil
		}
		return &fmp4.Sample{Payload: raw}, nil

	default:
		if len(payload) == 0 {
			return nil, nil
		}
		return &fmp4.Sample{Payload: payload}, nil
	}
}

func (t *fmp4Track) fallbackDuration() uint32 {
	if t.lastDu > 0 {
		return t.lastDu
	}
	return t.defaultDu
}

// emit writes the pending sample of t as one fragment.
func (s *FMP4) emit(t *fmp4Track, duration uint32) error {
	t.pending.Duration = duration
	part := &fmp4.Part{
		SequenceNumber: s.sequence,
		Tracks: []*fmp4.PartTrack{{
			ID:       t.id,
			BaseTime: uint64(t.pendDTS),
			Samples:  []*fmp4.Sample{t.pending},
		}},
	}

	var buf seekablebuffer.Buffer
	if err := part.Marshal(&buf); err != nil {
		return fmt.Errorf("failed to marshal fragment: %w", err)
	}
	if _, err := s.w.Write(buf.Bytes()); err != nil {
		s.logger.Error("Failed to write fragment", "track", t.id, "error", err, "size", len(buf.Bytes()))
		return fmt.Errorf("failed to write fragment: %w", err)
	}

	s.sequence++
	t.written++
	t.lastDu = duration
	t.pending = nil
	return nil
}

// Stop implements core.Sink by flushing the held-back samples.
func (s *FMP4) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.stopped {
		return nil
	}
	s.stopped = true

	for _, t := range s.tracks {
		if t.pending == nil {
			continue
		}
		if err := s.emit(t, t.fallbackDuration()); err != nil {
			return err
		}
	}

	args := []any{"fragments", s.sequence - 1}
	for _, t := range s.tracks {
		args = append(args, fmt.Sprintf("track_%d_samples", t.id), t.written)
	}
	s.logger.Info("fMP4 sink stopped", args...)
	return nil
}

// Release implements core.Sink.
func (s *FMP4) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return nil
	}
	s.released = true
	s.stopped = true
	if c, ok := s.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
